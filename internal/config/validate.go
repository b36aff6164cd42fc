package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// Device transports
const (
	TransportSPI      = "spi"
	TransportSerial   = "serial"
	TransportEmulator = "emulator"
)

var channelBits = map[string]uint8{
	"rx1":  regs.ChannelBitRx1,
	"rx2":  regs.ChannelBitRx2,
	"tx1":  regs.ChannelBitTx1,
	"tx2":  regs.ChannelBitTx2,
	"orx1": regs.ChannelBitORx1,
	"orx2": regs.ChannelBitORx2,
}

var knownPlugins = map[string]bool{
	"radio":    true,
	"cals":     true,
	"arm":      true,
	"monitor":  true,
	"warmboot": true,
	"profile":  true,
	"dac":      true,
}

// ChannelMask returns the mailbox channel mask of InitializedChannels.
// Unknown names are ignored; Validate reports them.
func (d DeviceConfig) ChannelMask() uint8 {
	var mask uint8
	for _, name := range d.InitializedChannels {
		mask |= channelBits[strings.ToLower(name)]
	}
	return mask
}

// Validate checks the configuration and reports every problem found.
// It does not modify cfg.
func Validate(cfg *Config) error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	// ---- DEVICE ----

	switch cfg.Device.Transport {
	case TransportSPI:
		if cfg.Device.SPI.Device == "" {
			add("device.spi.device is required for the spi transport")
		}
	case TransportSerial:
		if cfg.Device.Serial.Port == "" {
			add("device.serial.port is required for the serial transport")
		}
		if cfg.Device.Serial.Baud <= 0 {
			add("device.serial.baud must be positive, got %d", cfg.Device.Serial.Baud)
		}
	case TransportEmulator:
	default:
		add("device.transport %q is not one of spi, serial, emulator", cfg.Device.Transport)
	}

	if len(cfg.Device.InitializedChannels) == 0 {
		add("device.initialized_channels must name at least one channel")
	}
	seen := make(map[string]bool)
	for _, name := range cfg.Device.InitializedChannels {
		key := strings.ToLower(name)
		if _, ok := channelBits[key]; !ok {
			add("device.initialized_channels: unknown channel %q", name)
			continue
		}
		if seen[key] {
			add("device.initialized_channels: %q listed twice", name)
		}
		seen[key] = true
	}

	if cfg.Device.GPIO.Chip != "" && cfg.Device.GPIO.ResetPin < 0 {
		add("device.gpio.reset_pin must not be negative, got %d", cfg.Device.GPIO.ResetPin)
	}

	t := cfg.Device.Timeouts
	for name, d := range map[string]int64{
		"init_cals":       int64(t.InitCals),
		"radio_on_off":    int64(t.RadioOnOff),
		"read_arm_config": int64(t.ReadArmConfig),
		"default":         int64(t.Default),
	} {
		if d < 0 {
			add("device.timeouts.%s must not be negative", name)
		}
	}

	if dac := cfg.Device.AD9152; dac != nil && dac.LaneRateKbps == 0 {
		add("device.ad9152.lane_rate_kbps is required")
	}

	// ---- SERVICE ----

	if cfg.Auth.PasswordHash == "" {
		add("auth.password_hash is required")
	}

	if cfg.Status.Endpoint != "" {
		if !strings.Contains(cfg.Status.Endpoint, ":") {
			add("status.endpoint %q must be host:port", cfg.Status.Endpoint)
		}
		if cfg.Status.Interval <= 0 {
			add("status.interval must be positive")
		}
	}

	for _, p := range cfg.Plugins {
		if !knownPlugins[p] {
			add("plugins: unknown plugin %q", p)
		}
		if p == "dac" && cfg.Device.AD9152 == nil {
			add("plugins: dac requires device.ad9152")
		}
	}

	return errors.Join(problems...)
}
