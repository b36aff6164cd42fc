// Package config loads the service configuration from yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Device   DeviceConfig   `yaml:"device"`
	WarmBoot WarmBootConfig `yaml:"warmboot"`
	Status   StatusConfig   `yaml:"status"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Plugins  []string       `yaml:"plugins"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

type AuthConfig struct {
	PasswordHash string `yaml:"password_hash"` // bcrypt
}

// ---- DEVICE ----

type DeviceConfig struct {
	Transport           string         `yaml:"transport"` // spi | serial | emulator
	SPI                 SPIConfig      `yaml:"spi"`
	Serial              SerialConfig   `yaml:"serial"`
	GPIO                GPIOConfig     `yaml:"gpio"`
	InitializedChannels []string       `yaml:"initialized_channels"`
	ProfileMasks        [2]uint32      `yaml:"profile_masks"`
	Timeouts            TimeoutsConfig `yaml:"timeouts"`
	AD9152              *AD9152Config  `yaml:"ad9152"` // optional companion DAC
}

type SPIConfig struct {
	Device  string `yaml:"device"`
	SpeedHz uint32 `yaml:"speed_hz"`
}

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// GPIOConfig names the reset line. An empty chip disables it.
type GPIOConfig struct {
	Chip     string `yaml:"chip"`
	ResetPin int    `yaml:"reset_pin"`
}

type TimeoutsConfig struct {
	InitCals      time.Duration `yaml:"init_cals"`
	RadioOnOff    time.Duration `yaml:"radio_on_off"`
	ReadArmConfig time.Duration `yaml:"read_arm_config"`
	Default       time.Duration `yaml:"default"`
}

type AD9152Config struct {
	SPIDevice    string `yaml:"spi_device"`
	LaneRateKbps uint32 `yaml:"lane_rate_kbps"`
}

// ---- SERVICE ----

type WarmBootConfig struct {
	Dir string `yaml:"dir"`
}

// StatusConfig enables the Modbus status publisher when Endpoint is set.
type StatusConfig struct {
	Endpoint string        `yaml:"endpoint"`
	UnitID   uint8         `yaml:"unit_id"`
	Address  uint16        `yaml:"address"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads path, fills in defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Device.Transport == "" {
		cfg.Device.Transport = TransportSPI
	}
	if cfg.Device.SPI.Device == "" {
		cfg.Device.SPI.Device = "/dev/spidev0.0"
	}
	if cfg.Device.SPI.SpeedHz == 0 {
		cfg.Device.SPI.SpeedHz = 10_000_000
	}
	if cfg.Device.Serial.Baud == 0 {
		cfg.Device.Serial.Baud = 921600
	}
	if cfg.Device.AD9152 != nil && cfg.Device.AD9152.SPIDevice == "" {
		cfg.Device.AD9152.SPIDevice = "/dev/spidev0.1"
	}
	if cfg.WarmBoot.Dir == "" {
		cfg.WarmBoot.Dir = "/var/lib/adrv/warmboot"
	}
	if cfg.Status.Endpoint != "" {
		if cfg.Status.UnitID == 0 {
			cfg.Status.UnitID = 1
		}
		if cfg.Status.Interval == 0 {
			cfg.Status.Interval = time.Second
		}
		if cfg.Status.Timeout == 0 {
			cfg.Status.Timeout = 2 * time.Second
		}
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 500 * time.Millisecond
	}
}
