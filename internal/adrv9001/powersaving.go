package adrv9001

import (
	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// ChannelPowerDownMode is how far a disabled channel is powered down.
type ChannelPowerDownMode uint8

const (
	ChannelPowerDownDisabled ChannelPowerDownMode = iota
	ChannelPowerDownRfPll
	ChannelPowerDownLdo
)

// ChannelPowerSaving is the power saving setup of one channel pair.
type ChannelPowerSaving struct {
	ChannelDisabledMode ChannelPowerDownMode `json:"channel_disabled_mode"`
	GpioPinMode         ChannelPowerDownMode `json:"gpio_pin_mode"`
}

// ChannelPowerSavingConfigure sets the power saving modes of channel pair
// ch. Every initialized Rx/Tx channel of the pair must be out of STANDBY.
func (d *Device) ChannelPowerSavingConfigure(ch ChannelNumber, cfg ChannelPowerSaving) error {
	const op = "channel power saving configure"
	if !ch.valid() {
		return d.record(paramError(op, "invalid channel %d", int(ch)))
	}
	if cfg.ChannelDisabledMode > ChannelPowerDownLdo {
		return d.record(paramError(op, "invalid channel disabled power down mode %d", cfg.ChannelDisabledMode))
	}
	if cfg.GpioPinMode != ChannelPowerDownDisabled && (cfg.GpioPinMode <= cfg.ChannelDisabledMode || cfg.GpioPinMode > ChannelPowerDownLdo) {
		return d.record(paramError(op, "GPIO pin power down mode %d must be deeper than the channel disabled mode %d", cfg.GpioPinMode, cfg.ChannelDisabledMode))
	}
	if err := d.requireInitializedOutOfStandby(op, ch); err != nil {
		return d.record(err)
	}

	ext := []byte{uint8(ch), regs.HighPrioritySetPowerSavingConfig, uint8(cfg.ChannelDisabledMode), uint8(cfg.GpioPinMode), 0}
	return d.record(d.command(op, regs.OpHighPriority, ext, regs.ObjectID(regs.HighPrioritySetPowerSavingConfig), d.timeouts.Default, defaultWaitInterval))
}

// ChannelPowerSavingInspect reads back the power saving modes of ch.
func (d *Device) ChannelPowerSavingInspect(ch ChannelNumber) (ChannelPowerSaving, error) {
	const op = "channel power saving inspect"
	var cfg ChannelPowerSaving
	if !ch.valid() {
		return cfg, d.record(paramError(op, "invalid channel %d", int(ch)))
	}
	if err := d.requireInitializedOutOfStandby(op, ch); err != nil {
		return cfg, d.record(err)
	}

	buf := make([]byte, 2)
	ext := []byte{uint8(ch), uint8(regs.ObjIDGoPowerSavingConfig), 0, 0, 0}
	if err := d.getObject(op, ext, regs.ObjIDGoPowerSavingConfig, buf); err != nil {
		return cfg, d.record(err)
	}
	cfg.ChannelDisabledMode = ChannelPowerDownMode(buf[0])
	cfg.GpioPinMode = ChannelPowerDownMode(buf[1])
	return cfg, nil
}

func (d *Device) requireInitializedOutOfStandby(op string, ch ChannelNumber) error {
	for _, port := range []Port{PortRx, PortTx} {
		if d.initializedChannels&MailboxChannel(port, ch) == 0 {
			continue
		}
		s, err := d.channelState(op, port, ch)
		if err != nil {
			return err
		}
		if s == ChannelStandby {
			return stateError(op, "channel %s%d is in STANDBY", port, int(ch))
		}
	}
	return nil
}

// SystemPowerDownMode is the depth of system power saving.
type SystemPowerDownMode uint8

const (
	SystemPowerDownClkPll SystemPowerDownMode = iota
	SystemPowerDownLdo
	SystemPowerDownArm
)

// MonitorDetectionMode is how monitor mode detects a signal.
type MonitorDetectionMode uint8

const (
	MonitorDetectionRssi MonitorDetectionMode = iota
	MonitorDetectionFft
	MonitorDetectionRssiFft
)

// SystemPowerSaving combines system power saving with monitor mode.
type SystemPowerSaving struct {
	PowerDownMode              SystemPowerDownMode  `json:"power_down_mode"`
	InitialBatterySaverDelayUs uint32               `json:"initial_battery_saver_delay_us"`
	DetectionTimeUs            uint32               `json:"detection_time_us"`
	SleepTimeUs                uint32               `json:"sleep_time_us"`
	DetectionFirst             bool                 `json:"detection_first"`
	DetectionMode              MonitorDetectionMode `json:"detection_mode"`
	DetectionDataBufferEnable  bool                 `json:"detection_data_buffer_enable"`
	ExternalPllEnable          bool                 `json:"external_pll_enable"`
}

var systemPowerSavingLayout = NewLayout(
	U32("battery_saver_delay"),
	U32("detection_time"),
	U32("sleep_time"),
	U8("data_buffer"),
	U8("external_pll"),
	Reserved(2),
)

var systemPowerSavingReadLayout = NewLayout(
	U8("power_down_mode"),
	U32("battery_saver_delay"),
	U32("detection_time"),
	U32("sleep_time"),
	U8("detection_first"),
	U8("detection_mode"),
	U8("data_buffer"),
	U8("external_pll"),
)

// SystemPowerSavingAndMonitorModeConfigure programs system power saving.
// A non-zero detection time enables monitor mode, which needs Rx1.
func (d *Device) SystemPowerSavingAndMonitorModeConfigure(cfg SystemPowerSaving) error {
	return d.record(d.systemPowerSavingConfigure(cfg))
}

func (d *Device) systemPowerSavingConfigure(cfg SystemPowerSaving) error {
	const op = "system power saving configure"
	if cfg.DetectionTimeUs != 0 && d.initializedChannels&regs.ChannelBitRx1 == 0 {
		return paramError(op, "monitor mode needs RX1 to be initialized")
	}
	if cfg.PowerDownMode > SystemPowerDownArm {
		return paramError(op, "invalid system power down mode %d", cfg.PowerDownMode)
	}
	if cfg.DetectionMode > MonitorDetectionRssiFft {
		return paramError(op, "invalid detection mode %d", cfg.DetectionMode)
	}

	payload, err := systemPowerSavingLayout.Pack(Values{
		"battery_saver_delay": uint64(cfg.InitialBatterySaverDelayUs),
		"detection_time":      uint64(cfg.DetectionTimeUs),
		"sleep_time":          uint64(cfg.SleepTimeUs),
		"data_buffer":         boolValue(cfg.DetectionDataBufferEnable),
		"external_pll":        boolValue(cfg.ExternalPllEnable),
	})
	if err != nil {
		return paramError(op, "%v", err)
	}
	ext := []byte{0, regs.HighPrioritySetMonitorModeConfig, uint8(cfg.PowerDownMode), uint8(boolValue(cfg.DetectionFirst)), uint8(cfg.DetectionMode)}
	return d.mailboxSet(op, regs.OpHighPriority, regs.MailboxHighPrioritySet, payload, ext, regs.ObjectID(regs.HighPrioritySetMonitorModeConfig), d.timeouts.Default)
}

// SystemPowerSavingAndMonitorModeInspect reads the system power saving
// and monitor mode configuration.
func (d *Device) SystemPowerSavingAndMonitorModeInspect() (SystemPowerSaving, error) {
	cfg, err := d.systemPowerSavingInspect()
	return cfg, d.record(err)
}

func (d *Device) systemPowerSavingInspect() (SystemPowerSaving, error) {
	const op = "system power saving inspect"
	var cfg SystemPowerSaving
	buf := make([]byte, systemPowerSavingReadLayout.Size())
	ext := []byte{0, uint8(regs.ObjIDGoMonitorModeConfig), 0, 0, 0}
	if err := d.getObject(op, ext, regs.ObjIDGoMonitorModeConfig, buf); err != nil {
		return cfg, err
	}
	v, err := systemPowerSavingReadLayout.Unpack(buf)
	if err != nil {
		return cfg, paramError(op, "%v", err)
	}
	return SystemPowerSaving{
		PowerDownMode:              SystemPowerDownMode(v.U8("power_down_mode")),
		InitialBatterySaverDelayUs: v.U32("battery_saver_delay"),
		DetectionTimeUs:            v.U32("detection_time"),
		SleepTimeUs:                v.U32("sleep_time"),
		DetectionFirst:             v.Bool("detection_first"),
		DetectionMode:              MonitorDetectionMode(v.U8("detection_mode")),
		DetectionDataBufferEnable:  v.Bool("data_buffer"),
		ExternalPllEnable:          v.Bool("external_pll"),
	}, nil
}

// SystemPowerSavingModeSet enters system power saving with monitor mode off.
func (d *Device) SystemPowerSavingModeSet(mode SystemPowerDownMode) error {
	return d.record(d.systemPowerSavingConfigure(SystemPowerSaving{
		PowerDownMode: mode,
		SleepTimeUs:   0xFFFFFFFF,
		DetectionMode: MonitorDetectionRssi,
	}))
}

// SystemPowerSavingModeGet returns the configured system power down mode.
func (d *Device) SystemPowerSavingModeGet() (SystemPowerDownMode, error) {
	cfg, err := d.systemPowerSavingInspect()
	return cfg.PowerDownMode, d.record(err)
}

// MonitorModeRssi configures RSSI based signal detection in monitor mode.
type MonitorModeRssi struct {
	MeasurementsToAverage      uint8  `json:"measurements_to_average"`
	MeasurementsStartPeriodMs  uint8  `json:"measurements_start_period_ms"`
	MeasurementDurationSamples uint32 `json:"measurement_duration_samples"`
	DetectionThresholdMdBFS    int32  `json:"detection_threshold_mdbfs"`
}

var monitorModeRssiLayout = NewConfigLayout(
	U8("average"),
	U8("start_period"),
	Reserved(2),
	U32("duration"),
	U32("threshold"),
)

// MonitorModeRssiConfigure writes the monitor mode RSSI configuration.
func (d *Device) MonitorModeRssiConfigure(cfg MonitorModeRssi) error {
	const op = "monitor mode rssi configure"
	if cfg.MeasurementsToAverage == 0 {
		return d.record(paramError(op, "at least one measurement must be averaged"))
	}
	return d.record(d.writeConfigLayout(op, monitorModeRssiLayout, Values{
		"average":      uint64(cfg.MeasurementsToAverage),
		"start_period": uint64(cfg.MeasurementsStartPeriodMs),
		"duration":     uint64(cfg.MeasurementDurationSamples),
		"threshold":    uint64(uint32(cfg.DetectionThresholdMdBFS)),
	}, 0, regs.ObjIDCfgMonitorModeRssi))
}

// MonitorModeRssiInspect reads the monitor mode RSSI configuration.
func (d *Device) MonitorModeRssiInspect() (MonitorModeRssi, error) {
	v, err := d.readConfigLayout(monitorModeRssiLayout, 0, regs.ObjIDCfgMonitorModeRssi)
	if err != nil {
		return MonitorModeRssi{}, d.record(err)
	}
	return MonitorModeRssi{
		MeasurementsToAverage:      v.U8("average"),
		MeasurementsStartPeriodMs:  v.U8("start_period"),
		MeasurementDurationSamples: v.U32("duration"),
		DetectionThresholdMdBFS:    int32(v.U32("threshold")),
	}, nil
}
