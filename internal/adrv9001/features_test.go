package adrv9001

import (
	"errors"
	"testing"
	"time"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

func TestDecodeArmVersion(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want ArmVersion
	}{
		{
			"release",
			[]byte{0x09, 0x00, 0x0A, 0x08, 0x00, 0, 0, 0},
			ArmVersion{Major: 0, Minor: 8, Maintenance: 10, RcVersion: 9, BuildType: ArmBuildRelease},
		},
		{
			"debug",
			[]byte{0x34, 0x12, 0xFF, 0x1F, 0x01, 0, 0, 0},
			ArmVersion{Major: 1, Minor: 15, Maintenance: 255, RcVersion: 0x1234, BuildType: ArmBuildDebug},
		},
		{
			"test object",
			[]byte{0, 0, 0, 0, 0x04, 0, 0, 0},
			ArmVersion{BuildType: ArmBuildTestObject},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := decodeArmVersion(tc.raw); got != tc.want {
				t.Fatalf("decoded %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestArmVersionRequiresLoadedFirmware(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft, newFakeClock())

	if _, err := d.ArmVersion(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if ft.transfers != 0 {
		t.Errorf("%d transfers before the firmware was loaded", ft.transfers)
	}
}

func TestEnablementDelaysValidate(t *testing.T) {
	tests := []struct {
		name   string
		port   Port
		delays EnablementDelays
		ok     bool
	}{
		{"tx ok", PortTx, EnablementDelays{FallToOff: 100, Hold: 50}, true},
		{"tx hold too long", PortTx, EnablementDelays{FallToOff: 50, Hold: 100}, false},
		{"rx ok", PortRx, EnablementDelays{FallToOff: 50, Hold: 100}, true},
		{"rx fall too long", PortRx, EnablementDelays{FallToOff: 100, Hold: 50}, false},
		{"guard out of range", PortRx, EnablementDelays{Guard: MaxEnablementDelay + 1}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.delays.validate("test", tc.port)
			if tc.ok != (err == nil) {
				t.Fatalf("validate = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestWarmBootEntryMatches(t *testing.T) {
	profiles := [2]uint32{0x1, 0x0}
	cals := InitCals{ChanInitCalMask: [2]uint32{InitCalTxQec, InitCalRxAll}}

	tests := []struct {
		name  string
		entry WarmBootEntry
		want  bool
	}{
		{"channel 1 cal and profile", WarmBootEntry{InitMask: InitCalTxQec, ProfileMask: 0x1}, true},
		{"cal only requested on channel 2", WarmBootEntry{InitMask: InitCalRxDcc, ProfileMask: 0x1}, false},
		{"profile mismatch", WarmBootEntry{InitMask: InitCalTxQec, ProfileMask: 0x2}, false},
		{"cal not requested", WarmBootEntry{InitMask: InitCalPll, ProfileMask: 0x1}, false},
	}
	for _, tc := range tests {
		if got := tc.entry.matches(cals, profiles); got != tc.want {
			t.Errorf("%s: matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFeatureParameterChecksSendNothing(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft, newFakeClock())

	calls := map[string]error{
		"tracking mask":     d.TrackingSet([2]uint32{TrackingCalMaskMax + 1, 0}),
		"path delay":        d.ExternalPathDelaySet(Channel1, MaxExternalPathDelayPs+1),
		"carrier frequency": d.CarrierConfigure(PortRx, Channel1, Carrier{FrequencyHz: 1e6}),
		"pll selector":      d.PllConfigure(PllAux, PllConfig{}),
		"loop filter":       d.PllLoopFilterSet(PllLo1, PllLoopFilter{PhaseMarginDegrees: 30, BandwidthKHz: 100}),
		"bbdc on tx":        d.BbdcLoopGainSet(PortTx, Channel1, 1),
		"power saving mode": d.ChannelPowerSavingConfigure(Channel1, ChannelPowerSaving{ChannelDisabledMode: 5}),
		"gpio mode":         d.ChannelPowerSavingConfigure(Channel1, ChannelPowerSaving{ChannelDisabledMode: ChannelPowerDownLdo, GpioPinMode: ChannelPowerDownRfPll}),
		"monitor mode":      d.SystemPowerSavingAndMonitorModeConfigure(SystemPowerSaving{DetectionTimeUs: 10}),
		"internal delays":   func() error { _, err := d.InternalPathDelayGet(PortRx, Channel1, MaxInternalPathDelays+1); return err }(),
		"init cal mode":     func() error { _, err := d.InitCalsRun(InitCals{CalMode: 4}, 0); return err }(),
	}
	for name, err := range calls {
		if !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%s: expected ErrInvalidParameter, got %v", name, err)
		}
	}
	if len(ft.writes) != 0 {
		t.Errorf("writes after rejected calls: %v", ft.writes)
	}
}

func TestPllConfigureNeedsAllStandby(t *testing.T) {
	ft := newFakeTransport()
	ft.setChannelStates([2][2]ChannelState{{ChannelStandby, ChannelStandby}, {ChannelStandby, ChannelCalibrated}})
	d := newTestDevice(ft, newFakeClock())

	err := d.PllConfigure(PllLo1, PllConfig{Calibration: PllCalibrationFast, Power: PllPowerHigh})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if len(ft.writes) != 0 {
		t.Errorf("writes = %v", ft.writes)
	}
}

func TestInitCalsTimeoutAsksForRerun(t *testing.T) {
	ft := newFakeTransport()
	ft.regs[regs.AddrArmCmdStatus0] = 0x10 // RUNINIT pending
	clk := newFakeClock()
	d := newTestDevice(ft, clk)

	_, err := d.InitCalsRun(InitCalsBuildDefault(), 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if ActionOf(err) != ActionRerunInitCals {
		t.Errorf("action = %s, want rerun_init_cals", ActionOf(err))
	}
	if clk.slept != 50*time.Millisecond {
		t.Errorf("waited %s", clk.slept)
	}
	if d.DevState()&StateInitCalsRun != 0 {
		t.Errorf("device marked calibrated after a timeout")
	}
}
