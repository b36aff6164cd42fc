package adrv9001_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/linht/adrv-manager/internal/adrv9001"
	"github.com/linht/adrv-manager/internal/emulator"
)

func TestCarrierRoundTrip(t *testing.T) {
	dev, _ := newEmulated(t, true)

	tests := []struct {
		name string
		port adrv9001.Port
		ch   adrv9001.ChannelNumber
		in   adrv9001.Carrier
		want adrv9001.Carrier
	}{
		{
			name: "rx with low IF",
			port: adrv9001.PortRx,
			ch:   adrv9001.Channel1,
			in:   adrv9001.Carrier{FrequencyHz: 2_400_000_000, IntermediateFrequencyHz: -500_000, ManualRxPort: true},
			want: adrv9001.Carrier{FrequencyHz: 2_400_000_000, IntermediateFrequencyHz: -500_000, ManualRxPort: true},
		},
		{
			name: "tx ignores IF",
			port: adrv9001.PortTx,
			ch:   adrv9001.Channel2,
			in:   adrv9001.Carrier{FrequencyHz: 433_500_000, LoGenOptimization: adrv9001.LoGenOptimizationPowerConsumption, IntermediateFrequencyHz: 100},
			want: adrv9001.Carrier{FrequencyHz: 433_500_000, LoGenOptimization: adrv9001.LoGenOptimizationPowerConsumption},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := dev.CarrierConfigure(tc.port, tc.ch, tc.in); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := dev.CarrierInspect(tc.port, tc.ch)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("carrier = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestCarrierNeedsStandbyOrCalibrated(t *testing.T) {
	dev, _ := newEmulated(t, true)
	if err := dev.ToState(adrv9001.PortRx, adrv9001.Channel1, adrv9001.ChannelPrimed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := dev.CarrierConfigure(adrv9001.PortRx, adrv9001.Channel1, adrv9001.Carrier{FrequencyHz: 900_000_000})
	if !errors.Is(err, adrv9001.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPllRoundTrip(t *testing.T) {
	dev, _ := newEmulated(t, false)

	lo1 := adrv9001.PllConfig{Calibration: adrv9001.PllCalibrationFast, Power: adrv9001.PllPowerHigh}
	lo2 := adrv9001.PllConfig{Calibration: adrv9001.PllCalibrationNormal, Power: adrv9001.PllPowerMedium}
	if err := dev.PllConfigure(adrv9001.PllLo1, lo1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := dev.PllConfigure(adrv9001.PllLo2, lo2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for pll, want := range map[adrv9001.Pll]adrv9001.PllConfig{adrv9001.PllLo1: lo1, adrv9001.PllLo2: lo2} {
		got, err := dev.PllInspect(pll)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("%s = %+v, want %+v", pll, got, want)
		}
	}

	lf := adrv9001.PllLoopFilter{PhaseMarginDegrees: 60, BandwidthKHz: 300, PowerScale: 5}
	if err := dev.PllLoopFilterSet(adrv9001.PllAux, lf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := dev.PllLoopFilterGet(adrv9001.PllAux)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lf.EffectiveBandwidthKHz = 300
	if got != lf {
		t.Fatalf("loop filter = %+v, want %+v", got, lf)
	}
}

func TestTrackingRoundTrip(t *testing.T) {
	dev, _ := newEmulated(t, true)

	masks := [2]uint32{adrv9001.TrackingCalTxQec | adrv9001.TrackingCalRxHdQec, adrv9001.TrackingCalRxBbdcReject}
	if err := dev.TrackingSet(masks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := dev.TrackingGet()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != masks {
		t.Fatalf("masks = %08X, want %08X", got, masks)
	}
}

func TestEnablementDelaysRoundTrip(t *testing.T) {
	dev, _ := newEmulated(t, true)

	delays := adrv9001.EnablementDelays{RiseToOn: 10, RiseToAnalogOn: 20, FallToOff: 100, Guard: 5, Hold: 50}
	if err := dev.ChannelEnablementDelaysConfigure(adrv9001.PortTx, adrv9001.Channel1, delays); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// only reported once the channel is primed
	if _, err := dev.ChannelEnablementDelaysInspect(adrv9001.PortTx, adrv9001.Channel1); !errors.Is(err, adrv9001.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := dev.ToState(adrv9001.PortTx, adrv9001.Channel1, adrv9001.ChannelPrimed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := dev.ChannelEnablementDelaysInspect(adrv9001.PortTx, adrv9001.Channel1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != delays {
		t.Fatalf("delays = %+v, want %+v", got, delays)
	}
}

func TestDpdRoundTrip(t *testing.T) {
	dev, _ := newEmulated(t, false)

	initCfg := adrv9001.DpdInitConfig{
		Enable:                true,
		Amplifier:             adrv9001.DpdAmplifierDefault,
		LutSize:               adrv9001.DpdLutSize256,
		Model:                 adrv9001.DpdModel4,
		ModelOrdersForEachTap: [4]uint32{3, 3, 2, 1},
		PreLutScale:           4,
		ClgcEnable:            true,
	}
	if err := dev.DpdInitialConfigure(adrv9001.Channel1, initCfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotInit, err := dev.DpdInitialInspect(adrv9001.Channel1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotInit != initCfg {
		t.Fatalf("init config = %+v, want %+v", gotInit, initCfg)
	}

	cfg := adrv9001.DpdConfig{
		NumberOfSamples:                 512,
		RxTxNormalizationLowerThreshold: 1 << 28,
		RxTxNormalizationUpperThreshold: 1 << 29,
		CountsLessThanPowerThreshold:    10,
		CountsGreaterThanPeakThreshold:  20,
		ImmediateLutSwitching:           true,
		TimeFilterCoefficient:           1000,
		ClgcGainTargetHundredthDB:       -250,
		ClgcFilterAlpha:                 3,
	}
	if err := dev.DpdConfigure(adrv9001.Channel1, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := dev.DpdInspect(adrv9001.Channel1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfg {
		t.Fatalf("config = %+v, want %+v", got, cfg)
	}

	if _, err := dev.InitCalsRun(adrv9001.InitCalsBuildDefault(), 0); err != nil {
		t.Fatalf("init cals: %v", err)
	}
	coeffs := make([]byte, adrv9001.DpdNumCoefficients)
	for i := range coeffs {
		coeffs[i] = byte(i)
	}
	for _, region := range []uint8{0, 3} {
		c := adrv9001.DpdCoefficients{Region: region, Coefficients: append([]byte{region}, coeffs[1:]...)}
		if err := dev.DpdCoefficientsSet(adrv9001.Channel1, c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	c, err := dev.DpdCoefficientsGet(adrv9001.Channel1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Region != 3 || c.Coefficients[0] != 3 || !bytes.Equal(c.Coefficients[1:], coeffs[1:]) {
		t.Fatalf("region %d coefficients % X", c.Region, c.Coefficients[:8])
	}

	regions := []adrv9001.DpdFrequencyHopRegion{
		{StartHz: 400_000_000, EndHz: 410_000_000},
		{StartHz: 430_000_000, EndHz: 440_000_000},
	}
	if err := dev.DpdFhRegionsConfigure(adrv9001.Channel1, regions); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotRegions, err := dev.DpdFhRegionsInspect(adrv9001.Channel1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRegions[0] != regions[0] || gotRegions[1] != regions[1] || gotRegions[2] != (adrv9001.DpdFrequencyHopRegion{}) {
		t.Fatalf("regions = %+v", gotRegions)
	}
}

func TestPowerSavingRoundTrip(t *testing.T) {
	dev, _ := newEmulated(t, false)

	ps := adrv9001.ChannelPowerSaving{ChannelDisabledMode: adrv9001.ChannelPowerDownRfPll, GpioPinMode: adrv9001.ChannelPowerDownLdo}
	if err := dev.ChannelPowerSavingConfigure(adrv9001.Channel1, ps); !errors.Is(err, adrv9001.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState in STANDBY, got %v", err)
	}
	if _, err := dev.InitCalsRun(adrv9001.InitCalsBuildDefault(), 0); err != nil {
		t.Fatalf("init cals: %v", err)
	}
	if err := dev.ChannelPowerSavingConfigure(adrv9001.Channel1, ps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := dev.ChannelPowerSavingInspect(adrv9001.Channel1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ps {
		t.Fatalf("power saving = %+v, want %+v", got, ps)
	}

	sys := adrv9001.SystemPowerSaving{
		PowerDownMode:              adrv9001.SystemPowerDownLdo,
		InitialBatterySaverDelayUs: 100,
		DetectionTimeUs:            2000,
		SleepTimeUs:                50000,
		DetectionFirst:             true,
		DetectionMode:              adrv9001.MonitorDetectionRssiFft,
		DetectionDataBufferEnable:  true,
	}
	if err := dev.SystemPowerSavingAndMonitorModeConfigure(sys); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotSys, err := dev.SystemPowerSavingAndMonitorModeInspect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSys != sys {
		t.Fatalf("system power saving = %+v, want %+v", gotSys, sys)
	}

	if err := dev.SystemPowerSavingModeSet(adrv9001.SystemPowerDownArm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mode, err := dev.SystemPowerSavingModeGet()
	if err != nil || mode != adrv9001.SystemPowerDownArm {
		t.Fatalf("mode = %d, err = %v", mode, err)
	}

	rssi := adrv9001.MonitorModeRssi{
		MeasurementsToAverage:      4,
		MeasurementsStartPeriodMs:  2,
		MeasurementDurationSamples: 1024,
		DetectionThresholdMdBFS:    -80000,
	}
	if err := dev.MonitorModeRssiConfigure(rssi); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotRssi, err := dev.MonitorModeRssiInspect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRssi != rssi {
		t.Fatalf("rssi = %+v, want %+v", gotRssi, rssi)
	}
}

func TestWarmBoot(t *testing.T) {
	dev, emu := newEmulated(t, true)
	emu.LoadWarmBootTable([]emulator.WarmBootBlock{
		{Address: 0x20001000, InitMask: adrv9001.InitCalTxQec, ProfileMask: 0x1, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{Address: 0x20001100, InitMask: adrv9001.InitCalRxDcc, ProfileMask: 0x2, Data: []byte{9, 9, 9}},
		{Address: 0x20001200, InitMask: adrv9001.InitCalPll, ProfileMask: 0x1, Data: []byte{0xA0, 0xA1}},
	})

	n := 0
	for e, err := range dev.WarmBootEntries() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.Index != n {
			t.Errorf("entry index %d at position %d", e.Index, n)
		}
		n++
	}
	if n != 3 {
		t.Fatalf("%d entries, want 3", n)
	}

	cals := adrv9001.InitCals{
		SysInitCalMask:  adrv9001.InitCalPll,
		ChanInitCalMask: [2]uint32{adrv9001.InitCalTxQec | adrv9001.InitCalRxDcc, 0},
	}
	saved, err := dev.WarmBootCoefficientsGet(cals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// the RX DCC block belongs to a profile that is not loaded
	if len(saved) != 2 || !bytes.Equal(saved[0].Data, []byte{1, 2, 3, 4, 5, 6, 7, 8}) || !bytes.Equal(saved[1].Data, []byte{0xA0, 0xA1}) {
		t.Fatalf("saved = %+v", saved)
	}

	emu.SetMemory(0x20001000, make([]byte, 8))
	emu.SetMemory(0x20001200, make([]byte, 2))
	if err := dev.WarmBootCoefficientsSet(saved); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := emu.Memory(0x20001000, 8); !bytes.Equal(got, saved[0].Data) {
		t.Errorf("restored % X", got)
	}
	if got := emu.Memory(0x20001200, 2); !bytes.Equal(got, saved[1].Data) {
		t.Errorf("restored % X", got)
	}

	bad := []adrv9001.WarmBootCoefficients{saved[0], {Entry: saved[1].Entry, Data: []byte{1}}}
	if err := dev.WarmBootCoefficientsSet(bad); !errors.Is(err, adrv9001.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestArmVersion(t *testing.T) {
	dev, emu := newEmulated(t, false)
	emu.SetArmVersion(1, 2, 3, 4, 0x01)
	dev.MarkState(adrv9001.StateArmLoaded)

	v, err := dev.ArmVersion()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := adrv9001.ArmVersion{Major: 1, Minor: 2, Maintenance: 3, RcVersion: 4, BuildType: adrv9001.ArmBuildDebug}
	if v != want {
		t.Fatalf("version = %+v, want %+v", v, want)
	}
	if v.String() != "1.2.3.4 (debug)" {
		t.Errorf("String() = %q", v.String())
	}
}
