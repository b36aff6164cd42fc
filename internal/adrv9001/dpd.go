package adrv9001

import (
	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// DpdAmplifier is the PA technology the DPD model is tuned for.
type DpdAmplifier uint8

const (
	DpdAmplifierNone DpdAmplifier = iota
	DpdAmplifierDefault
	DpdAmplifierGaN
)

// DpdLutSize is the number of LUT entries.
type DpdLutSize uint8

const (
	DpdLutSize256 DpdLutSize = iota
	DpdLutSize512
)

// DpdModel selects the DPD basis functions. Model 2 does not exist.
type DpdModel uint8

const (
	DpdModel0 DpdModel = 0
	DpdModel1 DpdModel = 1
	DpdModel3 DpdModel = 3
	DpdModel4 DpdModel = 4
)

const (
	dpdMaxPreLutScale         = 15
	dpdMaxSamples             = 4096
	dpdMaxNormalizationU2d30  = 1 << 30
	dpdMaxTimeFilterCoeff     = 0x7FFFFFFF
	dpdMaxThresholdCounts     = 4096
	DpdNumCoefficients        = 208
	DpdMaxRegion              = 7
	DpdMaxFrequencyHopRegions = 7
)

// DpdInitConfig is the pre-init-cal DPD setup of a Tx channel.
type DpdInitConfig struct {
	Enable                bool         `json:"enable"`
	Amplifier             DpdAmplifier `json:"amplifier"`
	LutSize               DpdLutSize   `json:"lut_size"`
	Model                 DpdModel     `json:"model"`
	ChangeModelTapOrders  bool         `json:"change_model_tap_orders"`
	ModelOrdersForEachTap [4]uint32    `json:"model_orders_for_each_tap"`
	PreLutScale           uint8        `json:"pre_lut_scale"`
	ClgcEnable            bool         `json:"clgc_enable"`
}

var dpdInitLayout = NewConfigLayout(
	U8("enable"),
	U8("amplifier"),
	U8("lut_size"),
	U8("model"),
	U8("change_tap_orders"),
	U32("tap0"),
	U32("tap1"),
	U32("tap2"),
	U32("tap3"),
	U8("pre_lut_scale"),
	U8("clgc_enable"),
)

// DpdInitialConfigure sets up DPD for Tx ch, which must be in STANDBY.
func (d *Device) DpdInitialConfigure(ch ChannelNumber, cfg DpdInitConfig) error {
	return d.record(d.dpdInitialConfigure(ch, cfg))
}

func (d *Device) dpdInitialConfigure(ch ChannelNumber, cfg DpdInitConfig) error {
	const op = "dpd initial configure"
	if err := validateChannel(op, PortTx, ch); err != nil {
		return err
	}
	if cfg.Amplifier > DpdAmplifierGaN {
		return paramError(op, "invalid amplifier type %d", cfg.Amplifier)
	}
	if cfg.LutSize > DpdLutSize512 {
		return paramError(op, "invalid LUT size %d", cfg.LutSize)
	}
	switch cfg.Model {
	case DpdModel0, DpdModel1, DpdModel3, DpdModel4:
	default:
		return paramError(op, "invalid DPD model %d", cfg.Model)
	}
	if cfg.PreLutScale > dpdMaxPreLutScale {
		return paramError(op, "pre LUT scale %d exceeds %d", cfg.PreLutScale, dpdMaxPreLutScale)
	}
	if err := d.requireStates(op, []Channel{{PortTx, ch}}, ChannelStandby); err != nil {
		return err
	}

	return d.writeConfigLayout(op, dpdInitLayout, Values{
		"enable":            boolValue(cfg.Enable),
		"amplifier":         uint64(cfg.Amplifier),
		"lut_size":          uint64(cfg.LutSize),
		"model":             uint64(cfg.Model),
		"change_tap_orders": boolValue(cfg.ChangeModelTapOrders),
		"tap0":              uint64(cfg.ModelOrdersForEachTap[0]),
		"tap1":              uint64(cfg.ModelOrdersForEachTap[1]),
		"tap2":              uint64(cfg.ModelOrdersForEachTap[2]),
		"tap3":              uint64(cfg.ModelOrdersForEachTap[3]),
		"pre_lut_scale":     uint64(cfg.PreLutScale),
		"clgc_enable":       boolValue(cfg.ClgcEnable),
	}, MailboxChannel(PortTx, ch), regs.ObjIDCfgDpdPreInitCal)
}

// DpdInitialInspect reads back the pre-init-cal DPD setup.
func (d *Device) DpdInitialInspect(ch ChannelNumber) (DpdInitConfig, error) {
	const op = "dpd initial inspect"
	var cfg DpdInitConfig
	if err := validateChannel(op, PortTx, ch); err != nil {
		return cfg, d.record(err)
	}
	v, err := d.readConfigLayout(dpdInitLayout, MailboxChannel(PortTx, ch), regs.ObjIDCfgDpdPreInitCal)
	if err != nil {
		return cfg, d.record(err)
	}
	cfg.Enable = v.Bool("enable")
	cfg.Amplifier = DpdAmplifier(v.U8("amplifier"))
	cfg.LutSize = DpdLutSize(v.U8("lut_size"))
	cfg.Model = DpdModel(v.U8("model"))
	cfg.ChangeModelTapOrders = v.Bool("change_tap_orders")
	for i := range cfg.ModelOrdersForEachTap {
		cfg.ModelOrdersForEachTap[i] = v.U32(tapField(i))
	}
	cfg.PreLutScale = v.U8("pre_lut_scale")
	cfg.ClgcEnable = v.Bool("clgc_enable")
	return cfg, nil
}

func tapField(i int) string {
	return [...]string{"tap0", "tap1", "tap2", "tap3"}[i]
}

// DpdConfig is the tracking DPD configuration of a Tx channel.
// SamplingRateHz, ClgcLastGain and ClgcFilteredGain are read only.
type DpdConfig struct {
	NumberOfSamples                 uint32 `json:"number_of_samples"`
	AdditionalPowerScale            uint32 `json:"additional_power_scale"`
	RxTxNormalizationLowerThreshold uint32 `json:"rx_tx_normalization_lower_threshold"`
	RxTxNormalizationUpperThreshold uint32 `json:"rx_tx_normalization_upper_threshold"`
	DetectionPowerThreshold         uint32 `json:"detection_power_threshold"`
	DetectionPeakThreshold          uint32 `json:"detection_peak_threshold"`
	CountsLessThanPowerThreshold    uint16 `json:"counts_less_than_power_threshold"`
	CountsGreaterThanPeakThreshold  uint16 `json:"counts_greater_than_peak_threshold"`
	ImmediateLutSwitching           bool   `json:"immediate_lut_switching"`
	UseSpecialFrame                 bool   `json:"use_special_frame"`
	ResetLuts                       bool   `json:"reset_luts"`
	SamplingRateHz                  uint32 `json:"sampling_rate_hz"`
	TimeFilterCoefficient           uint32 `json:"time_filter_coefficient"`
	ClgcLoopOpen                    bool   `json:"clgc_loop_open"`
	ClgcGainTargetHundredthDB       int32  `json:"clgc_gain_target_hundredth_db"`
	ClgcFilterAlpha                 uint32 `json:"clgc_filter_alpha"`
	ClgcLastGainHundredthDB         int32  `json:"clgc_last_gain_hundredth_db"`
	ClgcFilteredGainHundredthDB     int32  `json:"clgc_filtered_gain_hundredth_db"`
}

var dpdLayout = NewConfigLayout(
	U32("samples"),
	U32("power_scale"),
	U32("norm_lower"),
	U32("norm_upper"),
	U32("power_threshold"),
	U32("peak_threshold"),
	U16("counts_power"),
	U16("counts_peak"),
	U8("immediate_lut_switching"),
	U8("special_frame"),
	U8("reset_luts"),
	Reserved(1),
	U32("sampling_rate"),
	U32("time_filter"),
	U8("clgc_loop_open"),
	Reserved(3),
	U32("clgc_gain_target"),
	U32("clgc_filter_alpha"),
	U32("clgc_last_gain"),
	U32("clgc_filtered_gain"),
)

// DpdConfigure writes the tracking DPD configuration of Tx ch.
func (d *Device) DpdConfigure(ch ChannelNumber, cfg DpdConfig) error {
	return d.record(d.dpdConfigure(ch, cfg))
}

func (d *Device) dpdConfigure(ch ChannelNumber, cfg DpdConfig) error {
	const op = "dpd configure"
	if err := validateChannel(op, PortTx, ch); err != nil {
		return err
	}
	switch {
	case cfg.NumberOfSamples < 3 || cfg.NumberOfSamples > dpdMaxSamples:
		return paramError(op, "number of samples %d outside 3..%d", cfg.NumberOfSamples, dpdMaxSamples)
	case cfg.RxTxNormalizationLowerThreshold > dpdMaxNormalizationU2d30:
		return paramError(op, "normalization lower threshold 0x%X exceeds 1.0", cfg.RxTxNormalizationLowerThreshold)
	case cfg.RxTxNormalizationUpperThreshold > dpdMaxNormalizationU2d30:
		return paramError(op, "normalization upper threshold 0x%X exceeds 1.0", cfg.RxTxNormalizationUpperThreshold)
	case cfg.CountsLessThanPowerThreshold > dpdMaxThresholdCounts:
		return paramError(op, "counts below power threshold %d exceeds %d", cfg.CountsLessThanPowerThreshold, dpdMaxThresholdCounts)
	case cfg.CountsGreaterThanPeakThreshold > dpdMaxThresholdCounts:
		return paramError(op, "counts above peak threshold %d exceeds %d", cfg.CountsGreaterThanPeakThreshold, dpdMaxThresholdCounts)
	case cfg.TimeFilterCoefficient > dpdMaxTimeFilterCoeff:
		return paramError(op, "time filter coefficient 0x%X exceeds 0x%X", cfg.TimeFilterCoefficient, dpdMaxTimeFilterCoeff)
	}

	return d.writeConfigLayout(op, dpdLayout, Values{
		"samples":                 uint64(cfg.NumberOfSamples),
		"power_scale":             uint64(cfg.AdditionalPowerScale),
		"norm_lower":              uint64(cfg.RxTxNormalizationLowerThreshold),
		"norm_upper":              uint64(cfg.RxTxNormalizationUpperThreshold),
		"power_threshold":         uint64(cfg.DetectionPowerThreshold),
		"peak_threshold":          uint64(cfg.DetectionPeakThreshold),
		"counts_power":            uint64(cfg.CountsLessThanPowerThreshold),
		"counts_peak":             uint64(cfg.CountsGreaterThanPeakThreshold),
		"immediate_lut_switching": boolValue(cfg.ImmediateLutSwitching),
		"special_frame":           boolValue(cfg.UseSpecialFrame),
		"reset_luts":              boolValue(cfg.ResetLuts),
		"time_filter":             uint64(cfg.TimeFilterCoefficient),
		"clgc_loop_open":          boolValue(cfg.ClgcLoopOpen),
		"clgc_gain_target":        uint64(uint32(cfg.ClgcGainTargetHundredthDB)),
		"clgc_filter_alpha":       uint64(cfg.ClgcFilterAlpha),
	}, MailboxChannel(PortTx, ch), regs.ObjIDTcTxDpd)
}

// DpdInspect reads the tracking DPD configuration and status of Tx ch.
func (d *Device) DpdInspect(ch ChannelNumber) (DpdConfig, error) {
	const op = "dpd inspect"
	var cfg DpdConfig
	if err := validateChannel(op, PortTx, ch); err != nil {
		return cfg, d.record(err)
	}
	v, err := d.readConfigLayout(dpdLayout, MailboxChannel(PortTx, ch), regs.ObjIDTcTxDpd)
	if err != nil {
		return cfg, d.record(err)
	}
	cfg = DpdConfig{
		NumberOfSamples:                 v.U32("samples"),
		AdditionalPowerScale:            v.U32("power_scale"),
		RxTxNormalizationLowerThreshold: v.U32("norm_lower"),
		RxTxNormalizationUpperThreshold: v.U32("norm_upper"),
		DetectionPowerThreshold:         v.U32("power_threshold"),
		DetectionPeakThreshold:          v.U32("peak_threshold"),
		CountsLessThanPowerThreshold:    v.U16("counts_power"),
		CountsGreaterThanPeakThreshold:  v.U16("counts_peak"),
		ImmediateLutSwitching:           v.Bool("immediate_lut_switching"),
		UseSpecialFrame:                 v.Bool("special_frame"),
		ResetLuts:                       v.Bool("reset_luts"),
		SamplingRateHz:                  v.U32("sampling_rate"),
		TimeFilterCoefficient:           v.U32("time_filter"),
		ClgcLoopOpen:                    v.Bool("clgc_loop_open"),
		ClgcGainTargetHundredthDB:       int32(v.U32("clgc_gain_target")),
		ClgcFilterAlpha:                 v.U32("clgc_filter_alpha"),
		ClgcLastGainHundredthDB:         int32(v.U32("clgc_last_gain")),
		ClgcFilteredGainHundredthDB:     int32(v.U32("clgc_filtered_gain")),
	}
	return cfg, nil
}

// DpdCoefficients is one region of the DPD LUT initialization.
type DpdCoefficients struct {
	Region       uint8  `json:"region"`
	Coefficients []byte `json:"coefficients"`
}

// DpdCoefficientsSet loads the LUT initialization coefficients of one
// region. Tx ch must be CALIBRATED.
func (d *Device) DpdCoefficientsSet(ch ChannelNumber, c DpdCoefficients) error {
	const op = "dpd coefficients set"
	if err := validateChannel(op, PortTx, ch); err != nil {
		return d.record(err)
	}
	if c.Region > DpdMaxRegion {
		return d.record(paramError(op, "region %d exceeds %d", c.Region, DpdMaxRegion))
	}
	if len(c.Coefficients) != DpdNumCoefficients {
		return d.record(paramError(op, "expected %d coefficients, got %d", DpdNumCoefficients, len(c.Coefficients)))
	}
	if err := d.requireStates(op, []Channel{{PortTx, ch}}, ChannelCalibrated); err != nil {
		return d.record(err)
	}

	// length, region, 3 reserved, coefficients
	data := make([]byte, lengthHeaderSize+4+DpdNumCoefficients)
	putLE(data[:lengthHeaderSize], uint64(len(data)-lengthHeaderSize))
	data[lengthHeaderSize] = c.Region
	copy(data[lengthHeaderSize+4:], c.Coefficients)
	ext := []byte{MailboxChannel(PortTx, ch), uint8(regs.ObjIDGsConfig), uint8(regs.ObjIDCfgDpdLutInitialization)}
	return d.record(d.configWrite(data, ext))
}

// DpdCoefficientsGet reads the LUT initialization coefficients of region.
func (d *Device) DpdCoefficientsGet(ch ChannelNumber, region uint8) (DpdCoefficients, error) {
	c, err := d.dpdCoefficientsGet(ch, region)
	return c, d.record(err)
}

func (d *Device) dpdCoefficientsGet(ch ChannelNumber, region uint8) (DpdCoefficients, error) {
	const op = "dpd coefficients get"
	if err := validateChannel(op, PortTx, ch); err != nil {
		return DpdCoefficients{}, err
	}
	if region > DpdMaxRegion {
		return DpdCoefficients{}, paramError(op, "region %d exceeds %d", region, DpdMaxRegion)
	}
	if err := d.requireStates(op, []Channel{{PortTx, ch}}, ChannelCalibrated); err != nil {
		return DpdCoefficients{}, err
	}

	release, err := d.lease(op)
	if err != nil {
		return DpdCoefficients{}, err
	}
	defer release()

	if err := d.memWrite(regs.MailboxGet+4, []byte{region}, WriteModeStandardBytes4); err != nil {
		return DpdCoefficients{}, err
	}
	buf := make([]byte, 4+DpdNumCoefficients)
	if err := d.configReadLocked(regs.ObjIDCfgDpdLutInitialization, MailboxChannel(PortTx, ch), 0, buf); err != nil {
		return DpdCoefficients{}, err
	}
	return DpdCoefficients{Region: buf[0], Coefficients: buf[4:]}, nil
}

// DpdFrequencyHopRegion is a frequency range sharing one DPD solution. A
// zero start frequency marks an unused region and needs a zero end.
type DpdFrequencyHopRegion struct {
	StartHz uint64 `json:"start_hz"`
	EndHz   uint64 `json:"end_hz"`
}

// DpdFhRegionsConfigure assigns frequency hopping regions to Tx ch, which
// must not be PRIMED or RF_ENABLED.
func (d *Device) DpdFhRegionsConfigure(ch ChannelNumber, regions []DpdFrequencyHopRegion) error {
	const op = "dpd fh regions configure"
	if err := validateChannel(op, PortTx, ch); err != nil {
		return d.record(err)
	}
	if len(regions) < 1 || len(regions) > DpdMaxFrequencyHopRegions {
		return d.record(paramError(op, "region count %d outside 1..%d", len(regions), DpdMaxFrequencyHopRegions))
	}
	for i, r := range regions {
		if r.StartHz == 0 && r.EndHz != 0 {
			return d.record(paramError(op, "region %d has an end frequency but no start", i))
		}
		if r.StartHz != 0 && r.EndHz <= r.StartHz {
			return d.record(paramError(op, "region %d ends at %d Hz, not after its start %d Hz", i, r.EndHz, r.StartHz))
		}
	}
	if err := d.requireStates(op, []Channel{{PortTx, ch}}, ChannelStandby, ChannelCalibrated); err != nil {
		return d.record(err)
	}

	data := make([]byte, lengthHeaderSize+16*DpdMaxFrequencyHopRegions)
	putLE(data[:lengthHeaderSize], uint64(len(data)-lengthHeaderSize))
	for i, r := range regions {
		off := lengthHeaderSize + 16*i
		putLE(data[off:off+8], r.StartHz)
		putLE(data[off+8:off+16], r.EndHz)
	}
	ext := []byte{MailboxChannel(PortTx, ch), uint8(regs.ObjIDGsConfig), uint8(regs.ObjIDCfgDpdFhRegions)}
	return d.record(d.configWrite(data, ext))
}

// DpdFhRegionsInspect reads the first n frequency hopping regions of Tx ch.
func (d *Device) DpdFhRegionsInspect(ch ChannelNumber, n int) ([]DpdFrequencyHopRegion, error) {
	const op = "dpd fh regions inspect"
	if err := validateChannel(op, PortTx, ch); err != nil {
		return nil, d.record(err)
	}
	if n < 1 || n > DpdMaxFrequencyHopRegions {
		return nil, d.record(paramError(op, "region count %d outside 1..%d", n, DpdMaxFrequencyHopRegions))
	}
	if err := d.requireStates(op, []Channel{{PortTx, ch}}, ChannelStandby, ChannelCalibrated); err != nil {
		return nil, d.record(err)
	}

	buf := make([]byte, 16*n)
	if err := d.configRead(regs.ObjIDCfgDpdFhRegions, MailboxChannel(PortTx, ch), 0, buf); err != nil {
		return nil, d.record(err)
	}
	regions := make([]DpdFrequencyHopRegion, n)
	for i := range regions {
		regions[i].StartHz = getLE(buf[16*i : 16*i+8])
		regions[i].EndHz = getLE(buf[16*i+8 : 16*i+16])
	}
	return regions, nil
}
