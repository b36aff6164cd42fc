package adrv9001

import (
	"fmt"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// Pll selects one of the synthesizers.
type Pll uint8

const (
	PllLo1 Pll = iota
	PllLo2
	PllAux
)

func (p Pll) String() string {
	switch p {
	case PllLo1:
		return "LO1"
	case PllLo2:
		return "LO2"
	case PllAux:
		return "AUX"
	default:
		return fmt.Sprintf("Pll(%d)", uint8(p))
	}
}

// PllCalibration is the PLL calibration speed.
type PllCalibration uint8

const (
	PllCalibrationNormal PllCalibration = iota
	PllCalibrationFast
	PllCalibrationReserved
)

// PllPower is the PLL bias level.
type PllPower uint8

const (
	PllPowerLow PllPower = iota
	PllPowerMedium
	PllPowerHigh
)

// PllConfig is the static configuration of an LO PLL.
type PllConfig struct {
	Calibration PllCalibration `json:"calibration"`
	Power       PllPower       `json:"power"`
}

var pllConfigLayout = NewConfigLayout(
	U8("pll"),
	U8("calibration"),
	U8("power"),
)

// PllConfigure writes the configuration of an LO PLL. Every channel must
// be in STANDBY.
func (d *Device) PllConfigure(pll Pll, cfg PllConfig) error {
	return d.record(d.pllConfigure(pll, cfg))
}

func (d *Device) pllConfigure(pll Pll, cfg PllConfig) error {
	const op = "pll configure"
	if pll > PllLo2 {
		return paramError(op, "PLL must be LO1 or LO2, got %s", pll)
	}
	if cfg.Calibration > PllCalibrationReserved {
		return paramError(op, "invalid PLL calibration mode %d", cfg.Calibration)
	}
	if cfg.Power > PllPowerHigh {
		return paramError(op, "invalid PLL power %d", cfg.Power)
	}

	rs, err := d.radioState()
	if err != nil {
		return err
	}
	for p, port := range []Port{PortRx, PortTx} {
		for c := range 2 {
			if s := rs.ChannelStates[p][c]; s != ChannelStandby {
				return stateError(op, "%s%d is %s, all channels must be in STANDBY", port, c+1, s)
			}
		}
	}

	return d.writeConfigLayout(op, pllConfigLayout, Values{
		"pll":         uint64(pll),
		"calibration": uint64(cfg.Calibration),
		"power":       uint64(cfg.Power),
	}, 0, regs.ObjIDCfgPllConfig)
}

// PllInspect reads the configuration of an LO PLL.
func (d *Device) PllInspect(pll Pll) (PllConfig, error) {
	cfg, err := d.pllInspect(pll)
	return cfg, d.record(err)
}

func (d *Device) pllInspect(pll Pll) (PllConfig, error) {
	const op = "pll inspect"
	var cfg PllConfig
	if pll > PllLo2 {
		return cfg, paramError(op, "PLL must be LO1 or LO2, got %s", pll)
	}

	release, err := d.lease(op)
	if err != nil {
		return cfg, err
	}
	defer release()

	// the firmware takes the PLL selector from the word after the length
	if err := d.memWrite(regs.MailboxGet+4, []byte{uint8(pll)}, WriteModeStandardBytes4); err != nil {
		return cfg, err
	}
	buf := make([]byte, pllConfigLayout.BodySize())
	if err := d.configReadLocked(regs.ObjIDCfgPllConfig, 0, 0, buf); err != nil {
		return cfg, err
	}
	v, err := pllConfigLayout.UnpackBody(buf)
	if err != nil {
		return cfg, paramError(op, "%v", err)
	}
	cfg.Calibration = PllCalibration(v.U8("calibration"))
	cfg.Power = PllPower(v.U8("power"))
	return cfg, nil
}

// Loop filter limits
const (
	PllPhaseMarginMinDegrees = 40
	PllPhaseMarginMaxDegrees = 85
	PllBandwidthMinKHz       = 50
	PllBandwidthMaxKHz       = 1500
	PllPowerScaleMax         = 10
)

// PllLoopFilter is the loop filter setting of a PLL. EffectiveBandwidthKHz
// is reported by PllLoopFilterGet and ignored by PllLoopFilterSet.
type PllLoopFilter struct {
	PhaseMarginDegrees    uint8  `json:"phase_margin_degrees"`
	BandwidthKHz          uint16 `json:"bandwidth_khz"`
	PowerScale            uint8  `json:"power_scale"`
	EffectiveBandwidthKHz uint16 `json:"effective_bandwidth_khz,omitempty"`
}

var loopFilterLayout = NewLayout(
	U8("phase_margin"),
	U16("bandwidth"),
	U8("power_scale"),
	U16("effective_bandwidth"),
)

// PllLoopFilterSet programs the loop filter of pll.
func (d *Device) PllLoopFilterSet(pll Pll, lf PllLoopFilter) error {
	const op = "pll loop filter set"
	if pll > PllAux {
		return d.record(paramError(op, "invalid PLL %s", pll))
	}
	if lf.PhaseMarginDegrees < PllPhaseMarginMinDegrees || lf.PhaseMarginDegrees > PllPhaseMarginMaxDegrees {
		return d.record(paramError(op, "phase margin %d outside %d..%d degrees", lf.PhaseMarginDegrees, PllPhaseMarginMinDegrees, PllPhaseMarginMaxDegrees))
	}
	if lf.BandwidthKHz < PllBandwidthMinKHz || lf.BandwidthKHz > PllBandwidthMaxKHz {
		return d.record(paramError(op, "loop bandwidth %d outside %d..%d kHz", lf.BandwidthKHz, PllBandwidthMinKHz, PllBandwidthMaxKHz))
	}
	if lf.PowerScale > PllPowerScaleMax {
		return d.record(paramError(op, "power scale %d exceeds %d", lf.PowerScale, PllPowerScaleMax))
	}

	payload, err := loopFilterLayout.Pack(Values{
		"phase_margin": uint64(lf.PhaseMarginDegrees),
		"bandwidth":    uint64(lf.BandwidthKHz),
		"power_scale":  uint64(lf.PowerScale),
	})
	if err != nil {
		return d.record(paramError(op, "%v", err))
	}
	// effective bandwidth is read only
	payload = payload[:4]

	ext := []byte{0, uint8(regs.ObjIDGsPllLoopFilter), uint8(pll)}
	return d.record(d.setObject(op, regs.MailboxSet, payload, ext, regs.ObjIDGsPllLoopFilter, d.timeouts.Default))
}

// PllLoopFilterGet reads the loop filter of pll including the bandwidth
// the firmware actually achieved.
func (d *Device) PllLoopFilterGet(pll Pll) (PllLoopFilter, error) {
	const op = "pll loop filter get"
	var lf PllLoopFilter
	if pll > PllAux {
		return lf, d.record(paramError(op, "invalid PLL %s", pll))
	}

	buf := make([]byte, loopFilterLayout.Size())
	ext := []byte{0, uint8(regs.ObjIDGsPllLoopFilter), uint8(pll)}
	if err := d.getObject(op, ext, regs.ObjIDGsPllLoopFilter, buf); err != nil {
		return lf, d.record(err)
	}
	v, err := loopFilterLayout.Unpack(buf)
	if err != nil {
		return lf, d.record(paramError(op, "%v", err))
	}
	lf.PhaseMarginDegrees = v.U8("phase_margin")
	lf.BandwidthKHz = v.U16("bandwidth")
	lf.PowerScale = v.U8("power_scale")
	lf.EffectiveBandwidthKHz = v.U16("effective_bandwidth")
	return lf, nil
}
