package adrv9001

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// InitCalMode selects which groups of initial calibrations the firmware runs.
type InitCalMode uint8

const (
	InitCalModeAll         InitCalMode = 0
	InitCalModeSystemAndRx InitCalMode = 1
	InitCalModeSystemAndTx InitCalMode = 2
	InitCalModeElbOnly     InitCalMode = 3
)

// Initial calibration bits, per channel pair unless noted
const (
	InitCalTxQec           uint32 = 1 << 0
	InitCalTxLoLeakage     uint32 = 1 << 1
	InitCalTxLbPd          uint32 = 1 << 2 // external loopback path delay
	InitCalTxDcc           uint32 = 1 << 3
	InitCalTxBbaf          uint32 = 1 << 4
	InitCalTxBbafGd        uint32 = 1 << 5
	InitCalTxAttenDelay    uint32 = 1 << 6
	InitCalTxDac           uint32 = 1 << 7
	InitCalTxPathDelay     uint32 = 1 << 8
	InitCalRxHpadcRc       uint32 = 1 << 9
	InitCalRxHpadcFlash    uint32 = 1 << 10
	InitCalRxHpadcDac      uint32 = 1 << 11
	InitCalRxDcc           uint32 = 1 << 12
	InitCalRxLpadc         uint32 = 1 << 13
	InitCalRxTiaCutoff     uint32 = 1 << 14
	InitCalRxGroupDelay    uint32 = 1 << 15
	InitCalRxQecTcal       uint32 = 1 << 16
	InitCalRxQecFic        uint32 = 1 << 17
	InitCalRxQecIlbLoDelay uint32 = 1 << 18
	InitCalRxRfDcOffset    uint32 = 1 << 19
	InitCalRxGainPathDelay uint32 = 1 << 20
	InitCalPll             uint32 = 1 << 21 // system
	InitCalAuxPll          uint32 = 1 << 22 // system
	InitCalTxAll           uint32 = 0x000001FF
	InitCalRxAll           uint32 = 0x001FFE00
	InitCalRxTxAll         uint32 = InitCalTxAll | InitCalRxAll
	InitCalSystemAll       uint32 = InitCalPll | InitCalAuxPll
)

// TrackingCalMaskMax is the highest valid tracking calibration mask.
const TrackingCalMaskMax uint32 = 0xF8133F

// Tracking calibration bits
const (
	TrackingCalTxQec           uint32 = 1 << 0
	TrackingCalTxLoLeakage     uint32 = 1 << 1
	TrackingCalTxLbPd          uint32 = 1 << 2
	TrackingCalTxPac           uint32 = 1 << 3
	TrackingCalTxDpdClgc       uint32 = 1 << 4
	TrackingCalTxCloseLoopGain uint32 = 1 << 5
	TrackingCalRxHdQec         uint32 = 1 << 8
	TrackingCalRxWbPoly        uint32 = 1 << 12
	TrackingCalRxBbdcReject    uint32 = 1 << 16
	TrackingCalRxRssi          uint32 = 1 << 19
)

// InitCals is one RUNINIT request.
type InitCals struct {
	SysInitCalMask  uint32      `json:"sys_init_cal_mask" yaml:"sys_init_cal_mask"`
	ChanInitCalMask [2]uint32   `json:"chan_init_cal_mask" yaml:"chan_init_cal_mask"` // [Rx1/Tx1, Rx2/Tx2]
	CalMode         InitCalMode `json:"cal_mode" yaml:"cal_mode"`
	Force           bool        `json:"force" yaml:"force"`
}

// InitCalsBuildDefault returns a request running every calibration.
func InitCalsBuildDefault() InitCals {
	return InitCals{
		SysInitCalMask:  InitCalSystemAll,
		ChanInitCalMask: [2]uint32{InitCalRxTxAll, InitCalRxTxAll},
		CalMode:         InitCalModeAll,
	}
}

var initCalsLayout = NewLayout(
	U32("sys"),
	U32("chan0"),
	U32("chan1"),
)

// InitCalsRun loads the masks into the RUN_INIT mailbox, issues RUNINIT
// and blocks until the firmware finishes or timeout elapses (0 selects the
// configured default). errorFlag is the firmware error flag of a failed
// run, or 0 when the failure was on the transport. A timeout carries
// ActionRerunInitCals.
func (d *Device) InitCalsRun(cals InitCals, timeout time.Duration) (errorFlag uint8, err error) {
	errorFlag, err = d.initCalsRun(cals, timeout)
	return errorFlag, d.record(err)
}

func (d *Device) initCalsRun(cals InitCals, timeout time.Duration) (uint8, error) {
	const op = "init cals run"
	if cals.CalMode > InitCalModeElbOnly {
		return 0, paramError(op, "invalid calibration mode %d", cals.CalMode)
	}
	if timeout == 0 {
		timeout = d.timeouts.InitCals
	}

	payload, err := initCalsLayout.Pack(Values{
		"sys":   uint64(cals.SysInitCalMask),
		"chan0": uint64(cals.ChanInitCalMask[0]),
		"chan1": uint64(cals.ChanInitCalMask[1]),
	})
	if err != nil {
		return 0, paramError(op, "%v", err)
	}

	release, err := d.lease(op)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := d.memWrite(regs.MailboxRunInit, payload, WriteModeStandardBytes4); err != nil {
		return 0, err
	}

	// channel mask is ignored for RUNINIT
	ext := []byte{0, uint8(cals.CalMode), uint8(boolValue(cals.Force))}
	if err := d.commandWrite(regs.OpRunInit, ext); err != nil {
		return 0, err
	}

	d.log.Info("init cals started", "mode", cals.CalMode, "sys_mask", cals.SysInitCalMask, "chan_masks", cals.ChanInitCalMask, "timeout", timeout)
	st, err := d.commandStatusWait(regs.OpRunInit, 0, timeout, initCalsWaitInterval)
	switch {
	case err == nil:
	case errors.Is(err, ErrTransport):
		return 0, err
	case errors.Is(err, ErrTimeout):
		return st.ErrorFlag, timeoutError(op, ActionRerunInitCals, "calibrations did not finish within %s", timeout)
	default:
		return st.ErrorFlag, err
	}

	d.MarkState(StateInitCalsRun)
	d.log.Info("init cals complete")
	return 0, nil
}

// TrackingSet enables tracking calibrations per channel pair. A pair with
// a non-zero mask must have both its Rx and Tx in STANDBY or CALIBRATED.
func (d *Device) TrackingSet(masks [2]uint32) error {
	return d.record(d.trackingSet(masks))
}

func (d *Device) trackingSet(masks [2]uint32) error {
	const op = "tracking set"
	for i, m := range masks {
		if m > TrackingCalMaskMax {
			return paramError(op, "tracking mask 0x%08X for channel pair %d exceeds 0x%06X", m, i+1, TrackingCalMaskMax)
		}
	}

	rs, err := d.radioState()
	if err != nil {
		return err
	}
	for i, m := range masks {
		if m == 0 {
			continue
		}
		for p, port := range []Port{PortRx, PortTx} {
			s := rs.ChannelStates[p][i]
			if s != ChannelStandby && s != ChannelCalibrated {
				return stateError(op, "%s%d is %s, must be STANDBY or CALIBRATED to change tracking calibrations", port, i+1, s)
			}
		}
	}

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:], masks[0])
	binary.LittleEndian.PutUint32(payload[4:], masks[1])
	ext := []byte{0, uint8(regs.ObjIDGsTrackingCalEnable)}
	return d.setObject(op, regs.MailboxSet, payload, ext, regs.ObjIDGsTrackingCalEnable, d.timeouts.Default)
}

// TrackingGet returns the enabled tracking calibrations per channel pair.
func (d *Device) TrackingGet() ([2]uint32, error) {
	var masks [2]uint32
	buf := make([]byte, 8)
	ext := []byte{0, uint8(regs.ObjIDGsTrackingCalEnable)}
	if err := d.getObject("tracking get", ext, regs.ObjIDGsTrackingCalEnable, buf); err != nil {
		return masks, d.record(err)
	}
	masks[0] = binary.LittleEndian.Uint32(buf[0:])
	masks[1] = binary.LittleEndian.Uint32(buf[4:])
	return masks, nil
}

// MaxExternalPathDelayPs is the largest settable external path delay.
const MaxExternalPathDelayPs = 6553500

func (d *Device) requireTxCalibrated(op string, ch ChannelNumber) error {
	if err := validateChannel(op, PortTx, ch); err != nil {
		return err
	}
	return d.requireStates(op, []Channel{{PortTx, ch}}, ChannelCalibrated)
}

// ExternalPathDelayRun runs only the external loopback path delay
// calibration for Tx ch, which must be CALIBRATED.
func (d *Device) ExternalPathDelayRun(ch ChannelNumber, timeout time.Duration) (errorFlag uint8, err error) {
	errorFlag, err = d.externalPathDelayRun(ch, timeout)
	return errorFlag, d.record(err)
}

func (d *Device) externalPathDelayRun(ch ChannelNumber, timeout time.Duration) (uint8, error) {
	if err := d.requireTxCalibrated("external path delay run", ch); err != nil {
		return 0, err
	}
	cals := InitCals{CalMode: InitCalModeElbOnly}
	cals.ChanInitCalMask[ch-1] = InitCalTxLbPd
	return d.initCalsRun(cals, timeout)
}

// ExternalMinusInternalPathDelayMeasure reads the measured difference
// between the external and internal loopback delay of Tx ch in ps.
func (d *Device) ExternalMinusInternalPathDelayMeasure(ch ChannelNumber) (uint32, error) {
	ps, err := d.externalMinusInternalPathDelayMeasure(ch)
	return ps, d.record(err)
}

func (d *Device) externalMinusInternalPathDelayMeasure(ch ChannelNumber) (uint32, error) {
	const op = "path delay measure"
	if err := d.requireTxCalibrated(op, ch); err != nil {
		return 0, err
	}
	buf := make([]byte, 2)
	ext := []byte{MailboxChannel(PortTx, ch), uint8(regs.ObjIDGoIlbElbPathDelayDiff)}
	if err := d.getObject(op, ext, regs.ObjIDGoIlbElbPathDelayDiff, buf); err != nil {
		return 0, err
	}
	// firmware reports tenths of a nanosecond
	return uint32(binary.LittleEndian.Uint16(buf)) * 100, nil
}

// ExternalPathDelayCalibrate runs the path delay calibration and returns
// the measured delay. The calibration is not undone if the measurement fails.
func (d *Device) ExternalPathDelayCalibrate(ch ChannelNumber, timeout time.Duration) (errorFlag uint8, ps uint32, err error) {
	if errorFlag, err = d.externalPathDelayRun(ch, timeout); err != nil {
		return errorFlag, 0, d.record(err)
	}
	ps, err = d.externalMinusInternalPathDelayMeasure(ch)
	return 0, ps, d.record(err)
}

// ExternalPathDelaySet programs the external path delay of Tx ch with a
// resolution of 100 ps. Tx ch must be STANDBY or CALIBRATED.
func (d *Device) ExternalPathDelaySet(ch ChannelNumber, ps uint32) error {
	const op = "path delay set"
	if err := validateChannel(op, PortTx, ch); err != nil {
		return d.record(err)
	}
	if ps > MaxExternalPathDelayPs {
		return d.record(paramError(op, "delay %d ps exceeds %d ps", ps, MaxExternalPathDelayPs))
	}
	if err := d.requireStates(op, []Channel{{PortTx, ch}}, ChannelStandby, ChannelCalibrated); err != nil {
		return d.record(err)
	}

	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(ps/100))
	ext := []byte{MailboxChannel(PortTx, ch), uint8(regs.ObjIDGsExternalPathDelay)}
	return d.record(d.setObject(op, regs.MailboxSet, payload, ext, regs.ObjIDGsExternalPathDelay, d.timeouts.Default))
}

// ExternalPathDelayGet reads the programmed external path delay in ps.
func (d *Device) ExternalPathDelayGet(ch ChannelNumber) (uint32, error) {
	const op = "path delay get"
	if err := validateChannel(op, PortTx, ch); err != nil {
		return 0, d.record(err)
	}
	buf := make([]byte, 2)
	ext := []byte{MailboxChannel(PortTx, ch), uint8(regs.ObjIDGsExternalPathDelay)}
	if err := d.getObject(op, ext, regs.ObjIDGsExternalPathDelay, buf); err != nil {
		return 0, d.record(err)
	}
	return uint32(binary.LittleEndian.Uint16(buf)) * 100, nil
}

// MaxInternalPathDelays is the number of profiles the firmware reports
// internal path delays for.
const MaxInternalPathDelays = 6

// InternalPathDelayGet returns n internal path delays in ns for an Rx or Tx
// channel that is not in STANDBY. Entry 0 is the main profile.
func (d *Device) InternalPathDelayGet(port Port, ch ChannelNumber, n int) ([]uint32, error) {
	const op = "internal path delay get"
	if port != PortRx && port != PortTx {
		return nil, d.record(paramError(op, "port must be RX or TX, got %s", port))
	}
	if err := validateChannel(op, port, ch); err != nil {
		return nil, d.record(err)
	}
	if n < 1 || n > MaxInternalPathDelays {
		return nil, d.record(paramError(op, "count %d outside 1..%d", n, MaxInternalPathDelays))
	}
	if err := d.requireStates(op, []Channel{{port, ch}}, ChannelCalibrated, ChannelPrimed, ChannelRfEnabled); err != nil {
		return nil, d.record(err)
	}

	obj := regs.ObjIDGoRxPathDelayRead
	if port == PortTx {
		obj = regs.ObjIDGoTxPathDelayRead
	}
	buf := make([]byte, 4*MaxInternalPathDelays)
	if err := d.getObject(op, []byte{MailboxChannel(port, ch), uint8(obj)}, obj, buf); err != nil {
		return nil, d.record(err)
	}

	delays := make([]uint32, n)
	for i := range delays {
		delays[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return delays, nil
}
