package adrv9001

import (
	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

var bbdcLayout = NewConfigLayout(
	U32("loop_gain"),
)

// BbdcLoopGainSet sets the baseband DC rejection loop gain of an Rx or
// ORx channel. The channel must be in STANDBY or CALIBRATED.
func (d *Device) BbdcLoopGainSet(port Port, ch ChannelNumber, gain uint32) error {
	const op = "bbdc loop gain set"
	if err := validateBbdcChannel(op, port, ch); err != nil {
		return d.record(err)
	}
	if err := d.requireStates(op, []Channel{{port, ch}}, ChannelStandby, ChannelCalibrated); err != nil {
		return d.record(err)
	}
	return d.record(d.writeConfigLayout(op, bbdcLayout, Values{"loop_gain": uint64(gain)}, MailboxChannel(port, ch), regs.ObjIDCfgBbdc))
}

// BbdcLoopGainGet reads the loop gain back.
func (d *Device) BbdcLoopGainGet(port Port, ch ChannelNumber) (uint32, error) {
	const op = "bbdc loop gain get"
	if err := validateBbdcChannel(op, port, ch); err != nil {
		return 0, d.record(err)
	}
	v, err := d.readConfigLayout(bbdcLayout, MailboxChannel(port, ch), regs.ObjIDCfgBbdc)
	if err != nil {
		return 0, d.record(err)
	}
	return v.U32("loop_gain"), nil
}

func validateBbdcChannel(op string, port Port, ch ChannelNumber) error {
	if port == PortTx {
		return paramError(op, "BBDC is only available on RX and ORX")
	}
	return validateChannel(op, port, ch)
}
