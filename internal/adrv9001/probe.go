package adrv9001

import (
	"fmt"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// ChipInfo identifies the part on the bus.
type ChipInfo struct {
	ChipType  uint8  `json:"chip_type"`
	ProductID uint16 `json:"product_id"`
}

func (c ChipInfo) String() string {
	return fmt.Sprintf("chip type 0x%02X product 0x%04X", c.ChipType, c.ProductID)
}

// Probe reads the chip identification registers and the system state.
// When the ARM reports a non-zero system state the firmware is running and
// the device state is advanced to StateArmLoaded; a device brought up by an
// external loader is usable from then on.
func (d *Device) Probe() (ChipInfo, error) {
	info, err := d.probe()
	return info, d.record(err)
}

func (d *Device) probe() (ChipInfo, error) {
	var info ChipInfo
	var err error
	if info.ChipType, err = d.spiRead(regs.AddrChipType); err != nil {
		return info, err
	}
	lo, err := d.spiRead(regs.AddrProductIDLow)
	if err != nil {
		return info, err
	}
	hi, err := d.spiRead(regs.AddrProductIDHigh)
	if err != nil {
		return info, err
	}
	info.ProductID = uint16(hi)<<8 | uint16(lo)
	if info.ChipType == 0x00 || info.ChipType == 0xFF {
		return info, &Error{Kind: ErrTransport, Action: ActionResetInterface, Op: "probe",
			Msg: fmt.Sprintf("no device answering, chip type reads 0x%02X", info.ChipType)}
	}

	sys, err := d.spiRead(regs.AddrArmCmdStatus8)
	if err != nil {
		return info, err
	}
	if sys&0x03 != 0 {
		d.MarkState(StatePowerOnReset | StateAnaInitialized | StateStreamLoaded | StateArmLoaded)
	}
	d.log.Info("adrv9001 probed", "chip", info.String(), "system_state", sys&0x03)
	return info, nil
}
