package adrv9001

import (
	"fmt"
	"time"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// CommandStatus is the status nibble of one opcode slot.
type CommandStatus struct {
	Pending   bool
	ErrorFlag uint8 // 0 = success, 1..7 see ArmCommandError
}

// IsValidOpcode reports whether op can be issued through the polled
// command path: ABORT (0) or an even opcode up to 30.
func IsValidOpcode(op uint8) bool {
	return op == 0 || (op%2 == 0 && op <= 30)
}

// opcodeMacroFlagsInvalid is the literal predicate of the vendor
// OPCODE_VALID macro. It is true for the opcodes IsValidOpcode rejects.
func opcodeMacroFlagsInvalid(op uint8) bool {
	return op != 0 && (op%2 == 1 || op > 30)
}

// statusSlot locates the status nibble of op.
func statusSlot(op uint8) (addr uint16, shift uint) {
	addr = regs.AddrArmCmdStatus0 + uint16(op>>2)
	if (op>>1)&1 == 1 {
		shift = 4
	}
	return addr, shift
}

func opcodeName(op uint8) string {
	if n, ok := regs.OpcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", op)
}

// CommandWrite issues op with up to five extended bytes.
func (d *Device) CommandWrite(op uint8, ext []byte) error {
	release, err := d.lease("command write")
	if err != nil {
		return d.record(err)
	}
	defer release()
	return d.record(d.commandWrite(op, ext))
}

func (d *Device) commandWrite(op uint8, ext []byte) error {
	if !IsValidOpcode(op) {
		return paramError("command write", "invalid opcode 0x%02X", op)
	}
	return d.writeCommand(op, ext)
}

// writeCommand waits for the mailbox to be free, loads the extended bytes
// and triggers the firmware by writing the opcode last.
func (d *Device) writeCommand(op uint8, ext []byte) error {
	const opName = "command write"
	if len(ext) > regs.ExtCmdBytes {
		return paramError(opName, "%d extended bytes exceed the limit of %d", len(ext), regs.ExtCmdBytes)
	}

	numChecks := int(mailboxBusyTimeout / mailboxBusyInterval)
	for i := 0; ; i++ {
		busy, err := d.mailboxBusy()
		if err != nil {
			return err
		}
		if !busy {
			break
		}
		if i >= numChecks {
			return timeoutError(opName, ActionResetArm, "mailbox still busy after %s, opcode %s not sent", mailboxBusyTimeout, opcodeName(op))
		}
		d.clock.Sleep(mailboxBusyInterval)
	}

	writes := make([]regWrite, 0, len(ext)+1)
	for i, b := range ext {
		writes = append(writes, regWrite{regs.AddrArmExtCmdByte1 + uint16(i), b})
	}
	writes = append(writes, regWrite{regs.AddrArmCommand, op})

	d.log.Debug("mailbox command", "opcode", opcodeName(op), "ext", fmt.Sprintf("% X", ext))
	return d.spiWriteBatch(writes)
}

// StreamTrigger issues STREAM_TRIGGER for the channels in mask. The opcode
// has no status slot so completion is not polled.
func (d *Device) StreamTrigger(mask uint8) error {
	release, err := d.lease("stream trigger")
	if err != nil {
		return d.record(err)
	}
	defer release()
	return d.record(d.writeCommand(regs.OpStreamTrigger, []byte{mask}))
}

// MailboxBusy reports the firmware mailbox busy flag.
func (d *Device) MailboxBusy() (bool, error) {
	busy, err := d.mailboxBusy()
	return busy, d.record(err)
}

func (d *Device) mailboxBusy() (bool, error) {
	v, err := d.spiRead(regs.AddrArmCommand)
	if err != nil {
		return false, err
	}
	return v&regs.ArmCommandBusy != 0, nil
}

// CommandStatusGet reads the status nibble of op.
func (d *Device) CommandStatusGet(op uint8) (CommandStatus, error) {
	st, err := d.commandStatusGet(op)
	return st, d.record(err)
}

func (d *Device) commandStatusGet(op uint8) (CommandStatus, error) {
	if !IsValidOpcode(op) {
		return CommandStatus{}, paramError("command status", "invalid opcode 0x%02X", op)
	}
	addr, shift := statusSlot(op)
	v, err := d.spiRead(addr)
	if err != nil {
		return CommandStatus{}, err
	}
	nibble := (v >> shift) & 0x0F
	return CommandStatus{Pending: nibble&0x01 != 0, ErrorFlag: (nibble & 0x0E) >> 1}, nil
}

// CommandStatusWait polls the status of op every interval until it is no
// longer pending or timeout has elapsed.
func (d *Device) CommandStatusWait(op uint8, objectID regs.ObjectID, timeout, interval time.Duration) (CommandStatus, error) {
	release, err := d.lease("command status wait")
	if err != nil {
		return CommandStatus{}, d.record(err)
	}
	defer release()
	st, err := d.commandStatusWait(op, objectID, timeout, interval)
	return st, d.record(err)
}

func (d *Device) commandStatusWait(op uint8, objectID regs.ObjectID, timeout, interval time.Duration) (CommandStatus, error) {
	if interval > timeout {
		interval = timeout
	}
	numChecks := 1
	if interval > 0 {
		numChecks = int(timeout / interval)
	}

	var st CommandStatus
	for i := 0; i <= numChecks; i++ {
		var err error
		st, err = d.commandStatusGet(op)
		if err != nil {
			return st, err
		}
		if st.ErrorFlag != 0 {
			return st, d.commandError(op, objectID, st.ErrorFlag)
		}
		if !st.Pending {
			d.log.Debug("mailbox command complete", "opcode", opcodeName(op), "object", objectID.String(), "polls", i+1)
			return st, nil
		}
		if i < numChecks {
			d.clock.Sleep(interval)
		}
	}

	return st, timeoutError("command status wait", ActionResetArm, "%s %s still pending after %s", opcodeName(op), objectID, timeout)
}

// commandError builds the error for a command that completed with flag.
func (d *Device) commandError(op uint8, objectID regs.ObjectID, flag uint8) error {
	ae := &ArmCommandError{
		Opcode:    op,
		ObjectID:  objectID,
		ErrorFlag: flag,
		Action:    recoveryFor(op, objectID, flag),
	}
	if flag == errFlagCommandError {
		code, err := d.mailboxErrorCode()
		if err != nil {
			return err
		}
		ae.MailboxCode = code
	}
	return &Error{Kind: ErrArmCommand, Action: ae.Action, Op: "mailbox", Err: ae}
}

func (d *Device) mailboxErrorCode() (uint16, error) {
	code, err := d.spiRead(regs.AddrArmCmdStatus10)
	if err != nil {
		return 0, err
	}
	obj, err := d.spiRead(regs.AddrArmCmdStatus11)
	if err != nil {
		return 0, err
	}
	return uint16(obj)<<8 | uint16(code), nil
}

// command writes op and waits for it under the mailbox lease.
func (d *Device) command(opName string, op uint8, ext []byte, objectID regs.ObjectID, timeout, interval time.Duration) error {
	release, err := d.lease(opName)
	if err != nil {
		return err
	}
	defer release()
	return d.commandLocked(op, ext, objectID, timeout, interval)
}

func (d *Device) commandLocked(op uint8, ext []byte, objectID regs.ObjectID, timeout, interval time.Duration) error {
	if err := d.commandWrite(op, ext); err != nil {
		return err
	}
	_, err := d.commandStatusWait(op, objectID, timeout, interval)
	return err
}

// CommandStatusAll returns one error bit and one pending bit per opcode
// slot, slot n being opcode 2n.
func (d *Device) CommandStatusAll() (errorWord, statusWord uint16, err error) {
	for i := uint16(0); i < regs.CmdStatusSlotBytes; i++ {
		v, rerr := d.spiRead(regs.AddrArmCmdStatus0 + i)
		if rerr != nil {
			return 0, 0, d.record(rerr)
		}
		for half := uint16(0); half < 2; half++ {
			nibble := (v >> (4 * half)) & 0x0F
			slot := 2*i + half
			if nibble&0x0E != 0 {
				errorWord |= 1 << slot
			}
			if nibble&0x01 != 0 {
				statusWord |= 1 << slot
			}
		}
	}
	return errorWord, statusWord, nil
}

// SystemError returns the object ID and error code of the last firmware
// system error.
func (d *Device) SystemError() (regs.ObjectID, uint8, error) {
	code, err := d.spiRead(regs.AddrArmCmdStatus12)
	if err != nil {
		return 0, 0, d.record(err)
	}
	obj, err := d.spiRead(regs.AddrArmCmdStatus13)
	if err != nil {
		return 0, 0, d.record(err)
	}
	return regs.ObjectID(obj), code, nil
}
