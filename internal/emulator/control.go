package emulator

import (
	"encoding/binary"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// ChannelStates returns the states as [rx, tx][channel-1].
func (e *Emulator) ChannelStates() [2][2]uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states
}

// SetChannelState forces the state of one channel. tx selects the Tx
// channel, ch is 1 or 2.
func (e *Emulator) SetChannelState(tx bool, ch int, state uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := 0
	if tx {
		p = 1
	}
	e.states[p][ch-1] = state & 0x03
}

// Commands returns every mailbox command issued so far.
func (e *Emulator) Commands() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Command(nil), e.commands...)
}

// ResetCommands clears the command log.
func (e *Emulator) ResetCommands() {
	e.mu.Lock()
	e.commands = nil
	e.mu.Unlock()
}

// InjectError makes the next command with opcode op complete with flag.
// For FlagCommandError code is reported in ARM_CMD_STATUS_10/11.
func (e *Emulator) InjectError(op uint8, flag uint8, code uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.injected[op] = injection{flag: flag, code: code}
}

// SetPending keeps the next command with opcode op pending for polls
// status reads. A negative count never completes.
func (e *Emulator) SetPending(op uint8, polls int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if polls < 0 {
		polls = busyForever
	}
	e.pending[op] = polls
}

// SetMailboxBusy reports the mailbox busy for the next polls reads of the
// command register. A negative count keeps it busy.
func (e *Emulator) SetMailboxBusy(polls int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if polls < 0 {
		polls = busyForever
	}
	e.busyPolls = polls
}

// SetSystemError sets the system error registers.
func (e *Emulator) SetSystemError(objectID regs.ObjectID, code uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sysErr = [2]uint8{code, uint8(objectID)}
}

// SetPathDelayDifference sets the value GET ILB_ELB_PATH_DELAY_DIFF
// returns for the channels in mask, in units of 100 ps.
func (e *Emulator) SetPathDelayDifference(mask uint8, units uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pathDelayDiff[mask] = units
}

// SetInternalPathDelays sets the delays RX/TX_PATH_DELAY_READ return for
// the channel in mask.
func (e *Emulator) SetInternalPathDelays(mask uint8, delays []uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.internalDelays[mask] = append([]uint32(nil), delays...)
}

// SetArmVersion writes the version block read by the driver.
func (e *Emulator) SetArmVersion(major, minor, maintenance uint8, rc uint16, buildFlags uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setArmVersion(major, minor, maintenance, rc, buildFlags)
}

func (e *Emulator) setArmVersion(major, minor, maintenance uint8, rc uint16, buildFlags uint8) {
	word := uint32(major&0x0F)<<28 | uint32(minor&0x0F)<<24 | uint32(maintenance)<<16 | uint32(rc)
	block := make([]byte, 8)
	binary.LittleEndian.PutUint32(block, word)
	block[4] = buildFlags
	e.writeMem(regs.ArmVersionAddr, block)
}

// WarmBootBlock is one coefficient block of the emulated warm boot table.
type WarmBootBlock struct {
	Address     uint32
	InitMask    uint32
	ProfileMask uint32
	Data        []byte
}

// warmBootEntriesAddress is where LoadWarmBootTable places the entries.
const warmBootEntriesAddress = regs.WarmBootTableHeader + 0x10

// LoadWarmBootTable writes a table header, its entries and the block data
// into ARM memory.
func (e *Emulator) LoadWarmBootTable(blocks []WarmBootBlock) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total uint32
	for i, b := range blocks {
		entry := make([]byte, 16)
		binary.LittleEndian.PutUint32(entry[0:], b.Address)
		binary.LittleEndian.PutUint32(entry[4:], uint32(len(b.Data)))
		binary.LittleEndian.PutUint32(entry[8:], b.InitMask)
		binary.LittleEndian.PutUint32(entry[12:], b.ProfileMask)
		e.writeMem(warmBootEntriesAddress+uint32(16*i), entry)
		e.writeMem(b.Address, b.Data)
		total += uint32(len(b.Data))
	}

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:], uint32(len(blocks)))
	binary.LittleEndian.PutUint32(header[4:], warmBootEntriesAddress)
	binary.LittleEndian.PutUint32(header[8:], total)
	e.writeMem(regs.WarmBootTableHeader, header)
}
