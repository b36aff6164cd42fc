package emulator

import (
	"encoding/binary"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// Error flags the emulated firmware reports
const (
	FlagUnsupported  uint8 = 2
	FlagInvalidState uint8 = 3
	FlagCommandError uint8 = 7
)

// selectorObjects take a selector byte: from the first body byte on SET
// and from the word after the length in the GET window on GET.
var selectorObjects = map[regs.ObjectID]bool{
	regs.ObjIDCfgPllConfig:            true,
	regs.ObjIDCfgDpdLutInitialization: true,
}

// execute runs one mailbox command. The opcode register write is the
// trigger; the extended bytes were written before it.
func (e *Emulator) execute(op uint8) {
	var cmd Command
	cmd.Opcode = op
	for i := range cmd.Ext {
		cmd.Ext[i] = e.regs[regs.AddrArmExtCmdByte1+uint16(i)]
	}
	e.commands = append(e.commands, cmd)
	e.log.Debug("emulator command", "opcode", regs.OpcodeNames[op], "ext", cmd.Ext[:])

	if op == regs.OpStreamTrigger {
		return
	}
	if op%2 == 1 || op > 30 {
		return
	}

	flag := uint8(0)
	if inj, ok := e.injected[op]; ok {
		delete(e.injected, op)
		flag = inj.flag
		if flag == FlagCommandError {
			e.mailboxErr = inj.code
		}
	} else {
		flag = e.run(cmd)
	}

	slot, shift := op>>2, uint((op>>1)&1)*4
	nibble := (flag & 0x07) << 1
	if n, ok := e.pending[op]; ok && n != 0 {
		nibble |= 0x01
	}
	e.status[slot] = e.status[slot]&^(0x0F<<shift) | nibble<<shift
}

func (e *Emulator) run(cmd Command) uint8 {
	ext := cmd.Ext
	switch cmd.Opcode {
	case regs.OpAbort, regs.OpStandby, regs.OpMcs:
		return 0
	case regs.OpRunInit:
		return e.runInit(ext[1])
	case regs.OpRadioOn:
		return e.transition(ext[0], StateCalibrated, StatePrimed, StatePrimed)
	case regs.OpRadioOff:
		return e.radioOff(ext[0])
	case regs.OpPowerDown:
		if f := e.transition(ext[0], StateCalibrated, StateCalibrated, StateStandby); f != 0 {
			return f
		}
		e.poweredDown |= ext[0] & 0x0F
		return 0
	case regs.OpPowerUp:
		for i, bit := range channelBits {
			if ext[0]&bit != 0 && e.poweredDown&bit != 0 {
				e.states[i/2][i%2] = StateCalibrated
				e.poweredDown &^= bit
			}
		}
		return 0
	case regs.OpSet:
		return e.set(ext)
	case regs.OpGet:
		return e.get(ext)
	case regs.OpHighPriority:
		return e.highPriority(ext)
	}
	return FlagUnsupported
}

// channelBits lists the Rx1, Rx2, Tx1, Tx2 mailbox bits in states order.
var channelBits = [4]uint8{regs.ChannelBitRx1, regs.ChannelBitRx2, regs.ChannelBitTx1, regs.ChannelBitTx2}

// transition moves every channel in mask from one of from1/from2 to to. If
// any masked channel is in another state nothing changes.
func (e *Emulator) transition(mask, from1, from2, to uint8) uint8 {
	for i, bit := range channelBits {
		if mask&bit == 0 {
			continue
		}
		if s := e.states[i/2][i%2]; s != from1 && s != from2 {
			return FlagInvalidState
		}
	}
	for i, bit := range channelBits {
		if mask&bit != 0 {
			e.states[i/2][i%2] = to
		}
	}
	return 0
}

func (e *Emulator) radioOff(mask uint8) uint8 {
	for i, bit := range channelBits {
		if mask&bit == 0 {
			continue
		}
		if s := e.states[i/2][i%2]; s == StateStandby {
			return FlagInvalidState
		}
	}
	for i, bit := range channelBits {
		if mask&bit != 0 {
			e.states[i/2][i%2] = StateCalibrated
			e.regs[regs.AddrBbicEnables] &^= bit
		}
	}
	return 0
}

// runInit calibrates every initialized channel still in STANDBY. The
// external loopback only mode leaves the states alone.
func (e *Emulator) runInit(mode uint8) uint8 {
	const elbOnly = 3
	masks := e.readMem(regs.MailboxRunInit, 12)
	e.log.Debug("emulator init cals",
		"sys", binary.LittleEndian.Uint32(masks[0:]),
		"chan0", binary.LittleEndian.Uint32(masks[4:]),
		"chan1", binary.LittleEndian.Uint32(masks[8:]))
	if mode == elbOnly {
		return 0
	}
	for i, bit := range channelBits {
		if e.initialized&bit != 0 && e.states[i/2][i%2] == StateStandby {
			e.states[i/2][i%2] = StateCalibrated
			e.poweredDown &^= bit
		}
	}
	return 0
}

// applyBbicEnables follows the RF enable bits: a PRIMED channel whose bit
// is set goes RF_ENABLED and an RF_ENABLED one whose bit clears drops back.
func (e *Emulator) applyBbicEnables(v uint8) {
	for i, bit := range channelBits {
		s := &e.states[i/2][i%2]
		switch {
		case v&bit != 0 && *s == StatePrimed:
			*s = StateRfEnabled
		case v&bit == 0 && *s == StateRfEnabled:
			*s = StatePrimed
		}
	}
}

func (e *Emulator) set(ext [regs.ExtCmdBytes]uint8) uint8 {
	obj := regs.ObjectID(ext[1])
	if obj == regs.ObjIDGsConfig {
		sub := regs.ObjectID(ext[2])
		length := binary.LittleEndian.Uint32(e.readMem(regs.MailboxSet, 4))
		if length == 0 || length > mailboxWindowSize-4 {
			e.mailboxErr = 0xA000 | uint16(sub)
			return FlagCommandError
		}
		body := e.readMem(regs.MailboxSet+4, int(length))
		key := objectKey{obj: sub, mask: ext[0]}
		if selectorObjects[sub] {
			key.sel = body[0]
		}
		e.objects[key] = body
		return 0
	}

	body := e.readMem(regs.MailboxSet, mailboxWindowSize)
	key := objectKey{obj: obj, mask: ext[0]}
	if obj == regs.ObjIDGsPllLoopFilter {
		key.sel = ext[2]
		// the loop always settles on the requested bandwidth
		body[4], body[5] = body[1], body[2]
	}
	e.objects[key] = body
	return 0
}

func (e *Emulator) get(ext [regs.ExtCmdBytes]uint8) uint8 {
	obj := regs.ObjectID(ext[1])
	var out []byte
	switch obj {
	case regs.ObjIDGsConfig:
		sub := regs.ObjectID(ext[2])
		offset := int(ext[3]) | int(ext[4])<<8
		length := int(binary.LittleEndian.Uint32(e.readMem(regs.MailboxGet, 4)))
		key := objectKey{obj: sub, mask: ext[0]}
		if selectorObjects[sub] {
			key.sel = e.memByte(regs.MailboxGet + 4)
		}
		out = make([]byte, length)
		if body, ok := e.objects[key]; ok && offset < len(body) {
			copy(out, body[offset:])
		}
	case regs.ObjIDGoIlbElbPathDelayDiff:
		out = binary.LittleEndian.AppendUint16(nil, e.pathDelayDiff[ext[0]])
	case regs.ObjIDGoRxPathDelayRead, regs.ObjIDGoTxPathDelayRead:
		out = make([]byte, 0, 24)
		delays := e.internalDelays[ext[0]]
		for i := range 6 {
			var v uint32
			if i < len(delays) {
				v = delays[i]
			}
			out = binary.LittleEndian.AppendUint32(out, v)
		}
	default:
		key := objectKey{obj: obj, mask: ext[0]}
		if obj == regs.ObjIDGsPllLoopFilter {
			key.sel = ext[2]
		}
		out = e.objects[key]
		if out == nil {
			out = make([]byte, mailboxWindowSize)
		}
	}
	e.writeMem(regs.MailboxGet, out)
	return 0
}

func (e *Emulator) highPriority(ext [regs.ExtCmdBytes]uint8) uint8 {
	switch ext[1] {
	case regs.HighPrioritySetPowerSavingConfig:
		e.objects[objectKey{obj: regs.ObjIDGoPowerSavingConfig, mask: ext[0]}] = []byte{ext[2], ext[3]}
		return 0
	case regs.HighPrioritySetMonitorModeConfig:
		window := e.readMem(regs.MailboxHighPrioritySet, 16)
		cfg := make([]byte, 0, 17)
		cfg = append(cfg, ext[2])
		cfg = append(cfg, window[0:12]...)
		cfg = append(cfg, ext[3], ext[4], window[12], window[13])
		e.objects[objectKey{obj: regs.ObjIDGoMonitorModeConfig}] = cfg
		return 0
	}
	return FlagUnsupported
}
