// Package emulator models an ADRV9001 at the SPI register level: the DMA
// bridge into ARM memory, the mailbox with its status nibbles, and the
// channel state machine the firmware runs. It implements
// transport.Transport so the driver can be exercised without hardware.
package emulator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
	"github.com/linht/adrv-manager/internal/transport"
)

// Channel states as reported in ARM_CMD_STATUS_9
const (
	StateStandby    uint8 = 0
	StateCalibrated uint8 = 1
	StatePrimed     uint8 = 2
	StateRfEnabled  uint8 = 3
)

// Product identification returned by the chip ID registers
const (
	ChipType  = 0x0F
	ProductID = 0x9001
)

const (
	progSize = regs.ArmProgEnd - regs.ArmProgStart + 1
	dataSize = regs.ArmDataEnd - regs.ArmDataStart + 1

	mailboxWindowSize = 0x100
	systemStateReady  = 0x02
	busyForever       = -1
)

// ErrClosed is returned by Transfer after Close.
var ErrClosed = errors.New("emulator: closed")

// Options configures an Emulator.
type Options struct {
	InitializedChannels uint8 // mailbox channel mask of channels in the profile
	Logger              *slog.Logger
}

// Command is one mailbox command the emulated firmware accepted.
type Command struct {
	Opcode uint8
	Ext    [regs.ExtCmdBytes]uint8
}

type objectKey struct {
	obj  regs.ObjectID
	mask uint8
	sel  uint8
}

type injection struct {
	flag uint8
	code uint16
}

type dmaState struct {
	ctl     uint8
	addr    [4]uint8
	byteSel uint8
	address uint32
}

// Emulator is a register-level ADRV9001 model. It is safe for concurrent
// use; every Transfer is atomic.
type Emulator struct {
	mu  sync.Mutex
	log *slog.Logger

	regs   map[uint16]uint8
	prog   []byte
	data   []byte
	dma    dmaState
	closed bool

	initialized uint8
	states      [2][2]uint8 // [rx, tx][channel]
	poweredDown uint8

	status     [regs.CmdStatusSlotBytes]uint8
	pending    map[uint8]int
	injected   map[uint8]injection
	busyPolls  int
	mailboxErr uint16
	sysErr     [2]uint8

	objects        map[objectKey][]byte
	pathDelayDiff  map[uint8]uint16
	internalDelays map[uint8][]uint32
	commands       []Command
	transferCount  int
}

// New returns an emulator in the state the firmware reaches after boot:
// every channel in STANDBY and the mailbox idle.
func New(opts Options) *Emulator {
	e := &Emulator{
		log:            opts.Logger,
		regs:           make(map[uint16]uint8),
		prog:           make([]byte, progSize),
		data:           make([]byte, dataSize),
		initialized:    opts.InitializedChannels,
		pending:        make(map[uint8]int),
		injected:       make(map[uint8]injection),
		objects:        make(map[objectKey][]byte),
		pathDelayDiff:  make(map[uint8]uint16),
		internalDelays: make(map[uint8][]uint32),
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.regs[regs.AddrSpiInterfaceConfigB] = regs.ConfigBSingleInstruction
	e.regs[regs.AddrChipType] = ChipType
	e.regs[regs.AddrProductIDLow] = uint8(ProductID & 0xFF)
	e.regs[regs.AddrProductIDHigh] = uint8(ProductID >> 8)
	e.setArmVersion(0, 8, 10, 1, 0)
	return e
}

// Transfer implements transport.Transport. In single instruction mode tx
// must be a whole number of 3-byte frames; otherwise it is one streaming
// transaction: a 2-byte header followed by data for consecutive registers.
func (e *Emulator) Transfer(tx []byte, rx []byte) error {
	if len(tx) != len(rx) {
		return transport.ErrBufferMismatch
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.transferCount++

	if e.regs[regs.AddrSpiInterfaceConfigB]&regs.ConfigBSingleInstruction != 0 {
		if len(tx)%transport.FrameSize != 0 {
			return fmt.Errorf("emulator: transfer of %d bytes is not a whole number of frames", len(tx))
		}
		for i := 0; i < len(tx); i += transport.FrameSize {
			addr, read, value, _ := transport.DecodeFrame(tx[i : i+transport.FrameSize])
			rx[i], rx[i+1] = 0, 0
			if read {
				rx[i+2] = e.readReg(addr)
			} else {
				rx[i+2] = 0
				e.writeReg(addr, value)
			}
		}
		return nil
	}

	if len(tx) < 2 {
		return fmt.Errorf("emulator: streaming transfer of %d bytes has no header", len(tx))
	}
	read := tx[0]&0x80 != 0
	addr := uint16(tx[0]&0x7F)<<8 | uint16(tx[1])
	ascending := e.regs[regs.AddrSpiInterfaceConfigA]&regs.ConfigAAscensionBit != 0
	rx[0], rx[1] = 0, 0
	for i := 2; i < len(tx); i++ {
		if read {
			rx[i] = e.readReg(addr)
		} else {
			rx[i] = 0
			e.writeReg(addr, tx[i])
		}
		if ascending {
			addr++
		} else {
			addr--
		}
	}
	return nil
}

// Close implements transport.Transport.
func (e *Emulator) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *Emulator) readReg(addr uint16) uint8 {
	switch addr {
	case regs.AddrArmCommand:
		v := e.regs[addr] &^ regs.ArmCommandBusy
		if e.busyPolls != 0 {
			v |= regs.ArmCommandBusy
			if e.busyPolls > 0 {
				e.busyPolls--
			}
		}
		return v
	case regs.AddrArmDmaData3, regs.AddrArmDmaData2, regs.AddrArmDmaData1:
		if e.dma.ctl&regs.DmaCtlRdWrb == 0 {
			return e.regs[addr]
		}
		return e.memByte(e.dma.address + uint32(addr-regs.AddrArmDmaData0))
	case regs.AddrArmDmaData0:
		if e.dma.ctl&regs.DmaCtlRdWrb == 0 {
			return e.regs[addr]
		}
		v := e.memByte(e.dma.address)
		if e.dma.ctl&regs.DmaCtlAutoIncr != 0 {
			e.dma.address += e.dmaStep()
		}
		return v
	case regs.AddrArmCmdStatus8:
		return systemStateReady
	case regs.AddrArmCmdStatus9:
		return e.states[0][0] | e.states[0][1]<<2 | e.states[1][0]<<4 | e.states[1][1]<<6
	case regs.AddrArmCmdStatus10:
		return uint8(e.mailboxErr)
	case regs.AddrArmCmdStatus11:
		return uint8(e.mailboxErr >> 8)
	case regs.AddrArmCmdStatus12:
		return e.sysErr[0]
	case regs.AddrArmCmdStatus13:
		return e.sysErr[1]
	}
	if addr >= regs.AddrArmCmdStatus0 && addr < regs.AddrArmCmdStatus0+regs.CmdStatusSlotBytes {
		return e.readStatus(addr - regs.AddrArmCmdStatus0)
	}
	return e.regs[addr]
}

// readStatus returns a status byte. Every read counts down the pending
// polls of the opcodes it holds.
func (e *Emulator) readStatus(slot uint16) uint8 {
	v := e.status[slot]
	for half := range uint16(2) {
		op := uint8(4*slot + 2*half)
		n, ok := e.pending[op]
		if !ok {
			continue
		}
		if n == busyForever {
			continue
		}
		if n <= 1 {
			delete(e.pending, op)
			e.status[slot] &^= 0x01 << (4 * half)
		} else {
			e.pending[op] = n - 1
		}
	}
	return v
}

func (e *Emulator) writeReg(addr uint16, v uint8) {
	e.regs[addr] = v
	switch addr {
	case regs.AddrArmDmaCtl:
		e.dma.ctl = v
	case regs.AddrArmDmaAddr3:
		e.dma.addr[3] = v
	case regs.AddrArmDmaAddr2:
		e.dma.addr[2] = v
	case regs.AddrArmDmaAddr1:
		e.dma.addr[1] = v
	case regs.AddrArmDmaByteSel:
		e.dma.byteSel = v & regs.DmaByteSelMask
	case regs.AddrArmDmaAddr0:
		e.dma.addr[0] = v
		e.dma.address = uint32(e.dma.addr[3])<<regs.DmaAddr3Shift |
			uint32(e.dma.addr[2])<<regs.DmaAddr2Shift |
			uint32(e.dma.addr[1])<<regs.DmaAddr1Shift |
			uint32(e.dma.addr[0])<<regs.DmaAddr0Shift
		if e.busSize() == regs.DmaBusSizeByte {
			e.dma.address |= uint32(e.dma.byteSel)
		}
	case regs.AddrArmDmaData0:
		if e.dma.ctl&regs.DmaCtlRdWrb != 0 {
			return
		}
		if e.busSize() == regs.DmaBusSizeByte {
			e.setMemByte(e.dma.address, v)
		} else {
			e.setMemByte(e.dma.address, v)
			e.setMemByte(e.dma.address+1, e.regs[regs.AddrArmDmaData1])
			e.setMemByte(e.dma.address+2, e.regs[regs.AddrArmDmaData2])
			e.setMemByte(e.dma.address+3, e.regs[regs.AddrArmDmaData3])
		}
		if e.dma.ctl&regs.DmaCtlAutoIncr != 0 {
			e.dma.address += e.dmaStep()
		}
	case regs.AddrArmCommand:
		e.execute(v)
	case regs.AddrBbicEnables:
		e.applyBbicEnables(v)
	}
}

func (e *Emulator) busSize() uint8 {
	return (e.dma.ctl & regs.DmaCtlBusSizeMask) >> regs.DmaCtlBusSizeShift
}

func (e *Emulator) dmaStep() uint32 {
	if e.busSize() == regs.DmaBusSizeByte {
		return 1
	}
	return 4
}

func (e *Emulator) memSlice(address uint32) ([]byte, uint32, bool) {
	switch {
	case address >= regs.ArmProgStart && address <= regs.ArmProgEnd:
		return e.prog, address - regs.ArmProgStart, true
	case address >= regs.ArmDataStart && address <= regs.ArmDataEnd:
		return e.data, address - regs.ArmDataStart, true
	}
	return nil, 0, false
}

func (e *Emulator) memByte(address uint32) uint8 {
	mem, off, ok := e.memSlice(address)
	if !ok {
		return 0
	}
	return mem[off]
}

func (e *Emulator) setMemByte(address uint32, v uint8) {
	if mem, off, ok := e.memSlice(address); ok {
		mem[off] = v
	}
}

func (e *Emulator) readMem(address uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = e.memByte(address + uint32(i))
	}
	return out
}

func (e *Emulator) writeMem(address uint32, b []byte) {
	for i, v := range b {
		e.setMemByte(address+uint32(i), v)
	}
}

// Memory returns a copy of n bytes of ARM memory at address.
func (e *Emulator) Memory(address uint32, n int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readMem(address, n)
}

// SetMemory writes b to ARM memory at address.
func (e *Emulator) SetMemory(address uint32, b []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeMem(address, b)
}

// Register returns the raw value last written to a register.
func (e *Emulator) Register(addr uint16) uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regs[addr]
}

// TransferCount returns the number of transfers seen so far.
func (e *Emulator) TransferCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transferCount
}
