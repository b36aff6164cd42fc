package adrv9001

import (
	"encoding/binary"
	"fmt"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
	"github.com/linht/adrv-manager/internal/transport"
)

// SpiWriteMode selects how ARM memory writes are put on the wire.
type SpiWriteMode int

const (
	// WriteModeStandardBytes4 sends every DMA register write as its own
	// 3-byte transaction.
	WriteModeStandardBytes4 SpiWriteMode = iota
	// WriteModeStandardBytes252 packs up to 83 register writes per transfer.
	WriteModeStandardBytes252
	// WriteModeStreamingBytes4 streams each 32-bit word in one transaction.
	WriteModeStreamingBytes4
)

func (m SpiWriteMode) String() string {
	switch m {
	case WriteModeStandardBytes4:
		return "STANDARD_BYTES_4"
	case WriteModeStandardBytes252:
		return "STANDARD_BYTES_252"
	case WriteModeStreamingBytes4:
		return "STREAMING_BYTES_4"
	default:
		return fmt.Sprintf("SpiWriteMode(%d)", int(m))
	}
}

func inRange(addr, start, end uint32) bool {
	return addr >= start && addr <= end
}

// validateMemoryAccess checks that [address, address+length) lies inside
// ARM program or data memory and that mode fits the access.
func validateMemoryAccess(op string, address uint32, length int, mode SpiWriteMode) error {
	if length <= 0 {
		return paramError(op, "byte count must be greater than zero")
	}
	last := uint64(address) + uint64(length) - 1
	if last > 0xFFFFFFFF {
		return paramError(op, "access at 0x%08X of %d bytes wraps the address space", address, length)
	}
	end := uint32(last)

	prog := inRange(address, regs.ArmProgStart, regs.ArmProgEnd) && inRange(end, regs.ArmProgStart, regs.ArmProgEnd)
	data := inRange(address, regs.ArmDataStart, regs.ArmDataEnd) && inRange(end, regs.ArmDataStart, regs.ArmDataEnd)
	if !prog && !data {
		return paramError(op, "address range 0x%08X-0x%08X is outside ARM program and data memory", address, end)
	}

	switch mode {
	case WriteModeStandardBytes4:
	case WriteModeStandardBytes252, WriteModeStreamingBytes4:
		if address&0x3 != 0 || length&0x3 != 0 {
			return paramError(op, "%s requires a word aligned address and byte count (address 0x%08X, %d bytes)", mode, address, length)
		}
	default:
		return paramError(op, "invalid SPI write mode %d", int(mode))
	}
	return nil
}

func isProgramAddress(address uint32) bool {
	return inRange(address, regs.ArmProgStart, regs.ArmProgEnd)
}

func dmaCtl(address uint32, read bool, busSize uint8, autoIncrement bool) uint8 {
	var v uint8
	if read {
		v |= regs.DmaCtlRdWrb
	}
	if !isProgramAddress(address) {
		v |= regs.DmaCtlSysCodeb
	}
	v |= (busSize << regs.DmaCtlBusSizeShift) & regs.DmaCtlBusSizeMask
	if autoIncrement {
		v |= regs.DmaCtlAutoIncr
	}
	return v
}

// dmaAddressFrames appends the frames that load address into the DMA
// engine. Byte accesses also load the byte select before ADDR0.
func dmaAddressFrames(buf []byte, address uint32, byteWise bool) []byte {
	buf = transport.AppendWriteFrame(buf, regs.AddrArmDmaAddr3, uint8(address>>regs.DmaAddr3Shift))
	buf = transport.AppendWriteFrame(buf, regs.AddrArmDmaAddr2, uint8(address>>regs.DmaAddr2Shift))
	buf = transport.AppendWriteFrame(buf, regs.AddrArmDmaAddr1, uint8(address>>regs.DmaAddr1Shift))
	if byteWise {
		buf = transport.AppendWriteFrame(buf, regs.AddrArmDmaByteSel, uint8(address&regs.DmaByteSelMask))
	}
	return transport.AppendWriteFrame(buf, regs.AddrArmDmaAddr0, uint8(address>>regs.DmaAddr0Shift))
}

// exchange sends a block of pre-built frames in one transfer and returns
// the response bytes.
func (d *Device) exchange(op string, tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))
	if err := d.transfer(tx, rx); err != nil {
		return nil, transportError(op, err)
	}
	return rx, nil
}

// MemoryRead reads len(buf) bytes of ARM memory starting at address. Like
// all DMA accesses it holds the mailbox lease.
func (d *Device) MemoryRead(address uint32, buf []byte, autoIncrement bool) error {
	release, err := d.lease("memory read")
	if err != nil {
		return d.record(err)
	}
	defer release()
	return d.record(d.memRead(address, buf, autoIncrement))
}

func (d *Device) memRead(address uint32, buf []byte, autoIncrement bool) error {
	const op = "memory read"
	if err := validateMemoryAccess(op, address, len(buf), WriteModeStandardBytes4); err != nil {
		return err
	}
	d.log.Debug("arm memory read", "address", fmt.Sprintf("0x%08X", address), "bytes", len(buf))

	if address&0x3 != 0 || len(buf)&0x3 != 0 {
		return d.memReadBytes(address, buf, autoIncrement)
	}

	tx := transport.AppendWriteFrame(nil, regs.AddrArmDmaCtl, dmaCtl(address, true, regs.DmaBusSizeWord, autoIncrement))
	tx = dmaAddressFrames(tx, address, false)
	if _, err := d.exchange(op, tx); err != nil {
		return err
	}

	dataRegs := [4]uint16{regs.AddrArmDmaData3, regs.AddrArmDmaData2, regs.AddrArmDmaData1, regs.AddrArmDmaData0}
	for i := 0; i < len(buf); i += 4 {
		tx = tx[:0]
		for _, r := range dataRegs {
			tx = transport.AppendReadFrame(tx, r)
		}
		rx, err := d.exchange(op, tx)
		if err != nil {
			return err
		}
		buf[i+3] = rx[2]
		buf[i+2] = rx[5]
		buf[i+1] = rx[8]
		buf[i] = rx[11]

		if !autoIncrement {
			address += 4
			if _, err := d.exchange(op, dmaAddressFrames(nil, address, false)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Device) memReadBytes(address uint32, buf []byte, autoIncrement bool) error {
	const op = "memory read"
	tx := transport.AppendWriteFrame(nil, regs.AddrArmDmaCtl, dmaCtl(address, true, regs.DmaBusSizeByte, autoIncrement))
	tx = dmaAddressFrames(tx, address, true)
	if _, err := d.exchange(op, tx); err != nil {
		return err
	}

	for i := range buf {
		v, err := d.spiRead(regs.AddrArmDmaData0)
		if err != nil {
			return err
		}
		buf[i] = v

		if !autoIncrement {
			address++
			if _, err := d.exchange(op, dmaAddressFrames(nil, address, true)); err != nil {
				return err
			}
		}
	}
	return nil
}

// MemoryWrite writes data to ARM memory starting at address.
func (d *Device) MemoryWrite(address uint32, data []byte, mode SpiWriteMode) error {
	release, err := d.lease("memory write")
	if err != nil {
		return d.record(err)
	}
	defer release()
	return d.record(d.memWrite(address, data, mode))
}

func (d *Device) memWrite(address uint32, data []byte, mode SpiWriteMode) error {
	const op = "memory write"
	if err := validateMemoryAccess(op, address, len(data), mode); err != nil {
		return err
	}
	d.log.Debug("arm memory write", "address", fmt.Sprintf("0x%08X", address), "bytes", len(data), "mode", mode.String())

	if address&0x3 != 0 || len(data)&0x3 != 0 {
		return d.memWriteBytes(address, data)
	}

	ctl := dmaCtl(address, false, regs.DmaBusSizeWord, true)
	if mode == WriteModeStreamingBytes4 {
		return d.memWriteStreaming(op, address, data, ctl)
	}
	if err := d.spiWrite(regs.AddrArmDmaCtl, ctl); err != nil {
		return err
	}

	addrFrames := dmaAddressFrames(nil, address, false)
	for i := 0; i < len(addrFrames); i += transport.FrameSize {
		if _, err := d.exchange(op, addrFrames[i:i+transport.FrameSize]); err != nil {
			return err
		}
	}

	if mode == WriteModeStandardBytes252 {
		if err := d.spiWriteBatch(dmaDataWrites(data)); err != nil {
			return err
		}
	} else {
		for _, w := range dmaDataWrites(data) {
			if err := d.spiWrite(w.addr, w.value); err != nil {
				return err
			}
		}
	}

	// leave the engine in read mode so a stray data write cannot land in memory
	return d.spiWrite(regs.AddrArmDmaCtl, ctl|regs.DmaCtlRdWrb)
}

// memWriteStreaming writes whole words with the SPI interface in streaming
// mode. The bus is held throughout: a single instruction frame sent by
// another caller while streaming is on would be misread.
func (d *Device) memWriteStreaming(op string, address uint32, data []byte, ctl uint8) error {
	d.bus.Lock()
	defer d.bus.Unlock()

	if err := d.spiWriteLocked(regs.AddrArmDmaCtl, ctl); err != nil {
		return err
	}
	restore, err := d.enterStreamingLocked()
	if err != nil {
		return err
	}

	// one frame per transfer: a batch would be misread once streaming is on
	addrFrames := dmaAddressFrames(nil, address, false)
	for i := 0; i < len(addrFrames) && err == nil; i += transport.FrameSize {
		frame := addrFrames[i : i+transport.FrameSize]
		if terr := d.tr.Transfer(frame, make([]byte, len(frame))); terr != nil {
			err = transportError(op, terr)
		}
	}
	for i := 0; i < len(data) && err == nil; i += 4 {
		err = d.spiStreamWriteLocked(regs.AddrArmDmaData3, []byte{data[i+3], data[i+2], data[i+1], data[i]})
	}

	if rerr := restore(); err == nil {
		err = rerr
	}
	if err != nil {
		return err
	}
	return d.spiWriteLocked(regs.AddrArmDmaCtl, ctl|regs.DmaCtlRdWrb)
}

// dmaDataWrites lays out words as DATA3, DATA2, DATA1, DATA0 writes.
func dmaDataWrites(data []byte) []regWrite {
	writes := make([]regWrite, 0, len(data))
	for i := 0; i < len(data); i += 4 {
		writes = append(writes,
			regWrite{regs.AddrArmDmaData3, data[i+3]},
			regWrite{regs.AddrArmDmaData2, data[i+2]},
			regWrite{regs.AddrArmDmaData1, data[i+1]},
			regWrite{regs.AddrArmDmaData0, data[i]},
		)
	}
	return writes
}

// enterStreamingLocked switches the SPI interface to descending multi-byte
// transactions and returns a func restoring the previous configuration. The
// caller holds the bus until the restore has run.
func (d *Device) enterStreamingLocked() (func() error, error) {
	cfgA, err := d.spiReadLocked(regs.AddrSpiInterfaceConfigA)
	if err != nil {
		return nil, err
	}
	cfgB, err := d.spiReadLocked(regs.AddrSpiInterfaceConfigB)
	if err != nil {
		return nil, err
	}
	if err := d.spiWriteLocked(regs.AddrSpiInterfaceConfigA, regs.ConfigAStreamDefault); err != nil {
		return nil, err
	}
	if err := d.spiWriteLocked(regs.AddrSpiInterfaceConfigB, cfgB&^regs.ConfigBSingleInstruction); err != nil {
		return nil, err
	}

	return func() error {
		if err := d.spiWriteLocked(regs.AddrSpiInterfaceConfigB, cfgB); err != nil {
			return err
		}
		return d.spiWriteLocked(regs.AddrSpiInterfaceConfigA, cfgA&^regs.ConfigASoftReset)
	}, nil
}

func (d *Device) memWriteBytes(address uint32, data []byte) error {
	const op = "memory write"
	ctl := dmaCtl(address, false, regs.DmaBusSizeByte, true)
	tx := transport.AppendWriteFrame(nil, regs.AddrArmDmaCtl, ctl)
	tx = dmaAddressFrames(tx, address, true)
	if _, err := d.exchange(op, tx); err != nil {
		return err
	}

	for _, b := range data {
		if err := d.spiWrite(regs.AddrArmDmaData0, b); err != nil {
			return err
		}
	}
	return d.spiWrite(regs.AddrArmDmaCtl, ctl|regs.DmaCtlRdWrb)
}

// MemoryRead32 reads len(words) little-endian words starting at address.
func (d *Device) MemoryRead32(address uint32, words []uint32, autoIncrement bool) error {
	release, err := d.lease("memory read32")
	if err != nil {
		return d.record(err)
	}
	defer release()
	return d.record(d.memRead32(address, words, autoIncrement))
}

func (d *Device) memRead32(address uint32, words []uint32, autoIncrement bool) error {
	if address&0x3 != 0 {
		return paramError("memory read32", "address 0x%08X is not word aligned", address)
	}
	buf := make([]byte, 4*len(words))
	if err := d.memRead(address, buf, autoIncrement); err != nil {
		return err
	}
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return nil
}

// MemoryWrite32 writes words little-endian starting at address.
func (d *Device) MemoryWrite32(address uint32, words []uint32, mode SpiWriteMode) error {
	if address&0x3 != 0 {
		return d.record(paramError("memory write32", "address 0x%08X is not word aligned", address))
	}
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	release, err := d.lease("memory write32")
	if err != nil {
		return d.record(err)
	}
	defer release()
	return d.record(d.memWrite(address, buf, mode))
}
