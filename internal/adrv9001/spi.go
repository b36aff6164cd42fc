package adrv9001

import (
	"github.com/linht/adrv-manager/internal/transport"
)

// MaxTransferSize is the largest single transfer the driver issues.
const MaxTransferSize = 252

// maxFramesPerTransfer is how many 3-byte register frames fit in one
// MaxTransferSize transfer, less one.
const maxFramesPerTransfer = MaxTransferSize/transport.FrameSize - 1

// SPIWriteByte writes one SPI register.
func (d *Device) SPIWriteByte(addr uint16, value uint8) error {
	return d.record(d.spiWrite(addr, value))
}

// SPIReadByte reads one SPI register.
func (d *Device) SPIReadByte(addr uint16) (uint8, error) {
	v, err := d.spiRead(addr)
	return v, d.record(err)
}

// transfer runs one transaction while holding the bus.
func (d *Device) transfer(tx, rx []byte) error {
	d.bus.Lock()
	defer d.bus.Unlock()
	return d.tr.Transfer(tx, rx)
}

func (d *Device) spiWrite(addr uint16, value uint8) error {
	d.bus.Lock()
	defer d.bus.Unlock()
	return d.spiWriteLocked(addr, value)
}

// spiWriteLocked is spiWrite for a caller already holding the bus.
func (d *Device) spiWriteLocked(addr uint16, value uint8) error {
	tx := transport.AppendWriteFrame(make([]byte, 0, transport.FrameSize), addr, value)
	rx := make([]byte, len(tx))
	if err := d.tr.Transfer(tx, rx); err != nil {
		return transportError("spi write", err)
	}
	return nil
}

func (d *Device) spiRead(addr uint16) (uint8, error) {
	d.bus.Lock()
	defer d.bus.Unlock()
	return d.spiReadLocked(addr)
}

func (d *Device) spiReadLocked(addr uint16) (uint8, error) {
	tx := transport.AppendReadFrame(make([]byte, 0, transport.FrameSize), addr)
	rx := make([]byte, len(tx))
	if err := d.tr.Transfer(tx, rx); err != nil {
		return 0, transportError("spi read", err)
	}
	return rx[2], nil
}

// spiFieldSet replaces the bits of mask in addr with value (already shifted).
// The bus is held from the read to the write.
func (d *Device) spiFieldSet(addr uint16, mask, value uint8) error {
	d.bus.Lock()
	defer d.bus.Unlock()
	current, err := d.spiReadLocked(addr)
	if err != nil {
		return err
	}
	return d.spiWriteLocked(addr, (current&^mask)|(value&mask))
}

// spiFieldGet returns the bits of addr selected by mask, unshifted.
func (d *Device) spiFieldGet(addr uint16, mask uint8) (uint8, error) {
	v, err := d.spiRead(addr)
	return v & mask, err
}

// regWrite is one entry of a batched register write.
type regWrite struct {
	addr  uint16
	value uint8
}

// spiWriteBatch sends writes as concatenated frames, at most
// maxFramesPerTransfer per transfer.
func (d *Device) spiWriteBatch(writes []regWrite) error {
	for len(writes) > 0 {
		n := min(len(writes), maxFramesPerTransfer)
		tx := make([]byte, 0, n*transport.FrameSize)
		for _, w := range writes[:n] {
			tx = transport.AppendWriteFrame(tx, w.addr, w.value)
		}
		rx := make([]byte, len(tx))
		if err := d.transfer(tx, rx); err != nil {
			return transportError("spi write batch", err)
		}
		writes = writes[n:]
	}
	return nil
}

// spiStreamWriteLocked sends one streaming transaction: a write header for
// addr followed by data. The device must already be in streaming mode and
// the caller must hold the bus.
func (d *Device) spiStreamWriteLocked(addr uint16, data []byte) error {
	tx := make([]byte, 0, 2+len(data))
	tx = append(tx, uint8(addr>>8)&0x7F, uint8(addr))
	tx = append(tx, data...)
	rx := make([]byte, len(tx))
	if err := d.tr.Transfer(tx, rx); err != nil {
		return transportError("spi stream write", err)
	}
	return nil
}
