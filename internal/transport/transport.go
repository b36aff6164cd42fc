// Package transport provides the byte-exchange primitives used to talk to
// the transceiver: a periph.io SPI port, a UART-to-SPI bridge and the simple
// 3-byte register frame shared by the ADI parts.
package transport

import (
	"errors"
	"fmt"
)

// Transport exchanges equally sized byte buffers with a device.
// rx[i] is the byte clocked in while tx[i] was clocked out.
type Transport interface {
	Transfer(tx []byte, rx []byte) error
	Close() error
}

// FrameSize is the size of a single-register SPI transaction.
const FrameSize = 3

const frameReadFlag = 0x80

var ErrBufferMismatch = errors.New("tx and rx buffers must be the same length")

// AppendWriteFrame appends the 3-byte write transaction for addr.
func AppendWriteFrame(buf []byte, addr uint16, value uint8) []byte {
	return append(buf, uint8(addr>>8)&^frameReadFlag, uint8(addr), value)
}

// AppendReadFrame appends the 3-byte read transaction for addr.
// The register value is returned in the third byte of the response.
func AppendReadFrame(buf []byte, addr uint16) []byte {
	return append(buf, frameReadFlag|uint8(addr>>8), uint8(addr), 0x00)
}

// DecodeFrame splits a 3-byte transaction back into its fields.
func DecodeFrame(frame []byte) (addr uint16, read bool, data uint8, err error) {
	if len(frame) < FrameSize {
		return 0, false, 0, fmt.Errorf("short frame: %d bytes", len(frame))
	}
	read = frame[0]&frameReadFlag != 0
	addr = uint16(frame[0]&^frameReadFlag)<<8 | uint16(frame[1])
	return addr, read, frame[2], nil
}

// RegisterBus performs single-register accesses over a Transport.
type RegisterBus struct {
	t Transport
}

// NewRegisterBus wraps t.
func NewRegisterBus(t Transport) *RegisterBus {
	return &RegisterBus{t: t}
}

// WriteRegister writes one register
func (b *RegisterBus) WriteRegister(addr uint16, value uint8) error {
	tx := AppendWriteFrame(make([]byte, 0, FrameSize), addr, value)
	rx := make([]byte, FrameSize)
	if err := b.t.Transfer(tx, rx); err != nil {
		return fmt.Errorf("failed to write register 0x%04X: %w", addr, err)
	}
	return nil
}

// ReadRegister reads one register
func (b *RegisterBus) ReadRegister(addr uint16) (uint8, error) {
	tx := AppendReadFrame(make([]byte, 0, FrameSize), addr)
	rx := make([]byte, FrameSize)
	if err := b.t.Transfer(tx, rx); err != nil {
		return 0, fmt.Errorf("failed to read register 0x%04X: %w", addr, err)
	}
	return rx[2], nil
}

// UpdateRegister performs a read-modify-write of the bits selected by mask.
func (b *RegisterBus) UpdateRegister(addr uint16, mask uint8, value uint8) error {
	current, err := b.ReadRegister(addr)
	if err != nil {
		return err
	}
	return b.WriteRegister(addr, (current&^mask)|(value&mask))
}
