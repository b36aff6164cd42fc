package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Bridge framing. The host sends bridgeRequest, a big-endian length and the
// SPI bytes to clock out; the bridge answers bridgeResponse, the same length
// and the bytes clocked in.
const (
	bridgeRequest  = 0xA5
	bridgeResponse = 0x5A

	// MaxBridgeTransfer is the largest SPI transfer carried in one frame.
	MaxBridgeTransfer = 4096

	defaultBridgeTimeout = 500 * time.Millisecond
)

var ErrBridgeTimeout = errors.New("serial bridge response timed out")

// SerialBridge is a Transport for boards that expose the transceiver SPI
// through a UART bridge MCU.
type SerialBridge struct {
	port    io.ReadWriteCloser
	name    string
	timeout time.Duration

	// mu keeps each request paired with its response
	mu sync.Mutex
}

// OpenSerialBridge opens the bridge on portName at baud.
func OpenSerialBridge(portName string, baud int) (*SerialBridge, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial bridge %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(defaultBridgeTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}

	return &SerialBridge{port: port, name: portName, timeout: defaultBridgeTimeout}, nil
}

// NewSerialBridge runs the bridge protocol over an already open stream.
// Reads on rw must return (0, nil) or an error once timeout has elapsed.
func NewSerialBridge(rw io.ReadWriteCloser, name string) *SerialBridge {
	return &SerialBridge{port: rw, name: name, timeout: defaultBridgeTimeout}
}

// Close closes the underlying port
func (b *SerialBridge) Close() error {
	return b.port.Close()
}

// Transfer sends tx through the bridge and fills rx with the reply.
func (b *SerialBridge) Transfer(tx []byte, rx []byte) error {
	if len(tx) != len(rx) {
		return ErrBufferMismatch
	}
	if len(tx) > MaxBridgeTransfer {
		return fmt.Errorf("transfer of %d bytes exceeds bridge limit %d", len(tx), MaxBridgeTransfer)
	}

	req := make([]byte, 0, len(tx)+3)
	req = append(req, bridgeRequest, uint8(len(tx)>>8), uint8(len(tx)))
	req = append(req, tx...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.port.Write(req); err != nil {
		return fmt.Errorf("failed to write bridge request on %s: %w", b.name, err)
	}

	hdr := make([]byte, 3)
	if err := b.readFull(hdr); err != nil {
		return err
	}
	if hdr[0] != bridgeResponse {
		return fmt.Errorf("unexpected bridge response marker 0x%02X", hdr[0])
	}
	if n := int(hdr[1])<<8 | int(hdr[2]); n != len(rx) {
		return fmt.Errorf("bridge returned %d bytes, expected %d", n, len(rx))
	}
	return b.readFull(rx)
}

func (b *SerialBridge) readFull(buf []byte) error {
	deadline := time.Now().Add(b.timeout)
	for off := 0; off < len(buf); {
		n, err := b.port.Read(buf[off:])
		if err != nil {
			return fmt.Errorf("failed to read bridge response on %s: %w", b.name, err)
		}
		off += n
		if n == 0 && time.Now().After(deadline) {
			return ErrBridgeTimeout
		}
	}
	return nil
}

func (b *SerialBridge) String() string {
	return fmt.Sprintf("serial bridge %s", b.name)
}
