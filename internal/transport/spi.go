package transport

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var hostInit struct {
	once sync.Once
	err  error
}

func initHost() error {
	hostInit.once.Do(func() {
		_, hostInit.err = host.Init()
	})
	return hostInit.err
}

// SPI is a Transport backed by a periph.io SPI port
type SPI struct {
	conn   spi.Conn
	port   spi.PortCloser
	device string
	speed  physic.Frequency
}

// OpenSPI opens device (e.g. "/dev/spidev0.0" or "SPI0.0") at speedHz.
// The ADRV9001 and AD9152 both use SPI mode 0 with 8-bit words.
func OpenSPI(device string, speedHz uint32) (*SPI, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}

	port, err := spireg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI device %s: %w", device, err)
	}

	speed := physic.Frequency(speedHz) * physic.Hertz
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect to SPI device: %w", err)
	}

	return &SPI{
		conn:   conn,
		port:   port,
		device: device,
		speed:  speed,
	}, nil
}

// Close closes the SPI port
func (s *SPI) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.conn = nil
	return err
}

// Transfer performs a full-duplex SPI transfer
func (s *SPI) Transfer(tx []byte, rx []byte) error {
	if len(tx) != len(rx) {
		return ErrBufferMismatch
	}
	if s.conn == nil {
		return fmt.Errorf("SPI device %s not open", s.device)
	}
	if err := s.conn.Tx(tx, rx); err != nil {
		return fmt.Errorf("SPI transfer failed: %w", err)
	}
	return nil
}

// MaxTxSize returns the largest transfer the port accepts in one call, or 0
// when the driver does not report a limit.
func (s *SPI) MaxTxSize() int {
	if s.conn == nil {
		return 0
	}
	if l, ok := s.conn.(interface{ MaxTxSize() int }); ok {
		return l.MaxTxSize()
	}
	return 0
}

func (s *SPI) String() string {
	if s.conn == nil {
		return fmt.Sprintf("%s (closed)", s.device)
	}
	return fmt.Sprintf("%s @ %s", s.device, s.speed)
}
