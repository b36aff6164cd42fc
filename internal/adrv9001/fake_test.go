package adrv9001

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
	"github.com/linht/adrv-manager/internal/transport"
)

var errFakeBus = errors.New("fake bus failure")

// fakeTransport is a flat register file. It records every register write
// and counts reads per address.
type fakeTransport struct {
	regs      map[uint16]uint8
	writes    []regWrite
	reads     map[uint16]int
	transfers int
	err       error

	// onRead may override the value returned for a read
	onRead func(addr uint16) (uint8, bool)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		regs:  make(map[uint16]uint8),
		reads: make(map[uint16]int),
	}
}

func (f *fakeTransport) Transfer(tx, rx []byte) error {
	if f.err != nil {
		return f.err
	}
	f.transfers++
	for i := 0; i+transport.FrameSize <= len(tx); i += transport.FrameSize {
		addr, read, v, _ := transport.DecodeFrame(tx[i : i+transport.FrameSize])
		if read {
			f.reads[addr]++
			if f.onRead != nil {
				if v, ok := f.onRead(addr); ok {
					rx[i+2] = v
					continue
				}
			}
			rx[i+2] = f.regs[addr]
			continue
		}
		f.writes = append(f.writes, regWrite{addr, v})
		f.regs[addr] = v
	}
	return nil
}

func (f *fakeTransport) Close() error { return nil }

// wrote reports whether any write to addr was recorded.
func (f *fakeTransport) wrote(addr uint16) bool {
	for _, w := range f.writes {
		if w.addr == addr {
			return true
		}
	}
	return false
}

// setChannelStates packs [rx, tx][channel] into ARM_CMD_STATUS_9.
func (f *fakeTransport) setChannelStates(s [2][2]ChannelState) {
	f.regs[regs.AddrArmCmdStatus9] = uint8(s[0][0]) | uint8(s[0][1])<<2 | uint8(s[1][0])<<4 | uint8(s[1][1])<<6
}

// fakeClock advances only when slept on.
type fakeClock struct {
	now    time.Time
	sleeps int
	slept  time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps++
	c.slept += d
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDevice(tr transport.Transport, clk Clock) *Device {
	return New(tr, Options{Clock: clk, Logger: discardLogger()})
}
