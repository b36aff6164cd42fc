package transport

import (
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/creack/pty"
)

// bridgeFirmware answers every request on the master side of a pty with the
// bitwise complement of the bytes it received.
func bridgeFirmware(t *testing.T, master io.ReadWriter, requests int) <-chan error {
	done := make(chan error, 1)
	go func() {
		for i := 0; i < requests; i++ {
			hdr := make([]byte, 3)
			if _, err := io.ReadFull(master, hdr); err != nil {
				done <- err
				return
			}
			n := int(hdr[1])<<8 | int(hdr[2])
			payload := make([]byte, n)
			if _, err := io.ReadFull(master, payload); err != nil {
				done <- err
				return
			}
			resp := []byte{bridgeResponse, hdr[1], hdr[2]}
			for _, b := range payload {
				resp = append(resp, ^b)
			}
			if _, err := master.Write(resp); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	return done
}

func TestSerialBridgeOverPty(t *testing.T) {
	master, slave, err := pty.Open()
	if err != nil {
		t.Skipf("pty not available: %v", err)
	}
	defer master.Close()
	defer slave.Close()

	bridge, err := OpenSerialBridge(slave.Name(), 115200)
	if err != nil {
		t.Skipf("serial open on pty failed: %v", err)
	}
	defer bridge.Close()

	done := bridgeFirmware(t, master, 2)

	tx := []byte{0x80, 0x03, 0x00}
	rx := make([]byte, len(tx))
	if err := bridge.Transfer(tx, rx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range tx {
		if rx[i] != ^tx[i] {
			t.Fatalf("rx[%d] = 0x%02X, want 0x%02X", i, rx[i], ^tx[i])
		}
	}

	reg := NewRegisterBus(bridge)
	v, err := reg.ReadRegister(0x0004)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0xFF {
		t.Fatalf("register value = 0x%02X, want 0xFF", v)
	}

	if err := <-done; err != nil {
		t.Fatalf("bridge firmware: %v", err)
	}
}

func TestSerialBridgeRejectsOversizedTransfer(t *testing.T) {
	master, slave, err := pty.Open()
	if err != nil {
		t.Skipf("pty not available: %v", err)
	}
	defer master.Close()
	defer slave.Close()

	bridge := NewSerialBridge(slave, slave.Name())
	buf := make([]byte, MaxBridgeTransfer+1)
	if err := bridge.Transfer(buf, buf); err == nil {
		t.Fatalf("expected error for oversized transfer")
	}
	if err := bridge.Transfer(buf[:2], buf[:3]); err != ErrBufferMismatch {
		t.Fatalf("expected ErrBufferMismatch, got %v", err)
	}
}

func TestSerialBridgeConcurrentTransfers(t *testing.T) {
	host, mcu := net.Pipe()
	defer mcu.Close()

	const workers, perWorker = 4, 100
	done := bridgeFirmware(t, mcu, workers*perWorker)

	bridge := NewSerialBridge(host, "pipe")
	defer bridge.Close()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tx := []byte{uint8(w), uint8(i), uint8(w ^ i)}
				rx := make([]byte, len(tx))
				if err := bridge.Transfer(tx, rx); err != nil {
					errs <- err
					return
				}
				for j := range tx {
					if rx[j] != ^tx[j] {
						errs <- fmt.Errorf("worker %d transfer %d: rx % X answers another request", w, i, rx)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if t.Failed() {
		return
	}

	if err := <-done; err != nil {
		t.Fatalf("bridge firmware: %v", err)
	}
}
