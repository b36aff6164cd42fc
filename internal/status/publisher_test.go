package status

import (
	"errors"
	"testing"

	"github.com/linht/adrv-manager/internal/adrv9001"
)

type writeCall struct {
	unitID uint8
	addr   uint16
	regs   []uint16
}

type fakeWriter struct {
	calls []writeCall
	fail  bool
}

func (f *fakeWriter) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	if f.fail {
		return errors.New("connection refused")
	}
	f.calls = append(f.calls, writeCall{unitID, addr, append([]uint16(nil), regs...)})
	return nil
}

type fakeSource struct {
	rs      adrv9001.RadioState
	rsErr   error
	state   adrv9001.DevState
	action  adrv9001.RecoveryAction
	lastErr error
}

func (f *fakeSource) RadioState() (adrv9001.RadioState, error) { return f.rs, f.rsErr }
func (f *fakeSource) DevState() adrv9001.DevState { return f.state }
func (f *fakeSource) LastError() (adrv9001.RecoveryAction, error) {
	return f.action, f.lastErr
}

func TestEncode(t *testing.T) {
	regs := Encode(Snapshot{
		Health:      HealthOK,
		LastAction:  adrv9001.ActionCheckState,
		DevState:    adrv9001.StateArmLoaded | adrv9001.StateInitCalsRun,
		Channels:    [4]adrv9001.ChannelState{adrv9001.ChannelCalibrated, 0, adrv9001.ChannelRfEnabled, 0},
		SystemState: 2,
		BootState:   1,
	})

	want := [BlockSize]uint16{1, 2, 0x18, 1, 0, 3, 0, 2, 1}
	if regs != want {
		t.Fatalf("Encode() = %v, want %v", regs, want)
	}
}

func TestTake(t *testing.T) {
	src := &fakeSource{state: adrv9001.StateArmLoaded}
	src.rs.SystemState = 2
	src.rs.ChannelStates[1][0] = adrv9001.ChannelPrimed

	s := Take(src)
	if s.Health != HealthOK || s.Channels[2] != adrv9001.ChannelPrimed || s.SystemState != 2 {
		t.Fatalf("Take() = %+v", s)
	}

	src.lastErr = &adrv9001.Error{Kind: adrv9001.ErrInvalidState, Action: adrv9001.ActionCheckState}
	src.action = adrv9001.ActionCheckState
	if s := Take(src); s.Health != HealthOK || s.LastAction != adrv9001.ActionCheckState {
		t.Errorf("rejected request: %+v", s)
	}

	src.lastErr = &adrv9001.Error{Kind: adrv9001.ErrTimeout, Action: adrv9001.ActionRerunInitCals}
	src.action = adrv9001.ActionRerunInitCals
	if s := Take(src); s.Health != HealthError {
		t.Errorf("timeout should report error health: %+v", s)
	}

	src.rsErr = &adrv9001.Error{Kind: adrv9001.ErrTransport, Action: adrv9001.ActionResetInterface}
	if s := Take(src); s.Health != HealthError || s.LastAction != adrv9001.ActionResetInterface {
		t.Errorf("failed read: %+v", s)
	}
}

func TestPublishFullThenDelta(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, 7, 100, nil)

	s := Snapshot{Health: HealthOK}
	if err := p.Publish(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.calls) != 1 || len(w.calls[0].regs) != BlockSize || w.calls[0].addr != 100 || w.calls[0].unitID != 7 {
		t.Fatalf("first publish = %+v", w.calls)
	}

	// unchanged: nothing written
	if err := p.Publish(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.calls) != 1 {
		t.Fatalf("unchanged snapshot wrote %d times", len(w.calls)-1)
	}

	s.Channels[1] = adrv9001.ChannelCalibrated
	s.BootState = 4
	if err := p.Publish(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	delta := w.calls[1:]
	if len(delta) != 2 {
		t.Fatalf("delta writes = %+v", delta)
	}
	if delta[0].addr != 100+SlotRx2State || delta[0].regs[0] != 1 {
		t.Errorf("rx2 write = %+v", delta[0])
	}
	if delta[1].addr != 100+SlotBootState || delta[1].regs[0] != 4 {
		t.Errorf("boot write = %+v", delta[1])
	}
}

func TestPublishReassertsAfterFailure(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, 1, 0, nil)

	if err := p.Publish(Snapshot{Health: HealthOK}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.fail = true
	if err := p.Publish(Snapshot{Health: HealthError}); err == nil {
		t.Fatal("expected error")
	}

	w.fail = false
	if err := p.Publish(Snapshot{Health: HealthError}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := w.calls[len(w.calls)-1]
	if len(last.regs) != BlockSize || last.regs[SlotHealth] != HealthError {
		t.Fatalf("expected a full block re-assert, got %+v", last)
	}
}

func TestPackRegisters(t *testing.T) {
	got := packRegisters([]uint16{0x1234, 0x00FF})
	want := []byte{0x12, 0x34, 0x00, 0xFF}
	if string(got) != string(want) {
		t.Fatalf("packRegisters() = % X", got)
	}
}
