package adrv9001

import (
	"errors"
	"testing"
	"time"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

func TestIsValidOpcode(t *testing.T) {
	for op := 0; op <= 0xFF; op++ {
		want := op == 0 || (op%2 == 0 && op <= 30)
		if got := IsValidOpcode(uint8(op)); got != want {
			t.Errorf("IsValidOpcode(0x%02X) = %v, want %v", op, got, want)
		}
		// the vendor macro is the exact complement
		if got := opcodeMacroFlagsInvalid(uint8(op)); got == want {
			t.Errorf("opcodeMacroFlagsInvalid(0x%02X) = %v, want %v", op, got, !want)
		}
	}
}

func TestStatusSlot(t *testing.T) {
	tests := []struct {
		op    uint8
		addr  uint16
		shift uint
	}{
		{regs.OpAbort, 0xD0, 0},
		{regs.OpRunInit, 0xD0, 4},
		{regs.OpRadioOn, 0xD1, 0},
		{regs.OpRadioOff, 0xD1, 4},
		{regs.OpSet, 0xD2, 4},
		{regs.OpGet, 0xD3, 0},
		{regs.OpHighPriority, 0xD4, 0},
		{regs.OpPowerUp, 0xD5, 0},
	}
	for _, tc := range tests {
		addr, shift := statusSlot(tc.op)
		if addr != tc.addr || shift != tc.shift {
			t.Errorf("statusSlot(0x%02X) = (0x%02X, %d), want (0x%02X, %d)", tc.op, addr, shift, tc.addr, tc.shift)
		}
	}
}

func TestCommandWriteOrder(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft, newFakeClock())

	if err := d.CommandWrite(regs.OpSet, []byte{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []regWrite{
		{regs.AddrArmExtCmdByte1, 1},
		{regs.AddrArmExtCmdByte1 + 1, 2},
		{regs.AddrArmExtCmdByte1 + 2, 3},
		{regs.AddrArmCommand, regs.OpSet},
	}
	if len(ft.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", ft.writes, want)
	}
	for i := range want {
		if ft.writes[i] != want[i] {
			t.Errorf("write %d = %+v, want %+v", i, ft.writes[i], want[i])
		}
	}
}

func TestCommandWriteRejectsInvalidOpcode(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft, newFakeClock())

	err := d.CommandWrite(0x03, nil)
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if ft.transfers != 0 {
		t.Errorf("%d transfers for a rejected opcode", ft.transfers)
	}
	if action, last := d.LastError(); action != ActionCheckParam || last != err {
		t.Errorf("LastError = (%s, %v)", action, last)
	}
}

func TestCommandWriteBusyTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.regs[regs.AddrArmCommand] = regs.ArmCommandBusy
	clk := newFakeClock()
	d := newTestDevice(ft, clk)

	err := d.CommandWrite(regs.OpSet, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if ActionOf(err) != ActionResetArm {
		t.Errorf("action = %s, want reset_arm", ActionOf(err))
	}
	if ft.wrote(regs.AddrArmCommand) {
		t.Errorf("opcode was written while the mailbox was busy")
	}
	if clk.slept != mailboxBusyTimeout {
		t.Errorf("slept %s, want %s", clk.slept, mailboxBusyTimeout)
	}
}

func TestCommandStatusWaitTimesOut(t *testing.T) {
	ft := newFakeTransport()
	ft.regs[regs.AddrArmCmdStatus0+2] = 0x10 // SET pending
	clk := newFakeClock()
	d := newTestDevice(ft, clk)

	_, err := d.CommandStatusWait(regs.OpSet, regs.ObjIDGsTrackingCalEnable, time.Millisecond, 100*time.Microsecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if clk.slept != time.Millisecond {
		t.Errorf("waited %s, want 1ms", clk.slept)
	}
	if n := ft.reads[regs.AddrArmCmdStatus0+2]; n < 10 || n > 11 {
		t.Errorf("%d status reads, want about 10", n)
	}
}

func TestCommandStatusWaitCompletes(t *testing.T) {
	ft := newFakeTransport()
	polls := 0
	ft.onRead = func(addr uint16) (uint8, bool) {
		if addr != regs.AddrArmCmdStatus0+3 {
			return 0, false
		}
		polls++
		if polls < 3 {
			return 0x01, true // GET pending
		}
		return 0x00, true
	}
	d := newTestDevice(ft, newFakeClock())

	st, err := d.CommandStatusWait(regs.OpGet, 0, time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Pending || polls != 3 {
		t.Errorf("status = %+v after %d polls", st, polls)
	}
}

func TestCommandErrorDecoding(t *testing.T) {
	tests := []struct {
		name   string
		op     uint8
		obj    regs.ObjectID
		nibble uint8
		action RecoveryAction
		code   uint16
	}{
		{"invalid state", regs.OpRadioOn, 0, 3 << 1, ActionCheckState, 0},
		{"unsupported", regs.OpSet, regs.ObjIDGsChannelCarrierFrequency, 2 << 1, ActionCheckParam, 0},
		{"runinit command error", regs.OpRunInit, 0, 7 << 1, ActionRerunInitCals, 0x2105},
		{"generic command error", regs.OpGet, regs.ObjIDGsTddTimingParams, 7 << 1, ActionCheckParam, 0x6001},
		{"reserved flag", regs.OpSet, regs.ObjIDGsTddTimingParams, 5 << 1, ActionResetArm, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ft := newFakeTransport()
			addr, shift := statusSlot(tc.op)
			ft.regs[addr] = tc.nibble << shift
			ft.regs[regs.AddrArmCmdStatus10] = uint8(tc.code)
			ft.regs[regs.AddrArmCmdStatus11] = uint8(tc.code >> 8)
			d := newTestDevice(ft, newFakeClock())

			_, err := d.CommandStatusWait(tc.op, tc.obj, time.Millisecond, 100*time.Microsecond)
			if !errors.Is(err, ErrArmCommand) {
				t.Fatalf("expected ErrArmCommand, got %v", err)
			}
			var ae *ArmCommandError
			if !errors.As(err, &ae) {
				t.Fatalf("expected *ArmCommandError, got %T", err)
			}
			if ae.Action != tc.action || ActionOf(err) != tc.action {
				t.Errorf("action = %s, want %s", ae.Action, tc.action)
			}
			if ae.ErrorFlag != tc.nibble>>1 {
				t.Errorf("flag = %d, want %d", ae.ErrorFlag, tc.nibble>>1)
			}
			if ae.MailboxCode != tc.code {
				t.Errorf("mailbox code = 0x%04X, want 0x%04X", ae.MailboxCode, tc.code)
			}
		})
	}
}

func TestMailboxLeaseFailsFast(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft, newFakeClock())

	release, err := d.lease("holder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	err = d.CommandWrite(regs.OpSet, nil)
	if !errors.Is(err, ErrMailboxBusy) {
		t.Fatalf("expected ErrMailboxBusy, got %v", err)
	}
	if ft.transfers != 0 {
		t.Errorf("%d transfers while the lease was held", ft.transfers)
	}
}

func TestCommandStatusAll(t *testing.T) {
	ft := newFakeTransport()
	ft.regs[regs.AddrArmCmdStatus0+1] = 0x01 // RADIOON pending
	ft.regs[regs.AddrArmCmdStatus0+2] = 0x60 // SET flag 3
	d := newTestDevice(ft, newFakeClock())

	errWord, statusWord, err := d.CommandStatusAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if statusWord != 1<<2 {
		t.Errorf("status word = 0x%04X, want 0x0004", statusWord)
	}
	if errWord != 1<<5 {
		t.Errorf("error word = 0x%04X, want 0x0020", errWord)
	}
}

func TestTransportErrorAction(t *testing.T) {
	ft := newFakeTransport()
	ft.err = errFakeBus
	d := newTestDevice(ft, newFakeClock())

	_, err := d.SPIReadByte(regs.AddrScratchPad)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, errFakeBus) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if ActionOf(err) != ActionResetInterface {
		t.Errorf("action = %s, want reset_interface", ActionOf(err))
	}
}
