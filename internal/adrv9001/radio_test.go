package adrv9001

import (
	"errors"
	"testing"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

func TestMailboxChannel(t *testing.T) {
	tests := []struct {
		port Port
		ch   ChannelNumber
		want uint8
	}{
		{PortRx, Channel1, 0x01},
		{PortRx, Channel2, 0x02},
		{PortTx, Channel1, 0x04},
		{PortTx, Channel2, 0x08},
		{PortORx, Channel1, 0x10},
		{PortORx, Channel2, 0x20},
		{PortRx, 0, 0},
		{PortTx, 3, 0},
		{Port(7), Channel1, 0},
	}
	for _, tc := range tests {
		if got := MailboxChannel(tc.port, tc.ch); got != tc.want {
			t.Errorf("MailboxChannel(%s, %d) = 0x%02X, want 0x%02X", tc.port, tc.ch, got, tc.want)
		}
	}

	mask := MailboxChannelMask([]Channel{{PortRx, Channel1}, {PortTx, Channel2}, {PortORx, Channel2}})
	if mask != 0x29 {
		t.Errorf("mask = 0x%02X, want 0x29", mask)
	}
}

func TestRadioStateDecoding(t *testing.T) {
	ft := newFakeTransport()
	ft.regs[regs.AddrArmCmdStatus8] = 0x52 // boot 5, monitor 0, system 2
	ft.setChannelStates([2][2]ChannelState{
		{ChannelCalibrated, ChannelPrimed},
		{ChannelRfEnabled, ChannelStandby},
	})
	d := newTestDevice(ft, newFakeClock())

	rs, err := d.RadioState()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.SystemState != 2 || rs.MonitorMode != 0 || rs.BootState != 5 {
		t.Errorf("system = %d monitor = %d boot = %d", rs.SystemState, rs.MonitorMode, rs.BootState)
	}
	if rs.Channels["rx2"] != ChannelPrimed || rs.Channels["tx1"] != ChannelRfEnabled {
		t.Errorf("channels = %v", rs.Channels)
	}

	s, err := d.ChannelState(PortORx, Channel2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != ChannelPrimed {
		t.Errorf("ORX2 = %s, want the state of RX2", s)
	}
}

func TestPrimeRequiresCalibrated(t *testing.T) {
	for _, state := range []ChannelState{ChannelStandby, ChannelRfEnabled} {
		t.Run(state.String(), func(t *testing.T) {
			ft := newFakeTransport()
			ft.setChannelStates([2][2]ChannelState{{state, ChannelStandby}, {ChannelStandby, ChannelStandby}})
			d := newTestDevice(ft, newFakeClock())

			err := d.Prime(PortRx, Channel1, true)
			if !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
			if len(ft.writes) != 0 {
				t.Errorf("mailbox written on a rejected prime: %v", ft.writes)
			}
		})
	}
}

func TestBatchValidationIsAtomic(t *testing.T) {
	ft := newFakeTransport()
	ft.setChannelStates([2][2]ChannelState{
		{ChannelCalibrated, ChannelCalibrated},
		{ChannelStandby, ChannelCalibrated},
	})
	d := newTestDevice(ft, newFakeClock())

	ports := []Port{PortRx, PortRx, PortTx}
	chans := []ChannelNumber{Channel1, Channel2, Channel1}

	if err := d.ChannelsPrime(ports, chans, true); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := d.ChannelsEnableRf(ports, chans, true); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := d.ChannelsPowerDown(ports, chans); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if len(ft.writes) != 0 {
		t.Errorf("writes after rejected batches: %v", ft.writes)
	}
}

func TestBatchRejectsMismatchedSlices(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft, newFakeClock())

	err := d.ChannelsPrime([]Port{PortRx}, []ChannelNumber{Channel1, Channel2}, true)
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if ft.transfers != 0 {
		t.Errorf("%d transfers", ft.transfers)
	}
}

func TestPrimeIssuesOneRadioOn(t *testing.T) {
	ft := newFakeTransport()
	ft.setChannelStates([2][2]ChannelState{
		{ChannelCalibrated, ChannelStandby},
		{ChannelCalibrated, ChannelStandby},
	})
	d := newTestDevice(ft, newFakeClock())

	if err := d.ChannelsPrime([]Port{PortRx, PortTx}, []ChannelNumber{Channel1, Channel1}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var cmds []regWrite
	for _, w := range ft.writes {
		if w.addr == regs.AddrArmCommand {
			cmds = append(cmds, w)
		}
	}
	if len(cmds) != 1 || cmds[0].value != regs.OpRadioOn {
		t.Fatalf("commands = %v, want one RADIOON", cmds)
	}
	if ft.regs[regs.AddrArmExtCmdByte1] != regs.ChannelBitRx1|regs.ChannelBitTx1 {
		t.Errorf("channel mask = 0x%02X", ft.regs[regs.AddrArmExtCmdByte1])
	}
}

func TestToStateRejectsPinMode(t *testing.T) {
	ft := newFakeTransport()
	ft.setChannelStates([2][2]ChannelState{{ChannelCalibrated, ChannelStandby}, {ChannelStandby, ChannelStandby}})
	ft.regs[regs.AddrChannelEnableMode] = regs.ChannelBitRx1
	d := newTestDevice(ft, newFakeClock())

	err := d.ToState(PortRx, Channel1, ChannelPrimed)
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if len(ft.writes) != 0 {
		t.Errorf("writes = %v", ft.writes)
	}
}

func TestToStateFromStandby(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft, newFakeClock())

	err := d.ToState(PortTx, Channel2, ChannelCalibrated)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if ActionOf(err) != ActionCheckState {
		t.Errorf("action = %s", ActionOf(err))
	}
}

func TestToStateRejectsStandbyTarget(t *testing.T) {
	d := newTestDevice(newFakeTransport(), newFakeClock())
	if err := d.ToState(PortRx, Channel1, ChannelStandby); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestToStateDisableRfCarriesOnAfterTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.setChannelStates([2][2]ChannelState{{ChannelRfEnabled, ChannelStandby}, {ChannelStandby, ChannelStandby}})
	ft.regs[regs.AddrBbicEnables] = regs.ChannelBitRx1
	clk := newFakeClock()
	d := newTestDevice(ft, clk)

	// the channel never leaves RF_ENABLED
	if err := d.ToState(PortRx, Channel1, ChannelPrimed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ft.regs[regs.AddrBbicEnables]&regs.ChannelBitRx1 != 0 {
		t.Errorf("RF enable bit still set")
	}
	if clk.slept != disableRfTimeout {
		t.Errorf("polled for %s, want %s", clk.slept, disableRfTimeout)
	}
	if _, err := d.LastError(); err != nil {
		t.Errorf("last error = %v", err)
	}
}

func TestToStateRfEnabledDoesNotPoll(t *testing.T) {
	ft := newFakeTransport()
	ft.setChannelStates([2][2]ChannelState{{ChannelStandby, ChannelStandby}, {ChannelPrimed, ChannelStandby}})
	clk := newFakeClock()
	d := newTestDevice(ft, clk)

	if err := d.ToState(PortTx, Channel1, ChannelRfEnabled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ft.regs[regs.AddrBbicEnables] != regs.ChannelBitTx1 {
		t.Errorf("enables = 0x%02X", ft.regs[regs.AddrBbicEnables])
	}
	if clk.sleeps != 0 {
		t.Errorf("%d sleeps after the enable write", clk.sleeps)
	}
}

func TestPrimeFromPrimed(t *testing.T) {
	ft := newFakeTransport()
	ft.setChannelStates([2][2]ChannelState{{ChannelPrimed, ChannelStandby}, {ChannelStandby, ChannelStandby}})
	d := newTestDevice(ft, newFakeClock())

	// ToState leaves a PRIMED channel alone
	if err := d.ToState(PortRx, Channel1, ChannelPrimed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.writes) != 0 {
		t.Fatalf("writes = %v", ft.writes)
	}

	// Prime accepts PRIMED and repeats the RADIOON
	if err := d.Prime(PortRx, Channel1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ft.wrote(regs.AddrArmCommand) || ft.regs[regs.AddrArmCommand] != regs.OpRadioOn {
		t.Errorf("RADIOON not sent: %v", ft.writes)
	}
}

func TestBatchWithRepeatedChannel(t *testing.T) {
	ft := newFakeTransport()
	ft.setChannelStates([2][2]ChannelState{{ChannelCalibrated, ChannelStandby}, {ChannelStandby, ChannelStandby}})
	d := newTestDevice(ft, newFakeClock())

	ports := []Port{PortRx, PortRx}
	chans := []ChannelNumber{Channel1, Channel1}
	if err := d.ChannelsPrime(ports, chans, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var cmds int
	for _, w := range ft.writes {
		if w.addr == regs.AddrArmCommand {
			cmds++
		}
	}
	if cmds != 1 {
		t.Errorf("%d commands, want 1", cmds)
	}
	if ft.regs[regs.AddrArmExtCmdByte1] != regs.ChannelBitRx1 {
		t.Errorf("channel mask = 0x%02X", ft.regs[regs.AddrArmExtCmdByte1])
	}

	ft.setChannelStates([2][2]ChannelState{{ChannelPrimed, ChannelStandby}, {ChannelStandby, ChannelStandby}})
	if err := d.ChannelsEnableRf(ports, chans, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ft.regs[regs.AddrBbicEnables] != regs.ChannelBitRx1 {
		t.Errorf("enables = 0x%02X", ft.regs[regs.AddrBbicEnables])
	}
}

func TestSetChannelEnableMode(t *testing.T) {
	ft := newFakeTransport()
	ft.regs[regs.AddrChannelEnableMode] = regs.ChannelBitRx1
	d := newTestDevice(ft, newFakeClock())

	if err := d.SetChannelEnableMode(PortTx, Channel2, EnableModePin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ft.regs[regs.AddrChannelEnableMode]; got != regs.ChannelBitRx1|regs.ChannelBitTx2 {
		t.Fatalf("enable mode register = 0x%02X", got)
	}
	m, err := d.ChannelEnableMode(PortTx, Channel2)
	if err != nil || m != EnableModePin {
		t.Fatalf("mode = %s, err = %v", m, err)
	}
}

func TestParseHelpers(t *testing.T) {
	if p, err := ParsePort("ORx"); err != nil || p != PortORx {
		t.Errorf("ParsePort(ORx) = %s, %v", p, err)
	}
	if _, err := ParsePort("aux"); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
	if s, err := ParseChannelState("rf_enabled"); err != nil || s != ChannelRfEnabled {
		t.Errorf("ParseChannelState = %s, %v", s, err)
	}
}
