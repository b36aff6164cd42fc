package adrv9001

import (
	"errors"
	"time"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// RadioState is a snapshot of ARM_CMD_STATUS_8 and ARM_CMD_STATUS_9.
type RadioState struct {
	SystemState   uint8                   `json:"system_state"`
	MonitorMode   uint8                   `json:"monitor_mode"`
	BootState     uint8                   `json:"boot_state"`
	ChannelStates [2][2]ChannelState      `json:"-"`
	Channels      map[string]ChannelState `json:"channels"`
}

// ChannelEnableMode selects who drives a channel's enable.
type ChannelEnableMode uint8

const (
	EnableModeSpi ChannelEnableMode = 0
	EnableModePin ChannelEnableMode = 1
)

func (m ChannelEnableMode) String() string {
	if m == EnableModePin {
		return "PIN"
	}
	return "SPI"
}

// RadioState reads the system and channel states. It does not use the
// mailbox.
func (d *Device) RadioState() (RadioState, error) {
	rs, err := d.radioState()
	return rs, d.record(err)
}

func (d *Device) radioState() (RadioState, error) {
	var rs RadioState
	sys, err := d.spiRead(regs.AddrArmCmdStatus8)
	if err != nil {
		return rs, err
	}
	chans, err := d.spiRead(regs.AddrArmCmdStatus9)
	if err != nil {
		return rs, err
	}

	rs.SystemState = sys & 0x03
	rs.MonitorMode = (sys >> 2) & 0x03
	rs.BootState = (sys >> 4) & 0x0F
	rs.ChannelStates[0][0] = ChannelState(chans & 0x03)
	rs.ChannelStates[0][1] = ChannelState((chans >> 2) & 0x03)
	rs.ChannelStates[1][0] = ChannelState((chans >> 4) & 0x03)
	rs.ChannelStates[1][1] = ChannelState((chans >> 6) & 0x03)
	rs.Channels = map[string]ChannelState{
		"rx1": rs.ChannelStates[0][0],
		"rx2": rs.ChannelStates[0][1],
		"tx1": rs.ChannelStates[1][0],
		"tx2": rs.ChannelStates[1][1],
	}
	return rs, nil
}

// ChannelState reads the live state of one channel. ORx channels report
// the state of the Rx channel with the same number.
func (d *Device) ChannelState(port Port, ch ChannelNumber) (ChannelState, error) {
	s, err := d.channelState("channel state", port, ch)
	return s, d.record(err)
}

func (d *Device) channelState(op string, port Port, ch ChannelNumber) (ChannelState, error) {
	if err := validateChannel(op, port, ch); err != nil {
		return 0, err
	}
	v, err := d.spiRead(regs.AddrArmCmdStatus9)
	if err != nil {
		return 0, err
	}
	shift := 2 * uint(ch-1)
	if port == PortTx {
		shift += 4
	}
	return ChannelState((v >> shift) & 0x03), nil
}

// ChannelEnableMode reads whether ch is enabled over SPI or by pin.
func (d *Device) ChannelEnableMode(port Port, ch ChannelNumber) (ChannelEnableMode, error) {
	m, err := d.channelEnableMode("channel enable mode", port, ch)
	return m, d.record(err)
}

func (d *Device) channelEnableMode(op string, port Port, ch ChannelNumber) (ChannelEnableMode, error) {
	if err := validateChannel(op, port, ch); err != nil {
		return 0, err
	}
	bit := MailboxChannel(port, ch)
	v, err := d.spiFieldGet(regs.AddrChannelEnableMode, bit)
	if err != nil {
		return 0, err
	}
	if v != 0 {
		return EnableModePin, nil
	}
	return EnableModeSpi, nil
}

// SetChannelEnableMode selects SPI or pin control for ch.
func (d *Device) SetChannelEnableMode(port Port, ch ChannelNumber, mode ChannelEnableMode) error {
	const op = "set channel enable mode"
	if err := validateChannel(op, port, ch); err != nil {
		return d.record(err)
	}
	if mode != EnableModeSpi && mode != EnableModePin {
		return d.record(paramError(op, "invalid enable mode %d", mode))
	}
	bit := MailboxChannel(port, ch)
	var value uint8
	if mode == EnableModePin {
		value = bit
	}
	return d.record(d.spiFieldSet(regs.AddrChannelEnableMode, bit, value))
}

// requireStates reads every channel and fails on the first one whose
// state is not in allowed. Nothing is written.
func (d *Device) requireStates(op string, channels []Channel, allowed ...ChannelState) error {
	for _, c := range channels {
		s, err := d.channelState(op, c.Port, c.Number)
		if err != nil {
			return err
		}
		ok := false
		for _, a := range allowed {
			if s == a {
				ok = true
				break
			}
		}
		if !ok {
			return stateError(op, "channel %s is %s, must be one of %v", c, s, allowed)
		}
	}
	return nil
}

// Prime moves ch between CALIBRATED and PRIMED.
func (d *Device) Prime(port Port, ch ChannelNumber, prime bool) error {
	return d.ChannelsPrime([]Port{port}, []ChannelNumber{ch}, prime)
}

// ChannelsPrime primes or unprimes all channels with one RADIOON/RADIOOFF.
// Every channel must be CALIBRATED or PRIMED or no command is sent.
func (d *Device) ChannelsPrime(ports []Port, chans []ChannelNumber, prime bool) error {
	return d.record(d.channelsPrime(ports, chans, prime))
}

func (d *Device) channelsPrime(ports []Port, chans []ChannelNumber, prime bool) error {
	const op = "prime"
	channels, err := zipChannels(op, ports, chans)
	if err != nil {
		return err
	}
	if err := d.requireStates(op, channels, ChannelCalibrated, ChannelPrimed); err != nil {
		return err
	}

	opcode := uint8(regs.OpRadioOff)
	if prime {
		opcode = regs.OpRadioOn
	}
	mask := MailboxChannelMask(channels)
	d.log.Info("channel prime", "channels", channels, "prime", prime)
	return d.command(op, opcode, []byte{mask}, 0, d.timeouts.RadioOnOff, radioOnOffInterval)
}

// EnableRf switches RF on or off for a primed channel.
func (d *Device) EnableRf(port Port, ch ChannelNumber, enable bool) error {
	return d.ChannelsEnableRf([]Port{port}, []ChannelNumber{ch}, enable)
}

// ChannelsEnableRf sets or clears the BBIC enable bit of every channel.
// Every channel must be PRIMED or RF_ENABLED or nothing is written.
func (d *Device) ChannelsEnableRf(ports []Port, chans []ChannelNumber, enable bool) error {
	return d.record(d.channelsEnableRf(ports, chans, enable))
}

func (d *Device) channelsEnableRf(ports []Port, chans []ChannelNumber, enable bool) error {
	const op = "enable rf"
	channels, err := zipChannels(op, ports, chans)
	if err != nil {
		return err
	}
	if err := d.requireStates(op, channels, ChannelPrimed, ChannelRfEnabled); err != nil {
		return err
	}

	mask := MailboxChannelMask(channels)
	var value uint8
	if enable {
		value = mask
	}
	d.log.Info("channel rf enable", "channels", channels, "enable", enable)
	return d.spiFieldSet(regs.AddrBbicEnables, mask, value)
}

// PowerDown moves a CALIBRATED channel to STANDBY keeping its calibration.
func (d *Device) PowerDown(port Port, ch ChannelNumber) error {
	return d.ChannelsPowerDown([]Port{port}, []ChannelNumber{ch})
}

// ChannelsPowerDown issues one POWERDOWN for all channels. Every channel
// must be exactly CALIBRATED.
func (d *Device) ChannelsPowerDown(ports []Port, chans []ChannelNumber) error {
	const op = "power down"
	channels, err := zipChannels(op, ports, chans)
	if err != nil {
		return d.record(err)
	}
	if err := d.requireStates(op, channels, ChannelCalibrated); err != nil {
		return d.record(err)
	}
	return d.record(d.command(op, regs.OpPowerDown, []byte{MailboxChannelMask(channels)}, 0, d.timeouts.RadioOnOff, radioOnOffInterval))
}

// PowerUp brings a powered down channel back to CALIBRATED.
func (d *Device) PowerUp(port Port, ch ChannelNumber) error {
	return d.ChannelsPowerUp([]Port{port}, []ChannelNumber{ch})
}

// ChannelsPowerUp issues one POWERUP for all channels.
func (d *Device) ChannelsPowerUp(ports []Port, chans []ChannelNumber) error {
	const op = "power up"
	channels, err := zipChannels(op, ports, chans)
	if err != nil {
		return d.record(err)
	}
	return d.record(d.command(op, regs.OpPowerUp, []byte{MailboxChannelMask(channels)}, 0, d.timeouts.RadioOnOff, radioOnOffInterval))
}

// waitChannelState polls until ch reaches want.
func (d *Device) waitChannelState(op string, port Port, ch ChannelNumber, want ChannelState, timeout, interval time.Duration) error {
	numChecks := int(timeout / interval)
	for i := 0; ; i++ {
		s, err := d.channelState(op, port, ch)
		if err != nil {
			return err
		}
		if s == want {
			return nil
		}
		if i >= numChecks {
			return timeoutError(op, ActionCheckState, "channel %s%d still %s after %s, want %s", port, int(ch), s, timeout, want)
		}
		d.clock.Sleep(interval)
	}
}

// disableRfWait clears RF enable and polls for the channel to report PRIMED.
// A channel still not PRIMED after timeout is logged and the caller carries on.
func (d *Device) disableRfWait(port Port, ch ChannelNumber, timeout time.Duration) error {
	if err := d.channelsEnableRf([]Port{port}, []ChannelNumber{ch}, false); err != nil {
		return err
	}
	err := d.waitChannelState("disable rf", port, ch, ChannelPrimed, timeout, disableRfInterval)
	if errors.Is(err, ErrTimeout) {
		d.log.Warn("channel did not report PRIMED after rf disable", "channel", Channel{port, ch}.String(), "timeout", timeout)
		return nil
	}
	return err
}

// ToState drives an SPI-controlled Rx or Tx channel to target, which must
// be CALIBRATED, PRIMED or RF_ENABLED. A channel in STANDBY needs InitCals.
func (d *Device) ToState(port Port, ch ChannelNumber, target ChannelState) error {
	return d.record(d.toState(port, ch, target))
}

func (d *Device) toState(port Port, ch ChannelNumber, target ChannelState) error {
	const op = "to state"
	if port != PortRx && port != PortTx {
		return paramError(op, "port must be RX or TX, got %s", port)
	}
	if err := validateChannel(op, port, ch); err != nil {
		return err
	}
	switch target {
	case ChannelCalibrated, ChannelPrimed, ChannelRfEnabled:
	default:
		return paramError(op, "target state must be CALIBRATED, PRIMED or RF_ENABLED, got %s", target)
	}

	mode, err := d.channelEnableMode(op, port, ch)
	if err != nil {
		return err
	}
	if mode != EnableModeSpi {
		return paramError(op, "channel %s%d is in %s enable mode", port, int(ch), mode)
	}

	current, err := d.channelState(op, port, ch)
	if err != nil {
		return err
	}
	if current == ChannelStandby {
		return stateError(op, "channel %s%d is in STANDBY, use InitCals to calibrate it", port, int(ch))
	}
	if current == target {
		return nil
	}

	d.log.Info("channel to state", "channel", Channel{port, ch}.String(), "from", current.String(), "to", target.String())

	switch target {
	case ChannelCalibrated:
		return d.toCalibrated(port, ch, current)
	case ChannelPrimed:
		return d.toPrimed(port, ch, current)
	default:
		return d.toRfEnabled(port, ch, current)
	}
}

func (d *Device) toCalibrated(port Port, ch ChannelNumber, current ChannelState) error {
	if current == ChannelRfEnabled {
		if err := d.disableRfWait(port, ch, disableRfTimeout); err != nil {
			return err
		}
	}
	return d.channelsPrime([]Port{port}, []ChannelNumber{ch}, false)
}

func (d *Device) toPrimed(port Port, ch ChannelNumber, current ChannelState) error {
	if current == ChannelRfEnabled {
		return d.disableRfWait(port, ch, disableRfTimeout)
	}
	return d.channelsPrime([]Port{port}, []ChannelNumber{ch}, true)
}

func (d *Device) toRfEnabled(port Port, ch ChannelNumber, current ChannelState) error {
	if current == ChannelCalibrated {
		if err := d.channelsPrime([]Port{port}, []ChannelNumber{ch}, true); err != nil {
			return err
		}
	}
	return d.channelsEnableRf([]Port{port}, []ChannelNumber{ch}, true)
}
