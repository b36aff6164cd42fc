package adrv9001

import (
	"fmt"
	"strings"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// Port is the signal path type of a channel.
type Port int

const (
	PortRx Port = iota
	PortTx
	PortORx
)

func (p Port) String() string {
	switch p {
	case PortRx:
		return "RX"
	case PortTx:
		return "TX"
	case PortORx:
		return "ORX"
	default:
		return fmt.Sprintf("Port(%d)", int(p))
	}
}

// ParsePort accepts "rx", "tx" or "orx" in any case.
func ParsePort(s string) (Port, error) {
	switch strings.ToLower(s) {
	case "rx":
		return PortRx, nil
	case "tx":
		return PortTx, nil
	case "orx":
		return PortORx, nil
	}
	return 0, paramError("parse port", "unknown port %q", s)
}

// ChannelNumber is 1 or 2.
type ChannelNumber int

const (
	Channel1 ChannelNumber = 1
	Channel2 ChannelNumber = 2
)

func (c ChannelNumber) valid() bool { return c == Channel1 || c == Channel2 }

// ChannelState is the lifecycle state of one channel.
type ChannelState uint8

const (
	ChannelStandby ChannelState = iota
	ChannelCalibrated
	ChannelPrimed
	ChannelRfEnabled
)

var channelStateNames = [...]string{"STANDBY", "CALIBRATED", "PRIMED", "RF_ENABLED"}

func (s ChannelState) String() string {
	if int(s) < len(channelStateNames) {
		return channelStateNames[s]
	}
	return fmt.Sprintf("ChannelState(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s ChannelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseChannelState accepts the names returned by String, case-insensitive.
func ParseChannelState(s string) (ChannelState, error) {
	for i, n := range channelStateNames {
		if strings.EqualFold(s, n) {
			return ChannelState(i), nil
		}
	}
	return 0, paramError("parse channel state", "unknown channel state %q", s)
}

// MailboxChannel maps a channel to its mailbox channel bit. Invalid
// combinations map to 0.
func MailboxChannel(port Port, ch ChannelNumber) uint8 {
	if !ch.valid() {
		return 0
	}
	switch port {
	case PortRx:
		if ch == Channel1 {
			return regs.ChannelBitRx1
		}
		return regs.ChannelBitRx2
	case PortTx:
		if ch == Channel1 {
			return regs.ChannelBitTx1
		}
		return regs.ChannelBitTx2
	case PortORx:
		if ch == Channel1 {
			return regs.ChannelBitORx1
		}
		return regs.ChannelBitORx2
	}
	return 0
}

// Channel identifies one physical channel.
type Channel struct {
	Port   Port
	Number ChannelNumber
}

func (c Channel) String() string {
	return fmt.Sprintf("%s%d", c.Port, int(c.Number))
}

// MailboxChannelMask ORs the mailbox bits of channels.
func MailboxChannelMask(channels []Channel) uint8 {
	var mask uint8
	for _, c := range channels {
		mask |= MailboxChannel(c.Port, c.Number)
	}
	return mask
}

// zipChannels pairs parallel port and channel slices.
func zipChannels(op string, ports []Port, chans []ChannelNumber) ([]Channel, error) {
	if len(ports) != len(chans) {
		return nil, paramError(op, "%d ports but %d channels", len(ports), len(chans))
	}
	if len(ports) == 0 {
		return nil, paramError(op, "no channels given")
	}
	out := make([]Channel, len(ports))
	for i := range ports {
		out[i] = Channel{Port: ports[i], Number: chans[i]}
		if MailboxChannel(ports[i], chans[i]) == 0 {
			return nil, paramError(op, "invalid channel %s", out[i])
		}
	}
	return out, nil
}

func validateChannel(op string, port Port, ch ChannelNumber) error {
	if MailboxChannel(port, ch) == 0 {
		return paramError(op, "invalid channel %s%d", port, int(ch))
	}
	return nil
}
