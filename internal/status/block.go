// Package status publishes the device state as a fixed Modbus holding
// register block.
package status

import (
	"errors"

	"github.com/linht/adrv-manager/internal/adrv9001"
)

// Status block layout. The layout is read by PLCs and does not change.

// ---- BLOCK GEOMETRY ----

// BlockSize is the number of holding registers in the block.
const BlockSize = 16

// ---- SLOT INDICES ----

const (
	SlotHealth       = 0
	SlotLastAction   = 1
	SlotDevState     = 2
	SlotRx1State     = 3
	SlotRx2State     = 4
	SlotTx1State     = 5
	SlotTx2State     = 6
	SlotSystemState  = 7
	SlotBootState    = 8
	SlotReservedFrom = 9 // 9..15 stay zero
)

// ---- HEALTH CODES ----

const (
	HealthUnknown uint16 = 0
	HealthOK      uint16 = 1
	HealthError   uint16 = 2
)

// Snapshot is what one publish cycle delivers.
type Snapshot struct {
	Health      uint16
	LastAction  adrv9001.RecoveryAction
	DevState    adrv9001.DevState
	Channels    [4]adrv9001.ChannelState // rx1, rx2, tx1, tx2
	SystemState uint8
	BootState   uint8
}

// Encode converts a Snapshot into the full block.
func Encode(s Snapshot) [BlockSize]uint16 {
	var regs [BlockSize]uint16
	regs[SlotHealth] = s.Health
	regs[SlotLastAction] = uint16(s.LastAction)
	regs[SlotDevState] = uint16(s.DevState)
	for i, c := range s.Channels {
		regs[SlotRx1State+i] = uint16(c)
	}
	regs[SlotSystemState] = uint16(s.SystemState)
	regs[SlotBootState] = uint16(s.BootState)
	return regs
}

// Source is the part of *adrv9001.Device a snapshot is taken from.
type Source interface {
	RadioState() (adrv9001.RadioState, error)
	DevState() adrv9001.DevState
	LastError() (adrv9001.RecoveryAction, error)
}

// Take reads a snapshot from src. A failed state read yields HealthError
// with the channel slots left at zero.
func Take(src Source) Snapshot {
	s := Snapshot{DevState: src.DevState()}

	rs, err := src.RadioState()
	if err != nil {
		s.Health = HealthError
		s.LastAction = adrv9001.ActionOf(err)
		return s
	}

	s.SystemState = rs.SystemState
	s.BootState = rs.BootState
	s.Channels = [4]adrv9001.ChannelState{
		rs.ChannelStates[0][0], rs.ChannelStates[0][1],
		rs.ChannelStates[1][0], rs.ChannelStates[1][1],
	}

	action, lastErr := src.LastError()
	s.LastAction = action
	switch {
	case lastErr == nil:
		s.Health = HealthOK
	case errors.Is(lastErr, adrv9001.ErrInvalidParameter),
		errors.Is(lastErr, adrv9001.ErrInvalidState),
		errors.Is(lastErr, adrv9001.ErrMailboxBusy):
		// rejected requests leave the device healthy
		s.Health = HealthOK
	default:
		s.Health = HealthError
	}
	return s
}
