// Package adrv9001 drives the ADRV9001 transceiver through its ARM
// coprocessor: DMA access to ARM memory, the mailbox command protocol, the
// per-channel state machine, calibrations and the feature clients built on
// top of them.
package adrv9001

import (
	"log/slog"
	"sync"
	"time"

	"github.com/linht/adrv-manager/internal/transport"
)

// DevState is the sticky boot/init progress bitmask of a device.
type DevState uint32

const (
	StatePowerOnReset   DevState = 1 << 0
	StateAnaInitialized DevState = 1 << 1
	StateStreamLoaded   DevState = 1 << 2
	StateArmLoaded      DevState = 1 << 3
	StateInitCalsRun    DevState = 1 << 4
)

// Clock abstracts time for the polling loops
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

// Timeouts bounds the mailbox completion waits.
type Timeouts struct {
	Default       time.Duration // SET/GET and generic commands
	RadioOnOff    time.Duration // RADIOON/RADIOOFF/POWERUP/POWERDOWN
	ReadArmConfig time.Duration // GET for ConfigRead
	InitCals      time.Duration // RUNINIT when the caller passes 0
}

// DefaultTimeouts returns the timeouts used when Options leaves them zero.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:       1 * time.Second,
		RadioOnOff:    100 * time.Millisecond,
		ReadArmConfig: 1 * time.Second,
		InitCals:      60 * time.Second,
	}
}

// Poll intervals
const (
	mailboxBusyTimeout   = 1 * time.Second
	mailboxBusyInterval  = 100 * time.Microsecond
	defaultWaitInterval  = 1 * time.Millisecond
	radioOnOffInterval   = 1 * time.Millisecond
	initCalsWaitInterval = 10 * time.Millisecond
	disableRfTimeout     = 500 * time.Millisecond
	disableRfInterval    = 1 * time.Millisecond
)

// Options configures a Device. Zero values select the defaults.
type Options struct {
	Clock               Clock
	Logger              *slog.Logger
	Timeouts            Timeouts
	InitializedChannels uint8     // mailbox channel mask of channels in the loaded profile
	ProfileMasks        [2]uint32 // per channel pair profile enable mask, used by warm boot
}

// Device is one ADRV9001 behind a transport.
type Device struct {
	tr       transport.Transport
	clock    Clock
	log      *slog.Logger
	timeouts Timeouts

	initializedChannels uint8
	profileMasks        [2]uint32

	// mailbox is held for every write, wait and read-back sequence
	mailbox sync.Mutex
	// bus is held for each transport transaction, and across a streaming
	// write or a read-modify-write
	bus sync.Mutex

	mu         sync.Mutex
	devState   DevState
	lastErr    error
	lastAction RecoveryAction
}

// New returns a Device using tr for all register traffic.
func New(tr transport.Transport, opts Options) *Device {
	d := &Device{
		tr:                  tr,
		clock:               opts.Clock,
		log:                 opts.Logger,
		timeouts:            opts.Timeouts,
		initializedChannels: opts.InitializedChannels,
		profileMasks:        opts.ProfileMasks,
	}
	if d.clock == nil {
		d.clock = SystemClock()
	}
	if d.log == nil {
		d.log = slog.Default()
	}

	def := DefaultTimeouts()
	if d.timeouts.Default == 0 {
		d.timeouts.Default = def.Default
	}
	if d.timeouts.RadioOnOff == 0 {
		d.timeouts.RadioOnOff = def.RadioOnOff
	}
	if d.timeouts.ReadArmConfig == 0 {
		d.timeouts.ReadArmConfig = def.ReadArmConfig
	}
	if d.timeouts.InitCals == 0 {
		d.timeouts.InitCals = def.InitCals
	}
	return d
}

// Close closes the underlying transport
func (d *Device) Close() error {
	return d.tr.Close()
}

// DevState returns the accumulated boot/init state.
func (d *Device) DevState() DevState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devState
}

// MarkState ORs s into the device state. Bits are never cleared.
func (d *Device) MarkState(s DevState) {
	d.mu.Lock()
	d.devState |= s
	d.mu.Unlock()
}

// InitializedChannels returns the mailbox mask of profile channels.
func (d *Device) InitializedChannels() uint8 {
	return d.initializedChannels
}

// LastError returns the recovery action and error of the most recent failed
// Device call.
func (d *Device) LastError() (RecoveryAction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAction, d.lastErr
}

// record stores err as the last error and returns it unchanged.
func (d *Device) record(err error) error {
	if err == nil {
		return nil
	}
	action := ActionOf(err)
	d.mu.Lock()
	d.lastErr = err
	d.lastAction = action
	d.mu.Unlock()
	d.log.Warn("adrv9001 operation failed", "error", err, "action", action.String())
	return err
}

// lease takes exclusive use of the mailbox. It fails immediately if
// another command sequence is in flight.
func (d *Device) lease(op string) (func(), error) {
	if !d.mailbox.TryLock() {
		return nil, &Error{Kind: ErrMailboxBusy, Action: ActionNone, Op: op, Msg: "another mailbox command is in progress"}
	}
	return d.mailbox.Unlock, nil
}
