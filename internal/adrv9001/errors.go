package adrv9001

import (
	"errors"
	"fmt"
	"strings"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// Error kinds. Every error returned by this package matches exactly one of
// these with errors.Is.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidState     = errors.New("invalid channel state")
	ErrTransport        = errors.New("transport error")
	ErrArmCommand       = errors.New("arm command error")
	ErrTimeout          = errors.New("timeout")
	ErrMailboxBusy      = errors.New("mailbox busy")
)

// RecoveryAction tells the caller what it has to do before retrying.
type RecoveryAction int

const (
	ActionNone           RecoveryAction = iota
	ActionCheckParam                    // fix the arguments
	ActionCheckState                    // bring the channel to the required state
	ActionResetInterface                // reset the SPI interface
	ActionResetArm                      // reload the ARM firmware
	ActionRerunInitCals                 // run InitCals again
	ActionResetDevice                   // full hardware reset
)

var actionNames = map[RecoveryAction]string{
	ActionNone:           "none",
	ActionCheckParam:     "check_param",
	ActionCheckState:     "check_state",
	ActionResetInterface: "reset_interface",
	ActionResetArm:       "reset_arm",
	ActionRerunInitCals:  "rerun_init_cals",
	ActionResetDevice:    "reset_device",
}

func (a RecoveryAction) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Error is the error type returned by Device methods
type Error struct {
	Kind   error          // one of the Err* kinds
	Action RecoveryAction // what the caller should do
	Op     string         // operation that failed
	Msg    string         // diagnostic text, may be empty
	Err    error          // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("adrv9001: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ActionOf returns the recovery action carried by err, ActionNone for nil
// and ActionResetDevice for errors that did not come from this package.
func ActionOf(err error) RecoveryAction {
	if err == nil {
		return ActionNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Action
	}
	var ae *ArmCommandError
	if errors.As(err, &ae) {
		return ae.Action
	}
	return ActionResetDevice
}

func paramError(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidParameter, Action: ActionCheckParam, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func stateError(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidState, Action: ActionCheckState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func transportError(op string, err error) error {
	return &Error{Kind: ErrTransport, Action: ActionResetInterface, Op: op, Err: err}
}

func timeoutError(op string, action RecoveryAction, format string, args ...any) error {
	return &Error{Kind: ErrTimeout, Action: action, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ArmCommandError describes a mailbox command that completed with a
// non-zero error flag.
type ArmCommandError struct {
	Opcode      uint8
	ObjectID    regs.ObjectID
	ErrorFlag   uint8  // 1..7
	MailboxCode uint16 // object<<8 | code, only read when ErrorFlag is 7
	Action      RecoveryAction
}

func (e *ArmCommandError) Error() string {
	name := regs.OpcodeNames[e.Opcode]
	if name == "" {
		name = fmt.Sprintf("0x%02X", e.Opcode)
	}
	if e.ErrorFlag == errFlagCommandError {
		return fmt.Sprintf("%s %s failed: %s (mailbox code 0x%04X)", name, e.ObjectID, e.Message(), e.MailboxCode)
	}
	return fmt.Sprintf("%s %s failed: %s (flag %d)", name, e.ObjectID, e.Message(), e.ErrorFlag)
}

// Message returns the human-readable description of the failure
func (e *ArmCommandError) Message() string {
	if e.ErrorFlag == errFlagCommandError {
		if msg := mailboxCodeMessage(e.MailboxCode); msg != "" {
			return msg
		}
	}
	if int(e.ErrorFlag) < len(errorFlagMessages) {
		return errorFlagMessages[e.ErrorFlag]
	}
	return "unknown error"
}

// Error flag values decoded from a command status nibble
const (
	errFlagNestedCommand = 1
	errFlagUnsupported   = 2
	errFlagInvalidState  = 3
	errFlagCommandError  = 7
)

var errorFlagMessages = [...]string{
	"no error",
	"nested mailbox command",
	"command not supported",
	"command issued in invalid state",
	"reserved error 4",
	"reserved error 5",
	"reserved error 6",
	"command error",
}

// Mailbox error codes are grouped in 0x2000 wide ranges by the firmware
// module that raised them.
var mailboxCodeRanges = [...]string{
	"init calibration error",
	"tracking calibration error",
	"SET command error",
	"GET command error",
	"CONFIG command error",
	"driver error",
	"system error",
}

func mailboxCodeMessage(code uint16) string {
	if code < 0x2000 {
		return ""
	}
	return mailboxCodeRanges[(code-0x2000)/0x2000]
}

// recoveryKey selects an entry of the recovery table. ObjectID 0 matches
// any object for the opcode.
type recoveryKey struct {
	opcode   uint8
	objectID regs.ObjectID
}

var recoveryTable = map[recoveryKey]RecoveryAction{
	{regs.OpRunInit, 0}:                                ActionRerunInitCals,
	{regs.OpRadioOn, 0}:                                ActionCheckState,
	{regs.OpRadioOff, 0}:                               ActionCheckState,
	{regs.OpPowerDown, 0}:                              ActionCheckState,
	{regs.OpSet, regs.ObjIDGsTrackingCalEnable}:        ActionCheckState,
	{regs.OpGet, regs.ObjIDGoIlbElbPathDelayDiff}:      ActionRerunInitCals,
	{regs.OpSet, regs.ObjIDGsChannelCarrierFrequency}: ActionCheckParam,
}

func defaultRecovery(flag uint8) RecoveryAction {
	switch flag {
	case 0:
		return ActionNone
	case errFlagNestedCommand:
		return ActionNone
	case errFlagUnsupported:
		return ActionCheckParam
	case errFlagInvalidState:
		return ActionCheckState
	case errFlagCommandError:
		return ActionCheckParam
	default:
		return ActionResetArm
	}
}

// recoveryFor resolves the action for a failed command. Flags that point at
// the caller (unsupported, invalid state) keep their default; everything
// else is looked up by (opcode, object ID) first.
func recoveryFor(opcode uint8, objectID regs.ObjectID, flag uint8) RecoveryAction {
	if flag == errFlagUnsupported || flag == errFlagInvalidState {
		return defaultRecovery(flag)
	}
	if a, ok := recoveryTable[recoveryKey{opcode, objectID}]; ok {
		return a
	}
	if a, ok := recoveryTable[recoveryKey{opcode, 0}]; ok {
		return a
	}
	return defaultRecovery(flag)
}
