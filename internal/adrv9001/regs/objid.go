package regs

import "fmt"

// ObjectID tags the firmware structure addressed by a mailbox command.
// Bits 7:5 hold the group, bits 4:0 the item within the group.
type ObjectID uint8

// Object ID groups. Group 0 is never used so that 0 means "not set".
const (
	GroupUnused      uint8 = 0
	GroupInitCal     uint8 = 1 // IC
	GroupTrackingCal uint8 = 2 // TC
	GroupGetOnly     uint8 = 3 // GO
	GroupGetSet      uint8 = 4 // GS
	GroupConfig      uint8 = 5 // CFG
	GroupDriver      uint8 = 6 // DRV
	GroupSystem      uint8 = 7 // SYS
)

const (
	objIDGroupShift = 5
	objIDItemMask   = 0x1F
)

// GenerateObjectID packs a group and item into an object ID.
func GenerateObjectID(group, item uint8) ObjectID {
	return ObjectID((group << objIDGroupShift) | (item & objIDItemMask))
}

// Group returns bits 7:5.
func (o ObjectID) Group() uint8 {
	return uint8(o) >> objIDGroupShift
}

// Item returns bits 4:0.
func (o ObjectID) Item() uint8 {
	return uint8(o) & objIDItemMask
}

var groupNames = [...]string{"UNUSED", "IC", "TC", "GO", "GS", "CFG", "DRV", "SYS"}

func (o ObjectID) String() string {
	return fmt.Sprintf("%s_%02d(0x%02X)", groupNames[o.Group()], o.Item(), uint8(o))
}

// Object IDs used by this driver
var (
	// Tracking calibrations
	ObjIDTcTxDpd = GenerateObjectID(GroupTrackingCal, 0x06)

	// Get-only
	ObjIDGoIlbElbPathDelayDiff = GenerateObjectID(GroupGetOnly, 0x02)
	ObjIDGoRxPathDelayRead     = GenerateObjectID(GroupGetOnly, 0x03)
	ObjIDGoTxPathDelayRead     = GenerateObjectID(GroupGetOnly, 0x04)
	ObjIDGoPowerSavingConfig   = GenerateObjectID(GroupGetOnly, 0x0A)
	ObjIDGoMonitorModeConfig   = GenerateObjectID(GroupGetOnly, 0x0B)

	// Get/set
	ObjIDGsConfig                  = GenerateObjectID(GroupGetSet, 0x00)
	ObjIDGsChannelCarrierFrequency = GenerateObjectID(GroupGetSet, 0x01)
	ObjIDGsTrackingCalEnable       = GenerateObjectID(GroupGetSet, 0x02)
	ObjIDGsExternalPathDelay       = GenerateObjectID(GroupGetSet, 0x05)
	ObjIDGsPllLoopFilter           = GenerateObjectID(GroupGetSet, 0x08)
	ObjIDGsTddTimingParams         = GenerateObjectID(GroupGetSet, 0x0C)

	// Config
	ObjIDCfgPllConfig            = GenerateObjectID(GroupConfig, 0x01)
	ObjIDCfgBbdc                 = GenerateObjectID(GroupConfig, 0x03)
	ObjIDCfgDpdPreInitCal        = GenerateObjectID(GroupConfig, 0x06)
	ObjIDCfgDpdLutInitialization = GenerateObjectID(GroupConfig, 0x07)
	ObjIDCfgDpdFhRegions         = GenerateObjectID(GroupConfig, 0x09)
	ObjIDCfgMonitorModeRssi      = GenerateObjectID(GroupConfig, 0x0D)
)

// HIGHPRIORITY sub-commands carried in extended byte 1
const (
	HighPrioritySetPowerSavingConfig = 0x01
	HighPrioritySetMonitorModeConfig = 0x02
)
