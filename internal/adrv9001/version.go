package adrv9001

import (
	"encoding/binary"
	"fmt"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// ArmBuildType tells how the loaded firmware image was built.
type ArmBuildType uint8

const (
	ArmBuildRelease ArmBuildType = iota
	ArmBuildDebug
	ArmBuildTestObject
)

func (b ArmBuildType) String() string {
	switch b {
	case ArmBuildRelease:
		return "release"
	case ArmBuildDebug:
		return "debug"
	case ArmBuildTestObject:
		return "test_object"
	default:
		return fmt.Sprintf("ArmBuildType(%d)", uint8(b))
	}
}

func (b ArmBuildType) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// ArmVersion is the version of the firmware running on the ARM.
type ArmVersion struct {
	Major       uint8        `json:"major"`
	Minor       uint8        `json:"minor"`
	Maintenance uint8        `json:"maintenance"`
	RcVersion   uint16       `json:"rc_version"`
	BuildType   ArmBuildType `json:"build_type"`
}

func (v ArmVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d (%s)", v.Major, v.Minor, v.Maintenance, v.RcVersion, v.BuildType)
}

const (
	armBuildDebugFlag   = 0x01
	armBuildTestObjFlag = 0x04
)

// decodeArmVersion decodes the 8 byte version block.
func decodeArmVersion(raw []byte) ArmVersion {
	word := binary.LittleEndian.Uint32(raw[0:4])
	v := ArmVersion{
		Major:       uint8(word >> 28 & 0x0F),
		Minor:       uint8(word >> 24 & 0x0F),
		Maintenance: uint8(word >> 16 & 0xFF),
		RcVersion:   uint16(word),
	}
	switch {
	case raw[4]&armBuildDebugFlag != 0:
		v.BuildType = ArmBuildDebug
	case raw[4]&armBuildTestObjFlag != 0:
		v.BuildType = ArmBuildTestObject
	}
	return v
}

// ArmVersion reads the firmware version. The firmware must be loaded.
func (d *Device) ArmVersion() (ArmVersion, error) {
	const op = "arm version"
	if d.DevState()&StateArmLoaded == 0 {
		return ArmVersion{}, d.record(stateError(op, "ARM firmware is not loaded"))
	}

	release, err := d.lease(op)
	if err != nil {
		return ArmVersion{}, d.record(err)
	}
	defer release()

	raw := make([]byte, 8)
	if err := d.memRead(regs.ArmVersionAddr, raw, true); err != nil {
		return ArmVersion{}, d.record(err)
	}
	return decodeArmVersion(raw), nil
}
