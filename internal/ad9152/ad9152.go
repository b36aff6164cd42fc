// Package ad9152 brings up the AD9152 dual DAC and its JESD204B link with
// a fixed register sequence.
package ad9152

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Registers
const (
	RegSpiIntfConfA  = 0x000
	RegChipType      = 0x003
	RegProductIDLow  = 0x004
	RegProductIDHigh = 0x005
	RegPowerCtrl     = 0x011
	RegSerdesPllCtrl = 0x280
	RegSerdesPllStat = 0x281
	RegCdrOverSamp   = 0x230
	RegSerdesRate    = 0x289
	RegCodeGrpSync   = 0x470
	RegFrameSync     = 0x471
	RegGoodChecksum  = 0x472
	RegInitLaneSync  = 0x473
)

// ChipID is the value of RegChipType on an AD9152.
const ChipID = 0x52

const (
	serdesPllLocked = 0x01

	minLaneRateKbps = 1_440_000
	maxLaneRateKbps = 12_380_000
)

var (
	// ErrChipID is returned when RegChipType does not read ChipID.
	ErrChipID = errors.New("ad9152: unexpected chip id")
	// ErrPllUnlocked is returned when the SERDES PLL did not lock.
	ErrPllUnlocked = errors.New("ad9152: serdes pll not locked")
	// ErrLaneRate is returned for a lane rate the SERDES cannot run at.
	ErrLaneRate = errors.New("ad9152: lane rate out of range")
)

// Bus is single register access, as provided by transport.RegisterBus.
type Bus interface {
	ReadRegister(addr uint16) (uint8, error)
	WriteRegister(addr uint16, value uint8) error
}

// InitParam configures Setup.
type InitParam struct {
	LaneRateKbps uint32
	Logger       *slog.Logger
}

type regWrite struct {
	addr  uint16
	value uint8
}

// powerUp enables the DACs, clock receivers and calibrates the analog core.
var powerUp = []regWrite{
	{0x011, 0x00}, // dac, band gap and clock powered up
	{0x080, 0x04}, // clock receiver
	{0x081, 0x04}, // sysref receiver
	{0x1cd, 0xd8}, // band gap trim
	{0x0e8, 0x03}, // calibration select both dacs
	{0x0e9, 0x01}, // calibration clock divider
	{0x0e7, 0x30}, // calibration clock enable
	{0x0ed, 0xa2}, // calibration sample count
	{0x0e2, 0x01}, // start calibration
	{0x0e7, 0x00}, // calibration clock off
}

// jesdLink configures 4 lanes, 2 converters, 16 bit subclass 1.
var jesdLink = []regWrite{
	{0x200, 0x00}, // phy powered up
	{0x201, 0x00}, // all lanes powered up
	{0x300, 0x00}, // link disabled while configuring
	{0x450, 0x00}, // device id
	{0x451, 0x00}, // bank id
	{0x452, 0x00}, // lane id
	{0x453, 0x83}, // scrambling, L = 4
	{0x454, 0x00}, // F = 1
	{0x455, 0x1f}, // K = 32
	{0x456, 0x01}, // M = 2
	{0x457, 0x0f}, // N = 16, no control bits
	{0x458, 0x2f}, // subclass 1, NP = 16
	{0x459, 0x20}, // JESD204B, S = 1
	{0x45a, 0x80}, // high density
	{0x45d, 0x45}, // checksum of 0x450..0x45c
	{0x46c, 0x0f}, // lane deskew
	{0x476, 0x01}, // frames per lane
	{0x47d, 0x0f}, // lane enable
	{0x2aa, 0xb7}, // serdes interface termination
	{0x2ab, 0x87},
	{0x2b1, 0xb7},
	{0x2b2, 0x87},
	{0x2a7, 0x01},
	{0x2ae, 0x01},
	{0x314, 0x01}, // pclk from qbd master
}

// linkUp syncs and enables the link once the SERDES PLL is locked.
var linkUp = []regWrite{
	{0x268, 0x62}, // equalizer
	{0x203, 0x01}, // sync pin
	{0x253, 0x01}, // sysref one shot
	{0x254, 0x01},
	{0x210, 0x16},
	{0x216, 0x05},
	{0x212, 0xff},
	{0x212, 0x00},
	{0x210, 0x87},
	{0x216, 0x11},
	{0x213, 0x01},
	{0x213, 0x00},
	{0x300, 0x01}, // link enabled
}

// serdesRate returns the CDR oversampling and SERDES PLL divider for a
// lane rate.
func serdesRate(kbps uint32) (cdr, div uint8) {
	switch {
	case kbps < 2_880_000:
		return 0x2a, 0x06
	case kbps < 5_750_000:
		return 0x29, 0x05
	default:
		return 0x28, 0x04
	}
}

func writeAll(bus Bus, writes []regWrite) error {
	for _, w := range writes {
		if err := bus.WriteRegister(w.addr, w.value); err != nil {
			return err
		}
	}
	return nil
}

// Setup checks the chip ID and runs the power up, JESD204B link and SERDES
// sequence. Nothing is written when the chip ID does not match.
func Setup(bus Bus, param InitParam) error {
	log := param.Logger
	if log == nil {
		log = slog.Default()
	}
	if param.LaneRateKbps < minLaneRateKbps || param.LaneRateKbps > maxLaneRateKbps {
		return fmt.Errorf("%w: %d kbps outside %d..%d", ErrLaneRate, param.LaneRateKbps, minLaneRateKbps, maxLaneRateKbps)
	}

	id, err := bus.ReadRegister(RegChipType)
	if err != nil {
		return fmt.Errorf("failed to read chip id: %w", err)
	}
	if id != ChipID {
		return fmt.Errorf("%w: read 0x%02X, want 0x%02X", ErrChipID, id, ChipID)
	}

	if err := writeAll(bus, powerUp); err != nil {
		return fmt.Errorf("failed to power up: %w", err)
	}
	if err := writeAll(bus, jesdLink); err != nil {
		return fmt.Errorf("failed to configure link: %w", err)
	}

	cdr, div := serdesRate(param.LaneRateKbps)
	serdes := []regWrite{
		{RegCdrOverSamp, cdr},
		{0x206, 0x00}, // cdr reset
		{0x206, 0x01},
		{RegSerdesRate, div},
		{RegSerdesPllCtrl, 0x01},
	}
	if err := writeAll(bus, serdes); err != nil {
		return fmt.Errorf("failed to configure serdes: %w", err)
	}

	time.Sleep(20 * time.Millisecond)
	stat, err := bus.ReadRegister(RegSerdesPllStat)
	if err != nil {
		return fmt.Errorf("failed to read serdes pll status: %w", err)
	}
	if stat&serdesPllLocked == 0 {
		return fmt.Errorf("%w: status 0x%02X", ErrPllUnlocked, stat)
	}

	if err := writeAll(bus, linkUp); err != nil {
		return fmt.Errorf("failed to enable link: %w", err)
	}

	log.Info("ad9152 setup complete", "lane_rate_kbps", param.LaneRateKbps)
	return nil
}

// LinkStatus is the per-lane JESD204B receiver state, one bit per lane.
type LinkStatus struct {
	CodeGroupSync   uint8 `json:"code_group_sync"`
	FrameSync       uint8 `json:"frame_sync"`
	GoodChecksum    uint8 `json:"good_checksum"`
	InitialLaneSync uint8 `json:"initial_lane_sync"`
}

// Up reports whether every enabled lane passed all four checks.
func (s LinkStatus) Up(lanes uint8) bool {
	return s.CodeGroupSync&lanes == lanes && s.FrameSync&lanes == lanes &&
		s.GoodChecksum&lanes == lanes && s.InitialLaneSync&lanes == lanes
}

// Status reads the link status registers.
func Status(bus Bus) (LinkStatus, error) {
	var s LinkStatus
	fields := []struct {
		addr uint16
		dst  *uint8
	}{
		{RegCodeGrpSync, &s.CodeGroupSync},
		{RegFrameSync, &s.FrameSync},
		{RegGoodChecksum, &s.GoodChecksum},
		{RegInitLaneSync, &s.InitialLaneSync},
	}
	for _, f := range fields {
		v, err := bus.ReadRegister(f.addr)
		if err != nil {
			return s, fmt.Errorf("failed to read link status: %w", err)
		}
		*f.dst = v
	}
	return s, nil
}
