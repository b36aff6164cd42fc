package transport

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// ADRV9001 RESETB timing: active low, held for at least 1 ms, then 5 ms
// before the first SPI access.
const (
	resetAssertTime  = 1 * time.Millisecond
	resetRecoverTime = 5 * time.Millisecond
)

// ResetLine drives the transceiver RESETB pin through the GPIO character device
type ResetLine struct {
	chip     *gpiocdev.Chip
	line     *gpiocdev.Line
	chipPath string
	pin      int
}

// OpenResetLine requests pin on chipPath as an output, initially released (high).
func OpenResetLine(chipPath string, pin int) (*ResetLine, error) {
	chip, err := gpiocdev.NewChip(chipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipPath, err)
	}

	line, err := chip.RequestLine(
		pin,
		gpiocdev.AsOutput(1),
		gpiocdev.WithConsumer("adrv9001-resetb"),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to request reset pin %d: %w", pin, err)
	}

	return &ResetLine{chip: chip, line: line, chipPath: chipPath, pin: pin}, nil
}

// Close releases the line and the chip
func (r *ResetLine) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close reset line: %w", err))
		}
		r.line = nil
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close GPIO chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing GPIO: %v", errs)
	}
	return nil
}

// Pulse asserts RESETB, releases it and waits for the part to come out of reset.
func (r *ResetLine) Pulse() error {
	if r.line == nil {
		return fmt.Errorf("reset line not initialized")
	}

	if err := r.line.SetValue(0); err != nil {
		return fmt.Errorf("failed to assert reset: %w", err)
	}
	time.Sleep(resetAssertTime)

	if err := r.line.SetValue(1); err != nil {
		return fmt.Errorf("failed to release reset: %w", err)
	}
	time.Sleep(resetRecoverTime)

	return nil
}

// Asserted reports whether RESETB is currently driven low
func (r *ResetLine) Asserted() (bool, error) {
	if r.line == nil {
		return false, fmt.Errorf("reset line not initialized")
	}

	value, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("failed to read reset pin: %w", err)
	}
	return value == 0, nil
}

func (r *ResetLine) String() string {
	if r.chip == nil {
		return fmt.Sprintf("%s (closed)", r.chipPath)
	}
	return fmt.Sprintf("%s (%s) pin %d", r.chipPath, r.chip.Label, r.pin)
}
