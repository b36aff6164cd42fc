package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Publisher writes snapshots into the status block at Address on UnitID.
// The first write and the first write after any failure cover the whole
// block; otherwise only changed registers are written.
type Publisher struct {
	w       RegisterWriter
	unitID  uint8
	address uint16
	log     *slog.Logger

	needFull bool
	last     [BlockSize]uint16
}

// NewPublisher returns a Publisher writing through w.
func NewPublisher(w RegisterWriter, unitID uint8, address uint16, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		w:        w,
		unitID:   unitID,
		address:  address,
		log:      log,
		needFull: true,
	}
}

// Publish delivers one snapshot.
func (p *Publisher) Publish(s Snapshot) error {
	regs := Encode(s)

	if p.needFull {
		if err := p.w.WriteRegisters(p.unitID, p.address, regs[:]); err != nil {
			return fmt.Errorf("status: full block write failed: %w", err)
		}
		p.needFull = false
		p.last = regs
		return nil
	}

	var errs []error
	for slot := 0; slot < SlotReservedFrom; slot++ {
		if regs[slot] == p.last[slot] {
			continue
		}
		if err := p.w.WriteRegisters(p.unitID, p.address+uint16(slot), regs[slot:slot+1]); err != nil {
			errs = append(errs, fmt.Errorf("slot %d write failed: %w", slot, err))
			continue
		}
		p.last[slot] = regs[slot]
	}

	if len(errs) > 0 {
		p.needFull = true
		return fmt.Errorf("status: %w", errors.Join(errs...))
	}
	return nil
}

// Run publishes a snapshot of src every interval until ctx is done.
// Write failures are logged and retried on the next tick.
func (p *Publisher) Run(ctx context.Context, src Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false
	for {
		err := p.Publish(Take(src))
		switch {
		case err != nil && !failing:
			p.log.Warn("Status publish failed", "error", err)
			failing = true
		case err == nil && failing:
			p.log.Info("Status publish recovered")
			failing = false
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
