package adrv9001

import (
	"iter"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// maxWarmBootEntries bounds the entry count read from the table header.
const maxWarmBootEntries = 256

// WarmBootEntry describes one block of calibration coefficients in ARM
// memory.
type WarmBootEntry struct {
	Index       int    `json:"index" yaml:"index"`
	Address     uint32 `json:"address" yaml:"address"`
	Size        uint32 `json:"size" yaml:"size"`
	InitMask    uint32 `json:"init_mask" yaml:"init_mask"`
	ProfileMask uint32 `json:"profile_mask" yaml:"profile_mask"`
}

// WarmBootCoefficients is the content of one entry.
type WarmBootCoefficients struct {
	Entry WarmBootEntry `json:"entry" yaml:"entry"`
	Data  []byte        `json:"data" yaml:"data"`
}

type warmBootHeader struct {
	entryCount      uint32
	entriesAddress  uint32
	coeffBytesTotal uint32
}

func (d *Device) readWarmBootHeader(op string) (warmBootHeader, error) {
	var h warmBootHeader
	release, err := d.lease(op)
	if err != nil {
		return h, err
	}
	defer release()

	var words [4]uint32
	if err := d.memRead32(regs.WarmBootTableHeader, words[:], true); err != nil {
		return h, err
	}
	h = warmBootHeader{entryCount: words[0], entriesAddress: words[1], coeffBytesTotal: words[2]}
	if h.entryCount > maxWarmBootEntries {
		return h, paramError(op, "warm boot table claims %d entries, at most %d supported", h.entryCount, maxWarmBootEntries)
	}
	return h, nil
}

func (d *Device) readWarmBootEntry(op string, h warmBootHeader, i int) (WarmBootEntry, error) {
	release, err := d.lease(op)
	if err != nil {
		return WarmBootEntry{}, err
	}
	defer release()

	var words [4]uint32
	if err := d.memRead32(h.entriesAddress+uint32(16*i), words[:], true); err != nil {
		return WarmBootEntry{}, err
	}
	return WarmBootEntry{Index: i, Address: words[0], Size: words[1], InitMask: words[2], ProfileMask: words[3]}, nil
}

// WarmBootEntries walks the warm boot table one entry per step. The header
// is read again every time the sequence is ranged over, and each step takes
// the mailbox lease only for its own read, so the loop body may call other
// Device methods. The first error ends the sequence.
func (d *Device) WarmBootEntries() iter.Seq2[WarmBootEntry, error] {
	const op = "warm boot entries"
	return func(yield func(WarmBootEntry, error) bool) {
		h, err := d.readWarmBootHeader(op)
		if err != nil {
			yield(WarmBootEntry{}, d.record(err))
			return
		}
		for i := range int(h.entryCount) {
			e, err := d.readWarmBootEntry(op, h, i)
			if err != nil {
				yield(WarmBootEntry{}, d.record(err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// matches reports whether e belongs to a calibration in cals on a channel
// pair whose profile mask overlaps the entry's.
func (e WarmBootEntry) matches(cals InitCals, profileMasks [2]uint32) bool {
	for i := range 2 {
		if e.InitMask&(cals.SysInitCalMask|cals.ChanInitCalMask[i]) != 0 && e.ProfileMask&profileMasks[i] != 0 {
			return true
		}
	}
	return false
}

// WarmBootCoefficientsGet reads the coefficients of every table entry that
// cals would have produced for the loaded profile.
func (d *Device) WarmBootCoefficientsGet(cals InitCals) ([]WarmBootCoefficients, error) {
	const op = "warm boot coefficients get"
	var out []WarmBootCoefficients
	for e, err := range d.WarmBootEntries() {
		if err != nil {
			return nil, err
		}
		if !e.matches(cals, d.profileMasks) || e.Size == 0 {
			continue
		}
		data := make([]byte, e.Size)
		release, err := d.lease(op)
		if err != nil {
			return nil, d.record(err)
		}
		err = d.memRead(e.Address, data, true)
		release()
		if err != nil {
			return nil, d.record(err)
		}
		out = append(out, WarmBootCoefficients{Entry: e, Data: data})
	}
	d.log.Info("warm boot coefficients read", "entries", len(out))
	return out, nil
}

// WarmBootCoefficientsSet writes previously saved coefficients back to
// their table addresses. Every block is validated before the first write.
func (d *Device) WarmBootCoefficientsSet(coeffs []WarmBootCoefficients) error {
	const op = "warm boot coefficients set"
	for _, c := range coeffs {
		if uint32(len(c.Data)) != c.Entry.Size {
			return d.record(paramError(op, "entry %d holds %d bytes, table size is %d", c.Entry.Index, len(c.Data), c.Entry.Size))
		}
		if len(c.Data) == 0 {
			continue
		}
		if err := validateMemoryAccess(op, c.Entry.Address, len(c.Data), WriteModeStandardBytes4); err != nil {
			return d.record(err)
		}
	}

	release, err := d.lease(op)
	if err != nil {
		return d.record(err)
	}
	defer release()
	for _, c := range coeffs {
		if len(c.Data) == 0 {
			continue
		}
		if err := d.memWrite(c.Entry.Address, c.Data, WriteModeStandardBytes4); err != nil {
			return d.record(err)
		}
	}
	d.log.Info("warm boot coefficients restored", "entries", len(coeffs))
	return nil
}
