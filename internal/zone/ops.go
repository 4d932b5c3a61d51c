package zone

import (
	"github.com/snu-csl/go-bius/internal/constants"
	"github.com/snu-csl/go-bius/internal/status"
)

// RecordRead accounts a completed read against its owning zone's stats.
// Reads carry no zone-condition transition.
func (t *Table) RecordRead(offsetBytes uint64, length int) {
	zone := t.ZoneNumber(offsetBytes)
	zi := &t.zones[zone]
	zi.mu.Lock()
	t.stats[zone].ReadBytes += uint64(length)
	zi.mu.Unlock()
}

// WriteCommon validates and advances the write pointer for a write (or,
// when append is true, a zone-append) of length bytes. It returns the
// status to report and, for a successful call, the byte offset the actual
// write should target — the caller-supplied offsetBytes for a plain
// write, or the zone's current write pointer for an append. The actual
// data write must happen only after this call returns Ok, and only at the
// returned offset; this method itself performs no I/O, matching
// zoned_write_common's locked-bookkeeping/unlocked-I/O split.
func (t *Table) WriteCommon(offsetBytes uint64, length int, isAppend bool) (status.BlockStatus, uint64) {
	zone := t.ZoneNumber(offsetBytes)
	zi := &t.zones[zone]
	zi.mu.Lock()
	defer zi.mu.Unlock()

	writeOffset := offsetBytes

	if zi.Type == TypeConventional {
		if isAppend {
			return status.IoError, 0
		}
	} else {
		if isAppend {
			writeOffset = zi.WP * constants.SectorSize
		} else if zi.WP*constants.SectorSize != offsetBytes {
			return status.IoError, 0
		}

		if (zi.Start+zi.Capacity)*constants.SectorSize < writeOffset+uint64(length) {
			return status.IoError, 0
		}

		switch zi.Cond {
		case CondEmpty, CondClosed:
			if res := t.openZoneLocked(zone, false); res != status.Ok {
				return res, 0
			}
		case CondImpOpen, CondExpOpen:
		default:
			return status.IoError, 0
		}

		zi.WP += uint64(length) / constants.SectorSize

		if zi.WP == zi.Start+zi.Capacity {
			t.markZoneFullLocked(zone)
		}
	}

	t.stats[zone].WrittenBytes += uint64(length)
	return status.Ok, writeOffset
}

// Write is WriteCommon for a plain positional write.
func (t *Table) Write(offsetBytes uint64, length int) status.BlockStatus {
	res, _ := t.WriteCommon(offsetBytes, length, false)
	return res
}

// AppendZone is WriteCommon for a zone-append; it reports the effective
// write offset the caller must actually write to.
func (t *Table) AppendZone(offsetBytes uint64, length int) (status.BlockStatus, uint64) {
	return t.WriteCommon(offsetBytes, length, true)
}

// ReportZones copies up to nrZones consecutive zone descriptors starting
// at the zone containing offsetBytes.
func (t *Table) ReportZones(offsetBytes uint64, nrZones int) []Descriptor {
	start := int(t.ZoneNumber(offsetBytes))
	if remaining := len(t.zones) - start; nrZones > remaining {
		nrZones = remaining
	}
	if nrZones < 0 {
		nrZones = 0
	}

	out := make([]Descriptor, nrZones)
	for i := 0; i < nrZones; i++ {
		zi := &t.zones[start+i]
		zi.mu.Lock()
		out[i] = Descriptor{
			Start:    zi.Start,
			Len:      zi.Len,
			Capacity: zi.Capacity,
			WP:       zi.WP,
			Type:     zi.Type,
			Cond:     zi.Cond,
		}
		zi.mu.Unlock()
	}
	return out
}

// OpenZone explicitly opens the zone at offsetBytes.
func (t *Table) OpenZone(offsetBytes uint64) status.BlockStatus {
	zone := t.ZoneNumber(offsetBytes)
	zi := &t.zones[zone]
	zi.mu.Lock()
	defer zi.mu.Unlock()

	switch zi.Cond {
	case CondEmpty, CondImpOpen, CondClosed:
		return t.openZoneLocked(zone, true)
	case CondExpOpen:
		return status.Ok
	default:
		return status.IoError
	}
}

// CloseZone closes the zone at offsetBytes, reverting it to empty if
// nothing has been written since the last reset.
func (t *Table) CloseZone(offsetBytes uint64) status.BlockStatus {
	zone := t.ZoneNumber(offsetBytes)
	zi := &t.zones[zone]
	zi.mu.Lock()
	defer zi.mu.Unlock()

	t.globalMu.Lock()
	defer t.globalMu.Unlock()

	switch zi.Cond {
	case CondImpOpen:
		t.numImpOpenZones--
		fallthrough
	case CondExpOpen:
		t.numOpenZones--
		fallthrough
	case CondClosed:
		if zi.WP == zi.Start {
			zi.Cond = CondEmpty
			t.numActiveZones--
		} else {
			zi.Cond = CondClosed
		}
		return status.Ok
	default:
		return status.IoError
	}
}

// FinishZone forces the zone at offsetBytes to the full condition.
func (t *Table) FinishZone(offsetBytes uint64) status.BlockStatus {
	zone := t.ZoneNumber(offsetBytes)
	zi := &t.zones[zone]
	zi.mu.Lock()
	defer zi.mu.Unlock()
	return t.markZoneFullLocked(zone)
}

// ResetZone resets the zone at offsetBytes back to empty. On success it
// reports the (offset, length) in bytes the caller should discard on the
// backend, mirroring raw_discard's unlocked call after zoned_reset_zone
// releases both locks.
func (t *Table) ResetZone(offsetBytes uint64) (status.BlockStatus, uint64, uint64) {
	zone := t.ZoneNumber(offsetBytes)
	zi := &t.zones[zone]
	zi.mu.Lock()
	defer zi.mu.Unlock()

	t.stats[zone].ResetCount++
	t.stats[zone].DiscardBytes += (zi.WP - zi.Start) * constants.SectorSize

	t.globalMu.Lock()
	defer t.globalMu.Unlock()

	switch zi.Cond {
	case CondEmpty:
		return status.Ok, 0, 0
	case CondImpOpen:
		t.numImpOpenZones--
		fallthrough
	case CondExpOpen:
		t.numOpenZones--
		fallthrough
	case CondClosed:
		t.numActiveZones--
		fallthrough
	case CondFull:
		zi.Cond = CondEmpty
		zi.WP = zi.Start
		return status.Ok, zi.Start * constants.SectorSize, zi.Len * constants.SectorSize
	default:
		return status.IoError, 0, 0
	}
}

// ResetAllZones reinitializes every zone's state to its power-on default.
// It reports the (offset, length) the caller should discard across the
// whole disk.
func (t *Table) ResetAllZones(diskBytes uint64) (uint64, uint64) {
	for i := range t.zones {
		t.zones[i].mu.Lock()
	}
	t.globalMu.Lock()
	t.resetAllLocked()
	t.globalMu.Unlock()
	for i := range t.zones {
		t.zones[i].mu.Unlock()
	}

	return 0, diskBytes
}

// Stats returns a copy of the per-zone accumulated counters.
func (t *Table) Stats(zone uint32) Stat {
	zi := &t.zones[zone]
	zi.mu.Lock()
	defer zi.mu.Unlock()
	return t.stats[zone]
}
