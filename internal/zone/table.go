package zone

import (
	"sync"

	"github.com/snu-csl/go-bius/internal/constants"
	"github.com/snu-csl/go-bius/internal/status"
)

// Table owns every zone's Info, its Stat, and the process-wide open/active
// zone budget for one device. The zone-then-global lock ordering enforced
// throughout this file matches zoned-common.h; no method acquires the
// global lock without already holding (or not needing) the relevant
// zone's lock first.
type Table struct {
	globalMu sync.Mutex

	zones []Info
	stats []Stat

	zoneSectors          uint64
	numConventionalZones uint32
	maxOpenZones         uint32
	maxActiveZones       uint32
	numOpenZones         uint32
	numImpOpenZones      uint32
	numActiveZones       uint32
}

// NewTable builds a zone table for a disk of diskBytes total size, divided
// into zones of zoneBytes each, with the first numConventional zones
// marked conventional (no write pointer) and the rest sequential-write
// required.
func NewTable(diskBytes, zoneBytes uint64, numConventional, maxOpenZones, maxActiveZones uint32) *Table {
	numZones := uint32(diskBytes / zoneBytes)
	zoneSectors := zoneBytes / constants.SectorSize

	t := &Table{
		zones:                make([]Info, numZones),
		stats:                make([]Stat, numZones),
		zoneSectors:          zoneSectors,
		numConventionalZones: numConventional,
		maxOpenZones:         maxOpenZones,
		maxActiveZones:       maxActiveZones,
	}
	t.resetAllLocked()
	return t
}

// NumZones reports the zone count.
func (t *Table) NumZones() int {
	return len(t.zones)
}

// ZoneNumber maps a byte offset to its owning zone index.
func (t *Table) ZoneNumber(offsetBytes uint64) uint32 {
	return uint32(offsetBytes / (t.zoneSectors * constants.SectorSize))
}

func (t *Table) resetAllLocked() {
	for i := range t.zones {
		z := &t.zones[i]
		start := t.zoneSectors * uint64(i)
		z.Start = start
		z.Len = t.zoneSectors
		z.Capacity = t.zoneSectors
		z.WP = start
		if uint32(i) < t.numConventionalZones {
			z.Type = TypeConventional
			z.Cond = CondNotWP
		} else {
			z.Type = TypeSeqwriteReq
			z.Cond = CondEmpty
		}
	}
	t.numOpenZones = 0
	t.numImpOpenZones = 0
	t.numActiveZones = 0
}

// closeImpOpenZoneLocked evicts one implicitly-open zone other than
// zoneToSkip to make room in the open-zone budget. Caller must hold
// t.globalMu; it additionally takes the victim zone's own lock.
func (t *Table) closeImpOpenZoneLocked(zoneToSkip uint32) {
	for z := t.numConventionalZones; z < uint32(len(t.zones)); z++ {
		if z == zoneToSkip {
			continue
		}
		zi := &t.zones[z]
		zi.mu.Lock()
		if zi.Cond == CondImpOpen {
			zi.Cond = CondClosed
			t.numOpenZones--
			t.numImpOpenZones--
			zi.mu.Unlock()
			return
		}
		zi.mu.Unlock()
	}
}

// openZoneLocked runs the shared empty/closed -> open transition. Caller
// must hold the target zone's lock; this method takes and releases
// t.globalMu internally.
func (t *Table) openZoneLocked(zone uint32, explicit bool) status.BlockStatus {
	t.globalMu.Lock()
	defer t.globalMu.Unlock()

	zi := &t.zones[zone]
	switch zi.Cond {
	case CondImpOpen:
		if explicit {
			t.numImpOpenZones--
			zi.Cond = CondExpOpen
		}
		return status.Ok
	case CondExpOpen:
		return status.Ok
	case CondEmpty:
		if t.numActiveZones >= t.maxActiveZones {
			return status.ZoneActiveResource
		}
		t.numActiveZones++
		fallthrough
	case CondClosed:
		if t.numOpenZones >= t.maxOpenZones {
			if t.numImpOpenZones > 0 {
				t.closeImpOpenZoneLocked(zone)
			} else {
				return status.ZoneOpenResource
			}
		}
		t.numOpenZones++
		if explicit {
			zi.Cond = CondExpOpen
		} else {
			t.numImpOpenZones++
			zi.Cond = CondImpOpen
		}
		return status.Ok
	default:
		return status.IoError
	}
}

// markZoneFullLocked runs the shared ->full transition, decrementing
// whichever of the open/active counters the zone's prior condition held.
// Caller must hold the target zone's lock.
func (t *Table) markZoneFullLocked(zone uint32) status.BlockStatus {
	t.globalMu.Lock()
	defer t.globalMu.Unlock()

	zi := &t.zones[zone]
	switch zi.Cond {
	case CondImpOpen:
		t.numImpOpenZones--
		fallthrough
	case CondExpOpen:
		t.numOpenZones--
		fallthrough
	case CondClosed:
		t.numActiveZones--
		fallthrough
	case CondEmpty, CondFull:
		zi.Cond = CondFull
		zi.WP = zi.Start + zi.Len
		return status.Ok
	default:
		return status.IoError
	}
}
