package backend

import (
	"fmt"

	"github.com/snu-csl/go-bius/internal/interfaces"
)

// ZonedMemory adapts Memory into an interfaces.ZonedBackend. The
// condition/write-pointer bookkeeping for every zone call below is
// already enforced by internal/zone.Table before the worker pool ever
// reaches these methods, so ZonedMemory only needs to perform (or
// reject) the underlying bytes: a zone-append writes at the effective
// offset it is given. Reset and reset-all do nothing here; internal/worker
// zeroes the affected range with Memory.Discard before calling them.
type ZonedMemory struct {
	*Memory
}

// NewZonedMemory wraps a fresh Memory backend of the given size as a
// zoned backend.
func NewZonedMemory(size int64) *ZonedMemory {
	return &ZonedMemory{Memory: NewMemory(size)}
}

// ReportZones is a no-op at the backend layer: the zone table (not the
// backend) owns zone geometry and condition, so this method exists only
// to satisfy ZonedBackend's shape. internal/worker never calls it —
// report-zones is served directly from internal/zone.Table.
func (z *ZonedMemory) ReportZones(offset int64, nrZones int) ([]interfaces.ZoneDescriptor, error) {
	return nil, fmt.Errorf("backend: ReportZones is served by the zone table, not the backend")
}

// OpenZone, CloseZone and FinishZone carry no backend-side effect for a
// memory-backed zoned device: there is no on-disk zone header to flip.
func (z *ZonedMemory) OpenZone(offset int64) error   { return nil }
func (z *ZonedMemory) CloseZone(offset int64) error  { return nil }
func (z *ZonedMemory) FinishZone(offset int64) error { return nil }

// ResetZone has no byte-level work of its own. internal/worker's
// handleZoneReset has already discarded the zone's whole range (the start
// and length internal/zone.Table.ResetZone reported) before calling it,
// and passes the request's own offset, which may lie anywhere in the
// zone; this method only exists to satisfy the interface.
func (z *ZonedMemory) ResetZone(offset int64) error { return nil }

// ResetAllZones mirrors ResetZone: internal/worker's handleZoneResetAll
// already issues the whole-disk Discard directly against Memory.
func (z *ZonedMemory) ResetAllZones() error { return nil }

// AppendZone writes p at effectiveOffset, the write pointer position
// internal/zone.Table has already resolved and validated.
func (z *ZonedMemory) AppendZone(p []byte, effectiveOffset int64) (int64, error) {
	n, err := z.WriteAt(p, effectiveOffset)
	if err != nil {
		return 0, err
	}
	return effectiveOffset + int64(n), nil
}

var (
	_ interfaces.Backend      = (*ZonedMemory)(nil)
	_ interfaces.ZonedBackend = (*ZonedMemory)(nil)
)
