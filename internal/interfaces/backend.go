// Package interfaces provides internal interface definitions for go-bius.
// These are separate from the root package to avoid circular imports
// between it and the internal packages that need to reference a Backend
// without importing the root package.
package interfaces

import "github.com/snu-csl/go-bius/internal/status"

// Backend defines the interface every bius backend must implement to
// serve read/write/discard/flush. It is the Go analogue of struct
// bius_operations' non-zoned entry points.
type Backend interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Size() int64
	Close() error
	Flush() error
}

// DiscardBackend is an optional interface for TRIM/discard support.
type DiscardBackend interface {
	Backend
	Discard(offset, length int64) error
}

// ZoneDescriptor is the backend-facing mirror of zone.Descriptor, kept
// separate so backend implementations do not need to import
// internal/zone purely to satisfy this interface.
type ZoneDescriptor struct {
	Start    uint64
	Len      uint64
	Capacity uint64
	WP       uint64
	Type     int32
	Cond     int32
}

// ZonedBackend is an optional interface a Backend implements to serve a
// host-managed zoned device. Most of the condition/write-pointer
// bookkeeping is handled by internal/zone.Table ahead of the call, so
// these methods only need to perform (or reject) the underlying raw I/O
// once the zone model has approved the transition.
type ZonedBackend interface {
	Backend

	// ReportZones returns up to nrZones consecutive zone descriptors
	// starting at the zone containing offset.
	ReportZones(offset int64, nrZones int) ([]ZoneDescriptor, error)

	// OpenZone, CloseZone, FinishZone, ResetZone and ResetAllZones perform
	// the backend side-effects (if any) of a zone management command
	// whose state transition has already been validated by
	// internal/zone.Table.
	OpenZone(offset int64) error
	CloseZone(offset int64) error
	FinishZone(offset int64) error
	ResetZone(offset int64) error
	ResetAllZones() error

	// AppendZone writes p at effectiveOffset, a position inside the zone
	// that internal/zone.Table has already resolved from the write
	// pointer, returning the offset just past the written bytes.
	AppendZone(p []byte, effectiveOffset int64) (int64, error)
}

// Logger is the minimal logging capability a backend may optionally use.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer collects metrics from the I/O path. Implementations must be
// thread-safe: methods are called concurrently from every worker.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveDiscard(bytes uint64, latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveZoneOp(latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
}

// StatusError lets a Backend reject an operation with a specific
// BlockStatus instead of a generic error, so the worker pool can report
// the precise status back across the wire instead of collapsing every
// failure to IoError.
type StatusError struct {
	Status status.BlockStatus
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Status.String()
}
