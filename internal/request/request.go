// Package request defines the Request record that ties one in-flight
// kernel-side operation (block I/O, or a synchronous report-zones control
// call) to the reply that eventually completes it.
//
// A Request is created when a new block request arrives at the shim or
// when a report-zones call is initiated; it is mutated by the owning
// connection during transmit and by the reply handler; it is destroyed by
// its completion callback, which is exactly what
// original_source/kernel/request.h's end_blk_request/end_request_int do for
// the C implementation this package generalizes.
package request

import (
	"sync/atomic"

	"github.com/snu-csl/go-bius/internal/status"
	"github.com/snu-csl/go-bius/internal/wire"
)

// ID is a 64-bit monotonically increasing request identifier, unique over
// the process lifetime.
type ID = uint64

var idCounter atomic.Uint64

// NextID draws the next request id from the process-global counter.
func NextID() ID {
	return idCounter.Add(1)
}

// Fragment is one (page, offset, length) piece of a block request's
// scatter-gather list — the Go-native stand-in for a kernel bio_vec chain.
// Page is a real backing byte slice so the mapping engine can copy to/from
// it without additional translation.
type Fragment struct {
	Page   []byte
	Offset int
	Length int
}

// Bytes returns the fragment's addressed sub-slice of Page.
func (f Fragment) Bytes() []byte {
	return f.Page[f.Offset : f.Offset+f.Length]
}

// Kind distinguishes a block request (tied to fragments and a block-status
// completion) from a control request (report-zones; tied to a destination
// buffer and an int completion).
type Kind int

const (
	KindBlock Kind = iota
	KindControl
)

// Request is either a block request or a control request. Exactly one of
// the two field groups below is meaningful, selected by Kind.
type Request struct {
	ID         ID
	Kind       Kind
	Opcode     wire.Opcode
	ByteOffset uint64
	ByteLength uint64

	// Block request fields.
	Fragments    []Fragment
	IsWrite      bool
	MapKind      wire.MapKind
	MapData      uint64
	MappedSize   uint64
	BlockResult  status.BlockStatus
	EffectiveOff uint64 // zone-append's computed write position, reported back to the caller

	// Control request fields (report-zones).
	ControlBuffer []byte
	ControlSignal chan struct{}
	IntResult     int

	onComplete func(*Request)
}

// NewBlockRequest builds a block Request for a freshly dequeued kernel
// operation. onComplete is invoked exactly once, from Complete.
func NewBlockRequest(op wire.Opcode, offset, length uint64, frags []Fragment, isWrite bool, onComplete func(*Request)) *Request {
	return &Request{
		ID:         NextID(),
		Kind:       KindBlock,
		Opcode:     op,
		ByteOffset: offset,
		ByteLength: length,
		Fragments:  frags,
		IsWrite:    isWrite,
		MapKind:    wire.Unmapped,
		onComplete: onComplete,
	}
}

// NewControlRequest builds a transient report-zones Request with a local
// completion signal, mirroring the C implementation's on-stack
// buse_request + semaphore.
func NewControlRequest(offset uint64, destBuffer []byte, onComplete func(*Request)) *Request {
	return &Request{
		ID:            NextID(),
		Kind:          KindControl,
		Opcode:        wire.ReportZones,
		ByteOffset:    offset,
		ControlBuffer: destBuffer,
		ControlSignal: make(chan struct{}, 1),
		onComplete:    onComplete,
	}
}

// Complete ends a block request with the given block status, returning it
// to the (simulated) block layer.
func (r *Request) Complete(result status.BlockStatus) {
	r.BlockResult = status.Normalize(result)
	if r.onComplete != nil {
		r.onComplete(r)
	}
}

// CompleteInt ends a control request with an integer result (report-zones'
// filled-descriptor count, or a negative errno-shaped failure), releasing
// any waiter blocked on ControlSignal.
func (r *Request) CompleteInt(result int) {
	r.IntResult = result
	if r.onComplete != nil {
		r.onComplete(r)
	}
	if r.ControlSignal != nil {
		select {
		case r.ControlSignal <- struct{}{}:
		default:
		}
	}
}

// TotalFragmentBytes sums the length of every fragment. The worker pool
// routes requests against MapDataThreshold by it and passes it to the zone
// table as the write length; it is not checked against ByteLength or
// MAX_SIZE_PER_COMMAND.
func (r *Request) TotalFragmentBytes() int {
	n := 0
	for _, f := range r.Fragments {
		n += f.Length
	}
	return n
}
