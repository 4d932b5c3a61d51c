// Package kshim stands in for the kernel half of the design: the
// character-device transport, the per-connection mmap window, and the
// zero-copy data-mapping engine. Go cannot host a loadable kernel module,
// so this package runs in-process and models what the kernel side would
// otherwise do; see the mapping-engine notes below for exactly where the
// simulation departs from the real PTE-rewrite algorithm it is grounded
// on (original_source/kernel/data_mapping.c).
package kshim

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/snu-csl/go-bius/internal/constants"
	"github.com/snu-csl/go-bius/internal/request"
	"github.com/snu-csl/go-bius/internal/wire"
)

// Window is a connection's per-command mmap region. It is backed by a
// genuine MAP_SHARED mapping (golang.org/x/sys/unix) rather than a plain
// byte slice, so the bytes it holds really do move through shared memory
// the way a worker's mmap of the character device would. The first
// descriptorPageCount pages hold the List-mode descriptor array; the page
// right after is reserved for the bounce-to-source backref table
// data_mapping.c keeps at connection->reserved_pages+PAGE_SIZE, though this
// simulation keeps that table as a Go slice (backrefs) rather than
// marshaling it into the page's bytes, since nothing outside this process
// ever reads it off the page. firstDataPage onward is the mapped/bounce
// region.
//
// What IS simulated here: a real kernel would retarget the requesting
// process's page table entries (set_pte_at) to point at the block
// request's own pages for any fully page-aligned run, and only fall back
// to a bounce page — a genuine copy — for the unaligned front/back fringe
// of a fragment. A single Go process has only one address space, so there
// is no PTE to rewrite; MapRequest copies every page's worth of bytes into
// the window (aligned or not) and UnmapRequest copies them back out for a
// read. The one place this design keeps faithful to the original, rather
// than flattening it away, is the alignment bookkeeping itself: which
// pages are "body" (would have been a zero-copy PTE remap) versus "bounce"
// (a genuine copy in the kernel too) is still computed and recorded, so
// the window's paging behavior — descriptor count, bounce-page count,
// MapKind selection — matches what the kernel would report.
//
// The window holds exactly one in-flight command's data at a time (its
// creator sizes it for one command: bius.CreateAndServe allocates
// MaxIOSize/PageSize data pages plus ReservedPageCount, not N times that,
// and MAX_SIZE_PER_COMMAND plays no part in it), so MapRequest
// takes an exclusive claim on it that UnmapRequest releases; a second
// MapRequest before the first's matching Unmap is a caller error, the same
// contract a connection with only one mmap'd VMA enforces naturally.
type Window struct {
	mem       []byte
	pageCount int

	mu       sync.Mutex
	locked   bool
	backrefs []backref
}

// descriptorPageCount is how many whole pages the List-mode descriptor
// array needs in the worst case: MaxSegments entries plus the terminator
// entry, at 16 bytes each (wire.ListEntry's on-wire size). A single page
// only holds 255 entries plus a terminator, one short of MaxSegments, so
// the descriptor region must span two pages to avoid truncating the
// worst-case scatter/gather list spec §4.F calls for.
const descriptorPageCount = ((constants.MaxSegments+1)*16 + constants.PageSize - 1) / constants.PageSize

const (
	descriptorPage = 0
	destPage       = descriptorPageCount
	firstDataPage  = destPage + 1
)

// ReservedPageCount is how many pages at the start of a Window are spoken
// for before request data begins (the descriptor array plus the backref
// table's reserved slot) — callers sizing a Window from a maximum I/O size
// must add this many pages on top of the data pages themselves.
const ReservedPageCount = firstDataPage

// backref records one window page's provenance — which fragment, and
// which byte range within it, supplied (or will receive) that page's
// bytes. UnmapRequest consults this table to copy a read's result back
// into the right fragment sub-range; it is populated for every page a
// request uses, not only bounce pages, since this simulation's "zero-copy"
// body pages still need an explicit copy-back in a single address space.
type backref struct {
	page       int
	pageOffset int // in-page byte offset of the real data (0 except on a front bounce page)
	fragIndex  int
	srcOffset  int
	length     int
	bounce     bool // a partial, non-page-aligned fringe rather than a full page
}

// Chunk is one real-data byte range backed by window memory, in the same
// disk-offset order the request's fragments were mapped in. Read/Write
// handlers walk these instead of the request's own fragments whenever the
// request went through the window, since that window memory — not the
// fragment buffers — is what the mapped transport actually moves bytes
// through.
type Chunk struct {
	Bytes []byte
}

// Chunks returns the window's current backref table as an ordered list of
// byte ranges, valid between a MapRequest/UnmapRequest pair.
func (w *Window) Chunks() []Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()
	chunks := make([]Chunk, len(w.backrefs))
	for i, br := range w.backrefs {
		chunks[i] = Chunk{Bytes: w.page(br.page)[br.pageOffset : br.pageOffset+br.length]}
	}
	return chunks
}

// NewWindow allocates a MAP_SHARED|MAP_ANONYMOUS window big enough for
// maxPages pages, exactly as a worker would mmap its connection's
// character device fd.
func NewWindow(maxPages int) (*Window, error) {
	size := maxPages * constants.PageSize
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("kshim: mmap window: %w", err)
	}
	return &Window{mem: mem, pageCount: maxPages}, nil
}

// Close releases the window's backing mapping.
func (w *Window) Close() error {
	if w.mem == nil {
		return nil
	}
	err := unix.Munmap(w.mem)
	w.mem = nil
	return err
}

func (w *Window) page(i int) []byte {
	return w.mem[i*constants.PageSize : (i+1)*constants.PageSize]
}

// descriptorRegion returns the full multi-page span reserved for the
// List-mode descriptor array.
func (w *Window) descriptorRegion() []byte {
	return w.mem[descriptorPage*constants.PageSize : (descriptorPage+descriptorPageCount)*constants.PageSize]
}

// segment describes one contiguous run of mapped pages for a single
// descriptor-list entry (or, after merging, several byte-contiguous
// page-aligned fragments), used by MapRequest to decide Simple vs. List
// encoding.
type segment struct {
	startPage  int
	pageCount  int
	dataOffset int // in-page byte offset of the first real-data byte within startPage
	length     int // real data length covered by this segment
}

// appendSegment extends the previous segment in place when merge is true
// (the current fragment is byte-contiguous and page-aligned with what
// came before, so it needs no new descriptor entry, mirroring
// data_mapping.c's segment_end_aligned reuse of the prior list entry), or
// appends a new one otherwise.
func appendSegment(segments []segment, merge bool, start, end, length, dataOffset int) []segment {
	if merge {
		last := &segments[len(segments)-1]
		last.pageCount = end - last.startPage
		last.length += length
		return segments
	}
	return append(segments, segment{startPage: start, pageCount: end - start, dataOffset: dataOffset, length: length})
}

// MapRequest lays a request's fragments into the window. Each fragment is
// classified by its front/back page alignment: an unaligned fringe gets
// its own bounce page (zeroed, then populated with the real data for a
// write), while the aligned interior is copied page-for-page as "body"
// pages. Fragments that turn out page-contiguous with what came before are
// folded into the same descriptor entry instead of starting a new one.
// Simple encoding is chosen for a single resulting entry, List encoding for
// more than one, exactly as bius_map_data's list_entry_index does.
func (w *Window) MapRequest(req *request.Request) error {
	w.mu.Lock()
	if w.locked {
		w.mu.Unlock()
		return fmt.Errorf("kshim: window already holds an in-flight command")
	}
	w.locked = true
	w.mu.Unlock()

	if req.MapKind != wire.Unmapped {
		w.release()
		return fmt.Errorf("kshim: request %d already mapped (kind=%v)", req.ID, req.MapKind)
	}

	page := firstDataPage
	var segments []segment
	var backrefs []backref
	prevEndAligned := true

	claim := func() error {
		if page >= w.pageCount {
			return fmt.Errorf("kshim: request %d exceeds window capacity (%d pages)", req.ID, w.pageCount)
		}
		return nil
	}

	for fi, frag := range req.Fragments {
		frontOff := frag.Offset % constants.PageSize
		frontAligned := frontOff == 0
		canMerge := prevEndAligned && frontAligned && len(segments) > 0

		start := page
		if canMerge {
			start = segments[len(segments)-1].startPage
		}

		remaining := frag.Length
		srcOff := 0

		if !frontAligned {
			if err := claim(); err != nil {
				w.release()
				return err
			}
			n := constants.PageSize - frontOff
			if n > remaining {
				n = remaining
			}
			dst := w.page(page)
			clear(dst)
			if req.IsWrite {
				copy(dst[frontOff:frontOff+n], frag.Page[frag.Offset+srcOff:frag.Offset+srcOff+n])
			}
			backrefs = append(backrefs, backref{page: page, pageOffset: frontOff, fragIndex: fi, srcOffset: srcOff, length: n, bounce: true})
			srcOff += n
			remaining -= n
			page++
		}

		for remaining >= constants.PageSize {
			if err := claim(); err != nil {
				w.release()
				return err
			}
			dst := w.page(page)
			if req.IsWrite {
				copy(dst, frag.Page[frag.Offset+srcOff:frag.Offset+srcOff+constants.PageSize])
			}
			backrefs = append(backrefs, backref{page: page, fragIndex: fi, srcOffset: srcOff, length: constants.PageSize})
			srcOff += constants.PageSize
			remaining -= constants.PageSize
			page++
		}

		if remaining > 0 {
			if err := claim(); err != nil {
				w.release()
				return err
			}
			dst := w.page(page)
			clear(dst)
			if req.IsWrite {
				copy(dst[:remaining], frag.Page[frag.Offset+srcOff:frag.Offset+srcOff+remaining])
			}
			backrefs = append(backrefs, backref{page: page, fragIndex: fi, srcOffset: srcOff, length: remaining, bounce: true})
			page++
			prevEndAligned = false
		} else {
			prevEndAligned = (frontOff+frag.Length)%constants.PageSize == 0
		}

		segments = appendSegment(segments, canMerge, start, page, frag.Length, frontOff)
	}

	switch len(segments) {
	case 0:
		req.MapKind = wire.Unmapped
	case 1:
		req.MapKind = wire.Simple
		req.MapData = uint64(segments[0].startPage*constants.PageSize + segments[0].dataOffset)
	default:
		entries := make([]wire.ListEntry, 0, len(segments))
		for _, s := range segments {
			entries = append(entries, wire.ListEntry{
				UserAddr: uint64(s.startPage*constants.PageSize + s.dataOffset),
				Length:   uint64(s.length),
			})
		}
		wire.EncodeListEntries(w.descriptorRegion(), entries)
		req.MapKind = wire.List
		req.MapData = uint64(descriptorPage * constants.PageSize)
	}

	req.MappedSize = uint64((page - firstDataPage) * constants.PageSize)

	w.mu.Lock()
	w.backrefs = backrefs
	w.mu.Unlock()
	return nil
}

// UnmapRequest copies read data back out of the window into the
// request's fragments, consulting the backref table MapRequest built so
// each window page lands in the correct fragment sub-range regardless of
// whether it was a bounce or body page. For a write this is a no-op
// beyond releasing the claim, since the data was already copied in by
// MapRequest. This is the counterpart of bius_unmap_data's zero-page PTE
// reset — here it is a real copy-back plus forgetting the mapping, since
// the pages belong to this process's one address space throughout.
func (w *Window) UnmapRequest(req *request.Request) {
	if req.MapKind == wire.Unmapped {
		return
	}

	if !req.IsWrite {
		for _, br := range w.backrefs {
			frag := req.Fragments[br.fragIndex]
			src := w.page(br.page)
			copy(frag.Page[frag.Offset+br.srcOffset:frag.Offset+br.srcOffset+br.length], src[br.pageOffset:br.pageOffset+br.length])
		}
	}

	req.MapKind = wire.Unmapped
	req.MapData = 0
	req.MappedSize = 0
	w.release()
}

func (w *Window) release() {
	w.mu.Lock()
	w.locked = false
	w.backrefs = nil
	w.mu.Unlock()
}
