package kshim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snu-csl/go-bius/internal/constants"
	"github.com/snu-csl/go-bius/internal/request"
	"github.com/snu-csl/go-bius/internal/wire"
)

func newWindow(t *testing.T, maxPages int) *Window {
	t.Helper()
	win, err := NewWindow(maxPages)
	require.NoError(t, err)
	t.Cleanup(func() { win.Close() })
	return win
}

func blockRequest(op wire.Opcode, frags []request.Fragment, isWrite bool) *request.Request {
	return request.NewBlockRequest(op, 0, uint64(totalLen(frags)), frags, isWrite, func(*request.Request) {})
}

func totalLen(frags []request.Fragment) int {
	n := 0
	for _, f := range frags {
		n += f.Length
	}
	return n
}

func TestMapRequestSingleAlignedFragmentIsSimple(t *testing.T) {
	win := newWindow(t, 8)

	data := make([]byte, constants.PageSize)
	for i := range data {
		data[i] = byte(i)
	}
	frags := []request.Fragment{{Page: data, Offset: 0, Length: constants.PageSize}}
	req := blockRequest(wire.Write, frags, true)

	require.NoError(t, win.MapRequest(req))
	require.Equal(t, wire.Simple, req.MapKind)
	require.Equal(t, uint64(firstDataPage*constants.PageSize), req.MapData)
	require.Equal(t, uint64(constants.PageSize), req.MappedSize)

	chunks := win.Chunks()
	require.Len(t, chunks, 1)
	require.Equal(t, data, chunks[0].Bytes)

	win.UnmapRequest(req)
	require.Equal(t, wire.Unmapped, req.MapKind)
}

func TestMapRequestMisalignedFrontUsesBouncePage(t *testing.T) {
	win := newWindow(t, 8)

	page := make([]byte, 4096)
	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	copy(page[1024:1024+2048], payload)
	frags := []request.Fragment{{Page: page, Offset: 1024, Length: 2048}}
	req := blockRequest(wire.Write, frags, true)

	require.NoError(t, win.MapRequest(req))
	require.Equal(t, wire.Simple, req.MapKind)
	require.Equal(t, uint64(firstDataPage*constants.PageSize+1024), req.MapData)

	chunks := win.Chunks()
	require.Len(t, chunks, 1)
	require.Equal(t, payload, chunks[0].Bytes)

	// Read the bytes straight out of the window page to confirm the
	// surrounding fringe really was zeroed, not left as mmap garbage.
	windowPage := win.page(firstDataPage)
	require.Equal(t, make([]byte, 1024), windowPage[:1024])
}

func TestMapRequestMergesPageAlignedAdjacentFragments(t *testing.T) {
	win := newWindow(t, 8)

	first := make([]byte, constants.PageSize)
	second := make([]byte, constants.PageSize)
	for i := range first {
		first[i] = 0xAA
	}
	for i := range second {
		second[i] = 0xBB
	}
	frags := []request.Fragment{
		{Page: first, Offset: 0, Length: constants.PageSize},
		{Page: second, Offset: 0, Length: constants.PageSize},
	}
	req := blockRequest(wire.Write, frags, true)

	require.NoError(t, win.MapRequest(req))
	// Both fragments are page-aligned front and back, so they fold into a
	// single descriptor entry rather than a two-entry list.
	require.Equal(t, wire.Simple, req.MapKind)
	require.Equal(t, uint64(2*constants.PageSize), req.MappedSize)

	chunks := win.Chunks()
	require.Len(t, chunks, 2)
	require.Equal(t, first, chunks[0].Bytes)
	require.Equal(t, second, chunks[1].Bytes)
}

func TestMapRequestDoesNotMergeAcrossAnUnalignedFringe(t *testing.T) {
	win := newWindow(t, 8)

	first := make([]byte, 2048) // leaves its page's back half unaligned
	second := make([]byte, constants.PageSize)
	frags := []request.Fragment{
		{Page: first, Offset: 0, Length: 2048},
		{Page: second, Offset: 0, Length: constants.PageSize},
	}
	req := blockRequest(wire.Write, frags, true)

	require.NoError(t, win.MapRequest(req))
	require.Equal(t, wire.List, req.MapKind)
}

func TestMapRequestRejectsDoubleMap(t *testing.T) {
	win := newWindow(t, 8)
	frags := []request.Fragment{{Page: make([]byte, 4096), Offset: 0, Length: 4096}}
	req := blockRequest(wire.Write, frags, true)
	require.NoError(t, win.MapRequest(req))

	other := blockRequest(wire.Write, frags, true)
	require.Error(t, win.MapRequest(other))

	win.UnmapRequest(req)
	require.NoError(t, win.MapRequest(other))
}

func TestMapRequestExceedingCapacityFails(t *testing.T) {
	win := newWindow(t, firstDataPage+1)
	frags := []request.Fragment{{Page: make([]byte, 2*constants.PageSize), Offset: 0, Length: 2 * constants.PageSize}}
	req := blockRequest(wire.Write, frags, true)

	require.Error(t, win.MapRequest(req))
	// A failed map must release its claim so the window isn't wedged.
	require.NoError(t, win.MapRequest(blockRequest(wire.Write, []request.Fragment{{Page: make([]byte, constants.PageSize), Length: constants.PageSize}}, true)))
}

func TestUnmapRequestCopiesReadDataBackIntoFragments(t *testing.T) {
	win := newWindow(t, 8)

	dst := make([]byte, 2048)
	frags := []request.Fragment{{Page: dst, Offset: 0, Length: 2048}}
	req := blockRequest(wire.Read, frags, false)

	require.NoError(t, win.MapRequest(req))
	// Simulate the backend filling the window with the read result.
	chunks := win.Chunks()
	require.Len(t, chunks, 1)
	for i := range chunks[0].Bytes {
		chunks[0].Bytes[i] = byte(i + 7)
	}

	win.UnmapRequest(req)
	for i := range dst {
		require.Equal(t, byte(i+7), dst[i])
	}
}

// TestMapRequestLargeScatteredWrite exercises the scenario called out by
// spec review: a large write built from many small, independently backed,
// non-contiguous fragments whose first fragment's data starts misaligned
// within its source page.
func TestMapRequestLargeScatteredWrite(t *testing.T) {
	const fragCount = 256
	const fragLen = 512 * 1024 // 512 KiB
	const totalSize = fragCount * fragLen // 128 MiB

	frags := make([]request.Fragment, fragCount)
	for i := 0; i < fragCount; i++ {
		// Every fragment lives in its own backing slice, so nothing in the
		// window could be aliasing a shared buffer by accident.
		var page []byte
		var offset int
		if i == 0 {
			offset = 1024
			page = make([]byte, offset+fragLen)
		} else {
			offset = 0
			page = make([]byte, fragLen)
		}
		for j := 0; j < fragLen; j++ {
			page[offset+j] = byte((i*31 + j) & 0xFF)
		}
		frags[i] = request.Fragment{Page: page, Offset: offset, Length: fragLen}
	}

	maxPages := totalSize/constants.PageSize + 64 // headroom for bounce-page overhead
	win := newWindow(t, firstDataPage+maxPages)

	writeReq := blockRequest(wire.Write, frags, true)
	require.NoError(t, win.MapRequest(writeReq))
	require.NotEqual(t, wire.Unmapped, writeReq.MapKind)

	chunks := win.Chunks()
	var gotTotal int
	for _, c := range chunks {
		gotTotal += len(c.Bytes)
	}
	require.Equal(t, totalSize, gotTotal)

	// Confirm the window actually holds the written bytes, not zeros, by
	// reassembling the chunk stream and comparing against the source.
	reassembled := make([]byte, 0, totalSize)
	for _, c := range chunks {
		reassembled = append(reassembled, c.Bytes...)
	}
	expected := make([]byte, 0, totalSize)
	for _, f := range frags {
		expected = append(expected, f.Bytes()...)
	}
	require.Equal(t, expected, reassembled)

	win.UnmapRequest(writeReq)
	require.Equal(t, wire.Unmapped, writeReq.MapKind)

	// Re-map an equivalently shaped read request onto the same window and
	// confirm the backref table correctly round-trips window bytes back
	// into each fragment's own destination buffer, not just into one
	// contiguous blob.
	readFrags := make([]request.Fragment, fragCount)
	for i, f := range frags {
		readFrags[i] = request.Fragment{Page: make([]byte, len(f.Page)), Offset: f.Offset, Length: f.Length}
	}
	readReq := blockRequest(wire.Read, readFrags, false)
	require.NoError(t, win.MapRequest(readReq))

	readChunks := win.Chunks()
	require.Equal(t, len(chunks), len(readChunks))
	for i, c := range readChunks {
		for j := range c.Bytes {
			c.Bytes[j] = byte((i*17 + j) & 0xFF)
		}
	}

	expectedRead := make([]byte, 0, totalSize)
	for _, c := range readChunks {
		expectedRead = append(expectedRead, c.Bytes...)
	}

	win.UnmapRequest(readReq)

	gotRead := make([]byte, 0, totalSize)
	for _, f := range readFrags {
		gotRead = append(gotRead, f.Bytes()...)
	}
	require.Equal(t, expectedRead, gotRead)
}
