package wire

import "encoding/binary"

// ListEntry is one (user_address, length) pair in a List-mode descriptor
// array. A zero-length entry (UserAddr == 0 && Length == 0) terminates the
// array.
type ListEntry struct {
	UserAddr uint64
	Length   uint64
}

const listEntrySize = 16

// IsTerminator reports whether e is the null entry ending a descriptor list.
func (e ListEntry) IsTerminator() bool {
	return e.UserAddr == 0 && e.Length == 0
}

// EncodeListEntries writes entries followed by a terminator into buf,
// returning the number of bytes used. buf must be at least
// (len(entries)+1)*16 bytes.
func EncodeListEntries(buf []byte, entries []ListEntry) int {
	off := 0
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.UserAddr)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.Length)
		off += listEntrySize
	}
	binary.LittleEndian.PutUint64(buf[off:off+8], 0)
	binary.LittleEndian.PutUint64(buf[off+8:off+16], 0)
	return off + listEntrySize
}

// DecodeListEntries reads entries from buf until the terminator.
func DecodeListEntries(buf []byte) []ListEntry {
	var entries []ListEntry
	for off := 0; off+listEntrySize <= len(buf); off += listEntrySize {
		e := ListEntry{
			UserAddr: binary.LittleEndian.Uint64(buf[off : off+8]),
			Length:   binary.LittleEndian.Uint64(buf[off+8 : off+16]),
		}
		if e.IsTerminator() {
			break
		}
		entries = append(entries, e)
	}
	return entries
}
