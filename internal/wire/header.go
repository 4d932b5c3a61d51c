package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrShortIO is returned when a read or write of a header (or its declared
// inline payload) returns fewer bytes than the frame requires. Short
// reads/writes are fatal to the owning connection — see the error-handling
// design.
var ErrShortIO = errors.New("wire: short read/write on character device")

// K2UHeaderSize is the on-wire size of a kernel-to-user header.
const K2UHeaderSize = 8 + 4 + 8 + 8 + 8 + 8 + 4

// K2UHeader is sent from the simulated kernel shim to a worker for every
// dequeued request.
type K2UHeader struct {
	ID          uint64
	Opcode      Opcode
	Offset      uint64
	Length      uint64
	DataAddress uint64  // valid for inline small-read replies: where to copy back to
	MappingData uint64  // MapKind-dependent: Simple -> window offset of first byte, List -> descriptor list user address
	DataMapType MapKind
}

// WriteTo serializes h onto w using explicit little-endian field writes —
// the wire format is a deliberate contract, not a raw struct cast, since the
// two sides of this framing may be built with different compilers/ABIs.
func (h *K2UHeader) WriteTo(w io.Writer) (int64, error) {
	var buf [K2UHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.ID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Opcode))
	binary.LittleEndian.PutUint64(buf[12:20], h.Offset)
	binary.LittleEndian.PutUint64(buf[20:28], h.Length)
	binary.LittleEndian.PutUint64(buf[28:36], h.DataAddress)
	binary.LittleEndian.PutUint64(buf[36:44], h.MappingData)
	binary.LittleEndian.PutUint32(buf[44:48], uint32(h.DataMapType))
	n, err := w.Write(buf[:])
	if err == nil && n != len(buf) {
		err = ErrShortIO
	}
	return int64(n), err
}

// ReadK2UHeader decodes one header from r. A short read is reported as
// ErrShortIO.
func ReadK2UHeader(r io.Reader) (K2UHeader, error) {
	var buf [K2UHeaderSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		if err == io.ErrUnexpectedEOF || n == 0 {
			return K2UHeader{}, ErrShortIO
		}
		return K2UHeader{}, err
	}
	h := K2UHeader{
		ID:          binary.LittleEndian.Uint64(buf[0:8]),
		Opcode:      Opcode(binary.LittleEndian.Uint32(buf[8:12])),
		Offset:      binary.LittleEndian.Uint64(buf[12:20]),
		Length:      binary.LittleEndian.Uint64(buf[20:28]),
		DataAddress: binary.LittleEndian.Uint64(buf[28:36]),
		MappingData: binary.LittleEndian.Uint64(buf[36:44]),
		DataMapType: MapKind(int32(binary.LittleEndian.Uint32(buf[44:48]))),
	}
	return h, nil
}

// U2KHeaderSize is the on-wire size of a user-to-kernel header.
const U2KHeaderSize = 8 + 8 + 8

// U2KHeader is sent from a worker back to the simulated kernel shim. Its
// second field is a union: before the owning connection has bound to a
// device, Reply's low/high 32 bits are instead read as (CtrlOp, CtrlLength)
// carrying CREATE/CONNECT; after binding, Reply carries the block-status or
// byte-count result of a completed request. UserData carries the address of
// an inline small-read payload, or (pre-binding) the address of the
// options/disk-name buffer.
type U2KHeader struct {
	ID       uint64
	Reply    int64
	UserData uint64
}

// PreBindPayload decodes the union's pre-binding form out of Reply.
func (h *U2KHeader) PreBindPayload() (op ControlOp, length uint32) {
	v := uint64(h.Reply)
	return ControlOp(uint32(v)), uint32(v >> 32)
}

// SetPreBindPayload encodes the union's pre-binding form into Reply.
func (h *U2KHeader) SetPreBindPayload(op ControlOp, length uint32) {
	h.Reply = int64(uint64(op) | uint64(length)<<32)
}

func (h *U2KHeader) WriteTo(w io.Writer) (int64, error) {
	var buf [U2KHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.ID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Reply))
	binary.LittleEndian.PutUint64(buf[16:24], h.UserData)
	n, err := w.Write(buf[:])
	if err == nil && n != len(buf) {
		err = ErrShortIO
	}
	return int64(n), err
}

func ReadU2KHeader(r io.Reader) (U2KHeader, error) {
	var buf [U2KHeaderSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		if err == io.ErrUnexpectedEOF || n == 0 {
			return U2KHeader{}, ErrShortIO
		}
		return U2KHeader{}, err
	}
	return U2KHeader{
		ID:       binary.LittleEndian.Uint64(buf[0:8]),
		Reply:    int64(binary.LittleEndian.Uint64(buf[8:16])),
		UserData: binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}
