// Package wire defines the fixed K2U/U2K message framing exchanged over the
// character device, and the closed opcode/map-kind enumerations that give
// those messages meaning.
package wire

// Opcode is the closed set of operations a kernel request can carry.
type Opcode uint32

const (
	Connect Opcode = iota
	Disconnect
	Read
	Write
	Discard
	Ioctl
	Flush
	ReportZones
	ZoneOpen
	ZoneClose
	ZoneFinish
	ZoneAppend
	ZoneReset
	ZoneResetAll

	opcodeCount
)

func (o Opcode) String() string {
	switch o {
	case Connect:
		return "CONNECT"
	case Disconnect:
		return "DISCONNECT"
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case Discard:
		return "DISCARD"
	case Ioctl:
		return "IOCTL"
	case Flush:
		return "FLUSH"
	case ReportZones:
		return "REPORT_ZONES"
	case ZoneOpen:
		return "ZONE_OPEN"
	case ZoneClose:
		return "ZONE_CLOSE"
	case ZoneFinish:
		return "ZONE_FINISH"
	case ZoneAppend:
		return "ZONE_APPEND"
	case ZoneReset:
		return "ZONE_RESET"
	case ZoneResetAll:
		return "ZONE_RESET_ALL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether o is a member of the closed opcode set. An invalid
// decode is a fatal request error per the error-handling design.
func (o Opcode) Valid() bool {
	return o < opcodeCount
}

// CarriesInlineData reports whether o's small-IO fast path streams a data
// payload immediately after the header (writes) or expects the reply to
// carry one back (reads).
func (o Opcode) CarriesInlineData() bool {
	return o == Read || o == Write || o == ZoneAppend
}

// MapKind classifies how a request's payload is exposed in the mapping
// window.
type MapKind int32

const (
	// Unmapped means no data payload is mapped (discard, flush, zone
	// management, or an inline-transported small I/O).
	Unmapped MapKind = iota
	// Simple means the data lives contiguously in the window at a single
	// page-aligned region; MappingData holds the byte offset of the first
	// byte from the window's base.
	Simple
	// List means the data is scattered; the window's first reserved page
	// holds a null-terminated descriptor array.
	List
)

func (k MapKind) String() string {
	switch k {
	case Unmapped:
		return "unmapped"
	case Simple:
		return "simple"
	case List:
		return "list"
	default:
		return "invalid"
	}
}

// ControlOp distinguishes the two pre-binding U2K forms a fresh connection
// may send before it is bound to a device.
type ControlOp uint32

const (
	CtrlCreate ControlOp = iota
	CtrlConnect
)
