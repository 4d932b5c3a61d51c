// Package bius provides the public API for creating userspace block
// devices: a simulated kernel shim, a worker pool dispatching block and
// zone operations to a pluggable Backend, and the device registry tying
// them together.
package bius

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/snu-csl/go-bius/internal/status"
)

// Error is a structured bius error carrying enough context to log and to
// branch on programmatically, the same shape the framework's io_uring
// predecessor used for its control-plane errors.
type Error struct {
	Op    string        // operation that failed (e.g. "CREATE_DEV", "REPORT_ZONES")
	DevID uint32        // device id (0 if not applicable)
	Queue int           // worker/queue number (-1 if not applicable)
	Code  BiusErrorCode // high-level error category
	Errno syscall.Errno // kernel errno (0 if not applicable)
	Msg   string        // human-readable message
	Inner error         // wrapped error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.DevID != 0 {
		parts = append(parts, fmt.Sprintf("dev=%d", e.DevID))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("bius: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("bius: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is lets errors.Is match two *Error values by Code alone.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// BiusErrorCode is the high-level error category attached to an Error.
type BiusErrorCode string

const (
	ErrCodeNotImplemented     BiusErrorCode = "not implemented"
	ErrCodeDeviceNotFound     BiusErrorCode = "device not found"
	ErrCodeDeviceBusy         BiusErrorCode = "device busy"
	ErrCodeInvalidParameters  BiusErrorCode = "invalid parameters"
	ErrCodePermissionDenied   BiusErrorCode = "permission denied"
	ErrCodeInsufficientMemory BiusErrorCode = "insufficient memory"
	ErrCodeIOError            BiusErrorCode = "I/O error"
	ErrCodeTimeout            BiusErrorCode = "timeout"
	ErrCodeNoSpace            BiusErrorCode = "no space"
	ErrCodeZoneResource       BiusErrorCode = "zone resource exhausted"
	ErrCodeZoneOpenResource   BiusErrorCode = "too many open zones"
	ErrCodeZoneActiveResource BiusErrorCode = "too many active zones"
)

// FromBlockStatus maps the closed BlockStatus alphabet an operation
// handler returns onto the broader BiusErrorCode set used at the API
// boundary. status.Ok has no corresponding error; callers should check
// for that case before calling this.
func FromBlockStatus(s status.BlockStatus) BiusErrorCode {
	switch s {
	case status.IoError:
		return ErrCodeIOError
	case status.NotSupported:
		return ErrCodeNotImplemented
	case status.NoSpace:
		return ErrCodeNoSpace
	case status.Timeout:
		return ErrCodeTimeout
	case status.Resource, status.DeviceResource:
		return ErrCodeInsufficientMemory
	case status.ZoneResource:
		return ErrCodeZoneResource
	case status.ZoneOpenResource:
		return ErrCodeZoneOpenResource
	case status.ZoneActiveResource:
		return ErrCodeZoneActiveResource
	default:
		return ErrCodeIOError
	}
}

// NewError creates a new structured error.
func NewError(op string, code BiusErrorCode, msg string) *Error {
	return &Error{Op: op, Queue: -1, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying an errno.
func NewErrorWithErrno(op string, code BiusErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Queue: -1, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewDeviceError creates a device-scoped error.
func NewDeviceError(op string, devID uint32, code BiusErrorCode, msg string) *Error {
	return &Error{Op: op, DevID: devID, Queue: -1, Code: code, Msg: msg}
}

// NewQueueError creates a worker-scoped error.
func NewQueueError(op string, devID uint32, queue int, code BiusErrorCode, msg string) *Error {
	return &Error{Op: op, DevID: devID, Queue: queue, Code: code, Msg: msg}
}

// WrapError wraps inner with op context, preserving any structured Error
// it already carries or mapping a bare syscall.Errno to its closest code.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var be *Error
	if errors.As(inner, &be) {
		return &Error{Op: op, DevID: be.DevID, Queue: be.Queue, Code: be.Code, Errno: be.Errno, Msg: be.Msg, Inner: be.Inner}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{Op: op, Queue: -1, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Queue: -1, Code: ErrCodeIOError, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) BiusErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeDeviceNotFound
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeNotImplemented
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM:
		return ErrCodeInsufficientMemory
	case syscall.ENOSPC:
		return ErrCodeNoSpace
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	default:
		return ErrCodeIOError
	}
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code BiusErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsErrno reports whether err is a *Error carrying the given errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Errno == errno
	}
	return false
}
