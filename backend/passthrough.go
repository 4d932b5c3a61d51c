package backend

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/snu-csl/go-bius/internal/interfaces"
)

// blkDiscard is the Linux BLKDISCARD ioctl number (_IO(0x12, 119)), used
// to punch a hole through to the underlying block device when the
// passthrough target is a raw device rather than a regular file.
const blkDiscard = 0x1277

// Passthrough is a backend that forwards every operation to an
// already-open file or block device, the Go analogue of
// original_source/examples/passthrough.c's target_fd.
type Passthrough struct {
	file   *os.File
	size   int64
	isDev  bool // target is a block device (supports BLKDISCARD) rather than a regular file
}

// OpenPassthrough opens path read-write and wraps it as a Passthrough
// backend. If path names a regular file, its current size is used; to
// back a device node whose size is reported through BLKGETSIZE64 instead
// of stat, use NewPassthroughDevice.
func OpenPassthrough(path string) (*Passthrough, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Passthrough{file: f, size: info.Size()}, nil
}

// NewPassthroughDevice opens a block device node at path and queries its
// size with the BLKGETSIZE64 ioctl, the same call
// original_source/examples/passthrough.c makes before bius_main.
func NewPassthroughDevice(path string) (*Passthrough, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	size, err := unix.IoctlGetUint64(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Passthrough{file: f, size: int64(size), isDev: true}, nil
}

// ReadAt implements the Backend interface.
func (p *Passthrough) ReadAt(buf []byte, off int64) (int, error) {
	return p.file.ReadAt(buf, off)
}

// WriteAt implements the Backend interface.
func (p *Passthrough) WriteAt(buf []byte, off int64) (int, error) {
	return p.file.WriteAt(buf, off)
}

// Size implements the Backend interface.
func (p *Passthrough) Size() int64 { return p.size }

// Close implements the Backend interface.
func (p *Passthrough) Close() error { return p.file.Close() }

// Flush implements the Backend interface via fsync.
func (p *Passthrough) Flush() error { return p.file.Sync() }

// Discard implements the DiscardBackend interface. Against a block
// device it issues BLKDISCARD; against a regular file it falls back to
// punching zeros, since BLKDISCARD is only meaningful for a real device
// node.
func (p *Passthrough) Discard(offset, length int64) error {
	if !p.isDev {
		return p.zeroFill(offset, length)
	}

	rng := [2]uint64{uint64(offset), uint64(length)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, p.file.Fd(), blkDiscard, uintptr(unsafe.Pointer(&rng)))
	if errno != 0 {
		return errno
	}
	return nil
}

func (p *Passthrough) zeroFill(offset, length int64) error {
	const chunk = 1 << 20
	zeros := make([]byte, chunk)
	for length > 0 {
		n := int64(chunk)
		if length < n {
			n = length
		}
		if _, err := p.file.WriteAt(zeros[:n], offset); err != nil {
			return err
		}
		offset += n
		length -= n
	}
	return nil
}

var (
	_ interfaces.Backend        = (*Passthrough)(nil)
	_ interfaces.DiscardBackend = (*Passthrough)(nil)
)
