// Package bius provides the public API for creating userspace block
// devices: a simulated kernel shim, a worker pool dispatching block and
// zone operations to a pluggable Backend, and the device registry tying
// them together.
package bius

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/snu-csl/go-bius/internal/interfaces"
	"github.com/snu-csl/go-bius/internal/kshim"
	"github.com/snu-csl/go-bius/internal/logging"
	"github.com/snu-csl/go-bius/internal/request"
	"github.com/snu-csl/go-bius/internal/status"
	"github.com/snu-csl/go-bius/internal/wire"
	"github.com/snu-csl/go-bius/internal/worker"
	"github.com/snu-csl/go-bius/internal/zone"
)

// Default device tuning values, used by DefaultParams.
const (
	DefaultQueueDepth       = 128
	DefaultLogicalBlockSize = 512
	DefaultMaxIOSize        = 1 << 20
)

// defaultRegistry is the process-wide table of devices created through
// CreateAndServe, the Go analogue of the kernel's minor-number table a
// real buse deployment would consult.
var defaultRegistry = kshim.NewRegistry()

// Backend is the re-exported backend contract a bius device is built on.
type Backend = interfaces.Backend

// DiscardBackend is the re-exported optional TRIM/discard contract.
type DiscardBackend = interfaces.DiscardBackend

// ZonedBackend is the re-exported contract a host-managed zoned device's
// backend must additionally implement.
type ZonedBackend = interfaces.ZonedBackend

// ZoneDescriptor mirrors interfaces.ZoneDescriptor at the public API.
type ZoneDescriptor = interfaces.ZoneDescriptor

// Device represents one simulated bius block device: a registry entry, a
// connection bound to a mapping window, an optional zone table, and the
// worker pool dispatching its requests. Where a kernel module would hand
// I/O to this process over a character device, Device's methods below
// are the front door requests actually enter through.
type Device struct {
	ID       uint32
	DiskName string
	Backend  Backend

	ctx    context.Context
	cancel context.CancelFunc

	blockDevice *kshim.BlockDevice
	conn        *kshim.Connection
	pool        *worker.Pool
	zones       *zone.Table

	queues    int
	depth     int
	blockSize int
	zoned     bool
	readOnly  bool

	mu      sync.Mutex
	started bool

	metrics  *Metrics
	observer Observer
}

// DeviceParams contains parameters for creating a bius device.
type DeviceParams struct {
	// Backend provides the storage implementation. If EnableZoned is set,
	// Backend must also implement ZonedBackend.
	Backend Backend

	DiskName         string // registry name; defaults to "biusN" if empty
	QueueDepth       int    // capacity of the incoming queue shared by all workers (default: 128)
	NumQueues        int    // number of worker goroutines (default: 1)
	LogicalBlockSize int    // logical block size in bytes (default: 512)
	MaxIOSize        int    // largest single request the window accepts (default: 1MB)

	EnableZoned          bool   // enable host-managed zoned storage support
	ZoneSizeBytes        uint64 // required if EnableZoned
	NumConventionalZones uint32
	MaxOpenZones         uint32
	MaxActiveZones       uint32

	ReadOnly bool // reject writes, appends and resets at the device boundary
}

// DefaultParams returns default device parameters for backend.
func DefaultParams(backend Backend) DeviceParams {
	return DeviceParams{
		Backend:          backend,
		QueueDepth:       DefaultQueueDepth,
		NumQueues:        1,
		LogicalBlockSize: DefaultLogicalBlockSize,
		MaxIOSize:        DefaultMaxIOSize,
	}
}

// Options contains additional options for device creation.
type Options struct {
	// Context for cancellation (if nil, uses context.Background())
	Context context.Context

	// Logger for debug/info messages (if nil, uses the package default)
	Logger *logging.Logger

	// Observer for metrics collection (if nil, uses a MetricsObserver
	// backed by the device's own Metrics)
	Observer Observer
}

var deviceCounter struct {
	mu   sync.Mutex
	next uint32
}

func nextDeviceID() uint32 {
	deviceCounter.mu.Lock()
	defer deviceCounter.mu.Unlock()
	deviceCounter.next++
	return deviceCounter.next
}

// CreateAndServe creates a bius device with the given parameters and
// starts serving I/O. This is the main entry point for creating bius
// devices.
//
// The device will continue serving I/O until the context is cancelled or
// StopAndDelete is called.
//
// Example:
//
//	mem := backend.NewMemory(64 << 20) // 64MB RAM disk
//	params := bius.DefaultParams(mem)
//	device, err := bius.CreateAndServe(context.Background(), params, nil)
func CreateAndServe(ctx context.Context, params DeviceParams, options *Options) (*Device, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}
	if params.Backend == nil {
		return nil, NewError("CREATE_DEV", ErrCodeInvalidParameters, "backend is required")
	}

	numQueues := params.NumQueues
	if numQueues <= 0 {
		numQueues = 1
	}
	depth := params.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	blockSize := params.LogicalBlockSize
	if blockSize <= 0 {
		blockSize = DefaultLogicalBlockSize
	}
	maxIOSize := params.MaxIOSize
	if maxIOSize <= 0 {
		maxIOSize = DefaultMaxIOSize
	}

	diskName := params.DiskName
	if diskName == "" {
		diskName = fmt.Sprintf("bius%d", nextDeviceID())
	}

	var zones *zone.Table
	if params.EnableZoned {
		if _, ok := params.Backend.(ZonedBackend); !ok {
			return nil, NewError("CREATE_DEV", ErrCodeInvalidParameters, "zoned device requires a backend implementing ZonedBackend")
		}
		if params.ZoneSizeBytes == 0 {
			return nil, NewError("CREATE_DEV", ErrCodeInvalidParameters, "zoned device requires ZoneSizeBytes")
		}
		zones = zone.NewTable(uint64(params.Backend.Size()), params.ZoneSizeBytes, params.NumConventionalZones, params.MaxOpenZones, params.MaxActiveZones)
	}

	blockDevice, err := defaultRegistry.CreateBlockDevice(kshim.DeviceOptions{
		DiskName:        diskName,
		SizeBytes:       uint64(params.Backend.Size()),
		NumQueues:       numQueues,
		QueueDepth:      depth,
		Zoned:           params.EnableZoned,
		ZoneSizeBytes:   params.ZoneSizeBytes,
		NumConventional: params.NumConventionalZones,
		MaxOpenZones:    params.MaxOpenZones,
		MaxActiveZones:  params.MaxActiveZones,
	})
	if err != nil {
		return nil, WrapError("CREATE_DEV", err)
	}

	conn := kshim.NewConnection(uint64(blockDevice.ID))
	maxPages := maxIOSize/PageSize + kshim.ReservedPageCount
	win, err := kshim.NewWindow(maxPages)
	if err != nil {
		defaultRegistry.RemoveBlockDevice(diskName)
		return nil, WrapError("CREATE_DEV", err)
	}
	conn.Bind(win)
	blockDevice.AddConnection(conn)

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = options.Observer
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	pool, err := worker.New(worker.Config{
		NumWorkers: numQueues,
		Backend:    params.Backend,
		Zones:      zones,
		Connection: conn,
		Logger:     logger,
		Observer:   observer,
		QueueDepth: depth,
	})
	if err != nil {
		blockDevice.RemoveConnection(conn.ID())
		defaultRegistry.RemoveBlockDevice(diskName)
		return nil, WrapError("CREATE_DEV", err)
	}

	device := &Device{
		ID:          blockDevice.ID,
		DiskName:    diskName,
		Backend:     params.Backend,
		blockDevice: blockDevice,
		conn:        conn,
		pool:        pool,
		zones:       zones,
		queues:      numQueues,
		depth:       depth,
		blockSize:   blockSize,
		zoned:       params.EnableZoned,
		readOnly:    params.ReadOnly,
		metrics:     metrics,
		observer:    observer,
	}
	device.ctx, device.cancel = context.WithCancel(ctx)

	pool.Start(device.ctx)
	device.started = true

	logger.WithDevice(device.ID).Info("device initialization complete", "disk", diskName, "queues", numQueues, "zoned", params.EnableZoned)

	return device, nil
}

// DeviceState represents the current state of a bius device.
type DeviceState string

const (
	DeviceStateCreated DeviceState = "created"
	DeviceStateRunning DeviceState = "running"
	DeviceStateStopped DeviceState = "stopped"
)

// State returns the current state of the device.
func (d *Device) State() DeviceState {
	if d == nil {
		return DeviceStateStopped
	}
	if !d.started {
		return DeviceStateCreated
	}
	if d.ctx != nil {
		select {
		case <-d.ctx.Done():
			return DeviceStateStopped
		default:
			return DeviceStateRunning
		}
	}
	return DeviceStateRunning
}

// IsRunning returns true if the device is currently serving I/O.
func (d *Device) IsRunning() bool {
	return d.State() == DeviceStateRunning
}

// NumQueues returns the number of worker goroutines configured for this device.
func (d *Device) NumQueues() int { return d.queues }

// QueueDepth returns the capacity of the incoming queue shared by this device's workers.
func (d *Device) QueueDepth() int { return d.depth }

// BlockSize returns the logical block size of this device.
func (d *Device) BlockSize() int { return d.blockSize }

// DeviceID returns the registry-assigned device ID.
func (d *Device) DeviceID() uint32 { return d.ID }

// Zoned reports whether this device was created with host-managed zone support.
func (d *Device) Zoned() bool { return d.zoned }

// ReadOnly reports whether the device rejects writes at the API boundary.
func (d *Device) ReadOnly() bool { return d.readOnly }

// Size returns the size of the device in bytes.
func (d *Device) Size() int64 {
	if d.Backend == nil {
		return 0
	}
	return d.Backend.Size()
}

// DeviceInfo contains comprehensive information about a bius device.
type DeviceInfo struct {
	ID         uint32      `json:"id"`
	DiskName   string      `json:"disk_name"`
	State      DeviceState `json:"state"`
	NumQueues  int         `json:"num_queues"`
	QueueDepth int         `json:"queue_depth"`
	BlockSize  int         `json:"block_size"`
	Size       int64       `json:"size"`
	Zoned      bool        `json:"zoned"`
	Running    bool        `json:"running"`
}

// Info returns comprehensive information about the device.
func (d *Device) Info() DeviceInfo {
	if d == nil {
		return DeviceInfo{}
	}
	state := d.State()
	return DeviceInfo{
		ID:         d.ID,
		DiskName:   d.DiskName,
		State:      state,
		NumQueues:  d.queues,
		QueueDepth: d.depth,
		BlockSize:  d.blockSize,
		Size:       d.Size(),
		Zoned:      d.zoned,
		Running:    state == DeviceStateRunning,
	}
}

// Metrics returns the device's metrics instance.
func (d *Device) Metrics() *Metrics {
	if d == nil {
		return nil
	}
	return d.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of device metrics.
func (d *Device) MetricsSnapshot() MetricsSnapshot {
	if d == nil || d.metrics == nil {
		return MetricsSnapshot{}
	}
	return d.metrics.Snapshot()
}

// StopAndDelete stops the device and removes it from the registry. This
// should be called to cleanly shut down a bius device.
func StopAndDelete(ctx context.Context, device *Device) error {
	if device == nil {
		return NewError("STOP_DEV", ErrCodeInvalidParameters, "device is nil")
	}

	device.mu.Lock()
	if !device.started {
		device.mu.Unlock()
		return nil
	}
	device.started = false
	device.mu.Unlock()

	if device.cancel != nil {
		device.cancel()
	}
	if device.metrics != nil {
		device.metrics.Stop()
	}

	device.pool.Close()
	_ = device.pool.Wait()

	if err := defaultRegistry.RemoveBlockDevice(device.DiskName); err != nil {
		return WrapError("STOP_DEV", err)
	}

	return nil
}

// submit builds and dispatches one block request, blocking until it
// completes.
func (d *Device) submit(op wire.Opcode, offset uint64, frags []request.Fragment, isWrite bool) status.BlockStatus {
	done := make(chan struct{})
	req := request.NewBlockRequest(op, offset, totalFragBytes(frags), frags, isWrite, func(r *request.Request) {
		d.conn.Resolve(r.ID)
		close(done)
	})
	d.conn.Track(req)
	d.pool.Submit(req)
	<-done
	return req.BlockResult
}

func totalFragBytes(frags []request.Fragment) uint64 {
	var n uint64
	for _, f := range frags {
		n += uint64(f.Length)
	}
	return n
}

func singleFragment(p []byte) []request.Fragment {
	return []request.Fragment{{Page: p, Offset: 0, Length: len(p)}}
}

// ReadAt reads len(p) bytes from the device starting at off, dispatching
// through the same worker pool a real kernel request would use.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	res := d.submit(wire.Read, uint64(off), singleFragment(p), false)
	if res != status.Ok {
		return 0, NewDeviceError("READ", d.ID, FromBlockStatus(res), res.String())
	}
	return len(p), nil
}

// WriteAt writes p to the device starting at off.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if d.Backend == nil {
		return 0, NewDeviceError("WRITE", d.ID, ErrCodeDeviceNotFound, "no backend")
	}
	if d.readOnly {
		return 0, NewDeviceError("WRITE", d.ID, ErrCodePermissionDenied, "device is read-only")
	}
	res := d.submit(wire.Write, uint64(off), singleFragment(p), true)
	if res != status.Ok {
		return 0, NewDeviceError("WRITE", d.ID, FromBlockStatus(res), res.String())
	}
	return len(p), nil
}

// Discard requests that [offset, offset+length) be released.
func (d *Device) Discard(offset, length int64) error {
	res := d.submit(wire.Discard, uint64(offset), []request.Fragment{{Length: int(length)}}, false)
	if res != status.Ok {
		return NewDeviceError("DISCARD", d.ID, FromBlockStatus(res), res.String())
	}
	return nil
}

// Flush requests that the backend durably persist prior writes.
func (d *Device) Flush() error {
	res := d.submit(wire.Flush, 0, nil, false)
	if res != status.Ok {
		return NewDeviceError("FLUSH", d.ID, FromBlockStatus(res), res.String())
	}
	return nil
}

// submitZoneOp runs a zone-management opcode with no data payload,
// blocking until it completes.
func (d *Device) submitZoneOp(op wire.Opcode, offset int64) status.BlockStatus {
	return d.submit(op, uint64(offset), nil, false)
}

// OpenZone explicitly opens the zone containing offset.
func (d *Device) OpenZone(offset int64) error {
	if res := d.submitZoneOp(wire.ZoneOpen, offset); res != status.Ok {
		return NewDeviceError("ZONE_OPEN", d.ID, FromBlockStatus(res), res.String())
	}
	return nil
}

// CloseZone closes the zone containing offset.
func (d *Device) CloseZone(offset int64) error {
	if res := d.submitZoneOp(wire.ZoneClose, offset); res != status.Ok {
		return NewDeviceError("ZONE_CLOSE", d.ID, FromBlockStatus(res), res.String())
	}
	return nil
}

// FinishZone forces the zone containing offset to the full condition.
func (d *Device) FinishZone(offset int64) error {
	if res := d.submitZoneOp(wire.ZoneFinish, offset); res != status.Ok {
		return NewDeviceError("ZONE_FINISH", d.ID, FromBlockStatus(res), res.String())
	}
	return nil
}

// ResetZone resets the zone containing offset back to empty.
func (d *Device) ResetZone(offset int64) error {
	if res := d.submitZoneOp(wire.ZoneReset, offset); res != status.Ok {
		return NewDeviceError("ZONE_RESET", d.ID, FromBlockStatus(res), res.String())
	}
	return nil
}

// ResetAllZones resets every zone on the device back to empty.
func (d *Device) ResetAllZones() error {
	if res := d.submitZoneOp(wire.ZoneResetAll, 0); res != status.Ok {
		return NewDeviceError("ZONE_RESET_ALL", d.ID, FromBlockStatus(res), res.String())
	}
	return nil
}

// AppendZone appends p to the zone containing offset, returning the
// effective offset the data was actually written at.
func (d *Device) AppendZone(p []byte, offset int64) (int64, error) {
	if d.readOnly {
		return 0, NewDeviceError("ZONE_APPEND", d.ID, ErrCodePermissionDenied, "device is read-only")
	}
	done := make(chan struct{})
	req := request.NewBlockRequest(wire.ZoneAppend, uint64(offset), uint64(len(p)), singleFragment(p), true, func(r *request.Request) {
		d.conn.Resolve(r.ID)
		close(done)
	})
	d.conn.Track(req)
	d.pool.Submit(req)
	<-done
	if req.BlockResult != status.Ok {
		return 0, NewDeviceError("ZONE_APPEND", d.ID, FromBlockStatus(req.BlockResult), req.BlockResult.String())
	}
	return int64(req.EffectiveOff), nil
}

// ReportZones returns up to nrZones consecutive zone descriptors starting
// at the zone containing offset.
func (d *Device) ReportZones(offset int64, nrZones int) ([]ZoneDescriptor, error) {
	buf := make([]byte, nrZones*zone.DescriptorSlotSize)
	req := request.NewControlRequest(uint64(offset), buf, func(r *request.Request) {
		d.conn.Resolve(r.ID)
	})
	d.conn.Track(req)
	d.pool.Submit(req)
	<-req.ControlSignal

	if req.IntResult < 0 {
		return nil, NewDeviceError("REPORT_ZONES", d.ID, ErrCodeNotImplemented, "device is not zoned")
	}
	return decodeZoneDescriptors(buf, req.IntResult), nil
}

func decodeZoneDescriptors(buf []byte, n int) []ZoneDescriptor {
	out := make([]ZoneDescriptor, 0, n)
	for i := 0; i < n; i++ {
		off := i * zone.DescriptorSlotSize
		out = append(out, ZoneDescriptor{
			Start:    binary.LittleEndian.Uint64(buf[off : off+8]),
			Len:      binary.LittleEndian.Uint64(buf[off+8 : off+16]),
			Capacity: binary.LittleEndian.Uint64(buf[off+16 : off+24]),
			WP:       binary.LittleEndian.Uint64(buf[off+24 : off+32]),
			Type:     int32(binary.LittleEndian.Uint32(buf[off+32 : off+36])),
			Cond:     int32(binary.LittleEndian.Uint32(buf[off+36 : off+40])),
		})
	}
	return out
}
