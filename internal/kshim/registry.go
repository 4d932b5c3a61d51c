package kshim

import (
	"fmt"
	"sync"
)

// DeviceOptions carries the CREATE-time parameters a connecting worker
// supplies, the Go analogue of the options blob a real buse CREATE ioctl
// copies in from userspace.
type DeviceOptions struct {
	DiskName        string
	SizeBytes       uint64
	NumQueues       int
	QueueDepth      int
	Zoned           bool
	ZoneSizeBytes   uint64
	NumConventional uint32
	MaxOpenZones    uint32
	MaxActiveZones  uint32
}

// BlockDevice is the registry's record of one live simulated block
// device: its options plus the set of connections currently bound to it.
type BlockDevice struct {
	ID      uint32
	Options DeviceOptions

	mu          sync.Mutex
	connections map[uint64]*Connection
}

func newBlockDevice(id uint32, opts DeviceOptions) *BlockDevice {
	return &BlockDevice{ID: id, Options: opts, connections: make(map[uint64]*Connection)}
}

// AddConnection registers a connection as bound to this device.
func (d *BlockDevice) AddConnection(c *Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connections[c.ID()] = c
}

// RemoveConnection drops a connection from this device's set, releasing
// it first.
func (d *BlockDevice) RemoveConnection(id uint64) {
	d.mu.Lock()
	c, ok := d.connections[id]
	delete(d.connections, id)
	d.mu.Unlock()
	if ok {
		c.Release()
	}
}

// Connections returns a snapshot of this device's bound connections.
func (d *BlockDevice) Connections() []*Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Connection, 0, len(d.connections))
	for _, c := range d.connections {
		out = append(out, c)
	}
	return out
}

// Registry is the process-wide list of live simulated block devices,
// playing the role the kernel's minor-number/gendisk table plays for a
// real buse deployment. Duplicate disk names are permitted, exactly as
// spec §4.C allows — CreateBlockDevice always appends rather than
// rejecting a name already in use; Lookup and RemoveBlockDevice resolve a
// name by reverse iteration, so the most recently inserted device with
// that name is the one found and the one removed.
type Registry struct {
	mu      sync.Mutex
	nextID  uint32
	devices []*BlockDevice
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// CreateBlockDevice registers a new device under opts.DiskName, appending
// it to the list even if another device already carries that name.
func (r *Registry) CreateBlockDevice(opts DeviceOptions) (*BlockDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	dev := newBlockDevice(r.nextID, opts)
	r.devices = append(r.devices, dev)
	return dev, nil
}

// Lookup finds a registered device by name, scanning in reverse so a
// duplicated name resolves to the most recently inserted match.
func (r *Registry) Lookup(diskName string) (*BlockDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.devices) - 1; i >= 0; i-- {
		if r.devices[i].Options.DiskName == diskName {
			return r.devices[i], true
		}
	}
	return nil, false
}

// RemoveBlockDevice releases every connection bound to diskName's most
// recently inserted device, de-links it from the registry, and leaves any
// older device sharing that name (and its own connections) untouched.
func (r *Registry) RemoveBlockDevice(diskName string) error {
	r.mu.Lock()
	idx := -1
	for i := len(r.devices) - 1; i >= 0; i-- {
		if r.devices[i].Options.DiskName == diskName {
			idx = i
			break
		}
	}
	var dev *BlockDevice
	if idx >= 0 {
		dev = r.devices[idx]
		r.devices = append(r.devices[:idx], r.devices[idx+1:]...)
	}
	r.mu.Unlock()

	if dev == nil {
		return fmt.Errorf("kshim: device %q not found", diskName)
	}
	for _, c := range dev.Connections() {
		c.Release()
	}
	return nil
}
