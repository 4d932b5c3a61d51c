package kshim

import (
	"fmt"
	"sync"

	"github.com/snu-csl/go-bius/internal/request"
	"github.com/snu-csl/go-bius/internal/status"
)

// Connection is the Go stand-in for struct buse_connection: one worker's
// open handle onto a device, tracking the requests it has been handed but
// not yet replied to. The pending/waiting split from connection.h
// collapses here into a single waiting map, since this package's worker
// pool (internal/worker) dispatches synchronously rather than through a
// kernel-side fetch/commit queue.
type Connection struct {
	mu        sync.Mutex
	id        uint64
	waiting   map[request.ID]*request.Request
	window    *Window
	released  bool
	sending   *request.Request // the inline write currently streaming out over this connection, if any
	receiving *request.Request // the inline read currently streaming in over this connection, if any
}

// NewConnection creates a connection bound to no window yet; Bind
// attaches the mmap window once the worker maps its character-device fd.
func NewConnection(id uint64) *Connection {
	return &Connection{id: id, waiting: make(map[request.ID]*request.Request)}
}

// ID reports the connection's identifier.
func (c *Connection) ID() uint64 {
	return c.id
}

// Bind attaches a mapping window to this connection. It may be called
// only once; a second call is a programming error in the caller.
func (c *Connection) Bind(w *Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window != nil {
		panic("kshim: connection already bound to a window")
	}
	c.window = w
}

// Window returns the connection's bound mapping window, or nil if Bind
// has not yet been called.
func (c *Connection) Window() *Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// BeginSend claims this connection's single in-flight inline-write slot
// for req, the Go stand-in for connection.h's sending pointer: a
// streamed small write occupies the connection until it is fully copied
// out, so only one may be in flight at a time.
func (c *Connection) BeginSend(req *request.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending != nil {
		return fmt.Errorf("kshim: connection %d already streaming an inline write", c.id)
	}
	c.sending = req
	return nil
}

// EndSend releases the inline-write slot claimed by BeginSend.
func (c *Connection) EndSend() {
	c.mu.Lock()
	c.sending = nil
	c.mu.Unlock()
}

// BeginReceive claims this connection's single in-flight inline-read slot
// for req, the receiving counterpart of BeginSend.
func (c *Connection) BeginReceive(req *request.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receiving != nil {
		return fmt.Errorf("kshim: connection %d already streaming an inline read", c.id)
	}
	c.receiving = req
	return nil
}

// EndReceive releases the inline-read slot claimed by BeginReceive.
func (c *Connection) EndReceive() {
	c.mu.Lock()
	c.receiving = nil
	c.mu.Unlock()
}

// Track records req as awaiting a reply on this connection.
func (c *Connection) Track(req *request.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiting[req.ID] = req
}

// Resolve removes and returns the tracked request with the given id, if
// any is still waiting.
func (c *Connection) Resolve(id request.ID) (*request.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.waiting[id]
	if ok {
		delete(c.waiting, id)
	}
	return req, ok
}

// Release fails every still-waiting request with IoError and tears down
// the connection's window, mirroring what happens to a buse_connection's
// waiting_requests list when its character device fd is closed out from
// under pending I/O.
func (c *Connection) Release() {
	c.mu.Lock()
	waiting := c.waiting
	c.waiting = make(map[request.ID]*request.Request)
	win := c.window
	c.sending = nil
	c.receiving = nil
	c.released = true
	c.mu.Unlock()

	for _, req := range waiting {
		if req.Kind == request.KindControl {
			req.CompleteInt(-1)
		} else {
			req.Complete(status.IoError)
		}
	}

	if win != nil {
		win.Close()
	}
}

// Released reports whether Release has already run.
func (c *Connection) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}
