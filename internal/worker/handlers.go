package worker

import (
	"encoding/binary"
	"time"

	"github.com/snu-csl/go-bius/internal/interfaces"
	"github.com/snu-csl/go-bius/internal/logging"
	"github.com/snu-csl/go-bius/internal/request"
	"github.com/snu-csl/go-bius/internal/status"
	"github.com/snu-csl/go-bius/internal/wire"
	"github.com/snu-csl/go-bius/internal/zone"
)

// ioChunks returns the byte ranges the backend should actually read or
// write for req. A request that cleared the inline threshold and went
// through the mapping window moves its bytes through that window's
// memory, so its chunks come from there; everything else — the common
// small-IO case, and any request the window declined to map — reads or
// writes the fragment buffers handed in over the wire directly, since a
// single address space has no second copy to stage through.
func (p *Pool) ioChunks(req *request.Request) []request.Fragment {
	if req.MapKind != wire.Unmapped {
		if win := p.cfg.Connection.Window(); win != nil {
			chunks := win.Chunks()
			frags := make([]request.Fragment, len(chunks))
			for i, c := range chunks {
				frags[i] = request.Fragment{Page: c.Bytes, Offset: 0, Length: len(c.Bytes)}
			}
			return frags
		}
	}
	return req.Fragments
}

func (p *Pool) handleRead(log *logging.Logger, req *request.Request) {
	start := time.Now()
	var total int
	var failed bool

	for _, frag := range p.ioChunks(req) {
		n, err := p.cfg.Backend.ReadAt(frag.Bytes(), int64(req.ByteOffset)+int64(total))
		total += n
		if err != nil {
			log.WithError(err).Error("read failed")
			failed = true
			break
		}
	}

	if p.cfg.Zones != nil && !failed {
		p.cfg.Zones.RecordRead(req.ByteOffset, total)
	}

	p.cfg.Observer.ObserveRead(uint64(total), uint64(time.Since(start)), !failed)
	if failed {
		req.Complete(statusFromError(status.IoError))
		return
	}
	req.Complete(status.Ok)
}

func (p *Pool) handleWrite(log *logging.Logger, req *request.Request) {
	start := time.Now()

	if p.cfg.Zones != nil {
		res := p.cfg.Zones.Write(req.ByteOffset, req.TotalFragmentBytes())
		if res != status.Ok {
			p.cfg.Observer.ObserveWrite(0, uint64(time.Since(start)), false)
			req.Complete(res)
			return
		}
	}

	var total int
	var failed bool
	for _, frag := range p.ioChunks(req) {
		n, err := p.cfg.Backend.WriteAt(frag.Bytes(), int64(req.ByteOffset)+int64(total))
		total += n
		if err != nil {
			log.WithError(err).Error("write failed")
			failed = true
			break
		}
	}

	p.cfg.Observer.ObserveWrite(uint64(total), uint64(time.Since(start)), !failed)
	if failed {
		req.Complete(status.IoError)
		return
	}
	req.Complete(status.Ok)
}

func (p *Pool) handleDiscard(log *logging.Logger, req *request.Request) {
	start := time.Now()
	db, ok := p.cfg.Backend.(interfaces.DiscardBackend)
	if !ok {
		req.Complete(status.NotSupported)
		return
	}

	err := db.Discard(int64(req.ByteOffset), int64(req.ByteLength))
	p.cfg.Observer.ObserveDiscard(req.ByteLength, uint64(time.Since(start)), err == nil)
	if err != nil {
		log.WithError(err).Error("discard failed")
		req.Complete(status.IoError)
		return
	}
	req.Complete(status.Ok)
}

func (p *Pool) handleFlush(log *logging.Logger, req *request.Request) {
	start := time.Now()
	err := p.cfg.Backend.Flush()
	p.cfg.Observer.ObserveFlush(uint64(time.Since(start)), err == nil)
	if err != nil {
		log.WithError(err).Error("flush failed")
		req.Complete(status.IoError)
		return
	}
	req.Complete(status.Ok)
}

func (p *Pool) handleReportZones(log *logging.Logger, req *request.Request) {
	start := time.Now()
	if p.cfg.Zones == nil {
		req.CompleteInt(-1)
		return
	}

	nrZones := len(req.ControlBuffer) / zone.DescriptorSlotSize
	descs := p.cfg.Zones.ReportZones(req.ByteOffset, nrZones)
	n := encodeZoneDescriptors(req.ControlBuffer, descs)

	p.cfg.Observer.ObserveZoneOp(uint64(time.Since(start)), true)
	log.Debug("report zones", "count", len(descs))
	req.CompleteInt(n)
}

func (p *Pool) handleZoneOp(log *logging.Logger, req *request.Request, run func(off int64) status.BlockStatus) {
	start := time.Now()
	res := run(int64(req.ByteOffset))
	p.cfg.Observer.ObserveZoneOp(uint64(time.Since(start)), res == status.Ok)
	if res != status.Ok {
		log.Warn("zone operation rejected", "result", res.String())
	}
	req.Complete(res)
}

func (p *Pool) handleZoneAppend(log *logging.Logger, req *request.Request) {
	start := time.Now()

	res, effective := p.cfg.Zones.AppendZone(req.ByteOffset, req.TotalFragmentBytes())
	if res != status.Ok {
		p.cfg.Observer.ObserveZoneOp(uint64(time.Since(start)), false)
		req.Complete(res)
		return
	}

	var total int64
	var failed bool
	for _, frag := range p.ioChunks(req) {
		next, err := p.zoned.AppendZone(frag.Bytes(), int64(effective)+total)
		if err != nil {
			log.WithError(err).Error("zone append backend write failed")
			failed = true
			break
		}
		total = next - int64(effective)
	}

	req.EffectiveOff = effective
	p.cfg.Observer.ObserveZoneOp(uint64(time.Since(start)), !failed)
	if failed {
		req.Complete(status.IoError)
		return
	}
	req.Complete(status.Ok)
}

func (p *Pool) handleZoneReset(log *logging.Logger, req *request.Request) {
	start := time.Now()
	res, off, length := p.cfg.Zones.ResetZone(req.ByteOffset)
	if res == status.Ok && length > 0 {
		if db, ok := p.cfg.Backend.(interfaces.DiscardBackend); ok {
			if err := db.Discard(int64(off), int64(length)); err != nil {
				log.WithError(err).Error("reset-zone discard failed")
				res = status.IoError
			}
		}
	}
	if res == status.Ok {
		if err := p.zoned.ResetZone(int64(req.ByteOffset)); err != nil {
			res = status.IoError
		}
	}
	p.cfg.Observer.ObserveZoneOp(uint64(time.Since(start)), res == status.Ok)
	req.Complete(res)
}

func (p *Pool) handleZoneResetAll(log *logging.Logger, req *request.Request) {
	start := time.Now()
	off, length := p.cfg.Zones.ResetAllZones(uint64(p.cfg.Backend.Size()))

	var err error
	if db, ok := p.cfg.Backend.(interfaces.DiscardBackend); ok {
		err = db.Discard(int64(off), int64(length))
	}
	if err == nil {
		err = p.zoned.ResetAllZones()
	}

	p.cfg.Observer.ObserveZoneOp(uint64(time.Since(start)), err == nil)
	if err != nil {
		log.WithError(err).Error("reset-all-zones failed")
		req.Complete(status.IoError)
		return
	}
	req.Complete(status.Ok)
}

func statusFromError(s status.BlockStatus) status.BlockStatus {
	return status.Normalize(s)
}

// encodeZoneDescriptors packs zone descriptors into dst as fixed-size
// slots, returning how many were written. It silently truncates to
// len(dst)/zone.DescriptorSlotSize if dst is too small for all of descs.
func encodeZoneDescriptors(dst []byte, descs []zone.Descriptor) int {
	maxSlots := len(dst) / zone.DescriptorSlotSize
	n := len(descs)
	if n > maxSlots {
		n = maxSlots
	}

	for i := 0; i < n; i++ {
		d := descs[i]
		off := i * zone.DescriptorSlotSize
		binary.LittleEndian.PutUint64(dst[off:off+8], d.Start)
		binary.LittleEndian.PutUint64(dst[off+8:off+16], d.Len)
		binary.LittleEndian.PutUint64(dst[off+16:off+24], d.Capacity)
		binary.LittleEndian.PutUint64(dst[off+24:off+32], d.WP)
		binary.LittleEndian.PutUint32(dst[off+32:off+36], uint32(d.Type))
		binary.LittleEndian.PutUint32(dst[off+36:off+40], uint32(d.Cond))
	}
	return n
}
