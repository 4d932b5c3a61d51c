// Package promobs provides a Prometheus-backed interfaces.Observer, for
// deployments that want their I/O-path metrics scraped alongside the
// rest of a process's Prometheus exposition instead of polled through
// bius.Device.MetricsSnapshot.
package promobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Observer records bius I/O-path events as Prometheus metrics. It
// implements both bius.Observer and interfaces.Observer (the two are
// structurally identical), so a *Observer can be passed directly as
// bius.Options.Observer.
type Observer struct {
	readBytes    prometheus.Counter
	writeBytes   prometheus.Counter
	discardBytes prometheus.Counter

	readOps    prometheus.Counter
	writeOps   prometheus.Counter
	discardOps prometheus.Counter
	flushOps   prometheus.Counter
	zoneOps    prometheus.Counter

	readErrors    prometheus.Counter
	writeErrors   prometheus.Counter
	discardErrors prometheus.Counter
	flushErrors   prometheus.Counter
	zoneErrors    prometheus.Counter

	readLatency    prometheus.Histogram
	writeLatency   prometheus.Histogram
	discardLatency prometheus.Histogram
	flushLatency   prometheus.Histogram
	zoneLatency    prometheus.Histogram

	queueDepth prometheus.Gauge
}

// latencyBuckets spans 1us to 10s, the same range bius.LatencyBuckets
// covers, expressed in seconds as prometheus.Histogram expects.
var latencyBuckets = prometheus.ExponentialBucketsRange(1e-6, 10, 16)

// New registers and returns a promobs.Observer under reg, labeling every
// metric with the given device name so multiple devices can share one
// registry.
func New(reg prometheus.Registerer, device string) *Observer {
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"device": device}, reg)
	f := promauto.With(reg)

	return &Observer{
		readBytes:    f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "read_bytes_total", Help: "Total bytes read from the device."}),
		writeBytes:   f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "write_bytes_total", Help: "Total bytes written to the device."}),
		discardBytes: f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "discard_bytes_total", Help: "Total bytes discarded."}),

		readOps:    f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "read_ops_total", Help: "Total read operations."}),
		writeOps:   f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "write_ops_total", Help: "Total write operations."}),
		discardOps: f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "discard_ops_total", Help: "Total discard operations."}),
		flushOps:   f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "flush_ops_total", Help: "Total flush operations."}),
		zoneOps:    f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "zone", Name: "ops_total", Help: "Total zone management operations."}),

		readErrors:    f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "read_errors_total", Help: "Total failed read operations."}),
		writeErrors:   f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "write_errors_total", Help: "Total failed write operations."}),
		discardErrors: f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "discard_errors_total", Help: "Total failed discard operations."}),
		flushErrors:   f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "io", Name: "flush_errors_total", Help: "Total failed flush operations."}),
		zoneErrors:    f.NewCounter(prometheus.CounterOpts{Namespace: "bius", Subsystem: "zone", Name: "errors_total", Help: "Total failed zone management operations."}),

		readLatency:    f.NewHistogram(prometheus.HistogramOpts{Namespace: "bius", Subsystem: "io", Name: "read_latency_seconds", Help: "Read operation latency.", Buckets: latencyBuckets}),
		writeLatency:   f.NewHistogram(prometheus.HistogramOpts{Namespace: "bius", Subsystem: "io", Name: "write_latency_seconds", Help: "Write operation latency.", Buckets: latencyBuckets}),
		discardLatency: f.NewHistogram(prometheus.HistogramOpts{Namespace: "bius", Subsystem: "io", Name: "discard_latency_seconds", Help: "Discard operation latency.", Buckets: latencyBuckets}),
		flushLatency:   f.NewHistogram(prometheus.HistogramOpts{Namespace: "bius", Subsystem: "io", Name: "flush_latency_seconds", Help: "Flush operation latency.", Buckets: latencyBuckets}),
		zoneLatency:    f.NewHistogram(prometheus.HistogramOpts{Namespace: "bius", Subsystem: "zone", Name: "latency_seconds", Help: "Zone management operation latency.", Buckets: latencyBuckets}),

		queueDepth: f.NewGauge(prometheus.GaugeOpts{Namespace: "bius", Subsystem: "queue", Name: "depth", Help: "Most recently observed worker queue depth."}),
	}
}

func nsToSeconds(ns uint64) float64 { return float64(ns) / 1e9 }

// ObserveRead implements interfaces.Observer.
func (o *Observer) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.readOps.Inc()
	o.readLatency.Observe(nsToSeconds(latencyNs))
	if success {
		o.readBytes.Add(float64(bytes))
	} else {
		o.readErrors.Inc()
	}
}

// ObserveWrite implements interfaces.Observer.
func (o *Observer) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.writeOps.Inc()
	o.writeLatency.Observe(nsToSeconds(latencyNs))
	if success {
		o.writeBytes.Add(float64(bytes))
	} else {
		o.writeErrors.Inc()
	}
}

// ObserveDiscard implements interfaces.Observer.
func (o *Observer) ObserveDiscard(bytes uint64, latencyNs uint64, success bool) {
	o.discardOps.Inc()
	o.discardLatency.Observe(nsToSeconds(latencyNs))
	if success {
		o.discardBytes.Add(float64(bytes))
	} else {
		o.discardErrors.Inc()
	}
}

// ObserveFlush implements interfaces.Observer.
func (o *Observer) ObserveFlush(latencyNs uint64, success bool) {
	o.flushOps.Inc()
	o.flushLatency.Observe(nsToSeconds(latencyNs))
	if !success {
		o.flushErrors.Inc()
	}
}

// ObserveZoneOp implements interfaces.Observer.
func (o *Observer) ObserveZoneOp(latencyNs uint64, success bool) {
	o.zoneOps.Inc()
	o.zoneLatency.Observe(nsToSeconds(latencyNs))
	if !success {
		o.zoneErrors.Inc()
	}
}

// ObserveQueueDepth implements interfaces.Observer.
func (o *Observer) ObserveQueueDepth(depth uint32) {
	o.queueDepth.Set(float64(depth))
}
