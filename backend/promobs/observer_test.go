package promobs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserverRecordsReadWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(reg, "dev0")

	obs.ObserveRead(4096, 1_500_000, true)
	obs.ObserveWrite(4096, 2_000_000, true)
	obs.ObserveWrite(0, 500_000, false)

	require.Equal(t, float64(1), testutil.ToFloat64(obs.readOps))
	require.Equal(t, float64(4096), testutil.ToFloat64(obs.readBytes))
	require.Equal(t, float64(2), testutil.ToFloat64(obs.writeOps))
	require.Equal(t, float64(4096), testutil.ToFloat64(obs.writeBytes))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.writeErrors))
}

func TestObserverRecordsZoneAndQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(reg, "dev0")

	obs.ObserveZoneOp(100_000, true)
	obs.ObserveZoneOp(100_000, false)
	obs.ObserveQueueDepth(7)

	require.Equal(t, float64(2), testutil.ToFloat64(obs.zoneOps))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.zoneErrors))
	require.Equal(t, float64(7), testutil.ToFloat64(obs.queueDepth))
}

func TestObserverSatisfiesInterfaces(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(reg, "dev0")

	var _ interface {
		ObserveRead(uint64, uint64, bool)
		ObserveWrite(uint64, uint64, bool)
		ObserveDiscard(uint64, uint64, bool)
		ObserveFlush(uint64, bool)
		ObserveZoneOp(uint64, bool)
		ObserveQueueDepth(uint32)
	} = obs
}
