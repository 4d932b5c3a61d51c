package bius

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockBackendReadWrite(t *testing.T) {
	backend := NewMockBackend(1024)
	require.EqualValues(t, 1024, backend.Size())

	data := []byte("hello world")
	n, err := backend.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	buf := make([]byte, len(data))
	n, err = backend.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, buf)
}

func TestMockBackendDiscard(t *testing.T) {
	backend := NewMockBackend(1024)
	data := []byte("hello world")
	_, err := backend.WriteAt(data, 0)
	require.NoError(t, err)

	require.NoError(t, backend.Discard(0, int64(len(data))))

	buf := make([]byte, len(data))
	_, err = backend.ReadAt(buf, 0)
	require.NoError(t, err)
	for _, b := range buf {
		require.Zero(t, b)
	}
}

func TestMockBackendFlushAndClose(t *testing.T) {
	backend := NewMockBackend(1024)
	require.False(t, backend.IsFlushed())
	require.NoError(t, backend.Flush())
	require.True(t, backend.IsFlushed())

	require.False(t, backend.IsClosed())
	require.NoError(t, backend.Close())
	require.True(t, backend.IsClosed())

	_, err := backend.ReadAt(make([]byte, 4), 0)
	require.Error(t, err)
}

func TestMockBackendCallCounts(t *testing.T) {
	backend := NewMockBackend(1024)
	backend.ReadAt(make([]byte, 10), 0)
	backend.WriteAt([]byte("test"), 0)
	backend.Flush()

	counts := backend.CallCounts()
	require.Equal(t, 1, counts["read"])
	require.Equal(t, 1, counts["write"])
	require.Equal(t, 1, counts["flush"])

	backend.Reset()
	require.Zero(t, backend.CallCounts()["read"])
}

func TestDefaultParams(t *testing.T) {
	backend := NewMockBackend(1024)
	params := DefaultParams(backend)

	require.Equal(t, Backend(backend), params.Backend)
	require.Equal(t, DefaultQueueDepth, params.QueueDepth)
	require.Equal(t, DefaultLogicalBlockSize, params.LogicalBlockSize)
	require.Equal(t, DefaultMaxIOSize, params.MaxIOSize)
	require.False(t, params.ReadOnly)
	require.False(t, params.EnableZoned)
}

func TestDeviceStateInspection(t *testing.T) {
	var device *Device
	require.Equal(t, DeviceStateStopped, device.State())
	require.False(t, device.IsRunning())

	info := device.Info()
	require.Empty(t, info.State)
}

func TestCreateAndServeRoundTrip(t *testing.T) {
	backend := NewMockBackend(1 << 20)
	params := DefaultParams(backend)
	params.DiskName = "bius-test-roundtrip"
	params.NumQueues = 2

	device, err := CreateAndServe(context.Background(), params, nil)
	require.NoError(t, err)
	require.True(t, device.IsRunning())
	require.Equal(t, 2, device.NumQueues())
	require.Equal(t, DefaultLogicalBlockSize, device.BlockSize())
	require.EqualValues(t, 1<<20, device.Size())

	payload := []byte("round trip data")
	_, err = device.WriteAt(payload, 512)
	require.NoError(t, err)

	readBuf := make([]byte, len(payload))
	_, err = device.ReadAt(readBuf, 512)
	require.NoError(t, err)
	require.Equal(t, payload, readBuf)

	require.NoError(t, device.Flush())
	require.NoError(t, device.Discard(512, int64(len(payload))))

	snap := device.MetricsSnapshot()
	require.GreaterOrEqual(t, snap.WriteOps, uint64(1))
	require.GreaterOrEqual(t, snap.ReadOps, uint64(1))

	info := device.Info()
	require.Equal(t, DeviceStateRunning, info.State)
	require.True(t, info.Running)

	require.NoError(t, StopAndDelete(context.Background(), device))
	require.False(t, device.IsRunning())
}

func TestCreateAndServeRequiresBackend(t *testing.T) {
	_, err := CreateAndServe(context.Background(), DeviceParams{}, nil)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeInvalidParameters))
}

func TestStopAndDeleteNilDevice(t *testing.T) {
	err := StopAndDelete(context.Background(), nil)
	require.Error(t, err)
}

func TestReadOnlyDeviceRejectsWrites(t *testing.T) {
	backend := NewMockBackend(4096)
	params := DefaultParams(backend)
	params.DiskName = "bius-test-readonly"
	params.ReadOnly = true

	device, err := CreateAndServe(context.Background(), params, nil)
	require.NoError(t, err)
	defer StopAndDelete(context.Background(), device)

	require.True(t, device.ReadOnly())
	_, err = device.WriteAt([]byte("nope"), 0)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodePermissionDenied))
}
