package bius

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snu-csl/go-bius/backend"
)

func TestCreateAndServeZonedRoundTrip(t *testing.T) {
	zoned := backend.NewZonedMemory(4 << 20) // 4MB, 4 zones of 1MB
	params := DefaultParams(zoned)
	params.DiskName = "bius-test-zoned"
	params.EnableZoned = true
	params.ZoneSizeBytes = 1 << 20
	params.MaxOpenZones = 2
	params.MaxActiveZones = 2

	device, err := CreateAndServe(context.Background(), params, nil)
	require.NoError(t, err)
	defer StopAndDelete(context.Background(), device)

	require.True(t, device.Zoned())

	descs, err := device.ReportZones(0, 4)
	require.NoError(t, err)
	require.Len(t, descs, 4)
	require.EqualValues(t, 0, descs[0].WP)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	// AppendZone reports where each payload landed: the zone's write
	// pointer as it stood before that append.
	off, err := device.AppendZone(payload, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, off)

	off2, err := device.AppendZone(payload, 0)
	require.NoError(t, err)
	require.EqualValues(t, len(payload), off2)

	readBuf := make([]byte, len(payload))
	_, err = device.ReadAt(readBuf, 0)
	require.NoError(t, err)
	require.Equal(t, payload, readBuf)

	require.NoError(t, device.ResetZone(0))

	descs, err = device.ReportZones(0, 1)
	require.NoError(t, err)
	require.EqualValues(t, 0, descs[0].WP)
}

func TestCreateAndServeZonedRequiresZoneSize(t *testing.T) {
	zoned := backend.NewZonedMemory(4 << 20)
	params := DefaultParams(zoned)
	params.DiskName = "bius-test-zoned-missing-size"
	params.EnableZoned = true

	_, err := CreateAndServe(context.Background(), params, nil)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeInvalidParameters))
}

func TestCreateAndServeZonedRequiresZonedBackend(t *testing.T) {
	mock := NewMockBackend(4 << 20)
	params := DefaultParams(mock)
	params.DiskName = "bius-test-zoned-non-zoned-backend"
	params.EnableZoned = true
	params.ZoneSizeBytes = 1 << 20

	_, err := CreateAndServe(context.Background(), params, nil)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeInvalidParameters))
}
