package kshim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateBlockDevicePermitsDuplicateNames(t *testing.T) {
	reg := NewRegistry()

	first, err := reg.CreateBlockDevice(DeviceOptions{DiskName: "dup", SizeBytes: 1 << 20})
	require.NoError(t, err)

	second, err := reg.CreateBlockDevice(DeviceOptions{DiskName: "dup", SizeBytes: 2 << 20})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestLookupResolvesToMostRecentlyInserted(t *testing.T) {
	reg := NewRegistry()

	first, err := reg.CreateBlockDevice(DeviceOptions{DiskName: "dup"})
	require.NoError(t, err)
	second, err := reg.CreateBlockDevice(DeviceOptions{DiskName: "dup"})
	require.NoError(t, err)

	found, ok := reg.Lookup("dup")
	require.True(t, ok)
	require.Equal(t, second.ID, found.ID)
	require.NotEqual(t, first.ID, found.ID)
}

func TestRemoveBlockDeviceRemovesMostRecentMatchOnly(t *testing.T) {
	reg := NewRegistry()

	first, err := reg.CreateBlockDevice(DeviceOptions{DiskName: "dup"})
	require.NoError(t, err)
	_, err = reg.CreateBlockDevice(DeviceOptions{DiskName: "dup"})
	require.NoError(t, err)

	require.NoError(t, reg.RemoveBlockDevice("dup"))

	found, ok := reg.Lookup("dup")
	require.True(t, ok)
	require.Equal(t, first.ID, found.ID)

	require.NoError(t, reg.RemoveBlockDevice("dup"))
	_, ok = reg.Lookup("dup")
	require.False(t, ok)
}

func TestRemoveBlockDeviceUnknownNameFails(t *testing.T) {
	reg := NewRegistry()
	err := reg.RemoveBlockDevice("missing")
	require.Error(t, err)
}

func TestRemoveBlockDeviceReleasesConnections(t *testing.T) {
	reg := NewRegistry()
	dev, err := reg.CreateBlockDevice(DeviceOptions{DiskName: "dev"})
	require.NoError(t, err)

	conn := NewConnection(1)
	dev.AddConnection(conn)
	req := newTestBlockRequest()
	conn.Track(req)

	require.NoError(t, reg.RemoveBlockDevice("dev"))
	require.True(t, conn.Released())
}
