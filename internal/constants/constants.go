// Package constants holds the numeric constants fixed by the wire protocol.
// Values here are bit-exact where they affect the K2U/U2K framing or the
// zone model; changing them changes the protocol.
package constants

const (
	// SectorSize is the fixed logical sector size used for all write-pointer
	// and zone-boundary arithmetic.
	SectorSize = 512

	// MaxSegments is the scatter-gather fragment count the List-mode
	// descriptor region is sized for (see internal/kshim's
	// descriptorPageCount). MapRequest does not reject a request with more
	// fragments, and there is no separate bounce-page pool: bounce pages
	// are taken from the window's data pages like any other page.
	MaxSegments = 256

	// MaxSizePerCommand is the protocol's per-command payload limit
	// (128 MiB). Nothing in this module enforces it or sizes a window from
	// it; a window's size is chosen by its creator (bius.CreateAndServe
	// uses DeviceParams.MaxIOSize plus kshim.ReservedPageCount pages).
	MaxSizePerCommand = 128 << 20

	// MaxZones bounds the number of zones addressable by a zoned backend.
	MaxZones = 131072

	// MaxZoneSectors bounds an individual zone's length (1 GiB worth of
	// sectors).
	MaxZoneSectors = (1 << 30) / SectorSize

	// MapDataThreshold is the inline/mapped crossover: requests at or below
	// this length travel inline through the character-device stream;
	// requests above it go through the mapping window.
	MapDataThreshold = 128 << 10

	// MaxDiskNameLen bounds a registered device's name.
	MaxDiskNameLen = 32

	// DefaultWorkerCount is the default userspace worker-pool size.
	DefaultWorkerCount = 4
)

// PageSize is the page size used for the mapping window's per-slot
// granularity. It is a fixed value, not queried from the OS; it matches
// every Linux platform this module targets (x86-64, arm64).
const PageSize = 4096
