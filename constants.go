package bius

import "github.com/snu-csl/go-bius/internal/constants"

// Re-exported wire-protocol constants, fixed by the K2U/U2K framing and
// the zone model — changing any of these changes the protocol.
const (
	SectorSize         = constants.SectorSize
	MaxSegments        = constants.MaxSegments
	MaxSizePerCommand  = constants.MaxSizePerCommand
	MaxZones           = constants.MaxZones
	MaxZoneSectors     = constants.MaxZoneSectors
	MapDataThreshold   = constants.MapDataThreshold
	MaxDiskNameLen     = constants.MaxDiskNameLen
	DefaultWorkerCount = constants.DefaultWorkerCount
	PageSize           = constants.PageSize
)
