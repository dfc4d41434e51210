package uft

import "fmt"

// Geometry describes the physical layout of a disk. It is immutable once
// attached to a DiskImage. For zoned formats (G64, WOZ) SectorsPerTrack holds
// the maximum across zones; the per-track sector count is carried by the
// tracks themselves.
type Geometry struct {
	Cylinders       uint
	Heads           uint
	SectorsPerTrack uint
	SectorSize      uint
}

const maxCylinders = 86

// Validate checks the ranges from the data model: 1..86 cylinders, 1..2
// heads, at least one sector per track, and a power-of-two sector size
// between 128 and 16384.
func (g Geometry) Validate() DriverError {
	if g.Cylinders < 1 || g.Cylinders > maxCylinders {
		return ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cylinder count %d not in [1, %d]", g.Cylinders, maxCylinders))
	}
	if g.Heads < 1 || g.Heads > 2 {
		return ErrInvalidArgument.WithMessage(
			fmt.Sprintf("head count %d not in [1, 2]", g.Heads))
	}
	if g.SectorsPerTrack < 1 {
		return ErrInvalidArgument.WithMessage("sectors per track must be at least 1")
	}
	if !isValidSectorSize(g.SectorSize) {
		return ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid sector size %d", g.SectorSize))
	}
	return nil
}

func isValidSectorSize(size uint) bool {
	switch size {
	case 128, 256, 512, 1024, 2048, 4096, 8192, 16384:
		return true
	}
	return false
}

// TotalSectors gives the number of sectors in a uniform geometry.
func (g Geometry) TotalSectors() uint {
	return g.Cylinders * g.Heads * g.SectorsPerTrack
}

// TotalSizeBytes gives the byte size of a uniform raw image with this
// geometry.
func (g Geometry) TotalSizeBytes() int64 {
	return int64(g.TotalSectors()) * int64(g.SectorSize)
}

// SectorSizeCode converts a sector size in bytes to the FDC size code
// (128 << code == size). Returns -1 for sizes no FDC can express.
func SectorSizeCode(size uint) int {
	for code := 0; code <= 7; code++ {
		if uint(128)<<code == size {
			return code
		}
	}
	return -1
}

// SectorSizeFromCode is the inverse of SectorSizeCode.
func SectorSizeFromCode(code uint8) uint {
	return uint(128) << (code & 0x07)
}
