package ataridos

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/retrofloppy/uft"
)

// The volume table of contents. Sector 360 covers sectors 0..719 with a
// 90-byte bitmap at offset 10, LSB first, bit set = free. DOS 2.5 enhanced
// density adds VTOC2 at sector 1024: its bitmap restates sectors 48..1023
// from offset 0, and the free count for sectors above 719 sits at offset 122.
const (
	vtocBitmapOffset = 10
	vtocBitmapBytes  = 90
	vtoc2FreeOffset  = 122
)

// Info summarizes the VTOC.
type Info struct {
	DOSCode      uint8
	TotalSectors uint16
	FreeSectors  uint16
	Variant      Variant
}

// ReadInfo decodes the VTOC header fields. On enhanced-density volumes the
// free total includes the VTOC2 count.
func (f *Filesystem) ReadInfo() (Info, uft.DriverError) {
	vtoc, err := f.sector(vtocSector)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		DOSCode:      vtoc[0],
		TotalSectors: uint16(vtoc[1]) | uint16(vtoc[2])<<8,
		FreeSectors:  uint16(vtoc[3]) | uint16(vtoc[4])<<8,
		Variant:      f.variant,
	}
	if f.hasVTOC2() {
		vtoc2, err := f.sector(vtoc2Sector)
		if err != nil {
			return Info{}, err
		}
		info.FreeSectors += uint16(vtoc2[vtoc2FreeOffset]) | uint16(vtoc2[vtoc2FreeOffset+1])<<8
	}
	return info, nil
}

func (f *Filesystem) hasVTOC2() bool {
	return f.total >= vtoc2Sector && f.variant != VariantSpartaDOS
}

// bitmapFor locates the bitmap bit covering a sector: the holding sector's
// number, its live buffer, and the bit index within it.
func (f *Filesystem) bitmapFor(number uint16) (uint16, bitmap.Bitmap, int, uft.DriverError) {
	if number >= 720 {
		if !f.hasVTOC2() {
			return 0, nil, 0, uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"sector %d beyond the VTOC bitmap", number))
		}
		// VTOC2 restates sectors 48..1023 and is authoritative above 719.
		data, err := f.sector(vtoc2Sector)
		if err != nil {
			return 0, nil, 0, err
		}
		return vtoc2Sector, bitmap.Bitmap(data[:vtoc2FreeOffset]), int(number - 48), nil
	}
	data, err := f.sector(vtocSector)
	if err != nil {
		return 0, nil, 0, err
	}
	bits := bitmap.Bitmap(data[vtocBitmapOffset : vtocBitmapOffset+vtocBitmapBytes])
	return vtocSector, bits, int(number), nil
}

// IsAllocated reports whether a sector is in use (bit clear).
func (f *Filesystem) IsAllocated(number uint16) (bool, uft.DriverError) {
	if number < 1 || number > f.total {
		return false, uft.ErrOutOfRange.WithMessage(fmt.Sprintf("invalid sector %d", number))
	}
	_, bits, index, err := f.bitmapFor(number)
	if err != nil {
		return false, err
	}
	return !bits.Get(index), nil
}

func (f *Filesystem) setAllocated(number uint16, allocated bool) uft.DriverError {
	if err := f.checkWritable(); err != nil {
		return err
	}
	if number < 1 || number > f.total {
		return uft.ErrOutOfRange.WithMessage(fmt.Sprintf("invalid sector %d", number))
	}

	holder, bits, index, err := f.bitmapFor(number)
	if err != nil {
		return err
	}
	if bits.Get(index) != allocated {
		return nil // already in the requested state, counts stay put
	}
	bits.Set(index, !allocated)

	delta := 1
	if allocated {
		delta = -1
	}
	if holder == vtoc2Sector {
		data, err := f.sector(vtoc2Sector)
		if err != nil {
			return err
		}
		free := int(uint16(data[vtoc2FreeOffset]) | uint16(data[vtoc2FreeOffset+1])<<8)
		free += delta
		data[vtoc2FreeOffset] = byte(free)
		data[vtoc2FreeOffset+1] = byte(free >> 8)
	} else {
		data, err := f.sector(vtocSector)
		if err != nil {
			return err
		}
		free := int(uint16(data[3]) | uint16(data[4])<<8)
		free += delta
		data[3] = byte(free)
		data[4] = byte(free >> 8)

		// Keep the VTOC2 shadow of sectors 48..719 consistent.
		if f.hasVTOC2() && number >= 48 {
			shadow, err := f.sector(vtoc2Sector)
			if err != nil {
				return err
			}
			bitmap.Bitmap(shadow[:vtoc2FreeOffset]).Set(int(number-48), !allocated)
			if err := f.commit(vtoc2Sector); err != nil {
				return err
			}
		}
	}
	return f.commit(holder)
}

// Allocate marks a sector in use and adjusts the free count.
func (f *Filesystem) Allocate(number uint16) uft.DriverError {
	return f.setAllocated(number, true)
}

// Free marks a sector free and adjusts the free count.
func (f *Filesystem) Free(number uint16) uft.DriverError {
	return f.setAllocated(number, false)
}

// isReserved reports sectors the allocator must never hand out.
func (f *Filesystem) isReserved(number uint16) bool {
	if number <= bootSectors {
		return true
	}
	if number >= vtocSector && number < dirStart+dirSectors {
		return true
	}
	return f.hasVTOC2() && number == vtoc2Sector
}

// findFree picks the lowest free non-reserved sector.
func (f *Filesystem) findFree() (uint16, uft.DriverError) {
	for s := uint16(bootSectors + 1); s <= f.total; s++ {
		if f.isReserved(s) {
			continue
		}
		allocated, err := f.IsAllocated(s)
		if err != nil {
			return 0, err
		}
		if !allocated {
			return s, nil
		}
	}
	return 0, uft.ErrDiskFull
}

// RecalculateFreeCounts rebuilds the stored free counts from the bitmaps.
func (f *Filesystem) RecalculateFreeCounts() uft.DriverError {
	if err := f.checkWritable(); err != nil {
		return err
	}
	var low, high int
	for s := uint16(1); s <= f.total; s++ {
		_, bits, index, err := f.bitmapFor(s)
		if err != nil {
			return err
		}
		if !bits.Get(index) {
			continue
		}
		if s >= 720 {
			high++
		} else {
			low++
		}
	}

	vtoc, err := f.sector(vtocSector)
	if err != nil {
		return err
	}
	vtoc[3] = byte(low)
	vtoc[4] = byte(low >> 8)
	if err := f.commit(vtocSector); err != nil {
		return err
	}
	if f.hasVTOC2() {
		vtoc2, err := f.sector(vtoc2Sector)
		if err != nil {
			return err
		}
		vtoc2[vtoc2FreeOffset] = byte(high)
		vtoc2[vtoc2FreeOffset+1] = byte(high >> 8)
		return f.commit(vtoc2Sector)
	}
	return nil
}
