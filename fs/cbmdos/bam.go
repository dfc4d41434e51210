package cbmdos

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/retrofloppy/uft"
)

// The block availability map. The on-disk convention is bit set = free; the
// stored per-track free counts are redundant with the bitmaps and this
// engine keeps them consistent on every mutation.

// Info summarizes the DOS header block.
type Info struct {
	DiskName   string
	DiskID     string
	DOSVersion byte
	DirTrack   uint8
	DirSector  uint8
	FreeBlocks uint
}

// BulkOptions steer AllocateAll and FreeAll. Preserved structures are forced
// to the state opposite the bulk operation, so a FreeAll with PreserveBAM
// leaves the BAM blocks allocated.
type BulkOptions struct {
	PreserveBAM       bool
	PreserveDirectory bool
	DryRun            bool
}

func (f *Filesystem) checkTrackSector(track, sector uint8) uft.DriverError {
	if track < 1 || track > f.layout.Tracks {
		return uft.ErrOutOfRange.WithMessage(fmt.Sprintf("invalid track %d", track))
	}
	if sector >= f.layout.SectorsOn(track) {
		return uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"invalid sector %d on track %d", sector, track))
	}
	return nil
}

// ReadInfo decodes the header block.
func (f *Filesystem) ReadInfo() (Info, uft.DriverError) {
	header, err := f.block(f.layout.HeaderBlock)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		DiskName:   ToASCII(header[f.layout.NameOffset : f.layout.NameOffset+16]),
		DiskID:     ToASCII(header[f.layout.IDOffset : f.layout.IDOffset+2]),
		DOSVersion: header[2],
		DirTrack:   f.layout.FirstDir.Track,
		DirSector:  f.layout.FirstDir.Sector,
	}
	for t := uint8(1); t <= f.layout.Tracks; t++ {
		if t == f.layout.DirTrack {
			continue
		}
		free, err := f.GetTrackFree(t)
		if err != nil {
			return Info{}, err
		}
		info.FreeBlocks += uint(free)
	}
	return info, nil
}

// GetTrackFree returns the stored free count for a track.
func (f *Filesystem) GetTrackFree(track uint8) (uint8, uft.DriverError) {
	if err := f.checkTrackSector(track, 0); err != nil {
		return 0, err
	}
	slot := f.layout.Slot(track)
	block, err := f.block(slot.countBlock)
	if err != nil {
		return 0, err
	}
	return block[slot.countOffset], nil
}

// IsAllocated reports whether a sector is in use (bit clear).
func (f *Filesystem) IsAllocated(track, sector uint8) (bool, uft.DriverError) {
	if err := f.checkTrackSector(track, sector); err != nil {
		return false, err
	}
	slot := f.layout.Slot(track)
	block, err := f.block(slot.bitsBlock)
	if err != nil {
		return false, err
	}
	bits := bitmap.Bitmap(block[slot.bitsOffset : slot.bitsOffset+slot.bitsLen])
	return !bits.Get(int(sector)), nil
}

func (f *Filesystem) setAllocated(track, sector uint8, allocated bool) uft.DriverError {
	if err := f.checkTrackSector(track, sector); err != nil {
		return err
	}
	slot := f.layout.Slot(track)
	block, err := f.block(slot.bitsBlock)
	if err != nil {
		return err
	}
	bits := bitmap.Bitmap(block[slot.bitsOffset : slot.bitsOffset+slot.bitsLen])
	bits.Set(int(sector), !allocated)
	if err := f.recountTrack(track); err != nil {
		return err
	}
	return f.commit(slot.bitsBlock.Track)
}

// Allocate marks a sector in use and updates the track's free count.
func (f *Filesystem) Allocate(track, sector uint8) uft.DriverError {
	return f.setAllocated(track, sector, true)
}

// Free marks a sector free and updates the track's free count.
func (f *Filesystem) Free(track, sector uint8) uft.DriverError {
	return f.setAllocated(track, sector, false)
}

// recountTrack rebuilds one track's stored free count from its bitmap.
func (f *Filesystem) recountTrack(track uint8) uft.DriverError {
	slot := f.layout.Slot(track)
	block, err := f.block(slot.bitsBlock)
	if err != nil {
		return err
	}
	bits := bitmap.Bitmap(block[slot.bitsOffset : slot.bitsOffset+slot.bitsLen])
	var free uint8
	for s := uint8(0); s < f.layout.SectorsOn(track); s++ {
		if bits.Get(int(s)) {
			free++
		}
	}
	countBlock, err := f.block(slot.countBlock)
	if err != nil {
		return err
	}
	countBlock[slot.countOffset] = free
	if slot.countBlock != slot.bitsBlock {
		if err := f.commit(slot.countBlock.Track); err != nil {
			return err
		}
	}
	return nil
}

// RecalculateFreeCounts rebuilds every track's stored free count.
func (f *Filesystem) RecalculateFreeCounts() uft.DriverError {
	for t := uint8(1); t <= f.layout.Tracks; t++ {
		if err := f.recountTrack(t); err != nil {
			return err
		}
		slot := f.layout.Slot(t)
		if err := f.commit(slot.bitsBlock.Track); err != nil {
			return err
		}
	}
	return nil
}

// preservedBlocks enumerates the blocks a bulk operation must hold at the
// opposite state: the BAM/header blocks, and the directory chain.
func (f *Filesystem) preservedBlocks(opts BulkOptions) (map[blockRef]bool, uft.DriverError) {
	keep := map[blockRef]bool{}
	if opts.PreserveBAM {
		keep[f.layout.HeaderBlock] = true
		for t := uint8(1); t <= f.layout.Tracks; t++ {
			slot := f.layout.Slot(t)
			keep[slot.countBlock] = true
			keep[slot.bitsBlock] = true
		}
	}
	if opts.PreserveDirectory {
		err := f.walkChain(f.layout.FirstDir, func(ref blockRef, _ []byte) (bool, uft.DriverError) {
			keep[ref] = true
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return keep, nil
}

func (f *Filesystem) bulkSet(allocated bool, opts BulkOptions) uft.DriverError {
	keep, err := f.preservedBlocks(opts)
	if err != nil {
		return err
	}
	if opts.DryRun {
		return nil
	}
	for t := uint8(1); t <= f.layout.Tracks; t++ {
		slot := f.layout.Slot(t)
		block, err := f.block(slot.bitsBlock)
		if err != nil {
			return err
		}
		bits := bitmap.Bitmap(block[slot.bitsOffset : slot.bitsOffset+slot.bitsLen])
		for s := uint8(0); s < f.layout.SectorsOn(t); s++ {
			state := allocated
			if keep[blockRef{t, s}] {
				state = !allocated
			}
			bits.Set(int(s), !state)
		}
		if err := f.recountTrack(t); err != nil {
			return err
		}
		if err := f.commit(slot.bitsBlock.Track); err != nil {
			return err
		}
	}
	return nil
}

// AllocateAll marks every sector in use, except preserved structures.
func (f *Filesystem) AllocateAll(opts BulkOptions) uft.DriverError {
	return f.bulkSet(true, opts)
}

// FreeAll marks every sector free, except preserved structures.
func (f *Filesystem) FreeAll(opts BulkOptions) uft.DriverError {
	return f.bulkSet(false, opts)
}

// SetDiskName rewrites the header's disk name, PETSCII 0xA0-padded.
func (f *Filesystem) SetDiskName(name string) uft.DriverError {
	header, err := f.block(f.layout.HeaderBlock)
	if err != nil {
		return err
	}
	copy(header[f.layout.NameOffset:f.layout.NameOffset+16], FromASCII(name, 16))
	return f.commit(f.layout.HeaderBlock.Track)
}

// SetDiskID rewrites the two-character disk id.
func (f *Filesystem) SetDiskID(id string) uft.DriverError {
	if len(id) != 2 {
		return uft.ErrInvalidArgument.WithMessage("disk id is exactly two characters")
	}
	header, err := f.block(f.layout.HeaderBlock)
	if err != nil {
		return err
	}
	copy(header[f.layout.IDOffset:f.layout.IDOffset+2], FromASCII(id, 2))
	return f.commit(f.layout.HeaderBlock.Track)
}

// findFree picks an unallocated sector for the allocator, preferring tracks
// near the directory and leaving the directory track for directory growth.
func (f *Filesystem) findFree() (blockRef, uft.DriverError) {
	dir := int(f.layout.DirTrack)
	for distance := 1; distance < int(f.layout.Tracks); distance++ {
		for _, t := range []int{dir - distance, dir + distance} {
			if t < 1 || t > int(f.layout.Tracks) {
				continue
			}
			track := uint8(t)
			for s := uint8(0); s < f.layout.SectorsOn(track); s++ {
				used, err := f.IsAllocated(track, s)
				if err != nil {
					return blockRef{}, err
				}
				if !used {
					return blockRef{track, s}, nil
				}
			}
		}
	}
	return blockRef{}, uft.ErrDiskFull
}
