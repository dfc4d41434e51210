package ataridos

import (
	"fmt"

	"github.com/retrofloppy/uft"
)

// Entry is one 16-byte directory slot decoded for callers.
type Entry struct {
	Name        string
	Index       uint8
	Flags       uint8
	Locked      bool
	Subdir      bool
	SectorCount uint16
	StartSector uint16
}

func decodeEntry(raw []byte, index uint8) Entry {
	var name [8]byte
	var ext [3]byte
	copy(name[:], raw[5:13])
	copy(ext[:], raw[13:16])
	return Entry{
		Name:        formatName(name, ext),
		Index:       index,
		Flags:       raw[0],
		Locked:      raw[0]&flagLocked != 0,
		Subdir:      raw[0]&flagSubdir != 0,
		SectorCount: uint16(raw[1]) | uint16(raw[2])<<8,
		StartSector: uint16(raw[3]) | uint16(raw[4])<<8,
	}
}

// forEachRawEntry walks the directory's raw slots in order until fn returns
// false. A zero flag byte ends the directory.
func (f *Filesystem) forEachRawEntry(fn func(raw []byte, index uint8) bool) uft.DriverError {
	index := uint8(0)
	for s := uint16(0); s < dirSectors; s++ {
		data, err := f.sector(dirStart + s)
		if err != nil {
			return err
		}
		perSector := len(data) / entrySize
		if perSector > 8 {
			perSector = 8 // double density still packs 8 entries per sector
		}
		for e := 0; e < perSector; e++ {
			raw := data[e*entrySize : (e+1)*entrySize]
			if raw[0] == 0 {
				return nil
			}
			if !fn(raw, index) {
				return nil
			}
			index++
		}
	}
	return nil
}

// List returns the live directory entries; deleted and never-used slots are
// skipped.
func (f *Filesystem) List() ([]Entry, uft.DriverError) {
	if f.variant == VariantSpartaDOS {
		return nil, uft.ErrNotSupported.WithMessage(
			"use the SpartaDOS operations on SpartaDOS volumes")
	}
	var out []Entry
	err := f.forEachRawEntry(func(raw []byte, index uint8) bool {
		if raw[0]&flagInUse != 0 && raw[0]&flagDeleted == 0 {
			out = append(out, decodeEntry(raw, index))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// findEntry locates a live file by name; names compare case-insensitively in
// their space-padded form.
func (f *Filesystem) findEntry(name string) (Entry, uft.DriverError) {
	wantName, wantExt, err := parseName(name)
	if err != nil {
		return Entry{}, err
	}
	want := formatName(wantName, wantExt)

	var found Entry
	ok := false
	err = f.forEachRawEntry(func(raw []byte, index uint8) bool {
		if raw[0]&flagInUse == 0 || raw[0]&flagDeleted != 0 {
			return true
		}
		entry := decodeEntry(raw, index)
		if entry.Name == want {
			found, ok = entry, true
			return false
		}
		return true
	})
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, uft.ErrNotFound.WithMessage(fmt.Sprintf("no file %q", name))
	}
	return found, nil
}

// Stat returns one file's directory entry.
func (f *Filesystem) Stat(name string) (Entry, uft.DriverError) {
	return f.findEntry(name)
}

// entrySlot gives the directory sector and byte offset of slot index.
func entrySlot(index uint8) (uint16, int) {
	return dirStart + uint16(index)/8, int(index%8) * entrySize
}

// updateEntry rewrites one raw slot through fn and commits it.
func (f *Filesystem) updateEntry(index uint8, fn func(raw []byte)) uft.DriverError {
	number, offset := entrySlot(index)
	data, err := f.sector(number)
	if err != nil {
		return err
	}
	fn(data[offset : offset+entrySize])
	return f.commit(number)
}

// addEntry claims a directory slot for a new file: the first deleted or
// never-used slot wins.
func (f *Filesystem) addEntry(name string, start, count uint16) (uint8, uft.DriverError) {
	wantName, wantExt, err := parseName(name)
	if err != nil {
		return 0, err
	}

	slot := -1
	index := uint8(0)
	err = f.forEachRawEntry(func(raw []byte, i uint8) bool {
		index = i + 1
		if raw[0]&flagDeleted != 0 && slot < 0 {
			slot = int(i)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if slot < 0 {
		if index >= maxFiles {
			return 0, uft.ErrDiskFull.WithMessage("directory is full")
		}
		slot = int(index)
	}

	derr := f.updateEntry(uint8(slot), func(raw []byte) {
		raw[0] = flagInUse | flagDOS2
		raw[1], raw[2] = byte(count), byte(count>>8)
		raw[3], raw[4] = byte(start), byte(start>>8)
		copy(raw[5:13], wantName[:])
		copy(raw[13:16], wantExt[:])
	})
	if derr != nil {
		return 0, derr
	}
	return uint8(slot), nil
}
