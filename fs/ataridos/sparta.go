package ataridos

import (
	"fmt"
	"strings"

	"github.com/retrofloppy/uft"
)

// SpartaDOS read-only support. The superblock lives in sector 1: version at
// offset 7 (0x20/0x21), root directory sector-map pointer at 9, total and
// free sector counts at 11 and 13. Files and directories are both reached
// through sector maps: chained sectors whose payload is a list of data
// sector numbers, little-endian, with the next map sector in the first word.

const (
	spartaRootMapOffset = 9
	spartaTotalOffset   = 11
	spartaFreeOffset    = 13

	spartaEntrySize = 23

	spartaFlagLocked  = 0x01
	spartaFlagInUse   = 0x08
	spartaFlagDeleted = 0x10
	spartaFlagSubdir  = 0x20
)

// SpartaInfo summarizes a SpartaDOS superblock.
type SpartaInfo struct {
	Version      uint8
	TotalSectors uint16
	FreeSectors  uint16
	RootMap      uint16
}

// SpartaEntry is one 23-byte SpartaDOS directory entry.
type SpartaEntry struct {
	Name     string
	Flags    uint8
	Locked   bool
	IsDir    bool
	Size     uint32
	FirstMap uint16
}

func (f *Filesystem) checkSparta() uft.DriverError {
	if f.variant != VariantSpartaDOS {
		return uft.ErrNotSupported.WithMessage("not a SpartaDOS volume")
	}
	return nil
}

// SpartaReadInfo decodes the superblock.
func (f *Filesystem) SpartaReadInfo() (SpartaInfo, uft.DriverError) {
	if err := f.checkSparta(); err != nil {
		return SpartaInfo{}, err
	}
	boot, err := f.sector(1)
	if err != nil {
		return SpartaInfo{}, err
	}
	return SpartaInfo{
		Version:      boot[7],
		TotalSectors: uint16(boot[spartaTotalOffset]) | uint16(boot[spartaTotalOffset+1])<<8,
		FreeSectors:  uint16(boot[spartaFreeOffset]) | uint16(boot[spartaFreeOffset+1])<<8,
		RootMap:      uint16(boot[spartaRootMapOffset]) | uint16(boot[spartaRootMapOffset+1])<<8,
	}, nil
}

// spartaMapSectors resolves a sector map chain into the data sectors it
// lists, in file order. Zero entries are sparse holes and stay in the list.
func (f *Filesystem) spartaMapSectors(firstMap uint16) ([]uint16, uft.DriverError) {
	var out []uint16
	visited := map[uint16]bool{}
	current := firstMap
	for current != 0 {
		if visited[current] {
			return nil, uft.ErrCorruptImage.WithMessage("cyclic sector map chain")
		}
		visited[current] = true
		data, err := f.sector(current)
		if err != nil {
			return nil, err
		}
		next := uint16(data[0]) | uint16(data[1])<<8
		for off := 4; off+1 < len(data); off += 2 {
			out = append(out, uint16(data[off])|uint16(data[off+1])<<8)
		}
		current = next
	}
	return out, nil
}

// spartaReadBytes reads length bytes through a sector map.
func (f *Filesystem) spartaReadBytes(firstMap uint16, length uint32) ([]byte, uft.DriverError) {
	sectors, err := f.spartaMapSectors(firstMap)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, length)
	for _, number := range sectors {
		if uint32(len(out)) >= length {
			break
		}
		if number == 0 {
			// Sparse sector: reads back as zeros.
			pad := int(f.sectorSize)
			if remaining := int(length) - len(out); pad > remaining {
				pad = remaining
			}
			out = append(out, make([]byte, pad)...)
			continue
		}
		data, err := f.sector(number)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	if uint32(len(out)) < length {
		return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"sector map holds %d bytes of a %d byte file", len(out), length))
	}
	return out[:length], nil
}

func decodeSpartaEntry(raw []byte) SpartaEntry {
	name := strings.TrimRight(string(raw[6:14]), " ")
	ext := strings.TrimRight(string(raw[14:17]), " ")
	if ext != "" {
		name = name + "." + ext
	}
	return SpartaEntry{
		Name:     name,
		Flags:    raw[0],
		Locked:   raw[0]&spartaFlagLocked != 0,
		IsDir:    raw[0]&spartaFlagSubdir != 0,
		Size:     uint32(raw[3]) | uint32(raw[4])<<8 | uint32(raw[5])<<16,
		FirstMap: uint16(raw[1]) | uint16(raw[2])<<8,
	}
}

// SpartaList lists a directory given its first map sector; pass the
// superblock's RootMap for the root. The leading header entry names the
// directory itself and is skipped.
func (f *Filesystem) SpartaList(firstMap uint16) ([]SpartaEntry, uft.DriverError) {
	if err := f.checkSparta(); err != nil {
		return nil, err
	}
	header, err := f.spartaReadBytes(firstMap, uint32(spartaEntrySize))
	if err != nil {
		return nil, err
	}
	// The header entry's size field is the directory's byte length.
	dirLen := uint32(header[3]) | uint32(header[4])<<8 | uint32(header[5])<<16
	if dirLen < spartaEntrySize {
		return nil, uft.ErrCorruptImage.WithMessage("directory shorter than its own header")
	}
	raw, err := f.spartaReadBytes(firstMap, dirLen)
	if err != nil {
		return nil, err
	}

	var out []SpartaEntry
	for off := spartaEntrySize; off+spartaEntrySize <= len(raw); off += spartaEntrySize {
		entry := raw[off : off+spartaEntrySize]
		if entry[0] == 0 {
			break
		}
		if entry[0]&spartaFlagInUse == 0 || entry[0]&spartaFlagDeleted != 0 {
			continue
		}
		out = append(out, decodeSpartaEntry(entry))
	}
	return out, nil
}

// SpartaReadFile returns a file's contents from the directory at firstMap.
func (f *Filesystem) SpartaReadFile(firstMap uint16, name string) ([]byte, uft.DriverError) {
	entries, err := f.SpartaList(firstMap)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.Name, name) {
			if entry.IsDir {
				return nil, uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
					"%q is a directory", name))
			}
			return f.spartaReadBytes(entry.FirstMap, entry.Size)
		}
	}
	return nil, uft.ErrNotFound.WithMessage(fmt.Sprintf("no file %q", name))
}
