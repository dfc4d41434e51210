// Package cbmdos implements the Commodore DOS view of D64, D71 and D81
// images: the directory chain, the PETSCII name space and the block
// availability map, with the 1541/1571/1581 layout differences folded into
// a Layout table.
package cbmdos

import (
	"errors"
	"fmt"

	"github.com/retrofloppy/uft"
)

// File type codes, low three bits of the directory entry's type byte.
const (
	TypeDEL = 0x00
	TypeSEQ = 0x01
	TypePRG = 0x02
	TypeUSR = 0x03
	TypeREL = 0x04

	flagLocked = 0x40
	flagClosed = 0x80
)

const dataPerBlock = 254

var typeNames = [...]string{"DEL", "SEQ", "PRG", "USR", "REL"}

// FileEntry is one directory entry as presented to callers.
type FileEntry struct {
	Name        string
	Type        uint8
	Locked      bool
	Closed      bool
	StartTrack  uint8
	StartSector uint8
	Blocks      uint16
}

// TypeName returns the DOS listing name for the entry's type.
func (e FileEntry) TypeName() string {
	if int(e.Type) < len(typeNames) {
		return typeNames[e.Type]
	}
	return "???"
}

// Filesystem is a DOS session on an open Commodore image. Like the image it
// wraps, it is single-threaded.
type Filesystem struct {
	img    *uft.DiskImage
	layout *Layout
}

// Open attaches DOS semantics to an image. The image stays owned by the
// caller; closing the image invalidates the filesystem.
func Open(img *uft.DiskImage) (*Filesystem, uft.DriverError) {
	layout := LayoutFor(img)
	if layout == nil {
		return nil, uft.ErrNotSupported.WithMessage(fmt.Sprintf(
			"format %q carries no CBM DOS filesystem", img.Format))
	}
	return &Filesystem{img: img, layout: layout}, nil
}

// block returns the live 256-byte buffer of a logical block. Mutations must
// be followed by commit on the same track to reach the image.
func (f *Filesystem) block(ref blockRef) ([]byte, uft.DriverError) {
	if err := f.checkTrackSector(ref.Track, ref.Sector); err != nil {
		return nil, err
	}
	cylinder, head := f.layout.ToPhysical(ref.Track)
	sector, err := f.img.ReadSector(cylinder, head, ref.Sector)
	if err != nil {
		return nil, err
	}
	return sector.Data, nil
}

// commit pushes a logical track's cached buffers into the image.
func (f *Filesystem) commit(track uint8) uft.DriverError {
	cylinder, head := f.layout.ToPhysical(track)
	cached, err := f.img.ReadTrack(cylinder, head)
	if err != nil {
		return err
	}
	return f.img.WriteTrack(cached)
}

// walkChain follows a (track, sector) chain, invoking fn per block. A block
// seen twice means the chain is cyclic, which is reported as corruption
// rather than looped over.
func (f *Filesystem) walkChain(
	start blockRef,
	fn func(ref blockRef, data []byte) (bool, uft.DriverError),
) uft.DriverError {
	visited := map[blockRef]bool{}
	ref := start
	for ref.Track != 0 {
		if visited[ref] {
			return uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
				"cyclic sector chain revisits (%d, %d)", ref.Track, ref.Sector))
		}
		visited[ref] = true

		data, err := f.block(ref)
		if err != nil {
			return err
		}
		keep, err := fn(ref, data)
		if err != nil || !keep {
			return err
		}
		ref = blockRef{data[0], data[1]}
	}
	return nil
}

func decodeEntry(raw []byte) FileEntry {
	return FileEntry{
		Name:        ToASCII(raw[5:21]),
		Type:        raw[2] & 0x07,
		Locked:      raw[2]&flagLocked != 0,
		Closed:      raw[2]&flagClosed != 0,
		StartTrack:  raw[3],
		StartSector: raw[4],
		Blocks:      uint16(raw[30]) | uint16(raw[31])<<8,
	}
}

// List returns the directory in on-disk order, scratched slots skipped.
func (f *Filesystem) List() ([]FileEntry, uft.DriverError) {
	var out []FileEntry
	err := f.walkChain(f.layout.FirstDir, func(_ blockRef, data []byte) (bool, uft.DriverError) {
		for i := 0; i < 8; i++ {
			raw := data[i*32 : i*32+32]
			if raw[2] == 0 {
				continue
			}
			out = append(out, decodeEntry(raw))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// findEntry locates a file by name; the returned offset addresses the raw
// 32-byte entry within its directory block.
func (f *Filesystem) findEntry(name string) (blockRef, int, uft.DriverError) {
	var where blockRef
	offset := -1
	err := f.walkChain(f.layout.FirstDir, func(ref blockRef, data []byte) (bool, uft.DriverError) {
		for i := 0; i < 8; i++ {
			raw := data[i*32 : i*32+32]
			if raw[2] == 0 {
				continue
			}
			if ToASCII(raw[5:21]) == name {
				where, offset = ref, i*32
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return blockRef{}, 0, err
	}
	if offset < 0 {
		return blockRef{}, 0, uft.ErrNotFound.WithMessage(fmt.Sprintf("no file %q", name))
	}
	return where, offset, nil
}

// Stat returns one file's directory entry.
func (f *Filesystem) Stat(name string) (FileEntry, uft.DriverError) {
	ref, offset, err := f.findEntry(name)
	if err != nil {
		return FileEntry{}, err
	}
	data, err := f.block(ref)
	if err != nil {
		return FileEntry{}, err
	}
	return decodeEntry(data[offset : offset+32]), nil
}

// ReadFile returns a file's contents by walking its data chain. The final
// block's link sector holds the index of the last used byte.
func (f *Filesystem) ReadFile(name string) ([]byte, uft.DriverError) {
	ref, offset, err := f.findEntry(name)
	if err != nil {
		return nil, err
	}
	dir, err := f.block(ref)
	if err != nil {
		return nil, err
	}
	entry := decodeEntry(dir[offset : offset+32])

	var out []byte
	start := blockRef{entry.StartTrack, entry.StartSector}
	err = f.walkChain(start, func(_ blockRef, data []byte) (bool, uft.DriverError) {
		if data[0] != 0 {
			out = append(out, data[2:256]...)
			return true, nil
		}
		used := int(data[1])
		if used < 1 || used > 255 {
			return false, uft.ErrCorruptImage.WithMessage("bad byte count in final block")
		}
		out = append(out, data[2:1+used]...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteFile creates a file. The name must be new; DOS has no overwrite.
func (f *Filesystem) WriteFile(name string, contents []byte, fileType uint8) uft.DriverError {
	if f.img.ReadOnly {
		return uft.ErrReadOnlyImage
	}
	if name == "" || len(name) > 16 {
		return uft.ErrInvalidArgument.WithMessage("file names are 1 to 16 characters")
	}
	if _, _, err := f.findEntry(name); err == nil {
		return uft.ErrExists.WithMessage(fmt.Sprintf("file %q already exists", name))
	} else if !errorIsNotFound(err) {
		return err
	}

	blockCount := (len(contents) + dataPerBlock - 1) / dataPerBlock
	if blockCount == 0 {
		blockCount = 1
	}
	refs := make([]blockRef, blockCount)
	for i := range refs {
		ref, err := f.findFree()
		if err != nil {
			return err
		}
		if err := f.Allocate(ref.Track, ref.Sector); err != nil {
			return err
		}
		refs[i] = ref
	}

	for i, ref := range refs {
		data, err := f.block(ref)
		if err != nil {
			return err
		}
		for j := range data {
			data[j] = 0
		}
		chunk := contents[i*dataPerBlock:]
		if len(chunk) > dataPerBlock {
			chunk = chunk[:dataPerBlock]
		}
		copy(data[2:], chunk)
		if i+1 < len(refs) {
			data[0], data[1] = refs[i+1].Track, refs[i+1].Sector
		} else {
			data[0], data[1] = 0, byte(len(chunk))+1
		}
		if err := f.commit(ref.Track); err != nil {
			return err
		}
	}

	slot, offset, err := f.findFreeDirSlot()
	if err != nil {
		return err
	}
	dir, err := f.block(slot)
	if err != nil {
		return err
	}
	raw := dir[offset : offset+32]
	for i := 2; i < 32; i++ {
		raw[i] = 0
	}
	raw[2] = flagClosed | (fileType & 0x07)
	raw[3], raw[4] = refs[0].Track, refs[0].Sector
	copy(raw[5:21], FromASCII(name, 16))
	raw[30] = byte(blockCount)
	raw[31] = byte(blockCount >> 8)
	return f.commit(slot.Track)
}

// findFreeDirSlot finds an empty entry, growing the directory by one block
// on the directory track when every slot is taken.
func (f *Filesystem) findFreeDirSlot() (blockRef, int, uft.DriverError) {
	var where blockRef
	var last blockRef
	offset := -1
	err := f.walkChain(f.layout.FirstDir, func(ref blockRef, data []byte) (bool, uft.DriverError) {
		last = ref
		if offset >= 0 {
			return true, nil
		}
		for i := 0; i < 8; i++ {
			if data[i*32+2] == 0 {
				where, offset = ref, i*32
				return true, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return blockRef{}, 0, err
	}
	if offset >= 0 {
		return where, offset, nil
	}

	// Directory is full: extend it with a fresh block on the same track.
	track := f.layout.DirTrack
	var next blockRef
	found := false
	for s := uint8(0); s < f.layout.SectorsOn(track); s++ {
		used, err := f.IsAllocated(track, s)
		if err != nil {
			return blockRef{}, 0, err
		}
		if !used {
			next = blockRef{track, s}
			found = true
			break
		}
	}
	if !found {
		return blockRef{}, 0, uft.ErrDiskFull.WithMessage("directory track is full")
	}
	if err := f.Allocate(next.Track, next.Sector); err != nil {
		return blockRef{}, 0, err
	}
	fresh, err := f.block(next)
	if err != nil {
		return blockRef{}, 0, err
	}
	for i := range fresh {
		fresh[i] = 0
	}
	fresh[1] = 0xFF
	if err := f.commit(next.Track); err != nil {
		return blockRef{}, 0, err
	}

	tail, err := f.block(last)
	if err != nil {
		return blockRef{}, 0, err
	}
	tail[0], tail[1] = next.Track, next.Sector
	if err := f.commit(last.Track); err != nil {
		return blockRef{}, 0, err
	}
	return next, 0, nil
}

// Delete scratches a file and frees its chain. Locked files are refused.
func (f *Filesystem) Delete(name string) uft.DriverError {
	if f.img.ReadOnly {
		return uft.ErrReadOnlyImage
	}
	ref, offset, err := f.findEntry(name)
	if err != nil {
		return err
	}
	dir, err := f.block(ref)
	if err != nil {
		return err
	}
	raw := dir[offset : offset+32]
	if raw[2]&flagLocked != 0 {
		return uft.ErrProtected.WithMessage(fmt.Sprintf("file %q is locked", name))
	}
	start := blockRef{raw[3], raw[4]}

	err = f.walkChain(start, func(b blockRef, _ []byte) (bool, uft.DriverError) {
		return true, f.Free(b.Track, b.Sector)
	})
	if err != nil {
		return err
	}

	// Re-read: freeing blocks may have rewritten the directory track cache.
	dir, err = f.block(ref)
	if err != nil {
		return err
	}
	dir[offset+2] = 0
	return f.commit(ref.Track)
}

// Rename gives a file a new name; the data chain is untouched.
func (f *Filesystem) Rename(oldName, newName string) uft.DriverError {
	if f.img.ReadOnly {
		return uft.ErrReadOnlyImage
	}
	if newName == "" || len(newName) > 16 {
		return uft.ErrInvalidArgument.WithMessage("file names are 1 to 16 characters")
	}
	if _, _, err := f.findEntry(newName); err == nil {
		return uft.ErrExists.WithMessage(fmt.Sprintf("file %q already exists", newName))
	} else if !errorIsNotFound(err) {
		return err
	}
	ref, offset, err := f.findEntry(oldName)
	if err != nil {
		return err
	}
	dir, err := f.block(ref)
	if err != nil {
		return err
	}
	copy(dir[offset+5:offset+21], FromASCII(newName, 16))
	return f.commit(ref.Track)
}

func errorIsNotFound(err uft.DriverError) bool {
	return err != nil && errors.Is(err, uft.ErrNotFound)
}
