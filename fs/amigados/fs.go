// Package amigados implements OFS and FFS volumes, including the
// international name variants and the directory-cache flavor, on top of ADF
// images. Block addressing, hashing and every checksum follow the on-disk
// contracts; the package never trusts a chain pointer without cycle checks.
package amigados

import (
	"fmt"
	"strings"
	"time"

	"github.com/retrofloppy/uft"
)

var amigaEpoch = time.Date(1978, 1, 1, 0, 0, 0, 0, time.UTC)

// Entry is one directory entry as presented to callers.
type Entry struct {
	Name       string
	Block      uint32
	IsDir      bool
	Size       uint32
	Protection uint32
	Comment    string
}

// Filesystem is an AmigaDOS session on an open disk image. Single-threaded,
// like the image it wraps.
type Filesystem struct {
	img     *uft.DiskImage
	flavor  Flavor
	nblocks uint32
	root    uint32
}

func (f *Filesystem) dataCapacity() uint32 {
	if f.flavor.FFS {
		return blockSize
	}
	return ofsDataSize
}

// Open attaches filesystem semantics to an image whose sectors form an
// Amiga volume. The bootblock names the flavor.
func Open(img *uft.DiskImage) (*Filesystem, uft.DriverError) {
	g := img.Geometry
	if g.SectorSize != blockSize {
		return nil, uft.ErrNotSupported.WithMessage("AmigaDOS volumes use 512-byte sectors")
	}
	f := &Filesystem{
		img:     img,
		nblocks: uint32(g.TotalSectors()),
	}
	f.root = f.nblocks / 2

	boot, err := f.block(0)
	if err != nil {
		return nil, err
	}
	if string(boot[:3]) != "DOS" {
		return nil, uft.ErrFormatMismatch.WithMessage("bootblock carries no DOS marker")
	}
	flavor, ok := FlavorFromByte(boot[3])
	if !ok {
		return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"unknown filesystem flavor %d", boot[3]))
	}
	f.flavor = flavor

	rootBlock, err := f.block(f.root)
	if err != nil {
		return nil, err
	}
	if bget(rootBlock, offType) != typeHeader || bget(rootBlock, offSecType) != secTypeRoot {
		return nil, uft.ErrCorruptImage.WithMessage("root block has wrong type")
	}
	return f, nil
}

// Flavor returns the volume's filesystem variant.
func (f *Filesystem) Flavor() Flavor { return f.flavor }

// RootBlock returns the root directory's block number.
func (f *Filesystem) RootBlock() uint32 { return f.root }

// VolumeName returns the disk name from the root block.
func (f *Filesystem) VolumeName() (string, uft.DriverError) {
	root, err := f.block(f.root)
	if err != nil {
		return "", err
	}
	return blockName(root), nil
}

func (f *Filesystem) block(index uint32) ([]byte, uft.DriverError) {
	if index >= f.nblocks {
		return nil, uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"block %d outside volume of %d blocks", index, f.nblocks))
	}
	g := f.img.Geometry
	perCyl := g.SectorsPerTrack * g.Heads
	cylinder := uint(index) / perCyl
	rem := uint(index) % perCyl
	sector, err := f.img.ReadSector(cylinder, rem/g.SectorsPerTrack, uint8(rem%g.SectorsPerTrack))
	if err != nil {
		return nil, err
	}
	return sector.Data, nil
}

func (f *Filesystem) commit(index uint32) uft.DriverError {
	g := f.img.Geometry
	perCyl := g.SectorsPerTrack * g.Heads
	track, err := f.img.ReadTrack(uint(index)/perCyl, (uint(index)%perCyl)/g.SectorsPerTrack)
	if err != nil {
		return err
	}
	return f.img.WriteTrack(track)
}

// stampNow writes the current time into a header block's date fields.
func stampNow(block []byte) {
	elapsed := time.Since(amigaEpoch)
	days := uint32(elapsed.Hours() / 24)
	rest := elapsed - time.Duration(days)*24*time.Hour
	mins := uint32(rest.Minutes())
	ticks := uint32((rest - time.Duration(mins)*time.Minute).Seconds() * 50)
	bput(block, offDays, days)
	bput(block, offMins, mins)
	bput(block, offTicks, ticks)
}

////////////////////////////////////////////////////////////////////////////////
// Block allocation

// bitmapLocation finds the bitmap block and bit position covering a block.
// Blocks 0 and 1 (the bootblock) are not mapped; bit 0 covers block 2.
func (f *Filesystem) bitmapLocation(block uint32) (page int, long int, bit uint) {
	index := block - 2
	perPage := uint32((blockSize - 4) * 8)
	page = int(index / perPage)
	within := index % perPage
	return page, int(within / 32), uint(within % 32)
}

func (f *Filesystem) bitmapBlock(page int) (uint32, []byte, uft.DriverError) {
	root, err := f.block(f.root)
	if err != nil {
		return 0, nil, err
	}
	if page >= 25 {
		return 0, nil, uft.ErrCorruptImage.WithMessage("volume needs more bitmap pages than the root holds")
	}
	number := bget(root, offBMPages+page*4)
	if number == 0 || number >= f.nblocks {
		return 0, nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"bitmap page %d points to invalid block %d", page, number))
	}
	data, err := f.block(number)
	if err != nil {
		return 0, nil, err
	}
	return number, data, nil
}

// IsBlockFree reports a block's bitmap state (bit set means free).
func (f *Filesystem) IsBlockFree(block uint32) (bool, uft.DriverError) {
	if block < 2 || block >= f.nblocks {
		return false, uft.ErrOutOfRange.WithMessage(fmt.Sprintf("block %d not mapped", block))
	}
	page, long, bit := f.bitmapLocation(block)
	_, data, err := f.bitmapBlock(page)
	if err != nil {
		return false, err
	}
	return bget(data, 4+long*4)&(1<<bit) != 0, nil
}

func (f *Filesystem) setBlockFree(block uint32, free bool) uft.DriverError {
	page, long, bit := f.bitmapLocation(block)
	number, data, err := f.bitmapBlock(page)
	if err != nil {
		return err
	}
	word := bget(data, 4+long*4)
	if free {
		word |= 1 << bit
	} else {
		word &^= 1 << bit
	}
	bput(data, 4+long*4, word)
	sealBitmap(data)
	return f.commit(number)
}

// allocBlock claims the first free block and returns its number.
func (f *Filesystem) allocBlock() (uint32, uft.DriverError) {
	for b := uint32(2); b < f.nblocks; b++ {
		free, err := f.IsBlockFree(b)
		if err != nil {
			return 0, err
		}
		if free {
			if err := f.setBlockFree(b, false); err != nil {
				return 0, err
			}
			return b, nil
		}
	}
	return 0, uft.ErrDiskFull
}

////////////////////////////////////////////////////////////////////////////////
// Directory traversal

// lookup finds name in the directory block, returning the entry's header
// block, or ErrNotFound.
func (f *Filesystem) lookup(dir uint32, name string) (uint32, uft.DriverError) {
	dirBlock, err := f.block(dir)
	if err != nil {
		return 0, err
	}
	slot := offTable + int(hashName(name, hashTableSize, f.flavor.Intl))*4

	visited := map[uint32]bool{}
	current := bget(dirBlock, slot)
	for current != 0 {
		if visited[current] || current >= f.nblocks {
			return 0, uft.ErrCorruptImage.WithMessage("cyclic or wild hash chain")
		}
		visited[current] = true
		header, err := f.block(current)
		if err != nil {
			return 0, err
		}
		if namesEqual(blockName(header), name, f.flavor.Intl) {
			return current, nil
		}
		current = bget(header, offNextHash)
	}
	return 0, uft.ErrNotFound.WithMessage(fmt.Sprintf("no entry %q", name))
}

func (f *Filesystem) entryFromHeader(block uint32) (Entry, uft.DriverError) {
	header, err := f.block(block)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Name:       blockName(header),
		Block:      block,
		IsDir:      bget(header, offSecType) == secTypeUserDir,
		Size:       bget(header, offByteSize),
		Protection: bget(header, offProtection),
		Comment:    blockComment(header),
	}, nil
}

// FindPath resolves a slash-separated path from the root directory.
func (f *Filesystem) FindPath(path string) (Entry, uft.DriverError) {
	current := f.root
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		return Entry{Name: "", Block: f.root, IsDir: true}, nil
	}
	var entry Entry
	for i, part := range parts {
		block, err := f.lookup(current, part)
		if err != nil {
			return Entry{}, err
		}
		entry, err = f.entryFromHeader(block)
		if err != nil {
			return Entry{}, err
		}
		if i+1 < len(parts) && !entry.IsDir {
			return Entry{}, uft.ErrNotFound.WithMessage(fmt.Sprintf(
				"%q is a file, not a directory", part))
		}
		current = block
	}
	return entry, nil
}

// ListDir returns a directory's entries. On DirCache volumes with a valid
// cache chain the listing is served from the cache blocks.
func (f *Filesystem) ListDir(dir uint32) ([]Entry, uft.DriverError) {
	dirBlock, err := f.block(dir)
	if err != nil {
		return nil, err
	}
	if f.flavor.DirCache && bget(dirBlock, offDirCache) != 0 {
		entries, err := f.listFromCache(bget(dirBlock, offDirCache))
		if err == nil {
			return entries, nil
		}
		// A damaged cache falls back to the authoritative hash table.
	}

	var out []Entry
	for slot := 0; slot < hashTableSize; slot++ {
		visited := map[uint32]bool{}
		current := bget(dirBlock, offTable+slot*4)
		for current != 0 {
			if visited[current] || current >= f.nblocks {
				return nil, uft.ErrCorruptImage.WithMessage("cyclic or wild hash chain")
			}
			visited[current] = true
			entry, err := f.entryFromHeader(current)
			if err != nil {
				return nil, err
			}
			out = append(out, entry)
			header, err := f.block(current)
			if err != nil {
				return nil, err
			}
			current = bget(header, offNextHash)
		}
	}
	return out, nil
}

////////////////////////////////////////////////////////////////////////////////
// File data

// dataPointers collects a file's data-block pointers from the header and its
// extension chain, in file order.
func (f *Filesystem) dataPointers(header uint32) ([]uint32, uft.DriverError) {
	var out []uint32
	visited := map[uint32]bool{}
	current := header
	for current != 0 {
		if visited[current] || current >= f.nblocks {
			return nil, uft.ErrCorruptImage.WithMessage("cyclic or wild extension chain")
		}
		visited[current] = true
		block, err := f.block(current)
		if err != nil {
			return nil, err
		}
		count := int(bget(block, offHighSeq))
		if count > pointersPerBlock {
			return nil, uft.ErrCorruptImage.WithMessage("pointer count exceeds table size")
		}
		for i := 0; i < count; i++ {
			out = append(out, bget(block, tableSlot(i)))
		}
		current = bget(block, offExtension)
	}
	return out, nil
}

// ReadFile returns a file's contents given its header block.
func (f *Filesystem) ReadFile(header uint32) ([]byte, uft.DriverError) {
	headerBlock, err := f.block(header)
	if err != nil {
		return nil, err
	}
	if bget(headerBlock, offSecType) != secTypeFile {
		return nil, uft.ErrInvalidArgument.WithMessage("block is not a file header")
	}
	size := bget(headerBlock, offByteSize)

	pointers, err := f.dataPointers(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, size)
	for _, p := range pointers {
		data, err := f.block(p)
		if err != nil {
			return nil, err
		}
		if f.flavor.FFS {
			out = append(out, data...)
		} else {
			n := bget(data, offHTSize) // data-size field of an OFS data block
			if n > ofsDataSize {
				return nil, uft.ErrCorruptImage.WithMessage("OFS data block overclaims its size")
			}
			out = append(out, data[ofsDataStart:ofsDataStart+int(n)]...)
		}
		if uint32(len(out)) >= size {
			break
		}
	}
	if uint32(len(out)) < size {
		return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"file claims %d bytes but blocks hold %d", size, len(out)))
	}
	return out[:size], nil
}
