package amigados

import (
	"errors"
	"fmt"
	"strings"

	"github.com/retrofloppy/uft"
)

// Mutating operations. Every write goes through the live track cache and is
// committed block by block; directory-cache blocks are invalidated rather
// than rewritten, which every DirCache-aware DOS handles by rebuilding.

func checkEntryName(name string) uft.DriverError {
	if name == "" || len(name) > maxNameLen {
		return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
			"names are 1 to %d characters", maxNameLen))
	}
	if strings.ContainsAny(name, "/:") {
		return uft.ErrInvalidArgument.WithMessage("names cannot contain '/' or ':'")
	}
	return nil
}

// invalidateDirCache clears a directory's cache pointer and frees the cache
// chain, forcing DOS to rebuild it. No-op on non-DirCache volumes.
func (f *Filesystem) invalidateDirCache(dir uint32) uft.DriverError {
	if !f.flavor.DirCache {
		return nil
	}
	dirBlock, err := f.block(dir)
	if err != nil {
		return err
	}
	cache := bget(dirBlock, offDirCache)
	bput(dirBlock, offDirCache, 0)

	visited := map[uint32]bool{}
	for cache != 0 && cache < f.nblocks && !visited[cache] {
		visited[cache] = true
		cacheBlock, err := f.block(cache)
		if err != nil {
			return err
		}
		next := bget(cacheBlock, offFirstData)
		if err := f.setBlockFree(cache, true); err != nil {
			return err
		}
		cache = next
	}
	return nil
}

// lookupWithPrev finds name in dir, also reporting the chain predecessor
// (0 when the entry is the slot head) and the slot's byte offset.
func (f *Filesystem) lookupWithPrev(dir uint32, name string) (found, prev uint32, slot int, err uft.DriverError) {
	dirBlock, err := f.block(dir)
	if err != nil {
		return 0, 0, 0, err
	}
	slot = offTable + int(hashName(name, hashTableSize, f.flavor.Intl))*4

	visited := map[uint32]bool{}
	current := bget(dirBlock, slot)
	for current != 0 {
		if visited[current] || current >= f.nblocks {
			return 0, 0, 0, uft.ErrCorruptImage.WithMessage("cyclic or wild hash chain")
		}
		visited[current] = true
		header, err := f.block(current)
		if err != nil {
			return 0, 0, 0, err
		}
		if namesEqual(blockName(header), name, f.flavor.Intl) {
			return current, prev, slot, nil
		}
		prev = current
		current = bget(header, offNextHash)
	}
	return 0, 0, 0, uft.ErrNotFound.WithMessage(fmt.Sprintf("no entry %q", name))
}

// spliceIn links a sealed header block into a directory at its hash slot
// head and commits both blocks.
func (f *Filesystem) spliceIn(dir, header uint32, name string) uft.DriverError {
	dirBlock, err := f.block(dir)
	if err != nil {
		return err
	}
	slot := offTable + int(hashName(name, hashTableSize, f.flavor.Intl))*4

	headerBlock, err := f.block(header)
	if err != nil {
		return err
	}
	bput(headerBlock, offNextHash, bget(dirBlock, slot))
	sealBlock(headerBlock)
	if err := f.commit(header); err != nil {
		return err
	}

	bput(dirBlock, slot, header)
	if err := f.invalidateDirCache(dir); err != nil {
		return err
	}
	stampNow(dirBlock)
	sealBlock(dirBlock)
	return f.commit(dir)
}

// unlink removes a header from its directory's hash chain and commits the
// rewritten predecessor. The header block itself is left alone.
func (f *Filesystem) unlink(dir uint32, name string) (uint32, uft.DriverError) {
	found, prev, slot, err := f.lookupWithPrev(dir, name)
	if err != nil {
		return 0, err
	}
	header, err := f.block(found)
	if err != nil {
		return 0, err
	}
	next := bget(header, offNextHash)

	if prev == 0 {
		dirBlock, err := f.block(dir)
		if err != nil {
			return 0, err
		}
		bput(dirBlock, slot, next)
		sealBlock(dirBlock)
		if err := f.commit(dir); err != nil {
			return 0, err
		}
	} else {
		prevBlock, err := f.block(prev)
		if err != nil {
			return 0, err
		}
		bput(prevBlock, offNextHash, next)
		sealBlock(prevBlock)
		if err := f.commit(prev); err != nil {
			return 0, err
		}
	}
	if err := f.invalidateDirCache(dir); err != nil {
		return 0, err
	}
	return found, nil
}

func (f *Filesystem) zeroedBlock(index uint32) ([]byte, uft.DriverError) {
	data, err := f.block(index)
	if err != nil {
		return nil, err
	}
	for i := range data {
		data[i] = 0
	}
	return data, nil
}

// CreateFile writes a new file into the directory at dir. Data blocks are
// filled OFS- or FFS-style per the volume's flavor.
func (f *Filesystem) CreateFile(dir uint32, name string, contents []byte) (uint32, uft.DriverError) {
	if f.img.ReadOnly {
		return 0, uft.ErrReadOnlyImage
	}
	if err := checkEntryName(name); err != nil {
		return 0, err
	}
	if _, err := f.lookup(dir, name); err == nil {
		return 0, uft.ErrExists.WithMessage(fmt.Sprintf("entry %q already exists", name))
	} else if !isNotFound(err) {
		return 0, err
	}

	capacity := int(f.dataCapacity())
	numData := (len(contents) + capacity - 1) / capacity
	numExt := 0
	if numData > pointersPerBlock {
		numExt = (numData - pointersPerBlock + pointersPerBlock - 1) / pointersPerBlock
	}

	header, err := f.allocBlock()
	if err != nil {
		return 0, err
	}
	dataBlocks := make([]uint32, numData)
	for i := range dataBlocks {
		if dataBlocks[i], err = f.allocBlock(); err != nil {
			return 0, err
		}
	}
	extBlocks := make([]uint32, numExt)
	for i := range extBlocks {
		if extBlocks[i], err = f.allocBlock(); err != nil {
			return 0, err
		}
	}

	for i, number := range dataBlocks {
		data, err := f.zeroedBlock(number)
		if err != nil {
			return 0, err
		}
		chunk := contents[i*capacity:]
		if len(chunk) > capacity {
			chunk = chunk[:capacity]
		}
		if f.flavor.FFS {
			copy(data, chunk)
		} else {
			bput(data, offType, typeData)
			bput(data, offHeaderKey, header)
			bput(data, offHighSeq, uint32(i+1))
			bput(data, offHTSize, uint32(len(chunk)))
			if i+1 < len(dataBlocks) {
				bput(data, offFirstData, dataBlocks[i+1])
			}
			copy(data[ofsDataStart:], chunk)
			sealBlock(data)
		}
		if err := f.commit(number); err != nil {
			return 0, err
		}
	}

	headerBlock, err := f.zeroedBlock(header)
	if err != nil {
		return 0, err
	}
	bput(headerBlock, offType, typeHeader)
	bput(headerBlock, offHeaderKey, header)
	inHeader := numData
	if inHeader > pointersPerBlock {
		inHeader = pointersPerBlock
	}
	bput(headerBlock, offHighSeq, uint32(inHeader))
	if numData > 0 {
		bput(headerBlock, offFirstData, dataBlocks[0])
	}
	for i := 0; i < inHeader; i++ {
		bput(headerBlock, tableSlot(i), dataBlocks[i])
	}
	bput(headerBlock, offByteSize, uint32(len(contents)))
	stampNow(headerBlock)
	setBlockName(headerBlock, name)
	bput(headerBlock, offParent, dir)
	bput(headerBlock, offSecType, secTypeFile)
	if numExt > 0 {
		bput(headerBlock, offExtension, extBlocks[0])
	}

	for e, number := range extBlocks {
		ext, err := f.zeroedBlock(number)
		if err != nil {
			return 0, err
		}
		first := pointersPerBlock * (e + 1)
		count := numData - first
		if count > pointersPerBlock {
			count = pointersPerBlock
		}
		bput(ext, offType, typeList)
		bput(ext, offHeaderKey, number)
		bput(ext, offHighSeq, uint32(count))
		for i := 0; i < count; i++ {
			bput(ext, tableSlot(i), dataBlocks[first+i])
		}
		bput(ext, offParent, header)
		bput(ext, offSecType, secTypeFile)
		if e+1 < numExt {
			bput(ext, offExtension, extBlocks[e+1])
		}
		sealBlock(ext)
		if err := f.commit(number); err != nil {
			return 0, err
		}
	}

	if err := f.spliceIn(dir, header, name); err != nil {
		return 0, err
	}
	return header, nil
}

// Mkdir creates an empty subdirectory.
func (f *Filesystem) Mkdir(dir uint32, name string) (uint32, uft.DriverError) {
	if f.img.ReadOnly {
		return 0, uft.ErrReadOnlyImage
	}
	if err := checkEntryName(name); err != nil {
		return 0, err
	}
	if _, err := f.lookup(dir, name); err == nil {
		return 0, uft.ErrExists.WithMessage(fmt.Sprintf("entry %q already exists", name))
	} else if !isNotFound(err) {
		return 0, err
	}

	number, err := f.allocBlock()
	if err != nil {
		return 0, err
	}
	block, err := f.zeroedBlock(number)
	if err != nil {
		return 0, err
	}
	bput(block, offType, typeHeader)
	bput(block, offHeaderKey, number)
	stampNow(block)
	setBlockName(block, name)
	bput(block, offParent, dir)
	bput(block, offSecType, secTypeUserDir)

	if err := f.spliceIn(dir, number, name); err != nil {
		return 0, err
	}
	return number, nil
}

// Delete removes a file or an empty directory. The delete-protection bit and
// non-empty directories are refused.
func (f *Filesystem) Delete(dir uint32, name string) uft.DriverError {
	if f.img.ReadOnly {
		return uft.ErrReadOnlyImage
	}
	found, _, _, err := f.lookupWithPrev(dir, name)
	if err != nil {
		return err
	}
	header, err := f.block(found)
	if err != nil {
		return err
	}
	if bget(header, offProtection)&protDelete != 0 {
		return uft.ErrProtected.WithMessage(fmt.Sprintf("%q is delete-protected", name))
	}

	var doomed []uint32
	switch bget(header, offSecType) {
	case secTypeUserDir:
		for i := 0; i < hashTableSize; i++ {
			if bget(header, offTable+i*4) != 0 {
				return uft.ErrDirectoryNotEmpty.WithMessage(fmt.Sprintf(
					"directory %q is not empty", name))
			}
		}
		if err := f.invalidateDirCache(found); err != nil {
			return err
		}
	case secTypeFile:
		pointers, err := f.dataPointers(found)
		if err != nil {
			return err
		}
		doomed = append(doomed, pointers...)
		ext := bget(header, offExtension)
		visited := map[uint32]bool{}
		for ext != 0 && ext < f.nblocks && !visited[ext] {
			visited[ext] = true
			doomed = append(doomed, ext)
			extBlock, err := f.block(ext)
			if err != nil {
				return err
			}
			ext = bget(extBlock, offExtension)
		}
	default:
		return uft.ErrCorruptImage.WithMessage("entry is neither file nor directory")
	}
	doomed = append(doomed, found)

	if _, err := f.unlink(dir, name); err != nil {
		return err
	}
	for _, b := range doomed {
		if err := f.setBlockFree(b, true); err != nil {
			return err
		}
	}
	return nil
}

// Rename changes an entry's name, moving it to the new name's hash slot.
func (f *Filesystem) Rename(dir uint32, oldName, newName string) uft.DriverError {
	if f.img.ReadOnly {
		return uft.ErrReadOnlyImage
	}
	if err := checkEntryName(newName); err != nil {
		return err
	}
	if _, err := f.lookup(dir, newName); err == nil {
		return uft.ErrExists.WithMessage(fmt.Sprintf("entry %q already exists", newName))
	} else if !isNotFound(err) {
		return err
	}

	found, err := f.unlink(dir, oldName)
	if err != nil {
		return err
	}
	header, err := f.block(found)
	if err != nil {
		return err
	}
	setBlockName(header, newName)
	return f.spliceIn(dir, found, newName)
}

// SetProtection replaces an entry's protection bits.
func (f *Filesystem) SetProtection(dir uint32, name string, bits uint32) uft.DriverError {
	if f.img.ReadOnly {
		return uft.ErrReadOnlyImage
	}
	found, err := f.lookup(dir, name)
	if err != nil {
		return err
	}
	header, err := f.block(found)
	if err != nil {
		return err
	}
	bput(header, offProtection, bits)
	sealBlock(header)
	return f.commit(found)
}

// SetComment replaces an entry's comment string.
func (f *Filesystem) SetComment(dir uint32, name, comment string) uft.DriverError {
	if f.img.ReadOnly {
		return uft.ErrReadOnlyImage
	}
	if len(comment) > maxCommentLen {
		return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
			"comments are at most %d characters", maxCommentLen))
	}
	found, err := f.lookup(dir, name)
	if err != nil {
		return err
	}
	header, err := f.block(found)
	if err != nil {
		return err
	}
	setBlockComment(header, comment)
	sealBlock(header)
	return f.commit(found)
}

func isNotFound(err uft.DriverError) bool {
	return err != nil && errors.Is(err, uft.ErrNotFound)
}
