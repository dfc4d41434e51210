package amigados

import (
	"github.com/retrofloppy/uft"
)

// Directory-cache blocks (FS types 4 and 5). Each cache block packs variable
// length records so a directory listing needs far fewer reads than walking
// the hash chains. This package reads caches but never builds them; writes
// invalidate the cache instead (see invalidateDirCache).

const (
	offCacheRecords = 12 // record count
	offCacheNext    = offFirstData

	cacheRecordFixed = 24 // bytes before the name field
)

type cacheRecord struct {
	header     uint32
	size       uint32
	protection uint32
	entryType  int8
	name       string
	comment    string
}

// parseCacheRecords decodes count records from a cache block's payload.
func parseCacheRecords(block []byte, count int) ([]cacheRecord, uft.DriverError) {
	out := make([]cacheRecord, 0, count)
	pos := offTable
	for i := 0; i < count; i++ {
		if pos+cacheRecordFixed > blockSize {
			return nil, uft.ErrCorruptImage.WithMessage("directory cache record overruns its block")
		}
		rec := cacheRecord{
			header:     bget(block, pos),
			size:       bget(block, pos+4),
			protection: bget(block, pos+8),
			entryType:  int8(block[pos+22]),
		}
		nameLen := int(block[pos+23])
		end := pos + cacheRecordFixed + nameLen
		if nameLen > maxNameLen || end+1 > blockSize {
			return nil, uft.ErrCorruptImage.WithMessage("directory cache record overruns its block")
		}
		rec.name = string(block[pos+cacheRecordFixed : end])

		commentLen := int(block[end])
		if commentLen > maxCommentLen || end+1+commentLen > blockSize {
			return nil, uft.ErrCorruptImage.WithMessage("directory cache record overruns its block")
		}
		rec.comment = string(block[end+1 : end+1+commentLen])

		pos = end + 1 + commentLen
		if pos%2 != 0 {
			pos++ // records are word-aligned
		}
		out = append(out, rec)
	}
	return out, nil
}

// listFromCache serves a directory listing from its cache chain.
func (f *Filesystem) listFromCache(first uint32) ([]Entry, uft.DriverError) {
	var out []Entry
	visited := map[uint32]bool{}
	current := first
	for current != 0 {
		if visited[current] || current >= f.nblocks {
			return nil, uft.ErrCorruptImage.WithMessage("cyclic or wild directory cache chain")
		}
		visited[current] = true
		block, err := f.block(current)
		if err != nil {
			return nil, err
		}
		if bget(block, offType) != typeCache {
			return nil, uft.ErrCorruptImage.WithMessage("directory cache chain reaches a non-cache block")
		}
		count := int(bget(block, offCacheRecords))
		if count > blockSize/cacheRecordFixed {
			return nil, uft.ErrCorruptImage.WithMessage("implausible directory cache record count")
		}
		records, err := parseCacheRecords(block, count)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			out = append(out, Entry{
				Name:       rec.name,
				Block:      rec.header,
				IsDir:      rec.entryType == int8(secTypeUserDir),
				Size:       rec.size,
				Protection: rec.protection,
				Comment:    rec.comment,
			})
		}
		current = bget(block, offCacheNext)
	}
	return out, nil
}
