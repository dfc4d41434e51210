package amigados

import (
	"encoding/binary"

	"github.com/retrofloppy/uft/checksum"
	"github.com/retrofloppy/uft/utilities/binutil"
)

// On-disk block layout constants. All longwords are big-endian; header-style
// blocks carry their checksum at offset 20, bitmap blocks at offset 0.

const (
	blockSize     = 512
	hashTableSize = 72

	typeHeader = 2
	typeData   = 8
	typeList   = 16
	typeCache  = 33

	secTypeRoot    = 1
	secTypeUserDir = 2
	secTypeFile    = 0xFFFFFFFD // -3

	offType      = 0
	offHeaderKey = 4
	offHighSeq   = 8
	offHTSize    = 12
	offFirstData = 16
	offChecksum  = 20
	offTable     = 24 // hash table / data-pointer table, 72 longs

	offBMFlag  = 312 // root only
	offBMPages = 316 // root only, 25 longs

	offProtection = 320
	offByteSize   = 324
	offComment    = 328 // BCPL, max 79
	offDays       = 420
	offMins       = 424
	offTicks      = 428
	offName       = 432 // BCPL, max 30
	offDirCache   = 488 // directories, FS types 4/5
	offExtension  = 492
	offNextHash   = 496
	offParent     = 504
	offSecType    = 508

	maxNameLen    = 30
	maxCommentLen = 79

	// A file header or extension block holds this many data pointers,
	// stored backwards from offset 308 down to 24.
	pointersPerBlock = 72

	ofsDataStart = 24
	ofsDataSize  = blockSize - ofsDataStart

	protDelete = 0x01 // bit set means deletion denied
)

func bget(block []byte, off int) uint32 {
	return binary.BigEndian.Uint32(block[off:])
}

func bput(block []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(block[off:], v)
}

// tableSlot is the byte offset of data-pointer index i (backwards layout).
func tableSlot(i int) int {
	return offTable + (pointersPerBlock-1-i)*4
}

// sealBlock recomputes and stores a header-style block's checksum.
func sealBlock(block []byte) {
	bput(block, offChecksum, checksum.AmigaBlock(block))
}

// sealBitmap stores a bitmap block's checksum in its first long: the value
// that makes all 128 longs sum to zero.
func sealBitmap(block []byte) {
	var sum uint32
	for off := 4; off < blockSize; off += 4 {
		sum += bget(block, off)
	}
	bput(block, 0, -sum)
}

func blockName(block []byte) string {
	return binutil.ReadBCPL(block[offName:], maxNameLen)
}

func setBlockName(block []byte, name string) {
	binutil.WriteBCPL(block[offName:], name, maxNameLen)
}

func blockComment(block []byte) string {
	return binutil.ReadBCPL(block[offComment:], maxCommentLen)
}

func setBlockComment(block []byte, comment string) {
	binutil.WriteBCPL(block[offComment:], comment, maxCommentLen)
}
