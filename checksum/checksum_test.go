package checksum_test

import (
	"encoding/binary"
	"testing"

	"github.com/retrofloppy/uft/checksum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmigaBlockChecksumZeroesOut(t *testing.T) {
	block := make([]byte, 512)
	for i := range block {
		block[i] = byte(i * 7)
	}
	sum := checksum.AmigaBlock(block)
	binary.BigEndian.PutUint32(block[20:], sum)

	assert.True(t, checksum.AmigaBlockValid(block),
		"words of a checksummed block must sum to zero")
}

func TestAmigaBlockChecksumIgnoresStoredValue(t *testing.T) {
	block := make([]byte, 512)
	block[0] = 2 // T_SHORT
	want := checksum.AmigaBlock(block)

	binary.BigEndian.PutUint32(block[20:], 0xDEADBEEF)
	assert.Equal(t, want, checksum.AmigaBlock(block),
		"checksum field must not feed back into the sum")
}

func TestAmigaBootblockChecksum(t *testing.T) {
	boot := make([]byte, 1024)
	copy(boot, "DOS\x01")
	for i := 12; i < 1024; i++ {
		boot[i] = byte(i)
	}
	sum := checksum.AmigaBootblock(boot)
	binary.BigEndian.PutUint32(boot[4:], sum)

	assert.True(t, checksum.AmigaBootblockValid(boot))

	boot[500] ^= 0x40
	assert.False(t, checksum.AmigaBootblockValid(boot))
}

func TestCBMChecksums(t *testing.T) {
	assert.EqualValues(t, 3^18^0x41^0x42, checksum.CBMHeaderChecksum(3, 18, 0x41, 0x42))

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	var want byte
	for _, b := range data {
		want ^= b
	}
	assert.Equal(t, want, checksum.CBMDataChecksum(data))
}

func TestCRC16KnownValue(t *testing.T) {
	// "123456789" with preset 0xFFFF is the standard CRC-16/CCITT-FALSE
	// check value.
	require.EqualValues(t, 0x29B1, checksum.CRC16([]byte("123456789")))
}

func TestByteSumWraps(t *testing.T) {
	assert.EqualValues(t, 0x00, checksum.ByteSum([]byte{0x80, 0x80}))
	assert.EqualValues(t, 0x05, checksum.ByteSum([]byte{0x01, 0x04}))
}
