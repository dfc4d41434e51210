package formats_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/formats"
	uftt "github.com/retrofloppy/uft/testing"
)

// buildATX assembles a one-track, one-sector image: sector 5 with 128 data
// bytes and a weak region covering bytes 32..39.
func buildATX(fill byte) []byte {
	const (
		recordAt  = 48
		totalSize = 48 + 196
	)
	raw := make([]byte, totalSize)
	copy(raw, "AT8X")
	binary.LittleEndian.PutUint32(raw[28:], recordAt)
	binary.LittleEndian.PutUint32(raw[32:], totalSize)

	// Track header record: track 0, side 0, one sector.
	record := raw[recordAt:]
	binary.LittleEndian.PutUint32(record[0:], 196)
	binary.LittleEndian.PutUint16(record[4:], 0x0000)
	record[8] = 0
	record[9] = 0
	binary.LittleEndian.PutUint16(record[10:], 1)

	// Sector list chunk with one header: sector number 5, clean FDC status,
	// 128 payload bytes at record offset 52.
	binary.LittleEndian.PutUint32(record[24:], 20)
	binary.LittleEndian.PutUint16(record[28:], 0x0001)
	record[32] = 5
	binary.LittleEndian.PutUint32(record[36:], 52)
	binary.LittleEndian.PutUint32(record[40:], 128)

	// Data chunk.
	binary.LittleEndian.PutUint32(record[44:], 136)
	binary.LittleEndian.PutUint16(record[48:], 0x0002)
	for i := 0; i < 128; i++ {
		record[52+i] = fill
	}

	// Weak bits chunk: sector index 0, byte span 32..39.
	binary.LittleEndian.PutUint32(record[180:], 16)
	binary.LittleEndian.PutUint16(record[184:], 0x0010)
	binary.LittleEndian.PutUint16(record[188:], 0)
	binary.LittleEndian.PutUint16(record[190:], 32)
	binary.LittleEndian.PutUint16(record[192:], 8)
	return raw
}

func TestATXWeakMaskMarksOnlyTheWeakSpan(t *testing.T) {
	img, err := formats.NewATXPlugin().Open(uftt.ImageFromBytes(buildATX(0xC3)), true)
	require.NoError(t, err)

	sector, err := img.ReadSector(0, 0, 5)
	require.NoError(t, err)
	require.NotZero(t, sector.Status&uft.SectorWeakBits)
	require.Len(t, sector.WeakMask, 128)

	// 1 = read consistently: only the declared span may be cleared.
	assert.Equal(t, byte(0xFF), sector.WeakMask[31])
	assert.Equal(t, byte(0x00), sector.WeakMask[32])
	assert.Equal(t, byte(0x00), sector.WeakMask[39])
	assert.Equal(t, byte(0xFF), sector.WeakMask[40])
}

func TestATXWriteCarriesWeakSpanThroughFlush(t *testing.T) {
	backing := buildATX(0x00)
	img, err := formats.NewATXPlugin().Open(uftt.ImageFromBytes(backing), false)
	require.NoError(t, err)

	data := make([]byte, 128)
	for i := range data {
		data[i] = byte(i * 3)
	}
	mask := make([]byte, 128)
	for i := range mask {
		mask[i] = 0xFF
	}
	mask[64] = 0x7F
	mask[70] = 0x00

	track := &uft.Track{
		Cylinder: 0,
		Head:     0,
		Sectors: []*uft.Sector{{
			ID:       uft.SectorID{Sector: 5, CRCOK: true},
			Data:     data,
			Status:   uft.SectorWeakBits,
			WeakMask: mask,
		}},
	}
	require.NoError(t, img.WriteTrack(track))
	require.NoError(t, img.Flush())

	reopened, err := formats.NewATXPlugin().Open(uftt.ImageFromBytes(backing), true)
	require.NoError(t, err)
	sector, err := reopened.ReadSector(0, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, data, sector.Data)
	require.NotZero(t, sector.Status&uft.SectorWeakBits)

	// The container stores one byte-granular span, 64 through 70.
	assert.Equal(t, byte(0xFF), sector.WeakMask[63])
	assert.Equal(t, byte(0x00), sector.WeakMask[64])
	assert.Equal(t, byte(0x00), sector.WeakMask[70])
	assert.Equal(t, byte(0xFF), sector.WeakMask[71])
}
