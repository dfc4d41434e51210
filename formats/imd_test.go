package formats_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/formats"
	uftt "github.com/retrofloppy/uft/testing"
)

// buildIMD assembles a one-track image with two 256-byte sectors: sector 1
// stored in full, sector 2 as a single repeated 0xE5.
func buildIMD() []byte {
	raw := []byte("IMD 1.18: test")
	raw = append(raw, 0x1A)
	// mode 5 (MFM 250k), cylinder 0, head 0, two sectors, size code 1.
	raw = append(raw, 0x05, 0x00, 0x00, 0x02, 0x01)
	raw = append(raw, 0x01, 0x02) // sector numbering map

	raw = append(raw, 0x01) // full sector
	full := make([]byte, 256)
	for i := range full {
		full[i] = byte(i)
	}
	raw = append(raw, full...)

	raw = append(raw, 0x02, 0xE5) // repeated-byte sector
	return raw
}

func TestIMDExpandsRepeatedByteSectors(t *testing.T) {
	img, err := formats.NewIMDPlugin().Open(uftt.ImageFromBytes(buildIMD()), true)
	require.NoError(t, err)

	sector, err := img.ReadSector(0, 0, 2)
	require.NoError(t, err)
	assert.True(t, sector.Status.OK())
	assert.Equal(t, bytes.Repeat([]byte{0xE5}, 256), sector.Data)

	sector, err = img.ReadSector(0, 0, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 37, sector.Data[37], "full sector must come back verbatim")
}

func TestIMDWriteCompressesUniformSectors(t *testing.T) {
	backing := buildIMD()
	img, err := formats.NewIMDPlugin().Open(uftt.ImageFromBytes(backing), false)
	require.NoError(t, err)

	track := &uft.Track{
		Cylinder: 0,
		Head:     0,
		Sectors: []*uft.Sector{{
			ID:   uft.SectorID{Sector: 1, SizeCode: 1, CRCOK: true},
			Data: bytes.Repeat([]byte{0xAA}, 256),
		}},
	}
	require.NoError(t, img.WriteTrack(track))
	require.NoError(t, img.Flush())

	// The flushed stream: 15 banner bytes, 5 track header bytes, the
	// two-byte sector map, then each sector as dtype plus payload. A uniform
	// sector 1 must be stored as type 0x02 with its one repeated byte.
	assert.Equal(t, byte(0x02), backing[22])
	assert.Equal(t, byte(0xAA), backing[23])
	assert.Equal(t, byte(0x02), backing[24])
	assert.Equal(t, byte(0xE5), backing[25])
}
