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

// buildATR assembles a raw ATR file: 16-byte header, then sectors. Double
// density stores the first three sectors as 128 bytes regardless.
func buildATR(sectorSize uint16, totalSectors int, flags byte) []byte {
	dataBytes := totalSectors * int(sectorSize)
	if sectorSize == 256 {
		dataBytes = 3*128 + (totalSectors-3)*256
	}
	raw := make([]byte, 16+dataBytes)
	binary.LittleEndian.PutUint16(raw[0:], 0x0296)
	paragraphs := dataBytes / 16
	binary.LittleEndian.PutUint16(raw[2:], uint16(paragraphs))
	binary.LittleEndian.PutUint16(raw[4:], sectorSize)
	raw[6] = byte(paragraphs >> 16)
	raw[7] = flags
	return raw
}

func TestATRDoubleDensityBootSectorQuirk(t *testing.T) {
	raw := buildATR(256, 720, 0)
	// First byte of each of the first four sectors, at the offsets the
	// short-boot-sector layout dictates.
	raw[16] = 0xA1
	raw[144] = 0xA2
	raw[272] = 0xA3
	raw[400] = 0xA4

	img, err := formats.NewATRPlugin().Open(uftt.ImageFromBytes(raw), true)
	require.NoError(t, err)
	require.Equal(t, uint(40), img.Geometry.Cylinders)
	require.Equal(t, uint(18), img.Geometry.SectorsPerTrack)

	for i, want := range []struct {
		size  int
		first byte
	}{
		{128, 0xA1}, {128, 0xA2}, {128, 0xA3}, {256, 0xA4},
	} {
		sector, err := img.ReadSector(0, 0, uint8(i+1))
		require.NoError(t, err)
		assert.Len(t, sector.Data, want.size, "sector %d", i+1)
		assert.Equal(t, want.first, sector.Data[0], "sector %d", i+1)
	}
}

func TestATRSingleDensityIsUniform(t *testing.T) {
	raw := buildATR(128, 720, 0)
	img, err := formats.NewATRPlugin().Open(uftt.ImageFromBytes(raw), true)
	require.NoError(t, err)

	sector, err := img.ReadSector(0, 0, 1)
	require.NoError(t, err)
	assert.Len(t, sector.Data, 128)
}

func TestATRWriteProtectFlagForcesReadOnly(t *testing.T) {
	raw := buildATR(128, 720, 0x01)
	img, err := formats.NewATRPlugin().Open(uftt.ImageFromBytes(raw), false)
	require.NoError(t, err)
	require.True(t, img.ReadOnly)

	track, err := img.ReadTrack(0, 0)
	require.NoError(t, err)
	err = img.WriteTrack(track)
	assert.ErrorIs(t, err, uft.ErrReadOnlyImage)
}

func TestATRRejectsSizeMismatch(t *testing.T) {
	raw := buildATR(128, 720, 0)
	// Declare one paragraph too many.
	binary.LittleEndian.PutUint16(raw[2:], uint16(720*128/16+1))
	_, err := formats.NewATRPlugin().Open(uftt.ImageFromBytes(raw), true)
	assert.Error(t, err)
}

func TestATRCreateRoundTrip(t *testing.T) {
	backing := make([]byte, 16+3*128+717*256)
	g := uft.Geometry{Cylinders: 40, Heads: 1, SectorsPerTrack: 18, SectorSize: 256}
	img, err := formats.NewATRPlugin().Create(uftt.ImageFromBytes(backing), g)
	require.NoError(t, err)

	track, err := img.ReadTrack(3, 0)
	require.NoError(t, err)
	sector := track.FindSector(5)
	require.NotNil(t, sector)
	for i := range sector.Data {
		sector.Data[i] = 0x3C
	}
	require.NoError(t, img.WriteTrack(track))
	require.NoError(t, img.Flush())

	reopened, err := formats.NewATRPlugin().Open(uftt.ImageFromBytes(backing), true)
	require.NoError(t, err)
	got, err := reopened.ReadSector(3, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, sector.Data, got.Data)
}
