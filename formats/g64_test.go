package formats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/formats"
	uftt "github.com/retrofloppy/uft/testing"
)

func newG64(t *testing.T) (*uft.DiskImage, []byte) {
	backing := make([]byte, 64*1024)
	img, err := formats.NewG64Plugin().Create(
		uftt.ImageFromBytes(backing),
		uft.Geometry{Cylinders: 35, Heads: 1, SectorsPerTrack: 21, SectorSize: 256})
	require.NoError(t, err)
	return img, backing
}

func TestG64GCRSectorRoundTrip(t *testing.T) {
	img, _ := newG64(t)

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	track := &uft.Track{
		Cylinder: 17,
		Head:     0,
		Encoding: uft.EncodingGCRCommodore,
		Sectors: []*uft.Sector{{
			ID:   uft.SectorID{Cylinder: 18, Sector: 3, SizeCode: 1, CRCOK: true},
			Data: data,
		}},
	}
	require.NoError(t, img.WriteTrack(track))

	// Force the next read to decode the synthesized GCR stream instead of
	// returning the cached track.
	img.InvalidateTrackCache()

	got, err := img.ReadTrack(17, 0)
	require.NoError(t, err)
	sector := got.FindSector(3)
	require.NotNil(t, sector, "sector 3 lost in the GCR round trip")
	assert.Equal(t, data, sector.Data)
	assert.True(t, sector.Status.OK(), "status %016b", sector.Status)
	assert.True(t, sector.ID.CRCOK)
	assert.Equal(t, uint8(18), sector.ID.Cylinder, "header block carries the 1-based track")
}

func TestG64FullTrackDecodesWithoutDefects(t *testing.T) {
	img, _ := newG64(t)

	// A complete 21-sector track. The decoder's scan budget wraps past the
	// end of the stream, and coming back around to sector 0 must end the
	// scan, not stamp a duplicate on it.
	track := &uft.Track{Cylinder: 0, Head: 0, Encoding: uft.EncodingGCRCommodore}
	for n := uint8(0); n < 21; n++ {
		data := make([]byte, 256)
		for i := range data {
			data[i] = n ^ byte(i)
		}
		track.Sectors = append(track.Sectors, &uft.Sector{
			ID:   uft.SectorID{Cylinder: 1, Sector: n, SizeCode: 1, CRCOK: true},
			Data: data,
		})
	}
	require.NoError(t, img.WriteTrack(track))
	img.InvalidateTrackCache()

	got, err := img.ReadTrack(0, 0)
	require.NoError(t, err)
	require.Len(t, got.Sectors, 21)
	for _, sector := range got.Sectors {
		assert.True(t, sector.Status.OK(),
			"sector %d status %016b", sector.ID.Sector, sector.Status)
	}
}

func TestG64SurvivesFlushAndReopen(t *testing.T) {
	img, backing := newG64(t)

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i * 7)
	}
	track := &uft.Track{
		Cylinder: 0,
		Head:     0,
		Sectors: []*uft.Sector{{
			ID:   uft.SectorID{Cylinder: 1, Sector: 0, SizeCode: 1, CRCOK: true},
			Data: data,
		}},
	}
	require.NoError(t, img.WriteTrack(track))
	require.NoError(t, img.Flush())

	reopened, err := formats.NewG64Plugin().Open(uftt.ImageFromBytes(backing), true)
	require.NoError(t, err)
	got, err := reopened.ReadSector(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
}

func TestG64RawBitsWinOverReencoding(t *testing.T) {
	img, _ := newG64(t)

	raw := make([]byte, 1200)
	track := &uft.Track{Cylinder: 5, Head: 0, RawBits: raw, RawBitCount: uint(len(raw)) * 8}
	require.NoError(t, img.WriteTrack(track))
	img.InvalidateTrackCache()

	got, err := img.ReadTrack(5, 0)
	require.NoError(t, err)
	assert.Equal(t, raw, got.RawBits, "caller-provided bit stream must be kept verbatim")
}

func TestG64ExtendedMetadataToggle(t *testing.T) {
	img, _ := newG64(t)

	value, ok := img.ReadMetadata("extended")
	require.True(t, ok)
	assert.Equal(t, "0", value)

	require.NoError(t, img.WriteMetadata("extended", "1"))
	value, ok = img.ReadMetadata("extended")
	require.True(t, ok)
	assert.Equal(t, "1", value)
}
