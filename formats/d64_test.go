package formats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/formats"
	uftt "github.com/retrofloppy/uft/testing"
)

// 683 zoned blocks on a 35-track disk; the error-map variant appends one
// byte per block.
const (
	d64Blocks      = 683
	d64PlainSize   = d64Blocks * 256
	d64ErrMapSize  = d64PlainSize + d64Blocks
	d64BAMLinear   = 357 // track 18, sector 0
	d64DirTrackCyl = 17
)

func TestD64ErrorMapMarksSectorStatus(t *testing.T) {
	data := make([]byte, d64ErrMapSize)
	// Error code 5 is a data checksum failure on the drive.
	data[d64PlainSize+d64BAMLinear] = 0x05

	img, err := formats.NewD64Plugin().Open(uftt.ImageFromBytes(data), true)
	require.NoError(t, err)

	sector, err := img.ReadSector(d64DirTrackCyl, 0, 0)
	require.NoError(t, err)
	assert.NotZero(t, sector.Status&uft.SectorCRCError,
		"error map byte must surface as a CRC status bit")

	// Neighbors stay clean.
	clean, err := img.ReadSector(d64DirTrackCyl, 0, 1)
	require.NoError(t, err)
	assert.True(t, clean.Status.OK())
}

func TestD64ZonedTrackSizes(t *testing.T) {
	img, err := formats.NewD64Plugin().Open(
		uftt.ImageFromBytes(make([]byte, d64PlainSize)), true)
	require.NoError(t, err)

	for _, tc := range []struct {
		cylinder uint
		sectors  int
	}{
		{0, 21}, {16, 21}, {17, 19}, {24, 18}, {30, 17}, {34, 17},
	} {
		track, err := img.ReadTrack(tc.cylinder, 0)
		require.NoError(t, err)
		assert.Len(t, track.Sectors, tc.sectors, "cylinder %d", tc.cylinder)
	}
}

func TestD64WriteRoundTripThroughFlush(t *testing.T) {
	backing := make([]byte, d64PlainSize)
	stream := uftt.ImageFromBytes(backing)

	img, err := formats.NewD64Plugin().Open(stream, false)
	require.NoError(t, err)

	track, err := img.ReadTrack(2, 0)
	require.NoError(t, err)
	sector := track.FindSector(7)
	require.NotNil(t, sector)
	for i := range sector.Data {
		sector.Data[i] = 0x5A
	}
	require.NoError(t, img.WriteTrack(track))
	require.NoError(t, img.Flush())

	reopened, err := formats.NewD64Plugin().Open(uftt.ImageFromBytes(backing), true)
	require.NoError(t, err)
	got, err := reopened.ReadSector(2, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, sector.Data, got.Data)
}

func TestD64CreateFormatsBAM(t *testing.T) {
	stream := uftt.ImageFromBytes(make([]byte, d64PlainSize))
	img, err := formats.NewD64Plugin().Create(
		stream, uft.Geometry{Cylinders: 35, Heads: 1, SectorsPerTrack: 21, SectorSize: 256})
	require.NoError(t, err)

	bam, err := img.ReadSector(d64DirTrackCyl, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(18), bam.Data[0])
	assert.Equal(t, byte(1), bam.Data[1])
	assert.Equal(t, byte('A'), bam.Data[2])
}

func TestD64RejectsUnknownSize(t *testing.T) {
	_, err := formats.NewD64Plugin().Open(
		uftt.ImageFromBytes(make([]byte, 170000)), true)
	assert.Error(t, err)
}
