package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/formats"
	"github.com/retrofloppy/uft/pipeline"
	uftt "github.com/retrofloppy/uft/testing"
)

const (
	d64PlainSize  = 174848
	d64ErrMapSize = 175531
)

var d64Geometry = uft.Geometry{Cylinders: 35, Heads: 1, SectorsPerTrack: 21, SectorSize: 256}

// d64Offset locates a sector in the linear D64 layout. Only valid below the
// first zone boundary at track 18.
func d64Offset(cyl, sector int) int {
	return (cyl*21 + sector) * 256
}

const d64BAMOffset = 17 * 21 * 256

// blankD64 returns an image body where every sector is filled with `fill` and,
// when withErrMap is set, every error map entry reads "no error".
func blankD64(fill byte, withErrMap bool) []byte {
	size := d64PlainSize
	if withErrMap {
		size = d64ErrMapSize
	}
	data := make([]byte, size)
	for i := 0; i < d64PlainSize; i++ {
		data[i] = fill
	}
	if withErrMap {
		for i := d64PlainSize; i < size; i++ {
			data[i] = 0x01
		}
	}
	return data
}

// stampBAM writes the track 18 format marker so the disk sniffs as CBM DOS.
func stampBAM(data []byte, fill byte) {
	bam := data[d64BAMOffset : d64BAMOffset+256]
	for i := range bam {
		bam[i] = fill
	}
	bam[0], bam[1], bam[2] = 18, 1, 'A'
}

func openD64(t *testing.T, data []byte) *uft.DiskImage {
	img, err := formats.NewD64Plugin().Open(uftt.ImageFromBytes(data), true)
	require.NoError(t, err)
	return img
}

// Two captures of the same disk: revision A's BAM sector reads with a CRC
// error, revision B's copy is clean. The merge must take B's bytes for that
// one sector and A's everywhere else.
func TestMergePrefersCleanRevision(t *testing.T) {
	revA := blankD64(0x42, true)
	stampBAM(revA, 0x11)
	revA[d64PlainSize+357] = 0x05 // read error on the BAM sector

	revB := blankD64(0x42, true)
	stampBAM(revB, 0x22)

	p := pipeline.New(pipeline.Options{GenerateExtended: true})
	require.NoError(t, p.AddRevision(openD64(t, revA), 128))
	require.NoError(t, p.AddRevision(openD64(t, revB), 128))

	targetBacking := make([]byte, d64PlainSize)
	target, err := formats.NewD64Plugin().Create(uftt.ImageFromBytes(targetBacking), d64Geometry)
	require.NoError(t, err)

	report, err := p.Run(target)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageDone, p.CurrentStage())

	assert.Equal(t, 2, report.Revisions)
	assert.Equal(t, "CBM DOS 2.6", report.Disk.Flavor)
	assert.Equal(t, 0, report.Disk.ErrorCount, "the bad BAM copy must not survive the merge")
	assert.Equal(t, 0, report.Tracks[17][0].WeakSectors)

	// The flushed target carries B's BAM and the shared payload elsewhere.
	merged := openD64(t, targetBacking)
	bam, rerr := merged.ReadSector(17, 0, 0)
	require.NoError(t, rerr)
	assert.Equal(t, revB[d64BAMOffset:d64BAMOffset+256], bam.Data)

	other, rerr := merged.ReadSector(5, 0, 3)
	require.NoError(t, rerr)
	assert.Equal(t, revA[d64Offset(5, 3):d64Offset(5, 3)+256], other.Data)
}

// Two clean captures disagreeing in a single byte of one sector: neither copy
// is wrong by its own checksum, so the disagreement surfaces as weak bits.
func TestDisagreeingValidCopiesMarkWeakBits(t *testing.T) {
	revA := blankD64(0x42, false)
	revB := blankD64(0x42, false)
	revB[d64Offset(2, 7)+100] = 0x40

	p := pipeline.New(pipeline.Options{})
	require.NoError(t, p.AddRevision(openD64(t, revA), 200))
	require.NoError(t, p.AddRevision(openD64(t, revB), 200))
	require.NoError(t, p.Read())
	require.NoError(t, p.Analyze())
	require.NoError(t, p.Decide())

	report, err := p.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Tracks[2][0].WeakSectors)
	assert.Equal(t, 1, report.Disk.ErrorCount, "a weak sector still counts as a defect")
	assert.Zero(t, report.Tracks[3][0].WeakSectors)
}

func TestReadRequiresRevisions(t *testing.T) {
	p := pipeline.New(pipeline.Options{})
	err := p.Read()
	assert.ErrorIs(t, err, uft.ErrInvalidArgument)
	assert.Equal(t, pipeline.StageError, p.CurrentStage())
}

func TestRevisionsLockedAfterRead(t *testing.T) {
	p := pipeline.New(pipeline.Options{})
	require.NoError(t, p.AddRevision(openD64(t, blankD64(0, false)), 128))
	require.NoError(t, p.Read())

	err := p.AddRevision(openD64(t, blankD64(0, false)), 128)
	assert.ErrorIs(t, err, uft.ErrInvalidArgument)
}

func TestStagesRunInOrder(t *testing.T) {
	p := pipeline.New(pipeline.Options{})
	require.NoError(t, p.AddRevision(openD64(t, blankD64(0, false)), 128))

	// Analyze before Read is a caller bug, not a pipeline failure.
	err := p.Analyze()
	assert.ErrorIs(t, err, uft.ErrInvalidArgument)
	assert.Equal(t, pipeline.StageInit, p.CurrentStage())

	_, err = p.Result()
	assert.ErrorIs(t, err, uft.ErrInvalidArgument)
}

func TestMismatchedGeometriesRefused(t *testing.T) {
	p := pipeline.New(pipeline.Options{})
	require.NoError(t, p.AddRevision(openD64(t, blankD64(0, false)), 128))

	wide, err := formats.NewD64Plugin().Open(
		uftt.ImageFromBytes(make([]byte, 196608)), true)
	require.NoError(t, err)
	require.NoError(t, p.AddRevision(wide, 128))

	rerr := p.Read()
	assert.ErrorIs(t, rerr, uft.ErrFormatMismatch)
	assert.Equal(t, pipeline.StageError, p.CurrentStage())
}

func TestSingleRevisionPassesThrough(t *testing.T) {
	rev := blankD64(0x99, false)
	stampBAM(rev, 0x99)

	p := pipeline.New(pipeline.Options{})
	require.NoError(t, p.AddRevision(openD64(t, rev), 255))

	targetBacking := make([]byte, d64PlainSize)
	target, err := formats.NewD64Plugin().Create(uftt.ImageFromBytes(targetBacking), d64Geometry)
	require.NoError(t, err)

	report, err := p.Run(target)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Revisions)
	assert.Equal(t, 0, report.Disk.ErrorCount)

	merged := openD64(t, targetBacking)
	sector, rerr := merged.ReadSector(10, 0, 12)
	require.NoError(t, rerr)
	assert.Equal(t, rev[d64Offset(10, 12):d64Offset(10, 12)+256], sector.Data)
}
