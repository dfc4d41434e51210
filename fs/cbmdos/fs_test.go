package cbmdos_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/formats"
	"github.com/retrofloppy/uft/fs/cbmdos"
	uftt "github.com/retrofloppy/uft/testing"
)

func newD64Volume(t *testing.T) (*cbmdos.Filesystem, *uft.DiskImage, []byte) {
	backing := make([]byte, 683*256)
	img, err := formats.NewD64Plugin().Create(
		uftt.ImageFromBytes(backing),
		uft.Geometry{Cylinders: 35, Heads: 1, SectorsPerTrack: 21, SectorSize: 256})
	require.NoError(t, err)
	fs, err := cbmdos.Open(img)
	require.NoError(t, err)
	return fs, img, backing
}

func TestFreshDiskInfo(t *testing.T) {
	fs, _, _ := newD64Volume(t)
	info, err := fs.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(18), info.DirTrack)
	// 664 blocks free: 683 minus track 18's 19 blocks, which the free count
	// never includes.
	assert.Equal(t, uint(664), info.FreeBlocks)
}

func TestWriteReadDelete(t *testing.T) {
	fs, _, _ := newD64Volume(t)

	// Three blocks: 254 payload bytes each.
	contents := make([]byte, 2*254+17)
	for i := range contents {
		contents[i] = byte(i % 131)
	}
	require.NoError(t, fs.WriteFile("NOTES", contents, cbmdos.TypePRG))

	got, err := fs.ReadFile("NOTES")
	require.NoError(t, err)
	assert.Equal(t, contents, got)

	entries, err := fs.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "NOTES", entries[0].Name)
	assert.Equal(t, "PRG", entries[0].TypeName())
	assert.Equal(t, uint16(3), entries[0].Blocks)

	info, err := fs.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, uint(664-3), info.FreeBlocks)

	require.NoError(t, fs.Delete("NOTES"))
	info, err = fs.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, uint(664), info.FreeBlocks)
	_, err = fs.ReadFile("NOTES")
	assert.ErrorIs(t, err, uft.ErrNotFound)
}

func TestRenameAndDuplicate(t *testing.T) {
	fs, _, _ := newD64Volume(t)

	require.NoError(t, fs.WriteFile("FIRST", []byte("a"), cbmdos.TypeSEQ))
	require.NoError(t, fs.WriteFile("SECOND", []byte("b"), cbmdos.TypeSEQ))

	err := fs.Rename("FIRST", "SECOND")
	assert.ErrorIs(t, err, uft.ErrExists)

	require.NoError(t, fs.Rename("FIRST", "THIRD"))
	got, err := fs.ReadFile("THIRD")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
}

func TestDiskNameRewrite(t *testing.T) {
	fs, img, backing := newD64Volume(t)

	require.NoError(t, fs.SetDiskName("GAMES DISK"))
	require.NoError(t, fs.SetDiskID("GD"))
	require.NoError(t, img.Flush())

	reopened, err := formats.NewD64Plugin().Open(uftt.ImageFromBytes(backing), true)
	require.NoError(t, err)
	fs2, err := cbmdos.Open(reopened)
	require.NoError(t, err)
	info, err := fs2.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, "GAMES DISK", info.DiskName)
	assert.Equal(t, "GD", info.DiskID)
}

func TestBAMAllocationRoundTrip(t *testing.T) {
	fs, _, _ := newD64Volume(t)

	allocated, err := fs.IsAllocated(1, 0)
	require.NoError(t, err)
	require.False(t, allocated)

	require.NoError(t, fs.Allocate(1, 0))
	allocated, err = fs.IsAllocated(1, 0)
	require.NoError(t, err)
	assert.True(t, allocated)

	free, err := fs.GetTrackFree(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(20), free)

	require.NoError(t, fs.Free(1, 0))
	free, err = fs.GetTrackFree(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(21), free)
}

func TestBAMRejectsBadCoordinates(t *testing.T) {
	fs, _, _ := newD64Volume(t)
	_, err := fs.IsAllocated(0, 0)
	assert.ErrorIs(t, err, uft.ErrOutOfRange)
	_, err = fs.IsAllocated(36, 0)
	assert.ErrorIs(t, err, uft.ErrOutOfRange)
	_, err = fs.IsAllocated(1, 21)
	assert.ErrorIs(t, err, uft.ErrOutOfRange)
}

func TestDirectoryGrowsPastOneBlock(t *testing.T) {
	fs, _, _ := newD64Volume(t)

	// Nine files overflow the eight slots of the first directory block.
	names := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I"}
	for _, name := range names {
		require.NoError(t, fs.WriteFile(name, []byte(name), cbmdos.TypeSEQ))
	}
	entries, err := fs.List()
	require.NoError(t, err)
	assert.Len(t, entries, len(names))

	got, err := fs.ReadFile("I")
	require.NoError(t, err)
	assert.Equal(t, []byte("I"), got)
}
