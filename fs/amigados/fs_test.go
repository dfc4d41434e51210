package amigados_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/formats"
	"github.com/retrofloppy/uft/fs/amigados"
	uftt "github.com/retrofloppy/uft/testing"
)

const adfDDSize = 901120

var adfGeometry = uft.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 11, SectorSize: 512}

// newVolume formats a fresh double-density ADF and opens a filesystem on it.
func newVolume(t *testing.T, flavor amigados.Flavor) (*amigados.Filesystem, *uft.DiskImage, []byte) {
	backing := make([]byte, adfDDSize)
	img, err := formats.NewADFPlugin().Create(uftt.ImageFromBytes(backing), adfGeometry)
	require.NoError(t, err)
	require.NoError(t, amigados.Format(img, "Workbench", flavor))

	fs, err := amigados.Open(img)
	require.NoError(t, err)
	return fs, img, backing
}

func TestInjectAndExtractFile(t *testing.T) {
	fs, img, backing := newVolume(t, amigados.Flavor{FFS: true})
	contents := []byte("Hello, Amiga!\n")

	header, err := fs.CreateFile(fs.RootBlock(), "hello.txt", contents)
	require.NoError(t, err)
	require.NoError(t, img.Flush())

	// The root hash table must point at the new header through the slot the
	// name hashes to (67 for "hello.txt").
	rootOffset := int64(fs.RootBlock()) * 512
	slot := binary.BigEndian.Uint32(backing[rootOffset+24+67*4:])
	assert.Equal(t, header, slot)

	// A fresh session over the flushed bytes sees the file.
	reopened, err := formats.NewADFPlugin().Open(uftt.ImageFromBytes(backing), true)
	require.NoError(t, err)
	fs2, err := amigados.Open(reopened)
	require.NoError(t, err)

	entries, err := fs2.ListDir(fs2.RootBlock())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello.txt", entries[0].Name)
	assert.Equal(t, uint32(len(contents)), entries[0].Size)
	assert.False(t, entries[0].IsDir)

	got, err := fs2.ReadFile(entries[0].Block)
	require.NoError(t, err)
	assert.Equal(t, contents, got)
}

func TestOFSFileSpansDataBlocks(t *testing.T) {
	fs, _, _ := newVolume(t, amigados.Flavor{})

	// Three OFS data blocks: 488 bytes of payload each.
	contents := bytes.Repeat([]byte{0xA5, 0x5A, 0x33}, 400)
	header, err := fs.CreateFile(fs.RootBlock(), "big", contents)
	require.NoError(t, err)

	got, err := fs.ReadFile(header)
	require.NoError(t, err)
	assert.Equal(t, contents, got)
}

func TestLargeFileNeedsExtensionBlock(t *testing.T) {
	fs, _, _ := newVolume(t, amigados.Flavor{FFS: true})

	// 80 FFS data blocks exceed the 72 pointers a header holds.
	contents := make([]byte, 80*512)
	for i := range contents {
		contents[i] = byte(i % 251)
	}
	header, err := fs.CreateFile(fs.RootBlock(), "huge", contents)
	require.NoError(t, err)

	got, err := fs.ReadFile(header)
	require.NoError(t, err)
	assert.Equal(t, contents, got)
}

func TestDirectoryTreeAndFindPath(t *testing.T) {
	fs, _, _ := newVolume(t, amigados.Flavor{FFS: true})

	dir, err := fs.Mkdir(fs.RootBlock(), "devs")
	require.NoError(t, err)
	_, err = fs.CreateFile(dir, "mountlist", []byte("DH0:\n"))
	require.NoError(t, err)

	entry, err := fs.FindPath("devs/mountlist")
	require.NoError(t, err)
	assert.False(t, entry.IsDir)

	got, err := fs.ReadFile(entry.Block)
	require.NoError(t, err)
	assert.Equal(t, []byte("DH0:\n"), got)

	// Lookups fold case the AmigaDOS way.
	_, err = fs.FindPath("DEVS/MountList")
	assert.NoError(t, err)
}

func TestDeleteRespectsProtection(t *testing.T) {
	fs, _, _ := newVolume(t, amigados.Flavor{FFS: true})

	_, err := fs.CreateFile(fs.RootBlock(), "locked", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, fs.SetProtection(fs.RootBlock(), "locked", 0x01))

	err = fs.Delete(fs.RootBlock(), "locked")
	assert.ErrorIs(t, err, uft.ErrProtected)

	require.NoError(t, fs.SetProtection(fs.RootBlock(), "locked", 0))
	require.NoError(t, fs.Delete(fs.RootBlock(), "locked"))

	entries, err := fs.ListDir(fs.RootBlock())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteNonEmptyDirectoryRefused(t *testing.T) {
	fs, _, _ := newVolume(t, amigados.Flavor{FFS: true})

	dir, err := fs.Mkdir(fs.RootBlock(), "stuff")
	require.NoError(t, err)
	_, err = fs.CreateFile(dir, "keep", []byte("y"))
	require.NoError(t, err)

	err = fs.Delete(fs.RootBlock(), "stuff")
	assert.ErrorIs(t, err, uft.ErrDirectoryNotEmpty)

	require.NoError(t, fs.Delete(dir, "keep"))
	require.NoError(t, fs.Delete(fs.RootBlock(), "stuff"))
}

func TestRenameMovesBetweenHashChains(t *testing.T) {
	fs, _, _ := newVolume(t, amigados.Flavor{FFS: true})

	_, err := fs.CreateFile(fs.RootBlock(), "old", []byte("data"))
	require.NoError(t, err)
	require.NoError(t, fs.Rename(fs.RootBlock(), "old", "renamed"))

	_, err = fs.FindPath("old")
	assert.ErrorIs(t, err, uft.ErrNotFound)

	entry, err := fs.FindPath("renamed")
	require.NoError(t, err)
	got, err := fs.ReadFile(entry.Block)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestDuplicateNameRejected(t *testing.T) {
	fs, _, _ := newVolume(t, amigados.Flavor{FFS: true})

	_, err := fs.CreateFile(fs.RootBlock(), "twice", nil)
	require.NoError(t, err)
	_, err = fs.CreateFile(fs.RootBlock(), "TWICE", nil)
	assert.ErrorIs(t, err, uft.ErrExists, "names collide case-insensitively")
}

func TestCommentsSurviveReopen(t *testing.T) {
	fs, img, backing := newVolume(t, amigados.Flavor{FFS: true})

	_, err := fs.CreateFile(fs.RootBlock(), "noted", nil)
	require.NoError(t, err)
	require.NoError(t, fs.SetComment(fs.RootBlock(), "noted", "do not ship"))
	require.NoError(t, img.Flush())

	reopened, err := formats.NewADFPlugin().Open(uftt.ImageFromBytes(backing), true)
	require.NoError(t, err)
	fs2, err := amigados.Open(reopened)
	require.NoError(t, err)
	entries, err := fs2.ListDir(fs2.RootBlock())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "do not ship", entries[0].Comment)
}
