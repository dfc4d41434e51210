package ataridos_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/formats"
	"github.com/retrofloppy/uft/fs/ataridos"
	uftt "github.com/retrofloppy/uft/testing"
)

// buildSpartaVolume hand-assembles a minimal SpartaDOS disk: a superblock,
// a root directory of one file, and the file's own sector map and data.
func buildSpartaVolume() []byte {
	raw := buildSDATR()

	boot := sectorBytes(raw, 1)
	boot[7] = 0x20                                // SpartaDOS 2.x signature
	binary.LittleEndian.PutUint16(boot[9:], 10)   // root directory map
	binary.LittleEndian.PutUint16(boot[11:], 720) // total
	binary.LittleEndian.PutUint16(boot[13:], 600) // free

	// Root directory map: one content sector, no continuation.
	rootMap := sectorBytes(raw, 10)
	binary.LittleEndian.PutUint16(rootMap[4:], 11)

	// Root directory content: 23-byte header entry, then one file entry.
	dir := sectorBytes(raw, 11)
	dir[3] = 46 // directory byte length, header plus one entry
	entry := dir[23:46]
	entry[0] = 0x08 // in use
	binary.LittleEndian.PutUint16(entry[1:], 12)
	entry[3] = 5 // size
	copy(entry[6:14], "HELLO   ")
	copy(entry[14:17], "   ")

	// File map and data.
	fileMap := sectorBytes(raw, 12)
	binary.LittleEndian.PutUint16(fileMap[4:], 13)
	copy(sectorBytes(raw, 13), "HELLO")
	return raw
}

func openSparta(t *testing.T) *ataridos.Filesystem {
	img, err := formats.NewATRPlugin().Open(uftt.ImageFromBytes(buildSpartaVolume()), false)
	require.NoError(t, err)
	fs, err := ataridos.Open(img)
	require.NoError(t, err)
	require.Equal(t, ataridos.VariantSpartaDOS, fs.Variant())
	return fs
}

func TestSpartaSuperblock(t *testing.T) {
	fs := openSparta(t)
	info, err := fs.SpartaReadInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x20), info.Version)
	assert.Equal(t, uint16(720), info.TotalSectors)
	assert.Equal(t, uint16(600), info.FreeSectors)
	assert.Equal(t, uint16(10), info.RootMap)
}

func TestSpartaListAndRead(t *testing.T) {
	fs := openSparta(t)
	info, err := fs.SpartaReadInfo()
	require.NoError(t, err)

	entries, err := fs.SpartaList(info.RootMap)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "HELLO", entries[0].Name)
	assert.Equal(t, uint32(5), entries[0].Size)

	got, err := fs.SpartaReadFile(info.RootMap, "hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO"), got)
}

func TestSpartaVolumesAreReadOnly(t *testing.T) {
	fs := openSparta(t)
	err := fs.WriteFile("NEW.DAT", []byte("nope"))
	assert.ErrorIs(t, err, uft.ErrNotSupported)
}
