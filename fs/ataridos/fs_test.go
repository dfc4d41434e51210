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

// buildSDATR assembles a blank single-density ATR: 720 sectors of 128 bytes.
func buildSDATR() []byte {
	raw := make([]byte, 16+720*128)
	binary.LittleEndian.PutUint16(raw[0:], 0x0296)
	binary.LittleEndian.PutUint16(raw[2:], uint16(720*128/16))
	binary.LittleEndian.PutUint16(raw[4:], 128)
	return raw
}

func sectorBytes(raw []byte, number int) []byte {
	offset := 16 + (number-1)*128
	return raw[offset : offset+128]
}

// formatDOS2 writes a DOS 2.0 VTOC: code 2, 707 usable sectors, everything
// free except boot, VTOC and directory.
func formatDOS2(raw []byte) {
	vtoc := sectorBytes(raw, 360)
	vtoc[0] = 2
	binary.LittleEndian.PutUint16(vtoc[1:], 707)
	free := 0
	for s := 4; s <= 719; s++ {
		if s >= 360 && s <= 368 {
			continue
		}
		vtoc[10+s/8] |= 1 << (s % 8)
		free++
	}
	binary.LittleEndian.PutUint16(vtoc[3:], uint16(free))
}

func newDOS2Volume(t *testing.T) (*ataridos.Filesystem, *uft.DiskImage, []byte) {
	raw := buildSDATR()
	formatDOS2(raw)
	img, err := formats.NewATRPlugin().Open(uftt.ImageFromBytes(raw), false)
	require.NoError(t, err)
	fs, err := ataridos.Open(img)
	require.NoError(t, err)
	require.Equal(t, ataridos.VariantDOS2, fs.Variant())
	return fs, img, raw
}

func TestReadInfoCountsFreeSectors(t *testing.T) {
	fs, _, _ := newDOS2Volume(t)
	info, err := fs.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(2), info.DOSCode)
	assert.Equal(t, uint16(707), info.FreeSectors)
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs, _, _ := newDOS2Volume(t)

	// Four link-chained sectors: 125 payload bytes each.
	contents := make([]byte, 3*125+40)
	for i := range contents {
		contents[i] = byte(i % 199)
	}
	require.NoError(t, fs.WriteFile("README.TXT", contents))

	got, err := fs.ReadFile("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, contents, got)

	entries, err := fs.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "README.TXT", entries[0].Name)
	assert.Equal(t, uint16(4), entries[0].SectorCount)

	info, err := fs.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, uint16(707-4), info.FreeSectors)
}

func TestDeleteReturnsSectorsToTheBitmap(t *testing.T) {
	fs, _, _ := newDOS2Volume(t)

	require.NoError(t, fs.WriteFile("TEMP.DAT", make([]byte, 500)))
	require.NoError(t, fs.Delete("TEMP.DAT"))

	info, err := fs.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, uint16(707), info.FreeSectors)

	_, err = fs.ReadFile("TEMP.DAT")
	assert.ErrorIs(t, err, uft.ErrNotFound)
}

func TestLockedFileRefusesDeletion(t *testing.T) {
	fs, _, _ := newDOS2Volume(t)

	require.NoError(t, fs.WriteFile("KEEP.ME", []byte("precious")))
	require.NoError(t, fs.SetLocked("KEEP.ME", true))

	err := fs.Delete("KEEP.ME")
	assert.ErrorIs(t, err, uft.ErrProtected)

	require.NoError(t, fs.SetLocked("KEEP.ME", false))
	require.NoError(t, fs.Delete("KEEP.ME"))
}

func TestRenameKeepsData(t *testing.T) {
	fs, _, _ := newDOS2Volume(t)

	require.NoError(t, fs.WriteFile("OLD.NAM", []byte("payload")))
	require.NoError(t, fs.Rename("OLD.NAM", "NEW.NAM"))

	got, err := fs.ReadFile("NEW.NAM")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	_, err = fs.ReadFile("OLD.NAM")
	assert.ErrorIs(t, err, uft.ErrNotFound)
}

func TestBadNamesRejected(t *testing.T) {
	fs, _, _ := newDOS2Volume(t)
	assert.Error(t, fs.WriteFile("", nil))
	assert.Error(t, fs.WriteFile("WAYTOOLONG.TXT", nil))
	assert.Error(t, fs.WriteFile("BAD*.DAT", nil))
}

func TestChangesSurviveFlush(t *testing.T) {
	fs, img, raw := newDOS2Volume(t)

	require.NoError(t, fs.WriteFile("SAVED.BAS", []byte("10 PRINT\n")))
	require.NoError(t, img.Flush())

	reopened, err := formats.NewATRPlugin().Open(uftt.ImageFromBytes(raw), true)
	require.NoError(t, err)
	fs2, err := ataridos.Open(reopened)
	require.NoError(t, err)

	got, err := fs2.ReadFile("SAVED.BAS")
	require.NoError(t, err)
	assert.Equal(t, []byte("10 PRINT\n"), got)
}
