package compression_test

import (
	"bytes"
	"testing"

	c "github.com/retrofloppy/uft/utilities/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScannerSequence(t *testing.T) {
	data := []byte{1, 9, 4, 4, 4, 4, 4, 6, 6, 0, 1, 0, 0, 0}
	expected := []struct {
		value  byte
		length int
	}{
		{1, 1}, {9, 1}, {4, 5}, {6, 2}, {0, 1}, {1, 1}, {0, 3},
	}

	runs := c.NewRunScanner(data)
	for i, want := range expected {
		value, length, ok := runs.Next()
		require.True(t, ok, "run %d missing", i)
		assert.Equal(t, want.value, value, "run %d value", i)
		assert.Equal(t, want.length, length, "run %d length", i)
	}
	_, _, ok := runs.Next()
	assert.False(t, ok, "scanner must stop after the last run")
}

func TestMSARoundTrip(t *testing.T) {
	track := bytes.Repeat([]byte{0xAA}, 20)
	track = append(track, bytes.Repeat([]byte{0xBB}, 30)...)
	for len(track) < 4608 {
		track = append(track, 0xCC, 0xDD)
	}

	packed := c.CompressMSATrack(track)
	assert.LessOrEqual(t, len(packed), len(track), "compressible track grew")

	unpacked, err := c.DecompressMSATrack(packed, len(track))
	require.NoError(t, err)
	assert.Equal(t, track, unpacked)
}

func TestMSAMarkerByteAlwaysEscaped(t *testing.T) {
	// A single 0xE5 must become an RLE record, never a literal.
	packed := c.CompressMSATrack([]byte{0x01, 0xE5, 0x02})
	assert.Equal(t, []byte{0x01, 0xE5, 0x00, 0x01, 0xE5, 0x02}, packed)

	unpacked, err := c.DecompressMSATrack(packed, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xE5, 0x02}, unpacked)
}

func TestMSAShortRunsStayLiteral(t *testing.T) {
	track := []byte{7, 7, 7, 7, 1, 2, 3}
	packed := c.CompressMSATrack(track)
	assert.Equal(t, track, packed, "runs under five bytes are not worth a record")
}

func TestMSADecompressRejectsBadStreams(t *testing.T) {
	_, err := c.DecompressMSATrack([]byte{0xE5, 0x00}, 16)
	assert.Error(t, err, "truncated record")

	_, err = c.DecompressMSATrack([]byte{0xE5, 0xFF, 0xFF, 0x00}, 16)
	assert.Error(t, err, "record overflowing the track")

	_, err = c.DecompressMSATrack([]byte{0x01}, 2)
	assert.Error(t, err, "short output")
}

func TestIsUniform(t *testing.T) {
	value, ok := c.IsUniform(bytes.Repeat([]byte{0xF6}, 512))
	assert.True(t, ok)
	assert.EqualValues(t, 0xF6, value)

	_, ok = c.IsUniform([]byte{1, 1, 2})
	assert.False(t, ok)
	_, ok = c.IsUniform(nil)
	assert.False(t, ok)

	assert.Equal(t, bytes.Repeat([]byte{0xF6}, 256), c.ExpandRepeatedByte(0xF6, 256))
}
