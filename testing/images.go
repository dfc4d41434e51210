// Package testing holds shared image-construction helpers for the test
// suites. Import it aliased (the name collides with the standard library on
// purpose, mirroring where the helpers are used).
package testing

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/retrofloppy/uft"
)

// BlankImage returns an in-memory stream sized exactly to the geometry,
// zero-filled. Writes past the end fail, which keeps size bugs loud.
func BlankImage(t *testing.T, g uft.Geometry) io.ReadWriteSeeker {
	require.NoError(t, g.Validate(), "test geometry is invalid")
	return bytesextra.NewReadWriteSeeker(make([]byte, g.TotalSizeBytes()))
}

// ImageFromBytes wraps raw image bytes in a fixed-size stream. The stream
// aliases the slice, so mutations through the stream are visible to the
// caller.
func ImageFromBytes(data []byte) io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(data)
}

// FillSector overwrites one sector of a flat sector image with a repeating
// byte pattern. Sectors are numbered 0-based in geometry order.
func FillSector(t *testing.T, data []byte, g uft.Geometry, linearSector uint, pattern []byte) {
	require.NotEmpty(t, pattern)
	offset := linearSector * g.SectorSize
	require.LessOrEqual(t, offset+g.SectorSize, uint(len(data)), "sector outside image")
	for i := uint(0); i < g.SectorSize; i++ {
		data[offset+i] = pattern[int(i)%len(pattern)]
	}
}
