package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/checksum"
)

// Amiga Disk File: a flat 80×2 image, 11 (DD) or 22 (HD) sectors of 512
// bytes per track. The only on-disk structure the container itself defines
// is the 1024-byte bootblock; everything else belongs to the filesystem
// layer.
const (
	adfDDSize = 901120
	adfHDSize = 1802240
)

type ADFPlugin struct{}

func NewADFPlugin() *ADFPlugin { return &ADFPlugin{} }

func (p *ADFPlugin) ID() uft.FormatID     { return "adf" }
func (p *ADFPlugin) Name() string         { return "Amiga Disk File" }
func (p *ADFPlugin) Extensions() []string { return []string{"adf", "adz"} }

func (p *ADFPlugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapCreate
}

func (p *ADFPlugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if fileSize != adfDDSize && fileSize != adfHDSize {
		return uft.ProbeResult{}
	}
	confidence := 70
	if len(header) >= 4 && bytes.Equal(header[:3], []byte("DOS")) && header[3] <= 5 {
		confidence = 95
	}
	return uft.ProbeResult{Matched: true, Confidence: confidence}
}

func adfGeometry(size int64) (uft.Geometry, uft.DriverError) {
	switch size {
	case adfDDSize:
		return uft.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 11, SectorSize: 512}, nil
	case adfHDSize:
		return uft.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 22, SectorSize: 512}, nil
	}
	return uft.Geometry{}, uft.ErrFormatMismatch.WithMessage(fmt.Sprintf(
		"ADF images are %d or %d bytes, got %d", adfDDSize, adfHDSize, size))
}

func (p *ADFPlugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	geometry, err := adfGeometry(int64(len(data)))
	if err != nil {
		return nil, err
	}
	state := &rawState{data: data, firstSector: 0}
	return uft.NewDiskImage(p.ID(), geometry, stream, rawOps{id: p.ID()}, state, readOnly), nil
}

func (p *ADFPlugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	// ADF geometry is fixed; single-sided requests are rejected, not
	// rounded.
	if geometry.Cylinders != 80 || geometry.Heads != 2 || geometry.SectorSize != 512 ||
		(geometry.SectorsPerTrack != 11 && geometry.SectorsPerTrack != 22) {
		return nil, uft.ErrInvalidArgument.WithMessage(
			"ADF requires 80 cylinders, 2 heads, 11 or 22 sectors of 512 bytes")
	}

	data := make([]byte, geometry.TotalSizeBytes())
	copy(data, "DOS\x01") // FFS
	binary.BigEndian.PutUint32(data[4:], checksum.AmigaBootblock(data[:1024]))

	state := &rawState{data: data, firstSector: 0}
	img := uft.NewDiskImage(p.ID(), geometry, stream, rawOps{id: p.ID()}, state, false)
	img.Modified = true
	if err := img.Flush(); err != nil {
		return nil, err
	}
	return img, nil
}
