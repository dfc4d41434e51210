package formats

import (
	"github.com/retrofloppy/uft"
)

// Commodore 1581 image. Physically the disk is 80x2x10x512 MFM, but the DOS
// addresses it as 80 logical tracks of forty 256-byte blocks and this plugin
// does the same. The header block sits at (40, 0), the two BAM blocks at
// (40, 1) and (40, 2), and the directory chain starts at (40, 3).

const (
	d81Size    = 819200
	d81ErrSize = 822400
)

func d81SectorsOnTrack(uint) uint { return 40 }

type D81Plugin struct{}

func NewD81Plugin() *D81Plugin { return &D81Plugin{} }

func (p *D81Plugin) ID() uft.FormatID     { return "d81" }
func (p *D81Plugin) Name() string         { return "Commodore D81" }
func (p *D81Plugin) Extensions() []string { return []string{"d81"} }

func (p *D81Plugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapCreate | uft.CapErrorMap
}

func (p *D81Plugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if fileSize != d81Size && fileSize != d81ErrSize {
		return uft.ProbeResult{}
	}
	return uft.ProbeResult{Matched: true, Confidence: 75}
}

func (p *D81Plugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != d81Size && int64(len(data)) != d81ErrSize {
		return nil, uft.ErrFormatMismatch.WithMessage("file size matches no D81 variant")
	}
	state, err := newCBMState(data, 80, d81SectorsOnTrack)
	if err != nil {
		return nil, err
	}
	geometry := uft.Geometry{Cylinders: 80, Heads: 1, SectorsPerTrack: 40, SectorSize: 256}
	ops := cbmOps{trackNumber: d64TrackNumber}
	return uft.NewDiskImage(p.ID(), geometry, stream, ops, state, readOnly), nil
}

func (p *D81Plugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	data := make([]byte, d81Size)
	state, err := newCBMState(data, 80, d81SectorsOnTrack)
	if err != nil {
		return nil, err
	}
	initD81BAM(state)

	geometry = uft.Geometry{Cylinders: 80, Heads: 1, SectorsPerTrack: 40, SectorSize: 256}
	ops := cbmOps{trackNumber: d64TrackNumber}
	img := uft.NewDiskImage(p.ID(), geometry, stream, ops, state, false)
	img.Modified = true
	if flushErr := img.Flush(); flushErr != nil {
		return nil, flushErr
	}
	return img, nil
}

// initD81BAM formats the 1581 header block and both BAM blocks. Each BAM
// entry is six bytes: a free count and a 5-byte bitmap covering the track's
// forty sectors (bit set ⇒ free).
func initD81BAM(state *cbmState) {
	header := state.data[state.offsets[40] : state.offsets[40]+256]
	header[0], header[1] = 40, 3 // directory chain head
	header[2] = 0x44             // DOS version 'D'
	for i := 0x04; i <= 0x18; i++ {
		header[i] = 0xA0
	}
	header[0x16], header[0x17] = '0', '0'
	header[0x19], header[0x1A] = '3', 'D'

	for half := 0; half < 2; half++ {
		bam := state.data[state.offsets[40]+int64(256*(1+half)):][:256]
		if half == 0 {
			bam[0], bam[1] = 40, 2 // first BAM block chains to the second
		} else {
			bam[0], bam[1] = 0, 0xFF
		}
		bam[2] = 0x44
		bam[3] = ^bam[2]
		bam[4], bam[5] = '0', '0'

		for i := 0; i < 40; i++ {
			track := uint(1 + half*40 + i)
			entry := bam[16+i*6 : 16+i*6+6]
			entry[0] = 40
			for b := 1; b <= 5; b++ {
				entry[b] = 0xFF
			}
			if track == 40 {
				// Header, both BAM blocks and the first directory
				// block are in use.
				entry[0] = 36
				entry[1] = 0xF0
			}
		}
	}

	// Directory block at (40, 3): empty chain.
	dir := state.data[state.offsets[40]+3*256:][:256]
	dir[0], dir[1] = 0, 0xFF
}
