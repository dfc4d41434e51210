package formats

import (
	"github.com/retrofloppy/uft"
)

// Commodore 1571 image: a D64 extended to 70 tracks across two sides, with
// a secondary BAM bitmap on track 53 (the first track of side 1).

const (
	d71Size    = 349696
	d71ErrSize = 351062
)

func d71SectorsOnTrack(track uint) uint {
	if track > 35 {
		track -= 35
	}
	return CBMSectorsOnTrack(track)
}

type D71Plugin struct{}

func NewD71Plugin() *D71Plugin { return &D71Plugin{} }

func (p *D71Plugin) ID() uft.FormatID     { return "d71" }
func (p *D71Plugin) Name() string         { return "Commodore D71" }
func (p *D71Plugin) Extensions() []string { return []string{"d71"} }

func (p *D71Plugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapCreate | uft.CapErrorMap
}

func (p *D71Plugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if fileSize != d71Size && fileSize != d71ErrSize {
		return uft.ProbeResult{}
	}
	return uft.ProbeResult{Matched: true, Confidence: 75}
}

func d71TrackNumber(g uft.Geometry, cylinder, head uint) uint {
	return cylinder + 1 + head*g.Cylinders
}

func (p *D71Plugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != d71Size && int64(len(data)) != d71ErrSize {
		return nil, uft.ErrFormatMismatch.WithMessage("file size matches no D71 variant")
	}
	state, err := newCBMState(data, 70, d71SectorsOnTrack)
	if err != nil {
		return nil, err
	}
	geometry := uft.Geometry{Cylinders: 35, Heads: 2, SectorsPerTrack: 21, SectorSize: 256}
	ops := cbmOps{trackNumber: d71TrackNumber}
	return uft.NewDiskImage(p.ID(), geometry, stream, ops, state, readOnly), nil
}

func (p *D71Plugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	data := make([]byte, d71Size)
	state, err := newCBMState(data, 70, d71SectorsOnTrack)
	if err != nil {
		return nil, err
	}
	initD64BAM(state, 35)
	initD71SideTwoBAM(state)

	geometry = uft.Geometry{Cylinders: 35, Heads: 2, SectorsPerTrack: 21, SectorSize: 256}
	ops := cbmOps{trackNumber: d71TrackNumber}
	img := uft.NewDiskImage(p.ID(), geometry, stream, ops, state, false)
	img.Modified = true
	if flushErr := img.Flush(); flushErr != nil {
		return nil, flushErr
	}
	return img, nil
}

// initD71SideTwoBAM marks the image double-sided and formats the side-1
// bitmap: free counts for tracks 36..70 live in the primary BAM at
// 0xDD..0xFF, the bitmaps themselves on track 53 sector 0 (3 bytes per
// track). Track 53 is reserved whole for the BAM.
func initD71SideTwoBAM(state *cbmState) {
	bam := state.data[state.offsets[18] : state.offsets[18]+256]
	bam[0x03] = 0x80

	side2 := state.data[state.offsets[53] : state.offsets[53]+256]
	for t := uint(36); t <= 70; t++ {
		count := d71SectorsOnTrack(t)
		if t == 53 {
			bam[0xDD+(t-36)] = 0
			continue
		}
		bam[0xDD+(t-36)] = byte(count)
		entry := side2[(t-36)*3 : (t-36)*3+3]
		for s := uint(0); s < count; s++ {
			entry[s/8] |= 1 << (s % 8)
		}
	}
}
