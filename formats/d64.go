package formats

import (
	"github.com/retrofloppy/uft"
)

// Commodore 1541 disk image: 35, 40 or 42 zoned tracks of 256-byte blocks,
// optionally followed by a one-byte-per-sector error map.

var d64Layouts = map[int64]struct {
	tracks   uint
	errorMap bool
}{
	174848: {35, false},
	175531: {35, true},
	196608: {40, false},
	197376: {40, true},
	205312: {42, false},
	206114: {42, true},
}

type D64Plugin struct{}

func NewD64Plugin() *D64Plugin { return &D64Plugin{} }

func (p *D64Plugin) ID() uft.FormatID     { return "d64" }
func (p *D64Plugin) Name() string         { return "Commodore D64" }
func (p *D64Plugin) Extensions() []string { return []string{"d64"} }

func (p *D64Plugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapCreate | uft.CapErrorMap
}

func (p *D64Plugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if _, ok := d64Layouts[fileSize]; !ok {
		return uft.ProbeResult{}
	}
	// The BAM (track 18, linear block 357) is far outside the probe
	// window, so size is the only evidence available here; the detection
	// engine adds the structural bonus.
	return uft.ProbeResult{Matched: true, Confidence: 75}
}

func d64TrackNumber(_ uft.Geometry, cylinder, _ uint) uint { return cylinder + 1 }

func (p *D64Plugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	layout, ok := d64Layouts[int64(len(data))]
	if !ok {
		return nil, uft.ErrFormatMismatch.WithMessage("file size matches no D64 variant")
	}
	state, err := newCBMState(data, layout.tracks, CBMSectorsOnTrack)
	if err != nil {
		return nil, err
	}
	geometry := uft.Geometry{
		Cylinders:       layout.tracks,
		Heads:           1,
		SectorsPerTrack: 21, // zone maximum; tracks carry their true count
		SectorSize:      256,
	}
	ops := cbmOps{trackNumber: d64TrackNumber}
	return uft.NewDiskImage(p.ID(), geometry, stream, ops, state, readOnly), nil
}

func (p *D64Plugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	tracks := geometry.Cylinders
	if tracks != 35 && tracks != 40 && tracks != 42 {
		return nil, uft.ErrInvalidArgument.WithMessage("D64 images have 35, 40 or 42 tracks")
	}
	var size int64
	for t := uint(1); t <= tracks; t++ {
		size += int64(CBMSectorsOnTrack(t)) * 256
	}
	data := make([]byte, size)
	state, err := newCBMState(data, tracks, CBMSectorsOnTrack)
	if err != nil {
		return nil, err
	}
	initD64BAM(state, tracks)

	geometry = uft.Geometry{Cylinders: tracks, Heads: 1, SectorsPerTrack: 21, SectorSize: 256}
	ops := cbmOps{trackNumber: d64TrackNumber}
	img := uft.NewDiskImage(p.ID(), geometry, stream, ops, state, false)
	img.Modified = true
	if flushErr := img.Flush(); flushErr != nil {
		return nil, flushErr
	}
	return img, nil
}

// initD64BAM formats the 1541 BAM block at (18, 0) and an empty directory
// at (18, 1): every sector free except the two the DOS itself occupies.
func initD64BAM(state *cbmState, tracks uint) {
	bamOff := state.offsets[18]
	bam := state.data[bamOff : bamOff+256]

	bam[0], bam[1] = 18, 1 // directory chain head
	bam[2] = 0x41          // DOS version 'A'

	for t := uint(1); t <= 35 && t <= tracks; t++ {
		entry := bam[4+(t-1)*4 : 4+(t-1)*4+4]
		count := CBMSectorsOnTrack(t)
		entry[0] = byte(count)
		for s := uint(0); s < count; s++ {
			entry[1+s/8] |= 1 << (s % 8)
		}
		if t == 18 {
			// BAM and first directory block are spoken for.
			entry[0] = byte(count - 2)
			entry[1] &^= 0x03
		}
	}

	// Disk name and id: PETSCII, 0xA0-padded.
	for i := 0x90; i <= 0xAA; i++ {
		bam[i] = 0xA0
	}
	bam[0xA2], bam[0xA3] = '0', '0'
	bam[0xA5], bam[0xA6] = '2', 'A'

	dirOff := state.offsets[18] + 256
	state.data[dirOff] = 0
	state.data[dirOff+1] = 0xFF
}
