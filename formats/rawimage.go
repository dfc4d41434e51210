package formats

import (
	"fmt"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/disks"
	"github.com/retrofloppy/uft/utilities/binutil"
)

// rawState is the in-memory form of a header-less sector image: the file is
// exactly cylinders × heads × sectors × size bytes in track-major order.
type rawState struct {
	data        []byte
	firstSector uint8 // address-mark number of the first sector on a track
}

// rawOps implements FormatOps for every uniform sector image.
type rawOps struct {
	id uft.FormatID
}

func rawSectorOffset(g uft.Geometry, cylinder, head uint, index uint) int64 {
	trackIndex := int64(cylinder)*int64(g.Heads) + int64(head)
	trackBytes := int64(g.SectorsPerTrack) * int64(g.SectorSize)
	return trackIndex*trackBytes + int64(index)*int64(g.SectorSize)
}

func (ops rawOps) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	state := img.State().(*rawState)
	g := img.Geometry

	track := &uft.Track{
		Cylinder: cylinder,
		Head:     head,
		Status:   uft.TrackOK,
		Encoding: uft.EncodingMFM,
	}
	for i := uint(0); i < g.SectorsPerTrack; i++ {
		offset := rawSectorOffset(g, cylinder, head, i)
		buf, err := binutil.Slice(state.data, offset, int64(g.SectorSize))
		if err != nil {
			return nil, uft.ErrCorruptImage.Wrap(err)
		}
		data := make([]byte, g.SectorSize)
		copy(data, buf)
		track.Sectors = append(track.Sectors, &uft.Sector{
			ID: uft.SectorID{
				Cylinder: uint8(cylinder),
				Head:     uint8(head),
				Sector:   state.firstSector + uint8(i),
				SizeCode: uint8(uft.SectorSizeCode(g.SectorSize)),
				CRCOK:    true,
			},
			Data: data,
		})
	}
	return track, nil
}

func (ops rawOps) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError {
	if err := checkWritable(img); err != nil {
		return err
	}
	state := img.State().(*rawState)
	g := img.Geometry

	for _, sector := range track.Sectors {
		if sector.Size() != g.SectorSize {
			return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"sector %d is %d bytes, format requires %d",
				sector.ID.Sector, sector.Size(), g.SectorSize))
		}
		index := sector.ID.Sector - state.firstSector
		if uint(index) >= g.SectorsPerTrack {
			return uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"sector id %d outside track", sector.ID.Sector))
		}
		offset := rawSectorOffset(g, track.Cylinder, track.Head, uint(index))
		dst, err := binutil.Slice(state.data, offset, int64(g.SectorSize))
		if err != nil {
			return uft.ErrCorruptImage.Wrap(err)
		}
		copy(dst, sector.Data)
	}
	return nil
}

func (ops rawOps) Flush(img *uft.DiskImage) uft.DriverError {
	state := img.State().(*rawState)
	return writeImage(img.Stream(), state.data)
}

// RawFamily selects which slice of the profile table a raw plugin serves.
type RawFamily struct {
	ID     uft.FormatID
	Name   string
	Exts   []string
	Family string
}

var (
	RawFamilyPC      = RawFamily{ID: "img", Name: "Raw PC sector image", Exts: []string{"img", "ima", "dmf"}, Family: "pc"}
	RawFamilyAtariST = RawFamily{ID: "st", Name: "Atari ST raw image", Exts: []string{"st"}, Family: "atarist"}
	RawFamilyDEC     = RawFamily{ID: "rx50", Name: "DEC RX50 image", Exts: []string{"rx50", "dsk"}, Family: "dec"}
)

// RawImagePlugin handles header-less images whose geometry is implied
// entirely by file size, resolved against the profile table in disks.
type RawImagePlugin struct {
	family RawFamily
}

func NewRawImagePlugin(family RawFamily) *RawImagePlugin {
	return &RawImagePlugin{family: family}
}

func (p *RawImagePlugin) ID() uft.FormatID     { return p.family.ID }
func (p *RawImagePlugin) Name() string         { return p.family.Name }
func (p *RawImagePlugin) Extensions() []string { return p.family.Exts }

func (p *RawImagePlugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapCreate
}

func (p *RawImagePlugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	matches := disks.MatchSize(p.family.Family, fileSize)
	if len(matches) == 0 {
		return uft.ProbeResult{}
	}
	// A bare size match is weak evidence; unique sizes score higher.
	confidence := 70
	if len(matches) > 1 {
		confidence = 60
	}
	return uft.ProbeResult{Matched: true, Confidence: confidence}
}

func (p *RawImagePlugin) geometryForSize(size int64) (uft.Geometry, uft.DriverError) {
	matches := disks.MatchSize(p.family.Family, size)
	if len(matches) == 0 {
		return uft.Geometry{}, uft.ErrFormatMismatch.WithMessage(fmt.Sprintf(
			"no %s profile is %d bytes", p.family.Family, size))
	}
	m := matches[0]
	return uft.Geometry{
		Cylinders:       m.Cylinders,
		Heads:           m.Heads,
		SectorsPerTrack: m.SectorsPerTrack,
		SectorSize:      m.SectorSize,
	}, nil
}

func (p *RawImagePlugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	geometry, err := p.geometryForSize(int64(len(data)))
	if err != nil {
		return nil, err
	}
	state := &rawState{data: data, firstSector: 1}
	return uft.NewDiskImage(p.ID(), geometry, stream, rawOps{id: p.ID()}, state, readOnly), nil
}

func (p *RawImagePlugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	data := make([]byte, geometry.TotalSizeBytes())
	state := &rawState{data: data, firstSector: 1}
	img := uft.NewDiskImage(p.ID(), geometry, stream, rawOps{id: p.ID()}, state, false)
	img.Modified = true
	if err := img.Flush(); err != nil {
		return nil, err
	}
	return img, nil
}
