package formats

import (
	"encoding/binary"
	"fmt"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/utilities/binutil"
)

// Atari 8-bit ATR container: a 16-byte little-endian header in front of
// linear sectors. The first three sectors are always stored as 128 bytes,
// even on double-density disks; offset math branches at sector 3.
const (
	atrMagic      = 0x0296
	atrHeaderSize = 16
	atrBootBytes  = 3 * 128
)

type atrState struct {
	data        []byte
	sectorSize  uint // declared size; boot sectors are 128 regardless
	sectorCount uint
	writeProt   bool
}

// atrSectorOffset gives the file offset and stored length of a 1-based
// sector number.
func (s *atrState) atrSectorOffset(sector uint) (int64, uint) {
	if sector <= 3 {
		return int64(atrHeaderSize + (sector-1)*128), 128
	}
	return int64(atrHeaderSize) + atrBootBytes + int64(sector-4)*int64(s.sectorSize),
		s.sectorSize
}

type ATRPlugin struct{}

func NewATRPlugin() *ATRPlugin { return &ATRPlugin{} }

func (p *ATRPlugin) ID() uft.FormatID     { return "atr" }
func (p *ATRPlugin) Name() string         { return "Atari ATR" }
func (p *ATRPlugin) Extensions() []string { return []string{"atr"} }

func (p *ATRPlugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapCreate
}

func (p *ATRPlugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if len(header) < atrHeaderSize || fileSize <= atrHeaderSize {
		return uft.ProbeResult{}
	}
	if binary.LittleEndian.Uint16(header[0:]) != atrMagic {
		return uft.ProbeResult{}
	}
	// Integrity is by size match only: the header's paragraph count must
	// agree with the file length.
	paragraphs := int64(binary.LittleEndian.Uint16(header[2:])) |
		int64(header[6])<<16
	if atrHeaderSize+paragraphs*16 != fileSize {
		return uft.ProbeResult{Matched: true, Confidence: 40}
	}
	return uft.ProbeResult{Matched: true, Confidence: 100}
}

func (p *ATRPlugin) parse(data []byte) (*atrState, uft.Geometry, uft.DriverError) {
	if len(data) < atrHeaderSize {
		return nil, uft.Geometry{}, uft.ErrFormatMismatch.WithMessage("file shorter than ATR header")
	}
	if binary.LittleEndian.Uint16(data[0:]) != atrMagic {
		return nil, uft.Geometry{}, uft.ErrFormatMismatch.WithMessage("bad ATR magic")
	}
	paragraphs := int64(binary.LittleEndian.Uint16(data[2:])) | int64(data[6])<<16
	sectorSize := uint(binary.LittleEndian.Uint16(data[4:]))
	flags := data[7]

	if sectorSize != 128 && sectorSize != 256 && sectorSize != 512 {
		return nil, uft.Geometry{}, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"unsupported ATR sector size %d", sectorSize))
	}

	dataBytes := paragraphs * 16
	if int64(len(data))-atrHeaderSize != dataBytes {
		return nil, uft.Geometry{}, sizeMismatch("atr", atrHeaderSize+dataBytes, int64(len(data)))
	}

	var count int64
	if sectorSize == 128 {
		count = dataBytes / 128
	} else {
		// Three short boot sectors, then full-size sectors.
		if dataBytes < atrBootBytes {
			return nil, uft.Geometry{}, uft.ErrCorruptImage.WithMessage("ATR too short for boot sectors")
		}
		count = 3 + (dataBytes-atrBootBytes)/int64(sectorSize)
	}

	state := &atrState{
		data:        data,
		sectorSize:  sectorSize,
		sectorCount: uint(count),
		writeProt:   flags&0x01 != 0,
	}

	geometry := atrGeometry(uint(count), sectorSize)
	return state, geometry, nil
}

// atrGeometry maps the linear sector count onto the classic drive layouts:
// 18 sectors per track (810/1050 SD and DD) or 26 (1050 enhanced density).
// Odd counts degrade to one long track rather than being rejected.
func atrGeometry(count, sectorSize uint) uft.Geometry {
	for _, spt := range []uint{18, 26} {
		if count%spt == 0 && count/spt <= maxATRTracks {
			return uft.Geometry{
				Cylinders:       count / spt,
				Heads:           1,
				SectorsPerTrack: spt,
				SectorSize:      sectorSize,
			}
		}
	}
	return uft.Geometry{Cylinders: 1, Heads: 1, SectorsPerTrack: count, SectorSize: sectorSize}
}

const maxATRTracks = 80

type atrOps struct{}

func (atrOps) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	state := img.State().(*atrState)
	g := img.Geometry

	track := &uft.Track{
		Cylinder: cylinder,
		Head:     head,
		Status:   uft.TrackOK,
		Encoding: uft.EncodingFM,
	}
	for i := uint(0); i < g.SectorsPerTrack; i++ {
		number := cylinder*g.SectorsPerTrack + i + 1
		offset, size := state.atrSectorOffset(number)
		buf, err := binutil.Slice(state.data, offset, int64(size))
		if err != nil {
			return nil, uft.ErrCorruptImage.Wrap(err)
		}
		data := make([]byte, size)
		copy(data, buf)
		track.Sectors = append(track.Sectors, &uft.Sector{
			ID: uft.SectorID{
				Cylinder: uint8(cylinder),
				Head:     0,
				Sector:   uint8(i + 1),
				SizeCode: uint8(uft.SectorSizeCode(size)),
				CRCOK:    true,
			},
			Data: data,
		})
	}
	return track, nil
}

func (atrOps) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError {
	if err := checkWritable(img); err != nil {
		return err
	}
	state := img.State().(*atrState)
	g := img.Geometry

	for _, sector := range track.Sectors {
		if sector.ID.Sector < 1 || uint(sector.ID.Sector) > g.SectorsPerTrack {
			return uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"sector id %d outside track", sector.ID.Sector))
		}
		number := track.Cylinder*g.SectorsPerTrack + uint(sector.ID.Sector)
		offset, size := state.atrSectorOffset(number)
		if sector.Size() != size {
			return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"sector %d is %d bytes, slot holds %d", number, sector.Size(), size))
		}
		dst, err := binutil.Slice(state.data, offset, int64(size))
		if err != nil {
			return uft.ErrCorruptImage.Wrap(err)
		}
		copy(dst, sector.Data)
	}
	return nil
}

func (atrOps) Flush(img *uft.DiskImage) uft.DriverError {
	state := img.State().(*atrState)
	return writeImage(img.Stream(), state.data)
}

func (p *ATRPlugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	state, geometry, err := p.parse(data)
	if err != nil {
		return nil, err
	}
	if state.writeProt {
		readOnly = true
	}
	return uft.NewDiskImage(p.ID(), geometry, stream, atrOps{}, state, readOnly), nil
}

func (p *ATRPlugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	if geometry.Heads != 1 || (geometry.SectorSize != 128 && geometry.SectorSize != 256) {
		return nil, uft.ErrInvalidArgument.WithMessage(
			"ATR images are single-sided with 128- or 256-byte sectors")
	}

	count := geometry.Cylinders * geometry.SectorsPerTrack
	var dataBytes int64
	if geometry.SectorSize == 128 {
		dataBytes = int64(count) * 128
	} else {
		dataBytes = atrBootBytes + int64(count-3)*int64(geometry.SectorSize)
	}

	data := make([]byte, atrHeaderSize+dataBytes)
	binary.LittleEndian.PutUint16(data[0:], atrMagic)
	paragraphs := dataBytes / 16
	binary.LittleEndian.PutUint16(data[2:], uint16(paragraphs&0xFFFF))
	binary.LittleEndian.PutUint16(data[4:], uint16(geometry.SectorSize))
	data[6] = byte(paragraphs >> 16)

	state := &atrState{data: data, sectorSize: geometry.SectorSize, sectorCount: count}
	img := uft.NewDiskImage(p.ID(), geometry, stream, atrOps{}, state, false)
	img.Modified = true
	if err := img.Flush(); err != nil {
		return nil, err
	}
	return img, nil
}
