package formats

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/retrofloppy/uft"
)

// PC-88/PC-98 D88 image: a 688-byte header holding the disk name, a
// write-protect flag, the media type and 164 track pointers, followed by
// per-track runs of 16-byte sector headers plus data. The FDC result of the
// original read is preserved in each sector header's status byte.

const (
	d88NameSize     = 17
	d88TrackSlots   = 164
	d88HeaderSize   = 0x20 + d88TrackSlots*4
	d88WriteProtect = 0x10

	d88StatusOK        = 0x00
	d88StatusDeleted   = 0x10
	d88StatusIDCRC     = 0xA0
	d88StatusDataCRC   = 0xB0
	d88StatusNoAddress = 0xE0
	d88StatusNoData    = 0xF0
)

type d88Sector struct {
	c, h, r, n uint8
	density    uint8
	deleted    uint8
	fdcStatus  uint8
	data       []byte
}

type d88State struct {
	name      string
	writeProt bool
	mediaType uint8
	sides     uint

	// Indexed by track slot; nil slots are unformatted.
	tracks [d88TrackSlots][]d88Sector
}

func (s *d88State) slot(cylinder, head uint) int {
	if s.sides == 1 {
		return int(cylinder)
	}
	return int(cylinder*2 + head)
}

func d88Status(fdc uint8, deleted uint8) uft.SectorStatus {
	var status uft.SectorStatus
	switch fdc {
	case d88StatusIDCRC:
		status |= uft.SectorIDCRCError
	case d88StatusDataCRC:
		status |= uft.SectorCRCError
	case d88StatusNoAddress, d88StatusNoData:
		status |= uft.SectorMissing
	}
	if deleted != 0 || fdc == d88StatusDeleted {
		status |= uft.SectorDeletedDM
	}
	return status
}

func d88FDCStatus(status uft.SectorStatus) (fdc, deleted uint8) {
	if status&uft.SectorDeletedDM != 0 {
		deleted = d88StatusDeleted
	}
	switch {
	case status&uft.SectorMissing != 0:
		return d88StatusNoData, deleted
	case status&uft.SectorCRCError != 0:
		return d88StatusDataCRC, deleted
	case status&uft.SectorIDCRCError != 0:
		return d88StatusIDCRC, deleted
	}
	return d88StatusOK, deleted
}

type D88Plugin struct{}

func NewD88Plugin() *D88Plugin { return &D88Plugin{} }

func (p *D88Plugin) ID() uft.FormatID     { return "d88" }
func (p *D88Plugin) Name() string         { return "PC-98 D88" }
func (p *D88Plugin) Extensions() []string { return []string{"d88", "88d", "d77"} }

func (p *D88Plugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapErrorMap
}

func (p *D88Plugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if len(header) < 0x20 || fileSize < d88HeaderSize {
		return uft.ProbeResult{}
	}
	// No magic; validate the fields that have small legal ranges.
	if header[0x1A] != 0 && header[0x1A] != d88WriteProtect {
		return uft.ProbeResult{}
	}
	switch header[0x1B] {
	case 0x00, 0x10, 0x20, 0x30, 0x40:
	default:
		return uft.ProbeResult{}
	}
	declared := int64(binary.LittleEndian.Uint32(header[0x1C:]))
	if declared != fileSize {
		return uft.ProbeResult{}
	}
	return uft.ProbeResult{Matched: true, Confidence: 80}
}

func (p *D88Plugin) parse(data []byte) (*d88State, uft.DriverError) {
	if len(data) < d88HeaderSize {
		return nil, uft.ErrFormatMismatch.WithMessage("file shorter than D88 header")
	}
	declared := int64(binary.LittleEndian.Uint32(data[0x1C:]))
	if declared != int64(len(data)) {
		return nil, sizeMismatch("d88", declared, int64(len(data)))
	}

	state := &d88State{
		name:      strings.TrimRight(string(data[:d88NameSize]), "\x00"),
		writeProt: data[0x1A] == d88WriteProtect,
		mediaType: data[0x1B],
		sides:     1,
	}

	for slot := 0; slot < d88TrackSlots; slot++ {
		offset := int64(binary.LittleEndian.Uint32(data[0x20+slot*4:]))
		if offset == 0 {
			continue
		}
		if offset < d88HeaderSize || offset >= int64(len(data)) {
			return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
				"track slot %d points outside the file", slot))
		}
		if slot%2 == 1 {
			state.sides = 2
		}

		pos := offset
		var sectorsInTrack uint16
		for i := uint16(0); sectorsInTrack == 0 || i < sectorsInTrack; i++ {
			if pos+16 > int64(len(data)) {
				return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
					"track slot %d truncated in sector header", slot))
			}
			hdr := data[pos : pos+16]
			count := binary.LittleEndian.Uint16(hdr[4:])
			if count == 0 {
				return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
					"track slot %d declares zero sectors", slot))
			}
			if sectorsInTrack == 0 {
				sectorsInTrack = count
			}
			size := int64(binary.LittleEndian.Uint16(hdr[14:]))
			if pos+16+size > int64(len(data)) {
				return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
					"track slot %d truncated in sector data", slot))
			}
			sector := d88Sector{
				c:         hdr[0],
				h:         hdr[1],
				r:         hdr[2],
				n:         hdr[3],
				density:   hdr[6],
				deleted:   hdr[7],
				fdcStatus: hdr[8],
				data:      make([]byte, size),
			}
			copy(sector.data, data[pos+16:])
			pos += 16 + size
			state.tracks[slot] = append(state.tracks[slot], sector)
		}
	}
	return state, nil
}

func d88Geometry(state *d88State) uft.Geometry {
	g := uft.Geometry{Heads: state.sides, SectorSize: 128}
	for slot, sectors := range state.tracks {
		if sectors == nil {
			continue
		}
		cylinder := uint(slot)
		if state.sides == 2 {
			cylinder = uint(slot) / 2
		}
		if cylinder+1 > g.Cylinders {
			g.Cylinders = cylinder + 1
		}
		if uint(len(sectors)) > g.SectorsPerTrack {
			g.SectorsPerTrack = uint(len(sectors))
		}
		for _, s := range sectors {
			if size := uint(len(s.data)); size > g.SectorSize {
				g.SectorSize = size
			}
		}
	}
	return g
}

type d88Ops struct{}

func (d88Ops) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	state := img.State().(*d88State)
	slot := state.slot(cylinder, head)
	if slot >= d88TrackSlots || state.tracks[slot] == nil {
		return &uft.Track{Cylinder: cylinder, Head: head, Status: uft.TrackUnformatted}, nil
	}

	track := &uft.Track{
		Cylinder: cylinder,
		Head:     head,
		Status:   uft.TrackOK,
		Encoding: uft.EncodingMFM,
	}
	for _, s := range state.tracks[slot] {
		if s.density == 0x40 {
			track.Encoding = uft.EncodingFM
		}
		status := d88Status(s.fdcStatus, s.deleted)
		if status&uft.SectorMissing != 0 {
			track.Status = uft.TrackPartial
		}
		data := make([]byte, len(s.data))
		copy(data, s.data)
		track.Sectors = append(track.Sectors, &uft.Sector{
			ID: uft.SectorID{
				Cylinder: s.c,
				Head:     s.h,
				Sector:   s.r,
				SizeCode: s.n,
				CRCOK:    status&(uft.SectorCRCError|uft.SectorIDCRCError) == 0,
			},
			Data:   data,
			Status: status,
		})
	}
	return track, nil
}

func (d88Ops) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError {
	if err := checkWritable(img); err != nil {
		return err
	}
	state := img.State().(*d88State)
	slot := state.slot(track.Cylinder, track.Head)
	if slot >= d88TrackSlots || state.tracks[slot] == nil {
		return uft.ErrNotSupported.WithMessage("cannot add tracks to an existing D88 image")
	}

	for _, sector := range track.Sectors {
		var found *d88Sector
		for i := range state.tracks[slot] {
			if state.tracks[slot][i].r == sector.ID.Sector {
				found = &state.tracks[slot][i]
				break
			}
		}
		if found == nil {
			return uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"no sector %d on track (%d, %d)", sector.ID.Sector, track.Cylinder, track.Head))
		}
		if sector.Size() != uint(len(found.data)) {
			return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"sector %d is %d bytes, slot holds %d",
				sector.ID.Sector, sector.Size(), len(found.data)))
		}
		copy(found.data, sector.Data)
		found.fdcStatus, found.deleted = d88FDCStatus(sector.Status)
	}
	return nil
}

func (d88Ops) Flush(img *uft.DiskImage) uft.DriverError {
	state := img.State().(*d88State)

	out := make([]byte, d88HeaderSize)
	copy(out[:d88NameSize], state.name)
	if state.writeProt {
		out[0x1A] = d88WriteProtect
	}
	out[0x1B] = state.mediaType

	for slot := 0; slot < d88TrackSlots; slot++ {
		sectors := state.tracks[slot]
		if sectors == nil {
			continue
		}
		binary.LittleEndian.PutUint32(out[0x20+slot*4:], uint32(len(out)))
		for _, s := range sectors {
			hdr := make([]byte, 16)
			hdr[0], hdr[1], hdr[2], hdr[3] = s.c, s.h, s.r, s.n
			binary.LittleEndian.PutUint16(hdr[4:], uint16(len(sectors)))
			hdr[6] = s.density
			hdr[7] = s.deleted
			hdr[8] = s.fdcStatus
			binary.LittleEndian.PutUint16(hdr[14:], uint16(len(s.data)))
			out = append(out, hdr...)
			out = append(out, s.data...)
		}
	}
	binary.LittleEndian.PutUint32(out[0x1C:], uint32(len(out)))
	return writeImage(img.Stream(), out)
}

func (d88Ops) ReadMetadata(img *uft.DiskImage, key string) (string, bool) {
	if key != "name" {
		return "", false
	}
	return img.State().(*d88State).name, true
}

func (d88Ops) WriteMetadata(img *uft.DiskImage, key, value string) uft.DriverError {
	if key != "name" {
		return uft.ErrNotSupported.WithMessage("D88 carries only a disk name")
	}
	if len(value) >= d88NameSize {
		return uft.ErrInvalidArgument.WithMessage("D88 disk names hold at most 16 bytes")
	}
	img.State().(*d88State).name = value
	img.Modified = true
	return nil
}

func (p *D88Plugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	state, err := p.parse(data)
	if err != nil {
		return nil, err
	}
	if state.writeProt {
		readOnly = true
	}
	return uft.NewDiskImage(p.ID(), d88Geometry(state), stream, d88Ops{}, state, readOnly), nil
}

func (p *D88Plugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	return nil, uft.ErrNotSupported.WithMessage("D88 images are produced by conversion, not created blank")
}
