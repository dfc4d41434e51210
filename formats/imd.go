package formats

import (
	"fmt"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/utilities/compression"
)

// ImageDisk (IMD): an ASCII banner terminated by 0x1A, then one descriptive
// record per track. Each record carries its own mode, sector numbering and
// per-sector data type, so geometry can differ track to track; the image
// geometry reported to callers is the envelope over all records.

const imdBannerTerminator = 0x1A

// Per-sector data types. Odd types store a full sector, even non-zero types
// store a single repeated byte.
const (
	imdUnavailable         = 0x00
	imdNormal              = 0x01
	imdCompressed          = 0x02
	imdDeleted             = 0x03
	imdCompressedDeleted   = 0x04
	imdError               = 0x05
	imdCompressedError     = 0x06
	imdDeletedError        = 0x07
	imdCompressedDelErr    = 0x08
	imdHighestKnownType    = 0x08
	imdHasCylinderMap      = 0x80
	imdHasHeadMap          = 0x40
)

type imdSector struct {
	number   uint8
	cylinder uint8
	head     uint8
	dtype    byte
	data     []byte // nil when unavailable
}

type imdTrack struct {
	mode     byte
	cylinder uint8
	head     uint8
	sizeCode uint8
	sectors  []imdSector
}

func (t *imdTrack) sectorSize() uint { return 128 << t.sizeCode }

type imdState struct {
	comment string
	records []*imdTrack
}

func (s *imdState) find(cylinder, head uint) *imdTrack {
	for _, t := range s.records {
		if uint(t.cylinder) == cylinder && uint(t.head) == head {
			return t
		}
	}
	return nil
}

type IMDPlugin struct{}

func NewIMDPlugin() *IMDPlugin { return &IMDPlugin{} }

func (p *IMDPlugin) ID() uft.FormatID     { return "imd" }
func (p *IMDPlugin) Name() string         { return "ImageDisk IMD" }
func (p *IMDPlugin) Extensions() []string { return []string{"imd"} }

func (p *IMDPlugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapErrorMap
}

func (p *IMDPlugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if len(header) < 4 || string(header[:4]) != "IMD " {
		return uft.ProbeResult{}
	}
	return uft.ProbeResult{Matched: true, Confidence: 100}
}

func imdStatus(dtype byte) uft.SectorStatus {
	var status uft.SectorStatus
	switch dtype {
	case imdUnavailable:
		return uft.SectorMissing
	case imdDeleted, imdCompressedDeleted:
		status |= uft.SectorDeletedDM
	case imdError, imdCompressedError:
		status |= uft.SectorCRCError
	case imdDeletedError, imdCompressedDelErr:
		status |= uft.SectorDeletedDM | uft.SectorCRCError
	}
	return status
}

// imdDataType picks the record type for a sector on write-back, compressing
// uniform payloads the way the original imager does.
func imdDataType(sector *uft.Sector) byte {
	deleted := sector.Status&uft.SectorDeletedDM != 0
	bad := sector.Status&uft.SectorCRCError != 0
	_, uniform := compression.IsUniform(sector.Data)

	switch {
	case sector.Status&uft.SectorMissing != 0:
		return imdUnavailable
	case deleted && bad && uniform:
		return imdCompressedDelErr
	case deleted && bad:
		return imdDeletedError
	case bad && uniform:
		return imdCompressedError
	case bad:
		return imdError
	case deleted && uniform:
		return imdCompressedDeleted
	case deleted:
		return imdDeleted
	case uniform:
		return imdCompressed
	}
	return imdNormal
}

func (p *IMDPlugin) parse(data []byte) (*imdState, uft.DriverError) {
	end := -1
	for i, b := range data {
		if b == imdBannerTerminator {
			end = i
			break
		}
	}
	if end < 4 || string(data[:4]) != "IMD " {
		return nil, uft.ErrFormatMismatch.WithMessage("missing IMD banner")
	}
	state := &imdState{comment: string(data[:end])}

	pos := end + 1
	for pos < len(data) {
		if pos+5 > len(data) {
			return nil, uft.ErrCorruptImage.WithMessage("IMD truncated in track header")
		}
		mode := data[pos]
		cylinder := data[pos+1]
		headByte := data[pos+2]
		count := int(data[pos+3])
		sizeCode := data[pos+4]
		pos += 5

		if mode > 5 || sizeCode > 6 {
			return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
				"implausible IMD track: mode=%d size_code=%d", mode, sizeCode))
		}
		track := &imdTrack{
			mode:     mode,
			cylinder: cylinder,
			head:     headByte & 0x0F,
			sizeCode: sizeCode,
		}
		sectorSize := int(track.sectorSize())

		need := count
		if headByte&imdHasCylinderMap != 0 {
			need += count
		}
		if headByte&imdHasHeadMap != 0 {
			need += count
		}
		if pos+need > len(data) {
			return nil, uft.ErrCorruptImage.WithMessage("IMD truncated in sector maps")
		}
		secMap := data[pos : pos+count]
		pos += count
		var cylMap, headMap []byte
		if headByte&imdHasCylinderMap != 0 {
			cylMap = data[pos : pos+count]
			pos += count
		}
		if headByte&imdHasHeadMap != 0 {
			headMap = data[pos : pos+count]
			pos += count
		}

		for i := 0; i < count; i++ {
			sector := imdSector{
				number:   secMap[i],
				cylinder: cylinder,
				head:     track.head,
			}
			if cylMap != nil {
				sector.cylinder = cylMap[i]
			}
			if headMap != nil {
				sector.head = headMap[i]
			}

			if pos >= len(data) {
				return nil, uft.ErrCorruptImage.WithMessage("IMD truncated in sector data")
			}
			dtype := data[pos]
			pos++
			if dtype > imdHighestKnownType {
				return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
					"unknown IMD data type 0x%02X", dtype))
			}
			sector.dtype = dtype

			switch {
			case dtype == imdUnavailable:
				// No payload; the sector stays nil.
			case dtype%2 == 1: // full sector
				if pos+sectorSize > len(data) {
					return nil, uft.ErrCorruptImage.WithMessage("IMD truncated in sector data")
				}
				sector.data = make([]byte, sectorSize)
				copy(sector.data, data[pos:])
				pos += sectorSize
			default: // single repeated byte
				if pos >= len(data) {
					return nil, uft.ErrCorruptImage.WithMessage("IMD truncated in sector data")
				}
				sector.data = compression.ExpandRepeatedByte(data[pos], uint(sectorSize))
				pos++
			}
			track.sectors = append(track.sectors, sector)
		}
		state.records = append(state.records, track)
	}
	if len(state.records) == 0 {
		return nil, uft.ErrCorruptImage.WithMessage("IMD contains no tracks")
	}
	return state, nil
}

// imdGeometry is the envelope over all track records.
func imdGeometry(state *imdState) uft.Geometry {
	g := uft.Geometry{SectorSize: 128}
	for _, t := range state.records {
		if uint(t.cylinder)+1 > g.Cylinders {
			g.Cylinders = uint(t.cylinder) + 1
		}
		if uint(t.head)+1 > g.Heads {
			g.Heads = uint(t.head) + 1
		}
		if uint(len(t.sectors)) > g.SectorsPerTrack {
			g.SectorsPerTrack = uint(len(t.sectors))
		}
		if t.sectorSize() > g.SectorSize {
			g.SectorSize = t.sectorSize()
		}
	}
	return g
}

func imdEncoding(mode byte) uft.TrackEncoding {
	if mode <= 2 {
		return uft.EncodingFM
	}
	return uft.EncodingMFM
}

func imdDataRate(mode byte) float64 {
	switch mode % 3 {
	case 0:
		return 500000
	case 1:
		return 300000
	}
	return 250000
}

type imdOps struct{}

func (imdOps) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	state := img.State().(*imdState)
	record := state.find(cylinder, head)
	if record == nil {
		return &uft.Track{Cylinder: cylinder, Head: head, Status: uft.TrackUnformatted}, nil
	}

	track := &uft.Track{
		Cylinder: cylinder,
		Head:     head,
		Status:   uft.TrackOK,
		Encoding: imdEncoding(record.mode),
		DataRate: imdDataRate(record.mode),
	}
	size := record.sectorSize()
	for _, s := range record.sectors {
		status := imdStatus(s.dtype)
		sector := &uft.Sector{
			ID: uft.SectorID{
				Cylinder: s.cylinder,
				Head:     s.head,
				Sector:   s.number,
				SizeCode: record.sizeCode,
				CRCOK:    status&uft.SectorCRCError == 0,
			},
			Status: status,
		}
		if s.data == nil {
			sector.Data = make([]byte, size)
			track.Status = uft.TrackPartial
		} else {
			sector.Data = make([]byte, size)
			copy(sector.Data, s.data)
		}
		track.Sectors = append(track.Sectors, sector)
	}
	return track, nil
}

func (imdOps) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError {
	if err := checkWritable(img); err != nil {
		return err
	}
	state := img.State().(*imdState)
	record := state.find(track.Cylinder, track.Head)
	if record == nil {
		return uft.ErrNotSupported.WithMessage(
			"cannot add tracks to an existing IMD image")
	}
	size := int(record.sectorSize())

	for _, sector := range track.Sectors {
		var slot *imdSector
		for i := range record.sectors {
			if record.sectors[i].number == sector.ID.Sector {
				slot = &record.sectors[i]
				break
			}
		}
		if slot == nil {
			return uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"no sector %d on track (%d, %d)", sector.ID.Sector, track.Cylinder, track.Head))
		}
		if sector.Size() != uint(size) {
			return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"sector %d is %d bytes, track stores %d", sector.ID.Sector, sector.Size(), size))
		}
		slot.dtype = imdDataType(sector)
		if slot.dtype == imdUnavailable {
			slot.data = nil
			continue
		}
		slot.data = make([]byte, size)
		copy(slot.data, sector.Data)
	}
	return nil
}

func (imdOps) Flush(img *uft.DiskImage) uft.DriverError {
	state := img.State().(*imdState)

	var out []byte
	out = append(out, state.comment...)
	out = append(out, imdBannerTerminator)

	for _, t := range state.records {
		headByte := t.head
		for _, s := range t.sectors {
			if s.cylinder != t.cylinder {
				headByte |= imdHasCylinderMap
			}
			if s.head != t.head {
				headByte |= imdHasHeadMap
			}
		}
		out = append(out, t.mode, t.cylinder, headByte, byte(len(t.sectors)), t.sizeCode)
		for _, s := range t.sectors {
			out = append(out, s.number)
		}
		if headByte&imdHasCylinderMap != 0 {
			for _, s := range t.sectors {
				out = append(out, s.cylinder)
			}
		}
		if headByte&imdHasHeadMap != 0 {
			for _, s := range t.sectors {
				out = append(out, s.head)
			}
		}
		for _, s := range t.sectors {
			out = append(out, s.dtype)
			switch {
			case s.dtype == imdUnavailable:
			case s.dtype%2 == 0:
				out = append(out, s.data[0])
			default:
				out = append(out, s.data...)
			}
		}
	}
	return writeImage(img.Stream(), out)
}

// IMD's banner doubles as free-form metadata under the "comment" key.
func (imdOps) ReadMetadata(img *uft.DiskImage, key string) (string, bool) {
	if key != "comment" {
		return "", false
	}
	return img.State().(*imdState).comment, true
}

func (imdOps) WriteMetadata(img *uft.DiskImage, key, value string) uft.DriverError {
	if key != "comment" {
		return uft.ErrNotSupported.WithMessage("IMD carries only a comment")
	}
	state := img.State().(*imdState)
	if len(value) < 4 || value[:4] != "IMD " {
		return uft.ErrInvalidArgument.WithMessage("IMD comment must begin with the banner")
	}
	for i := 0; i < len(value); i++ {
		if value[i] == imdBannerTerminator {
			return uft.ErrInvalidArgument.WithMessage("IMD comment cannot contain 0x1A")
		}
	}
	state.comment = value
	img.Modified = true
	return nil
}

func (p *IMDPlugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	state, err := p.parse(data)
	if err != nil {
		return nil, err
	}
	return uft.NewDiskImage(p.ID(), imdGeometry(state), stream, imdOps{}, state, readOnly), nil
}

func (p *IMDPlugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	return nil, uft.ErrNotSupported.WithMessage("IMD images are produced by conversion, not created blank")
}
