package formats

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/retrofloppy/uft"
)

// Amstrad CPC / Spectrum +3 DSK and its extended variant. A 256-byte disk
// info block is followed by one 256-byte track info block plus sector data
// per track. The extended form replaces the global track size with a
// one-byte-per-track size table and records each sector's true stored
// length, which is how copy-protected oversized sectors survive.

const (
	cpcDiskInfoSize  = 256
	cpcTrackInfoSize = 256

	cpcSignature  = "MV - CPC"
	edskSignature = "EXTENDED"
	cpcTrackMagic = "Track-Info"
)

type cpcSector struct {
	track    uint8
	side     uint8
	id       uint8
	sizeCode uint8
	st1, st2 uint8
	data     []byte
}

type cpcTrack struct {
	track    uint8
	side     uint8
	sizeCode uint8
	gap3     uint8
	filler   uint8
	sectors  []cpcSector
}

type cpcState struct {
	extended bool
	creator  string
	tracks   []*cpcTrack
	sides    uint
}

func (s *cpcState) find(cylinder, head uint) *cpcTrack {
	for _, t := range s.tracks {
		if uint(t.track) == cylinder && uint(t.side) == head {
			return t
		}
	}
	return nil
}

// cpcStatus translates the stored FDC ST1/ST2 register pair. A data-error
// flag without the data-field bit means the id field failed its CRC.
func cpcStatus(st1, st2 uint8) uft.SectorStatus {
	var status uft.SectorStatus
	if st1&0x20 != 0 {
		if st2&0x20 != 0 {
			status |= uft.SectorCRCError
		} else {
			status |= uft.SectorIDCRCError
		}
	}
	if st2&0x40 != 0 {
		status |= uft.SectorDeletedDM
	}
	if st1&0x05 != 0 || st2&0x01 != 0 {
		status |= uft.SectorMissing
	}
	return status
}

func cpcRegisters(status uft.SectorStatus) (st1, st2 uint8) {
	if status&uft.SectorCRCError != 0 {
		st1 |= 0x20
		st2 |= 0x20
	}
	if status&uft.SectorIDCRCError != 0 {
		st1 |= 0x20
	}
	if status&uft.SectorDeletedDM != 0 {
		st2 |= 0x40
	}
	if status&uft.SectorMissing != 0 {
		st1 |= 0x04
	}
	return st1, st2
}

type CPCDSKPlugin struct{}

func NewCPCDSKPlugin() *CPCDSKPlugin { return &CPCDSKPlugin{} }

func (p *CPCDSKPlugin) ID() uft.FormatID     { return "cpcdsk" }
func (p *CPCDSKPlugin) Name() string         { return "Amstrad CPC DSK" }
func (p *CPCDSKPlugin) Extensions() []string { return []string{"dsk"} }

func (p *CPCDSKPlugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapErrorMap
}

func (p *CPCDSKPlugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if len(header) < 8 {
		return uft.ProbeResult{}
	}
	sig := string(header[:8])
	if sig != cpcSignature && sig != edskSignature {
		return uft.ProbeResult{}
	}
	return uft.ProbeResult{Matched: true, Confidence: 95}
}

func (p *CPCDSKPlugin) parse(data []byte) (*cpcState, uft.DriverError) {
	if len(data) < cpcDiskInfoSize {
		return nil, uft.ErrFormatMismatch.WithMessage("file shorter than DSK disk info block")
	}
	state := &cpcState{
		extended: string(data[:8]) == edskSignature,
		creator:  strings.TrimRight(string(data[34:48]), "\x00 "),
	}
	if !state.extended && string(data[:8]) != cpcSignature {
		return nil, uft.ErrFormatMismatch.WithMessage("bad DSK signature")
	}

	trackCount := int(data[48])
	state.sides = uint(data[49])
	if trackCount == 0 || trackCount > 86 || state.sides == 0 || state.sides > 2 {
		return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"implausible DSK layout: %d tracks, %d sides", trackCount, state.sides))
	}

	// Per-track byte size: a flat LE16 for plain DSK, a one-byte table
	// (units of 256) for EDSK. A zero table entry is an unformatted track.
	sizeOf := func(i int) int {
		if state.extended {
			return int(data[52+i]) * 256
		}
		return int(binary.LittleEndian.Uint16(data[50:]))
	}
	if state.extended && 52+trackCount*int(state.sides) > cpcDiskInfoSize {
		return nil, uft.ErrCorruptImage.WithMessage("EDSK track size table overruns the disk info block")
	}

	pos := cpcDiskInfoSize
	for i := 0; i < trackCount*int(state.sides); i++ {
		trackBytes := sizeOf(i)
		if trackBytes == 0 {
			continue
		}
		if pos+cpcTrackInfoSize > len(data) {
			return nil, uft.ErrCorruptImage.WithMessage("DSK truncated in track info block")
		}
		info := data[pos : pos+cpcTrackInfoSize]
		if !strings.HasPrefix(string(info[:12]), cpcTrackMagic) {
			return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
				"track record %d lacks the Track-Info header", i))
		}
		track := &cpcTrack{
			track:    info[16],
			side:     info[17],
			sizeCode: info[20],
			gap3:     info[22],
			filler:   info[23],
		}
		count := int(info[21])
		if 24+count*8 > cpcTrackInfoSize {
			return nil, uft.ErrCorruptImage.WithMessage("too many sectors in track info block")
		}

		dataPos := pos + cpcTrackInfoSize
		for s := 0; s < count; s++ {
			entry := info[24+s*8 : 24+s*8+8]
			sector := cpcSector{
				track:    entry[0],
				side:     entry[1],
				id:       entry[2],
				sizeCode: entry[3],
				st1:      entry[4],
				st2:      entry[5],
			}
			stored := 128 << sector.sizeCode
			if state.extended {
				stored = int(binary.LittleEndian.Uint16(entry[6:]))
			}
			if dataPos+stored > len(data) {
				return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
					"sector %d on track record %d overruns the file", sector.id, i))
			}
			sector.data = make([]byte, stored)
			copy(sector.data, data[dataPos:])
			dataPos += stored
			track.sectors = append(track.sectors, sector)
		}
		state.tracks = append(state.tracks, track)
		pos += trackBytes
	}
	if len(state.tracks) == 0 {
		return nil, uft.ErrCorruptImage.WithMessage("DSK contains no formatted tracks")
	}
	return state, nil
}

func cpcGeometry(state *cpcState) uft.Geometry {
	g := uft.Geometry{Heads: state.sides, SectorSize: 128}
	for _, t := range state.tracks {
		if uint(t.track)+1 > g.Cylinders {
			g.Cylinders = uint(t.track) + 1
		}
		if uint(len(t.sectors)) > g.SectorsPerTrack {
			g.SectorsPerTrack = uint(len(t.sectors))
		}
		for _, s := range t.sectors {
			if size := uint(128) << s.sizeCode; size > g.SectorSize {
				g.SectorSize = size
			}
		}
	}
	return g
}

type cpcOps struct{}

func (cpcOps) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	state := img.State().(*cpcState)
	record := state.find(cylinder, head)
	if record == nil {
		return &uft.Track{Cylinder: cylinder, Head: head, Status: uft.TrackUnformatted}, nil
	}

	track := &uft.Track{
		Cylinder: cylinder,
		Head:     head,
		Status:   uft.TrackOK,
		Encoding: uft.EncodingMFM,
	}
	for _, s := range record.sectors {
		status := cpcStatus(s.st1, s.st2)
		if status&uft.SectorMissing != 0 {
			track.Status = uft.TrackPartial
		}
		data := make([]byte, len(s.data))
		copy(data, s.data)
		track.Sectors = append(track.Sectors, &uft.Sector{
			ID: uft.SectorID{
				Cylinder: s.track,
				Head:     s.side,
				Sector:   s.id,
				SizeCode: s.sizeCode,
				CRCOK:    status&(uft.SectorCRCError|uft.SectorIDCRCError) == 0,
			},
			Data:   data,
			Status: status,
		})
	}
	return track, nil
}

func (cpcOps) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError {
	if err := checkWritable(img); err != nil {
		return err
	}
	state := img.State().(*cpcState)
	record := state.find(track.Cylinder, track.Head)
	if record == nil {
		return uft.ErrNotSupported.WithMessage("cannot add tracks to an existing DSK image")
	}

	for _, sector := range track.Sectors {
		var slot *cpcSector
		for i := range record.sectors {
			if record.sectors[i].id == sector.ID.Sector {
				slot = &record.sectors[i]
				break
			}
		}
		if slot == nil {
			return uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"no sector %d on track (%d, %d)", sector.ID.Sector, track.Cylinder, track.Head))
		}
		if sector.Size() != uint(len(slot.data)) {
			return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"sector %d is %d bytes, slot holds %d",
				sector.ID.Sector, sector.Size(), len(slot.data)))
		}
		copy(slot.data, sector.Data)
		slot.st1, slot.st2 = cpcRegisters(sector.Status)
	}
	return nil
}

// Flush always emits the extended form: it can represent everything the
// plain form can, plus oversized protected sectors.
func (cpcOps) Flush(img *uft.DiskImage) uft.DriverError {
	state := img.State().(*cpcState)

	var maxTrack uint8
	for _, t := range state.tracks {
		if t.track > maxTrack {
			maxTrack = t.track
		}
	}
	trackCount := int(maxTrack) + 1

	// Track byte sizes, in file order, zero for unformatted slots.
	sizes := make([]int, trackCount*int(state.sides))
	bodies := make([][]byte, len(sizes))
	for _, t := range state.tracks {
		body := make([]byte, cpcTrackInfoSize)
		copy(body, cpcTrackMagic+"\r\n")
		body[16] = t.track
		body[17] = t.side
		body[20] = t.sizeCode
		body[21] = byte(len(t.sectors))
		body[22] = t.gap3
		body[23] = t.filler
		for i, s := range t.sectors {
			entry := body[24+i*8 : 24+i*8+8]
			entry[0] = s.track
			entry[1] = s.side
			entry[2] = s.id
			entry[3] = s.sizeCode
			entry[4] = s.st1
			entry[5] = s.st2
			binary.LittleEndian.PutUint16(entry[6:], uint16(len(s.data)))
		}
		for _, s := range t.sectors {
			body = append(body, s.data...)
		}
		// EDSK sizes are stored in units of 256 bytes.
		if rem := len(body) % 256; rem != 0 {
			body = append(body, make([]byte, 256-rem)...)
		}
		slot := int(t.track)*int(state.sides) + int(t.side)
		sizes[slot] = len(body)
		bodies[slot] = body
	}

	out := make([]byte, cpcDiskInfoSize)
	copy(out, edskSignature+" CPC DSK File\r\nDisk-Info\r\n")
	copy(out[34:48], state.creator)
	out[48] = byte(trackCount)
	out[49] = byte(state.sides)
	for i, size := range sizes {
		out[52+i] = byte(size / 256)
	}
	for _, body := range bodies {
		out = append(out, body...)
	}
	return writeImage(img.Stream(), out)
}

func (p *CPCDSKPlugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	state, err := p.parse(data)
	if err != nil {
		return nil, err
	}
	return uft.NewDiskImage(p.ID(), cpcGeometry(state), stream, cpcOps{}, state, readOnly), nil
}

func (p *CPCDSKPlugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	return nil, uft.ErrNotSupported.WithMessage("DSK images are produced by conversion, not created blank")
}
