package formats

import (
	"encoding/binary"
	"fmt"

	"github.com/retrofloppy/uft"
)

// ATX (VAPI): timing-accurate Atari 8-bit images built for copy-protection
// preservation. Every physical sector read is kept, including phantoms and
// duplicates, together with its FDC status, angular position and optional
// weak-bit region.

const (
	atxSignature  = "AT8X"
	atxHeaderSize = 48

	atxChunkTrackHeader = 0x0000
	atxChunkSectorList  = 0x0001
	atxChunkSectorData  = 0x0002
	atxChunkWeakBits    = 0x0010

	atxTrackChunkSize  = 24
	atxSectorHdrSize   = 12
	atxWeakChunkSize   = 16
	atxTrackFlagMFM    = 0x0002
	atxTimingUnitsPerRev = 26042 // 8 microsecond units at 288 RPM

	atxFDCLostData = 0x04
	atxFDCCRCError = 0x08
	atxFDCNotFound = 0x10
	atxFDCDeleted  = 0x20
)

type atxSector struct {
	number     uint8
	status     uint8
	timing     uint16
	data       []byte
	weakOffset uint16
	weakCount  uint16
	hasWeak    bool
}

type atxTrack struct {
	number  uint8
	side    uint8
	rate    uint16
	flags   uint16
	sectors []atxSector
}

func (t *atxTrack) sectorSize() uint {
	if t.flags&atxTrackFlagMFM != 0 {
		return 256
	}
	return 128
}

type atxState struct {
	density   uint8
	imageType uint16
	tracks    []*atxTrack
}

func (s *atxState) find(cylinder, head uint) *atxTrack {
	for _, t := range s.tracks {
		if uint(t.number) == cylinder && uint(t.side) == head {
			return t
		}
	}
	return nil
}

func atxStatus(fdc uint8) uft.SectorStatus {
	var status uft.SectorStatus
	if fdc&atxFDCCRCError != 0 {
		status |= uft.SectorCRCError
	}
	if fdc&atxFDCLostData != 0 {
		status |= uft.SectorCRCError
	}
	if fdc&atxFDCNotFound != 0 {
		status |= uft.SectorMissing
	}
	if fdc&atxFDCDeleted != 0 {
		status |= uft.SectorDeletedDM
	}
	return status
}

func atxFDC(status uft.SectorStatus) uint8 {
	var fdc uint8
	if status&uft.SectorCRCError != 0 {
		fdc |= atxFDCCRCError
	}
	if status&uft.SectorMissing != 0 {
		fdc |= atxFDCNotFound
	}
	if status&uft.SectorDeletedDM != 0 {
		fdc |= atxFDCDeleted
	}
	return fdc
}

type ATXPlugin struct{}

func NewATXPlugin() *ATXPlugin { return &ATXPlugin{} }

func (p *ATXPlugin) ID() uft.FormatID     { return "atx" }
func (p *ATXPlugin) Name() string         { return "Atari ATX" }
func (p *ATXPlugin) Extensions() []string { return []string{"atx"} }

func (p *ATXPlugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapErrorMap | uft.CapWeakBits | uft.CapTiming
}

func (p *ATXPlugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if len(header) < atxHeaderSize || string(header[:4]) != atxSignature {
		return uft.ProbeResult{}
	}
	return uft.ProbeResult{Matched: true, Confidence: 100}
}

func (p *ATXPlugin) parse(data []byte) (*atxState, uft.DriverError) {
	if len(data) < atxHeaderSize || string(data[:4]) != atxSignature {
		return nil, uft.ErrFormatMismatch.WithMessage("bad ATX signature")
	}
	state := &atxState{
		imageType: binary.LittleEndian.Uint16(data[20:]),
		density:   data[22],
	}
	start := int64(binary.LittleEndian.Uint32(data[28:]))
	end := int64(binary.LittleEndian.Uint32(data[32:]))
	if start < atxHeaderSize || end > int64(len(data)) || start > end {
		return nil, uft.ErrCorruptImage.WithMessage("ATX track extent outside the file")
	}

	pos := start
	for pos+8 <= end {
		recordSize := int64(binary.LittleEndian.Uint32(data[pos:]))
		recordType := binary.LittleEndian.Uint16(data[pos+4:])
		if recordSize < 8 || pos+recordSize > end {
			return nil, uft.ErrCorruptImage.WithMessage("ATX record overruns the file")
		}
		if recordType == atxChunkTrackHeader {
			track, err := parseATXTrack(data[pos : pos+recordSize])
			if err != nil {
				return nil, err
			}
			state.tracks = append(state.tracks, track)
		}
		pos += recordSize
	}
	if len(state.tracks) == 0 {
		return nil, uft.ErrCorruptImage.WithMessage("ATX contains no tracks")
	}
	return state, nil
}

// parseATXTrack decodes one track record. Sector data offsets are relative
// to the start of the record.
func parseATXTrack(record []byte) (*atxTrack, uft.DriverError) {
	if len(record) < atxTrackChunkSize {
		return nil, uft.ErrCorruptImage.WithMessage("ATX track record too short")
	}
	track := &atxTrack{
		number: record[8],
		side:   record[9],
		rate:   binary.LittleEndian.Uint16(record[12:]),
		flags:  binary.LittleEndian.Uint16(record[14:]),
	}
	count := int(binary.LittleEndian.Uint16(record[10:]))

	pos := atxTrackChunkSize
	for pos+8 <= len(record) {
		chunkSize := int(binary.LittleEndian.Uint32(record[pos:]))
		chunkType := binary.LittleEndian.Uint16(record[pos+4:])
		if chunkSize < 8 || pos+chunkSize > len(record) {
			return nil, uft.ErrCorruptImage.WithMessage("ATX chunk overruns its track record")
		}
		switch chunkType {
		case atxChunkSectorList:
			if chunkSize < 8+count*atxSectorHdrSize {
				return nil, uft.ErrCorruptImage.WithMessage("ATX sector list too short")
			}
			for i := 0; i < count; i++ {
				hdr := record[pos+8+i*atxSectorHdrSize:]
				sector := atxSector{
					number: hdr[0],
					status: hdr[1],
					timing: binary.LittleEndian.Uint16(hdr[2:]),
				}
				dataOffset := int(binary.LittleEndian.Uint32(hdr[4:]))
				dataSize := int(binary.LittleEndian.Uint32(hdr[8:]))
				if dataSize > 0 {
					if dataOffset < 0 || dataOffset+dataSize > len(record) {
						return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
							"sector %d data outside track record", sector.number))
					}
					sector.data = make([]byte, dataSize)
					copy(sector.data, record[dataOffset:])
				}
				track.sectors = append(track.sectors, sector)
			}
		case atxChunkWeakBits:
			if chunkSize < atxWeakChunkSize {
				return nil, uft.ErrCorruptImage.WithMessage("ATX weak chunk too short")
			}
			index := int(binary.LittleEndian.Uint16(record[pos+8:]))
			if index >= len(track.sectors) {
				return nil, uft.ErrCorruptImage.WithMessage("ATX weak chunk names a missing sector")
			}
			track.sectors[index].hasWeak = true
			track.sectors[index].weakOffset = binary.LittleEndian.Uint16(record[pos+10:])
			track.sectors[index].weakCount = binary.LittleEndian.Uint16(record[pos+12:])
		}
		pos += chunkSize
	}
	return track, nil
}

func atxGeometry(state *atxState) uft.Geometry {
	g := uft.Geometry{Heads: 1, SectorSize: 128}
	for _, t := range state.tracks {
		if uint(t.number)+1 > g.Cylinders {
			g.Cylinders = uint(t.number) + 1
		}
		if uint(t.side)+1 > g.Heads {
			g.Heads = uint(t.side) + 1
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

type atxOps struct{}

func (atxOps) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	state := img.State().(*atxState)
	record := state.find(cylinder, head)
	if record == nil {
		return &uft.Track{Cylinder: cylinder, Head: head, Status: uft.TrackUnformatted}, nil
	}

	encoding := uft.EncodingFM
	if record.flags&atxTrackFlagMFM != 0 {
		encoding = uft.EncodingMFM
	}
	track := &uft.Track{
		Cylinder: cylinder,
		Head:     head,
		Status:   uft.TrackOK,
		Encoding: encoding,
		RPM:      288,
	}
	size := record.sectorSize()

	seen := map[uint8]int{}
	for _, s := range record.sectors {
		status := atxStatus(s.status)
		// Every physical occurrence is preserved; repeats of a sector
		// number are protection artifacts, not noise.
		seen[s.number]++
		if seen[s.number] > 1 {
			status |= uft.SectorDuplicateID | uft.SectorPhantom
		}
		sector := &uft.Sector{
			ID: uft.SectorID{
				Cylinder: record.number,
				Head:     record.side,
				Sector:   s.number,
				SizeCode: uint8(uft.SectorSizeCode(size)),
				CRCOK:    status&uft.SectorCRCError == 0,
			},
			Status: status,
		}
		sector.Data = make([]byte, size)
		copy(sector.Data, s.data)
		if len(s.data) == 0 {
			sector.Status |= uft.SectorMissing
		}
		if s.hasWeak {
			sector.Status |= uft.SectorWeakBits
			// Mask bit 1 means "read consistently", so the weak span is the
			// part that gets cleared.
			sector.WeakMask = make([]byte, size)
			for i := range sector.WeakMask {
				sector.WeakMask[i] = 0xFF
			}
			for i := uint16(0); i < s.weakCount && int(s.weakOffset+i) < int(size); i++ {
				sector.WeakMask[s.weakOffset+i] = 0x00
			}
		}
		if sector.Status&uft.SectorMissing != 0 {
			track.Status = uft.TrackPartial
		}
		track.Sectors = append(track.Sectors, sector)
	}
	return track, nil
}

func (atxOps) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError {
	if err := checkWritable(img); err != nil {
		return err
	}
	state := img.State().(*atxState)
	record := state.find(track.Cylinder, track.Head)
	if record == nil {
		return uft.ErrNotSupported.WithMessage("cannot add tracks to an existing ATX image")
	}
	size := record.sectorSize()

	// Phantoms make sector numbers ambiguous, so writes go by position when
	// counts match and by first-occurrence number otherwise.
	for i, sector := range track.Sectors {
		var slot *atxSector
		if len(track.Sectors) == len(record.sectors) {
			slot = &record.sectors[i]
		} else {
			for j := range record.sectors {
				if record.sectors[j].number == sector.ID.Sector {
					slot = &record.sectors[j]
					break
				}
			}
		}
		if slot == nil {
			return uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"no sector %d on track (%d, %d)", sector.ID.Sector, track.Cylinder, track.Head))
		}
		if sector.Size() != size {
			return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"sector %d is %d bytes, track stores %d", sector.ID.Sector, sector.Size(), size))
		}
		slot.data = make([]byte, size)
		copy(slot.data, sector.Data)
		slot.status = atxFDC(sector.Status)

		slot.hasWeak = false
		slot.weakOffset, slot.weakCount = 0, 0
		if sector.Status&uft.SectorWeakBits != 0 && sector.WeakMask != nil {
			if offset, count, ok := weakSpan(sector.WeakMask); ok {
				slot.hasWeak = true
				slot.weakOffset, slot.weakCount = offset, count
			}
		}
	}
	return nil
}

// weakSpan reduces a weak mask to the one contiguous byte span the ATX weak
// chunk can express: first unreliable byte through the last.
func weakSpan(mask []byte) (offset, count uint16, ok bool) {
	first, last := -1, -1
	for i, m := range mask {
		if m != 0xFF {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return 0, 0, false
	}
	return uint16(first), uint16(last - first + 1), true
}

func (atxOps) Flush(img *uft.DiskImage) uft.DriverError {
	state := img.State().(*atxState)

	out := make([]byte, atxHeaderSize)
	copy(out, atxSignature)
	binary.LittleEndian.PutUint16(out[4:], 0x0100)
	binary.LittleEndian.PutUint16(out[6:], 0x0100)
	binary.LittleEndian.PutUint16(out[20:], state.imageType)
	out[22] = state.density
	binary.LittleEndian.PutUint32(out[28:], atxHeaderSize)

	for _, t := range state.tracks {
		out = append(out, serializeATXTrack(t)...)
	}
	binary.LittleEndian.PutUint32(out[32:], uint32(len(out)))
	return writeImage(img.Stream(), out)
}

func serializeATXTrack(t *atxTrack) []byte {
	listSize := 8 + len(t.sectors)*atxSectorHdrSize
	record := make([]byte, atxTrackChunkSize+listSize)
	binary.LittleEndian.PutUint16(record[4:], atxChunkTrackHeader)
	record[8] = t.number
	record[9] = t.side
	binary.LittleEndian.PutUint16(record[10:], uint16(len(t.sectors)))
	binary.LittleEndian.PutUint16(record[12:], t.rate)
	binary.LittleEndian.PutUint16(record[14:], t.flags)

	list := record[atxTrackChunkSize:]
	binary.LittleEndian.PutUint32(list[0:], uint32(listSize))
	binary.LittleEndian.PutUint16(list[4:], atxChunkSectorList)

	// Reserve header slots first; data and weak chunks follow, so offsets
	// are only known after the fixed part is sized.
	type pending struct{ headerAt int }
	slots := make([]pending, len(t.sectors))
	for i, s := range t.sectors {
		at := atxTrackChunkSize + 8 + i*atxSectorHdrSize
		slots[i] = pending{headerAt: at}
		record[at] = s.number
		record[at+1] = s.status
		binary.LittleEndian.PutUint16(record[at+2:], s.timing)
	}

	for i, s := range t.sectors {
		if len(s.data) == 0 {
			continue
		}
		dataChunk := make([]byte, 8+len(s.data))
		binary.LittleEndian.PutUint32(dataChunk[0:], uint32(len(dataChunk)))
		binary.LittleEndian.PutUint16(dataChunk[4:], atxChunkSectorData)
		copy(dataChunk[8:], s.data)
		binary.LittleEndian.PutUint32(record[slots[i].headerAt+4:], uint32(len(record)+8))
		binary.LittleEndian.PutUint32(record[slots[i].headerAt+8:], uint32(len(s.data)))
		record = append(record, dataChunk...)
	}
	for i, s := range t.sectors {
		if !s.hasWeak {
			continue
		}
		weak := make([]byte, atxWeakChunkSize)
		binary.LittleEndian.PutUint32(weak[0:], atxWeakChunkSize)
		binary.LittleEndian.PutUint16(weak[4:], atxChunkWeakBits)
		binary.LittleEndian.PutUint16(weak[8:], uint16(i))
		binary.LittleEndian.PutUint16(weak[10:], s.weakOffset)
		binary.LittleEndian.PutUint16(weak[12:], s.weakCount)
		record = append(record, weak...)
	}

	binary.LittleEndian.PutUint32(record[0:], uint32(len(record)))
	return record
}

func (p *ATXPlugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	state, err := p.parse(data)
	if err != nil {
		return nil, err
	}
	return uft.NewDiskImage(p.ID(), atxGeometry(state), stream, atxOps{}, state, readOnly), nil
}

func (p *ATXPlugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	return nil, uft.ErrNotSupported.WithMessage("ATX images are produced by preservation capture, not created blank")
}
