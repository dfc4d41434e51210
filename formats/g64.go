package formats

import (
	"encoding/binary"
	"fmt"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/encoding"
)

// G64: raw GCR bit streams for the Commodore 1541, one stream per half-track
// slot. Sectors are recovered by walking each stream for sync marks and
// decoding header and data blocks; writes synthesize fresh streams.
//
// An optional trailing extension block records per-sector error codes and
// per-track metadata that the base format cannot carry. It is located by a
// footer in the file's final 8 bytes and is invisible to readers that do not
// know about it.

const (
	g64Signature  = "GCR-1541"
	g64HeaderSize = 12
	g64MaxSlots   = 84

	g64HeaderBlockID = 0x08
	g64DataBlockID   = 0x07

	g64ExtMagic   = "GCR-"
	g64ExtVersion = 0
)

// g64DataRates indexes data rate in bits per second by speed zone.
var g64DataRates = [4]float64{250000, 266667, 285714, 307692}

// g64ErrorEntry is one record of the extension's error table. The error code
// uses the D64 error-map values.
type g64ErrorEntry struct {
	track      uint8 // half-track slot index
	sector     uint8
	errorCode  uint8
	confidence uint8
}

type g64TrackMeta struct {
	speedZone uint8
	encoding  uint8
	quality   uint8
}

type g64State struct {
	maxTrackSize uint16
	slots        [g64MaxSlots][]byte // raw GCR bytes; nil slots hold no data
	speed        [g64MaxSlots]uint32
	halfTracks   bool
	diskID       [2]byte

	hasExtension     bool
	generateExtended bool
	errors           []g64ErrorEntry
	trackMeta        [g64MaxSlots]g64TrackMeta
}

func (s *g64State) slotFor(cylinder uint) int { return int(cylinder) * 2 }

func (s *g64State) speedZone(slot int) uint8 {
	// Entries above 3 point at per-byte speed data, which nothing modern
	// writes; fold them to the outermost zone.
	if s.speed[slot] <= 3 {
		return uint8(s.speed[slot])
	}
	return 3
}

func (s *g64State) errorsFor(slot int, sector uint8) []g64ErrorEntry {
	var out []g64ErrorEntry
	for _, e := range s.errors {
		if int(e.track) == slot && e.sector == sector {
			out = append(out, e)
		}
	}
	return out
}

type G64Plugin struct{}

func NewG64Plugin() *G64Plugin { return &G64Plugin{} }

func (p *G64Plugin) ID() uft.FormatID     { return "g64" }
func (p *G64Plugin) Name() string         { return "Commodore G64" }
func (p *G64Plugin) Extensions() []string { return []string{"g64"} }

func (p *G64Plugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapCreate | uft.CapErrorMap | uft.CapTiming
}

func (p *G64Plugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if len(header) < g64HeaderSize || string(header[:8]) != g64Signature {
		return uft.ProbeResult{}
	}
	if header[8] != 0 {
		return uft.ProbeResult{Matched: true, Confidence: 60}
	}
	return uft.ProbeResult{Matched: true, Confidence: 100}
}

func (p *G64Plugin) parse(data []byte) (*g64State, uft.DriverError) {
	if len(data) < g64HeaderSize || string(data[:8]) != g64Signature {
		return nil, uft.ErrFormatMismatch.WithMessage("bad G64 signature")
	}
	numTracks := int(data[9])
	if numTracks == 0 || numTracks > g64MaxSlots {
		return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"implausible G64 track count %d", numTracks))
	}
	state := &g64State{maxTrackSize: binary.LittleEndian.Uint16(data[10:])}

	tableSize := numTracks * 4
	if g64HeaderSize+2*tableSize > len(data) {
		return nil, uft.ErrCorruptImage.WithMessage("G64 truncated in offset tables")
	}
	for i := 0; i < numTracks; i++ {
		offset := int64(binary.LittleEndian.Uint32(data[g64HeaderSize+i*4:]))
		state.speed[i] = binary.LittleEndian.Uint32(data[g64HeaderSize+tableSize+i*4:])
		if offset == 0 {
			continue
		}
		if offset+2 > int64(len(data)) {
			return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
				"track slot %d points outside the file", i))
		}
		size := int64(binary.LittleEndian.Uint16(data[offset:]))
		if offset+2+size > int64(len(data)) {
			return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
				"track slot %d data overruns the file", i))
		}
		state.slots[i] = make([]byte, size)
		copy(state.slots[i], data[offset+2:])
		if i%2 == 1 {
			state.halfTracks = true
		}
	}

	if err := state.parseExtension(data); err != nil {
		return nil, err
	}
	return state, nil
}

// parseExtension looks for the trailing error-map block. Its absence is
// normal; a damaged one is an error rather than silently dropped evidence.
func (s *g64State) parseExtension(data []byte) uft.DriverError {
	if len(data) < 8 || string(data[len(data)-4:]) != g64ExtMagic {
		return nil
	}
	start := int64(binary.LittleEndian.Uint32(data[len(data)-8:]))
	if start <= 0 || start >= int64(len(data)-8) {
		return uft.ErrCorruptImage.WithMessage("extension footer points outside the file")
	}
	ext := data[start : len(data)-8]
	if len(ext) < 4 {
		return uft.ErrCorruptImage.WithMessage("extension block too short")
	}
	if ext[0] != g64ExtVersion {
		return uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"unknown extension version %d", ext[0]))
	}
	count := int(binary.LittleEndian.Uint16(ext[2:]))
	need := 4 + count*4 + g64MaxSlots*4
	if len(ext) != need {
		return uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"extension block is %d bytes, layout requires %d", len(ext), need))
	}

	s.hasExtension = true
	s.generateExtended = true
	for i := 0; i < count; i++ {
		e := ext[4+i*4:]
		s.errors = append(s.errors, g64ErrorEntry{
			track: e[0], sector: e[1], errorCode: e[2], confidence: e[3],
		})
	}
	meta := ext[4+count*4:]
	for i := 0; i < g64MaxSlots; i++ {
		s.trackMeta[i] = g64TrackMeta{
			speedZone: meta[i*4],
			encoding:  meta[i*4+1],
			quality:   meta[i*4+2],
		}
	}
	return nil
}

// decodeGCRTrack recovers sectors from one raw GCR stream. The stream is
// treated as circular with a scan budget of two revolutions: the extra
// revolution picks up a sector whose sync straddles the start position.
// Meeting an already-decoded sector after a full revolution means the head
// has come back around, so the scan stops there; a repeated id within the
// first revolution is a genuine duplicate.
func decodeGCRTrack(raw []byte) ([]*uft.Sector, [2]byte, bool) {
	bitCount := uint(len(raw)) * 8
	r := encoding.NewCircularBitReader(raw, bitCount)
	budget := bitCount * 2

	var diskID [2]byte
	var haveID bool
	seen := map[uint8]*uft.Sector{}
	var order []uint8

	for r.Consumed() < budget {
		if !encoding.FindSync(r, budget-r.Consumed()) {
			break
		}
		var block [8]byte
		valid, ok := encoding.ReadGCRBytes(r, block[:])
		if !ok {
			break
		}
		if block[0] != g64HeaderBlockID {
			continue
		}
		checksum := block[2] ^ block[3] ^ block[4] ^ block[5]
		sector := &uft.Sector{
			ID: uft.SectorID{
				Cylinder: block[3],
				Head:     0,
				Sector:   block[2],
				SizeCode: 1,
				CRCOK:    valid && checksum == block[1],
			},
		}
		if !valid || checksum != block[1] {
			sector.Status |= uft.SectorIDCRCError
		}
		if !haveID {
			diskID = [2]byte{block[4], block[5]}
			haveID = true
		}

		// The data block follows behind the next sync mark.
		if !encoding.FindSync(r, budget-r.Consumed()) {
			sector.Status |= uft.SectorMissing
			sector.Data = make([]byte, 256)
		} else {
			var payload [260]byte
			dataValid, ok := encoding.ReadGCRBytes(r, payload[:])
			if !ok || payload[0] != g64DataBlockID {
				sector.Status |= uft.SectorMissing
				sector.Data = make([]byte, 256)
			} else {
				sector.Data = make([]byte, 256)
				copy(sector.Data, payload[1:257])
				var xor byte
				for _, b := range sector.Data {
					xor ^= b
				}
				if !dataValid || xor != payload[257] {
					sector.Status |= uft.SectorCRCError
				}
			}
		}

		if prior, dup := seen[sector.ID.Sector]; dup {
			if r.Consumed() >= bitCount {
				break
			}
			prior.Status |= uft.SectorDuplicateID
			continue
		}
		seen[sector.ID.Sector] = sector
		order = append(order, sector.ID.Sector)
	}

	sectors := make([]*uft.Sector, 0, len(order))
	for _, n := range order {
		sectors = append(sectors, seen[n])
	}
	return sectors, diskID, haveID
}

// encodeGCRTrack synthesizes a raw stream from decoded sectors: sync, header
// block, gap, sync, data block, trailing gap, per sector.
func encodeGCRTrack(track *uft.Track, diskID [2]byte) []byte {
	w := encoding.NewBitWriter()
	logical := uint8(track.Cylinder + 1)

	for _, sector := range track.Sectors {
		encoding.WriteSync(w, 5)
		header := [8]byte{
			g64HeaderBlockID,
			sector.ID.Sector ^ logical ^ diskID[0] ^ diskID[1],
			sector.ID.Sector,
			logical,
			diskID[0],
			diskID[1],
			0x0F, 0x0F,
		}
		encoding.WriteGCRBytes(w, header[:])
		for i := 0; i < 9; i++ {
			w.PutByte(0x55)
		}

		encoding.WriteSync(w, 5)
		var xor byte
		for _, b := range sector.Data {
			xor ^= b
		}
		encoding.WriteGCRByte(w, g64DataBlockID)
		encoding.WriteGCRBytes(w, sector.Data)
		encoding.WriteGCRBytes(w, []byte{xor, 0, 0})
		for i := 0; i < 8; i++ {
			w.PutByte(0x55)
		}
	}
	return w.Bytes()
}

type g64Ops struct{}

func (g64Ops) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	state := img.State().(*g64State)
	slot := state.slotFor(cylinder)
	if slot >= g64MaxSlots || state.slots[slot] == nil {
		return &uft.Track{Cylinder: cylinder, Head: head, Status: uft.TrackUnformatted}, nil
	}
	raw := state.slots[slot]

	sectors, _, _ := decodeGCRTrack(raw)
	track := &uft.Track{
		Cylinder:    cylinder,
		Head:        head,
		Sectors:     sectors,
		Status:      uft.TrackOK,
		Encoding:    uft.EncodingGCRCommodore,
		RawBits:     raw,
		RawBitCount: uint(len(raw)) * 8,
		RPM:         300,
		SpeedZone:   state.speedZone(slot),
		DataRate:    g64DataRates[state.speedZone(slot)],
	}
	if len(sectors) == 0 {
		track.Status = uft.TrackDamaged
	} else if uint(len(sectors)) < CBMSectorsOnTrack(cylinder+1) {
		track.Status = uft.TrackPartial
	}

	// Fold in the extension's evidence.
	for _, sector := range sectors {
		for _, e := range state.errorsFor(slot, sector.ID.Sector) {
			sector.Status |= cbmErrorStatus(e.errorCode)
		}
	}
	return track, nil
}

func (g64Ops) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError {
	if err := checkWritable(img); err != nil {
		return err
	}
	state := img.State().(*g64State)
	slot := state.slotFor(track.Cylinder)
	if slot >= g64MaxSlots {
		return uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"cylinder %d outside G64 slot table", track.Cylinder))
	}
	for _, sector := range track.Sectors {
		if sector.Size() != 256 {
			return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"sector %d is %d bytes, GCR blocks carry 256", sector.ID.Sector, sector.Size()))
		}
	}

	// A caller handing us raw bits wins over re-encoding.
	if track.RawBits != nil {
		state.slots[slot] = track.RawBits
	} else {
		state.slots[slot] = encodeGCRTrack(track, state.diskID)
	}
	state.speed[slot] = uint32(CBMSpeedZone(track.Cylinder + 1))
	if track.SpeedZone <= 3 {
		state.speed[slot] = uint32(track.SpeedZone)
	}

	// Refresh the error table for this slot from the sector statuses.
	kept := state.errors[:0]
	for _, e := range state.errors {
		if int(e.track) != slot {
			kept = append(kept, e)
		}
	}
	state.errors = kept
	for _, sector := range track.Sectors {
		if sector.Status.OK() {
			continue
		}
		state.errors = append(state.errors, g64ErrorEntry{
			track:      uint8(slot),
			sector:     sector.ID.Sector,
			errorCode:  cbmErrorCode(sector.Status),
			confidence: 255,
		})
	}
	state.trackMeta[slot] = g64TrackMeta{
		speedZone: state.speedZone(slot),
		encoding:  uint8(uft.EncodingGCRCommodore),
		quality:   255,
	}
	return nil
}

func (g64Ops) Flush(img *uft.DiskImage) uft.DriverError {
	state := img.State().(*g64State)

	maxSize := int(state.maxTrackSize)
	for _, slot := range state.slots {
		if len(slot) > maxSize {
			maxSize = len(slot)
		}
	}

	out := make([]byte, g64HeaderSize+2*g64MaxSlots*4)
	copy(out, g64Signature)
	out[8] = 0
	out[9] = g64MaxSlots
	binary.LittleEndian.PutUint16(out[10:], uint16(maxSize))

	for i, slot := range state.slots {
		if slot == nil {
			continue
		}
		binary.LittleEndian.PutUint32(out[g64HeaderSize+i*4:], uint32(len(out)))
		binary.LittleEndian.PutUint32(out[g64HeaderSize+g64MaxSlots*4+i*4:], state.speed[i])
		var size [2]byte
		binary.LittleEndian.PutUint16(size[:], uint16(len(slot)))
		out = append(out, size[:]...)
		out = append(out, slot...)
		// Slots are padded to the declared maximum so tools that rewrite
		// tracks in place have room.
		out = append(out, make([]byte, maxSize-len(slot))...)
	}

	if state.generateExtended {
		out = appendG64Extension(out, state)
	}
	return writeImage(img.Stream(), out)
}

func appendG64Extension(out []byte, state *g64State) []byte {
	start := uint32(len(out))
	out = append(out, g64ExtVersion, 0)
	var count [2]byte
	binary.LittleEndian.PutUint16(count[:], uint16(len(state.errors)))
	out = append(out, count[:]...)
	for _, e := range state.errors {
		out = append(out, e.track, e.sector, e.errorCode, e.confidence)
	}
	for _, m := range state.trackMeta {
		out = append(out, m.speedZone, m.encoding, m.quality, 0)
	}
	var footer [8]byte
	binary.LittleEndian.PutUint32(footer[:], start)
	copy(footer[4:], g64ExtMagic)
	return append(out, footer[:]...)
}

// The extension toggle and half-track flag ride on the metadata interface so
// conversion front-ends need no G64-specific types.
func (g64Ops) ReadMetadata(img *uft.DiskImage, key string) (string, bool) {
	state := img.State().(*g64State)
	switch key {
	case "extended":
		if state.generateExtended {
			return "1", true
		}
		return "0", true
	case "halftracks":
		if state.halfTracks {
			return "1", true
		}
		return "0", true
	}
	return "", false
}

func (g64Ops) WriteMetadata(img *uft.DiskImage, key, value string) uft.DriverError {
	if key != "extended" {
		return uft.ErrNotSupported.WithMessage("unknown G64 metadata key")
	}
	state := img.State().(*g64State)
	state.generateExtended = value == "1"
	img.Modified = true
	return nil
}

func (p *G64Plugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	state, err := p.parse(data)
	if err != nil {
		return nil, err
	}

	// Learn the disk id from the first decodable header block so writes can
	// regenerate consistent headers.
	state.diskID = [2]byte{'0', '0'}
	for _, slot := range state.slots {
		if slot == nil {
			continue
		}
		if _, id, ok := decodeGCRTrack(slot); ok {
			state.diskID = id
			break
		}
	}

	geometry := uft.Geometry{
		Cylinders:       g64MaxSlots / 2,
		Heads:           1,
		SectorsPerTrack: 21,
		SectorSize:      256,
	}
	return uft.NewDiskImage(p.ID(), geometry, stream, g64Ops{}, state, readOnly), nil
}

func (p *G64Plugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	if geometry.Cylinders == 0 || geometry.Cylinders > g64MaxSlots/2 || geometry.Heads != 1 {
		return nil, uft.ErrInvalidArgument.WithMessage(
			"G64 images are single-sided with up to 42 tracks")
	}
	state := &g64State{
		maxTrackSize: 7928,
		diskID:       [2]byte{'0', '0'},
	}
	for i := range state.speed {
		state.speed[i] = uint32(CBMSpeedZone(uint(i/2) + 1))
	}
	geometry = uft.Geometry{
		Cylinders:       g64MaxSlots / 2,
		Heads:           1,
		SectorsPerTrack: 21,
		SectorSize:      256,
	}
	img := uft.NewDiskImage(p.ID(), geometry, stream, g64Ops{}, state, false)
	img.Modified = true
	if err := img.Flush(); err != nil {
		return nil, err
	}
	return img, nil
}
