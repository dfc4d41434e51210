package formats

import (
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/utilities/compression"
)

// Atari ST MSA archive: a big-endian header followed by one record per
// track side, each either raw or run-length encoded. Sector size is always
// 512 bytes. The header's side word stores the side count minus one.
const (
	msaMagic      = 0x0E0F
	msaHeaderSize = 10
)

type msaState struct {
	spt        uint
	sides      uint
	startTrack uint
	endTrack   uint

	// One decoded track per (cylinder, head), stored side-interleaved the
	// way the file orders its records.
	tracks [][]byte
}

func (s *msaState) trackSize() int { return int(s.spt) * 512 }

func (s *msaState) trackIndex(cylinder, head uint) int {
	return int((cylinder-s.startTrack)*s.sides + head)
}

type MSAPlugin struct{}

func NewMSAPlugin() *MSAPlugin { return &MSAPlugin{} }

func (p *MSAPlugin) ID() uft.FormatID     { return "msa" }
func (p *MSAPlugin) Name() string         { return "Atari ST MSA" }
func (p *MSAPlugin) Extensions() []string { return []string{"msa"} }

func (p *MSAPlugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapWrite | uft.CapCreate
}

func (p *MSAPlugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if len(header) < msaHeaderSize {
		return uft.ProbeResult{}
	}
	if binary.BigEndian.Uint16(header[0:]) != msaMagic {
		return uft.ProbeResult{}
	}
	spt := binary.BigEndian.Uint16(header[2:])
	sides := binary.BigEndian.Uint16(header[4:])
	start := binary.BigEndian.Uint16(header[6:])
	end := binary.BigEndian.Uint16(header[8:])
	if spt == 0 || spt > 36 || sides > 1 || end < start || end > 85 {
		return uft.ProbeResult{Matched: true, Confidence: 40}
	}
	return uft.ProbeResult{Matched: true, Confidence: 90}
}

func (p *MSAPlugin) parse(data []byte) (*msaState, uft.DriverError) {
	if len(data) < msaHeaderSize {
		return nil, uft.ErrFormatMismatch.WithMessage("file shorter than MSA header")
	}
	if binary.BigEndian.Uint16(data[0:]) != msaMagic {
		return nil, uft.ErrFormatMismatch.WithMessage("bad MSA magic")
	}
	spt := uint(binary.BigEndian.Uint16(data[2:]))
	sideWord := binary.BigEndian.Uint16(data[4:])
	start := uint(binary.BigEndian.Uint16(data[6:]))
	end := uint(binary.BigEndian.Uint16(data[8:]))

	if spt == 0 || spt > 36 || sideWord > 1 || end < start || end > 85 {
		return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"implausible MSA header: spt=%d sides=%d tracks=%d..%d",
			spt, sideWord+1, start, end))
	}

	state := &msaState{
		spt:        spt,
		sides:      uint(sideWord) + 1,
		startTrack: start,
		endTrack:   end,
	}
	trackSize := state.trackSize()
	records := (end - start + 1) * state.sides

	pos := msaHeaderSize
	for i := uint(0); i < records; i++ {
		if pos+2 > len(data) {
			return nil, uft.ErrCorruptImage.WithMessage("MSA truncated in track table")
		}
		length := int(binary.BigEndian.Uint16(data[pos:]))
		pos += 2
		if pos+length > len(data) {
			return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
				"MSA track record %d overruns the file", i))
		}
		record := data[pos : pos+length]
		pos += length

		track := make([]byte, trackSize)
		if length == trackSize {
			copy(track, record)
		} else {
			decoded, err := compression.DecompressMSATrack(record, trackSize)
			if err != nil {
				return nil, uft.ErrCorruptImage.Wrap(err).WithMessage(fmt.Sprintf(
					"MSA track record %d", i))
			}
			copy(track, decoded)
		}
		state.tracks = append(state.tracks, track)
	}
	if pos != len(data) {
		return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
			"%d trailing bytes after last MSA track", len(data)-pos))
	}
	return state, nil
}

type msaOps struct{}

func (msaOps) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	state := img.State().(*msaState)
	if cylinder < state.startTrack || cylinder > state.endTrack || head >= state.sides {
		return nil, uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"track (%d, %d) outside image", cylinder, head))
	}
	raw := state.tracks[state.trackIndex(cylinder, head)]

	track := &uft.Track{
		Cylinder: cylinder,
		Head:     head,
		Status:   uft.TrackOK,
		Encoding: uft.EncodingMFM,
	}
	for s := uint(0); s < state.spt; s++ {
		data := make([]byte, 512)
		copy(data, raw[s*512:])
		track.Sectors = append(track.Sectors, &uft.Sector{
			ID: uft.SectorID{
				Cylinder: uint8(cylinder),
				Head:     uint8(head),
				Sector:   uint8(s + 1),
				SizeCode: 2,
				CRCOK:    true,
			},
			Data: data,
		})
	}
	return track, nil
}

func (msaOps) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError {
	if err := checkWritable(img); err != nil {
		return err
	}
	state := img.State().(*msaState)
	if track.Cylinder < state.startTrack || track.Cylinder > state.endTrack ||
		track.Head >= state.sides {
		return uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"track (%d, %d) outside image", track.Cylinder, track.Head))
	}
	raw := state.tracks[state.trackIndex(track.Cylinder, track.Head)]

	for _, sector := range track.Sectors {
		if sector.ID.Sector < 1 || uint(sector.ID.Sector) > state.spt {
			return uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"sector id %d outside track", sector.ID.Sector))
		}
		if sector.Size() != 512 {
			return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"sector %d is %d bytes, MSA sectors are 512", sector.ID.Sector, sector.Size()))
		}
		copy(raw[(uint(sector.ID.Sector)-1)*512:], sector.Data)
	}
	return nil
}

func (msaOps) Flush(img *uft.DiskImage) uft.DriverError {
	state := img.State().(*msaState)
	trackSize := state.trackSize()

	// Worst case the encoder expands a track to 4x (alternating runs of the
	// marker byte), so size the buffer for that and slice down afterwards.
	buf := make([]byte, msaHeaderSize+len(state.tracks)*(2+4*trackSize))
	w := bytewriter.New(buf)
	written := 0

	var header [msaHeaderSize]byte
	binary.BigEndian.PutUint16(header[0:], msaMagic)
	binary.BigEndian.PutUint16(header[2:], uint16(state.spt))
	binary.BigEndian.PutUint16(header[4:], uint16(state.sides-1))
	binary.BigEndian.PutUint16(header[6:], uint16(state.startTrack))
	binary.BigEndian.PutUint16(header[8:], uint16(state.endTrack))
	n, err := w.Write(header[:])
	if err != nil {
		return uft.ErrFileWrite.Wrap(err)
	}
	written += n

	for _, raw := range state.tracks {
		record := compression.CompressMSATrack(raw)
		if len(record) >= trackSize {
			record = raw
		}
		var length [2]byte
		binary.BigEndian.PutUint16(length[:], uint16(len(record)))
		for _, chunk := range [][]byte{length[:], record} {
			n, err = w.Write(chunk)
			if err != nil {
				return uft.ErrFileWrite.Wrap(err)
			}
			written += n
		}
	}
	return writeImage(img.Stream(), buf[:written])
}

func (p *MSAPlugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	state, err := p.parse(data)
	if err != nil {
		return nil, err
	}
	geometry := uft.Geometry{
		Cylinders:       state.endTrack - state.startTrack + 1,
		Heads:           state.sides,
		SectorsPerTrack: state.spt,
		SectorSize:      512,
	}
	return uft.NewDiskImage(p.ID(), geometry, stream, msaOps{}, state, readOnly), nil
}

func (p *MSAPlugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	if geometry.SectorSize != 512 || geometry.SectorsPerTrack > 36 {
		return nil, uft.ErrInvalidArgument.WithMessage(
			"MSA images have up to 36 sectors of 512 bytes per track")
	}
	state := &msaState{
		spt:        geometry.SectorsPerTrack,
		sides:      geometry.Heads,
		startTrack: 0,
		endTrack:   geometry.Cylinders - 1,
	}
	for i := uint(0); i < geometry.Cylinders*geometry.Heads; i++ {
		state.tracks = append(state.tracks, make([]byte, state.trackSize()))
	}
	img := uft.NewDiskImage(p.ID(), geometry, stream, msaOps{}, state, false)
	img.Modified = true
	if err := img.Flush(); err != nil {
		return nil, err
	}
	return img, nil
}
