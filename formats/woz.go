package formats

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/retrofloppy/uft"
)

// Apple WOZ: chunked bit-accurate captures of 5.25" and 3.5" disks. The
// plugin is read-side; it resolves the quarter-track map, hands each track's
// exact bit stream to callers and exposes the META chunk's key/value pairs.

const (
	wozHeaderSize = 12
	wozTmapSize   = 160

	woz1TrackSize = 6656

	wozDisk525 = 1
	wozDisk35  = 2
)

type wozTrackBits struct {
	bits     []byte
	bitCount uint32
}

type wozState struct {
	version   int // 1 or 2
	diskType  uint8
	writeProt bool
	tmap      [wozTmapSize]uint8 // 0xFF = no track
	tracks    []wozTrackBits
	meta      map[string]string
	metaOrder []string
}

func (s *wozState) trackFor(cylinder, head uint) *wozTrackBits {
	var index uint
	if s.diskType == wozDisk35 {
		index = cylinder*2 + head
	} else {
		index = cylinder * 4 // quarter-track map, whole tracks only
	}
	if index >= wozTmapSize || s.tmap[index] == 0xFF {
		return nil
	}
	slot := int(s.tmap[index])
	if slot >= len(s.tracks) {
		return nil
	}
	return &s.tracks[slot]
}

type WOZPlugin struct{}

func NewWOZPlugin() *WOZPlugin { return &WOZPlugin{} }

func (p *WOZPlugin) ID() uft.FormatID     { return "woz" }
func (p *WOZPlugin) Name() string         { return "Apple WOZ" }
func (p *WOZPlugin) Extensions() []string { return []string{"woz"} }

func (p *WOZPlugin) Capabilities() uft.Capability {
	return uft.CapRead | uft.CapFlux | uft.CapTiming
}

func (p *WOZPlugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	if len(header) < wozHeaderSize {
		return uft.ProbeResult{}
	}
	sig := string(header[:4])
	if sig != "WOZ1" && sig != "WOZ2" {
		return uft.ProbeResult{}
	}
	// The guard bytes catch 7-bit and line-ending mangling in transit.
	if header[4] != 0xFF || header[5] != 0x0A || header[6] != 0x0D || header[7] != 0x0A {
		return uft.ProbeResult{Matched: true, Confidence: 60}
	}
	return uft.ProbeResult{Matched: true, Confidence: 100}
}

func (p *WOZPlugin) parse(data []byte) (*wozState, uft.DriverError) {
	if len(data) < wozHeaderSize {
		return nil, uft.ErrFormatMismatch.WithMessage("file shorter than WOZ header")
	}
	state := &wozState{meta: map[string]string{}}
	switch string(data[:4]) {
	case "WOZ1":
		state.version = 1
	case "WOZ2":
		state.version = 2
	default:
		return nil, uft.ErrFormatMismatch.WithMessage("bad WOZ signature")
	}

	pos := wozHeaderSize
	var trksChunk []byte
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		pos += 8
		if size < 0 || pos+size > len(data) {
			return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
				"WOZ chunk %q overruns the file", id))
		}
		chunk := data[pos : pos+size]
		pos += size

		switch id {
		case "INFO":
			if len(chunk) < 3 {
				return nil, uft.ErrCorruptImage.WithMessage("INFO chunk too short")
			}
			state.diskType = chunk[1]
			state.writeProt = chunk[2] != 0
		case "TMAP":
			if len(chunk) < wozTmapSize {
				return nil, uft.ErrCorruptImage.WithMessage("TMAP chunk too short")
			}
			copy(state.tmap[:], chunk)
		case "TRKS":
			trksChunk = chunk
		case "META":
			parseWOZMeta(state, chunk)
		}
	}
	if trksChunk == nil {
		return nil, uft.ErrCorruptImage.WithMessage("WOZ carries no TRKS chunk")
	}

	if state.version == 1 {
		for off := 0; off+woz1TrackSize <= len(trksChunk); off += woz1TrackSize {
			t := trksChunk[off : off+woz1TrackSize]
			// WOZ1 trailer: bytes-used u16, bit-count u16 at offset 6646.
			bitCount := uint32(binary.LittleEndian.Uint16(t[6648:]))
			bits := make([]byte, 6646)
			copy(bits, t)
			state.tracks = append(state.tracks, wozTrackBits{bits: bits, bitCount: bitCount})
		}
	} else {
		// WOZ2: 160 entries of {start_block, block_count, bit_count};
		// blocks are 512 bytes from the start of the file.
		for i := 0; i < wozTmapSize && i*8+8 <= len(trksChunk); i++ {
			entry := trksChunk[i*8:]
			startBlock := int64(binary.LittleEndian.Uint16(entry[0:]))
			blockCount := int64(binary.LittleEndian.Uint16(entry[2:]))
			bitCount := binary.LittleEndian.Uint32(entry[4:])
			if startBlock == 0 {
				state.tracks = append(state.tracks, wozTrackBits{})
				continue
			}
			begin := startBlock * 512
			length := blockCount * 512
			if begin+length > int64(len(data)) {
				return nil, uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
					"TRKS entry %d points outside the file", i))
			}
			bits := make([]byte, length)
			copy(bits, data[begin:])
			state.tracks = append(state.tracks, wozTrackBits{bits: bits, bitCount: bitCount})
		}
	}
	return state, nil
}

// parseWOZMeta splits the META chunk: UTF-8 rows separated by linefeeds,
// each row a tab-separated key/value pair.
func parseWOZMeta(state *wozState, chunk []byte) {
	for _, row := range strings.Split(string(chunk), "\n") {
		key, value, found := strings.Cut(row, "\t")
		if !found || key == "" {
			continue
		}
		if _, dup := state.meta[key]; !dup {
			state.metaOrder = append(state.metaOrder, key)
		}
		state.meta[key] = value
	}
}

type wozOps struct{}

func (wozOps) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	state := img.State().(*wozState)
	bits := state.trackFor(cylinder, head)
	if bits == nil || bits.bits == nil {
		return &uft.Track{Cylinder: cylinder, Head: head, Status: uft.TrackUnformatted}, nil
	}
	return &uft.Track{
		Cylinder:    cylinder,
		Head:        head,
		Status:      uft.TrackOK,
		Encoding:    uft.EncodingGCRApple,
		RawBits:     bits.bits,
		RawBitCount: uint(bits.bitCount),
		RPM:         300,
	}, nil
}

func (wozOps) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError {
	return uft.ErrNotSupported.WithMessage("WOZ images are read-only captures")
}

func (wozOps) Flush(img *uft.DiskImage) uft.DriverError {
	return nil
}

func (wozOps) ReadMetadata(img *uft.DiskImage, key string) (string, bool) {
	value, ok := img.State().(*wozState).meta[key]
	return value, ok
}

func (wozOps) WriteMetadata(img *uft.DiskImage, key, value string) uft.DriverError {
	return uft.ErrNotSupported.WithMessage("WOZ images are read-only captures")
}

func (p *WOZPlugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	data, err := readImage(stream)
	if err != nil {
		return nil, err
	}
	state, err := p.parse(data)
	if err != nil {
		return nil, err
	}

	geometry := uft.Geometry{
		Cylinders:       35,
		Heads:           1,
		SectorsPerTrack: 16,
		SectorSize:      256,
	}
	if state.diskType == wozDisk35 {
		geometry = uft.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 12, SectorSize: 512}
	}
	return uft.NewDiskImage(p.ID(), geometry, stream, wozOps{}, state, true), nil
}

func (p *WOZPlugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	return nil, uft.ErrNotSupported.WithMessage("WOZ images come from flux capture, not created blank")
}
