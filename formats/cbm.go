package formats

import (
	"fmt"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/utilities/binutil"
)

// Shared layout code for the Commodore sector images (D64, D71, D81). All
// three address 256-byte blocks by 1-based track number; D64/D71 tracks are
// zoned, D81 is uniform with 40 blocks per track.

// CBMSectorsOnTrack returns the 1541 zone layout for a 1-based track number.
// D71 callers fold side 1 (tracks 36..70) back into this range first.
func CBMSectorsOnTrack(track uint) uint {
	switch {
	case track >= 1 && track <= 17:
		return 21
	case track >= 18 && track <= 24:
		return 19
	case track >= 25 && track <= 30:
		return 18
	case track >= 31:
		return 17
	}
	return 0
}

// CBMSpeedZone returns the 1541 speed zone (0..3) for a 1-based track.
func CBMSpeedZone(track uint) uint8 {
	switch {
	case track <= 17:
		return 3
	case track <= 24:
		return 2
	case track <= 30:
		return 1
	}
	return 0
}

type cbmState struct {
	data     []byte
	tracks   uint // logical 1-based track count: 35..42, 70, or 80
	errorMap []byte

	// sectorsOn maps a logical track to its sector count; offsets is the
	// cumulative byte offset of each track, indexed by track number.
	sectorsOn func(track uint) uint
	offsets   []int64
}

func newCBMState(data []byte, tracks uint, sectorsOn func(uint) uint) (*cbmState, uft.DriverError) {
	state := &cbmState{
		data:      data,
		tracks:    tracks,
		sectorsOn: sectorsOn,
		offsets:   make([]int64, tracks+1),
	}
	var cum int64
	for t := uint(1); t <= tracks; t++ {
		state.offsets[t] = cum
		cum += int64(sectorsOn(t)) * 256
	}

	switch int64(len(data)) {
	case cum:
		// No trailing error map.
	case cum + cum/256:
		state.errorMap = data[cum:]
	default:
		return nil, sizeMismatch("d64", cum, int64(len(data)))
	}
	return state, nil
}

// linearIndex converts (track, sector) to the flat sector index used by the
// trailing error map.
func (s *cbmState) linearIndex(track uint, sector uint) int {
	return int(s.offsets[track]/256) + int(sector)
}

func (s *cbmState) sectorOffset(track, sector uint) (int64, uft.DriverError) {
	if track < 1 || track > s.tracks {
		return 0, uft.ErrOutOfRange.WithMessage(fmt.Sprintf("invalid track %d", track))
	}
	if sector >= s.sectorsOn(track) {
		return 0, uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"invalid sector %d on track %d", sector, track))
	}
	return s.offsets[track] + int64(sector)*256, nil
}

// cbmErrorStatus maps a D64 error-map code to sector status bits.
func cbmErrorStatus(code byte) uft.SectorStatus {
	switch code {
	case 0x00, 0x01:
		return uft.SectorOK
	case 0x02, 0x03, 0x04:
		return uft.SectorMissing
	case 0x05:
		return uft.SectorCRCError
	case 0x0B:
		return uft.SectorIDCRCError
	}
	return uft.SectorCRCError
}

// cbmErrorCode is the reverse mapping used when writing an error map.
func cbmErrorCode(status uft.SectorStatus) byte {
	switch {
	case status&uft.SectorMissing != 0:
		return 0x02
	case status&uft.SectorIDCRCError != 0:
		return 0x0B
	case status&uft.SectorCRCError != 0:
		return 0x05
	}
	return 0x01
}

// cbmOps serves D64, D71 and D81; trackNumber translates image coordinates
// into the logical 1-based track.
type cbmOps struct {
	trackNumber func(g uft.Geometry, cylinder, head uint) uint
}

func (ops cbmOps) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	state := img.State().(*cbmState)
	logical := ops.trackNumber(img.Geometry, cylinder, head)
	count := state.sectorsOn(logical)

	zoneTrack := logical
	if zoneTrack > 35 && img.Geometry.Heads == 2 {
		zoneTrack -= 35
	}

	track := &uft.Track{
		Cylinder:  cylinder,
		Head:      head,
		Status:    uft.TrackOK,
		Encoding:  uft.EncodingGCRCommodore,
		RPM:       300,
		SpeedZone: CBMSpeedZone(zoneTrack),
	}
	for s := uint(0); s < count; s++ {
		offset, err := state.sectorOffset(logical, s)
		if err != nil {
			return nil, err
		}
		buf, sliceErr := binutil.Slice(state.data, offset, 256)
		if sliceErr != nil {
			return nil, uft.ErrCorruptImage.Wrap(sliceErr)
		}
		data := make([]byte, 256)
		copy(data, buf)

		status := uft.SectorOK
		if state.errorMap != nil {
			status = cbmErrorStatus(state.errorMap[state.linearIndex(logical, s)])
		}
		if status&uft.SectorMissing != 0 {
			track.Status = uft.TrackPartial
		}
		track.Sectors = append(track.Sectors, &uft.Sector{
			ID: uft.SectorID{
				Cylinder: uint8(logical),
				Head:     uint8(head),
				Sector:   uint8(s),
				SizeCode: 1,
				CRCOK:    status&uft.SectorIDCRCError == 0,
			},
			Data:   data,
			Status: status,
		})
	}
	return track, nil
}

func (ops cbmOps) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError {
	if err := checkWritable(img); err != nil {
		return err
	}
	state := img.State().(*cbmState)
	logical := ops.trackNumber(img.Geometry, track.Cylinder, track.Head)

	for _, sector := range track.Sectors {
		if sector.Size() != 256 {
			return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"sector %d is %d bytes, CBM blocks are 256", sector.ID.Sector, sector.Size()))
		}
		offset, err := state.sectorOffset(logical, uint(sector.ID.Sector))
		if err != nil {
			return err
		}
		dst, sliceErr := binutil.Slice(state.data, offset, 256)
		if sliceErr != nil {
			return uft.ErrCorruptImage.Wrap(sliceErr)
		}
		copy(dst, sector.Data)
		if state.errorMap != nil {
			state.errorMap[state.linearIndex(logical, uint(sector.ID.Sector))] =
				cbmErrorCode(sector.Status)
		}
	}
	return nil
}

func (ops cbmOps) Flush(img *uft.DiskImage) uft.DriverError {
	state := img.State().(*cbmState)
	return writeImage(img.Stream(), state.data)
}
