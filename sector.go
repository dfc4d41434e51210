package uft

// SectorID is the address-mark identity of a sector as the FDC would have
// read it. For interleaved or renumbered formats (IMD, Apple, RX50) this may
// differ from the sector's positional order in the track.
type SectorID struct {
	Cylinder uint8
	Head     uint8
	Sector   uint8
	SizeCode uint8
	CRCOK    bool
}

// Sector owns exactly one data buffer plus the status the decoder attached
// to it. A MISSING sector has a zero-filled (or empty) buffer. WeakMask, when
// non-nil, holds one confidence bit per data bit (1 = read consistently);
// only preservation formats populate it.
type Sector struct {
	ID       SectorID
	Data     []byte
	Status   SectorStatus
	WeakMask []byte
}

// NewMissingSector builds the canonical placeholder for a sector the decoder
// could not recover: zero-filled data and the MISSING bit set.
func NewMissingSector(id SectorID, size uint) *Sector {
	return &Sector{
		ID:     id,
		Data:   make([]byte, size),
		Status: SectorMissing,
	}
}

// Size returns the length of the sector's data buffer.
func (s *Sector) Size() uint {
	return uint(len(s.Data))
}
