package uft

// Track owns an ordered sequence of sectors in recording order around the
// index hole (not sorted by id). Flux-level formats additionally retain the
// raw bit stream so a rewrite can preserve the original recording bit for
// bit.
type Track struct {
	Cylinder uint
	Head     uint
	Sectors  []*Sector
	Status   TrackStatus
	Encoding TrackEncoding

	// RawBits/RawBitCount hold the undecoded track stream for flux formats
	// (G64, WOZ, SCP). Nil for plain sector images.
	RawBits     []byte
	RawBitCount uint

	RPM       float64
	DataRate  float64 // kbit/s
	SpeedZone uint8
}

// FindSector returns the first sector whose address mark carries the given
// id, or nil. Phantom sectors with a duplicate id are reachable through
// Sectors directly.
func (t *Track) FindSector(sector uint8) *Sector {
	for _, s := range t.Sectors {
		if s.ID.Sector == sector {
			return s
		}
	}
	return nil
}

// SectorByIndex returns the sector at positional index i, or nil.
func (t *Track) SectorByIndex(i int) *Sector {
	if i < 0 || i >= len(t.Sectors) {
		return nil
	}
	return t.Sectors[i]
}

// CountValid returns how many sectors carry no defect bits.
func (t *Track) CountValid() int {
	n := 0
	for _, s := range t.Sectors {
		if s.Status.OK() {
			n++
		}
	}
	return n
}
