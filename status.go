package uft

// SectorStatus is a bitset describing everything the decoder observed about a
// sector. A sector is healthy iff its status equals SectorOK (no bit set);
// defects are never reported as errors, only as bits here.
type SectorStatus uint16

const (
	SectorCRCError SectorStatus = 1 << iota // data CRC/checksum mismatch
	SectorIDCRCError
	SectorDeletedDM // deleted data address mark
	SectorMissing   // sector absent; buffer is zero-filled
	SectorWeakBits
	SectorDuplicateID
	SectorPhantom
	SectorBadCRCIntentional // protection scheme wrote a deliberately bad CRC
)

const SectorOK SectorStatus = 0

// OK reports whether no defect bit is set.
func (s SectorStatus) OK() bool { return s == SectorOK }

// TrackStatus describes the health of a whole track.
type TrackStatus uint8

const (
	TrackOK TrackStatus = iota
	TrackUnformatted
	TrackPartial
	TrackDamaged
)

// TrackEncoding names the line code a track was recorded with.
type TrackEncoding uint8

const (
	EncodingUnknown TrackEncoding = iota
	EncodingFM
	EncodingMFM
	EncodingGCRCommodore
	EncodingGCRApple
	EncodingAmigaMFM
)

// Capability flags advertised by a format plugin.
type Capability uint16

const (
	CapRead = Capability(1) << iota
	CapWrite
	CapCreate
	CapTiming
	CapWeakBits
	CapErrorMap
	CapFlux
)

// Has reports whether every capability in `want` is present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}
