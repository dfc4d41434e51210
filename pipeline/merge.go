package pipeline

import (
	"github.com/retrofloppy/uft"
)

// sectorCandidate is one revision's copy of a sector slot.
type sectorCandidate struct {
	revision int
	sector   *uft.Sector
	verdict  SectorAnalysis
	quality  uint8
}

// better reports whether a beats b under the merge ordering: valid data
// first, then confidence, then the revision quality hint. Earlier revisions
// win exact ties so the merge is deterministic.
func (a sectorCandidate) better(b sectorCandidate) bool {
	if a.verdict.DataValid != b.verdict.DataValid {
		return a.verdict.DataValid
	}
	if a.verdict.Confidence != b.verdict.Confidence {
		return a.verdict.Confidence > b.verdict.Confidence
	}
	return a.quality > b.quality
}

// mergeRevisions builds one track per slot from the best sectors across all
// revisions. Revision 0 defines sector order; sectors only other revisions
// carry are appended after it.
func (p *Pipeline) mergeRevisions() ([][]*uft.Track, [][]TrackAnalysis, uft.DriverError) {
	g := p.geometry
	merged := make([][]*uft.Track, g.Cylinders)
	reports := make([][]TrackAnalysis, g.Cylinders)
	for cyl := uint(0); cyl < g.Cylinders; cyl++ {
		merged[cyl] = make([]*uft.Track, g.Heads)
		reports[cyl] = make([]TrackAnalysis, g.Heads)
		for head := uint(0); head < g.Heads; head++ {
			track, report, err := p.mergeTrack(cyl, head)
			if err != nil {
				return nil, nil, err
			}
			merged[cyl][head] = track
			reports[cyl][head] = report
		}
	}
	return merged, reports, nil
}

func (p *Pipeline) mergeTrack(cyl, head uint) (*uft.Track, TrackAnalysis, uft.DriverError) {
	// Collect each revision's copy of the track. Revisions whose analysis
	// recorded nothing (unreadable track) are skipped.
	type revisionTrack struct {
		revision int
		track    *uft.Track
	}
	var sources []revisionTrack
	for i, rev := range p.revisions {
		if p.analyses[i].sectors[cyl][head] == nil {
			continue
		}
		track, err := rev.Image.ReadTrack(cyl, head)
		if err != nil {
			return nil, TrackAnalysis{}, err
		}
		sources = append(sources, revisionTrack{revision: i, track: track})
	}
	if len(sources) == 0 {
		return nil, TrackAnalysis{}, nil
	}

	// Sector order comes from the first revision that carries the track;
	// ids it lacks follow in the order other revisions present them.
	base := sources[0].track
	var order []uint8
	seen := map[uint8]bool{}
	for _, src := range sources {
		for _, s := range src.track.Sectors {
			if !seen[s.ID.Sector] {
				seen[s.ID.Sector] = true
				order = append(order, s.ID.Sector)
			}
		}
	}

	out := &uft.Track{
		Cylinder:  cyl,
		Head:      head,
		Encoding:  base.Encoding,
		RPM:       base.RPM,
		DataRate:  base.DataRate,
		SpeedZone: base.SpeedZone,
	}
	// A single-revision merge keeps the original recording bit for bit.
	if len(sources) == 1 && base.RawBits != nil {
		out.RawBits = append([]byte(nil), base.RawBits...)
		out.RawBitCount = base.RawBitCount
	}

	report := TrackAnalysis{}
	for _, id := range order {
		var candidates []sectorCandidate
		for _, src := range sources {
			s := src.track.FindSector(id)
			if s == nil {
				continue
			}
			candidates = append(candidates, sectorCandidate{
				revision: src.revision,
				sector:   s,
				verdict:  p.analyses[src.revision].sectors[cyl][head][id],
				quality:  p.revisions[src.revision].Quality,
			})
		}
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.better(best) {
				best = c
			}
		}
		chosen := cloneSector(best.sector)

		// Valid copies that still disagree bit for bit expose weak regions
		// the per-revision status never saw.
		if best.verdict.DataValid {
			if mask, weak := weakMask(best, candidates); weak {
				chosen.Status |= uft.SectorWeakBits
				chosen.WeakMask = mask
				report.WeakSectors++
			}
		}

		out.Sectors = append(out.Sectors, chosen)
		if chosen.Status&uft.SectorMissing == 0 {
			report.SectorsFound++
		}
		if best.verdict.DataValid {
			report.SectorsValid++
		}
	}

	expected := int(p.geometry.SectorsPerTrack)
	if len(out.Sectors) > expected {
		expected = len(out.Sectors)
	}
	if expected > 0 {
		report.Quality = report.SectorsValid * 100 / expected
	}
	report.Complete = expected > 0 && report.SectorsValid >= expected

	switch {
	case report.SectorsFound == 0:
		out.Status = uft.TrackUnformatted
	case report.Complete:
		out.Status = uft.TrackOK
	case report.SectorsValid > 0:
		out.Status = uft.TrackPartial
	default:
		out.Status = uft.TrackDamaged
	}
	return out, report, nil
}

// weakMask compares the chosen sector against every other valid copy of the
// same slot. A mask bit of 1 means all valid revisions agreed on that data
// bit. Returns weak=false when every copy matched.
func weakMask(chosen sectorCandidate, candidates []sectorCandidate) ([]byte, bool) {
	var mask []byte
	weak := false
	for _, c := range candidates {
		if c.revision == chosen.revision || !c.verdict.DataValid {
			continue
		}
		if len(c.sector.Data) != len(chosen.sector.Data) {
			continue
		}
		if c.verdict.Checksum == chosen.verdict.Checksum {
			continue
		}
		if mask == nil {
			mask = make([]byte, len(chosen.sector.Data))
			for i := range mask {
				mask[i] = 0xFF
			}
		}
		for i := range mask {
			mask[i] &^= c.sector.Data[i] ^ chosen.sector.Data[i]
		}
		weak = true
	}
	return mask, weak
}

func cloneSector(s *uft.Sector) *uft.Sector {
	out := &uft.Sector{
		ID:     s.ID,
		Data:   append([]byte(nil), s.Data...),
		Status: s.Status,
	}
	if s.WeakMask != nil {
		out.WeakMask = append([]byte(nil), s.WeakMask...)
	}
	return out
}
