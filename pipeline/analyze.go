package pipeline

import (
	"errors"

	"github.com/cespare/xxhash/v2"
	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/checksum"
)

// SectorAnalysis is the ANALYZE verdict for one sector of one revision.
type SectorAnalysis struct {
	// Checksum fingerprints the data buffer so identical reads across
	// revisions can be matched without comparing bytes twice.
	Checksum  uint64
	DataValid bool
	// Confidence in the data, 0..100. Defect bits subtract from a clean 100.
	Confidence int
}

// TrackAnalysis summarizes one track.
type TrackAnalysis struct {
	SectorsFound int
	SectorsValid int
	Complete     bool
	// Quality is SectorsValid over the geometry's expected sector count,
	// as a percentage.
	Quality int
	// WeakSectors counts sectors whose valid copies disagreed across
	// revisions. Zero until DECIDE has compared them.
	WeakSectors int
}

// DiskAnalysis aggregates the whole disk.
type DiskAnalysis struct {
	// Flavor is a best-effort filesystem identification ("AmigaDOS FFS",
	// "CBM DOS", ...); empty when nothing recognizable was found.
	Flavor   string
	Bootable bool
	// ErrorCount is the number of merged sectors still carrying defect bits.
	ErrorCount int
	// Quality is the mean track quality percentage.
	Quality int
}

// revisionAnalysis holds the per-sector verdicts of one revision, indexed
// [cylinder][head] and then by sector id.
type revisionAnalysis struct {
	tracks  [][]TrackAnalysis
	sectors [][]map[uint8]SectorAnalysis
}

// scoreSector turns status bits into a validity flag and a confidence value.
// Validity requires the data to be trustworthy; weak or deleted sectors are
// still valid data, just less certain.
func scoreSector(s *uft.Sector) SectorAnalysis {
	valid := s.Status&(uft.SectorCRCError|uft.SectorMissing|uft.SectorIDCRCError) == 0
	confidence := 100
	if s.Status&uft.SectorMissing != 0 {
		confidence = 0
	} else {
		if s.Status&uft.SectorCRCError != 0 {
			confidence -= 60
		}
		if s.Status&uft.SectorIDCRCError != 0 {
			confidence -= 30
		}
		if s.Status&uft.SectorWeakBits != 0 {
			confidence -= 20
		}
		if s.Status&(uft.SectorDuplicateID|uft.SectorPhantom) != 0 {
			confidence -= 10
		}
		if s.Status&uft.SectorDeletedDM != 0 {
			confidence -= 5
		}
		if confidence < 0 {
			confidence = 0
		}
	}
	return SectorAnalysis{
		Checksum:   xxhash.Sum64(s.Data),
		DataValid:  valid,
		Confidence: confidence,
	}
}

// analyzeRevision reads every track and scores it. A track read that fails
// with a hard error is recorded as unformatted rather than aborting the run;
// the merge can still succeed from another revision.
func analyzeRevision(img *uft.DiskImage) (revisionAnalysis, uft.DriverError) {
	g := img.Geometry
	analysis := revisionAnalysis{
		tracks:  make([][]TrackAnalysis, g.Cylinders),
		sectors: make([][]map[uint8]SectorAnalysis, g.Cylinders),
	}
	for cyl := uint(0); cyl < g.Cylinders; cyl++ {
		analysis.tracks[cyl] = make([]TrackAnalysis, g.Heads)
		analysis.sectors[cyl] = make([]map[uint8]SectorAnalysis, g.Heads)
		for head := uint(0); head < g.Heads; head++ {
			track, err := img.ReadTrack(cyl, head)
			if err != nil {
				if errors.Is(err, uft.ErrCorruptImage) || errors.Is(err, uft.ErrOutOfRange) {
					analysis.tracks[cyl][head] = TrackAnalysis{}
					continue
				}
				return revisionAnalysis{}, err
			}
			analysis.tracks[cyl][head], analysis.sectors[cyl][head] =
				analyzeTrack(track, expectedSectors(g, cyl))
		}
	}
	return analysis, nil
}

// expectedSectors is the geometry's claim for one cylinder. Zone-recorded
// disks (CBM GCR) carry the per-track count on the track itself, so the
// geometry value is only a fallback.
func expectedSectors(g uft.Geometry, cyl uint) int {
	return int(g.SectorsPerTrack)
}

func analyzeTrack(track *uft.Track, expected int) (TrackAnalysis, map[uint8]SectorAnalysis) {
	sectors := make(map[uint8]SectorAnalysis, len(track.Sectors))
	analysis := TrackAnalysis{}
	for _, s := range track.Sectors {
		verdict := scoreSector(s)
		if s.Status&uft.SectorMissing == 0 {
			analysis.SectorsFound++
		}
		if verdict.DataValid {
			analysis.SectorsValid++
		}
		// Phantoms share an id with a real sector; keep the better verdict.
		if prev, ok := sectors[s.ID.Sector]; !ok || verdict.Confidence > prev.Confidence {
			sectors[s.ID.Sector] = verdict
		}
	}
	if len(track.Sectors) > expected {
		expected = len(track.Sectors)
	}
	if expected > 0 {
		analysis.Quality = analysis.SectorsValid * 100 / expected
	}
	analysis.Complete = analysis.SectorsValid >= expected && expected > 0
	return analysis, sectors
}

// analyzeDisk aggregates the merged tracks and sniffs the filesystem flavor
// from the first revision's data.
func (p *Pipeline) analyzeDisk(tracks [][]TrackAnalysis) DiskAnalysis {
	disk := DiskAnalysis{}
	count := 0
	for _, row := range tracks {
		for _, t := range row {
			disk.Quality += t.Quality
			count++
		}
	}
	if count > 0 {
		disk.Quality /= count
	}
	for _, row := range p.merged {
		for _, track := range row {
			if track == nil {
				continue
			}
			for _, s := range track.Sectors {
				if !s.Status.OK() {
					disk.ErrorCount++
				}
			}
		}
	}
	disk.Flavor, disk.Bootable = sniffFlavor(p.revisions[0].Image)
	return disk
}

var amigaFlavorNames = [...]string{
	"AmigaDOS OFS", "AmigaDOS FFS",
	"AmigaDOS OFS/INTL", "AmigaDOS FFS/INTL",
	"AmigaDOS OFS/DC", "AmigaDOS FFS/DC",
}

// sniffFlavor identifies the filesystem from cheap on-disk markers. It never
// fails; an unrecognized disk yields an empty flavor.
func sniffFlavor(img *uft.DiskImage) (string, bool) {
	g := img.Geometry
	switch g.SectorSize {
	case 512:
		// AmigaDOS bootblock: "DOS" plus a flavor byte, bootable when the
		// 1024-byte checksum holds.
		track, err := img.ReadTrack(0, 0)
		if err != nil {
			return "", false
		}
		first := track.FindSector(0)
		second := track.FindSector(1)
		if first == nil || len(first.Data) < 4 {
			return "", false
		}
		if string(first.Data[:3]) != "DOS" || first.Data[3] > 5 {
			return "", false
		}
		flavor := amigaFlavorNames[first.Data[3]]
		if second == nil || len(second.Data) != 512 {
			return flavor, false
		}
		boot := make([]byte, 0, 1024)
		boot = append(boot, first.Data...)
		boot = append(boot, second.Data...)
		return flavor, checksum.AmigaBootblockValid(boot)
	case 256:
		// CBM DOS: the BAM on track 18 carries the 'A' format marker.
		if g.Cylinders < 18 {
			return "", false
		}
		bam, err := img.ReadSector(17, 0, 0)
		if err != nil || len(bam.Data) < 3 {
			return "", false
		}
		if bam.Data[0] == 18 && bam.Data[1] == 1 && bam.Data[2] == 'A' {
			return "CBM DOS 2.6", false
		}
	case 128:
		// Atari DOS: the VTOC declares the DOS code; sector 1 carries the
		// boot flag and boot sector count.
		boot, err := img.ReadSector(0, 0, 1)
		if err != nil || len(boot.Data) < 2 {
			return "", false
		}
		bootable := boot.Data[0] == 0 && boot.Data[1] >= 1 && boot.Data[1] <= 3
		return "Atari DOS 2.x", bootable
	}
	return "", false
}

func isNotSupported(err uft.DriverError) bool {
	return err != nil && errors.Is(err, uft.ErrNotSupported)
}
