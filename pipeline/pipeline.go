// Package pipeline merges independently captured revisions of the same disk
// into one best-effort image. It is a strictly sequential five-stage machine:
// READ collects revisions, ANALYZE scores every sector, DECIDE picks the best
// copy of each sector slot, PRESERVE materializes the merged image into a
// target, and WRITE flushes it. No stage reads state produced by a later one.
package pipeline

import (
	"fmt"

	"github.com/retrofloppy/uft"
)

// Stage is the pipeline's current position in the state machine.
type Stage int

const (
	StageInit Stage = iota
	StageRead
	StageAnalyze
	StageDecide
	StagePreserve
	StageWrite
	StageDone
	StageError
)

var stageNames = map[Stage]string{
	StageInit:     "INIT",
	StageRead:     "READ",
	StageAnalyze:  "ANALYZE",
	StageDecide:   "DECIDE",
	StagePreserve: "PRESERVE",
	StageWrite:    "WRITE",
	StageDone:     "DONE",
	StageError:    "ERROR",
}

func (s Stage) String() string { return stageNames[s] }

// Options tune the pipeline's output side.
type Options struct {
	// GenerateExtended asks the target format to carry error and timing
	// metadata out of band (the G64 error-map extension). Targets without
	// the capability ignore it.
	GenerateExtended bool
}

// Revision is one capture of the disk plus the operator's quality hint
// (0 = worthless, 255 = pristine).
type Revision struct {
	Image   *uft.DiskImage
	Quality uint8
}

// Pipeline owns the revisions handed to it and the merged tracks it builds.
// Like the images it wraps, it is single-threaded.
type Pipeline struct {
	opts      Options
	stage     Stage
	geometry  uft.Geometry
	revisions []Revision
	analyses  []revisionAnalysis
	merged    [][]*uft.Track
	report    Report
}

// Report is the durable outcome of a finished run.
type Report struct {
	Geometry  uft.Geometry
	Revisions int
	Disk      DiskAnalysis
	// Tracks holds the merged per-track analysis, indexed [cylinder][head].
	Tracks [][]TrackAnalysis
}

func New(opts Options) *Pipeline {
	return &Pipeline{opts: opts, stage: StageInit}
}

// CurrentStage reports where the machine stands.
func (p *Pipeline) CurrentStage() Stage { return p.stage }

func (p *Pipeline) requireStage(want Stage) uft.DriverError {
	if p.stage != want {
		return uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
			"pipeline is in stage %s, expected %s", p.stage, want))
	}
	return nil
}

func (p *Pipeline) fail(err uft.DriverError) uft.DriverError {
	p.stage = StageError
	return err
}

// AddRevision registers a capture before Read runs. The pipeline borrows the
// image; the caller still owns and closes it.
func (p *Pipeline) AddRevision(img *uft.DiskImage, quality uint8) uft.DriverError {
	if p.stage != StageInit {
		return uft.ErrInvalidArgument.WithMessage("revisions must be added before Read")
	}
	if img == nil {
		return uft.ErrInvalidArgument.WithMessage("nil revision image")
	}
	p.revisions = append(p.revisions, Revision{Image: img, Quality: quality})
	return nil
}

// Read validates the revision set and locks the merge geometry. Every
// revision must describe the same disk shape.
func (p *Pipeline) Read() uft.DriverError {
	if err := p.requireStage(StageInit); err != nil {
		return err
	}
	if len(p.revisions) == 0 {
		return p.fail(uft.ErrInvalidArgument.WithMessage("no revisions to merge"))
	}
	p.geometry = p.revisions[0].Image.Geometry
	for i, rev := range p.revisions {
		if rev.Image.Geometry != p.geometry {
			return p.fail(uft.ErrFormatMismatch.WithMessage(fmt.Sprintf(
				"revision %d geometry %v does not match revision 0 geometry %v",
				i, rev.Image.Geometry, p.geometry)))
		}
	}
	p.stage = StageRead
	return nil
}

// Analyze scores every sector of every revision and aggregates per-track and
// per-disk quality. Unreadable tracks degrade the score instead of aborting.
func (p *Pipeline) Analyze() uft.DriverError {
	if err := p.requireStage(StageRead); err != nil {
		return err
	}
	p.analyses = make([]revisionAnalysis, len(p.revisions))
	for i, rev := range p.revisions {
		analysis, err := analyzeRevision(rev.Image)
		if err != nil {
			return p.fail(err)
		}
		p.analyses[i] = analysis
	}
	p.stage = StageAnalyze
	return nil
}

// Decide builds the merged track set: one sector per (cylinder, head, sector)
// slot, chosen by validity, then confidence, then the revision quality hint.
// Sectors whose valid copies disagree bit for bit are marked weak.
func (p *Pipeline) Decide() uft.DriverError {
	if err := p.requireStage(StageAnalyze); err != nil {
		return err
	}
	merged, trackReports, err := p.mergeRevisions()
	if err != nil {
		return p.fail(err)
	}
	p.merged = merged
	p.report = Report{
		Geometry:  p.geometry,
		Revisions: len(p.revisions),
		Tracks:    trackReports,
		Disk:      p.analyzeDisk(trackReports),
	}
	p.stage = StageDecide
	return nil
}

// Preserve copies the merged tracks into the target image and attaches the
// metadata the target can carry. The target must match the merge geometry.
func (p *Pipeline) Preserve(target *uft.DiskImage) uft.DriverError {
	if err := p.requireStage(StageDecide); err != nil {
		return err
	}
	if target == nil {
		return p.fail(uft.ErrInvalidArgument.WithMessage("nil target image"))
	}
	if target.Geometry != p.geometry {
		return p.fail(uft.ErrFormatMismatch.WithMessage(fmt.Sprintf(
			"target geometry %v does not match merged geometry %v",
			target.Geometry, p.geometry)))
	}
	for _, row := range p.merged {
		for _, track := range row {
			if track == nil {
				continue
			}
			if err := target.WriteTrack(track); err != nil {
				return p.fail(err)
			}
		}
	}
	if p.opts.GenerateExtended {
		if err := target.WriteMetadata("extended", "1"); err != nil &&
			!isNotSupported(err) {
			return p.fail(err)
		}
	}
	p.stage = StagePreserve
	return nil
}

// Write flushes the target and finishes the run.
func (p *Pipeline) Write(target *uft.DiskImage) uft.DriverError {
	if err := p.requireStage(StagePreserve); err != nil {
		return err
	}
	if err := target.Flush(); err != nil {
		return p.fail(err)
	}
	p.stage = StageDone
	return nil
}

// Run drives every stage in order against the given target.
func (p *Pipeline) Run(target *uft.DiskImage) (Report, uft.DriverError) {
	if err := p.Read(); err != nil {
		return Report{}, err
	}
	if err := p.Analyze(); err != nil {
		return Report{}, err
	}
	if err := p.Decide(); err != nil {
		return Report{}, err
	}
	if err := p.Preserve(target); err != nil {
		return Report{}, err
	}
	if err := p.Write(target); err != nil {
		return Report{}, err
	}
	return p.report, nil
}

// Result returns the report once Decide has run.
func (p *Pipeline) Result() (Report, uft.DriverError) {
	if p.stage < StageDecide || p.stage == StageError {
		return Report{}, uft.ErrInvalidArgument.WithMessage(
			"no report before the DECIDE stage has finished")
	}
	return p.report, nil
}
