package uft_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/retrofloppy/uft"
)

type fakeOps struct{}

func (fakeOps) ReadTrack(img *uft.DiskImage, cylinder, head uint) (*uft.Track, uft.DriverError) {
	return &uft.Track{Cylinder: cylinder, Head: head}, nil
}
func (fakeOps) WriteTrack(img *uft.DiskImage, track *uft.Track) uft.DriverError { return nil }
func (fakeOps) Flush(img *uft.DiskImage) uft.DriverError                        { return nil }

// fakePlugin is a minimal plugin whose Open either succeeds, reports a
// mismatch, or fails hard, so the dispatcher's retry logic can be exercised.
type fakePlugin struct {
	id      uft.FormatID
	caps    uft.Capability
	openErr uft.DriverError
	opened  int
}

func (p *fakePlugin) ID() uft.FormatID             { return p.id }
func (p *fakePlugin) Name() string                 { return string(p.id) }
func (p *fakePlugin) Extensions() []string         { return []string{string(p.id)} }
func (p *fakePlugin) Capabilities() uft.Capability { return p.caps }

func (p *fakePlugin) Probe(header []byte, fileSize int64) uft.ProbeResult {
	return uft.ProbeResult{Matched: true, Confidence: 50}
}

func (p *fakePlugin) Open(stream uft.ImageStream, readOnly bool) (*uft.DiskImage, uft.DriverError) {
	p.opened++
	if p.openErr != nil {
		return nil, p.openErr
	}
	geometry := uft.Geometry{Cylinders: 1, Heads: 1, SectorsPerTrack: 1, SectorSize: 512}
	return uft.NewDiskImage(p.id, geometry, stream, fakeOps{}, nil, readOnly), nil
}

func (p *fakePlugin) Create(stream uft.ImageStream, geometry uft.Geometry) (*uft.DiskImage, uft.DriverError) {
	return nil, uft.ErrNotSupported
}

// fakeDetector returns a fixed ranking regardless of input.
type fakeDetector struct {
	reports []uft.DetectionReport
}

func (d fakeDetector) Detect(header []byte, fileSize int64, extension string) []uft.DetectionReport {
	return d.reports
}

func stream() uft.ImageStream {
	return bytesextra.NewReadWriteSeeker(make([]byte, 1024))
}

func TestNewRegistryRejectsDuplicateIDs(t *testing.T) {
	_, err := uft.NewRegistry(
		&fakePlugin{id: "one", caps: uft.CapRead},
		&fakePlugin{id: "one", caps: uft.CapRead},
	)
	assert.ErrorIs(t, err, uft.ErrInvalidArgument)
}

func TestRegistryLookupAndOrder(t *testing.T) {
	a := &fakePlugin{id: "aaa", caps: uft.CapRead}
	b := &fakePlugin{id: "bbb", caps: uft.CapRead}
	reg, err := uft.NewRegistry(a, b)
	require.NoError(t, err)

	got, ok := reg.Get("bbb")
	require.True(t, ok)
	assert.Equal(t, uft.FormatID("bbb"), got.ID())

	_, ok = reg.Get("zzz")
	assert.False(t, ok)

	plugins := reg.Plugins()
	require.Len(t, plugins, 2)
	assert.Equal(t, uft.FormatID("aaa"), plugins[0].ID())
	assert.Equal(t, uft.FormatID("bbb"), plugins[1].ID())
}

func TestDetectAndOpenPicksHighestConfidence(t *testing.T) {
	low := &fakePlugin{id: "low", caps: uft.CapRead}
	high := &fakePlugin{id: "high", caps: uft.CapRead}
	reg, err := uft.NewRegistry(low, high)
	require.NoError(t, err)

	detector := fakeDetector{reports: []uft.DetectionReport{
		{Format: "low", Confidence: 40},
		{Format: "high", Confidence: 90},
	}}

	img, err := reg.DetectAndOpen(detector, stream(), 1024, "", true)
	require.NoError(t, err)
	assert.Equal(t, uft.FormatID("high"), img.Format)
	assert.Zero(t, low.opened, "the weaker candidate must not be tried")
}

func TestDetectAndOpenSkipsUnusableCandidates(t *testing.T) {
	// The best-ranked candidate has no opener capability and the second is
	// not registered at all; the third must win.
	noRead := &fakePlugin{id: "noread", caps: uft.CapCreate}
	usable := &fakePlugin{id: "usable", caps: uft.CapRead}
	reg, err := uft.NewRegistry(noRead, usable)
	require.NoError(t, err)

	detector := fakeDetector{reports: []uft.DetectionReport{
		{Format: "noread", Confidence: 95},
		{Format: "ghost", Confidence: 90},
		{Format: "usable", Confidence: 60},
	}}

	img, err := reg.DetectAndOpen(detector, stream(), 1024, "", true)
	require.NoError(t, err)
	assert.Equal(t, uft.FormatID("usable"), img.Format)
	assert.Zero(t, noRead.opened)
}

func TestDetectAndOpenRetriesOnMismatch(t *testing.T) {
	optimistic := &fakePlugin{
		id: "optimistic", caps: uft.CapRead,
		openErr: uft.ErrFormatMismatch.WithMessage("wrong signature after all"),
	}
	fallback := &fakePlugin{id: "fallback", caps: uft.CapRead}
	reg, err := uft.NewRegistry(optimistic, fallback)
	require.NoError(t, err)

	detector := fakeDetector{reports: []uft.DetectionReport{
		{Format: "optimistic", Confidence: 80},
		{Format: "fallback", Confidence: 55},
	}}

	img, err := reg.DetectAndOpen(detector, stream(), 1024, "", true)
	require.NoError(t, err)
	assert.Equal(t, uft.FormatID("fallback"), img.Format)
	assert.Equal(t, 1, optimistic.opened)
}

func TestDetectAndOpenPropagatesHardFailures(t *testing.T) {
	broken := &fakePlugin{
		id: "broken", caps: uft.CapRead,
		openErr: uft.ErrCorruptImage.WithMessage("index table truncated"),
	}
	fallback := &fakePlugin{id: "fallback", caps: uft.CapRead}
	reg, err := uft.NewRegistry(broken, fallback)
	require.NoError(t, err)

	detector := fakeDetector{reports: []uft.DetectionReport{
		{Format: "broken", Confidence: 80},
		{Format: "fallback", Confidence: 55},
	}}

	_, err = reg.DetectAndOpen(detector, stream(), 1024, "", true)
	assert.ErrorIs(t, err, uft.ErrCorruptImage)
	assert.Zero(t, fallback.opened, "hard failures must not fall through")
}

func TestDetectAndOpenBreaksTiesOnStructure(t *testing.T) {
	loose := &fakePlugin{id: "loose", caps: uft.CapRead}
	strict := &fakePlugin{id: "strict", caps: uft.CapRead}
	reg, err := uft.NewRegistry(loose, strict)
	require.NoError(t, err)

	detector := fakeDetector{reports: []uft.DetectionReport{
		{Format: "loose", Confidence: 70, StructuralWeight: 0},
		{Format: "strict", Confidence: 70, StructuralWeight: 20},
	}}

	img, err := reg.DetectAndOpen(detector, stream(), 1024, "", true)
	require.NoError(t, err)
	assert.Equal(t, uft.FormatID("strict"), img.Format)
}

func TestDetectAndOpenWithNoCandidates(t *testing.T) {
	reg, err := uft.NewRegistry()
	require.NoError(t, err)

	_, err = reg.DetectAndOpen(fakeDetector{}, stream(), 1024, "", true)
	assert.ErrorIs(t, err, uft.ErrFormatMismatch)
}
