package uft

import (
	"errors"
	"fmt"
	"sort"
)

// DetectionReport is one candidate identification produced by a detector.
// StructuralWeight records how much of the confidence came from structural
// validation; the dispatcher uses it to break confidence ties in favor of
// the stricter match.
type DetectionReport struct {
	Format           FormatID
	Name             string
	Version          string
	Confidence       int
	StructuralWeight int
	Compressed       bool
}

// Detector turns a leading file window, the total size, and the lower-cased
// file extension (without dot) into ranked candidates.
type Detector interface {
	Detect(header []byte, fileSize int64, extension string) []DetectionReport
}

// Registry is an explicit plugin table passed into the dispatcher. There is
// no process-wide registry; callers build one (usually via
// formats.DefaultRegistry) and share it freely, as it is immutable after
// construction.
type Registry struct {
	plugins map[FormatID]FormatPlugin
	order   []FormatID
}

// NewRegistry builds a registry from the given plugins. Duplicate format ids
// are an error.
func NewRegistry(plugins ...FormatPlugin) (*Registry, DriverError) {
	reg := &Registry{plugins: make(map[FormatID]FormatPlugin)}
	for _, p := range plugins {
		if _, exists := reg.plugins[p.ID()]; exists {
			return nil, ErrInvalidArgument.WithMessage(
				fmt.Sprintf("duplicate plugin id %q", p.ID()))
		}
		reg.plugins[p.ID()] = p
		reg.order = append(reg.order, p.ID())
	}
	return reg, nil
}

// Get returns the plugin registered under id.
func (r *Registry) Get(id FormatID) (FormatPlugin, bool) {
	p, ok := r.plugins[id]
	return p, ok
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []FormatPlugin {
	out := make([]FormatPlugin, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.plugins[id])
	}
	return out
}

// Probe runs every plugin's probe over the header window and returns claims
// sorted by descending confidence.
func (r *Registry) Probe(header []byte, fileSize int64) []DetectionReport {
	var reports []DetectionReport
	for _, id := range r.order {
		p := r.plugins[id]
		result := p.Probe(header, fileSize)
		if result.Matched {
			reports = append(reports, DetectionReport{
				Format:     id,
				Name:       p.Name(),
				Confidence: result.Confidence,
			})
		}
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Confidence > reports[j].Confidence
	})
	return reports
}

// DetectAndOpen identifies the stream with the detector, picks the
// highest-confidence plugin that claims READ, and delegates to its Open.
// Confidence ties break toward the report with the larger structural weight.
func (r *Registry) DetectAndOpen(
	detector Detector,
	stream ImageStream,
	fileSize int64,
	extension string,
	readOnly bool,
) (*DiskImage, DriverError) {
	header := make([]byte, 512)
	n, err := readHeaderWindow(stream, header)
	if err != nil {
		return nil, err
	}
	header = header[:n]

	reports := detector.Detect(header, fileSize, extension)
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].Confidence != reports[j].Confidence {
			return reports[i].Confidence > reports[j].Confidence
		}
		return reports[i].StructuralWeight > reports[j].StructuralWeight
	})

	for _, report := range reports {
		plugin, ok := r.plugins[report.Format]
		if !ok || !plugin.Capabilities().Has(CapRead) {
			continue
		}
		img, openErr := plugin.Open(stream, readOnly)
		if openErr == nil {
			return img, nil
		}
		// A mismatch means the detection was optimistic; let the next
		// candidate try. Anything else is a hard failure.
		if !errors.Is(openErr, ErrFormatMismatch) {
			return nil, openErr
		}
		if _, seekErr := stream.Seek(0, 0); seekErr != nil {
			return nil, ErrFileSeek.Wrap(seekErr)
		}
	}
	return nil, ErrFormatMismatch.WithMessage("no plugin claims this image")
}

func readHeaderWindow(stream ImageStream, buf []byte) (int, DriverError) {
	if _, err := stream.Seek(0, 0); err != nil {
		return 0, ErrFileSeek.Wrap(err)
	}
	total := 0
	for total < len(buf) {
		n, err := stream.Read(buf[total:])
		total += n
		if err != nil {
			break
		}
	}
	if _, err := stream.Seek(0, 0); err != nil {
		return 0, ErrFileSeek.Wrap(err)
	}
	return total, nil
}
