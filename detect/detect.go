// Package detect identifies disk-image formats from three independent
// signals: magic bytes in the leading window, exact file size against a
// table of known layouts, and the file extension. Format-specific structural
// checks then confirm or reject what the cheap signals suggested. The result
// is a ranked list of confidence-scored candidates, never a single guess.
package detect

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/retrofloppy/uft"
)

//go:embed sizes.csv
var sizesRawCSV string

type sizeEntry struct {
	Format     uft.FormatID `csv:"format"`
	Size       int64        `csv:"size"`
	Version    string       `csv:"version"`
	Confidence int          `csv:"confidence"`
}

var sizeTable []sizeEntry

func init() {
	csvReader := csv.NewReader(strings.NewReader(sizesRawCSV))
	csvReader.Comma = '|'
	decoder, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		panic(fmt.Errorf("failed to create CSV decoder: %w", err))
	}
	if err := decoder.Decode(&sizeTable); err != nil {
		panic(fmt.Errorf("failed to parse size table: %w", err))
	}
}

// Engine implements uft.Detector over the built-in tables.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// candidate accumulates the per-signal scores for one format before
// aggregation.
type candidate struct {
	name       string
	version    string
	magic      int
	size       int
	extension  int
	structural int
	compressed bool
}

const (
	extensionConfidence = 50
	maxStructural       = 25
)

// Detect ranks format candidates for a leading window, file size, and
// lower-cased extension (no dot). Aggregation: a magic hit stands alone;
// otherwise size and extension reinforce each other; structural validation
// is additive on top of either.
func (e *Engine) Detect(header []byte, fileSize int64, extension string) []uft.DetectionReport {
	candidates := map[uft.FormatID]*candidate{}
	get := func(format uft.FormatID) *candidate {
		c, ok := candidates[format]
		if !ok {
			c = &candidate{name: formatNames[format]}
			candidates[format] = c
		}
		return c
	}

	// Compressed containers short-circuit: the payload needs inflating
	// before any other signal means anything.
	if len(header) >= 2 && header[0] == 0x1F && header[1] == 0x8B {
		return gzipReports(extension)
	}

	for _, m := range magicTable {
		if m.offset+len(m.magic) > len(header) {
			continue
		}
		if string(header[m.offset:m.offset+len(m.magic)]) != string(m.magic) {
			continue
		}
		c := get(m.format)
		if m.confidence > c.magic {
			c.name = m.name
			c.magic = m.confidence
			if m.version != "" {
				c.version = m.version
			}
		}
	}

	for _, s := range sizeTable {
		if s.Size != fileSize {
			continue
		}
		c := get(s.Format)
		if s.Confidence > c.size {
			c.size = s.Confidence
			if c.version == "" {
				c.version = s.Version
			}
		}
	}

	for _, format := range extensionTable[extension] {
		get(format).extension = extensionConfidence
	}

	for format, c := range candidates {
		weight, version := structuralScore(format, header, fileSize)
		c.structural = weight
		if version != "" {
			c.version = version
		}
	}

	var reports []uft.DetectionReport
	for format, c := range candidates {
		confidence := aggregate(c)
		if confidence <= 0 {
			continue
		}
		reports = append(reports, uft.DetectionReport{
			Format:           format,
			Name:             c.name,
			Version:          c.version,
			Confidence:       confidence,
			StructuralWeight: c.structural,
			Compressed:       c.compressed,
		})
	}
	sortReports(reports)
	return reports
}

func aggregate(c *candidate) int {
	var confidence int
	switch {
	case c.magic > 0:
		confidence = c.magic
	case c.size > 0 && c.extension > 0:
		confidence = (c.size+c.extension)/2 + 10
	case c.size > 0:
		confidence = c.size
	case c.extension > 0:
		confidence = c.extension
	default:
		// Structural evidence alone never identifies a format.
		return 0
	}
	confidence += c.structural
	if confidence > 100 {
		confidence = 100
	}
	return confidence
}

func sortReports(reports []uft.DetectionReport) {
	for i := 1; i < len(reports); i++ {
		for j := i; j > 0; j-- {
			a, b := reports[j-1], reports[j]
			if a.Confidence > b.Confidence ||
				(a.Confidence == b.Confidence && a.StructuralWeight >= b.StructuralWeight) {
				break
			}
			reports[j-1], reports[j] = b, a
		}
	}
}

// gzipReports resolves a gzip payload by extension. ADZ is a gzipped ADF,
// NBZ a gzipped Apple NIB; anything else is reported as an unknown
// compressed image.
func gzipReports(extension string) []uft.DetectionReport {
	switch extension {
	case "adz":
		return []uft.DetectionReport{{
			Format: "adf", Name: "Amiga Disk File", Version: "ADZ (gzip)",
			Confidence: 90, Compressed: true,
		}}
	case "nbz":
		return []uft.DetectionReport{{
			Format: "nib", Name: "Apple II NIB", Version: "NBZ (gzip)",
			Confidence: 90, Compressed: true,
		}}
	}
	return []uft.DetectionReport{{
		Format: "gzip", Name: "gzip-compressed image",
		Confidence: 40, Compressed: true,
	}}
}
