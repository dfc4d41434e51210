// Package disks carries the registry of predefined raw-floppy profiles. Raw
// sector images (IMG, ST, RX50, MSX DMF) have no header, so their geometry
// has to come from somewhere; this table is that somewhere, both for size
// detection and for creating fresh images.
package disks

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
)

// Profile is one predefined raw-floppy layout.
type Profile struct {
	Slug            string `csv:"slug"`
	Name            string `csv:"name"`
	Cylinders       uint   `csv:"cylinders"`
	Heads           uint   `csv:"heads"`
	SectorsPerTrack uint   `csv:"sectors_per_track"`
	SectorSize      uint   `csv:"sector_size"`

	// Family groups profiles by host platform ("pc", "atarist", "dec",
	// "msx"); plugins restrict size lookups to their own family.
	Family string `csv:"family"`
}

// TotalSizeBytes gives the exact file size of a raw image with this layout.
func (p *Profile) TotalSizeBytes() int64 {
	return int64(p.Cylinders) * int64(p.Heads) *
		int64(p.SectorsPerTrack) * int64(p.SectorSize)
}

//go:embed floppy-profiles.csv
var profilesRawCSV string
var profiles map[string]Profile
var profileOrder []string

// GetProfile returns the profile registered under slug.
func GetProfile(slug string) (Profile, error) {
	profile, ok := profiles[slug]
	if ok {
		return profile, nil
	}
	return Profile{}, fmt.Errorf("no predefined floppy profile with slug %q", slug)
}

// ProfilesByFamily returns every profile of one family in table order.
func ProfilesByFamily(family string) []Profile {
	var out []Profile
	for _, slug := range profileOrder {
		if p := profiles[slug]; p.Family == family {
			out = append(out, p)
		}
	}
	return out
}

// MatchSize returns the profiles of a family whose raw size equals size.
func MatchSize(family string, size int64) []Profile {
	var out []Profile
	for _, p := range ProfilesByFamily(family) {
		if p.TotalSizeBytes() == size {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	reader := strings.NewReader(profilesRawCSV)
	csvReader := csv.NewReader(reader)
	csvReader.Comma = '|'

	decoder, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		panic(fmt.Errorf("failed to create CSV decoder: %w", err))
	}

	profiles = make(map[string]Profile)

	for {
		var row Profile
		if err = decoder.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			panic(fmt.Errorf("failed to decode row %d: %w", len(profiles)+1, err))
		}

		if _, exists := profiles[row.Slug]; exists {
			panic(fmt.Errorf(
				"duplicate floppy profile %q on row %d", row.Slug, len(profiles)+1))
		}
		profiles[row.Slug] = row
		profileOrder = append(profileOrder, row.Slug)
	}
}
