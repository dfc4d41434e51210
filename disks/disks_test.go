package disks_test

import (
	"testing"

	"github.com/retrofloppy/uft/disks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProfile(t *testing.T) {
	p, err := disks.GetProfile("pc1440")
	require.NoError(t, err)
	assert.EqualValues(t, 80, p.Cylinders)
	assert.EqualValues(t, 2, p.Heads)
	assert.EqualValues(t, 18, p.SectorsPerTrack)
	assert.EqualValues(t, 1474560, p.TotalSizeBytes())

	_, err = disks.GetProfile("zip100")
	assert.Error(t, err)
}

func TestMatchSize(t *testing.T) {
	matches := disks.MatchSize("pc", 368640)
	require.Len(t, matches, 1)
	assert.Equal(t, "pc360", matches[0].Slug)

	// 720K exists for both PC and ST; family scoping keeps them apart.
	assert.Len(t, disks.MatchSize("pc", 737280), 1)
	assert.Len(t, disks.MatchSize("atarist", 737280), 1)
	assert.Empty(t, disks.MatchSize("dec", 737280))
}

func TestRX50Profile(t *testing.T) {
	p, err := disks.GetProfile("rx50")
	require.NoError(t, err)
	assert.EqualValues(t, 409600, p.TotalSizeBytes())
}
