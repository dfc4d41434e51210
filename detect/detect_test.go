package detect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/detect"
)

func top(t *testing.T, reports []uft.DetectionReport) uft.DetectionReport {
	require.NotEmpty(t, reports)
	return reports[0]
}

func TestStrongMagicStandsAlone(t *testing.T) {
	engine := detect.NewEngine()

	header := append([]byte("SCP"), make([]byte, 32)...)
	report := top(t, engine.Detect(header, 500000, ""))
	assert.Equal(t, uft.FormatID("scp"), report.Format)
	assert.Equal(t, 100, report.Confidence)
}

func TestWOZMagicCarriesVersion(t *testing.T) {
	engine := detect.NewEngine()

	header := append([]byte("WOZ2"), 0xFF, 0x0A, 0x0D, 0x0A)
	report := top(t, engine.Detect(header, 250000, "woz"))
	assert.Equal(t, uft.FormatID("woz"), report.Format)
	assert.Equal(t, "2.0", report.Version)
	assert.Equal(t, 100, report.Confidence)
	assert.Equal(t, 15, report.StructuralWeight, "guard bytes add structural weight")
}

func TestSizePlusExtensionReinforce(t *testing.T) {
	engine := detect.NewEngine()

	bySize := top(t, engine.Detect(nil, 174848, ""))
	assert.Equal(t, uft.FormatID("d64"), bySize.Format)
	assert.Equal(t, 75, bySize.Confidence)

	both := top(t, engine.Detect(nil, 174848, "d64"))
	assert.Equal(t, uft.FormatID("d64"), both.Format)
	assert.Equal(t, (75+50)/2+10, both.Confidence)
}

func TestExtensionAloneIsWeak(t *testing.T) {
	engine := detect.NewEngine()

	report := top(t, engine.Detect(nil, 12345, "d64"))
	assert.Equal(t, uft.FormatID("d64"), report.Format)
	assert.Equal(t, 50, report.Confidence)
}

func TestD64StructuralBonusNeedsFullWindow(t *testing.T) {
	engine := detect.NewEngine()

	// A full-file window exposes the BAM; the usual 512-byte window cannot.
	image := make([]byte, 175531)
	bamOffset := 17 * 21 * 256
	image[bamOffset], image[bamOffset+1], image[bamOffset+2] = 18, 1, 'A'

	full := top(t, engine.Detect(image, int64(len(image)), "d64"))
	assert.Equal(t, uft.FormatID("d64"), full.Format)
	assert.Equal(t, 100, full.Confidence)
	assert.Equal(t, 25, full.StructuralWeight)

	short := top(t, engine.Detect(image[:512], int64(len(image)), "d64"))
	assert.Equal(t, 0, short.StructuralWeight)
}

func TestTwoByteMagicLeansOnStructure(t *testing.T) {
	engine := detect.NewEngine()

	// 720 single-density sectors: paragraph count agrees with file size.
	header := make([]byte, 16)
	header[0], header[1] = 0x96, 0x02
	header[2], header[3] = 0x80, 0x16 // 5760 paragraphs
	header[4] = 128
	fileSize := int64(16 + 720*128)

	report := top(t, engine.Detect(header, fileSize, "atr"))
	assert.Equal(t, uft.FormatID("atr"), report.Format)
	assert.Equal(t, 100, report.Confidence, "magic 85 plus structural 15")

	// Break the size agreement and the bonus disappears.
	bad := top(t, engine.Detect(header, fileSize+64, "atr"))
	assert.Equal(t, 85, bad.Confidence)
}

func TestAmbiguousSizeRankedByStructure(t *testing.T) {
	engine := detect.NewEngine()

	// 901120 bytes with a valid Amiga bootblock: ADF must outrank anything
	// else that matches on size alone.
	header := make([]byte, 512)
	copy(header, "DOS")
	header[3] = 1

	reports := engine.Detect(header, 901120, "")
	report := top(t, reports)
	assert.Equal(t, uft.FormatID("adf"), report.Format)
	assert.Equal(t, "FFS", report.Version)
}

func TestGzipShortCircuit(t *testing.T) {
	engine := detect.NewEngine()

	header := []byte{0x1F, 0x8B, 0x08, 0x00}
	reports := engine.Detect(header, 400000, "adz")
	require.Len(t, reports, 1)
	assert.Equal(t, uft.FormatID("adf"), reports[0].Format)
	assert.True(t, reports[0].Compressed)

	unknown := engine.Detect(header, 400000, "zip")
	require.Len(t, unknown, 1)
	assert.Equal(t, uft.FormatID("gzip"), unknown[0].Format)
}

func TestCPCVariantsDistinguished(t *testing.T) {
	engine := detect.NewEngine()

	extended := top(t, engine.Detect([]byte("EXTENDED CPC DSK File"), 194816, "dsk"))
	assert.Equal(t, uft.FormatID("cpcdsk"), extended.Format)
	assert.Equal(t, "extended", extended.Version)

	standard := top(t, engine.Detect([]byte("MV - CPCEMU Disk-File"), 194816, "dsk"))
	assert.Equal(t, uft.FormatID("cpcdsk"), standard.Format)
	assert.Equal(t, "standard", standard.Version)
}

func TestReportsSortedByConfidence(t *testing.T) {
	engine := detect.NewEngine()

	// .dsk claims both the CPC container and the RX50 family; with an RX50
	// size match the raw family must rank above the extension-only claim.
	reports := engine.Detect(nil, 409600, "dsk")
	require.GreaterOrEqual(t, len(reports), 2)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i-1].Confidence, reports[i].Confidence)
	}
	assert.Equal(t, uft.FormatID("rx50"), reports[0].Format)
}
