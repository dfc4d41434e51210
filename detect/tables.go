package detect

import "github.com/retrofloppy/uft"

// The magic table. Long unambiguous magics identify outright; two-byte
// magics (ATR, MSA, TD0) claim less and lean on structural validation and
// size to finish the job. Formats without an opener (IPF, HFE, TD0, STX) are
// still identified so callers get an honest name instead of a mismatch.
type magicEntry struct {
	format     uft.FormatID
	name       string
	version    string
	offset     int
	magic      []byte
	confidence int
}

var magicTable = []magicEntry{
	{"scp", "SuperCard Pro SCP", "", 0, []byte("SCP"), 100},
	{"woz", "Apple WOZ", "1.0", 0, []byte("WOZ1"), 100},
	{"woz", "Apple WOZ", "2.0", 0, []byte("WOZ2"), 100},
	{"ipf", "CAPS/IPF", "", 0, []byte("CAPS"), 100},
	{"hfe", "HxC HFE", "", 0, []byte("HXCPICFE"), 100},
	{"imd", "ImageDisk IMD", "", 0, []byte("IMD "), 100},
	{"cpcdsk", "Amstrad CPC DSK", "extended", 0, []byte("EXTENDED"), 100},
	{"cpcdsk", "Amstrad CPC DSK", "standard", 0, []byte("MV - CPC"), 95},
	{"g64", "Commodore G64", "", 0, []byte("GCR-1541"), 100},
	{"atx", "Atari ATX", "", 0, []byte("AT8X"), 100},
	{"86f", "86Box 86F", "", 0, []byte("86BF"), 100},
	{"stx", "Atari ST STX", "", 0, []byte("RSY"), 90},
	{"atr", "Atari ATR", "", 0, []byte{0x96, 0x02}, 85},
	{"msa", "Atari ST MSA", "", 0, []byte{0x0E, 0x0F}, 85},
	{"td0", "Teledisk TD0", "", 0, []byte("TD"), 85},
	{"td0", "Teledisk TD0", "advanced compression", 0, []byte("td"), 85},
}

// Extension hints. An extension alone is a weak signal; it mostly serves to
// lift a size match over its ambiguous siblings. ".dsk" is claimed by both
// the CPC container and the DEC RX50 raw family on purpose.
var extensionTable = map[string][]uft.FormatID{
	"d64":  {"d64"},
	"d71":  {"d71"},
	"d81":  {"d81"},
	"g64":  {"g64"},
	"adf":  {"adf"},
	"img":  {"img"},
	"ima":  {"img"},
	"dmf":  {"img"},
	"st":   {"st"},
	"msa":  {"msa"},
	"stx":  {"stx"},
	"atr":  {"atr"},
	"atx":  {"atx"},
	"imd":  {"imd"},
	"dsk":  {"cpcdsk", "rx50"},
	"edsk": {"cpcdsk"},
	"d88":  {"d88"},
	"woz":  {"woz"},
	"scp":  {"scp"},
	"hfe":  {"hfe"},
	"ipf":  {"ipf"},
	"td0":  {"td0"},
	"rx50": {"rx50"},
}

// Display names for formats reached without a magic hit.
var formatNames = map[uft.FormatID]string{
	"d64":    "Commodore D64",
	"d71":    "Commodore D71",
	"d81":    "Commodore D81",
	"g64":    "Commodore G64",
	"adf":    "Amiga Disk File",
	"img":    "Raw PC sector image",
	"st":     "Atari ST raw image",
	"rx50":   "DEC RX50 image",
	"msa":    "Atari ST MSA",
	"stx":    "Atari ST STX",
	"atr":    "Atari ATR",
	"atx":    "Atari ATX",
	"imd":    "ImageDisk IMD",
	"cpcdsk": "Amstrad CPC DSK",
	"d88":    "PC-98 D88",
	"woz":    "Apple WOZ",
	"scp":    "SuperCard Pro SCP",
	"hfe":    "HxC HFE",
	"ipf":    "CAPS/IPF",
	"td0":    "Teledisk TD0",
	"86f":    "86Box 86F",
	"nib":    "Apple II NIB",
}
