package detect

import (
	"encoding/binary"
	"fmt"

	"github.com/retrofloppy/uft"
)

// Structural validation. Each check inspects bytes the format promises to
// have and returns an additive weight (capped at maxStructural) plus an
// optional version string. Checks degrade gracefully when the supplied
// window is shorter than what they want to look at: callers with only a
// 512-byte header simply get less structural confirmation than callers that
// pass the whole file.

// d64BAMOffset is track 18 sector 0: tracks 1..17 hold 21 sectors each.
const d64BAMOffset = 17 * 21 * 256

var adfFlavorNames = [...]string{"OFS", "FFS", "OFS/INTL", "FFS/INTL", "OFS/DC", "FFS/DC"}

func structuralScore(format uft.FormatID, header []byte, fileSize int64) (int, string) {
	switch format {
	case "d64":
		if len(header) >= d64BAMOffset+3 {
			bam := header[d64BAMOffset:]
			if bam[0] == 18 && bam[1] == 1 && bam[2] == 'A' {
				return 25, ""
			}
		}
	case "adf":
		if len(header) >= 4 && string(header[:3]) == "DOS" && header[3] <= 5 {
			return 25, adfFlavorNames[header[3]]
		}
	case "woz":
		if len(header) >= 8 &&
			header[4] == 0xFF && header[5] == 0x0A && header[6] == 0x0D && header[7] == 0x0A {
			return 15, ""
		}
	case "scp":
		if len(header) >= 11 && header[10] <= 2 {
			version := fmt.Sprintf("%d.%d", header[3]>>4, header[3]&0x0F)
			return 15, version
		}
	case "d88":
		if len(header) >= 0x20 {
			media, prot := header[0x1B], header[0x1A]
			declared := int64(binary.LittleEndian.Uint32(header[0x1C:]))
			validMedia := media == 0x00 || media == 0x10 || media == 0x20 ||
				media == 0x30 || media == 0x40
			if validMedia && (prot == 0x00 || prot == 0x10) && declared == fileSize {
				return 20, ""
			}
		}
	case "atr":
		if len(header) >= 16 {
			paragraphs := int64(binary.LittleEndian.Uint16(header[2:])) |
				int64(header[6])<<16
			if 16+paragraphs*16 == fileSize {
				return 15, ""
			}
		}
	case "msa":
		if len(header) >= 10 {
			spt := binary.BigEndian.Uint16(header[2:])
			sides := binary.BigEndian.Uint16(header[4:])
			start := binary.BigEndian.Uint16(header[6:])
			end := binary.BigEndian.Uint16(header[8:])
			if spt >= 8 && spt <= 12 && sides <= 1 && start <= end && end <= 85 {
				return 15, ""
			}
		}
	case "g64":
		if len(header) >= 10 && header[9] <= 84*2 {
			return 10, ""
		}
	}
	return 0, ""
}
