package cbmdos

import (
	"github.com/retrofloppy/uft"
)

// blockRef addresses a 256-byte block by 1-based logical track.
type blockRef struct {
	Track  uint8
	Sector uint8
}

// bamSlot locates one track's BAM bookkeeping: the block holding the free
// count, the block holding the bitmap (not always the same on the 1571) and
// the byte offsets within each.
type bamSlot struct {
	countBlock  blockRef
	countOffset int
	bitsBlock   blockRef
	bitsOffset  int
	bitsLen     int
}

// Layout captures everything DOS-level code needs to know about one member
// of the Commodore family.
type Layout struct {
	Format      uft.FormatID
	Tracks      uint8
	DirTrack    uint8
	HeaderBlock blockRef // block carrying disk name and id
	FirstDir    blockRef
	DOSVersion  byte
	NameOffset  int
	IDOffset    int
	SectorsOn   func(track uint8) uint8
	Slot        func(track uint8) bamSlot
	ToPhysical  func(track uint8) (cylinder, head uint)
}

func sectorsOn1541(track uint8) uint8 {
	return uint8(cbmZoneSectors(uint(track)))
}

func cbmZoneSectors(track uint) uint {
	switch {
	case track >= 1 && track <= 17:
		return 21
	case track <= 24:
		return 19
	case track <= 30:
		return 18
	case track >= 31:
		return 17
	}
	return 0
}

func d64Layout(tracks uint8) *Layout {
	return &Layout{
		Format:      "d64",
		Tracks:      tracks,
		DirTrack:    18,
		HeaderBlock: blockRef{18, 0},
		FirstDir:    blockRef{18, 1},
		DOSVersion:  0x41,
		NameOffset:  0x90,
		IDOffset:    0xA2,
		SectorsOn:   sectorsOn1541,
		Slot: func(track uint8) bamSlot {
			offset := 4 + (int(track)-1)*4
			if track > 35 {
				// 40-track extension, Dolphin DOS placement.
				offset = 0xAC + (int(track)-36)*4
			}
			return bamSlot{
				countBlock: blockRef{18, 0}, countOffset: offset,
				bitsBlock: blockRef{18, 0}, bitsOffset: offset + 1, bitsLen: 3,
			}
		},
		ToPhysical: func(track uint8) (uint, uint) { return uint(track) - 1, 0 },
	}
}

func d71Layout() *Layout {
	l := d64Layout(35)
	l.Format = "d71"
	l.Tracks = 70
	l.SectorsOn = func(track uint8) uint8 {
		if track > 35 {
			track -= 35
		}
		return sectorsOn1541(track)
	}
	base := l.Slot
	l.Slot = func(track uint8) bamSlot {
		if track <= 35 {
			return base(track)
		}
		return bamSlot{
			countBlock: blockRef{18, 0}, countOffset: 0xDD + int(track) - 36,
			bitsBlock: blockRef{53, 0}, bitsOffset: (int(track) - 36) * 3, bitsLen: 3,
		}
	}
	l.ToPhysical = func(track uint8) (uint, uint) {
		if track <= 35 {
			return uint(track) - 1, 0
		}
		return uint(track) - 36, 1
	}
	return l
}

func d81Layout() *Layout {
	return &Layout{
		Format:      "d81",
		Tracks:      80,
		DirTrack:    40,
		HeaderBlock: blockRef{40, 0},
		FirstDir:    blockRef{40, 3},
		DOSVersion:  0x44,
		NameOffset:  0x04,
		IDOffset:    0x16,
		SectorsOn:   func(uint8) uint8 { return 40 },
		Slot: func(track uint8) bamSlot {
			bam := blockRef{40, 1}
			index := int(track) - 1
			if track > 40 {
				bam = blockRef{40, 2}
				index = int(track) - 41
			}
			offset := 16 + index*6
			return bamSlot{
				countBlock: bam, countOffset: offset,
				bitsBlock: bam, bitsOffset: offset + 1, bitsLen: 5,
			}
		},
		ToPhysical: func(track uint8) (uint, uint) { return uint(track) - 1, 0 },
	}
}

// LayoutFor picks the DOS layout for an open image, or nil when the format
// is not a Commodore sector image.
func LayoutFor(img *uft.DiskImage) *Layout {
	switch img.Format {
	case "d64":
		return d64Layout(uint8(img.Geometry.Cylinders))
	case "d71":
		return d71Layout()
	case "d81":
		return d81Layout()
	}
	return nil
}
