// Package ataridos implements the Atari 8-bit DOS 2.x family on ATR and raw
// sector images: the sector-360 VTOC, the eight-sector directory, and the
// 3-byte sector links that chain file data. MyDOS volumes beyond 720 sectors
// are handled through the DOS 2.5 VTOC2 extension; SpartaDOS volumes are
// recognized and readable but never written.
package ataridos

import (
	"errors"
	"fmt"
	"strings"

	"github.com/retrofloppy/uft"
)

// Variant is the DOS flavor that formatted the volume.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantDOS2
	VariantDOS25
	VariantMyDOS
	VariantSpartaDOS
)

var variantNames = map[Variant]string{
	VariantUnknown:   "unknown",
	VariantDOS2:      "Atari DOS 2.x",
	VariantDOS25:     "Atari DOS 2.5",
	VariantMyDOS:     "MyDOS",
	VariantSpartaDOS: "SpartaDOS",
}

func (v Variant) String() string { return variantNames[v] }

const (
	bootSectors = 3
	vtocSector  = 360
	dirStart    = 361
	dirSectors  = 8
	entrySize   = 16
	maxFiles    = dirSectors * 8

	vtoc2Sector = 1024 // DOS 2.5 enhanced density only

	// Directory entry flag bits.
	flagOpen    = 0x01
	flagDOS2    = 0x02
	flagSubdir  = 0x10 // MyDOS
	flagLocked  = 0x20
	flagInUse   = 0x40
	flagDeleted = 0x80
)

// Filesystem is a DOS session on an open Atari image. Single-threaded, like
// the image it wraps.
type Filesystem struct {
	img        *uft.DiskImage
	total      uint16
	sectorSize uint
	variant    Variant
}

// Open attaches DOS semantics to an image. SpartaDOS volumes open read-only
// regardless of the image's own flag.
func Open(img *uft.DiskImage) (*Filesystem, uft.DriverError) {
	g := img.Geometry
	if g.Heads != 1 || (g.SectorSize != 128 && g.SectorSize != 256) {
		return nil, uft.ErrNotSupported.WithMessage(
			"Atari DOS volumes are single-sided with 128- or 256-byte sectors")
	}
	f := &Filesystem{
		img:        img,
		total:      uint16(g.TotalSectors()),
		sectorSize: g.SectorSize,
	}
	if f.total < dirStart+dirSectors {
		return nil, uft.ErrFormatMismatch.WithMessage("volume too small to hold a DOS directory")
	}
	if err := f.detectVariant(); err != nil {
		return nil, err
	}
	return f, nil
}

// Variant returns the detected DOS flavor.
func (f *Filesystem) Variant() Variant { return f.variant }

func (f *Filesystem) detectVariant() uft.DriverError {
	boot, err := f.sector(1)
	if err != nil {
		return err
	}
	// The SpartaDOS superblock carries its version at offset 7.
	if boot[7] == 0x20 || boot[7] == 0x21 {
		f.variant = VariantSpartaDOS
		return nil
	}

	vtoc, err := f.sector(vtocSector)
	if err != nil {
		return err
	}
	declared := uint16(vtoc[1]) | uint16(vtoc[2])<<8
	if declared > 720 {
		f.variant = VariantMyDOS
		return nil
	}
	subdirs := false
	err = f.forEachRawEntry(func(raw []byte, _ uint8) bool {
		if raw[0]&flagSubdir != 0 && raw[0]&flagInUse != 0 {
			subdirs = true
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	switch {
	case subdirs:
		f.variant = VariantMyDOS
	case f.total == 1040:
		f.variant = VariantDOS25
	case vtoc[0] <= 2:
		f.variant = VariantDOS2
	default:
		f.variant = VariantUnknown
	}
	return nil
}

// sector returns the live buffer of a 1-based absolute sector.
func (f *Filesystem) sector(number uint16) ([]byte, uft.DriverError) {
	if number < 1 || number > f.total {
		return nil, uft.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"sector %d outside volume of %d sectors", number, f.total))
	}
	g := f.img.Geometry
	linear := uint(number - 1)
	sector, err := f.img.ReadSector(
		linear/g.SectorsPerTrack, 0, uint8(linear%g.SectorsPerTrack+1))
	if err != nil {
		return nil, err
	}
	return sector.Data, nil
}

// commit pushes the track holding a sector back into the image.
func (f *Filesystem) commit(number uint16) uft.DriverError {
	g := f.img.Geometry
	track, err := f.img.ReadTrack(uint(number-1)/g.SectorsPerTrack, 0)
	if err != nil {
		return err
	}
	return f.img.WriteTrack(track)
}

func (f *Filesystem) checkWritable() uft.DriverError {
	if f.img.ReadOnly {
		return uft.ErrReadOnlyImage
	}
	if f.variant == VariantSpartaDOS {
		return uft.ErrNotSupported.WithMessage("SpartaDOS volumes are read-only")
	}
	return nil
}

// dataPerSector is the payload capacity: the sector minus its 3 link bytes.
// Boot sectors on double-density disks are short, but files never live there.
func (f *Filesystem) dataPerSector() int {
	return int(f.sectorSize) - 3
}

// parseName splits "NAME.EXT" into space-padded upper-case fields.
func parseName(input string) (name [8]byte, ext [3]byte, err uft.DriverError) {
	for i := range name {
		name[i] = ' '
	}
	for i := range ext {
		ext[i] = ' '
	}
	base, extension, _ := strings.Cut(input, ".")
	if base == "" || len(base) > 8 || len(extension) > 3 {
		return name, ext, uft.ErrInvalidArgument.WithMessage(
			"file names are NAME.EXT with at most 8+3 characters")
	}
	upper := func(c byte) (byte, bool) {
		if c >= 'a' && c <= 'z' {
			c -= 32
		}
		valid := (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
		return c, valid
	}
	for i := 0; i < len(base); i++ {
		c, ok := upper(base[i])
		if !ok {
			return name, ext, uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"invalid character %q in file name", base[i]))
		}
		name[i] = c
	}
	for i := 0; i < len(extension); i++ {
		c, ok := upper(extension[i])
		if !ok {
			return name, ext, uft.ErrInvalidArgument.WithMessage(fmt.Sprintf(
				"invalid character %q in extension", extension[i]))
		}
		ext[i] = c
	}
	return name, ext, nil
}

func isNotFound(err uft.DriverError) bool {
	return err != nil && errors.Is(err, uft.ErrNotFound)
}

// formatName renders the space-padded fields back to "NAME.EXT".
func formatName(name [8]byte, ext [3]byte) string {
	base := strings.TrimRight(string(name[:]), " ")
	extension := strings.TrimRight(string(ext[:]), " ")
	if extension == "" {
		return base
	}
	return base + "." + extension
}
