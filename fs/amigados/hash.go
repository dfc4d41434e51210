package amigados

// Name hashing and case folding. AmigaDOS compares names case-insensitively
// using the same upper-casing the hash uses, so both must agree on the
// international mode.

// Flavor is the filesystem variant encoded in bootblock byte 3.
type Flavor struct {
	FFS      bool
	Intl     bool
	DirCache bool
}

// FlavorFromByte decodes bootblock byte 3 (0..5).
func FlavorFromByte(b byte) (Flavor, bool) {
	if b > 5 {
		return Flavor{}, false
	}
	f := Flavor{FFS: b&1 != 0}
	switch b &^ 1 {
	case 2:
		f.Intl = true
	case 4:
		f.Intl = true
		f.DirCache = true
	}
	return f, true
}

// Byte re-encodes the flavor for bootblock byte 3.
func (f Flavor) Byte() byte {
	var b byte
	if f.FFS {
		b |= 1
	}
	if f.DirCache {
		b |= 4
	} else if f.Intl {
		b |= 2
	}
	return b
}

// upperChar upper-cases one byte. International mode additionally folds the
// Latin-1 range 0xE0..0xFE, with 0xF7 (division sign) left alone.
func upperChar(c byte, intl bool) byte {
	if c >= 'a' && c <= 'z' {
		return c - 32
	}
	if intl && c >= 0xE0 && c <= 0xFE && c != 0xF7 {
		return c - 32
	}
	return c
}

// hashName computes the directory hash-table slot for a name.
func hashName(name string, tableSize uint32, intl bool) uint32 {
	hash := uint32(len(name))
	for i := 0; i < len(name); i++ {
		hash = (hash*13 + uint32(upperChar(name[i], intl))) & 0x7FF
	}
	return hash % tableSize
}

// namesEqual compares two names under AmigaDOS case folding.
func namesEqual(a, b string, intl bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if upperChar(a[i], intl) != upperChar(b[i], intl) {
			return false
		}
	}
	return true
}
