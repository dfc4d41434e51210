package encoding

// Commodore 5-to-4 GCR. Each data nibble maps to a 5-bit code chosen so the
// stream never carries more than two consecutive zero bits and never ten
// consecutive ones outside a sync mark.
var cbmGCREncode = [16]byte{
	0x0A, 0x0B, 0x12, 0x13, // 0-3
	0x0E, 0x0F, 0x16, 0x17, // 4-7
	0x09, 0x19, 0x1A, 0x1B, // 8-B
	0x0D, 0x1D, 0x1E, 0x15, // C-F
}

// cbmGCRDecode maps a 5-bit code back to its nibble; -1 marks the codes a
// healthy stream never contains.
var cbmGCRDecode = [32]int8{
	-1, -1, -1, -1, -1, -1, -1, -1,
	-1, 0x8, 0x0, 0x1, -1, 0xC, 0x4, 0x5,
	-1, -1, 0x2, 0x3, -1, 0xF, 0x6, 0x7,
	-1, 0x9, 0xA, 0xB, -1, 0xD, 0xE, -1,
}

// cbmSyncRunBits is the shortest run of one-bits accepted as a sync mark.
// Five 0xFF bytes on disk make forty; drives accept shorter runs, and so do
// damaged images, so the decoder is a little tolerant.
const cbmSyncRunBits = 32

// WriteGCRByte appends the 10-bit GCR expansion of one data byte.
func WriteGCRByte(w *BitWriter, b byte) {
	w.WriteBits(uint32(cbmGCREncode[b>>4]), 5)
	w.WriteBits(uint32(cbmGCREncode[b&0x0F]), 5)
}

// WriteGCRBytes appends the GCR expansion of data.
func WriteGCRBytes(w *BitWriter, data []byte) {
	for _, b := range data {
		WriteGCRByte(w, b)
	}
}

// WriteSync appends n bytes of 0xFF sync.
func WriteSync(w *BitWriter, n int) {
	for i := 0; i < n; i++ {
		w.PutByte(0xFF)
	}
}

// ReadGCRByte decodes one data byte (two 5-bit codes). valid is false when
// either code is not a legal GCR code; the byte is still assembled from
// whatever the table yields so callers can deliver best-effort data.
func ReadGCRByte(r *BitReader) (b byte, valid bool, ok bool) {
	hi, ok := r.ReadBits(5)
	if !ok {
		return 0, false, false
	}
	lo, ok := r.ReadBits(5)
	if !ok {
		return 0, false, false
	}
	hn := cbmGCRDecode[hi&0x1F]
	ln := cbmGCRDecode[lo&0x1F]
	valid = hn >= 0 && ln >= 0
	if hn < 0 {
		hn = 0
	}
	if ln < 0 {
		ln = 0
	}
	return byte(hn)<<4 | byte(ln), valid, true
}

// ReadGCRBytes decodes len(dst) bytes, reporting whether every code was
// legal.
func ReadGCRBytes(r *BitReader, dst []byte) (allValid bool, ok bool) {
	allValid = true
	for i := range dst {
		b, valid, ok := ReadGCRByte(r)
		if !ok {
			return allValid, false
		}
		if !valid {
			allValid = false
		}
		dst[i] = b
	}
	return allValid, true
}

// FindSync advances the reader past the next sync mark: a run of at least
// cbmSyncRunBits one-bits followed by a zero bit. The reader is left
// positioned ON the zero bit that begins the first GCR code. Returns false
// when the bit budget runs out first.
func FindSync(r *BitReader, maxBits uint) bool {
	run := uint(0)
	start := r.Consumed()
	for r.Consumed()-start < maxBits {
		bit, ok := r.ReadBit()
		if !ok {
			return false
		}
		if bit == 1 {
			run++
			continue
		}
		if run >= cbmSyncRunBits {
			// Back up onto the zero bit: it is the first bit of the
			// block's first GCR code.
			r.SeekBit(r.pos + r.bitCount - 1)
			r.consumed--
			return true
		}
		run = 0
	}
	return false
}

// Apple 6-and-2 GCR, used by 5.25" DOS 3.3 / ProDOS disks and carried here
// for the WOZ decoder. Every disk byte has the high bit set.
var apple62Encode = [64]byte{
	0x96, 0x97, 0x9A, 0x9B, 0x9D, 0x9E, 0x9F, 0xA6,
	0xA7, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF, 0xB2, 0xB3,
	0xB4, 0xB5, 0xB6, 0xB7, 0xB9, 0xBA, 0xBB, 0xBC,
	0xBD, 0xBE, 0xBF, 0xCB, 0xCD, 0xCE, 0xCF, 0xD3,
	0xD6, 0xD7, 0xD9, 0xDA, 0xDB, 0xDC, 0xDD, 0xDE,
	0xDF, 0xE5, 0xE6, 0xE7, 0xE9, 0xEA, 0xEB, 0xEC,
	0xED, 0xEE, 0xEF, 0xF2, 0xF3, 0xF4, 0xF5, 0xF6,
	0xF7, 0xF9, 0xFA, 0xFB, 0xFC, 0xFD, 0xFE, 0xFF,
}

var apple62Decode [256]int8

func init() {
	for i := range apple62Decode {
		apple62Decode[i] = -1
	}
	for value, code := range apple62Encode {
		apple62Decode[code] = int8(value)
	}
}

// Apple62Encode returns the disk byte for a 6-bit value.
func Apple62Encode(value byte) byte {
	return apple62Encode[value&0x3F]
}

// Apple62Decode returns the 6-bit value for a disk byte, or -1 if the byte
// is not a legal 6-and-2 code.
func Apple62Decode(diskByte byte) int8 {
	return apple62Decode[diskByte]
}
