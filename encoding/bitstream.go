// Package encoding implements the line codes retro floppies were recorded
// with: bit-level stream access, Commodore 5-to-4 GCR, Apple 6-and-2 GCR,
// and FM/MFM including the AmigaDOS sector layout.
package encoding

// BitReader reads a track bit stream MSB first. Track streams are circular
// (they describe one revolution), so a reader can optionally wrap around the
// end; Consumed lets decoders stop after a bounded number of bits even when
// wrapping.
type BitReader struct {
	data     []byte
	bitCount uint
	pos      uint
	consumed uint
	wrap     bool
}

// NewBitReader reads bitCount bits out of data without wrapping.
func NewBitReader(data []byte, bitCount uint) *BitReader {
	if max := uint(len(data)) * 8; bitCount > max || bitCount == 0 {
		bitCount = max
	}
	return &BitReader{data: data, bitCount: bitCount}
}

// NewCircularBitReader reads modulo bitCount, as a drive head would.
func NewCircularBitReader(data []byte, bitCount uint) *BitReader {
	r := NewBitReader(data, bitCount)
	r.wrap = true
	return r
}

// Consumed returns how many bits have been read in total, wrapping included.
func (r *BitReader) Consumed() uint { return r.consumed }

// Position returns the current absolute bit offset in the stream.
func (r *BitReader) Position() uint { return r.pos }

// SeekBit positions the reader at an absolute bit offset.
func (r *BitReader) SeekBit(pos uint) {
	if r.bitCount == 0 {
		return
	}
	r.pos = pos % r.bitCount
}

// ReadBit returns the next bit, or ok=false at the end of a non-wrapping
// stream.
func (r *BitReader) ReadBit() (bit byte, ok bool) {
	if r.bitCount == 0 {
		return 0, false
	}
	if r.pos >= r.bitCount {
		if !r.wrap {
			return 0, false
		}
		r.pos = 0
	}
	b := r.data[r.pos/8]
	bit = (b >> (7 - r.pos%8)) & 1
	r.pos++
	r.consumed++
	return bit, true
}

// ReadBits reads up to 32 bits MSB first.
func (r *BitReader) ReadBits(n uint) (value uint32, ok bool) {
	for i := uint(0); i < n; i++ {
		bit, ok := r.ReadBit()
		if !ok {
			return 0, false
		}
		value = value<<1 | uint32(bit)
	}
	return value, true
}

// BitWriter builds a track bit stream MSB first, packing across byte
// boundaries.
type BitWriter struct {
	data  []byte
	accum byte
	nbits uint
}

// NewBitWriter returns an empty writer.
func NewBitWriter() *BitWriter {
	return &BitWriter{}
}

// WriteBit appends a single bit.
func (w *BitWriter) WriteBit(bit byte) {
	w.accum = w.accum<<1 | (bit & 1)
	w.nbits++
	if w.nbits == 8 {
		w.data = append(w.data, w.accum)
		w.accum = 0
		w.nbits = 0
	}
}

// WriteBits appends the low n bits of value, MSB first.
func (w *BitWriter) WriteBits(value uint32, n uint) {
	for i := n; i > 0; i-- {
		w.WriteBit(byte(value >> (i - 1) & 1))
	}
}

// PutByte appends eight bits.
func (w *BitWriter) PutByte(b byte) {
	w.WriteBits(uint32(b), 8)
}

// BitLength returns the number of bits written so far.
func (w *BitWriter) BitLength() uint {
	return uint(len(w.data))*8 + w.nbits
}

// Bytes returns the stream with the final partial byte (if any) padded with
// zero bits.
func (w *BitWriter) Bytes() []byte {
	out := make([]byte, len(w.data), len(w.data)+1)
	copy(out, w.data)
	if w.nbits > 0 {
		out = append(out, w.accum<<(8-w.nbits))
	}
	return out
}
