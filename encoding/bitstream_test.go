package encoding_test

import (
	"testing"

	"github.com/retrofloppy/uft/encoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitWriterPacksAcrossByteBoundaries(t *testing.T) {
	w := encoding.NewBitWriter()
	w.WriteBits(0x1F, 5) // 11111
	w.WriteBits(0x00, 3) // 000
	w.WriteBits(0x05, 3) // 101
	// 11111000 101 + 5 pad zeros
	assert.Equal(t, []byte{0xF8, 0xA0}, w.Bytes())
	assert.EqualValues(t, 11, w.BitLength())
}

func TestBitReaderRoundTrip(t *testing.T) {
	w := encoding.NewBitWriter()
	for i := 0; i < 64; i++ {
		w.WriteBits(uint32(i)&0x7, 3)
	}
	r := encoding.NewBitReader(w.Bytes(), w.BitLength())
	for i := 0; i < 64; i++ {
		got, ok := r.ReadBits(3)
		require.True(t, ok)
		assert.EqualValues(t, uint32(i)&0x7, got)
	}
	_, ok := r.ReadBits(3)
	assert.False(t, ok, "reader must stop at the declared bit count")
}

func TestCircularReaderWraps(t *testing.T) {
	r := encoding.NewCircularBitReader([]byte{0b10110000}, 4)
	var got []byte
	for i := 0; i < 8; i++ {
		bit, ok := r.ReadBit()
		require.True(t, ok)
		got = append(got, bit)
	}
	assert.Equal(t, []byte{1, 0, 1, 1, 1, 0, 1, 1}, got)
	assert.EqualValues(t, 8, r.Consumed())
}

func TestGCRByteRoundTrip(t *testing.T) {
	w := encoding.NewBitWriter()
	for v := 0; v < 256; v++ {
		encoding.WriteGCRByte(w, byte(v))
	}
	r := encoding.NewBitReader(w.Bytes(), w.BitLength())
	for v := 0; v < 256; v++ {
		b, valid, ok := encoding.ReadGCRByte(r)
		require.True(t, ok)
		assert.True(t, valid, "encoded byte %#x produced an illegal code", v)
		assert.Equal(t, byte(v), b)
	}
}

func TestGCRInvalidCodeFlagged(t *testing.T) {
	// 00000 00000 is never a legal pair of GCR codes.
	r := encoding.NewBitReader([]byte{0x00, 0x00}, 10)
	_, valid, ok := encoding.ReadGCRByte(r)
	require.True(t, ok)
	assert.False(t, valid)
}

func TestFindSync(t *testing.T) {
	w := encoding.NewBitWriter()
	w.PutByte(0x55) // gap noise
	encoding.WriteSync(w, 5)
	encoding.WriteGCRByte(w, 0x08)

	r := encoding.NewCircularBitReader(w.Bytes(), w.BitLength())
	require.True(t, encoding.FindSync(r, w.BitLength()*2))

	b, valid, ok := encoding.ReadGCRByte(r)
	require.True(t, ok)
	assert.True(t, valid)
	assert.EqualValues(t, 0x08, b, "first byte after sync must be the header mark")
}

func TestFindSyncGivesUp(t *testing.T) {
	r := encoding.NewCircularBitReader([]byte{0x55, 0x55, 0x55}, 24)
	assert.False(t, encoding.FindSync(r, 96))
}

func TestApple62Tables(t *testing.T) {
	for v := byte(0); v < 64; v++ {
		code := encoding.Apple62Encode(v)
		assert.True(t, code&0x80 != 0, "disk bytes always have the high bit set")
		assert.EqualValues(t, v, encoding.Apple62Decode(code))
	}
	assert.EqualValues(t, -1, encoding.Apple62Decode(0x00))
	assert.EqualValues(t, -1, encoding.Apple62Decode(0x95))
}

func TestMFMByteRoundTrip(t *testing.T) {
	prev := byte(0)
	for v := 0; v < 256; v++ {
		cells := encoding.MFMEncodeByte(prev, byte(v))
		assert.Equal(t, byte(v), encoding.MFMDecodeByte(cells))
		prev = byte(v) & 1
	}
}

func TestFMEncodeByteCarriesClocks(t *testing.T) {
	// FM 0x00 is pure clock: 10 repeated.
	assert.EqualValues(t, 0xAAAA, encoding.FMEncodeByte(0x00))
	// FM 0xFF is clock+data everywhere.
	assert.EqualValues(t, 0xFFFF, encoding.FMEncodeByte(0xFF))
}

func TestAmigaMFMRoundTrip(t *testing.T) {
	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i * 31)
	}
	enc := encoding.AmigaMFMEncode(data)
	require.Len(t, enc, 1024)
	assert.Equal(t, data, encoding.AmigaMFMDecode(enc))
}

func TestAmigaMFMChecksumMasksClockBits(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	sum := encoding.AmigaMFMChecksum(encoding.AmigaMFMEncode(data))
	assert.Zero(t, sum&^uint32(0x55555555))
}
