package encoding

// FM and MFM line codes for PC/CP-M-era tracks, plus the AmigaDOS variant
// that spreads each longword over odd and even bit planes.

// MFMSyncA1 is the IBM address-mark sync word: 0xA1 with a missing clock
// between bits 4 and 5.
const MFMSyncA1 = 0x4489

// AmigaSyncWord marks the start of an AmigaDOS sector (two of these follow
// the gap).
const AmigaSyncWord = 0x4489

// FMEncodeByte interleaves a clock bit (always 1) before each data bit.
func FMEncodeByte(b byte) uint16 {
	var out uint16
	for i := 7; i >= 0; i-- {
		out = out<<2 | 0x2 | uint16(b>>i&1)
	}
	return out
}

// MFMEncodeByte emits a clock bit before each data bit; the clock is 1 only
// between two zero data bits. prevBit is the last data bit already on disk.
func MFMEncodeByte(prevBit byte, b byte) uint16 {
	var out uint16
	prev := prevBit & 1
	for i := 7; i >= 0; i-- {
		bit := b >> i & 1
		var clock uint16
		if prev == 0 && bit == 0 {
			clock = 1
		}
		out = out<<2 | clock<<1 | uint16(bit)
		prev = bit
	}
	return out
}

// MFMDecodeByte strips the clock bits from a 16-bit MFM cell group.
func MFMDecodeByte(cells uint16) byte {
	var b byte
	for i := 0; i < 8; i++ {
		b = b<<1 | byte(cells>>(14-2*i)&1)
	}
	return b
}

// MFMEncode encodes data after prevBit, returning one 16-bit cell group per
// byte.
func MFMEncode(prevBit byte, data []byte) []uint16 {
	out := make([]uint16, len(data))
	prev := prevBit
	for i, b := range data {
		out[i] = MFMEncodeByte(prev, b)
		prev = b & 1
	}
	return out
}

// amigaInterleave splits buf into its odd bits (shifted down) and even bits;
// AmigaDOS records all odd bits of a field first, then all even bits, each
// masked to 0x55555555 per longword.
const amigaBitMask = 0x55555555

// AmigaMFMEncode encodes a field in AmigaDOS odd/even layout. The result is
// twice the input length; input length must be a multiple of 4.
func AmigaMFMEncode(data []byte) []byte {
	n := len(data)
	out := make([]byte, 2*n)
	// Odd bits first, across the whole field, then even bits.
	for i := 0; i+4 <= n; i += 4 {
		word := uint32(data[i])<<24 | uint32(data[i+1])<<16 |
			uint32(data[i+2])<<8 | uint32(data[i+3])
		odd := (word >> 1) & amigaBitMask
		even := word & amigaBitMask
		putBE32(out[i:], odd)
		putBE32(out[n+i:], even)
	}
	return out
}

// AmigaMFMDecode reassembles a field from its odd and even planes. buf holds
// the odd plane followed by the even plane; the result is half its length.
func AmigaMFMDecode(buf []byte) []byte {
	n := len(buf) / 2
	out := make([]byte, n)
	for i := 0; i+4 <= n; i += 4 {
		odd := be32(buf[i:]) & amigaBitMask
		even := be32(buf[n+i:]) & amigaBitMask
		word := odd<<1 | even
		out[i] = byte(word >> 24)
		out[i+1] = byte(word >> 16)
		out[i+2] = byte(word >> 8)
		out[i+3] = byte(word)
	}
	return out
}

// AmigaMFMChecksum is the sector checksum: XOR of every encoded longword,
// masked to the data bits.
func AmigaMFMChecksum(encoded []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(encoded); i += 4 {
		sum ^= be32(encoded[i:])
	}
	return sum & amigaBitMask
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
