package cbmdos

// PETSCII conversion uses the case-swap convention: what a PC shows as
// lowercase is stored as unshifted PETSCII letters and vice versa. Bytes
// with no printable mapping come back as '?'.

// ToASCII converts a PETSCII byte slice, trimming trailing padding.
func ToASCII(petscii []byte) string {
	end := len(petscii)
	for end > 0 && (petscii[end-1] == 0xA0 || petscii[end-1] == ' ') {
		end--
	}
	out := make([]byte, end)
	for i, b := range petscii[:end] {
		switch {
		case b == 0xA0:
			out[i] = ' '
		case b >= 0xC1 && b <= 0xDA:
			out[i] = b - 0xC1 + 'A'
		case b >= 0x41 && b <= 0x5A:
			out[i] = b - 0x41 + 'a'
		case b >= 0x20 && b <= 0x7E:
			out[i] = b
		default:
			out[i] = '?'
		}
	}
	return string(out)
}

// FromASCII converts a name to PETSCII, truncated or 0xA0-padded to size.
func FromASCII(name string, size int) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = 0xA0
	}
	for i := 0; i < len(name) && i < size; i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out[i] = c - 'A' + 0xC1
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 0x41
		case c >= 0x20 && c <= 0x7E:
			out[i] = c
		default:
			out[i] = '?'
		}
	}
	return out
}
