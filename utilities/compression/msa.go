// Package compression holds the run-length codecs used inside container
// formats: the MSA track codec and the IMD compressed-sector expansion.
package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// msaMarker introduces an RLE record inside an MSA track: marker, big-endian
// repeat count, then the byte to repeat.
const msaMarker = 0xE5

// msaMinRun is the shortest run worth an RLE record. A record costs four
// bytes, so shorter runs are emitted literally. The marker byte is the
// exception: it must always be escaped as a record, whatever the run length.
const msaMinRun = 5

// CompressMSATrack encodes one track's worth of bytes. The output is only
// useful if it is shorter than the input; MSA stores the raw track
// otherwise, which the caller decides by comparing lengths.
func CompressMSATrack(track []byte) []byte {
	var out bytes.Buffer
	runs := NewRunScanner(track)

	for {
		value, length, ok := runs.Next()
		if !ok {
			break
		}
		if length >= msaMinRun || value == msaMarker {
			for length > 0 {
				chunk := length
				if chunk > 0xFFFF {
					chunk = 0xFFFF
				}
				var record [4]byte
				record[0] = msaMarker
				binary.BigEndian.PutUint16(record[1:3], uint16(chunk))
				record[3] = value
				out.Write(record[:])
				length -= chunk
			}
		} else {
			out.Write(bytes.Repeat([]byte{value}, length))
		}
	}
	return out.Bytes()
}

// DecompressMSATrack expands a compressed MSA track. The result must come
// out to exactly trackSize bytes; anything else means the record stream is
// corrupt.
func DecompressMSATrack(packed []byte, trackSize int) ([]byte, error) {
	out := make([]byte, 0, trackSize)
	for i := 0; i < len(packed); {
		b := packed[i]
		if b != msaMarker {
			out = append(out, b)
			i++
			continue
		}
		if i+4 > len(packed) {
			return nil, fmt.Errorf("truncated RLE record at offset %d", i)
		}
		count := int(binary.BigEndian.Uint16(packed[i+1 : i+3]))
		value := packed[i+3]
		if len(out)+count > trackSize {
			return nil, fmt.Errorf(
				"RLE record at offset %d overflows track (%d+%d > %d)",
				i, len(out), count, trackSize)
		}
		out = append(out, bytes.Repeat([]byte{value}, count)...)
		i += 4
	}
	if len(out) != trackSize {
		return nil, fmt.Errorf(
			"decompressed track is %d bytes, expected %d", len(out), trackSize)
	}
	return out, nil
}

// ExpandRepeatedByte materializes an IMD "compressed" sector: the whole
// sector is a single byte value repeated.
func ExpandRepeatedByte(value byte, size uint) []byte {
	return bytes.Repeat([]byte{value}, int(size))
}

// IsUniform reports whether data is a single repeated byte value, and which
// one; the IMD writer uses it to pick the compressed sector type.
func IsUniform(data []byte) (byte, bool) {
	if len(data) == 0 {
		return 0, false
	}
	first := data[0]
	for _, b := range data[1:] {
		if b != first {
			return 0, false
		}
	}
	return first, true
}
