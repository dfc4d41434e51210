// Package binutil holds the byte-level primitives shared by format plugins:
// BCPL strings, bounds-checked slice access, and overflow-checked size math.
// Endian integer access goes straight through encoding/binary.
package binutil

import (
	"fmt"
	"math"
)

// ReadBCPL decodes a BCPL string (length byte followed by bytes) from buf,
// clamping the length to both maxLen and the space actually available.
// AmigaDOS names (≤30) and comments (≤79) are stored this way.
func ReadBCPL(buf []byte, maxLen int) string {
	if len(buf) == 0 {
		return ""
	}
	n := int(buf[0])
	if n > maxLen {
		n = maxLen
	}
	if n > len(buf)-1 {
		n = len(buf) - 1
	}
	return string(buf[1 : 1+n])
}

// WriteBCPL encodes s into buf as a BCPL string, truncating to maxLen. The
// remainder of buf is zeroed. buf must be at least maxLen+1 bytes.
func WriteBCPL(buf []byte, s string, maxLen int) {
	raw := []byte(s)
	if len(raw) > maxLen {
		raw = raw[:maxLen]
	}
	buf[0] = byte(len(raw))
	copy(buf[1:], raw)
	for i := 1 + len(raw); i < maxLen+1 && i < len(buf); i++ {
		buf[i] = 0
	}
}

// Slice returns buf[offset:offset+length] after verifying the range lies
// inside buf. Plugins use it for every (track, sector) → offset computation
// so a short file turns into an error instead of a panic or a padded read.
func Slice(buf []byte, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(buf)) {
		return nil, fmt.Errorf(
			"range [%d, %d) outside buffer of %d bytes",
			offset, offset+length, len(buf))
	}
	return buf[offset : offset+length], nil
}

// CheckedMul multiplies two non-negative sizes, reporting overflow instead
// of wrapping.
func CheckedMul(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

// CheckedAdd adds two non-negative sizes, reporting overflow.
func CheckedAdd(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
