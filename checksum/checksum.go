// Package checksum implements the integrity contracts of the supported
// container formats. Each function mirrors the exact arithmetic of the
// machine that produced the format; none of these are general-purpose.
package checksum

import "encoding/binary"

// AmigaBlock computes the checksum stored at offset 20 of a 512-byte
// AmigaDOS block (rootblock, directory, file header). The sum runs over all
// 128 big-endian words with the checksum field treated as zero; the stored
// value is the two's complement of the sum, so a valid block sums to zero.
func AmigaBlock(block []byte) uint32 {
	var sum uint32
	for off := 0; off+4 <= len(block) && off < 512; off += 4 {
		if off == 20 {
			continue
		}
		sum += binary.BigEndian.Uint32(block[off:])
	}
	return -sum
}

// AmigaBlockValid reports whether the 512-byte block's words (checksum field
// included) sum to zero.
func AmigaBlockValid(block []byte) bool {
	if len(block) < 512 {
		return false
	}
	var sum uint32
	for off := 0; off < 512; off += 4 {
		sum += binary.BigEndian.Uint32(block[off:])
	}
	return sum == 0
}

// AmigaBootblock computes the bootblock checksum over 1024 bytes: big-endian
// word sum with end-around carry, skipping the checksum field at bytes 4..7.
// The value stored at 4..7 is the complement of this sum.
func AmigaBootblock(boot []byte) uint32 {
	var sum uint32
	for off := 0; off+4 <= len(boot) && off < 1024; off += 4 {
		if off == 4 {
			continue
		}
		prev := sum
		sum += binary.BigEndian.Uint32(boot[off:])
		if sum < prev {
			sum++
		}
	}
	return ^sum
}

// AmigaBootblockValid verifies a 1024-byte bootblock: summing every word
// with end-around carry, checksum field included, must yield 0xFFFFFFFF.
func AmigaBootblockValid(boot []byte) bool {
	if len(boot) < 1024 {
		return false
	}
	var sum uint32
	for off := 0; off < 1024; off += 4 {
		prev := sum
		sum += binary.BigEndian.Uint32(boot[off:])
		if sum < prev {
			sum++
		}
	}
	return sum == 0xFFFFFFFF
}

// CBMHeaderChecksum is the XOR over the four GCR header id bytes.
func CBMHeaderChecksum(sector, track, id1, id2 byte) byte {
	return sector ^ track ^ id1 ^ id2
}

// CBMDataChecksum is the XOR over a 256-byte GCR data block.
func CBMDataChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// ByteSum is the plain modular byte sum used by several PC-era headers.
func ByteSum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return sum
}

// crc16Table is the CRC-16/CCITT table (polynomial 0x1021, MSB first) used
// by PC floppy controllers for both address marks and data fields.
var crc16Table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}
}

// CRC16Update folds data into a running CRC-16/CCITT value.
func CRC16Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// CRC16 computes the FDC CRC over data with the standard 0xFFFF preset.
func CRC16(data []byte) uint16 {
	return CRC16Update(0xFFFF, data)
}
