package amigados

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashNameKnownSlots(t *testing.T) {
	// Values cross-checked against a real Workbench root block.
	assert.Equal(t, uint32(67), hashName("hello.txt", hashTableSize, false))
	assert.Equal(t, hashName("HELLO.TXT", hashTableSize, false),
		hashName("hello.txt", hashTableSize, false),
		"hashing must be case-insensitive")
}

func TestIntlFoldingChangesHash(t *testing.T) {
	name := "caf\xE9" // é in Latin-1
	plain := hashName(name, hashTableSize, false)
	intl := hashName(name, hashTableSize, true)
	assert.NotEqual(t, plain, intl, "0xE9 folds only in international mode")

	assert.Equal(t, byte(0xF7), upperChar(0xF7, true), "division sign never folds")
	assert.Equal(t, byte(0xC9), upperChar(0xE9, true))
}

func TestFlavorByteRoundTrip(t *testing.T) {
	for b := byte(0); b <= 5; b++ {
		flavor, ok := FlavorFromByte(b)
		assert.True(t, ok)
		assert.Equal(t, b, flavor.Byte(), "flavor byte %d", b)
	}
	_, ok := FlavorFromByte(6)
	assert.False(t, ok)
}

func TestNamesEqualFolding(t *testing.T) {
	assert.True(t, namesEqual("Startup-Sequence", "STARTUP-SEQUENCE", false))
	assert.False(t, namesEqual("a", "ab", false))
	assert.True(t, namesEqual("caf\xE9", "caf\xC9", true))
	assert.False(t, namesEqual("caf\xE9", "caf\xC9", false))
}
