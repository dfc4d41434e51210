package binutil_test

import (
	"math"
	"testing"

	"github.com/retrofloppy/uft/utilities/binutil"
	"github.com/stretchr/testify/assert"
)

func TestReadBCPL(t *testing.T) {
	buf := append([]byte{5}, []byte("helloXXX")...)
	assert.Equal(t, "hello", binutil.ReadBCPL(buf, 30))
	assert.Equal(t, "hel", binutil.ReadBCPL(buf, 3), "maxLen must clamp")
	assert.Equal(t, "", binutil.ReadBCPL(nil, 30))

	// Declared length running past the buffer clamps to what exists.
	short := []byte{10, 'a', 'b'}
	assert.Equal(t, "ab", binutil.ReadBCPL(short, 30))
}

func TestWriteBCPLRoundTrip(t *testing.T) {
	buf := make([]byte, 31)
	binutil.WriteBCPL(buf, "workbench", 30)
	assert.EqualValues(t, 9, buf[0])
	assert.Equal(t, "workbench", binutil.ReadBCPL(buf, 30))

	binutil.WriteBCPL(buf, "x", 30)
	assert.Equal(t, "x", binutil.ReadBCPL(buf, 30))
	assert.Zero(t, buf[2], "old contents must be zeroed")
}

func TestSliceBounds(t *testing.T) {
	buf := make([]byte, 256)
	got, err := binutil.Slice(buf, 128, 128)
	assert.NoError(t, err)
	assert.Len(t, got, 128)

	_, err = binutil.Slice(buf, 200, 128)
	assert.Error(t, err, "range past end must fail")
	_, err = binutil.Slice(buf, -1, 4)
	assert.Error(t, err)
}

func TestCheckedMath(t *testing.T) {
	v, ok := binutil.CheckedMul(80*2*11, 512)
	assert.True(t, ok)
	assert.EqualValues(t, 901120, v)

	_, ok = binutil.CheckedMul(math.MaxInt64, 2)
	assert.False(t, ok)

	_, ok = binutil.CheckedAdd(math.MaxInt64, 1)
	assert.False(t, ok)
}
