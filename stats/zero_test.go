package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fill(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestZeroFillNone(t *testing.T) {
	buf := fill(128, 0xAB)
	ZeroFill(buf, ZeroNone)
	assert.Equal(t, fill(128, 0xAB), buf)
}

func TestZeroFillShallow(t *testing.T) {
	buf := fill(128, 0xAB)
	ZeroFill(buf, ZeroShallow)
	for i := 0; i < ShallowZeroSize; i++ {
		assert.Equal(t, byte(0), buf[i])
	}
	assert.Equal(t, byte(0xAB), buf[ShallowZeroSize])
}

func TestZeroFillMedium(t *testing.T) {
	buf := fill(128, 0xAB)
	ZeroFill(buf, ZeroMedium)
	for i := 0; i < 64; i++ {
		assert.Equal(t, byte(0), buf[i])
	}
	assert.Equal(t, byte(0xAB), buf[64])
}

func TestZeroFillMediumOnSmallBuffer(t *testing.T) {
	buf := fill(32, 0xAB)
	ZeroFill(buf, ZeroMedium)
	for i := 0; i < 16; i++ {
		assert.Equal(t, byte(0), buf[i])
	}
	assert.Equal(t, byte(0xAB), buf[16])
}

func TestZeroFillDeep(t *testing.T) {
	buf := fill(128, 0xAB)
	ZeroFill(buf, ZeroDeep)
	assert.Equal(t, fill(128, 0), buf)
}
