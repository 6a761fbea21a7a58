package bfloat16

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversions(t *testing.T) {
	for _, v := range []float32{0, 1, -2, 0.5, 256, -1024} {
		assert.Equal(t, v, FromFloat32(v).Float32(), "value %g should be exact in bfloat16", v)
	}
	// 1 + 2^-8 is half-way between 1 and the next bfloat16: rounds to even (1).
	assert.Equal(t, float32(1), FromFloat32(1+1.0/256).Float32())
	assert.True(t, math.IsInf(float64(Inf(1).Float32()), 1))
	assert.True(t, math.IsInf(float64(Inf(-1).Float32()), -1))
	nan := FromFloat32(float32(math.NaN())).Float32()
	assert.True(t, nan != nan)
	assert.Equal(t, "1.5", FromFloat64(1.5).String())
	assert.Equal(t, uint16(0x3F80), FromFloat32(1).Bits())
	assert.Equal(t, FromFloat32(1), FromBits(0x3F80))
}
