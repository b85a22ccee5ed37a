package splat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumSHBases(t *testing.T) {
	assert.Equal(t, 1, NumSHBases(0))
	assert.Equal(t, 4, NumSHBases(1))
	assert.Equal(t, 9, NumSHBases(2))
	assert.Equal(t, 16, NumSHBases(3))
}

func TestMaxSHDegree(t *testing.T) {
	assert.Equal(t, 0, MaxSHDegree(0))
	assert.Equal(t, 0, MaxSHDegree(2))
	assert.Equal(t, 1, MaxSHDegree(3))
	assert.Equal(t, 2, MaxSHDegree(8))
	assert.Equal(t, 3, MaxSHDegree(15))
}

func TestSHBasisBand0(t *testing.T) {
	out := make([]float32, 1)
	SHBasis(0, 0.3, -0.2, 0.9, out)
	assert.InDelta(t, C0, out[0], 1e-7)
}

func TestSHBasisGradFiniteDifference(t *testing.T) {
	dirs := [][3]float32{
		{0.267261, 0.534522, 0.801784},
		{-0.577350, 0.577350, -0.577350},
		{0.948683, 0, 0.316228},
	}
	const eps = 1e-3
	for _, d := range dirs {
		n := NumSHBases(3)
		out := make([]float32, n)
		grad := make([]float32, 3*n)
		SHBasisGrad(3, d[0], d[1], d[2], out, grad)

		for axis := 0; axis < 3; axis++ {
			plus, minus := d, d
			plus[axis] += eps
			minus[axis] -= eps
			outP := make([]float32, n)
			outM := make([]float32, n)
			SHBasis(3, plus[0], plus[1], plus[2], outP)
			SHBasis(3, minus[0], minus[1], minus[2], outM)
			for b := 0; b < n; b++ {
				numeric := float64(outP[b]-outM[b]) / (2 * eps)
				assert.InDeltaf(t, numeric, float64(grad[3*b+axis]), 5e-3,
					"basis %d axis %d dir %v", b, axis, d)
			}
		}
	}
}

func TestSHBasisGradMatchesBasis(t *testing.T) {
	x, y, z := float32(0.6), float32(-0.48), float32(0.64)
	n := NumSHBases(2)
	a := make([]float32, n)
	b := make([]float32, n)
	grad := make([]float32, 3*n)
	SHBasis(2, x, y, z, a)
	SHBasisGrad(2, x, y, z, b, grad)
	for i := range a {
		assert.True(t, !math.IsNaN(float64(grad[3*i])))
		assert.Equal(t, a[i], b[i])
	}
}
