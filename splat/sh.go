package splat

// Real spherical-harmonic basis for view-dependent color, degrees 0
// through 3, in the convention used by Gaussian-splat renderers: the
// decoded channel is 0.5 + sum over bases of basis*coefficient.

const (
	shC1 = 0.4886025119029199
)

var shC2 = [5]float32{
	1.0925484305920792,
	-1.0925484305920792,
	0.31539156525252005,
	-1.0925484305920792,
	0.5462742152960396,
}

var shC3 = [7]float32{
	-0.5900435899266435,
	2.890611442640554,
	-0.4570457994644658,
	0.3731763325901154,
	-0.4570457994644658,
	1.445305721320277,
	-0.5900435899266435,
}

// NumSHBases returns the number of basis functions for a maximum
// degree, (degree+1)^2.
func NumSHBases(degree int) int {
	return (degree + 1) * (degree + 1)
}

// MaxSHDegree returns the largest degree fully representable with
// 1+restBases basis functions.
func MaxSHDegree(restBases int) int {
	degree := 0
	for NumSHBases(degree+1) <= 1+restBases {
		degree++
	}
	return degree
}

// SHBasis fills out[0:(degree+1)^2] with the basis values for unit
// view direction (x, y, z).
func SHBasis(degree int, x, y, z float32, out []float32) {
	out[0] = C0
	if degree < 1 {
		return
	}
	out[1] = -shC1 * y
	out[2] = shC1 * z
	out[3] = -shC1 * x
	if degree < 2 {
		return
	}
	xx, yy, zz := x*x, y*y, z*z
	out[4] = shC2[0] * x * y
	out[5] = shC2[1] * y * z
	out[6] = shC2[2] * (2*zz - xx - yy)
	out[7] = shC2[3] * x * z
	out[8] = shC2[4] * (xx - yy)
	if degree < 3 {
		return
	}
	out[9] = shC3[0] * y * (3*xx - yy)
	out[10] = shC3[1] * x * y * z
	out[11] = shC3[2] * y * (4*zz - xx - yy)
	out[12] = shC3[3] * z * (2*zz - 3*xx - 3*yy)
	out[13] = shC3[4] * x * (4*zz - xx - yy)
	out[14] = shC3[5] * z * (xx - yy)
	out[15] = shC3[6] * x * (xx - 3*yy)
}

// SHBasisGrad fills out like SHBasis and additionally fills grad with
// the partial derivatives of each basis with respect to the direction
// components, 3 values (d/dx, d/dy, d/dz) per basis.
func SHBasisGrad(degree int, x, y, z float32, out, grad []float32) {
	SHBasis(degree, x, y, z, out)
	n := NumSHBases(degree)
	for i := 0; i < 3*n; i++ {
		grad[i] = 0
	}
	if degree < 1 {
		return
	}
	grad[3*1+1] = -shC1
	grad[3*2+2] = shC1
	grad[3*3+0] = -shC1
	if degree < 2 {
		return
	}
	grad[3*4+0] = shC2[0] * y
	grad[3*4+1] = shC2[0] * x
	grad[3*5+1] = shC2[1] * z
	grad[3*5+2] = shC2[1] * y
	grad[3*6+0] = shC2[2] * -2 * x
	grad[3*6+1] = shC2[2] * -2 * y
	grad[3*6+2] = shC2[2] * 4 * z
	grad[3*7+0] = shC2[3] * z
	grad[3*7+2] = shC2[3] * x
	grad[3*8+0] = shC2[4] * 2 * x
	grad[3*8+1] = shC2[4] * -2 * y
	if degree < 3 {
		return
	}
	xx, yy, zz := x*x, y*y, z*z
	grad[3*9+0] = shC3[0] * 6 * x * y
	grad[3*9+1] = shC3[0] * (3*xx - 3*yy)
	grad[3*10+0] = shC3[1] * y * z
	grad[3*10+1] = shC3[1] * x * z
	grad[3*10+2] = shC3[1] * x * y
	grad[3*11+0] = shC3[2] * -2 * x * y
	grad[3*11+1] = shC3[2] * (4*zz - xx - 3*yy)
	grad[3*11+2] = shC3[2] * 8 * y * z
	grad[3*12+0] = shC3[3] * -6 * x * z
	grad[3*12+1] = shC3[3] * -6 * y * z
	grad[3*12+2] = shC3[3] * (6*zz - 3*xx - 3*yy)
	grad[3*13+0] = shC3[4] * (4*zz - 3*xx - yy)
	grad[3*13+1] = shC3[4] * -2 * x * y
	grad[3*13+2] = shC3[4] * 8 * x * z
	grad[3*14+0] = shC3[5] * 2 * x * z
	grad[3*14+1] = shC3[5] * -2 * y * z
	grad[3*14+2] = shC3[5] * (xx - yy)
	grad[3*15+0] = shC3[6] * (3*xx - 3*yy)
	grad[3*15+1] = shC3[6] * -6 * x * y
}
