package train

import (
	"github.com/chewxy/math32"
)

// Single-scale structural similarity with an 11x11 Gaussian window
// (sigma 1.5), valid padding, and stabilizers C1=0.01^2, C2=0.03^2 for
// a [0, 1] data range, plus its analytic gradient with respect to the
// first image.

const (
	ssimWindow = 11
	ssimSigma  = 1.5
	ssimC1     = 0.01 * 0.01
	ssimC2     = 0.03 * 0.03
)

var ssimKernel = gaussianKernel(ssimWindow, ssimSigma)

func gaussianKernel(size int, sigma float32) []float32 {
	k := make([]float32, size)
	var sum float32
	center := float32(size-1) / 2
	for i := range k {
		d := (float32(i) - center) / sigma
		k[i] = math32.Exp(-d * d / 2)
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// ssimPlane returns the mean SSIM of one channel plane pair and
// accumulates d(meanSSIM)/dx into grad (both planes are Height*Width).
func ssimPlane(x, y []float32, w, h int, grad []float32) float32 {
	ow := w - ssimWindow + 1
	oh := h - ssimWindow + 1

	xy := make([]float32, len(x))
	xx := make([]float32, len(x))
	yy := make([]float32, len(x))
	for i := range x {
		xy[i] = x[i] * y[i]
		xx[i] = x[i] * x[i]
		yy[i] = y[i] * y[i]
	}
	muX := sepConvValid(x, w, h)
	muY := sepConvValid(y, w, h)
	eXX := sepConvValid(xx, w, h)
	eYY := sepConvValid(yy, w, h)
	eXY := sepConvValid(xy, w, h)

	// Per-window partials of SSIM with respect to mu_x, sigma_x^2 and
	// sigma_xy, to be scattered back through the window.
	c1 := make([]float32, ow*oh)
	c2 := make([]float32, ow*oh)
	c3 := make([]float32, ow*oh)
	c2mu := make([]float32, ow*oh)
	c3mu := make([]float32, ow*oh)

	var total float32
	for i := 0; i < ow*oh; i++ {
		mx, my := muX[i], muY[i]
		sx := eXX[i] - mx*mx
		sy := eYY[i] - my*my
		sxy := eXY[i] - mx*my

		a1 := 2*mx*my + ssimC1
		a2 := 2*sxy + ssimC2
		b1 := mx*mx + my*my + ssimC1
		b2 := sx + sy + ssimC2
		s := (a1 * a2) / (b1 * b2)
		total += s

		c1[i] = 2 * (my*a2*b1 - mx*a1*a2) / (b1 * b1 * b2)
		c2[i] = -a1 * a2 / (b1 * b2 * b2)
		c3[i] = 2 * a1 / (b1 * b2)
		c2mu[i] = c2[i] * mx
		c3mu[i] = c3[i] * my
	}
	numWindows := float32(ow * oh)
	mean := total / numWindows

	// d(meanSSIM)/dx(q) =
	//   scatter(c1) + 2 x scatter(c2) - 2 scatter(c2 mu_x)
	//   + y scatter(c3) - scatter(c3 mu_y), all over the window count.
	s1 := sepConvAdjoint(c1, w, h)
	s2 := sepConvAdjoint(c2, w, h)
	s2mu := sepConvAdjoint(c2mu, w, h)
	s3 := sepConvAdjoint(c3, w, h)
	s3mu := sepConvAdjoint(c3mu, w, h)
	inv := 1 / numWindows
	for q := range grad {
		grad[q] += inv * (s1[q] + 2*x[q]*s2[q] - 2*s2mu[q] + y[q]*s3[q] - s3mu[q])
	}
	return mean
}

// sepConvValid applies the separable SSIM window with valid padding,
// producing an (h-10)x(w-10) map.
func sepConvValid(src []float32, w, h int) []float32 {
	ow := w - ssimWindow + 1
	rows := make([]float32, ow*h)
	for y := 0; y < h; y++ {
		for x := 0; x < ow; x++ {
			var sum float32
			for i := 0; i < ssimWindow; i++ {
				sum += ssimKernel[i] * src[y*w+x+i]
			}
			rows[y*ow+x] = sum
		}
	}
	oh := h - ssimWindow + 1
	out := make([]float32, ow*oh)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			var sum float32
			for j := 0; j < ssimWindow; j++ {
				sum += ssimKernel[j] * rows[(y+j)*ow+x]
			}
			out[y*ow+x] = sum
		}
	}
	return out
}

// sepConvAdjoint is the adjoint of sepConvValid: it scatters a window
// map back onto the full image grid.
func sepConvAdjoint(g []float32, w, h int) []float32 {
	ow := w - ssimWindow + 1
	oh := h - ssimWindow + 1
	rows := make([]float32, ow*h)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			v := g[y*ow+x]
			if v == 0 {
				continue
			}
			for j := 0; j < ssimWindow; j++ {
				rows[(y+j)*ow+x] += ssimKernel[j] * v
			}
		}
	}
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < ow; x++ {
			v := rows[y*ow+x]
			if v == 0 {
				continue
			}
			for i := 0; i < ssimWindow; i++ {
				out[y*w+x+i] += ssimKernel[i] * v
			}
		}
	}
	return out
}
