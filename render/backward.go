package render

import (
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Per-visible-primitive pixel-loop accumulator layout: 3 color
// channels, opacity, projected center (2), conic (3).
const pixelGradStride = 9

const (
	pgColor   = 0
	pgOpacity = 3
	pgMean2D  = 4
	pgConic   = 6
)

// backward computes gradients with respect to the activated inputs
// given a gradient with respect to the rendered image.
func (sr *Software) backward(ctx *forwardCtx, dImage []float32) (*Grads, error) {
	if len(dImage) != ctx.w*ctx.h*3 {
		return nil, errors.Errorf("software rasterizer: image gradient has %d values, want %d",
			len(dImage), ctx.w*ctx.h*3)
	}

	pixelGrads := sr.pixelBackward(ctx, dImage)

	n := len(ctx.in.Opacities)
	out := &Grads{
		Means:     make([]float32, 3*n),
		Scales:    make([]float32, 3*n),
		Quats:     make([]float32, 4*n),
		Opacities: make([]float32, n),
		Colors:    make([]float32, 3*n),
	}
	for j := range ctx.vis {
		sr.geometryBackward(ctx, &ctx.vis[j], pixelGrads[pixelGradStride*j:pixelGradStride*(j+1)], out)
	}
	return out, nil
}

// pixelBackward replays compositing back-to-front per pixel,
// accumulating gradients with respect to each visible primitive's
// color, opacity, projected center, and conic. Tiles run in parallel
// with per-worker accumulators.
func (sr *Software) pixelBackward(ctx *forwardCtx, dImage []float32) []float32 {
	size := pixelGradStride * len(ctx.vis)
	var mu sync.Mutex
	buffers := map[int][]float32{}
	bufFor := func(worker int) []float32 {
		mu.Lock()
		defer mu.Unlock()
		b, ok := buffers[worker]
		if !ok {
			b = make([]float32, size)
			buffers[worker] = b
		}
		return b
	}

	sr.eachTileWorker(ctx, func(worker, tile int) {
		list := ctx.tiles[tile]
		if len(list) == 0 {
			return
		}
		buf := bufFor(worker)
		x0, y0, x1, y1 := ctx.tileBounds(tile)
		for py := y0; py < y1; py++ {
			for px := x0; px < x1; px++ {
				pix := py*ctx.w + px
				contrib := ctx.lastContrib[pix]
				if contrib == 0 {
					continue
				}
				dR := dImage[3*pix]
				dG := dImage[3*pix+1]
				dB := dImage[3*pix+2]
				if dR == 0 && dG == 0 && dB == 0 {
					continue
				}
				pxc, pyc := float32(px)+0.5, float32(py)+0.5

				t := ctx.finalT[pix]
				var accum [3]float32
				lastAlpha := float32(0)
				var lastColor [3]float32

				for li := contrib - 1; li >= 0; li-- {
					vg := &ctx.vis[list[li]]
					dx := vg.u - pxc
					dy := vg.v - pyc
					power := -0.5*(vg.conA*dx*dx+vg.conC*dy*dy) - vg.conB*dx*dy
					if power > 0 {
						continue
					}
					gauss := math32.Exp(power)
					alpha := vg.opacity * gauss
					if alpha > alphaMax {
						alpha = alphaMax
					}
					if alpha < alphaMin {
						continue
					}
					t /= 1 - alpha

					for c := 0; c < 3; c++ {
						accum[c] = lastAlpha*lastColor[c] + (1-lastAlpha)*accum[c]
					}
					dAlpha := (vg.color[0]-accum[0])*dR +
						(vg.color[1]-accum[1])*dG +
						(vg.color[2]-accum[2])*dB
					dAlpha *= t

					g := buf[pixelGradStride*list[li]:]
					w := alpha * t
					g[pgColor] += w * dR
					g[pgColor+1] += w * dG
					g[pgColor+2] += w * dB
					g[pgOpacity] += gauss * dAlpha

					dPower := dAlpha * vg.opacity * gauss
					g[pgMean2D] += dPower * (-vg.conA*dx - vg.conB*dy)
					g[pgMean2D+1] += dPower * (-vg.conC*dy - vg.conB*dx)
					g[pgConic] += dPower * (-0.5 * dx * dx)
					g[pgConic+1] += dPower * (-dx * dy)
					g[pgConic+2] += dPower * (-0.5 * dy * dy)

					lastAlpha = alpha
					lastColor = vg.color
				}
			}
		}
	})

	total := make([]float32, size)
	for _, b := range buffers {
		for i, v := range b {
			total[i] += v
		}
	}
	return total
}

// geometryBackward chains one primitive's pixel-space gradients
// through the conic, the projected covariance, and the projection into
// gradients with respect to world position, scale, unit quaternion,
// opacity, and color.
func (sr *Software) geometryBackward(ctx *forwardCtx, vg *visGaussian, pg []float32, out *Grads) {
	i := int(vg.idx)
	cam := ctx.in.Camera

	out.Colors[3*i] = pg[pgColor]
	out.Colors[3*i+1] = pg[pgColor+1]
	out.Colors[3*i+2] = pg[pgColor+2]
	out.Opacities[i] = pg[pgOpacity]

	dU2D := [2]float32{pg[pgMean2D], pg[pgMean2D+1]}
	dConA, dConB, dConC := pg[pgConic], pg[pgConic+1], pg[pgConic+2]
	if dU2D[0] == 0 && dU2D[1] == 0 && dConA == 0 && dConB == 0 && dConC == 0 {
		return
	}

	// Conic -> 2D covariance: for Lambda = Sigma^-1,
	// dL/dSigma = -Lambda dL/dLambda Lambda.
	lam := [4]float32{vg.conA, vg.conB, vg.conB, vg.conC}
	dLam := [4]float32{dConA, dConB / 2, dConB / 2, dConC}
	tmp := mul2x2(lam, dLam)
	dCov2 := mul2x2(tmp, lam)
	for k := range dCov2 {
		dCov2[k] = -dCov2[k]
	}

	// 2D covariance -> 3D covariance and projection matrix.
	// Sigma2 = U Sigma3 U^T (low-pass term is constant).
	u := &vg.uMat
	scales := ctx.in.Scales[3*i : 3*i+3]
	cov3 := covariance3D(&vg.rot, scales)
	sigma3 := [9]float32{
		cov3[0], cov3[1], cov3[2],
		cov3[1], cov3[3], cov3[4],
		cov3[2], cov3[4], cov3[5],
	}

	// dSigma3 = U^T dCov2 U.
	var dSigma3 [9]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float32
			for a := 0; a < 2; a++ {
				for b := 0; b < 2; b++ {
					sum += u[3*a+r] * dCov2[2*a+b] * u[3*b+c]
				}
			}
			dSigma3[3*r+c] = sum
		}
	}

	// dU = 2 dCov2 U Sigma3.
	var dUMat [6]float32
	for a := 0; a < 2; a++ {
		for c := 0; c < 3; c++ {
			var sum float32
			for b := 0; b < 2; b++ {
				for k := 0; k < 3; k++ {
					sum += dCov2[2*a+b] * u[3*b+k] * sigma3[3*k+c]
				}
			}
			dUMat[3*a+c] = 2 * sum
		}
	}

	// Scale and rotation through Sigma3 = M M^T, M = R diag(s).
	var dM [9]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float32
			for k := 0; k < 3; k++ {
				sum += dSigma3[3*r+k] * vg.rot[3*k+c] * scales[c]
			}
			dM[3*r+c] = 2 * sum
		}
	}
	var dRot [9]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.Scales[3*i+c] += dM[3*r+c] * vg.rot[3*r+c]
			dRot[3*r+c] = dM[3*r+c] * scales[c]
		}
	}
	dq := quatBackward(ctx.in.Quats[4*i:4*i+4], &dRot)
	for c := 0; c < 4; c++ {
		out.Quats[4*i+c] = dq[c]
	}

	// Projection matrix entries back to the camera-space mean.
	wRot := cam.Rotation()
	var dJ00, dJ02, dJ11, dJ12 float32
	for k := 0; k < 3; k++ {
		dJ00 += dUMat[k] * wRot[k]
		dJ02 += dUMat[k] * wRot[6+k]
		dJ11 += dUMat[3+k] * wRot[3+k]
		dJ12 += dUMat[3+k] * wRot[6+k]
	}

	tz := vg.tz
	tz2i := 1 / (tz * tz)
	tz3i := tz2i / tz
	dTx := vg.mulX * -cam.Fx * tz2i * dJ02
	dTy := vg.mulY * -cam.Fy * tz2i * dJ12
	dTz := -cam.Fx*tz2i*dJ00 - cam.Fy*tz2i*dJ11 +
		2*cam.Fx*vg.txc*tz3i*dJ02 + 2*cam.Fy*vg.tyc*tz3i*dJ12

	// Projected center back to the camera-space mean.
	dTx += dU2D[0] * cam.Fx / tz
	dTy += dU2D[1] * cam.Fy / tz
	dTz += -dU2D[0]*cam.Fx*vg.tx*tz2i - dU2D[1]*cam.Fy*vg.ty*tz2i

	// Camera-space mean back to the world-space mean.
	for k := 0; k < 3; k++ {
		out.Means[3*i+k] = wRot[k]*dTx + wRot[3+k]*dTy + wRot[6+k]*dTz
	}
}

// quatBackward maps a rotation-matrix gradient to a unit-quaternion
// gradient.
func quatBackward(q []float32, dR *[9]float32) [4]float32 {
	w, x, y, z := q[0], q[1], q[2], q[3]
	d := func(r, c int) float32 { return dR[3*r+c] }
	return [4]float32{
		2 * (x*(d(2, 1)-d(1, 2)) + y*(d(0, 2)-d(2, 0)) + z*(d(1, 0)-d(0, 1))),
		2*y*(d(0, 1)+d(1, 0)) + 2*z*(d(0, 2)+d(2, 0)) - 4*x*(d(1, 1)+d(2, 2)) + 2*w*(d(2, 1)-d(1, 2)),
		-4*y*(d(0, 0)+d(2, 2)) + 2*x*(d(0, 1)+d(1, 0)) + 2*w*(d(0, 2)-d(2, 0)) + 2*z*(d(1, 2)+d(2, 1)),
		-4*z*(d(0, 0)+d(1, 1)) + 2*x*(d(0, 2)+d(2, 0)) + 2*y*(d(1, 2)+d(2, 1)) + 2*w*(d(1, 0)-d(0, 1)),
	}
}

func mul2x2(a, b [4]float32) [4]float32 {
	return [4]float32{
		a[0]*b[0] + a[1]*b[2], a[0]*b[1] + a[1]*b[3],
		a[2]*b[0] + a[3]*b[2], a[2]*b[1] + a[3]*b[3],
	}
}
