package train

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hankberger/gosplat/splat"
)

func randomImage(rng *rand.Rand, w, h int) *splat.Image {
	img := splat.NewImage(w, h)
	for i := range img.Pix {
		img.Pix[i] = rng.Float32()
	}
	return img
}

func TestLossL1Only(t *testing.T) {
	l := &Loss{SSIMWeight: 0}
	a := splat.NewImage(2, 2)
	b := splat.NewImage(2, 2)
	for i := range a.Pix {
		a.Pix[i] = 0.5
	}
	b.Pix[0] = 0.9 // diff -0.4
	b.Pix[5] = 0.3 // diff 0.2

	loss, grad, err := l.Eval(a, b)
	require.NoError(t, err)
	assert.InDelta(t, (0.4+0.2)/12, loss, 1e-6)

	assert.InDelta(t, -1.0/12, grad[0], 1e-7)
	assert.InDelta(t, 1.0/12, grad[5], 1e-7)
	// A zero-difference channel still carries the sign convention for
	// d >= 0.
	assert.InDelta(t, 1.0/12, grad[1], 1e-7)
}

func TestLossIdenticalImages(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := randomImage(rng, 16, 16)
	b := splat.NewImage(16, 16)
	copy(b.Pix, a.Pix)

	l := &Loss{SSIMWeight: 0.2}
	loss, _, err := l.Eval(a, b)
	require.NoError(t, err)
	// L1 is zero and SSIM is 1, so the blended loss vanishes.
	assert.InDelta(t, 0, loss, 1e-5)
}

func TestLossResolutionMismatch(t *testing.T) {
	l := &Loss{}
	_, _, err := l.Eval(splat.NewImage(4, 4), splat.NewImage(4, 5))
	assert.Error(t, err)
}

func TestLossTooSmallForSSIM(t *testing.T) {
	l := &Loss{SSIMWeight: 0.2}
	_, _, err := l.Eval(splat.NewImage(8, 8), splat.NewImage(8, 8))
	assert.Error(t, err)

	// Without the structural term small images are fine.
	l.SSIMWeight = 0
	_, _, err = l.Eval(splat.NewImage(8, 8), splat.NewImage(8, 8))
	assert.NoError(t, err)
}

func TestSSIMPlaneIdentical(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	w, h := 13, 12
	x := make([]float32, w*h)
	for i := range x {
		x[i] = rng.Float32()
	}
	grad := make([]float32, w*h)
	ssim := ssimPlane(x, x, w, h, grad)
	assert.InDelta(t, 1.0, ssim, 1e-5)
}

func TestLossGradientFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	rendered := randomImage(rng, 12, 12)
	truth := randomImage(rng, 12, 12)
	l := &Loss{SSIMWeight: 0.2}

	_, grad, err := l.Eval(rendered, truth)
	require.NoError(t, err)

	const eps = 1e-3
	for _, idx := range []int{0, 7, 100, 200, len(rendered.Pix) - 1} {
		orig := rendered.Pix[idx]
		if d := orig - truth.Pix[idx]; d > -0.01 && d < 0.01 {
			// Too close to the absolute-value kink for a central
			// difference.
			continue
		}
		rendered.Pix[idx] = orig + eps
		plus, _, err := l.Eval(rendered, truth)
		require.NoError(t, err)
		rendered.Pix[idx] = orig - eps
		minus, _, err := l.Eval(rendered, truth)
		require.NoError(t, err)
		rendered.Pix[idx] = orig

		numeric := float64(plus-minus) / (2 * eps)
		tol := math.Max(0.05*math.Abs(numeric), 2e-4)
		assert.InDeltaf(t, numeric, float64(grad[idx]), tol, "pixel %d", idx)
	}
}
