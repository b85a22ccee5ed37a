package train

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/hankberger/gosplat/splat"
)

// Loss is the photometric training objective:
// (1-w)*L1 + w*(1-SSIM).
type Loss struct {
	// SSIMWeight is the structural-similarity blend weight w.
	SSIMWeight float32
}

// Eval scores a render against the ground truth and returns the loss
// value together with its gradient with respect to every rendered
// pixel channel (same layout as rendered.Pix).
func (l *Loss) Eval(rendered, truth *splat.Image) (float32, []float32, error) {
	if rendered.Width != truth.Width || rendered.Height != truth.Height {
		return 0, nil, errors.Errorf("loss: render %dx%d does not match ground truth %dx%d",
			rendered.Width, rendered.Height, truth.Width, truth.Height)
	}
	if l.SSIMWeight > 0 && (rendered.Width < ssimWindow || rendered.Height < ssimWindow) {
		return 0, nil, errors.Errorf("loss: image %dx%d smaller than the %d-pixel ssim window",
			rendered.Width, rendered.Height, ssimWindow)
	}

	grad := make([]float32, len(rendered.Pix))

	// Mean absolute pixel difference over all channels.
	var l1 float32
	invCount := 1 / float32(len(rendered.Pix))
	l1Scale := (1 - l.SSIMWeight) * invCount
	for i, r := range rendered.Pix {
		d := r - truth.Pix[i]
		if d >= 0 {
			l1 += d
			grad[i] = l1Scale
		} else {
			l1 -= d
			grad[i] = -l1Scale
		}
	}
	l1 *= invCount

	loss := (1 - l.SSIMWeight) * l1
	if l.SSIMWeight > 0 {
		ssim := l.ssimBackward(rendered, truth, grad)
		loss += l.SSIMWeight * (1 - ssim)
	}
	return loss, grad, nil
}

// ssimBackward computes mean SSIM over the three channels and folds
// -w*d(SSIM)/dpixel into grad.
func (l *Loss) ssimBackward(rendered, truth *splat.Image, grad []float32) float32 {
	w, h := rendered.Width, rendered.Height
	plane := make([]float32, w*h)
	var mean float32
	for c := 0; c < 3; c++ {
		x := rendered.Channel(c)
		y := truth.Channel(c)
		for i := range plane {
			plane[i] = 0
		}
		mean += ssimPlane(x, y, w, h, plane)
		// The loss carries 1-SSIM, so the SSIM gradient enters
		// negated; each channel contributes a third of the mean.
		scale := -l.SSIMWeight / 3
		for i, v := range plane {
			grad[i*3+c] += scale * v
		}
	}
	return mean / 3
}

// finite reports whether v is a usable loss value.
func finite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}
