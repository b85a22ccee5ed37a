package train

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hankberger/gosplat/render"
	"github.com/hankberger/gosplat/splat"
)

func onePrimitive() *splat.Splats {
	return &splat.Splats{
		Means:     []float32{1, 2, 3},
		LogScales: []float32{0, 0, 0},
		Quats:     []float32{1, 0, 0, 0},
		Opacities: []float32{0.5},
		SH0:       []float32{0.1, 0.2, 0.3},
		RestBases: 0,
	}
}

func TestAdamFirstStep(t *testing.T) {
	cfg := DefaultConfig()
	s := onePrimitive()
	opt := NewAdam(s, &cfg)

	grads := render.NewParamGrads(s)
	grads.Means[0] = 0.5
	grads.Opacities[0] = -2

	before := s.Means[0]
	beforeOp := s.Opacities[0]
	opt.Step(grads)

	// With zeroed moments, the bias-corrected first step moves each
	// parameter by lr*g/(|g|+eps).
	wantMean := before - cfg.LRMeans*0.5/(0.5+adamEps)
	assert.InDelta(t, wantMean, s.Means[0], 1e-9)
	wantOp := beforeOp + cfg.LROpacities*2/(2+adamEps)
	assert.InDelta(t, wantOp, s.Opacities[0], 1e-7)

	// Zero-gradient parameters stay put.
	assert.Equal(t, float32(2), s.Means[1])
	assert.Equal(t, float32(0), s.LogScales[0])
}

func TestAdamConvergesQuadratic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LRMeans = 0.05
	cfg.LRMeansFinal = 0
	s := onePrimitive()
	opt := NewAdam(s, &cfg)
	grads := render.NewParamGrads(s)

	// Minimize (x-4)^2 over the first mean coordinate.
	for i := 0; i < 2000; i++ {
		grads.Means[0] = 2 * (s.Means[0] - 4)
		opt.Step(grads)
	}
	assert.InDelta(t, 4, s.Means[0], 0.05)
}

func TestAdamGroups(t *testing.T) {
	cfg := DefaultConfig()
	s := onePrimitive()
	opt := NewAdam(s, &cfg)

	assert.Equal(t, 3, opt.NumParams(GroupMeans))
	assert.Equal(t, 4, opt.NumParams(GroupQuats))
	assert.Equal(t, 1, opt.NumParams(GroupOpacities))
	assert.Equal(t, 0, opt.NumParams(GroupSHRest))
	assert.Equal(t, 0, opt.NumParams("nope"))

	assert.Equal(t, cfg.LRMeans, opt.LR(GroupMeans))
	opt.SetLR(GroupMeans, 0.123)
	assert.Equal(t, float32(0.123), opt.LR(GroupMeans))
}

func TestAdamResetMoments(t *testing.T) {
	cfg := DefaultConfig()
	s := onePrimitive()
	opt := NewAdam(s, &cfg)

	grads := render.NewParamGrads(s)
	grads.Opacities[0] = 1
	opt.Step(grads)
	opt.ResetMoments(GroupOpacities)

	// After a moment reset the group re-warms: the next step still
	// moves, but by less than a cold-start step of the same gradient.
	before := s.Opacities[0]
	grads.Opacities[0] = 3
	opt.Step(grads)
	moved := math.Abs(float64(s.Opacities[0] - before))
	require.Greater(t, moved, 0.0)
	assert.Less(t, moved, float64(cfg.LROpacities))
}
