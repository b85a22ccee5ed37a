package train

import (
	"github.com/chewxy/math32"

	"github.com/hankberger/gosplat/render"
	"github.com/hankberger/gosplat/splat"
)

// Adam group names.
const (
	GroupMeans     = "means"
	GroupScales    = "scales"
	GroupQuats     = "quats"
	GroupOpacities = "opacities"
	GroupSH0       = "sh0"
	GroupSHRest    = "shrest"
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

type adamGroup struct {
	name string
	lr   float32
	data []float32
	m    []float32
	v    []float32
}

// Adam is a parameter-group optimizer over the population's flat
// arrays. Moment statistics are tied to array identity: whenever the
// population is rebuilt, a fresh Adam must be constructed for the new
// arrays, which resets all momentum (the contract the density
// controller relies on).
type Adam struct {
	step   int
	groups []*adamGroup
}

// NewAdam creates optimizer state sized for the population, with
// zeroed moments and the configured per-group learning rates.
func NewAdam(s *splat.Splats, cfg *Config) *Adam {
	mk := func(name string, lr float32, data []float32) *adamGroup {
		return &adamGroup{
			name: name,
			lr:   lr,
			data: data,
			m:    make([]float32, len(data)),
			v:    make([]float32, len(data)),
		}
	}
	return &Adam{
		groups: []*adamGroup{
			mk(GroupMeans, cfg.LRMeans, s.Means),
			mk(GroupScales, cfg.LRScales, s.LogScales),
			mk(GroupQuats, cfg.LRQuats, s.Quats),
			mk(GroupOpacities, cfg.LROpacities, s.Opacities),
			mk(GroupSH0, cfg.LRSH, s.SH0),
			mk(GroupSHRest, cfg.LRSH, s.SHRest),
		},
	}
}

// SetLR updates one group's learning rate.
func (a *Adam) SetLR(name string, lr float32) {
	for _, g := range a.groups {
		if g.name == name {
			g.lr = lr
		}
	}
}

// LR returns one group's learning rate.
func (a *Adam) LR(name string) float32 {
	for _, g := range a.groups {
		if g.name == name {
			return g.lr
		}
	}
	return 0
}

// NumParams returns the number of scalar parameters tracked for a
// group.
func (a *Adam) NumParams(name string) int {
	for _, g := range a.groups {
		if g.name == name {
			return len(g.data)
		}
	}
	return 0
}

// ResetMoments zeroes one group's moment statistics, forcing it to
// re-warm (used alongside the opacity reset).
func (a *Adam) ResetMoments(name string) {
	for _, g := range a.groups {
		if g.name != name {
			continue
		}
		for i := range g.m {
			g.m[i] = 0
			g.v[i] = 0
		}
	}
}

// Step applies one Adam update to every parameter group.
func (a *Adam) Step(grads *render.ParamGrads) {
	a.step++
	bc1 := 1 - math32.Pow(adamBeta1, float32(a.step))
	bc2 := 1 - math32.Pow(adamBeta2, float32(a.step))
	for _, g := range a.groups {
		grad := gradFor(g.name, grads)
		for i := range g.data {
			gi := grad[i]
			g.m[i] = adamBeta1*g.m[i] + (1-adamBeta1)*gi
			g.v[i] = adamBeta2*g.v[i] + (1-adamBeta2)*gi*gi
			mHat := g.m[i] / bc1
			vHat := g.v[i] / bc2
			g.data[i] -= g.lr * mHat / (math32.Sqrt(vHat) + adamEps)
		}
	}
}

func gradFor(name string, grads *render.ParamGrads) []float32 {
	switch name {
	case GroupMeans:
		return grads.Means
	case GroupScales:
		return grads.LogScales
	case GroupQuats:
		return grads.Quats
	case GroupOpacities:
		return grads.Opacities
	case GroupSH0:
		return grads.SH0
	default:
		return grads.SHRest
	}
}
