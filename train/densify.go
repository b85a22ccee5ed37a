package train

import (
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/hankberger/gosplat/splat"
)

const (
	// pruneOpacity is the activated opacity below which a primitive is
	// considered dead.
	pruneOpacity = 0.005
	// splitShrink is subtracted from split children's log scales,
	// shrinking them by a factor of 1.6.
	splitShrink = 0.47000363 // ln(1.6)
	// gradCountEps keeps the average well defined for primitives that
	// were never visible.
	gradCountEps = 1e-8
)

// Controller drives adaptive density control: it accumulates
// per-primitive positional-gradient statistics between passes and
// grows (split/clone) or shrinks (prune) the population based on them.
// Every topology change rebuilds the accumulators at the new length;
// the caller must rebuild the optimizer alongside.
type Controller struct {
	// GradAccum and GradCount track the summed positional-gradient
	// magnitude and the number of contributions per primitive since
	// the last densification pass.
	GradAccum []float32
	GradCount []float32

	cfg         *Config
	splitThresh float32
	rng         *rand.Rand
}

// NewController creates a controller for a population of n primitives.
// sceneExtent is the bounding-box diagonal of the initial point cloud;
// the split/clone scale threshold is SplitScaleFraction of it.
func NewController(cfg *Config, sceneExtent float32, n int) *Controller {
	c := &Controller{
		cfg:         cfg,
		splitThresh: cfg.SplitScaleFraction * sceneExtent,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
	}
	c.Reset(n)
	return c
}

// Reset replaces both accumulators with zero arrays of length n.
func (c *Controller) Reset(n int) {
	c.GradAccum = make([]float32, n)
	c.GradCount = make([]float32, n)
}

// Accumulate adds the magnitude of each primitive's positional
// gradient to the running statistics. When the renderer reported a
// visibility subset, only those indices are updated; otherwise every
// primitive is updated.
func (c *Controller) Accumulate(meansGrad []float32, visible []int32) {
	n := len(c.GradAccum)
	if len(visible) > 0 {
		for _, i := range visible {
			c.GradAccum[i] += gradNorm(meansGrad, int(i))
			c.GradCount[i]++
		}
		return
	}
	for i := 0; i < n; i++ {
		c.GradAccum[i] += gradNorm(meansGrad, i)
		c.GradCount[i]++
	}
}

func gradNorm(g []float32, i int) float32 {
	x, y, z := g[3*i], g[3*i+1], g[3*i+2]
	return math32.Sqrt(x*x + y*y + z*z)
}

// Densify splits large and clones small primitives whose average
// positional gradient strictly exceeds the threshold. It returns the
// (possibly new) population and whether the topology changed. The
// accumulators are reset in either case.
func (c *Controller) Densify(s *splat.Splats) (*splat.Splats, bool) {
	n := s.Len()

	var cloneIdx, splitIdx []int
	for i := 0; i < n; i++ {
		avg := c.GradAccum[i] / (c.GradCount[i] + gradCountEps)
		if avg <= c.cfg.GradThresh {
			continue
		}
		if s.MaxScale(i) > c.splitThresh {
			splitIdx = append(splitIdx, i)
		} else {
			cloneIdx = append(cloneIdx, i)
		}
	}

	grow := len(splitIdx) + len(cloneIdx)
	if grow == 0 || n+grow > c.cfg.MaxGaussians {
		c.Reset(n)
		return s, false
	}

	clones := s.Gather(cloneIdx)
	childA := s.Gather(splitIdx)
	childB := s.Gather(splitIdx)
	for k := range splitIdx {
		for a := 0; a < 3; a++ {
			j := 3*k + a
			offset := float32(c.rng.NormFloat64()) * math32.Exp(childA.LogScales[j])
			childA.Means[j] += offset
			childB.Means[j] -= offset
			childA.LogScales[j] -= splitShrink
			childB.LogScales[j] -= splitShrink
		}
	}

	survivors := s
	if len(splitIdx) > 0 {
		keep := make([]bool, n)
		for i := range keep {
			keep[i] = true
		}
		for _, i := range splitIdx {
			keep[i] = false
		}
		survivors = s.Keep(keep)
	}

	out := splat.Concat(survivors, clones, childA, childB)
	c.Reset(out.Len())
	return out, true
}

// Alive returns the keep-mask of primitives whose activated opacity
// strictly exceeds the prune threshold, along with the count kept.
func (c *Controller) Alive(s *splat.Splats) ([]bool, int) {
	n := s.Len()
	mask := make([]bool, n)
	count := 0
	for i := 0; i < n; i++ {
		if s.Opacity(i) > pruneOpacity {
			mask[i] = true
			count++
		}
	}
	return mask, count
}

// Prune rebuilds the population keeping only the masked primitives and
// resets the accumulators to the new length. It returns the new
// population and the number removed.
func (c *Controller) Prune(s *splat.Splats, keep []bool) (*splat.Splats, int) {
	out := s.Keep(keep)
	removed := s.Len() - out.Len()
	if removed == 0 {
		return s, 0
	}
	c.Reset(out.Len())
	return out, removed
}
