// Package render exposes differentiable rasterization of a Gaussian
// primitive population.
//
// The rasterization backend is an opaque boundary modeled by the
// Rasterizer interface: it consumes activated primitives (unit
// quaternions, exponentiated scales, sigmoid opacities, decoded RGB)
// and reports a rendered image, the set of visible primitives, and a
// backward closure. Renderer adapts a raw-parameter population to
// that boundary and chains gradients back into parameter space.
package render

import (
	"github.com/hankberger/gosplat/splat"
)

// Input is one rasterization request in activated parameter space.
// All slices are parallel with 3, 3, 4, 1, and 3 values per primitive
// respectively.
type Input struct {
	// Means holds world-space positions.
	Means []float32
	// Scales holds per-axis standard deviations (already
	// exponentiated).
	Scales []float32
	// Quats holds unit quaternions (w, x, y, z).
	Quats []float32
	// Opacities holds opacities in (0, 1).
	Opacities []float32
	// Colors holds one RGB color per primitive in [0, 1].
	Colors []float32
	// Camera is the view to rasterize.
	Camera *splat.Camera
}

// Grads holds gradients with respect to the activated Input arrays.
type Grads struct {
	Means     []float32
	Scales    []float32
	Quats     []float32
	Opacities []float32
	Colors    []float32
}

// Output is the result of a forward rasterization pass.
type Output struct {
	// Image is the rendered view at the camera's resolution.
	Image *splat.Image
	// Visible lists the indices of primitives with a nonzero screen
	// footprint, usable to scatter gradient statistics back to only
	// the primitives that contributed. May be nil if the backend does
	// not track visibility.
	Visible []int32
	// Backward maps a gradient with respect to the rendered image
	// (same layout as Image.Pix) to gradients with respect to the
	// activated inputs.
	Backward func(dImage []float32) (*Grads, error)
}

// Rasterizer is the differentiable rasterization capability the
// trainer depends on.
type Rasterizer interface {
	Rasterize(in *Input) (*Output, error)
}

// ParamGrads holds gradients with respect to the raw (stored)
// population parameters, in the same layout as the corresponding
// splat.Splats arrays.
type ParamGrads struct {
	Means     []float32
	LogScales []float32
	Quats     []float32
	Opacities []float32
	SH0       []float32
	SHRest    []float32
}

// NewParamGrads allocates zeroed gradients shaped like s.
func NewParamGrads(s *splat.Splats) *ParamGrads {
	n := s.Len()
	return &ParamGrads{
		Means:     make([]float32, 3*n),
		LogScales: make([]float32, 3*n),
		Quats:     make([]float32, 4*n),
		Opacities: make([]float32, n),
		SH0:       make([]float32, 3*n),
		SHRest:    make([]float32, 3*n*s.RestBases),
	}
}
