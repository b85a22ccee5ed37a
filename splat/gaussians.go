package splat

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// C0 is the zeroth real spherical-harmonic normalization constant.
const C0 = 0.28209479177387814

// Splats is a population of anisotropic 3D Gaussian primitives stored
// as parallel arrays. Index i refers to the same logical primitive in
// every array. The population only changes size through whole-array
// rebuilds (Keep, Concat); there is no in-place resize.
type Splats struct {
	// Means holds 3 world-space coordinates per primitive.
	Means []float32
	// LogScales holds 3 log-space scales per primitive; the actual
	// anisotropic scale is exp(LogScales).
	LogScales []float32
	// Quats holds 4 quaternion components (w, x, y, z) per primitive,
	// normalized at use rather than at rest.
	Quats []float32
	// Opacities holds one opacity logit per primitive; the actual
	// opacity is sigmoid(Opacities).
	Opacities []float32
	// SH0 holds the 3 band-0 (view-independent) spherical-harmonic
	// color coefficients per primitive.
	SH0 []float32
	// SHRest holds 3*RestBases higher-band coefficients per primitive,
	// grouped per basis function.
	SHRest []float32
	// RestBases is the number of spherical-harmonic basis functions
	// beyond band 0, i.e. (maxDegree+1)^2 - 1.
	RestBases int
}

// Len returns the number of primitives.
func (s *Splats) Len() int {
	return len(s.Opacities)
}

// Check verifies that every parameter array is consistent with a
// single primitive count.
func (s *Splats) Check() error {
	n := s.Len()
	if len(s.Means) != 3*n {
		return errors.Errorf("splats: means length %d, want %d", len(s.Means), 3*n)
	}
	if len(s.LogScales) != 3*n {
		return errors.Errorf("splats: log scales length %d, want %d", len(s.LogScales), 3*n)
	}
	if len(s.Quats) != 4*n {
		return errors.Errorf("splats: quats length %d, want %d", len(s.Quats), 4*n)
	}
	if len(s.SH0) != 3*n {
		return errors.Errorf("splats: sh0 length %d, want %d", len(s.SH0), 3*n)
	}
	if len(s.SHRest) != 3*n*s.RestBases {
		return errors.Errorf("splats: sh rest length %d, want %d", len(s.SHRest), 3*n*s.RestBases)
	}
	return nil
}

// Keep returns a new population containing exactly the primitives for
// which mask is true, in their original order.
func (s *Splats) Keep(mask []bool) *Splats {
	count := 0
	for _, m := range mask {
		if m {
			count++
		}
	}
	out := emptyLike(s, count)
	for i, m := range mask {
		if m {
			out.appendFrom(s, i)
		}
	}
	return out
}

// Gather returns a new population containing the primitives at the
// given indices, in the given order. Indices may repeat.
func (s *Splats) Gather(indices []int) *Splats {
	out := emptyLike(s, len(indices))
	for _, i := range indices {
		out.appendFrom(s, i)
	}
	return out
}

// Concat concatenates populations into a single new population. All
// parts must share the same RestBases.
func Concat(parts ...*Splats) *Splats {
	total := 0
	for _, p := range parts {
		total += p.Len()
	}
	out := emptyLike(parts[0], total)
	for _, p := range parts {
		for i := 0; i < p.Len(); i++ {
			out.appendFrom(p, i)
		}
	}
	return out
}

// SceneExtent returns the length of the diagonal of the axis-aligned
// bounding box of the primitive positions.
func (s *Splats) SceneExtent() float32 {
	n := s.Len()
	if n == 0 {
		return 0
	}
	var lo, hi [3]float32
	for a := 0; a < 3; a++ {
		lo[a] = s.Means[a]
		hi[a] = s.Means[a]
	}
	for i := 1; i < n; i++ {
		for a := 0; a < 3; a++ {
			v := s.Means[3*i+a]
			if v < lo[a] {
				lo[a] = v
			}
			if v > hi[a] {
				hi[a] = v
			}
		}
	}
	var sum float32
	for a := 0; a < 3; a++ {
		d := hi[a] - lo[a]
		sum += d * d
	}
	return math32.Sqrt(sum)
}

// MaxScale returns exp of the largest log-scale axis of primitive i.
func (s *Splats) MaxScale(i int) float32 {
	m := s.LogScales[3*i]
	for a := 1; a < 3; a++ {
		if v := s.LogScales[3*i+a]; v > m {
			m = v
		}
	}
	return math32.Exp(m)
}

// Opacity returns the activated (sigmoid) opacity of primitive i.
func (s *Splats) Opacity(i int) float32 {
	return Sigmoid(s.Opacities[i])
}

// Sigmoid is the logistic function.
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Logit is the inverse of Sigmoid. p must be in (0, 1).
func Logit(p float32) float32 {
	return math32.Log(p / (1 - p))
}

func emptyLike(s *Splats, capacity int) *Splats {
	return &Splats{
		Means:     make([]float32, 0, 3*capacity),
		LogScales: make([]float32, 0, 3*capacity),
		Quats:     make([]float32, 0, 4*capacity),
		Opacities: make([]float32, 0, capacity),
		SH0:       make([]float32, 0, 3*capacity),
		SHRest:    make([]float32, 0, 3*capacity*s.RestBases),
		RestBases: s.RestBases,
	}
}

func (s *Splats) appendFrom(src *Splats, i int) {
	s.Means = append(s.Means, src.Means[3*i:3*i+3]...)
	s.LogScales = append(s.LogScales, src.LogScales[3*i:3*i+3]...)
	s.Quats = append(s.Quats, src.Quats[4*i:4*i+4]...)
	s.Opacities = append(s.Opacities, src.Opacities[i])
	s.SH0 = append(s.SH0, src.SH0[3*i:3*i+3]...)
	r := 3 * src.RestBases
	s.SHRest = append(s.SHRest, src.SHRest[r*i:r*i+r]...)
}
