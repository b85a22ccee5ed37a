package render

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/hankberger/gosplat/splat"
)

const quatNormEps = 1e-8

// Renderer adapts a raw-parameter population to a rasterization
// backend: quaternions are normalized at call time, scales and
// opacities are activated, and spherical-harmonic color is decoded at
// the requested degree. The matching Backward pass chains backend
// gradients into raw parameter space.
type Renderer struct {
	Backend Rasterizer
}

// NewRenderer returns a Renderer over the given backend.
func NewRenderer(backend Rasterizer) *Renderer {
	return &Renderer{Backend: backend}
}

// Rendering is one differentiable forward pass.
type Rendering struct {
	// Image is the rendered view.
	Image *splat.Image
	// Visible lists primitive indices with a nonzero screen
	// footprint, or nil when the backend does not report visibility.
	Visible []int32

	backward func(dImage []float32) (*Grads, error)
	state    *renderState
}

type renderState struct {
	splats *splat.Splats
	degree int
	bases  int

	scales    []float32
	opacities []float32
	unitQuats []float32
	quatNorms []float32

	dirs      []float32 // unit view direction per primitive
	dirDists  []float32 // distance from camera per primitive
	basisVals []float32 // bases values per primitive
	basisGrad []float32 // 3 per basis per primitive (degree >= 1 only)
	clampMask []float32 // 1 where decoded color is strictly inside [0, 1]
}

// Render rasterizes the population through the backend with the given
// active spherical-harmonic degree. The degree is clamped to what the
// population can represent.
func (r *Renderer) Render(s *splat.Splats, cam *splat.Camera, shDegree int) (*Rendering, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	if shDegree < 0 {
		shDegree = 0
	}
	if max := splat.MaxSHDegree(s.RestBases); shDegree > max {
		shDegree = max
	}

	n := s.Len()
	st := &renderState{
		splats:    s,
		degree:    shDegree,
		bases:     splat.NumSHBases(shDegree),
		scales:    make([]float32, 3*n),
		opacities: make([]float32, n),
		unitQuats: make([]float32, 4*n),
		quatNorms: make([]float32, n),
		dirs:      make([]float32, 3*n),
		dirDists:  make([]float32, n),
		basisVals: make([]float32, n*splat.NumSHBases(shDegree)),
		clampMask: make([]float32, 3*n),
	}
	if shDegree >= 1 {
		st.basisGrad = make([]float32, 3*n*st.bases)
	}

	for i := 0; i < 3*n; i++ {
		st.scales[i] = math32.Exp(s.LogScales[i])
	}
	for i := 0; i < n; i++ {
		st.opacities[i] = splat.Sigmoid(s.Opacities[i])
	}
	for i := 0; i < n; i++ {
		q := s.Quats[4*i : 4*i+4]
		norm := math32.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
		st.quatNorms[i] = norm
		inv := 1 / (norm + quatNormEps)
		for c := 0; c < 4; c++ {
			st.unitQuats[4*i+c] = q[c] * inv
		}
	}

	colors := r.decodeColors(st, cam)

	out, err := r.Backend.Rasterize(&Input{
		Means:     s.Means,
		Scales:    st.scales,
		Quats:     st.unitQuats,
		Opacities: st.opacities,
		Colors:    colors,
		Camera:    cam,
	})
	if err != nil {
		return nil, errors.Wrap(err, "render")
	}
	return &Rendering{
		Image:    out.Image,
		Visible:  out.Visible,
		backward: out.Backward,
		state:    st,
	}, nil
}

// decodeColors evaluates spherical-harmonic color per primitive at the
// active degree, clamped to [0, 1], recording everything Backward
// needs for the chain rule.
func (r *Renderer) decodeColors(st *renderState, cam *splat.Camera) []float32 {
	s := st.splats
	n := s.Len()
	camPos := cam.Position()
	cx, cy, cz := float32(camPos.X), float32(camPos.Y), float32(camPos.Z)

	colors := make([]float32, 3*n)
	for i := 0; i < n; i++ {
		dx := s.Means[3*i] - cx
		dy := s.Means[3*i+1] - cy
		dz := s.Means[3*i+2] - cz
		dist := math32.Sqrt(dx*dx + dy*dy + dz*dz)
		if dist < 1e-8 {
			dist = 1e-8
		}
		dx, dy, dz = dx/dist, dy/dist, dz/dist
		st.dirs[3*i], st.dirs[3*i+1], st.dirs[3*i+2] = dx, dy, dz
		st.dirDists[i] = dist

		basis := st.basisVals[i*st.bases : (i+1)*st.bases]
		if st.degree >= 1 {
			grad := st.basisGrad[3*i*st.bases : 3*(i+1)*st.bases]
			splat.SHBasisGrad(st.degree, dx, dy, dz, basis, grad)
		} else {
			splat.SHBasis(st.degree, dx, dy, dz, basis)
		}

		// SHRest is laid out per primitive: 3 channels per extra basis.
		rest := s.SHRest[3*s.RestBases*i : 3*s.RestBases*(i+1)]
		for c := 0; c < 3; c++ {
			v := 0.5 + basis[0]*s.SH0[3*i+c]
			for b := 1; b < st.bases; b++ {
				v += basis[b] * rest[3*(b-1)+c]
			}
			clamped := v
			mask := float32(1)
			if v <= 0 {
				clamped, mask = 0, 0
			} else if v >= 1 {
				clamped, mask = 1, 0
			}
			colors[3*i+c] = clamped
			st.clampMask[3*i+c] = mask
		}
	}
	return colors
}

// Backward maps a gradient with respect to the rendered image into
// raw-parameter gradients.
func (rd *Rendering) Backward(dImage []float32) (*ParamGrads, error) {
	g, err := rd.backward(dImage)
	if err != nil {
		return nil, errors.Wrap(err, "render backward")
	}
	st := rd.state
	s := st.splats
	n := s.Len()
	out := NewParamGrads(s)

	for i := 0; i < n; i++ {
		// Opacity: chain through sigmoid.
		op := st.opacities[i]
		out.Opacities[i] = g.Opacities[i] * op * (1 - op)

		// Scale: chain through exp.
		for a := 0; a < 3; a++ {
			out.LogScales[3*i+a] = g.Scales[3*i+a] * st.scales[3*i+a]
		}

		// Quaternion: chain through call-time normalization
		// u = q / (|q| + eps).
		norm := st.quatNorms[i]
		inv := 1 / (norm + quatNormEps)
		var dot float32
		for c := 0; c < 4; c++ {
			dot += st.unitQuats[4*i+c] * g.Quats[4*i+c]
		}
		k := float32(0)
		if norm > 1e-12 {
			k = dot / norm
		}
		for c := 0; c < 4; c++ {
			out.Quats[4*i+c] = inv * (g.Quats[4*i+c] - s.Quats[4*i+c]*k)
		}

		// Color: chain through the clamp and the SH basis, including
		// the view-direction path back into the position.
		basis := st.basisVals[i*st.bases : (i+1)*st.bases]
		rest := s.SHRest[3*s.RestBases*i : 3*s.RestBases*(i+1)]
		restGrad := out.SHRest[3*s.RestBases*i : 3*s.RestBases*(i+1)]
		var dDir [3]float32
		for c := 0; c < 3; c++ {
			dc := g.Colors[3*i+c] * st.clampMask[3*i+c]
			if dc == 0 {
				continue
			}
			out.SH0[3*i+c] = dc * basis[0]
			for b := 1; b < st.bases; b++ {
				restGrad[3*(b-1)+c] = dc * basis[b]
				if st.basisGrad != nil {
					bg := st.basisGrad[(3*i*st.bases + 3*b):]
					coef := rest[3*(b-1)+c]
					dDir[0] += dc * coef * bg[0]
					dDir[1] += dc * coef * bg[1]
					dDir[2] += dc * coef * bg[2]
				}
			}
		}

		// Position: geometric gradient from the backend plus the
		// direction path, projected through dir = v / |v|.
		for a := 0; a < 3; a++ {
			out.Means[3*i+a] = g.Means[3*i+a]
		}
		if st.degree >= 1 && (dDir[0] != 0 || dDir[1] != 0 || dDir[2] != 0) {
			d := st.dirs[3*i : 3*i+3]
			dot := d[0]*dDir[0] + d[1]*dDir[1] + d[2]*dDir[2]
			invDist := 1 / st.dirDists[i]
			for a := 0; a < 3; a++ {
				out.Means[3*i+a] += (dDir[a] - d[a]*dot) * invDist
			}
		}
	}
	return out, nil
}
