package splat

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
)

// ErrDegenerateInput is returned when a population is initialized from
// an empty point cloud.
var ErrDegenerateInput = errors.New("degenerate input: empty point cloud")

const (
	initialOpacity = 0.1
	minKNNDist     = 1e-7
)

// NewFromPointCloud creates a population with one primitive per input
// point. Positions come from the points; the initial scale is
// isotropic, log of the mean distance to each point's k nearest
// neighbors; rotations are identity quaternions; opacities start at
// logit(0.1); the band-0 color is (rgb-0.5)/C0 and all higher bands
// start at zero.
//
// colors holds 3 channels per point in [0, 1]. restBases is the number
// of higher-band spherical-harmonic basis functions to allocate.
func NewFromPointCloud(points []model3d.Coord3D, colors []float32, k, restBases int) (*Splats, error) {
	n := len(points)
	if n == 0 {
		return nil, ErrDegenerateInput
	}
	if len(colors) != 3*n {
		return nil, errors.Errorf("point cloud: %d points but %d color channels", n, len(colors))
	}
	if k < 1 {
		k = 1
	}

	logScales := knnLogScales(points, k)

	s := &Splats{
		Means:     make([]float32, 3*n),
		LogScales: make([]float32, 3*n),
		Quats:     make([]float32, 4*n),
		Opacities: make([]float32, n),
		SH0:       make([]float32, 3*n),
		SHRest:    make([]float32, 3*n*restBases),
		RestBases: restBases,
	}
	opacity := Logit(initialOpacity)
	for i, p := range points {
		s.Means[3*i] = float32(p.X)
		s.Means[3*i+1] = float32(p.Y)
		s.Means[3*i+2] = float32(p.Z)
		for a := 0; a < 3; a++ {
			s.LogScales[3*i+a] = logScales[i]
			s.SH0[3*i+a] = (colors[3*i+a] - 0.5) / C0
		}
		s.Quats[4*i] = 1
		s.Opacities[i] = opacity
	}
	return s, nil
}

// knnLogScales returns, for each point, the log of the mean distance
// to its k nearest neighbors (excluding the point itself).
func knnLogScales(points []model3d.Coord3D, k int) []float32 {
	tree := model3d.NewCoordTree(points)
	out := make([]float32, len(points))
	for i, p := range points {
		// The nearest result is the query point itself.
		neighbors := tree.KNN(k+1, p)
		var sum float64
		count := 0
		for _, nb := range neighbors {
			if nb == p {
				continue
			}
			sum += nb.Dist(p)
			count++
		}
		avg := minKNNDist
		if count > 0 {
			avg = sum / float64(count)
			if avg < minKNNDist {
				avg = minKNNDist
			}
		}
		out[i] = math32.Log(float32(avg))
	}
	return out
}
