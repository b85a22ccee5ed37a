// Package recon defines the boundary to the upstream multi-view
// reconstruction stage: the poses, intrinsics, and dense point cloud
// the trainer consumes. The reconstruction model itself is an
// external pretrained capability; this package only specifies its
// interface and manages the process-wide shared instance.
package recon

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
)

// Reconstruction is the output of the upstream pose and point-cloud
// estimation: already confidence-filtered and outlier-rejected, shared
// with the trainer as-is.
type Reconstruction struct {
	// Poses holds one row-major 4x4 camera-to-world matrix per view.
	Poses [][]float64
	// Intrinsics holds one row-major 3x3 matrix per view.
	Intrinsics [][]float64
	// Points is the dense point cloud.
	Points []model3d.Coord3D
	// Colors holds 3 channels per point in [0, 1].
	Colors []float32
	// ImagePaths locates the ground-truth image for each view.
	ImagePaths []string
}

// Check verifies per-view and per-point array consistency.
func (r *Reconstruction) Check() error {
	if len(r.Poses) != len(r.Intrinsics) || len(r.Poses) != len(r.ImagePaths) {
		return errors.Errorf("reconstruction: %d poses, %d intrinsics, %d images",
			len(r.Poses), len(r.Intrinsics), len(r.ImagePaths))
	}
	if len(r.Colors) != 3*len(r.Points) {
		return errors.Errorf("reconstruction: %d points but %d color channels",
			len(r.Points), len(r.Colors))
	}
	return nil
}

// Model is a pretrained multi-view reconstruction capability.
type Model interface {
	// Reconstruct estimates poses, intrinsics, and a dense colored
	// point cloud from a set of image paths.
	Reconstruct(imagePaths []string) (*Reconstruction, error)
	// Close releases the model's resources.
	Close() error
}

var (
	sharedMu     sync.Mutex
	sharedModel  Model
	sharedLoader func() (Model, error)
)

// SetLoader registers the function used to load the shared model on
// first use.
func SetLoader(loader func() (Model, error)) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedLoader = loader
}

// Shared returns the process-wide model, loading it on first use. The
// model stays resident until Unload.
func Shared() (Model, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedModel != nil {
		return sharedModel, nil
	}
	if sharedLoader == nil {
		return nil, errors.New("recon: no model loader registered")
	}
	m, err := sharedLoader()
	if err != nil {
		return nil, errors.Wrap(err, "recon: load model")
	}
	sharedModel = m
	return m, nil
}

// Unload closes and drops the shared model if one is resident.
func Unload() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedModel == nil {
		return nil
	}
	err := sharedModel.Close()
	sharedModel = nil
	return errors.Wrap(err, "recon: unload model")
}
