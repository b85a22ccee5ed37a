package splat

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
	"gonum.org/v1/gonum/mat"
)

// Camera is one calibrated training view: a camera-to-world pose, a
// pinhole intrinsic matrix, and the ground-truth image rendered
// against during training. Cameras are immutable for the duration of
// a training run.
type Camera struct {
	// Fx, Fy, Cx, Cy are the pinhole intrinsics in pixels.
	Fx, Fy, Cx, Cy float32
	// Width and Height are the image resolution.
	Width, Height int
	// Ground is the ground-truth image for this view.
	Ground *Image

	// pose is the row-major 4x4 camera-to-world transform.
	pose [16]float64
	// w2cR and w2cT are the rotation and translation of the cached
	// world-to-camera transform.
	w2cR [9]float32
	w2cT [3]float32
}

// NewCamera builds a camera from a row-major 4x4 camera-to-world
// matrix and a row-major 3x3 intrinsic matrix, applying the upstream
// repair rules: a zero principal point defaults to the image center
// and a zero fy copies fx.
func NewCamera(pose []float64, intrinsics []float64, ground *Image) (*Camera, error) {
	if len(pose) != 16 {
		return nil, errors.Errorf("camera: pose has %d elements, want 16", len(pose))
	}
	if len(intrinsics) != 9 {
		return nil, errors.Errorf("camera: intrinsics has %d elements, want 9", len(intrinsics))
	}
	if ground == nil {
		return nil, errors.New("camera: missing ground-truth image")
	}

	c := &Camera{
		Fx:     float32(intrinsics[0]),
		Fy:     float32(intrinsics[4]),
		Cx:     float32(intrinsics[2]),
		Cy:     float32(intrinsics[5]),
		Width:  ground.Width,
		Height: ground.Height,
		Ground: ground,
	}
	copy(c.pose[:], pose)
	if c.Cx == 0 {
		c.Cx = float32(c.Width) / 2
	}
	if c.Cy == 0 {
		c.Cy = float32(c.Height) / 2
	}
	if c.Fy == 0 {
		c.Fy = c.Fx
	}
	if c.Fx <= 0 || c.Fy <= 0 {
		return nil, errors.Errorf("camera: non-positive focal length (%f, %f)", c.Fx, c.Fy)
	}

	c2w := mat.NewDense(4, 4, pose)
	var w2c mat.Dense
	if err := w2c.Inverse(c2w); err != nil {
		return nil, errors.Wrap(err, "camera: invert pose")
	}
	for r := 0; r < 3; r++ {
		for col := 0; col < 3; col++ {
			c.w2cR[3*r+col] = float32(w2c.At(r, col))
		}
		c.w2cT[r] = float32(w2c.At(r, 3))
	}
	return c, nil
}

// Position returns the camera center in world space.
func (c *Camera) Position() model3d.Coord3D {
	return model3d.Coord3D{X: c.pose[3], Y: c.pose[7], Z: c.pose[11]}
}

// ToCameraSpace transforms a world-space point into camera space using
// the cached world-to-camera transform.
func (c *Camera) ToCameraSpace(x, y, z float32) (tx, ty, tz float32) {
	r, t := &c.w2cR, &c.w2cT
	tx = r[0]*x + r[1]*y + r[2]*z + t[0]
	ty = r[3]*x + r[4]*y + r[5]*z + t[1]
	tz = r[6]*x + r[7]*y + r[8]*z + t[2]
	return
}

// Rotation returns the row-major 3x3 rotation of the world-to-camera
// transform.
func (c *Camera) Rotation() [9]float32 {
	return c.w2cR
}
