package splat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *Image {
	return NewImage(w, h)
}

func TestNewCameraRepair(t *testing.T) {
	pose := []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	intrinsics := []float64{
		100, 0, 0,
		0, 0, 0,
		0, 0, 1,
	}
	cam, err := NewCamera(pose, intrinsics, testImage(64, 48))
	require.NoError(t, err)
	assert.Equal(t, float32(100), cam.Fx)
	assert.Equal(t, float32(100), cam.Fy)
	assert.Equal(t, float32(32), cam.Cx)
	assert.Equal(t, float32(24), cam.Cy)
	assert.Equal(t, 64, cam.Width)
	assert.Equal(t, 48, cam.Height)
}

func TestNewCameraWorldToCamera(t *testing.T) {
	// Camera translated to (0, 0, -5) with identity rotation.
	pose := []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, -5,
		0, 0, 0, 1,
	}
	intrinsics := []float64{
		50, 0, 8,
		0, 50, 8,
		0, 0, 1,
	}
	cam, err := NewCamera(pose, intrinsics, testImage(16, 16))
	require.NoError(t, err)

	pos := cam.Position()
	assert.InDelta(t, 0, pos.X, 1e-6)
	assert.InDelta(t, -5, pos.Z, 1e-6)

	tx, ty, tz := cam.ToCameraSpace(1, 2, 3)
	assert.InDelta(t, 1, tx, 1e-5)
	assert.InDelta(t, 2, ty, 1e-5)
	assert.InDelta(t, 8, tz, 1e-5)
}

func TestNewCameraErrors(t *testing.T) {
	img := testImage(8, 8)
	good := make([]float64, 16)
	for i := 0; i < 4; i++ {
		good[5*i] = 1
	}
	intr := []float64{10, 0, 4, 0, 10, 4, 0, 0, 1}

	_, err := NewCamera(good[:15], intr, img)
	assert.Error(t, err)
	_, err = NewCamera(good, intr[:8], img)
	assert.Error(t, err)
	_, err = NewCamera(good, intr, nil)
	assert.Error(t, err)
	_, err = NewCamera(good, []float64{0, 0, 0, 0, 0, 0, 0, 0, 1}, img)
	assert.Error(t, err)

	// Singular pose cannot be inverted.
	_, err = NewCamera(make([]float64, 16), intr, img)
	assert.Error(t, err)
}
