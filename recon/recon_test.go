package recon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/model3d/model3d"
)

type fakeModel struct {
	reconstructions int
	closed          int
}

func (m *fakeModel) Reconstruct(imagePaths []string) (*Reconstruction, error) {
	m.reconstructions++
	return &Reconstruction{
		Poses:      make([][]float64, len(imagePaths)),
		Intrinsics: make([][]float64, len(imagePaths)),
		ImagePaths: imagePaths,
	}, nil
}

func (m *fakeModel) Close() error {
	m.closed++
	return nil
}

func TestReconstructionCheck(t *testing.T) {
	r := &Reconstruction{
		Poses:      make([][]float64, 2),
		Intrinsics: make([][]float64, 2),
		ImagePaths: make([]string, 2),
		Points:     []model3d.Coord3D{{X: 1}},
		Colors:     []float32{1, 2, 3},
	}
	assert.NoError(t, r.Check())

	r.Colors = r.Colors[:2]
	assert.Error(t, r.Check())

	r.Colors = []float32{1, 2, 3}
	r.ImagePaths = r.ImagePaths[:1]
	assert.Error(t, r.Check())
}

func TestSharedLifecycle(t *testing.T) {
	require.NoError(t, Unload())
	SetLoader(nil)

	_, err := Shared()
	assert.Error(t, err)

	model := &fakeModel{}
	loads := 0
	SetLoader(func() (Model, error) {
		loads++
		return model, nil
	})

	m1, err := Shared()
	require.NoError(t, err)
	m2, err := Shared()
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, 1, loads)

	require.NoError(t, Unload())
	assert.Equal(t, 1, model.closed)

	// A second unload is a no-op; the next Shared reloads.
	require.NoError(t, Unload())
	_, err = Shared()
	require.NoError(t, err)
	assert.Equal(t, 2, loads)

	require.NoError(t, Unload())
	SetLoader(nil)
}
