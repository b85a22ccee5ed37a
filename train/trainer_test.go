package train

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/model3d/model3d"

	"github.com/hankberger/gosplat/render"
	"github.com/hankberger/gosplat/splat"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func smokeConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxSteps = 1000
	cfg.SSIMWeight = 0.2
	cfg.DensifyStart = 200
	cfg.DensifyEnd = 400
	cfg.GradThresh = 1 // effectively disables growth
	cfg.MaxSHDegree = 1
	cfg.SHDegreeInterval = 500
	cfg.LRSH = 0.01
	return cfg
}

func smokeCamera(t *testing.T, ground *splat.Image) *splat.Camera {
	pose := []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	intrinsics := []float64{20, 0, 8, 0, 20, 8, 0, 0, 1}
	cam, err := splat.NewCamera(pose, intrinsics, ground)
	require.NoError(t, err)
	return cam
}

func smokeScene(t *testing.T) (*splat.Splats, []*splat.Camera) {
	points := []model3d.Coord3D{
		{X: -0.4, Y: 0, Z: 5},
		{X: 0.4, Y: 0.2, Z: 5.5},
		{X: 0, Y: -0.3, Z: 4.5},
	}
	colors := []float32{
		0.9, 0.2, 0.2,
		0.2, 0.9, 0.2,
		0.2, 0.2, 0.9,
	}
	target, err := splat.NewFromPointCloud(points, colors, 2, 3)
	require.NoError(t, err)
	for i := range target.Opacities {
		target.Opacities[i] = 2
	}

	// Render the target as ground truth, then hand back a copy with
	// disturbed colors for the trainer to pull in.
	ground := splat.NewImage(16, 16)
	cam := smokeCamera(t, ground)
	rd, err := render.NewRenderer(&render.Software{Workers: 1}).Render(target, cam, 0)
	require.NoError(t, err)
	copy(ground.Pix, rd.Image.Pix)

	// Darken, not brighten: every disturbed channel stays strictly
	// inside (0, 1) where the color clamp passes gradients.
	start := target.Gather([]int{0, 1, 2})
	for i := range start.SH0 {
		start.SH0[i] -= 0.6
	}
	return start, []*splat.Camera{cam}
}

func TestTrainSmoke(t *testing.T) {
	if testing.Short() {
		t.Skip("training loop")
	}
	cfg := smokeConfig()
	trainer, err := New(cfg, &render.Software{Workers: 1}, quietLogger())
	require.NoError(t, err)

	s, cams := smokeScene(t)
	var losses []float64
	out, err := trainer.Train(s, cams, func(step int, loss float64) {
		losses = append(losses, loss)
	})
	require.NoError(t, err)
	require.NoError(t, out.Check())
	assert.Equal(t, 3, out.Len())

	require.GreaterOrEqual(t, len(losses), 2)
	first := losses[0]
	last := losses[len(losses)-1]
	assert.Less(t, last, first*0.5)
}

func TestTrainInputErrors(t *testing.T) {
	cfg := smokeConfig()
	trainer, err := New(cfg, &render.Software{Workers: 1}, quietLogger())
	require.NoError(t, err)

	s, cams := smokeScene(t)

	var inputErr *InputError
	_, err = trainer.Train(nil, cams, nil)
	require.ErrorAs(t, err, &inputErr)

	_, err = trainer.Train(s, nil, nil)
	require.ErrorAs(t, err, &inputErr)

	broken := s.Gather([]int{0})
	broken.Means = broken.Means[:2]
	_, err = trainer.Train(broken, cams, nil)
	require.ErrorAs(t, err, &inputErr)

	other := smokeCamera(t, splat.NewImage(8, 8))
	_, err = trainer.Train(s, []*splat.Camera{cams[0], other}, nil)
	require.ErrorAs(t, err, &inputErr)
}

type failingBackend struct{}

func (failingBackend) Rasterize(*render.Input) (*render.Output, error) {
	return nil, errors.New("device lost")
}

func TestTrainDeviceError(t *testing.T) {
	cfg := smokeConfig()
	trainer, err := New(cfg, failingBackend{}, quietLogger())
	require.NoError(t, err)

	s, cams := smokeScene(t)
	_, err = trainer.Train(s, cams, nil)
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Contains(t, devErr.Error(), "device lost")
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSteps = 10
	_, err := New(cfg, &render.Software{}, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	_, err = New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestTrainOpacityReset(t *testing.T) {
	if testing.Short() {
		t.Skip("training loop")
	}
	cfg := smokeConfig()
	cfg.MaxSteps = 1000
	cfg.OpacityResetInterval = 999
	cfg.LROpacities = 1e-8 // freeze opacities so the reset is observable
	trainer, err := New(cfg, &render.Software{Workers: 1}, quietLogger())
	require.NoError(t, err)

	s, cams := smokeScene(t)
	out, err := trainer.Train(s, cams, nil)
	require.NoError(t, err)
	for i := 0; i < out.Len(); i++ {
		assert.InDelta(t, 0.01, out.Opacity(i), 1e-3)
	}
}
