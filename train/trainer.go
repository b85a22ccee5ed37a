// Package train implements the adaptive Gaussian-splat optimization
// loop: the photometric loss, the Adam parameter-group optimizer, the
// gradient-driven density controller, and the progressive
// color-complexity schedule.
package train

import (
	"runtime"
	"runtime/debug"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hankberger/gosplat/render"
	"github.com/hankberger/gosplat/splat"
)

// progressEvery is how often (in steps) the progress callback and the
// step log fire.
const progressEvery = 50

// ProgressFunc receives the step index and the scalar loss. It runs on
// the training goroutine and must not block for long.
type ProgressFunc func(step int, loss float64)

// Trainer runs the optimization loop against a rasterization backend.
type Trainer struct {
	cfg      Config
	renderer *render.Renderer
	log      logrus.FieldLogger
}

// New validates the configuration and builds a trainer over the given
// backend.
func New(cfg Config, backend render.Rasterizer, logger logrus.FieldLogger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("train: missing rasterization backend")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Trainer{
		cfg:      cfg,
		renderer: render.NewRenderer(backend),
		log:      logger,
	}, nil
}

// Train optimizes the population against the cameras' ground-truth
// images for the configured number of steps and returns the final
// (frozen) population. The input population is consumed: topology
// changes replace it wholesale.
//
// progress may be nil. The run is wrapped in a scoped memory release
// that runs on every exit path.
func (t *Trainer) Train(s *splat.Splats, cams []*splat.Camera, progress ProgressFunc) (out *splat.Splats, err error) {
	if err := t.checkInputs(s, cams); err != nil {
		return nil, err
	}
	defer releaseMemory(t.log)

	cfg := &t.cfg
	lossFn := &Loss{SSIMWeight: cfg.SSIMWeight}
	opt := NewAdam(s, cfg)
	ctrl := NewController(cfg, s.SceneExtent(), s.Len())

	t.log.WithFields(logrus.Fields{
		"gaussians": s.Len(),
		"cameras":   len(cams),
		"steps":     cfg.MaxSteps,
	}).Info("training gaussians")

	for step := 0; step < cfg.MaxSteps; step++ {
		opt.SetLR(GroupMeans, cfg.PositionLR(step))

		cam := cams[step%len(cams)]
		rendering, err := t.renderer.Render(s, cam, cfg.ActiveSHDegree(step))
		if err != nil {
			return nil, &DeviceError{Err: err}
		}

		lossVal, dImage, err := lossFn.Eval(rendering.Image, cam.Ground)
		if err != nil {
			return nil, err
		}
		if !finite(lossVal) {
			return nil, &NumericError{Step: step, Loss: float64(lossVal), Gaussians: s.Len()}
		}

		grads, err := rendering.Backward(dImage)
		if err != nil {
			return nil, &DeviceError{Err: err}
		}

		inWindow := step >= cfg.DensifyStart && step < cfg.DensifyEnd
		if inWindow {
			ctrl.Accumulate(grads.Means, rendering.Visible)
		}

		mutated := false
		if inWindow && step > cfg.DensifyStart && step%cfg.DensifyInterval == 0 {
			if s.Len() < cfg.MaxGaussians {
				if grown, changed := ctrl.Densify(s); changed {
					t.log.WithFields(logrus.Fields{
						"step": step,
						"from": s.Len(),
						"to":   grown.Len(),
					}).Info("densified gaussians")
					s = grown
					mutated = true
				}
			}
			if keep, alive := ctrl.Alive(s); alive < s.Len() && alive > 100 {
				before := s.Len()
				pruned, removed := ctrl.Prune(s, keep)
				if removed > 0 {
					t.log.WithFields(logrus.Fields{
						"step":    step,
						"removed": removed,
						"from":    before,
						"to":      pruned.Len(),
					}).Info("pruned transparent gaussians")
					s = pruned
					mutated = true
				}
			}
			if mutated {
				opt = NewAdam(s, cfg)
			}
		}

		// A topology change invalidates this step's gradients; the
		// rebuilt optimizer starts clean on the next step.
		if !mutated {
			opt.Step(grads)
		}

		if cfg.OpacityResetInterval > 0 && step > 0 && step%cfg.OpacityResetInterval == 0 {
			resetOpacities(s)
			opt.ResetMoments(GroupOpacities)
			t.log.WithField("step", step).Info("reset opacities")
		}

		if step%progressEvery == 0 {
			t.log.WithFields(logrus.Fields{
				"step":      step,
				"loss":      lossVal,
				"gaussians": s.Len(),
			}).Info("training step")
			if progress != nil {
				progress(step, float64(lossVal))
			}
		}
	}

	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *Trainer) checkInputs(s *splat.Splats, cams []*splat.Camera) error {
	if s == nil || s.Len() == 0 {
		return &InputError{Reason: "empty primitive population"}
	}
	if err := s.Check(); err != nil {
		return &InputError{Reason: err.Error()}
	}
	if len(cams) == 0 {
		return &InputError{Reason: "no cameras"}
	}
	for i, cam := range cams {
		if cam.Ground == nil {
			return &InputError{Reason: "camera without ground-truth image"}
		}
		if cam.Ground.Width != cam.Width || cam.Ground.Height != cam.Height {
			return &InputError{Reason: "camera resolution does not match its image"}
		}
		if i > 0 && (cam.Width != cams[0].Width || cam.Height != cams[0].Height) {
			return &InputError{Reason: "cameras have mixed resolutions"}
		}
	}
	return nil
}

func resetOpacities(s *splat.Splats) {
	v := splat.Logit(0.01)
	for i := range s.Opacities {
		s.Opacities[i] = v
	}
}

// releaseMemory returns as much memory as possible to the OS after a
// run, mirroring the device-memory guard the loop is wrapped in: the
// population buffers are large and reused across jobs.
func releaseMemory(log logrus.FieldLogger) {
	runtime.GC()
	debug.FreeOSMemory()
	log.Debug("training memory released")
}
