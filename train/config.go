package train

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Config holds every training knob. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	// MaxSteps is the number of optimization steps, in [1000, 30000].
	MaxSteps int

	// Per-parameter-group learning rates. The position rate decays
	// exponentially from LRMeans to LRMeansFinal over MaxSteps; all
	// other groups use constant rates.
	LRMeans      float32
	LRMeansFinal float32
	LRScales     float32
	LRQuats      float32
	LROpacities  float32
	LRSH         float32

	// SSIMWeight blends the structural-similarity term into the loss:
	// (1-w)*L1 + w*(1-SSIM).
	SSIMWeight float32

	// Densification runs every DensifyInterval steps inside
	// [DensifyStart, DensifyEnd), while the population is below
	// MaxGaussians.
	DensifyStart    int
	DensifyEnd      int
	DensifyInterval int
	// GradThresh selects primitives whose mean positional-gradient
	// magnitude exceeds it (strictly) for densification.
	GradThresh float32
	// MaxGaussians bounds the population size.
	MaxGaussians int
	// SplitScaleFraction, times the scene bounding-box diagonal, is
	// the scale above which a selected primitive is split rather than
	// cloned.
	SplitScaleFraction float32

	// OpacityResetInterval, when positive, periodically resets every
	// opacity to logit(0.01). Zero disables the reset.
	OpacityResetInterval int

	// MaxSHDegree bounds view-dependent color complexity (0 to 3).
	// One degree is activated every SHDegreeInterval steps.
	MaxSHDegree      int
	SHDegreeInterval int

	// KNN is the neighbor count for scale initialization.
	KNN int

	// Seed drives the split-offset sampling.
	Seed int64
}

// DefaultConfig returns the shipped training configuration.
func DefaultConfig() Config {
	return Config{
		MaxSteps:             7000,
		LRMeans:              1.6e-4,
		LRMeansFinal:         1.6e-6,
		LRScales:             5e-3,
		LRQuats:              1e-3,
		LROpacities:          5e-2,
		LRSH:                 2.5e-3,
		SSIMWeight:           0.2,
		DensifyStart:         500,
		DensifyEnd:           4000,
		DensifyInterval:      100,
		GradThresh:           0.0002,
		MaxGaussians:         500000,
		SplitScaleFraction:   0.01,
		OpacityResetInterval: 0,
		MaxSHDegree:          3,
		SHDegreeInterval:     1000,
		KNN:                  4,
	}
}

// Validate checks the stated ranges.
func (c *Config) Validate() error {
	if c.MaxSteps < 1000 || c.MaxSteps > 30000 {
		return errors.Errorf("config: max steps %d outside [1000, 30000]", c.MaxSteps)
	}
	for _, lr := range []struct {
		name  string
		value float32
	}{
		{"means", c.LRMeans},
		{"scales", c.LRScales},
		{"quats", c.LRQuats},
		{"opacities", c.LROpacities},
		{"sh", c.LRSH},
	} {
		if lr.value <= 0 {
			return errors.Errorf("config: non-positive %s learning rate", lr.name)
		}
	}
	if c.LRMeansFinal < 0 {
		return errors.New("config: negative final means learning rate")
	}
	if c.SSIMWeight < 0 || c.SSIMWeight > 1 {
		return errors.Errorf("config: ssim weight %v outside [0, 1]", c.SSIMWeight)
	}
	if c.DensifyStart < 0 || c.DensifyEnd < c.DensifyStart {
		return errors.New("config: invalid densification window")
	}
	if c.DensifyInterval <= 0 {
		return errors.New("config: non-positive densification interval")
	}
	if c.GradThresh <= 0 {
		return errors.New("config: non-positive gradient threshold")
	}
	if c.MaxGaussians <= 0 {
		return errors.New("config: non-positive gaussian budget")
	}
	if c.SplitScaleFraction <= 0 {
		return errors.New("config: non-positive split scale fraction")
	}
	if c.OpacityResetInterval < 0 {
		return errors.New("config: negative opacity reset interval")
	}
	if c.MaxSHDegree < 0 || c.MaxSHDegree > 3 {
		return errors.Errorf("config: sh degree %d outside [0, 3]", c.MaxSHDegree)
	}
	if c.MaxSHDegree > 0 && c.SHDegreeInterval <= 0 {
		return errors.New("config: non-positive sh degree interval")
	}
	if c.KNN < 1 {
		return errors.New("config: knn must be at least 1")
	}
	return nil
}

// PositionLR returns the exponentially decayed position learning rate
// at a step: lr_init * (lr_final/lr_init)^(step/MaxSteps). When no
// valid decay target is configured, the initial rate is returned
// unchanged.
func (c *Config) PositionLR(step int) float32 {
	if c.LRMeansFinal <= 0 || c.LRMeans <= c.LRMeansFinal {
		return c.LRMeans
	}
	frac := float32(step) / float32(c.MaxSteps)
	return c.LRMeans * math32.Pow(c.LRMeansFinal/c.LRMeans, frac)
}

// ActiveSHDegree returns the spherical-harmonic degree active at a
// step under the fixed curriculum.
func (c *Config) ActiveSHDegree(step int) int {
	if c.MaxSHDegree <= 0 || c.SHDegreeInterval <= 0 {
		return 0
	}
	degree := step / c.SHDegreeInterval
	if degree > c.MaxSHDegree {
		degree = c.MaxSHDegree
	}
	return degree
}
