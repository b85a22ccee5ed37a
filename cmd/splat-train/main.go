// Command splat-train optimizes a Gaussian-splat scene from a posed
// point cloud and its training images, then exports the result.
//
// The scene description is a JSON file with the reconstruction
// output: a point array, a matching color array, and one camera entry
// (pose, intrinsics, image path) per training view.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/model3d/model3d"

	"github.com/hankberger/gosplat/export"
	"github.com/hankberger/gosplat/render"
	"github.com/hankberger/gosplat/splat"
	"github.com/hankberger/gosplat/train"
)

type sceneFile struct {
	Points  [][3]float64 `json:"points"`
	Colors  [][3]float32 `json:"colors"`
	Cameras []struct {
		Pose       []float64 `json:"pose"`
		Intrinsics []float64 `json:"intrinsics"`
		Image      string    `json:"image"`
	} `json:"cameras"`
}

func main() {
	cfg := train.DefaultConfig()
	var plyOut, splatOut string
	var maxSide int
	var verbose bool

	flag.IntVar(&cfg.MaxSteps, "steps", cfg.MaxSteps, "number of optimization steps")
	flag.IntVar(&cfg.MaxGaussians, "max-gaussians", cfg.MaxGaussians, "primitive budget")
	flag.IntVar(&cfg.MaxSHDegree, "sh-degree", cfg.MaxSHDegree, "maximum spherical-harmonic degree")
	flag.IntVar(&cfg.OpacityResetInterval, "opacity-reset", cfg.OpacityResetInterval,
		"steps between opacity resets (0 disables)")
	flag.Int64Var(&cfg.Seed, "seed", 0, "split-offset sampling seed")
	flag.StringVar(&plyOut, "output", "output.ply", "interchange (PLY) output file")
	flag.StringVar(&splatOut, "splat", "", "optional compact output file")
	flag.IntVar(&maxSide, "max-side", 0, "downscale training images to this longer side (0 keeps them)")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage:", os.Args[0], "[flags] <scene.json>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	flag.Parse()
	if len(flag.Args()) != 1 {
		flag.Usage()
	}

	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	scene, err := readScene(flag.Args()[0])
	essentials.Must(err)

	points := make([]model3d.Coord3D, len(scene.Points))
	colors := make([]float32, 0, 3*len(scene.Points))
	for i, p := range scene.Points {
		points[i] = model3d.Coord3D{X: p[0], Y: p[1], Z: p[2]}
		colors = append(colors, scene.Colors[i][0], scene.Colors[i][1], scene.Colors[i][2])
	}

	cams := make([]*splat.Camera, 0, len(scene.Cameras))
	for _, c := range scene.Cameras {
		img, err := splat.LoadImage(c.Image, maxSide)
		essentials.Must(errors.Wrapf(err, "camera image %s", c.Image))
		cam, err := splat.NewCamera(c.Pose, c.Intrinsics, img)
		essentials.Must(err)
		cams = append(cams, cam)
	}

	restBases := splat.NumSHBases(cfg.MaxSHDegree) - 1
	population, err := splat.NewFromPointCloud(points, colors, cfg.KNN, restBases)
	essentials.Must(err)

	trainer, err := train.New(cfg, render.NewSoftware(), logger)
	essentials.Must(err)
	final, err := trainer.Train(population, cams, func(step int, loss float64) {
		logger.WithFields(logrus.Fields{"step": step, "loss": loss}).Debug("progress")
	})
	essentials.Must(err)

	essentials.Must(export.SavePLY(plyOut, final))
	logger.WithField("path", plyOut).Info("wrote interchange file")
	if splatOut != "" {
		essentials.Must(export.SaveSplat(splatOut, final))
		logger.WithField("path", splatOut).Info("wrote compact file")
	}
}

func readScene(path string) (*sceneFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read scene")
	}
	defer f.Close()
	var scene sceneFile
	if err := json.NewDecoder(f).Decode(&scene); err != nil {
		return nil, errors.Wrap(err, "read scene")
	}
	if len(scene.Colors) != len(scene.Points) {
		return nil, errors.New("read scene: points and colors differ in length")
	}
	if len(scene.Cameras) == 0 {
		return nil, errors.New("read scene: no cameras")
	}
	return &scene, nil
}
