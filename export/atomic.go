package export

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/hankberger/gosplat/splat"
)

// SavePLY writes the interchange file to path atomically: the content
// goes to a temporary file in the same directory and is renamed into
// place only after a successful write, so a failure never leaves a
// partial file at the final path.
func SavePLY(path string, s *splat.Splats) error {
	return atomicWrite(path, func(w io.Writer) error {
		return WritePLY(w, s)
	})
}

// LoadPLY reads an interchange file from disk.
func LoadPLY(path string) (*splat.Splats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "load ply")
	}
	defer f.Close()
	return ReadPLY(f)
}

// SaveSplat writes the compact file to path atomically.
func SaveSplat(path string, s *splat.Splats) error {
	return atomicWrite(path, func(w io.Writer) error {
		return WriteSplat(w, s)
	})
}

func atomicWrite(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "atomic write")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "atomic write")
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		tmp = nil
		return errors.Wrap(err, "atomic write")
	}
	name := tmp.Name()
	tmp = nil
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return errors.Wrap(err, "atomic write")
	}
	return nil
}
