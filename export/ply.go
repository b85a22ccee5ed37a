// Package export serializes a frozen primitive population into the
// two output formats: a full-precision PLY interchange file and a
// compact quantized runtime file. Both serializers are pure functions
// of the population; file writes are atomic.
package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hankberger/gosplat/splat"
)

// plyBaseProps is the fixed part of the record layout: position,
// band-0 color, opacity logit, log scales, quaternion.
const plyBaseProps = 14

// WritePLY writes the interchange format: an ASCII header describing
// the record layout followed by one little-endian float32 record per
// primitive, in storage order and raw (log/logit) parameter space.
func WritePLY(w io.Writer, s *splat.Splats) error {
	if err := s.Check(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "ply\nformat binary_little_endian 1.0\nelement vertex %d\n", s.Len())
	for _, name := range []string{"x", "y", "z", "f_dc_0", "f_dc_1", "f_dc_2"} {
		fmt.Fprintf(bw, "property float %s\n", name)
	}
	for i := 0; i < 3*s.RestBases; i++ {
		fmt.Fprintf(bw, "property float f_rest_%d\n", i)
	}
	fmt.Fprint(bw, "property float opacity\n")
	for i := 0; i < 3; i++ {
		fmt.Fprintf(bw, "property float scale_%d\n", i)
	}
	for i := 0; i < 4; i++ {
		fmt.Fprintf(bw, "property float rot_%d\n", i)
	}
	fmt.Fprint(bw, "end_header\n")

	record := make([]byte, 4*(plyBaseProps+3*s.RestBases))
	for i := 0; i < s.Len(); i++ {
		off := 0
		put := func(v float32) {
			binary.LittleEndian.PutUint32(record[off:], math.Float32bits(v))
			off += 4
		}
		put(s.Means[3*i])
		put(s.Means[3*i+1])
		put(s.Means[3*i+2])
		put(s.SH0[3*i])
		put(s.SH0[3*i+1])
		put(s.SH0[3*i+2])
		for _, v := range s.SHRest[3*s.RestBases*i : 3*s.RestBases*(i+1)] {
			put(v)
		}
		put(s.Opacities[i])
		put(s.LogScales[3*i])
		put(s.LogScales[3*i+1])
		put(s.LogScales[3*i+2])
		put(s.Quats[4*i])
		put(s.Quats[4*i+1])
		put(s.Quats[4*i+2])
		put(s.Quats[4*i+3])
		if _, err := bw.Write(record); err != nil {
			return errors.Wrap(err, "write ply")
		}
	}
	return errors.Wrap(bw.Flush(), "write ply")
}

// ReadPLY decodes a file written by WritePLY back into a population.
func ReadPLY(r io.Reader) (*splat.Splats, error) {
	br := bufio.NewReader(r)

	count, numProps, err := readPLYHeader(br)
	if err != nil {
		return nil, err
	}
	extra := numProps - plyBaseProps
	if extra < 0 || extra%3 != 0 {
		return nil, errors.Errorf("read ply: unsupported %d-property layout", numProps)
	}
	restBases := extra / 3

	s := &splat.Splats{
		Means:     make([]float32, 0, 3*count),
		LogScales: make([]float32, 0, 3*count),
		Quats:     make([]float32, 0, 4*count),
		Opacities: make([]float32, 0, count),
		SH0:       make([]float32, 0, 3*count),
		SHRest:    make([]float32, 0, 3*count*restBases),
		RestBases: restBases,
	}
	record := make([]byte, 4*numProps)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(br, record); err != nil {
			return nil, errors.Wrapf(err, "read ply: record %d", i)
		}
		off := 0
		get := func() float32 {
			v := math.Float32frombits(binary.LittleEndian.Uint32(record[off:]))
			off += 4
			return v
		}
		s.Means = append(s.Means, get(), get(), get())
		s.SH0 = append(s.SH0, get(), get(), get())
		for j := 0; j < 3*restBases; j++ {
			s.SHRest = append(s.SHRest, get())
		}
		s.Opacities = append(s.Opacities, get())
		s.LogScales = append(s.LogScales, get(), get(), get())
		s.Quats = append(s.Quats, get(), get(), get(), get())
	}
	if err := s.Check(); err != nil {
		return nil, errors.Wrap(err, "read ply")
	}
	return s, nil
}

func readPLYHeader(br *bufio.Reader) (count, numProps int, err error) {
	line := func() (string, error) {
		l, err := br.ReadString('\n')
		if err != nil {
			return "", errors.Wrap(err, "read ply header")
		}
		return strings.TrimRight(l, "\n"), nil
	}

	count = -1
	magic, err := line()
	if err != nil {
		return 0, 0, err
	}
	if magic != "ply" {
		return 0, 0, errors.New("read ply: missing magic")
	}
	format, err := line()
	if err != nil {
		return 0, 0, err
	}
	if format != "format binary_little_endian 1.0" {
		return 0, 0, errors.Errorf("read ply: unsupported format %q", format)
	}
	for {
		l, err := line()
		if err != nil {
			return 0, 0, err
		}
		switch {
		case l == "end_header":
			if count < 0 {
				return 0, 0, errors.New("read ply: missing vertex element")
			}
			return count, numProps, nil
		case strings.HasPrefix(l, "element vertex "):
			count, err = strconv.Atoi(strings.TrimPrefix(l, "element vertex "))
			if err != nil || count < 0 {
				return 0, 0, errors.Errorf("read ply: bad vertex count in %q", l)
			}
		case strings.HasPrefix(l, "property float "):
			numProps++
		case strings.HasPrefix(l, "comment "):
		default:
			return 0, 0, errors.Errorf("read ply: unsupported header line %q", l)
		}
	}
}
