package export

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/hankberger/gosplat/splat"
)

// SplatRecordSize is the fixed size of one compact-format record:
// position (3 float32), activated scale (3 float32), RGBA (4 bytes),
// quantized rotation (4 bytes).
const SplatRecordSize = 32

const quatNormFloor = 1e-10

// WriteSplat writes the compact runtime format. Primitives are sorted
// ascending by the importance key -exp(sum of log scales) / sigmoid
// (opacity), so the strongest visual contributors come first and
// viewers can truncate the tail for a degraded preview. The sort is
// stable, keeping the output reproducible for equal keys.
func WriteSplat(w io.Writer, s *splat.Splats) error {
	if err := s.Check(); err != nil {
		return err
	}
	n := s.Len()

	order := make([]int, n)
	keys := make([]float32, n)
	for i := range order {
		order[i] = i
		scaleSum := s.LogScales[3*i] + s.LogScales[3*i+1] + s.LogScales[3*i+2]
		keys[i] = -math32.Exp(scaleSum) / s.Opacity(i)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return keys[order[a]] < keys[order[b]]
	})

	bw := bufio.NewWriter(w)
	record := make([]byte, SplatRecordSize)
	for _, i := range order {
		for a := 0; a < 3; a++ {
			binary.LittleEndian.PutUint32(record[4*a:], math.Float32bits(s.Means[3*i+a]))
			scale := math32.Exp(s.LogScales[3*i+a])
			binary.LittleEndian.PutUint32(record[12+4*a:], math.Float32bits(scale))
		}
		for c := 0; c < 3; c++ {
			record[24+c] = quantizeByte((0.5 + splat.C0*s.SH0[3*i+c]) * 255)
		}
		record[27] = quantizeByte(s.Opacity(i) * 255)

		q := s.Quats[4*i : 4*i+4]
		norm := math32.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
		if norm < quatNormFloor {
			norm = quatNormFloor
		}
		for c := 0; c < 4; c++ {
			record[28+c] = quantizeByte(math32.Round(q[c]/norm*128 + 128))
		}
		if _, err := bw.Write(record); err != nil {
			return errors.Wrap(err, "write splat")
		}
	}
	return errors.Wrap(bw.Flush(), "write splat")
}

func quantizeByte(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v)
}

// ConvertPLY reads an interchange file and writes its compact-format
// counterpart, both through the atomic path discipline.
func ConvertPLY(plyPath, splatPath string) error {
	s, err := LoadPLY(plyPath)
	if err != nil {
		return err
	}
	return SaveSplat(splatPath, s)
}
