package export

import (
	"bufio"
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hankberger/gosplat/splat"
)

func randomSplats(rng *rand.Rand, n, restBases int) *splat.Splats {
	s := &splat.Splats{
		Means:     make([]float32, 3*n),
		LogScales: make([]float32, 3*n),
		Quats:     make([]float32, 4*n),
		Opacities: make([]float32, n),
		SH0:       make([]float32, 3*n),
		SHRest:    make([]float32, 3*n*restBases),
		RestBases: restBases,
	}
	fill := func(arr []float32, scale float32) {
		for i := range arr {
			arr[i] = (rng.Float32()*2 - 1) * scale
		}
	}
	fill(s.Means, 10)
	fill(s.LogScales, 2)
	fill(s.Quats, 1)
	fill(s.Opacities, 4)
	fill(s.SH0, 2)
	fill(s.SHRest, 0.5)
	return s
}

func TestPLYRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, restBases := range []int{0, 3, 15} {
		s := randomSplats(rng, 5, restBases)
		var buf bytes.Buffer
		require.NoError(t, WritePLY(&buf, s))

		out, err := ReadPLY(&buf)
		require.NoError(t, err)
		require.NoError(t, out.Check())

		// float32 records round-trip bit exactly.
		assert.Equal(t, s.Means, out.Means)
		assert.Equal(t, s.LogScales, out.LogScales)
		assert.Equal(t, s.Quats, out.Quats)
		assert.Equal(t, s.Opacities, out.Opacities)
		assert.Equal(t, s.SH0, out.SH0)
		assert.Equal(t, s.SHRest, out.SHRest)
		assert.Equal(t, restBases, out.RestBases)
	}
}

func TestPLYHeader(t *testing.T) {
	s := randomSplats(rand.New(rand.NewSource(2)), 3, 3)
	var buf bytes.Buffer
	require.NoError(t, WritePLY(&buf, s))

	text := buf.String()
	header := text[:strings.Index(text, "end_header\n")]
	assert.True(t, strings.HasPrefix(header, "ply\nformat binary_little_endian 1.0\nelement vertex 3\n"))
	assert.Contains(t, header, "property float x\n")
	assert.Contains(t, header, "property float f_dc_2\n")
	assert.Contains(t, header, "property float f_rest_8\n")
	assert.NotContains(t, header, "f_rest_9")
	assert.Contains(t, header, "property float opacity\n")
	assert.Contains(t, header, "property float scale_2\n")
	assert.Contains(t, header, "property float rot_3\n")
	// 14 fixed properties plus 9 rest coefficients.
	assert.Equal(t, 23, strings.Count(header, "property float "))
}

func TestPLYEmptyPopulation(t *testing.T) {
	s := randomSplats(rand.New(rand.NewSource(3)), 0, 0)
	var buf bytes.Buffer
	require.NoError(t, WritePLY(&buf, s))
	out, err := ReadPLY(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

func TestReadPLYRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not ply\n",
		"ply\nformat ascii 1.0\n",
		"ply\nformat binary_little_endian 1.0\nend_header\n",
		"ply\nformat binary_little_endian 1.0\nelement vertex -1\nend_header\n",
		"ply\nformat binary_little_endian 1.0\nelement vertex 1\nproperty float x\nend_header\n",
	}
	for i, c := range cases {
		_, err := ReadPLY(strings.NewReader(c))
		assert.Errorf(t, err, "case %d", i)
	}
}

func TestReadPLYTruncatedBody(t *testing.T) {
	s := randomSplats(rand.New(rand.NewSource(4)), 4, 0)
	var buf bytes.Buffer
	require.NoError(t, WritePLY(&buf, s))
	trimmed := buf.Bytes()[:buf.Len()-10]
	_, err := ReadPLY(bytes.NewReader(trimmed))
	assert.Error(t, err)
}

func TestReadPLYSkipsComments(t *testing.T) {
	s := randomSplats(rand.New(rand.NewSource(5)), 1, 0)
	var buf bytes.Buffer
	require.NoError(t, WritePLY(&buf, s))

	text := buf.String()
	withComment := strings.Replace(text, "element vertex",
		"comment generated for a test\nelement vertex", 1)
	out, err := ReadPLY(bufio.NewReader(strings.NewReader(withComment)))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
}
