package splat

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Image is a float32 RGB image with channel values in [0, 1], stored
// interleaved (HWC).
type Image struct {
	Width  int
	Height int
	// Pix holds Width*Height*3 channel values; pixel (x, y) starts at
	// index (y*Width+x)*3.
	Pix []float32
}

// NewImage allocates a zeroed image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float32, width*height*3)}
}

// At returns the channel c value of pixel (x, y).
func (im *Image) At(x, y, c int) float32 {
	return im.Pix[(y*im.Width+x)*3+c]
}

// Channel copies out one channel as a flat Height*Width plane.
func (im *Image) Channel(c int) []float32 {
	out := make([]float32, im.Width*im.Height)
	for i := range out {
		out[i] = im.Pix[i*3+c]
	}
	return out
}

// LoadImage reads a PNG or JPEG file into a float32 image. If maxSide
// is positive and the image's longer side exceeds it, the image is
// downscaled to fit while keeping the aspect ratio.
func LoadImage(path string, maxSide int) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "load image")
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load image %s", path)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		if w >= h {
			h = h * maxSide / w
			w = maxSide
		} else {
			w = w * maxSide / h
			h = maxSide
		}
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)
		src = scaled
		b = scaled.Bounds()
	}

	out := NewImage(w, h)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			out.Pix[i] = float32(r) / 0xffff
			out.Pix[i+1] = float32(g) / 0xffff
			out.Pix[i+2] = float32(bl) / 0xffff
			i += 3
		}
	}
	return out, nil
}
