package render

import (
	"runtime"
	"sort"
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/hankberger/gosplat/splat"
)

const (
	// lowPass is added to the diagonal of every projected 2D
	// covariance so a splat always covers at least a fraction of a
	// pixel.
	lowPass = 0.3
	// alphaMin is the smallest per-pixel contribution composited.
	alphaMin = 1.0 / 255
	// alphaMax caps per-pixel opacity to keep 1-alpha invertible in
	// the backward pass.
	alphaMax = 0.99
	// transmittanceMin terminates front-to-back compositing.
	transmittanceMin = 1e-4
	// frustumGuard widens the tangent clamp applied to camera-space
	// means before building the projection Jacobian.
	frustumGuard = 1.3
)

// Software is a CPU rasterization backend: tile-based elliptical
// splatting with front-to-back alpha compositing and a full analytic
// backward pass. It satisfies the Rasterizer boundary without any
// device dependency.
type Software struct {
	// TileSize is the square tile edge in pixels (default 16).
	TileSize int
	// Near is the camera-space near plane (default 0.01).
	Near float32
	// Workers bounds render parallelism; 0 means GOMAXPROCS.
	Workers int
}

// NewSoftware returns a backend with default settings.
func NewSoftware() *Software {
	return &Software{}
}

type visGaussian struct {
	idx        int32
	tx, ty, tz float32 // camera-space mean
	txc, tyc   float32 // tangent-clamped mean used by the Jacobian
	mulX, mulY float32 // 0 where the tangent clamp was active
	u, v       float32 // projected center in pixels
	conA, conB float32 // conic (inverse 2D covariance)
	conC       float32
	cov2A      float32 // 2D covariance (low-pass included)
	cov2B      float32
	cov2C      float32
	rot        [9]float32 // rotation matrix of the unit quaternion
	uMat       [6]float32 // 2x3 Jacobian * world-to-camera rotation
	radius     float32
	color      [3]float32
	opacity    float32
}

type forwardCtx struct {
	in             *Input
	sr             *Software
	w, h           int
	tileSize       int
	tilesX, tilesY int
	vis            []visGaussian
	tiles          [][]int32 // indices into vis, depth ordered
	finalT         []float32
	lastContrib    []int32
}

// Rasterize renders the population for one camera and returns the
// image, the visible primitive set, and a backward closure.
func (sr *Software) Rasterize(in *Input) (*Output, error) {
	n := len(in.Opacities)
	if len(in.Means) != 3*n || len(in.Scales) != 3*n || len(in.Quats) != 4*n || len(in.Colors) != 3*n {
		return nil, errors.New("software rasterizer: inconsistent input array lengths")
	}
	if in.Camera == nil {
		return nil, errors.New("software rasterizer: missing camera")
	}

	ctx := &forwardCtx{
		in:       in,
		sr:       sr,
		w:        in.Camera.Width,
		h:        in.Camera.Height,
		tileSize: sr.TileSize,
	}
	if ctx.tileSize <= 0 {
		ctx.tileSize = 16
	}
	ctx.tilesX = (ctx.w + ctx.tileSize - 1) / ctx.tileSize
	ctx.tilesY = (ctx.h + ctx.tileSize - 1) / ctx.tileSize

	sr.project(ctx)
	sr.bin(ctx)
	img := sr.composite(ctx)

	visible := make([]int32, len(ctx.vis))
	for i := range ctx.vis {
		visible[i] = ctx.vis[i].idx
	}
	return &Output{
		Image:   img,
		Visible: visible,
		Backward: func(dImage []float32) (*Grads, error) {
			return sr.backward(ctx, dImage)
		},
	}, nil
}

// project computes the screen-space footprint of every primitive and
// collects the visible ones sorted by depth.
func (sr *Software) project(ctx *forwardCtx) {
	in := ctx.in
	cam := in.Camera
	near := sr.Near
	if near <= 0 {
		near = 0.01
	}
	limX := frustumGuard * float32(ctx.w) / (2 * cam.Fx)
	limY := frustumGuard * float32(ctx.h) / (2 * cam.Fy)
	wRot := cam.Rotation()

	n := len(in.Opacities)
	vis := make([]visGaussian, 0, n)
	for i := 0; i < n; i++ {
		tx, ty, tz := cam.ToCameraSpace(in.Means[3*i], in.Means[3*i+1], in.Means[3*i+2])
		if tz < near {
			continue
		}

		txz, tyz := tx/tz, ty/tz
		txc, mulX := tx, float32(1)
		if txz < -limX {
			txc, mulX = -limX*tz, 0
		} else if txz > limX {
			txc, mulX = limX*tz, 0
		}
		tyc, mulY := ty, float32(1)
		if tyz < -limY {
			tyc, mulY = -limY*tz, 0
		} else if tyz > limY {
			tyc, mulY = limY*tz, 0
		}

		rot := quatToRot(in.Quats[4*i : 4*i+4])
		cov3 := covariance3D(&rot, in.Scales[3*i:3*i+3])

		tz2 := tz * tz
		j00 := cam.Fx / tz
		j02 := -cam.Fx * txc / tz2
		j11 := cam.Fy / tz
		j12 := -cam.Fy * tyc / tz2

		var uMat [6]float32
		for k := 0; k < 3; k++ {
			uMat[k] = j00*wRot[k] + j02*wRot[6+k]
			uMat[3+k] = j11*wRot[3+k] + j12*wRot[6+k]
		}

		a, b, c := projectCov(&uMat, &cov3)
		a += lowPass
		c += lowPass
		det := a*c - b*b
		if det <= 0 {
			continue
		}

		mid := (a + c) / 2
		disc := mid*mid - det
		if disc < 0.1 {
			disc = 0.1
		}
		radius := math32.Ceil(3 * math32.Sqrt(mid+math32.Sqrt(disc)))

		u := cam.Fx*tx/tz + cam.Cx
		v := cam.Fy*ty/tz + cam.Cy
		if u+radius < 0 || u-radius > float32(ctx.w) || v+radius < 0 || v-radius > float32(ctx.h) {
			continue
		}

		vis = append(vis, visGaussian{
			idx: int32(i),
			tx:  tx, ty: ty, tz: tz,
			txc: txc, tyc: tyc,
			mulX: mulX, mulY: mulY,
			u: u, v: v,
			conA: c / det, conB: -b / det, conC: a / det,
			cov2A: a, cov2B: b, cov2C: c,
			rot:    rot,
			uMat:   uMat,
			radius: radius,
			color: [3]float32{
				in.Colors[3*i], in.Colors[3*i+1], in.Colors[3*i+2],
			},
			opacity: in.Opacities[i],
		})
	}
	sort.Slice(vis, func(i, j int) bool {
		return vis[i].tz < vis[j].tz
	})
	ctx.vis = vis
}

// bin assigns each visible primitive to the tiles its footprint
// touches, preserving depth order within every tile.
func (sr *Software) bin(ctx *forwardCtx) {
	ts := float32(ctx.tileSize)
	ctx.tiles = make([][]int32, ctx.tilesX*ctx.tilesY)
	for j := range ctx.vis {
		g := &ctx.vis[j]
		x0 := clampInt(int((g.u-g.radius)/ts), 0, ctx.tilesX-1)
		x1 := clampInt(int((g.u+g.radius)/ts), 0, ctx.tilesX-1)
		y0 := clampInt(int((g.v-g.radius)/ts), 0, ctx.tilesY-1)
		y1 := clampInt(int((g.v+g.radius)/ts), 0, ctx.tilesY-1)
		for ty := y0; ty <= y1; ty++ {
			for tx := x0; tx <= x1; tx++ {
				t := ty*ctx.tilesX + tx
				ctx.tiles[t] = append(ctx.tiles[t], int32(j))
			}
		}
	}
}

// composite renders every tile with front-to-back alpha blending over
// a black background.
func (sr *Software) composite(ctx *forwardCtx) *splat.Image {
	img := splat.NewImage(ctx.w, ctx.h)
	ctx.finalT = make([]float32, ctx.w*ctx.h)
	for i := range ctx.finalT {
		ctx.finalT[i] = 1
	}
	ctx.lastContrib = make([]int32, ctx.w*ctx.h)

	sr.eachTile(ctx, func(tile int) {
		list := ctx.tiles[tile]
		if len(list) == 0 {
			return
		}
		x0, y0, x1, y1 := ctx.tileBounds(tile)
		for py := y0; py < y1; py++ {
			for px := x0; px < x1; px++ {
				pxc, pyc := float32(px)+0.5, float32(py)+0.5
				var r, g, b float32
				t := float32(1)
				contrib := int32(0)
				for li, j := range list {
					vg := &ctx.vis[j]
					alpha, ok := vg.alphaAt(pxc, pyc)
					if !ok {
						continue
					}
					testT := t * (1 - alpha)
					if testT < transmittanceMin {
						break
					}
					w := alpha * t
					r += vg.color[0] * w
					g += vg.color[1] * w
					b += vg.color[2] * w
					t = testT
					contrib = int32(li) + 1
				}
				pix := py*ctx.w + px
				img.Pix[3*pix] = r
				img.Pix[3*pix+1] = g
				img.Pix[3*pix+2] = b
				ctx.finalT[pix] = t
				ctx.lastContrib[pix] = contrib
			}
		}
	})
	return img
}

// alphaAt evaluates the splat's opacity at a pixel center. The second
// return value is false when the contribution is negligible.
func (vg *visGaussian) alphaAt(pxc, pyc float32) (float32, bool) {
	dx := vg.u - pxc
	dy := vg.v - pyc
	power := -0.5*(vg.conA*dx*dx+vg.conC*dy*dy) - vg.conB*dx*dy
	if power > 0 {
		return 0, false
	}
	alpha := vg.opacity * math32.Exp(power)
	if alpha > alphaMax {
		alpha = alphaMax
	}
	if alpha < alphaMin {
		return 0, false
	}
	return alpha, true
}

func (ctx *forwardCtx) tileBounds(tile int) (x0, y0, x1, y1 int) {
	tx := tile % ctx.tilesX
	ty := tile / ctx.tilesX
	x0 = tx * ctx.tileSize
	y0 = ty * ctx.tileSize
	x1 = minInt(x0+ctx.tileSize, ctx.w)
	y1 = minInt(y0+ctx.tileSize, ctx.h)
	return
}

// eachTile runs fn over all tiles on a bounded worker pool.
func (sr *Software) eachTile(ctx *forwardCtx, fn func(tile int)) {
	sr.eachTileWorker(ctx, func(_, tile int) { fn(tile) })
}

// eachTileWorker is eachTile with a stable worker index, for callers
// that keep per-worker accumulators.
func (sr *Software) eachTileWorker(ctx *forwardCtx, fn func(worker, tile int)) {
	workers := sr.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	numTiles := len(ctx.tiles)
	if workers > numTiles {
		workers = numTiles
	}
	if workers <= 1 {
		for t := 0; t < numTiles; t++ {
			fn(0, t)
		}
		return
	}
	var wg sync.WaitGroup
	tileCh := make(chan int, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for t := range tileCh {
				fn(worker, t)
			}
		}(w)
	}
	for t := 0; t < numTiles; t++ {
		tileCh <- t
	}
	close(tileCh)
	wg.Wait()
}

// quatToRot converts a unit quaternion (w, x, y, z) to a row-major
// rotation matrix.
func quatToRot(q []float32) [9]float32 {
	w, x, y, z := q[0], q[1], q[2], q[3]
	return [9]float32{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// covariance3D builds the symmetric world-space covariance R S S R^T,
// returned as (c00, c01, c02, c11, c12, c22).
func covariance3D(rot *[9]float32, scales []float32) [6]float32 {
	var m [9]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[3*r+c] = rot[3*r+c] * scales[c]
		}
	}
	var out [6]float32
	i := 0
	for r := 0; r < 3; r++ {
		for c := r; c < 3; c++ {
			out[i] = m[3*r]*m[3*c] + m[3*r+1]*m[3*c+1] + m[3*r+2]*m[3*c+2]
			i++
		}
	}
	return out
}

// projectCov computes U Sigma U^T for the 2x3 projection U and the
// symmetric 3x3 covariance.
func projectCov(u *[6]float32, cov3 *[6]float32) (a, b, c float32) {
	s := [9]float32{
		cov3[0], cov3[1], cov3[2],
		cov3[1], cov3[3], cov3[4],
		cov3[2], cov3[4], cov3[5],
	}
	var tmp [6]float32 // 2x3: U * Sigma
	for r := 0; r < 2; r++ {
		for col := 0; col < 3; col++ {
			tmp[3*r+col] = u[3*r]*s[col] + u[3*r+1]*s[3+col] + u[3*r+2]*s[6+col]
		}
	}
	a = tmp[0]*u[0] + tmp[1]*u[1] + tmp[2]*u[2]
	b = tmp[0]*u[3] + tmp[1]*u[4] + tmp[2]*u[5]
	c = tmp[3]*u[3] + tmp[4]*u[4] + tmp[5]*u[5]
	return
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
