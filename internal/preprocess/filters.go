package preprocess

// filters.go implements the fixed-constant luminance filters used by the
// stage pipeline. All operate on flat []uint8 planes with stride w and are
// fully deterministic: no parallelism, no floating-point accumulation order
// differences between runs.

import "math"

// Filter constants. These are pipeline policy, not runtime configuration:
// changing them changes every stored stage artifact.
const (
	// claheClipLimit bounds per-tile histogram peaks relative to a uniform
	// distribution. 3.0 lifts shadow detail without amplifying sensor
	// noise into false photogrammetry features.
	claheClipLimit = 3.0

	// claheTileGrid is the contrast-equalization grid: 8×8 tiles adapts to
	// local lighting while staying cheap on large photos.
	claheTileGrid = 8

	// unsharpAmount is the sharpening strength: output is
	// (1+amount)·blurred − amount·(extra blur of blurred).
	unsharpAmount = 0.3

	// bilateralRadius / bilateralSigmaColor / bilateralSigmaSpace tune the
	// edge-preserving smoothing that follows sharpening. A small radius
	// keeps halos down; sigma 25 suppresses ringing while keeping edges.
	bilateralRadius     = 2
	bilateralSigmaColor = 25.0
	bilateralSigmaSpace = 25.0

	// cannyLow / cannyHigh are the hysteresis thresholds for the edge map.
	cannyLow  = 100
	cannyHigh = 200

	// finalSharpWeight / finalMorphWeight blend the sharpened luminance
	// with the morphological cleanup into the stage the photogrammetry
	// toolchain actually consumes.
	finalSharpWeight = 0.75
	finalMorphWeight = 0.25
)

func clampU8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
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

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// reflect101 maps an out-of-range coordinate back into [0,n) by reflecting
// around the border without repeating the edge sample (gfedcb|abcdefg|fedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

// claheEqualize applies contrast-limited adaptive histogram equalization:
// per-tile clipped-histogram CDF lookup tables, bilinearly interpolated
// between neighboring tiles so tile seams never show.
func claheEqualize(src []uint8, w, h int) []uint8 {
	tileW := (w + claheTileGrid - 1) / claheTileGrid
	tileH := (h + claheTileGrid - 1) / claheTileGrid
	tilesX := (w + tileW - 1) / tileW
	tilesY := (h + tileH - 1) / tileH

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := min(x0+tileW, w), min(y0+tileH, h)

			var hist [256]int
			for y := y0; y < y1; y++ {
				row := y * w
				for x := x0; x < x1; x++ {
					hist[src[row+x]]++
				}
			}

			// Clip histogram peaks and pool the excess.
			area := (x1 - x0) * (y1 - y0)
			clip := int(claheClipLimit * float64(area) / 256.0)
			if clip < 1 {
				clip = 1
			}
			excess := 0
			for i := range hist {
				if hist[i] > clip {
					excess += hist[i] - clip
					hist[i] = clip
				}
			}
			// Redistribute the excess evenly; the remainder goes one
			// count each to the lowest bins.
			bonus, rem := excess/256, excess%256
			for i := range hist {
				hist[i] += bonus
				if i < rem {
					hist[i]++
				}
			}

			scale := 255.0 / float64(area)
			lut := &luts[ty*tilesX+tx]
			cdf := 0
			for i := 0; i < 256; i++ {
				cdf += hist[i]
				lut[i] = uint8(math.Round(float64(cdf) * scale))
			}
		}
	}

	// Precompute the horizontal interpolation coordinates once per image.
	xIdx0 := make([]int, w)
	xIdx1 := make([]int, w)
	xFrac := make([]float64, w)
	for x := 0; x < w; x++ {
		gx := (float64(x)+0.5)/float64(tileW) - 0.5
		t0 := int(math.Floor(gx))
		f := gx - float64(t0)
		t1 := t0 + 1
		if t0 < 0 {
			t0, t1, f = 0, 0, 0
		}
		if t1 > tilesX-1 {
			t1 = tilesX - 1
			if t0 > t1 {
				t0 = t1
			}
			if t0 == t1 {
				f = 0
			}
		}
		xIdx0[x], xIdx1[x], xFrac[x] = t0, t1, f
	}

	dst := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		gy := (float64(y)+0.5)/float64(tileH) - 0.5
		t0 := int(math.Floor(gy))
		fy := gy - float64(t0)
		t1 := t0 + 1
		if t0 < 0 {
			t0, t1, fy = 0, 0, 0
		}
		if t1 > tilesY-1 {
			t1 = tilesY - 1
			if t0 > t1 {
				t0 = t1
			}
			if t0 == t1 {
				fy = 0
			}
		}

		row := y * w
		for x := 0; x < w; x++ {
			v := src[row+x]
			fx := xFrac[x]
			top := (1-fx)*float64(luts[t0*tilesX+xIdx0[x]][v]) + fx*float64(luts[t0*tilesX+xIdx1[x]][v])
			bot := (1-fx)*float64(luts[t1*tilesX+xIdx0[x]][v]) + fx*float64(luts[t1*tilesX+xIdx1[x]][v])
			dst[row+x] = clampU8(math.Round((1-fy)*top + fy*bot))
		}
	}
	return dst
}

// gaussian5 smooths with the separable 5-tap binomial kernel [1 4 6 4 1]/16.
func gaussian5(src []uint8, w, h int) []uint8 {
	return gaussianSep(src, w, h, []int{1, 4, 6, 4, 1})
}

// gaussian3 smooths with the separable 3-tap binomial kernel [1 2 1]/4.
func gaussian3(src []uint8, w, h int) []uint8 {
	return gaussianSep(src, w, h, []int{1, 2, 1})
}

// gaussianSep runs a separable integer convolution with reflect-101
// borders. Normalization happens once after both passes so no precision is
// lost in the intermediate buffer.
func gaussianSep(src []uint8, w, h int, kernel []int) []uint8 {
	radius := len(kernel) / 2
	norm := 0
	for _, k := range kernel {
		norm += k
	}

	tmp := make([]int, w*h)
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			sum := 0
			for k, kv := range kernel {
				sum += kv * int(src[row+reflect101(x+k-radius, w)])
			}
			tmp[row+x] = sum
		}
	}

	norm2 := norm * norm
	half := norm2 / 2
	dst := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for k, kv := range kernel {
				sum += kv * tmp[reflect101(y+k-radius, h)*w+x]
			}
			dst[y*w+x] = uint8((sum + half) / norm2)
		}
	}
	return dst
}

// addWeighted blends two planes as alpha·a + beta·b, rounded and clamped.
func addWeighted(a []uint8, alpha float64, b []uint8, beta float64) []uint8 {
	dst := make([]uint8, len(a))
	for i := range a {
		dst[i] = clampU8(math.Round(alpha*float64(a[i]) + beta*float64(b[i])))
	}
	return dst
}

// bilateral applies edge-preserving smoothing: each output pixel averages
// its circular neighborhood weighted by both spatial distance and intensity
// difference, so flat regions smooth while edges survive.
func bilateral(src []uint8, w, h int, radius int, sigmaColor, sigmaSpace float64) []uint8 {
	var colorW [256]float64
	gaussColor := -0.5 / (sigmaColor * sigmaColor)
	for i := range colorW {
		colorW[i] = math.Exp(gaussColor * float64(i*i))
	}

	type tap struct {
		dx, dy int
		weight float64
	}
	var taps []tap
	gaussSpace := -0.5 / (sigmaSpace * sigmaSpace)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := dx*dx + dy*dy
			if d2 > radius*radius {
				continue
			}
			taps = append(taps, tap{dx, dy, math.Exp(gaussSpace * float64(d2))})
		}
	}

	dst := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := src[y*w+x]
			var sum, wsum float64
			for _, t := range taps {
				sx, sy := x+t.dx, y+t.dy
				if sx < 0 || sx >= w || sy < 0 || sy >= h {
					continue
				}
				v := src[sy*w+sx]
				wgt := t.weight * colorW[absInt(int(v)-int(center))]
				sum += wgt * float64(v)
				wsum += wgt
			}
			dst[y*w+x] = clampU8(math.Round(sum / wsum))
		}
	}
	return dst
}

// canny computes a binary edge map: Sobel gradients, non-maximum
// suppression along the quantized gradient direction, then hysteresis
// linking of weak edges to strong ones. Output pixels are 0 or 255.
func canny(src []uint8, w, h int, low, high int) []uint8 {
	gx := make([]int, w*h)
	gy := make([]int, w*h)
	mag := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := func(dx, dy int) int {
				return int(src[reflect101(y+dy, h)*w+reflect101(x+dx, w)])
			}
			sx := (p(1, -1) + 2*p(1, 0) + p(1, 1)) - (p(-1, -1) + 2*p(-1, 0) + p(-1, 1))
			sy := (p(-1, 1) + 2*p(0, 1) + p(1, 1)) - (p(-1, -1) + 2*p(0, -1) + p(1, -1))
			i := y*w + x
			gx[i], gy[i] = sx, sy
			mag[i] = absInt(sx) + absInt(sy)
		}
	}

	magAt := func(x, y int) int {
		if x < 0 || x >= w || y < 0 || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	// Gradient direction is quantized with the fixed-point tangent of
	// 22.5° so no trigonometry runs per pixel.
	const tg22 = 13573 // tan(22.5°) in Q15

	// 0 = not an edge, 1 = weak candidate, 2 = strong seed.
	mark := make([]uint8, w*h)
	var stack []int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}

			ax, ay := absInt(gx[i]), absInt(gy[i])
			keep := false
			tg22x := ax * tg22
			ay15 := ay << 15
			switch {
			case ay15 < tg22x:
				// Near-horizontal gradient: compare along x.
				keep = m > magAt(x-1, y) && m >= magAt(x+1, y)
			case ay15 > tg22x+(ax<<16):
				// Near-vertical gradient: compare along y.
				keep = m > magAt(x, y-1) && m >= magAt(x, y+1)
			default:
				// Diagonal: pick the diagonal matching the gradient sign.
				if (gx[i] > 0) == (gy[i] > 0) {
					keep = m > magAt(x-1, y-1) && m >= magAt(x+1, y+1)
				} else {
					keep = m > magAt(x+1, y-1) && m >= magAt(x-1, y+1)
				}
			}
			if !keep {
				continue
			}

			if m > high {
				mark[i] = 2
				stack = append(stack, i)
			} else {
				mark[i] = 1
			}
		}
	}

	// Hysteresis: weak candidates survive only when connected to a strong
	// seed through the 8-neighborhood.
	dst := make([]uint8, w*h)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		dst[i] = 255

		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				n := ny*w + nx
				if mark[n] == 1 {
					mark[n] = 2
					stack = append(stack, n)
				}
			}
		}
	}
	return dst
}

// median5 replaces each pixel with the median of its 5×5 neighborhood
// (replicated borders). Salt-and-pepper noise disappears; edges stay put.
func median5(src []uint8, w, h int) []uint8 {
	const radius = 2
	dst := make([]uint8, w*h)
	var win [25]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -radius; dy <= radius; dy++ {
				sy := clampInt(y+dy, 0, h-1)
				for dx := -radius; dx <= radius; dx++ {
					win[n] = src[sy*w+clampInt(x+dx, 0, w-1)]
					n++
				}
			}
			// Insertion sort: 25 mostly-similar values sort fast.
			for i := 1; i < len(win); i++ {
				v := win[i]
				j := i - 1
				for j >= 0 && win[j] > v {
					win[j+1] = win[j]
					j--
				}
				win[j+1] = v
			}
			dst[y*w+x] = win[12]
		}
	}
	return dst
}

// morphCross is the 3×3 elliptical structuring element, which at this size
// is a cross: center plus the four edge-adjacent neighbors.
var morphCross = [5][2]int{{0, -1}, {-1, 0}, {0, 0}, {1, 0}, {0, 1}}

func erode(src []uint8, w, h int) []uint8 {
	dst := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m := uint8(255)
			for _, off := range morphCross {
				sx, sy := x+off[0], y+off[1]
				if sx < 0 || sx >= w || sy < 0 || sy >= h {
					continue
				}
				if v := src[sy*w+sx]; v < m {
					m = v
				}
			}
			dst[y*w+x] = m
		}
	}
	return dst
}

func dilate(src []uint8, w, h int) []uint8 {
	dst := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m := uint8(0)
			for _, off := range morphCross {
				sx, sy := x+off[0], y+off[1]
				if sx < 0 || sx >= w || sy < 0 || sy >= h {
					continue
				}
				if v := src[sy*w+sx]; v > m {
					m = v
				}
			}
			dst[y*w+x] = m
		}
	}
	return dst
}

// morphOpenClose runs one opening (erode then dilate) followed by one
// closing (dilate then erode): speckles vanish first, then small gaps fill.
func morphOpenClose(src []uint8, w, h int) []uint8 {
	opened := dilate(erode(src, w, h), w, h)
	return erode(dilate(opened, w, h), w, h)
}
