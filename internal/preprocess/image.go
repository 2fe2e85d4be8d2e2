package preprocess

// image.go handles image I/O for the stage pipeline: decoding with EXIF
// orientation normalization, the one-time resolution cap, the split into
// luminance + chroma planes, and stage-output persistence.

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"golang.org/x/image/draw"
)

const (
	// DefaultMaxLongSide caps the longer image dimension before any stage
	// runs. Photogrammetry gains little beyond this resolution while dense
	// stereo cost grows quadratically.
	DefaultMaxLongSide = 2048

	// stageJPEGQuality is the encoding quality for color stage outputs.
	stageJPEGQuality = 95
)

// loadImage decodes an input photo, rotates it upright according to its
// EXIF orientation, and applies the resolution cap once. The returned image
// is always RGBA with bounds anchored at the origin.
func loadImage(path string, maxLongSide int) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	orientation := readOrientation(f)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind image: %w", err)
	}

	var img image.Image
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(f)
	case ".png":
		img, err = png.Decode(f)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	rgba := toRGBA(img)
	switch orientation {
	case 3:
		rgba = rotate180(rgba)
	case 6:
		rgba = rotate90CW(rgba)
	case 8:
		rgba = rotate90CCW(rgba)
	}

	return capResize(rgba, maxLongSide), nil
}

// readOrientation returns the EXIF orientation tag (1–8), or 1 when the
// file carries no usable metadata. Metadata failures never fail a load —
// an unoriented image is still processable.
func readOrientation(f *os.File) int {
	exifData, err := imagemeta.Decode(f)
	if err != nil {
		return 1
	}
	o := int(exifData.Orientation)
	if o < 1 || o > 8 {
		return 1
	}
	return o
}

// toRGBA normalizes any decoded image to RGBA with origin-anchored bounds.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return dst
}

func rotate180(src *image.RGBA) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.SetRGBA(x, y, src.RGBAAt(w-1-x, h-1-y))
		}
	}
	return dst
}

func rotate90CW(src *image.RGBA) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < w; y++ {
		for x := 0; x < h; x++ {
			dst.SetRGBA(x, y, src.RGBAAt(y, h-1-x))
		}
	}
	return dst
}

func rotate90CCW(src *image.RGBA) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < w; y++ {
		for x := 0; x < h; x++ {
			dst.SetRGBA(x, y, src.RGBAAt(w-1-y, x))
		}
	}
	return dst
}

// capResize downscales once, preserving aspect ratio, when the longer side
// exceeds the cap. Smaller images pass through untouched.
func capResize(img *image.RGBA, maxLongSide int) *image.RGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	long := max(w, h)
	if maxLongSide <= 0 || long <= maxLongSide {
		return img
	}
	scale := float64(maxLongSide) / float64(long)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// planes is the pipeline's working representation of one image: a luminance
// channel plus the two chroma channels, each w×h with stride w. The chroma
// planes are split once and carried through unchanged; color stages replace
// only the luminance.
type planes struct {
	w, h   int
	cb, cr []uint8
}

func splitPlanes(img *image.RGBA) (*planes, []uint8) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	p := &planes{w: w, h: h, cb: make([]uint8, w*h), cr: make([]uint8, w*h)}
	y := make([]uint8, w*h)
	for i := 0; i < w*h; i++ {
		r, g, b := img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2]
		yy, cb, cr := color.RGBToYCbCr(r, g, b)
		y[i], p.cb[i], p.cr[i] = yy, cb, cr
	}
	return p, y
}

// merge rebuilds a full-color image from a luminance plane and the stored
// chroma planes.
func (p *planes) merge(y []uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.w, p.h))
	for i := 0; i < p.w*p.h; i++ {
		r, g, b := color.YCbCrToRGB(y[i], p.cb[i], p.cr[i])
		img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = r, g, b, 0xFF
	}
	return img
}

// rgbaToGray converts a full-color image to a single luminance plane using
// the standard luma weights.
func rgbaToGray(img *image.RGBA) []uint8 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	gray := make([]uint8, w*h)
	for i := 0; i < w*h; i++ {
		r := int(img.Pix[i*4])
		g := int(img.Pix[i*4+1])
		b := int(img.Pix[i*4+2])
		gray[i] = uint8((299*r + 587*g + 114*b + 500) / 1000)
	}
	return gray
}

func grayImage(pix []uint8, w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, pix)
	return img
}

// saveColor writes a color stage output as JPEG. Filenames keep the input's
// name, re-extensioned to .jpg unless already a JPEG extension. Returns the
// saved base filename.
func saveColor(dir, name string, img image.Image) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create stage dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".jpg" && ext != ".jpeg" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
	}

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("create stage output %s: %w", name, err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: stageJPEGQuality}); err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	return name, nil
}

// saveGray writes a single-channel stage output as lossless PNG regardless
// of the requested extension. Returns the saved base filename.
func saveGray(dir, name string, img *image.Gray) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create stage dir: %w", err)
	}
	if strings.ToLower(filepath.Ext(name)) != ".png" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
	}

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("create stage output %s: %w", name, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	return name, nil
}
