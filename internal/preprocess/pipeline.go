package preprocess

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Result describes the artifacts written for one processed image.
type Result struct {
	// FinalName is the base filename of the final_processed artifact,
	// which later stages reference.
	FinalName string
}

// ProcessImage runs the full stage chain on one input photo, writing each
// stage's artifact under outRoot/<stage-key>/. The stage results build on
// each other — equalized luminance feeds the blur, the blurred luminance
// feeds the sharpener, and so on — they are not independent derivations
// from the original.
//
// Any decode or write failure aborts this image; the caller decides the
// fate of the batch.
func ProcessImage(srcPath, outRoot string, maxLongSide int) (Result, error) {
	start := time.Now()

	img, err := loadImage(srcPath, maxLongSide)
	if err != nil {
		return Result{}, err
	}

	name := filepath.Base(srcPath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	pl, y := splitPlanes(img)
	w, h := pl.w, pl.h

	// 1. Contrast normalization on the luminance channel only.
	yEq := claheEqualize(y, w, h)
	if _, err := saveColor(filepath.Join(outRoot, "histogram_equalized"), name, pl.merge(yEq)); err != nil {
		return Result{}, err
	}

	// 2. Smoothing of the equalized luminance.
	yBlur := gaussian5(yEq, w, h)
	if _, err := saveColor(filepath.Join(outRoot, "gaussian_blur"), name, pl.merge(yBlur)); err != nil {
		return Result{}, err
	}

	// 3. Unsharp mask, then edge-preserving smoothing to keep the
	// sharpening from amplifying noise.
	ySharp := addWeighted(yBlur, 1+unsharpAmount, gaussian3(yBlur, w, h), -unsharpAmount)
	ySharp = bilateral(ySharp, w, h, bilateralRadius, bilateralSigmaColor, bilateralSigmaSpace)
	imgSharp := pl.merge(ySharp)
	if _, err := saveColor(filepath.Join(outRoot, "sharpened"), name, imgSharp); err != nil {
		return Result{}, err
	}

	// 4. Binary edge map of the sharpened color image. Single-channel
	// from here through stage 6, saved lossless.
	gray := rgbaToGray(imgSharp)
	edges := canny(gray, w, h, cannyLow, cannyHigh)
	if _, err := saveGray(filepath.Join(outRoot, "edges"), stem+"_edges.png", grayImage(edges, w, h)); err != nil {
		return Result{}, err
	}

	// 5. Median denoising of the same grayscale input, not of the edge map.
	median := median5(gray, w, h)
	if _, err := saveGray(filepath.Join(outRoot, "median_filtered"), stem+"_median.png", grayImage(median, w, h)); err != nil {
		return Result{}, err
	}

	// 6. Morphological cleanup of the median result.
	morph := morphOpenClose(median, w, h)
	if _, err := saveGray(filepath.Join(outRoot, "morphology"), stem+"_morph.png", grayImage(morph, w, h)); err != nil {
		return Result{}, err
	}

	// 7. Final composite: sharpened luminance dominant, morphological
	// cleanup minor, original chroma restored.
	yFinal := addWeighted(ySharp, finalSharpWeight, morph, finalMorphWeight)
	finalName, err := saveColor(filepath.Join(outRoot, "final_processed"), name, pl.merge(yFinal))
	if err != nil {
		return Result{}, err
	}

	log.Debug().
		Str("image", name).
		Int("width", w).
		Int("height", h).
		Dur("duration", time.Since(start)).
		Msg("Image preprocessing complete")

	return Result{FinalName: finalName}, nil
}
