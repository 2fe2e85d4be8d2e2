package main

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/dkoutso/photoforge/internal/workspace"
)

// thumbnailMaxDimension is the long-side cap for stage grid thumbnails.
const thumbnailMaxDimension = 400

// GET /api/thumbnail?run=...&stage=...&file=...
//
// Serves a small WebP rendition of a stage artifact so review grids stay
// light. Falls back to the original file when the artifact cannot be
// re-encoded.
func handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runID := r.URL.Query().Get("run")
	stageKey := r.URL.Query().Get("stage")
	file := r.URL.Query().Get("file")
	if runID == "" || stageKey == "" || file == "" {
		httpError(w, http.StatusBadRequest, "run, stage, and file are required")
		return
	}
	if err := validateRunID(runID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if containsPathTraversal(stageKey) || containsPathTraversal(file) ||
		strings.ContainsAny(stageKey, `/\`) || strings.ContainsAny(file, `/\`) {
		httpError(w, http.StatusBadRequest, "invalid path")
		return
	}

	fullPath := filepath.Join(runPaths(runID).StageDir(stageKey), file)
	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		httpError(w, http.StatusNotFound, "file not found")
		return
	}

	data, err := renderThumbnail(fullPath)
	if err != nil {
		log.Warn().Err(err).Str("path", fullPath).Msg("Thumbnail fallback to original")
		http.ServeFile(w, r, fullPath)
		return
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

// renderThumbnail decodes a stage artifact and re-encodes it as a WebP
// capped at thumbnailMaxDimension on the long side.
func renderThumbnail(path string) ([]byte, error) {
	if !workspace.AllowedImageFile(path) {
		return nil, os.ErrInvalid
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(f)
	case ".png":
		img, err = png.Decode(f)
	}
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	newW, newH := thumbnailDimensions(width, height, thumbnailMaxDimension)
	if newW != width || newH != height {
		// ApproxBiLinear favors speed: grids fetch dozens of these at once.
		resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
		draw.ApproxBiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// thumbnailDimensions scales dimensions down to the cap preserving aspect
// ratio; images already within the cap keep their size.
func thumbnailDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width > height {
		return maxDimension, int(float64(height) * float64(maxDimension) / float64(width))
	}
	return int(float64(width) * float64(maxDimension) / float64(height)), maxDimension
}
