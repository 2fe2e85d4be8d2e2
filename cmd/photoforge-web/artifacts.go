package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkoutso/photoforge/internal/workspace"
)

// Run artifact serving.
//
//	GET /runs/{run}/images/{file}      — original uploaded photo
//	GET /runs/{run}/out/{stage}/{file} — stage artifact
//	GET /runs/{run}/pointcloud         — fused point cloud, as download
func handleRunArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/runs/")
	if containsPathTraversal(rest) {
		httpError(w, http.StatusBadRequest, "invalid path")
		return
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	runID := parts[0]
	if err := validateRunID(runID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	paths := runPaths(runID)

	var full string
	switch {
	case parts[1] == "pointcloud" && len(parts) == 2:
		full = paths.PointCloudPath()
		w.Header().Set("Content-Disposition", `attachment; filename="fused.ply"`)
	case parts[1] == "images" && len(parts) == 3:
		full = filepath.Join(paths.ImagesDir(), filepath.FromSlash(parts[2]))
	case parts[1] == "out" && len(parts) == 3:
		full = filepath.Join(paths.OutDir(), filepath.FromSlash(parts[2]))
	default:
		httpError(w, http.StatusNotFound, "not found")
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		httpError(w, http.StatusNotFound, "not found")
		return
	}

	// http.ServeFile handles Content-Type, range requests, and caching
	// headers automatically.
	http.ServeFile(w, r, full)
}

// GET /api/download/{run}/{stage}
//
// Zips a stage's artifact directory on demand and serves the archive as an
// attachment.
func handleDownloadStage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/download/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] == "" {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	runID, stageKey := parts[0], parts[1]
	if err := validateRunID(runID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if containsPathTraversal(stageKey) || strings.ContainsAny(stageKey, `/\`) {
		httpError(w, http.StatusBadRequest, "invalid stage")
		return
	}

	archivePath, err := runPaths(runID).ArchiveStage(stageKey)
	if err != nil {
		if errors.Is(err, workspace.ErrStageNotFound) {
			httpError(w, http.StatusNotFound, "Stage folder not found")
			return
		}
		log.Error().Err(err).Str("run_id", runID).Str("stage", stageKey).Msg("Failed to archive stage")
		httpError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create zip: %v", err))
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(archivePath)))
	http.ServeFile(w, r, archivePath)
}
