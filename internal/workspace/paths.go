// Package workspace defines the on-disk layout of a reconstruction run.
//
// Every run owns one directory under the work root, named by its run ID:
//
//	<work-root>/<run-id>/
//	    images/              uploaded input photos
//	    out/<stage>/         one directory per preprocessing stage
//	    out/database/        feature database (scratch, reset per run)
//	    out/sparse/          sparse models (scratch, reset per run)
//	    out/dense/           dense workspace + fused.ply (scratch, reset per run)
//	    out/zips/            on-demand stage archives
//
// RunPaths is computed once when a run is created and passed by value to
// every component; nothing else assembles paths inside a run directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// StageKeyImages is the pseudo-stage backed by the upload directory rather
// than a directory under out/.
const StageKeyImages = "images"

// RunPaths locates every file and directory belonging to one run.
type RunPaths struct {
	// ID is the run identifier (8 hex characters).
	ID string
	// Root is <work-root>/<run-id>, exclusively owned by this run.
	Root string
}

// NewRunID returns a fresh 8-character run identifier.
func NewRunID() string {
	return uuid.New().String()[:8]
}

// NewRunPaths computes the layout for a run under the given work root. It
// does not touch the filesystem.
func NewRunPaths(workRoot, runID string) RunPaths {
	return RunPaths{ID: runID, Root: filepath.Join(workRoot, runID)}
}

// ImagesDir is the directory of uploaded input photos.
func (p RunPaths) ImagesDir() string { return filepath.Join(p.Root, "images") }

// OutDir is the root of all pipeline outputs for the run.
func (p RunPaths) OutDir() string { return filepath.Join(p.Root, "out") }

// StageDir maps a stage key to its artifact directory. The "images" stage is
// backed by the upload directory; every other stage lives under out/.
func (p RunPaths) StageDir(key string) string {
	if key == StageKeyImages {
		return p.ImagesDir()
	}
	return filepath.Join(p.OutDir(), key)
}

// FinalProcessedDir holds the last preprocessing stage's output, which is
// what the photogrammetry toolchain consumes.
func (p RunPaths) FinalProcessedDir() string {
	return filepath.Join(p.OutDir(), "final_processed")
}

// DatabaseDir holds the feature database produced by extraction/matching.
func (p RunPaths) DatabaseDir() string { return filepath.Join(p.OutDir(), "database") }

// DatabasePath is the feature database file itself.
func (p RunPaths) DatabasePath() string { return filepath.Join(p.DatabaseDir(), "database.db") }

// SparseDir is the root the mapper writes sparse models under.
func (p RunPaths) SparseDir() string { return filepath.Join(p.OutDir(), "sparse") }

// TextModelDir is where the converted TXT sparse model is written.
func (p RunPaths) TextModelDir() string { return filepath.Join(p.SparseDir(), "0_txt") }

// DenseDir is the dense-stereo workspace.
func (p RunPaths) DenseDir() string { return filepath.Join(p.OutDir(), "dense") }

// PointCloudPath is the fused point-cloud artifact produced on success.
func (p RunPaths) PointCloudPath() string { return filepath.Join(p.DenseDir(), "fused.ply") }

// ZipDir holds on-demand stage archives.
func (p RunPaths) ZipDir() string { return filepath.Join(p.OutDir(), "zips") }

// EnsureImagesDir creates the run's upload directory (and parents).
func (p RunPaths) EnsureImagesDir() error {
	if err := os.MkdirAll(p.ImagesDir(), 0o755); err != nil {
		return fmt.Errorf("create images dir: %w", err)
	}
	return nil
}

// EnsureOutDir creates the run's output root.
func (p RunPaths) EnsureOutDir() error {
	if err := os.MkdirAll(p.OutDir(), 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}
	return nil
}

// ResetScratch deletes and recreates the three reconstruction scratch
// directories (feature database, sparse models, dense workspace). A run's
// reconstruction phase always starts from a clean workspace; preprocessing
// outputs are left untouched.
func (p RunPaths) ResetScratch() error {
	for _, dir := range []string{p.DatabaseDir(), p.SparseDir(), p.DenseDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear scratch dir %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create scratch dir %s: %w", dir, err)
		}
	}
	return nil
}
