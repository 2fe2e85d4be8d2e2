package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// allowedImageExtensions are the input formats accepted into a run.
var allowedImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// AllowedImageFile reports whether the filename has an accepted image
// extension (case-insensitive).
func AllowedImageFile(name string) bool {
	return allowedImageExtensions[strings.ToLower(filepath.Ext(name))]
}

// ListImages returns the base filenames of the run's input photos in
// lexicographic order, filtered to allowed extensions. Non-regular entries
// are skipped.
func (p RunPaths) ListImages() ([]string, error) {
	entries, err := os.ReadDir(p.ImagesDir())
	if err != nil {
		return nil, fmt.Errorf("read images dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !AllowedImageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	// os.ReadDir returns entries sorted by filename, so processing order
	// is stable without an extra sort.
	return names, nil
}

// ListStageFiles returns up to limit base filenames from a stage's artifact
// directory, in lexicographic order. A missing directory yields an empty
// list, not an error: stages that have not run simply have no artifacts yet.
// limit <= 0 means no cap.
func (p RunPaths) ListStageFiles(key string, limit int) ([]string, error) {
	entries, err := os.ReadDir(p.StageDir(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stage dir %s: %w", key, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if limit > 0 && len(names) >= limit {
			break
		}
		names = append(names, e.Name())
	}
	return names, nil
}
