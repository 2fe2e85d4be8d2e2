package colmap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSparseModel is returned when mapping produced no model directory
// that any discovery policy can find.
var ErrNoSparseModel = errors.New("no sparse model found after mapping")

// DiscoverModel locates the sparse model the mapper wrote under sparseDir.
// The mapper names its output by model index, but the index is not
// guaranteed across tool versions, so the policy is: the first
// subdirectory in lexicographic order; failing that, a directory literally
// named "0"; failing that, ErrNoSparseModel.
//
// Discovery is read-only and idempotent. It must run before anything else
// creates directories under the sparse root, or those would shadow the
// mapper's output.
func DiscoverModel(sparseDir string) (string, error) {
	entries, err := os.ReadDir(sparseDir)
	if err != nil {
		return "", fmt.Errorf("read sparse model root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			return filepath.Join(sparseDir, e.Name()), nil
		}
	}

	fallback := filepath.Join(sparseDir, "0")
	if info, err := os.Stat(fallback); err == nil && info.IsDir() {
		return fallback, nil
	}
	return "", ErrNoSparseModel
}
