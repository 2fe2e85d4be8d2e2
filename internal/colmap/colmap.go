// Package colmap constructs the external photogrammetry tool invocations
// used by the reconstruction phase.
//
// The tool is treated as a black box: it communicates through exit codes,
// output text, and the files it writes into the run workspace. Argument
// vectors are deterministic functions of the run's paths — nothing here is
// user-configurable per run.
package colmap

import (
	"fmt"
	"os/exec"
	"strconv"

	"github.com/dkoutso/photoforge/internal/workspace"
)

// DefaultBinary is the executable name used when no explicit path is
// configured.
const DefaultBinary = "colmap"

// Dense-stereo policy constants. Fixed for every run: they bound PatchMatch
// cost on typical photo batches instead of chasing maximum quality.
const (
	// patchMatchMaxImageSize caps the working resolution during stereo
	// matching; inputs are already capped at upload-preprocessing time.
	patchMatchMaxImageSize = 1600

	// patchMatchIterations / patchMatchSamples keep per-pixel matching
	// cheap enough for CPU-only hosts.
	patchMatchIterations = 3
	patchMatchSamples    = 10
)

// CheckAvailable verifies the photogrammetry binary can be resolved on
// PATH. Callers treat failure as a warning at startup: runs against a truly
// absent binary fail with a command error of their own.
func CheckAvailable(bin string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("photogrammetry tool %q not found: %w", bin, err)
	}
	return nil
}

// FeatureExtractorArgs detects image features in the final preprocessing
// output and writes them into the feature database.
func FeatureExtractorArgs(bin string, p workspace.RunPaths) []string {
	return []string{
		bin, "feature_extractor",
		"--database_path", p.DatabasePath(),
		"--image_path", p.FinalProcessedDir(),
	}
}

// ExhaustiveMatcherArgs matches features across every image pair. It reads
// and writes the feature database only.
func ExhaustiveMatcherArgs(bin string, p workspace.RunPaths) []string {
	return []string{
		bin, "exhaustive_matcher",
		"--database_path", p.DatabasePath(),
	}
}

// MapperArgs runs incremental sparse mapping, writing one or more model
// directories under the sparse root.
func MapperArgs(bin string, p workspace.RunPaths) []string {
	return []string{
		bin, "mapper",
		"--database_path", p.DatabasePath(),
		"--image_path", p.FinalProcessedDir(),
		"--output_path", p.SparseDir(),
	}
}

// ModelConverterArgs converts the discovered sparse model to its text
// representation. modelDir is the discovery result, not a hardcoded index.
func ModelConverterArgs(bin string, p workspace.RunPaths, modelDir string) []string {
	return []string{
		bin, "model_converter",
		"--input_path", modelDir,
		"--output_path", p.TextModelDir(),
		"--output_type", "TXT",
	}
}

// ImageUndistorterArgs prepares the dense workspace from the images and the
// discovered sparse model.
func ImageUndistorterArgs(bin string, p workspace.RunPaths, modelDir string) []string {
	return []string{
		bin, "image_undistorter",
		"--image_path", p.FinalProcessedDir(),
		"--input_path", modelDir,
		"--output_path", p.DenseDir(),
		"--output_type", "COLMAP",
	}
}

// PatchMatchStereoArgs runs dense stereo matching in place on the dense
// workspace with the fixed quality policy.
func PatchMatchStereoArgs(bin string, p workspace.RunPaths) []string {
	return []string{
		bin, "patch_match_stereo",
		"--workspace_path", p.DenseDir(),
		"--workspace_format", "COLMAP",
		"--PatchMatchStereo.max_image_size", strconv.Itoa(patchMatchMaxImageSize),
		"--PatchMatchStereo.num_iterations", strconv.Itoa(patchMatchIterations),
		"--PatchMatchStereo.num_samples", strconv.Itoa(patchMatchSamples),
		"--PatchMatchStereo.geom_consistency", "true",
	}
}

// StereoFusionArgs fuses the depth maps into the single point-cloud
// artifact at the run's point-cloud path.
func StereoFusionArgs(bin string, p workspace.RunPaths) []string {
	return []string{
		bin, "stereo_fusion",
		"--workspace_path", p.DenseDir(),
		"--workspace_format", "COLMAP",
		"--input_type", "geometric",
		"--output_path", p.PointCloudPath(),
	}
}
