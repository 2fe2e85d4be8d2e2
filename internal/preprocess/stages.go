// Package preprocess implements the per-image enhancement pipeline that
// prepares uploaded photographs for photogrammetry.
//
// Every input image passes through a fixed chain of transforms; each stage
// persists its result under a stage-named directory so the caller can
// inspect every intermediate. Color stages operate on the luminance channel
// only and carry the chroma channels through untouched; three stages (edge
// map, median filter, morphology) are single-channel and saved lossless.
//
// All filters are fixed-constant pixel loops: running the pipeline twice on
// the same input produces byte-identical outputs.
package preprocess

// Stage describes one preprocessing stage.
type Stage struct {
	// Key names the stage's artifact directory (the "images" stage is
	// backed by the upload directory).
	Key string
	// Label is the human-readable stage name used in progress events.
	Label string
	// Grayscale marks single-channel stages whose artifacts are saved
	// as lossless PNG with a stage-suffixed filename.
	Grayscale bool
}

// Stages lists the eight preprocessing stages in pipeline order. The order
// is fixed and total: no stage is skipped or reordered.
var Stages = []Stage{
	{Key: "images", Label: "Original Image"},
	{Key: "histogram_equalized", Label: "Histogram Equalized"},
	{Key: "gaussian_blur", Label: "Gaussian Blur"},
	{Key: "sharpened", Label: "Sharpened"},
	{Key: "edges", Label: "Edges (Canny)", Grayscale: true},
	{Key: "median_filtered", Label: "Median Filtered", Grayscale: true},
	{Key: "morphology", Label: "Morphological Cleaned", Grayscale: true},
	{Key: "final_processed", Label: "Final Processed"},
}

// StageByKey looks a stage up by its directory key.
func StageByKey(key string) (Stage, bool) {
	for _, s := range Stages {
		if s.Key == key {
			return s, true
		}
	}
	return Stage{}, false
}
