package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoutso/photoforge/internal/event"
	"github.com/dkoutso/photoforge/internal/runner"
	"github.com/dkoutso/photoforge/internal/workspace"
)

const testRunID = "ab12cd34"

// fakeTool stands in for the photogrammetry binary: it records every
// invocation and fabricates the filesystem artifacts each subcommand
// would leave behind, narrating the way the real runner does.
type fakeTool struct {
	paths workspace.RunPaths
	calls [][]string

	failOn    string // subcommand that exits with code 1
	skipModel bool   // mapper leaves no sparse model behind
	skipFused bool   // stereo_fusion writes no fused.ply
}

func (f *fakeTool) exec(_ context.Context, emit func(event.Event), argv []string, opts runner.Options) error {
	f.calls = append(f.calls, argv)
	joined := strings.Join(argv, " ")
	emit(event.Status("Running: "+joined, opts.Start))

	sub := argv[1]
	if sub == f.failOn {
		ev := event.Error(fmt.Sprintf("Command %s exited with code 1", joined), opts.Start)
		ev.ExitCode = 1
		emit(ev)
		return &runner.ExitError{Argv: argv, Code: 1}
	}

	switch sub {
	case "mapper":
		if !f.skipModel {
			if err := os.MkdirAll(filepath.Join(f.paths.SparseDir(), "0"), 0o755); err != nil {
				return err
			}
		}
	case "stereo_fusion":
		if !f.skipFused {
			if err := os.WriteFile(f.paths.PointCloudPath(), []byte("ply\n"), 0o644); err != nil {
				return err
			}
		}
	}

	if opts.StageName != "" {
		emit(event.Event{
			Kind:      event.KindStageDone,
			Group:     opts.Group,
			StageName: opts.StageName,
			Progress:  opts.End,
		})
	}
	emit(event.Status(opts.StageName+" finished", opts.End))
	return nil
}

// setupRun builds a workspace with n small input photos and a fake
// toolchain wired into the run config.
func setupRun(t *testing.T, n int) (Config, workspace.RunPaths, *fakeTool) {
	t.Helper()
	workRoot := t.TempDir()
	paths := workspace.NewRunPaths(workRoot, testRunID)
	require.NoError(t, paths.EnsureImagesDir())
	for i := 0; i < n; i++ {
		writePhoto(t, filepath.Join(paths.ImagesDir(), fmt.Sprintf("img_%02d.jpg", i)))
	}
	tool := &fakeTool{paths: paths}
	return Config{WorkRoot: workRoot, Binary: "colmap", Exec: tool.exec}, paths, tool
}

func writePhoto(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 8), uint8(y * 10), 120, 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 90}))
}

// collect drains the run's stream to completion.
func collect(t *testing.T, r *Run) []event.Event {
	t.Helper()
	var evs []event.Event
	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		case <-timeout:
			t.Fatalf("run did not finish; %d events so far", len(evs))
		}
	}
}

func ofKind(evs []event.Event, k event.Kind) []event.Event {
	var out []event.Event
	for _, ev := range evs {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func messages(evs []event.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Message
	}
	return out
}

func TestRunSuccess(t *testing.T) {
	cfg, paths, tool := setupRun(t, 3)
	run := Start(context.Background(), cfg, testRunID)

	assert.Equal(t, testRunID, run.ID())
	assert.Equal(t, filepath.Join(cfg.WorkRoot, testRunID), run.Paths().Root)

	evs := collect(t, run)
	require.NotEmpty(t, evs)

	// The stream opens with the fixed lifecycle preamble.
	require.GreaterOrEqual(t, len(evs), 2)
	assert.Equal(t, "Run queued", evs[0].Message)
	assert.Equal(t, 0, evs[0].Progress)
	assert.Equal(t, "Starting preprocessing...", evs[1].Message)
	assert.Equal(t, 2, evs[1].Progress)

	// Exactly one terminal event, and it is the last one.
	terminals := 0
	for _, ev := range evs {
		if ev.Terminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)

	last := evs[len(evs)-1]
	assert.Equal(t, event.KindDone, last.Kind)
	assert.Equal(t, "Reconstruction complete", last.Message)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "/runs/ab12cd34/out/dense/fused.ply", last.PointCloud)

	// Progress never moves backwards.
	prev := 0
	for _, ev := range evs {
		assert.GreaterOrEqual(t, ev.Progress, prev, "progress regressed at %q", ev.Message)
		prev = ev.Progress
	}

	// One image event per input, with proportional progress.
	images := ofKind(evs, event.KindImage)
	require.Len(t, images, 3)
	assert.Equal(t, []int{8, 14, 20}, []int{images[0].Progress, images[1].Progress, images[2].Progress})
	assert.Equal(t, "/runs/ab12cd34/out/final_processed/img_00.jpg", images[0].Image)
	assert.Contains(t, messages(images), "Preprocessed img_01.jpg (2/3)")

	// Stage summaries: the eight preprocessing stages in order, then the
	// seven reconstruction stages at their plan endpoints.
	stages := ofKind(evs, event.KindStageDone)
	var preNames, reconNames []string
	var reconEnds []int
	for _, ev := range stages {
		switch ev.Group {
		case event.GroupPreprocessing:
			preNames = append(preNames, ev.StageName)
			assert.Equal(t, 20, ev.Progress)
			assert.NotEmpty(t, ev.Thumbs, "stage %s has no artifact refs", ev.StageKey)
		case event.GroupReconstruction:
			reconNames = append(reconNames, ev.StageName)
			reconEnds = append(reconEnds, ev.Progress)
		}
	}
	assert.Equal(t, []string{
		"Original Image", "Histogram Equalized", "Gaussian Blur", "Sharpened",
		"Edges (Canny)", "Median Filtered", "Morphological Cleaned", "Final Processed",
	}, preNames)
	assert.Equal(t, []string{
		"Feature Extraction", "Matching", "Sparse Mapping", "Model Conversion",
		"Undistortion", "Dense & Fusion", "Fusion (dense)",
	}, reconNames)
	assert.Equal(t, []int{30, 40, 55, 58, 65, 85, 95}, reconEnds)

	// The upload-backed stage references the images directory.
	assert.Equal(t, "/runs/ab12cd34/images/img_00.jpg", stages[0].Thumbs[0])

	// The toolchain ran every subcommand once, in pipeline order.
	require.Len(t, tool.calls, 7)
	subs := make([]string, len(tool.calls))
	for i, argv := range tool.calls {
		subs[i] = argv[1]
	}
	assert.Equal(t, []string{
		"feature_extractor", "exhaustive_matcher", "mapper",
		"model_converter", "image_undistorter", "patch_match_stereo", "stereo_fusion",
	}, subs)

	// Conversion consumed the discovered model, not a hardcoded index.
	assert.Equal(t, filepath.Join(paths.SparseDir(), "0"), tool.calls[3][3])
}

func TestRunNoImages(t *testing.T) {
	cfg, _, tool := setupRun(t, 0)
	evs := collect(t, Start(context.Background(), cfg, testRunID))

	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, event.KindError, last.Kind)
	assert.Equal(t, "No images found", last.Message)
	assert.Equal(t, 2, last.Progress)
	assert.Empty(t, tool.calls)
}

func TestRunPreprocessFailureAbandonsBatch(t *testing.T) {
	cfg, paths, tool := setupRun(t, 0)
	writePhoto(t, filepath.Join(paths.ImagesDir(), "a.jpg"))
	require.NoError(t, os.WriteFile(filepath.Join(paths.ImagesDir(), "b.jpg"), []byte("not a photo"), 0o644))
	writePhoto(t, filepath.Join(paths.ImagesDir(), "c.jpg"))

	evs := collect(t, Start(context.Background(), cfg, testRunID))

	// The first image succeeded, the second aborted the batch, the third
	// was never attempted.
	require.Len(t, ofKind(evs, event.KindImage), 1)

	last := evs[len(evs)-1]
	assert.Equal(t, event.KindError, last.Kind)
	assert.Contains(t, last.Message, "Preprocessing failed:")
	assert.Contains(t, last.Message, "b.jpg")
	// Failure reports the progress reached, not a reset to zero.
	assert.Equal(t, 8, last.Progress)
	assert.Empty(t, tool.calls)
}

func TestRunStageFailureStopsSequence(t *testing.T) {
	cfg, _, tool := setupRun(t, 1)
	tool.failOn = "exhaustive_matcher"

	evs := collect(t, Start(context.Background(), cfg, testRunID))

	last := evs[len(evs)-1]
	assert.Equal(t, event.KindError, last.Kind)
	assert.Contains(t, last.Message, "exited with code 1")
	assert.Equal(t, 1, last.ExitCode)
	assert.Equal(t, 30, last.Progress)

	// Feature extraction completed; nothing after the failed matcher ran.
	require.Len(t, tool.calls, 2)
	var reconDone []string
	for _, ev := range ofKind(evs, event.KindStageDone) {
		if ev.Group == event.GroupReconstruction {
			reconDone = append(reconDone, ev.StageName)
		}
	}
	assert.Equal(t, []string{"Feature Extraction"}, reconDone)
}

func TestRunMissingSparseModel(t *testing.T) {
	cfg, _, tool := setupRun(t, 1)
	tool.skipModel = true

	evs := collect(t, Start(context.Background(), cfg, testRunID))

	last := evs[len(evs)-1]
	assert.Equal(t, event.KindError, last.Kind)
	assert.Equal(t, "No sparse model found after mapper", last.Message)
	assert.Equal(t, 55, last.Progress)
	// Discovery failed before conversion could be attempted.
	assert.Len(t, tool.calls, 3)
}

func TestRunMissingPointCloud(t *testing.T) {
	cfg, _, tool := setupRun(t, 1)
	tool.skipFused = true

	evs := collect(t, Start(context.Background(), cfg, testRunID))

	last := evs[len(evs)-1]
	assert.Equal(t, event.KindError, last.Kind)
	assert.Equal(t, "fused.ply not found after fusion", last.Message)
	assert.Equal(t, 95, last.Progress)
	// Every stage exited zero; only the artifact check failed.
	assert.Len(t, tool.calls, 7)
}
