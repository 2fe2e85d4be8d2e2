package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dkoutso/photoforge/internal/colmap"
	"github.com/dkoutso/photoforge/internal/event"
	"github.com/dkoutso/photoforge/internal/runner"
)

// Reconstruction progress plan. Stage ranges are fixed narrative policy:
// log lines pin at a stage's start, completion reports its end.
const (
	progressWorkspace  = 22
	progressFeatures   = 30
	progressMatching   = 40
	progressMapping    = 55
	progressConversion = 58
	progressUndistort  = 65
	progressStereo     = 85
	progressFusion     = 95
	progressDone       = 100
)

// reconstruct sequences the external photogrammetry stages against the
// run's workspace. Transitions are strictly sequential — no stage runs
// concurrently with another and none are retried. Any failure is terminal
// for the run.
func (r *Run) reconstruct(ctx context.Context) error {
	r.emit(ctx, event.Status("Preparing reconstruction workspace...", progressWorkspace))

	// Reconstruction always starts clean: stale databases or models from
	// a previous attempt must never leak into this one.
	if err := r.paths.ResetScratch(); err != nil {
		r.emit(ctx, event.Error(fmt.Sprintf("Workspace preparation failed: %v", err), progressWorkspace))
		return err
	}

	// The toolchain consumes the final preprocessing output; reaching
	// this point without it is a fatal precondition violation.
	finals, err := r.paths.ListStageFiles("final_processed", 1)
	if err != nil || len(finals) == 0 {
		r.emit(ctx, event.Error("final_processed folder missing", progressWorkspace))
		return ErrMissingPrecondition
	}

	bin := r.cfg.Binary

	if err := r.runStage(ctx, colmap.FeatureExtractorArgs(bin, r.paths),
		"Feature Extraction", progressWorkspace, progressFeatures); err != nil {
		return err
	}
	if err := r.runStage(ctx, colmap.ExhaustiveMatcherArgs(bin, r.paths),
		"Matching", progressFeatures, progressMatching); err != nil {
		return err
	}
	if err := r.runStage(ctx, colmap.MapperArgs(bin, r.paths),
		"Sparse Mapping", progressMatching, progressMapping); err != nil {
		return err
	}

	// Locate the mapper's output once; conversion and undistortion both
	// build on the discovered model. This must happen before the text
	// model directory is created under the sparse root.
	model, err := colmap.DiscoverModel(r.paths.SparseDir())
	if err != nil {
		r.emit(ctx, event.Error("No sparse model found after mapper", progressMapping))
		return fmt.Errorf("discover sparse model: %w", err)
	}
	log.Debug().Str("run_id", r.paths.ID).Str("model", model).Msg("Sparse model discovered")

	if err := os.MkdirAll(r.paths.TextModelDir(), 0o755); err != nil {
		r.emit(ctx, event.Error(fmt.Sprintf("Workspace preparation failed: %v", err), progressMapping))
		return err
	}
	if err := r.runStage(ctx, colmap.ModelConverterArgs(bin, r.paths, model),
		"Model Conversion", progressMapping, progressConversion); err != nil {
		return err
	}
	if err := r.runStage(ctx, colmap.ImageUndistorterArgs(bin, r.paths, model),
		"Undistortion", progressConversion, progressUndistort); err != nil {
		return err
	}
	if err := r.runStage(ctx, colmap.PatchMatchStereoArgs(bin, r.paths),
		"Dense & Fusion", progressUndistort, progressStereo); err != nil {
		return err
	}
	if err := r.runStage(ctx, colmap.StereoFusionArgs(bin, r.paths),
		"Fusion (dense)", progressStereo, progressFusion); err != nil {
		return err
	}

	// A zero exit from fusion is necessary but not sufficient: terminal
	// success requires the artifact itself.
	if _, err := os.Stat(r.paths.PointCloudPath()); err != nil {
		r.emit(ctx, event.Error("fused.ply not found after fusion", progressFusion))
		return ErrMissingArtifact
	}

	r.emit(ctx, event.Event{
		Kind:       event.KindDone,
		Message:    "Reconstruction complete",
		Progress:   progressDone,
		PointCloud: r.artifactRef("dense", "fused.ply"),
	})
	return nil
}

// runStage executes one external stage through the configured Exec,
// wiring its event narration into the run's stream. The runner emits the
// terminal error event itself on failure; this layer only stops the
// sequence.
func (r *Run) runStage(ctx context.Context, argv []string, name string, start, end int) error {
	return r.cfg.Exec(ctx, func(ev event.Event) { r.emit(ctx, ev) }, argv, runner.Options{
		StageName: name,
		Group:     event.GroupReconstruction,
		Start:     start,
		End:       end,
	})
}
