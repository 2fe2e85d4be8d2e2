package pipeline

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/dkoutso/photoforge/internal/event"
	"github.com/dkoutso/photoforge/internal/preprocess"
	"github.com/dkoutso/photoforge/internal/workspace"
)

// Progress plan: preprocessing owns the first fifth of the run narrative.
const (
	// preprocessHead is the progress value once preprocessing is underway.
	preprocessHead = 2
	// preprocessWindow is the progress share divided proportionally among
	// the input images.
	preprocessWindow = 18
	// preprocessDone is the progress value when every image has been
	// processed; reconstruction picks up from here.
	preprocessDone = 20

	// stageThumbsCap bounds how many artifact references a stage-complete
	// event carries. Enough for a review grid, small enough to keep
	// events lightweight on thousand-image runs.
	stageThumbsCap = 200
)

// preprocess runs the image stage pipeline over the run's input set in
// lexicographic filename order. The first image failure abandons the run:
// one terminal error event, no partial completion. After all images
// succeed it emits one stage-complete event per preprocessing stage
// carrying artifact references for inspection.
func (r *Run) preprocess(ctx context.Context) error {
	names, err := r.paths.ListImages()
	if err != nil {
		r.emit(ctx, event.Error(fmt.Sprintf("Preprocessing failed: %v", err), preprocessHead))
		return err
	}
	if len(names) == 0 {
		r.emit(ctx, event.Error("No images found", preprocessHead))
		return ErrNoInput
	}

	total := len(names)
	log.Info().Str("run_id", r.paths.ID).Int("images", total).Msg("Preprocessing batch")

	for i, name := range names {
		res, err := preprocess.ProcessImage(
			filepath.Join(r.paths.ImagesDir(), name),
			r.paths.OutDir(),
			r.cfg.MaxLongSide,
		)
		if err != nil {
			r.emit(ctx, event.Error(fmt.Sprintf("Preprocessing failed: %v", err), r.lastProgress))
			return fmt.Errorf("preprocess %s: %w", name, err)
		}

		progress := int(float64(preprocessHead) + float64(preprocessWindow)*float64(i+1)/float64(total))
		r.emit(ctx, event.Event{
			Kind:     event.KindImage,
			Message:  fmt.Sprintf("Preprocessed %s (%d/%d)", name, i+1, total),
			Progress: progress,
			Image:    r.artifactRef("final_processed", res.FinalName),
		})
	}

	r.emit(ctx, event.Status("Preprocessing complete", preprocessDone))

	// Stage summaries, in stage order, each with a bounded set of
	// artifact references.
	for _, st := range preprocess.Stages {
		files, err := r.paths.ListStageFiles(st.Key, stageThumbsCap)
		if err != nil {
			log.Warn().Err(err).Str("stage", st.Key).Msg("Could not list stage artifacts")
		}
		thumbs := make([]string, 0, len(files))
		for _, f := range files {
			thumbs = append(thumbs, r.artifactRef(st.Key, f))
		}
		r.emit(ctx, event.Event{
			Kind:      event.KindStageDone,
			Group:     event.GroupPreprocessing,
			StageName: st.Label,
			StageKey:  st.Key,
			Progress:  preprocessDone,
			Thumbs:    thumbs,
		})
	}
	return nil
}

// artifactRef builds the public reference for a stage artifact, matching
// the paths the retrieval surface serves.
func (r *Run) artifactRef(stageKey, name string) string {
	if stageKey == workspace.StageKeyImages {
		return path.Join("/runs", r.paths.ID, "images", name)
	}
	return path.Join("/runs", r.paths.ID, "out", stageKey, name)
}
