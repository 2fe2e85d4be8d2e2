// Package pipeline drives one reconstruction run end to end: batch
// preprocessing of every input image, then the sequence of external
// photogrammetry stages, all narrated through a single ordered event
// stream.
//
// A run is produced by one goroutine pushing events onto a bounded
// channel. Consuming the channel drives the work: a slow consumer
// backpressures the producer, nothing buffers a whole run in memory, and
// the stream is single-pass — a consumer that disconnects cannot rewind,
// it must start a new run. The channel closes after exactly one terminal
// event.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkoutso/photoforge/internal/colmap"
	"github.com/dkoutso/photoforge/internal/event"
	"github.com/dkoutso/photoforge/internal/preprocess"
	"github.com/dkoutso/photoforge/internal/runner"
	"github.com/dkoutso/photoforge/internal/workspace"
)

// eventBuffer is the bounded event channel capacity. Large enough that the
// producer rarely stalls on a healthy consumer, small enough that an
// abandoned run never holds more than a sliver of memory.
const eventBuffer = 64

// Config carries a run's static dependencies.
type Config struct {
	// WorkRoot is the directory run workspaces live under.
	WorkRoot string
	// Binary is the photogrammetry executable (default "colmap").
	Binary string
	// MaxLongSide caps input resolution before preprocessing (default
	// preprocess.DefaultMaxLongSide).
	MaxLongSide int
	// Exec launches external commands (default runner.Run). Tests inject
	// a fake toolchain here.
	Exec runner.Exec
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = colmap.DefaultBinary
	}
	if c.MaxLongSide == 0 {
		c.MaxLongSide = preprocess.DefaultMaxLongSide
	}
	if c.Exec == nil {
		c.Exec = runner.Run
	}
	return c
}

// Run is one in-flight reconstruction job and its event stream.
type Run struct {
	cfg    Config
	paths  workspace.RunPaths
	events chan event.Event

	// Producer-goroutine state; never touched elsewhere.
	lastProgress int
	terminal     bool
}

// Start launches the run's producer goroutine and returns immediately.
// The caller owns consuming Events() to completion; cancelling ctx kills
// any external command in flight and abandons the stream.
func Start(ctx context.Context, cfg Config, runID string) *Run {
	cfg = cfg.withDefaults()
	r := &Run{
		cfg:    cfg,
		paths:  workspace.NewRunPaths(cfg.WorkRoot, runID),
		events: make(chan event.Event, eventBuffer),
	}
	go r.produce(ctx)
	return r
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.paths.ID }

// Paths returns the run's workspace layout.
func (r *Run) Paths() workspace.RunPaths { return r.paths }

// Events returns the run's ordered event stream. The channel is closed
// after the terminal event.
func (r *Run) Events() <-chan event.Event { return r.events }

func (r *Run) produce(ctx context.Context) {
	defer close(r.events)
	start := time.Now()

	log.Info().Str("run_id", r.paths.ID).Msg("Run started")

	r.emit(ctx, event.Status("Run queued", 0))
	r.emit(ctx, event.Status("Starting preprocessing...", 2))

	if err := r.preprocess(ctx); err != nil {
		log.Error().Err(err).Str("run_id", r.paths.ID).Msg("Run failed during preprocessing")
		return
	}
	if err := r.reconstruct(ctx); err != nil {
		log.Error().Err(err).Str("run_id", r.paths.ID).Msg("Run failed during reconstruction")
		return
	}

	log.Info().
		Str("run_id", r.paths.ID).
		Dur("duration", time.Since(start)).
		Msg("Run complete")
}

// emit forwards one event to the consumer. Progress is clamped so the
// narrative never moves backwards — error events in particular report the
// progress at the point of failure, not zero. After a terminal event (or
// an abandoned context) everything else is dropped, preserving the
// exactly-one-terminal-event contract.
func (r *Run) emit(ctx context.Context, ev event.Event) {
	if r.terminal {
		return
	}
	if ev.Progress < r.lastProgress {
		ev.Progress = r.lastProgress
	} else {
		r.lastProgress = ev.Progress
	}

	select {
	case r.events <- ev:
		if ev.Terminal() {
			r.terminal = true
		}
	case <-ctx.Done():
		r.terminal = true
	}
}
