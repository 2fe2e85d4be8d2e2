package pipeline

import "errors"

// Run-terminal error conditions. Every one of these ends the run with a
// single error event; none are retried and none leave a resumable state —
// a failed run restarts from preprocessing.
var (
	// ErrNoInput means the run's image set was empty.
	ErrNoInput = errors.New("no input images")

	// ErrMissingPrecondition means the final preprocessing output was
	// absent or empty when reconstruction was about to start.
	ErrMissingPrecondition = errors.New("final preprocessing output missing")

	// ErrMissingArtifact means fusion exited successfully but the
	// point-cloud artifact is not on disk. Exit codes are necessary but
	// not sufficient evidence of success.
	ErrMissingArtifact = errors.New("point-cloud artifact missing after fusion")
)
