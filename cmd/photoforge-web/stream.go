package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkoutso/photoforge/internal/pipeline"
)

// --- Run Stream Management ---

// startedRuns records every run this server has started. A run's event
// stream is single-pass: once consumed it cannot be replayed, so a second
// stream request for the same run is refused instead of silently
// restarting the work.
var (
	startedMu   sync.Mutex
	startedRuns = make(map[string]bool)
)

func markStarted(runID string) bool {
	startedMu.Lock()
	defer startedMu.Unlock()
	if startedRuns[runID] {
		return false
	}
	startedRuns[runID] = true
	return true
}

// GET /api/stream/{run}
//
// Starts the run and narrates it as Server-Sent Events, one event per
// data frame. The response stays open until the terminal event. A client
// that disconnects mid-run does not stop the work: the handler keeps
// draining the stream so the run completes and its artifacts remain
// downloadable.
func handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/stream/")
	if err := validateRunID(runID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	paths := runPaths(runID)
	if _, err := os.Stat(paths.ImagesDir()); err != nil {
		httpError(w, http.StatusNotFound, "run not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if !markStarted(runID) {
		httpError(w, http.StatusConflict, "run already started")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Keep reverse proxies from buffering the stream.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The run outlives the request on purpose: context.Background keeps
	// external commands alive across a browser refresh.
	run := pipeline.Start(context.Background(), runConfig(), runID)

	clientGone := false
	for ev := range run.Events() {
		if clientGone {
			continue
		}
		select {
		case <-r.Context().Done():
			clientGone = true
			log.Info().Str("run_id", runID).Msg("Stream client disconnected; run continues")
			continue
		default:
		}

		data, err := json.Marshal(ev)
		if err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("Could not encode event")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			clientGone = true
			continue
		}
		flusher.Flush()
	}
}
