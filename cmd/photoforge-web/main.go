package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkoutso/photoforge/internal/colmap"
	"github.com/dkoutso/photoforge/internal/logging"
	"github.com/dkoutso/photoforge/internal/pipeline"
	"github.com/dkoutso/photoforge/internal/workspace"
)

// CLI flags
var (
	portFlag    int
	workDirFlag string
	colmapFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "photoforge-web",
	Short: "Web server for photo-to-point-cloud reconstruction",
	Long: `PhotoForge Web starts a local server that turns photo sets into dense
point clouds. Upload images, watch preprocessing and reconstruction live
over an event stream, and download per-stage artifacts.

Examples:
  photoforge-web
  photoforge-web --port 9090
  photoforge-web --work-dir /data/runs --colmap /opt/colmap/bin/colmap`,
	Run: runMain,
}

func init() {
	rootCmd.Version = versionString()
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVar(&workDirFlag, "work-dir", "./runs", "Directory run workspaces are created under")
	rootCmd.Flags().StringVar(&colmapFlag, "colmap", defaultColmapBinary(), "COLMAP executable (or set PHOTOFORGE_COLMAP)")
}

func defaultColmapBinary() string {
	if bin := os.Getenv("PHOTOFORGE_COLMAP"); bin != "" {
		return bin
	}
	return colmap.DefaultBinary
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runConfig builds the pipeline configuration shared by every run this
// server starts.
func runConfig() pipeline.Config {
	return pipeline.Config{
		WorkRoot: workDirFlag,
		Binary:   colmapFlag,
	}
}

// runPaths resolves a run's workspace under the configured work root.
func runPaths(runID string) workspace.RunPaths {
	return workspace.NewRunPaths(workDirFlag, runID)
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	if err := os.MkdirAll(workDirFlag, 0o755); err != nil {
		log.Fatal().Err(err).Str("work_dir", workDirFlag).Msg("Failed to create work directory")
	}

	// Missing COLMAP is not fatal at startup: uploads and artifact
	// serving still work, reconstruction fails per run.
	if err := colmap.CheckAvailable(colmapFlag); err != nil {
		log.Warn().Err(err).Str("binary", colmapFlag).Msg("COLMAP not found; reconstruction runs will fail")
	}

	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/upload", handleUpload)
	mux.HandleFunc("/api/stream/", handleStream)
	mux.HandleFunc("/api/download/", handleDownloadStage)
	mux.HandleFunc("/api/thumbnail", handleThumbnail)

	// Run artifact serving
	mux.HandleFunc("/runs/", handleRunArtifacts)

	// Wrap with logging and CORS for local dev
	handler := withLogging(withCORS(mux))

	addr := fmt.Sprintf(":%d", portFlag)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		// No read/write deadlines: uploads can carry hundreds of photos
		// and the event stream holds its response open for the whole
		// reconstruction.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Info().
		Int("port", portFlag).
		Str("work_dir", workDirFlag).
		Str("colmap", colmapFlag).
		Str("commit", commitHash).
		Msg("Starting web server")
	fmt.Printf("\n  PhotoForge: http://localhost:%d\n\n", portFlag)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// --- Middleware ---

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only allow localhost origins
		origin := r.Header.Get("Origin")
		if origin != "" && (strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
