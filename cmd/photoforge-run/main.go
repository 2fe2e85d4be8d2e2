package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkoutso/photoforge/internal/colmap"
	"github.com/dkoutso/photoforge/internal/event"
	"github.com/dkoutso/photoforge/internal/logging"
	"github.com/dkoutso/photoforge/internal/pipeline"
	"github.com/dkoutso/photoforge/internal/workspace"
)

// CLI flags
var (
	imagesFlag  string
	workDirFlag string
	colmapFlag  string
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "photoforge-run",
	Short: "Headless photo-to-point-cloud reconstruction",
	Long: `PhotoForge Run executes the full reconstruction pipeline over a folder of
photos without a server: preprocessing, feature extraction, sparse and
dense reconstruction, and fusion into a point cloud.

Each pipeline event is printed as one JSON line on stdout, so the output
can be piped into other tooling. Logs go to stderr. The command exits
non-zero if the run ends in an error.

Examples:
  photoforge-run --images ./photos
  photoforge-run -i ./photos --work-dir /data/runs
  photoforge-run -i ./photos --colmap /opt/colmap/bin/colmap`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&imagesFlag, "images", "i", "", "Directory containing the photos to reconstruct")
	rootCmd.Flags().StringVar(&workDirFlag, "work-dir", "./runs", "Directory run workspaces are created under")
	rootCmd.Flags().StringVar(&colmapFlag, "colmap", defaultColmapBinary(), "COLMAP executable (or set PHOTOFORGE_COLMAP)")
	rootCmd.MarkFlagRequired("images")
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

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	if err := colmap.CheckAvailable(colmapFlag); err != nil {
		log.Warn().Err(err).Str("binary", colmapFlag).Msg("COLMAP not found; reconstruction will fail")
	}

	paths := workspace.NewRunPaths(workDirFlag, workspace.NewRunID())
	if err := paths.EnsureImagesDir(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create run workspace")
	}

	copied, err := copyImages(imagesFlag, paths.ImagesDir())
	if err != nil {
		log.Fatal().Err(err).Str("images", imagesFlag).Msg("Failed to stage input photos")
	}
	if copied == 0 {
		log.Fatal().Str("images", imagesFlag).Msg("No supported images found (.jpg, .jpeg, .png)")
	}

	log.Info().
		Str("run_id", paths.ID).
		Str("workspace", paths.Root).
		Int("images", copied).
		Msg("Starting run")

	// Ctrl-C kills the in-flight external command and abandons the run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := pipeline.Start(ctx, pipeline.Config{
		WorkRoot: workDirFlag,
		Binary:   colmapFlag,
	}, paths.ID)

	enc := json.NewEncoder(os.Stdout)
	completed := false
	for ev := range run.Events() {
		if err := enc.Encode(ev); err != nil {
			log.Warn().Err(err).Msg("Could not write event")
		}
		if ev.Kind == event.KindDone {
			completed = true
		}
	}

	if !completed {
		os.Exit(1)
	}
	log.Info().Str("point_cloud", paths.PointCloudPath()).Msg("Run complete")
}

// copyImages stages the supported photos from src into dst, returning how
// many were copied. Subdirectories are not descended into.
func copyImages(src, dst string) (int, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return 0, fmt.Errorf("read images dir: %w", err)
	}

	copied := 0
	for _, e := range entries {
		if e.IsDir() || !workspace.AllowedImageFile(e.Name()) {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
