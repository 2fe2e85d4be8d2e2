package workspace

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog/log"
)

// ErrStageNotFound is returned when a stage's artifact directory does not
// exist for the run.
var ErrStageNotFound = errors.New("stage directory not found")

// Stage artifacts are JPEG/PNG that barely deflate further, so archives
// trade compression ratio for throughput.
func registerFastDeflate(zw *zip.Writer) {
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})
}

// ArchiveStage packages a stage's artifact directory into out/zips/<key>.zip
// and returns the archive path. The archive is rebuilt from scratch on every
// call; entries are the directory's regular files at the archive root.
func (p RunPaths) ArchiveStage(key string) (string, error) {
	stageDir := p.StageDir(key)
	info, err := os.Stat(stageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrStageNotFound
		}
		return "", fmt.Errorf("stat stage dir: %w", err)
	}
	if !info.IsDir() {
		return "", ErrStageNotFound
	}

	names, err := p.ListStageFiles(key, 0)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(p.ZipDir(), 0o755); err != nil {
		return "", fmt.Errorf("create zip dir: %w", err)
	}
	zipPath := filepath.Join(p.ZipDir(), key+".zip")

	out, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	registerFastDeflate(zw)
	for _, name := range names {
		header := &zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: time.Now(),
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			zw.Close()
			return "", fmt.Errorf("create archive entry for %s: %w", name, err)
		}

		src, err := os.Open(filepath.Join(stageDir, name))
		if err != nil {
			zw.Close()
			return "", fmt.Errorf("open %s: %w", name, err)
		}
		if _, err := io.Copy(w, src); err != nil {
			src.Close()
			zw.Close()
			return "", fmt.Errorf("write archive entry for %s: %w", name, err)
		}
		src.Close()
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}

	log.Info().
		Str("run_id", p.ID).
		Str("stage", key).
		Int("files", len(names)).
		Str("path", zipPath).
		Msg("Stage archive created")

	return zipPath, nil
}
