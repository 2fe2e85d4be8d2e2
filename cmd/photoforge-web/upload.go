package main

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/dkoutso/photoforge/internal/workspace"
)

// maxUploadMemory is the in-memory threshold for multipart parsing; larger
// parts spill to temp files.
const maxUploadMemory = 32 << 20

// safeFilenameRegex allows alphanumeric, dots, hyphens, underscores, spaces,
// and parentheses.
var safeFilenameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ ()-]{0,254}$`)

// POST /api/upload
//
// Accepts a multipart batch of photos, mints a fresh run and stores the
// accepted files in its images directory. Filenames are reduced to safe
// base names; files with other extensions are skipped, not rejected.
func handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httpError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		httpError(w, http.StatusBadRequest, "No files part")
		return
	}

	paths := runPaths(workspace.NewRunID())
	if err := paths.EnsureImagesDir(); err != nil {
		log.Error().Err(err).Str("run_id", paths.ID).Msg("Failed to create run workspace")
		httpError(w, http.StatusInternalServerError, "failed to create run workspace")
		return
	}

	saved := make([]string, 0, len(files))
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		if !workspace.AllowedImageFile(name) || !safeFilenameRegex.MatchString(name) {
			log.Warn().Str("filename", fh.Filename).Msg("Skipping disallowed upload")
			continue
		}
		if err := saveUploadedFile(fh, filepath.Join(paths.ImagesDir(), name)); err != nil {
			log.Error().Err(err).Str("filename", name).Msg("Failed to store upload")
			httpError(w, http.StatusInternalServerError, "failed to store upload")
			return
		}
		saved = append(saved, name)
	}

	if len(saved) == 0 {
		httpError(w, http.StatusBadRequest, "No allowed files uploaded")
		return
	}

	log.Info().Str("run_id", paths.ID).Int("files", len(saved)).Msg("Upload accepted")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": paths.ID,
		"files":  saved,
	})
}

func saveUploadedFile(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return err
	}
	return out.Close()
}
