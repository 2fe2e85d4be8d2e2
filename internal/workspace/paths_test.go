package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestNewRunID(t *testing.T) {
	idPattern := regexp.MustCompile(`^[0-9a-f]{8}$`)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := NewRunID()
		if !idPattern.MatchString(id) {
			t.Fatalf("NewRunID() = %q, want 8 lowercase hex chars", id)
		}
		if seen[id] {
			t.Fatalf("NewRunID() repeated %q", id)
		}
		seen[id] = true
	}
}

func TestRunPathsLayout(t *testing.T) {
	p := NewRunPaths("/work", "ab12cd34")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Root", p.Root, filepath.Join("/work", "ab12cd34")},
		{"ImagesDir", p.ImagesDir(), filepath.Join("/work", "ab12cd34", "images")},
		{"OutDir", p.OutDir(), filepath.Join("/work", "ab12cd34", "out")},
		{"StageDir images", p.StageDir("images"), filepath.Join("/work", "ab12cd34", "images")},
		{"StageDir edges", p.StageDir("edges"), filepath.Join("/work", "ab12cd34", "out", "edges")},
		{"FinalProcessedDir", p.FinalProcessedDir(), filepath.Join("/work", "ab12cd34", "out", "final_processed")},
		{"DatabasePath", p.DatabasePath(), filepath.Join("/work", "ab12cd34", "out", "database", "database.db")},
		{"SparseDir", p.SparseDir(), filepath.Join("/work", "ab12cd34", "out", "sparse")},
		{"TextModelDir", p.TextModelDir(), filepath.Join("/work", "ab12cd34", "out", "sparse", "0_txt")},
		{"DenseDir", p.DenseDir(), filepath.Join("/work", "ab12cd34", "out", "dense")},
		{"PointCloudPath", p.PointCloudPath(), filepath.Join("/work", "ab12cd34", "out", "dense", "fused.ply")},
		{"ZipDir", p.ZipDir(), filepath.Join("/work", "ab12cd34", "out", "zips")},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}

	if p.ID != "ab12cd34" {
		t.Errorf("ID = %q, want ab12cd34", p.ID)
	}
}

func TestResetScratch(t *testing.T) {
	p := NewRunPaths(t.TempDir(), "ab12cd34")
	if err := p.EnsureOutDir(); err != nil {
		t.Fatalf("EnsureOutDir() error = %v", err)
	}

	// Seed scratch dirs with leftovers from a previous attempt.
	for _, dir := range []string{p.DatabaseDir(), filepath.Join(p.SparseDir(), "0"), p.DenseDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(p.DatabasePath(), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.PointCloudPath(), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.ResetScratch(); err != nil {
		t.Fatalf("ResetScratch() error = %v", err)
	}

	for _, dir := range []string{p.DatabaseDir(), p.SparseDir(), p.DenseDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("scratch dir %s missing after reset: %v", dir, err)
		}
		if len(entries) != 0 {
			t.Errorf("scratch dir %s not empty after reset: %d entries", dir, len(entries))
		}
	}
}

func TestResetScratchKeepsPreprocessingOutputs(t *testing.T) {
	p := NewRunPaths(t.TempDir(), "ab12cd34")
	finalDir := p.FinalProcessedDir()
	if err := os.MkdirAll(finalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(finalDir, "photo.jpg")
	if err := os.WriteFile(keep, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.ResetScratch(); err != nil {
		t.Fatalf("ResetScratch() error = %v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("preprocessing output removed by ResetScratch: %v", err)
	}
}
