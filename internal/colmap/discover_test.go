package colmap

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverModelFirstSubdirectory(t *testing.T) {
	sparse := t.TempDir()
	for _, name := range []string{"1", "0", "2"} {
		if err := os.Mkdir(filepath.Join(sparse, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// Loose files at the root must not be mistaken for models.
	if err := os.WriteFile(filepath.Join(sparse, "run.log"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DiscoverModel(sparse)
	if err != nil {
		t.Fatalf("DiscoverModel() error = %v", err)
	}
	if want := filepath.Join(sparse, "0"); got != want {
		t.Errorf("DiscoverModel() = %q, want %q (lexicographically first)", got, want)
	}
}

func TestDiscoverModelSkipsMissingIndexZero(t *testing.T) {
	sparse := t.TempDir()
	for _, name := range []string{"1", "2"} {
		if err := os.Mkdir(filepath.Join(sparse, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	got, err := DiscoverModel(sparse)
	if err != nil {
		t.Fatalf("DiscoverModel() error = %v", err)
	}
	if want := filepath.Join(sparse, "1"); got != want {
		t.Errorf("DiscoverModel() = %q, want %q", got, want)
	}
}

func TestDiscoverModelNonNumericName(t *testing.T) {
	sparse := t.TempDir()
	if err := os.Mkdir(filepath.Join(sparse, "model_a"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := DiscoverModel(sparse)
	if err != nil {
		t.Fatalf("DiscoverModel() error = %v", err)
	}
	if want := filepath.Join(sparse, "model_a"); got != want {
		t.Errorf("DiscoverModel() = %q, want %q", got, want)
	}
}

func TestDiscoverModelEmpty(t *testing.T) {
	sparse := t.TempDir()
	if _, err := DiscoverModel(sparse); !errors.Is(err, ErrNoSparseModel) {
		t.Errorf("DiscoverModel() error = %v, want ErrNoSparseModel", err)
	}
}

func TestDiscoverModelMissingRoot(t *testing.T) {
	if _, err := DiscoverModel(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("DiscoverModel() on missing root: want error, got nil")
	}
}
