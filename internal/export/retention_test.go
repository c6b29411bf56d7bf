package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	old := FileName(now.Add(-72 * time.Hour))
	recent := FileName(now.Add(-1 * time.Hour))
	for _, name := range []string{old, recent, "notes.parquet", "readme.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	res, err := Prune(dir, 48*time.Hour, now)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if res.FilesDeleted != 1 || res.BytesFreed != 4 {
		t.Errorf("deleted %d files / %d bytes, want 1 / 4", res.FilesDeleted, res.BytesFreed)
	}
	if res.FilesSkipped != 2 {
		t.Errorf("FilesSkipped = %d, want 2", res.FilesSkipped)
	}

	if _, err := os.Stat(filepath.Join(dir, old)); !os.IsNotExist(err) {
		t.Errorf("old export still present: %v", err)
	}
	for _, keep := range []string{recent, "notes.parquet", "readme.txt"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Errorf("%s removed: %v", keep, err)
		}
	}
}

func TestPrune_MissingDirAndBadRetention(t *testing.T) {
	now := time.Now()

	res, err := Prune(filepath.Join(t.TempDir(), "absent"), time.Hour, now)
	if err != nil || res.FilesDeleted != 0 {
		t.Errorf("missing dir: %+v, %v", res, err)
	}

	if _, err := Prune(t.TempDir(), 0, now); err == nil {
		t.Error("expected error for zero retention")
	}
}

func TestParseFileTime(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := parseFileTime(FileName(at))
	if err != nil {
		t.Fatalf("parseFileTime: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("got %v, want %v", got, at)
	}

	if _, err := parseFileTime("samples-2024.parquet"); err == nil {
		t.Error("expected error for foreign file")
	}
}
