package observers

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPurgeArtifactsRemovesOldMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "conversation_a_20200101_000000.json")
	fresh := filepath.Join(dir, "conversation_b_20990101_000000.json")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := time.Now().Add(-72 * time.Hour)
	for _, p := range []string{old, other} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	n, err := PurgeArtifacts(dir, "conversation_*.json", 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed file, got %d", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old transcript removed")
	}
	for _, p := range []string{fresh, other} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s kept: %v", filepath.Base(p), err)
		}
	}
}

func TestPurgeArtifactsMissingDir(t *testing.T) {
	n, err := PurgeArtifacts(filepath.Join(t.TempDir(), "missing"), "", time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("expected no-op for missing dir, got %d, %v", n, err)
	}
}
