package sqlite

import (
	"path/filepath"
	"testing"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWatermarkDefaultsToZero(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "marks.db"))

	n, err := s.Watermark("never-seen")
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("unseen job should report 0, got %d", n)
	}
}

func TestSetWatermarkRoundTrip(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "marks.db"))

	if err := s.SetWatermark("build-A", 42); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}
	n, err := s.Watermark("build-A")
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}
}

func TestWatermarkNeverMovesBackwards(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "marks.db"))

	if err := s.SetWatermark("build-A", 42); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}
	if err := s.SetWatermark("build-A", 7); err != nil {
		t.Fatalf("SetWatermark with lower build failed: %v", err)
	}

	n, err := s.Watermark("build-A")
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if n != 42 {
		t.Fatalf("mark moved backwards: expected 42, got %d", n)
	}
}

func TestWatermarkSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marks.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.SetWatermark("build-A", 42); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := openStore(t, path)
	n, err := reopened.Watermark("build-A")
	if err != nil {
		t.Fatalf("Watermark after reopen failed: %v", err)
	}
	if n != 42 {
		t.Fatalf("mark lost across reopen: expected 42, got %d", n)
	}
}

func TestWatermarksListsEveryJob(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "marks.db"))

	if err := s.SetWatermark("build-A", 42); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}
	if err := s.SetWatermark("build-B", 7); err != nil {
		t.Fatalf("SetWatermark failed: %v", err)
	}

	marks, err := s.Watermarks()
	if err != nil {
		t.Fatalf("Watermarks failed: %v", err)
	}
	if len(marks) != 2 || marks["build-A"] != 42 || marks["build-B"] != 7 {
		t.Fatalf("unexpected marks: %v", marks)
	}
}
