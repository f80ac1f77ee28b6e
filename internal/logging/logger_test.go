package logging

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crab.log")
	log, err := New(path)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer log.Close()
	for i := 0; i < 5; i++ {
		log.Info("entry-%d", i)
	}
	lines, total := log.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestLevelThresholdAndScope(t *testing.T) {
	var console bytes.Buffer
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "run.log")
	log, err := New(path, WithLevel(LevelWarn), WithConsole(&console), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer log.Close()

	log.Info("hidden")
	log.With("front").Warn("Missing file %s", "a.fits")
	lines, total := log.Tail(10)
	if total != 1 {
		t.Fatalf("expected one entry, got %d: %v", total, lines)
	}
	want := "2024-03-01T12:00:00Z WARN  [front] Missing file a.fits"
	if lines[0] != want {
		t.Fatalf("line = %q, want %q", lines[0], want)
	}
	if !strings.Contains(console.String(), "Missing file a.fits") {
		t.Fatalf("console mirror missing entry: %q", console.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	log.Info("nothing")
	log.With("x").Error("still nothing")
	if lines, total := log.Tail(1); lines != nil || total != 0 {
		t.Fatalf("expected empty tail")
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	if LevelFromVerbosity(0) != LevelWarn || LevelFromVerbosity(1) != LevelInfo || LevelFromVerbosity(3) != LevelDebug {
		t.Fatalf("unexpected verbosity mapping")
	}
}
