package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCreatesSaveDirAndUsesItAsWorkDir(t *testing.T) {
	root := t.TempDir()
	ws, err := New(root, "crab", "", "alice")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := filepath.Join(root, "crab")
	if ws.SaveDir() != want {
		t.Fatalf("SaveDir = %s, want %s", ws.SaveDir(), want)
	}
	if ws.WorkDir() != want {
		t.Fatalf("WorkDir = %s, want save dir", ws.WorkDir())
	}
	if info, err := os.Stat(want); err != nil || !info.IsDir() {
		t.Fatalf("save dir not created: %v", err)
	}
}

func TestNewRequiresBase(t *testing.T) {
	if _, err := New(t.TempDir(), "  ", "", ""); !errors.Is(err, ErrNoSaveDir) {
		t.Fatalf("expected ErrNoSaveDir, got %v", err)
	}
}

func TestNewCreatesScratchWorkDir(t *testing.T) {
	root := t.TempDir()
	scratch := filepath.Join(root, "scratch")
	ws, err := New(root, "crab", scratch, "alice")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !ws.Scratch() {
		t.Fatalf("expected scratch work dir")
	}
	if !strings.HasPrefix(filepath.Base(ws.WorkDir()), "alice.") {
		t.Fatalf("work dir %s missing user prefix", ws.WorkDir())
	}
	if err := ws.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(ws.WorkDir()); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present")
	}
}

func TestProductPathAndPFiles(t *testing.T) {
	ws := At("/data/crab")
	if got := ws.ProductPath(FileCountsCube, "_front"); got != "/data/crab/ccube_front.fits" {
		t.Fatalf("ProductPath = %s", got)
	}
	if got := ws.PFiles("/home/u/pfiles;/opt/st/syspfiles"); got != "/data/crab;/opt/st/syspfiles" {
		t.Fatalf("PFiles = %s", got)
	}
	if got := ws.PFiles(""); got != "/data/crab" {
		t.Fatalf("PFiles empty = %s", got)
	}
	if !ws.Contains("/data/crab/fit_front.xml") || ws.Contains("/tmp/fit.xml") {
		t.Fatalf("Contains mismatch")
	}
}
