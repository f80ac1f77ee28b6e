package artifact

import (
	"os"
	"testing"
	"time"

	"github.com/kingrea/gtpipe/internal/workspace"
)

func newTestStore(t *testing.T) (*Store, *workspace.Workspace) {
	t.Helper()
	ws := workspace.At(t.TempDir())
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewStore(ws, WithClock(func() time.Time { return fixed })), ws
}

func TestCheckMissingThenReadyWithoutMarker(t *testing.T) {
	store, ws := newTestStore(t)
	res, err := store.Check(CountsCube, "_front", "abc")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.State != StateMissing {
		t.Fatalf("state = %s, want missing", res.State)
	}
	if err := os.WriteFile(CountsCube.Path(ws, "_front"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err = store.Check(CountsCube, "_front", "abc")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.State != StateReady || res.Metadata != nil {
		t.Fatalf("expected ready product without marker, got %+v", res)
	}
}

func TestMarkBuiltAndFingerprintMismatch(t *testing.T) {
	store, ws := newTestStore(t)
	path := SourceMaps.Path(ws, "_00")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	meta := Metadata{StageID: "gtsrcmaps", Version: "1", Fingerprint: "aaa"}
	if err := store.MarkBuilt(SourceMaps, "_00", meta); err != nil {
		t.Fatalf("mark built: %v", err)
	}
	res, err := store.Check(SourceMaps, "_00", "aaa")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.State != StateReady || res.Metadata == nil || res.Metadata.ArtifactID != SourceMaps.ID {
		t.Fatalf("expected ready with metadata, got %+v", res)
	}
	if !res.Metadata.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", res.Metadata.CreatedAt)
	}
	res, err = store.Check(SourceMaps, "_00", "bbb")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.State != StateStale {
		t.Fatalf("state = %s, want stale", res.State)
	}
	if err := store.Invalidate(SourceMaps, "_00"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	for _, p := range []string{path, MarkerPath(path)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s still present", p)
		}
	}
}

func TestCorruptMarkerIsStale(t *testing.T) {
	store, ws := newTestStore(t)
	path := Events.Path(ws, "")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(MarkerPath(path), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := store.Check(Events, "", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.State != StateStale || res.Err == nil {
		t.Fatalf("expected stale with error, got %+v", res)
	}
}

func TestMarkBuiltRequiresProduct(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.MarkBuilt(ModelCube, "_00", Metadata{StageID: "gtmodel", Version: "1"}); err == nil {
		t.Fatalf("expected error when product is absent")
	}
}

func TestAtPinsPath(t *testing.T) {
	ws := workspace.At("/data/crab")
	ref := ModelCube.At("/elsewhere/model.fits")
	if got := ref.Path(ws, "_front"); got != "/elsewhere/model.fits" {
		t.Fatalf("path = %s", got)
	}
	if got := ModelCube.Path(ws, "_front"); got != "/data/crab/mcube_front.fits" {
		t.Fatalf("canonical path = %s", got)
	}
}
