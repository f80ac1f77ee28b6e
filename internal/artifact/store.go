package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kingrea/gtpipe/internal/workspace"
)

// Store checks products and records build markers next to them. A marker is
// a JSON file named <product>.built.json carrying the parameter fingerprint
// the product was built with.
type Store struct {
	workspace *workspace.Workspace
	now       func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store for a workspace.
func NewStore(ws *workspace.Workspace, opts ...StoreOption) *Store {
	store := &Store{
		workspace: ws,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// MarkerPath returns the build marker path for a product path.
func MarkerPath(path string) string {
	return path + workspace.MarkerSuffix
}

// Check inspects the product on disk. A product is ready when it exists and
// either has no marker or has a marker whose fingerprint matches. An empty
// fingerprint skips the comparison.
func (s *Store) Check(ref Ref, suffix, fingerprint string) (CheckResult, error) {
	path := ref.Path(s.workspace, suffix)
	if path == "" {
		err := fmt.Errorf("artifact: %s path could not be resolved", ref.ID)
		return CheckResult{Ref: ref, Path: path, State: StateError, Err: err}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CheckResult{Ref: ref, Path: path, State: StateMissing}, nil
		}
		return CheckResult{Ref: ref, Path: path, State: StateError, Err: err}, err
	}
	if info.IsDir() {
		err := fmt.Errorf("artifact: expected file got directory at %s", path)
		return CheckResult{Ref: ref, Path: path, State: StateInvalid, Err: err}, err
	}

	meta, err := readMarker(MarkerPath(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CheckResult{Ref: ref, Path: path, State: StateReady}, nil
	case err != nil:
		return CheckResult{Ref: ref, Path: path, State: StateStale, Err: err}, nil
	}
	if meta.ArtifactID != ref.ID {
		err := fmt.Errorf("artifact: marker id %s does not match %s", meta.ArtifactID, ref.ID)
		return CheckResult{Ref: ref, Path: path, State: StateStale, Metadata: &meta, Err: err}, nil
	}
	if fingerprint != "" && meta.Fingerprint != fingerprint {
		return CheckResult{Ref: ref, Path: path, State: StateStale, Metadata: &meta}, nil
	}
	return CheckResult{Ref: ref, Path: path, State: StateReady, Metadata: &meta}, nil
}

// MarkBuilt records that the product was produced with meta.
func (s *Store) MarkBuilt(ref Ref, suffix string, meta Metadata) error {
	path := ref.Path(s.workspace, suffix)
	if path == "" {
		return fmt.Errorf("artifact: %s path could not be resolved", ref.ID)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("artifact: %s was not produced: %w", ref.ID, err)
	}
	prepared := meta.WithDefaults(ref, s.now())
	if err := prepared.ValidateFor(ref); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(prepared, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode marker for %s: %w", ref.ID, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(MarkerPath(path), encoded, 0o644)
}

// Invalidate removes the product and its marker.
func (s *Store) Invalidate(ref Ref, suffix string) error {
	path := ref.Path(s.workspace, suffix)
	if path == "" {
		return fmt.Errorf("artifact: %s path could not be resolved", ref.ID)
	}
	for _, target := range []string{path, MarkerPath(path)} {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("artifact: remove %s: %w", target, err)
		}
	}
	return nil
}

func readMarker(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("artifact: parse marker %s: %w", path, err)
	}
	if meta.ArtifactID == "" || meta.StageID == "" {
		return Metadata{}, fmt.Errorf("artifact: incomplete marker %s", path)
	}
	return meta, nil
}
