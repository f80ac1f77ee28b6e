// internal/workspace/workspace.go
//
// Defines the save/work directory pair and the fixed product file templates.
// Every product of an analysis lives in the save directory under a name built
// from <kind><suffix>.<ext>, so components sharing one save directory never
// collide as long as their suffixes are unique.

package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Product file templates (the %s is the component file suffix).
const (
	FileEvents       = "ft1%s.fits"
	FileCountsCube   = "ccube%s.fits"
	FileModelCube    = "mcube%s.fits"
	FileSourceMaps   = "srcmap%s.fits"
	FileBinnedExpMap = "bexpmap%s.fits"
	FileSourceModel  = "srcmdl%s.xml"
)

// Files written once per analysis (not per component).
const (
	FileResults    = "results.yaml"
	FileMetrics    = "metrics.prom"
	ResultsExt     = ".yaml"
	ModelExt       = ".xml"
	MarkerSuffix   = ".built.json"
	scratchDirMode = 0o755
)

// ErrNoSaveDir is returned when the save directory name is not configured.
var ErrNoSaveDir = errors.New("workspace: save directory not defined")

// Workspace manages the save and work directories of one analysis run.
type Workspace struct {
	saveDir string
	workDir string
	scratch bool
}

// New creates the save directory <root>/<base>. When scratchDir is set a fresh
// work directory is created below it (prefixed with the user name); otherwise
// the work directory is the save directory.
func New(root, base, scratchDir, user string) (*Workspace, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, ErrNoSaveDir
	}
	saveDir := base
	if !filepath.IsAbs(saveDir) {
		saveDir = filepath.Join(root, base)
	}
	saveDir = filepath.Clean(saveDir)
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create save dir: %w", err)
	}
	ws := &Workspace{saveDir: saveDir, workDir: saveDir}
	if scratch := strings.TrimSpace(scratchDir); scratch != "" {
		if err := os.MkdirAll(scratch, scratchDirMode); err != nil {
			return nil, fmt.Errorf("workspace: create scratch root: %w", err)
		}
		prefix := strings.TrimSpace(user)
		if prefix == "" {
			prefix = "gtpipe"
		}
		workDir, err := os.MkdirTemp(scratch, prefix+".")
		if err != nil {
			return nil, fmt.Errorf("workspace: create work dir: %w", err)
		}
		ws.workDir = workDir
		ws.scratch = true
	}
	return ws, nil
}

// At wraps an existing directory as both save and work directory. It does not
// create anything on disk.
func At(dir string) *Workspace {
	clean := filepath.Clean(dir)
	return &Workspace{saveDir: clean, workDir: clean}
}

// SaveDir returns the destination directory for output products.
func (w *Workspace) SaveDir() string {
	return w.saveDir
}

// WorkDir returns the working directory (may equal SaveDir).
func (w *Workspace) WorkDir() string {
	return w.workDir
}

// Scratch reports whether the work directory is a temporary scratch directory.
func (w *Workspace) Scratch() bool {
	return w.scratch
}

// Path joins name under the save directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.saveDir, name)
}

// ProductPath resolves a product template for a component suffix.
func (w *Workspace) ProductPath(template, suffix string) string {
	return w.Path(fmt.Sprintf(template, suffix))
}

// Contains reports whether path already lives below the save directory.
func (w *Workspace) Contains(path string) bool {
	return strings.HasPrefix(filepath.Clean(path), w.saveDir)
}

// PFiles returns the parameter-file search path scoped to this workspace: the
// save directory first, then the system parameter directory (the part after the
// last ';' of system).
func (w *Workspace) PFiles(system string) string {
	parts := strings.Split(system, ";")
	tail := strings.TrimSpace(parts[len(parts)-1])
	if tail == "" {
		return w.saveDir
	}
	return w.saveDir + ";" + tail
}

// Cleanup removes the scratch work directory, if any.
func (w *Workspace) Cleanup() error {
	if !w.scratch {
		return nil
	}
	return os.RemoveAll(w.workDir)
}
