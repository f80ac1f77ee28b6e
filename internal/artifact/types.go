// Package artifact defines the on-disk products that analysis stages exchange.
// Each product has a stable identifier, a kind, and a resolver that maps it to
// a path inside the save directory for a given component suffix.

package artifact

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kingrea/gtpipe/internal/workspace"
)

// Kind captures the file format of a product.
type Kind string

const (
	// KindFITS is a FITS file written by a science tool.
	KindFITS Kind = "fits"
	// KindXML is a source-model XML document.
	KindXML Kind = "xml"
	// KindYAML is a YAML document written by the pipeline itself.
	KindYAML Kind = "yaml"
)

// PathResolver returns the fully-qualified path of a product for a component
// file suffix.
type PathResolver func(ws *workspace.Workspace, suffix string) string

// Ref declares a stable identifier and metadata for a product.
type Ref struct {
	ID          string
	Name        string
	Description string
	Kind        Kind
	path        PathResolver
}

// Path resolves the product path inside ws.
func (r Ref) Path(ws *workspace.Workspace, suffix string) string {
	if ws == nil || r.path == nil {
		return ""
	}
	return filepath.Clean(r.path(ws, suffix))
}

// At returns a copy of r pinned to an explicit path.
func (r Ref) At(path string) Ref {
	clone := r
	clone.path = func(*workspace.Workspace, string) string { return path }
	return clone
}

// Validate ensures the reference is well-formed.
func (r Ref) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("artifact: id is required")
	}
	if r.Kind == "" {
		return fmt.Errorf("artifact: kind is required for %s", r.ID)
	}
	if r.path == nil {
		return fmt.Errorf("artifact: path resolver missing for %s", r.ID)
	}
	return nil
}

// Metadata captures the provenance stored in a build marker.
type Metadata struct {
	ArtifactID  string    `json:"artifact"`
	StageID     string    `json:"stage"`
	Version     string    `json:"version"`
	Component   string    `json:"component,omitempty"`
	Inputs      []string  `json:"inputs,omitempty"`
	CreatedAt   time.Time `json:"created"`
	Fingerprint string    `json:"fingerprint"`
}

// WithDefaults ensures metadata carries the artifact ID and timestamps.
func (m Metadata) WithDefaults(ref Ref, now time.Time) Metadata {
	clone := m
	if clone.ArtifactID == "" {
		clone.ArtifactID = ref.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now.UTC()
	} else {
		clone.CreatedAt = clone.CreatedAt.UTC()
	}
	return clone
}

// ValidateFor ensures metadata matches the product contract.
func (m Metadata) ValidateFor(ref Ref) error {
	if m.ArtifactID != ref.ID {
		return fmt.Errorf("artifact: metadata id %s does not match ref %s", m.ArtifactID, ref.ID)
	}
	if m.StageID == "" {
		return fmt.Errorf("artifact: stage id is required for %s", ref.ID)
	}
	if m.Version == "" {
		return fmt.Errorf("artifact: version is required for %s", ref.ID)
	}
	return nil
}

// State captures the readiness of a product on disk.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateStale   State = "stale"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

// CheckResult captures Store.Check results.
type CheckResult struct {
	Ref      Ref
	Path     string
	State    State
	Metadata *Metadata
	Err      error
}

func newProductRef(id, name, desc string, kind Kind, template string) Ref {
	return Ref{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        kind,
		path: func(ws *workspace.Workspace, suffix string) string {
			return ws.ProductPath(template, suffix)
		},
	}
}

// Canonical per-component products.
var (
	Events       = newProductRef("ft1", "Selected Events", "event list after gtselect", KindFITS, workspace.FileEvents)
	CountsCube   = newProductRef("ccube", "Counts Cube", "binned counts cube written by gtbin", KindFITS, workspace.FileCountsCube)
	BinnedExpMap = newProductRef("bexpmap", "Binned Exposure Map", "all-sky exposure cube written by gtexpcube2", KindFITS, workspace.FileBinnedExpMap)
	SourceMaps   = newProductRef("srcmap", "Source Maps", "per-source model maps written by gtsrcmaps", KindFITS, workspace.FileSourceMaps)
	ModelCube    = newProductRef("mcube", "Model Counts Cube", "model counts map written by gtmodel", KindFITS, workspace.FileModelCube)
	SourceModel  = newProductRef("srcmdl", "Source Model", "region model XML", KindXML, workspace.FileSourceModel)
	Results      = Ref{
		ID:          "results",
		Name:        "Fit Results",
		Description: "per-source fitted parameters",
		Kind:        KindYAML,
		path: func(ws *workspace.Workspace, _ string) string {
			return ws.Path(workspace.FileResults)
		},
	}
)
