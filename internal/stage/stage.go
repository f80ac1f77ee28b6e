// Package stage defines the contract every analysis setup step implements.
// A stage produces one or more products in the save directory and knows how
// to tell whether they are already built.
package stage

import (
	"context"
	"fmt"

	"github.com/kingrea/gtpipe/internal/artifact"
)

// Info describes a stage's identity and intent.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("stage: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("stage: name is required for %s", i.ID)
	}
	if i.Version == "" {
		return fmt.Errorf("stage: version is required for %s", i.ID)
	}
	return nil
}

// Result captures the outcome of a stage execution.
type Result struct {
	Status  Status
	Message string
}

// Status enumerates stage run outcomes.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Stage is implemented by every setup step.
type Stage interface {
	Info() Info
	Outputs() []artifact.Ref
	IsComplete(env *Env) (bool, error)
	Run(ctx context.Context, env *Env) (Result, error)
}

// Base provides common plumbing for stages (identity + outputs).
type Base struct {
	info    Info
	outputs []artifact.Ref
}

// NewBase seeds the helper with stage info.
func NewBase(info Info) Base {
	return Base{info: info}
}

// SetOutputs declares the produced products.
func (b *Base) SetOutputs(refs ...artifact.Ref) {
	b.outputs = append([]artifact.Ref{}, refs...)
}

// Info implements Stage.Info.
func (b *Base) Info() Info {
	return b.info
}

// Outputs implements Stage.Outputs.
func (b *Base) Outputs() []artifact.Ref {
	return append([]artifact.Ref{}, b.outputs...)
}
