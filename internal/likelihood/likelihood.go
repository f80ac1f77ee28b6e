// Package likelihood defines the capability boundary between the pipeline
// and the likelihood-evaluation engine. The engine owns the numerics; the
// pipeline only manipulates parameters, runs optimizer attempts and reads
// back results through these interfaces.
package likelihood

import (
	"context"
	"errors"
	"math"
	"strings"
)

// QualityThreshold is the minimum fit quality (exclusive) accepted from a
// quality-gated optimizer.
const QualityThreshold = 2

// ErrFailedToConverge is returned when every attempt of the fit loop ended
// without an acceptable quality.
var ErrFailedToConverge = errors.New("failed to converge")

// Parameter is one likelihood parameter, identified by source and name.
type Parameter struct {
	Source string  `json:"source"`
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Scale  float64 `json:"scale"`
	Error  float64 `json:"error"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Free   bool    `json:"free"`
}

// TrueValue is the physical value (value times scale).
func (p Parameter) TrueValue() float64 {
	return p.Value * p.Scale
}

// TrueError is the scaled error for free parameters and NaN otherwise.
func (p Parameter) TrueError() float64 {
	if !p.Free {
		return math.NaN()
	}
	return p.Error * p.Scale
}

// Spectrum is the engine's view of a source's spectral function.
type Spectrum struct {
	Name   string      `json:"name"`
	File   string      `json:"file,omitempty"`
	Params []Parameter `json:"params"`
}

// ParamNames returns the parameter names in engine order.
func (s Spectrum) ParamNames() []string {
	names := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		names = append(names, p.Name)
	}
	return names
}

// Family classifies how an optimizer's attempts are judged.
type Family int

const (
	// SingleShot optimizers are accepted after one attempt.
	SingleShot Family = iota
	// QualityGated optimizers are retried until quality exceeds the threshold.
	QualityGated
)

func (f Family) String() string {
	if f == QualityGated {
		return "quality-gated"
	}
	return "single-shot"
}

// Optimizer names the engine optimizer and its family.
type Optimizer struct {
	Name   string
	Family Family
}

// NewOptimizer classifies name: MINUIT and NEWMINUIT (any case) are quality
// gated, everything else is single shot.
func NewOptimizer(name string) Optimizer {
	trimmed := strings.TrimSpace(name)
	switch strings.ToUpper(trimmed) {
	case "MINUIT", "NEWMINUIT":
		return Optimizer{Name: trimmed, Family: QualityGated}
	}
	return Optimizer{Name: trimmed, Family: SingleShot}
}

func (o Optimizer) String() string {
	return o.Name
}

// Accepts reports whether an attempt with the given quality ends the loop.
func (o Optimizer) Accepts(quality int) bool {
	if o.Family == QualityGated {
		return quality > QualityThreshold
	}
	return true
}

// Attempt is the outcome of one optimizer run.
type Attempt struct {
	Quality int     `json:"quality"`
	LogLike float64 `json:"loglike"`
}

// Model is the parameter and fitting surface of a likelihood object.
type Model interface {
	NumFreeParams() (int, error)
	SourceNames() ([]string, error)
	Spectrum(source string) (Spectrum, error)
	ParamIndex(source, name string) (int, error)
	NormParam(source string) (string, error)
	Params() ([]Parameter, error)
	SetFree(index int, free bool) error
	SetParam(index int, value float64, free bool) error
	SyncSourceParams(source string) error
	Fit(ctx context.Context, opt Optimizer, covar bool) (Attempt, error)
}

// Summed is the combined likelihood across components.
type Summed interface {
	Model
	AddComponent(Component) error
}

// Component is the analysis handle of one component's observation.
type Component interface {
	Name() string
	WriteXML(path string) error
	SetEdisp(enabled bool) error
}

// Observation binds the products a component's likelihood is built from.
type Observation struct {
	Name         string `json:"name"`
	SrcMaps      string `json:"srcmaps"`
	ExpCube      string `json:"expcube"`
	BinnedExpMap string `json:"binnedexpmap"`
	IRFs         string `json:"irfs"`
	SrcModel     string `json:"srcmdl"`
	Optimizer    string `json:"optimizer"`
}

// Backend creates likelihood objects.
type Backend interface {
	NewComponent(ctx context.Context, obs Observation) (Component, error)
	NewSummed(ctx context.Context, optimizer string) (Summed, error)
}
