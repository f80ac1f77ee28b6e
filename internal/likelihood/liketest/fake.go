// Package liketest provides an in-memory likelihood engine for tests.
package liketest

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kingrea/gtpipe/internal/likelihood"
)

// Fake is an in-memory combined likelihood. Fit attempts follow the scripted
// Qualities and Errs; every attempt moves the free parameters so a missing
// restore is observable.
type Fake struct {
	mu sync.Mutex

	order   []string
	spectra map[string]string
	files   map[string]string
	params  []likelihood.Parameter

	// Qualities is the quality returned by attempt i (the last entry repeats;
	// empty means 3).
	Qualities []int
	// Errs is the error returned by attempt i (nil entries succeed).
	Errs []error
	// SetParamErr, when set, fails every SetParam, as a closed engine does.
	SetParamErr error

	Attempts   []likelihood.Optimizer
	Synced     []string
	Components []likelihood.Component
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{spectra: map[string]string{}, files: map[string]string{}}
}

// WithSource appends a source with the given spectrum and parameters.
func (f *Fake) WithSource(name, spectrum string, params ...likelihood.Parameter) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, name)
	f.spectra[name] = spectrum
	for _, p := range params {
		p.Source = name
		if p.Scale == 0 {
			p.Scale = 1
		}
		f.params = append(f.params, p)
	}
	return f
}

// WithFile sets the backing file of a FileFunction source.
func (f *Fake) WithFile(name, file string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = file
	return f
}

// PowerLaw returns Prefactor, Index and Scale parameters.
func PowerLaw(free bool) []likelihood.Parameter {
	return []likelihood.Parameter{
		{Name: "Prefactor", Value: 1, Scale: 1e-11, Min: 1e-3, Max: 1e3, Free: free},
		{Name: "Index", Value: 2, Scale: -1, Min: 1, Max: 5, Free: free},
		{Name: "Scale", Value: 1000, Scale: 1, Min: 1000, Max: 1000, Free: free},
	}
}

// FitCalls returns how many attempts ran.
func (f *Fake) FitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Attempts)
}

// Param returns the parameter of source named name.
func (f *Fake) Param(source, name string) (likelihood.Parameter, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.params {
		if p.Source == source && p.Name == name {
			return p, true
		}
	}
	return likelihood.Parameter{}, false
}

func (f *Fake) NumFreeParams() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.params {
		if p.Free {
			n++
		}
	}
	return n, nil
}

func (f *Fake) SourceNames() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...), nil
}

func (f *Fake) Spectrum(source string) (likelihood.Spectrum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.spectra[source]
	if !ok {
		return likelihood.Spectrum{}, fmt.Errorf("liketest: unknown source %s", source)
	}
	spec := likelihood.Spectrum{Name: name, File: f.files[source]}
	for _, p := range f.params {
		if p.Source == source {
			spec.Params = append(spec.Params, p)
		}
	}
	return spec, nil
}

func (f *Fake) ParamIndex(source, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.params {
		if p.Source == source && p.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("liketest: %s has no parameter %s", source, name)
}

func (f *Fake) NormParam(source string) (string, error) {
	spec, err := f.Spectrum(source)
	if err != nil {
		return "", err
	}
	for _, candidate := range []string{"Prefactor", "norm", "Normalization", "Integral", "Value"} {
		for _, p := range spec.Params {
			if p.Name == candidate {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("liketest: %s has no normalization", source)
}

func (f *Fake) Params() ([]likelihood.Parameter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]likelihood.Parameter(nil), f.params...), nil
}

func (f *Fake) SetFree(index int, free bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.params) {
		return fmt.Errorf("liketest: index %d out of range", index)
	}
	f.params[index].Free = free
	return nil
}

func (f *Fake) SetParam(index int, value float64, free bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetParamErr != nil {
		return f.SetParamErr
	}
	if index < 0 || index >= len(f.params) {
		return fmt.Errorf("liketest: index %d out of range", index)
	}
	f.params[index].Value = value
	f.params[index].Free = free
	return nil
}

func (f *Fake) SyncSourceParams(source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Synced = append(f.Synced, source)
	return nil
}

func (f *Fake) Fit(ctx context.Context, opt likelihood.Optimizer, _ bool) (likelihood.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.Attempts)
	f.Attempts = append(f.Attempts, opt)
	if err := ctx.Err(); err != nil {
		return likelihood.Attempt{}, err
	}
	for i := range f.params {
		if f.params[i].Free {
			f.params[i].Value = f.params[i].Value*1.5 + 0.1
			f.params[i].Error = 0.1
		}
	}
	if idx < len(f.Errs) && f.Errs[idx] != nil {
		return likelihood.Attempt{}, f.Errs[idx]
	}
	quality := 3
	if n := len(f.Qualities); n > 0 {
		if idx < n {
			quality = f.Qualities[idx]
		} else {
			quality = f.Qualities[n-1]
		}
	}
	return likelihood.Attempt{Quality: quality, LogLike: -100 + float64(idx)}, nil
}

func (f *Fake) AddComponent(c likelihood.Component) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Components = append(f.Components, c)
	return nil
}

// Component is an in-memory analysis handle.
type Component struct {
	Obs   likelihood.Observation
	Edisp bool
	XML   []string
}

func (c *Component) Name() string { return c.Obs.Name }

// WriteXML records the path and writes a placeholder document.
func (c *Component) WriteXML(path string) error {
	c.XML = append(c.XML, path)
	return os.WriteFile(path, []byte("<source_library/>\n"), 0o644)
}

func (c *Component) SetEdisp(enabled bool) error {
	c.Edisp = enabled
	return nil
}

// Backend hands out Fake objects.
type Backend struct {
	mu           sync.Mutex
	Summed       *Fake
	Observed     []likelihood.Observation
	Handles      []*Component
	ComponentErr error
}

// NewBackend returns a backend whose summed likelihood is summed.
func NewBackend(summed *Fake) *Backend {
	return &Backend{Summed: summed}
}

func (b *Backend) NewComponent(_ context.Context, obs likelihood.Observation) (likelihood.Component, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ComponentErr != nil {
		return nil, b.ComponentErr
	}
	b.Observed = append(b.Observed, obs)
	handle := &Component{Obs: obs}
	b.Handles = append(b.Handles, handle)
	return handle, nil
}

func (b *Backend) NewSummed(context.Context, string) (likelihood.Summed, error) {
	return b.Summed, nil
}
