// Package roi models the region of interest: a center, a radius and an
// ordered set of named sources. A Region is immutable once built; components
// derive their own view through With, which copies the source list.
package roi

import (
	"errors"
	"fmt"
	"strings"
)

// Diffuse source names understood without a region lookup.
const (
	GalDiff  = "galdiff"
	IsoDiff  = "isodiff"
	LimbDiff = "limbdiff"
)

// Source types.
const (
	PointSource   = "PointSource"
	DiffuseSource = "DiffuseSource"
)

// Spatial model types.
const (
	SkyDirFunction  = "SkyDirFunction"
	MapCubeFunction = "MapCubeFunction"
	ConstantValue   = "ConstantValue"
)

// FileFunction is the spectral type backed by a tabulated file.
const FileFunction = "FileFunction"

// ErrDuplicateSource is returned when a name is added twice.
var ErrDuplicateSource = errors.New("roi: duplicate source")

// IsDiffuse reports whether name is one of the diffuse sentinels.
func IsDiffuse(name string) bool {
	switch name {
	case GalDiff, IsoDiff, LimbDiff:
		return true
	}
	return false
}

// Parameter is one model parameter.
type Parameter struct {
	Name  string
	Value float64
	Scale float64
	Min   float64
	Max   float64
	Free  bool
}

// Spectrum is a spectral model descriptor.
type Spectrum struct {
	Type       string
	File       string
	Parameters []Parameter
}

// Param returns the parameter named name.
func (s Spectrum) Param(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Spatial is a spatial model descriptor.
type Spatial struct {
	Type       string
	File       string
	Parameters []Parameter
}

// Source is one named model component.
type Source struct {
	Name     string
	Type     string
	Spectrum Spectrum
	Spatial  Spatial
}

// clone copies the parameter slices so the result shares no memory with s.
func (s Source) clone() Source {
	out := s
	out.Spectrum.Parameters = append([]Parameter(nil), s.Spectrum.Parameters...)
	out.Spatial.Parameters = append([]Parameter(nil), s.Spatial.Parameters...)
	return out
}

// Region is an immutable region of interest.
type Region struct {
	ra, dec, radius float64
	sources         []Source
	index           map[string]int
}

// New builds a region, rejecting duplicate or empty source names.
func New(ra, dec, radius float64, sources ...Source) (*Region, error) {
	r := &Region{ra: ra, dec: dec, radius: radius, index: map[string]int{}}
	for _, src := range sources {
		if err := r.add(src); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Region) add(src Source) error {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		return fmt.Errorf("roi: source name is required")
	}
	if _, dup := r.index[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, name)
	}
	src.Name = name
	r.index[name] = len(r.sources)
	r.sources = append(r.sources, src.clone())
	return nil
}

// Center returns the region center in degrees.
func (r *Region) Center() (ra, dec float64) {
	return r.ra, r.dec
}

// Radius returns the region radius in degrees.
func (r *Region) Radius() float64 {
	return r.radius
}

// Len returns the number of sources.
func (r *Region) Len() int {
	return len(r.sources)
}

// Sources returns a copy of the ordered source list.
func (r *Region) Sources() []Source {
	out := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src.clone())
	}
	return out
}

// Source resolves a source by exact name, falling back to a
// case-insensitive match that ignores spaces.
func (r *Region) Source(name string) (Source, bool) {
	if idx, ok := r.index[strings.TrimSpace(name)]; ok {
		return r.sources[idx].clone(), true
	}
	want := normalizeName(name)
	for _, src := range r.sources {
		if normalizeName(src.Name) == want {
			return src.clone(), true
		}
	}
	return Source{}, false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
}

// Overlay describes per-component additions to a base region.
type Overlay struct {
	// Radius replaces the base radius when positive.
	Radius float64
	// Sources are appended after the base sources.
	Sources []Source
}

// With returns a new region made of r plus the overlay. r is unchanged.
func (r *Region) With(o Overlay) (*Region, error) {
	radius := r.radius
	if o.Radius > 0 {
		radius = o.Radius
	}
	out, err := New(r.ra, r.dec, radius, r.sources...)
	if err != nil {
		return nil, err
	}
	for _, src := range o.Sources {
		if err := out.add(src); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PointSourceAt builds a point source with a fixed sky position.
func PointSourceAt(name string, ra, dec float64, spectrum Spectrum) Source {
	return Source{
		Name:     name,
		Type:     PointSource,
		Spectrum: spectrum,
		Spatial: Spatial{
			Type: SkyDirFunction,
			Parameters: []Parameter{
				{Name: "RA", Value: ra, Scale: 1, Min: -360, Max: 360},
				{Name: "DEC", Value: dec, Scale: 1, Min: -90, Max: 90},
			},
		},
	}
}

// DiffuseSources builds the diffuse templates for the configured inputs.
// Empty paths are skipped.
func DiffuseSources(galdiff, isodiff, limbdiff string) []Source {
	var out []Source
	if galdiff != "" {
		out = append(out, Source{
			Name: GalDiff,
			Type: DiffuseSource,
			Spectrum: Spectrum{
				Type: "PowerLaw",
				Parameters: []Parameter{
					{Name: "Prefactor", Value: 1, Scale: 1, Min: 0.1, Max: 10, Free: true},
					{Name: "Index", Value: 0, Scale: -1, Min: -1, Max: 1},
					{Name: "Scale", Value: 1000, Scale: 1, Min: 1000, Max: 1000},
				},
			},
			Spatial: Spatial{Type: MapCubeFunction, File: galdiff, Parameters: []Parameter{normalization()}},
		})
	}
	if isodiff != "" {
		out = append(out, Source{
			Name: IsoDiff,
			Type: DiffuseSource,
			Spectrum: Spectrum{
				Type:       FileFunction,
				File:       isodiff,
				Parameters: []Parameter{{Name: "Normalization", Value: 1, Scale: 1, Min: 0.001, Max: 1000, Free: true}},
			},
			Spatial: Spatial{Type: ConstantValue, Parameters: []Parameter{{Name: "Value", Value: 1, Scale: 1, Min: 0, Max: 10}}},
		})
	}
	if limbdiff != "" {
		out = append(out, Source{
			Name: LimbDiff,
			Type: DiffuseSource,
			Spectrum: Spectrum{
				Type:       "ConstantValue",
				Parameters: []Parameter{{Name: "Value", Value: 1, Scale: 1, Min: 0.001, Max: 1000}},
			},
			Spatial: Spatial{Type: MapCubeFunction, File: limbdiff, Parameters: []Parameter{normalization()}},
		})
	}
	return out
}

func normalization() Parameter {
	return Parameter{Name: "Normalization", Value: 1, Scale: 1, Min: 0.001, Max: 1000}
}
