package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/kingrea/gtpipe/internal/config"
	"github.com/kingrea/gtpipe/internal/roi"
)

const defaultSpectrum = "PowerLaw"

// BuildRegion creates the base region from the common configuration: the
// configured center (or the position of the target source), roi.radius,
// the catalog file named by inputs.sources and the inline roi.sources.
func BuildRegion(cfg config.Analysis) (*roi.Region, error) {
	var sources []roi.Source
	if cfg.Inputs.Sources != "" {
		catalog, err := roi.ReadXML(cfg.Inputs.Sources, 0, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("analysis: load sources: %w", err)
		}
		sources = append(sources, catalog.Sources()...)
	}
	for _, spec := range cfg.ROI.Sources {
		sources = append(sources, sourceFromSpec(spec))
	}

	ra, dec, ok := cfg.Center()
	if !ok && cfg.Selection.Target != "" {
		for _, spec := range cfg.ROI.Sources {
			if strings.EqualFold(strings.TrimSpace(spec.Name), cfg.Selection.Target) {
				ra, dec, ok = spec.RA, spec.Dec, true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("analysis: region center requires selection.ra/dec or a target in roi.sources")
	}
	region, err := roi.New(ra, dec, cfg.ROI.Radius, sources...)
	if err != nil {
		return nil, fmt.Errorf("analysis: build region: %w", err)
	}
	return region, nil
}

// ComponentOverlay returns a component's additions to the base region: its
// radius and the diffuse templates named in its inputs.
func ComponentOverlay(cfg config.Analysis) roi.Overlay {
	return roi.Overlay{
		Radius:  cfg.ROI.Radius,
		Sources: roi.DiffuseSources(cfg.Inputs.GalDiff, cfg.Inputs.IsoDiff, cfg.Inputs.LimbDiff),
	}
}

func sourceFromSpec(spec config.SourceSpec) roi.Source {
	kind := strings.TrimSpace(spec.Spectrum.Type)
	if kind == "" {
		kind = defaultSpectrum
	}
	spectrum := roi.Spectrum{Type: kind, File: spec.Spectrum.File}
	for _, p := range spec.Spectrum.Parameters {
		spectrum.Parameters = append(spectrum.Parameters, parameterFromSpec(p))
	}
	return roi.PointSourceAt(strings.TrimSpace(spec.Name), spec.RA, spec.Dec, spectrum)
}

func parameterFromSpec(p config.ParameterSpec) roi.Parameter {
	out := roi.Parameter{Name: p.Name, Value: p.Value, Scale: 1, Free: p.Free}
	if p.Scale != nil {
		out.Scale = *p.Scale
	}
	out.Min, out.Max = defaultBounds(p.Value)
	if p.Min != nil {
		out.Min = *p.Min
	}
	if p.Max != nil {
		out.Max = *p.Max
	}
	return out
}

// defaultBounds spans three decades either side of a positive value.
func defaultBounds(v float64) (float64, float64) {
	if v > 0 {
		return v * 1e-3, v * 1e3
	}
	span := math.Max(1e3, math.Abs(v)*1e3)
	return -span, span
}
