package roi

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type xmlLibrary struct {
	XMLName xml.Name    `xml:"source_library"`
	Title   string      `xml:"title,attr"`
	Sources []xmlSource `xml:"source"`
}

type xmlSource struct {
	Name     string   `xml:"name,attr"`
	Type     string   `xml:"type,attr"`
	Spectrum xmlModel `xml:"spectrum"`
	Spatial  xmlModel `xml:"spatialModel"`
}

type xmlModel struct {
	Type       string         `xml:"type,attr"`
	File       string         `xml:"file,attr,omitempty"`
	Parameters []xmlParameter `xml:"parameter"`
}

type xmlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
	Scale string `xml:"scale,attr"`
	Min   string `xml:"min,attr"`
	Max   string `xml:"max,attr"`
	Free  string `xml:"free,attr"`
}

// EncodeXML renders the region as a source_library document.
func (r *Region) EncodeXML() ([]byte, error) {
	lib := xmlLibrary{Title: "source library"}
	for _, src := range r.sources {
		lib.Sources = append(lib.Sources, xmlSource{
			Name:     src.Name,
			Type:     src.Type,
			Spectrum: toXMLModel(src.Spectrum.Type, src.Spectrum.File, src.Spectrum.Parameters),
			Spatial:  toXMLModel(src.Spatial.Type, src.Spatial.File, src.Spatial.Parameters),
		})
	}
	body, err := xml.MarshalIndent(lib, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("roi: encode xml: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

// WriteXML writes the region model to path.
func (r *Region) WriteXML(path string) error {
	data, err := r.EncodeXML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("roi: ensure dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("roi: write %s: %w", path, err)
	}
	return nil
}

// ReadXML parses a source_library document into a region centered at
// (ra, dec) with the given radius.
func ReadXML(path string, ra, dec, radius float64) (*Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roi: read %s: %w", path, err)
	}
	var lib xmlLibrary
	if err := xml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("roi: parse %s: %w", path, err)
	}
	sources := make([]Source, 0, len(lib.Sources))
	for _, xs := range lib.Sources {
		spectrum, err := fromXMLParams(xs.Spectrum.Parameters)
		if err != nil {
			return nil, fmt.Errorf("roi: %s spectrum: %w", xs.Name, err)
		}
		spatial, err := fromXMLParams(xs.Spatial.Parameters)
		if err != nil {
			return nil, fmt.Errorf("roi: %s spatial model: %w", xs.Name, err)
		}
		sources = append(sources, Source{
			Name:     xs.Name,
			Type:     xs.Type,
			Spectrum: Spectrum{Type: xs.Spectrum.Type, File: xs.Spectrum.File, Parameters: spectrum},
			Spatial:  Spatial{Type: xs.Spatial.Type, File: xs.Spatial.File, Parameters: spatial},
		})
	}
	return New(ra, dec, radius, sources...)
}

func toXMLModel(kind, file string, params []Parameter) xmlModel {
	out := xmlModel{Type: kind, File: file}
	for _, p := range params {
		free := "0"
		if p.Free {
			free = "1"
		}
		out.Parameters = append(out.Parameters, xmlParameter{
			Name:  p.Name,
			Value: formatFloat(p.Value),
			Scale: formatFloat(p.Scale),
			Min:   formatFloat(p.Min),
			Max:   formatFloat(p.Max),
			Free:  free,
		})
	}
	return out
}

func fromXMLParams(params []xmlParameter) ([]Parameter, error) {
	out := make([]Parameter, 0, len(params))
	for _, xp := range params {
		p := Parameter{Name: xp.Name, Free: xp.Free == "1" || xp.Free == "true"}
		var err error
		if p.Value, err = parseFloat(xp.Value, 0); err != nil {
			return nil, fmt.Errorf("%s value: %w", xp.Name, err)
		}
		if p.Scale, err = parseFloat(xp.Scale, 1); err != nil {
			return nil, fmt.Errorf("%s scale: %w", xp.Name, err)
		}
		if p.Min, err = parseFloat(xp.Min, 0); err != nil {
			return nil, fmt.Errorf("%s min: %w", xp.Name, err)
		}
		if p.Max, err = parseFloat(xp.Max, 0); err != nil {
			return nil, fmt.Errorf("%s max: %w", xp.Name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(raw string, fallback float64) (float64, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(raw, 64)
}
