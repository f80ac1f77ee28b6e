package likelihood

// SourceResults is the serialized form of one source's spectrum: each
// parameter's true value, <name>_err with the scaled error (NaN when fixed),
// the spectrum name, and the backing file for file functions.
type SourceResults map[string]any

// SpectrumResults converts a spectrum into its results mapping.
func SpectrumResults(s Spectrum) SourceResults {
	out := SourceResults{}
	for _, p := range s.Params {
		out[p.Name] = p.TrueValue()
		out[p.Name+"_err"] = p.TrueError()
	}
	out["name"] = s.Name
	if s.Name == "FileFunction" {
		out["file"] = s.File
	}
	return out
}

// Results builds the results mapping for every source of m.
func Results(m Model) (map[string]SourceResults, error) {
	names, err := m.SourceNames()
	if err != nil {
		return nil, err
	}
	out := make(map[string]SourceResults, len(names))
	for _, name := range names {
		spec, err := m.Spectrum(name)
		if err != nil {
			return nil, err
		}
		out[name] = SpectrumResults(spec)
	}
	return out, nil
}
