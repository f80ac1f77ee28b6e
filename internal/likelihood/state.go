package likelihood

import "fmt"

// FitState is a snapshot of every parameter's value and free flag.
type FitState struct {
	params []Parameter
}

// Snapshot captures the current parameter state of m.
func Snapshot(m Model) (FitState, error) {
	params, err := m.Params()
	if err != nil {
		return FitState{}, fmt.Errorf("likelihood: snapshot: %w", err)
	}
	return FitState{params: append([]Parameter(nil), params...)}, nil
}

// Restore writes every captured value and free flag back into m.
func (s FitState) Restore(m Model) error {
	for i, p := range s.params {
		if err := m.SetParam(i, p.Value, p.Free); err != nil {
			return fmt.Errorf("likelihood: restore %s:%s: %w", p.Source, p.Name, err)
		}
	}
	return nil
}

// Params returns a copy of the captured parameters.
func (s FitState) Params() []Parameter {
	return append([]Parameter(nil), s.params...)
}

// Len returns the number of captured parameters.
func (s FitState) Len() int {
	return len(s.params)
}
