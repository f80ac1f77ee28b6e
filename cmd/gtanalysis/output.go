package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/gtpipe/internal/analysis"
	"github.com/kingrea/gtpipe/internal/artifact"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

func printComponents(w io.Writer, coord *analysis.Coordinator) {
	fmt.Fprintln(w, headerStyle.Render("Components"))
	for _, comp := range coord.Components() {
		fmt.Fprintf(w, "  %s  %s\n", okStyle.Render(comp.Name()), dimStyle.Render(comp.Product(artifact.SourceMaps)))
	}
}

func printOutcome(w io.Writer, outcome analysis.FitOutcome) {
	switch {
	case outcome.Skipped:
		fmt.Fprintln(w, dimStyle.Render("Fit skipped: no free parameters"))
	case outcome.Converged:
		fmt.Fprintf(w, "%s after %d attempt(s), quality %d, logL %.3f\n",
			okStyle.Render("Fit converged"), outcome.Attempts, outcome.Quality, outcome.LogLike)
	default:
		fmt.Fprintf(w, "%s after %d attempt(s): %v\n", warnStyle.Render("Fit failed"), outcome.Attempts, outcome.Cause)
		if outcome.Restored {
			fmt.Fprintln(w, dimStyle.Render("Parameters restored to their pre-fit values"))
		}
	}
}

// printResults renders a results document as one block per source, with
// each parameter's value and error.
func printResults(w io.Writer, data []byte) error {
	var results map[string]map[string]any
	if err := yaml.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("decode results: %w", err)
	}
	sources := make([]string, 0, len(results))
	for name := range results {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	for _, source := range sources {
		entry := results[source]
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render(source), dimStyle.Render(fmt.Sprint(entry["name"])))
		if file, ok := entry["file"]; ok {
			fmt.Fprintf(w, "  file = %v\n", file)
		}
		for _, par := range parameterNames(entry) {
			fmt.Fprintf(w, "  %s = %s\n", par, formatEstimate(entry[par], entry[par+"_err"]))
		}
	}
	return nil
}

func parameterNames(entry map[string]any) []string {
	var names []string
	for key := range entry {
		if key == "name" || key == "file" || strings.HasSuffix(key, "_err") {
			continue
		}
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

func formatEstimate(value, errValue any) string {
	v, ok := toFloat(value)
	if !ok {
		return fmt.Sprint(value)
	}
	e, ok := toFloat(errValue)
	if !ok || math.IsNaN(e) {
		return fmt.Sprintf("%g (fixed)", v)
	}
	return fmt.Sprintf("%g +/- %g", v, e)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
