package main

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kingrea/gtpipe/internal/analysis"
	"github.com/kingrea/gtpipe/internal/likelihood"
)

func TestInitWritesConfigOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crab", "config.yaml")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"init", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "optimizer: MINUIT") {
		t.Fatalf("unexpected starter config:\n%s", data)
	}

	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"init", "--config", path})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("second init should refuse to overwrite")
	}
}

func TestEngineCommandPrefersFlag(t *testing.T) {
	configured := []string{"python", "-m", "engine"}
	if got := engineCommand("", configured); !reflect.DeepEqual(got, configured) {
		t.Fatalf("engineCommand = %v", got)
	}
	if got := engineCommand("  gtlike-engine --stdio ", configured); !reflect.DeepEqual(got, []string{"gtlike-engine", "--stdio"}) {
		t.Fatalf("engineCommand = %v", got)
	}
}

type recordingFreer struct {
	calls []string
	err   error
}

func (r *recordingFreer) FreeSource(name string, free bool, skipPars []string) error {
	if free {
		r.calls = append(r.calls, "free:"+name)
	} else {
		r.calls = append(r.calls, "fix:"+name)
	}
	if len(skipPars) != 0 {
		return errors.New("fix must not skip parameters")
	}
	return r.err
}

func (r *recordingFreer) FreeNorm(name string, _ bool) error {
	r.calls = append(r.calls, "norm:"+name)
	return r.err
}

func (r *recordingFreer) FreeIndex(name string, _ bool) error {
	r.calls = append(r.calls, "index:"+name)
	return r.err
}

func TestApplyFreeFlagsFixesFirst(t *testing.T) {
	f := &recordingFreer{}
	fo := &fitOptions{
		free:      []string{"Crab"},
		freeNorm:  []string{"galdiff"},
		freeIndex: []string{"Crab"},
		fix:       []string{"Crab", "isodiff"},
	}
	if err := applyFreeFlags(f, fo); err != nil {
		t.Fatalf("applyFreeFlags: %v", err)
	}
	want := []string{"fix:Crab", "fix:isodiff", "free:Crab", "norm:galdiff", "index:Crab"}
	if !reflect.DeepEqual(f.calls, want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
}

func TestApplyFreeFlagsStopsOnError(t *testing.T) {
	f := &recordingFreer{err: analysis.ErrUnknownSource}
	err := applyFreeFlags(f, &fitOptions{free: []string{"nope", "other"}})
	if !errors.Is(err, analysis.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("calls = %v", f.calls)
	}
}

func TestPrintResults(t *testing.T) {
	doc := `
Crab:
  name: PowerLaw
  Prefactor: 3.1e-09
  Prefactor_err: 1.0e-10
  Index: 2.2
  Index_err: 0.05
  Scale: 1000
  Scale_err: .nan
template:
  name: FileFunction
  file: spec.txt
  Normalization: 1.0
  Normalization_err: 0.1
`
	var out bytes.Buffer
	if err := printResults(&out, []byte(doc)); err != nil {
		t.Fatalf("printResults: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Crab", "PowerLaw", "Index = 2.2 +/- 0.05", "Scale = 1000 (fixed)", "file = spec.txt"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "Crab") > strings.Index(got, "template") {
		t.Fatalf("sources should be sorted:\n%s", got)
	}
	if strings.Contains(got, "_err") {
		t.Fatalf("error keys should be folded into their parameter:\n%s", got)
	}
}

func TestPrintResultsRejectsGarbage(t *testing.T) {
	if err := printResults(&bytes.Buffer{}, []byte("- just\n- a list\n")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestFormatEstimate(t *testing.T) {
	if got := formatEstimate(2.0, math.NaN()); got != "2 (fixed)" {
		t.Fatalf("formatEstimate = %q", got)
	}
	if got := formatEstimate("x", nil); got != "x" {
		t.Fatalf("formatEstimate = %q", got)
	}
}

func TestPrintOutcome(t *testing.T) {
	var out bytes.Buffer
	printOutcome(&out, analysis.FitOutcome{Attempts: 3, Quality: 3, Converged: true})
	if !strings.Contains(out.String(), "Fit converged after 3 attempt(s), quality 3") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	printOutcome(&out, analysis.FitOutcome{Attempts: 2, Restored: true, Cause: likelihood.ErrFailedToConverge})
	if !strings.Contains(out.String(), "failed to converge") || !strings.Contains(out.String(), "restored") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	printOutcome(&out, analysis.FitOutcome{Skipped: true})
	if !strings.Contains(out.String(), "no free parameters") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
