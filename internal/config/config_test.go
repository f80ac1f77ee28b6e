package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAppliesDefaultsWithoutComponents(t *testing.T) {
	cfg, err := parseWithEnv([]byte("fileio:\n  base: crab\n"), "/data", Env{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	keys := cfg.ComponentKeys()
	if len(keys) != 1 || keys[0] != DefaultComponent {
		t.Fatalf("expected single default component, got %v", keys)
	}
	comp, _ := cfg.Component(DefaultComponent)
	if comp.Optimizer.Optimizer != "MINUIT" || comp.Optimizer.Retries != 3 {
		t.Fatalf("unexpected optimizer defaults: %+v", comp.Optimizer)
	}
	if len(comp.Optimizer.SkipPars) != 1 || comp.Optimizer.SkipPars[0] != "Scale" {
		t.Fatalf("unexpected skip_pars default: %v", comp.Optimizer.SkipPars)
	}
	dir, err := cfg.SaveDir()
	if err != nil || dir != "/data/crab" {
		t.Fatalf("SaveDir = %q, %v", dir, err)
	}
}

func TestParseMergesComponentsKeyByKey(t *testing.T) {
	data := strings.TrimSpace(`
selection:
  evfile: ft1.fits
  emin: 1000
  emax: 100000
  evtype: 3
  zmax: 100
binning:
  binsperdec: 4
fileio:
  base: out
components:
  front:
    selection:
      evtype: 1
  back:
    selection:
      evtype: 2
      zmax: null
    binning:
      binsperdec: 8
`)
	cfg, err := parseWithEnv([]byte(data), "/data", Env{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.ComponentKeys(); len(got) != 2 || got[0] != "back" || got[1] != "front" {
		t.Fatalf("ComponentKeys = %v", got)
	}
	front, _ := cfg.Component("front")
	back, _ := cfg.Component("back")
	if *front.Selection.EvType != 1 || *back.Selection.EvType != 2 {
		t.Fatalf("evtype override not applied")
	}
	if *cfg.Common.Selection.EvType != 3 {
		t.Fatalf("common block mutated by component override")
	}
	if front.Selection.ZMax == nil || *front.Selection.ZMax != 100 {
		t.Fatalf("front should inherit zmax")
	}
	if back.Selection.ZMax != nil {
		t.Fatalf("back should clear zmax")
	}
	if front.Selection.EvFile != "/data/ft1.fits" || back.Selection.EMin != 1000 {
		t.Fatalf("common values not inherited: %+v", back.Selection)
	}
	if front.EnumBins() != 8 || back.EnumBins() != 16 {
		t.Fatalf("EnumBins front=%d back=%d", front.EnumBins(), back.EnumBins())
	}
}

func TestDerivedBinning(t *testing.T) {
	a := defaultAnalysis()
	a.Selection.EMin, a.Selection.EMax = 100, 316227.766
	a.Binning.BinsPerDec = 8
	if got := a.EnumBins(); got != 28 {
		t.Fatalf("EnumBins = %d, want 28", got)
	}
	a.Binning.ROIWidth, a.Binning.BinSz = 10, 0.1
	if got := a.NPix(); got != 100 {
		t.Fatalf("NPix = %d, want 100", got)
	}
	n := 64
	a.Binning.NPix = &n
	if got := a.NPix(); got != 64 {
		t.Fatalf("explicit NPix = %d", got)
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"emax":      "selection: {emin: 1000, emax: 100}",
		"binsz":     "binning: {binsz: 0}",
		"duplicate": "roi: {sources: [{name: a}, {name: a}]}",
		"timeout":   "runtime: {tool_timeout: soon}",
		"dupcomp":   "components: {a: {}, a: {}}",
	}
	for name, data := range cases {
		if _, err := parseWithEnv([]byte(data), "", Env{}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSaveDirRequiresBase(t *testing.T) {
	cfg, err := parseWithEnv([]byte("verbosity: 2\n"), "/data", Env{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := cfg.SaveDir(); !errors.Is(err, ErrNoSaveDir) {
		t.Fatalf("expected ErrNoSaveDir, got %v", err)
	}
}

func TestEnvOverridesFileValues(t *testing.T) {
	t.Setenv("GTPIPE_SCRATCHDIR", "/scratch")
	t.Setenv("GTPIPE_MAX_PARALLEL", "4")
	t.Setenv("GTPIPE_ENGINE", "python -m gtbridge")
	cfg, err := Parse([]byte("fileio: {base: out, scratchdir: /tmp}\n"), "/data")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Common.FileIO.ScratchDir != "/scratch" {
		t.Fatalf("scratchdir = %s", cfg.Common.FileIO.ScratchDir)
	}
	if cfg.Common.Runtime.MaxParallel != 4 {
		t.Fatalf("max_parallel = %d", cfg.Common.Runtime.MaxParallel)
	}
	if got := cfg.Common.Runtime.Engine; len(got) != 3 || got[0] != "python" {
		t.Fatalf("engine = %v", got)
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("GTPIPE_VERBOSITY", "loud")
	_, err := LoadEnv()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestWriteDefaultLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Fatalf("expected error when file exists")
	}
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != path || cfg.RootDir != dir {
		t.Fatalf("unexpected paths: %s %s", cfg.Path, cfg.RootDir)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}
}
