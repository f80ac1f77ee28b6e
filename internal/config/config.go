// internal/config/config.go
//
// This package loads the analysis configuration. A configuration file holds
// one common block (the top-level groups) and an optional components mapping
// whose entries override the common block key by key. Every component sees
// defaults, then the common block, then its own overrides.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/gtpipe/internal/workspace"
)

// DefaultComponent is the key used when no components block is present.
const DefaultComponent = "00"

const componentsKey = "components"

// ErrNoSaveDir is returned when fileio.base is missing.
var ErrNoSaveDir = workspace.ErrNoSaveDir

const defaultConfigYAML = `# gtpipe analysis configuration

selection:
  evfile: ft1.lst
  scfile: ft2.fits
  ltcube: ltcube.fits
  emin: 100
  emax: 100000
  target: null
  ra: 83.633
  dec: 22.014
  radius: 15

binning:
  binsz: 0.1
  binsperdec: 8
  roi_width: 10
  proj: CAR
  coordsys: CEL

irfs:
  irfs: P8R2_SOURCE_V6
  enable_edisp: false

optimizer:
  optimizer: MINUIT
  retries: 3
  skip_pars: [Scale]

inputs:
  galdiff: null
  isodiff: null
  limbdiff: null

fileio:
  base: analysis
  scratchdir: null

roi:
  radius: 10
  sources: []

runtime:
  max_parallel: 1

verbosity: 1

# Per-component overrides, merged on top of the groups above.
# components:
#   front:
#     selection: {evtype: 1}
#   back:
#     selection: {evtype: 2}
`

// Selection configures the event selection.
type Selection struct {
	EvFile  string   `yaml:"evfile"`
	SCFile  string   `yaml:"scfile"`
	LTCube  string   `yaml:"ltcube"`
	EvClass *int     `yaml:"evclass"`
	EvType  *int     `yaml:"evtype"`
	TMin    *float64 `yaml:"tmin"`
	TMax    *float64 `yaml:"tmax"`
	EMin    float64  `yaml:"emin"`
	EMax    float64  `yaml:"emax"`
	ZMax    *float64 `yaml:"zmax"`
	Radius  *float64 `yaml:"radius"`
	Target  string   `yaml:"target"`
	RA      *float64 `yaml:"ra"`
	Dec     *float64 `yaml:"dec"`
}

// Binning configures the spatial and energy binning of the counts cube.
type Binning struct {
	BinSz      float64 `yaml:"binsz"`
	BinsPerDec float64 `yaml:"binsperdec"`
	NPix       *int    `yaml:"npix"`
	ROIWidth   float64 `yaml:"roi_width"`
	Proj       string  `yaml:"proj"`
	CoordSys   string  `yaml:"coordsys"`
	HPXOrder   int     `yaml:"hpx_order"`
}

// IRFs selects the instrument response.
type IRFs struct {
	IRFs        string `yaml:"irfs"`
	EnableEdisp bool   `yaml:"enable_edisp"`
}

// Optimizer configures the fit loop.
type Optimizer struct {
	Optimizer string   `yaml:"optimizer"`
	Retries   int      `yaml:"retries"`
	SkipPars  []string `yaml:"skip_pars"`
}

// Inputs names the diffuse templates added to every component.
type Inputs struct {
	GalDiff  string `yaml:"galdiff"`
	IsoDiff  string `yaml:"isodiff"`
	LimbDiff string `yaml:"limbdiff"`
	Sources  string `yaml:"sources"`
}

// FileIO configures where products are written.
type FileIO struct {
	Base       string `yaml:"base"`
	ScratchDir string `yaml:"scratchdir"`
	PFiles     string `yaml:"pfiles"`
}

// ParameterSpec is one spectral parameter of a configured source.
type ParameterSpec struct {
	Name  string   `yaml:"name"`
	Value float64  `yaml:"value"`
	Scale *float64 `yaml:"scale"`
	Min   *float64 `yaml:"min"`
	Max   *float64 `yaml:"max"`
	Free  bool     `yaml:"free"`
}

// SpectrumSpec is the spectral model of a configured source.
type SpectrumSpec struct {
	Type       string          `yaml:"type"`
	File       string          `yaml:"file"`
	Parameters []ParameterSpec `yaml:"parameters"`
}

// SourceSpec declares one source of the region model.
type SourceSpec struct {
	Name     string       `yaml:"name"`
	RA       float64      `yaml:"ra"`
	Dec      float64      `yaml:"dec"`
	Spectrum SpectrumSpec `yaml:"spectrum"`
}

// ROI configures the region model.
type ROI struct {
	Radius  float64      `yaml:"radius"`
	Sources []SourceSpec `yaml:"sources"`
}

// Runtime configures process-level behavior.
type Runtime struct {
	MaxParallel int      `yaml:"max_parallel"`
	ToolTimeout string   `yaml:"tool_timeout"`
	Engine      []string `yaml:"engine"`
}

// Analysis is the effective configuration of one component (or the common
// block). Values are never mutated after Load returns.
type Analysis struct {
	Selection Selection `yaml:"selection"`
	Binning   Binning   `yaml:"binning"`
	IRFs      IRFs      `yaml:"irfs"`
	Optimizer Optimizer `yaml:"optimizer"`
	Inputs    Inputs    `yaml:"inputs"`
	FileIO    FileIO    `yaml:"fileio"`
	ROI       ROI       `yaml:"roi"`
	Runtime   Runtime   `yaml:"runtime"`
	Verbosity int       `yaml:"verbosity"`
}

// Config holds the parsed configuration file.
type Config struct {
	// Path is the file the configuration was read from (empty for Parse).
	Path string

	// RootDir anchors relative paths (the save directory and inputs).
	RootDir string

	Common     Analysis
	Components map[string]Analysis

	Env Env
}

// Load reads and validates the configuration at path. Relative paths inside
// the file resolve against rootDir, or the file's directory when rootDir is
// empty.
func Load(path, rootDir string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if strings.TrimSpace(rootDir) == "" {
		rootDir = filepath.Dir(path)
	}
	cfg, err := Parse(data, rootDir)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes configuration bytes and applies environment overrides.
func Parse(data []byte, rootDir string) (*Config, error) {
	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	return parseWithEnv(data, rootDir, env)
}

func parseWithEnv(data []byte, rootDir string, env Env) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	common, components, err := splitDocument(&doc)
	if err != nil {
		return nil, err
	}

	cfg := &Config{RootDir: rootDir, Components: map[string]Analysis{}, Env: env}
	cfg.Common, err = decodeLayers(common)
	if err != nil {
		return nil, fmt.Errorf("config: common: %w", err)
	}
	cfg.Common.finish(rootDir, env)
	if err := cfg.Common.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	for key, node := range components {
		merged, err := decodeLayers(common, node)
		if err != nil {
			return nil, fmt.Errorf("config: components[%s]: %w", key, err)
		}
		merged.finish(rootDir, env)
		if err := merged.validate(); err != nil {
			return nil, fmt.Errorf("config: components[%s]: %w", key, err)
		}
		cfg.Components[key] = merged
	}
	if len(cfg.Components) == 0 {
		cfg.Components[DefaultComponent] = cfg.Common
	}
	return cfg, nil
}

// ComponentKeys returns the component keys in sorted order.
func (c *Config) ComponentKeys() []string {
	keys := make([]string, 0, len(c.Components))
	for key := range c.Components {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Component returns the effective configuration for key.
func (c *Config) Component(key string) (Analysis, bool) {
	cfg, ok := c.Components[key]
	return cfg, ok
}

// SaveDir returns the save directory the configuration points at.
func (c *Config) SaveDir() (string, error) {
	base := strings.TrimSpace(c.Common.FileIO.Base)
	if base == "" {
		return "", ErrNoSaveDir
	}
	if filepath.IsAbs(base) {
		return filepath.Clean(base), nil
	}
	return filepath.Join(c.RootDir, base), nil
}

// EnumBins is the number of logarithmic energy bins.
func (a Analysis) EnumBins() int {
	return int(math.RoundToEven(a.Binning.BinsPerDec * math.Log10(a.Selection.EMax/a.Selection.EMin)))
}

// NPix is the number of spatial pixels per side of the counts cube.
func (a Analysis) NPix() int {
	if a.Binning.NPix != nil {
		return *a.Binning.NPix
	}
	return int(math.RoundToEven(a.Binning.ROIWidth / a.Binning.BinSz))
}

// Center returns the configured region center, if any.
func (a Analysis) Center() (ra, dec float64, ok bool) {
	if a.Selection.RA == nil || a.Selection.Dec == nil {
		return 0, 0, false
	}
	return *a.Selection.RA, *a.Selection.Dec, true
}

// ToolTimeout parses runtime.tool_timeout. Zero means no limit.
func (a Analysis) ToolTimeout() (time.Duration, error) {
	raw := strings.TrimSpace(a.Runtime.ToolTimeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("runtime.tool_timeout %q is not a valid duration", raw)
	}
	return d, nil
}

// WriteDefault writes a commented starter configuration unless path exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: ensure dir: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

func defaultAnalysis() Analysis {
	return Analysis{
		Selection: Selection{EMin: 100, EMax: 100000},
		Binning: Binning{
			BinSz:      0.1,
			BinsPerDec: 8,
			ROIWidth:   10,
			Proj:       "CAR",
			CoordSys:   "CEL",
			HPXOrder:   7,
		},
		IRFs:      IRFs{IRFs: "P8R2_SOURCE_V6"},
		Optimizer: Optimizer{Optimizer: "MINUIT", Retries: 3, SkipPars: []string{"Scale"}},
		ROI:       ROI{Radius: 10},
		Runtime:   Runtime{MaxParallel: 1},
		Verbosity: 1,
	}
}

// splitDocument separates the components mapping from the common groups.
func splitDocument(doc *yaml.Node) (*yaml.Node, map[string]*yaml.Node, error) {
	common := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	components := map[string]*yaml.Node{}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return common, components, nil
	}
	root := doc
	if root.Kind == yaml.DocumentNode {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("config: top level must be a mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Value != componentsKey {
			common.Content = append(common.Content, key, value)
			continue
		}
		if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
			continue
		}
		if value.Kind != yaml.MappingNode {
			return nil, nil, fmt.Errorf("config: components must be a mapping")
		}
		for j := 0; j+1 < len(value.Content); j += 2 {
			name := strings.TrimSpace(value.Content[j].Value)
			if name == "" {
				return nil, nil, fmt.Errorf("config: component key is empty")
			}
			if _, dup := components[name]; dup {
				return nil, nil, fmt.Errorf("config: duplicate component %q", name)
			}
			components[name] = value.Content[j+1]
		}
	}
	return common, components, nil
}

// decodeLayers decodes each node on top of the defaults in order. yaml.v3
// only assigns keys present in a node, so later layers override earlier ones
// field by field. Each call starts from fresh defaults, so no pointer is
// shared between components.
func decodeLayers(layers ...*yaml.Node) (Analysis, error) {
	out := defaultAnalysis()
	for _, layer := range layers {
		if layer == nil || (layer.Kind == yaml.ScalarNode && layer.Tag == "!!null") {
			continue
		}
		if err := layer.Decode(&out); err != nil {
			return Analysis{}, err
		}
	}
	return out, nil
}

func (a *Analysis) finish(rootDir string, env Env) {
	a.Selection.EvFile = resolvePath(rootDir, a.Selection.EvFile)
	a.Selection.SCFile = resolvePath(rootDir, a.Selection.SCFile)
	a.Selection.LTCube = resolvePath(rootDir, a.Selection.LTCube)
	a.Selection.Target = strings.TrimSpace(a.Selection.Target)
	a.Inputs.GalDiff = resolvePath(rootDir, a.Inputs.GalDiff)
	a.Inputs.IsoDiff = resolvePath(rootDir, a.Inputs.IsoDiff)
	a.Inputs.LimbDiff = resolvePath(rootDir, a.Inputs.LimbDiff)
	a.Inputs.Sources = resolvePath(rootDir, a.Inputs.Sources)
	a.FileIO.Base = strings.TrimSpace(a.FileIO.Base)
	a.Optimizer.Optimizer = strings.TrimSpace(a.Optimizer.Optimizer)
	a.Binning.Proj = strings.ToUpper(strings.TrimSpace(a.Binning.Proj))
	a.Binning.CoordSys = strings.ToUpper(strings.TrimSpace(a.Binning.CoordSys))
	env.apply(a)
}

func (a Analysis) validate() error {
	if a.Selection.EMin <= 0 {
		return fmt.Errorf("selection.emin must be > 0")
	}
	if a.Selection.EMax <= a.Selection.EMin {
		return fmt.Errorf("selection.emax must be greater than selection.emin")
	}
	if a.Binning.BinSz <= 0 {
		return fmt.Errorf("binning.binsz must be > 0")
	}
	if a.Binning.BinsPerDec <= 0 {
		return fmt.Errorf("binning.binsperdec must be > 0")
	}
	if a.Binning.NPix != nil && *a.Binning.NPix <= 0 {
		return fmt.Errorf("binning.npix must be > 0")
	}
	if a.Binning.HPXOrder < 0 || a.Binning.HPXOrder > 29 {
		return fmt.Errorf("binning.hpx_order must be within [0, 29]")
	}
	if a.Optimizer.Optimizer == "" {
		return fmt.Errorf("optimizer.optimizer is required")
	}
	if a.Runtime.MaxParallel < 1 {
		return fmt.Errorf("runtime.max_parallel must be >= 1")
	}
	if _, err := a.ToolTimeout(); err != nil {
		return err
	}
	seen := map[string]struct{}{}
	for i, src := range a.ROI.Sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			return fmt.Errorf("roi.sources[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("roi.sources[%d]: duplicate source %q", i, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) || base == "" {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
