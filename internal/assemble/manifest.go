// Package assemble merges per-source map fragments into one source-map file
// per analysis component, re-grading HEALPix maps to a common order.
package assemble

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownComponent is returned when a manifest has no entry for a key.
var ErrUnknownComponent = errors.New("assemble: unknown component")

// Manifest maps a component key (e.g. E0_PSF3) to its inputs.
type Manifest map[string]ComponentInfo

// ComponentInfo names the counts cube, the merged output and the fragments.
type ComponentInfo struct {
	CCube      string                `yaml:"ccube"`
	OutSrcMap  string                `yaml:"outsrcmap"`
	SourceDict map[string]SourceInfo `yaml:"source_dict"`
}

// SourceInfo lists the extensions to take from one fragment file.
type SourceInfo struct {
	SourceNames []string `yaml:"source_names"`
	SrcMapFile  string   `yaml:"srcmap_file"`
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("assemble: read manifest: %w", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("assemble: parse manifest %s: %w", path, err)
	}
	if manifest == nil {
		manifest = Manifest{}
	}
	return manifest, nil
}

// Keys returns the component keys in sorted order.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Component returns the entry for key.
func (m Manifest) Component(key string) (ComponentInfo, error) {
	info, ok := m[key]
	if !ok {
		return ComponentInfo{}, fmt.Errorf("%w: %s", ErrUnknownComponent, key)
	}
	if err := info.Validate(); err != nil {
		return ComponentInfo{}, fmt.Errorf("assemble: component %s: %w", key, err)
	}
	return info, nil
}

// Validate checks the required paths.
func (c ComponentInfo) Validate() error {
	if strings.TrimSpace(c.CCube) == "" {
		return fmt.Errorf("ccube is required")
	}
	if strings.TrimSpace(c.OutSrcMap) == "" {
		return fmt.Errorf("outsrcmap is required")
	}
	return nil
}

// SubModels returns the source_dict keys in sorted order.
func (c ComponentInfo) SubModels() []string {
	keys := make([]string, 0, len(c.SourceDict))
	for key := range c.SourceDict {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// JobConfig is one assemble-model invocation for an external dispatcher.
type JobConfig struct {
	Input    string `yaml:"input"`
	CompName string `yaml:"compname"`
	LogFile  string `yaml:"logfile"`
}

// ManifestPath returns the manifest location of a model.
func ManifestPath(model string) string {
	return filepath.Join("analysis", "model_"+model, "srcmap_manifest_"+model+".yaml")
}

// MergedPath returns the merged source-map file of a model component.
func MergedPath(model, component string) string {
	return filepath.Join("analysis", "model_"+model, fmt.Sprintf("srcmaps_%s_%s.fits", model, component))
}

// BuildJobConfigs returns one job per (model, component), keyed
// "<model>_<component>".
func BuildJobConfigs(models, components []string) map[string]JobConfig {
	jobs := make(map[string]JobConfig, len(models)*len(components))
	for _, model := range models {
		manifest := ManifestPath(model)
		for _, comp := range components {
			logfile := strings.TrimSuffix(MergedPath(model, comp), ".fits") + ".log"
			jobs[model+"_"+comp] = JobConfig{
				Input:    manifest,
				CompName: comp,
				LogFile:  logfile,
			}
		}
	}
	return jobs
}

// WriteJobConfigs stores jobs as YAML.
func WriteJobConfigs(path string, jobs map[string]JobConfig) error {
	data, err := yaml.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("assemble: encode jobs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("assemble: create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("assemble: write jobs: %w", err)
	}
	return nil
}
