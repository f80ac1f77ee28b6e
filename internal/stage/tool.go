package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/kingrea/gtpipe/internal/artifact"
	"github.com/kingrea/gtpipe/internal/gtapp"
)

// Tool is a stage backed by one science-tool invocation producing a single
// product. The product is considered built when it exists and its marker
// fingerprint (if any) matches the current parameters and inputs.
type Tool struct {
	Base
	output artifact.Ref
	params func() gtapp.Params
	inputs []string
}

// NewTool builds a tool stage. info.ID is the executable name.
func NewTool(info Info, output artifact.Ref, params func() gtapp.Params) *Tool {
	base := NewBase(info)
	base.SetOutputs(output)
	return &Tool{Base: base, output: output, params: params}
}

// WithInputs adds files whose content is part of the fingerprint, so that
// rewriting one (a refitted model, say) rebuilds the output.
func (t *Tool) WithInputs(paths ...string) *Tool {
	t.inputs = append(t.inputs, paths...)
	return t
}

// Params returns the current filtered parameter set.
func (t *Tool) Params() gtapp.Params {
	if t.params == nil {
		return nil
	}
	return t.params().Filtered()
}

// Fingerprint identifies the tool version, parameter set and input contents.
func (t *Tool) Fingerprint() string {
	info := t.Info()
	params := t.Params()
	for _, path := range t.inputs {
		params = append(params, gtapp.Param{Key: "@" + path, Value: digest(path)})
	}
	return params.Fingerprint(info.ID + "@" + info.Version)
}

// digest hashes a file's content; unreadable files hash to "".
func digest(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsComplete reports whether the output is already built.
func (t *Tool) IsComplete(env *Env) (bool, error) {
	res, err := env.Artifacts.Check(t.output, env.Suffix, t.Fingerprint())
	if err != nil {
		return false, err
	}
	return res.State == artifact.StateReady, nil
}

// Run invokes the tool unless its output is already built. A stale output is
// removed before the tool reruns.
func (t *Tool) Run(ctx context.Context, env *Env) (Result, error) {
	info := t.Info()
	params := t.Params()
	fingerprint := t.Fingerprint()
	res, err := env.Artifacts.Check(t.output, env.Suffix, fingerprint)
	if err != nil {
		return Result{Status: StatusFailed}, fmt.Errorf("stage: %s: %w", info.ID, err)
	}
	switch res.State {
	case artifact.StateReady:
		env.Log.Info("Skipping %s", info.ID)
		return Result{Status: StatusSkipped, Message: res.Path}, nil
	case artifact.StateStale:
		env.Log.Warn("%s was built with different parameters; rebuilding", res.Path)
		if err := env.Artifacts.Invalidate(t.output, env.Suffix); err != nil {
			return Result{Status: StatusFailed}, fmt.Errorf("stage: %s: %w", info.ID, err)
		}
	}

	env.Log.Info("Running %s %s", info.ID, params)
	if err := env.Runner.Run(ctx, info.ID, params); err != nil {
		return Result{Status: StatusFailed}, fmt.Errorf("stage: %s: %w", info.ID, err)
	}
	meta := artifact.Metadata{
		StageID:     info.ID,
		Version:     info.Version,
		Component:   env.Component,
		Inputs:      append([]string(nil), t.inputs...),
		Fingerprint: fingerprint,
	}
	if err := env.Artifacts.MarkBuilt(t.output, env.Suffix, meta); err != nil {
		return Result{Status: StatusFailed}, fmt.Errorf("stage: %s: %w", info.ID, err)
	}
	return Result{Status: StatusCompleted, Message: res.Path}, nil
}
