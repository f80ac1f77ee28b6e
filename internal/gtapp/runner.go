package gtapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrToolFailed wraps every non-zero tool exit.
var ErrToolFailed = errors.New("gtapp: tool failed")

// Runner executes one science tool to completion.
type Runner interface {
	Run(ctx context.Context, tool string, params Params) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, tool string, params Params) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, tool string, params Params) error {
	return f(ctx, tool, params)
}

// Exec runs tools as child processes. The parameter-file search path is
// passed to each child through its own environment; the parent process
// environment is never modified.
type Exec struct {
	// PFiles is the PFILES value given to every tool.
	PFiles string
	// Dir is the working directory of the tool (usually the work dir).
	Dir string
	// Timeout bounds each invocation; zero means no limit.
	Timeout time.Duration
	// Output receives the combined tool output when set.
	Output io.Writer
	// Lookup resolves the tool executable (defaults to exec.LookPath).
	Lookup func(string) (string, error)
}

// Run invokes tool with params and waits for it to exit.
func (e *Exec) Run(ctx context.Context, tool string, params Params) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lookup := e.Lookup
	if lookup == nil {
		lookup = exec.LookPath
	}
	bin, err := lookup(tool)
	if err != nil {
		return fmt.Errorf("gtapp: locate %s: %w", tool, err)
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, bin, params.Args()...)
	cmd.Dir = e.Dir
	cmd.Env = Environ(os.Environ(), e.PFiles)
	var tail bytes.Buffer
	if e.Output != nil {
		cmd.Stdout = io.MultiWriter(e.Output, &tail)
		cmd.Stderr = io.MultiWriter(e.Output, &tail)
	} else {
		cmd.Stdout = &tail
		cmd.Stderr = &tail
	}
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("gtapp: %s: %w", tool, ctxErr)
		}
		return fmt.Errorf("%w: %s: %v: %s", ErrToolFailed, tool, err, lastLine(tail.String()))
	}
	return nil
}

// Environ returns base with PFILES replaced by pfiles (or left untouched when
// pfiles is empty).
func Environ(base []string, pfiles string) []string {
	if pfiles == "" {
		return append([]string(nil), base...)
	}
	out := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if strings.HasPrefix(kv, "PFILES=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "PFILES="+pfiles)
}

func lastLine(output string) string {
	trimmed := strings.TrimSpace(output)
	if idx := strings.LastIndexByte(trimmed, '\n'); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
