package stage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pipeline holds stages in strict execution order.
type Pipeline struct {
	mu     sync.RWMutex
	stages []Stage
	ids    map[string]struct{}
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{ids: map[string]struct{}{}}
}

// Register appends a stage. Returns an error if the ID already exists.
func (p *Pipeline) Register(s Stage) error {
	if s == nil {
		return fmt.Errorf("stage: stage is required")
	}
	info := s.Info()
	if err := info.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.ids[info.ID]; exists {
		return fmt.Errorf("stage: %s already registered", info.ID)
	}
	p.ids[info.ID] = struct{}{}
	p.stages = append(p.stages, s)
	return nil
}

// MustRegister panics if registration fails.
func (p *Pipeline) MustRegister(s Stage) {
	if err := p.Register(s); err != nil {
		panic(err)
	}
}

// IDs returns the stage identifiers in execution order.
func (p *Pipeline) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		ids = append(ids, s.Info().ID)
	}
	return ids
}

// Run executes every stage in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context, env *Env) ([]Result, error) {
	p.mu.RLock()
	stages := append([]Stage(nil), p.stages...)
	p.mu.RUnlock()
	results := make([]Result, 0, len(stages))
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := Execute(ctx, env, s)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Execute runs a single stage and reports it to env.Observer.
func Execute(ctx context.Context, env *Env, s Stage) (Result, error) {
	if err := env.Validate(); err != nil {
		return Result{Status: StatusFailed}, err
	}
	ev := Event{Component: env.Component, Stage: s.Info()}
	if env.Observer != nil {
		env.Observer.StageStarted(ev)
	}
	start := time.Now()
	res, err := s.Run(ctx, env)
	if err != nil && res.Status == "" {
		res.Status = StatusFailed
	}
	ev.Result, ev.Err, ev.Elapsed = res, err, time.Since(start)
	if env.Observer != nil {
		env.Observer.StageFinished(ev)
	}
	return res, err
}
