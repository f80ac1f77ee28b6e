// Package analysis runs a multi-component binned likelihood analysis: it
// prepares each component's products with the science tools, combines the
// component likelihoods and drives the quality-gated fit loop.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/gtpipe/internal/artifact"
	"github.com/kingrea/gtpipe/internal/config"
	"github.com/kingrea/gtpipe/internal/gtapp"
	"github.com/kingrea/gtpipe/internal/likelihood"
	"github.com/kingrea/gtpipe/internal/logging"
	"github.com/kingrea/gtpipe/internal/metrics"
	"github.com/kingrea/gtpipe/internal/roi"
	"github.com/kingrea/gtpipe/internal/stage"
	"github.com/kingrea/gtpipe/internal/workspace"
)

var (
	// ErrUnknownSource is returned when a name does not resolve in the region.
	ErrUnknownSource = errors.New("analysis: unknown source")
	// ErrNotSetup is returned by operations that need the combined likelihood.
	ErrNotSetup = errors.New("analysis: setup has not run")
	// ErrNoBackend is returned by Setup when no likelihood engine is bound.
	ErrNoBackend = errors.New("analysis: no likelihood backend")
	// ErrNoIndex is returned by FreeIndex for spectra without an index.
	ErrNoIndex = errors.New("analysis: spectrum has no index parameter")
)

// indexParams are the spectral index names tried by FreeIndex, in order.
var indexParams = []string{"Index", "Index1", "alpha"}

// FitOutcome reports how Fit ended.
type FitOutcome struct {
	Attempts  int
	Quality   int
	LogLike   float64
	Skipped   bool
	Converged bool
	Restored  bool
	Cause     error
}

// Coordinator owns the components of one analysis and their combined
// likelihood.
type Coordinator struct {
	cfg        *config.Config
	common     config.Analysis
	ws         *workspace.Workspace
	log        *logging.Logger
	ownsLog    bool
	region     *roi.Region
	components []*Component
	backend    likelihood.Backend
	runner     gtapp.Runner
	observer   stage.Observer
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	like       likelihood.Summed
	runID      string
}

// Option customizes a Coordinator during construction.
type Option func(*Coordinator)

// WithBackend binds the likelihood engine.
func WithBackend(b likelihood.Backend) Option {
	return func(c *Coordinator) {
		c.backend = b
	}
}

// WithRunner overrides the science-tool runner.
func WithRunner(r gtapp.Runner) Option {
	return func(c *Coordinator) {
		c.runner = r
	}
}

// WithLogger overrides the run log (default <savedir>/<base>.log).
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// WithMetrics sets the metrics sink. It also observes stage runs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithObserver receives stage transitions.
func WithObserver(o stage.Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithTracer overrides the tracer (defaults to the global provider).
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// New prepares the save and work directories, the base region and one
// component per configured key in sorted order.
func New(cfg *config.Config, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("analysis: config is required")
	}
	common := cfg.Common
	ws, err := workspace.New(cfg.RootDir, common.FileIO.Base, common.FileIO.ScratchDir, cfg.Env.User)
	if err != nil {
		if errors.Is(err, workspace.ErrNoSaveDir) {
			return nil, config.ErrNoSaveDir
		}
		return nil, fmt.Errorf("analysis: %w", err)
	}
	c := &Coordinator{cfg: cfg, common: common, ws: ws, runID: uuid.NewString()}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/kingrea/gtpipe/internal/analysis")
	}
	if c.log == nil {
		logPath := ws.Path(filepath.Base(common.FileIO.Base) + ".log")
		c.log, err = logging.New(logPath, logging.WithLevel(logging.LevelFromVerbosity(common.Verbosity)))
		if err != nil {
			return nil, fmt.Errorf("analysis: %w", err)
		}
		c.ownsLog = true
	}
	if c.runner == nil {
		timeout, err := common.ToolTimeout()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("analysis: %w", err)
		}
		c.runner = &gtapp.Exec{
			PFiles:  ws.PFiles(cfg.Env.ParameterFiles(common.FileIO.PFiles)),
			Dir:     ws.WorkDir(),
			Timeout: timeout,
		}
	}
	c.log.Info("Run %s: save dir %s, work dir %s", c.runID, ws.SaveDir(), ws.WorkDir())
	if err := c.build(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) build() error {
	var err error
	c.region, err = BuildRegion(c.common)
	if err != nil {
		return err
	}
	store := artifact.NewStore(c.ws)
	observer := stage.Observers(c.observer, c.metricsObserver())
	for _, key := range c.cfg.ComponentKeys() {
		ccfg, _ := c.cfg.Component(key)
		region, err := c.region.With(ComponentOverlay(ccfg))
		if err != nil {
			return fmt.Errorf("analysis: component %s: %w", key, err)
		}
		c.log.Info("Creating Analysis Component: %s", key)
		env := &stage.Env{
			Component: key,
			Suffix:    "_" + key,
			Workspace: c.ws,
			Artifacts: store,
			Runner:    c.runner,
			Log:       c.log.With(key),
			Observer:  observer,
		}
		c.components = append(c.components, newComponent(key, ccfg, region, env, c.backend))
	}
	return nil
}

func (c *Coordinator) metricsObserver() stage.Observer {
	if c.metrics == nil {
		return nil
	}
	return c.metrics
}

// RunID identifies this coordinator in logs.
func (c *Coordinator) RunID() string {
	return c.runID
}

// Workspace returns the save/work directory pair.
func (c *Coordinator) Workspace() *workspace.Workspace {
	return c.ws
}

// Region returns the base region.
func (c *Coordinator) Region() *roi.Region {
	return c.region
}

// Components returns the components in key order.
func (c *Coordinator) Components() []*Component {
	return append([]*Component(nil), c.components...)
}

// Log returns the run log.
func (c *Coordinator) Log() *logging.Logger {
	return c.log
}

// Like returns the combined likelihood (nil before Setup).
func (c *Coordinator) Like() likelihood.Summed {
	return c.like
}

// Close releases the run log and removes a scratch work directory.
func (c *Coordinator) Close() error {
	err := c.ws.Cleanup()
	if c.ownsLog {
		if cerr := c.log.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Setup runs every component's setup (concurrently up to
// runtime.max_parallel) and then adds their handles to the combined
// likelihood in key order.
func (c *Coordinator) Setup(ctx context.Context) (err error) {
	ctx, span := c.tracer.Start(ctx, "analysis.setup", trace.WithAttributes(
		attribute.String("run_id", c.runID),
		attribute.Int("components", len(c.components)),
	))
	defer func() { endSpan(span, err) }()

	if c.backend == nil {
		return ErrNoBackend
	}
	summed, err := c.backend.NewSummed(ctx, c.common.Optimizer.Optimizer)
	if err != nil {
		return fmt.Errorf("analysis: create summed likelihood: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.common.Runtime.MaxParallel))
	for _, comp := range c.components {
		g.Go(func() error {
			c.log.Info("Performing setup for Analysis Component: %s", comp.Name())
			cctx, cspan := c.tracer.Start(gctx, "analysis.component.setup",
				trace.WithAttributes(attribute.String("component", comp.Name())))
			err := comp.Setup(cctx)
			endSpan(cspan, err)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, comp := range c.components {
		if err := summed.AddComponent(comp.Handle()); err != nil {
			return fmt.Errorf("analysis: add component %s: %w", comp.Name(), err)
		}
	}
	c.like = summed
	return nil
}

// GenerateModel runs gtmodel for every component.
func (c *Coordinator) GenerateModel(ctx context.Context, modelName string) error {
	for _, comp := range c.components {
		if err := comp.GenerateModel(ctx, "", modelName); err != nil {
			return err
		}
	}
	return nil
}

// WriteXML writes the fitted model of every component.
func (c *Coordinator) WriteXML(name string) error {
	for _, comp := range c.components {
		if err := comp.WriteXML(name); err != nil {
			return err
		}
	}
	return nil
}

// resolveSource maps name to the region's spelling. The diffuse names
// bypass the region.
func (c *Coordinator) resolveSource(name string) (string, error) {
	if c.like == nil {
		return "", ErrNotSetup
	}
	if roi.IsDiffuse(name) {
		return name, nil
	}
	src, ok := c.region.Source(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return src.Name, nil
}

// FreeSource frees or fixes every spectral parameter of a source except
// those listed in skipPars (nil means optimizer.skip_pars).
func (c *Coordinator) FreeSource(name string, free bool, skipPars []string) error {
	resolved, err := c.resolveSource(name)
	if err != nil {
		return err
	}
	if skipPars == nil {
		skipPars = c.common.Optimizer.SkipPars
	}
	skip := make(map[string]bool, len(skipPars))
	for _, p := range skipPars {
		skip[p] = true
	}
	spectrum, err := c.like.Spectrum(resolved)
	if err != nil {
		return fmt.Errorf("analysis: spectrum of %s: %w", resolved, err)
	}
	for _, par := range spectrum.ParamNames() {
		if skip[par] {
			continue
		}
		if err := c.setFree(resolved, par, free); err != nil {
			return err
		}
	}
	return c.sync(resolved)
}

// FreeNorm frees or fixes the normalization parameter of a source.
func (c *Coordinator) FreeNorm(name string, free bool) error {
	resolved, err := c.resolveSource(name)
	if err != nil {
		return err
	}
	norm, err := c.like.NormParam(resolved)
	if err != nil {
		return fmt.Errorf("analysis: normalization of %s: %w", resolved, err)
	}
	if err := c.setFree(resolved, norm, free); err != nil {
		return err
	}
	return c.sync(resolved)
}

// FreeIndex frees or fixes the spectral index (Index, Index1 or alpha).
func (c *Coordinator) FreeIndex(name string, free bool) error {
	resolved, err := c.resolveSource(name)
	if err != nil {
		return err
	}
	spectrum, err := c.like.Spectrum(resolved)
	if err != nil {
		return fmt.Errorf("analysis: spectrum of %s: %w", resolved, err)
	}
	names := spectrum.ParamNames()
	for _, candidate := range indexParams {
		for _, par := range names {
			if par != candidate {
				continue
			}
			if err := c.setFree(resolved, par, free); err != nil {
				return err
			}
			return c.sync(resolved)
		}
	}
	return fmt.Errorf("%w: %s (%s)", ErrNoIndex, resolved, spectrum.Name)
}

func (c *Coordinator) setFree(source, par string, free bool) error {
	idx, err := c.like.ParamIndex(source, par)
	if err != nil {
		return fmt.Errorf("analysis: %s.%s: %w", source, par, err)
	}
	if err := c.like.SetFree(idx, free); err != nil {
		return fmt.Errorf("analysis: %s.%s: %w", source, par, err)
	}
	return nil
}

func (c *Coordinator) sync(source string) error {
	if err := c.like.SyncSourceParams(source); err != nil {
		return fmt.Errorf("analysis: sync %s: %w", source, err)
	}
	return nil
}

// Fit runs the optimizer up to optimizer.retries times. A quality-gated
// optimizer stops once the quality exceeds likelihood.QualityThreshold; any
// other optimizer stops after its first attempt. When the loop fails (an
// attempt errors or the retries run out) the parameters are restored to
// their pre-fit values and the cause is reported in the outcome. The error
// is non-nil only when the fit could not start or the restore failed.
// Cancelling ctx during a fit on the bridge engine closes the engine, so the
// restore then fails with bridge.ErrClosed and Fit returns that error; the
// coordinator cannot be fitted again and must be rebuilt.
func (c *Coordinator) Fit(ctx context.Context) (outcome FitOutcome, err error) {
	ctx, span := c.tracer.Start(ctx, "analysis.fit", trace.WithAttributes(
		attribute.String("run_id", c.runID),
		attribute.String("optimizer", c.common.Optimizer.Optimizer),
		attribute.Int("retries", c.common.Optimizer.Retries),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("attempts", outcome.Attempts),
			attribute.Int("quality", outcome.Quality),
			attribute.Bool("converged", outcome.Converged),
		)
		endSpan(span, err)
	}()

	if c.like == nil {
		return outcome, ErrNotSetup
	}
	nfree, err := c.like.NumFreeParams()
	if err != nil {
		return outcome, fmt.Errorf("analysis: count free parameters: %w", err)
	}
	if nfree == 0 {
		c.log.Info("Skipping fit. No free parameters.")
		c.metrics.ObserveFitOutcome(metrics.OutcomeSkipped, 0)
		outcome.Skipped = true
		return outcome, nil
	}
	saved, err := likelihood.Snapshot(c.like)
	if err != nil {
		return outcome, fmt.Errorf("analysis: snapshot: %w", err)
	}

	cause := c.runAttempts(ctx, &outcome)
	if cause == nil {
		outcome.Converged = true
		c.metrics.ObserveFitOutcome(metrics.OutcomeConverged, outcome.Quality)
		return outcome, nil
	}
	c.log.Error("%v", cause)
	outcome.Cause = cause
	if err := saved.Restore(c.like); err != nil {
		return outcome, fmt.Errorf("analysis: restore fit state: %w", err)
	}
	outcome.Restored = true
	c.metrics.ObserveFitOutcome(metrics.OutcomeRestored, outcome.Quality)
	return outcome, nil
}

func (c *Coordinator) runAttempts(ctx context.Context, outcome *FitOutcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis: optimizer panic: %v", r)
		}
	}()
	name := c.common.Optimizer.Optimizer
	for outcome.Attempts < c.common.Optimizer.Retries {
		opt := likelihood.NewOptimizer(name)
		c.log.Info("Fit iteration: %d", outcome.Attempts)
		outcome.Attempts++
		attempt, err := c.like.Fit(ctx, opt, true)
		c.metrics.ObserveFitAttempt(opt.Name, attempt.Quality, err)
		if err != nil {
			return err
		}
		outcome.Quality, outcome.LogLike = attempt.Quality, attempt.LogLike
		if opt.Accepts(attempt.Quality) {
			return nil
		}
	}
	return fmt.Errorf("%w with %s", likelihood.ErrFailedToConverge, name)
}

// ROIDict returns the fitted spectrum of every source.
func (c *Coordinator) ROIDict() (map[string]likelihood.SourceResults, error) {
	if c.like == nil {
		return nil, ErrNotSetup
	}
	out, err := likelihood.Results(c.like)
	if err != nil {
		return nil, fmt.Errorf("analysis: collect results: %w", err)
	}
	return out, nil
}

// ResultsPath resolves the results file: "" is <savedir>/results.yaml, a
// name without extension is <savedir>/<name>.yaml, anything else is used
// verbatim.
func (c *Coordinator) ResultsPath(outfile string) string {
	if strings.TrimSpace(outfile) == "" {
		return artifact.Results.Path(c.ws, "")
	}
	if filepath.Ext(outfile) == "" {
		return filepath.Join(c.ws.SaveDir(), outfile+workspace.ResultsExt)
	}
	return outfile
}

// WriteResults stores ROIDict as YAML and returns the path written.
func (c *Coordinator) WriteResults(outfile string) (string, error) {
	results, err := c.ROIDict()
	if err != nil {
		return "", err
	}
	path := c.ResultsPath(outfile)
	data, err := yaml.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("analysis: encode results: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("analysis: create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("analysis: write results: %w", err)
	}
	c.log.Info("Wrote results to %s", path)
	return path, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
