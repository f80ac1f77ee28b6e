package assemble

import (
	"context"
	"errors"
	"fmt"

	"github.com/astrogo/fitsio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/gtpipe/internal/fitsfile"
	"github.com/kingrea/gtpipe/internal/logging"
	"github.com/kingrea/gtpipe/internal/metrics"
)

// SkyMapExt is the extension name of a re-graded counts cube.
const SkyMapExt = "SKYMAP"

// DefaultOrder is the HEALPix order used when none is configured.
const DefaultOrder = 7

// Assembler builds merged source-map files. It holds no per-run state.
type Assembler struct {
	log     *logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option customizes an Assembler during construction.
type Option func(*Assembler)

// WithLogger sets the progress logger.
func WithLogger(log *logging.Logger) Option {
	return func(a *Assembler) {
		a.log = log
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// WithTracer overrides the tracer (defaults to the global provider).
func WithTracer(t trace.Tracer) Option {
	return func(a *Assembler) {
		a.tracer = t
	}
}

// New builds an Assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{}
	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer("github.com/kingrea/gtpipe/internal/assemble")
	}
	return a
}

// CopyCCube copies the counts cube src to dst. When the stored order of
// extension 1 exceeds targetOrder, that extension is re-graded (counts
// preserved), renamed SKYMAP and the file rewritten; the result is
// (targetOrder, true). Otherwise the file is copied as is and (0, false) is
// returned, meaning fragments are appended without re-grading.
func (a *Assembler) CopyCCube(src, dst string, targetOrder int) (int, bool, error) {
	a.log.Info("Copying counts cube from %s to %s", src, dst)
	r, err := fitsfile.Open(src)
	if err != nil {
		return 0, false, fmt.Errorf("assemble: counts cube: %w", err)
	}
	defer r.Close()
	ext, err := r.HDU(1)
	if err != nil {
		return 0, false, fmt.Errorf("assemble: counts cube: %w", err)
	}
	order, err := fitsfile.Order(ext)
	if err != nil {
		return 0, false, fmt.Errorf("assemble: counts cube: %w", err)
	}
	if order <= targetOrder {
		if err := fitsfile.CopyFile(src, dst); err != nil {
			return 0, false, fmt.Errorf("assemble: copy counts cube: %w", err)
		}
		return 0, false, nil
	}

	m, err := fitsfile.ReadMap(ext)
	if err != nil {
		return 0, false, fmt.Errorf("assemble: counts cube: %w", err)
	}
	regraded, err := m.Regrade(targetOrder, true)
	if err != nil {
		return 0, false, fmt.Errorf("assemble: re-grade counts cube: %w", err)
	}
	primary, err := r.HDU(0)
	if err != nil {
		return 0, false, fmt.Errorf("assemble: counts cube: %w", err)
	}
	w := fitsfile.NewWriter(dst)
	if err := w.SetPrimary(primary); err != nil {
		return 0, false, fmt.Errorf("assemble: counts cube: %w", err)
	}
	if err := w.AppendMap(SkyMapExt, regraded, ext); err != nil {
		return 0, false, fmt.Errorf("assemble: counts cube: %w", err)
	}
	for _, hdu := range r.HDUs()[2:] {
		if err := w.Append(hdu); err != nil {
			return 0, false, fmt.Errorf("assemble: counts cube: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return 0, false, fmt.Errorf("assemble: counts cube: %w", err)
	}
	a.metrics.IncrementHDU(metrics.HDURegraded)
	return targetOrder, true, nil
}

// AppendHDUs copies the named extensions of fragmentPath into out and
// flushes it. A missing fragment is logged and leaves out untouched; a
// missing extension is logged and skipped, as is a name out already holds.
// Image extensions are stored under their source name; with regrade each
// map is first re-graded to order (counts preserved).
func (a *Assembler) AppendHDUs(out *fitsfile.Writer, fragmentPath string, sourceNames []string, order int, regrade bool) error {
	a.log.Info("Extracting %d sources from %s", len(sourceNames), fragmentPath)
	r, err := fitsfile.Open(fragmentPath)
	if err != nil {
		if errors.Is(err, fitsfile.ErrNotFound) {
			a.log.Warn("Missing file %s", fragmentPath)
			a.metrics.IncrementMissing("file")
			return nil
		}
		return fmt.Errorf("assemble: fragment: %w", err)
	}
	// Non-image extensions stay bound to r until out is closed.
	out.Keep(r)

	for _, name := range sourceNames {
		if out.Has(name) {
			a.log.Warn("Duplicate extension %s in file %s, keeping the first", name, fragmentPath)
			a.metrics.IncrementMissing("duplicate")
			continue
		}
		hdu, ok := r.Lookup(name)
		if !ok {
			a.log.Warn("Missing extension %s in file %s", name, fragmentPath)
			a.metrics.IncrementMissing("extension")
			continue
		}
		if !regrade {
			if hdu.Type() == fitsio.IMAGE_HDU {
				err = out.AppendAs(hdu, name)
			} else {
				err = out.Append(hdu)
			}
			if err != nil {
				return fmt.Errorf("assemble: append %s: %w", name, err)
			}
			a.metrics.IncrementHDU(metrics.HDUCopied)
			continue
		}
		m, err := fitsfile.ReadMap(hdu)
		if err != nil {
			a.log.Warn("Unreadable map %s in file %s: %v", name, fragmentPath, err)
			a.metrics.IncrementMissing("extension")
			continue
		}
		regraded, err := m.Regrade(order, true)
		if err != nil {
			return fmt.Errorf("assemble: re-grade %s: %w", name, err)
		}
		if err := out.AppendMap(name, regraded, hdu); err != nil {
			return fmt.Errorf("assemble: append %s: %w", name, err)
		}
		a.metrics.IncrementHDU(metrics.HDURegraded)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("assemble: flush: %w", err)
	}
	return nil
}

// AssembleComponent builds the merged source-map file of one component.
// Fragments are appended in sorted sub-model order.
func (a *Assembler) AssembleComponent(ctx context.Context, name string, info ComponentInfo, maxOrder int) (err error) {
	ctx, span := a.tracer.Start(ctx, "assemble.component", trace.WithAttributes(
		attribute.String("component", name),
		attribute.Int("hpx_order", maxOrder),
	))
	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		a.metrics.IncrementComponent(status)
		span.End()
	}()

	if err := info.Validate(); err != nil {
		return fmt.Errorf("assemble: component %s: %w", name, err)
	}
	a.log.Info("Working on component %s", name)
	order, regrade, err := a.CopyCCube(info.CCube, info.OutSrcMap, maxOrder)
	if err != nil {
		return err
	}
	out, err := fitsfile.OpenWriter(info.OutSrcMap)
	if err != nil {
		return fmt.Errorf("assemble: open output: %w", err)
	}
	defer out.Close()

	for _, key := range info.SubModels() {
		if err := ctx.Err(); err != nil {
			return err
		}
		source := info.SourceDict[key]
		if err := a.AppendHDUs(out, source.SrcMapFile, source.SourceNames, order, regrade); err != nil {
			return fmt.Errorf("assemble: component %s: %w", name, err)
		}
	}
	a.log.Info("Done with component %s", name)
	return nil
}

// AssembleAll assembles every component of manifest, at most parallel at a
// time (parallel <= 1 runs them one after another in key order).
func (a *Assembler) AssembleAll(ctx context.Context, manifest Manifest, maxOrder, parallel int) error {
	if parallel < 1 {
		parallel = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, key := range manifest.Keys() {
		info := manifest[key]
		g.Go(func() error {
			return a.AssembleComponent(gctx, key, info, maxOrder)
		})
	}
	return g.Wait()
}
