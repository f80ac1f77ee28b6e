package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/gtpipe/internal/analysis"
	"github.com/kingrea/gtpipe/internal/config"
	"github.com/kingrea/gtpipe/internal/likelihood/bridge"
	"github.com/kingrea/gtpipe/internal/logging"
	"github.com/kingrea/gtpipe/internal/metrics"
	"github.com/kingrea/gtpipe/internal/telemetry"
)

var errNoEngine = errors.New("no likelihood engine configured (set runtime.engine, GTPIPE_ENGINE or --engine)")

// sessionOptions tune openSession for one subcommand.
type sessionOptions struct {
	needEngine bool
	quiet      bool
	extra      []analysis.Option
}

// session holds everything a subcommand opened and must release.
type session struct {
	opts     *globalOptions
	cfg      *config.Config
	log      *logging.Logger
	metrics  *metrics.Metrics
	engine   *bridge.Engine
	coord    *analysis.Coordinator
	shutdown telemetry.Shutdown
}

func openSession(ctx context.Context, opts *globalOptions, so sessionOptions) (*session, error) {
	cfg, err := config.Load(opts.configPath, opts.rootDir)
	if err != nil {
		return nil, err
	}
	s := &session{opts: opts, cfg: cfg, metrics: metrics.New()}

	s.shutdown, err = telemetry.Setup(ctx, "gtanalysis", cfg.Env.OTLPEndpoint)
	if err != nil {
		return nil, err
	}

	saveDir, err := cfg.SaveDir()
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	logOpts := []logging.Option{logging.WithLevel(logLevel(opts.verbose, cfg.Common.Verbosity))}
	if !so.quiet {
		logOpts = append(logOpts, logging.WithConsole(os.Stderr))
	}
	s.log, err = logging.New(filepath.Join(saveDir, filepath.Base(cfg.Common.FileIO.Base)+".log"), logOpts...)
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	coordOpts := []analysis.Option{analysis.WithLogger(s.log), analysis.WithMetrics(s.metrics)}
	if command := engineCommand(opts.engine, cfg.Common.Runtime.Engine); len(command) > 0 {
		s.engine, err = bridge.Start(ctx, command, bridge.WithStderr(os.Stderr), bridge.WithDir(saveDir))
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		coordOpts = append(coordOpts, analysis.WithBackend(s.engine))
	} else if so.needEngine {
		s.close(ctx)
		return nil, errNoEngine
	}

	s.coord, err = analysis.New(cfg, append(coordOpts, so.extra...)...)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.log.Debug("Run %s using %s", s.coord.RunID(), cfg.Path)
	return s, nil
}

// close releases the session in reverse order of opening. Errors are logged
// because the subcommand's own error takes precedence.
func (s *session) close(ctx context.Context) {
	if s.coord != nil {
		if err := s.coord.Close(); err != nil {
			s.log.Warn("close analysis: %v", err)
		}
	}
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.log.Warn("close engine: %v", err)
		}
	}
	if path := strings.TrimSpace(s.opts.metricsFile); path != "" {
		if err := s.metrics.WriteTextfile(path); err != nil {
			s.log.Warn("%v", err)
		}
	}
	if s.shutdown != nil {
		if err := s.shutdown(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("telemetry shutdown: %v", err)
		}
	}
	if err := s.log.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log: %v\n", err)
	}
}

// engineCommand prefers the flag over the configured command.
func engineCommand(flag string, configured []string) []string {
	if fields := strings.Fields(flag); len(fields) > 0 {
		return fields
	}
	return configured
}

func logLevel(verbose bool, verbosity int) logging.Level {
	if verbose {
		return logging.LevelDebug
	}
	return logging.LevelFromVerbosity(verbosity)
}
