// cmd/assemble-model/main.go
//
// Merges the per-source map fragments listed in a manifest into one
// source-map file per analysis component. With -jobs it instead writes the
// batch job list (one entry per model and component) for a dispatcher.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kingrea/gtpipe/internal/assemble"
	"github.com/kingrea/gtpipe/internal/config"
	"github.com/kingrea/gtpipe/internal/logging"
	"github.com/kingrea/gtpipe/internal/metrics"
	"github.com/kingrea/gtpipe/internal/telemetry"
)

func main() {
	input := flag.String("input", "", "manifest file (srcmap_manifest_<model>.yaml)")
	compName := flag.String("compname", "", "component key to assemble")
	order := flag.Int("hpx-order", assemble.DefaultOrder, "maximum HEALPix order of the merged maps")
	all := flag.Bool("all", false, "assemble every component of the manifest")
	parallel := flag.Int("parallel", 1, "components assembled concurrently with -all")
	logFile := flag.String("logfile", "", "append the run log to this file")
	metricsFile := flag.String("metrics", "", "write Prometheus metrics to this file on exit")
	jobsFile := flag.String("jobs", "", "write batch job configs to this file and exit")
	models := listFlag{}
	components := listFlag{}
	flag.Var(&models, "models", "model names for -jobs (comma separated, repeatable)")
	flag.Var(&components, "components", "component keys for -jobs (comma separated, repeatable)")
	flag.Parse()

	if path := strings.TrimSpace(*jobsFile); path != "" {
		if len(models) == 0 || len(components) == 0 {
			die("-jobs needs -models and -components")
		}
		jobs := assemble.BuildJobConfigs(models, components)
		if err := assemble.WriteJobConfigs(path, jobs); err != nil {
			die("%v", err)
		}
		fmt.Printf("Wrote %d job(s) to %s\n", len(jobs), path)
		return
	}

	if strings.TrimSpace(*input) == "" {
		die("-input is required")
	}
	if !*all && strings.TrimSpace(*compName) == "" {
		die("-compname is required unless -all is set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := config.LoadEnv()
	if err != nil {
		die("%v", err)
	}
	shutdown, err := telemetry.Setup(ctx, "assemble-model", env.OTLPEndpoint)
	if err != nil {
		die("%v", err)
	}
	defer shutdown(context.WithoutCancel(ctx))

	log := logging.Console(os.Stderr, logging.LevelInfo)
	if path := strings.TrimSpace(*logFile); path != "" {
		log, err = logging.New(path, logging.WithConsole(os.Stderr))
		if err != nil {
			die("%v", err)
		}
		defer log.Close()
	}
	m := metrics.New()
	defer func() {
		if err := m.WriteTextfile(*metricsFile); err != nil {
			log.Warn("%v", err)
		}
	}()

	if err := run(ctx, *input, *compName, *order, *all, *parallel, log, m); err != nil {
		log.Error("%v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, input, compName string, order int, all bool, parallel int, log *logging.Logger, m *metrics.Metrics) error {
	manifest, err := assemble.LoadManifest(input)
	if err != nil {
		return err
	}
	asm := assemble.New(assemble.WithLogger(log), assemble.WithMetrics(m))
	if all {
		return asm.AssembleAll(ctx, manifest, order, parallel)
	}
	info, err := manifest.Component(compName)
	if err != nil {
		return err
	}
	return asm.AssembleComponent(ctx, compName, info, order)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// listFlag collects comma-separated values across repeated flags.
type listFlag []string

func (l *listFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("empty entry in %q", value)
		}
		*l = append(*l, part)
	}
	return nil
}
