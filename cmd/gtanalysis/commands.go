package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kingrea/gtpipe/internal/analysis"
	"github.com/kingrea/gtpipe/internal/artifact"
	"github.com/kingrea/gtpipe/internal/config"
	"github.com/kingrea/gtpipe/internal/tui"
)

func initCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration to --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteDefault(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", opts.configPath)
			return nil
		},
	}
}

func setupCmd(opts *globalOptions) *cobra.Command {
	var useTUI bool

	c := &cobra.Command{
		Use:   "setup",
		Short: "Select, bin and compute exposure and source maps for every component",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			so := sessionOptions{needEngine: true, quiet: useTUI}
			var obs *tui.Observer
			if useTUI {
				obs = tui.NewObserver()
				so.extra = append(so.extra, analysis.WithObserver(obs))
			}
			s, err := openSession(ctx, opts, so)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			if useTUI {
				err = tui.RunSetup(ctx, "gtanalysis setup", setupPlan(s.coord), obs, s.coord.Setup)
			} else {
				err = s.coord.Setup(ctx)
			}
			if err != nil {
				return err
			}
			printComponents(cmd.OutOrStdout(), s.coord)
			return nil
		},
	}

	c.Flags().BoolVar(&useTUI, "tui", false, "show a progress view while the tools run")
	return c
}

// fitOptions are the flags of fit and run.
type fitOptions struct {
	free       []string
	freeNorm   []string
	freeIndex  []string
	fix        []string
	xmlName    string
	resultsOut string
}

func (o *fitOptions) bind(c *cobra.Command) {
	c.Flags().StringSliceVar(&o.free, "free", nil, "free every spectral parameter of these sources (except optimizer.skip_pars)")
	c.Flags().StringSliceVar(&o.freeNorm, "free-norm", nil, "free the normalization of these sources")
	c.Flags().StringSliceVar(&o.freeIndex, "free-index", nil, "free the spectral index of these sources")
	c.Flags().StringSliceVar(&o.fix, "fix", nil, "fix every spectral parameter of these sources")
	c.Flags().StringVar(&o.xmlName, "xml", "fit", "name of the fitted model written for each component")
	c.Flags().StringVarP(&o.resultsOut, "out", "o", "", "results file (default <savedir>/results.yaml)")
}

func fitCmd(opts *globalOptions) *cobra.Command {
	fo := &fitOptions{}

	c := &cobra.Command{
		Use:   "fit",
		Short: "Set up, fit the combined likelihood and write the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, sessionOptions{needEngine: true})
			if err != nil {
				return err
			}
			defer s.close(ctx)
			return fitAndWrite(ctx, cmd, s, fo)
		},
	}

	fo.bind(c)
	return c
}

func runCmd(opts *globalOptions) *cobra.Command {
	fo := &fitOptions{}

	c := &cobra.Command{
		Use:   "run",
		Short: "Fit, then compute the model counts cube of the fitted model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, sessionOptions{needEngine: true})
			if err != nil {
				return err
			}
			defer s.close(ctx)
			if err := fitAndWrite(ctx, cmd, s, fo); err != nil {
				return err
			}
			return s.coord.GenerateModel(ctx, fo.xmlName)
		},
	}

	fo.bind(c)
	return c
}

func fitAndWrite(ctx context.Context, cmd *cobra.Command, s *session, fo *fitOptions) error {
	if err := s.coord.Setup(ctx); err != nil {
		return err
	}
	if err := applyFreeFlags(s.coord, fo); err != nil {
		return err
	}
	outcome, err := s.coord.Fit(ctx)
	if err != nil {
		return err
	}
	printOutcome(cmd.OutOrStdout(), outcome)
	if err := s.coord.WriteXML(fo.xmlName); err != nil {
		return err
	}
	path, err := s.coord.WriteResults(fo.resultsOut)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Results: %s\n", path)
	return nil
}

// freer is the part of the coordinator the free flags drive.
type freer interface {
	FreeSource(name string, free bool, skipPars []string) error
	FreeNorm(name string, free bool) error
	FreeIndex(name string, free bool) error
}

// applyFreeFlags fixes first so a source named in both --fix and a free
// flag ends up free.
func applyFreeFlags(f freer, fo *fitOptions) error {
	for _, name := range fo.fix {
		if err := f.FreeSource(name, false, []string{}); err != nil {
			return err
		}
	}
	for _, name := range fo.free {
		if err := f.FreeSource(name, true, nil); err != nil {
			return err
		}
	}
	for _, name := range fo.freeNorm {
		if err := f.FreeNorm(name, true); err != nil {
			return err
		}
	}
	for _, name := range fo.freeIndex {
		if err := f.FreeIndex(name, true); err != nil {
			return err
		}
	}
	return nil
}

func modelCmd(opts *globalOptions) *cobra.Command {
	var name string

	c := &cobra.Command{
		Use:   "model",
		Short: "Compute the model counts cube of every component",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.close(ctx)
			if err := s.coord.GenerateModel(ctx, name); err != nil {
				return err
			}
			for _, comp := range s.coord.Components() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", comp.Name(), comp.Product(artifact.ModelCube))
			}
			return nil
		},
	}

	c.Flags().StringVar(&name, "name", "", "model written by fit (defaults to the seed region model)")
	return c
}

func resultsCmd(opts *globalOptions) *cobra.Command {
	var out string

	c := &cobra.Command{
		Use:   "results",
		Short: "Print a results file written by fit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, sessionOptions{quiet: true})
			if err != nil {
				return err
			}
			defer s.close(ctx)
			path := s.coord.ResultsPath(out)
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read results: %w", err)
			}
			return printResults(cmd.OutOrStdout(), data)
		},
	}

	c.Flags().StringVarP(&out, "out", "o", "", "results file (default <savedir>/results.yaml)")
	return c
}

func setupPlan(coord *analysis.Coordinator) []tui.Plan {
	comps := coord.Components()
	plan := make([]tui.Plan, 0, len(comps))
	for _, comp := range comps {
		plan = append(plan, tui.Plan{Component: comp.Name(), Stages: comp.Stages()})
	}
	return plan
}
