package main

import (
	"github.com/spf13/cobra"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath  string
	rootDir     string
	engine      string
	metricsFile string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:          "gtanalysis",
		Short:        "Multi-component binned likelihood analysis of LAT data",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "analysis configuration file")
	cmd.PersistentFlags().StringVar(&opts.rootDir, "root", "", "directory relative paths resolve against (defaults to the config file's directory)")
	cmd.PersistentFlags().StringVar(&opts.engine, "engine", "", "likelihood engine command (overrides runtime.engine)")
	cmd.PersistentFlags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output")

	cmd.AddCommand(
		initCmd(opts),
		setupCmd(opts),
		fitCmd(opts),
		runCmd(opts),
		modelCmd(opts),
		resultsCmd(opts),
	)
	return cmd
}
