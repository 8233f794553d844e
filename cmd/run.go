package main

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/overlap-cli/internal/overlap"
	"github.com/sells-group/overlap-cli/internal/results"
)

var (
	runFormat  string
	runOutput  string
	runWorkers int
	runRegions []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute overlap statistics for every region",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		applyRunFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return eris.Wrap(err, "invalid configuration")
		}
		if !slices.Contains(results.Formats, cfg.Output.Format) {
			return eris.Errorf("unsupported format %q (%s)", cfg.Output.Format, strings.Join(results.Formats, ", "))
		}

		params, err := overlap.ParamsFromConfig(cfg)
		if err != nil {
			return err
		}

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		if pool != nil {
			defer pool.Close()
		}

		runner := overlap.NewRunner(layerOpener(newOpener(pool)), params, overlap.RunOptions{
			Workers: cfg.Overlap.Workers,
			Regions: cfg.Overlap.Regions,
		})
		store, err := runner.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "overlap run")
		}

		report := results.NewReport(store, params.WorkingSRS.String(), params.Tolerance)
		if err := results.WriteFile(cfg.Output.Path, cfg.Output.Format, report); err != nil {
			return err
		}

		zap.L().Info("report written",
			zap.String("run_id", report.RunID),
			zap.String("format", cfg.Output.Format),
			zap.String("path", cfg.Output.Path),
			zap.Int("regions", store.Len()),
		)
		return nil
	},
}

// applyRunFlags lets explicitly set flags override configuration.
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Output.Format = runFormat
	}
	if flags.Changed("output") {
		cfg.Output.Path = runOutput
	}
	if flags.Changed("workers") {
		cfg.Overlap.Workers = runWorkers
	}
	if flags.Changed("regions") {
		cfg.Overlap.Regions = runRegions
	}
}

func init() {
	runCmd.Flags().StringVar(&runFormat, "format", "text", "report format (text, json, yaml, csv, xlsx)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write the report to this file instead of stdout")
	runCmd.Flags().IntVar(&runWorkers, "workers", 1, "regions processed in parallel")
	runCmd.Flags().StringSliceVar(&runRegions, "regions", nil, "only process these region codes (comma-separated)")
	rootCmd.AddCommand(runCmd)
}
