package commands

import (
	"context"
	"log/slog"
	"os"
	"time"

	"nsemirror/lib/restyutil"
	"nsemirror/lib/scrapers/nse/session"
	"nsemirror/lib/serviceutil"
	"nsemirror/lib/spreadsheet"
	"nsemirror/lib/telemetry"
	"nsemirror/lib/timezone"
	"nsemirror/services/mirror"

	"github.com/spf13/cobra"
)

var runDatasets *[]string
var runOutput *string
var runLocalOnly *bool

func init() {
	runDatasets = runCmd.Flags().StringSlice("dataset", nil, "Only mirror these datasets, can be repeated.")
	runOutput = runCmd.Flags().String("output", "", "The directory to write CSV files to, overrides output_dir.")
	runLocalOnly = runCmd.Flags().Bool("local-only", false, "Write CSV files without syncing the spreadsheet.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--dataset <id>]... [--output <dir>] [--local-only]",
	Short: "Fetches every configured dataset, writes it to CSV and syncs it to the spreadsheet.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := mirror.LoadConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if len(*runDatasets) > 0 {
			cfg.Datasets = *runDatasets
		}
		if *runOutput != "" {
			cfg.OutputDir = *runOutput
		}
		if *runLocalOnly {
			cfg.LocalOnly = true
		}
		err = cfg.Validate()
		if err != nil {
			serviceutil.Fatal("invalid config", err)
		}

		var sheet spreadsheet.Sheet
		if !cfg.LocalOnly {
			googleSheet, err := cfg.OpenSheet(ctx)
			if err != nil {
				serviceutil.Fatal("failed to open spreadsheet", err)
			}
			sheet = googleSheet
		}

		params, err := cfg.Params(timezone.Now())
		if err != nil {
			serviceutil.Fatal("invalid date range", err)
		}

		tel, err := telemetry.SetupFromEnv(ctx, "nsemirror")
		if err != nil {
			slog.Warn("failed to setup telemetry, continuing without it", "err", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				slog.Warn("failed to flush telemetry", "err", err)
			}
		}()
		telemetry.InstrumentPerfStats(ctx, 5*time.Second)

		var output restyutil.InstrumentOutput
		if cfg.DebugHttpDir != "" {
			fsOutput, err := restyutil.NewFilesystemOutput(cfg.DebugHttpDir, "nse-")
			if err != nil {
				serviceutil.Fatal("failed to create http debug directory", err)
			}
			output = fsOutput
		}

		descriptors := mirror.SelectDescriptors(mirror.DefaultDescriptors(cfg), cfg.Datasets)
		orchestrator := mirror.NewOrchestrator(mirror.Options{
			Descriptors: descriptors,
			Strategies:  session.BuildStrategies(cfg.SessionConfig(output)),
			Client:      cfg.ClientOptions(output),
			Params:      params,
			OutputDir:   cfg.OutputDir,
			Sheet:       sheet,
		})

		slog.Info(
			"starting run",
			"from", timezone.Format(params.From),
			"to", timezone.Format(params.To),
			"datasets", len(descriptors),
		)
		report := orchestrator.Run(ctx)
		report.Render(os.Stdout)
	},
}
