/*
main.go - Application entry point

PURPOSE:
  Runs the Warp benefits pipeline: incremental ingest of the employee,
  plan, and claims feeds, enrichment, snapshot merge, and the
  full-history analytics reports.

STARTUP SEQUENCE:
  1. Parse CLI (cobra)
  2. Load YAML configuration (defaults apply when no file is given)
  3. Build the logger (console, plus the configured log file)
  4. Execute one run and report its outcome

COMMANDS:
  run      Execute one pipeline run (the default workflow)

FLAGS:
  --config   Path to the YAML config file (optional)

EXIT CODES:
  0  run completed, or skipped because no feed had new rows
  1  run failed (load error, IO error, bad configuration)

EXAMPLES:
  # Run with baked-in defaults (feeds under ./data)
  ./pipeline run

  # Run with an explicit config
  ./pipeline run --config=./pipeline.yaml

SEE ALSO:
  - etl/run.go: run sequencing
  - config/config.go: configuration shape and defaults
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/benefits-pipeline/config"
	"github.com/warp/benefits-pipeline/etl"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Warp benefits data pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	run := &cobra.Command{
		Use:   "run",
		Short: "Execute one incremental pipeline run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			log, closeLog, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			_, err = etl.NewRunner(cfg, log).Run(cmd.Context())
			return err
		},
	}
	root.AddCommand(run)
	root.SetContext(context.Background())
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildLogger writes console output to stderr and, when state dirs are
// creatable, appends the same events to the configured log file.
func buildLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	writers := []io.Writer{console}
	closeLog := func() {}

	if cfg.Reports.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Reports.LogFile), 0o755); err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.Reports.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closeLog = func() { f.Close() }
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return log, closeLog, nil
}
