// Command auditflow audits documents and code against a compliance rule
// catalog, using an LLM as the judge for each rule.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"auditflow/internal/config"
	"auditflow/internal/evaluate"
	"auditflow/internal/ingest"
	"auditflow/internal/judge"
	"auditflow/internal/pipeline"
	"auditflow/internal/reflection"
	"auditflow/internal/report"
	"auditflow/internal/risk"
	"auditflow/internal/rules"
	"auditflow/internal/server"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "auditflow",
		Short:         "LLM-judged compliance auditing for documents and code",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(newAuditCmd(&configPath))
	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newRulesCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// newPipeline wires all stage implementations for one run.
func newPipeline(cfg config.Config, console io.Writer, logger *slog.Logger) (*pipeline.Pipeline, error) {
	j, err := judge.New(judge.Options{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, logger)
	if err != nil {
		return nil, err
	}

	classifier := risk.New(
		risk.Weights{High: cfg.HighWeight, Medium: cfg.MediumWeight, Low: cfg.LowWeight},
		risk.Thresholds{
			CriticalComplianceFloor: cfg.CriticalComplianceFloor,
			HighComplianceFloor:     cfg.HighComplianceFloor,
			ModerateComplianceFloor: cfg.ModerateComplianceFloor,
			HighSeverityMax:         cfg.HighSeverityThreshold,
			MediumCountMax:          cfg.MediumCountThreshold,
			PassThreshold:           cfg.PassThreshold,
		},
	)

	deps := pipeline.Deps{
		Ingestor:   ingest.New(logger),
		Evaluator:  evaluate.New(j, logger),
		Classifier: classifier,
		Reflector:  reflection.New(j, cfg.ConfidenceThreshold, logger),
		Builder:    report.NewBuilder(),
		Dispatcher: report.NewDispatcher(cfg.OutputDir, console, logger),
	}
	return pipeline.New(cfg, deps, logger), nil
}

func newAuditCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "audit [paths...]",
		Short: "Run a compliance audit over the given files (or the configured directories)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger()

			p, err := newPipeline(cfg, os.Stdout, logger)
			if err != nil {
				return err
			}

			state := p.Run(cmd.Context(), pipeline.NewAuditState(args))
			if !state.AuditPassed {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the compliance audit HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger()

			// API runs keep the console quiet; reports still land in the
			// output directory and the HTTP response.
			quiet, err := newPipeline(cfg, io.Discard, logger)
			if err != nil {
				return err
			}

			srv := server.New(cfg, quiet, logger)
			logger.Info("listening", "addr", cfg.ListenAddr)
			return http.ListenAndServe(cfg.ListenAddr, srv.Router())
		},
	}
}

func newRulesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the active rule catalog",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			catalog, warnings := rules.Load(cfg.RulesDir)
			for _, w := range warnings {
				fmt.Fprintln(os.Stderr, w)
			}
			for _, r := range catalog {
				fmt.Printf("%-9s %-7s %-15s %s\n", r.ID, r.Severity, r.Category, r.Name)
			}
			return nil
		},
	}
}
