package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/autopatch-dev/autopatch/internal/export"
	"github.com/autopatch-dev/autopatch/internal/fixer"
	"github.com/autopatch-dev/autopatch/internal/git"
	"github.com/autopatch-dev/autopatch/internal/ledger"
	"github.com/autopatch-dev/autopatch/internal/pipeline"
	"github.com/autopatch-dev/autopatch/internal/report"
	"github.com/autopatch-dev/autopatch/internal/scanner"
	"github.com/autopatch-dev/autopatch/internal/webhook"
	"github.com/autopatch-dev/autopatch/pkg/shared/config"
	"github.com/autopatch-dev/autopatch/pkg/shared/logger"
)

var serveCmd = &cobra.Command{
	Use:                   "serve",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Short:                 "Run the webhook daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewLogger("autopatch", AppConfig.LogLevel)

		p, err := buildPipeline(cmd.Context(), log)
		if err != nil {
			return err
		}

		server := webhook.New(config.WebhookSecret(), p.Ledger, p, log)
		return server.Run(AppConfig.Server.Addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// buildPipeline assembles the run collaborators from the service config.
func buildPipeline(ctx context.Context, log hclog.Logger) (*pipeline.Pipeline, error) {
	reporter, err := buildReporter(ctx, log)
	if err != nil {
		return nil, err
	}

	var exporter *export.Client
	if AppConfig.Export.URL != "" {
		exporter = export.New(AppConfig.Export.URL, config.ExportToken(), log.Named("export"))
	}

	return &pipeline.Pipeline{
		GitClient:   git.NewClient(log.Named("git"), config.Token(), 0),
		Scanner:     &scanner.ExecScanner{Command: AppConfig.Scanner.Command, Logger: log.Named("scanner")},
		Reporter:    reporter,
		Exporter:    exporter,
		Ledger:      ledger.New(ledger.NewMemoryStore(), log.Named("ledger")),
		Registry:    fixer.NewRegistry(),
		Logger:      log,
		WorkDir:     AppConfig.WorkDir,
		ScanTimeout: scanTimeout(),
	}, nil
}

func buildReporter(ctx context.Context, log hclog.Logger) (report.Reporter, error) {
	switch AppConfig.Provider {
	case config.ProviderGitLab:
		return report.NewGitLabReporter(config.Token(), AppConfig.BaseURL, log.Named("report"))
	case config.ProviderGitHub:
		return report.NewGitHubReporter(ctx, config.Token(), AppConfig.BaseURL, log.Named("report"))
	default:
		return nil, fmt.Errorf("unknown provider %q", AppConfig.Provider)
	}
}

// scanTimeout returns the configured scanner timeout or the default.
func scanTimeout() time.Duration {
	if AppConfig.Scanner.Timeout > 0 {
		return AppConfig.Scanner.Timeout
	}
	return pipeline.DefaultScanTimeout
}
