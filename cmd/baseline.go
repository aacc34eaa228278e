package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/autopatch-dev/autopatch/internal/baseline"
	"github.com/autopatch-dev/autopatch/internal/scanner"
	"github.com/autopatch-dev/autopatch/pkg/shared/files"
	"github.com/autopatch-dev/autopatch/pkg/shared/logger"
)

var baselineFlags struct {
	repoPath string
	commit   string
}

// baselineCmd snapshots the findings present in a checked-out tree so
// pre-existing issues are suppressed on future runs.
var baselineCmd = &cobra.Command{
	Use:                   "baseline",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Short:                 "Create a baseline snapshot of current findings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if baselineFlags.repoPath == "" || baselineFlags.commit == "" {
			return fmt.Errorf("repo-path and commit are required")
		}

		log := logger.NewLogger("autopatch", AppConfig.LogLevel)

		repoPath, err := files.ExpandPath(baselineFlags.repoPath)
		if err != nil {
			return err
		}

		sc := &scanner.ExecScanner{Command: AppConfig.Scanner.Command, Logger: log.Named("scanner")}
		report, err := sc.Scan(cmd.Context(), repoPath, nil)
		if err != nil {
			return err
		}

		found := report.Findings(nil)
		snapshot := baseline.New(baselineFlags.commit, found, time.Now())
		if err := snapshot.Save(repoPath); err != nil {
			return err
		}

		log.Info("baseline snapshot written",
			"path", repoPath,
			"commit", baselineFlags.commit,
			"fingerprints", len(snapshot.Fingerprints),
		)
		return nil
	},
}

func init() {
	baselineCmd.Flags().StringVar(&baselineFlags.repoPath, "repo-path", "", "path to the checked-out repository")
	baselineCmd.Flags().StringVar(&baselineFlags.commit, "commit", "", "commit SHA the snapshot represents")
	rootCmd.AddCommand(baselineCmd)
}
