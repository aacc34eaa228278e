package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autopatch-dev/autopatch/internal/ingest"
	"github.com/autopatch-dev/autopatch/pkg/shared/logger"
)

var runFlags struct {
	owner    string
	repo     string
	number   int
	headSHA  string
	baseSHA  string
	branch   string
	cloneURL string
}

// runCmd executes a single remediation run without the webhook daemon,
// useful for operators replaying a change request.
var runCmd = &cobra.Command{
	Use:                   "run",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Short:                 "Run one remediation pass against a change request",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewLogger("autopatch", AppConfig.LogLevel)

		p, err := buildPipeline(cmd.Context(), log)
		if err != nil {
			return err
		}

		event := ingest.Event{
			Owner:         runFlags.owner,
			Repo:          runFlags.repo,
			ChangeRequest: runFlags.number,
			HeadSHA:       runFlags.headSHA,
			BaseSHA:       runFlags.baseSHA,
			Branch:        runFlags.branch,
			CloneURL:      runFlags.cloneURL,
		}
		if event.Owner == "" || event.Repo == "" || event.ChangeRequest == 0 || event.Branch == "" || event.CloneURL == "" {
			return fmt.Errorf("owner, repo, number, branch and clone-url are required")
		}

		result := p.Run(cmd.Context(), event)
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.owner, "owner", "", "repository owner")
	runCmd.Flags().StringVar(&runFlags.repo, "repo", "", "repository name")
	runCmd.Flags().IntVar(&runFlags.number, "number", 0, "change request number")
	runCmd.Flags().StringVar(&runFlags.headSHA, "head", "", "head commit SHA")
	runCmd.Flags().StringVar(&runFlags.baseSHA, "base", "", "base commit SHA")
	runCmd.Flags().StringVar(&runFlags.branch, "branch", "", "head branch name")
	runCmd.Flags().StringVar(&runFlags.cloneURL, "clone-url", "", "HTTPS clone URL")
	rootCmd.AddCommand(runCmd)
}
