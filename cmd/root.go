package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autopatch-dev/autopatch/cmd/version"
	"github.com/autopatch-dev/autopatch/pkg/shared/config"
	"github.com/autopatch-dev/autopatch/pkg/shared/files"
)

var (
	cfgFile   string
	AppConfig *config.Config
	rootCmd   = &cobra.Command{
		Use:                   "autopatch [command]",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Short:                 "Autopatch turns security findings on change requests into reviewed fix commits.",
		Long: `Autopatch watches change requests, scans the touched files for known
vulnerability classes, and pushes deterministic fixes back to the branch with
a full report of what it changed and what it left for a human.`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "service config file (default is config.yml)")
	rootCmd.AddCommand(version.NewVersionCmd())
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		return 1
	}
	return 0
}

func initConfig() {
	explicit := cfgFile != ""
	if !explicit {
		cfgFile = "config.yml"
	}

	path, err := files.ExpandPath(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve config path: %v\n", err)
		os.Exit(1)
	}
	if explicit {
		if err := files.ValidatePath(path); err != nil {
			fmt.Fprintf(os.Stderr, "invalid config file: %v\n", err)
			os.Exit(1)
		}
	}

	AppConfig, err = config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(AppConfig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
