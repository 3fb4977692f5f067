package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/tempo/cmd/tempo/commands"
	"github.com/teranos/tempo/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tempo",
	Short: "tempo - distributed recurring-job scheduler",
	Long: `tempo - distributed recurring-job scheduler.

Every job is owned by exactly one executor in the cluster. Executors wake
on their job's schedule, run it, and record the outcome; a periodic sweep
reloads every job so changes and missed executors converge.

Available commands:
  serve   - Run a scheduler node
  job     - Manage job definitions
  am      - Manage tempo configuration ("I am")
  db      - Manage the tempo database
  version - Show version information

Examples:
  tempo serve                        # Run a node with ./am.toml
  tempo job import jobs.yaml         # Load job definitions
  tempo job ls --org 6f1c...         # List an organization's jobs
  tempo am show --format json        # Show current configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// am show writes to stdout and must stay parseable
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		// flags win over the [log] section; a broken config is reported by the command itself
		if cfg, err := commands.LoadConfig(); err == nil {
			if !cmd.Flags().Changed("verbose") {
				verbosity = cfg.Log.Verbosity
			}
			if !cmd.Flags().Changed("log-json") {
				jsonLogs = cfg.Log.JSON
			}
		}
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVarP(&commands.ConfigPath, "config", "c", "", "Read configuration from this file only")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
