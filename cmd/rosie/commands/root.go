package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rosiehq/rosie/pkg/engine"
)

var (
	// Global flags
	configPath string
	envFile    string
	verbose    bool
	jsonOutput bool
)

// ErrRunIncomplete is returned when a run finished but a kind failed to list
// or a partition could not be written.
var ErrRunIncomplete = errors.New("run completed with kind failures")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case engine.IsFatal(err):
		return 2
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rosie",
		Short: "Rosie - cloud resource lifecycle housekeeping",
		Long: `Rosie evaluates the data pipeline resources of a cloud account against
per-kind lifecycle policies and retires expired resources after backing
them up.

Features:
  - FIXED, BY_NAME and BY_TAG management strategies
  - Retention and idle windows with advance deletion warnings
  - Quarantine for resources without a valid class
  - Legacy adequacy term for pre-existing resources
  - Backup before delete, with retention based pruning
  - Append-only result store partitioned by date, kind and run`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("failed to load %s: %w", envFile, err)
				}
			} else {
				_ = godotenv.Load()
			}
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $ROSIE_CONFIG or rosie.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newEvaluateCommand())
	rootCmd.AddCommand(newCleanupCommand())
	rootCmd.AddCommand(newRecordsCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newBackupsCommand())
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
