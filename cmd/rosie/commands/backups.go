package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rosiehq/rosie/pkg/engine"
)

func newBackupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage backups of retired resources",
		Long: `Manage the backups written before each deletion.

Every backup holds the resource description and, for jobs and workflows,
the script or definition bodies. Backups are kept for the backup_days of
the resource class, or backup.retention_days when the class sets none.`,
	}

	cmd.AddCommand(newBackupsListCommand())
	cmd.AddCommand(newBackupsPruneCommand())

	return cmd
}

func parseKindFlag(s string) (engine.Kind, error) {
	if s == "" {
		return "", nil
	}
	return engine.ParseKind(s)
}

func newBackupsListCommand() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List committed backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k, err := parseKindFlag(kind)
			if err != nil {
				return err
			}

			s, err := openSession(ctx, needs{backups: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			objs, err := s.backups.List(ctx, k)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(objs)
			}
			printBackups(objs)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "restrict to one resource kind")

	return cmd
}

func newBackupsPruneCommand() *cobra.Command {
	var (
		kind   string
		date   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove backups older than their retention",
		Example: `  # Show what would be removed
  rosie backups prune --dry-run

  # Prune step function backups
  rosie backups prune --kind step_function`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k, err := parseKindFlag(kind)
			if err != nil {
				return err
			}
			day, err := statusDate(date)
			if err != nil {
				return err
			}

			s, err := openSession(ctx, needs{backups: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			policies, err := s.doc.ToPolicies()
			if err != nil {
				return err
			}

			log.Info().Str("kind", kind).Bool("dry_run", dryRun).Msg("Pruning backups")
			result, err := s.pruner(policies).Prune(ctx, k, day, dryRun)
			if err != nil {
				return err
			}
			if !dryRun {
				s.tel.Metrics.RecordBackupsPruned(len(result.Removed))
			}

			if jsonOutput {
				return printJSON(result)
			}
			verb := "Removed"
			if dryRun {
				verb = "Would remove"
			}
			fmt.Printf("%s %d of %d backups\n\n", verb, len(result.Removed), result.Examined)
			printBackups(result.Removed)
			for location, err := range result.Failed {
				fmt.Printf("✗ %s: %v\n", location, err)
			}
			if len(result.Failed) > 0 {
				return fmt.Errorf("failed to remove %d backups", len(result.Failed))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "restrict to one resource kind")
	cmd.Flags().StringVar(&date, "date", "", "reference date (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report expired backups without removing them")

	return cmd
}
