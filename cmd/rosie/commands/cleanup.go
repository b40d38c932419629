package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCleanupCommand() *cobra.Command {
	var (
		date  string
		runID string
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Retire resources marked for deletion",
		Long: `Cleanup reads the delete decisions of an evaluation run and retires
each resource: its description and scripts are staged as a backup, the
resource is deleted and the backup is committed.

A resource that fails at any step is recorded as error and the rest
proceed. Outcomes are appended as cleanup partitions.`,
		Example: `  # Retire what today's latest evaluation marked for deletion
  rosie cleanup

  # Retire the decisions of a specific run
  rosie cleanup --date 2024-06-30 --run 6f1c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			day, err := statusDate(date)
			if err != nil {
				return err
			}

			s, err := openSession(ctx, needs{sink: true, backups: true, inventory: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			r, _, err := s.runner(s.doc)
			if err != nil {
				return err
			}

			log.Info().Str("status_date", date).Str("evaluation_run", runID).Msg("Starting cleanup")
			summary, report, err := r.Cleanup(ctx, day, runID)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(map[string]interface{}{"summary": summary, "report": report}); err != nil {
					return err
				}
				return runResult(summary)
			}

			printSummary(summary)
			fmt.Printf("\nRetired %d, failed %d, skipped %d, unmapped %d\n",
				report.Retired(), report.Failed, report.Skipped, len(report.Unmapped))
			if report.Failed > 0 {
				fmt.Println()
				printRecords(failedRecords(report.Records))
			}
			return runResult(summary)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "status date of the evaluation (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&runID, "run", "", "evaluation run id (default the latest run of the date)")

	return cmd
}
