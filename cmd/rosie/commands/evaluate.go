package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newEvaluateCommand() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate every monitored resource",
		Long: `Evaluate lists every enabled resource kind, classifies each resource
against its lifecycle policy and appends the decisions to the result
database as evaluation partitions.

Nothing is deleted. Run "rosie cleanup" to retire resources marked delete.`,
		Example: `  # Evaluate as of today
  rosie evaluate

  # Evaluate as of a given status date
  rosie evaluate --date 2024-06-30 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			day, err := statusDate(date)
			if err != nil {
				return err
			}

			s, err := openSession(ctx, needs{sink: true, inventory: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			r, _, err := s.runner(s.doc)
			if err != nil {
				return err
			}

			log.Info().Str("status_date", date).Msg("Starting evaluation")
			summary, err := r.Evaluate(ctx, day)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(summary); err != nil {
					return err
				}
			} else {
				printSummary(summary)
			}
			return runResult(summary)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "status date (YYYY-MM-DD, default today)")

	return cmd
}
