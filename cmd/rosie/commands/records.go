package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rosiehq/rosie/pkg/engine"
)

func newRecordsCommand() *cobra.Command {
	var (
		date   string
		kinds  []string
		status string
		phase  string
		runID  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "Query stored decision records",
		Long: `Records prints the decision records stored for a status date, optionally
filtered by kind, status, phase and run.`,
		Example: `  # Everything marked delete today
  rosie records --status delete

  # Cleanup outcomes of glue jobs on a date
  rosie records --date 2024-06-30 --kind glue_job --phase cleanup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			day, err := statusDate(date)
			if err != nil {
				return err
			}
			q := engine.Query{
				Date:   day,
				Status: engine.Status(strings.ToLower(status)),
				Phase:  engine.Phase(strings.ToLower(phase)),
				RunID:  runID,
				Limit:  limit,
			}
			for _, k := range kinds {
				kind, err := engine.ParseKind(k)
				if err != nil {
					return err
				}
				q.Kinds = append(q.Kinds, kind)
			}

			s, err := openSession(ctx, needs{sink: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			records, err := s.sink.Query(ctx, q)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(records)
			}
			printRecords(records)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "status date (YYYY-MM-DD, default today)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "resource kinds (glue_job, step_function, s3_path, catalog_table)")
	cmd.Flags().StringVar(&status, "status", "", "decision status")
	cmd.Flags().StringVar(&phase, "phase", "", "partition phase (evaluation, cleanup)")
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records")

	return cmd
}
