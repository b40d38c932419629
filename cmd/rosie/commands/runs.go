package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rosiehq/rosie/pkg/engine"
)

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent run summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, needs{sink: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			runs, err := s.sink.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}

			w := newTable()
			fmt.Fprintln(w, "RUN\tPHASE\tSTATUS DATE\tSTARTED\tDELETE\tRETIRED\tERRORS\tFAILED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%t\n",
					run.RunID, run.Phase, run.StatusDate.Format(engine.DateLayout),
					run.StartedAt.Format("2006-01-02 15:04:05"),
					run.Count(engine.StatusDelete), run.Count(engine.StatusDeletedBackup),
					run.Errors(), run.Failed())
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	return cmd
}
