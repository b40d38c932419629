package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rosiehq/rosie/pkg/engine"
)

var summaryStatuses = []engine.Status{
	engine.StatusKeep,
	engine.StatusDeletionComing,
	engine.StatusDelete,
	engine.StatusQuarantine,
	engine.StatusIgnore,
	engine.StatusUnknown,
	engine.StatusDeletedBackup,
	engine.StatusError,
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func printSummary(summary *engine.RunSummary) {
	fmt.Printf("Run %s (%s, status date %s)\n\n", summary.RunID, summary.Phase, summary.StatusDate.Format(engine.DateLayout))

	w := newTable()
	fmt.Fprint(w, "KIND\tDISCOVERED")
	for _, st := range summaryStatuses {
		fmt.Fprintf(w, "\t%s", st)
	}
	fmt.Fprintln(w, "\tUNMAPPED\tFAILURE")
	for _, k := range summary.Kinds {
		fmt.Fprintf(w, "%s\t%d", k.Kind, k.Discovered)
		for _, st := range summaryStatuses {
			fmt.Fprintf(w, "\t%d", k.Statuses[st])
		}
		fmt.Fprintf(w, "\t%d\t%s\n", k.Unmapped, k.Failure)
	}
	_ = w.Flush()

	fmt.Printf("\n%d errors, finished in %s\n", summary.Errors(), summary.FinishedAt.Sub(summary.StartedAt))
}

func printRecords(records []engine.DecisionRecord) {
	w := newTable()
	fmt.Fprintln(w, "KIND\tNAME\tCLASS\tSTATUS\tAGE\tIDLE\tREASON")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			rec.Kind, rec.ResourceName, rec.ClassLabel, rec.Status, rec.AgeDays, rec.IdleDays, rec.Reason)
	}
	_ = w.Flush()
	fmt.Printf("\n%d records\n", len(records))
}

func printBackups(objs []engine.BackupObject) {
	w := newTable()
	fmt.Fprintln(w, "KIND\tNAME\tCLASS\tDATE\tFILES\tLOCATION")
	for _, obj := range objs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			obj.Kind, obj.Name, obj.Class, obj.Date.Format(engine.DateLayout), len(obj.Files), obj.Location)
	}
	_ = w.Flush()
}

func failedRecords(records []engine.DecisionRecord) []engine.DecisionRecord {
	var out []engine.DecisionRecord
	for _, rec := range records {
		if rec.Status == engine.StatusError {
			out = append(out, rec)
		}
	}
	return out
}
