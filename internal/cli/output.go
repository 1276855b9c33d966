package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// PrintIngestResult prints ingest counts and quarantined rows
func PrintIngestResult(w io.Writer, result *reconcile.IngestResult) {
	fmt.Fprintf(w, "Ingest: Saved=%d Skipped=%d Quarantined=%d\n",
		result.Saved, result.Skipped, result.Quarantined)
}

// PrintBatchSummary prints the batch result summary
func PrintBatchSummary(w io.Writer, summary *reconcile.BatchSummary) {
	fmt.Fprintln(w, strings.Repeat("-", 60))
	if summary.Ingested != nil {
		PrintIngestResult(w, summary.Ingested)
	}
	fmt.Fprintf(w, "Batch #%d: Records=%d AutoMatched=%d Review=%d Duplicates=%d AlreadyLinked=%d Errors=%d\n",
		summary.RunID,
		summary.RecordsTotal,
		summary.AutoMatched,
		summary.QueuedForReview,
		summary.DuplicateFlagged,
		summary.AlreadyLinked,
		summary.Errored)

	if summary.TimedOut {
		fmt.Fprintf(w, "Timed out: %d records left for the next run\n", summary.Unprocessed)
	}

	// Print errors if any
	if len(summary.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, err := range summary.Errors {
			fmt.Fprintf(w, "  - %s\n", err)
		}
	}
	fmt.Fprintf(w, "Duration: %dms\n", summary.DurationMs)
}

// PrintMismatches prints balance validation results
func PrintMismatches(w io.Writer, mismatches []model.BalanceMismatch) {
	if len(mismatches) == 0 {
		fmt.Fprintln(w, "All balances consistent.")
		return
	}
	fmt.Fprintf(w, "%d balance mismatch(es):\n", len(mismatches))
	for _, m := range mismatches {
		fmt.Fprintf(w, "  %-12s %-22s due=%s stored=%s recomputed=%s diff=%s  %s\n",
			m.TransactionKey,
			m.Kind,
			m.DueAmount.StringFixed(2),
			m.Stored.StringFixed(2),
			m.Recomputed.StringFixed(2),
			m.Difference.StringFixed(2),
			m.Reason)
	}
}

// PrintRebuildResult prints chain verification and drift
func PrintRebuildResult(w io.Writer, result *reconcile.RebuildResult) {
	fmt.Fprintf(w, "Ledger: %d entries verified, %d active assignments\n", result.Entries, result.Assignments)
	if len(result.Drift) == 0 {
		fmt.Fprintln(w, "No drift.")
		return
	}
	action := "found"
	if result.Repaired {
		action = "repaired"
	}
	fmt.Fprintf(w, "Drift %s on %d record(s):\n", action, len(result.Drift))
	for _, d := range result.Drift {
		fmt.Fprintf(w, "  %s ledger=%s materialized=%s\n", d.RecordID, describe(d.Ledger), describe(d.Materialized))
	}
}

func describe(a *model.Assignment) string {
	if a == nil {
		return "unmatched"
	}
	return fmt.Sprintf("%s(%s)", a.TransactionKey, a.State)
}
