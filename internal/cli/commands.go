package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/charter-reconcile/internal/domain/normalizer"
)

// ErrMismatchesFound is returned by validate when balances diverge, so the
// command exits non-zero in scheduled checks.
var ErrMismatchesFound = errors.New("balance mismatches found")

// ErrDriftFound is returned by rebuild when drift was found and not repaired.
var ErrDriftFound = errors.New("ledger drift found")

// RunIngest loads record files and stores them without matching.
func RunIngest(ctx context.Context, app *App, args []string, out io.Writer) error {
	flags, err := ParseIngestFlags(args, out)
	if err != nil {
		return err
	}
	if len(flags.Files) == 0 {
		return errors.New("ingest: at least one record file is required")
	}

	raws, err := readAll(flags)
	if err != nil {
		return err
	}
	result, err := app.Service.Ingest(ctx, raws)
	if err != nil {
		return err
	}
	PrintIngestResult(out, result)
	return nil
}

// RunImport upserts charters and customers from the accounting export.
func RunImport(ctx context.Context, app *App, args []string, out io.Writer) error {
	flags, err := ParseImportFlags(args, out)
	if err != nil {
		return err
	}
	if flags.Charters == "" && flags.Parties == "" {
		return errors.New("import: -charters or -parties is required")
	}

	if flags.Parties != "" {
		f, err := os.Open(flags.Parties)
		if err != nil {
			return err
		}
		parties, err := ReadPartiesCSV(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", flags.Parties, err)
		}
		if err := app.Service.ImportParties(ctx, parties); err != nil {
			return err
		}
		fmt.Fprintf(out, "Imported %d customers\n", len(parties))
	}

	if flags.Charters != "" {
		f, err := os.Open(flags.Charters)
		if err != nil {
			return err
		}
		txns, err := ReadTransactionsCSV(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", flags.Charters, err)
		}
		if err := app.Service.ImportTransactions(ctx, txns); err != nil {
			return err
		}
		fmt.Fprintf(out, "Imported %d charters\n", len(txns))
	}
	return nil
}

// RunBatch ingests any given files and reconciles all pending records.
func RunBatch(ctx context.Context, app *App, args []string, out io.Writer) error {
	flags, err := ParseRunFlags(args, out)
	if err != nil {
		return err
	}

	var raws []normalizer.RawRecord
	if len(flags.Files) > 0 {
		if raws, err = readAll(flags.IngestFlags); err != nil {
			return err
		}
	}

	summary, err := app.Service.Run(ctx, reconcile.RunOptions{
		Records: raws,
		Actor:   flags.Actor,
		Workers: flags.Workers,
		Timeout: flags.Timeout,
	})
	if summary != nil {
		PrintBatchSummary(out, summary)
	}
	return err
}

// RunValidate recomputes every charter balance from active links.
func RunValidate(ctx context.Context, app *App, args []string, out io.Writer) error {
	fs := newFlagSet("validate", out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	mismatches, err := app.Service.ValidateBalances(ctx)
	if err != nil {
		return err
	}
	PrintMismatches(out, mismatches)
	if len(mismatches) > 0 {
		return ErrMismatchesFound
	}
	return nil
}

// RunRebuild verifies the ledger chain and reports or repairs drift.
func RunRebuild(ctx context.Context, app *App, args []string, out io.Writer) error {
	flags, err := ParseRebuildFlags(args, out)
	if err != nil {
		return err
	}

	result, err := app.Service.Rebuild(ctx, flags.Repair)
	if err != nil {
		return err
	}
	PrintRebuildResult(out, result)
	if len(result.Drift) > 0 && !result.Repaired {
		return ErrDriftFound
	}
	return nil
}

func readAll(flags IngestFlags) ([]normalizer.RawRecord, error) {
	var raws []normalizer.RawRecord
	for _, path := range flags.Files {
		records, err := ReadRecordsFile(path, flags.Feed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		raws = append(raws, records...)
	}
	return raws, nil
}
