package cli

import (
	"flag"
	"io"
	"time"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// IngestFlags are flags for the ingest command
type IngestFlags struct {
	Feed  model.FeedType
	Files []string
}

// ParseIngestFlags parses ingest flags; remaining args are record files
func ParseIngestFlags(args []string, output io.Writer) (IngestFlags, error) {
	var flags IngestFlags
	var feed string
	fs := newFlagSet("ingest", output)
	fs.StringVar(&feed, "feed", "", "Feed for files without a source column (settlement, bank_statement, receipt)")
	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	flags.Feed = model.FeedType(feed)
	flags.Files = fs.Args()
	return flags, nil
}

// ImportFlags are flags for the import command
type ImportFlags struct {
	Charters string
	Parties  string
}

// ParseImportFlags parses import flags
func ParseImportFlags(args []string, output io.Writer) (ImportFlags, error) {
	var flags ImportFlags
	fs := newFlagSet("import", output)
	fs.StringVar(&flags.Charters, "charters", "", "CSV of charters (key, party_id, service_date, due_amount, deposit, status)")
	fs.StringVar(&flags.Parties, "parties", "", "CSV of customers (id, name, email)")
	err := fs.Parse(args)
	return flags, err
}

// RunFlags are flags for the run command
type RunFlags struct {
	IngestFlags
	Actor   string
	Workers int
	Timeout time.Duration
}

// ParseRunFlags parses run flags; remaining args are record files to ingest first
func ParseRunFlags(args []string, output io.Writer) (RunFlags, error) {
	var flags RunFlags
	var feed string
	fs := newFlagSet("run", output)
	fs.StringVar(&feed, "feed", "", "Feed for files without a source column")
	fs.StringVar(&flags.Actor, "actor", "", "Actor recorded on automatic links (default system)")
	fs.IntVar(&flags.Workers, "workers", 0, "Concurrent workers (0 = config)")
	fs.DurationVar(&flags.Timeout, "timeout", 0, "Batch timeout (0 = config)")
	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	flags.Feed = model.FeedType(feed)
	flags.Files = fs.Args()
	return flags, nil
}

// RebuildFlags are flags for the rebuild command
type RebuildFlags struct {
	Repair bool
}

// ParseRebuildFlags parses rebuild flags
func ParseRebuildFlags(args []string, output io.Writer) (RebuildFlags, error) {
	var flags RebuildFlags
	fs := newFlagSet("rebuild", output)
	fs.BoolVar(&flags.Repair, "repair", false, "Rewrite materialized assignments from the ledger")
	err := fs.Parse(args)
	return flags, err
}

// ServeFlags holds the CLI flags for the serve command.
type ServeFlags struct {
	Addr string
}

// ParseServeFlags parses command line flags for the serve command.
func ParseServeFlags(args []string, output io.Writer) (ServeFlags, error) {
	var flags ServeFlags
	fs := newFlagSet("serve", output)
	fs.StringVar(&flags.Addr, "addr", "", "Listen address (default from config)")
	err := fs.Parse(args)
	return flags, err
}

func newFlagSet(name string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	return fs
}
