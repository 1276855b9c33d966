package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/eshaffer321/charter-reconcile/internal/cli"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/config"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/logging"
)

// CLI represents the main CLI application
type CLI struct {
	configFile string
	verbose    bool
}

func main() {
	c := &CLI{}

	// Global flags
	flag.StringVar(&c.configFile, "config", "", "Configuration file path")
	flag.BoolVar(&c.verbose, "verbose", false, "Enable verbose logging")
	flag.Usage = printUsage
	flag.Parse()

	// Get subcommand
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	subcommand := args[0]
	subArgs := args[1:]

	cfg := loadConfig(c.configFile)
	loggingCfg := cfg.Observability.Logging
	if c.verbose {
		loggingCfg.Level = "debug"
	}
	logger := logging.NewLoggerWithSystem(loggingCfg, "reconcile")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}

	// Route to subcommand
	switch subcommand {
	case "ingest":
		err = cli.RunIngest(ctx, app, subArgs, os.Stdout)
	case "import":
		err = cli.RunImport(ctx, app, subArgs, os.Stdout)
	case "run":
		err = cli.RunBatch(ctx, app, subArgs, os.Stdout)
	case "validate":
		err = cli.RunValidate(ctx, app, subArgs, os.Stdout)
	case "rebuild":
		err = cli.RunRebuild(ctx, app, subArgs, os.Stdout)
	case "serve":
		// The server handles its own signals
		stop()
		var flags cli.ServeFlags
		if flags, err = cli.ParseServeFlags(subArgs, os.Stderr); err == nil {
			err = cli.RunServe(app, flags)
		}
	default:
		fmt.Printf("Unknown subcommand: %s\n\n", subcommand)
		printUsage()
		_ = app.Close()
		os.Exit(1)
	}

	if closeErr := app.Close(); closeErr != nil {
		logger.Warn("Failed to close resources", "error", closeErr)
	}
	os.Exit(exitCode(err, logger))
}

func exitCode(err error, logger *slog.Logger) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, cli.ErrMismatchesFound), errors.Is(err, cli.ErrDriftFound):
		return 2
	default:
		logger.Error("Command failed", "error", err)
		return 1
	}
}

func printUsage() {
	fmt.Println("Charter payment reconciliation")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  reconcile [-config file] [-verbose] <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  import -charters f.csv -parties f.csv   Load charters and customers")
	fmt.Println("  ingest [-feed name] files...            Normalize and store records")
	fmt.Println("  run [-feed name] [-workers n] [-timeout d] [files...]")
	fmt.Println("                                          Reconcile pending records")
	fmt.Println("  validate                                Recompute charter balances")
	fmt.Println("  rebuild [-repair]                       Verify ledger and check drift")
	fmt.Println("  serve [-addr :8085]                     Start the HTTP API")
	fmt.Println()
	fmt.Println("Exit status 2 means mismatches or drift were found.")
}

func loadConfig(configFile string) *config.Config {
	if configFile == "" {
		// Try to find config file
		for _, candidate := range []string{"config.yaml", "config.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				configFile = candidate
				break
			}
		}
	}

	if configFile == "" {
		return config.LoadFromEnv()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config %s: %v\n", configFile, err)
		os.Exit(1)
	}
	return cfg
}
