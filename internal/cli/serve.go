package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eshaffer321/charter-reconcile/internal/api"
	"github.com/eshaffer321/charter-reconcile/internal/application/service"
)

// RunServe runs the API server until SIGINT or SIGTERM.
func RunServe(app *App, flags ServeFlags) error {
	logger := app.Logger.With("system", "api")

	apiCfg := api.Config{
		Addr:           app.Config.API.Addr,
		AllowedOrigins: app.Config.API.AllowedOrigins,
	}
	if flags.Addr != "" {
		apiCfg.Addr = flags.Addr
	}

	batches := service.NewBatchService(app.Service, app.Logger.With("system", "batch"))
	batches.StartBackgroundCleanup(time.Minute)
	defer batches.StopBackgroundCleanup()

	server := api.NewServer(apiCfg, app.Service, batches, logger)

	// Handle graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", slog.Any("error", err))
		}
		close(done)
	}()

	// Start server (blocks until shutdown)
	if err := server.Start(); err != nil {
		return err
	}

	<-done
	logger.Info("server stopped")
	return nil
}
