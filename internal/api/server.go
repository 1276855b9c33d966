// Package api exposes the reconciliation engine over HTTP for operators.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/charter-reconcile/internal/api/handlers"
	"github.com/eshaffer321/charter-reconcile/internal/api/middleware"
	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/charter-reconcile/internal/application/service"
)

// Config holds API server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8085",
		AllowedOrigins: middleware.DefaultCORSConfig().AllowedOrigins,
	}
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
	svc        *reconcile.Service
	batches    *service.BatchService
}

// NewServer creates a new API server.
// If batches is nil, batch endpoints will not be available.
func NewServer(cfg Config, svc *reconcile.Service, batches *service.BatchService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		router:  gin.New(),
		logger:  logger,
		svc:     svc,
		batches: batches,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())

	s.router.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Accept", "Authorization", "Content-Type"},
	}))

	// Request logging
	s.router.Use(middleware.Logging(s.logger))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	s.router.GET("/health", handlers.NewHealthHandler().Get)

	api := s.router.Group("/api")
	{
		review := handlers.NewReviewHandler(s.svc)
		api.GET("/review", review.List)
		api.POST("/review/:id/confirm", review.Confirm)
		api.POST("/review/:id/reject", review.Reject)

		duplicates := handlers.NewDuplicatesHandler(s.svc)
		api.GET("/duplicates", duplicates.List)
		api.POST("/duplicates/:id/confirm", duplicates.Confirm)
		api.POST("/duplicates/:id/dismiss", duplicates.Dismiss)

		records := handlers.NewRecordsHandler(s.svc)
		api.POST("/records/:id/unlink", records.Unlink)
		api.POST("/records/:id/link", records.Link)
		api.GET("/records/:id/links", records.Links)
		api.POST("/records/:id/allocations", records.CreateAllocations)
		api.GET("/records/:id/allocations", records.ListAllocations)
		api.DELETE("/records/:id/allocations/:allocationId", records.DeleteAllocation)

		integrity := handlers.NewIntegrityHandler(s.svc)
		api.GET("/balances/mismatches", integrity.Mismatches)
		api.GET("/ledger/drift", integrity.Drift)

		// Persisted batch history
		runs := handlers.NewRunsHandler(s.svc)
		api.GET("/runs", runs.List)
		api.GET("/runs/:id", runs.Get)

		// Live batch jobs
		if s.batches != nil {
			batches := handlers.NewBatchHandler(s.batches)
			api.POST("/batches", batches.Start)
			api.GET("/batches", batches.List)
			api.GET("/batches/:id", batches.Get)
			api.DELETE("/batches/:id", batches.Cancel)
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", s.config.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Router returns the gin engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
