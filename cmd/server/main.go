package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/hierflat/internal/config"
	"github.com/rpattn/hierflat/internal/db"
	"github.com/rpattn/hierflat/internal/flatten"
	"github.com/rpattn/hierflat/internal/ingestion"
	"github.com/rpattn/hierflat/internal/middleware"
	"github.com/rpattn/hierflat/internal/repository"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	// Bootstrap logger until the configured one exists
	logger := logrus.New()

	cfg, err := config.LoadServerConfig(*configPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	logger = config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, logger); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}

	// Create repositories
	runRepo := repository.NewFlattenRunRepository(conn.Pool)
	sourceRepo := repository.NewHierarchySourceRepository(conn.Pool)
	tableRepo := repository.NewFlattenedTableRepository(conn.Pool, logger)

	service := flatten.NewService(runRepo, sourceRepo, tableRepo,
		flatten.WithWorkers(cfg.Workers),
		flatten.WithLogger(logger),
	)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders: []string{
			"Content-Disposition",
			middleware.RequestIDHeader,
			flatten.HeaderRunID,
			flatten.HeaderNodes,
			flatten.HeaderMaxLevel,
		},
	})

	flattenHandler := flatten.NewHTTPHandler(service)
	mux := http.NewServeMux()
	mux.Handle("/flatten", flattenHandler)
	mux.Handle("/flatten/", flattenHandler)
	mux.Handle("/ingest/preview", ingestion.NewHTTPHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	handler := middleware.RequestContextMiddleware(logger)(
		middleware.LoggingMiddleware(logger)(mux),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      corsHandler.Handler(handler),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("starting flatten server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("server forced to shutdown")
	}

	logger.Info("server exited")
}
