package main

// Package main is the entry point for the pharmaflow backend server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite store and run migrations
//   - Wire the statistical tool registry, analysis orchestrator,
//     instruction commander, monitor, and process graph services
//   - Serve the REST API, Prometheus metrics, and the monitor WebSocket
//   - Implement graceful shutdown with context cancellation

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/analysis"
	"github.com/pharmaflow/pharmaflow-backend/internal/commander"
	"github.com/pharmaflow/pharmaflow-backend/internal/config"
	"github.com/pharmaflow/pharmaflow-backend/internal/graph"
	"github.com/pharmaflow/pharmaflow-backend/internal/ingest"
	"github.com/pharmaflow/pharmaflow-backend/internal/logging"
	"github.com/pharmaflow/pharmaflow-backend/internal/monitor"
	"github.com/pharmaflow/pharmaflow-backend/internal/provider"
	"github.com/pharmaflow/pharmaflow-backend/internal/server"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
	"github.com/pharmaflow/pharmaflow-backend/internal/tools"
)

func main() {
	configPath := flag.String("config", "./pharmaflow.yaml", "path to the YAML config file")
	flag.Parse()

	ctx := context.Background()
	mgr, err := config.NewConfigManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create config manager: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	logger, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	registry := tools.DefaultRegistry()
	factory := provider.NewFactory(st, cfg.Analysis.DefaultLimit, cfg.Analysis.MaxLimit)
	engine := analysis.NewRuleBasedEngine(st, nil)
	workflow := analysis.NewWorkflow(registry, logger)
	orchestrator := analysis.NewOrchestrator(factory, workflow, engine, logger)
	cmd := commander.New(st, orchestrator, engine, logger)
	mon := monitor.New(st, cfg.Monitor.WindowSize)
	graphs := graph.NewService(st)
	importer := graph.NewImporter(st, logger)
	ingestor := ingest.NewIngestor(st, logger)

	srv := server.New(cfg, logger, st, registry, orchestrator, cmd, mon, graphs, importer, ingestor)
	httpSrv := &http.Server{
		Addr:         srv.ListenAddr(),
		Handler:      srv.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
