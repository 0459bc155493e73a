package main

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

	"github.com/gin-gonic/gin"
	"github.com/pevans/buloradar/catalog"
	"github.com/pevans/buloradar/config"
	"github.com/pevans/buloradar/logging"
	"go.uber.org/zap"
)

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	addr := flag.String("addr", getEnv("BULORADAR_API_ADDR", cfg.API.Addr), "Listen address (BULORADAR_API_ADDR)")
	dsn := flag.String("dsn", getEnv("BULORADAR_CATALOG_DSN", cfg.Catalog.DSN), "Path to catalogue database (BULORADAR_CATALOG_DSN)")
	logLevel := flag.String("log-level", getEnv("BULORADAR_LOG_LEVEL", cfg.Log.Level), "Log level (BULORADAR_LOG_LEVEL)")
	flag.Parse()

	cfg.Log.Level = *logLevel
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Opening catalogue", zap.String("dsn", *dsn))
	store, err := catalog.NewStore(*dsn)
	if err != nil {
		logger.Fatal("Failed to open catalogue", zap.Error(err))
	}
	defer store.Close()

	server := &http.Server{
		Addr:              *addr,
		Handler:           catalog.NewAPIServer(store, logger).SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 2)
	go func() {
		logger.Info("Starting catalogue API", zap.String("addr", *addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if len(cfg.Import.Feeds) > 0 {
		importer := catalog.NewImporter(store, cfg.Import, logger)
		go func() {
			if err := importer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout exceeded, forcing exit", zap.Error(err))
	}
	logger.Info("Server stopped")
}

// loadConfig reads BULORADAR_CONFIG, or ~/.buloradar/config.yaml when unset.
// Only the catalogue, API, import and log sections matter here.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("BULORADAR_CONFIG"); path != "" {
		return config.Load(path)
	}
	return config.LoadDefaultFile()
}
