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

	"github.com/pevans/buloradar/alert"
	"github.com/pevans/buloradar/page"
	"github.com/pevans/buloradar/pipeline"
	"github.com/pevans/buloradar/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func handleWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	metricsAddr := fs.String("metrics-addr", getEnv("BULORADAR_METRICS_ADDR", ":9100"), "Address for the /metrics endpoint, empty to disable (BULORADAR_METRICS_ADDR)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: a file is required\n")
		fmt.Fprintf(os.Stderr, "Usage: buloradar watch [-metrics-addr addr] <file>\n")
		fmt.Fprintf(os.Stderr, "Send SIGUSR1 to dismiss all alerts and SIGUSR2 to show them again.\n")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, logger := mustSetup()
	defer logger.Sync()

	pg, err := page.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load page: %v\n", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := pipelineOptions(cfg, logger)
	opts.Metrics = pipeline.NewMetrics(registry)
	opts.Listener = func(e alert.Event) {
		logger.Info("Alert action",
			zap.String("action", string(e.Action)),
			zap.String("alert_id", e.AlertID.String()),
			zap.String("unit_id", e.Verdict.UnitID))
	}

	p, err := newPipeline(cfg, pg, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *metricsAddr != "" {
		server := &http.Server{
			Addr:              *metricsAddr,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Serving metrics", zap.String("addr", *metricsAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer server.Close()
	}

	// Edits on disk reload the page, which the pipeline observes as a
	// mutation and rescans after the debounce window.
	go func() {
		err := watcher.WatchFile(ctx, path, logger, func() {
			reloadPage(pg, path, logger)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("File watcher stopped", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	// SIGUSR1 dismisses every alert; SIGUSR2 shows them all again.
	actionChan := make(chan os.Signal, 1)
	signal.Notify(actionChan, syscall.SIGUSR1, syscall.SIGUSR2)

	errChan := make(chan error, 1)
	go func() {
		errChan <- p.Watch(ctx)
	}()

	logger.Info("Watching page", zap.String("path", path), zap.Int("pid", os.Getpid()))

watchLoop:
	for {
		select {
		case sig := <-actionChan:
			handleAlertSignal(p, sig, logger)
		case sig := <-sigChan:
			logger.Info("Shutting down", zap.String("signal", sig.String()))
			cancel()
			<-errChan
			break watchLoop
		case err := <-errChan:
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: watch failed: %v\n", err)
				os.Exit(1)
			}
			break watchLoop
		}
	}

	p.Wait()
	fmt.Printf("✓ Stopped watching %s (%d alerts shown)\n", path, len(p.Flagged()))
}

// handleAlertSignal applies an alert action to every alert on the page.
func handleAlertSignal(p *pipeline.Pipeline, sig os.Signal, logger *zap.Logger) {
	switch sig {
	case syscall.SIGUSR1:
		n, err := p.Renderer().DismissAll()
		if err != nil {
			logger.Warn("Failed to dismiss alerts", zap.Error(err))
		}
		logger.Info("Dismissed alerts", zap.Int("count", n))
	case syscall.SIGUSR2:
		shown := 0
		for _, v := range p.Flagged() {
			if err := p.Retrigger(v.UnitID); err != nil {
				logger.Warn("Failed to show alert", zap.String("unit_id", v.UnitID), zap.Error(err))
				continue
			}
			shown++
		}
		logger.Info("Showing alerts again", zap.Int("count", shown))
	}
}

func reloadPage(pg *page.Page, path string, logger *zap.Logger) {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("Failed to reopen page", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	if err := pg.Reload(f); err != nil {
		logger.Warn("Failed to reload page", zap.String("path", path), zap.Error(err))
	}
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
