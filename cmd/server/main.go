package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-gate/pkg/simplegate/api"
	"github.com/tendant/simple-gate/pkg/simplegate/config"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML, JSON, TOML or .env config file")
	flag.Parse()

	// Load configuration: defaults, then file, then environment
	serverConfig, err := config.Load(
		config.WithConfigFile(*configFile),
		config.WithEnv(),
	)
	if err != nil {
		log.Fatalf("Failed to load server configuration: %v", err)
	}

	logger, err := serverConfig.BuildLogger(os.Stdout)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	slog.SetDefault(logger)

	if err := run(serverConfig, logger); err != nil {
		logger.Error("Server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(serverConfig *config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := serverConfig.Build(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to build components: %w", err)
	}
	defer func() {
		if err := comps.Close(); err != nil {
			logger.Error("Failed to close components", "err", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := api.NewMetrics(api.MetricsOptions{Registerer: registry})
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	handler := api.New(comps.Gateway, comps.Accounts, comps.Sessions,
		api.WithLogger(logger),
		api.WithMetrics(metrics, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Simple Gate server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"max_upload_bytes", serverConfig.MaxUploadBytes,
			"upload_limit", serverConfig.UploadRateLimit,
			"download_limit", serverConfig.DownloadRateLimit,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}
