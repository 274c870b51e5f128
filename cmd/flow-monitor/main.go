package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prohosp/flow-monitor/internal/api"
	"github.com/prohosp/flow-monitor/internal/config"
	"github.com/prohosp/flow-monitor/internal/engine"
	"github.com/prohosp/flow-monitor/internal/metrics"
	"github.com/prohosp/flow-monitor/internal/notify"
	"github.com/prohosp/flow-monitor/internal/repo"
	"github.com/prohosp/flow-monitor/internal/services"
	"github.com/prohosp/flow-monitor/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting flow-monitor",
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("grpc_address", cfg.Server.GRPCAddress),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	client := repo.NewPredictionClient(
		cfg.Upstream.BaseURL,
		cfg.Upstream.SummaryPath,
		cfg.Upstream.IngestPath,
		cfg.Upstream.Timeout,
	)
	if !client.Configured() {
		logger.Warn("FASTAPI_URL not configured; summary polling will report errors")
	}

	advisories, err := engine.NewAdvisoryEngine(cfg.Advisories.Path, logger)
	if err != nil {
		logger.Error("failed to load advisory rules", slog.Any("error", err))
		os.Exit(1)
	}

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Poller.StrictOrdering {
		opts = append(opts, engine.WithStrictOrdering())
	}
	poller := engine.New(client, opts...)

	grpcServer, err := api.NewGRPCServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}
	poller.Subscribe(grpcServer.ObserveSnapshot)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if client.Configured() {
		healthCtx, cancelHealth := context.WithTimeout(ctx, cfg.Upstream.Timeout)
		if health, err := client.Health(healthCtx); err != nil {
			logger.Warn("prediction service health check failed", slog.Any("error", err))
		} else {
			logger.Info("prediction service reachable", slog.String("status", health.Status), slog.Any("modules", health.Modules))
		}
		cancelHealth()
	}

	if cfg.MQTT.Enabled {
		mqttClient, err := notify.Connect(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("mqtt publishing disabled", slog.Any("error", err))
		} else {
			defer mqttClient.Disconnect(250)
			publisher := notify.NewPublisher(mqttClient, cfg.MQTT, advisories, logger)
			poller.Subscribe(publisher.Observe)
			go publisher.Start(ctx)
		}
	}

	dashboard := services.NewDashboardService(logger, poller, client, advisories)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           api.NewRouter(dashboard, logger),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := grpcServer.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	if err := poller.Start(ctx); err != nil {
		logger.Error("failed to start poller", slog.Any("error", err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	grpcServer.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("flow-monitor stopped")
}
