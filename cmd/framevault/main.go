// Package main implements the FrameVault entry point. FrameVault stores
// camera snapshot frames in a NATS JetStream object store and assembles them
// into video clips on demand.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/framevault/config"
	"github.com/c360/framevault/eventmeta"
	"github.com/c360/framevault/fetch"
	"github.com/c360/framevault/gateway/httpapi"
	"github.com/c360/framevault/ingest"
	"github.com/c360/framevault/locator"
	"github.com/c360/framevault/metric"
	"github.com/c360/framevault/natsclient"
	"github.com/c360/framevault/pkg/retry"
	"github.com/c360/framevault/store"
	"github.com/c360/framevault/video"
	"github.com/c360/framevault/videocache"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "framevault"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags win over file and environment for log settings
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Info("Starting FrameVault",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
	)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	natsClient, err := connectNATS(signalCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(context.Background()) }()

	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}

	registry := metric.NewMetricsRegistry()

	frameStore, err := store.New(signalCtx, js, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("frame store: %w", err)
	}

	pipeline, err := fetch.New(frameStore, cfg.Video, logger, registry)
	if err != nil {
		return fmt.Errorf("fetch pipeline: %w", err)
	}
	assembler := video.NewAssembler(locator.New(frameStore, logger), pipeline, nil, logger)

	cache, err := videocache.New(cfg.Cache, logger, registry)
	if err != nil {
		return fmt.Errorf("video cache: %w", err)
	}

	// Pruner runs until shutdown
	prunerCtx, prunerCancel := context.WithCancel(context.Background())
	defer prunerCancel()
	cache.StartPruner(prunerCtx)

	var bridge *ingest.Bridge
	if cfg.Ingest.Enabled {
		bridge, err = ingest.New(js, frameStore, cfg.Ingest, logger, registry)
		if err != nil {
			return fmt.Errorf("ingest bridge: %w", err)
		}
		if err := bridge.Start(signalCtx); err != nil {
			return fmt.Errorf("start ingest bridge: %w", err)
		}
	} else {
		logger.Info("Ingest bridge disabled by configuration")
	}

	gateway, err := httpapi.New(cfg.HTTP, cfg.Video, assembler, cache,
		eventmeta.NewStore(frameStore, logger), registry, logger)
	if err != nil {
		return fmt.Errorf("http gateway: %w", err)
	}
	gateway.Healthy = natsClient.IsHealthy

	if err := gateway.Start(); err != nil {
		return fmt.Errorf("start http gateway: %w", err)
	}

	logger.Info("FrameVault started")
	<-signalCtx.Done()
	logger.Info("Received shutdown signal")

	return shutdown(cfg, gateway, bridge, logger)
}

// connectNATS dials the broker with retry so a restart race against the NATS
// server does not kill the process.
func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout.Std()),
		natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout.Std()),
		natsclient.WithLogger(logger),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return client.Connect(ctx)
	}); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, cfg.NATS.ConnectTimeout.Std())
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return client, nil
}

// shutdown stops components in reverse start order: gateway first so no new
// work arrives, then the ingest bridge, while the deferred close handles NATS.
func shutdown(cfg *config.Config, gateway *httpapi.Service, bridge *ingest.Bridge, logger *slog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Std())
	defer cancel()

	if err := gateway.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP gateway shutdown failed", "error", err)
	}

	if bridge != nil {
		if err := bridge.Stop(10 * time.Second); err != nil {
			logger.Error("Ingest bridge shutdown failed", "error", err)
		}
	}

	logger.Info("FrameVault shutdown complete")
	return nil
}
