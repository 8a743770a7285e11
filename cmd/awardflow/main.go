// Package main provides the awardflow binary entry point.
// Awardflow enriches worker records against a knowledge graph of industrial
// instruments, streaming classification and column answers as they resolve.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/qxd-ai/awardflow/llm/providers"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/componentregistry"
	streamsconfig "github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/metric"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/service"
	"github.com/c360studio/semstreams/types"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/qxd-ai/awardflow/config"
	enrichmentapi "github.com/qxd-ai/awardflow/processor/enrichment-api"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "awardflow"

	recordsBucket = "WORKER_RECORDS"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "awardflow",
		Short: "Worker record enrichment service",
		Long: `Awardflow enriches worker records against a knowledge graph of
industrial instruments.

It provides:
- Worker classification against candidate instruments
- Per-column clause retrieval and completion
- Streaming NDJSON field updates over HTTP

All components communicate via NATS using the semstreams framework.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	// Print banner
	printBanner()

	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Connect to NATS
	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	// Ensure the records bucket exists
	if err := ensureRecordsBucket(ctx, natsClient, logger); err != nil {
		return err
	}

	slog.Info("Awardflow ready",
		"version", Version,
		"gateway_url", cfg.Gateway.URL,
		"index_path", cfg.Index.Path)

	// Create remaining infrastructure
	metricsRegistry := metric.NewMetricsRegistry()
	streamsCfg := buildServiceConfig(cfg)
	platform := types.PlatformMeta{
		Org:      appName,
		Platform: appName + "-local",
	}

	// Create and start config manager (required for component-manager to access component configs)
	configManager, err := streamsconfig.NewConfigManager(streamsCfg, natsClient, logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := configManager.Start(ctx); err != nil {
		return fmt.Errorf("start config manager: %w", err)
	}
	defer configManager.Stop(5 * time.Second)

	// Create and populate component registry
	componentRegistry := component.NewRegistry()

	// Register all semstreams components
	slog.Debug("Registering semstreams component factories")
	if err := componentregistry.Register(componentRegistry); err != nil {
		return fmt.Errorf("register semstreams components: %w", err)
	}

	// Register awardflow-specific components
	slog.Debug("Registering awardflow component factories")
	if err := enrichmentapi.Register(componentRegistry); err != nil {
		return fmt.Errorf("register enrichment-api: %w", err)
	}

	factories := componentRegistry.ListFactories()
	slog.Info("Component factories registered", "count", len(factories))

	// Create service registry and manager (semstreams pattern)
	serviceRegistry := service.NewServiceRegistry()
	if err := service.RegisterAll(serviceRegistry); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	manager := service.NewServiceManager(serviceRegistry)

	// Create service dependencies
	svcDeps := &service.Dependencies{
		NATSClient:        natsClient,
		MetricsRegistry:   metricsRegistry,
		Logger:            logger,
		Platform:          platform,
		Manager:           configManager,
		ComponentRegistry: componentRegistry,
	}

	// Configure and create services
	if err := configureAndCreateServices(streamsCfg, manager, svcDeps); err != nil {
		return err
	}

	slog.Info("All services configured")

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Start all services (includes HTTP server with health endpoints)
	slog.Info("Starting all services")
	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("All services started successfully")

	// Block until shutdown signal
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	// Stop all services
	shutdownTimeout := 30 * time.Second
	if err := manager.StopAll(shutdownTimeout); err != nil {
		slog.Error("Error stopping services", "error", err)
	}

	slog.Info("Awardflow shutdown complete")
	return nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║            Awardflow v" + Version + "                    ║")
	fmt.Println("║      Worker Record Enrichment Service         ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

// loadConfig loads the layered awardflow config, or a single file when an
// explicit path was given.
func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return config.NewLoader(logger).Load()
}

// buildServiceConfig maps the awardflow config onto the semstreams service
// configuration: one enrichment-api component behind the service manager's
// HTTP server.
func buildServiceConfig(cfg *config.Config) *streamsconfig.Config {
	componentConfig := map[string]any{
		"graph_gateway_url": cfg.Gateway.URL,
		"index_path":        cfg.Index.Path,
		"registry_file":     cfg.Model.RegistryFile,
		"records_bucket":    recordsBucket,
		"transitive_refs":   cfg.Resolution.Transitive,
	}
	componentJSON, _ := json.Marshal(componentConfig)

	serviceManagerConfig := map[string]any{
		"http_port":  8080,
		"swagger_ui": false,
		"server_info": map[string]string{
			"title":       "Awardflow API",
			"description": "worker record enrichment - classification and clause-grounded columns",
			"version":     Version,
		},
	}
	serviceManagerJSON, _ := json.Marshal(serviceManagerConfig)

	return &streamsconfig.Config{
		Version: "1.0.0",
		Platform: streamsconfig.PlatformConfig{
			Org:         appName,
			ID:          appName + "-local",
			Environment: "dev",
		},
		NATS: streamsconfig.NATSConfig{
			URLs:          []string{cfg.NATS.URL},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: streamsconfig.JetStreamConfig{
				Enabled: true,
			},
		},
		Services: types.ServiceConfigs{
			"service-manager": types.ServiceConfig{
				Name:    "service-manager",
				Enabled: true,
				Config:  serviceManagerJSON,
			},
		},
		Components: streamsconfig.ComponentConfigs{
			"enrichment-api": types.ComponentConfig{
				Name:    "enrichment-api",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  componentJSON,
			},
		},
		Streams: streamsconfig.StreamConfigs{},
	}
}

func connectToNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	natsURL := cfg.NATS.URL

	// Environment variable override takes precedence
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		natsURL = envURL
	} else if envURL := os.Getenv("AWARDFLOW_NATS_URL"); envURL != "" {
		natsURL = envURL
	}

	logger.Info("Connecting to NATS", "url", natsURL)

	client, err := natsclient.NewClient(natsURL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20), // Higher threshold for startup bursts
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	logger.Info("Connected to NATS", "url", natsURL)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	// Check for common connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

// ensureRecordsBucket creates the enriched-records KV bucket if missing.
func ensureRecordsBucket(ctx context.Context, natsClient *natsclient.Client, logger *slog.Logger) error {
	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	_, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      recordsBucket,
		Description: "Enriched worker records",
		History:     1,
	})
	if err != nil && !errors.Is(err, jetstream.ErrBucketExists) {
		return fmt.Errorf("create records bucket: %w", err)
	}

	logger.Debug("Records bucket ready", "bucket", recordsBucket)
	return nil
}

// configureAndCreateServices configures the manager and creates all services
func configureAndCreateServices(
	cfg *streamsconfig.Config,
	manager *service.Manager,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Configuring Manager")
	if err := manager.ConfigureFromServices(cfg.Services, svcDeps); err != nil {
		return fmt.Errorf("configure service manager: %w", err)
	}

	slog.Debug("Creating services from config", "count", len(cfg.Services))
	for name, svcConfig := range cfg.Services {
		if name == "service-manager" {
			slog.Debug("Skipping service-manager (configured directly)")
			continue
		}

		if err := createServiceIfEnabled(manager, name, svcConfig, svcDeps); err != nil {
			return err
		}
	}

	return nil
}

// createServiceIfEnabled creates a service if it's enabled and registered
func createServiceIfEnabled(
	manager *service.Manager,
	name string,
	svcConfig types.ServiceConfig,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Processing service config", "key", name, "name", svcConfig.Name, "enabled", svcConfig.Enabled)

	if !svcConfig.Enabled {
		slog.Info("Service disabled in config", "name", name)
		return nil
	}

	if !manager.HasConstructor(name) {
		slog.Warn("Service configured but not registered", "key", name, "available_constructors", manager.ListConstructors())
		return nil
	}

	slog.Debug("Creating service", "name", name, "has_constructor", true)
	if _, err := manager.CreateService(name, svcConfig.Config, svcDeps); err != nil {
		return fmt.Errorf("create service %s: %w", name, err)
	}

	slog.Info("Created service", "name", name, "config_name", svcConfig.Name)
	return nil
}
