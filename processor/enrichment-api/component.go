// Package enrichmentapi exposes the worker record enrichment pipeline over
// HTTP. Enrichment results stream as NDJSON field updates and completed
// records are persisted to the WORKER_RECORDS KV bucket.
package enrichmentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/qxd-ai/awardflow/clause"
	"github.com/qxd-ai/awardflow/enrich"
	"github.com/qxd-ai/awardflow/llm"
	"github.com/qxd-ai/awardflow/model"
)

// Component implements the enrichment-api component.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics

	index        *enrich.Index
	orchestrator *enrich.Orchestrator
	enricher     *enrich.ColumnEnricher

	recordsBucket jetstream.KeyValue

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	runCtx    context.Context
	cancel    context.CancelFunc
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// NewComponent creates a new enrichment-api component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.GraphGatewayURL == "" {
		config.GraphGatewayURL = defaults.GraphGatewayURL
	}
	if config.IndexPath == "" {
		config.IndexPath = defaults.IndexPath
	}
	if config.RecordsBucket == "" {
		config.RecordsBucket = defaults.RecordsBucket
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "enrichment-api",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		metrics:    NewMetrics(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized enrichment-api",
		"gateway_url", c.config.GraphGatewayURL,
		"index_path", c.config.IndexPath,
		"records_bucket", c.config.RecordsBucket)
	return nil
}

// Start builds the enrichment pipeline and connects storage.
func (c *Component) Start(ctx context.Context) error {
	// Atomically transition from stopped to starting
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		currentState := c.state.Load()
		if currentState == stateRunning || currentState == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", currentState)
	}

	// Ensure we transition to stopped if setup fails
	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	if c.natsClient == nil {
		return fmt.Errorf("NATS client required")
	}

	index, err := enrich.LoadIndex(c.config.IndexPath)
	if err != nil {
		return fmt.Errorf("load instrument index: %w", err)
	}

	registry := model.NewDefaultRegistry()
	if c.config.RegistryFile != "" {
		registry, err = model.LoadFromFile(c.config.RegistryFile)
		if err != nil {
			return fmt.Errorf("load model registry: %w", err)
		}
	}

	completer := llm.NewClient(registry, llm.WithLogger(c.logger))

	storeOpts := []clause.StoreOption{clause.WithLogger(c.logger)}
	if c.config.TransitiveRefs {
		storeOpts = append(storeOpts, clause.WithResolvePolicy(clause.ResolveRecursive))
	}
	store := clause.NewStore(c.config.GraphGatewayURL, storeOpts...)

	classifier := enrich.NewClassifier(completer, c.logger)
	selector := enrich.NewSectionSelector(completer, c.logger)
	enricher := enrich.NewColumnEnricher(store, selector, completer, c.logger)
	orchestrator := enrich.NewOrchestrator(index, store, classifier, enricher,
		enrich.WithOrchestratorLogger(c.logger))

	// The bucket may not exist yet; retry lazily on first use.
	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}
	recordsBucket, err := js.KeyValue(ctx, c.config.RecordsBucket)
	if err != nil {
		c.logger.Warn("Records bucket not found, will retry on queries",
			"bucket", c.config.RecordsBucket,
			"error", err)
	}

	// Streaming requests derive from this context so Stop cancels them.
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.index = index
	c.orchestrator = orchestrator
	c.enricher = enricher
	c.recordsBucket = recordsBucket
	c.runCtx = runCtx
	c.cancel = cancel
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(stateRunning)

	c.logger.Info("enrichment-api started",
		"gateway_url", c.config.GraphGatewayURL,
		"records_bucket", c.config.RecordsBucket)

	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	// Atomically transition from running to stopping
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		currentState := c.state.Load()
		if currentState == stateStopped {
			return nil // Already stopped
		}
		if currentState == stateStopping {
			return nil // Already stopping
		}
		return fmt.Errorf("component in unexpected state: %d", currentState)
	}

	// Get and clear cancel function
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.state.Store(stateStopped)

	c.logger.Info("enrichment-api stopped")

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "enrichment-api",
		Type:        "processor",
		Description: "HTTP endpoints for streaming worker record enrichment",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return enrichmentAPISchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	state := c.state.Load()
	running := state == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

// requestContext derives a context cancelled when either the caller
// disconnects or the component stops.
func (c *Component) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())

	c.mu.RLock()
	runCtx := c.runCtx
	c.mu.RUnlock()
	if runCtx == nil {
		return ctx, cancel
	}

	stop := context.AfterFunc(runCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// getRecordsBucket gets the records bucket, attempting to reconnect if needed.
func (c *Component) getRecordsBucket(ctx context.Context) (jetstream.KeyValue, error) {
	c.mu.RLock()
	bucket := c.recordsBucket
	c.mu.RUnlock()

	if bucket != nil {
		return bucket, nil
	}

	// Upgrade to write lock and check again (double-checked locking)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recordsBucket != nil {
		return c.recordsBucket, nil
	}

	if c.natsClient == nil {
		return nil, fmt.Errorf("NATS client required")
	}

	// Try to get the bucket (it may have been created since startup)
	js, err := c.natsClient.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	bucket, err = js.KeyValue(ctx, c.config.RecordsBucket)
	if err != nil {
		return nil, fmt.Errorf("bucket not found: %w", err)
	}

	// Cache it
	c.recordsBucket = bucket

	return bucket, nil
}
