package enrichmentapi

import (
	"context"
	"log/slog"
	"testing"
)

func TestComponent_StateTransitions(t *testing.T) {
	c := &Component{
		name:   "enrichment-api",
		logger: slog.Default(),
	}

	// Initial state should be stopped
	if c.state.Load() != stateStopped {
		t.Errorf("Initial state = %d, want %d (stopped)", c.state.Load(), stateStopped)
	}

	// Health should report unhealthy when stopped
	health := c.Health()
	if health.Healthy {
		t.Error("Health.Healthy = true, want false when stopped")
	}
	if health.Status != "stopped" {
		t.Errorf("Health.Status = %q, want %q", health.Status, "stopped")
	}
}

func TestComponent_Meta(t *testing.T) {
	c := &Component{
		name: "enrichment-api",
	}

	meta := c.Meta()

	if meta.Name != "enrichment-api" {
		t.Errorf("Meta.Name = %q, want %q", meta.Name, "enrichment-api")
	}
	if meta.Type != "processor" {
		t.Errorf("Meta.Type = %q, want %q", meta.Type, "processor")
	}
	if meta.Version == "" {
		t.Error("Meta.Version should not be empty")
	}
	if meta.Description == "" {
		t.Error("Meta.Description should not be empty")
	}
}

func TestComponent_Ports(t *testing.T) {
	c := &Component{}

	// Enrichment-api has no input/output ports (HTTP only)
	inputPorts := c.InputPorts()
	if len(inputPorts) != 0 {
		t.Errorf("InputPorts count = %d, want 0", len(inputPorts))
	}

	outputPorts := c.OutputPorts()
	if len(outputPorts) != 0 {
		t.Errorf("OutputPorts count = %d, want 0", len(outputPorts))
	}
}

func TestComponent_ConfigSchema(t *testing.T) {
	c := &Component{}

	schema := c.ConfigSchema()

	// Schema should have properties
	if len(schema.Properties) == 0 {
		t.Error("ConfigSchema.Properties should not be empty")
	}
}

func TestComponent_Initialize(t *testing.T) {
	c := &Component{
		logger: slog.Default(),
		config: DefaultConfig(),
	}

	err := c.Initialize()
	if err != nil {
		t.Errorf("Initialize() error = %v, want nil", err)
	}
}

func TestComponent_StartWithoutNATSClient(t *testing.T) {
	c := &Component{
		name:   "enrichment-api",
		logger: slog.Default(),
		config: DefaultConfig(),
		// natsClient is nil
	}

	err := c.Start(context.Background())
	if err == nil {
		t.Error("Start() without NATS client should fail")
	}

	// State should return to stopped after failed start
	if c.state.Load() != stateStopped {
		t.Errorf("State after failed start = %d, want %d (stopped)", c.state.Load(), stateStopped)
	}
}

func TestComponent_StopWhenNotRunning(t *testing.T) {
	c := &Component{
		name:   "enrichment-api",
		logger: slog.Default(),
	}

	// Stopping a stopped component is a no-op
	if err := c.Stop(0); err != nil {
		t.Errorf("Stop() on stopped component error = %v, want nil", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(*Config) {}, false},
		{"missing gateway url", func(c *Config) { c.GraphGatewayURL = "" }, true},
		{"missing index path", func(c *Config) { c.IndexPath = "" }, true},
		{"missing records bucket", func(c *Config) { c.RecordsBucket = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
