package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryResolve(t *testing.T) {
	r := NewDefaultRegistry()

	assert.Equal(t, "gpt-4o", r.Resolve(CapabilityClassification))
	assert.Equal(t, "gpt-4o", r.Resolve(CapabilitySelection))
	assert.Equal(t, "gpt-4o-mini", r.Resolve(CapabilityFast))

	// Unknown capability falls back to the default model
	assert.Equal(t, "gpt-4o-mini", r.Resolve(Capability("nonsense")))
}

func TestGetFallbackChain(t *testing.T) {
	r := NewDefaultRegistry()

	chain := r.GetFallbackChain(CapabilityClassification)
	require.NotEmpty(t, chain)
	assert.Equal(t, "gpt-4o", chain[0])
	assert.Contains(t, chain, "llama-3.3-70b")

	// Unknown capability gets a single-element chain with the default
	chain = r.GetFallbackChain(Capability("nonsense"))
	assert.Equal(t, []string{"gpt-4o-mini"}, chain)
}

func TestCapabilityForTask(t *testing.T) {
	assert.Equal(t, CapabilityClassification, CapabilityForTask("classify"))
	assert.Equal(t, CapabilitySelection, CapabilityForTask("choose-section"))
	assert.Equal(t, CapabilityProvisions, CapabilityForTask("enrich-column"))
	assert.Equal(t, CapabilityProvisions, CapabilityForTask("unknown"))
}

func TestParseCapability(t *testing.T) {
	assert.Equal(t, CapabilityProvisions, ParseCapability("provisions"))
	assert.Equal(t, Capability(""), ParseCapability("garbage"))
}

func TestGetEndpoint(t *testing.T) {
	r := NewDefaultRegistry()

	ep := r.GetEndpoint("llama-3.3-70b")
	require.NotNil(t, ep)
	assert.Equal(t, "groq", ep.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", ep.Model)

	assert.Nil(t, r.GetEndpoint("no-such-model"))
}

func TestSetCapabilityAndEndpoint(t *testing.T) {
	r := NewRegistry(nil, nil)

	r.SetCapability(CapabilityFast, &CapabilityConfig{Preferred: []string{"tiny"}})
	r.SetEndpoint("tiny", &EndpointConfig{Provider: "openai", Model: "gpt-4o-mini"})
	r.SetDefault("tiny")

	assert.Equal(t, "tiny", r.Resolve(CapabilityFast))
	assert.Equal(t, "tiny", r.Resolve(CapabilityProvisions))
	require.NotNil(t, r.GetEndpoint("tiny"))
}

func TestRegistryJSONRoundTrip(t *testing.T) {
	r := NewDefaultRegistry()

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded Registry
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, r.Resolve(CapabilityClassification), decoded.Resolve(CapabilityClassification))
	assert.ElementsMatch(t, r.ListEndpoints(), decoded.ListEndpoints())
}

func TestLoadFromJSON(t *testing.T) {
	cfg := []byte(`{
		"model_registry": {
			"capabilities": {
				"classification": {"preferred": ["primary"], "fallback": ["backup"]}
			},
			"endpoints": {
				"primary": {"provider": "openai", "model": "gpt-4o"},
				"backup": {"provider": "groq", "model": "llama-3.3-70b-versatile"}
			},
			"defaults": {"model": "backup"}
		}
	}`)

	r, err := LoadFromJSON(cfg)
	require.NoError(t, err)

	assert.Equal(t, "primary", r.Resolve(CapabilityClassification))
	assert.Equal(t, []string{"primary", "backup"}, r.GetFallbackChain(CapabilityClassification))
	assert.Equal(t, "backup", r.Resolve(CapabilitySelection))
}

func TestLoadFromJSONBareConfig(t *testing.T) {
	cfg := []byte(`{
		"capabilities": {
			"fast": {"preferred": ["quick"]}
		},
		"endpoints": {
			"quick": {"provider": "groq", "model": "llama-3.1-8b-instant"}
		}
	}`)

	r, err := LoadFromJSON(cfg)
	require.NoError(t, err)
	assert.Equal(t, "quick", r.Resolve(CapabilityFast))
}

func TestMergeFromConfig(t *testing.T) {
	r := NewDefaultRegistry()

	r.MergeFromConfig(&RegistryConfig{
		Capabilities: map[string]*CapabilityConfig{
			"classification": {Preferred: []string{"custom"}},
		},
		Endpoints: map[string]*EndpointConfig{
			"custom": {Provider: "openai", Model: "gpt-4o"},
		},
	})

	assert.Equal(t, "custom", r.Resolve(CapabilityClassification))
	// Untouched capabilities keep their defaults
	assert.Equal(t, "gpt-4o", r.Resolve(CapabilitySelection))
}

func TestCircuitBreaker(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenRequests: 1,
	})

	assert.True(t, r.IsEndpointAvailable("gpt-4o"))

	r.MarkEndpointFailure("gpt-4o")
	assert.True(t, r.IsEndpointAvailable("gpt-4o"), "below threshold stays available")

	r.MarkEndpointFailure("gpt-4o")
	assert.False(t, r.IsEndpointAvailable("gpt-4o"), "circuit opens at threshold")

	health := r.GetEndpointHealth("gpt-4o")
	require.NotNil(t, health)
	assert.True(t, health.CircuitOpen)
	assert.Equal(t, 2, health.FailureCount)

	// Recovery timeout elapses, half-open allows a test request
	time.Sleep(60 * time.Millisecond)
	assert.True(t, r.IsEndpointAvailable("gpt-4o"))

	r.MarkEndpointSuccess("gpt-4o")
	health = r.GetEndpointHealth("gpt-4o")
	require.NotNil(t, health)
	assert.False(t, health.CircuitOpen)
	assert.Equal(t, 0, health.FailureCount)
}

func TestGetAvailableFallbackChain(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})

	r.MarkEndpointFailure("gpt-4o")

	chain := r.GetAvailableFallbackChain(CapabilityClassification)
	assert.NotContains(t, chain, "gpt-4o")
	assert.Contains(t, chain, "llama-3.3-70b")

	// When everything is down, return the full chain anyway
	r.MarkEndpointFailure("llama-3.3-70b")
	r.MarkEndpointFailure("gpt-4o-mini")
	chain = r.GetAvailableFallbackChain(CapabilityClassification)
	assert.Equal(t, r.GetFallbackChain(CapabilityClassification), chain)
}

func TestResetEndpointHealth(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	r.MarkEndpointFailure("gpt-4o")
	assert.False(t, r.IsEndpointAvailable("gpt-4o"))

	r.ResetEndpointHealth("gpt-4o")
	assert.True(t, r.IsEndpointAvailable("gpt-4o"))
	assert.Nil(t, r.GetEndpointHealth("gpt-4o"))
}
