package enrichmentapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the enrichment-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "enrichment-api",
		Factory:     NewComponent,
		Schema:      enrichmentAPISchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "awardflow",
		Description: "HTTP endpoints for streaming worker record enrichment",
		Version:     "0.1.0",
	})
}
