package enrichmentapi

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// enrichmentAPISchema defines the configuration schema.
var enrichmentAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the enrichment-api component.
type Config struct {
	// GraphGatewayURL is the base URL of the clause graph gateway.
	GraphGatewayURL string `json:"graph_gateway_url" schema:"type:string,description:Clause graph gateway base URL,category:basic,default:http://localhost:8686"`

	// IndexPath is the JSON file mapping industries to candidate instruments.
	IndexPath string `json:"index_path" schema:"type:string,description:Candidate instrument index file,category:basic,default:awards.json"`

	// RegistryFile optionally overrides the built-in capability registry.
	RegistryFile string `json:"registry_file" schema:"type:string,description:Model registry override file,category:advanced"`

	// RecordsBucket is the KV bucket name for enriched worker records.
	RecordsBucket string `json:"records_bucket" schema:"type:string,description:KV bucket for enriched records,category:basic,default:WORKER_RECORDS"`

	// TransitiveRefs follows references of referenced clauses when true.
	TransitiveRefs bool `json:"transitive_refs" schema:"type:bool,description:Resolve clause references recursively,category:advanced"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		GraphGatewayURL: "http://localhost:8686",
		IndexPath:       "awards.json",
		RecordsBucket:   "WORKER_RECORDS",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.GraphGatewayURL == "" {
		return fmt.Errorf("graph_gateway_url is required")
	}
	if c.IndexPath == "" {
		return fmt.Errorf("index_path is required")
	}
	if c.RecordsBucket == "" {
		return fmt.Errorf("records_bucket is required")
	}
	return nil
}
