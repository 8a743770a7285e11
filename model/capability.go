// Package model provides capability-based model selection for enrichment tasks.
// Instead of hardcoding model names, callers specify capabilities (classification,
// selection, provisions) and the registry resolves them to available models with
// fallback chains.
package model

// Capability represents a semantic capability for model selection.
// Instead of specifying "gpt-4o", callers specify "classification" or "selection".
type Capability string

const (
	// CapabilityClassification is for matching workers to instruments and levels.
	CapabilityClassification Capability = "classification"

	// CapabilitySelection is for choosing relevant sections from a hierarchy.
	CapabilitySelection Capability = "selection"

	// CapabilityProvisions is for answering column questions from clause text.
	CapabilityProvisions Capability = "provisions"

	// CapabilityFast is for quick responses, simple tasks.
	CapabilityFast Capability = "fast"
)

// TaskCapabilities maps enrichment tasks to their default capability.
// Used when no explicit capability or model is specified.
var TaskCapabilities = map[string]Capability{
	"classify":       CapabilityClassification,
	"choose-section": CapabilitySelection,
	"enrich-column":  CapabilityProvisions,
}

// CapabilityForTask returns the default capability for a given task.
// Returns CapabilityProvisions as fallback for unknown tasks.
func CapabilityForTask(task string) Capability {
	if cap, ok := TaskCapabilities[task]; ok {
		return cap
	}
	return CapabilityProvisions
}

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityClassification, CapabilitySelection, CapabilityProvisions, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}
