// Package enrich implements the worker-record enrichment pipeline:
// classification against candidate instruments, per-column section
// selection and clause retrieval, and streaming assembly of field updates.
package enrich

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qxd-ai/awardflow/clause"
)

// Field names for the two derived slots every record gets.
const (
	FieldAward          = "Award"
	FieldClassification = "Classification"
)

// ErrNoCandidateInstruments means the index has no instruments for the
// worker's industry. Fatal for the whole record.
var ErrNoCandidateInstruments = errors.New("no candidate instruments for industry")

// WorkerRecord is the record schema accepted by the pipeline.
type WorkerRecord struct {
	ID         string            `json:"id"`
	Attributes map[string]any    `json:"attributes"`
	Columns    map[string]Column `json:"columns"`
}

// Column is one user-defined field slot. An empty Value marks it open.
type Column struct {
	Value          string `json:"value"`
	AdditionalInfo string `json:"additional_info"`
}

// DisplayName returns the worker's display name, falling back to the
// record id when no fullName attribute is present.
func (r WorkerRecord) DisplayName() string {
	if name, ok := r.Attributes["fullName"].(string); ok && name != "" {
		return name
	}
	return r.ID
}

// CandidateInstrument is one instrument the index proposes for a worker.
type CandidateInstrument struct {
	ID           string   `json:"award_id"`
	Name         string   `json:"award_name"`
	CoverageKeys []string `json:"coverage_clauses"`
}

// Instrument converts the candidate into the clause store's form.
func (c CandidateInstrument) Instrument() clause.Instrument {
	return clause.Instrument{ID: c.ID, Name: c.Name, CoverageKeys: c.CoverageKeys}
}

// ColumnResult is the outcome of enriching one column.
type ColumnResult struct {
	Answer    string   `json:"answer"`
	Reasoning string   `json:"reasoning,omitempty"`
	CitedKeys []string `json:"cited_keys,omitempty"`
	Fallback  bool     `json:"fallback,omitempty"`
}

// FieldValue is the payload side of a field update.
type FieldValue struct {
	Value      string                      `json:"value"`
	Reasoning  string                      `json:"reasoning,omitempty"`
	References map[string]clause.Reference `json:"references"`
	Error      string                      `json:"error,omitempty"`
}

// FieldUpdate is the unit streamed to the caller: one field name paired
// with its value and resolved references. A FieldUpdate with an empty
// Field carries a record-fatal error.
type FieldUpdate struct {
	Field string
	FieldValue
}

// ErrorUpdate builds the record-fatal error update that terminates a stream.
func ErrorUpdate(err error) FieldUpdate {
	return FieldUpdate{FieldValue: FieldValue{Error: err.Error()}}
}

// MarshalJSON renders the update as the single-key wire format consumed by
// the streaming transport: {"<field>": {"value": ..., "references": ...}},
// or {"error": ...} for record-fatal updates.
func (u FieldUpdate) MarshalJSON() ([]byte, error) {
	if u.Field == "" {
		return json.Marshal(map[string]string{"error": u.Error})
	}

	refs := u.References
	if refs == nil {
		refs = map[string]clause.Reference{}
	}
	payload := u.FieldValue
	payload.References = refs
	return json.Marshal(map[string]FieldValue{u.Field: payload})
}

// UnmarshalJSON parses the single-key wire format back into a FieldUpdate.
func (u *FieldUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("field update must have exactly one key, got %d", len(raw))
	}

	for key, val := range raw {
		if key == "error" {
			var msg string
			if err := json.Unmarshal(val, &msg); err != nil {
				return err
			}
			*u = FieldUpdate{FieldValue: FieldValue{Error: msg}}
			return nil
		}

		var payload FieldValue
		if err := json.Unmarshal(val, &payload); err != nil {
			return err
		}
		*u = FieldUpdate{Field: key, FieldValue: payload}
	}
	return nil
}

// ClauseList decodes a cited-clause list leniently: models emit either a
// real JSON array or an array serialized inside a string, and the tool
// schema historically described the latter.
type ClauseList []string

// UnmarshalJSON accepts ["1.1"], "[\"1.1\"]" and "1.1".
func (c *ClauseList) UnmarshalJSON(data []byte) error {
	var direct []string
	if err := json.Unmarshal(data, &direct); err == nil {
		*c = direct
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("clause list must be an array or string: %s", string(data))
	}

	var nested []string
	if err := json.Unmarshal([]byte(s), &nested); err == nil {
		*c = nested
		return nil
	}

	if s == "" {
		*c = nil
		return nil
	}
	*c = []string{s}
	return nil
}

// ClassificationResult is the typed form of the classification tool call.
// Parsed once at the llm boundary; untyped maps never travel further.
type ClassificationResult struct {
	AwardID        string     `json:"award_id"`
	AwardReasoning string     `json:"award_reasoning"`
	AwardClauses   ClauseList `json:"award_clauses"`
	Level          string     `json:"level"`
	LevelReasoning string     `json:"level_reasoning"`
	LevelClauses   ClauseList `json:"level_clauses"`
	TryAgain       bool       `json:"try_again,omitempty"`
}

// Validate checks the schema's required fields.
func (r ClassificationResult) Validate() error {
	if r.AwardID == "" {
		return fmt.Errorf("classification result missing award_id")
	}
	if r.Level == "" {
		return fmt.Errorf("classification result missing level")
	}
	return nil
}

// SectionChoice is the typed form of the section-selection tool call.
type SectionChoice struct {
	Sections []string `json:"sections"`
}

// ColumnAnswer is the typed form of the provisions tool call.
type ColumnAnswer struct {
	ProvisionID      string     `json:"provision_id"`
	Provision        string     `json:"provision"`
	ProvisionClauses ClauseList `json:"provision_clauses"`
}

// Validate checks the schema's required fields.
func (a ColumnAnswer) Validate() error {
	if a.Provision == "" {
		return fmt.Errorf("column answer missing provision")
	}
	return nil
}
