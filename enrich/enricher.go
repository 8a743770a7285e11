package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/qxd-ai/awardflow/clause"
	"github.com/qxd-ai/awardflow/llm"
	"github.com/qxd-ai/awardflow/model"
)

// ClauseSource is the read-only slice of the clause store the pipeline
// consumes. *clause.Store implements it.
type ClauseSource interface {
	SectionHierarchy(ctx context.Context, instrumentID string) (clause.Hierarchy, error)
	ClausesForSections(ctx context.Context, instrumentID string, sections []string) (map[string][]clause.ClauseWithRefs, error)
	CoverageClauses(ctx context.Context, instrumentID string, keys []string) ([]clause.Clause, error)
	BuildCoverageCorpus(ctx context.Context, instruments []clause.Instrument) (string, map[string]clause.Reference, error)
}

// ColumnEnricher computes one open column: section selection, clause
// retrieval, completion, citation resolution.
type ColumnEnricher struct {
	source    ClauseSource
	selector  *SectionSelector
	completer llm.Completer
	logger    *slog.Logger
}

// NewColumnEnricher creates an enricher over the given collaborators.
func NewColumnEnricher(source ClauseSource, selector *SectionSelector, completer llm.Completer, logger *slog.Logger) *ColumnEnricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ColumnEnricher{source: source, selector: selector, completer: completer, logger: logger}
}

// Enrich answers one column for a classified worker. A pre-filled column
// passes through unchanged with no external calls. Completion failures
// (after the client's retries) are returned as errors and become that
// column's error payload; a structured miss falls back deterministically.
func (e *ColumnEnricher) Enrich(ctx context.Context, instrumentID, award, classification, name string, col Column) (ColumnResult, map[string]clause.Reference, error) {
	if col.Value != "" {
		return ColumnResult{Answer: col.Value}, map[string]clause.Reference{}, nil
	}

	hierarchy, err := e.source.SectionHierarchy(ctx, instrumentID)
	if err != nil {
		return ColumnResult{}, nil, fmt.Errorf("section hierarchy for %s: %w", instrumentID, err)
	}

	sections, err := e.selector.Choose(ctx, name, award, classification, hierarchy.Format(), col.AdditionalInfo)
	if err != nil {
		return ColumnResult{}, nil, fmt.Errorf("choose sections for %q: %w", name, err)
	}

	groups, err := e.source.ClausesForSections(ctx, instrumentID, sections)
	if err != nil {
		return ColumnResult{}, nil, fmt.Errorf("clauses for sections: %w", err)
	}

	corpus, available := collateClauses(groups)

	resp, err := e.completer.Complete(ctx, llm.Request{
		Capability: model.CapabilityProvisions.String(),
		Messages: []llm.Message{
			{Role: "system", Content: provisionsSystemPrompt},
			{Role: "user", Content: provisionsUserPrompt(award, classification, name, col.AdditionalInfo, corpus)},
		},
		Tools:      []llm.ToolDefinition{provisionsTool},
		ToolChoice: provisionsToolName,
	})
	if err != nil {
		return ColumnResult{}, nil, fmt.Errorf("complete column %q: %w", name, err)
	}

	answer, ok := e.parseAnswer(resp)
	if !ok {
		e.logger.Warn("No structured column answer, synthesizing fallback",
			"column", name, "instrument", instrumentID)
		return ColumnResult{
			Answer:   fmt.Sprintf("%s Data (%s)", name, instrumentID),
			Fallback: true,
		}, map[string]clause.Reference{}, nil
	}

	result := ColumnResult{Answer: answer.Provision}
	references := make(map[string]clause.Reference)
	for _, key := range answer.ProvisionClauses {
		ref, ok := available[key]
		if !ok {
			// Cited keys outside the retrieved corpus are dropped, never
			// fabricated.
			e.logger.Debug("Dropping unresolvable citation", "column", name, "key", key)
			continue
		}
		if _, dup := references[key]; dup {
			continue
		}
		references[key] = ref
		result.CitedKeys = append(result.CitedKeys, key)
	}

	return result, references, nil
}

// parseAnswer extracts and validates the provisions tool result.
func (e *ColumnEnricher) parseAnswer(resp *llm.Response) (ColumnAnswer, bool) {
	var raw json.RawMessage
	switch {
	case resp.ToolCall != nil && resp.ToolCall.Name == provisionsToolName:
		raw = resp.ToolCall.Arguments
	case resp.Content != "":
		if extracted := llm.ExtractJSON(resp.Content); extracted != "" {
			raw = json.RawMessage(extracted)
		}
	}
	if raw == nil {
		return ColumnAnswer{}, false
	}

	var answer ColumnAnswer
	if err := json.Unmarshal(raw, &answer); err != nil {
		e.logger.Warn("Malformed column answer arguments", "error", err)
		return ColumnAnswer{}, false
	}
	if err := answer.Validate(); err != nil {
		e.logger.Warn("Incomplete column answer", "error", err)
		return ColumnAnswer{}, false
	}
	return answer, true
}

// collateClauses renders retrieved clauses into prompt text and a
// reference map keyed by clause key. Resolved reference clauses are part
// of the citable corpus too. Sections render in sorted order so the same
// retrieval always produces the same prompt.
func collateClauses(groups map[string][]clause.ClauseWithRefs) (string, map[string]clause.Reference) {
	available := make(map[string]clause.Reference)
	rendered := make(map[string][]clauseGroupEntry, len(groups))
	order := make([]string, 0, len(groups))

	for section, entries := range groups {
		order = append(order, section)
		for _, entry := range entries {
			c := entry.Clause
			rendered[section] = append(rendered[section], clauseGroupEntry{Name: c.Name, Key: c.Key, Content: c.Content})
			if _, ok := available[c.Key]; !ok {
				available[c.Key] = clause.Reference{ID: c.ID, Key: c.Key, Title: c.Name, Content: c.Content}
			}
			for _, ref := range entry.References {
				rendered[section] = append(rendered[section], clauseGroupEntry{Name: ref.Name, Key: ref.Key, Content: ref.Content})
				if _, ok := available[ref.Key]; !ok {
					available[ref.Key] = clause.Reference{ID: ref.ID, Key: ref.Key, Title: ref.Name, Content: ref.Content}
				}
			}
		}
	}

	sort.Strings(order)
	return formatClauseCorpus(rendered, order), available
}
