package enrich

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/qxd-ai/awardflow/llm"
	"github.com/qxd-ai/awardflow/model"
)

// SectionSelector asks the completion service which sections of an
// instrument's hierarchy are relevant to a field.
type SectionSelector struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewSectionSelector creates a selector over the given completion service.
func NewSectionSelector(completer llm.Completer, logger *slog.Logger) *SectionSelector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SectionSelector{completer: completer, logger: logger}
}

// Choose returns verbatim section names from the formatted hierarchy that
// help determine the named field. No structured result yields an empty
// list, not an error; callers then proceed with zero clauses.
func (s *SectionSelector) Choose(ctx context.Context, field, award, classification, formattedHierarchy, additionalInfo string) ([]string, error) {
	resp, err := s.completer.Complete(ctx, llm.Request{
		Capability: model.CapabilitySelection.String(),
		Messages: []llm.Message{
			{Role: "system", Content: sectionChoiceSystemPrompt},
			{Role: "user", Content: sectionChoiceUserPrompt(field, award, classification, formattedHierarchy, additionalInfo)},
		},
		Tools:      []llm.ToolDefinition{chooseSectionsTool},
		ToolChoice: sectionsToolName,
	})
	if err != nil {
		return nil, err
	}

	if resp.ToolCall == nil || resp.ToolCall.Name != sectionsToolName {
		s.logger.Debug("No structured section choice", "field", field)
		return nil, nil
	}

	var choice SectionChoice
	if err := json.Unmarshal(resp.ToolCall.Arguments, &choice); err != nil {
		s.logger.Warn("Malformed section choice arguments", "field", field, "error", err)
		return nil, nil
	}

	return choice.Sections, nil
}
