package enrich

import (
	"encoding/json"

	"github.com/qxd-ai/awardflow/llm"
)

// Tool definitions offered to the completion service. Each call site forces
// its tool so the model answers structurally or not at all.

const (
	classifyToolName   = "classify_worker"
	sectionsToolName   = "choose_sections"
	provisionsToolName = "worker_provisions"
)

var classifyTool = llm.ToolDefinition{
	Name:        classifyToolName,
	Description: "Classify a worker under the correct governing instrument and level.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"award_id": {
				"type": "string",
				"description": "The ID of the instrument that covers the worker, eg. 'MA000001'"
			},
			"award_reasoning": {
				"type": "string",
				"description": "Succinct reasoning for classifying the worker under the specified instrument."
			},
			"award_clauses": {
				"type": "array",
				"items": {"type": "string"},
				"description": "All clause keys used to make the instrument decision, eg. [\"1.1\", \"34.2\", \"A.1.14\"]"
			},
			"level": {
				"type": "string",
				"description": "Classification level of the worker under the specified instrument, eg. Level 1 or Level 2"
			},
			"level_reasoning": {
				"type": "string",
				"description": "Succinct reasoning for classifying the worker at the specified level."
			},
			"level_clauses": {
				"type": "array",
				"items": {"type": "string"},
				"description": "All clause keys used to make the level decision, eg. [\"1.1\", \"34.2\", \"A.1.14\"]"
			},
			"try_again": {
				"type": "boolean",
				"description": "If none of the provided instruments cover the worker, set this to true to see additional instruments."
			}
		},
		"required": ["award_id", "award_reasoning", "award_clauses", "level", "level_reasoning", "level_clauses"]
	}`),
}

var chooseSectionsTool = llm.ToolDefinition{
	Name:        sectionsToolName,
	Description: "Choose relevant sections from a governing instrument.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"sections": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Verbatim section or subsection names from the instrument."
			}
		},
		"required": ["sections"]
	}`),
}

var provisionsTool = llm.ToolDefinition{
	Name:        provisionsToolName,
	Description: "Report what the instrument provides for the worker on the requested topic.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"provision_id": {
				"type": "string",
				"description": "A short identifier naming the provision, eg. 'PayRate'"
			},
			"provision": {
				"type": "string",
				"description": "The answer: what the instrument provides for this worker on the requested topic."
			},
			"provision_clauses": {
				"type": "array",
				"items": {"type": "string"},
				"description": "All clause keys cited to support the answer, eg. [\"20.1\", \"25.3\"]"
			}
		},
		"required": ["provision_id", "provision", "provision_clauses"]
	}`),
}
