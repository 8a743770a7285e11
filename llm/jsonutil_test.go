package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "markdown code block",
			content: "Here you go:\n```json\n{\"a\": 1}\n```\nDone.",
			want:    `{"a": 1}`,
		},
		{
			name:    "bare code block",
			content: "```\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "raw object",
			content: `The answer is {"a": 1} as requested.`,
			want:    `{"a": 1}`,
		},
		{
			name:    "no json",
			content: "I cannot answer that.",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.content))
		})
	}
}

func TestExtractJSONCleansArtifacts(t *testing.T) {
	content := "```json\n{\n\"a\": 1, // the value\n\"b\": [1, 2,],\n}\n```"

	out := ExtractJSON(content)
	require.NotEmpty(t, out)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded), "cleaned output must be valid JSON: %s", out)
	assert.Equal(t, float64(1), decoded["a"])
}

func TestStripLineCommentRespectsStrings(t *testing.T) {
	assert.Equal(t, `"url": "http://example.com"`, stripLineComment(`"url": "http://example.com"`))
	assert.Equal(t, `"url": "http://example.com"`, stripLineComment(`"url": "http://example.com" // comment`))
	assert.Equal(t, `"path",`, stripLineComment(`"path", // trailing`))
}
