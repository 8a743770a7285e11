package providers

import (
	"net/http"
	"testing"

	"github.com/qxd-ai/awardflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroqBuildURL(t *testing.T) {
	p := &GroqProvider{}

	assert.Equal(t, "https://api.groq.com/openai/v1/chat/completions", p.BuildURL(""))
	assert.Equal(t, "http://localhost:9999/v1/chat/completions", p.BuildURL("http://localhost:9999/v1/"))
}

func TestGroqSetHeaders(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("OPENAI_API_KEY", "sk-should-not-be-used")

	req, err := http.NewRequest(http.MethodPost, "http://example.com", nil)
	require.NoError(t, err)

	(&GroqProvider{}).SetHeaders(req)
	assert.Equal(t, "Bearer gsk-test", req.Header.Get("Authorization"))
}

func TestProvidersRegistered(t *testing.T) {
	assert.NotNil(t, llm.GetProvider("openai"))
	assert.NotNil(t, llm.GetProvider("groq"))
}
