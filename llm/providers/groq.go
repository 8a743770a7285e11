package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/qxd-ai/awardflow/llm"
)

// GroqProvider implements the Groq API, which speaks the OpenAI wire format.
// This is separate from OpenAIProvider to allow different default URLs and auth.
type GroqProvider struct {
	OpenAIProvider // Embed for shared request/response format
}

func init() {
	llm.RegisterProvider(&GroqProvider{})
}

// Name returns the provider identifier.
func (g *GroqProvider) Name() string {
	return "groq"
}

// BuildURL constructs the Groq API endpoint.
func (g *GroqProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}

	return baseURL + "/chat/completions"
}

// SetHeaders adds Groq authentication headers.
func (g *GroqProvider) SetHeaders(req *http.Request) {
	apiKey := os.Getenv("GROQ_API_KEY")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
