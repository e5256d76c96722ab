package ai

import (
	"context"
	"strings"
	"time"
)

var defaultBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"ollama":     "http://localhost:11434/v1",
}

// DefaultBaseURL returns the OpenAI compatible endpoint of a known provider.
func DefaultBaseURL(name string) string {
	return defaultBaseURLs[strings.ToLower(strings.TrimSpace(name))]
}

// RegisterOpenAICompatible registers name as a provider served through the
// OpenAI wire format. An empty baseURL falls back to the provider default.
func RegisterOpenAICompatible(reg *Registry, name, apiKey, baseURL string, timeout time.Duration) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL(name)
	}
	client := NewOpenAIClient(apiKey, baseURL, timeout)
	reg.Register(name, func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		return NewOpenAIProvider(client, model), nil
	})
}
