package providers

import (
	"fmt"
	"strings"
)

// New builds the provider backend for name. When name is empty the
// backend is inferred from the model identifier.
func New(name, model, apiKey, apiBase string) (LLMProvider, error) {
	resolved := strings.TrimSpace(strings.ToLower(name))
	if resolved == "" {
		resolved = InferProviderFromModel(model)
	}
	switch resolved {
	case "anthropic":
		return NewAnthropicProvider(apiKey, apiBase), nil
	case "openai":
		return NewOpenAIProvider(apiKey, apiBase), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

// InferProviderFromModel infers a provider label from a model identifier.
func InferProviderFromModel(model string) string {
	m := strings.TrimSpace(strings.ToLower(model))
	switch {
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	default:
		return "openai"
	}
}
