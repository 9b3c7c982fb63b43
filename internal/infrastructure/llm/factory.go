package llm

import (
	"fmt"
	"strings"

	"NewsRAG/internal/config"
	"NewsRAG/internal/ports"
)

// New picks the backend named in configuration.
func New(cfg config.LLMConfig) (ports.LanguageModel, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "openai", "groq", "ollama":
		return NewChatGPTClient(cfg), nil
	case "anthropic", "claude":
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("llm backend %s is not supported", cfg.Backend)
	}
}
