package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"NewsRAG/internal/config"
	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

// AnthropicClient implements ports.LanguageModel with the Messages API.
type AnthropicClient struct {
	client      anthropic.Client
	model       anthropic.Model
	temperature float64
	maxTokens   int64
}

var _ ports.LanguageModel = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client from configuration with SDK retries disabled.
func NewAnthropicClient(cfg config.LLMConfig) *AnthropicClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(cfg.APIKey),
		anthropicoption.WithMaxRetries(0),
		anthropicoption.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       anthropic.Model(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

// Complete sends the prompt pair and concatenates the text blocks of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.model == "" {
		return "", fmt.Errorf("anthropic client misconfigured: empty model")
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: safePrompt(systemPrompt)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
		Temperature: anthropic.Float(c.temperature),
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("anthropic messages: %w", &domain.ProviderError{
				Service:    "anthropic",
				StatusCode: apiErr.StatusCode,
				Message:    strings.TrimSpace(apiErr.Error()),
			})
		}
		return "", fmt.Errorf("anthropic messages: %w: %w", domain.ErrTransport, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", fmt.Errorf("%w: empty anthropic response", domain.ErrModelOutput)
	}
	return content, nil
}
