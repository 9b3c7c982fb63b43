package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"NewsRAG/internal/config"
	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

// ChatGPTClient implements ports.LanguageModel backed by OpenAI-compatible
// chat completion APIs (OpenAI, Groq, Ollama, vLLM).
type ChatGPTClient struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

var _ ports.LanguageModel = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from configuration. SDK retries are
// disabled; the caller decides whether to re-run a request.
func NewChatGPTClient(cfg config.LLMConfig) *ChatGPTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &ChatGPTClient{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Complete sends one system and one user message and returns the first choice.
func (c *ChatGPTClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("chatgpt client is nil")
	}
	if c.model == "" {
		return "", fmt.Errorf("chatgpt client misconfigured: empty model")
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(safePrompt(systemPrompt)),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in chat completion", domain.ErrModelOutput)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		if refusal := resp.Choices[0].Message.Refusal; refusal != "" {
			return "", fmt.Errorf("%w: model refused: %s", domain.ErrModelOutput, refusal)
		}
		return "", fmt.Errorf("%w: empty chat completion", domain.ErrModelOutput)
	}
	return content, nil
}

func classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, &domain.ProviderError{
			Service:    "openai-compatible llm",
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
		})
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransport, err)
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You are a helpful assistant that answers questions about news articles."
	}
	return prompt
}
