package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

// Client talks to an OpenAI-compatible embeddings service (OpenAI, Ollama /v1, vLLM, ...).
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions int
	http       *http.Client
}

var _ ports.Embedder = (*Client)(nil)

// NewClient creates a reusable HTTP client. A zero dimension disables the size check.
func NewClient(endpoint, apiKey, model string, dimensions int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		http:       &http.Client{Timeout: timeout},
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends all texts in one request and returns one vector per text in
// input order. A count or dimension mismatch is a model output error.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, err
	}

	vectors, err := resp.vectors()
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: embeddings service returned %d vectors for %d inputs", domain.ErrModelOutput, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty vector at position %d", domain.ErrModelOutput, i)
		}
		if c.dimensions > 0 && len(v) != c.dimensions {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d", domain.ErrModelOutput, i, len(v), c.dimensions)
		}
	}

	return vectors, nil
}

// vectors orders OpenAI-style data by index, or takes the Ollama-style
// embeddings list as is.
func (r embeddingResponse) vectors() ([][]float32, error) {
	if len(r.Data) == 0 {
		return r.Embeddings, nil
	}

	data := r.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, item := range data {
		if item.Index != i {
			return nil, fmt.Errorf("%w: embeddings response has index %d at position %d", domain.ErrModelOutput, item.Index, i)
		}
		out[i] = item.Embedding
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: embeddings request: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &domain.ProviderError{
			Service:    "embeddings",
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: read embeddings response: %w", domain.ErrTransport, err)
		}
		return fmt.Errorf("%w: decode embeddings response: %w", domain.ErrModelOutput, err)
	}

	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if err := json.Unmarshal(body.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}
	return strings.TrimSpace(string(raw))
}
