package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"esicmap/internal/port"
)

// OllamaEmbedder calls the Ollama /api/embeddings endpoint, one text per
// request.
type OllamaEmbedder struct {
	baseURL string
	client  *http.Client
}

var _ port.Embedder = (*OllamaEmbedder)(nil)

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func NewOllamaEmbedder(baseURL string, timeout time.Duration) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Embed returns the raw embedding. An empty vector in a successful response
// is returned as is; callers decide how to treat it.
func (e *OllamaEmbedder) Embed(ctx context.Context, text, model string) ([]float32, error) {
	jsonData, err := json.Marshal(embeddingRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, preview(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", preview(body), err)
	}
	if embResp.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", embResp.Error)
	}

	return embResp.Embedding, nil
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// MockEmbedder derives a deterministic vector from the text's runes. It is
// used by tests and the benchmark tool.
type MockEmbedder struct {
	dimension int
	// EmbedFunc, when set, replaces the default derivation.
	EmbedFunc func(ctx context.Context, text, model string) ([]float32, error)
}

var _ port.Embedder = (*MockEmbedder)(nil)

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if e.EmbedFunc != nil {
		return e.EmbedFunc(ctx, text, model)
	}
	vec := make([]float32, e.dimension)
	for j, r := range []rune(text) {
		vec[j%e.dimension] += float32(r) / 1000.0
	}
	return vec, nil
}
