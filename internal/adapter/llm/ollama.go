package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"esicmap/internal/logging"
	"esicmap/internal/port"
)

// ErrEmptyResponse is returned when the model answered with no text.
var ErrEmptyResponse = errors.New("empty model response")

// Endpoint is the Ollama API a model is queried through.
type Endpoint string

const (
	EndpointChat     Endpoint = "chat"
	EndpointGenerate Endpoint = "generate"
)

// ResolveEndpoint picks the chat API for chat-tuned model families and the
// generate API for everything else.
func ResolveEndpoint(model string) Endpoint {
	if strings.HasSuffix(model, "-chat") || strings.HasPrefix(model, "gemma") || strings.HasPrefix(model, "qwen") {
		return EndpointChat
	}
	return EndpointGenerate
}

// Options tune a generation request.
type Options struct {
	Temperature float64
	MaxTokens   int
	Retries     int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

// OllamaGenerator sends prompts to /api/chat or /api/generate.
type OllamaGenerator struct {
	host   string
	opts   Options
	client *http.Client
	logger *logging.Logger
}

var _ port.Generator = (*OllamaGenerator)(nil)

func NewOllamaGenerator(host string, opts Options, logger *logging.Logger) *OllamaGenerator {
	if host == "" {
		host = "http://localhost:11434"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &OllamaGenerator{
		host:   strings.TrimRight(host, "/"),
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelOptions struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateRequest struct {
	Model    string        `json:"model"`
	Prompt   string        `json:"prompt,omitempty"`
	Messages []chatMessage `json:"messages,omitempty"`
	Stream   bool          `json:"stream"`
	Options  modelOptions  `json:"options"`
}

type generateResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Response string `json:"response"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
}

// Generate queries model, retrying failed attempts up to opts.Retries times
// with a fixed delay.
func (g *OllamaGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	endpoint := ResolveEndpoint(model)
	req := generateRequest{
		Model:  model,
		Stream: false,
		Options: modelOptions{
			Temperature: g.opts.Temperature,
			NumPredict:  g.opts.MaxTokens,
		},
	}
	prompt = strings.TrimSpace(prompt)
	if endpoint == EndpointChat {
		req.Messages = []chatMessage{{Role: "user", Content: prompt}}
	} else {
		req.Prompt = prompt
	}

	var lastErr error
	for attempt := 0; attempt <= g.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.opts.RetryDelay):
			}
		}

		start := time.Now()
		text, err := g.do(ctx, endpoint, req)
		if err == nil {
			g.logger.Debug("%s response from %s in %s", endpoint, model, time.Since(start).Round(time.Millisecond))
			return text, nil
		}
		lastErr = err
		g.logger.Warn("generation attempt %d with %s failed: %v", attempt+1, model, err)
	}

	return "", fmt.Errorf("generation failed after %d attempts: %w", g.opts.Retries+1, lastErr)
}

func (g *OllamaGenerator) do(ctx context.Context, endpoint Endpoint, body generateRequest) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host+"/api/"+string(endpoint), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama api error: %s", resp.Status)
	}

	var res generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	if res.Error != "" {
		return "", fmt.Errorf("ollama error: %s", res.Error)
	}

	text := res.Message.Content
	if endpoint == EndpointGenerate {
		text = res.Response
		if text == "" {
			text = res.Output
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// MockGenerator returns canned text. GenerateFunc overrides the default.
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, model, prompt string) (string, error)
	Prompts      []string
}

var _ port.Generator = (*MockGenerator)(nil)

func (m *MockGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, model, prompt)
	}
	return "mock recommendation", nil
}
