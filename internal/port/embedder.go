package port

import "context"

// Embedder turns text into a raw embedding vector.
type Embedder interface {
	// Embed returns the embedding of text computed by model.
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Generator produces free text from a prompt.
type Generator interface {
	// Generate sends prompt to model and returns the trimmed response.
	Generate(ctx context.Context, model, prompt string) (string, error)
}
