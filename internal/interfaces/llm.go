package interfaces

import "context"

// Summarizer produces one summary per input text. The prompt and model
// arguments override the implementation defaults when non-empty,
// carrying per-job hints from the originating request.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string, prompt, model string) ([]string, error)
}

// Embedder converts text into a vector embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
