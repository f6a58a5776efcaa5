package vectorstore

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/marcwadey/granary/internal/interfaces"
)

// GeminiEmbedder produces embeddings through the Gemini API.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	logger    arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates the embedder. The dimension must match the
// vector store's column width.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimension int, logger arbor.ILogger) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dimension <= 0 {
		dimension = 768
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiEmbedder{
		client:    client,
		model:     model,
		dimension: dimension,
		logger:    logger,
	}, nil
}

// Embed returns the embedding vector for one text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	outputDim := int32(e.dimension)
	result, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &outputDim},
	)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedding response contained no values")
	}

	values := result.Embeddings[0].Values
	if len(values) != e.dimension {
		return nil, fmt.Errorf("expected %d dimensions, got %d", e.dimension, len(values))
	}
	return values, nil
}

// Dimension returns the configured embedding width.
func (e *GeminiEmbedder) Dimension() int {
	return e.dimension
}
