// Package openai embeds text through any OpenAI-compatible endpoint,
// typically a self-hosted embedding service fronting an open model.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

type Embedder struct {
	impl *embeddings.EmbedderImpl
}

func NewEmbedder(baseURL, token, model string) (*Embedder, error) {
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(strings.TrimPrefix(token, "Bearer ")),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("init embedding client: %w", err)
	}
	impl, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	return &Embedder{impl: impl}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.impl.EmbedQuery(ctx, text)
}
