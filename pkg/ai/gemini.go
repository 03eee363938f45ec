package ai

import (
	"context"
	"fmt"
	"os"

	emaildomain "mailrecall-backend/internal/email/domain"

	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
)

// DefaultGeminiModel produces 768-dimensional vectors.
const DefaultGeminiModel = "text-embedding-004"

// GeminiEmbedder embeds text through chroma-go's Gemini embedding function.
type GeminiEmbedder struct {
	embedFunc *gemini.GeminiEmbeddingFunction
}

func NewGeminiEmbedder(apiKey string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider: %w", emaildomain.ErrConfiguration)
	}

	// The embedding function reads the key from the environment.
	if err := os.Setenv("GEMINI_API_KEY", apiKey); err != nil {
		return nil, fmt.Errorf("set GEMINI_API_KEY: %w", err)
	}

	embedFunc, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithEnvAPIKey(),
		gemini.WithDefaultModel(DefaultGeminiModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}
	return &GeminiEmbedder{embedFunc: embedFunc}, nil
}

func (g *GeminiEmbedder) Name() string { return string(ProviderGemini) }

func (g *GeminiEmbedder) Model() string { return string(ProviderGemini) + "/" + DefaultGeminiModel }

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb, err := g.embedFunc.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w: %w", emaildomain.ErrDependency, err)
	}
	if emb == nil {
		return nil, fmt.Errorf("gemini embed: empty response: %w", emaildomain.ErrDependency)
	}
	return emb.ContentAsFloat32(), nil
}

func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	embs, err := g.embedFunc.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("gemini embed batch: %w: %w", emaildomain.ErrDependency, err)
	}
	if len(embs) != len(texts) {
		return nil, fmt.Errorf("gemini embed batch: got %d vectors for %d texts: %w",
			len(embs), len(texts), emaildomain.ErrDependency)
	}
	out := make([][]float32, len(embs))
	for i, e := range embs {
		out[i] = e.ContentAsFloat32()
	}
	return out, nil
}
