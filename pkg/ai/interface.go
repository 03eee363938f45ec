package ai

import "context"

// Embedder turns text into a fixed-width vector.
// Implement this interface to add new embedding providers.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Name is the provider label used in logs and metrics.
	Name() string
	// Model identifies the embedding space as "provider/model". Vectors from
	// different models are not comparable even at equal width.
	Model() string
}

// ProviderType represents the embedding provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)
