package ai

import (
	"fmt"

	emaildomain "mailrecall-backend/internal/email/domain"

	"go.uber.org/zap"
)

// Config holds embedding provider configuration
type Config struct {
	Provider ProviderType // "gemini", "openai", "ollama" or "auto"

	// Gemini config
	GeminiAPIKey string

	// OpenAI-compatible config
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Ollama config
	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "nomic-embed-text"
	// OllamaFallbackBaseURL is a second host serving OllamaModel, tried when the first is down.
	OllamaFallbackBaseURL string

	RateLimit RateLimitConfig
}

// NewEmbedder builds the configured provider chain. Every chain serves exactly one model.
// "auto" picks Gemini when a key is set and Ollama otherwise; it never mixes the two.
func NewEmbedder(cfg Config, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var base Embedder
	switch cfg.Provider {
	case ProviderGemini:
		g, err := NewGeminiEmbedder(cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		base = NewInstrumentedEmbedder(g, logger)

	case ProviderOpenAI:
		o, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			Dimensions: emaildomain.EmbeddingDimension,
		})
		if err != nil {
			return nil, err
		}
		base = NewInstrumentedEmbedder(o, logger)

	case ProviderOllama:
		o, err := newOllamaChain(cfg, logger)
		if err != nil {
			return nil, err
		}
		base = o

	case ProviderAuto, "":
		if cfg.GeminiAPIKey == "" {
			o, err := newOllamaChain(cfg, logger)
			if err != nil {
				return nil, err
			}
			base = o
			break
		}
		g, err := NewGeminiEmbedder(cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		base = NewInstrumentedEmbedder(g, logger)

	default:
		return nil, fmt.Errorf("unknown embedding provider %q: %w", cfg.Provider, emaildomain.ErrConfiguration)
	}

	logger.Info("[AI] Embedding provider ready",
		zap.String("provider", base.Name()),
		zap.String("model", base.Model()),
	)
	return NewRateLimitedEmbedder(base, cfg.RateLimit), nil
}

func newOllamaChain(cfg Config, logger *zap.Logger) (Embedder, error) {
	primary := NewInstrumentedEmbedder(NewOllamaEmbedder(cfg.OllamaBaseURL, cfg.OllamaModel), logger)
	if cfg.OllamaFallbackBaseURL == "" {
		return primary, nil
	}
	secondary := NewInstrumentedEmbedder(NewOllamaEmbedder(cfg.OllamaFallbackBaseURL, cfg.OllamaModel), logger)
	f, err := NewFallbackEmbedder(primary, secondary, logger)
	if err != nil {
		return nil, err
	}
	return f, nil
}
