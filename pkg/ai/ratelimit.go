package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds the token bucket settings for outbound embedding calls.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// RateLimitedEmbedder blocks each call until the token bucket allows it.
type RateLimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps next. A non-positive rate disables limiting.
func NewRateLimitedEmbedder(next Embedder, cfg RateLimitConfig) Embedder {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	return &RateLimitedEmbedder{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
	}
}

func (r *RateLimitedEmbedder) Name() string { return r.next.Name() }

func (r *RateLimitedEmbedder) Model() string { return r.next.Model() }

func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Embed(ctx, text)
}

func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.EmbedBatch(ctx, texts)
}
