package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/metrics"

	"go.uber.org/zap"
)

// FallbackEmbedder routes to the primary provider and switches to the secondary
// when the primary is unreachable or out of quota. Both serve the same model, so
// stored and query vectors stay comparable whichever one answered.
type FallbackEmbedder struct {
	primary   Embedder
	secondary Embedder
	logger    *zap.Logger
}

// NewFallbackEmbedder pairs two endpoints of one model. Providers reporting different
// models are rejected with ErrConfiguration.
func NewFallbackEmbedder(primary, secondary Embedder, logger *zap.Logger) (*FallbackEmbedder, error) {
	if primary.Model() != secondary.Model() {
		return nil, fmt.Errorf("fallback from %s to %s crosses embedding models: %w",
			primary.Model(), secondary.Model(), emaildomain.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackEmbedder{primary: primary, secondary: secondary, logger: logger}, nil
}

func (f *FallbackEmbedder) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *FallbackEmbedder) Model() string { return f.primary.Model() }

func (f *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	if !f.shouldFallback(ctx, err) {
		return nil, err
	}
	return f.secondary.Embed(ctx, text)
}

func (f *FallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := f.primary.EmbedBatch(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if !f.shouldFallback(ctx, err) {
		return nil, err
	}
	return f.secondary.EmbedBatch(ctx, texts)
}

func (f *FallbackEmbedder) shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case isConnectionError(err):
		f.logger.Warn("[AI] Primary embedder unreachable, falling back",
			zap.String("primary", f.primary.Name()),
			zap.String("secondary", f.secondary.Name()),
			zap.Error(err))
	case isQuotaError(err):
		f.logger.Warn("[AI] Primary embedder quota exhausted, falling back",
			zap.String("primary", f.primary.Name()),
			zap.String("secondary", f.secondary.Name()),
			zap.Error(err))
	default:
		return false
	}
	metrics.EmbeddingFallbacksTotal.WithLabelValues(f.primary.Name(), f.secondary.Name()).Inc()
	return true
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return containsAny(err.Error(),
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"EOF",
	)
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(),
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"RESOURCE_EXHAUSTED",
	)
}

func containsAny(s string, indicators ...string) bool {
	lower := strings.ToLower(s)
	for _, indicator := range indicators {
		if strings.Contains(lower, strings.ToLower(indicator)) {
			return true
		}
	}
	return false
}

// VerifyDimension embeds a probe string and fails with ErrConfiguration when the
// provider's vector width differs from the stored one.
func VerifyDimension(ctx context.Context, e Embedder) error {
	vec, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("probe %s: %w", e.Name(), err)
	}
	if len(vec) != emaildomain.EmbeddingDimension {
		return fmt.Errorf("provider %s returns %d dimensions, expected %d: %w",
			e.Name(), len(vec), emaildomain.EmbeddingDimension, emaildomain.ErrConfiguration)
	}
	return nil
}
