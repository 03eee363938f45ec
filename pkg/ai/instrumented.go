package ai

import (
	"context"
	"time"

	"mailrecall-backend/pkg/metrics"
	"mailrecall-backend/pkg/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InstrumentedEmbedder records metrics, a client span and a debug log per call.
type InstrumentedEmbedder struct {
	next   Embedder
	logger *zap.Logger
}

func NewInstrumentedEmbedder(next Embedder, logger *zap.Logger) *InstrumentedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedEmbedder{next: next, logger: logger}
}

func (i *InstrumentedEmbedder) Name() string { return i.next.Name() }

func (i *InstrumentedEmbedder) Model() string { return i.next.Model() }

func (i *InstrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := observability.StartClientSpan(ctx, "embedding.embed",
		attribute.String("embedding.provider", i.next.Name()),
	)
	defer span.End()

	start := time.Now()
	vec, err := i.next.Embed(ctx, text)
	i.observe(start, 1, err)
	observability.RecordError(span, err)
	return vec, err
}

func (i *InstrumentedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := observability.StartClientSpan(ctx, "embedding.embed_batch",
		attribute.String("embedding.provider", i.next.Name()),
		attribute.Int("embedding.batch_size", len(texts)),
	)
	defer span.End()

	start := time.Now()
	vecs, err := i.next.EmbedBatch(ctx, texts)
	i.observe(start, len(texts), err)
	observability.RecordError(span, err)
	return vecs, err
}

func (i *InstrumentedEmbedder) observe(start time.Time, n int, err error) {
	duration := time.Since(start)
	provider := i.next.Name()
	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, metrics.Status(err)).Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if err != nil {
		i.logger.Warn("[AI] Embedding request failed",
			zap.String("provider", provider), zap.Int("texts", n), zap.Duration("duration", duration), zap.Error(err))
		return
	}
	i.logger.Debug("[AI] Embedding request complete",
		zap.String("provider", provider), zap.Int("texts", n), zap.Duration("duration", duration))
}
