package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/internal/email/extractor"
	"mailrecall-backend/pkg/logger"
	"mailrecall-backend/pkg/metrics"
	"mailrecall-backend/pkg/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
)

const (
	// DefaultIngestWorkers bounds per-batch fan-out when no value is configured.
	DefaultIngestWorkers = 5
	// DefaultCallTimeout bounds each external call made on behalf of one email.
	DefaultCallTimeout = 30 * time.Second

	outcomeSucceeded = "succeeded"
	outcomeSkipped   = "skipped"
)

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Workers     int
	CallTimeout time.Duration
}

// IngestionPipeline runs fetch, extract, build, embed and upsert for a batch of email ids.
type IngestionPipeline struct {
	source   MessageSource
	embedder Embedder
	store    VectorStore
	builder  *extractor.Builder
	cfg      IngestConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewIngestionPipeline wires the write path. A nil builder uses the default text limit.
func NewIngestionPipeline(
	source MessageSource,
	embedder Embedder,
	store VectorStore,
	builder *extractor.Builder,
	cfg IngestConfig,
	log *zap.Logger,
) *IngestionPipeline {
	if builder == nil {
		builder = extractor.NewBuilder(0)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultIngestWorkers
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &IngestionPipeline{
		source:   source,
		embedder: embedder,
		store:    store,
		builder:  builder,
		cfg:      cfg,
		logger:   logger.OrNop(log),
		now:      time.Now,
	}
}

// Ingest processes every id independently. Per-id failures are reported in the result
// and never abort the batch; the returned error is reserved for invalid owner input.
func (p *IngestionPipeline) Ingest(ctx context.Context, ownerID string, emailIDs []string) (*emaildomain.IngestResult, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, emaildomain.NewValidationError("owner_id", "must not be empty")
	}

	ctx, span := observability.StartSpan(ctx, "email.ingest",
		attribute.String("owner_id", ownerID),
		attribute.Int("batch_size", len(emailIDs)),
	)
	defer span.End()

	result := &emaildomain.IngestResult{
		Succeeded: []string{},
		Failed:    map[string]string{},
		Skipped:   []string{},
	}

	var mu sync.Mutex
	record := func(emailID, outcome string) {
		metrics.IngestOutcomesTotal.WithLabelValues(outcome).Inc()
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case outcomeSucceeded:
			result.Succeeded = append(result.Succeeded, emailID)
		case outcomeSkipped:
			result.Skipped = append(result.Skipped, emailID)
		default:
			result.Failed[emailID] = outcome
		}
	}

	ids, invalid := normalizeIDs(emailIDs)
	for _, id := range invalid {
		record(id, emaildomain.ReasonInvalidID)
	}

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Workers)
	for _, emailID := range ids {
		if ctx.Err() != nil {
			record(emailID, emaildomain.ReasonCanceled)
			continue
		}
		g.Go(func() error {
			record(emailID, p.ingestOne(ctx, ownerID, emailID))
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.Succeeded)
	sort.Strings(result.Skipped)

	span.SetAttributes(
		attribute.Int("succeeded", len(result.Succeeded)),
		attribute.Int("failed", len(result.Failed)),
		attribute.Int("skipped", len(result.Skipped)),
	)
	p.logger.Info("[Ingest] Batch complete",
		zap.String("owner_id", ownerID),
		zap.Int("requested", len(emailIDs)),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("skipped", len(result.Skipped)),
	)

	return result, nil
}

// ingestOne returns outcomeSucceeded, outcomeSkipped or a failure reason code.
func (p *IngestionPipeline) ingestOne(ctx context.Context, ownerID, emailID string) string {
	if ctx.Err() != nil {
		return emaildomain.ReasonCanceled
	}
	log := p.logger.With(zap.String("owner_id", ownerID), zap.String("email_id", emailID))

	msg, err := p.fetch(ctx, ownerID, emailID)
	if err != nil {
		reason := fetchFailureReason(ctx, err)
		log.Warn("[Ingest] Fetch failed", zap.String("reason", reason), zap.Error(err))
		return reason
	}

	text := p.builder.Build(extractor.Extract(msg))
	if text == "" {
		log.Debug("[Ingest] Nothing to embed, skipping")
		return outcomeSkipped
	}

	vector, err := p.embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return emaildomain.ReasonCanceled
		}
		log.Warn("[Ingest] Embedding failed", zap.Error(err))
		return emaildomain.ReasonProviderError
	}
	if err := emaildomain.CheckDimension(vector); err != nil {
		log.Error("[Ingest] Provider returned unexpected dimension", zap.Int("dimension", len(vector)))
		return emaildomain.ReasonDimensionMismatch
	}

	now := p.now().UTC()
	rec := &emaildomain.EmbeddingRecord{
		OwnerID:      ownerID,
		EmailID:      emailID,
		Vector:       vector,
		EmbeddedText: text,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.upsert(ctx, rec); err != nil {
		if ctx.Err() != nil {
			return emaildomain.ReasonCanceled
		}
		log.Warn("[Ingest] Upsert failed", zap.Error(err))
		return emaildomain.ReasonStoreError
	}

	return outcomeSucceeded
}

func (p *IngestionPipeline) fetch(ctx context.Context, ownerID, emailID string) (*gmail.Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.source.Fetch(callCtx, ownerID, emailID)
}

func (p *IngestionPipeline) embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.embedder.Embed(callCtx, text)
}

func (p *IngestionPipeline) upsert(ctx context.Context, rec *emaildomain.EmbeddingRecord) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.store.Upsert(callCtx, rec)
}

// Delete removes the stored embedding of one email. Deleting a missing record is not an error.
func (p *IngestionPipeline) Delete(ctx context.Context, ownerID, emailID string) error {
	ownerID = strings.TrimSpace(ownerID)
	emailID = strings.TrimSpace(emailID)
	if ownerID == "" {
		return emaildomain.NewValidationError("owner_id", "must not be empty")
	}
	if emailID == "" {
		return emaildomain.NewValidationError("email_id", "must not be empty")
	}

	if err := p.store.Delete(ctx, ownerID, emailID); err != nil {
		return fmt.Errorf("delete embedding %s: %w", emailID, err)
	}
	p.logger.Info("[Ingest] Deleted embedding", zap.String("owner_id", ownerID), zap.String("email_id", emailID))
	return nil
}

func fetchFailureReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return emaildomain.ReasonCanceled
	case errors.Is(err, emaildomain.ErrNotFound):
		return emaildomain.ReasonNotFound
	case errors.Is(err, emaildomain.ErrValidation):
		return emaildomain.ReasonInvalidID
	default:
		return emaildomain.ReasonFetchFailed
	}
}

// normalizeIDs trims and de-duplicates ids, preserving first-seen order. Blank ids are
// returned separately (collapsed to a single "" entry).
func normalizeIDs(emailIDs []string) (valid []string, invalid []string) {
	seen := make(map[string]struct{}, len(emailIDs))
	blank := false
	for _, id := range emailIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			blank = true
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		valid = append(valid, id)
	}
	if blank {
		invalid = append(invalid, "")
	}
	return valid, invalid
}
