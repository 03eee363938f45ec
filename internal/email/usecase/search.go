package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/logger"
	"mailrecall-backend/pkg/metrics"
	"mailrecall-backend/pkg/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSearchLimit      = 10
	MaxSearchLimit          = 50
	DefaultThreshold        = 0.7
	MinQueryRunes           = 2
	MaxQueryRunes           = 500
	DefaultOverFetchFactor  = 3
	DefaultOverFetchCap     = 150
	DefaultHydrationWorkers = 8
)

// SearchRequest is one semantic query. Zero Limit and nil Threshold select the defaults.
type SearchRequest struct {
	OwnerID   string
	Query     string
	Limit     int
	Threshold *float64
}

// SearchConfig tunes the search engine. DefaultThreshold is used as given when it
// lies in [0,1]; zero admits every match.
type SearchConfig struct {
	DefaultLimit     int
	DefaultThreshold float64
	OverFetchFactor  int
	OverFetchCap     int
	HydrationWorkers int
	CallTimeout      time.Duration
}

// HistoryRecorder receives every validated query. Implementations must not block.
type HistoryRecorder interface {
	Record(ctx context.Context, ownerID, query string)
}

// SearchEngine answers owner-scoped nearest-neighbour queries and hydrates the hits.
type SearchEngine struct {
	embedder Embedder
	store    VectorStore
	metadata MetadataSource
	history  HistoryRecorder
	cfg      SearchConfig
	logger   *zap.Logger
}

// NewSearchEngine wires the read path. history may be nil.
func NewSearchEngine(
	embedder Embedder,
	store VectorStore,
	metadata MetadataSource,
	history HistoryRecorder,
	cfg SearchConfig,
	log *zap.Logger,
) *SearchEngine {
	if cfg.DefaultLimit <= 0 || cfg.DefaultLimit > MaxSearchLimit {
		cfg.DefaultLimit = DefaultSearchLimit
	}
	if math.IsNaN(cfg.DefaultThreshold) || cfg.DefaultThreshold < 0 || cfg.DefaultThreshold > 1 {
		cfg.DefaultThreshold = DefaultThreshold
	}
	if cfg.OverFetchFactor < 1 {
		cfg.OverFetchFactor = DefaultOverFetchFactor
	}
	if cfg.OverFetchCap < MaxSearchLimit {
		cfg.OverFetchCap = DefaultOverFetchCap
	}
	if cfg.HydrationWorkers <= 0 {
		cfg.HydrationWorkers = DefaultHydrationWorkers
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &SearchEngine{
		embedder: embedder,
		store:    store,
		metadata: metadata,
		history:  history,
		cfg:      cfg,
		logger:   logger.OrNop(log),
	}
}

// Search validates req, embeds the query, ranks the owner's stored vectors and
// hydrates the qualifying matches. Total counts every qualifying hydrated match;
// Results holds the first Limit of them.
func (s *SearchEngine) Search(ctx context.Context, req SearchRequest) (resp *emaildomain.SearchResponse, err error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues(metrics.Status(err)).Observe(time.Since(start).Seconds())
	}()

	ownerID, query, limit, threshold, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		s.history.Record(ctx, ownerID, query)
	}

	ctx, span := observability.StartSpan(ctx, "email.search",
		attribute.String("owner_id", ownerID),
		attribute.Int("limit", limit),
		attribute.Float64("threshold", threshold),
	)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	queryVector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	k := s.overFetch(limit)
	matches, err := s.queryNearest(ctx, ownerID, queryVector, k)
	if err != nil {
		return nil, err
	}

	ranked := rankMatches(matches, threshold)
	if len(ranked) == 0 {
		metrics.SearchResultsTotal.Observe(0)
		return &emaildomain.SearchResponse{Results: []emaildomain.SearchResult{}, Total: 0}, nil
	}

	hydrated, err := s.hydrate(ctx, ownerID, ranked)
	if err != nil {
		return nil, err
	}

	total := len(hydrated)
	if len(hydrated) > limit {
		hydrated = hydrated[:limit]
	}
	metrics.SearchResultsTotal.Observe(float64(total))
	span.SetAttributes(attribute.Int("candidates", len(matches)), attribute.Int("total", total))

	s.logger.Debug("[Search] Completed",
		zap.String("owner_id", ownerID),
		zap.String("query", query),
		zap.Int("k", k),
		zap.Int("candidates", len(matches)),
		zap.Int("qualifying", len(ranked)),
		zap.Int("total", total),
		zap.Duration("duration", time.Since(start)),
	)

	return &emaildomain.SearchResponse{Results: hydrated, Total: total}, nil
}

func (s *SearchEngine) validate(req SearchRequest) (string, string, int, float64, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return "", "", 0, 0, emaildomain.NewValidationError("owner_id", "must not be empty")
	}

	query := strings.TrimSpace(req.Query)
	switch n := utf8.RuneCountInString(query); {
	case n == 0:
		return "", "", 0, 0, emaildomain.NewValidationError("query", "must not be empty")
	case n < MinQueryRunes:
		return "", "", 0, 0, emaildomain.NewValidationError("query",
			fmt.Sprintf("must be at least %d characters", MinQueryRunes))
	case n > MaxQueryRunes:
		return "", "", 0, 0, emaildomain.NewValidationError("query",
			fmt.Sprintf("must be at most %d characters", MaxQueryRunes))
	}

	limit := req.Limit
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit < 1 || limit > MaxSearchLimit {
		return "", "", 0, 0, emaildomain.NewValidationError("limit",
			fmt.Sprintf("must be between 1 and %d", MaxSearchLimit))
	}

	threshold := s.cfg.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return "", "", 0, 0, emaildomain.NewValidationError("threshold", "must be between 0 and 1")
	}

	return ownerID, query, limit, threshold, nil
}

func (s *SearchEngine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	vector, err := s.embedder.Embed(callCtx, query)
	if err != nil {
		s.logger.Warn("[Search] Query embedding failed", zap.Error(err))
		return nil, fmt.Errorf("embed query: %w: %w", emaildomain.ErrDependency, err)
	}
	if len(vector) != emaildomain.EmbeddingDimension {
		s.logger.Error("[Search] Query vector dimension mismatch",
			zap.Int("dimension", len(vector)),
			zap.Int("expected", emaildomain.EmbeddingDimension),
		)
		return nil, fmt.Errorf("%w: query vector has dimension %d, stored vectors use %d",
			emaildomain.ErrConfiguration, len(vector), emaildomain.EmbeddingDimension)
	}
	return vector, nil
}

func (s *SearchEngine) queryNearest(ctx context.Context, ownerID string, vector []float32, k int) ([]emaildomain.VectorMatch, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	matches, err := s.store.QueryNearest(callCtx, ownerID, vector, k)
	if err != nil {
		s.logger.Warn("[Search] Vector store query failed", zap.String("owner_id", ownerID), zap.Error(err))
		if errors.Is(err, emaildomain.ErrDependency) {
			return nil, fmt.Errorf("query vector store: %w", err)
		}
		return nil, fmt.Errorf("query vector store: %w: %w", emaildomain.ErrDependency, err)
	}
	return matches, nil
}

// overFetch returns k = min(limit*factor, cap), never below limit.
func (s *SearchEngine) overFetch(limit int) int {
	k := limit * s.cfg.OverFetchFactor
	if k > s.cfg.OverFetchCap {
		k = s.cfg.OverFetchCap
	}
	if k < limit {
		k = limit
	}
	return k
}

// rankMatches keeps matches with similarity >= threshold, one per email id, ordered by
// similarity desc, then updatedAt desc, then email id.
func rankMatches(matches []emaildomain.VectorMatch, threshold float64) []emaildomain.VectorMatch {
	best := make(map[string]emaildomain.VectorMatch, len(matches))
	for _, m := range matches {
		m.Similarity = emaildomain.ClampSimilarity(m.Similarity)
		if m.Similarity < threshold {
			continue
		}
		if prev, ok := best[m.EmailID]; ok && prev.Similarity >= m.Similarity {
			continue
		}
		best[m.EmailID] = m
	}

	ranked := make([]emaildomain.VectorMatch, 0, len(best))
	for _, m := range best {
		ranked = append(ranked, m)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.EmailID < b.EmailID
	})
	return ranked
}

// hydrate joins ranked matches with live metadata, preserving rank order. Missing
// emails are dropped; any other failure fails the whole request.
func (s *SearchEngine) hydrate(ctx context.Context, ownerID string, ranked []emaildomain.VectorMatch) ([]emaildomain.SearchResult, error) {
	slots := make([]*emaildomain.SearchResult, len(ranked))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.HydrationWorkers)
	for i, match := range ranked {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.cfg.CallTimeout)
			defer cancel()

			summary, err := s.metadata.GetSummary(callCtx, ownerID, match.EmailID)
			if errors.Is(err, emaildomain.ErrNotFound) {
				s.logger.Debug("[Search] Dropping match without metadata", zap.String("email_id", match.EmailID))
				return nil
			}
			if err != nil {
				return fmt.Errorf("hydrate %s: %w: %w", match.EmailID, emaildomain.ErrDependency, err)
			}
			if summary == nil {
				return nil
			}
			slots[i] = &emaildomain.SearchResult{
				EmailID:    match.EmailID,
				Similarity: match.Similarity,
				Subject:    summary.Subject,
				Preview:    summary.Preview,
				From:       summary.From,
				Timestamp:  summary.Timestamp,
				IsRead:     summary.IsRead,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("[Search] Hydration failed", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	results := make([]emaildomain.SearchResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}
