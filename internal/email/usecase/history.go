package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/fuzzy"
	"mailrecall-backend/pkg/logger"
	"mailrecall-backend/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultSuggestionLimit = 5
	MaxSuggestionLimit     = 10
	DefaultRecordTimeout   = 5 * time.Second
	// DefaultScanWindow is how many history rows are read to fill one suggestion list.
	DefaultScanWindow = 200
)

// HistoryConfig tunes the history service.
type HistoryConfig struct {
	RecordTimeout time.Duration
	ScanWindow    int
	FuzzyFill     bool
}

// HistoryService records submitted queries and serves suggestions from them.
type HistoryService struct {
	store  HistoryStore
	cfg    HistoryConfig
	logger *zap.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewHistoryService creates a HistoryService backed by store.
func NewHistoryService(store HistoryStore, cfg HistoryConfig, log *zap.Logger) *HistoryService {
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = DefaultRecordTimeout
	}
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = DefaultScanWindow
	}
	return &HistoryService{
		store:  store,
		cfg:    cfg,
		logger: logger.OrNop(log),
		now:    time.Now,
	}
}

// Record appends query to the owner's history in the background. It never fails
// the caller: invalid input is ignored and write errors are only logged. The write
// outlives ctx cancellation but is bounded by the record timeout.
func (s *HistoryService) Record(ctx context.Context, ownerID, query string) {
	entry, err := s.newEntry(ownerID, query)
	if err != nil {
		s.logger.Debug("[History] Ignoring query", zap.Error(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RecordTimeout)
		defer cancel()

		err := s.store.Append(writeCtx, entry)
		metrics.HistoryWritesTotal.WithLabelValues(metrics.Status(err)).Inc()
		if err != nil {
			s.logger.Warn("[History] Failed to record search", zap.String("owner_id", entry.OwnerID), zap.Error(err))
		}
	}()
}

// Wait blocks until every background write started by Record has finished.
func (s *HistoryService) Wait() {
	s.wg.Wait()
}

func (s *HistoryService) newEntry(ownerID, query string) (*emaildomain.SearchHistoryEntry, error) {
	ownerID = strings.TrimSpace(ownerID)
	query = strings.TrimSpace(query)
	if ownerID == "" {
		return nil, emaildomain.NewValidationError("owner_id", "must not be empty")
	}
	if n := utf8.RuneCountInString(query); n == 0 || n > MaxQueryRunes {
		return nil, emaildomain.NewValidationError("query", fmt.Sprintf("length must be between 1 and %d", MaxQueryRunes))
	}
	return &emaildomain.SearchHistoryEntry{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Query:      query,
		SearchedAt: s.now().UTC(),
	}, nil
}

// Suggestions returns up to limit distinct past queries of the owner that contain
// input (case-insensitive, so prefixes match too), most recent first. With fuzzy
// fill enabled, a short list is topped up with typo-tolerant matches.
func (s *HistoryService) Suggestions(ctx context.Context, ownerID, input string, limit int) ([]string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, emaildomain.NewValidationError("owner_id", "must not be empty")
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return []string{}, nil
	}
	if utf8.RuneCountInString(input) > MaxQueryRunes {
		return nil, emaildomain.NewValidationError("q", fmt.Sprintf("must be at most %d characters", MaxQueryRunes))
	}
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}
	if limit > MaxSuggestionLimit {
		limit = MaxSuggestionLimit
	}

	entries, err := s.store.FindMatching(ctx, ownerID, input, s.cfg.ScanWindow)
	if err != nil {
		return nil, fmt.Errorf("find matching history: %w: %w", emaildomain.ErrDependency, err)
	}

	suggestions := make([]string, 0, limit)
	seen := make(map[string]struct{}, limit)
	add := func(q string) {
		key := fuzzy.Normalize(q)
		if _, dup := seen[key]; dup || key == "" {
			return
		}
		seen[key] = struct{}{}
		suggestions = append(suggestions, q)
	}

	for _, e := range entries {
		if len(suggestions) >= limit {
			return suggestions, nil
		}
		add(e.Query)
	}

	if !s.cfg.FuzzyFill || len(suggestions) >= limit {
		return suggestions, nil
	}

	recent, err := s.store.Recent(ctx, ownerID, s.cfg.ScanWindow)
	if err != nil {
		// Exact matches are already useful; typo tolerance is best effort.
		s.logger.Warn("[History] Fuzzy fill skipped", zap.String("owner_id", ownerID), zap.Error(err))
		return suggestions, nil
	}
	for _, e := range recent {
		if len(suggestions) >= limit {
			break
		}
		if fuzzy.Match(input, e.Query) {
			add(e.Query)
		}
	}

	return suggestions, nil
}
