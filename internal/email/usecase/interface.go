package usecase

import (
	"context"

	emaildomain "mailrecall-backend/internal/email/domain"

	"google.golang.org/api/gmail/v1"
)

// MessageSource fetches raw provider payloads. Misses wrap emaildomain.ErrNotFound.
type MessageSource interface {
	Fetch(ctx context.Context, ownerID, emailID string) (*gmail.Message, error)
}

// MetadataSource supplies live metadata for hydrating search hits.
type MetadataSource interface {
	GetSummary(ctx context.Context, ownerID, emailID string) (*emaildomain.MessageSummary, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists one record per (owner, email) and answers nearest-neighbour queries
// scoped to a single owner.
type VectorStore interface {
	Upsert(ctx context.Context, rec *emaildomain.EmbeddingRecord) error
	QueryNearest(ctx context.Context, ownerID string, vector []float32, k int) ([]emaildomain.VectorMatch, error)
	Delete(ctx context.Context, ownerID, emailID string) error
	Count(ctx context.Context, ownerID string) (int64, error)
}

// HistoryStore is the append-only search history log.
type HistoryStore interface {
	Append(ctx context.Context, entry *emaildomain.SearchHistoryEntry) error
	// FindMatching returns entries whose query contains fragment (case-insensitive),
	// most recent first.
	FindMatching(ctx context.Context, ownerID, fragment string, limit int) ([]*emaildomain.SearchHistoryEntry, error)
	// Recent returns the owner's latest entries, most recent first.
	Recent(ctx context.Context, ownerID string, limit int) ([]*emaildomain.SearchHistoryEntry, error)
}

// Ingestor is the write path.
type Ingestor interface {
	Ingest(ctx context.Context, ownerID string, emailIDs []string) (*emaildomain.IngestResult, error)
	Delete(ctx context.Context, ownerID, emailID string) error
}

// Searcher is the read path.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (*emaildomain.SearchResponse, error)
}

// Suggester serves query suggestions from the search history.
type Suggester interface {
	Suggestions(ctx context.Context, ownerID, input string, limit int) ([]string, error)
}
