package domain

import "time"

// MessageSummary is the live metadata used to hydrate a search hit.
type MessageSummary struct {
	Subject   string
	Preview   string
	From      string
	Timestamp time.Time
	IsRead    bool
}

// SearchResult is produced per request and never cached.
type SearchResult struct {
	EmailID    string    `json:"email_id"`
	Similarity float64   `json:"similarity"`
	Subject    string    `json:"subject"`
	Preview    string    `json:"preview"`
	From       string    `json:"from"`
	Timestamp  time.Time `json:"timestamp"`
	IsRead     bool      `json:"is_read"`
}

// SearchResponse holds one page of results; Total counts every qualifying hydrated match.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// IngestResult reports per-id outcomes of one ingestion batch.
type IngestResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
	Skipped   []string          `json:"skipped"`
}

// SearchHistoryEntry is one append-only record of a submitted query.
type SearchHistoryEntry struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerID    string    `json:"owner_id" gorm:"index:idx_owner_searched_at,priority:1;not null"`
	Query      string    `json:"query" gorm:"type:varchar(500);not null"`
	SearchedAt time.Time `json:"searched_at" gorm:"index:idx_owner_searched_at,priority:2;not null"`
}

// TableName specifies the table name for GORM
func (SearchHistoryEntry) TableName() string {
	return "search_histories"
}
