package repository

import (
	"context"
	"strings"

	emaildomain "mailrecall-backend/internal/email/domain"

	"gorm.io/gorm"
)

// SearchHistoryRepository is the append-only store of submitted queries.
type SearchHistoryRepository interface {
	Append(ctx context.Context, entry *emaildomain.SearchHistoryEntry) error
	FindMatching(ctx context.Context, ownerID, fragment string, limit int) ([]*emaildomain.SearchHistoryEntry, error)
	Recent(ctx context.Context, ownerID string, limit int) ([]*emaildomain.SearchHistoryEntry, error)
}

type searchHistoryRepository struct {
	db *gorm.DB
}

// NewSearchHistoryRepository creates a gorm-backed SearchHistoryRepository.
func NewSearchHistoryRepository(db *gorm.DB) SearchHistoryRepository {
	return &searchHistoryRepository{db: db}
}

func (r *searchHistoryRepository) Append(ctx context.Context, entry *emaildomain.SearchHistoryEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindMatching matches fragment as a case-insensitive substring. LIKE wildcards in
// fragment are escaped so "50%" only matches a literal percent sign.
func (r *searchHistoryRepository) FindMatching(ctx context.Context, ownerID, fragment string, limit int) ([]*emaildomain.SearchHistoryEntry, error) {
	pattern := "%" + escapeLike(strings.ToLower(fragment)) + "%"

	var entries []*emaildomain.SearchHistoryEntry
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND LOWER(query) LIKE ? ESCAPE '\\'", ownerID, pattern).
		Order("searched_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *searchHistoryRepository) Recent(ctx context.Context, ownerID string, limit int) ([]*emaildomain.SearchHistoryEntry, error) {
	var entries []*emaildomain.SearchHistoryEntry
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("searched_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
