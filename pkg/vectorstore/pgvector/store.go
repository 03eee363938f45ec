// Package pgvector stores email embeddings in Postgres using the pgvector extension.
package pgvector

import (
	"context"
	"fmt"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/metrics"

	pgv "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const backendName = "pgvector"

// HNSWConfig tunes the approximate nearest-neighbour index.
type HNSWConfig struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// EmailEmbedding is the row layout of email_embeddings.
type EmailEmbedding struct {
	OwnerID      string     `gorm:"primaryKey;type:varchar(128)"`
	EmailID      string     `gorm:"primaryKey;type:varchar(255)"`
	Embedding    pgv.Vector `gorm:"type:vector(768);not null"`
	EmbeddedText string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"not null"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

// TableName specifies the table name for GORM
func (EmailEmbedding) TableName() string {
	return "email_embeddings"
}

type Store struct {
	db   *gorm.DB
	hnsw HNSWConfig
}

func NewStore(db *gorm.DB, hnsw HNSWConfig) *Store {
	return &Store{db: db, hnsw: hnsw}
}

// Migrate creates the table and its HNSW cosine index, then checks the stored width.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&EmailEmbedding{}); err != nil {
		return fmt.Errorf("migrate email_embeddings: %w", err)
	}
	if err := db.Exec(hnswIndexSQL(s.hnsw)).Error; err != nil {
		return fmt.Errorf("create hnsw index: %w", err)
	}
	return s.CheckDimension(ctx)
}

// CheckDimension fails with ErrConfiguration when the embedding column was created
// with a width other than EmbeddingDimension.
func (s *Store) CheckDimension(ctx context.Context) error {
	var typmod int
	err := s.db.WithContext(ctx).Raw(`
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'email_embeddings'::regclass AND attname = 'embedding'`).Scan(&typmod).Error
	if err != nil {
		return fmt.Errorf("read embedding column type: %w: %w", emaildomain.ErrDependency, err)
	}
	if typmod != emaildomain.EmbeddingDimension {
		return fmt.Errorf("email_embeddings.embedding has dimension %d, expected %d: %w",
			typmod, emaildomain.EmbeddingDimension, emaildomain.ErrConfiguration)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, rec *emaildomain.EmbeddingRecord) (err error) {
	defer observe("upsert", &err)
	if err := rec.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	row := EmailEmbedding{
		OwnerID:      rec.OwnerID,
		EmailID:      rec.EmailID,
		Embedding:    pgv.NewVector(rec.Vector),
		EmbeddedText: rec.EmbeddedText,
		CreatedAt:    orNow(rec.CreatedAt, now),
		UpdatedAt:    orNow(rec.UpdatedAt, now),
	}

	// One statement: created_at survives, vector, text and updated_at are replaced.
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "email_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"embedding", "embedded_text", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert embedding: %w: %w", emaildomain.ErrDependency, err)
	}
	return nil
}

// nearestSQL orders equal distances by recency, then id, before the LIMIT applies.
const nearestSQL = `
	SELECT email_id, updated_at, 1 - (embedding <=> ?) AS similarity
	FROM email_embeddings
	WHERE owner_id = ?
	ORDER BY embedding <=> ?, updated_at DESC, email_id
	LIMIT ?`

type nearestRow struct {
	EmailID    string
	UpdatedAt  time.Time
	Similarity float64
}

func (s *Store) QueryNearest(ctx context.Context, ownerID string, vector []float32, k int) (_ []emaildomain.VectorMatch, err error) {
	defer observe("query", &err)
	if ownerID == "" {
		return nil, emaildomain.NewValidationError("owner_id", "must not be empty")
	}
	if err := emaildomain.CheckDimension(vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []emaildomain.VectorMatch{}, nil
	}

	query := pgv.NewVector(vector)
	var rows []nearestRow
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch(s.hnsw.EfSearch, k))).Error; err != nil {
			return err
		}
		return tx.Raw(nearestSQL, query, ownerID, query, k).Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("query nearest: %w: %w", emaildomain.ErrDependency, err)
	}

	matches := make([]emaildomain.VectorMatch, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, emaildomain.VectorMatch{
			EmailID:    r.EmailID,
			Similarity: emaildomain.ClampSimilarity(r.Similarity),
			UpdatedAt:  r.UpdatedAt,
		})
	}
	return matches, nil
}

func (s *Store) Delete(ctx context.Context, ownerID, emailID string) (err error) {
	defer observe("delete", &err)
	err = s.db.WithContext(ctx).
		Where("owner_id = ? AND email_id = ?", ownerID, emailID).
		Delete(&EmailEmbedding{}).Error
	if err != nil {
		return fmt.Errorf("delete embedding: %w: %w", emaildomain.ErrDependency, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, ownerID string) (_ int64, err error) {
	defer observe("count", &err)
	var n int64
	err = s.db.WithContext(ctx).Model(&EmailEmbedding{}).Where("owner_id = ?", ownerID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w: %w", emaildomain.ErrDependency, err)
	}
	return n, nil
}

func hnswIndexSQL(cfg HNSWConfig) string {
	m, efc := cfg.M, cfg.EfConstruction
	if m <= 0 {
		m = 16
	}
	if efc <= 0 {
		efc = 64
	}
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_email_embeddings_hnsw ON email_embeddings "+
			"USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d)", m, efc)
}

// efSearch never lets the candidate list drop below k.
func efSearch(configured, k int) int {
	if configured < k {
		return k
	}
	return configured
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}

func observe(op string, err *error) {
	metrics.VectorStoreOperationsTotal.WithLabelValues(backendName, op, metrics.Status(*err)).Inc()
}
