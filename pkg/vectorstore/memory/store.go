// Package memory is an exact, process-local vector store. It backs the "memory"
// vector backend and the usecase tests.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
)

type key struct {
	owner string
	email string
}

// Store keeps one record per (owner, email) and scans all of an owner's records per query.
type Store struct {
	mu      sync.RWMutex
	records map[key]*emaildomain.EmbeddingRecord
	now     func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		records: make(map[key]*emaildomain.EmbeddingRecord),
		now:     time.Now,
	}
}

// Upsert replaces the vector and text of an existing record, keeping CreatedAt,
// or inserts a new one.
func (s *Store) Upsert(ctx context.Context, rec *emaildomain.EmbeddingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	stored := *rec
	stored.Vector = append([]float32(nil), rec.Vector...)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{owner: rec.OwnerID, email: rec.EmailID}
	if existing, ok := s.records[k]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}
	s.records[k] = &stored
	return nil
}

// QueryNearest returns the k most similar records of ownerID, best first.
func (s *Store) QueryNearest(ctx context.Context, ownerID string, vector []float32, k int) ([]emaildomain.VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := emaildomain.CheckDimension(vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []emaildomain.VectorMatch{}, nil
	}

	s.mu.RLock()
	matches := make([]emaildomain.VectorMatch, 0)
	for id, rec := range s.records {
		if id.owner != ownerID {
			continue
		}
		matches = append(matches, emaildomain.VectorMatch{
			EmailID:    rec.EmailID,
			Similarity: emaildomain.ClampSimilarity(CosineSimilarity(vector, rec.Vector)),
			UpdatedAt:  rec.UpdatedAt,
		})
	}
	s.mu.RUnlock()

	// Ties keep the most recently updated record so the cut at k never drops it.
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.EmailID < b.EmailID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete removes one record; a missing record is not an error.
func (s *Store) Delete(ctx context.Context, ownerID, emailID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, key{owner: ownerID, email: emailID})
	s.mu.Unlock()
	return nil
}

// Count returns the number of records stored for ownerID.
func (s *Store) Count(ctx context.Context, ownerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for id := range s.records {
		if id.owner == ownerID {
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the stored record.
func (s *Store) Get(ownerID, emailID string) (*emaildomain.EmbeddingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key{owner: ownerID, email: emailID}]
	if !ok {
		return nil, false
	}
	cp := *rec
	cp.Vector = append([]float32(nil), rec.Vector...)
	return &cp, true
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when either is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
