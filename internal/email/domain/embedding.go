package domain

import (
	"fmt"
	"time"
)

// EmbeddingDimension is the vector width fixed by the embedding provider contract.
const EmbeddingDimension = 768

// EmbeddingRecord is the stored vector for one (owner, email) pair.
// A re-ingestion of the same email replaces Vector and EmbeddedText and bumps UpdatedAt.
type EmbeddingRecord struct {
	OwnerID      string
	EmailID      string
	Vector       []float32
	EmbeddedText string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks the invariants every vector store enforces before writing.
func (r *EmbeddingRecord) Validate() error {
	if r.OwnerID == "" {
		return NewValidationError("owner_id", "must not be empty")
	}
	if r.EmailID == "" {
		return NewValidationError("email_id", "must not be empty")
	}
	return CheckDimension(r.Vector)
}

// CheckDimension rejects vectors whose width differs from EmbeddingDimension.
func CheckDimension(vec []float32) error {
	if len(vec) != EmbeddingDimension {
		return NewValidationError("vector",
			fmt.Sprintf("dimension %d does not match expected %d", len(vec), EmbeddingDimension))
	}
	return nil
}

// VectorMatch is one nearest-neighbour hit returned by a vector store.
// Similarity is cosine similarity clamped to [0,1].
type VectorMatch struct {
	EmailID    string
	Similarity float64
	UpdatedAt  time.Time
}

// ClampSimilarity maps a raw cosine value into [0,1].
func ClampSimilarity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
