package chroma

import (
	"context"
	"testing"

	emaildomain "mailrecall-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentIDRoundTrip(t *testing.T) {
	id := documentID("owner:1", "msg-9")
	assert.Equal(t, "owner:1:msg-9", string(id))
	assert.Equal(t, "msg-9", emailIDFromDocument("owner:1", string(id)))
}

func TestSimilarityFromDistance(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 1},
		{0.25, 0.75},
		{1, 0},
		{1.8, 0},
		{-0.01, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, similarityFromDistance(tt.distance), 1e-9)
	}
}

func TestNewChromaStore_RequiresKey(t *testing.T) {
	_, err := NewChromaStore(context.Background(), Config{}, nil)
	require.ErrorIs(t, err, emaildomain.ErrConfiguration)
}

func TestChromaStore_ValidatesBeforeCalling(t *testing.T) {
	// collection is nil, so any remote call would panic.
	s := &ChromaStore{}
	ctx := context.Background()

	err := s.Upsert(ctx, &emaildomain.EmbeddingRecord{OwnerID: "o", EmailID: "e", Vector: []float32{1}})
	require.ErrorIs(t, err, emaildomain.ErrValidation)

	_, err = s.QueryNearest(ctx, "o", []float32{1, 2}, 5)
	require.ErrorIs(t, err, emaildomain.ErrValidation)
}
