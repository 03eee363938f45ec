package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/vectorstore/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(source MessageSource, embedder Embedder, store VectorStore, workers int) *IngestionPipeline {
	return NewIngestionPipeline(source, embedder, store, nil, IngestConfig{Workers: workers, CallTimeout: time.Second}, nil)
}

func TestIngest_PartialFailure(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.messages["A"] = plainMessage("Alpha", "first body")
	source.messages["C"] = plainMessage("Gamma", "third body")
	source.errs["B"] = fmt.Errorf("gmail 500: %w", emaildomain.ErrDependency)
	store := memory.NewStore()

	result, err := newTestPipeline(source, newFakeEmbedder(), store, 2).Ingest(ctx, "owner-1", []string{"A", "B", "C"})

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, result.Succeeded)
	assert.Equal(t, map[string]string{"B": emaildomain.ReasonFetchFailed}, result.Failed)
	assert.Empty(t, result.Skipped)

	_, ok := store.Get("owner-1", "A")
	assert.True(t, ok)
	_, ok = store.Get("owner-1", "C")
	assert.True(t, ok)
	_, ok = store.Get("owner-1", "B")
	assert.False(t, ok)
}

func TestIngest_ReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.messages["e1"] = plainMessage("Invoice", "please pay")
	store := memory.NewStore()
	pipeline := newTestPipeline(source, newFakeEmbedder(), store, 1)

	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	pipeline.now = func() time.Time { return t0 }
	_, err := pipeline.Ingest(ctx, "u", []string{"e1"})
	require.NoError(t, err)
	first, ok := store.Get("u", "e1")
	require.True(t, ok)

	t1 := t0.Add(time.Hour)
	pipeline.now = func() time.Time { return t1 }
	result, err := pipeline.Ingest(ctx, "u", []string{"e1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, result.Succeeded)

	n, err := store.Count(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	second, ok := store.Get("u", "e1")
	require.True(t, ok)
	assert.Equal(t, first.Vector, second.Vector)
	assert.Equal(t, first.EmbeddedText, second.EmbeddedText)
	assert.Equal(t, t0, second.CreatedAt)
	assert.Equal(t, t1, second.UpdatedAt)
}

func TestIngest_EmptyTextIsSkipped(t *testing.T) {
	source := newFakeSource()
	source.messages["blank"] = plainMessage("", "   ")
	embedder := newFakeEmbedder()
	store := memory.NewStore()

	result, err := newTestPipeline(source, embedder, store, 1).Ingest(context.Background(), "u", []string{"blank"})

	require.NoError(t, err)
	assert.Equal(t, []string{"blank"}, result.Skipped)
	assert.Empty(t, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.Zero(t, embedder.calls.Load())
	_, ok := store.Get("u", "blank")
	assert.False(t, ok)
}

func TestIngest_FailureReasons(t *testing.T) {
	source := newFakeSource()
	source.messages["ok"] = plainMessage("Fine", "body")
	source.messages["bad-embed"] = plainMessage("Explode", "body")
	source.messages["bad-store"] = plainMessage("Disk", "body")
	source.errs["bad-id"] = emaildomain.NewValidationError("email_id", "malformed")
	// "missing" is absent from the source and resolves to ErrNotFound.

	embedder := newFakeEmbedder()
	embedder.failOn = "Explode"
	embedder.err = errors.New("429 quota exceeded")

	store := &fakeVectorStore{upsertFn: func(rec *emaildomain.EmbeddingRecord) error {
		if rec.EmailID == "bad-store" {
			return errors.New("connection reset")
		}
		return nil
	}}

	result, err := newTestPipeline(source, embedder, store, 3).Ingest(context.Background(), "u",
		[]string{"ok", "missing", "bad-embed", "bad-store", "bad-id"})

	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, result.Succeeded)
	assert.Equal(t, map[string]string{
		"missing":   emaildomain.ReasonNotFound,
		"bad-embed": emaildomain.ReasonProviderError,
		"bad-store": emaildomain.ReasonStoreError,
		"bad-id":    emaildomain.ReasonInvalidID,
	}, result.Failed)
}

func TestIngest_DimensionMismatchIsNeverStored(t *testing.T) {
	source := newFakeSource()
	source.messages["e1"] = plainMessage("Hello", "world")
	embedder := newFakeEmbedder()
	embedder.dimension = 1536
	store := memory.NewStore()

	result, err := newTestPipeline(source, embedder, store, 1).Ingest(context.Background(), "u", []string{"e1"})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"e1": emaildomain.ReasonDimensionMismatch}, result.Failed)
	n, _ := store.Count(context.Background(), "u")
	assert.Zero(t, n)
}

func TestIngest_NormalizesIDs(t *testing.T) {
	source := newFakeSource()
	source.messages["e1"] = plainMessage("One", "body")

	result, err := newTestPipeline(source, newFakeEmbedder(), memory.NewStore(), 2).
		Ingest(context.Background(), "u", []string{" e1 ", "e1", "", "  "})

	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, result.Succeeded)
	assert.Equal(t, map[string]string{"": emaildomain.ReasonInvalidID}, result.Failed)
	assert.Equal(t, 1, source.calls)
}

func TestIngest_RequiresOwner(t *testing.T) {
	_, err := newTestPipeline(newFakeSource(), newFakeEmbedder(), memory.NewStore(), 1).
		Ingest(context.Background(), "  ", []string{"e1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, emaildomain.ErrValidation))
}

func TestIngest_CanceledBeforeStart(t *testing.T) {
	source := newFakeSource()
	source.messages["a"] = plainMessage("A", "a")
	source.messages["b"] = plainMessage("B", "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestPipeline(source, newFakeEmbedder(), memory.NewStore(), 1).Ingest(ctx, "u", []string{"a", "b"})

	require.NoError(t, err)
	assert.Empty(t, result.Succeeded)
	assert.Equal(t, map[string]string{"a": emaildomain.ReasonCanceled, "b": emaildomain.ReasonCanceled}, result.Failed)
	assert.Zero(t, source.calls)
}

func TestIngest_CancelKeepsCompletedWork(t *testing.T) {
	source := newFakeSource()
	ids := []string{"e0", "e1", "e2", "e3", "e4", "e5"}
	for _, id := range ids {
		source.messages[id] = plainMessage("Subject "+id, "body "+id)
	}
	store := memory.NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first upsert cancels the batch; with one worker nothing else has started yet.
	var once sync.Once
	wrapped := &cancelingStore{Store: store, onUpsert: func() { once.Do(cancel) }}

	result, err := newTestPipeline(source, newFakeEmbedder(), wrapped, 1).Ingest(ctx, "u", ids)

	require.NoError(t, err)
	assert.Equal(t, []string{"e0"}, result.Succeeded)
	assert.Len(t, result.Failed, len(ids)-1)
	for _, reason := range result.Failed {
		assert.Equal(t, emaildomain.ReasonCanceled, reason)
	}
	_, ok := store.Get("u", "e0")
	assert.True(t, ok, "work completed before cancellation is kept")
}

type cancelingStore struct {
	*memory.Store
	onUpsert func()
}

func (c *cancelingStore) Upsert(ctx context.Context, rec *emaildomain.EmbeddingRecord) error {
	err := c.Store.Upsert(ctx, rec)
	c.onUpsert()
	return err
}

func TestIngest_BoundedFanOut(t *testing.T) {
	source := newFakeSource()
	var ids []string
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("e%02d", i)
		ids = append(ids, id)
		source.messages[id] = plainMessage("Subject "+id, "body")
	}
	embedder := newFakeEmbedder()
	embedder.delay = 10 * time.Millisecond

	result, err := newTestPipeline(source, embedder, memory.NewStore(), 3).Ingest(context.Background(), "u", ids)

	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 12)
	assert.LessOrEqual(t, embedder.maxFlight.Load(), int32(3))
	assert.GreaterOrEqual(t, embedder.maxFlight.Load(), int32(1))
}

func TestIngest_Delete(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.messages["e1"] = plainMessage("Hi", "there")
	store := memory.NewStore()
	pipeline := newTestPipeline(source, newFakeEmbedder(), store, 1)

	_, err := pipeline.Ingest(ctx, "u", []string{"e1"})
	require.NoError(t, err)

	require.NoError(t, pipeline.Delete(ctx, "u", "e1"))
	_, ok := store.Get("u", "e1")
	assert.False(t, ok)

	err = pipeline.Delete(ctx, "u", " ")
	assert.True(t, errors.Is(err, emaildomain.ErrValidation))
}
