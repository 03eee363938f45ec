package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"

	"google.golang.org/api/gmail/v1"
)

func plainMessage(subject, body string) *gmail.Message {
	return &gmail.Message{
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers:  []*gmail.MessagePartHeader{{Name: "Subject", Value: subject}},
			Body:     &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte(body))},
		},
	}
}

type fakeSource struct {
	mu       sync.Mutex
	messages map[string]*gmail.Message
	errs     map[string]error
	calls    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{messages: map[string]*gmail.Message{}, errs: map[string]error{}}
}

func (f *fakeSource) Fetch(ctx context.Context, ownerID, emailID string) (*gmail.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.errs[emailID]; ok {
		return nil, err
	}
	msg, ok := f.messages[emailID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", emailID, emaildomain.ErrNotFound)
	}
	return msg, nil
}

// fakeEmbedder derives a deterministic vector from the text hash.
type fakeEmbedder struct {
	mu        sync.Mutex
	vectors   map[string][]float32
	failOn    string
	err       error
	dimension int
	delay     time.Duration
	calls     atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{}, dimension: emaildomain.EmbeddingDimension}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxFlight.Load()
		if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil && (f.failOn == "" || strings.Contains(text, f.failOn)) {
		return nil, f.err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	v := make([]float32, f.dimension)
	if f.dimension > 0 {
		v[int(h.Sum32())%f.dimension] = 1
	}
	return v, nil
}

// fakeVectorStore returns canned matches and records what it was asked.
type fakeVectorStore struct {
	matches  []emaildomain.VectorMatch
	err      error
	upsertFn func(rec *emaildomain.EmbeddingRecord) error
	lastK    int
	lastUser string
	queries  int
}

func (f *fakeVectorStore) Upsert(_ context.Context, rec *emaildomain.EmbeddingRecord) error {
	if f.upsertFn != nil {
		return f.upsertFn(rec)
	}
	return nil
}

func (f *fakeVectorStore) QueryNearest(_ context.Context, ownerID string, _ []float32, k int) ([]emaildomain.VectorMatch, error) {
	f.queries++
	f.lastK = k
	f.lastUser = ownerID
	if f.err != nil {
		return nil, f.err
	}
	out := f.matches
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeVectorStore) Delete(context.Context, string, string) error { return f.err }

func (f *fakeVectorStore) Count(context.Context, string) (int64, error) {
	return int64(len(f.matches)), f.err
}

type fakeMetadata struct {
	summaries map[string]*emaildomain.MessageSummary
	errs      map[string]error
}

func (f *fakeMetadata) GetSummary(_ context.Context, _ string, emailID string) (*emaildomain.MessageSummary, error) {
	if err, ok := f.errs[emailID]; ok {
		return nil, err
	}
	if s, ok := f.summaries[emailID]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("summary %s: %w", emailID, emaildomain.ErrNotFound)
}

func metadataFor(ids ...string) *fakeMetadata {
	m := &fakeMetadata{summaries: map[string]*emaildomain.MessageSummary{}, errs: map[string]error{}}
	for _, id := range ids {
		m.summaries[id] = &emaildomain.MessageSummary{Subject: "subject " + id, From: "sender@example.com"}
	}
	return m
}

type recordedQuery struct {
	owner string
	query string
}

type fakeRecorder struct {
	mu      sync.Mutex
	queries []recordedQuery
}

func (f *fakeRecorder) Record(_ context.Context, ownerID, query string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, recordedQuery{owner: ownerID, query: query})
}

// fakeHistoryStore is an in-memory HistoryStore.
type fakeHistoryStore struct {
	mu        sync.Mutex
	entries   []*emaildomain.SearchHistoryEntry
	appendErr error
	recentErr error
}

func (f *fakeHistoryStore) Append(ctx context.Context, entry *emaildomain.SearchHistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeHistoryStore) sorted(ownerID string) []*emaildomain.SearchHistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*emaildomain.SearchHistoryEntry
	for _, e := range f.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SearchedAt.After(out[j].SearchedAt) })
	return out
}

func (f *fakeHistoryStore) FindMatching(_ context.Context, ownerID, fragment string, limit int) ([]*emaildomain.SearchHistoryEntry, error) {
	var out []*emaildomain.SearchHistoryEntry
	for _, e := range f.sorted(ownerID) {
		if strings.Contains(strings.ToLower(e.Query), strings.ToLower(fragment)) {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeHistoryStore) Recent(_ context.Context, ownerID string, limit int) ([]*emaildomain.SearchHistoryEntry, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	out := f.sorted(ownerID)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeHistoryStore) add(ownerID, query string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, &emaildomain.SearchHistoryEntry{
		ID: fmt.Sprintf("h%d", len(f.entries)), OwnerID: ownerID, Query: query, SearchedAt: at,
	})
}
