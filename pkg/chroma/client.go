package chroma

import (
	"context"
	"fmt"
	"strings"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/metrics"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"go.uber.org/zap"
)

const backendName = "chroma"

type Config struct {
	APIKey     string
	Tenant     string
	Database   string
	Collection string
}

// ChromaStore keeps one document per (owner, email) in a single cosine collection.
// Vectors are computed by the caller; the collection never embeds text itself.
type ChromaStore struct {
	client     chroma.Client
	collection chroma.Collection
	logger     *zap.Logger
}

func NewChromaStore(ctx context.Context, cfg Config, logger *zap.Logger) (*ChromaStore, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY is required: %w", emaildomain.ErrConfiguration)
	}
	if cfg.Collection == "" {
		cfg.Collection = "email_embeddings"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Use Chroma Cloud endpoint - https://api.trychroma.com:8000/api/v2
	opts := []chroma.ClientOption{
		chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
		chroma.WithCloudAPIKey(cfg.APIKey),
	}
	switch {
	case cfg.Database != "" && cfg.Tenant != "":
		opts = append(opts, chroma.WithDatabaseAndTenant(cfg.Database, cfg.Tenant))
	case cfg.Tenant != "":
		opts = append(opts, chroma.WithTenant(cfg.Tenant))
	}

	client, err := chroma.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	collection, err := client.GetOrCreateCollection(
		ctx,
		cfg.Collection,
		chroma.WithHNSWSpaceCreate(embeddings.COSINE),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w: %w", emaildomain.ErrDependency, err)
	}

	logger.Info("[Chroma] Initialized collection", zap.String("collection", cfg.Collection))

	return &ChromaStore{
		client:     client,
		collection: collection,
		logger:     logger,
	}, nil
}

func (c *ChromaStore) Upsert(ctx context.Context, rec *emaildomain.EmbeddingRecord) (err error) {
	defer observe("upsert", &err)
	if err := rec.Validate(); err != nil {
		return err
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	metadata, err := chroma.NewDocumentMetadataFromMap(map[string]interface{}{
		"owner_id":   rec.OwnerID,
		"email_id":   rec.EmailID,
		"updated_at": updatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}

	err = c.collection.Upsert(
		ctx,
		chroma.WithIDs(documentID(rec.OwnerID, rec.EmailID)),
		chroma.WithEmbeddings(embeddings.NewEmbeddingFromFloat32(rec.Vector)),
		chroma.WithMetadatas(metadata),
		chroma.WithTexts(rec.EmbeddedText),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert email embedding: %w: %w", emaildomain.ErrDependency, err)
	}
	return nil
}

func (c *ChromaStore) QueryNearest(ctx context.Context, ownerID string, vector []float32, k int) (_ []emaildomain.VectorMatch, err error) {
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

	results, err := c.collection.Query(
		ctx,
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chroma.WithNResults(k),
		chroma.WithWhereQuery(chroma.EqString("owner_id", ownerID)),
		chroma.WithIncludeQuery(chroma.IncludeMetadatas, chroma.IncludeDistances),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w: %w", emaildomain.ErrDependency, err)
	}
	if results == nil || results.CountGroups() == 0 {
		return []emaildomain.VectorMatch{}, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	metadataGroups := results.GetMetadatasGroups()
	if len(idGroups) == 0 || len(idGroups[0]) == 0 {
		return []emaildomain.VectorMatch{}, nil
	}

	matches := make([]emaildomain.VectorMatch, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		if len(distanceGroups) == 0 || i >= len(distanceGroups[0]) {
			break
		}
		m := emaildomain.VectorMatch{
			EmailID:    emailIDFromDocument(ownerID, string(id)),
			Similarity: similarityFromDistance(float64(distanceGroups[0][i])),
		}
		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) && metadataGroups[0][i] != nil {
			if raw, ok := metadataGroups[0][i].GetString("updated_at"); ok {
				m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, raw)
			}
		}
		matches = append(matches, m)
	}

	c.logger.Debug("[Chroma] Query complete", zap.String("owner_id", ownerID), zap.Int("matches", len(matches)))
	return matches, nil
}

func (c *ChromaStore) Delete(ctx context.Context, ownerID, emailID string) (err error) {
	defer observe("delete", &err)
	err = c.collection.Delete(ctx, chroma.WithIDsDelete(documentID(ownerID, emailID)))
	if err != nil {
		return fmt.Errorf("failed to delete email embedding: %w: %w", emaildomain.ErrDependency, err)
	}
	return nil
}

func (c *ChromaStore) Count(ctx context.Context, ownerID string) (_ int64, err error) {
	defer observe("count", &err)
	res, err := c.collection.Get(ctx, chroma.WithWhereGet(chroma.EqString("owner_id", ownerID)))
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w: %w", emaildomain.ErrDependency, err)
	}
	return int64(len(res.GetIDs())), nil
}

func (c *ChromaStore) Close() error {
	return c.client.Close()
}

// documentID keeps ids unique across owners sharing the collection.
func documentID(ownerID, emailID string) chroma.DocumentID {
	return chroma.DocumentID(ownerID + ":" + emailID)
}

func emailIDFromDocument(ownerID, docID string) string {
	return strings.TrimPrefix(docID, ownerID+":")
}

// similarityFromDistance converts Chroma's cosine distance (1 - cos) to a clamped similarity.
func similarityFromDistance(d float64) float64 {
	return emaildomain.ClampSimilarity(1 - d)
}

func observe(op string, err *error) {
	metrics.VectorStoreOperationsTotal.WithLabelValues(backendName, op, metrics.Status(*err)).Inc()
}
