// Package qdrant stores email embeddings in a Qdrant collection over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/metrics"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	backendName = "qdrant"

	payloadOwnerID   = "owner_id"
	payloadEmailID   = "email_id"
	payloadUpdatedAt = "updated_at"
	payloadCreatedAt = "created_at"
	payloadText      = "text"
)

// pointNamespace derives stable point ids from (owner, email).
var pointNamespace = uuid.MustParse("5b7f1c3e-2f5d-4c4e-9d8e-6a0c2f1b7e21")

type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	logger      *zap.Logger
}

func NewQdrantStore(host string, port int, collection string, logger *zap.Logger) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		logger:      logger,
	}, nil
}

// EnsureCollection creates the cosine collection and owner index when missing, and
// fails with ErrConfiguration when an existing collection has another vector size.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	switch {
	case err == nil:
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != uint64(emaildomain.EmbeddingDimension) {
			return fmt.Errorf("qdrant collection %s has size %d, expected %d: %w",
				s.collection, size, emaildomain.EmbeddingDimension, emaildomain.ErrConfiguration)
		}
		return nil
	case status.Code(err) != codes.NotFound:
		return fmt.Errorf("qdrant get collection: %w: %w", emaildomain.ErrDependency, err)
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(emaildomain.EmbeddingDimension),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w: %w", emaildomain.ErrDependency, err)
	}

	wait := true
	fieldType := pb.FieldType_FieldTypeKeyword
	_, err = s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: s.collection,
		Wait:           &wait,
		FieldName:      payloadOwnerID,
		FieldType:      &fieldType,
	})
	if err != nil {
		return fmt.Errorf("qdrant create owner index: %w: %w", emaildomain.ErrDependency, err)
	}

	s.logger.Info("[Qdrant] Created collection", zap.String("collection", s.collection))
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, rec *emaildomain.EmbeddingRecord) (err error) {
	defer observe("upsert", &err)
	if err := rec.Validate(); err != nil {
		return err
	}

	id := pointID(rec.OwnerID, rec.EmailID)
	existing, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{id},
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Include{
			Include: &pb.PayloadIncludeSelector{Fields: []string{payloadCreatedAt}},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant get: %w: %w", emaildomain.ErrDependency, err)
	}
	var storedCreatedAt string
	if pts := existing.GetResult(); len(pts) > 0 {
		storedCreatedAt = pts[0].GetPayload()[payloadCreatedAt].GetStringValue()
	}

	wait := true
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      id,
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Vector}}},
			Payload: pointPayload(rec, storedCreatedAt, time.Now().UTC()),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w: %w", emaildomain.ErrDependency, err)
	}
	return nil
}

func (s *QdrantStore) QueryNearest(ctx context.Context, ownerID string, vector []float32, k int) (_ []emaildomain.VectorMatch, err error) {
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

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		Filter:         ownerFilter(ownerID),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w: %w", emaildomain.ErrDependency, err)
	}

	matches := make([]emaildomain.VectorMatch, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		matches = append(matches, matchFromPoint(pt))
	}
	return matches, nil
}

func (s *QdrantStore) Delete(ctx context.Context, ownerID, emailID string) (err error) {
	defer observe("delete", &err)
	wait := true
	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(ownerID, emailID)}},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w: %w", emaildomain.ErrDependency, err)
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context, ownerID string) (_ int64, err error) {
	defer observe("count", &err)
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         ownerFilter(ownerID),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w: %w", emaildomain.ErrDependency, err)
	}
	return int64(resp.GetResult().GetCount()), nil
}

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func pointID(ownerID, emailID string) *pb.PointId {
	id := uuid.NewSHA1(pointNamespace, []byte(ownerID+"\x00"+emailID))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
}

// pointPayload builds the stored payload. A non-empty storedCreatedAt comes from the
// point being replaced and wins over the record's own CreatedAt.
func pointPayload(rec *emaildomain.EmbeddingRecord, storedCreatedAt string, now time.Time) map[string]*pb.Value {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	createdAt := storedCreatedAt
	if createdAt == "" {
		created := rec.CreatedAt
		if created.IsZero() {
			created = updatedAt
		}
		createdAt = created.Format(time.RFC3339Nano)
	}
	return map[string]*pb.Value{
		payloadOwnerID:   stringValue(rec.OwnerID),
		payloadEmailID:   stringValue(rec.EmailID),
		payloadText:      stringValue(rec.EmbeddedText),
		payloadCreatedAt: stringValue(createdAt),
		payloadUpdatedAt: stringValue(updatedAt.Format(time.RFC3339Nano)),
	}
}

func ownerFilter(ownerID string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   payloadOwnerID,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: ownerID}},
		}},
	}}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func matchFromPoint(pt *pb.ScoredPoint) emaildomain.VectorMatch {
	payload := pt.GetPayload()
	m := emaildomain.VectorMatch{
		EmailID:    payload[payloadEmailID].GetStringValue(),
		Similarity: emaildomain.ClampSimilarity(float64(pt.GetScore())),
	}
	if raw := payload[payloadUpdatedAt].GetStringValue(); raw != "" {
		m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return m
}

func observe(op string, err *error) {
	label := metrics.Status(*err)
	if errors.Is(*err, emaildomain.ErrValidation) {
		label = "rejected"
	}
	metrics.VectorStoreOperationsTotal.WithLabelValues(backendName, op, label).Inc()
}
