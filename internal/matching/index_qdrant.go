package matching

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voicepassport/internal/platform/config"
	dErrors "voicepassport/pkg/domain-errors"
)

// searchLimit bounds the candidate set pulled per query. The engine only
// needs the maximum, but a handful of neighbors keeps scores inspectable in
// the audit trail during incident review.
const searchLimit = 10

// QdrantIndex implements VectorIndex against a Qdrant server over gRPC.
type QdrantIndex struct {
	client *qdrant.Client
}

// NewQdrantIndex connects to the configured Qdrant endpoint.
func NewQdrantIndex(cfg config.VectorIndex) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}
	return &QdrantIndex{client: client}, nil
}

func (q *QdrantIndex) EnsureCollection(ctx context.Context, collection string, dim int) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return classify(err, "check collection")
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classify(err, "create collection")
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, collection, id string, vector Embedding) error {
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vector...),
		}},
	})
	if err != nil {
		return classify(err, "upsert embedding")
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, collection string, vector Embedding) ([]Candidate, error) {
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(searchLimit)),
	})
	if err != nil {
		return nil, classify(err, "search embeddings")
	}
	candidates := make([]Candidate, 0, len(points))
	for _, p := range points {
		candidates = append(candidates, Candidate{
			ID:    pointID(p.GetId()),
			Score: p.GetScore(),
		})
	}
	return candidates, nil
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// classify maps gRPC transport failures to the transient error class so the
// orchestrator retries them; everything else is internal.
func classify(err error, op string) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
		return dErrors.Wrap(err, dErrors.CodeTransient, op+" failed")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, op+" failed")
	}
}
