package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

const vectorName = "content"

// QdrantConfig locates the Qdrant server and collection.
type QdrantConfig struct {
	Host        string
	Port        int
	Collection  string
	BatchSize   int
	MaxAttempts int
	Logger      *slog.Logger
}

// QdrantIndex is the production VectorIndex.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	batch      batcher
	logger     *slog.Logger
}

// NewQdrantIndex creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	idx := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		batch:      newBatcher(cfg.BatchSize, cfg.MaxAttempts),
		logger:     cfg.Logger,
	}

	if err := idx.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return idx, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (q *QdrantIndex) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error { return q.Health(ctx) }, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (q *QdrantIndex) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with 1536-dimension cosine vectors
// and keyword payload indexes if it does not exist yet.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     VectorDimension,
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Without these indexes filtered queries and deletes scan every point.
	for _, field := range []string{"namespace", "source", "category", "type"} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	q.logger.Info("created qdrant collection", "collection", q.collection)
	return nil
}

// Close closes the Qdrant client connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

func (q *QdrantIndex) UpsertBatch(ctx context.Context, chunks []DocumentChunk) error {
	return q.batch.run(ctx, chunks, func(ctx context.Context, batch []DocumentChunk) error {
		points := make([]*qdrant.PointStruct, len(batch))
		for i, c := range batch {
			points[i] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(c.ID),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(c.Embedding...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"text":        c.Text,
					"source":      c.Source,
					"chunk_index": c.Index,
					"category":    c.Category,
					"type":        c.Type,
					"namespace":   c.Namespace,
				}),
			}
		}
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			q.logger.Warn("qdrant upsert attempt failed", "points", len(points), "error", err)
		}
		return err
	})
}

func (q *QdrantIndex) DeleteBySource(ctx context.Context, namespace, source string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(q.filter(namespace, Filter{Source: source})),
	})
	if err != nil {
		return fmt.Errorf("failed to delete source %s: %w", source, err)
	}
	return nil
}

func (q *QdrantIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	f := q.filter(namespace, Filter{})
	if f == nil {
		f = &qdrant.Filter{}
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(f),
	})
	if err != nil {
		return fmt.Errorf("failed to delete namespace %q: %w", namespace, err)
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, embedding []float32, topK int, namespace string, filter Filter) ([]Match, error) {
	if len(embedding) != VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), VectorDimension)
	}
	if topK <= 0 {
		return []Match{}, nil
	}

	using := vectorName
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(embedding...),
		Using:          &using,
		Filter:         q.filter(namespace, filter),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Chunk: chunkFromPayload(r.Id.GetUuid(), r.Payload),
			Score: float64(r.Score),
		})
	}
	sortMatches(matches)
	return matches, nil
}

func (q *QdrantIndex) Count(ctx context.Context, namespace string) (int, error) {
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Filter:         q.filter(namespace, Filter{}),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(count), nil
}

// Scroll pages through the namespace and visits chunks ordered by (source, index).
func (q *QdrantIndex) Scroll(ctx context.Context, namespace string, fn func(DocumentChunk) error) error {
	const pageSize = uint32(100)
	filter := q.filter(namespace, Filter{})

	chunks, err := collectPages(ctx, func(ctx context.Context, offset *qdrant.PointId) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error) {
		return q.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(pageSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to scroll chunks: %w", err)
	}

	sortChunks(chunks)
	for _, c := range chunks {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

type pageFunc func(ctx context.Context, offset *qdrant.PointId) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)

// collectPages follows the next-page offset returned with each page until
// the server reports none. The offset is inclusive, so it must be the
// server's, never the last point already seen.
func collectPages(ctx context.Context, page pageFunc) ([]DocumentChunk, error) {
	var (
		offset *qdrant.PointId
		chunks []DocumentChunk
	)
	for {
		results, next, err := page(ctx, offset)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			chunks = append(chunks, chunkFromPayload(r.Id.GetUuid(), r.Payload))
		}
		if next == nil {
			return chunks, nil
		}
		offset = next
	}
}

// filter builds the Must conditions for namespace and f. Nil means no filter.
func (q *QdrantIndex) filter(namespace string, f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if namespace != "" {
		must = append(must, qdrant.NewMatch("namespace", namespace))
	}
	if f.Source != "" {
		must = append(must, qdrant.NewMatch("source", f.Source))
	}
	if f.Category != "" {
		must = append(must, qdrant.NewMatch("category", f.Category))
	}
	if f.Type != "" {
		must = append(must, qdrant.NewMatch("type", f.Type))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) DocumentChunk {
	return DocumentChunk{
		ID:        id,
		Source:    payload["source"].GetStringValue(),
		Index:     int(payload["chunk_index"].GetIntegerValue()),
		Text:      payload["text"].GetStringValue(),
		Category:  payload["category"].GetStringValue(),
		Type:      payload["type"].GetStringValue(),
		Namespace: payload["namespace"].GetStringValue(),
	}
}
