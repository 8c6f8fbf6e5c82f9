package storage

import (
	"context"
	"strconv"

	"github.com/google/uuid"
)

// DocumentChunk is one embedded segment of a source.
type DocumentChunk struct {
	ID        string    // Deterministic UUID, see ChunkID
	Source    string    // Source identifier (URL, logical name)
	Index     int       // Position within the source (0, 1, 2...)
	Text      string    // Chunk text
	Category  string    // Display category: "Website", "Cloud Engineering"...
	Type      string    // Document type: "page", "benefit", "event"
	Namespace string    // Partition key: "website", "sales", "events"
	Embedding []float32 // 1536-dim vector (text-embedding-3-small)
}

// Match is a query hit. Embedding is not populated.
type Match struct {
	Chunk DocumentChunk
	Score float64
}

// Filter restricts a query by payload fields. Empty fields match anything.
type Filter struct {
	Source   string
	Category string
	Type     string
}

func (f Filter) matches(c DocumentChunk) bool {
	return (f.Source == "" || f.Source == c.Source) &&
		(f.Category == "" || f.Category == c.Category) &&
		(f.Type == "" || f.Type == c.Type)
}

// DefaultCollection is the Qdrant collection used when none is configured.
const DefaultCollection = "documents"

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536

// DefaultBatchSize caps the number of points per upsert request.
const DefaultBatchSize = 100

// ChunkID derives the point ID from (source, index). Re-embedding the same
// position of the same source always yields the same ID.
func ChunkID(source string, index int) string {
	return uuid.NewMD5(uuid.NameSpaceURL, []byte(source+"#"+strconv.Itoa(index))).String()
}

// VectorIndex stores chunks and answers similarity queries.
type VectorIndex interface {
	// UpsertBatch writes chunks in fixed-size batches, in input order.
	UpsertBatch(ctx context.Context, chunks []DocumentChunk) error
	// DeleteBySource removes every chunk of source within namespace.
	DeleteBySource(ctx context.Context, namespace, source string) error
	// DeleteNamespace removes every chunk of namespace, or every chunk if empty.
	DeleteNamespace(ctx context.Context, namespace string) error
	// Query returns up to topK chunks by descending similarity, ties broken by ID.
	Query(ctx context.Context, embedding []float32, topK int, namespace string, filter Filter) ([]Match, error)
	// Count returns the number of chunks in namespace, or in all namespaces if empty.
	Count(ctx context.Context, namespace string) (int, error)
	// Scroll visits every chunk of namespace ordered by (source, index).
	Scroll(ctx context.Context, namespace string, fn func(DocumentChunk) error) error
	Health(ctx context.Context) error
}
