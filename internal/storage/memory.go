package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process VectorIndex using brute-force cosine similarity.
// It backs local development and tests.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]DocumentChunk
	batch  batcher

	// Counters observed by tests.
	UpsertCalls int
	BatchWrites int
	DeleteCalls int

	// FailWrites makes the next n batch writes fail.
	FailWrites int
}

func NewMemoryIndex() *MemoryIndex {
	b := newBatcher(DefaultBatchSize, 3)
	b.initialInterval = 0
	return &MemoryIndex{
		points: make(map[string]DocumentChunk),
		batch:  b,
	}
}

var errInjected = errors.New("injected write failure")

func (m *MemoryIndex) UpsertBatch(ctx context.Context, chunks []DocumentChunk) error {
	m.mu.Lock()
	m.UpsertCalls++
	m.mu.Unlock()

	return m.batch.run(ctx, chunks, func(_ context.Context, batch []DocumentChunk) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.BatchWrites++
		if m.FailWrites > 0 {
			m.FailWrites--
			return errInjected
		}
		for _, c := range batch {
			c.Embedding = append([]float32(nil), c.Embedding...)
			m.points[c.ID] = c
		}
		return nil
	})
}

func (m *MemoryIndex) DeleteBySource(_ context.Context, namespace, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	for id, c := range m.points {
		if c.Source == source && (namespace == "" || c.Namespace == namespace) {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryIndex) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	for id, c := range m.points {
		if namespace == "" || c.Namespace == namespace {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, embedding []float32, topK int, namespace string, filter Filter) ([]Match, error) {
	if len(embedding) != VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), VectorDimension)
	}
	if topK <= 0 {
		return []Match{}, nil
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.points))
	for _, c := range m.points {
		if namespace != "" && c.Namespace != namespace {
			continue
		}
		if !filter.matches(c) {
			continue
		}
		score := cosine(embedding, c.Embedding)
		c.Embedding = nil
		matches = append(matches, Match{Chunk: c, Score: score})
	}
	m.mu.RUnlock()

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MemoryIndex) Count(_ context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.points {
		if namespace == "" || c.Namespace == namespace {
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndex) Scroll(_ context.Context, namespace string, fn func(DocumentChunk) error) error {
	m.mu.RLock()
	chunks := make([]DocumentChunk, 0, len(m.points))
	for _, c := range m.points {
		if namespace == "" || c.Namespace == namespace {
			chunks = append(chunks, c)
		}
	}
	m.mu.RUnlock()

	sortChunks(chunks)
	for _, c := range chunks {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryIndex) Health(context.Context) error {
	return nil
}

// sortMatches orders by descending score, then ascending ID.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.ID < matches[j].Chunk.ID
	})
}

func sortChunks(chunks []DocumentChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Source != chunks[j].Source {
			return chunks[i].Source < chunks[j].Source
		}
		return chunks[i].Index < chunks[j].Index
	})
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
