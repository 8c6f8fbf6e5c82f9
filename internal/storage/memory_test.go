package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vector(values ...float32) []float32 {
	v := make([]float32, VectorDimension)
	copy(v, values)
	return v
}

func chunk(source string, index int, ns string, emb []float32) DocumentChunk {
	return DocumentChunk{
		ID:        ChunkID(source, index),
		Source:    source,
		Index:     index,
		Text:      fmt.Sprintf("%s chunk %d", source, index),
		Category:  "Website",
		Type:      "page",
		Namespace: ns,
		Embedding: emb,
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	assert.Equal(t, ChunkID("https://example.com/a", 0), ChunkID("https://example.com/a", 0))
	assert.NotEqual(t, ChunkID("https://example.com/a", 0), ChunkID("https://example.com/a", 1))
	assert.NotEqual(t, ChunkID("https://example.com/a", 1), ChunkID("https://example.com/a1", 0))
}

func TestMemoryIndex_UpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	rows := []DocumentChunk{
		chunk("a", 0, "website", vector(1)),
		chunk("a", 1, "website", vector(0, 1)),
	}

	require.NoError(t, idx.UpsertBatch(ctx, rows))
	var first []DocumentChunk
	require.NoError(t, idx.Scroll(ctx, "", func(c DocumentChunk) error {
		first = append(first, c)
		return nil
	}))

	require.NoError(t, idx.UpsertBatch(ctx, rows))
	var second []DocumentChunk
	require.NoError(t, idx.Scroll(ctx, "", func(c DocumentChunk) error {
		second = append(second, c)
		return nil
	}))

	assert.Equal(t, first, second)
	n, err := idx.Count(ctx, "website")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryIndex_BatchesCapped(t *testing.T) {
	idx := NewMemoryIndex()
	rows := make([]DocumentChunk, 250)
	for i := range rows {
		rows[i] = chunk("big", i, "website", vector(1))
	}

	require.NoError(t, idx.UpsertBatch(context.Background(), rows))
	assert.Equal(t, 3, idx.BatchWrites)
}

func TestMemoryIndex_BatchRetriedIndependently(t *testing.T) {
	idx := NewMemoryIndex()
	idx.FailWrites = 2
	rows := make([]DocumentChunk, 150)
	for i := range rows {
		rows[i] = chunk("retry", i, "website", vector(1))
	}

	require.NoError(t, idx.UpsertBatch(context.Background(), rows))
	assert.Equal(t, 4, idx.BatchWrites)
	n, _ := idx.Count(context.Background(), "")
	assert.Equal(t, 150, n)
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx := NewMemoryIndex()
	err := idx.UpsertBatch(context.Background(), []DocumentChunk{chunk("a", 0, "website", []float32{1, 2})})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Query(context.Background(), []float32{1}, 5, "", Filter{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMemoryIndex_DeleteBySource(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.UpsertBatch(ctx, []DocumentChunk{
		chunk("a", 0, "website", vector(1)),
		chunk("a", 1, "website", vector(1)),
		chunk("b", 0, "website", vector(1)),
		chunk("a", 0, "sales", vector(1)),
	}))

	require.NoError(t, idx.DeleteBySource(ctx, "website", "a"))

	website, _ := idx.Count(ctx, "website")
	sales, _ := idx.Count(ctx, "sales")
	assert.Equal(t, 1, website)
	assert.Equal(t, 1, sales)
}

func TestMemoryIndex_QueryOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	sales := chunk("pricing", 0, "sales", vector(1))
	sales.Category = "Cloud Engineering"
	require.NoError(t, idx.UpsertBatch(ctx, []DocumentChunk{
		chunk("x", 0, "website", vector(1, 0)),
		chunk("y", 0, "website", vector(1, 0)),
		chunk("z", 0, "website", vector(0, 1)),
		sales,
	}))

	matches, err := idx.Query(ctx, vector(1, 0), 10, "website", Filter{})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "z", matches[2].Chunk.Source)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Less(t, matches[0].Chunk.ID, matches[1].Chunk.ID, "ties break by id")
	assert.Nil(t, matches[0].Chunk.Embedding)

	again, err := idx.Query(ctx, vector(1, 0), 10, "website", Filter{})
	require.NoError(t, err)
	assert.Equal(t, matches, again)

	top, err := idx.Query(ctx, vector(1, 0), 1, "", Filter{Category: "Cloud Engineering"})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "pricing", top[0].Chunk.Source)
}
