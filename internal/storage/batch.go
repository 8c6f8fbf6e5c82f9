package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// batcher splits upserts into capped batches and retries each one on its own.
type batcher struct {
	size        int
	maxAttempts int

	// initialInterval is shortened by tests.
	initialInterval time.Duration
}

func newBatcher(size, maxAttempts int) batcher {
	if size <= 0 || size > DefaultBatchSize {
		size = DefaultBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return batcher{size: size, maxAttempts: maxAttempts, initialInterval: 500 * time.Millisecond}
}

func validateDimensions(chunks []DocumentChunk) error {
	for i, chunk := range chunks {
		if len(chunk.Embedding) != VectorDimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), VectorDimension)
		}
	}
	return nil
}

// run writes chunks batch by batch in input order. It stops at the first
// batch that still fails after maxAttempts and returns a *BatchError.
func (b batcher) run(ctx context.Context, chunks []DocumentChunk, write func(context.Context, []DocumentChunk) error) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateDimensions(chunks); err != nil {
		return err
	}

	batches := (len(chunks) + b.size - 1) / b.size
	written := 0
	for n := 0; n < batches; n++ {
		start := n * b.size
		end := min(start+b.size, len(chunks))
		batch := chunks[start:end]

		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = b.initialInterval
		exp.MaxInterval = 10 * time.Second
		exp.MaxElapsedTime = 0

		operation := func() error {
			return write(ctx, batch)
		}
		policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(b.maxAttempts-1)), ctx)
		if err := backoff.Retry(operation, policy); err != nil {
			return &BatchError{Batch: n, Batches: batches, Written: written, Err: err}
		}
		written += len(batch)
	}
	return nil
}
