package storage

import (
	"errors"
	"fmt"
)

var (
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// BatchError reports an upsert that stopped at a failed batch. Batches
// before Batch were written; Batch and those after it were not.
type BatchError struct {
	Batch   int
	Batches int
	Written int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upsert batch %d/%d failed after %d chunks written: %v",
		e.Batch+1, e.Batches, e.Written, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
