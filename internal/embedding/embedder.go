package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bull/csa-content-sync/internal/observability"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// Dimension is the vector dimension for text-embedding-3-small.
	// This matches storage.VectorDimension (1536).
	Dimension = 1536

	DefaultConcurrency = 3
	DefaultMaxBackoff  = 60 * time.Second
)

// ErrEmbeddingFailed is returned once transient failures outlast the backoff ceiling.
var ErrEmbeddingFailed = errors.New("embedding failed")

// API is the upstream embeddings call. *Client implements it.
type API interface {
	CreateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Options tunes an Embedder. Zero values fall back to the defaults.
type Options struct {
	Model       string
	Concurrency int
	MaxBackoff  time.Duration
	Logger      *slog.Logger
}

// Embedder turns text into vectors. Concurrent callers share a fixed number
// of permits; transient upstream failures are retried with jittered
// exponential backoff until MaxBackoff has elapsed.
type Embedder struct {
	api        API
	model      string
	sem        *semaphore.Weighted
	maxBackoff time.Duration
	logger     *slog.Logger

	// initialInterval is shortened by tests.
	initialInterval time.Duration
}

func NewEmbedder(api API, opts Options) *Embedder {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Embedder{
		api:             api,
		model:           opts.Model,
		sem:             semaphore.NewWeighted(int64(opts.Concurrency)),
		maxBackoff:      opts.MaxBackoff,
		logger:          opts.Logger,
		initialInterval: 500 * time.Millisecond,
	}
}

// Embed returns the embedding of a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	return e.embedWithRetry(ctx, text)
}

// EmbedAll embeds every text, preserving order. The first failure cancels
// the remaining requests and is returned; no partial result is produced.
func (e *Embedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := observability.StartSpan(ctx, "embedding.EmbedAll",
		attribute.Int("embedding.count", len(texts)),
		attribute.String("embedding.model", e.model),
	)
	defer span.End()

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// embedWithRetry calls the API with exponential backoff on transient errors.
// Non-transient errors fail immediately.
func (e *Embedder) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var (
		vec       []float32
		permanent error
		attempt   int
	)

	operation := func() error {
		attempt++
		res, err := e.api.CreateEmbeddings(ctx, e.model, []string{text})
		if err != nil {
			if !IsTransient(err) {
				permanent = err
				return backoff.Permanent(err)
			}
			e.logger.Debug("embedding attempt failed", "attempt", attempt, "error", err)
			return err
		}
		if len(res) != 1 || len(res[0]) != Dimension {
			got := 0
			if len(res) == 1 {
				got = len(res[0])
			}
			permanent = fmt.Errorf("expected %d dimensions, got %d", Dimension, got)
			return backoff.Permanent(permanent)
		}
		vec = res[0]
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialInterval
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = e.maxBackoff

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if permanent != nil {
		return nil, permanent
	}
	e.logger.Warn("embedding retries exhausted", "attempts", attempt, "error", err)
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrEmbeddingFailed, attempt, err)
}

// IsTransient reports whether err is worth retrying: timeouts, connection
// failures, rate limiting and server-side API errors. Bad requests and
// authentication failures are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 400, 401, 403, 404, 422:
			return false
		default:
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
