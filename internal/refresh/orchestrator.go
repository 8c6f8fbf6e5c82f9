// Package refresh keeps the vector index in step with the tracked sources.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bull/csa-content-sync/internal/chunker"
	"github.com/bull/csa-content-sync/internal/hashstore"
	"github.com/bull/csa-content-sync/internal/observability"
	"github.com/bull/csa-content-sync/internal/source"
	"github.com/bull/csa-content-sync/internal/storage"
)

// ErrPassInProgress is returned when a pass is requested while another runs.
var ErrPassInProgress = errors.New("refresh pass already in progress")

var errNoContent = errors.New("no content")

// Embedder turns chunk texts into vectors, preserving order.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// SourceLister provides the tracked sources. *source.Registry implements it.
type SourceLister interface {
	Sources() []source.Source
	Lookup(id string) (source.Source, bool)
}

// resolver is implemented by fetchers that expand collection sources.
type resolver interface {
	Resolve(ctx context.Context, sources []source.Source) ([]source.Source, []source.Unresolved)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sources  SourceLister
	Fetcher  source.Fetcher
	Embedder Embedder
	Index    storage.VectorIndex
	Hashes   hashstore.Store
	Logger   *slog.Logger
}

// Options tunes chunking and pass limits.
type Options struct {
	ChunkSize   int
	Overlap     int
	PassTimeout time.Duration
}

// Orchestrator runs refresh passes: fetch each source, compare its hash,
// and re-index the sources whose content changed.
type Orchestrator struct {
	deps  Deps
	opts  Options
	state *SyncState
	log   *slog.Logger
}

// New loads the persisted hashes and returns an orchestrator. The hash file
// is read again at the start of every pass.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 400
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		opts.Overlap = 0
	}

	hashes, err := deps.Hashes.Load()
	if err != nil {
		return nil, fmt.Errorf("load hashes: %w", err)
	}

	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		state: NewSyncState(hashes),
		log:   deps.Logger,
	}, nil
}

// State exposes the orchestrator's sync state.
func (o *Orchestrator) State() *SyncState {
	return o.state
}

// RefreshAll checks every tracked source and re-indexes the changed ones.
func (o *Orchestrator) RefreshAll(ctx context.Context) (*Result, error) {
	return o.pass(ctx, false, func() []source.Source {
		return o.deps.Sources.Sources()
	})
}

// RefreshSources re-indexes the named sources regardless of their hash.
// Unregistered identifiers are indexed with website defaults.
func (o *Orchestrator) RefreshSources(ctx context.Context, ids []string) (*Result, error) {
	return o.pass(ctx, true, func() []source.Source {
		list := make([]source.Source, 0, len(ids))
		for _, id := range ids {
			src, ok := o.deps.Sources.Lookup(id)
			if !ok {
				src = source.Source{ID: id}.WithDefaults()
			}
			list = append(list, src)
		}
		return list
	})
}

// Initialize runs a forced pass over every source when the index is empty.
// It returns a nil Result when the index already has content.
func (o *Orchestrator) Initialize(ctx context.Context) (*Result, error) {
	n, err := o.deps.Index.Count(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("count index: %w", err)
	}
	if n > 0 {
		o.log.Info("index already populated, skipping initial load", "chunks", n)
		return nil, nil
	}

	o.log.Info("index is empty, running initial load")
	return o.pass(ctx, true, func() []source.Source {
		return o.deps.Sources.Sources()
	})
}

// resolve expands collection sources. Sources that cannot be resolved are
// recorded as failed and left out of the pass.
func (o *Orchestrator) resolve(ctx context.Context, sources []source.Source, result *Result) []source.Source {
	r, ok := o.deps.Fetcher.(resolver)
	if !ok {
		return sources
	}
	resolved, unresolved := r.Resolve(ctx, sources)
	for _, u := range unresolved {
		o.fail(result, u.Source, fmt.Errorf("resolve: %w", u.Err))
	}
	return resolved
}

// pass holds the pass lock for the duration of one run over list().
func (o *Orchestrator) pass(ctx context.Context, forced bool, list func() []source.Source) (result *Result, err error) {
	if !o.state.tryBegin() {
		o.log.Debug("refresh pass skipped, another pass is running")
		return nil, ErrPassInProgress
	}
	defer o.state.end()

	if o.opts.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.PassTimeout)
		defer cancel()
	}

	ctx, span := observability.StartPassSpan(ctx, "refresh")
	defer func() { observability.EndSpan(span, err) }()

	result = &Result{Started: time.Now(), Forced: forced}
	defer func() {
		result.Duration = time.Since(result.Started)
		o.state.setLastResult(result)
		span.SetAttributes(
			attribute.Int("refresh.checked", result.Checked),
			attribute.Int("refresh.refreshed", result.Refreshed),
			attribute.Int("refresh.failed", len(result.Failed)),
		)
	}()

	o.reloadHashes()
	sources := o.resolve(ctx, list(), result)

	for _, src := range sources {
		if ctx.Err() != nil {
			o.log.Warn("refresh pass interrupted", "remaining", len(sources)-result.Checked, "error", ctx.Err())
			break
		}
		result.Checked++
		o.checkSource(ctx, src, forced, result)
	}

	// Hashes are persisted once per pass, after every source is processed.
	if err := o.persistHashes(); err != nil {
		return result, fmt.Errorf("save hashes: %w", err)
	}

	o.log.Info("refresh pass complete",
		"checked", result.Checked,
		"unchanged", result.Unchanged,
		"refreshed", result.Refreshed,
		"skipped", result.Skipped,
		"failed", len(result.Failed),
		"chunks", result.Chunks,
		"duration", time.Since(result.Started),
	)
	return result, ctx.Err()
}

// checkSource fetches one source and re-indexes it when its hash changed.
// Failures are recorded on result and never abort the pass.
func (o *Orchestrator) checkSource(ctx context.Context, src source.Source, forced bool, result *Result) {
	content, err := o.deps.Fetcher.Fetch(ctx, src.ID)
	if err != nil {
		o.fail(result, src, fmt.Errorf("fetch: %w", err))
		return
	}

	hash := hashstore.ComputeHash(content)
	if stored, ok := o.state.Hash(src.ID); ok && stored == hash && !forced {
		o.log.Info("no change", "source", src.ID)
		result.Unchanged++
		return
	}

	o.log.Info("change detected, refreshing", "source", src.ID)
	n, err := o.reindex(ctx, src, content)
	if errors.Is(err, errNoContent) {
		o.log.Warn("no content found, skipping refresh", "source", src.ID)
		result.Skipped++
		return
	}
	if err != nil {
		o.fail(result, src, err)
		return
	}

	o.state.setHash(src.ID, hash)
	result.Refreshed++
	result.Chunks += n
}

// reindex replaces every chunk of src with chunks of content. Embeddings
// are computed before the old chunks are deleted, so an embedding failure
// leaves the previous chunks searchable.
func (o *Orchestrator) reindex(ctx context.Context, src source.Source, content string) (int, error) {
	if strings.TrimSpace(content) == "" {
		return 0, errNoContent
	}
	texts := chunker.SplitOverlap(content, o.opts.ChunkSize, o.opts.Overlap)
	if len(texts) == 0 {
		return 0, errNoContent
	}

	vectors, err := o.deps.Embedder.EmbedAll(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}

	chunks := make([]storage.DocumentChunk, len(texts))
	for i, text := range texts {
		chunks[i] = storage.DocumentChunk{
			ID:        storage.ChunkID(src.ID, i),
			Source:    src.ID,
			Index:     i,
			Text:      text,
			Category:  src.Category,
			Type:      src.Type,
			Namespace: src.Namespace,
			Embedding: vectors[i],
		}
	}

	if err := o.deps.Index.DeleteBySource(ctx, src.Namespace, src.ID); err != nil {
		return 0, fmt.Errorf("delete stale chunks: %w", err)
	}
	if err := o.deps.Index.UpsertBatch(ctx, chunks); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}

	o.log.Debug("re-indexed source", "source", src.ID, "chunks", len(chunks))
	return len(chunks), nil
}

// reloadHashes picks up changes made to the hash file by other processes,
// such as a purge, since the last pass.
func (o *Orchestrator) reloadHashes() {
	hashes, err := o.deps.Hashes.Load()
	if err != nil {
		o.log.Warn("cannot reload hashes, using the in-memory copy", "error", err)
		return
	}
	o.state.replaceHashes(hashes)
}

// persistHashes writes the hashes updated by this pass over the current
// file contents, keeping entries other processes changed meanwhile.
func (o *Orchestrator) persistHashes() error {
	updates := o.state.takeUpdates()
	current, err := o.deps.Hashes.Load()
	if err != nil {
		o.log.Warn("cannot reload hashes before saving, writing the in-memory copy", "error", err)
		current = o.state.Hashes()
	}
	for id, h := range updates {
		current[id] = h
	}
	if err := o.deps.Hashes.Save(current); err != nil {
		return err
	}
	o.state.replaceHashes(current)
	return nil
}

func (o *Orchestrator) fail(result *Result, src source.Source, err error) {
	o.log.Warn("failed to refresh source", "source", src.ID, "error", err)
	result.Failed = append(result.Failed, FailedSource{ID: src.ID, Reason: err.Error()})
}

// Run performs the initial load, then a pass every interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	if _, err := o.Initialize(ctx); err != nil && !errors.Is(err, ErrPassInProgress) {
		o.log.Error("initial load failed", "error", err)
	}
	if interval <= 0 {
		o.log.Info("scheduled refresh disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.RefreshAll(ctx); err != nil {
				if errors.Is(err, ErrPassInProgress) {
					continue
				}
				o.log.Error("scheduled refresh failed", "error", err)
			}
		}
	}
}
