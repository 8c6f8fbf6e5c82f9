package refresh

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/csa-content-sync/internal/hashstore"
	"github.com/bull/csa-content-sync/internal/source"
	"github.com/bull/csa-content-sync/internal/storage"
)

type fakeFetcher struct {
	mu      sync.Mutex
	content map[string]string
	errs    map[string]error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, id string) (string, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return "", err
	}
	return f.content[id], nil
}

func (f *fakeFetcher) set(id, content string) {
	f.mu.Lock()
	f.content[id] = content
	f.mu.Unlock()
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedAll(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, storage.VectorDimension)
		v[0] = float32(len(text))
		v[1] = 1
		out[i] = v
	}
	return out, nil
}

// recordingIndex logs mutating calls in order.
type recordingIndex struct {
	*storage.MemoryIndex
	ops []string
}

func (r *recordingIndex) DeleteBySource(ctx context.Context, ns, src string) error {
	r.ops = append(r.ops, "delete:"+src)
	return r.MemoryIndex.DeleteBySource(ctx, ns, src)
}

func (r *recordingIndex) UpsertBatch(ctx context.Context, chunks []storage.DocumentChunk) error {
	r.ops = append(r.ops, "upsert")
	return r.MemoryIndex.UpsertBatch(ctx, chunks)
}

type fixture struct {
	orch     *Orchestrator
	fetcher  *fakeFetcher
	embedder *fakeEmbedder
	index    *recordingIndex
	hashes   *hashstore.MemoryStore
}

func newFixture(t *testing.T, initial hashstore.Hashes, sources ...source.Source) *fixture {
	t.Helper()
	f := &fixture{
		fetcher:  &fakeFetcher{content: map[string]string{}, errs: map[string]error{}},
		embedder: &fakeEmbedder{},
		index:    &recordingIndex{MemoryIndex: storage.NewMemoryIndex()},
		hashes:   hashstore.NewMemoryStore(initial),
	}
	orch, err := New(Deps{
		Sources:  source.NewStaticRegistry(sources...),
		Fetcher:  f.fetcher,
		Embedder: f.embedder,
		Index:    f.index,
		Hashes:   f.hashes,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{ChunkSize: 400, Overlap: 50})
	require.NoError(t, err)
	f.orch = orch
	return f
}

func TestRefresh_EndToEnd(t *testing.T) {
	const url = "https://example.com/a"
	f := newFixture(t, nil, source.Source{ID: url})
	ctx := context.Background()
	h1 := hashstore.ComputeHash("hello world")
	h2 := hashstore.ComputeHash("hello world today")

	// First pass: new source.
	f.fetcher.set(url, "hello world")
	res, err := f.orch.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refreshed)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 1, f.index.UpsertCalls)
	saved, _ := f.hashes.Load()
	assert.Equal(t, h1, saved[url])

	// Second pass: identical content.
	f.index.ops = nil
	res, err = f.orch.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
	assert.Empty(t, f.index.ops)
	assert.Equal(t, 1, f.index.UpsertCalls)

	// Third pass: changed content.
	f.fetcher.set(url, "hello world today")
	res, err = f.orch.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refreshed)
	assert.Equal(t, []string{"delete:" + url, "upsert"}, f.index.ops)
	saved, _ = f.hashes.Load()
	assert.Equal(t, h2, saved[url])
	assert.NotEqual(t, h1, h2)

	n, _ := f.index.Count(ctx, "website")
	assert.Equal(t, 1, n)
	var texts []string
	require.NoError(t, f.index.Scroll(ctx, "website", func(c storage.DocumentChunk) error {
		texts = append(texts, c.Text)
		return nil
	}))
	assert.Equal(t, []string{"hello world today"}, texts)
	assert.Equal(t, 3, f.hashes.Saves, "hashes are saved once per pass")
}

func TestRefresh_NoOpForUnchangedContent(t *testing.T) {
	const url = "https://example.com/b"
	f := newFixture(t, hashstore.Hashes{url: hashstore.ComputeHash("same")}, source.Source{ID: url})
	f.fetcher.set(url, "same")

	res, err := f.orch.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
	assert.Zero(t, f.index.UpsertCalls)
	assert.Zero(t, f.index.DeleteCalls)
	assert.Zero(t, f.embedder.calls)
}

func TestRefresh_ChangeReplacesAllChunks(t *testing.T) {
	const url = "https://example.com/long"
	f := newFixture(t, nil, source.Source{ID: url})
	ctx := context.Background()

	long := bytes.Repeat([]byte("word "), 1000)
	f.fetcher.set(url, string(long))
	_, err := f.orch.RefreshAll(ctx)
	require.NoError(t, err)
	before, _ := f.index.Count(ctx, "")
	require.Greater(t, before, 1)

	f.fetcher.set(url, "short now")
	_, err = f.orch.RefreshAll(ctx)
	require.NoError(t, err)
	after, _ := f.index.Count(ctx, "")
	assert.Equal(t, 1, after, "stale chunks must be removed")

	hash, ok := f.orch.State().Hash(url)
	require.True(t, ok)
	assert.Equal(t, hashstore.ComputeHash("short now"), hash)
}

func TestRefresh_SourceIsolation(t *testing.T) {
	f := newFixture(t, nil,
		source.Source{ID: "https://a.example"},
		source.Source{ID: "https://b.example"},
		source.Source{ID: "https://c.example"},
	)
	f.fetcher.set("https://a.example", "alpha")
	f.fetcher.errs["https://b.example"] = errors.New("connection refused")
	f.fetcher.set("https://c.example", "gamma")

	res, err := f.orch.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 2, res.Refreshed)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "https://b.example", res.Failed[0].ID)

	_, ok := f.orch.State().Hash("https://b.example")
	assert.False(t, ok)
}

// failingExpander is a collection fetcher whose listing always fails.
type failingExpander struct{ err error }

func (f failingExpander) Fetch(context.Context, string) (string, error) { return "", f.err }

func (f failingExpander) Expand(context.Context, string) ([]string, error) { return nil, f.err }

func TestRefresh_UnresolvableSourcesAreIsolated(t *testing.T) {
	f := newFixture(t, nil)
	mux := source.NewMux()
	mux.Handle("https://", f.fetcher)
	mux.Handle("github://", failingExpander{err: errors.New("github: 502 bad gateway")})

	orch, err := New(Deps{
		Sources: source.NewStaticRegistry(
			source.Source{ID: "https://example.com/a"},
			source.Source{ID: "github://org/repo/docs"},
			source.Source{ID: "htps://typo"},
		),
		Fetcher:  mux,
		Embedder: f.embedder,
		Index:    f.index,
		Hashes:   f.hashes,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{ChunkSize: 400})
	require.NoError(t, err)
	f.fetcher.set("https://example.com/a", "alpha page")

	res, err := orch.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Refreshed)

	failed := map[string]string{}
	for _, fs := range res.Failed {
		failed[fs.ID] = fs.Reason
	}
	require.Len(t, failed, 2)
	assert.Contains(t, failed["github://org/repo/docs"], "502 bad gateway")
	assert.Contains(t, failed["htps://typo"], "no fetcher")

	n, _ := f.index.Count(context.Background(), "")
	assert.Equal(t, 1, n)
}

func TestRefresh_PicksUpHashFileChanges(t *testing.T) {
	const url = "https://example.com/purged"
	store := hashstore.NewFileStore(filepath.Join(t.TempDir(), "hashes.json"))
	index := storage.NewMemoryIndex()
	fetcher := &fakeFetcher{content: map[string]string{url: "purged page"}, errs: map[string]error{}}
	orch, err := New(Deps{
		Sources:  source.NewStaticRegistry(source.Source{ID: url}),
		Fetcher:  fetcher,
		Embedder: &fakeEmbedder{},
		Index:    index,
		Hashes:   store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{ChunkSize: 400})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := orch.RefreshAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Refreshed)

	// Another process purges the namespace and forgets the hash, and
	// records a hash of its own.
	require.NoError(t, index.DeleteNamespace(ctx, ""))
	hashes, err := store.Load()
	require.NoError(t, err)
	delete(hashes, url)
	hashes["https://example.com/other"] = "abc"
	require.NoError(t, store.Save(hashes))

	res, err = orch.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refreshed, "a forgotten hash re-indexes the source")
	assert.Equal(t, 0, res.Unchanged)

	n, _ := index.Count(ctx, "")
	assert.Equal(t, 1, n)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, hashstore.ComputeHash("purged page"), saved[url])
	assert.Equal(t, "abc", saved["https://example.com/other"], "entries written by other processes survive the save")
}

func TestRefresh_EmbedFailureKeepsOldChunks(t *testing.T) {
	const url = "https://example.com/c"
	f := newFixture(t, nil, source.Source{ID: url})
	ctx := context.Background()

	f.fetcher.set(url, "original text")
	_, err := f.orch.RefreshAll(ctx)
	require.NoError(t, err)

	f.embedder.err = errors.New("embedding failed")
	f.fetcher.set(url, "new text")
	res, err := f.orch.RefreshAll(ctx)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)

	n, _ := f.index.Count(ctx, "")
	assert.Equal(t, 1, n)
	hash, _ := f.orch.State().Hash(url)
	assert.Equal(t, hashstore.ComputeHash("original text"), hash, "hash only advances after a successful upsert")
}

func TestRefresh_EmptyContentSkipped(t *testing.T) {
	const url = "https://example.com/empty"
	f := newFixture(t, nil, source.Source{ID: url})
	f.fetcher.set(url, "   ")

	res, err := f.orch.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, f.index.ops)
}

func TestRefresh_PassExclusion(t *testing.T) {
	const url = "https://example.com/slow"
	f := newFixture(t, nil, source.Source{ID: url})
	f.fetcher.set(url, "slow page")
	f.fetcher.block = make(chan struct{})
	f.fetcher.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.RefreshAll(context.Background())
		done <- err
	}()
	<-f.fetcher.entered
	assert.True(t, f.orch.State().Running())

	res, err := f.orch.RefreshAll(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)
	assert.Nil(t, res)

	close(f.fetcher.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.index.UpsertCalls)
	assert.False(t, f.orch.State().Running())
}

func TestRefreshSources_ForcesUnchanged(t *testing.T) {
	const url = "https://example.com/forced"
	f := newFixture(t, hashstore.Hashes{url: hashstore.ComputeHash("same")}, source.Source{ID: url, Namespace: "sales"})
	f.fetcher.set(url, "same")

	res, err := f.orch.RefreshSources(context.Background(), []string{url})
	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.Equal(t, 1, res.Refreshed)

	n, _ := f.index.Count(context.Background(), "sales")
	assert.Equal(t, 1, n)
}

func TestInitialize(t *testing.T) {
	const url = "https://example.com/init"
	f := newFixture(t, hashstore.Hashes{url: hashstore.ComputeHash("page")}, source.Source{ID: url})
	f.fetcher.set(url, "page")
	ctx := context.Background()

	res, err := f.orch.Initialize(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Refreshed, "empty index forces a load even when hashes match")

	res, err = f.orch.Initialize(ctx)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestExportAndStats(t *testing.T) {
	f := newFixture(t, nil,
		source.Source{ID: "https://a.example"},
		source.Source{ID: "https://b.example", Namespace: "sales"},
	)
	f.fetcher.set("https://a.example", "alpha page")
	f.fetcher.set("https://b.example", "beta page")
	ctx := context.Background()
	_, err := f.orch.RefreshAll(ctx)
	require.NoError(t, err)

	stats, err := Stats(ctx, f.index)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Namespaces["website"])
	assert.Equal(t, 1, stats.Namespaces["sales"])
	assert.Equal(t, 2, stats.Total)

	var buf bytes.Buffer
	n, err := Export(ctx, f.index, "", &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t,
		"# Content from: https://a.example\n\nalpha page\n\n---\n\n"+
			"# Content from: https://b.example\n\nbeta page\n\n---\n\n",
		buf.String())
}

func TestStatsIncludesRegistryNamespaces(t *testing.T) {
	registry := source.NewStaticRegistry(
		source.Source{ID: "https://a.example"},
		source.Source{ID: "https://p.example", Namespace: "partners"},
	)
	f := newFixture(t, nil, registry.Sources()...)
	f.fetcher.set("https://a.example", "alpha page")
	f.fetcher.set("https://p.example", "partner page")
	ctx := context.Background()
	_, err := f.orch.RefreshAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"partners", "website"}, SourceNamespaces(registry))

	stats, err := Stats(ctx, f.index, SourceNamespaces(registry)...)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Namespaces["partners"])
	assert.Equal(t, 1, stats.Namespaces["website"])
	assert.Equal(t, 0, stats.Namespaces["sales"])
	assert.Equal(t, 2, stats.Total)

	stats, err = Stats(ctx, f.index)
	require.NoError(t, err)
	assert.NotContains(t, stats.Namespaces, "partners")
	assert.Equal(t, 2, stats.Total, "the total counts every namespace")
}

func TestListSourcesAndDeleteNamespace(t *testing.T) {
	f := newFixture(t, nil,
		source.Source{ID: "https://b.example"},
		source.Source{ID: "https://a.example"},
		source.Source{ID: "https://s.example", Namespace: "sales"},
	)
	f.fetcher.set("https://a.example", "alpha")
	f.fetcher.set("https://b.example", "beta")
	f.fetcher.set("https://s.example", "sales pitch")
	ctx := context.Background()
	_, err := f.orch.RefreshAll(ctx)
	require.NoError(t, err)

	srcs, err := ListSources(ctx, f.index, "website")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, srcs)

	require.NoError(t, f.index.DeleteNamespace(ctx, "website"))
	stats, err := Stats(ctx, f.index)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Namespaces["website"])
	assert.Equal(t, 1, stats.Namespaces["sales"])
}
