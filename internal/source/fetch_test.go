package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHTMLText(t *testing.T) {
	page := `<html><head><title>CSA</title><style>.x{}</style></head>
<body>
  <nav><a href="/">Home</a></nav>
  <h1>Upcoming   events</h1>
  <script>var hidden = "no";</script>
  <p>Cloud <b>career</b> night</p>
  <ul><li>Oct 1</li><li>Nov 5</li></ul>
</body></html>`

	text, err := ExtractHTMLText(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "Home\nUpcoming events\nCloud career night\nOct 1\nNov 5", text)
}

func TestWebFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<p>hello world</p>"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	f := NewWebFetcher(0)
	text, err := f.Fetch(context.Background(), server.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, err = f.Fetch(context.Background(), server.URL+"/missing")
	assert.ErrorContains(t, err, "404")
}

func TestFileFetcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "about.txt")
	require.NoError(t, os.WriteFile(path, []byte("about us"), 0o644))

	text, err := FileFetcher{}.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "about us", text)
}

type stubFetcher struct {
	text    string
	members []string
}

func (s stubFetcher) Fetch(context.Context, string) (string, error) { return s.text, nil }

type expandingFetcher struct{ stubFetcher }

func (e expandingFetcher) Expand(context.Context, string) ([]string, error) {
	if e.members == nil {
		return nil, errors.New("listing failed")
	}
	return e.members, nil
}

func TestMux_Routing(t *testing.T) {
	mux := NewMux()
	mux.Handle("https://", stubFetcher{text: "web"})
	mux.Handle("https://special.example/", stubFetcher{text: "special"})

	got, err := mux.Fetch(context.Background(), "https://csasfo.com/")
	require.NoError(t, err)
	assert.Equal(t, "web", got)

	got, err = mux.Fetch(context.Background(), "https://special.example/x")
	require.NoError(t, err)
	assert.Equal(t, "special", got)

	_, err = mux.Fetch(context.Background(), "ftp://nope")
	assert.Error(t, err)
}

func TestMux_Resolve(t *testing.T) {
	mux := NewMux()
	mux.Handle("https://", stubFetcher{})
	mux.Handle("github://", expandingFetcher{stubFetcher{members: []string{"github://o/r/b.md", "github://o/r/a.md"}}})

	resolved, unresolved := mux.Resolve(context.Background(), []Source{
		{ID: "https://z.example", Namespace: "website"},
		{ID: "github://o/r/", Namespace: "sales", Category: "Cloud"},
	})
	assert.Empty(t, unresolved)
	require.Len(t, resolved, 3)
	assert.Equal(t, "github://o/r/a.md", resolved[0].ID)
	assert.Equal(t, "sales", resolved[0].Namespace)
	assert.Equal(t, "Cloud", resolved[1].Category)
	assert.Equal(t, "https://z.example", resolved[2].ID)
}

func TestMux_ResolveIsolatesFailures(t *testing.T) {
	mux := NewMux()
	mux.Handle("https://", stubFetcher{})
	mux.Handle("github://", expandingFetcher{})

	resolved, unresolved := mux.Resolve(context.Background(), []Source{
		{ID: "https://example.com/a"},
		{ID: "github://org/repo/docs"},
		{ID: "htps://typo"},
	})

	require.Len(t, resolved, 1)
	assert.Equal(t, "https://example.com/a", resolved[0].ID)

	require.Len(t, unresolved, 2)
	assert.Equal(t, "github://org/repo/docs", unresolved[0].Source.ID)
	assert.ErrorContains(t, unresolved[0].Err, "listing failed")
	assert.Equal(t, "htps://typo", unresolved[1].Source.ID)
	assert.ErrorContains(t, unresolved[1].Err, "no fetcher")
}
