package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Fetcher returns the current text of a source.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (string, error)
}

// Expander turns a collection identifier (a repository directory, say)
// into the identifiers of its members.
type Expander interface {
	Expand(ctx context.Context, id string) ([]string, error)
}

// Mux routes identifiers to fetchers by prefix, longest prefix first.
type Mux struct {
	routes []route
}

type route struct {
	prefix  string
	fetcher Fetcher
}

func NewMux() *Mux {
	return &Mux{}
}

// Handle registers f for identifiers starting with prefix.
func (m *Mux) Handle(prefix string, f Fetcher) {
	m.routes = append(m.routes, route{prefix: prefix, fetcher: f})
	sort.SliceStable(m.routes, func(i, j int) bool {
		return len(m.routes[i].prefix) > len(m.routes[j].prefix)
	})
}

func (m *Mux) lookup(id string) (Fetcher, error) {
	for _, r := range m.routes {
		if strings.HasPrefix(id, r.prefix) {
			return r.fetcher, nil
		}
	}
	return nil, fmt.Errorf("no fetcher for source %q", id)
}

func (m *Mux) Fetch(ctx context.Context, id string) (string, error) {
	f, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return f.Fetch(ctx, id)
}

// Unresolved is a source that could not be routed or expanded.
type Unresolved struct {
	Source Source
	Err    error
}

// Resolve expands collection sources into their members, which inherit
// the collection's namespace, category and type. The result is sorted by ID.
// A source with no fetcher or whose expansion fails is reported in
// unresolved and does not affect the others.
func (m *Mux) Resolve(ctx context.Context, sources []Source) (resolved []Source, unresolved []Unresolved) {
	for _, s := range sources {
		f, err := m.lookup(s.ID)
		if err != nil {
			unresolved = append(unresolved, Unresolved{Source: s, Err: err})
			continue
		}
		exp, ok := f.(Expander)
		if !ok {
			resolved = append(resolved, s)
			continue
		}
		ids, err := exp.Expand(ctx, s.ID)
		if err != nil {
			unresolved = append(unresolved, Unresolved{Source: s, Err: fmt.Errorf("expand %s: %w", s.ID, err)})
			continue
		}
		for _, id := range ids {
			member := s
			member.ID = id
			resolved = append(resolved, member)
		}
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].ID < resolved[j].ID })
	return resolved, unresolved
}

// WebFetcher downloads a page and extracts its human-visible text.
type WebFetcher struct {
	client    *http.Client
	userAgent string
}

func NewWebFetcher(timeout time.Duration) *WebFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "csa-content-sync/1.0",
	}
}

func (w *WebFetcher) Fetch(ctx context.Context, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Accept", "text/html,text/plain")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", id, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, 10<<20)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", id, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return ExtractHTMLText(body)
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"svg": true, "iframe": true, "head": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "header": true,
	"footer": true, "main": true, "nav": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"br": true, "tr": true, "table": true, "blockquote": true, "pre": true,
}

// ExtractHTMLText returns the visible text of an HTML document, one block per line.
func ExtractHTMLText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var (
		b     strings.Builder
		skip  int
		lines []string
	)
	flush := func() {
		if line := strings.Join(strings.Fields(b.String()), " "); line != "" {
			lines = append(lines, line)
		}
		b.Reset()
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				flush()
				return strings.Join(lines, "\n"), nil
			}
			return "", fmt.Errorf("parse html: %w", z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tt == html.StartTagToken && skippedElements[tag] {
				skip++
			}
			if blockElements[tag] {
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] && skip > 0 {
				skip--
			}
			if blockElements[tag] {
				flush()
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// FileFetcher reads file:// sources from local disk.
type FileFetcher struct{}

func (FileFetcher) Fetch(_ context.Context, id string) (string, error) {
	path := strings.TrimPrefix(id, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
