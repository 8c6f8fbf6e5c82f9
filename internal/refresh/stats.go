package refresh

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/bull/csa-content-sync/internal/source"
	"github.com/bull/csa-content-sync/internal/storage"
)

// IndexStats counts chunks per namespace.
type IndexStats struct {
	Namespaces map[string]int `json:"namespaces"`
	Total      int            `json:"total_vector_count"`
}

// Stats counts the chunks of the built-in namespaces and of any extra
// namespaces given. Total covers the whole index, including namespaces
// not listed.
func Stats(ctx context.Context, index storage.VectorIndex, namespaces ...string) (*IndexStats, error) {
	stats := &IndexStats{Namespaces: make(map[string]int)}
	names := append([]string{source.NamespaceWebsite, source.NamespaceSales, source.NamespaceEvents}, namespaces...)
	for _, ns := range names {
		if _, done := stats.Namespaces[ns]; done || ns == "" {
			continue
		}
		n, err := index.Count(ctx, ns)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", ns, err)
		}
		stats.Namespaces[ns] = n
	}

	total, err := index.Count(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("count index: %w", err)
	}
	stats.Total = total
	return stats, nil
}

// SourceNamespaces returns the distinct namespaces of the tracked sources, sorted.
func SourceNamespaces(sources SourceLister) []string {
	seen := make(map[string]bool)
	var out []string
	for _, src := range sources.Sources() {
		if src.Namespace != "" && !seen[src.Namespace] {
			seen[src.Namespace] = true
			out = append(out, src.Namespace)
		}
	}
	sort.Strings(out)
	return out
}

// ListSources returns the distinct sources indexed in namespace, sorted.
func ListSources(ctx context.Context, index storage.VectorIndex, namespace string) ([]string, error) {
	seen := make(map[string]bool)
	err := index.Scroll(ctx, namespace, func(c storage.DocumentChunk) error {
		seen[c.Source] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	out := make([]string, 0, len(seen))
	for src := range seen {
		out = append(out, src)
	}
	sort.Strings(out)
	return out, nil
}

// Export writes every chunk of namespace as markdown, one section per source.
func Export(ctx context.Context, index storage.VectorIndex, namespace string, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	current := ""
	n := 0

	err := index.Scroll(ctx, namespace, func(c storage.DocumentChunk) error {
		if c.Text == "" {
			return nil
		}
		src := c.Source
		if src == "" {
			src = "unknown-source"
		}
		if src != current {
			current = src
			if _, err := fmt.Fprintf(bw, "# Content from: %s\n\n", src); err != nil {
				return err
			}
		}
		n++
		_, err := fmt.Fprintf(bw, "%s\n\n---\n\n", c.Text)
		return err
	})
	if err != nil {
		return n, fmt.Errorf("export: %w", err)
	}
	return n, bw.Flush()
}
