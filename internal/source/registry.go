// Package source defines tracked content sources and how their text is fetched.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

// Namespaces partition the vector index.
const (
	NamespaceWebsite = "website"
	NamespaceSales   = "sales"
	NamespaceEvents  = "events"
)

// Source is one tracked content identifier and the metadata its chunks carry.
type Source struct {
	ID        string `toml:"id"`
	Namespace string `toml:"namespace"`
	Category  string `toml:"category"`
	Type      string `toml:"type"`
}

// WithDefaults fills unset metadata with website page defaults.
func (s Source) WithDefaults() Source {
	if s.Namespace == "" {
		s.Namespace = NamespaceWebsite
	}
	if s.Category == "" {
		s.Category = "Website"
	}
	if s.Type == "" {
		s.Type = "page"
	}
	return s
}

// DefaultSources are the public site pages tracked when no sources file exists.
func DefaultSources() []Source {
	urls := []string{
		"https://csasfo.com/",
		"https://csasfo.com/about",
		"https://csasfo.com/events",
		"https://csasfo.com/archive",
		"https://csasfo.com/get-involved",
		"https://csasfo.com/contact",
		"https://csasfo.com/sponsorship",
	}
	out := make([]Source, len(urls))
	for i, u := range urls {
		out[i] = Source{ID: u}.WithDefaults()
	}
	return out
}

type fileFormat struct {
	Source []Source `toml:"source"`
}

// ParseSources decodes [[source]] tables. Entries without an id are rejected.
func ParseSources(data []byte) ([]Source, error) {
	var f fileFormat
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	out := make([]Source, 0, len(f.Source))
	for i, s := range f.Source {
		if s.ID == "" {
			return nil, fmt.Errorf("source %d has no id", i)
		}
		out = append(out, s.WithDefaults())
	}
	return out, nil
}

// Registry holds the current source list, loaded from a TOML file.
type Registry struct {
	mu      sync.RWMutex
	path    string
	sources []Source
	logger  *slog.Logger
}

// LoadRegistry reads path. A missing file yields DefaultSources.
func LoadRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{path: path, logger: logger}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry returns a registry that never reads a file.
func NewStaticRegistry(sources ...Source) *Registry {
	r := &Registry{logger: slog.Default()}
	r.set(sources)
	return r
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Info("no sources file, using built-in site pages", "path", r.path)
		r.set(DefaultSources())
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sources file: %w", err)
	}

	sources, err := ParseSources(data)
	if err != nil {
		return fmt.Errorf("%s: %w", r.path, err)
	}
	r.set(sources)
	return nil
}

func (r *Registry) set(sources []Source) {
	sorted := make([]Source, len(sources))
	for i, s := range sources {
		sorted[i] = s.WithDefaults()
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r.mu.Lock()
	r.sources = sorted
	r.mu.Unlock()
}

// Sources returns a copy of the current list, sorted by ID.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Source(nil), r.sources...)
}

// Lookup returns the registered source with id.
func (r *Registry) Lookup(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// Watch reloads the registry whenever the sources file is written, until
// ctx is done. A file that fails to parse keeps the previous list.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Warn("sources reload failed, keeping previous list", "error", err)
				continue
			}
			r.logger.Info("sources reloaded", "count", len(r.Sources()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("sources watcher error", "error", err)
		}
	}
}
