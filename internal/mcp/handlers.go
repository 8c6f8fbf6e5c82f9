package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/csa-content-sync/internal/chat"
	"github.com/bull/csa-content-sync/internal/gallery"
	"github.com/bull/csa-content-sync/internal/refresh"
	"github.com/bull/csa-content-sync/internal/storage"
)

const defaultTopK = 5

// makeSearchHandler creates the search_content tool handler.
func makeSearchHandler(r Responder) func(
	context.Context, *mcp.CallToolRequest, SearchContentInput,
) (*mcp.CallToolResult, SearchContentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchContentInput) (
		*mcp.CallToolResult, SearchContentOutput, error,
	) {
		topK := input.TopK
		if topK <= 0 {
			topK = defaultTopK
		}

		matches, err := r.Search(ctx, input.Query, chat.SearchOptions{
			Namespace: input.Namespace,
			Filter:    storage.Filter{Category: input.Category},
			TopK:      topK,
			MinScore:  input.MinScore,
		})
		if err != nil {
			return nil, SearchContentOutput{}, err
		}

		results := make([]SearchResult, 0, len(matches))
		for _, m := range matches {
			results = append(results, SearchResult{
				Source:    m.Chunk.Source,
				Namespace: m.Chunk.Namespace,
				Category:  m.Chunk.Category,
				Score:     m.Score,
				Text:      m.Chunk.Text,
			})
		}

		if len(results) == 0 {
			return nil, SearchContentOutput{
				Results: []SearchResult{},
				Message: "No matching content found. Try broader search terms.",
			}, nil
		}
		return nil, SearchContentOutput{Results: results}, nil
	}
}

// makeAskHandler creates the ask tool handler.
func makeAskHandler(r Responder) func(
	context.Context, *mcp.CallToolRequest, AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (
		*mcp.CallToolResult, AskOutput, error,
	) {
		ans, err := r.Answer(ctx, input.Question, chat.SearchOptions{Namespace: input.Namespace})
		if err != nil {
			return nil, AskOutput{}, err
		}
		sources := ans.Sources
		if sources == nil {
			sources = []string{}
		}
		return nil, AskOutput{Answer: ans.Text, HTML: ans.HTML, Sources: sources}, nil
	}
}

// makeStatusHandler creates the get_sync_status tool handler. Index and
// catalog failures are reported in the output rather than failing the tool.
func makeStatusHandler(cfg *Config) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		out := StatusOutput{GalleryFolders: []FolderStatus{}}

		if cfg.Refresher != nil {
			state := cfg.Refresher.State()
			out.TrackedSources = len(state.Hashes())
			out.RefreshRunning = state.Running()
			if last := state.LastResult(); last != nil {
				s := summarizeRefresh(last)
				out.LastRefresh = &s
			}
		}

		if cfg.Index != nil {
			var namespaces []string
			if cfg.Sources != nil {
				namespaces = refresh.SourceNamespaces(cfg.Sources)
			}
			stats, err := refresh.Stats(ctx, cfg.Index, namespaces...)
			if err != nil {
				out.IndexError = err.Error()
			} else {
				out.Index = stats.Namespaces
			}
		}

		if cfg.Gallery != nil {
			state := cfg.Gallery.State()
			out.GalleryRunning = state.Running()
			if last := state.LastResult(); last != nil {
				s := summarizeGallery(last)
				out.LastGallery = &s
			}
		}

		if cfg.Catalog != nil {
			counts, err := cfg.Catalog.FolderCounts(ctx)
			if err != nil {
				return nil, StatusOutput{}, fmt.Errorf("catalog_error: %w", err)
			}
			for _, c := range counts {
				out.GalleryFolders = append(out.GalleryFolders, FolderStatus{Folder: c.Folder, Images: c.Images})
			}
		}

		return nil, out, nil
	}
}

// makeRefreshHandler creates the refresh_sources tool handler.
func makeRefreshHandler(r Refresher) func(
	context.Context, *mcp.CallToolRequest, RefreshInput,
) (*mcp.CallToolResult, RefreshOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RefreshInput) (
		*mcp.CallToolResult, RefreshOutput, error,
	) {
		ids := make([]string, 0, len(input.Sources))
		for _, id := range input.Sources {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, RefreshOutput{}, errors.New("no sources given")
		}

		result, err := r.RefreshSources(ctx, ids)
		if errors.Is(err, refresh.ErrPassInProgress) {
			return nil, RefreshOutput{
				Summary: RefreshSummary{Failed: []string{}},
				Message: "A refresh pass is already running. Try again shortly.",
			}, nil
		}
		if err != nil {
			return nil, RefreshOutput{}, err
		}

		out := RefreshOutput{Summary: summarizeRefresh(result)}
		if n := len(result.Failed); n > 0 {
			out.Message = fmt.Sprintf("%d of %d sources failed", n, len(ids))
		}
		return nil, out, nil
	}
}

func summarizeRefresh(r *refresh.Result) RefreshSummary {
	failed := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		failed = append(failed, f.ID+": "+f.Reason)
	}
	return RefreshSummary{
		Started:         r.Started.UTC().Format(time.RFC3339),
		DurationSeconds: r.Duration.Seconds(),
		Forced:          r.Forced,
		Checked:         r.Checked,
		Unchanged:       r.Unchanged,
		Refreshed:       r.Refreshed,
		Skipped:         r.Skipped,
		Chunks:          r.Chunks,
		Failed:          failed,
	}
}

func summarizeGallery(r *gallery.Result) GallerySummary {
	return GallerySummary{
		Started:         r.Started.UTC().Format(time.RFC3339),
		DurationSeconds: r.Duration.Seconds(),
		Trigger:         r.Trigger,
		Folders:         len(r.Folders),
		Synced:          r.Synced,
		Skipped:         r.Skipped,
		Failed:          r.Failed,
		Deleted:         r.Deleted,
	}
}
