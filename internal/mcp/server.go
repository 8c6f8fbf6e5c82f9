package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/csa-content-sync/internal/catalog"
	"github.com/bull/csa-content-sync/internal/chat"
	"github.com/bull/csa-content-sync/internal/gallery"
	"github.com/bull/csa-content-sync/internal/refresh"
	"github.com/bull/csa-content-sync/internal/storage"
)

// Responder searches indexed content and answers questions from it.
type Responder interface {
	Search(ctx context.Context, query string, opts chat.SearchOptions) ([]storage.Match, error)
	Answer(ctx context.Context, question string, opts chat.SearchOptions) (*chat.Answer, error)
}

// Refresher runs forced refreshes and exposes refresh state.
type Refresher interface {
	RefreshSources(ctx context.Context, ids []string) (*refresh.Result, error)
	State() *refresh.SyncState
}

// GalleryStatus exposes gallery pass state.
type GalleryStatus interface {
	State() *gallery.State
}

// FolderCounter reports catalogued images per folder.
type FolderCounter interface {
	FolderCounts(ctx context.Context) ([]catalog.FolderCount, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies. Gallery and Catalog are optional.
type Config struct {
	Responder Responder
	Refresher Refresher
	// Sources adds the registry's namespaces to the status counts.
	Sources   refresh.SourceLister
	Index     storage.VectorIndex
	Gallery   GalleryStatus
	Catalog   FolderCounter
	Version   string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	impl := &mcp.Implementation{
		Name:    "csa-content-server",
		Version: version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_content",
		Description: "Search the organization's website, sales and event content semantically. Returns the best matching text chunks with their source URLs.",
	}, makeSearchHandler(cfg.Responder))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a visitor question from the indexed site content, the way the website chatbot does. Returns markdown, HTML and the sources used.",
	}, makeAskHandler(cfg.Responder))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_sync_status",
		Description: "Get the state of the content refresh and gallery sync pipelines: tracked sources, last pass results, chunk counts per namespace and catalogued images per folder.",
	}, makeStatusHandler(cfg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "refresh_sources",
		Description: "Re-fetch and re-index the given sources now, regardless of whether their content changed.",
	}, makeRefreshHandler(cfg.Refresher))

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
