// Package mcp exposes site search, chat and sync status as MCP tools.
package mcp

// SearchContentInput defines the input parameters for the search_content tool.
type SearchContentInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"the semantic search query"`
	// Namespace restricts the search to one partition (website, sales, events).
	Namespace string `json:"namespace,omitempty" jsonschema:"restrict to one namespace: website, sales or events"`
	// Category restricts the search to one display category.
	Category string `json:"category,omitempty" jsonschema:"restrict to one category, e.g. Website"`
	// TopK is the maximum number of chunks to return.
	TopK int `json:"top_k,omitempty" jsonschema:"maximum number of chunks to return (default 5)"`
	// MinScore is the minimum similarity (0-1).
	MinScore float64 `json:"min_score,omitempty" jsonschema:"minimum similarity score between 0 and 1"`
}

// SearchContentOutput contains the search results.
type SearchContentOutput struct {
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching content found").
	Message string `json:"message,omitempty"`
}

// SearchResult is one matching chunk.
type SearchResult struct {
	Source    string  `json:"source"`
	Namespace string  `json:"namespace"`
	Category  string  `json:"category"`
	Score     float64 `json:"score"`
	Text      string  `json:"text"`
}

// AskInput defines the input parameters for the ask tool.
type AskInput struct {
	Question  string `json:"question" jsonschema:"the visitor question to answer from site content"`
	Namespace string `json:"namespace,omitempty" jsonschema:"restrict retrieval to one namespace"`
}

// AskOutput is the generated answer.
type AskOutput struct {
	Answer  string   `json:"answer"`
	HTML    string   `json:"html"`
	Sources []string `json:"sources"`
}

// StatusInput defines the input parameters for the get_sync_status tool.
// This tool takes no parameters.
type StatusInput struct{}

// StatusOutput reports the state of both sync pipelines.
type StatusOutput struct {
	// TrackedSources is the number of sources with a stored content hash.
	TrackedSources int             `json:"tracked_sources"`
	RefreshRunning bool            `json:"refresh_running"`
	LastRefresh    *RefreshSummary `json:"last_refresh,omitempty"`
	// Index counts chunks per namespace. Absent when the index is unreachable.
	Index          map[string]int  `json:"index,omitempty"`
	IndexError     string          `json:"index_error,omitempty"`
	GalleryRunning bool            `json:"gallery_running"`
	LastGallery    *GallerySummary `json:"last_gallery,omitempty"`
	GalleryFolders []FolderStatus  `json:"gallery_folders"`
}

// RefreshSummary condenses a refresh.Result.
type RefreshSummary struct {
	Started         string   `json:"started"`
	DurationSeconds float64  `json:"duration_seconds"`
	Forced          bool     `json:"forced"`
	Checked         int      `json:"checked"`
	Unchanged       int      `json:"unchanged"`
	Refreshed       int      `json:"refreshed"`
	Skipped         int      `json:"skipped"`
	Chunks          int      `json:"chunks"`
	Failed          []string `json:"failed"`
}

// GallerySummary condenses a gallery.Result.
type GallerySummary struct {
	Started         string  `json:"started"`
	DurationSeconds float64 `json:"duration_seconds"`
	Trigger         string  `json:"trigger"`
	Folders         int     `json:"folders"`
	Synced          int     `json:"synced"`
	Skipped         int     `json:"skipped"`
	Failed          int     `json:"failed"`
	Deleted         int     `json:"deleted"`
}

// FolderStatus is the catalogued image count of one gallery folder.
type FolderStatus struct {
	Folder string `json:"folder"`
	Images int    `json:"images"`
}

// RefreshInput defines the input parameters for the refresh_sources tool.
type RefreshInput struct {
	Sources []string `json:"sources" jsonschema:"source identifiers (page URLs, github:// or file:// paths) to re-index"`
}

// RefreshOutput reports a forced refresh.
type RefreshOutput struct {
	Summary RefreshSummary `json:"summary"`
	Message string         `json:"message,omitempty"`
}
