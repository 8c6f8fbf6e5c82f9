// Package api is the HTTP surface: health, the drive webhook, the public
// gallery and the MCP endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bull/csa-content-sync/internal/drive"
)

// Routes under which the site frontend reaches this service.
const (
	WebhookPath = "/v1/routes/google-drive/webhook"
	GalleryPath = "/v1/routes/gallery-images"
)

// Deps holds router dependencies. Only Index is required.
type Deps struct {
	Index HealthChecker
	// Catalog is checked by /health when set.
	Catalog Pinger
	// Gallery backs the gallery listing and decides which files the image
	// proxy may serve; nil disables the gallery routes.
	Gallery GalleryCatalog
	// Images backs the image proxy; nil makes it answer 503.
	Images   ImageSource
	Notifier Notifier
	// MCP is mounted at /mcp when set.
	MCP         http.Handler
	ProxyPrefix string
	Logger      *slog.Logger
}

// NewRouter wires every route onto a ServeMux.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := deps.ProxyPrefix
	if prefix == "" {
		prefix = drive.DefaultProxyPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", NewHealthHandler(deps.Index, deps.Catalog))
	mux.HandleFunc("GET /{$}", NewLandingHandler())

	if deps.Notifier != nil {
		mux.HandleFunc("GET "+WebhookPath, NewWebhookVerifyHandler(logger))
		mux.HandleFunc("POST "+WebhookPath, NewWebhookHandler(deps.Notifier, logger))
	}

	if deps.Gallery != nil {
		mux.HandleFunc("GET "+GalleryPath, NewGalleryHandler(deps.Gallery, prefix, logger))
		mux.HandleFunc("GET "+prefix+"{id}", NewImageProxyHandler(deps.Images, deps.Gallery, prefix, logger))
	}

	if deps.MCP != nil {
		mux.Handle("/mcp", deps.MCP)
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
