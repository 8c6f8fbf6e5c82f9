package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bull/csa-content-sync/internal/drive"
	"github.com/bull/csa-content-sync/internal/gallery"
)

// ImageSource opens remote image content.
type ImageSource interface {
	Download(ctx context.Context, id string) (io.ReadCloser, string, error)
}

// FileChecker reports whether the catalog references a drive file.
type FileChecker interface {
	HasFile(ctx context.Context, fileID string, urls []string) (bool, error)
}

// GalleryCatalog is the catalog behind the gallery routes.
type GalleryCatalog interface {
	gallery.ViewSource
	FileChecker
}

// NewGalleryHandler serves the gallery grouped by event.
func NewGalleryHandler(src gallery.ViewSource, proxyPrefix string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := gallery.BuildView(r.Context(), src, proxyPrefix)
		if err != nil {
			logger.Error("failed to build gallery view", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Failed to load gallery images",
			})
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// NewImageProxyHandler streams a drive image with cache and CORS headers.
// Only files referenced by the catalog are served. src may be nil when
// drive is not configured.
func NewImageProxyHandler(src ImageSource, files FileChecker, proxyPrefix string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "Google Drive service not available",
			})
			return
		}

		id := r.PathValue("id")
		if id == "" {
			http.NotFound(w, r)
			return
		}

		known, err := files.HasFile(r.Context(), id, gallery.CandidateURLs(id, proxyPrefix))
		if err != nil {
			logger.Error("failed to look up proxied image", "file", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load image"})
			return
		}
		if !known {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Image not found"})
			return
		}

		body, mimeType, err := src.Download(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, drive.ErrNotFound):
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "Image not found"})
			case errors.Is(err, drive.ErrUnauthorized), errors.Is(err, drive.ErrForbidden):
				logger.Error("drive refused image download", "file", id, "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Google Drive service not available"})
			default:
				logger.Error("failed to proxy image", "file", id, "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load image"})
			}
			return
		}
		defer body.Close()

		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = "image/jpeg"
		}
		h := w.Header()
		h.Set("Content-Type", mimeType)
		h.Set("Cache-Control", "public, max-age=3600")
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET")
		w.WriteHeader(http.StatusOK)

		if _, err := io.Copy(w, body); err != nil {
			logger.Warn("image proxy copy interrupted", "file", id, "error", err)
		}
	}
}
