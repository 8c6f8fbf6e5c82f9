package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/csa-content-sync/internal/catalog"
	"github.com/bull/csa-content-sync/internal/drive"
	"github.com/bull/csa-content-sync/internal/gallery"
)

type fakeHealth struct{ err error }

func (f fakeHealth) Health(context.Context) error { return f.err }
func (f fakeHealth) Ping(context.Context) error   { return f.err }

type fakeNotifier struct {
	mu     sync.Mutex
	states []string
}

func (f *fakeNotifier) Notify(state string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return true
}

type fakeGallery struct {
	images  []catalog.Image
	events  []catalog.Event
	err     error
	known   map[string]bool
	lookErr error
}

func knownFiles(ids ...string) fakeGallery {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return fakeGallery{known: known}
}

func (f fakeGallery) HasFile(_ context.Context, fileID string, _ []string) (bool, error) {
	return f.known[fileID], f.lookErr
}

func (f fakeGallery) List(context.Context) ([]catalog.Image, error) { return f.images, f.err }
func (f fakeGallery) ListEvents(context.Context) ([]catalog.Event, error) {
	return f.events, nil
}

type fakeImages struct {
	body string
	mime string
	err  error
	ids  []string
}

func (f *fakeImages) Download(_ context.Context, id string) (io.ReadCloser, string, error) {
	f.ids = append(f.ids, id)
	if f.err != nil {
		return nil, "", f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), f.mime, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, h http.Handler, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		index   error
		catalog Pinger
		status  int
		want    HealthResponse
	}{
		{"healthy", nil, fakeHealth{}, http.StatusOK, HealthResponse{Status: "healthy", Index: "connected", Catalog: "connected"}},
		{"no catalog", nil, nil, http.StatusOK, HealthResponse{Status: "healthy", Index: "connected"}},
		{"index down", errors.New("down"), nil, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Index: "disconnected"}},
		{"catalog down", nil, fakeHealth{err: errors.New("locked")}, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Index: "connected", Catalog: "disconnected"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(Deps{Index: fakeHealth{err: tt.index}, Catalog: tt.catalog, Logger: quietLogger()})
			rec := serve(t, router, http.MethodGet, "/health", nil, nil)

			assert.Equal(t, tt.status, rec.Code)
			var got HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			_, err := time.Parse(time.RFC3339, got.Timestamp)
			assert.NoError(t, err)
			got.Timestamp = ""
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLanding(t *testing.T) {
	router := NewRouter(Deps{Index: fakeHealth{}, Logger: quietLogger()})

	rec := serve(t, router, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "CSA Content Sync")

	rec = serve(t, router, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookVerify(t *testing.T) {
	router := NewRouter(Deps{Index: fakeHealth{}, Notifier: &fakeNotifier{}, Logger: quietLogger()})

	rec := serve(t, router, http.MethodGet, WebhookPath+"?challenge=abc123", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	rec = serve(t, router, http.MethodGet, WebhookPath, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWebhookNotify(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		header http.Header
		want   string
	}{
		{"state in body", `{"kind":"api#channel","resourceState":"update"}`, nil, "update"},
		{"state in header", "", http.Header{"X-Goog-Resource-State": {"trash"}}, "trash"},
		{"body wins over header", `{"resourceState":"sync"}`, http.Header{"X-Goog-Resource-State": {"trash"}}, "sync"},
		{"malformed body", `{not json`, http.Header{"X-Goog-Resource-State": {"update"}}, "update"},
		{"no state", "", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{}
			router := NewRouter(Deps{Index: fakeHealth{}, Notifier: n, Logger: quietLogger()})

			rec := serve(t, router, http.MethodPost, WebhookPath, strings.NewReader(tt.body), tt.header)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"status":"accepted","message":"Notification queued for processing"}`, rec.Body.String())
			assert.Equal(t, []string{tt.want}, n.states)
		})
	}
}

func TestWebhookDisabledWithoutNotifier(t *testing.T) {
	router := NewRouter(Deps{Index: fakeHealth{}, Logger: quietLogger()})
	rec := serve(t, router, http.MethodPost, WebhookPath, strings.NewReader(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGalleryListing(t *testing.T) {
	created := time.Date(2026, 4, 12, 18, 0, 0, 0, time.UTC)
	src := fakeGallery{
		images: []catalog.Image{
			{ID: 1, Filename: "a.jpg", FolderName: "Spring Gala", ImageURL: "https://drive.google.com/uc?export=view&id=f1", CreatedAt: created},
			{ID: 2, Filename: "b.jpg", FolderName: "Spring Gala", ImageURL: drive.DefaultProxyPrefix + "f2", Caption: "Stage", CreatedAt: created},
			{ID: 3, Filename: "c.jpg", FolderName: "Broken", ImageURL: "not a url", CreatedAt: created},
		},
		events: []catalog.Event{
			{ID: "7", Title: "Spring Gala", DateTime: "2026-04-11T19:00:00Z", Location: "Hall", Tags: []string{"gala"}},
		},
	}
	router := NewRouter(Deps{Index: fakeHealth{}, Gallery: src, Logger: quietLogger()})

	rec := serve(t, router, http.MethodGet, GalleryPath, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view gallery.View
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, 1, view.Count)
	assert.Equal(t, 2, view.TotalImages)
	require.Len(t, view.Events, 1)

	group := view.Events[0]
	assert.Equal(t, "gallery-7", group.ID)
	assert.Equal(t, "2026-04-11", group.Date)
	assert.Equal(t, drive.DefaultProxyPrefix+"f1", group.Photos[0].URL)
	assert.Equal(t, "Stage", group.Photos[1].Caption)
}

func TestGalleryListing_Error(t *testing.T) {
	router := NewRouter(Deps{Index: fakeHealth{}, Gallery: fakeGallery{err: errors.New("db closed")}, Logger: quietLogger()})

	rec := serve(t, router, http.MethodGet, GalleryPath, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestImageProxy(t *testing.T) {
	imgs := &fakeImages{body: "PNGDATA", mime: "image/png"}
	router := NewRouter(Deps{Index: fakeHealth{}, Gallery: knownFiles("file-9"), Images: imgs, Logger: quietLogger()})

	rec := serve(t, router, http.MethodGet, drive.DefaultProxyPrefix+"file-9", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PNGDATA", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, []string{"file-9"}, imgs.ids)
}

func TestImageProxy_DefaultsContentType(t *testing.T) {
	imgs := &fakeImages{body: "x", mime: "application/octet-stream"}
	router := NewRouter(Deps{Index: fakeHealth{}, Gallery: knownFiles("f"), Images: imgs, Logger: quietLogger()})

	rec := serve(t, router, http.MethodGet, drive.DefaultProxyPrefix+"f", nil, nil)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
}

func TestImageProxy_Errors(t *testing.T) {
	tests := []struct {
		name   string
		images ImageSource
		status int
	}{
		{"drive unavailable", nil, http.StatusServiceUnavailable},
		{"not found", &fakeImages{err: drive.ErrNotFound}, http.StatusNotFound},
		{"unauthorized", &fakeImages{err: drive.ErrUnauthorized}, http.StatusServiceUnavailable},
		{"other", &fakeImages{err: errors.New("reset")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(Deps{Index: fakeHealth{}, Gallery: knownFiles("f"), Images: tt.images, Logger: quietLogger()})
			rec := serve(t, router, http.MethodGet, drive.DefaultProxyPrefix+"f", nil, nil)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestImageProxy_OnlyServesCataloguedFiles(t *testing.T) {
	imgs := &fakeImages{body: "x", mime: "image/jpeg"}
	router := NewRouter(Deps{Index: fakeHealth{}, Gallery: knownFiles("f1"), Images: imgs, Logger: quietLogger()})

	rec := serve(t, router, http.MethodGet, drive.DefaultProxyPrefix+"private-doc", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, imgs.ids, "uncatalogued files are never downloaded")

	failing := knownFiles("f1")
	failing.lookErr = errors.New("db closed")
	router = NewRouter(Deps{Index: fakeHealth{}, Gallery: failing, Images: imgs, Logger: quietLogger()})
	rec = serve(t, router, http.MethodGet, drive.DefaultProxyPrefix+"f1", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, imgs.ids)
}

func TestCustomProxyPrefix(t *testing.T) {
	imgs := &fakeImages{body: "x", mime: "image/gif"}
	router := NewRouter(Deps{Index: fakeHealth{}, Gallery: knownFiles("abc"), Images: imgs, ProxyPrefix: "/img", Logger: quietLogger()})

	rec := serve(t, router, http.MethodGet, "/img/abc", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"abc"}, imgs.ids)
}
