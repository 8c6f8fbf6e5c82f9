package gallery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/csa-content-sync/internal/catalog"
	"github.com/bull/csa-content-sync/internal/drive"
)

func TestFileIDFromURL(t *testing.T) {
	prefix := drive.DefaultProxyPrefix
	tests := map[string]string{
		prefix + "abc_1":                                  "abc_1",
		"https://drive.google.com/uc?id=X-9&export=view":  "X-9",
		"https://drive.google.com/uc?export=view&id=Y":    "Y",
		"https://drive.google.com/file/d/Z1/view":         "Z1",
		"https://drive.google.com/thumbnail?id=T&sz=w100": "T",
		"https://example.org/photo.jpg":                   "",
	}
	for url, want := range tests {
		assert.Equal(t, want, FileIDFromURL(url, prefix), url)
	}
}

func TestCandidateURLsResolveToID(t *testing.T) {
	prefix := drive.DefaultProxyPrefix
	urls := CandidateURLs("abc", prefix)
	assert.Contains(t, urls, prefix+"abc")
	for _, url := range urls {
		assert.Equal(t, "abc", FileIDFromURL(url, prefix), url)
	}
}

func TestProxyURL(t *testing.T) {
	prefix := drive.DefaultProxyPrefix
	assert.Equal(t, prefix+"X", ProxyURL("https://drive.google.com/uc?id=X", prefix))
	assert.Equal(t, prefix+"X", ProxyURL(prefix+"X", prefix))
	assert.Equal(t, "https://example.org/a.jpg", ProxyURL("https://example.org/a.jpg", prefix))
}

func TestBuildView(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.UpsertEvent(ctx, catalog.Event{
		ID: "ev1", Title: "Spring Gala", DateTime: "2026-04-12T18:00:00Z", Location: "Main Hall", Tags: []string{"gala"},
	}))
	require.NoError(t, cat.UpsertEvent(ctx, catalog.Event{ID: "ev2", Title: "Volunteer Day"}))

	insert := func(folder, name, url, eventID string) {
		_, err := cat.Insert(ctx, catalog.Image{Filename: name, OriginalFilename: name, ImageURL: url, FolderName: folder, EventID: eventID})
		require.NoError(t, err)
	}
	insert("Spring Gala", "a.jpg", "https://drive.google.com/uc?id=A", "")
	insert("Misc Photos", "m.jpg", "/v1/routes/gallery-images/proxy/M", "")
	insert("Spring Gala", "b.jpg", "not a url", "")
	insert("Cleanup Crew", "c.jpg", "https://cdn.example.org/c.jpg", "ev2")
	insert("Broken", "x.jpg", "ftp://nowhere", "")

	view, err := BuildView(ctx, cat, drive.DefaultProxyPrefix)
	require.NoError(t, err)

	require.Len(t, view.Events, 3)
	assert.Equal(t, 3, view.Count)
	assert.Equal(t, 3, view.TotalImages)

	gala := view.Events[0]
	assert.Equal(t, "gallery-ev1", gala.ID)
	assert.Equal(t, "Spring Gala", gala.EventTitle)
	assert.Equal(t, "2026-04-12", gala.Date)
	assert.Equal(t, "Main Hall", gala.Location)
	assert.Equal(t, []string{"gala"}, gala.Tags)
	require.Len(t, gala.Photos, 1)
	assert.Equal(t, drive.DefaultProxyPrefix+"A", gala.Photos[0].URL)

	misc := view.Events[1]
	assert.Equal(t, "gallery-misc-photos", misc.ID)
	assert.Equal(t, "Misc Photos", misc.EventTitle)
	assert.Equal(t, []string{}, misc.Tags)

	linked := view.Events[2]
	assert.Equal(t, "gallery-ev2", linked.ID)
	assert.Equal(t, "Volunteer Day", linked.EventTitle)
}
