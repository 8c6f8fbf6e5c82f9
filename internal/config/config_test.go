package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 3, cfg.Embedding.Concurrency)
	assert.Equal(t, 60*time.Second, cfg.Embedding.MaxBackoff)
	assert.Equal(t, 400, cfg.Refresh.ChunkSize)
	assert.Equal(t, 50, cfg.Refresh.Overlap)
	assert.Equal(t, 24*time.Hour, cfg.Refresh.Interval)
	assert.Equal(t, 100, cfg.Vector.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Gallery.Debounce)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CSA_REFRESH_CHUNK_SIZE", "200")
	t.Setenv("CSA_GALLERY_DEBOUNCE", "3s")
	t.Setenv("CSA_VECTOR_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Refresh.ChunkSize)
	assert.Equal(t, 3*time.Second, cfg.Gallery.Debounce)
	assert.Equal(t, "memory", cfg.Vector.Backend)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csa.yaml")
	content := "refresh:\n  interval: 1h\n  sources_file: custom.toml\nserver:\n  port: 9090\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Refresh.Interval)
	assert.Equal(t, "custom.toml", cfg.Refresh.SourcesFile)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_OverlapOutOfRange(t *testing.T) {
	cfg := &Config{
		OpenAI:    OpenAIConfig{APIKey: "k"},
		Embedding: EmbeddingConfig{Concurrency: 3},
		Vector:    VectorConfig{BatchSize: 100},
		Refresh:   RefreshConfig{ChunkSize: 10, Overlap: 10},
	}
	warnings := cfg.Validate()

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "overlap")
	assert.Equal(t, 0, cfg.Refresh.Overlap)
}

func TestValidate_GalleryWithoutCredentials(t *testing.T) {
	cfg := &Config{
		OpenAI:    OpenAIConfig{APIKey: "k"},
		Embedding: EmbeddingConfig{Concurrency: 3},
		Vector:    VectorConfig{BatchSize: 100},
		Refresh:   RefreshConfig{ChunkSize: 400, Overlap: 50},
		Gallery:   GalleryConfig{Enabled: true},
	}
	warnings := cfg.Validate()

	found := false
	for _, w := range warnings {
		if strings.Contains(w, "credentials_file") {
			found = true
		}
	}
	assert.True(t, found)
	assert.False(t, cfg.Gallery.Enabled)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "source", "a")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"source":"a"`)
}
