package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Gallery   GalleryConfig   `mapstructure:"gallery"`
	Drive     DriveConfig     `mapstructure:"drive"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Server    ServerConfig    `mapstructure:"server"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	ChatModel string `mapstructure:"chat_model"`
}

type EmbeddingConfig struct {
	Model       string        `mapstructure:"model"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type VectorConfig struct {
	// Backend is "qdrant" or "memory".
	Backend     string `mapstructure:"backend"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Collection  string `mapstructure:"collection"`
	BatchSize   int    `mapstructure:"batch_size"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type RefreshConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	ChunkSize   int           `mapstructure:"chunk_size"`
	Overlap     int           `mapstructure:"overlap"`
	PassTimeout time.Duration `mapstructure:"pass_timeout"`
	HashFile    string        `mapstructure:"hash_file"`
	SourcesFile string        `mapstructure:"sources_file"`
}

type GalleryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Debounce     time.Duration `mapstructure:"debounce"`
	PassTimeout  time.Duration `mapstructure:"pass_timeout"`
	UseProxy     bool          `mapstructure:"use_proxy"`
	ProxyPrefix  string        `mapstructure:"proxy_prefix"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	WebhookURL   string        `mapstructure:"webhook_url"`
}

type DriveConfig struct {
	CredentialsFile   string  `mapstructure:"credentials_file"`
	RootFolderID      string  `mapstructure:"root_folder_id"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.concurrency", 3)
	v.SetDefault("embedding.max_backoff", 60*time.Second)

	v.SetDefault("vector.backend", "qdrant")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "documents")
	v.SetDefault("vector.batch_size", 100)
	v.SetDefault("vector.max_attempts", 5)

	v.SetDefault("refresh.interval", 24*time.Hour)
	v.SetDefault("refresh.chunk_size", 400)
	v.SetDefault("refresh.overlap", 50)
	v.SetDefault("refresh.pass_timeout", time.Duration(0))
	v.SetDefault("refresh.hash_file", "hashes.json")
	v.SetDefault("refresh.sources_file", "sources.toml")

	v.SetDefault("gallery.enabled", true)
	v.SetDefault("gallery.poll_interval", 2*time.Minute)
	v.SetDefault("gallery.debounce", 10*time.Second)
	v.SetDefault("gallery.pass_timeout", time.Duration(0))
	v.SetDefault("gallery.use_proxy", true)
	v.SetDefault("gallery.proxy_prefix", "/v1/routes/gallery-images/proxy/")
	v.SetDefault("gallery.max_attempts", 3)
	v.SetDefault("gallery.webhook_url", "")

	v.SetDefault("drive.credentials_file", "")
	v.SetDefault("drive.root_folder_id", "")
	v.SetDefault("drive.requests_per_second", 8.0)
	v.SetDefault("drive.burst", 10)

	v.SetDefault("catalog.path", "data/catalog.db")
	v.SetDefault("github.token", "")
	v.SetDefault("server.port", 8080)

	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.OpenAI.APIKey == "" {
		warnings = append(warnings, "openai.api_key is empty; embedding and chat calls will fail")
	}
	if c.Refresh.Overlap < 0 || c.Refresh.Overlap >= c.Refresh.ChunkSize {
		warnings = append(warnings, fmt.Sprintf("refresh.overlap %d must be in [0, chunk_size %d); overlap disabled", c.Refresh.Overlap, c.Refresh.ChunkSize))
		c.Refresh.Overlap = 0
	}
	if c.Embedding.Concurrency < 1 {
		warnings = append(warnings, fmt.Sprintf("embedding.concurrency %d is below 1; using 1", c.Embedding.Concurrency))
		c.Embedding.Concurrency = 1
	}
	if c.Vector.BatchSize < 1 || c.Vector.BatchSize > 100 {
		warnings = append(warnings, fmt.Sprintf("vector.batch_size %d is outside [1, 100]; using 100", c.Vector.BatchSize))
		c.Vector.BatchSize = 100
	}
	if c.Gallery.Enabled && c.Drive.CredentialsFile == "" {
		warnings = append(warnings, "gallery is enabled but drive.credentials_file is empty; gallery sync disabled")
		c.Gallery.Enabled = false
	}

	return warnings
}

// Load reads configuration from an optional file and CSA_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CSA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// OPENAI_API_KEY is what the OpenAI SDK itself reads.
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	for _, warning := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	return &cfg, nil
}

// NewLogger builds a slog.Logger from the log section.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
