// Package main provides the csa-sync CLI: the content sync service and its
// one-shot maintenance commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/csa-content-sync/internal/app"
	"github.com/bull/csa-content-sync/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "csa-sync",
	Short: "Content and gallery sync for the community site",
	Long: `Keeps the site chatbot's vector index and the photo gallery catalog in
step with their sources.

Configuration comes from an optional file (--config, YAML or TOML) and
CSA_-prefixed environment variables, e.g.:
  CSA_OPENAI_API_KEY        OpenAI API key (OPENAI_API_KEY also works)
  CSA_VECTOR_HOST           Qdrant hostname (default: localhost)
  CSA_VECTOR_PORT           Qdrant gRPC port (default: 6334)
  CSA_DRIVE_CREDENTIALS_FILE Service account JSON for the gallery drive
  CSA_GALLERY_WEBHOOK_URL   Public URL of the drive webhook (optional)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML or TOML)")
	rootCmd.AddCommand(serveCmd, mcpCmd, refreshCmd, gallerySyncCmd, statusCmd, exportCmd, purgeCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openApp loads configuration and builds the components a command needs.
func openApp(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, opts)
	if err != nil {
		return nil, fmt.Errorf("startup failed: %w", err)
	}
	return a, nil
}
