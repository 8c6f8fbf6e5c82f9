// Package app builds the service graph from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bull/csa-content-sync/internal/api"
	"github.com/bull/csa-content-sync/internal/catalog"
	"github.com/bull/csa-content-sync/internal/chat"
	"github.com/bull/csa-content-sync/internal/config"
	"github.com/bull/csa-content-sync/internal/drive"
	"github.com/bull/csa-content-sync/internal/embedding"
	"github.com/bull/csa-content-sync/internal/gallery"
	ghclient "github.com/bull/csa-content-sync/internal/github"
	"github.com/bull/csa-content-sync/internal/hashstore"
	"github.com/bull/csa-content-sync/internal/mcp"
	"github.com/bull/csa-content-sync/internal/observability"
	"github.com/bull/csa-content-sync/internal/refresh"
	"github.com/bull/csa-content-sync/internal/source"
	"github.com/bull/csa-content-sync/internal/storage"
)

// Version is reported by the MCP server and tracing resource.
const Version = "v0.3.0"

const shutdownTimeout = 15 * time.Second

// Options selects which parts of the graph are built.
type Options struct {
	// Offline skips the OpenAI client. Refresh and Responder stay nil.
	Offline bool
	// NoGallery skips drive and the gallery syncer even when enabled in config.
	NoGallery bool
}

// App holds every long-lived component. Optional components are nil when
// their configuration is absent.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Index     storage.VectorIndex
	Hashes    *hashstore.FileStore
	Registry  *source.Registry
	Refresh   *refresh.Orchestrator
	Responder *chat.Responder
	Catalog   *catalog.Store

	Drive    *drive.Store
	Watcher  *drive.Watcher
	Gallery  *gallery.Syncer
	Notifier *gallery.Notifier
	MCP      *mcp.Server

	tracer  *observability.TracerProvider
	closers []func() error
}

// New builds the components described by cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.tracer, err = observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    "csa-content-sync",
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if err = a.openIndex(ctx); err != nil {
		return nil, err
	}

	a.Registry, err = source.LoadRegistry(cfg.Refresh.SourcesFile, logger)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	a.Hashes = hashstore.NewFileStore(cfg.Refresh.HashFile)

	if !opts.Offline {
		if err = a.buildRetrieval(); err != nil {
			return nil, err
		}
	}

	a.Catalog, err = catalog.Open(ctx, cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Catalog.Close)
	if !a.Catalog.TracksFilenames() {
		logger.Warn("catalog has no original_filename column; matching gallery images by URL")
	}

	if cfg.Gallery.Enabled && !opts.NoGallery {
		if err = a.buildGallery(ctx); err != nil {
			return nil, err
		}
	}

	if a.Responder != nil {
		a.MCP = mcp.NewServer(&mcp.Config{
			Responder: a.Responder,
			Refresher: a.Refresh,
			Sources:   a.Registry,
			Index:     a.Index,
			Catalog:   a.Catalog,
			Gallery:   galleryStatus(a.Gallery),
			Version:   Version,
		})
	}

	return a, nil
}

func (a *App) openIndex(ctx context.Context) error {
	cfg := a.Config.Vector
	switch cfg.Backend {
	case "memory":
		a.Logger.Warn("using in-memory vector index; content is lost on exit")
		a.Index = storage.NewMemoryIndex()
		return nil
	case "", "qdrant":
	default:
		return fmt.Errorf("unknown vector.backend %q", cfg.Backend)
	}

	idx, err := storage.NewQdrantIndex(ctx, storage.QdrantConfig{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Collection:  cfg.Collection,
		BatchSize:   cfg.BatchSize,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      a.Logger,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, idx.Close)
	if err := idx.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	a.Index = idx
	return nil
}

func (a *App) buildRetrieval() error {
	cfg := a.Config
	client, err := embedding.NewClient(embedding.ClientConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("create openai client: %w", err)
	}
	embedder := embedding.NewEmbedder(client, embedding.Options{
		Model:       cfg.Embedding.Model,
		Concurrency: cfg.Embedding.Concurrency,
		MaxBackoff:  cfg.Embedding.MaxBackoff,
		Logger:      a.Logger,
	})

	gh, err := ghclient.NewClient(cfg.GitHub.Token)
	if err != nil {
		return fmt.Errorf("create github client: %w", err)
	}
	fetchers := source.NewMux()
	web := source.NewWebFetcher(30 * time.Second)
	fetchers.Handle("https://", web)
	fetchers.Handle("http://", web)
	fetchers.Handle(ghclient.Scheme, ghclient.NewFetcher(gh))
	fetchers.Handle("file://", source.FileFetcher{})

	a.Refresh, err = refresh.New(refresh.Deps{
		Sources:  a.Registry,
		Fetcher:  fetchers,
		Embedder: embedder,
		Index:    a.Index,
		Hashes:   a.Hashes,
		Logger:   a.Logger,
	}, refresh.Options{
		ChunkSize:   cfg.Refresh.ChunkSize,
		Overlap:     cfg.Refresh.Overlap,
		PassTimeout: cfg.Refresh.PassTimeout,
	})
	if err != nil {
		return err
	}

	a.Responder = chat.NewResponder(chat.Config{
		Client:   client.Client(),
		Embedder: embedder,
		Index:    a.Index,
		Model:    cfg.OpenAI.ChatModel,
		Logger:   a.Logger,
	})
	return nil
}

func (a *App) buildGallery(ctx context.Context) error {
	cfg := a.Config
	svc, err := drive.NewService(ctx, drive.ServiceConfig{CredentialsFile: cfg.Drive.CredentialsFile})
	if err != nil {
		return err
	}

	a.Drive = drive.NewStore(svc, drive.Options{
		RootFolderID: cfg.Drive.RootFolderID,
		UseProxy:     cfg.Gallery.UseProxy,
		ProxyPrefix:  cfg.Gallery.ProxyPrefix,
		MaxAttempts:  cfg.Gallery.MaxAttempts,
		RetryStep:    drive.DefaultRetryStep,
		Limiter:      drive.NewRateLimiter(cfg.Drive.RequestsPerSecond, cfg.Drive.Burst),
		Logger:       a.Logger.With("component", "drive"),
	})
	a.Gallery = gallery.NewSyncer(a.Drive, a.Catalog, gallery.Options{
		MakePublic:  !cfg.Gallery.UseProxy,
		PassTimeout: cfg.Gallery.PassTimeout,
		ProxyPrefix: cfg.Gallery.ProxyPrefix,
		Logger:      a.Logger.With("component", "gallery"),
	})
	a.Notifier = gallery.NewNotifier(a.Gallery, cfg.Gallery.Debounce, a.Logger.With("component", "notifier"))

	if cfg.Gallery.WebhookURL != "" {
		a.Watcher = drive.NewWatcher(svc, cfg.Gallery.WebhookURL, a.Logger.With("component", "watch"))
	}
	return nil
}

// galleryStatus avoids handing a typed nil to an interface field.
func galleryStatus(s *gallery.Syncer) mcp.GalleryStatus {
	if s == nil {
		return nil
	}
	return s
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	deps := api.Deps{
		Index:       a.Index,
		Catalog:     a.Catalog,
		Gallery:     a.Catalog,
		ProxyPrefix: a.Config.Gallery.ProxyPrefix,
		Logger:      a.Logger,
	}
	if a.Drive != nil {
		deps.Images = a.Drive
	}
	if a.Notifier != nil {
		deps.Notifier = a.Notifier
	}
	if a.MCP != nil {
		deps.MCP = mcp.NewHTTPHandler(a.MCP, &mcp.HTTPHandlerOptions{Stateless: true})
	}
	return api.NewRouter(deps)
}

// Serve runs the HTTP server and every background loop until ctx is done,
// then shuts the server down gracefully.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(a.Config.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := a.Registry.Watch(ctx); err != nil && ctx.Err() == nil {
			a.Logger.Warn("source list hot reload disabled", "error", err)
		}
		return nil
	})

	if a.Refresh != nil {
		g.Go(func() error {
			a.Refresh.Run(ctx, a.Config.Refresh.Interval)
			return nil
		})
	}

	if a.Gallery != nil {
		g.Go(func() error {
			if _, err := a.Gallery.SyncAll(ctx, "startup"); err != nil && ctx.Err() == nil {
				a.Logger.Error("initial gallery sync failed", "error", err)
			}
			return ignoreCanceled(a.Gallery.Run(ctx, a.Config.Gallery.PollInterval))
		})
		g.Go(func() error {
			return ignoreCanceled(a.Notifier.Run(ctx))
		})
	}

	if a.Watcher != nil {
		g.Go(func() error {
			if err := a.Watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("drive watch stopped", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
