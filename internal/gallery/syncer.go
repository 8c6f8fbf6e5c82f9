// Package gallery reconciles the gallery catalog against the image folders
// of a remote drive.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bull/csa-content-sync/internal/catalog"
	"github.com/bull/csa-content-sync/internal/drive"
	"github.com/bull/csa-content-sync/internal/observability"
)

// ErrPassInProgress is returned when a pass is requested while another runs.
var ErrPassInProgress = errors.New("gallery pass already in progress")

// Remote is the folder tree being mirrored. *drive.Store implements it.
type Remote interface {
	ListFolders(ctx context.Context) ([]drive.Folder, error)
	FindFolder(ctx context.Context, name string) (drive.Folder, error)
	ListImages(ctx context.Context, folderID string) ([]drive.Image, error)
	FileInFolder(ctx context.Context, id, folderID string) (bool, error)
	MakePublic(ctx context.Context, id string) error
	PublicURL(id string) string
}

// Catalog is the local record of gallery images. *catalog.Store implements it.
type Catalog interface {
	FindByFileID(ctx context.Context, fileID string) (catalog.Image, error)
	FindByFolderAndFilename(ctx context.Context, folder, filename string) (catalog.Image, error)
	FindByURL(ctx context.Context, url string) (catalog.Image, error)
	Insert(ctx context.Context, img catalog.Image) (catalog.Image, error)
	UpdateLink(ctx context.Context, id int64, link catalog.Link) error
	ListByFolder(ctx context.Context, folder string) ([]catalog.Image, error)
	Delete(ctx context.Context, id int64) error
	DeleteFolder(ctx context.Context, folder string) (int, error)
	ListEvents(ctx context.Context) ([]catalog.Event, error)
}

// Options tunes a Syncer.
type Options struct {
	// MakePublic shares each file with anyone before linking it. Needed
	// when the catalog stores direct drive URLs instead of proxy paths.
	MakePublic  bool
	PassTimeout time.Duration
	// ProxyPrefix is used to recover file ids from stored proxy URLs.
	ProxyPrefix string
	Logger      *slog.Logger
}

// Syncer runs gallery passes. At most one pass runs at a time; a pass
// requested while another is in flight is skipped.
type Syncer struct {
	remote  Remote
	catalog Catalog
	opts    Options
	state   *State
	log     *slog.Logger
}

// NewSyncer returns a Syncer over remote and cat.
func NewSyncer(remote Remote, cat Catalog, opts Options) *Syncer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProxyPrefix == "" {
		opts.ProxyPrefix = drive.DefaultProxyPrefix
	}
	return &Syncer{
		remote:  remote,
		catalog: cat,
		opts:    opts,
		state:   newState(),
		log:     opts.Logger,
	}
}

// State exposes the syncer's state.
func (s *Syncer) State() *State {
	return s.state
}

// SyncAll reconciles every remote folder. Failures of one folder are
// recorded and do not stop the others.
func (s *Syncer) SyncAll(ctx context.Context, trigger string) (*Result, error) {
	return s.pass(ctx, trigger, func(ctx context.Context) ([]drive.Folder, error) {
		return s.remote.ListFolders(ctx)
	})
}

// SyncFolder reconciles a single folder, looked up by name.
func (s *Syncer) SyncFolder(ctx context.Context, name, trigger string) (*Result, error) {
	return s.pass(ctx, trigger, func(ctx context.Context) ([]drive.Folder, error) {
		f, err := s.remote.FindFolder(ctx, name)
		if err != nil {
			return nil, err
		}
		return []drive.Folder{f}, nil
	})
}

// Run polls SyncAll every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		s.log.Info("gallery polling disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	s.log.Info("gallery polling started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SyncAll(ctx, "poll"); err != nil && !errors.Is(err, ErrPassInProgress) && ctx.Err() == nil {
				s.log.Error("gallery poll failed", "error", err)
			}
		}
	}
}

func (s *Syncer) pass(ctx context.Context, trigger string, list func(context.Context) ([]drive.Folder, error)) (result *Result, err error) {
	if !s.state.tryBegin() {
		s.log.Debug("gallery pass skipped, another pass is running", "trigger", trigger)
		return nil, ErrPassInProgress
	}
	defer s.state.end()

	if s.opts.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.PassTimeout)
		defer cancel()
	}

	ctx, span := observability.StartPassSpan(ctx, "gallery")
	defer func() { observability.EndSpan(span, err) }()

	result = &Result{Started: time.Now(), Trigger: trigger}
	defer func() {
		result.Duration = time.Since(result.Started)
		s.state.setLastResult(result)
		span.SetAttributes(
			attribute.String("gallery.trigger", trigger),
			attribute.Int("gallery.folders", len(result.Folders)),
			attribute.Int("gallery.synced", result.Synced),
			attribute.Int("gallery.deleted", result.Deleted),
			attribute.Int("gallery.failed", result.Failed),
		)
	}()

	folders, err := list(ctx)
	if err != nil {
		return result, fmt.Errorf("list folders: %w", err)
	}
	if len(folders) == 0 {
		s.log.Info("no remote folders to sync")
		return result, nil
	}

	events, err := s.catalog.ListEvents(ctx)
	if err != nil {
		return result, fmt.Errorf("list events: %w", err)
	}

	for _, f := range folders {
		if ctx.Err() != nil {
			s.log.Warn("gallery pass interrupted", "error", ctx.Err())
			break
		}
		fr, err := s.syncFolder(ctx, f, events)
		if err != nil {
			s.log.Error("folder sync failed", "folder", f.Name, "error", err)
			fr.Err = err.Error()
		}
		result.add(fr)
	}

	s.log.Info("gallery pass complete",
		"trigger", trigger,
		"folders", len(result.Folders),
		"synced", result.Synced,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"deleted", result.Deleted,
		"duration", time.Since(result.Started),
	)
	return result, ctx.Err()
}

// syncFolder applies the remote listing of one folder to the catalog:
// new files are inserted, known files relinked (following renames and
// moves by file id), and rows whose file left the folder are deleted.
func (s *Syncer) syncFolder(ctx context.Context, folder drive.Folder, events []catalog.Event) (FolderResult, error) {
	fr := FolderResult{Folder: folder.Name}
	log := s.log.With("folder", folder.Name)

	images, err := s.remote.ListImages(ctx, folder.ID)
	if err != nil {
		return fr, fmt.Errorf("list images: %w", err)
	}

	if ev, ok := MatchEvent(folder.Name, events); ok {
		fr.EventID = ev.ID
	}

	seen := listing{
		ids:   make(map[string]bool, len(images)),
		names: make(map[string]bool, len(images)),
		urls:  make(map[string]bool, len(images)),
	}
	for _, img := range images {
		if ctx.Err() != nil {
			return fr, ctx.Err()
		}
		url := s.remote.PublicURL(img.ID)
		seen.ids[img.ID] = true
		seen.names[img.Name] = true
		seen.urls[url] = true

		if s.opts.MakePublic {
			if err := s.remote.MakePublic(ctx, img.ID); err != nil {
				log.Warn("could not make file public", "file", img.Name, "error", err)
			}
		}

		synced, err := s.upsert(ctx, folder.Name, fr.EventID, img, url)
		switch {
		case err != nil:
			log.Error("failed to catalog image", "file", img.Name, "error", err)
			fr.Failed++
		case synced:
			fr.Synced++
		default:
			fr.Skipped++
		}
	}

	deleted, err := s.sweep(ctx, folder, len(images) == 0, seen)
	fr.Deleted = deleted
	if err != nil {
		return fr, fmt.Errorf("deletion sweep: %w", err)
	}

	s.state.setCursor(folder.Name, Cursor{LastSync: time.Now(), Images: len(images)})
	log.Debug("folder reconciled",
		"event_id", fr.EventID,
		"synced", fr.Synced,
		"skipped", fr.Skipped,
		"failed", fr.Failed,
		"deleted", fr.Deleted,
	)
	return fr, nil
}

// listing is what one folder listing contained.
type listing struct {
	ids   map[string]bool
	names map[string]bool
	urls  map[string]bool
}

// upsert relinks an existing row or inserts a new one. It reports whether
// a row was inserted. A row is found by file id first, so a renamed or
// moved file keeps its row.
func (s *Syncer) upsert(ctx context.Context, folder, eventID string, img drive.Image, url string) (bool, error) {
	existing, err := s.catalog.FindByFileID(ctx, img.ID)
	if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrColumnMissing) {
		existing, err = s.catalog.FindByFolderAndFilename(ctx, folder, img.Name)
	}
	if errors.Is(err, catalog.ErrColumnMissing) {
		existing, err = s.catalog.FindByURL(ctx, url)
	}

	switch {
	case err == nil:
		if existing.FolderName != folder || (existing.OriginalFilename != "" && existing.OriginalFilename != img.Name) {
			s.log.Info("image renamed or moved",
				"file_id", img.ID,
				"from", existing.FolderName+"/"+existing.Filename,
				"to", folder+"/"+img.Name,
			)
		}
		return false, s.catalog.UpdateLink(ctx, existing.ID, catalog.Link{
			Folder:   folder,
			EventID:  eventID,
			URL:      url,
			FileID:   img.ID,
			Filename: img.Name,
		})
	case errors.Is(err, catalog.ErrNotFound):
		_, err := s.catalog.Insert(ctx, catalog.Image{
			Filename:         img.Name,
			OriginalFilename: img.Name,
			FileID:           img.ID,
			ImageURL:         url,
			FolderName:       folder,
			EventID:          eventID,
		})
		return err == nil, err
	default:
		return false, err
	}
}

// sweep deletes catalog rows of folder whose file is absent from the
// listing. When the folder is empty every row goes; otherwise each
// candidate is confirmed gone by a direct lookup of its file id, which
// must be untrashed and still parented by the folder to keep the row.
func (s *Syncer) sweep(ctx context.Context, folder drive.Folder, empty bool, seen listing) (int, error) {
	if empty {
		n, err := s.catalog.DeleteFolder(ctx, folder.Name)
		if n > 0 {
			s.log.Info("remote folder is empty, removed its images", "folder", folder.Name, "deleted", n)
		}
		return n, err
	}

	rows, err := s.catalog.ListByFolder(ctx, folder.Name)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, row := range rows {
		if row.FileID != "" && seen.ids[row.FileID] {
			continue
		}
		if row.FileID == "" && row.OriginalFilename != "" && seen.names[row.OriginalFilename] {
			continue
		}
		if row.OriginalFilename == "" && seen.urls[row.ImageURL] {
			continue
		}

		fileID := row.FileID
		if fileID == "" {
			fileID = FileIDFromURL(row.ImageURL, s.opts.ProxyPrefix)
		}
		if fileID != "" {
			present, err := s.remote.FileInFolder(ctx, fileID, folder.ID)
			if err != nil {
				s.log.Warn("cannot confirm file removal, keeping image", "folder", folder.Name, "file", row.Filename, "error", err)
				continue
			}
			if present {
				s.log.Debug("file missing from listing but still in folder, keeping image", "folder", folder.Name, "file", row.Filename)
				continue
			}
		}

		if err := s.catalog.Delete(ctx, row.ID); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		s.log.Info("removed image no longer in remote folder", "folder", folder.Name, "file", row.Filename)
		deleted++
	}
	return deleted, nil
}
