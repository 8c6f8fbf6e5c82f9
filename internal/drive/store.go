package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// MimeTypeFolder is the Drive MIME type of folders.
const MimeTypeFolder = "application/vnd.google-apps.folder"

// ImageMimeTypes are the file types listed as gallery images.
var ImageMimeTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
}

const (
	// DefaultProxyPrefix is the path under which images are served by the proxy endpoint.
	DefaultProxyPrefix = "/v1/routes/gallery-images/proxy/"
	// DefaultMaxAttempts bounds retries of transient failures.
	DefaultMaxAttempts = 3
	// DefaultRetryStep is the linear retry increment (1s, 2s, ...).
	DefaultRetryStep = time.Second

	pageSize = 1000
)

// Folder is a remote folder.
type Folder struct {
	ID   string
	Name string
}

// Image is an image file inside a remote folder.
type Image struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	ModifiedTime time.Time
}

// Options configures a Store.
type Options struct {
	RootFolderID string
	UseProxy     bool
	ProxyPrefix  string
	MaxAttempts  int
	RetryStep    time.Duration
	Limiter      *RateLimiter
	Logger       *slog.Logger
}

// Store wraps a Drive service with rate limiting and bounded retries.
type Store struct {
	svc  *drive.Service
	opts Options
	log  *slog.Logger
}

// NewStore returns a Store over svc.
func NewStore(svc *drive.Service, opts Options) *Store {
	if opts.ProxyPrefix == "" {
		opts.ProxyPrefix = DefaultProxyPrefix
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryStep < 0 {
		opts.RetryStep = 0
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(DefaultRequestsPerSecond, DefaultBurst)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{svc: svc, opts: opts, log: opts.Logger}
}

// ListFolders returns the non-trashed folders under the root folder
// (or every visible folder when no root is configured), sorted by name.
func (s *Store) ListFolders(ctx context.Context) ([]Folder, error) {
	q := fmt.Sprintf("mimeType='%s' and trashed=false", MimeTypeFolder)
	if s.opts.RootFolderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escape(s.opts.RootFolderID))
	}

	var folders []Folder
	err := s.list(ctx, "list folders", q, "nextPageToken, files(id, name)", func(f *drive.File) {
		folders = append(folders, Folder{ID: f.Id, Name: f.Name})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(folders, func(i, j int) bool {
		if folders[i].Name != folders[j].Name {
			return folders[i].Name < folders[j].Name
		}
		return folders[i].ID < folders[j].ID
	})
	return folders, nil
}

// FindFolder looks a folder up by exact name under the root folder.
func (s *Store) FindFolder(ctx context.Context, name string) (Folder, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escape(name), MimeTypeFolder)
	if s.opts.RootFolderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escape(s.opts.RootFolderID))
	}

	var res *drive.FileList
	err := s.do(ctx, "find folder", func() error {
		var err error
		res, err = s.svc.Files.List().Context(ctx).Q(q).Fields("files(id, name)").PageSize(10).Do()
		return err
	})
	if err != nil {
		return Folder{}, err
	}
	if len(res.Files) == 0 {
		return Folder{}, fmt.Errorf("folder %q: %w", name, ErrNotFound)
	}
	return Folder{ID: res.Files[0].Id, Name: res.Files[0].Name}, nil
}

// ListImages returns the non-trashed image files of a folder, sorted by name.
func (s *Store) ListImages(ctx context.Context, folderID string) ([]Image, error) {
	mimes := make([]string, len(ImageMimeTypes))
	for i, m := range ImageMimeTypes {
		mimes[i] = fmt.Sprintf("mimeType='%s'", m)
	}
	q := fmt.Sprintf("'%s' in parents and (%s) and trashed=false", escape(folderID), strings.Join(mimes, " or "))

	var images []Image
	err := s.list(ctx, "list images", q, "nextPageToken, files(id, name, mimeType, size, modifiedTime)", func(f *drive.File) {
		img := Image{ID: f.Id, Name: f.Name, MimeType: f.MimeType, Size: f.Size}
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			img.ModifiedTime = t
		}
		images = append(images, img)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(images, func(i, j int) bool {
		if images[i].Name != images[j].Name {
			return images[i].Name < images[j].Name
		}
		return images[i].ID < images[j].ID
	})
	return images, nil
}

// FileInFolder reports whether a file exists, is not trashed and still has
// folderID among its parents. A missing file is (false, nil); other
// failures are returned so callers can keep state they cannot verify.
func (s *Store) FileInFolder(ctx context.Context, id, folderID string) (bool, error) {
	var f *drive.File
	err := s.do(ctx, "get file", func() error {
		var err error
		f, err = s.svc.Files.Get(id).Context(ctx).Fields("id, trashed, parents").Do()
		return err
	})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if f.Trashed {
		return false, nil
	}
	return slices.Contains(f.Parents, folderID), nil
}

// MakePublic grants anyone read access to a file. Files that already
// carry that permission are left untouched.
func (s *Store) MakePublic(ctx context.Context, id string) error {
	var f *drive.File
	err := s.do(ctx, "get permissions", func() error {
		var err error
		f, err = s.svc.Files.Get(id).Context(ctx).Fields("permissions, name").Do()
		return err
	})
	if err != nil {
		return err
	}
	for _, p := range f.Permissions {
		if p.Type == "anyone" && p.Role == "reader" {
			return nil
		}
	}

	err = s.do(ctx, "create permission", func() error {
		_, err := s.svc.Permissions.Create(id, &drive.Permission{Type: "anyone", Role: "reader"}).
			Context(ctx).Fields("id").Do()
		return err
	})
	if err != nil && isDuplicate(err) {
		return nil
	}
	return err
}

// PublicURL returns the reference stored in the catalog for a file: the
// local proxy path, or the direct Drive view URL.
func (s *Store) PublicURL(id string) string {
	if s.opts.UseProxy {
		return s.opts.ProxyPrefix + id
	}
	return "https://drive.google.com/uc?export=view&id=" + id
}

// Download opens a file's content. The caller closes the body.
func (s *Store) Download(ctx context.Context, id string) (io.ReadCloser, string, error) {
	var f *drive.File
	err := s.do(ctx, "get file", func() error {
		var err error
		f, err = s.svc.Files.Get(id).Context(ctx).Fields("id, mimeType").Do()
		return err
	})
	if err != nil {
		return nil, "", WrapError(err)
	}

	var resp *http.Response
	err = s.do(ctx, "download", func() error {
		var err error
		resp, err = s.svc.Files.Get(id).Context(ctx).Download()
		return err
	})
	if err != nil {
		return nil, "", WrapError(err)
	}
	return resp.Body, f.MimeType, nil
}

func (s *Store) list(ctx context.Context, op, q, fields string, fn func(*drive.File)) error {
	pageToken := ""
	for {
		var res *drive.FileList
		err := s.do(ctx, op, func() error {
			call := s.svc.Files.List().Context(ctx).Q(q).Fields(googleapi.Field(fields)).PageSize(pageSize)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			res, err = call.Do()
			return err
		})
		if err != nil {
			return err
		}
		for _, f := range res.Files {
			fn(f)
		}
		if res.NextPageToken == "" {
			return nil
		}
		pageToken = res.NextPageToken
	}
}

// do runs fn under the rate limiter, retrying transient failures with a
// linearly growing delay.
func (s *Store) do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		if err := s.opts.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if d := retryAfter(err); d > 0 {
			s.opts.Limiter.RecordRateLimitError(d)
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("transient drive error, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", s.opts.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: s.opts.RetryStep}, uint64(s.opts.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

func retryAfter(err error) time.Duration {
	var gerr *googleapi.Error
	if !IsRateLimited(err) || !errors.As(err, &gerr) || gerr.Header == nil {
		return 0
	}
	secs, convErr := strconv.Atoi(gerr.Header.Get("Retry-After"))
	if convErr != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}

// escape quotes a value for use inside a Drive query string literal.
func escape(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
