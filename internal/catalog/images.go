package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Image is one gallery catalog row. (FolderName, OriginalFilename) is unique.
type Image struct {
	ID               int64
	Filename         string
	OriginalFilename string
	FileID           string
	ImageURL         string
	FolderName       string
	EventID          string
	Caption          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FolderCount is the number of images catalogued for one folder.
type FolderCount struct {
	Folder string
	Images int
}

func (s *Store) imageColumns() string {
	if s.trackFiles {
		return "id, filename, original_filename, file_id, image_url, folder_name, event_id, caption, created_at, updated_at"
	}
	return "id, filename, NULL, NULL, image_url, folder_name, event_id, caption, created_at, updated_at"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (Image, error) {
	var (
		img                     Image
		original, fileID, event sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&img.ID, &img.Filename, &original, &fileID, &img.ImageURL,
		&img.FolderName, &event, &img.Caption, &createdAt, &updatedAt)
	if err != nil {
		return Image{}, err
	}
	img.OriginalFilename = original.String
	img.FileID = fileID.String
	img.EventID = event.String
	img.CreatedAt = parseTime(createdAt)
	img.UpdatedAt = parseTime(updatedAt)
	return img, nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (Image, error) {
	img, err := scanImage(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Image{}, ErrNotFound
	}
	return img, err
}

func (s *Store) queryMany(ctx context.Context, query string, args ...any) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// FindByFolderAndFilename looks an image up by its de-duplication key.
// It returns ErrColumnMissing on catalogs that do not track filenames.
func (s *Store) FindByFolderAndFilename(ctx context.Context, folder, filename string) (Image, error) {
	if !s.trackFiles {
		return Image{}, ErrColumnMissing
	}
	img, err := s.queryOne(ctx,
		"SELECT "+s.imageColumns()+" FROM gallery_images WHERE folder_name = ? AND original_filename = ? LIMIT 1",
		folder, filename)
	if isColumnMissing(err) {
		return Image{}, ErrColumnMissing
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Image{}, fmt.Errorf("find image %s/%s: %w", folder, filename, err)
	}
	return img, err
}

// FindByFileID looks an image up by its remote file id. It returns
// ErrColumnMissing on catalogs that do not track file ids.
func (s *Store) FindByFileID(ctx context.Context, fileID string) (Image, error) {
	if !s.trackFiles {
		return Image{}, ErrColumnMissing
	}
	img, err := s.queryOne(ctx,
		"SELECT "+s.imageColumns()+" FROM gallery_images WHERE file_id = ? ORDER BY id LIMIT 1", fileID)
	if isColumnMissing(err) {
		return Image{}, ErrColumnMissing
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Image{}, fmt.Errorf("find image by file id: %w", err)
	}
	return img, err
}

// FindByURL looks an image up by its stored URL.
func (s *Store) FindByURL(ctx context.Context, url string) (Image, error) {
	img, err := s.queryOne(ctx,
		"SELECT "+s.imageColumns()+" FROM gallery_images WHERE image_url = ? ORDER BY id LIMIT 1", url)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Image{}, fmt.Errorf("find image by url: %w", err)
	}
	return img, err
}

// HasFile reports whether any row references the file, by file id or by
// one of urls.
func (s *Store) HasFile(ctx context.Context, fileID string, urls []string) (bool, error) {
	var (
		conds []string
		args  []any
	)
	if s.trackFiles {
		conds = append(conds, "file_id = ?")
		args = append(args, fileID)
	}
	if len(urls) > 0 {
		conds = append(conds, "image_url IN (?"+strings.Repeat(", ?", len(urls)-1)+")")
		for _, u := range urls {
			args = append(args, u)
		}
	}
	if len(conds) == 0 {
		return false, nil
	}

	var found bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM gallery_images WHERE "+strings.Join(conds, " OR ")+")", args...).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("look up file %s: %w", fileID, err)
	}
	return found, nil
}

// Insert adds a row and returns it with its ID and timestamps set. On
// catalogs without filename tracking the filename and file id are dropped.
func (s *Store) Insert(ctx context.Context, img Image) (Image, error) {
	now := s.now()
	img.CreatedAt, img.UpdatedAt = now, now

	var (
		res sql.Result
		err error
	)
	if s.trackFiles {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO gallery_images
				(filename, original_filename, file_id, image_url, folder_name, event_id, caption, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			img.Filename, img.OriginalFilename, nullString(img.FileID), img.ImageURL, img.FolderName,
			nullString(img.EventID), img.Caption, formatTime(now), formatTime(now))
	}
	if !s.trackFiles || isColumnMissing(err) {
		img.OriginalFilename, img.FileID = "", ""
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO gallery_images
				(filename, image_url, folder_name, event_id, caption, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			img.Filename, img.ImageURL, img.FolderName, nullString(img.EventID), img.Caption,
			formatTime(now), formatTime(now))
	}
	if err != nil {
		return Image{}, fmt.Errorf("insert image %s/%s: %w", img.FolderName, img.Filename, err)
	}

	if img.ID, err = res.LastInsertId(); err != nil {
		return Image{}, err
	}
	return img, nil
}

// Link is the remote state an existing row is brought up to date with.
type Link struct {
	Folder   string
	EventID  string
	URL      string
	FileID   string
	Filename string
}

// UpdateLink relinks an existing row to its remote file. The filename and
// file id are only written on catalogs that track them, and only when set.
func (s *Store) UpdateLink(ctx context.Context, id int64, link Link) error {
	var (
		res sql.Result
		err error
	)
	if s.trackFiles && link.Filename != "" {
		res, err = s.db.ExecContext(ctx, `
			UPDATE gallery_images
			SET folder_name = ?, event_id = ?, image_url = ?, file_id = ?,
				filename = ?, original_filename = ?, updated_at = ?
			WHERE id = ?`,
			link.Folder, nullString(link.EventID), link.URL, nullString(link.FileID),
			link.Filename, link.Filename, formatTime(s.now()), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE gallery_images SET folder_name = ?, event_id = ?, image_url = ?, updated_at = ? WHERE id = ?",
			link.Folder, nullString(link.EventID), link.URL, formatTime(s.now()), id)
	}
	if err != nil {
		return fmt.Errorf("update image %d: %w", id, err)
	}
	return requireAffected(res, id)
}

// ListByFolder returns the rows of one folder ordered by creation.
func (s *Store) ListByFolder(ctx context.Context, folder string) ([]Image, error) {
	imgs, err := s.queryMany(ctx,
		"SELECT "+s.imageColumns()+" FROM gallery_images WHERE folder_name = ? ORDER BY created_at, id", folder)
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", folder, err)
	}
	return imgs, nil
}

// List returns every row ordered by creation.
func (s *Store) List(ctx context.Context) ([]Image, error) {
	imgs, err := s.queryMany(ctx,
		"SELECT "+s.imageColumns()+" FROM gallery_images ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return imgs, nil
}

// Delete removes one row.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM gallery_images WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete image %d: %w", id, err)
	}
	return requireAffected(res, id)
}

// DeleteFolder removes every row of a folder and returns how many were deleted.
func (s *Store) DeleteFolder(ctx context.Context, folder string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM gallery_images WHERE folder_name = ?", folder)
	if err != nil {
		return 0, fmt.Errorf("delete folder %s: %w", folder, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// FolderCounts returns the image count per folder, ordered by folder name.
func (s *Store) FolderCounts(ctx context.Context) ([]FolderCount, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT folder_name, COUNT(*) FROM gallery_images GROUP BY folder_name ORDER BY folder_name")
	if err != nil {
		return nil, fmt.Errorf("count folders: %w", err)
	}
	defer rows.Close()

	var out []FolderCount
	for rows.Next() {
		var fc FolderCount
		if err := rows.Scan(&fc.Folder, &fc.Images); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("image %d: %w", id, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
