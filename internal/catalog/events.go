package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Event is a site event that gallery folders are matched against.
type Event struct {
	ID       string
	Title    string
	DateTime string
	Location string
	Tags     []string
	Excerpt  string
}

// Date returns the calendar date part of DateTime.
func (e Event) Date() string {
	if len(e.DateTime) >= 10 {
		return e.DateTime[:10]
	}
	return e.DateTime
}

// UpsertEvent inserts or replaces an event.
func (s *Store) UpsertEvent(ctx context.Context, e Event) error {
	tags, err := json.Marshal(nonNil(e.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, title, date_time, location, tags, excerpt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			date_time = excluded.date_time,
			location = excluded.location,
			tags = excluded.tags,
			excerpt = excluded.excerpt`,
		e.ID, e.Title, e.DateTime, e.Location, string(tags), e.Excerpt)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", e.ID, err)
	}
	return nil
}

// GetEvent returns one event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx,
		"SELECT id, title, date_time, location, tags, excerpt FROM events WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return e, err
}

// ListEvents returns all events ordered by ID.
func (s *Store) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, date_time, location, tags, excerpt FROM events ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		e    Event
		tags string
	)
	if err := row.Scan(&e.ID, &e.Title, &e.DateTime, &e.Location, &tags, &e.Excerpt); err != nil {
		return Event{}, err
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return Event{}, fmt.Errorf("decoding tags of event %s: %w", e.ID, err)
	}
	e.Tags = nonNil(e.Tags)
	return e, nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
