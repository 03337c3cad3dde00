// Package queue implements the durable ingestion backlog. Fetchers and the
// manual ingestion endpoints append items; the publish worker drains them in
// FIFO order. An item is deleted exactly once -- on publish, duplicate-skip,
// or unrecoverable failure -- so the queue never retains an item past one
// processing attempt.
package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pevans/teluguwire/media"
)

// ErrItemNotFound is returned when a queue item does not exist.
var ErrItemNotFound = errors.New("queue item not found")

// Item represents an unpublished candidate awaiting rewrite and dedup.
type Item struct {
	// Identifier is the source-native ID (tweet ID) or a generated
	// surrogate. It is the primary key, which makes re-queueing the same
	// item idempotent.
	Identifier     string               `json:"identifier"`
	RawText        string               `json:"raw_text"`
	SourceURL      string               `json:"source_url,omitempty"`
	ImageURL       string               `json:"image_url,omitempty"`
	Media          []media.Attachment   `json:"media,omitempty"`
	RelatedStories []media.RelatedStory `json:"related_stories,omitempty"`
	SourceLabel    string               `json:"source_label"`
	AuthorName     string               `json:"author_name,omitempty"`
	AuthorHandle   string               `json:"author_handle,omitempty"`
	EnqueuedAt     time.Time            `json:"enqueued_at"`
}

// Store manages queue items using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a new queue store with the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the queue_items table if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_items (
		identifier TEXT PRIMARY KEY,
		raw_text TEXT NOT NULL,
		source_url TEXT,
		image_url TEXT,
		media TEXT,
		related_stories TEXT,
		source_label TEXT NOT NULL,
		author_name TEXT,
		author_handle TEXT,
		enqueued_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue inserts an item into the backlog. Enqueueing an identifier that is
// already queued is a no-op, so fetchers can safely re-offer items they have
// seen before. Missing author info defaults to the source label, and a
// missing enqueue time defaults to now.
func (s *Store) Enqueue(item Item) error {
	if item.Identifier == "" {
		return errors.New("queue item requires an identifier")
	}
	if item.AuthorName == "" {
		item.AuthorName = item.SourceLabel
	}
	if item.AuthorHandle == "" {
		item.AuthorHandle = item.SourceLabel
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	mediaJSON, err := marshalJSON(item.Media)
	if err != nil {
		return fmt.Errorf("failed to marshal media: %w", err)
	}
	storiesJSON, err := marshalJSON(item.RelatedStories)
	if err != nil {
		return fmt.Errorf("failed to marshal related stories: %w", err)
	}

	query := `
		INSERT OR IGNORE INTO queue_items (
			identifier, raw_text, source_url, image_url, media,
			related_stories, source_label, author_name, author_handle,
			enqueued_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		item.Identifier,
		item.RawText,
		nullable(item.SourceURL),
		nullable(item.ImageURL),
		mediaJSON,
		storiesJSON,
		item.SourceLabel,
		item.AuthorName,
		item.AuthorHandle,
		item.EnqueuedAt.Truncate(0).Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue item: %w", err)
	}

	return nil
}

// EnqueueAll enqueues a batch of items, returning the count attempted
// successfully. A failure on one item does not abort the rest.
func (s *Store) EnqueueAll(items []Item) (int, error) {
	var queued int
	var firstErr error
	for _, item := range items {
		if err := s.Enqueue(item); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		queued++
	}
	return queued, firstErr
}

// OldestBatch returns up to n items in FIFO order (oldest enqueued_at
// first).
func (s *Store) OldestBatch(n int) ([]Item, error) {
	query := `
		SELECT identifier, raw_text, source_url, image_url, media,
		       related_stories, source_label, author_name, author_handle,
		       enqueued_at
		FROM queue_items
		ORDER BY enqueued_at ASC
		LIMIT ?
	`

	rows, err := s.db.Query(query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// List returns all queue items in FIFO order, for the dashboard.
func (s *Store) List() ([]Item, error) {
	query := `
		SELECT identifier, raw_text, source_url, image_url, media,
		       related_stories, source_label, author_name, author_handle,
		       enqueued_at
		FROM queue_items
		ORDER BY enqueued_at ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Delete removes an item from the backlog.
func (s *Store) Delete(identifier string) error {
	result, err := s.db.Exec("DELETE FROM queue_items WHERE identifier = ?", identifier)
	if err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrItemNotFound
	}

	return nil
}

// Exists reports whether an item with the given identifier is queued.
func (s *Store) Exists(identifier string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM queue_items WHERE identifier = ?)",
		identifier,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check queue item: %w", err)
	}
	return exists, nil
}

// Count returns the number of queued items.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM queue_items").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return count, nil
}

// URLs returns the non-empty source URLs of every queued item, used to seed
// the fetchers' dedup sets.
func (s *Store) URLs() ([]string, error) {
	rows, err := s.db.Query("SELECT source_url FROM queue_items WHERE source_url IS NOT NULL AND source_url != ''")
	if err != nil {
		return nil, fmt.Errorf("failed to query queue URLs: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan queue URL: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// Titles returns the raw text of every queued item, used by the feed
// fetcher's fuzzy title comparison. For feed-sourced items the raw text is
// the entry title.
func (s *Store) Titles() ([]string, error) {
	rows, err := s.db.Query("SELECT raw_text FROM queue_items WHERE raw_text != ''")
	if err != nil {
		return nil, fmt.Errorf("failed to query queue titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("failed to scan queue title: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// scanItems reads queue items out of a result set. Shared between
// OldestBatch and List.
func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var item Item
		var sourceURL, imageURL, mediaJSON, storiesJSON, authorName, authorHandle sql.NullString
		var enqueuedAtStr string

		err := rows.Scan(
			&item.Identifier, &item.RawText, &sourceURL, &imageURL,
			&mediaJSON, &storiesJSON, &item.SourceLabel,
			&authorName, &authorHandle, &enqueuedAtStr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}

		item.SourceURL = sourceURL.String
		item.ImageURL = imageURL.String
		item.AuthorName = authorName.String
		item.AuthorHandle = authorHandle.String
		item.EnqueuedAt = parseTime(enqueuedAtStr)

		if mediaJSON.Valid && mediaJSON.String != "" {
			if err := json.Unmarshal([]byte(mediaJSON.String), &item.Media); err != nil {
				return nil, fmt.Errorf("failed to unmarshal media: %w", err)
			}
		}
		if storiesJSON.Valid && storiesJSON.String != "" {
			if err := json.Unmarshal([]byte(storiesJSON.String), &item.RelatedStories); err != nil {
				return nil, fmt.Errorf("failed to unmarshal related stories: %w", err)
			}
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

// marshalJSON serializes a slice to JSON, storing NULL for empty slices.
func marshalJSON(v any) (any, error) {
	switch val := v.(type) {
	case []media.Attachment:
		if len(val) == 0 {
			return nil, nil
		}
	case []media.RelatedStory:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// nullable converts an empty string to NULL for storage.
func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// parseTime parses a stored RFC3339 timestamp, stripping the monotonic
// clock for consistent comparisons.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}
