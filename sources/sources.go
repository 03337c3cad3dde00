// Package sources manages the registered origins the fetchers poll: RSS
// feeds and Twitter handles. It holds both the persistent store and the
// in-memory registry the fetchers read from.
package sources

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for source operations
var (
	ErrSourceNotFound    = errors.New("source not found")
	ErrDuplicateSource   = errors.New("source with this URL or handle already exists")
	ErrInvalidSourceKind = errors.New("kind must be rss or twitter")
)

// Source kinds
const (
	KindRSS     = "rss"
	KindTwitter = "twitter"
)

// Source represents a registered origin: an RSS feed (URL) or a Twitter
// handle. Exactly one of URL/Handle is meaningful depending on Kind.
type Source struct {
	ID      uuid.UUID `json:"id"`
	Kind    string    `json:"kind"`
	Name    string    `json:"name"`
	URL     string    `json:"url,omitempty"`
	Handle  string    `json:"handle,omitempty"`
	Active  bool      `json:"active"`
	AddedAt time.Time `json:"added_at"`
}

// SourceUpdate represents fields that can be updated on a source.
type SourceUpdate struct {
	Name   *string
	URL    *string
	Handle *string
	Active *bool
}

// SourceFilter represents filtering options for listing sources.
type SourceFilter struct {
	Kind   *string
	Active *bool
}

// Store manages source records using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a new source store with the given database path.
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

// initSchema creates the sources table if it doesn't exist. The locator
// column holds the feed URL or the handle, unique per kind.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		locator TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		added_at TEXT NOT NULL,
		UNIQUE (kind, locator)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create registers a new source. For RSS sources the locator is the feed
// URL; for Twitter sources it is the handle (stored without a leading @).
func (s *Store) Create(kind, name, locator string) (*Source, error) {
	if kind != KindRSS && kind != KindTwitter {
		return nil, ErrInvalidSourceKind
	}
	locator = strings.TrimSpace(locator)
	if kind == KindTwitter {
		locator = strings.TrimPrefix(locator, "@")
	}
	if locator == "" {
		return nil, errors.New("source requires a URL or handle")
	}

	source := &Source{
		ID:      uuid.New(),
		Kind:    kind,
		Name:    name,
		Active:  true,
		AddedAt: time.Now(),
	}
	if kind == KindRSS {
		source.URL = locator
	} else {
		source.Handle = locator
	}

	query := `
		INSERT INTO sources (id, kind, name, locator, active, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		source.ID.String(),
		source.Kind,
		source.Name,
		locator,
		source.Active,
		source.AddedAt.Truncate(0).Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") ||
			strings.Contains(err.Error(), "unique constraint") {
			return nil, ErrDuplicateSource
		}
		return nil, fmt.Errorf("failed to insert source: %w", err)
	}

	return source, nil
}

// Get retrieves a source by ID.
func (s *Store) Get(id uuid.UUID) (*Source, error) {
	row := s.db.QueryRow(
		"SELECT id, kind, name, locator, active, added_at FROM sources WHERE id = ?",
		id.String(),
	)

	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query source: %w", err)
	}
	return source, nil
}

// List lists sources with optional filtering, newest first.
func (s *Store) List(filter SourceFilter) ([]Source, error) {
	query := "SELECT id, kind, name, locator, active, added_at FROM sources"

	var whereClauses []string
	var args []any

	if filter.Kind != nil {
		whereClauses = append(whereClauses, "kind = ?")
		args = append(args, *filter.Kind)
	}
	if filter.Active != nil {
		whereClauses = append(whereClauses, "active = ?")
		args = append(args, *filter.Active)
	}

	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY added_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var result []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		result = append(result, *source)
	}
	return result, rows.Err()
}

// Update updates a source with the provided fields.
func (s *Store) Update(id uuid.UUID, update SourceUpdate) error {
	var setClauses []string
	var args []any

	if update.Name != nil {
		setClauses = append(setClauses, "name = ?")
		args = append(args, *update.Name)
	}
	if update.URL != nil {
		setClauses = append(setClauses, "locator = ?")
		args = append(args, *update.URL)
	} else if update.Handle != nil {
		setClauses = append(setClauses, "locator = ?")
		args = append(args, strings.TrimPrefix(*update.Handle, "@"))
	}
	if update.Active != nil {
		setClauses = append(setClauses, "active = ?")
		args = append(args, *update.Active)
	}

	if len(setClauses) == 0 {
		return nil
	}

	args = append(args, id.String())
	query := fmt.Sprintf("UPDATE sources SET %s WHERE id = ?", strings.Join(setClauses, ", "))

	result, err := s.db.Exec(query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") ||
			strings.Contains(err.Error(), "unique constraint") {
			return ErrDuplicateSource
		}
		return fmt.Errorf("failed to update source: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSourceNotFound
	}

	return nil
}

// Delete removes a source.
func (s *Store) Delete(id uuid.UUID) error {
	result, err := s.db.Exec("DELETE FROM sources WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSourceNotFound
	}

	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSource parses a SQL row into a Source.
func scanSource(row rowScanner) (*Source, error) {
	var source Source
	var idStr, locator, addedAtStr string

	if err := row.Scan(&idStr, &source.Kind, &source.Name, &locator, &source.Active, &addedAtStr); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source ID: %w", err)
	}
	source.ID = id

	if source.Kind == KindRSS {
		source.URL = locator
	} else {
		source.Handle = locator
	}

	t, err := time.Parse(time.RFC3339Nano, addedAtStr)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, addedAtStr)
	}
	source.AddedAt = t.Truncate(0)

	return &source, nil
}
