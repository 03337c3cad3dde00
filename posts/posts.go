// Package posts implements the content store: published posts and their
// tags, persisted in SQLite. The store enforces the publication invariants
// (no two posts share a normalized URL or a social-post identifier) through
// UNIQUE constraints, and exposes the lookup queries the dedup logic relies
// on.
package posts

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

// Custom errors for post operations
var (
	ErrPostNotFound = errors.New("post not found")

	// ErrDuplicatePost is returned when an insert trips the UNIQUE
	// constraint on url or social_id. For the publish worker the conflict
	// itself proves the content already exists, so dropping the queue item
	// is the correct response.
	ErrDuplicatePost = errors.New("post with this URL or social ID already exists")
)

// Post represents a published content record.
type Post struct {
	ID              int64                `json:"id"`
	Title           string               `json:"title"`
	Summary         string               `json:"summary"`
	URL             string               `json:"url,omitempty"`
	SocialID        string               `json:"social_id,omitempty"`
	ImageURL        string               `json:"image_url,omitempty"`
	VideoURL        string               `json:"video_url,omitempty"`
	ImageSearchSlug string               `json:"image_search_slug,omitempty"`
	Media           []media.Attachment   `json:"media,omitempty"`
	RelatedStories  []media.RelatedStory `json:"related_stories,omitempty"`
	Categories      []string             `json:"categories"`
	Tags            []string             `json:"tags,omitempty"`
	PublishedAt     time.Time            `json:"published_at"`
	IsPublished     bool                 `json:"is_published"`
	Source          string               `json:"source,omitempty"`
	SourceType      string               `json:"source_type,omitempty"`
	SourceName      string               `json:"source_name,omitempty"`
	Language        string               `json:"language"`
}

// PostUpdate represents fields that can be updated on a post.
type PostUpdate struct {
	Title       *string
	Summary     *string
	ImageURL    *string
	Categories  []string
	IsPublished *bool
}

// Store manages posts and tags using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a new post store with the given database path.
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

// initSchema creates the posts and tags tables if they don't exist. url and
// social_id are sparse uniques: SQLite permits any number of NULLs in a
// UNIQUE column, so manual posts without a URL don't collide.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		summary TEXT NOT NULL,
		url TEXT UNIQUE,
		social_id TEXT UNIQUE,
		image_url TEXT,
		video_url TEXT,
		image_search_slug TEXT,
		media TEXT,
		related_stories TEXT,
		categories TEXT NOT NULL,
		tags TEXT,
		published_at TEXT NOT NULL,
		is_published INTEGER NOT NULL DEFAULT 1,
		source TEXT,
		source_type TEXT,
		source_name TEXT,
		language TEXT NOT NULL DEFAULT 'te'
	);

	CREATE TABLE IF NOT EXISTS tags (
		name TEXT NOT NULL,
		slug TEXT PRIMARY KEY
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new post. Empty categories default to ["General"], an
// empty language defaults to "te", and a zero published_at defaults to now.
// Returns ErrDuplicatePost on a url/social_id uniqueness violation.
func (s *Store) Create(post *Post) error {
	if post.Title == "" {
		return errors.New("post requires a title")
	}
	if len(post.Categories) == 0 {
		post.Categories = []string{"General"}
	}
	if post.Language == "" {
		post.Language = "te"
	}
	if post.PublishedAt.IsZero() {
		post.PublishedAt = time.Now()
	}

	mediaJSON, err := marshalSlice(post.Media)
	if err != nil {
		return fmt.Errorf("failed to marshal media: %w", err)
	}
	storiesJSON, err := marshalSlice(post.RelatedStories)
	if err != nil {
		return fmt.Errorf("failed to marshal related stories: %w", err)
	}
	categoriesJSON, err := json.Marshal(post.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}
	tagsJSON, err := marshalSlice(post.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
		INSERT INTO posts (
			id, title, summary, url, social_id, image_url, video_url,
			image_search_slug, media, related_stories, categories, tags,
			published_at, is_published, source, source_type, source_name,
			language
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		post.ID,
		post.Title,
		post.Summary,
		nullable(post.URL),
		nullable(post.SocialID),
		nullable(post.ImageURL),
		nullable(post.VideoURL),
		nullable(post.ImageSearchSlug),
		mediaJSON,
		storiesJSON,
		string(categoriesJSON),
		tagsJSON,
		post.PublishedAt.Truncate(0).Format(time.RFC3339Nano),
		post.IsPublished,
		nullable(post.Source),
		nullable(post.SourceType),
		nullable(post.SourceName),
		post.Language,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") ||
			strings.Contains(err.Error(), "unique constraint") {
			return ErrDuplicatePost
		}
		return fmt.Errorf("failed to insert post: %w", err)
	}

	return nil
}

// Get retrieves a post by ID.
func (s *Store) Get(id int64) (*Post, error) {
	row := s.db.QueryRow(selectColumns+" FROM posts WHERE id = ?", id)
	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query post: %w", err)
	}
	return post, nil
}

// List returns posts newest first, with pagination.
func (s *Store) List(limit, offset int) ([]Post, error) {
	query := selectColumns + " FROM posts ORDER BY published_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", offset)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var result []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		result = append(result, *post)
	}
	return result, rows.Err()
}

// Update updates a post with the provided fields.
func (s *Store) Update(id int64, update PostUpdate) error {
	var setClauses []string
	var args []any

	if update.Title != nil {
		setClauses = append(setClauses, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Summary != nil {
		setClauses = append(setClauses, "summary = ?")
		args = append(args, *update.Summary)
	}
	if update.ImageURL != nil {
		setClauses = append(setClauses, "image_url = ?")
		args = append(args, nullable(*update.ImageURL))
	}
	if update.Categories != nil {
		data, err := json.Marshal(update.Categories)
		if err != nil {
			return fmt.Errorf("failed to marshal categories: %w", err)
		}
		setClauses = append(setClauses, "categories = ?")
		args = append(args, string(data))
	}
	if update.IsPublished != nil {
		setClauses = append(setClauses, "is_published = ?")
		args = append(args, *update.IsPublished)
	}

	if len(setClauses) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE posts SET %s WHERE id = ?", strings.Join(setClauses, ", "))

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPostNotFound
	}

	return nil
}

// Delete removes a post.
func (s *Store) Delete(id int64) error {
	result, err := s.db.Exec("DELETE FROM posts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPostNotFound
	}

	return nil
}

// URLExists reports whether any stored post matches the given normalized
// URL. With strict=false the match is case-insensitive containment in either
// direction, tolerating minor stored-URL formatting differences (the strict
// flag exists because containment can false-positive on URLs that are
// prefixes of one another).
func (s *Store) URLExists(normalized string, strict bool) (bool, error) {
	if normalized == "" {
		return false, nil
	}

	if strict {
		var exists bool
		err := s.db.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM posts WHERE url = ? COLLATE NOCASE)",
			normalized,
		).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("failed to check post URL: %w", err)
		}
		return exists, nil
	}

	rows, err := s.db.Query("SELECT url FROM posts WHERE url IS NOT NULL")
	if err != nil {
		return false, fmt.Errorf("failed to query post URLs: %w", err)
	}
	defer rows.Close()

	needle := strings.ToLower(normalized)
	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			return false, fmt.Errorf("failed to scan post URL: %w", err)
		}
		haystack := strings.ToLower(stored)
		if strings.Contains(haystack, needle) || strings.Contains(needle, haystack) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SocialIDExists reports whether a post already carries the given
// social-post identifier.
func (s *Store) SocialIDExists(socialID string) (bool, error) {
	if socialID == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM posts WHERE social_id = ?)",
		socialID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check social ID: %w", err)
	}
	return exists, nil
}

// RecentURLs returns the URLs of posts published since the given time, used
// to seed the feed fetcher's dedup set.
func (s *Store) RecentURLs(since time.Time) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT url FROM posts WHERE url IS NOT NULL AND published_at >= ?",
		since.Truncate(0).Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent URLs: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan URL: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// RecentTitles returns the titles of posts published since the given time,
// used by the feed fetcher's fuzzy title comparison.
func (s *Store) RecentTitles(since time.Time) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT title FROM posts WHERE published_at >= ?",
		since.Truncate(0).Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("failed to scan title: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// Stats holds dashboard aggregation counts.
type Stats struct {
	TotalPosts     int `json:"total_posts"`
	PublishedPosts int `json:"published_posts"`
	VideoPosts     int `json:"video_posts"`
}

// Stats returns aggregate counts for the dashboard.
func (s *Store) Stats() (*Stats, error) {
	var stats Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(is_published), 0),
		       COALESCE(SUM(CASE WHEN video_url IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM posts
	`).Scan(&stats.TotalPosts, &stats.PublishedPosts, &stats.VideoPosts)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	return &stats, nil
}

// selectColumns is the shared column list for post queries.
const selectColumns = `
	SELECT id, title, summary, url, social_id, image_url, video_url,
	       image_search_slug, media, related_stories, categories, tags,
	       published_at, is_published, source, source_type, source_name,
	       language`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPost parses a SQL row into a Post.
func scanPost(row rowScanner) (*Post, error) {
	var post Post
	var url, socialID, imageURL, videoURL, slug, mediaJSON, storiesJSON, tagsJSON, source, sourceType, sourceName sql.NullString
	var categoriesJSON, publishedAtStr string

	err := row.Scan(
		&post.ID, &post.Title, &post.Summary, &url, &socialID,
		&imageURL, &videoURL, &slug, &mediaJSON, &storiesJSON,
		&categoriesJSON, &tagsJSON, &publishedAtStr, &post.IsPublished,
		&source, &sourceType, &sourceName, &post.Language,
	)
	if err != nil {
		return nil, err
	}

	post.URL = url.String
	post.SocialID = socialID.String
	post.ImageURL = imageURL.String
	post.VideoURL = videoURL.String
	post.ImageSearchSlug = slug.String
	post.Source = source.String
	post.SourceType = sourceType.String
	post.SourceName = sourceName.String
	post.PublishedAt = parseTime(publishedAtStr)

	if err := json.Unmarshal([]byte(categoriesJSON), &post.Categories); err != nil {
		return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
	}
	if mediaJSON.Valid && mediaJSON.String != "" {
		if err := json.Unmarshal([]byte(mediaJSON.String), &post.Media); err != nil {
			return nil, fmt.Errorf("failed to unmarshal media: %w", err)
		}
	}
	if storiesJSON.Valid && storiesJSON.String != "" {
		if err := json.Unmarshal([]byte(storiesJSON.String), &post.RelatedStories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal related stories: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &post.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	return &post, nil
}

// marshalSlice serializes a slice to JSON, storing NULL when empty.
func marshalSlice[T any](v []T) (any, error) {
	if len(v) == 0 {
		return nil, nil
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
