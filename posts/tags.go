package posts

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode"
)

// Tag is a named label with a unique slug. Tags are created lazily on
// first use and never duplicated.
type Tag struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// FindOrCreateTag returns the tag with the slug derived from name, creating
// it if it does not exist yet. Repeated calls with names that slugify the
// same way return the same tag.
func (s *Store) FindOrCreateTag(name string) (*Tag, error) {
	slug := Slugify(name)
	if slug == "" {
		return nil, fmt.Errorf("tag name %q produces an empty slug", name)
	}

	var existing Tag
	err := s.db.QueryRow("SELECT name, slug FROM tags WHERE slug = ?", slug).
		Scan(&existing.Name, &existing.Slug)
	if err == nil {
		return &existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query tag: %w", err)
	}

	tag := &Tag{Name: strings.TrimSpace(name), Slug: slug}
	// INSERT OR IGNORE guards the race where two workers create the same
	// slug between the lookup above and this insert.
	if _, err := s.db.Exec("INSERT OR IGNORE INTO tags (name, slug) VALUES (?, ?)", tag.Name, tag.Slug); err != nil {
		return nil, fmt.Errorf("failed to insert tag: %w", err)
	}

	return tag, nil
}

// ListTags returns all tags ordered by slug.
func (s *Store) ListTags() ([]Tag, error) {
	rows, err := s.db.Query("SELECT name, slug FROM tags ORDER BY slug")
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.Name, &tag.Slug); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Slugify lowercases a name and collapses runs of non-alphanumeric
// characters into single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
