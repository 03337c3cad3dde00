// Package normalizer holds the pure helpers the ingestion pipeline uses to
// build dedup keys and public identifiers: URL canonicalization, slug
// extraction, and post ID generation.
package normalizer

import (
	"math/rand"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL for duplicate detection. It strips the
// query string and a single trailing slash, so two links that differ only in
// tracking parameters or a trailing slash normalize identically. If the URL
// cannot be parsed the input is returned unchanged -- this function never
// fails, because a raw string is still a usable (if weaker) dedup key.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.RawQuery = ""
	u.Fragment = ""

	normalized := u.String()
	normalized = strings.TrimSuffix(normalized, "/")

	return normalized
}

// ExtractSlug derives a keyword slug from an article URL, used as a fallback
// image-search term when the rewrite engine does not supply one. It takes
// the last path segment, skipping a purely numeric final segment (typically
// an article ID) in favor of the one before it, strips a trailing .htm/.html
// extension, replaces underscores with hyphens, and lowercases. Returns ""
// when no usable segment exists.
func ExtractSlug(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	// Walk backwards past numeric segments (article IDs)
	var slug string
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if seg == "" || isNumeric(seg) {
			continue
		}
		slug = seg
		break
	}
	if slug == "" {
		return ""
	}

	slug = strings.TrimSuffix(slug, ".html")
	slug = strings.TrimSuffix(slug, ".htm")
	slug = strings.ReplaceAll(slug, "_", "-")

	return strings.ToLower(slug)
}

// isNumeric reports whether s consists entirely of ASCII digits.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// GenerateID returns a random 9-digit identifier for a published post.
// Collisions are not checked here; the UNIQUE constraint in the post store
// is the backstop.
func GenerateID() int64 {
	return 100000000 + rand.Int63n(900000000)
}
