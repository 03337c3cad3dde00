package scraper

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: parse an HTML string into a goquery document
func parseHTML(t *testing.T, html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

const longSentence = "This is a long enough paragraph of actual article body content that easily clears the minimum length filter used by the scraper."

func TestScrapable_SkipsSocialDomains(t *testing.T) {
	assert.False(t, Scrapable("https://twitter.com/user/status/123"))
	assert.False(t, Scrapable("https://x.com/user/status/123"))
	assert.False(t, Scrapable("https://www.facebook.com/post/1"))
	assert.False(t, Scrapable("https://m.youtube.com/watch?v=x"))
	assert.True(t, Scrapable("https://www.eenadu.net/telangana/story"))
}

// TestExtractText_PrefersArticleContainer verifies container selectors win
// over stray paragraphs
func TestExtractText_PrefersArticleContainer(t *testing.T) {
	doc := parseHTML(t, `
		<html><body>
		<nav>Home News Sports</nav>
		<p>`+longSentence+` Outside the article.</p>
		<article><p>`+longSentence+`</p></article>
		<footer>Copyright</footer>
		</body></html>`)

	text := ExtractText(doc)
	assert.Contains(t, text, "article body content")
	assert.NotContains(t, text, "Outside the article")
	assert.NotContains(t, text, "Home News Sports", "nav chrome stripped")
	assert.NotContains(t, text, "Copyright")
}

// TestExtractText_ParagraphFallback verifies paragraph collection when no
// container matches
func TestExtractText_ParagraphFallback(t *testing.T) {
	doc := parseHTML(t, `
		<html><body>
		<div><p>`+longSentence+`</p></div>
		<div><p>short</p></div>
		<div><p>`+longSentence+` Second block.</p></div>
		</body></html>`)

	text := ExtractText(doc)
	assert.Contains(t, text, "Second block")
	assert.NotContains(t, text, "short\n", "short blocks filtered out")
}

func TestExtractText_StripsScriptsAndStyles(t *testing.T) {
	doc := parseHTML(t, `
		<html><body>
		<article>
		<script>var tracking = true;</script>
		<style>.x { color: red }</style>
		<p>`+longSentence+`</p>
		</article>
		</body></html>`)

	text := ExtractText(doc)
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "color: red")
}

func TestExtractText_TruncatesLongContent(t *testing.T) {
	body := strings.Repeat(longSentence+" ", 100)
	doc := parseHTML(t, "<html><body><article><p>"+body+"</p></article></body></html>")

	text := ExtractText(doc)
	assert.LessOrEqual(t, len(text), MaxContentLength)
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	// Telugu characters are three bytes each; with MaxContentLength not a
	// multiple of three, a byte-exact cut would land mid-rune.
	body := strings.Repeat("త", MaxContentLength)

	text := truncate(body)
	assert.LessOrEqual(t, len(text), MaxContentLength)
	assert.True(t, utf8.ValidString(text), "truncation must not split a rune")
	assert.Equal(t, MaxContentLength/3, utf8.RuneCountInString(text))
}

func TestFetch_ReturnsTextFromServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><article><p>" + longSentence + "</p></article></body></html>"))
	}))
	defer server.Close()

	s := New()
	text := s.Fetch(server.URL + "/story")
	assert.Contains(t, text, "article body content")
}

// TestFetch_FailsOpen verifies every failure mode yields ""
func TestFetch_FailsOpen(t *testing.T) {
	s := New()

	// Server error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	assert.Equal(t, "", s.Fetch(server.URL))

	// Unreachable host
	assert.Equal(t, "", s.Fetch("http://127.0.0.1:1/nothing"))

	// Skipped domain
	assert.Equal(t, "", s.Fetch("https://twitter.com/user/status/1"))

	// Garbage URL
	assert.Equal(t, "", s.Fetch("http://exa mple.com/%zz"))
}
