// Package scraper extracts best-effort plain text from arbitrary news pages.
// The extracted text is only enrichment context for the rewrite engine, so
// every failure mode -- network error, timeout, unparseable HTML, blocked
// domain -- yields an empty string rather than an error the caller has to
// handle.
package scraper

import (
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// MaxContentLength caps the extracted text passed to the rewrite engine.
const MaxContentLength = 4000

// minParagraphLength filters out nav crumbs and bylines during the
// paragraph fallback.
const minParagraphLength = 60

// skipDomains are platforms that either block scraping or carry no article
// body worth extracting.
var skipDomains = []string{
	"twitter.com",
	"x.com",
	"facebook.com",
	"instagram.com",
	"youtube.com",
	"youtu.be",
}

// containerSelectors is the prioritized list of content containers tried
// before falling back to paragraph collection.
var containerSelectors = []string{
	"article",
	"[itemprop=articleBody]",
	".article-content",
	".story-content",
	".entry-content",
	".post-content",
	".article-body",
	"main",
}

// Scraper fetches and extracts article text.
type Scraper struct {
	client *http.Client
}

// New creates a scraper with a short fixed timeout. Scrape calls fail open
// past it.
func New() *Scraper {
	return &Scraper{
		client: &http.Client{Timeout: 8 * time.Second},
	}
}

// Fetch returns best-effort extracted plain text for the given URL, or ""
// when the page cannot be fetched or yields no usable content.
func (s *Scraper) Fetch(rawURL string) string {
	if !Scrapable(rawURL) {
		return ""
	}

	req, err := http.NewRequest("GET", rawURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "teluguwire/1.0 (news aggregator)")

	resp, err := s.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}

	return ExtractText(doc)
}

// Scrapable reports whether the URL points at a domain worth scraping.
func Scrapable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, domain := range skipDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return false
		}
	}
	return true
}

// ExtractText pulls article text from a parsed document. It strips
// script/style/chrome elements, tries the prioritized container selectors,
// and falls back to collecting paragraph blocks above a minimum length.
// Output is whitespace-normalized and truncated to MaxContentLength.
func ExtractText(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside, noscript, iframe, .ad, .ads, .advertisement, .social-share").Remove()

	for _, selector := range containerSelectors {
		container := doc.Find(selector).First()
		if container.Length() == 0 {
			continue
		}
		text := normalize(container.Text())
		if len(text) >= minParagraphLength {
			return truncate(text)
		}
	}

	// No container matched; collect substantial paragraphs instead.
	var parts []string
	doc.Find("p").Each(func(i int, sel *goquery.Selection) {
		text := normalize(sel.Text())
		if len(text) >= minParagraphLength {
			parts = append(parts, text)
		}
	})

	return truncate(strings.Join(parts, "\n"))
}

// normalize collapses runs of whitespace into single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate caps s at MaxContentLength bytes without splitting a multi-byte
// rune; Telugu text is three bytes per character, so a naive byte slice
// would mangle the trailing one.
func truncate(s string) string {
	if len(s) <= MaxContentLength {
		return s
	}
	cut := MaxContentLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
