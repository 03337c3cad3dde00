// Package fetch implements the two ingestion paths that feed the queue: the
// RSS feed fetcher and the social timeline fetcher. Both reload the source
// registry at the top of each cycle, dedupe against recent posts and the
// current backlog, and isolate per-source failures so one broken origin
// never aborts the cycle for the rest.
package fetch

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/pevans/teluguwire/normalizer"
	"github.com/pevans/teluguwire/posts"
	"github.com/pevans/teluguwire/queue"
	"github.com/pevans/teluguwire/sources"
)

// Defaults for the feed fetcher's dedup behavior.
const (
	DefaultMaxPerFeed          = 5
	DefaultRecentWindow        = 72 * time.Hour
	DefaultSimilarityThreshold = 0.65
)

// FeedFetcher pulls recent entries from each registered RSS source and
// enqueues the ones that survive URL and title dedup. At most one cycle runs
// at a time per process; a concurrent invocation observes the lock and
// returns immediately having queued nothing.
type FeedFetcher struct {
	registry *sources.Registry
	posts    *posts.Store
	queue    *queue.Store

	// parse is swappable for tests; defaults to gofeed.
	parse func(ctx context.Context, url string) (*gofeed.Feed, error)

	maxPerFeed          int
	recentWindow        time.Duration
	similarityThreshold float64

	mu sync.Mutex
}

// Option configures a FeedFetcher.
type Option func(*FeedFetcher)

// WithRecentWindow overrides how far back published posts are considered
// for dedup.
func WithRecentWindow(window time.Duration) Option {
	return func(f *FeedFetcher) {
		if window > 0 {
			f.recentWindow = window
		}
	}
}

// WithSimilarityThreshold overrides the title-similarity cutoff above which
// an entry counts as a duplicate.
func WithSimilarityThreshold(threshold float64) Option {
	return func(f *FeedFetcher) {
		if threshold > 0 && threshold <= 1 {
			f.similarityThreshold = threshold
		}
	}
}

// NewFeedFetcher creates a feed fetcher with default dedup settings.
func NewFeedFetcher(registry *sources.Registry, postStore *posts.Store, queueStore *queue.Store, opts ...Option) *FeedFetcher {
	parser := gofeed.NewParser()
	f := &FeedFetcher{
		registry:            registry,
		posts:               postStore,
		queue:               queueStore,
		parse: func(ctx context.Context, url string) (*gofeed.Feed, error) {
			return parser.ParseURLWithContext(url, ctx)
		},
		maxPerFeed:          DefaultMaxPerFeed,
		recentWindow:        DefaultRecentWindow,
		similarityThreshold: DefaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run executes one fetch cycle and returns the number of items queued. If a
// cycle is already in flight it returns (0, nil) without touching the queue.
func (f *FeedFetcher) Run(ctx context.Context) (int, error) {
	if !f.mu.TryLock() {
		log.Printf("feed fetch: cycle already running, skipping")
		return 0, nil
	}
	defer f.mu.Unlock()

	f.registry.Reload()

	seen, err := f.seedDedupState()
	if err != nil {
		return 0, err
	}

	var queued int
	for _, source := range f.registry.Feeds() {
		n, err := f.fetchOne(ctx, source, seen)
		if err != nil {
			log.Printf("feed fetch: %s: %v", source.Name, err)
			continue
		}
		queued += n
	}

	return queued, nil
}

// dedupState carries the comparison sets through one fetch cycle. Items
// queued during the cycle are added to both sets, so near-duplicate entries
// across different feeds within the same run are caught.
type dedupState struct {
	urls   map[string]bool
	titles []string
}

// seedDedupState builds the comparison sets from recent posts and the
// current backlog: normalized URLs and titles.
func (f *FeedFetcher) seedDedupState() (*dedupState, error) {
	since := time.Now().Add(-f.recentWindow)

	seen := &dedupState{urls: make(map[string]bool)}

	postURLs, err := f.posts.RecentURLs(since)
	if err != nil {
		return nil, err
	}
	for _, u := range postURLs {
		seen.urls[normalizer.NormalizeURL(u)] = true
	}

	queueURLs, err := f.queue.URLs()
	if err != nil {
		return nil, err
	}
	for _, u := range queueURLs {
		seen.urls[normalizer.NormalizeURL(u)] = true
	}

	postTitles, err := f.posts.RecentTitles(since)
	if err != nil {
		return nil, err
	}
	seen.titles = append(seen.titles, postTitles...)

	queueTitles, err := f.queue.Titles()
	if err != nil {
		return nil, err
	}
	// Queue raw text may carry a description below the title line.
	for _, t := range queueTitles {
		seen.titles = append(seen.titles, firstLine(t))
	}

	return seen, nil
}

// fetchOne processes a single feed, updating the dedup state as items are
// queued.
func (f *FeedFetcher) fetchOne(ctx context.Context, source sources.Source, seen *dedupState) (int, error) {
	feed, err := f.parse(ctx, source.URL)
	if err != nil {
		return 0, err
	}

	entries := feed.Items
	if len(entries) > f.maxPerFeed {
		entries = entries[:f.maxPerFeed]
	}

	var queued int
	for _, entry := range entries {
		if entry.Link == "" || entry.Title == "" {
			continue
		}

		link := normalizer.NormalizeURL(entry.Link)
		if seen.urls[link] {
			continue
		}

		if MostSimilar(entry.Title, seen.titles) >= f.similarityThreshold {
			continue
		}

		item := queue.Item{
			Identifier:  uuid.New().String(),
			RawText:     entryText(entry),
			SourceURL:   link,
			SourceLabel: source.Name,
		}
		if entry.Image != nil {
			item.ImageURL = entry.Image.URL
		}

		if err := f.queue.Enqueue(item); err != nil {
			log.Printf("feed fetch: enqueue %s: %v", link, err)
			continue
		}

		seen.urls[link] = true
		seen.titles = append(seen.titles, entry.Title)
		queued++
	}

	return queued, nil
}

// entryText builds the raw text for a feed entry: the title, with the
// description below it when present.
func entryText(entry *gofeed.Item) string {
	if entry.Description == "" {
		return entry.Title
	}
	return entry.Title + "\n\n" + entry.Description
}

// MostSimilar returns the highest Sorensen-Dice similarity (0-1) between the
// candidate title and any existing title. Comparison is case-insensitive.
func MostSimilar(title string, titles []string) float64 {
	metric := metrics.NewSorensenDice()
	needle := strings.ToLower(title)

	var best float64
	for _, t := range titles {
		if score := strutil.Similarity(needle, strings.ToLower(t), metric); score > best {
			best = score
		}
	}
	return best
}

// firstLine returns the text up to the first newline.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
