package fetch

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/teluguwire/posts"
	"github.com/pevans/teluguwire/queue"
	"github.com/pevans/teluguwire/sources"
)

// Test helper: stores and registry backed by one temp database
type fixture struct {
	posts    *posts.Store
	queue    *queue.Store
	sources  *sources.Store
	registry *sources.Registry
}

func newFixture(t *testing.T) *fixture {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	postStore, err := posts.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { postStore.Close() })

	queueStore, err := queue.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { queueStore.Close() })

	sourceStore, err := sources.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { sourceStore.Close() })

	return &fixture{
		posts:    postStore,
		queue:    queueStore,
		sources:  sourceStore,
		registry: sources.NewRegistry(sourceStore),
	}
}

func (f *fixture) addFeed(t *testing.T, name, url string) {
	_, err := f.sources.Create(sources.KindRSS, name, url)
	require.NoError(t, err)
	f.registry.Reload()
}

// Test helper: a fake feed parser serving canned feeds by URL
func fakeParser(feeds map[string]*gofeed.Feed) func(context.Context, string) (*gofeed.Feed, error) {
	return func(ctx context.Context, url string) (*gofeed.Feed, error) {
		feed, ok := feeds[url]
		if !ok {
			return nil, fmt.Errorf("feed unreachable: %s", url)
		}
		return feed, nil
	}
}

func feedWith(entries ...*gofeed.Item) *gofeed.Feed {
	return &gofeed.Feed{Items: entries}
}

func entry(title, link string) *gofeed.Item {
	return &gofeed.Item{Title: title, Link: link}
}

func TestFeedFetcher_QueuesNewEntries(t *testing.T) {
	fx := newFixture(t)
	fx.addFeed(t, "Eenadu", "https://feed/a")

	fetcher := NewFeedFetcher(fx.registry, fx.posts, fx.queue)
	fetcher.parse = fakeParser(map[string]*gofeed.Feed{
		"https://feed/a": feedWith(
			entry("CM announces new irrigation project", "https://example.com/story-1"),
			entry("Film star injured on set in Hyderabad", "https://example.com/story-2"),
		),
	})

	queued, err := fetcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	items, err := fx.queue.List()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Eenadu", items[0].SourceLabel)
}

// TestFeedFetcher_SkipsRecentPostURLs verifies the normalized-URL dedup
// against recently published posts
func TestFeedFetcher_SkipsRecentPostURLs(t *testing.T) {
	fx := newFixture(t)
	fx.addFeed(t, "Eenadu", "https://feed/a")

	require.NoError(t, fx.posts.Create(&posts.Post{
		ID:    100000001,
		Title: "Already published completely different headline",
		Summary: "s",
		URL:   "https://example.com/story-1",
	}))

	fetcher := NewFeedFetcher(fx.registry, fx.posts, fx.queue)
	fetcher.parse = fakeParser(map[string]*gofeed.Feed{
		"https://feed/a": feedWith(
			// Same story, republished with tracking params and a slash
			entry("Fresh unrelated wording for this entry", "https://example.com/story-1/?utm_source=rss"),
		),
	})

	queued, err := fetcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, queued)
}

// TestFeedFetcher_SimilarTitlesAcrossFeedsWithinCycle verifies that given
// two entries with high title similarity across different sources, only the
// first in fetch order is enqueued
func TestFeedFetcher_SimilarTitlesAcrossFeedsWithinCycle(t *testing.T) {
	fx := newFixture(t)
	// addFeed ordering: registry lists newest first, so add second feed first
	fx.addFeed(t, "Sakshi", "https://feed/b")
	fx.addFeed(t, "Eenadu", "https://feed/a")

	fetcher := NewFeedFetcher(fx.registry, fx.posts, fx.queue)
	fetcher.parse = fakeParser(map[string]*gofeed.Feed{
		"https://feed/a": feedWith(
			entry("Chief Minister announces major irrigation project in Telangana", "https://eenadu.net/cm-project"),
		),
		"https://feed/b": feedWith(
			entry("Chief Minister announces major irrigation project for Telangana state", "https://sakshi.com/cm-project-news"),
		),
	})

	queued, err := fetcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queued, "second near-duplicate skipped in the same cycle")

	items, err := fx.queue.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Eenadu", items[0].SourceLabel, "first in fetch order wins")
}

// TestFeedFetcher_ConcurrentRunReturnsZero verifies the per-process
// mutual-exclusion guard
func TestFeedFetcher_ConcurrentRunReturnsZero(t *testing.T) {
	fx := newFixture(t)
	fx.addFeed(t, "Eenadu", "https://feed/a")

	fetcher := NewFeedFetcher(fx.registry, fx.posts, fx.queue)
	fetcher.parse = fakeParser(map[string]*gofeed.Feed{
		"https://feed/a": feedWith(entry("Some headline for the backlog", "https://example.com/s1")),
	})

	// Simulate an in-flight cycle
	fetcher.mu.Lock()
	queued, err := fetcher.Run(context.Background())
	fetcher.mu.Unlock()

	require.NoError(t, err)
	assert.Equal(t, 0, queued)

	count, err := fx.queue.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count, "backlog unchanged")
}

// TestFeedFetcher_BrokenFeedIsolated verifies one unreachable feed does not
// abort the cycle for the others
func TestFeedFetcher_BrokenFeedIsolated(t *testing.T) {
	fx := newFixture(t)
	fx.addFeed(t, "Working", "https://feed/ok")
	fx.addFeed(t, "Broken", "https://feed/broken")

	fetcher := NewFeedFetcher(fx.registry, fx.posts, fx.queue)
	fetcher.parse = fakeParser(map[string]*gofeed.Feed{
		"https://feed/ok": feedWith(entry("Healthy feed headline text", "https://example.com/ok-1")),
		// https://feed/broken absent -> parse error
	})

	queued, err := fetcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
}

// TestFeedFetcher_TakesOnlyMostRecent verifies the per-feed entry cap
func TestFeedFetcher_TakesOnlyMostRecent(t *testing.T) {
	fx := newFixture(t)
	fx.addFeed(t, "Busy", "https://feed/busy")

	var entries []*gofeed.Item
	for i := 0; i < 10; i++ {
		entries = append(entries, entry(
			fmt.Sprintf("Completely distinct headline number %d about topic %d", i, i*7),
			fmt.Sprintf("https://example.com/busy-%d", i),
		))
	}

	fetcher := NewFeedFetcher(fx.registry, fx.posts, fx.queue)
	fetcher.similarityThreshold = 1.01 // isolate the cap from fuzzy dedup
	fetcher.parse = fakeParser(map[string]*gofeed.Feed{
		"https://feed/busy": feedWith(entries...),
	})

	queued, err := fetcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxPerFeed, queued)
}

func TestMostSimilar(t *testing.T) {
	titles := []string{"Chief Minister opens new bridge in Hyderabad"}

	high := MostSimilar("Chief Minister opens a new bridge in Hyderabad today", titles)
	assert.GreaterOrEqual(t, high, 0.65)

	low := MostSimilar("Cricket team wins series against Australia", titles)
	assert.Less(t, low, 0.65)

	assert.Equal(t, 0.0, MostSimilar("anything", nil))
}
