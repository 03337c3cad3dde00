// Package worker implements the scheduled drain loop that turns queued
// candidates into published posts. Each run pulls a small bounded batch in
// FIFO order and walks every item through last-mile dedup, rewrite, and
// publish. Whatever the outcome -- published, duplicate, or failed -- the
// item is deleted from the queue: the backlog never retains an item past one
// processing attempt, trading completeness for forward progress.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/pevans/teluguwire/media"
	"github.com/pevans/teluguwire/normalizer"
	"github.com/pevans/teluguwire/posts"
	"github.com/pevans/teluguwire/queue"
	"github.com/pevans/teluguwire/rewrite"
)

// Defaults for the drain loop.
const (
	DefaultBatchSize = 3
	DefaultItemDelay = 5 * time.Second

	// FallbackImageSlug is used when neither the rewrite engine nor the
	// source URL yields a usable image-search keyword.
	FallbackImageSlug = "latest-telugu-news"

	// minSlugLength is the shortest engine-provided slug worth keeping.
	minSlugLength = 3
)

// Summary reports what one drain run did.
type Summary struct {
	Processed  int `json:"processed"`
	Published  int `json:"published"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Worker drains the ingestion queue on a schedule.
type Worker struct {
	queue  *queue.Store
	posts  *posts.Store
	engine rewrite.Engine

	batchSize      int
	itemDelay      time.Duration
	strictURLMatch bool

	mu sync.Mutex
}

// Option configures a Worker.
type Option func(*Worker)

// WithBatchSize overrides the per-run batch size.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithItemDelay overrides the fixed delay between items. Zero disables the
// throttle (used in tests).
func WithItemDelay(d time.Duration) Option {
	return func(w *Worker) { w.itemDelay = d }
}

// WithStrictURLMatch switches the last-mile URL dedup from containment to
// exact matching.
func WithStrictURLMatch(strict bool) Option {
	return func(w *Worker) { w.strictURLMatch = strict }
}

// New creates a worker with default batch size and item delay.
func New(queueStore *queue.Store, postStore *posts.Store, engine rewrite.Engine, opts ...Option) *Worker {
	w := &Worker{
		queue:     queueStore,
		posts:     postStore,
		engine:    engine,
		batchSize: DefaultBatchSize,
		itemDelay: DefaultItemDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Drain processes up to one batch from the queue, oldest first, sequentially
// with a fixed inter-item delay to respect external rate limits. Overlapping
// invocations are rejected: a second caller gets an empty summary while the
// first run is in flight. Per-item failures (including panics) are logged
// and processing continues with the next item.
func (w *Worker) Drain(ctx context.Context) Summary {
	var summary Summary

	if !w.mu.TryLock() {
		log.Printf("worker: drain already running, skipping")
		return summary
	}
	defer w.mu.Unlock()

	batch, err := w.queue.OldestBatch(w.batchSize)
	if err != nil {
		log.Printf("worker: failed to read batch: %v", err)
		return summary
	}

	for i, item := range batch {
		if i > 0 && w.itemDelay > 0 {
			time.Sleep(w.itemDelay)
		}

		summary.Processed++
		switch w.safeProcess(ctx, item) {
		case outcomePublished:
			summary.Published++
		case outcomeDuplicate:
			summary.Duplicates++
		case outcomeFailed:
			summary.Failed++
		}
	}

	return summary
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeDuplicate
	outcomeFailed
)

// safeProcess isolates one item's processing: a panic is logged and counted
// as a failure rather than taking down the batch or the scheduler. The item
// is deleted here no matter how processing ended -- published, duplicate,
// failed, or panicked -- so the queue never retains an item past one
// processing attempt and a poison item cannot occupy a batch slot forever.
func (w *Worker) safeProcess(ctx context.Context, item queue.Item) (result outcome) {
	defer w.remove(item.Identifier)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker: panic processing %s: %v", item.Identifier, r)
			result = outcomeFailed
		}
	}()
	return w.process(ctx, item)
}

// process walks one item through the state machine:
// DedupCheck -> {Skip | Rewrite} -> {Publish | Drop} -> Removed.
// Deletion is handled by the caller.
func (w *Worker) process(ctx context.Context, item queue.Item) outcome {
	// Last-mile dedup. It runs here again even though fetchers already
	// deduped, because the manual ingestion endpoints bypass fetcher dedup.
	if item.SourceURL != "" {
		normalized := normalizer.NormalizeURL(item.SourceURL)
		exists, err := w.posts.URLExists(normalized, w.strictURLMatch)
		if err != nil {
			log.Printf("worker: dedup check for %s, dropping: %v", item.Identifier, err)
			return outcomeFailed
		}
		if exists {
			log.Printf("worker: %s already published, skipping", normalized)
			return outcomeDuplicate
		}
	}

	card, err := w.engine.Rewrite(ctx, item.RawText, item.SourceURL)
	if err != nil || card == nil {
		// Terminal for this item: no retry, drop it so the backlog keeps
		// moving.
		log.Printf("worker: rewrite failed for %s, dropping: %v", item.Identifier, err)
		return outcomeFailed
	}

	if err := w.publish(item, card); err != nil {
		if errors.Is(err, posts.ErrDuplicatePost) {
			// The conflict proves the content already exists; dropping the
			// item is correct.
			log.Printf("worker: %s conflicts with an existing post, skipping", item.Identifier)
			return outcomeDuplicate
		}
		log.Printf("worker: publish failed for %s: %v", item.Identifier, err)
		return outcomeFailed
	}

	return outcomePublished
}

// publish maps the queue item and its rewrite card onto a new post.
func (w *Worker) publish(item queue.Item, card *rewrite.Card) error {
	imageURL := item.ImageURL
	if imageURL == "" {
		imageURL = media.FirstImage(item.Media)
	}
	videoURL := media.FirstVideo(item.Media)

	sourceType := "article"
	if videoURL != "" {
		sourceType = "video"
	}

	category := card.Category
	if category == "" {
		category = "General"
	}

	post := &posts.Post{
		ID:              normalizer.GenerateID(),
		Title:           card.Title,
		Summary:         card.Summary,
		URL:             normalizer.NormalizeURL(item.SourceURL),
		SocialID:        item.Identifier,
		ImageURL:        imageURL,
		VideoURL:        videoURL,
		ImageSearchSlug: w.imageSlug(card, item),
		Media:           item.Media,
		RelatedStories:  item.RelatedStories,
		Categories:      []string{category},
		PublishedAt:     time.Now(),
		IsPublished:     true,
		Source:          item.AuthorHandle,
		SourceType:      sourceType,
		SourceName:      item.SourceLabel,
		Language:        "te",
	}

	if tag, err := w.posts.FindOrCreateTag(category); err == nil {
		post.Tags = []string{tag.Slug}
	} else {
		log.Printf("worker: tag for %q: %v", category, err)
	}

	return w.posts.Create(post)
}

// imageSlug picks the image-search keyword: the engine's slug when it is
// long enough, else one extracted from the source URL, else the fixed
// fallback.
func (w *Worker) imageSlug(card *rewrite.Card, item queue.Item) string {
	if len(card.Slug) >= minSlugLength {
		return card.Slug
	}
	if slug := normalizer.ExtractSlug(item.SourceURL); len(slug) >= minSlugLength {
		return slug
	}
	return FallbackImageSlug
}

// remove deletes a queue item, tolerating it already being gone.
func (w *Worker) remove(identifier string) {
	if err := w.queue.Delete(identifier); err != nil && !errors.Is(err, queue.ErrItemNotFound) {
		log.Printf("worker: failed to delete %s from queue: %v", identifier, err)
	}
}
