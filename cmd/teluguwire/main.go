// Command teluguwire runs the full pipeline in one process: the dashboard
// HTTP API plus three cron-scheduled activities (feed fetch, social fetch,
// queue drain).
package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/pevans/teluguwire/api"
	"github.com/pevans/teluguwire/config"
	"github.com/pevans/teluguwire/fetch"
	"github.com/pevans/teluguwire/posts"
	"github.com/pevans/teluguwire/queue"
	"github.com/pevans/teluguwire/rewrite"
	"github.com/pevans/teluguwire/scraper"
	"github.com/pevans/teluguwire/sources"
	"github.com/pevans/teluguwire/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	log.Printf("Starting teluguwire: %s", cfg)

	// All three stores share one SQLite file.
	postStore, err := posts.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to create post store: %v", err)
	}
	defer postStore.Close()

	queueStore, err := queue.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to create queue store: %v", err)
	}
	defer queueStore.Close()

	sourceStore, err := sources.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to create source store: %v", err)
	}
	defer sourceStore.Close()

	registry := sources.NewRegistry(sourceStore)
	registry.Reload()

	pageScraper := scraper.New()
	engine := rewrite.NewGeminiEngine(cfg.GeminiAPIKey, cfg.GeminiModel, pageScraper)

	feedFetcher := fetch.NewFeedFetcher(registry, postStore, queueStore,
		fetch.WithRecentWindow(cfg.RecentWindow),
		fetch.WithSimilarityThreshold(cfg.SimilarityThreshold),
	)

	socialClient := fetch.NewHTTPSocialClient(cfg.SocialAPIBase, cfg.SocialAPIKey)
	socialFetcher := fetch.NewSocialFetcher(registry, postStore, queueStore, socialClient)

	drainWorker := worker.New(queueStore, postStore, engine,
		worker.WithBatchSize(cfg.BatchSize),
		worker.WithItemDelay(cfg.ItemDelay),
		worker.WithStrictURLMatch(cfg.StrictURLMatch),
	)

	scheduler := cron.New()
	mustSchedule(scheduler, cfg.FeedCron, "feed fetch", func() {
		queued, err := feedFetcher.Run(context.Background())
		if err != nil {
			log.Printf("Feed fetch cycle failed: %v", err)
			return
		}
		log.Printf("Feed fetch cycle queued %d entries", queued)
	})
	mustSchedule(scheduler, cfg.SocialCron, "social fetch", func() {
		queued := socialFetcher.Run(context.Background())
		log.Printf("Social fetch cycle queued %d posts", queued)
	})
	mustSchedule(scheduler, cfg.DrainCron, "queue drain", func() {
		summary := drainWorker.Drain(context.Background())
		if summary.Processed > 0 {
			log.Printf("Drain: processed=%d published=%d duplicates=%d failed=%d",
				summary.Processed, summary.Published, summary.Duplicates, summary.Failed)
		}
	})
	scheduler.Start()
	defer scheduler.Stop()

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), api.CORSMiddleware())

	apiGroup := router.Group("/api")
	api.NewServer(postStore, queueStore, feedFetcher, socialFetcher).RegisterRoutes(apiGroup)
	sources.NewAPIServer(sourceStore, registry).RegisterRoutes(apiGroup)

	log.Printf("Listening on %s", cfg.ListenAddr)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// mustSchedule registers a cron job or exits; a bad schedule is a
// configuration error.
func mustSchedule(scheduler *cron.Cron, spec, name string, job func()) {
	if _, err := scheduler.AddFunc(spec, job); err != nil {
		log.Fatalf("Invalid %s schedule %q: %v", name, spec, err)
	}
}
