// Package api exposes the dashboard HTTP surface: manual ingestion
// endpoints, fetch-cycle triggers, and read access to posts, the queue, and
// aggregate statistics.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pevans/teluguwire/media"
	"github.com/pevans/teluguwire/normalizer"
	"github.com/pevans/teluguwire/posts"
	"github.com/pevans/teluguwire/queue"
)

// FeedTrigger forces a feed fetch cycle; satisfied by fetch.FeedFetcher.
type FeedTrigger interface {
	Run(ctx context.Context) (int, error)
}

// SocialTrigger forces a social fetch cycle; satisfied by
// fetch.SocialFetcher.
type SocialTrigger interface {
	Run(ctx context.Context) int
}

// Server holds the handlers for the dashboard API.
type Server struct {
	posts  *posts.Store
	queue  *queue.Store
	feeds  FeedTrigger
	social SocialTrigger
}

// NewServer creates a dashboard API server.
func NewServer(postStore *posts.Store, queueStore *queue.Store, feeds FeedTrigger, social SocialTrigger) *Server {
	return &Server{
		posts:  postStore,
		queue:  queueStore,
		feeds:  feeds,
		social: social,
	}
}

// RegisterRoutes mounts the dashboard routes on the given router group.
func (s *Server) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/trigger-rss-fetch", s.HandleTriggerRSSFetch)
	api.GET("/trigger-auto-fetch", s.HandleTriggerAutoFetch)
	api.POST("/add-content-to-queue", s.HandleAddContent)
	api.POST("/add-rss-to-queue", s.HandleAddRSSEntries)

	api.GET("/posts", s.HandleListPosts)
	api.GET("/posts/:id", s.HandleGetPost)
	api.PUT("/posts/:id", s.HandleUpdatePost)
	api.DELETE("/posts/:id", s.HandleDeletePost)

	api.GET("/queue", s.HandleListQueue)
	api.DELETE("/queue/:id", s.HandleDeleteQueueItem)

	api.GET("/stats", s.HandleStats)
}

// CORSMiddleware adds CORS headers so the dashboard frontend can call the
// API from another origin.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// handleError maps domain errors to HTTP responses.
func (s *Server) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, posts.ErrPostNotFound), errors.Is(err, queue.ErrItemNotFound):
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, posts.ErrDuplicatePost):
		c.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

// HandleTriggerRSSFetch handles GET /api/trigger-rss-fetch. It runs a feed
// fetch cycle synchronously and reports how many entries were queued. A
// cycle already in flight reports zero queued.
func (s *Server) HandleTriggerRSSFetch(c *gin.Context) {
	queued, err := s.feeds.Run(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"queued_count": queued,
	})
}

// HandleTriggerAutoFetch handles GET /api/trigger-auto-fetch. It runs a
// social fetch cycle across all active handles.
func (s *Server) HandleTriggerAutoFetch(c *gin.Context) {
	queued := s.social.Run(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"queued_total": queued,
	})
}

// AddContentRequest represents the body for POST /api/add-content-to-queue.
type AddContentRequest struct {
	Content        string               `json:"content"`
	URL            string               `json:"url"`
	Title          string               `json:"title"`
	ImageURL       string               `json:"imageUrl"`
	Source         string               `json:"source"`
	RelatedStories []media.RelatedStory `json:"relatedStories"`
}

// HandleAddContent handles POST /api/add-content-to-queue. Manual pastes
// bypass fetcher-level dedup; the worker's last-mile URL check still runs.
func (s *Server) HandleAddContent(c *gin.Context) {
	var req AddContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
		return
	}

	if req.Content == "" && req.URL == "" {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", "content or url is required"))
		return
	}

	label := req.Source
	if label == "" {
		label = "Manual"
	}

	rawText := req.Content
	if req.Title != "" {
		rawText = req.Title + "\n\n" + req.Content
	}
	if rawText == "" {
		rawText = req.URL
	}

	item := queue.Item{
		Identifier:     uuid.New().String(),
		RawText:        rawText,
		SourceURL:      normalizer.NormalizeURL(req.URL),
		ImageURL:       req.ImageURL,
		RelatedStories: req.RelatedStories,
		SourceLabel:    label,
	}

	if err := s.queue.Enqueue(item); err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"identifier": item.Identifier,
	})
}

// RSSEntryRequest is one element of the POST /api/add-rss-to-queue body.
type RSSEntryRequest struct {
	Title          string               `json:"title"`
	URL            string               `json:"url"`
	Summary        string               `json:"summary"`
	ImageURL       string               `json:"imageUrl"`
	RelatedStories []media.RelatedStory `json:"relatedStories"`
}

// HandleAddRSSEntries handles POST /api/add-rss-to-queue: a bulk enqueue of
// externally collected feed entries. Entries missing both title and url are
// skipped rather than failing the batch.
func (s *Server) HandleAddRSSEntries(c *gin.Context) {
	var entries []RSSEntryRequest
	if err := c.ShouldBindJSON(&entries); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
		return
	}

	items := make([]queue.Item, 0, len(entries))
	for _, entry := range entries {
		if entry.Title == "" && entry.URL == "" {
			continue
		}

		rawText := entry.Title
		if entry.Summary != "" {
			rawText += "\n\n" + entry.Summary
		}

		items = append(items, queue.Item{
			Identifier:     uuid.New().String(),
			RawText:        rawText,
			SourceURL:      normalizer.NormalizeURL(entry.URL),
			ImageURL:       entry.ImageURL,
			RelatedStories: entry.RelatedStories,
			SourceLabel:    "RSS",
		})
	}

	queued, err := s.queue.EnqueueAll(items)
	if err != nil && queued == 0 {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"queued_count": queued,
	})
}

// ListPostsResponse represents the response for GET /api/posts.
type ListPostsResponse struct {
	Posts  []posts.Post `json:"posts"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// HandleListPosts handles GET /api/posts.
func (s *Server) HandleListPosts(c *gin.Context) {
	limit := 50
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, errorResponse("invalid_parameter", "Invalid limit parameter"))
			return
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	offset := 0
	if offsetParam := c.Query("offset"); offsetParam != "" {
		parsed, err := strconv.Atoi(offsetParam)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, errorResponse("invalid_parameter", "Invalid offset parameter"))
			return
		}
		offset = parsed
	}

	result, err := s.posts.List(limit, offset)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListPostsResponse{
		Posts:  result,
		Limit:  limit,
		Offset: offset,
	})
}

// HandleGetPost handles GET /api/posts/{id}.
func (s *Server) HandleGetPost(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid post ID"))
		return
	}

	post, err := s.posts.Get(id)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

// UpdatePostRequest represents the body for PUT /api/posts/{id}.
type UpdatePostRequest struct {
	Title       *string  `json:"title,omitempty"`
	Summary     *string  `json:"summary,omitempty"`
	ImageURL    *string  `json:"imageUrl,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	IsPublished *bool    `json:"isPublished,omitempty"`
}

// HandleUpdatePost handles PUT /api/posts/{id}.
func (s *Server) HandleUpdatePost(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid post ID"))
		return
	}

	var req UpdatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}

	update := posts.PostUpdate{
		Title:       req.Title,
		Summary:     req.Summary,
		ImageURL:    req.ImageURL,
		Categories:  req.Categories,
		IsPublished: req.IsPublished,
	}

	if err := s.posts.Update(id, update); err != nil {
		s.handleError(c, err)
		return
	}

	post, err := s.posts.Get(id)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, post)
}

// HandleDeletePost handles DELETE /api/posts/{id}.
func (s *Server) HandleDeletePost(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid post ID"))
		return
	}

	if err := s.posts.Delete(id); err != nil {
		s.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListQueueResponse represents the response for GET /api/queue.
type ListQueueResponse struct {
	Items []queue.Item `json:"items"`
	Total int          `json:"total"`
}

// HandleListQueue handles GET /api/queue.
func (s *Server) HandleListQueue(c *gin.Context) {
	items, err := s.queue.List()
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListQueueResponse{
		Items: items,
		Total: len(items),
	})
}

// HandleDeleteQueueItem handles DELETE /api/queue/{id}.
func (s *Server) HandleDeleteQueueItem(c *gin.Context) {
	if err := s.queue.Delete(c.Param("id")); err != nil {
		s.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// StatsResponse represents the response for GET /api/stats.
type StatsResponse struct {
	TotalPosts     int `json:"total_posts"`
	PublishedPosts int `json:"published_posts"`
	VideoPosts     int `json:"video_posts"`
	QueueDepth     int `json:"queue_depth"`
}

// HandleStats handles GET /api/stats.
func (s *Server) HandleStats(c *gin.Context) {
	stats, err := s.posts.Stats()
	if err != nil {
		s.handleError(c, err)
		return
	}

	depth, err := s.queue.Count()
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, StatsResponse{
		TotalPosts:     stats.TotalPosts,
		PublishedPosts: stats.PublishedPosts,
		VideoPosts:     stats.VideoPosts,
		QueueDepth:     depth,
	})
}
