package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/teluguwire/posts"
	"github.com/pevans/teluguwire/queue"
)

type fakeFeedTrigger struct {
	queued int
	err    error
	calls  int
}

func (f *fakeFeedTrigger) Run(context.Context) (int, error) {
	f.calls++
	return f.queued, f.err
}

type fakeSocialTrigger struct {
	queued int
	calls  int
}

func (f *fakeSocialTrigger) Run(context.Context) int {
	f.calls++
	return f.queued
}

type testServer struct {
	router *gin.Engine
	posts  *posts.Store
	queue  *queue.Store
	feeds  *fakeFeedTrigger
	social *fakeSocialTrigger
}

// Test helper: a fully wired dashboard API over temp stores and fake
// fetch triggers.
func createTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	postStore, err := posts.NewStore(filepath.Join(dir, "posts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { postStore.Close() })

	queueStore, err := queue.NewStore(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { queueStore.Close() })

	feeds := &fakeFeedTrigger{}
	social := &fakeSocialTrigger{}

	router := gin.New()
	router.Use(CORSMiddleware())
	NewServer(postStore, queueStore, feeds, social).RegisterRoutes(router.Group("/api"))

	return &testServer{
		router: router,
		posts:  postStore,
		queue:  queueStore,
		feeds:  feeds,
		social: social,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

// TestTriggerRSSFetch verifies the trigger endpoint runs a feed cycle and
// reports the queued count.
func TestTriggerRSSFetch(t *testing.T) {
	ts := createTestServer(t)
	ts.feeds.queued = 7

	w := ts.do(t, http.MethodGet, "/api/trigger-rss-fetch", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success     bool `json:"success"`
		QueuedCount int  `json:"queued_count"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, 7, resp.QueuedCount)
	assert.Equal(t, 1, ts.feeds.calls)
}

// TestTriggerAutoFetch verifies the social trigger endpoint.
func TestTriggerAutoFetch(t *testing.T) {
	ts := createTestServer(t)
	ts.social.queued = 3

	w := ts.do(t, http.MethodGet, "/api/trigger-auto-fetch", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success     bool `json:"success"`
		QueuedTotal int  `json:"queued_total"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.QueuedTotal)
	assert.Equal(t, 1, ts.social.calls)
}

// TestAddContent verifies manual content lands in the queue with a
// generated identifier and a normalized URL.
func TestAddContent(t *testing.T) {
	ts := createTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/add-content-to-queue", gin.H{
		"content":  "Breaking: assembly session adjourned",
		"title":    "Assembly adjourned",
		"url":      "https://news.example.com/story?utm_source=share",
		"imageUrl": "https://cdn.example.com/pic.jpg",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success    bool   `json:"success"`
		Identifier string `json:"identifier"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Identifier)

	items, err := ts.queue.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, resp.Identifier, items[0].Identifier)
	assert.Equal(t, "Assembly adjourned\n\nBreaking: assembly session adjourned", items[0].RawText)
	assert.Equal(t, "https://news.example.com/story", items[0].SourceURL, "tracking params stripped")
	assert.Equal(t, "Manual", items[0].SourceLabel)
}

// TestAddContent_RequiresContentOrURL verifies validation of the manual
// ingestion body.
func TestAddContent_RequiresContentOrURL(t *testing.T) {
	ts := createTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/add-content-to-queue", gin.H{
		"title": "only a title",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	count, err := ts.queue.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

// TestAddRSSEntries verifies bulk enqueue, skipping unusable entries.
func TestAddRSSEntries(t *testing.T) {
	ts := createTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/add-rss-to-queue", []gin.H{
		{"title": "First story", "url": "https://a.example.com/1", "summary": "details"},
		{"title": "", "url": ""}, // skipped
		{"title": "Second story", "url": "https://a.example.com/2/"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success     bool `json:"success"`
		QueuedCount int  `json:"queued_count"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.QueuedCount)

	items, err := ts.queue.List()
	require.NoError(t, err)
	require.Len(t, items, 2)
}

// TestListPosts verifies pagination parameters and the response envelope.
func TestListPosts(t *testing.T) {
	ts := createTestServer(t)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, ts.posts.Create(&posts.Post{ID: i, Title: "Post"}))
	}

	w := ts.do(t, http.MethodGet, "/api/posts?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ListPostsResponse
	decode(t, w, &resp)
	assert.Len(t, resp.Posts, 2)
	assert.Equal(t, 2, resp.Limit)

	w = ts.do(t, http.MethodGet, "/api/posts?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestGetPost_NotFound verifies the not-found mapping.
func TestGetPost_NotFound(t *testing.T) {
	ts := createTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/posts/123456789", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/posts/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestUpdatePost verifies a partial update through the API.
func TestUpdatePost(t *testing.T) {
	ts := createTestServer(t)
	require.NoError(t, ts.posts.Create(&posts.Post{ID: 42, Title: "Before"}))

	w := ts.do(t, http.MethodPut, "/api/posts/42", gin.H{
		"title":       "After",
		"isPublished": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var updated posts.Post
	decode(t, w, &updated)
	assert.Equal(t, "After", updated.Title)
	assert.True(t, updated.IsPublished)
}

// TestDeletePost verifies deletion and the 404 on a second attempt.
func TestDeletePost(t *testing.T) {
	ts := createTestServer(t)
	require.NoError(t, ts.posts.Create(&posts.Post{ID: 9, Title: "Doomed"}))

	w := ts.do(t, http.MethodDelete, "/api/posts/9", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/posts/9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestQueueEndpoints verifies listing and deleting queue items.
func TestQueueEndpoints(t *testing.T) {
	ts := createTestServer(t)
	require.NoError(t, ts.queue.Enqueue(queue.Item{Identifier: "q-1", RawText: "pending"}))

	w := ts.do(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ListQueueResponse
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Total)

	w = ts.do(t, http.MethodDelete, "/api/queue/q-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/queue/q-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestStats verifies the aggregate counters.
func TestStats(t *testing.T) {
	ts := createTestServer(t)

	require.NoError(t, ts.posts.Create(&posts.Post{ID: 1, Title: "A", IsPublished: true}))
	require.NoError(t, ts.posts.Create(&posts.Post{ID: 2, Title: "B", VideoURL: "https://v.example.com/1.mp4", IsPublished: true}))
	require.NoError(t, ts.posts.Create(&posts.Post{ID: 3, Title: "C"}))
	require.NoError(t, ts.queue.Enqueue(queue.Item{Identifier: "q-1", RawText: "pending"}))

	w := ts.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatsResponse
	decode(t, w, &resp)
	assert.Equal(t, 3, resp.TotalPosts)
	assert.Equal(t, 2, resp.PublishedPosts)
	assert.Equal(t, 1, resp.VideoPosts)
	assert.Equal(t, 1, resp.QueueDepth)
}

// TestCORSPreflight verifies OPTIONS requests short-circuit with CORS
// headers.
func TestCORSPreflight(t *testing.T) {
	ts := createTestServer(t)

	w := ts.do(t, http.MethodOptions, "/api/posts", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
