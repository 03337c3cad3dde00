package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pevans/teluguwire/media"
	"github.com/pevans/teluguwire/posts"
	"github.com/pevans/teluguwire/queue"
	"github.com/pevans/teluguwire/sources"
)

// DefaultMaxPerHandle is how many recent posts are pulled per handle.
const DefaultMaxPerHandle = 5

// SocialPost is a normalized timeline entry from the social API.
type SocialPost struct {
	ID           string
	Text         string
	URL          string
	AuthorName   string
	AuthorHandle string
	Media        []media.Attachment
}

// SocialClient pulls recent posts for a handle from the external social API.
type SocialClient interface {
	RecentPosts(ctx context.Context, handle string, limit int) ([]SocialPost, error)
}

// SocialFetcher pulls recent timeline posts for each registered handle and
// enqueues the ones whose identifiers are not already known. Each handle's
// failure is independent: an error response yields zero queued for that
// handle and the cycle continues.
type SocialFetcher struct {
	registry *sources.Registry
	posts    *posts.Store
	queue    *queue.Store
	client   SocialClient

	maxPerHandle int
}

// NewSocialFetcher creates a social fetcher.
func NewSocialFetcher(registry *sources.Registry, postStore *posts.Store, queueStore *queue.Store, client SocialClient) *SocialFetcher {
	return &SocialFetcher{
		registry:     registry,
		posts:        postStore,
		queue:        queueStore,
		client:       client,
		maxPerHandle: DefaultMaxPerHandle,
	}
}

// Run executes one fetch cycle across all active handles and returns the
// total number of items queued.
func (f *SocialFetcher) Run(ctx context.Context) int {
	f.registry.Reload()

	var total int
	for _, source := range f.registry.Handles() {
		n, err := f.fetchOne(ctx, source)
		if err != nil {
			log.Printf("social fetch: @%s: %v", source.Handle, err)
			continue
		}
		total += n
	}

	return total
}

// fetchOne pulls and enqueues new posts for a single handle.
func (f *SocialFetcher) fetchOne(ctx context.Context, source sources.Source) (int, error) {
	timeline, err := f.client.RecentPosts(ctx, source.Handle, f.maxPerHandle)
	if err != nil {
		return 0, err
	}

	var items []queue.Item
	for _, post := range timeline {
		if post.ID == "" || post.Text == "" {
			continue
		}

		exists, err := f.posts.SocialIDExists(post.ID)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		queued, err := f.queue.Exists(post.ID)
		if err != nil {
			return 0, err
		}
		if queued {
			continue
		}

		authorName := post.AuthorName
		if authorName == "" {
			authorName = source.Name
		}
		authorHandle := post.AuthorHandle
		if authorHandle == "" {
			authorHandle = source.Handle
		}

		items = append(items, queue.Item{
			Identifier:   post.ID,
			RawText:      post.Text,
			SourceURL:    post.URL,
			Media:        post.Media,
			SourceLabel:  source.Name,
			AuthorName:   authorName,
			AuthorHandle: authorHandle,
		})
	}

	queued, err := f.queue.EnqueueAll(items)
	if err != nil {
		log.Printf("social fetch: @%s: partial enqueue: %v", source.Handle, err)
	}
	return queued, nil
}

// HTTPSocialClient talks to the social timeline API over HTTP.
type HTTPSocialClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPSocialClient creates a client for the given API base URL and key.
func NewHTTPSocialClient(baseURL, apiKey string) *HTTPSocialClient {
	return &HTTPSocialClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Wire shapes for the timeline endpoint. Video entries carry bitrate
// variants; the client resolves each to its best mp4 before handing posts to
// the fetcher.
type timelineResponse struct {
	Posts []timelinePost `json:"posts"`
}

type timelinePost struct {
	ID     string          `json:"id"`
	Text   string          `json:"text"`
	URL    string          `json:"url"`
	Author timelineAuthor  `json:"author"`
	Media  []timelineMedia `json:"media"`
}

type timelineAuthor struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
}

type timelineMedia struct {
	Type     string            `json:"type"` // "photo" or "video"
	URL      string            `json:"url"`
	Variants []timelineVariant `json:"variants,omitempty"`
}

type timelineVariant struct {
	Bitrate     int    `json:"bitrate"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// RecentPosts fetches the most recent posts for a handle.
func (c *HTTPSocialClient) RecentPosts(ctx context.Context, handle string, limit int) ([]SocialPost, error) {
	endpoint := fmt.Sprintf("%s/timeline?handle=%s&limit=%s",
		c.baseURL, url.QueryEscape(handle), strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("social API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("social API %d: %s", resp.StatusCode, string(b))
	}

	var tr timelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("social API decode: %w", err)
	}

	result := make([]SocialPost, 0, len(tr.Posts))
	for _, p := range tr.Posts {
		result = append(result, SocialPost{
			ID:           p.ID,
			Text:         p.Text,
			URL:          p.URL,
			AuthorName:   p.Author.Name,
			AuthorHandle: p.Author.Handle,
			Media:        normalizeMedia(p.Media),
		})
	}
	return result, nil
}

// normalizeMedia maps wire media onto attachments. Photos map directly;
// videos resolve to the highest-bitrate mp4 variant and are skipped if no
// mp4 variant exists.
func normalizeMedia(entries []timelineMedia) []media.Attachment {
	var attachments []media.Attachment
	for _, entry := range entries {
		switch entry.Type {
		case "photo":
			attachments = append(attachments, media.Attachment{URL: entry.URL, Kind: "image"})
		case "video":
			if best := bestMP4(entry.Variants); best != "" {
				attachments = append(attachments, media.Attachment{URL: best, Kind: "video"})
			}
		}
	}
	return attachments
}

// bestMP4 returns the URL of the highest-bitrate video/mp4 variant, or "".
func bestMP4(variants []timelineVariant) string {
	var best string
	bitrate := -1
	for _, v := range variants {
		if v.ContentType == "video/mp4" && v.Bitrate > bitrate {
			best = v.URL
			bitrate = v.Bitrate
		}
	}
	return best
}
