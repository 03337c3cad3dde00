package rewrite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no fences", `{"title":"a"}`, `{"title":"a"}`},
		{"plain fences", "```\n{\"title\":\"a\"}\n```", `{"title":"a"}`},
		{"json fences", "```json\n{\"title\":\"a\"}\n```", `{"title":"a"}`},
		{"leading whitespace", "  \n```json\n{\"title\":\"a\"}\n```\n", `{"title":"a"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.input))
		})
	}
}

func TestParseCard_Valid(t *testing.T) {
	card, err := ParseCard("```json\n{\"title\":\"తెలంగాణ వార్త\",\"summary\":\"సారాంశం\",\"category\":\"Politics\",\"slug\":\"telangana-news\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "తెలంగాణ వార్త", card.Title)
	assert.Equal(t, "Politics", card.Category)
	assert.Equal(t, "telangana-news", card.Slug)
}

func TestParseCard_MalformedJSON(t *testing.T) {
	card, err := ParseCard("Sorry, I cannot rewrite this.")
	assert.Error(t, err)
	assert.Nil(t, card)
}

func TestParseCard_MissingTitle(t *testing.T) {
	card, err := ParseCard(`{"summary":"text only"}`)
	assert.Error(t, err)
	assert.Nil(t, card)
}

// fakeScraper returns canned page context.
type fakeScraper struct {
	text   string
	called bool
}

func (f *fakeScraper) Fetch(url string) string {
	f.called = true
	return f.text
}

// Test helper: a Gemini-shaped test server returning the given card text
func geminiServer(t *testing.T, cardText string, gotPrompt *string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if gotPrompt != nil && len(req.Contents) > 0 && len(req.Contents[0].Parts) > 0 {
			*gotPrompt = req.Contents[0].Parts[0].Text
		}

		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": cardText}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestGeminiEngine_Rewrite(t *testing.T) {
	var prompt string
	server := geminiServer(t, "```json\n{\"title\":\"శీర్షిక\",\"summary\":\"సారాంశం\",\"category\":\"Cinema\",\"slug\":\"tollywood-update\"}\n```", &prompt)
	defer server.Close()

	scraper := &fakeScraper{text: "scraped page context"}
	engine := NewGeminiEngine("test-key", "gemini-1.5-flash", scraper)
	engine.baseURL = server.URL

	card, err := engine.Rewrite(context.Background(), "raw tweet text", "https://example.com/story")
	require.NoError(t, err)
	assert.Equal(t, "శీర్షిక", card.Title)
	assert.Equal(t, "Cinema", card.Category)

	assert.True(t, scraper.called, "scraper consulted when URL present")
	assert.Contains(t, prompt, "raw tweet text")
	assert.Contains(t, prompt, "scraped page context")
}

func TestGeminiEngine_NoURLSkipsScraper(t *testing.T) {
	server := geminiServer(t, `{"title":"t","summary":"s","category":"General","slug":"x"}`, nil)
	defer server.Close()

	scraper := &fakeScraper{text: "should not appear"}
	engine := NewGeminiEngine("test-key", "", scraper)
	engine.baseURL = server.URL

	_, err := engine.Rewrite(context.Background(), "raw", "")
	require.NoError(t, err)
	assert.False(t, scraper.called)
}

func TestGeminiEngine_APIErrorReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	engine := NewGeminiEngine("test-key", "", nil)
	engine.baseURL = server.URL

	card, err := engine.Rewrite(context.Background(), "raw", "")
	assert.Error(t, err)
	assert.Nil(t, card)
}

func TestGeminiEngine_MalformedModelOutput(t *testing.T) {
	server := geminiServer(t, "I refuse to answer in JSON.", nil)
	defer server.Close()

	engine := NewGeminiEngine("test-key", "", nil)
	engine.baseURL = server.URL

	card, err := engine.Rewrite(context.Background(), "raw", "")
	assert.Error(t, err)
	assert.Nil(t, card)
}

func TestGeminiEngine_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	engine := NewGeminiEngine("test-key", "", nil)
	engine.baseURL = server.URL

	_, err := engine.Rewrite(context.Background(), "raw", "")
	assert.Error(t, err)
}
