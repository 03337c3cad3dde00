// Package rewrite wraps the external generative-text call that turns raw
// source text into a structured Telugu news card. The engine builds a single
// prompt (optionally enriched with scraped page context), demands strict
// JSON back, and tolerates the fenced or otherwise decorated output models
// tend to produce. It implements no retry policy -- that decision belongs to
// the publish worker.
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Card is the structured rewrite result.
type Card struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Category string `json:"category"`
	Slug     string `json:"slug"`
}

// Engine produces news cards from raw text. A nil card with a non-nil error
// means the rewrite failed terminally for that input; callers drop the item
// rather than retrying.
type Engine interface {
	Rewrite(ctx context.Context, rawText, sourceURL string) (*Card, error)
}

// ContextFetcher supplies optional scraped page text. A "" result means no
// extra context, never an error.
type ContextFetcher interface {
	Fetch(url string) string
}

const rewritePrompt = `You are a Telugu news editor. Rewrite the following source material as a short Telugu news card.

Respond with ONLY a JSON object, no markdown, in exactly this shape:
{"title": "<Telugu headline, max 100 chars>", "summary": "<Telugu summary, 2-4 sentences>", "category": "<one of: Politics, Cinema, Sports, Crime, Business, Technology, General>", "slug": "<3-6 lowercase english keywords joined by hyphens, for image search>"}

Source text:
%s%s`

// GeminiEngine calls the Gemini generateContent REST endpoint.
type GeminiEngine struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	scraper ContextFetcher
}

// NewGeminiEngine creates an engine for the given API key and model. The
// scraper is optional; pass nil to skip page enrichment.
func NewGeminiEngine(apiKey, model string, scraper ContextFetcher) *GeminiEngine {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiEngine{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		client:  &http.Client{Timeout: 60 * time.Second},
		scraper: scraper,
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Rewrite builds the prompt, calls the model, and parses the card out of the
// response. Scrape failures are ignored; call or parse failures return a nil
// card and the underlying error.
func (e *GeminiEngine) Rewrite(ctx context.Context, rawText, sourceURL string) (*Card, error) {
	var extra string
	if sourceURL != "" && e.scraper != nil {
		if scraped := e.scraper.Fetch(sourceURL); scraped != "" {
			extra = "\n\nAdditional page content:\n" + scraped
		}
	}

	prompt := fmt.Sprintf(rewritePrompt, rawText, extra)

	text, err := e.call(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return ParseCard(text)
}

func (e *GeminiEngine) call(ctx context.Context, prompt string) (string, error) {
	body, _ := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", e.baseURL, e.model, e.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("gemini API %d: %s", resp.StatusCode, string(b))
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", err
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty gemini response")
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}

// ParseCard extracts a Card from raw model output, stripping surrounding
// code fences first. A card without a title is rejected -- there is nothing
// to publish under.
func ParseCard(text string) (*Card, error) {
	cleaned := StripFences(text)

	var card Card
	if err := json.Unmarshal([]byte(cleaned), &card); err != nil {
		return nil, fmt.Errorf("malformed rewrite response: %w", err)
	}
	if strings.TrimSpace(card.Title) == "" {
		return nil, fmt.Errorf("rewrite response missing title")
	}
	return &card, nil
}

// StripFences removes markdown code-fence markup (```json ... ```) that
// models wrap JSON responses in despite instructions.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		// Drop the opening fence line (``` or ```json)
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
