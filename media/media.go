// Package media defines the attachment shapes shared between queue items and
// published posts. It lives in its own package so the queue and post stores
// can both reference it without importing each other.
package media

// Attachment is a single media attachment carried on a queue item or post.
// Kind is "image" or "video".
type Attachment struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// RelatedStory is a sidecar item attached to a post. Related stories are
// carried from the queue item onto the published post verbatim -- same
// shape, same order.
type RelatedStory struct {
	Title    string `json:"title"`
	Summary  string `json:"summary,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	URL      string `json:"url,omitempty"`
}

// FirstImage returns the URL of the first image attachment, or "".
func FirstImage(attachments []Attachment) string {
	for _, a := range attachments {
		if a.Kind == "image" {
			return a.URL
		}
	}
	return ""
}

// FirstVideo returns the URL of the first video attachment, or "".
func FirstVideo(attachments []Attachment) string {
	for _, a := range attachments {
		if a.Kind == "video" {
			return a.URL
		}
	}
	return ""
}
