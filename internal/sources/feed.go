package sources

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mmcdole/gofeed"
)

// PodcastFeed is the minimal per-episode material extracted from an RSS/Atom
// feed. Malformed feeds degrade to empty fields, never errors: the caller
// decides whether missing data is fatal.
type PodcastFeed struct {
	Title       string
	Description string
	AudioURL    string
	Thumbnail   string
	Transcript  string
}

// FeedParser extracts podcast episode data from RSS/XML feeds.
type FeedParser struct {
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewFeedParser creates a feed parser.
func NewFeedParser(logger *slog.Logger) *FeedParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedParser{parser: gofeed.NewParser(), logger: logger}
}

// LooksLikeFeed reports whether raw content appears to be an RSS/Atom/XML
// document rather than an HTML landing page.
func LooksLikeFeed(data []byte, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "xml") || strings.Contains(ct, "rss") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(data[:min(len(data), 512)])))
	return strings.HasPrefix(head, "<?xml") ||
		strings.Contains(head, "<rss") ||
		strings.Contains(head, "<feed")
}

// Parse extracts the first episode's title, description, enclosure audio URL
// and any embedded transcript from raw feed content. Parse failures return
// an empty PodcastFeed rather than an error.
func (p *FeedParser) Parse(ctx context.Context, raw string) PodcastFeed {
	feed, err := p.parser.ParseString(raw)
	if err != nil || feed == nil {
		p.logger.Debug("feed parse failed, degrading to empty fields", "error", err)
		return PodcastFeed{}
	}

	out := PodcastFeed{
		Title:       feed.Title,
		Description: feed.Description,
	}
	if feed.Image != nil {
		out.Thumbnail = feed.Image.URL
	}

	if len(feed.Items) == 0 {
		return out
	}

	item := feed.Items[0]
	if item.Title != "" {
		out.Title = item.Title
	}
	if item.Description != "" {
		out.Description = item.Description
	}
	if item.Image != nil && item.Image.URL != "" {
		out.Thumbnail = item.Image.URL
	}

	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if strings.HasPrefix(enc.Type, "audio/") || enc.Type == "" {
			out.AudioURL = enc.URL
			break
		}
	}

	out.Transcript = embeddedTranscript(item)

	return out
}

// embeddedTranscript pulls a transcript the feed itself carries, so items
// with pre-published transcripts skip the transcription service entirely.
func embeddedTranscript(item *gofeed.Item) string {
	if item.Custom != nil {
		for _, key := range []string{"podcast:transcript", "transcript"} {
			if v, ok := item.Custom[key]; ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	// Some feeds publish the full transcript as the item content.
	const transcriptMarker = "transcript"
	if item.Content != "" && strings.Contains(strings.ToLower(item.Content), transcriptMarker) &&
		len(item.Content) > 2000 {
		return strings.TrimSpace(StripMarkup(item.Content))
	}
	return ""
}
