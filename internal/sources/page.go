package sources

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageScrape is the material extracted from a podcast episode landing page:
// an embedded audio URL, the page title, and an Open Graph image.
type PageScrape struct {
	Title    string
	AudioURL string
	Image    string
}

// PageScraper extracts audio references from HTML landing pages.
type PageScraper struct {
	logger *slog.Logger
}

// NewPageScraper creates a page scraper.
func NewPageScraper(logger *slog.Logger) *PageScraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageScraper{logger: logger}
}

// Scrape parses raw HTML and pulls out an <audio>/<source> URL, the page
// title, and the og:image. Parse failures degrade to empty fields.
func (p *PageScraper) Scrape(raw []byte) PageScrape {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		p.logger.Debug("page parse failed, degrading to empty fields", "error", err)
		return PageScrape{}
	}

	out := PageScrape{}

	if audio := doc.Find("audio").First(); audio.Length() > 0 {
		out.AudioURL = strings.TrimSpace(audio.AttrOr("src", ""))
		if out.AudioURL == "" {
			out.AudioURL = strings.TrimSpace(audio.Find("source").First().AttrOr("src", ""))
		}
	}
	if out.AudioURL == "" {
		out.AudioURL = strings.TrimSpace(doc.Find("source[src]").First().AttrOr("src", ""))
	}

	out.Title = strings.TrimSpace(doc.Find("meta[property='og:title']").First().AttrOr("content", ""))
	if out.Title == "" {
		out.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	out.Image = strings.TrimSpace(doc.Find("meta[property='og:image']").First().AttrOr("content", ""))

	return out
}
