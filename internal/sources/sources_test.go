package sources

import (
	"context"
	"strings"
	"testing"
)

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/shows/ep42.mp3", "ep42.mp3"},
		{"https://cdn.example.com/shows/ep42.mp3?token=abc#t=10", "ep42.mp3"},
		{"https://example.com/stream", "audio.mp3"},
		{"https://example.com/", "audio.mp3"},
		{"", "audio.mp3"},
	}

	for _, tt := range tests {
		if got := FilenameFromURL(tt.url); got != tt.want {
			t.Errorf("FilenameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestLooksLikeFeed(t *testing.T) {
	t.Run("by content type", func(t *testing.T) {
		if !LooksLikeFeed([]byte("anything"), "application/rss+xml") {
			t.Error("rss content type should be a feed")
		}
	})

	t.Run("by xml prologue", func(t *testing.T) {
		if !LooksLikeFeed([]byte(`<?xml version="1.0"?><rss>`), "text/plain") {
			t.Error("xml prologue should be a feed")
		}
	})

	t.Run("html page is not a feed", func(t *testing.T) {
		if LooksLikeFeed([]byte("<!DOCTYPE html><html>"), "text/html") {
			t.Error("html page misclassified as feed")
		}
	})
}

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Night Signals</title>
    <description>A show about radio.</description>
    <image><url>https://example.com/cover.jpg</url><title>c</title><link>x</link></image>
    <item>
      <title>Episode 7: Numbers Stations</title>
      <description>Listening in.</description>
      <enclosure url="https://cdn.example.com/ns/ep7.mp3" length="1024" type="audio/mpeg"/>
    </item>
  </channel>
</rss>`

func TestFeedParser_Parse(t *testing.T) {
	parser := NewFeedParser(nil)
	feed := parser.Parse(context.Background(), sampleFeed)

	if feed.Title != "Episode 7: Numbers Stations" {
		t.Errorf("Title = %q", feed.Title)
	}
	if feed.AudioURL != "https://cdn.example.com/ns/ep7.mp3" {
		t.Errorf("AudioURL = %q", feed.AudioURL)
	}
	if feed.Thumbnail != "https://example.com/cover.jpg" {
		t.Errorf("Thumbnail = %q", feed.Thumbnail)
	}
}

func TestFeedParser_MalformedDegradesToEmpty(t *testing.T) {
	parser := NewFeedParser(nil)
	feed := parser.Parse(context.Background(), "this is not xml at all <<<")

	if feed.Title != "" || feed.AudioURL != "" {
		t.Errorf("malformed feed should yield empty fields, got %+v", feed)
	}
}

const samplePage = `<!DOCTYPE html>
<html><head>
  <title>Fallback Title</title>
  <meta property="og:title" content="The Real Title"/>
  <meta property="og:image" content="https://example.com/og.png"/>
</head><body>
  <audio><source src="https://cdn.example.com/page/audio.mp3" type="audio/mpeg"/></audio>
</body></html>`

func TestPageScraper_Scrape(t *testing.T) {
	scraper := NewPageScraper(nil)
	out := scraper.Scrape([]byte(samplePage))

	if out.AudioURL != "https://cdn.example.com/page/audio.mp3" {
		t.Errorf("AudioURL = %q", out.AudioURL)
	}
	if out.Title != "The Real Title" {
		t.Errorf("Title = %q, want og:title to win", out.Title)
	}
	if out.Image != "https://example.com/og.png" {
		t.Errorf("Image = %q", out.Image)
	}
}

func TestPageScraper_TitleFallback(t *testing.T) {
	scraper := NewPageScraper(nil)
	out := scraper.Scrape([]byte(`<html><head><title>Only Title</title></head><body></body></html>`))
	if out.Title != "Only Title" {
		t.Errorf("Title = %q, want <title> fallback", out.Title)
	}
	if out.AudioURL != "" {
		t.Errorf("AudioURL = %q, want empty", out.AudioURL)
	}
}

func TestStripMarkup(t *testing.T) {
	in := `<h1>Chapter *One*</h1><p>It was &amp; still is a #quiet night.</p>`
	got := StripMarkup(in)
	if strings.Contains(got, "<") || strings.Contains(got, "*") || strings.Contains(got, "#") {
		t.Errorf("markup survived: %q", got)
	}
	if !strings.Contains(got, "It was & still is a quiet night.") {
		t.Errorf("entity decoding failed: %q", got)
	}
}

func TestCountWords(t *testing.T) {
	if got := CountWords("one two  three\nfour"); got != 4 {
		t.Errorf("CountWords = %d, want 4", got)
	}
	if got := CountWords("   "); got != 0 {
		t.Errorf("CountWords = %d, want 0", got)
	}
}

func TestIsPlatformURL(t *testing.T) {
	if !IsPlatformURL("https://www.youtube.com/watch?v=abc123") {
		t.Error("youtube watch URL should be a platform URL")
	}
	if !IsPlatformURL("https://youtu.be/abc123") {
		t.Error("short youtube URL should be a platform URL")
	}
	if IsPlatformURL("https://example.com/video.mp4") {
		t.Error("plain file URL is not a platform URL")
	}
}
