package sources

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// Article is the readable text extracted from a web page for url-type items.
type Article struct {
	Title     string
	Text      string
	Thumbnail string
}

// ExtractArticle reduces an HTML page to its readable article text.
func ExtractArticle(raw []byte, pageURL string) (Article, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = nil
	}

	article, err := readability.FromReader(bytes.NewReader(raw), parsed)
	if err != nil {
		return Article{}, fmt.Errorf("extract readable content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return Article{}, fmt.Errorf("page has no readable text")
	}

	return Article{
		Title:     article.Title,
		Text:      text,
		Thumbnail: article.Image,
	}, nil
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`[ \t]+`)
)

// StripMarkup removes HTML/markdown-ish markup from text bound for speech
// synthesis or word counting, collapsing runs of spaces left behind.
func StripMarkup(text string) string {
	text = tagPattern.ReplaceAllString(text, " ")
	text = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"*", "",
		"_", "",
		"#", "",
	).Replace(text)
	text = whitespacePattern.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// CountWords returns the number of whitespace-delimited words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
