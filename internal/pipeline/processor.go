// Package pipeline turns submitted source material into normalized text
// artifacts. It owns the content item state machine end to end: the
// synchronous path for lightweight sources, the job executors for heavy
// media, the retry controller, and the fallback summary policy.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"lectern/internal/content"
	"lectern/internal/dispatch"
	"lectern/internal/events"
	"lectern/internal/services"
	"lectern/internal/sources"
	"lectern/internal/store"
)

// Metadata keys owned by the pipeline.
const (
	metaStage    = "processingStage"
	metaProgress = "processingProgress"
	metaJobID    = "jobId"
	metaRetried  = "retriedAt"
)

// imageSummary is the synthetic summary for image items, which short-circuit
// without transcription.
const imageSummary = "Image upload; no text content to transcribe."

// Processor executes the transcription/summarization pipeline for one item
// at a time. All failures are converted to status=error at this boundary and
// never propagate to the queue or the caller.
type Processor struct {
	store       *store.Store
	transcriber services.Transcriber
	summarizer  services.Summarizer
	downloader  *sources.Downloader
	feeds       *sources.FeedParser
	pages       *sources.PageScraper
	platform    *sources.PlatformResolver
	publisher   events.Publisher
	logger      *slog.Logger
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Store       *store.Store
	Transcriber services.Transcriber
	Summarizer  services.Summarizer
	Downloader  *sources.Downloader
	Publisher   events.Publisher
	Logger      *slog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	downloader := cfg.Downloader
	if downloader == nil {
		downloader = sources.NewDownloader(nil)
	}

	return &Processor{
		store:       cfg.Store,
		transcriber: cfg.Transcriber,
		summarizer:  cfg.Summarizer,
		downloader:  downloader,
		feeds:       sources.NewFeedParser(logger),
		pages:       sources.NewPageScraper(logger),
		platform:    sources.NewPlatformResolver(),
		publisher:   cfg.Publisher,
		logger:      logger,
	}, nil
}

// MediaProcessor returns the job executor for asynchronous media kinds.
// The executor resolves the item id from the job payload and drives the
// item to a terminal state; it only returns an error for infrastructure
// failures the dispatcher should retry.
func (p *Processor) MediaProcessor() dispatch.Processor {
	return func(ctx context.Context, job *dispatch.Record) error {
		itemID := job.PayloadString("itemId")
		if itemID == "" {
			return fmt.Errorf("job %s has no itemId", job.Key)
		}
		return p.Process(ctx, itemID)
	}
}

// Process runs the full pipeline for one item. The item always reaches
// pending/processing -> ready or error; processing exceptions become
// status=error with a descriptive message.
func (p *Processor) Process(ctx context.Context, itemID string) error {
	item, err := p.store.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item %s: %w", itemID, err)
	}

	if err := p.markProcessing(ctx, item); err != nil {
		return err
	}

	result, procErr := p.run(ctx, item)
	if procErr != nil {
		p.finalizeError(ctx, itemID, procErr)
		return nil
	}

	p.finalizeReady(ctx, itemID, result)
	return nil
}

// extraction is the normalized output of a successful pipeline run.
type extraction struct {
	Transcript      string
	RawText         string
	Summary         string
	Title           string
	Thumbnail       string
	DurationSeconds int
}

// run normalizes the item's source, transcribes it when needed, and builds
// a summary. It returns an error instead of writing state; finalization is
// the caller's job so partial writes can never leave processing hanging.
func (p *Processor) run(ctx context.Context, item *content.Item) (*extraction, error) {
	switch item.Type {
	case content.TypeImage:
		return &extraction{Summary: imageSummary}, nil
	case content.TypeText:
		return p.runText(ctx, item)
	case content.TypeURL:
		return p.runURL(ctx, item)
	case content.TypeAudio, content.TypeVideo:
		return p.runMedia(ctx, item)
	case content.TypePodcast:
		return p.runPodcast(ctx, item)
	default:
		return nil, fmt.Errorf("unsupported content type %q", item.Type)
	}
}

func (p *Processor) runText(ctx context.Context, item *content.Item) (*extraction, error) {
	text := item.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text item has no content")
	}
	return &extraction{
		RawText: text,
		Summary: p.summarizeBestEffort(ctx, text),
		Title:   item.Title,
	}, nil
}

func (p *Processor) runURL(ctx context.Context, item *content.Item) (*extraction, error) {
	if item.Source == "" {
		return nil, fmt.Errorf("url item has no source")
	}

	raw, _, err := p.downloader.Fetch(ctx, item.Source)
	if err != nil {
		return nil, err
	}

	article, err := sources.ExtractArticle(raw, item.Source)
	if err != nil {
		return nil, err
	}

	return &extraction{
		RawText:   article.Text,
		Summary:   p.summarizeBestEffort(ctx, article.Text),
		Title:     article.Title,
		Thumbnail: article.Thumbnail,
	}, nil
}

// runMedia handles uploaded or remotely hosted audio/video. The buffer is
// either spooled to a local file at submission time or downloaded here.
func (p *Processor) runMedia(ctx context.Context, item *content.Item) (*extraction, error) {
	out := &extraction{}

	var (
		data     []byte
		filename string
	)

	switch {
	case item.Metadata["uploadPath"] != nil:
		path, _ := item.Metadata["uploadPath"].(string)
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read uploaded file: %w", err)
		}
		data = buf
		filename = sources.FilenameFromURL(path)

	case sources.IsPlatformURL(item.Source):
		audio, err := p.platform.Resolve(ctx, item.Source)
		if err != nil {
			return nil, err
		}
		data = audio.Data
		filename = audio.Filename
		out.Title = audio.Title
		out.Thumbnail = audio.Thumbnail
		out.DurationSeconds = audio.DurationSeconds

	case item.Source != "":
		buf, _, err := p.downloader.Fetch(ctx, item.Source)
		if err != nil {
			return nil, err
		}
		data = buf
		filename = sources.FilenameFromURL(item.Source)

	default:
		return nil, fmt.Errorf("media item has no source")
	}

	if err := p.transcribeInto(ctx, out, data, filename); err != nil {
		return nil, err
	}
	return out, nil
}

// runPodcast resolves a podcast reference: an RSS/XML feed yields the
// enclosure audio URL (or an embedded transcript); anything else is scraped
// as a landing page.
func (p *Processor) runPodcast(ctx context.Context, item *content.Item) (*extraction, error) {
	if item.Source == "" {
		return nil, fmt.Errorf("podcast item has no source")
	}

	raw, contentType, err := p.downloader.Fetch(ctx, item.Source)
	if err != nil {
		return nil, err
	}

	out := &extraction{}
	audioURL := ""

	if sources.LooksLikeFeed(raw, contentType) {
		feed := p.feeds.Parse(ctx, string(raw))
		out.Title = feed.Title
		out.Thumbnail = feed.Thumbnail
		audioURL = feed.AudioURL

		if feed.Transcript != "" {
			// The feed already published a transcript; skip transcription.
			out.Transcript = feed.Transcript
			out.Summary = p.summarizeBestEffort(ctx, feed.Transcript)
			return out, nil
		}
	} else {
		scrape := p.pages.Scrape(raw)
		out.Title = scrape.Title
		out.Thumbnail = scrape.Image
		audioURL = scrape.AudioURL
	}

	if audioURL == "" {
		return nil, fmt.Errorf("no audio found in podcast feed or page")
	}

	data, _, err := p.downloader.Fetch(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	if err := p.transcribeInto(ctx, out, data, sources.FilenameFromURL(audioURL)); err != nil {
		return nil, err
	}
	return out, nil
}

// transcribeInto runs transcription and summarization for a media buffer.
// Empty or whitespace-only transcription output is a failure, not a success
// with empty content.
func (p *Processor) transcribeInto(ctx context.Context, out *extraction, data []byte, filename string) error {
	if p.transcriber == nil {
		return fmt.Errorf("transcription service not configured")
	}

	result, err := p.transcriber.Transcribe(ctx, data, filename)
	if err != nil {
		return err
	}
	if strings.TrimSpace(result.Text) == "" {
		return fmt.Errorf("transcription returned no text")
	}

	out.Transcript = result.Text
	if out.DurationSeconds == 0 {
		out.DurationSeconds = result.DurationSeconds
	}
	out.Summary = p.summarizeBestEffort(ctx, result.Text)
	return nil
}

// summarizeBestEffort asks the summarization service for an abstract and
// falls back to the deterministic first-sentences summary when the call
// fails or the service is unconfigured.
func (p *Processor) summarizeBestEffort(ctx context.Context, text string) string {
	if p.summarizer == nil {
		return FallbackSummary(text)
	}
	summary, err := p.summarizer.Summarize(ctx, text)
	if err != nil {
		p.logger.Warn("summarization failed, using fallback", "error", err)
		return FallbackSummary(text)
	}
	if strings.TrimSpace(summary) == "" {
		return FallbackSummary(text)
	}
	return summary
}

// markProcessing transitions the item into processing so observers see the
// in-flight signal even when the work completes within the same call.
func (p *Processor) markProcessing(ctx context.Context, item *content.Item) error {
	if err := content.ValidateTransition(item.Status, content.StatusProcessing); err != nil {
		return err
	}
	from := item.Status
	item.Status = content.StatusProcessing
	item.MergeMetadata(map[string]any{
		metaStage:    "normalizing",
		metaProgress: 0,
	})
	if err := p.store.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	p.publish(ctx, item, from)
	return nil
}

// finalizeReady re-reads the record and applies the successful result,
// preserving metadata keys other writers own.
func (p *Processor) finalizeReady(ctx context.Context, itemID string, result *extraction) {
	item, err := p.store.GetItem(ctx, itemID)
	if err != nil {
		p.logger.Error("finalize: reload failed", "item_id", itemID, "error", err)
		return
	}

	from := item.Status
	now := time.Now().UTC()

	item.Status = content.StatusReady
	item.ErrorMessage = ""
	item.ProcessedAt = &now
	if result.Transcript != "" {
		item.Transcript = result.Transcript
	}
	if result.RawText != "" {
		item.RawText = result.RawText
	}
	item.Summary = result.Summary
	if result.Title != "" && item.Title == "" {
		item.Title = result.Title
	}
	if result.Thumbnail != "" {
		item.Thumbnail = result.Thumbnail
	}
	if result.DurationSeconds > 0 {
		item.DurationSeconds = result.DurationSeconds
	}
	if item.Type != content.TypeImage {
		item.WordCount = sources.CountWords(item.Text())
	}
	item.MergeMetadata(map[string]any{
		metaStage:    "done",
		metaProgress: 100,
	})

	if err := p.store.UpdateItem(ctx, item); err != nil {
		p.logger.Error("finalize: update failed", "item_id", itemID, "error", err)
		return
	}

	p.logger.Info("item processed", "item_id", itemID, "type", item.Type, "words", item.WordCount)
	p.publish(ctx, item, from)
}

// finalizeError re-reads the record and applies the terminal failure,
// discarding any partial summary written during the attempt.
func (p *Processor) finalizeError(ctx context.Context, itemID string, procErr error) {
	item, err := p.store.GetItem(ctx, itemID)
	if err != nil {
		p.logger.Error("finalize: reload failed", "item_id", itemID, "error", err)
		return
	}

	from := item.Status
	item.Status = content.StatusError
	item.ErrorMessage = procErr.Error()
	item.Summary = ""
	item.MergeMetadata(map[string]any{
		metaStage: "failed",
	})

	if err := p.store.UpdateItem(ctx, item); err != nil {
		p.logger.Error("finalize: update failed", "item_id", itemID, "error", err)
		return
	}

	p.logger.Warn("item failed", "item_id", itemID, "type", item.Type, "error", procErr)
	p.publish(ctx, item, from)
}

func (p *Processor) publish(ctx context.Context, item *content.Item, from content.Status) {
	if p.publisher == nil {
		return
	}
	ev := events.StatusEvent{
		ItemID:     item.ID,
		OwnerID:    item.OwnerID,
		Type:       string(item.Type),
		FromStatus: string(from),
		ToStatus:   string(item.Status),
		Error:      item.ErrorMessage,
	}
	if err := p.publisher.PublishStatusChange(ctx, ev); err != nil {
		p.logger.Warn("status event publish failed", "item_id", item.ID, "error", err)
	}
}
