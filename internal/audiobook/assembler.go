package audiobook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"lectern/internal/content"
	"lectern/internal/dispatch"
	"lectern/internal/services"
	"lectern/internal/sources"
	"lectern/internal/store"
)

// JobKind is the dispatcher kind for audiobook assembly jobs.
const JobKind = "audiobook"

// Assembler turns a book's ordered chapters into one uploaded audio file:
// per-chapter synthesis, concatenation, upload, record update.
type Assembler struct {
	store  *store.Store
	synth  services.Synthesizer
	blobs  services.BlobStore
	logger *slog.Logger
}

// Config configures an Assembler.
type Config struct {
	Store       *store.Store
	Synthesizer services.Synthesizer
	BlobStore   services.BlobStore
	Logger      *slog.Logger
}

// New creates an assembler.
func New(cfg Config) (*Assembler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if cfg.BlobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:  cfg.Store,
		synth:  cfg.Synthesizer,
		blobs:  cfg.BlobStore,
		logger: logger,
	}, nil
}

// defaultVoice matches the speech client's default so records created
// without an explicit voice stay consistent with what gets synthesized.
const defaultVoice = "onyx"

// CreateRequest starts one audiobook build. Title is only used for spoken
// intro/outro announcements when the options enable them.
type CreateRequest struct {
	BookID   string
	Title    string
	Voice    string
	Options  content.AudiobookOptions
	Chapters []content.Chapter
}

// Create records a pending audiobook and enqueues its assembly job. The
// chapters travel in the job payload so the executor needs no book store.
func (a *Assembler) Create(ctx context.Context, d *dispatch.Dispatcher, req CreateRequest) (*content.Audiobook, error) {
	if req.BookID == "" {
		return nil, content.NewValidationError("bookId", "is required")
	}
	if len(req.Chapters) == 0 {
		return nil, content.NewValidationError("chapters", "at least one chapter is required")
	}
	if d == nil || !d.Available() {
		return nil, content.ErrWorkerUnavailable
	}

	voice := req.Voice
	if voice == "" {
		voice = defaultVoice
	}

	ab := &content.Audiobook{
		ID:      uuid.NewString(),
		BookID:  req.BookID,
		Voice:   voice,
		Options: req.Options,
		Status:  content.AudiobookPending,
	}
	if err := a.store.CreateAudiobook(ctx, ab); err != nil {
		return nil, fmt.Errorf("create audiobook: %w", err)
	}

	payload := map[string]any{
		"audiobookId": ab.ID,
		"title":       req.Title,
		"chapters":    req.Chapters,
	}
	key := fmt.Sprintf("%s-%s", JobKind, ab.ID)
	if _, err := d.Enqueue(ctx, key, JobKind, payload, dispatch.PriorityDefault); err != nil {
		return nil, fmt.Errorf("enqueue assembly: %w", err)
	}

	return ab, nil
}

// Get returns the audiobook record.
func (a *Assembler) Get(ctx context.Context, id string) (*content.Audiobook, error) {
	return a.store.GetAudiobook(ctx, id)
}

// Processor returns the job executor for assembly jobs. Any failure inside
// the build is written to the record as status=error and not returned, so
// the dispatcher does not burn retries re-synthesizing a whole book.
func (a *Assembler) Processor() dispatch.Processor {
	return func(ctx context.Context, job *dispatch.Record) error {
		id := job.PayloadString("audiobookId")
		if id == "" {
			return fmt.Errorf("job %s has no audiobookId", job.Key)
		}
		chapters, err := decodeChapters(job.Payload["chapters"])
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Key, err)
		}

		if err := a.Assemble(ctx, id, job.PayloadString("title"), chapters); err != nil {
			a.fail(ctx, id, err)
		}
		return nil
	}
}

// Assemble synthesizes, concatenates and uploads the book.
func (a *Assembler) Assemble(ctx context.Context, id, title string, chapters []content.Chapter) error {
	ab, err := a.store.GetAudiobook(ctx, id)
	if err != nil {
		return fmt.Errorf("load audiobook: %w", err)
	}

	ab.Status = content.AudiobookProcessing
	ab.ErrorMessage = ""
	if err := a.store.UpdateAudiobook(ctx, ab); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	segments, err := a.synthesize(ctx, ab, title, chapters)
	if err != nil {
		return err
	}

	audio, err := Concatenate(ctx, segments)
	if err != nil {
		return err
	}

	seconds, err := Duration(ctx, audio)
	if err != nil {
		a.logger.Warn("duration probe failed", "audiobook_id", ab.ID, "error", err)
		seconds = 0
	}

	path := fmt.Sprintf("audiobooks/%s/%s-%d.mp3", ab.BookID, ab.Voice, time.Now().UTC().Unix())
	url, err := a.blobs.Upload(ctx, path, audio, "audio/mpeg")
	if err != nil {
		return fmt.Errorf("upload audiobook: %w", err)
	}

	ab.Status = content.AudiobookReady
	ab.AudioURL = url
	ab.DurationSeconds = seconds
	ab.FileSize = int64(len(audio))
	ab.ErrorMessage = ""
	if err := a.store.UpdateAudiobook(ctx, ab); err != nil {
		return fmt.Errorf("record result: %w", err)
	}

	a.logger.Info("audiobook assembled",
		"audiobook_id", ab.ID, "chapters", len(chapters), "bytes", len(audio), "url", url)
	return nil
}

// synthesize produces one audio segment per chapter, with optional spoken
// intro and outro announcements around them.
func (a *Assembler) synthesize(ctx context.Context, ab *content.Audiobook, title string, chapters []content.Chapter) ([][]byte, error) {
	var texts []string
	if ab.Options.Intro {
		texts = append(texts, introText(title))
	}
	for _, ch := range chapters {
		text := sources.StripMarkup(ch.Content)
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("chapter %d (%s) has no readable text", ch.Number, ch.Title)
		}
		if ch.Title != "" {
			text = fmt.Sprintf("Chapter %d. %s.\n\n%s", ch.Number, ch.Title, text)
		}
		texts = append(texts, text)
	}
	if ab.Options.Outro {
		texts = append(texts, outroText(title))
	}

	segments := make([][]byte, 0, len(texts))
	for i, text := range texts {
		result, err := a.synth.Synthesize(ctx, text, ab.Voice)
		if err != nil {
			return nil, fmt.Errorf("synthesize segment %d: %w", i+1, err)
		}
		segments = append(segments, result.Audio)
	}
	return segments, nil
}

func (a *Assembler) fail(ctx context.Context, id string, buildErr error) {
	ab, err := a.store.GetAudiobook(ctx, id)
	if err != nil {
		a.logger.Error("failed to load audiobook for error update", "audiobook_id", id, "error", err)
		return
	}
	ab.Status = content.AudiobookError
	ab.ErrorMessage = buildErr.Error()
	if err := a.store.UpdateAudiobook(ctx, ab); err != nil {
		a.logger.Error("failed to record audiobook error", "audiobook_id", id, "error", err)
		return
	}
	a.logger.Warn("audiobook assembly failed", "audiobook_id", id, "error", buildErr)
}

func introText(title string) string {
	if title == "" {
		return "Beginning of audiobook."
	}
	return fmt.Sprintf("%s. An audiobook narration.", title)
}

func outroText(title string) string {
	if title == "" {
		return "End of audiobook. Thank you for listening."
	}
	return fmt.Sprintf("End of %s. Thank you for listening.", title)
}

// decodeChapters re-decodes the payload's chapter list, which arrives as
// generic JSON after a round-trip through the jobs table.
func decodeChapters(v any) ([]content.Chapter, error) {
	if v == nil {
		return nil, fmt.Errorf("payload has no chapters")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("re-encode chapters: %w", err)
	}
	var chapters []content.Chapter
	if err := json.Unmarshal(raw, &chapters); err != nil {
		return nil, fmt.Errorf("decode chapters: %w", err)
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("payload has no chapters")
	}
	return chapters, nil
}
