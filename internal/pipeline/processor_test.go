package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lectern/internal/content"
	"lectern/internal/services"
	"lectern/internal/store"
)

func openPipelineStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newPendingItem(typ content.Type) *content.Item {
	now := time.Now().UTC()
	return &content.Item{
		ID:        "item-" + string(typ),
		OwnerID:   "owner-1",
		Type:      typ,
		Status:    content.StatusPending,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type fakeTranscriber struct {
	text  string
	dur   int
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, data []byte, filename string) (*services.Transcription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &services.Transcription{Text: f.text, DurationSeconds: f.dur}, nil
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	return f.summary, f.err
}

func newTestProcessor(t *testing.T, st *store.Store, tr services.Transcriber, sum services.Summarizer) *Processor {
	t.Helper()
	p, err := NewProcessor(ProcessorConfig{
		Store:       st,
		Transcriber: tr,
		Summarizer:  sum,
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func TestProcessTextItem(t *testing.T) {
	st := openPipelineStore(t)
	p := newTestProcessor(t, st, nil, nil)

	item := newPendingItem(content.TypeText)
	item.RawText = "First sentence. Second sentence."
	if err := st.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if err := p.Process(context.Background(), item.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := st.GetItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Status != content.StatusReady {
		t.Fatalf("expected ready, got %s (error=%q)", got.Status, got.ErrorMessage)
	}
	if got.Summary != "First sentence. Second sentence." {
		t.Errorf("unexpected fallback summary %q", got.Summary)
	}
	if got.WordCount != 4 {
		t.Errorf("expected 4 words, got %d", got.WordCount)
	}
	if got.ProcessedAt == nil {
		t.Error("ProcessedAt should be set")
	}
	if got.Metadata["processingStage"] != "done" {
		t.Errorf("expected stage done, got %v", got.Metadata["processingStage"])
	}
}

func TestProcessTextItemUsesSummarizer(t *testing.T) {
	st := openPipelineStore(t)
	p := newTestProcessor(t, st, nil, &fakeSummarizer{summary: "A tight abstract."})

	item := newPendingItem(content.TypeText)
	item.RawText = "Some long body of text worth abstracting."
	if err := st.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if err := p.Process(context.Background(), item.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := st.GetItem(context.Background(), item.ID)
	if got.Summary != "A tight abstract." {
		t.Errorf("expected summarizer output, got %q", got.Summary)
	}
}

func TestProcessSummarizerFailureFallsBack(t *testing.T) {
	st := openPipelineStore(t)
	p := newTestProcessor(t, st, nil, &fakeSummarizer{err: errors.New("model down")})

	item := newPendingItem(content.TypeText)
	item.RawText = "Only sentence here."
	if err := st.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := p.Process(context.Background(), item.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := st.GetItem(context.Background(), item.ID)
	if got.Status != content.StatusReady {
		t.Fatalf("summarizer failure must not fail the item, got %s", got.Status)
	}
	if got.Summary != "Only sentence here." {
		t.Errorf("expected fallback summary, got %q", got.Summary)
	}
}

func TestProcessUploadedMedia(t *testing.T) {
	st := openPipelineStore(t)
	tr := &fakeTranscriber{text: "Hello from the recording.", dur: 42}
	p := newTestProcessor(t, st, tr, nil)

	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	item := newPendingItem(content.TypeAudio)
	item.Metadata["uploadPath"] = path
	if err := st.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if err := p.Process(context.Background(), item.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := st.GetItem(context.Background(), item.ID)
	if got.Status != content.StatusReady {
		t.Fatalf("expected ready, got %s (error=%q)", got.Status, got.ErrorMessage)
	}
	if got.Transcript != "Hello from the recording." {
		t.Errorf("unexpected transcript %q", got.Transcript)
	}
	if got.DurationSeconds != 42 {
		t.Errorf("expected duration 42, got %d", got.DurationSeconds)
	}
	if tr.calls != 1 {
		t.Errorf("expected one transcription call, got %d", tr.calls)
	}
}

func TestProcessEmptyTranscriptionFails(t *testing.T) {
	st := openPipelineStore(t)
	p := newTestProcessor(t, st, &fakeTranscriber{text: "   "}, nil)

	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	item := newPendingItem(content.TypeAudio)
	item.Metadata["uploadPath"] = path
	if err := st.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if err := p.Process(context.Background(), item.ID); err != nil {
		t.Fatalf("Process should absorb pipeline failures, got %v", err)
	}

	got, _ := st.GetItem(context.Background(), item.ID)
	if got.Status != content.StatusError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "transcription returned no text") {
		t.Errorf("unexpected error message %q", got.ErrorMessage)
	}
	if got.Summary != "" {
		t.Errorf("failed item must not carry a summary, got %q", got.Summary)
	}
	if got.Metadata["processingStage"] != "failed" {
		t.Errorf("expected stage failed, got %v", got.Metadata["processingStage"])
	}
}

func TestProcessTranscriberErrorFails(t *testing.T) {
	st := openPipelineStore(t)
	p := newTestProcessor(t, st, &fakeTranscriber{err: errors.New("service unreachable")}, nil)

	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	item := newPendingItem(content.TypeVideo)
	item.Metadata["uploadPath"] = path
	if err := st.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := p.Process(context.Background(), item.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := st.GetItem(context.Background(), item.ID)
	if got.Status != content.StatusError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "service unreachable") {
		t.Errorf("unexpected error message %q", got.ErrorMessage)
	}
}

func TestProcessImageShortCircuits(t *testing.T) {
	st := openPipelineStore(t)
	tr := &fakeTranscriber{text: "should not run"}
	p := newTestProcessor(t, st, tr, nil)

	item := newPendingItem(content.TypeImage)
	if err := st.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := p.Process(context.Background(), item.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := st.GetItem(context.Background(), item.ID)
	if got.Status != content.StatusReady {
		t.Fatalf("expected ready, got %s", got.Status)
	}
	if got.Summary != imageSummary {
		t.Errorf("unexpected image summary %q", got.Summary)
	}
	if got.WordCount != 0 {
		t.Errorf("image items carry no word count, got %d", got.WordCount)
	}
	if tr.calls != 0 {
		t.Errorf("image items must not be transcribed, got %d calls", tr.calls)
	}
}

func TestProcessRejectsTerminalItem(t *testing.T) {
	st := openPipelineStore(t)
	p := newTestProcessor(t, st, nil, nil)

	item := newPendingItem(content.TypeText)
	item.Status = content.StatusReady
	item.RawText = "done already"
	if err := st.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if err := p.Process(context.Background(), item.ID); err == nil {
		t.Fatal("expected transition error for ready item")
	}

	got, _ := st.GetItem(context.Background(), item.ID)
	if got.Status != content.StatusReady {
		t.Errorf("ready item must stay ready, got %s", got.Status)
	}
}

func TestProcessMissingItem(t *testing.T) {
	st := openPipelineStore(t)
	p := newTestProcessor(t, st, nil, nil)

	err := p.Process(context.Background(), "no-such-item")
	if !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
