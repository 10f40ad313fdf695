package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"lectern/internal/content"
	"lectern/internal/dispatch"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(id, owner string) *content.Item {
	return &content.Item{
		ID:       id,
		OwnerID:  owner,
		Type:     content.TypeAudio,
		Status:   content.StatusPending,
		Title:    "Episode 1",
		Source:   "https://example.com/ep1.mp3",
		Metadata: map[string]any{"processingStage": "queued"},
	}
}

func TestStore_ItemRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item := testItem("item-1", "owner-1")
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	got, err := s.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.OwnerID != "owner-1" || got.Type != content.TypeAudio || got.Status != content.StatusPending {
		t.Errorf("unexpected item: %+v", got)
	}
	if got.Metadata["processingStage"] != "queued" {
		t.Errorf("metadata lost in roundtrip: %+v", got.Metadata)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set on create")
	}

	got.Status = content.StatusProcessing
	got.Transcript = "hello world"
	now := time.Now().UTC()
	got.ProcessedAt = &now
	if err := s.UpdateItem(ctx, got); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	reread, err := s.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetItem after update: %v", err)
	}
	if reread.Status != content.StatusProcessing || reread.Transcript != "hello world" {
		t.Errorf("update not persisted: %+v", reread)
	}
	if reread.ProcessedAt == nil {
		t.Error("processed_at not persisted")
	}
}

func TestStore_GetItemNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetItem(context.Background(), "nope"); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_UpdateItemNotFound(t *testing.T) {
	s := openTestStore(t)
	item := testItem("ghost", "owner-1")
	if err := s.UpdateItem(context.Background(), item); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListItemsFiltersByOwnerAndStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := testItem("a", "owner-1")
	b := testItem("b", "owner-1")
	b.Status = content.StatusReady
	c := testItem("c", "owner-2")
	for _, item := range []*content.Item{a, b, c} {
		if err := s.CreateItem(ctx, item); err != nil {
			t.Fatalf("CreateItem(%s): %v", item.ID, err)
		}
	}

	all, err := s.ListItems(ctx, "owner-1", "")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("owner-1 has %d items, want 2", len(all))
	}

	ready, err := s.ListItems(ctx, "owner-1", content.StatusReady)
	if err != nil {
		t.Fatalf("ListItems(ready): %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Errorf("unexpected ready items: %+v", ready)
	}
}

func TestStore_ListStuckProcessing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stale := testItem("stale", "owner-1")
	stale.Status = content.StatusProcessing
	fresh := testItem("fresh", "owner-1")
	fresh.Status = content.StatusProcessing
	done := testItem("done", "owner-1")
	done.Status = content.StatusReady
	for _, item := range []*content.Item{stale, fresh, done} {
		if err := s.CreateItem(ctx, item); err != nil {
			t.Fatalf("CreateItem(%s): %v", item.ID, err)
		}
	}

	// Backdate the stale row two hours.
	past := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET updated_at = ? WHERE id = ?`, past, "stale"); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	stuck, err := s.ListStuckProcessing(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStuckProcessing: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "stale" {
		t.Errorf("unexpected stuck set: %+v", stuck)
	}
}

func TestStore_ListStuckProcessingMixedPrecision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// RFC 3339 drops trailing fractional zeros, so rows written in the
	// same second can carry different precision. A whole-second stamp
	// sorts after a fractional one as a string even though it is older.
	older := testItem("older", "owner-1")
	older.Status = content.StatusProcessing
	newer := testItem("newer", "owner-1")
	newer.Status = content.StatusProcessing
	for _, item := range []*content.Item{older, newer} {
		if err := s.CreateItem(ctx, item); err != nil {
			t.Fatalf("CreateItem(%s): %v", item.ID, err)
		}
	}

	base := time.Date(2026, time.March, 14, 10, 0, 5, 0, time.UTC)
	stamps := map[string]time.Time{
		"older": base,                             // 10:00:05Z
		"newer": base.Add(900 * time.Millisecond), // 10:00:05.9Z
	}
	for id, ts := range stamps {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE content_items SET updated_at = ? WHERE id = ?`,
			ts.Format(time.RFC3339Nano), id); err != nil {
			t.Fatalf("backdate %s: %v", id, err)
		}
	}

	cutoff := base.Add(500 * time.Millisecond)
	stuck, err := s.ListStuckProcessing(ctx, cutoff)
	if err != nil {
		t.Fatalf("ListStuckProcessing: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "older" {
		t.Errorf("unexpected stuck set: %+v", stuck)
	}
}

func TestStore_JobRoundtripAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := &dispatch.Record{
		Key:      "audio-item-1",
		Kind:     "media",
		Payload:  map[string]any{"itemId": "item-1"},
		Priority: dispatch.PriorityDefault,
		Status:   dispatch.StatusQueued,
	}
	if err := s.InsertJob(ctx, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	got, err := s.GetJob(ctx, "audio-item-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil || got.Kind != "media" || got.PayloadString("itemId") != "item-1" {
		t.Errorf("unexpected job: %+v", got)
	}

	missing, err := s.GetJob(ctx, "nope")
	if err != nil {
		t.Fatalf("GetJob(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("missing job should be nil, got %+v", missing)
	}

	// Finish the job long enough ago that pruning collects it.
	finished := time.Now().UTC().Add(-3 * time.Hour)
	got.Status = dispatch.StatusCompleted
	got.FinishedAt = &finished
	if err := s.UpdateJob(ctx, got); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	pruned, err := s.PruneJobs(ctx,
		time.Now().UTC().Add(-time.Hour),
		time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneJobs: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d jobs, want 1", pruned)
	}

	gone, err := s.GetJob(ctx, "audio-item-1")
	if err != nil {
		t.Fatalf("GetJob after prune: %v", err)
	}
	if gone != nil {
		t.Error("pruned job should be gone")
	}
}

func TestStore_ListQueuedJobsOrdersByPriority(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, j := range []*dispatch.Record{
		{Key: "low", Kind: "media", Priority: dispatch.PriorityDefault, Status: dispatch.StatusQueued},
		{Key: "high", Kind: "media", Priority: dispatch.PriorityRetry, Status: dispatch.StatusQueued},
		{Key: "done", Kind: "media", Priority: dispatch.PriorityDefault, Status: dispatch.StatusCompleted},
	} {
		if err := s.InsertJob(ctx, j); err != nil {
			t.Fatalf("InsertJob(%s): %v", j.Key, err)
		}
	}

	queued, err := s.ListQueuedJobs(ctx)
	if err != nil {
		t.Fatalf("ListQueuedJobs: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("got %d queued jobs, want 2", len(queued))
	}
	if queued[0].Key != "high" {
		t.Errorf("first queued job = %s, want high (lower priority value first)", queued[0].Key)
	}
}

func TestStore_AudiobookRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ab := &content.Audiobook{
		ID:      "ab-1",
		BookID:  "book-1",
		Voice:   "onyx",
		Options: content.AudiobookOptions{Intro: true},
		Status:  content.AudiobookPending,
	}
	if err := s.CreateAudiobook(ctx, ab); err != nil {
		t.Fatalf("CreateAudiobook: %v", err)
	}

	got, err := s.GetAudiobook(ctx, "ab-1")
	if err != nil {
		t.Fatalf("GetAudiobook: %v", err)
	}
	if got.Voice != "onyx" || !got.Options.Intro || got.Options.Outro {
		t.Errorf("unexpected audiobook: %+v", got)
	}

	got.Status = content.AudiobookReady
	got.AudioURL = "https://cdn.example.com/book-1.mp3"
	got.DurationSeconds = 360
	got.FileSize = 42_000_000
	if err := s.UpdateAudiobook(ctx, got); err != nil {
		t.Fatalf("UpdateAudiobook: %v", err)
	}

	reread, err := s.GetAudiobook(ctx, "ab-1")
	if err != nil {
		t.Fatalf("GetAudiobook after update: %v", err)
	}
	if reread.Status != content.AudiobookReady || reread.AudioURL == "" || reread.FileSize != 42_000_000 {
		t.Errorf("update not persisted: %+v", reread)
	}

	if _, err := s.GetAudiobook(ctx, "nope"); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
