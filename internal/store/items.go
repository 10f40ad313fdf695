package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lectern/internal/content"
)

const itemColumns = `id, owner_id, type, status, title, source, transcript,
    raw_text, summary, word_count, duration_seconds, thumbnail, metadata_json,
    error_message, created_at, updated_at, processed_at`

// CreateItem inserts a new content item.
func (s *Store) CreateItem(ctx context.Context, item *content.Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	metadataJSON, err := marshalMetadata(item.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO content_items (
            id, owner_id, type, status, title, source, transcript, raw_text,
            summary, word_count, duration_seconds, thumbnail, metadata_json,
            error_message, created_at, updated_at, processed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.OwnerID,
		string(item.Type),
		string(item.Status),
		nullableString(item.Title),
		nullableString(item.Source),
		nullableString(item.Transcript),
		nullableString(item.RawText),
		nullableString(item.Summary),
		item.WordCount,
		item.DurationSeconds,
		nullableString(item.Thumbnail),
		metadataJSON,
		nullableString(item.ErrorMessage),
		item.CreatedAt.Format(time.RFC3339Nano),
		item.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(item.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("insert content item: %w", err)
	}
	return nil
}

// GetItem fetches a content item by id. Returns content.ErrNotFound when the
// record does not exist.
func (s *Store) GetItem(ctx context.Context, id string) (*content.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM content_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, content.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content item: %w", err)
	}
	return item, nil
}

// UpdateItem persists the full state of an existing content item. The caller
// performs read-modify-write so metadata keys it does not own survive.
func (s *Store) UpdateItem(ctx context.Context, item *content.Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()

	metadataJSON, err := marshalMetadata(item.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE content_items
         SET owner_id = ?, type = ?, status = ?, title = ?, source = ?,
             transcript = ?, raw_text = ?, summary = ?, word_count = ?,
             duration_seconds = ?, thumbnail = ?, metadata_json = ?,
             error_message = ?, updated_at = ?, processed_at = ?
         WHERE id = ?`,
		item.OwnerID,
		string(item.Type),
		string(item.Status),
		nullableString(item.Title),
		nullableString(item.Source),
		nullableString(item.Transcript),
		nullableString(item.RawText),
		nullableString(item.Summary),
		item.WordCount,
		item.DurationSeconds,
		nullableString(item.Thumbnail),
		metadataJSON,
		nullableString(item.ErrorMessage),
		item.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(item.ProcessedAt),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update content item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return content.ErrNotFound
	}
	return nil
}

// DeleteItem removes a content item by id.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete content item: %w", err)
	}
	return nil
}

// ListItems returns items for an owner, optionally filtered by status.
func (s *Store) ListItems(ctx context.Context, ownerID string, status content.Status) ([]*content.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM content_items WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListStuckProcessing returns items in processing whose updated_at (or
// created_at when the row was never updated) is older than the cutoff. The
// age check happens on parsed times: RFC 3339 strings with differing
// fractional precision do not order correctly under SQL string comparison.
func (s *Store) ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]*content.Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM content_items WHERE status = ?`,
		string(content.StatusProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("list stuck items: %w", err)
	}
	defer rows.Close()

	all, err := collectItems(rows)
	if err != nil {
		return nil, err
	}

	var stuck []*content.Item
	for _, item := range all {
		last := item.UpdatedAt
		if last.IsZero() {
			last = item.CreatedAt
		}
		if last.Before(cutoff) {
			stuck = append(stuck, item)
		}
	}
	return stuck, nil
}

func collectItems(rows *sql.Rows) ([]*content.Item, error) {
	var items []*content.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*content.Item, error) {
	var (
		item            content.Item
		itemType        string
		status          string
		title           sql.NullString
		source          sql.NullString
		transcript      sql.NullString
		rawText         sql.NullString
		summary         sql.NullString
		thumbnail       sql.NullString
		metadataRaw     sql.NullString
		errorMessage    sql.NullString
		createdAtRaw    string
		updatedAtRaw    string
		processedAtRaw  sql.NullString
	)

	if err := row.Scan(
		&item.ID,
		&item.OwnerID,
		&itemType,
		&status,
		&title,
		&source,
		&transcript,
		&rawText,
		&summary,
		&item.WordCount,
		&item.DurationSeconds,
		&thumbnail,
		&metadataRaw,
		&errorMessage,
		&createdAtRaw,
		&updatedAtRaw,
		&processedAtRaw,
	); err != nil {
		return nil, err
	}

	item.Type = content.Type(itemType)
	item.Status = content.Status(status)
	item.Title = title.String
	item.Source = source.String
	item.Transcript = transcript.String
	item.RawText = rawText.String
	item.Summary = summary.String
	item.Thumbnail = thumbnail.String
	item.ErrorMessage = errorMessage.String

	if metadataRaw.Valid && metadataRaw.String != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(metadataRaw.String), &meta); err == nil {
			item.Metadata = meta
		}
	}

	var err error
	if item.CreatedAt, err = parseTimeString(createdAtRaw); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if item.UpdatedAt, err = parseTimeString(updatedAtRaw); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if processedAtRaw.Valid && processedAtRaw.String != "" {
		if t, perr := parseTimeString(processedAtRaw.String); perr == nil {
			item.ProcessedAt = &t
		}
	}

	return &item, nil
}

func marshalMetadata(meta map[string]any) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(raw), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
