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

const audiobookColumns = `id, book_id, voice, options_json, status, audio_url,
    duration_seconds, file_size, error_message, created_at, updated_at`

// CreateAudiobook inserts a new audiobook record.
func (s *Store) CreateAudiobook(ctx context.Context, ab *content.Audiobook) error {
	if ab == nil {
		return errors.New("audiobook is nil")
	}
	now := time.Now().UTC()
	if ab.CreatedAt.IsZero() {
		ab.CreatedAt = now
	}
	ab.UpdatedAt = now

	optionsJSON, err := json.Marshal(ab.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO audiobooks (
            id, book_id, voice, options_json, status, audio_url,
            duration_seconds, file_size, error_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ab.ID,
		ab.BookID,
		ab.Voice,
		string(optionsJSON),
		string(ab.Status),
		nullableString(ab.AudioURL),
		ab.DurationSeconds,
		ab.FileSize,
		nullableString(ab.ErrorMessage),
		ab.CreatedAt.Format(time.RFC3339Nano),
		ab.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audiobook: %w", err)
	}
	return nil
}

// GetAudiobook fetches an audiobook by id.
func (s *Store) GetAudiobook(ctx context.Context, id string) (*content.Audiobook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+audiobookColumns+` FROM audiobooks WHERE id = ?`, id)
	ab, err := scanAudiobook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, content.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audiobook: %w", err)
	}
	return ab, nil
}

// UpdateAudiobook persists the full state of an existing audiobook.
func (s *Store) UpdateAudiobook(ctx context.Context, ab *content.Audiobook) error {
	if ab == nil {
		return errors.New("audiobook is nil")
	}
	ab.UpdatedAt = time.Now().UTC()

	optionsJSON, err := json.Marshal(ab.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE audiobooks
         SET book_id = ?, voice = ?, options_json = ?, status = ?,
             audio_url = ?, duration_seconds = ?, file_size = ?,
             error_message = ?, updated_at = ?
         WHERE id = ?`,
		ab.BookID,
		ab.Voice,
		string(optionsJSON),
		string(ab.Status),
		nullableString(ab.AudioURL),
		ab.DurationSeconds,
		ab.FileSize,
		nullableString(ab.ErrorMessage),
		ab.UpdatedAt.Format(time.RFC3339Nano),
		ab.ID,
	)
	if err != nil {
		return fmt.Errorf("update audiobook: %w", err)
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

// ListAudiobooks returns all audiobooks for a book.
func (s *Store) ListAudiobooks(ctx context.Context, bookID string) ([]*content.Audiobook, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+audiobookColumns+` FROM audiobooks WHERE book_id = ? ORDER BY created_at`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audiobooks: %w", err)
	}
	defer rows.Close()

	var books []*content.Audiobook
	for rows.Next() {
		ab, err := scanAudiobook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, ab)
	}
	return books, rows.Err()
}

func scanAudiobook(row rowScanner) (*content.Audiobook, error) {
	var (
		ab           content.Audiobook
		optionsRaw   sql.NullString
		status       string
		audioURL     sql.NullString
		errorMessage sql.NullString
		createdAtRaw string
		updatedAtRaw string
	)

	if err := row.Scan(
		&ab.ID,
		&ab.BookID,
		&ab.Voice,
		&optionsRaw,
		&status,
		&audioURL,
		&ab.DurationSeconds,
		&ab.FileSize,
		&errorMessage,
		&createdAtRaw,
		&updatedAtRaw,
	); err != nil {
		return nil, err
	}

	ab.Status = content.AudiobookStatus(status)
	ab.AudioURL = audioURL.String
	ab.ErrorMessage = errorMessage.String

	if optionsRaw.Valid && optionsRaw.String != "" {
		_ = json.Unmarshal([]byte(optionsRaw.String), &ab.Options)
	}

	var err error
	if ab.CreatedAt, err = parseTimeString(createdAtRaw); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if ab.UpdatedAt, err = parseTimeString(updatedAtRaw); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &ab, nil
}
