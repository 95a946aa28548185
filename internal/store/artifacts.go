package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hananf11/echo360/internal/services"
)

// SaveTranscript appends a transcript row for a lecture. Existing rows are
// never touched; readers take the highest id.
func (s *Store) SaveTranscript(ctx context.Context, transcript *Transcript) error {
	ctx = ensureContext(ctx)
	segments, err := json.Marshal(transcript.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	err = s.execWithoutResultRetry(ctx, `
		INSERT INTO transcripts (lecture_id, text, segments, provider, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		transcript.LectureID, transcript.Text, string(segments),
		transcript.Provider, transcript.DurationSeconds, now)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// GetTranscript returns the most recent transcript for a lecture.
func (s *Store) GetTranscript(ctx context.Context, lectureID int64) (*Transcript, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, lecture_id, text, segments, provider, duration_seconds, created_at
		FROM transcripts WHERE lecture_id = ? ORDER BY id DESC LIMIT 1`,
		lectureID)
	var (
		transcript Transcript
		segments   string
		createdAt  string
	)
	err := row.Scan(&transcript.ID, &transcript.LectureID, &transcript.Text, &segments,
		&transcript.Provider, &transcript.DurationSeconds, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transcript for lecture %d", services.ErrNotFound, lectureID)
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	if segments != "" {
		if err := json.Unmarshal([]byte(segments), &transcript.Segments); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	}
	transcript.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &transcript, nil
}

// SaveNotes appends a notes row for a lecture; the highest id wins on read.
func (s *Store) SaveNotes(ctx context.Context, notes *Notes) error {
	ctx = ensureContext(ctx)
	timestamps, err := json.Marshal(notes.FrameTimestamps)
	if err != nil {
		return fmt.Errorf("encode frame timestamps: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	err = s.execWithoutResultRetry(ctx, `
		INSERT INTO notes (lecture_id, title, content, model, frame_timestamps, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		notes.LectureID, notes.Title, notes.Content, notes.Model, string(timestamps), now)
	if err != nil {
		return fmt.Errorf("save notes: %w", err)
	}
	return nil
}

// GetNotes returns the most recent generated notes for a lecture.
func (s *Store) GetNotes(ctx context.Context, lectureID int64) (*Notes, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, lecture_id, title, content, model, frame_timestamps, created_at
		FROM notes WHERE lecture_id = ? ORDER BY id DESC LIMIT 1`,
		lectureID)
	var (
		notes      Notes
		timestamps string
		createdAt  string
	)
	err := row.Scan(&notes.ID, &notes.LectureID, &notes.Title, &notes.Content, &notes.Model, &timestamps, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: notes for lecture %d", services.ErrNotFound, lectureID)
	}
	if err != nil {
		return nil, fmt.Errorf("get notes: %w", err)
	}
	if timestamps != "" {
		if err := json.Unmarshal([]byte(timestamps), &notes.FrameTimestamps); err != nil {
			return nil, fmt.Errorf("decode frame timestamps: %w", err)
		}
	}
	notes.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &notes, nil
}

// ReplaceFrames atomically swaps the extracted frames for a lecture.
func (s *Store) ReplaceFrames(ctx context.Context, lectureID int64, frames []Frame) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin frames tx: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, "DELETE FROM frames WHERE lecture_id = ?", lectureID); err != nil {
			return fmt.Errorf("clear frames: %w", err)
		}
		for _, frame := range frames {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO frames (lecture_id, time_seconds, reason, path, created_at) VALUES (?, ?, ?, ?, ?)",
				lectureID, frame.TimeSeconds, frame.Reason, frame.Path, now); err != nil {
				return fmt.Errorf("insert frame: %w", err)
			}
		}
		return tx.Commit()
	})
}

// GetFrame returns one extracted frame by ID.
func (s *Store) GetFrame(ctx context.Context, id int64) (*Frame, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT id, lecture_id, time_seconds, reason, path, created_at FROM frames WHERE id = ?", id)
	var (
		frame     Frame
		createdAt string
	)
	err := row.Scan(&frame.ID, &frame.LectureID, &frame.TimeSeconds, &frame.Reason, &frame.Path, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: frame %d", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get frame: %w", err)
	}
	frame.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &frame, nil
}

// ListFrames returns a lecture's extracted frames ordered by timestamp.
func (s *Store) ListFrames(ctx context.Context, lectureID int64) ([]Frame, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, lecture_id, time_seconds, reason, path, created_at FROM frames WHERE lecture_id = ? ORDER BY time_seconds",
		lectureID)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var (
			frame     Frame
			createdAt string
		)
		if err := rows.Scan(&frame.ID, &frame.LectureID, &frame.TimeSeconds, &frame.Reason,
			&frame.Path, &createdAt); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		frame.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		frames = append(frames, frame)
	}
	return frames, rows.Err()
}
