package store

import (
	"context"
	"fmt"
)

const schemaVersion = 2

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS courses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		term TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lectures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_id INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		media_id TEXT NOT NULL,
		lesson_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL DEFAULT 0,
		has_video INTEGER NOT NULL DEFAULT 0,
		available_video INTEGER NOT NULL DEFAULT 0,
		audio_status TEXT NOT NULL DEFAULT 'pending',
		transcript_status TEXT NOT NULL DEFAULT 'pending',
		notes_status TEXT NOT NULL DEFAULT 'pending',
		frames_status TEXT NOT NULL DEFAULT 'pending',
		audio_error TEXT NOT NULL DEFAULT '',
		transcript_error TEXT NOT NULL DEFAULT '',
		notes_error TEXT NOT NULL DEFAULT '',
		frames_error TEXT NOT NULL DEFAULT '',
		raw_path TEXT NOT NULL DEFAULT '',
		opus_path TEXT NOT NULL DEFAULT '',
		stream_json TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(course_id, media_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lecture_id INTEGER NOT NULL REFERENCES lectures(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		segments TEXT NOT NULL DEFAULT '[]',
		provider TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lecture_id INTEGER NOT NULL REFERENCES lectures(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		frame_timestamps TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS frames (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lecture_id INTEGER NOT NULL REFERENCES lectures(id) ON DELETE CASCADE,
		time_seconds REAL NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lectures_course ON lectures(course_id)`,
	`CREATE INDEX IF NOT EXISTS idx_lectures_audio_status ON lectures(audio_status)`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_lecture ON transcripts(lecture_id)`,
	`CREATE INDEX IF NOT EXISTS idx_notes_lecture ON notes(lecture_id)`,
	`CREATE INDEX IF NOT EXISTS idx_frames_lecture ON frames(lecture_id)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range createStatements {
		if err := s.execWithoutResultRetry(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version < schemaVersion {
		if err := s.execWithoutResultRetry(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	return nil
}
