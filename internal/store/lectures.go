package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hananf11/echo360/internal/services"
)

const lectureColumns = `id, course_id, media_id, lesson_id, title, date, duration_seconds,
	has_video, available_video,
	audio_status, transcript_status, notes_status, frames_status,
	audio_error, transcript_error, notes_error, frames_error,
	raw_path, opus_path, stream_json, created_at, updated_at`

func scanLecture(row interface{ Scan(...any) error }) (*Lecture, error) {
	var (
		lecture                  Lecture
		hasVideo, availableVideo int
		createdAt, updatedAt     string
	)
	if err := row.Scan(&lecture.ID, &lecture.CourseID, &lecture.MediaID, &lecture.LessonID,
		&lecture.Title, &lecture.Date, &lecture.DurationSeconds,
		&hasVideo, &availableVideo,
		&lecture.AudioStatus, &lecture.TranscriptStatus, &lecture.NotesStatus, &lecture.FramesStatus,
		&lecture.AudioError, &lecture.TranscriptError, &lecture.NotesError, &lecture.FramesError,
		&lecture.RawPath, &lecture.OpusPath, &lecture.StreamJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	lecture.HasVideo = hasVideo != 0
	lecture.AvailableVideo = availableVideo != 0
	lecture.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	lecture.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &lecture, nil
}

// UpsertLecture inserts a lecture keyed by (course, media) or refreshes its
// scraped metadata. Status axes, errors, and paths are preserved on update.
func (s *Store) UpsertLecture(ctx context.Context, lecture *Lecture) (*Lecture, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339)
	hasVideo, availableVideo := 0, 0
	if lecture.HasVideo {
		hasVideo = 1
	}
	if lecture.AvailableVideo {
		availableVideo = 1
	}
	err := s.execWithoutResultRetry(ctx, `
		INSERT INTO lectures (course_id, media_id, lesson_id, title, date, duration_seconds,
			has_video, available_video, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(course_id, media_id) DO UPDATE SET
			lesson_id = excluded.lesson_id,
			title = excluded.title,
			date = excluded.date,
			duration_seconds = excluded.duration_seconds,
			has_video = excluded.has_video,
			available_video = excluded.available_video,
			updated_at = excluded.updated_at`,
		lecture.CourseID, lecture.MediaID, lecture.LessonID, lecture.Title, lecture.Date,
		lecture.DurationSeconds, hasVideo, availableVideo, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert lecture: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+lectureColumns+" FROM lectures WHERE course_id = ? AND media_id = ?",
		lecture.CourseID, lecture.MediaID)
	stored, err := scanLecture(row)
	if err != nil {
		return nil, fmt.Errorf("reload lecture: %w", err)
	}
	return stored, nil
}

// GetLecture returns the lecture with the given ID.
func (s *Store) GetLecture(ctx context.Context, id int64) (*Lecture, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+lectureColumns+" FROM lectures WHERE id = ?", id)
	lecture, err := scanLecture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: lecture %d", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get lecture: %w", err)
	}
	return lecture, nil
}

// ListLecturesByCourse returns a course's lectures ordered by date.
func (s *Store) ListLecturesByCourse(ctx context.Context, courseID int64) ([]*Lecture, error) {
	return s.queryLectures(ctx,
		"SELECT "+lectureColumns+" FROM lectures WHERE course_id = ? ORDER BY date, id", courseID)
}

// ListLecturesByAudioStatus returns lectures in any of the given audio
// statuses, oldest first.
func (s *Store) ListLecturesByAudioStatus(ctx context.Context, statuses ...AudioStatus) ([]*Lecture, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return s.queryLectures(ctx,
		"SELECT "+lectureColumns+" FROM lectures WHERE audio_status IN ("+placeholders+") ORDER BY id", args...)
}

// ListLecturesByDerivedStatus returns lectures in any of the given statuses
// on one derived axis.
func (s *Store) ListLecturesByDerivedStatus(ctx context.Context, axis Axis, statuses ...DerivedStatus) ([]*Lecture, error) {
	column := axis.column()
	if column == "" || axis == AxisAudio || len(statuses) == 0 {
		return nil, fmt.Errorf("invalid derived axis %q", axis)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return s.queryLectures(ctx,
		"SELECT "+lectureColumns+" FROM lectures WHERE "+column+" IN ("+placeholders+") ORDER BY id", args...)
}

func (s *Store) queryLectures(ctx context.Context, query string, args ...any) ([]*Lecture, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lectures: %w", err)
	}
	defer rows.Close()

	var lectures []*Lecture
	for rows.Next() {
		lecture, err := scanLecture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lecture: %w", err)
		}
		lectures = append(lectures, lecture)
	}
	return lectures, rows.Err()
}

// SetLecturePaths records the raw and converted audio file locations.
// An empty string clears a path.
func (s *Store) SetLecturePaths(ctx context.Context, id int64, rawPath, opusPath string) error {
	return s.touchLecture(ctx, id, "raw_path = ?, opus_path = ?", rawPath, opusPath)
}

// SetStreamJSON caches the resolved stream description for a lecture.
func (s *Store) SetStreamJSON(ctx context.Context, id int64, streamJSON string) error {
	return s.touchLecture(ctx, id, "stream_json = ?", streamJSON)
}

func (s *Store) touchLecture(ctx context.Context, id int64, assignments string, values ...any) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339)
	args := append(values, now, id)
	res, err := s.execWithRetry(ctx,
		"UPDATE lectures SET "+assignments+", updated_at = ? WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update lecture: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lecture: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: lecture %d", services.ErrNotFound, id)
	}
	return nil
}

// CountsByAudioStatus aggregates lecture counts for presentation.
func (s *Store) CountsByAudioStatus(ctx context.Context) (StatusCounts, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT audio_status, COUNT(*) FROM lectures GROUP BY audio_status")
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count lectures: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, fmt.Errorf("scan counts: %w", err)
		}
		counts.Total += n
		switch AudioStatus(status) {
		case AudioPending:
			counts.Pending += n
		case AudioQueued:
			counts.Queued += n
		case AudioDownloading, AudioConverting:
			counts.InFlight += n
		case AudioDownloaded:
			counts.Downloaded += n
		case AudioDone:
			counts.Done += n
		case AudioError:
			counts.Errored += n
		case AudioNoMedia:
			counts.NoMedia += n
		}
	}
	return counts, rows.Err()
}
