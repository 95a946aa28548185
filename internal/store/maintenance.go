package store

import (
	"context"
	"fmt"
)

// ActiveAudioLectures returns lectures whose audio axis names in-flight
// work, as found after an unclean shutdown.
func (s *Store) ActiveAudioLectures(ctx context.Context) ([]*Lecture, error) {
	return s.ListLecturesByAudioStatus(ctx, AudioQueued, AudioDownloading, AudioConverting)
}

// ActiveDerivedLectures returns lectures with in-flight work on one derived
// axis.
func (s *Store) ActiveDerivedLectures(ctx context.Context, axis Axis) ([]*Lecture, error) {
	return s.ListLecturesByDerivedStatus(ctx, axis, DerivedQueued, axis.Active())
}

// ActiveWork returns every lecture with in-flight work on any axis, oldest
// first.
func (s *Store) ActiveWork(ctx context.Context) ([]*Lecture, error) {
	return s.queryLectures(ctx, `
		SELECT `+lectureColumns+` FROM lectures
		WHERE audio_status IN ('queued', 'downloading', 'converting')
		   OR transcript_status IN ('queued', 'transcribing')
		   OR notes_status IN ('queued', 'generating')
		   OR frames_status IN ('queued', 'extracting')
		ORDER BY updated_at, id`)
}

// DownloadedLectures returns lectures holding a raw download awaiting
// conversion.
func (s *Store) DownloadedLectures(ctx context.Context) ([]*Lecture, error) {
	return s.ListLecturesByAudioStatus(ctx, AudioDownloaded)
}

// KnownRawPaths returns every non-empty raw_path currently referenced, used
// to purge orphaned raw files at startup.
func (s *Store) KnownRawPaths(ctx context.Context) (map[string]struct{}, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT raw_path FROM lectures WHERE raw_path != ''")
	if err != nil {
		return nil, fmt.Errorf("list raw paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan raw path: %w", err)
		}
		paths[path] = struct{}{}
	}
	return paths, rows.Err()
}

// LibraryTotals aggregates artifact counts for the storage report.
type LibraryTotals struct {
	Courses     int `json:"courses"`
	Lectures    int `json:"lectures"`
	Transcripts int `json:"transcripts"`
	Notes       int `json:"notes"`
	Frames      int `json:"frames"`
}

// CourseProgress summarizes per-course pipeline completion.
type CourseProgress struct {
	CourseID    int64  `json:"course_id"`
	Course      string `json:"course"`
	Lectures    int    `json:"lectures"`
	AudioDone   int    `json:"audio_done"`
	Transcribed int    `json:"transcribed"`
	Noted       int    `json:"noted"`
	Errored     int    `json:"errored"`
}

// ProgressByCourse reports completion counts for every course, ordered like
// ListCourses.
func (s *Store) ProgressByCourse(ctx context.Context) ([]CourseProgress, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id,
		       CASE WHEN c.display_name != '' THEN c.display_name ELSE c.name END,
		       COUNT(l.id),
		       COALESCE(SUM(CASE WHEN l.audio_status = 'done' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN l.transcript_status = 'done' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN l.notes_status = 'done' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN l.audio_status = 'error'
		             OR l.transcript_status = 'error'
		             OR l.notes_status = 'error'
		             OR l.frames_status = 'error' THEN 1 ELSE 0 END), 0)
		FROM courses c
		LEFT JOIN lectures l ON l.course_id = c.id
		GROUP BY c.id
		ORDER BY c.year DESC, c.term, c.name`)
	if err != nil {
		return nil, fmt.Errorf("course progress: %w", err)
	}
	defer rows.Close()

	var progress []CourseProgress
	for rows.Next() {
		var row CourseProgress
		if err := rows.Scan(&row.CourseID, &row.Course, &row.Lectures,
			&row.AudioDone, &row.Transcribed, &row.Noted, &row.Errored); err != nil {
			return nil, fmt.Errorf("scan course progress: %w", err)
		}
		progress = append(progress, row)
	}
	return progress, rows.Err()
}

// Totals returns row counts across the library tables.
func (s *Store) Totals(ctx context.Context) (LibraryTotals, error) {
	ctx = ensureContext(ctx)
	var totals LibraryTotals
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM courses", &totals.Courses},
		{"SELECT COUNT(*) FROM lectures", &totals.Lectures},
		{"SELECT COUNT(*) FROM transcripts", &totals.Transcripts},
		{"SELECT COUNT(*) FROM notes", &totals.Notes},
		{"SELECT COUNT(*) FROM frames", &totals.Frames},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return LibraryTotals{}, fmt.Errorf("count rows: %w", err)
		}
	}
	return totals, nil
}
