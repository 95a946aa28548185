package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hananf11/echo360/internal/services"
)

const courseColumns = "id, uuid, name, display_name, year, term, enabled, created_at, updated_at"

func scanCourse(row interface{ Scan(...any) error }) (*Course, error) {
	var (
		course               Course
		enabled              int
		createdAt, updatedAt string
	)
	if err := row.Scan(&course.ID, &course.UUID, &course.Name, &course.DisplayName,
		&course.Year, &course.Term, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	course.Enabled = enabled != 0
	course.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	course.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &course, nil
}

// UpsertCourse inserts a course by UUID or refreshes its scraped metadata.
// Display name and enabled flag are user-owned and preserved on update.
func (s *Store) UpsertCourse(ctx context.Context, course *Course) (*Course, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339)
	enabled := 0
	if course.Enabled {
		enabled = 1
	}
	err := s.execWithoutResultRetry(ctx, `
		INSERT INTO courses (uuid, name, display_name, year, term, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			year = excluded.year,
			term = excluded.term,
			updated_at = excluded.updated_at`,
		course.UUID, course.Name, course.DisplayName, course.Year, course.Term, enabled, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert course: %w", err)
	}
	return s.GetCourseByUUID(ctx, course.UUID)
}

// GetCourse returns the course with the given ID.
func (s *Store) GetCourse(ctx context.Context, id int64) (*Course, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+courseColumns+" FROM courses WHERE id = ?", id)
	course, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: course %d", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return course, nil
}

// GetCourseByUUID returns the course with the given Echo section UUID.
func (s *Store) GetCourseByUUID(ctx context.Context, uuid string) (*Course, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+courseColumns+" FROM courses WHERE uuid = ?", uuid)
	course, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: course %s", services.ErrNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("get course by uuid: %w", err)
	}
	return course, nil
}

// ListCourses returns courses ordered by year, term, then name.
func (s *Store) ListCourses(ctx context.Context, onlyEnabled bool) ([]*Course, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + courseColumns + " FROM courses"
	if onlyEnabled {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY year DESC, term, name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var courses []*Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, course)
	}
	return courses, rows.Err()
}

// SetCourseEnabled toggles sync and scheduling participation for a course.
func (s *Store) SetCourseEnabled(ctx context.Context, id int64, enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}
	return s.touchCourse(ctx, id, "enabled = ?", value)
}

// SetCourseDisplayName overrides the scraped course name for presentation.
func (s *Store) SetCourseDisplayName(ctx context.Context, id int64, name string) error {
	return s.touchCourse(ctx, id, "display_name = ?", name)
}

// DeleteCourse removes a course and, through cascades, its lectures and
// artifacts. Files on disk are untouched.
func (s *Store) DeleteCourse(ctx context.Context, id int64) error {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx, "DELETE FROM courses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: course %d", services.ErrNotFound, id)
	}
	return nil
}

func (s *Store) touchCourse(ctx context.Context, id int64, assignment string, value any) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.execWithRetry(ctx,
		"UPDATE courses SET "+assignment+", updated_at = ? WHERE id = ?", value, now, id)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: course %d", services.ErrNotFound, id)
	}
	return nil
}
