package services

import "context"

type contextKey string

const (
	lectureIDKey contextKey = "lecture_id"
	courseIDKey  contextKey = "course_id"
	stageKey     contextKey = "stage"
	requestIDKey contextKey = "request_id"
)

// WithLectureID annotates context with the lecture identifier.
func WithLectureID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, lectureIDKey, id)
}

// LectureIDFromContext extracts the lecture identifier if present.
func LectureIDFromContext(ctx context.Context) (int64, bool) {
	switch v := ctx.Value(lectureIDKey).(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// WithCourseID annotates context with the course identifier.
func WithCourseID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, courseIDKey, id)
}

// CourseIDFromContext extracts the course identifier if present.
func CourseIDFromContext(ctx context.Context) (int64, bool) {
	if v, ok := ctx.Value(courseIDKey).(int64); ok {
		return v, true
	}
	return 0, false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
