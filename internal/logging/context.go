package logging

import (
	"context"
	"log/slog"

	"github.com/hananf11/echo360/internal/services"
)

// WithContext enriches a logger with the pipeline annotations carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	attrs := make([]Attr, 0, 4)
	if id, ok := services.LectureIDFromContext(ctx); ok {
		attrs = append(attrs, Int64(FieldLectureID, id))
	}
	if id, ok := services.CourseIDFromContext(ctx); ok {
		attrs = append(attrs, Int64(FieldCourseID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		attrs = append(attrs, String(FieldStage, stage))
	}
	if id, ok := services.RequestIDFromContext(ctx); ok {
		attrs = append(attrs, String(FieldRequestID, id))
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(Args(attrs...)...)
}
