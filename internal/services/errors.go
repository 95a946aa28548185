package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	// ErrNoMedia marks a lesson with nothing to fetch. The pipeline persists
	// the dedicated no_media status for it instead of error so that bulk
	// retries skip the lecture.
	ErrNoMedia = errors.New("no media available")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later status classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsNoMedia reports whether an error chain carries the no-media marker.
func IsNoMedia(err error) bool {
	return errors.Is(err, ErrNoMedia)
}

// IsRetryable reports whether an error chain is worth retrying automatically.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout)
}

// Details extracts a human-readable message from a stage error, stripping the
// sentinel prefix so status rows stay compact.
func Details(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, marker := range []error{ErrExternalTool, ErrConfiguration, ErrNotFound, ErrTimeout, ErrTransient, ErrNoMedia} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

// Truncate bounds a persisted error message to keep status rows readable.
func Truncate(message string, limit int) string {
	message = strings.TrimSpace(message)
	if limit <= 0 || len(message) <= limit {
		return message
	}
	return message[:limit]
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
