package store

import (
	"context"
	"fmt"

	"github.com/hananf11/echo360/internal/services"
)

// TransitionAudio moves a lecture's audio axis from one status to another.
// The update is conditional on the row still holding from, so concurrent
// schedulers cannot double-claim a lecture. Returns ErrConflict when the
// transition is not permitted or the row has moved on.
func (s *Store) TransitionAudio(ctx context.Context, id int64, from, to AudioStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: audio %s -> %s", ErrConflict, from, to)
	}
	return s.transition(ctx, id, AxisAudio, string(from), string(to), "")
}

// TransitionDerived moves a lecture along one of the derived axes.
func (s *Store) TransitionDerived(ctx context.Context, id int64, axis Axis, from, to DerivedStatus) error {
	if axis == AxisAudio || axis.column() == "" {
		return fmt.Errorf("invalid derived axis %q", axis)
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrConflict, axis, from, to)
	}
	return s.transition(ctx, id, axis, string(from), string(to), "")
}

// FailAxis moves an axis to its error status and records the message. The
// audio axis also clears in the other direction: leaving error resets the
// message via transition.
func (s *Store) FailAxis(ctx context.Context, id int64, axis Axis, from string, message string) error {
	to := "error"
	return s.transition(ctx, id, axis, from, to, services.Truncate(message, 1000))
}

// MarkNoMedia parks a lecture that has no retrievable audio.
func (s *Store) MarkNoMedia(ctx context.Context, id int64, from AudioStatus) error {
	if !from.CanTransition(AudioNoMedia) {
		return fmt.Errorf("%w: audio %s -> %s", ErrConflict, from, AudioNoMedia)
	}
	return s.transition(ctx, id, AxisAudio, string(from), string(AudioNoMedia), "")
}

func (s *Store) transition(ctx context.Context, id int64, axis Axis, from, to, errorMessage string) error {
	ctx = ensureContext(ctx)
	column := axis.column()
	errColumn := axis.errorColumn()

	query := "UPDATE lectures SET " + column + " = ?, " + errColumn + " = ?, updated_at = datetime('now') " +
		"WHERE id = ? AND " + column + " = ?"
	res, err := s.execWithRetry(ctx, query, to, errorMessage, id, from)
	if err != nil {
		return fmt.Errorf("transition %s: %w", axis, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition %s: %w", axis, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: lecture %d %s not in %s", ErrConflict, id, axis, from)
	}
	return nil
}

// ForceAudioStatus sets the audio axis unconditionally. Reserved for startup
// recovery, which repairs states no runtime transition permits.
func (s *Store) ForceAudioStatus(ctx context.Context, id int64, to AudioStatus, message string) error {
	return s.touchLecture(ctx, id, "audio_status = ?, audio_error = ?", string(to), services.Truncate(message, 1000))
}

// ForceDerivedStatus sets a derived axis unconditionally during recovery.
func (s *Store) ForceDerivedStatus(ctx context.Context, id int64, axis Axis, to DerivedStatus, message string) error {
	if axis == AxisAudio || axis.column() == "" {
		return fmt.Errorf("invalid derived axis %q", axis)
	}
	return s.touchLecture(ctx, id,
		axis.column()+" = ?, "+axis.errorColumn()+" = ?", string(to), services.Truncate(message, 1000))
}
