package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hananf11/echo360/internal/fileutil"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/store"
)

// EnqueueCourse queues every retrievable lecture in a course: those with
// audio pending or in error. Lectures already processed, in flight, or
// parked as no_media are skipped.
func (p *Pipeline) EnqueueCourse(ctx context.Context, courseID int64) (int, error) {
	lectures, err := p.store.ListLecturesByCourse(ctx, courseID)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, lecture := range lectures {
		switch lecture.AudioStatus {
		case store.AudioPending, store.AudioError:
		default:
			continue
		}
		if err := p.EnqueueDownload(ctx, lecture.ID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return queued, err
		}
		queued++
	}
	p.logger.Info("course enqueued",
		logging.Int64(logging.FieldCourseID, courseID),
		logging.Int("queued", queued))
	return queued, nil
}

// RetryErrored re-queues every lecture with a failed axis whose
// preconditions still hold. no_media and completed lectures are untouched.
func (p *Pipeline) RetryErrored(ctx context.Context) (int, error) {
	retried := 0

	audioErrored, err := p.store.ListLecturesByAudioStatus(ctx, store.AudioError)
	if err != nil {
		return 0, err
	}
	for _, lecture := range audioErrored {
		if err := p.EnqueueDownload(ctx, lecture.ID); err == nil {
			retried++
		}
	}

	type axisEnqueue struct {
		axis    store.Axis
		enqueue func(context.Context, int64) error
	}
	for _, entry := range []axisEnqueue{
		{store.AxisTranscript, p.EnqueueTranscript},
		{store.AxisNotes, p.EnqueueNotes},
		{store.AxisFrames, p.EnqueueFrames},
	} {
		lectures, err := p.store.ListLecturesByDerivedStatus(ctx, entry.axis, store.DerivedError)
		if err != nil {
			return retried, err
		}
		for _, lecture := range lectures {
			if err := entry.enqueue(ctx, lecture.ID); err == nil {
				retried++
			}
		}
	}

	p.logger.Info("errored lectures retried", logging.Int("count", retried))
	return retried, nil
}

// Redownload discards a finished lecture's artifacts and runs the whole
// pipeline again from retrieval.
func (p *Pipeline) Redownload(ctx context.Context, lectureID int64) error {
	lecture, err := p.store.GetLecture(ctx, lectureID)
	if err != nil {
		return err
	}
	if lecture.AudioStatus != store.AudioDone {
		return fmt.Errorf("%w: lecture %d audio is %s, not done", store.ErrConflict, lectureID, lecture.AudioStatus)
	}
	if lecture.TranscriptStatus.IsActive() || lecture.NotesStatus.IsActive() || lecture.FramesStatus.IsActive() {
		return fmt.Errorf("%w: lecture %d has derived work in flight", store.ErrConflict, lectureID)
	}

	if err := p.store.TransitionAudio(ctx, lectureID, store.AudioDone, store.AudioPending); err != nil {
		return err
	}
	for _, axis := range []store.Axis{store.AxisTranscript, store.AxisNotes, store.AxisFrames} {
		if err := p.store.ForceDerivedStatus(ctx, lectureID, axis, store.DerivedPending, ""); err != nil {
			return err
		}
	}

	if lecture.OpusPath != "" {
		if err := fileutil.RemoveIfExists(lecture.OpusPath); err != nil {
			p.logger.Warn("failed to delete old audio", logging.Error(err))
		}
	}
	if err := p.store.SetLecturePaths(ctx, lectureID, "", ""); err != nil {
		return err
	}
	return p.EnqueueDownload(ctx, lectureID)
}
