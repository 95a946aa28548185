package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hananf11/echo360/internal/fileutil"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/notes"
	"github.com/hananf11/echo360/internal/scheduler"
	"github.com/hananf11/echo360/internal/services"
	"github.com/hananf11/echo360/internal/store"
	"github.com/hananf11/echo360/internal/streams"
	"github.com/hananf11/echo360/internal/textutil"
	"github.com/hananf11/echo360/internal/transcribe"
)

func (p *Pipeline) enqueueDerived(ctx context.Context, lectureID int64, axis store.Axis, precondition func(*store.Lecture) error, submit func(int64) error) error {
	lecture, err := p.store.GetLecture(ctx, lectureID)
	if err != nil {
		return err
	}
	if err := precondition(lecture); err != nil {
		return err
	}

	current := lecture.DerivedStatusFor(axis)
	switch current {
	case store.DerivedPending, store.DerivedError:
	default:
		return fmt.Errorf("%w: lecture %d %s is %s", store.ErrConflict, lectureID, axis, current)
	}

	if err := p.store.TransitionDerived(ctx, lectureID, axis, current, store.DerivedQueued); err != nil {
		return err
	}
	p.publish(lecture, axis, string(store.DerivedQueued), "")
	return submit(lectureID)
}

// EnqueueTranscript queues transcription. The lecture's audio must be done.
func (p *Pipeline) EnqueueTranscript(ctx context.Context, lectureID int64) error {
	return p.enqueueDerived(ctx, lectureID, store.AxisTranscript,
		func(lecture *store.Lecture) error {
			if lecture.AudioStatus != store.AudioDone {
				return fmt.Errorf("%w: audio is %s, not done", store.ErrConflict, lecture.AudioStatus)
			}
			return nil
		},
		p.submitTranscript)
}

func (p *Pipeline) submitTranscript(lectureID int64) error {
	err := p.sched.Submit(
		scheduler.Key{LectureID: lectureID, Axis: string(store.AxisTranscript)},
		p.transcribeGate(),
		func(ctx context.Context) error { return p.runTranscript(ctx, lectureID) },
	)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		return nil
	}
	return err
}

func (p *Pipeline) runTranscript(ctx context.Context, lectureID int64) error {
	ctx = services.WithLectureID(ctx, lectureID)
	ctx = services.WithStage(ctx, "transcribe")
	logger := logging.WithContext(ctx, p.logger)

	lecture, err := p.store.GetLecture(ctx, lectureID)
	if err != nil {
		return err
	}
	if err := p.store.TransitionDerived(ctx, lectureID, store.AxisTranscript, store.DerivedQueued, store.DerivedTranscribing); err != nil {
		return err
	}
	p.publish(lecture, store.AxisTranscript, string(store.DerivedTranscribing), "")

	segments, err := p.transcriber.Transcribe(ctx, lecture.OpusPath)
	if err != nil {
		return p.failDerived(ctx, lecture, store.AxisTranscript, store.DerivedTranscribing, err)
	}

	stored := make([]store.TranscriptSegment, len(segments))
	for i, segment := range segments {
		stored[i] = store.TranscriptSegment{Start: segment.Start, End: segment.End, Text: segment.Text}
	}
	text := transcribe.JoinText(segments)
	if err := p.store.SaveTranscript(ctx, &store.Transcript{
		LectureID:       lectureID,
		Text:            text,
		Segments:        stored,
		Provider:        p.transcriber.Name(),
		DurationSeconds: lecture.DurationSeconds,
	}); err != nil {
		return p.failDerived(ctx, lecture, store.AxisTranscript, store.DerivedTranscribing, err)
	}
	p.writeSidecar(ctx, lecture, "transcript.txt", text)

	if err := p.store.TransitionDerived(ctx, lectureID, store.AxisTranscript, store.DerivedTranscribing, store.DerivedDone); err != nil {
		return err
	}
	p.publish(lecture, store.AxisTranscript, string(store.DerivedDone), "")
	logger.Info("transcript ready",
		logging.Int("chars", len(text)),
		logging.Int("segments", len(stored)))

	if err := p.EnqueueNotes(ctx, lectureID); err != nil && !errors.Is(err, store.ErrConflict) {
		logger.Warn("auto-enqueue notes failed", logging.Error(err))
	}
	return nil
}

// EnqueueNotes queues note generation. A transcript must exist.
func (p *Pipeline) EnqueueNotes(ctx context.Context, lectureID int64) error {
	return p.enqueueDerived(ctx, lectureID, store.AxisNotes,
		func(lecture *store.Lecture) error {
			if lecture.TranscriptStatus != store.DerivedDone {
				return fmt.Errorf("%w: transcript is %s, not done", store.ErrConflict, lecture.TranscriptStatus)
			}
			return nil
		},
		p.submitNotes)
}

func (p *Pipeline) submitNotes(lectureID int64) error {
	err := p.sched.Submit(
		scheduler.Key{LectureID: lectureID, Axis: string(store.AxisNotes)},
		p.gates.Notes,
		func(ctx context.Context) error { return p.runNotes(ctx, lectureID) },
	)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		return nil
	}
	return err
}

func (p *Pipeline) runNotes(ctx context.Context, lectureID int64) error {
	ctx = services.WithLectureID(ctx, lectureID)
	ctx = services.WithStage(ctx, "notes")
	logger := logging.WithContext(ctx, p.logger)

	lecture, err := p.store.GetLecture(ctx, lectureID)
	if err != nil {
		return err
	}
	course, err := p.store.GetCourse(ctx, lecture.CourseID)
	if err != nil {
		return err
	}
	transcript, err := p.store.GetTranscript(ctx, lectureID)
	if err != nil {
		return err
	}

	if err := p.store.TransitionDerived(ctx, lectureID, store.AxisNotes, store.DerivedQueued, store.DerivedGenerating); err != nil {
		return err
	}
	p.publish(lecture, store.AxisNotes, string(store.DerivedGenerating), "")

	// Timestamped segments give the model offsets to anchor frame
	// timestamps on; older transcripts without them fall back to raw text.
	prompt := transcript.Text
	if len(transcript.Segments) > 0 {
		prompt = notes.FormatTranscript(transcript.Segments)
	}
	result, err := p.generator.Generate(ctx, course.Title(), lecture.Title, lecture.Date, prompt)
	if err != nil {
		return p.failDerived(ctx, lecture, store.AxisNotes, store.DerivedGenerating, err)
	}

	title := textutil.TitleIfShouty(result.Title)
	if err := p.store.SaveNotes(ctx, &store.Notes{
		LectureID:       lectureID,
		Title:           title,
		Content:         result.Notes,
		Model:           p.cfg.LLM.Model,
		FrameTimestamps: result.FrameTimestamps,
	}); err != nil {
		return p.failDerived(ctx, lecture, store.AxisNotes, store.DerivedGenerating, err)
	}
	p.writeSidecar(ctx, lecture, "notes.md", "# "+title+"\n\n"+result.Notes)

	if err := p.store.TransitionDerived(ctx, lectureID, store.AxisNotes, store.DerivedGenerating, store.DerivedDone); err != nil {
		return err
	}
	p.publish(lecture, store.AxisNotes, string(store.DerivedDone), "")
	logger.Info("notes ready",
		logging.String("title", title),
		logging.Int("frame_timestamps", len(result.FrameTimestamps)))

	if len(result.FrameTimestamps) > 0 && lecture.AvailableVideo {
		if err := p.EnqueueFrames(ctx, lectureID); err != nil && !errors.Is(err, store.ErrConflict) {
			logger.Warn("auto-enqueue frames failed", logging.Error(err))
		}
	}
	return nil
}

// EnqueueFrames queues frame extraction. Notes must be done and the lecture
// must have retrievable video.
func (p *Pipeline) EnqueueFrames(ctx context.Context, lectureID int64) error {
	return p.enqueueDerived(ctx, lectureID, store.AxisFrames,
		func(lecture *store.Lecture) error {
			if lecture.NotesStatus != store.DerivedDone {
				return fmt.Errorf("%w: notes are %s, not done", store.ErrConflict, lecture.NotesStatus)
			}
			if !lecture.AvailableVideo {
				return fmt.Errorf("%w: lecture has no retrievable video", services.ErrNoMedia)
			}
			return nil
		},
		p.submitFrames)
}

func (p *Pipeline) submitFrames(lectureID int64) error {
	err := p.sched.Submit(
		scheduler.Key{LectureID: lectureID, Axis: string(store.AxisFrames)},
		p.gates.Frames,
		func(ctx context.Context) error { return p.runFrames(ctx, lectureID) },
	)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		return nil
	}
	return err
}

func (p *Pipeline) runFrames(ctx context.Context, lectureID int64) error {
	ctx = services.WithLectureID(ctx, lectureID)
	ctx = services.WithStage(ctx, "frames")
	logger := logging.WithContext(ctx, p.logger)

	lecture, err := p.store.GetLecture(ctx, lectureID)
	if err != nil {
		return err
	}
	course, err := p.store.GetCourse(ctx, lecture.CourseID)
	if err != nil {
		return err
	}
	stored, err := p.store.GetNotes(ctx, lectureID)
	if err != nil {
		return err
	}

	if err := p.store.TransitionDerived(ctx, lectureID, store.AxisFrames, store.DerivedQueued, store.DerivedExtracting); err != nil {
		return err
	}
	p.publish(lecture, store.AxisFrames, string(store.DerivedExtracting), "")

	var source *streams.Source
	if lecture.StreamJSON != "" {
		source = new(streams.Source)
		if err := json.Unmarshal([]byte(lecture.StreamJSON), source); err != nil {
			logger.Warn("cached stream info unreadable", logging.Error(err))
			source = nil
		}
	}

	destDir := filepath.Join(p.lectureDir(course, lecture), "frames")
	extracted, err := p.extractor.Extract(ctx, source, stored.FrameTimestamps, destDir)
	if err != nil {
		return p.failDerived(ctx, lecture, store.AxisFrames, store.DerivedExtracting, err)
	}

	for i := range extracted {
		extracted[i].LectureID = lectureID
	}
	if err := p.store.ReplaceFrames(ctx, lectureID, extracted); err != nil {
		return p.failDerived(ctx, lecture, store.AxisFrames, store.DerivedExtracting, err)
	}
	if err := p.store.TransitionDerived(ctx, lectureID, store.AxisFrames, store.DerivedExtracting, store.DerivedDone); err != nil {
		return err
	}
	p.publish(lecture, store.AxisFrames, string(store.DerivedDone), "")
	logger.Info("frames ready", logging.Int("count", len(extracted)))
	return nil
}

func (p *Pipeline) failDerived(ctx context.Context, lecture *store.Lecture, axis store.Axis, from store.DerivedStatus, cause error) error {
	if err := p.store.FailAxis(ctx, lecture.ID, axis, string(from), cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	p.publish(lecture, axis, string(store.DerivedError), cause.Error())
	return cause
}

// writeSidecar best-effort mirrors an artifact into the lecture's library
// directory for direct reading outside the API.
func (p *Pipeline) writeSidecar(ctx context.Context, lecture *store.Lecture, name, content string) {
	course, err := p.store.GetCourse(ctx, lecture.CourseID)
	if err != nil {
		return
	}
	path := filepath.Join(p.lectureDir(course, lecture), name)
	if err := fileutil.WriteAtomic(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		logging.WithContext(ctx, p.logger).Warn("failed to write sidecar",
			logging.String("path", path), logging.Error(err))
	}
}
