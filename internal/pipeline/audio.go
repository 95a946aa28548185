package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hananf11/echo360/internal/fileutil"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/scheduler"
	"github.com/hananf11/echo360/internal/services"
	"github.com/hananf11/echo360/internal/store"
	"github.com/hananf11/echo360/internal/streams"
)

// EnqueueDownload queues a lecture's audio retrieval. Lectures in error are
// retried, finished lectures are a no-op, and lectures already queued, in
// flight, or parked as no_media are rejected.
func (p *Pipeline) EnqueueDownload(ctx context.Context, lectureID int64) error {
	lecture, err := p.store.GetLecture(ctx, lectureID)
	if err != nil {
		return err
	}

	switch lecture.AudioStatus {
	case store.AudioPending, store.AudioError:
	case store.AudioDone:
		return nil
	case store.AudioNoMedia:
		return fmt.Errorf("%w: lecture %d has no media", services.ErrNoMedia, lectureID)
	default:
		return fmt.Errorf("%w: lecture %d audio is %s", store.ErrConflict, lectureID, lecture.AudioStatus)
	}

	if err := p.store.TransitionAudio(ctx, lectureID, lecture.AudioStatus, store.AudioQueued); err != nil {
		return err
	}
	p.publish(lecture, store.AxisAudio, string(store.AudioQueued), "")
	return p.submitDownload(lectureID)
}

func (p *Pipeline) submitDownload(lectureID int64) error {
	err := p.sched.Submit(
		scheduler.Key{LectureID: lectureID, Axis: string(store.AxisAudio)},
		p.gates.Download,
		func(ctx context.Context) error { return p.runDownload(ctx, lectureID) },
	)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		return nil
	}
	return err
}

func (p *Pipeline) runDownload(ctx context.Context, lectureID int64) error {
	ctx = services.WithLectureID(ctx, lectureID)
	ctx = services.WithStage(ctx, "download")
	logger := logging.WithContext(ctx, p.logger)

	lecture, err := p.store.GetLecture(ctx, lectureID)
	if err != nil {
		return err
	}
	if err := p.store.TransitionAudio(ctx, lectureID, store.AudioQueued, store.AudioDownloading); err != nil {
		return err
	}
	p.publish(lecture, store.AxisAudio, string(store.AudioDownloading), "")

	source, err := p.resolveSource(ctx, lecture)
	if err != nil {
		if services.IsNoMedia(err) {
			logger.Info("lecture has no retrievable audio")
			if markErr := p.store.MarkNoMedia(ctx, lectureID, store.AudioDownloading); markErr != nil {
				return markErr
			}
			p.publish(lecture, store.AxisAudio, string(store.AudioNoMedia), "")
			return nil
		}
		return p.failAudio(ctx, lecture, store.AudioDownloading, err)
	}

	if encoded, jsonErr := json.Marshal(source); jsonErr == nil {
		if err := p.store.SetStreamJSON(ctx, lectureID, string(encoded)); err != nil {
			logger.Warn("failed to cache stream info", logging.Error(err))
		}
	}

	rawPath := p.rawPath(lectureID)
	if err := os.MkdirAll(filepath.Dir(rawPath), 0o755); err != nil {
		return p.failAudio(ctx, lecture, store.AudioDownloading, err)
	}

	// The raw path is recorded before fetching so a crash mid-download
	// leaves recovery a pointer to whatever landed on disk.
	if err := p.store.SetLecturePaths(ctx, lectureID, rawPath, ""); err != nil {
		return err
	}

	progress := p.progressReporter(lecture)
	switch source.Kind {
	case streams.KindDirect:
		err = p.downloader.Direct(ctx, source.URL, rawPath, progress)
	case streams.KindManifest:
		err = p.downloader.Manifest(ctx, source.URL, rawPath, progress)
	default:
		err = fmt.Errorf("unknown source kind %q", source.Kind)
	}
	if err != nil {
		fileutil.RemoveIfExists(rawPath)
		if pathErr := p.store.SetLecturePaths(ctx, lectureID, "", ""); pathErr != nil {
			logger.Warn("failed to clear raw path", logging.Error(pathErr))
		}
		return p.failAudio(ctx, lecture, store.AudioDownloading, err)
	}

	if err := p.store.TransitionAudio(ctx, lectureID, store.AudioDownloading, store.AudioDownloaded); err != nil {
		return err
	}
	p.publish(lecture, store.AxisAudio, string(store.AudioDownloaded), "")
	logger.Info("download complete", logging.String("protocol", string(source.Kind)))

	return p.submitConvert(lectureID)
}

// resolveSource maps the lecture's media onto a retrieval plan. The API
// fast path is tried first; on any failure other than no_media the
// browser helper drives the player page instead, and the fast-path error
// is logged rather than surfaced.
func (p *Pipeline) resolveSource(ctx context.Context, lecture *store.Lecture) (*streams.Source, error) {
	logger := logging.WithContext(ctx, p.logger)

	mediaURL := p.baseURL + "/api/ui/echoplayer/lessons/" + lecture.LessonID + "/medias/" + lecture.MediaID
	data, err := p.fetcher.FetchJSON(ctx, mediaURL)
	if err == nil {
		info, parseErr := streams.ParseMediaInfo(data)
		if parseErr == nil {
			source, resolveErr := streams.Resolve(info, p.baseURL)
			if resolveErr == nil || services.IsNoMedia(resolveErr) {
				return source, resolveErr
			}
			err = resolveErr
		} else {
			err = parseErr
		}
	}
	logger.Warn("fast-path resolution failed, falling back to browser", logging.Error(err))

	data, err = p.fetcher.ResolveMedia(ctx, lecture.LessonID, lecture.MediaID)
	if err != nil {
		return nil, err
	}
	info, err := streams.ParseMediaInfo(data)
	if err != nil {
		return nil, err
	}
	return streams.Resolve(info, p.baseURL)
}

func (p *Pipeline) submitConvert(lectureID int64) error {
	err := p.sched.Submit(
		scheduler.Key{LectureID: lectureID, Axis: "convert"},
		p.gates.Convert,
		func(ctx context.Context) error { return p.runConvert(ctx, lectureID) },
	)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		return nil
	}
	return err
}

func (p *Pipeline) runConvert(ctx context.Context, lectureID int64) error {
	ctx = services.WithLectureID(ctx, lectureID)
	ctx = services.WithStage(ctx, "convert")
	logger := logging.WithContext(ctx, p.logger)

	lecture, err := p.store.GetLecture(ctx, lectureID)
	if err != nil {
		return err
	}
	course, err := p.store.GetCourse(ctx, lecture.CourseID)
	if err != nil {
		return err
	}
	if err := p.store.TransitionAudio(ctx, lectureID, store.AudioDownloaded, store.AudioConverting); err != nil {
		return err
	}
	p.publish(lecture, store.AxisAudio, string(store.AudioConverting), "")

	opusPath := filepath.Join(p.lectureDir(course, lecture), "audio.opus")
	if err := p.converter.ConvertToOpus(ctx, lecture.RawPath, opusPath); err != nil {
		// The raw download is kept so conversion can be retried without
		// another fetch.
		fileutil.RemoveIfExists(opusPath)
		if backErr := p.store.TransitionAudio(ctx, lectureID, store.AudioConverting, store.AudioDownloaded); backErr != nil {
			return backErr
		}
		return p.failAudio(ctx, lecture, store.AudioDownloaded, err)
	}

	if err := fileutil.RemoveIfExists(lecture.RawPath); err != nil {
		logger.Warn("failed to delete raw download", logging.Error(err))
	}
	if err := p.store.SetLecturePaths(ctx, lectureID, "", opusPath); err != nil {
		return err
	}
	if err := p.store.TransitionAudio(ctx, lectureID, store.AudioConverting, store.AudioDone); err != nil {
		return err
	}
	p.publish(lecture, store.AxisAudio, string(store.AudioDone), "")
	logger.Info("audio ready", logging.String("path", opusPath))

	// Transcription follows automatically once audio lands.
	if err := p.EnqueueTranscript(ctx, lectureID); err != nil && !errors.Is(err, store.ErrConflict) {
		logger.Warn("auto-enqueue transcript failed", logging.Error(err))
	}
	return nil
}

func (p *Pipeline) failAudio(ctx context.Context, lecture *store.Lecture, from store.AudioStatus, cause error) error {
	if err := p.store.FailAxis(ctx, lecture.ID, store.AxisAudio, string(from), cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	p.publish(lecture, store.AxisAudio, string(store.AudioError), cause.Error())
	return cause
}
