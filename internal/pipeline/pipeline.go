// Package pipeline orchestrates lecture processing across the four status
// axes: audio retrieval, transcription, note generation, and frame
// extraction.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/download"
	"github.com/hananf11/echo360/internal/events"
	"github.com/hananf11/echo360/internal/fileutil"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/notes"
	"github.com/hananf11/echo360/internal/scheduler"
	"github.com/hananf11/echo360/internal/store"
	"github.com/hananf11/echo360/internal/streams"
	"github.com/hananf11/echo360/internal/transcribe"
)

// Downloader retrieves lecture audio. The progress callback may be nil;
// when set it receives monotonically increasing completion counts, bytes
// for direct fetches and segments for manifests.
type Downloader interface {
	Direct(ctx context.Context, url, destPath string, progress download.Progress) error
	Manifest(ctx context.Context, manifestURL, destPath string, progress download.Progress) error
}

// MediaFetcher performs authenticated platform requests.
type MediaFetcher interface {
	FetchJSON(ctx context.Context, url string) ([]byte, error)
	ResolveMedia(ctx context.Context, lessonID, mediaID string) ([]byte, error)
}

// Converter transcodes raw downloads.
type Converter interface {
	ConvertToOpus(ctx context.Context, src, dest string) error
}

// Transcriber produces ordered timestamped transcript segments from an
// audio file.
type Transcriber interface {
	Name() string
	Local() bool
	Transcribe(ctx context.Context, audioPath string) ([]transcribe.Segment, error)
}

// NoteGenerator produces study notes from a transcript.
type NoteGenerator interface {
	Generate(ctx context.Context, courseName, lectureTitle, lectureDate, transcript string) (*notes.Result, error)
}

// FrameExtractor produces stills from a lecture's resolved stream source.
type FrameExtractor interface {
	Extract(ctx context.Context, source *streams.Source, timestamps []store.FrameTimestamp, destDir string) ([]store.Frame, error)
}

// Gates bundles the per-stage admission gates.
type Gates struct {
	Download         *scheduler.Gate
	Convert          *scheduler.Gate
	LocalTranscribe  *scheduler.Gate
	RemoteTranscribe *scheduler.Gate
	Notes            *scheduler.Gate
	Frames           *scheduler.Gate
}

// NewGates builds gates from the workflow configuration.
func NewGates(cfg config.Workflow) Gates {
	return Gates{
		Download:         scheduler.NewGate("download", cfg.DownloadGate),
		Convert:          scheduler.NewGate("convert", cfg.ConvertGate),
		LocalTranscribe:  scheduler.NewGate("transcribe-local", cfg.LocalTranscribeGate),
		RemoteTranscribe: scheduler.NewGate("transcribe-remote", cfg.RemoteTranscribeGate),
		Notes:            scheduler.NewGate("notes", cfg.NotesGate),
		Frames:           scheduler.NewGate("frames", cfg.FramesGate),
	}
}

// Pipeline wires the stages together over the store and scheduler.
type Pipeline struct {
	cfg         *config.Config
	store       *store.Store
	sched       *scheduler.Scheduler
	gates       Gates
	downloader  Downloader
	fetcher     MediaFetcher
	converter   Converter
	transcriber Transcriber
	generator   NoteGenerator
	extractor   FrameExtractor
	broadcaster *events.Broadcaster
	logger      *slog.Logger
	baseURL     string
}

// Options collects the pipeline's collaborators.
type Options struct {
	Config      *config.Config
	Store       *store.Store
	Scheduler   *scheduler.Scheduler
	Gates       Gates
	Downloader  Downloader
	Fetcher     MediaFetcher
	Converter   Converter
	Transcriber Transcriber
	Generator   NoteGenerator
	Extractor   FrameExtractor
	Broadcaster *events.Broadcaster
	Logger      *slog.Logger
	BaseURL     string
}

// New constructs a Pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:         opts.Config,
		store:       opts.Store,
		sched:       opts.Scheduler,
		gates:       opts.Gates,
		downloader:  opts.Downloader,
		fetcher:     opts.Fetcher,
		converter:   opts.Converter,
		transcriber: opts.Transcriber,
		generator:   opts.Generator,
		extractor:   opts.Extractor,
		broadcaster: opts.Broadcaster,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		baseURL:     opts.BaseURL,
	}
}

func (p *Pipeline) transcribeGate() *scheduler.Gate {
	if p.transcriber != nil && p.transcriber.Local() {
		return p.gates.LocalTranscribe
	}
	return p.gates.RemoteTranscribe
}

// progressReporter publishes download progress for a lecture, throttled to
// whole-percent steps so a large segment fan-out cannot flood subscribers.
// Counts only ever grow; the callback is safe for concurrent segment
// workers.
func (p *Pipeline) progressReporter(lecture *store.Lecture) download.Progress {
	if p.broadcaster == nil {
		return nil
	}
	var (
		mu       sync.Mutex
		lastStep int64 = -1
	)
	return func(done, total int64) {
		// Per-MiB steps when the size is unknown.
		step := done >> 20
		if total > 0 {
			step = done * 100 / total
		}
		mu.Lock()
		if step == lastStep {
			mu.Unlock()
			return
		}
		lastStep = step
		mu.Unlock()
		p.broadcaster.Publish(events.Event{
			Type:      events.TypeDownloadProgress,
			LectureID: lecture.ID,
			CourseID:  lecture.CourseID,
			Axis:      string(store.AxisAudio),
			Status:    string(store.AudioDownloading),
			Done:      done,
			Total:     total,
		})
	}
}

func (p *Pipeline) publish(lecture *store.Lecture, axis store.Axis, status, message string) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.Publish(events.Event{
		Type:      events.TypeStatusChanged,
		LectureID: lecture.ID,
		CourseID:  lecture.CourseID,
		Axis:      string(axis),
		Status:    status,
		Message:   message,
	})
}

// rawPath is where in-flight downloads land before conversion.
func (p *Pipeline) rawPath(lectureID int64) string {
	return filepath.Join(p.cfg.Paths.DataDir, "raw", storeFileName(lectureID, "ts"))
}

// RawDir returns the staging directory for raw downloads.
func (p *Pipeline) RawDir() string {
	return filepath.Join(p.cfg.Paths.DataDir, "raw")
}

func storeFileName(lectureID int64, ext string) string {
	return "lecture-" + strconv.FormatInt(lectureID, 10) + "." + ext
}

// lectureDir is the per-lecture library directory holding the finished
// artifacts.
func (p *Pipeline) lectureDir(course *store.Course, lecture *store.Lecture) string {
	courseDir := fileutil.SanitizeFilename(course.Title(), "course-"+strconv.FormatInt(course.ID, 10))
	name := lecture.Title
	if lecture.Date != "" {
		name = lecture.Date + " " + name
	}
	lectureDir := fileutil.SanitizeFilename(name, "lecture-"+strconv.FormatInt(lecture.ID, 10))
	return filepath.Join(p.cfg.Paths.LibraryDir, courseDir, lectureDir)
}
