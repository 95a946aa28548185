package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/download"
	"github.com/hananf11/echo360/internal/events"
	"github.com/hananf11/echo360/internal/notes"
	"github.com/hananf11/echo360/internal/scheduler"
	"github.com/hananf11/echo360/internal/services"
	"github.com/hananf11/echo360/internal/store"
	"github.com/hananf11/echo360/internal/streams"
	"github.com/hananf11/echo360/internal/transcribe"
)

const directMediaJSON = `{
	"hasVideo": true,
	"hasAvailableVideo": true,
	"primaryFiles": [{"s3Url": "https://s3.example.com/audio.m4a"}],
	"videoManifests": [{"uri": "https://cdn.internal/media/video.m3u8"}]
}`

const noMediaJSON = `{"hasVideo": false, "hasAvailableVideo": false}`

type fakeDownloader struct {
	directCalls   int
	manifestCalls int
	err           error
}

func (f *fakeDownloader) fetch(destPath string, progress download.Progress) error {
	if f.err != nil {
		return f.err
	}
	payload := []byte("raw")
	if progress != nil {
		progress(1, int64(len(payload)))
		progress(int64(len(payload)), int64(len(payload)))
	}
	return os.WriteFile(destPath, payload, 0o644)
}

func (f *fakeDownloader) Direct(_ context.Context, _, destPath string, progress download.Progress) error {
	f.directCalls++
	return f.fetch(destPath, progress)
}

func (f *fakeDownloader) Manifest(_ context.Context, _, destPath string, progress download.Progress) error {
	f.manifestCalls++
	return f.fetch(destPath, progress)
}

type fakeFetcher struct {
	fastData    []byte
	fastErr     error
	browserData []byte
	browserErr  error
	fallbacks   int
}

func (f *fakeFetcher) FetchJSON(context.Context, string) ([]byte, error) {
	return f.fastData, f.fastErr
}

func (f *fakeFetcher) ResolveMedia(context.Context, string, string) ([]byte, error) {
	f.fallbacks++
	return f.browserData, f.browserErr
}

type fakeConverter struct{ err error }

func (f *fakeConverter) ConvertToOpus(_ context.Context, _, dest string) error {
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("opus"), 0o644)
}

type fakeTranscriber struct {
	segments []transcribe.Segment
	err      error
}

func (f *fakeTranscriber) Name() string { return "fake" }
func (f *fakeTranscriber) Local() bool  { return false }
func (f *fakeTranscriber) Transcribe(context.Context, string) ([]transcribe.Segment, error) {
	return f.segments, f.err
}

type fakeGenerator struct {
	result *notes.Result
	err    error
}

func (f *fakeGenerator) Generate(context.Context, string, string, string, string) (*notes.Result, error) {
	return f.result, f.err
}

type fakeExtractor struct {
	frames []store.Frame
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, _ *streams.Source, _ []store.FrameTimestamp, _ string) ([]store.Frame, error) {
	return f.frames, f.err
}

type harness struct {
	pipeline *Pipeline
	store    *store.Store
	sched    *scheduler.Scheduler
	cfg      *config.Config
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LibraryDir = filepath.Join(dir, "library")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Recovery.MissingRawStatus = "pending"

	st, err := store.OpenPath(filepath.Join(dir, "echo360.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sched := scheduler.New(context.Background(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})

	opts := Options{
		Config:     &cfg,
		Store:      st,
		Scheduler:  sched,
		Gates:      NewGates(cfg.Workflow),
		Downloader: &fakeDownloader{},
		Fetcher:    &fakeFetcher{fastData: []byte(directMediaJSON)},
		Converter:  &fakeConverter{},
		Transcriber: &fakeTranscriber{
			segments: []transcribe.Segment{
				{Start: 0, End: 4, Text: "today we cover"},
				{Start: 4, End: 9, Text: "paging"},
			},
		},
		Generator: &fakeGenerator{result: &notes.Result{
			Title: "Paging",
			Notes: "# Paging",
			FrameTimestamps: []store.FrameTimestamp{
				{TimeSeconds: 30, Reason: "diagram"},
			},
		}},
		Extractor: &fakeExtractor{frames: []store.Frame{
			{TimeSeconds: 30, Reason: "diagram", Path: "/tmp/f.jpg"},
		}},
		Broadcaster: events.NewBroadcaster(nil),
		BaseURL:     "https://echo360.org.au",
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &harness{pipeline: New(opts), store: st, sched: sched, cfg: &cfg}
}

func (h *harness) seedLecture(t *testing.T) *store.Lecture {
	t.Helper()
	ctx := context.Background()
	course, err := h.store.UpsertCourse(ctx, &store.Course{UUID: "c-1", Name: "OS", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	lecture, err := h.store.UpsertLecture(ctx, &store.Lecture{
		CourseID:       course.ID,
		MediaID:        "m-1",
		LessonID:       "l-1",
		Title:          "Week 1",
		Date:           "2026-08-03",
		HasVideo:       true,
		AvailableVideo: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return lecture
}

func waitFor(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitForAudio(t *testing.T, id int64, want store.AudioStatus) *store.Lecture {
	t.Helper()
	var lecture *store.Lecture
	waitFor(t, fmt.Sprintf("audio status %s", want), func() bool {
		var err error
		lecture, err = h.store.GetLecture(context.Background(), id)
		return err == nil && lecture.AudioStatus == want
	})
	return lecture
}

func TestFullPipelineHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	lecture := h.seedLecture(t)
	ctx := context.Background()

	if err := h.pipeline.EnqueueDownload(ctx, lecture.ID); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "all axes done", func() bool {
		got, err := h.store.GetLecture(ctx, lecture.ID)
		if err != nil {
			return false
		}
		return got.AudioStatus == store.AudioDone &&
			got.TranscriptStatus == store.DerivedDone &&
			got.NotesStatus == store.DerivedDone &&
			got.FramesStatus == store.DerivedDone
	})

	got, err := h.store.GetLecture(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RawPath != "" {
		t.Fatalf("raw path not cleared: %q", got.RawPath)
	}
	if got.OpusPath == "" {
		t.Fatal("opus path not recorded")
	}
	if _, err := os.Stat(got.OpusPath); err != nil {
		t.Fatalf("opus file missing: %v", err)
	}

	transcript, err := h.store.GetTranscript(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if transcript.Text != "today we cover paging" {
		t.Fatalf("transcript = %q", transcript.Text)
	}
	if len(transcript.Segments) != 2 || transcript.Segments[1].Start != 4 {
		t.Fatalf("segments = %+v", transcript.Segments)
	}
	stored, err := h.store.GetNotes(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Title != "Paging" {
		t.Fatalf("notes title = %q", stored.Title)
	}
	framesList, err := h.store.ListFrames(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(framesList) != 1 {
		t.Fatalf("frames = %d", len(framesList))
	}
}

func TestNoMediaParksLecture(t *testing.T) {
	h := newHarness(t, func(opts *Options) {
		opts.Fetcher = &fakeFetcher{fastData: []byte(noMediaJSON)}
	})
	lecture := h.seedLecture(t)
	ctx := context.Background()

	if err := h.pipeline.EnqueueDownload(ctx, lecture.ID); err != nil {
		t.Fatal(err)
	}
	h.waitForAudio(t, lecture.ID, store.AudioNoMedia)

	// Parked lectures are excluded from both single and bulk enqueue.
	if err := h.pipeline.EnqueueDownload(ctx, lecture.ID); !errors.Is(err, services.ErrNoMedia) {
		t.Fatalf("enqueue of no_media lecture: %v", err)
	}
	queued, err := h.pipeline.EnqueueCourse(ctx, lecture.CourseID)
	if err != nil {
		t.Fatal(err)
	}
	if queued != 0 {
		t.Fatalf("bulk enqueue picked up no_media lecture: %d", queued)
	}
}

func TestBrowserFallbackAfterFastPathFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		fastErr:     errors.New("api rejected request"),
		browserData: []byte(directMediaJSON),
	}
	h := newHarness(t, func(opts *Options) { opts.Fetcher = fetcher })
	lecture := h.seedLecture(t)

	if err := h.pipeline.EnqueueDownload(context.Background(), lecture.ID); err != nil {
		t.Fatal(err)
	}
	h.waitForAudio(t, lecture.ID, store.AudioDone)
	if fetcher.fallbacks != 1 {
		t.Fatalf("fallbacks = %d, want 1", fetcher.fallbacks)
	}
}

func TestDownloadFailureRecordsError(t *testing.T) {
	h := newHarness(t, func(opts *Options) {
		opts.Downloader = &fakeDownloader{err: errors.New("connection reset")}
	})
	lecture := h.seedLecture(t)
	ctx := context.Background()

	if err := h.pipeline.EnqueueDownload(ctx, lecture.ID); err != nil {
		t.Fatal(err)
	}
	got := h.waitForAudio(t, lecture.ID, store.AudioError)
	if got.AudioError == "" {
		t.Fatal("no error message recorded")
	}

	// Errored lectures can be retried.
	if err := h.pipeline.EnqueueDownload(ctx, lecture.ID); err != nil {
		t.Fatalf("retry rejected: %v", err)
	}
}

func TestConvertFailureKeepsRawFile(t *testing.T) {
	h := newHarness(t, func(opts *Options) {
		opts.Converter = &fakeConverter{err: errors.New("ffmpeg exploded")}
	})
	lecture := h.seedLecture(t)
	ctx := context.Background()

	if err := h.pipeline.EnqueueDownload(ctx, lecture.ID); err != nil {
		t.Fatal(err)
	}
	got := h.waitForAudio(t, lecture.ID, store.AudioError)
	if got.RawPath == "" {
		t.Fatal("raw path cleared after conversion failure")
	}
	if _, err := os.Stat(got.RawPath); err != nil {
		t.Fatalf("raw file deleted after conversion failure: %v", err)
	}
}

func TestTranscriptPreconditionRequiresAudioDone(t *testing.T) {
	h := newHarness(t, nil)
	lecture := h.seedLecture(t)

	err := h.pipeline.EnqueueTranscript(context.Background(), lecture.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestEnqueueDownloadRejectsInFlight(t *testing.T) {
	h := newHarness(t, nil)
	lecture := h.seedLecture(t)
	ctx := context.Background()

	if err := h.store.TransitionAudio(ctx, lecture.ID, store.AudioPending, store.AudioQueued); err != nil {
		t.Fatal(err)
	}
	if err := h.pipeline.EnqueueDownload(ctx, lecture.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestRecoveryRepairsInterruptedStates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	course, err := h.store.UpsertCourse(ctx, &store.Course{UUID: "c-r", Name: "Recovery", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}

	seed := func(mediaID string) *store.Lecture {
		lecture, err := h.store.UpsertLecture(ctx, &store.Lecture{CourseID: course.ID, MediaID: mediaID, Title: mediaID})
		if err != nil {
			t.Fatal(err)
		}
		return lecture
	}

	// queued but never started
	parked := seed("m-queued")
	if err := h.store.TransitionAudio(ctx, parked.ID, store.AudioPending, store.AudioQueued); err != nil {
		t.Fatal(err)
	}

	// downloading with no raw file left on disk
	interrupted := seed("m-downloading")
	if err := h.store.TransitionAudio(ctx, interrupted.ID, store.AudioPending, store.AudioQueued); err != nil {
		t.Fatal(err)
	}
	if err := h.store.TransitionAudio(ctx, interrupted.ID, store.AudioQueued, store.AudioDownloading); err != nil {
		t.Fatal(err)
	}

	// downloaded with raw file intact
	rawDir := h.pipeline.RawDir()
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		t.Fatal(err)
	}
	downloaded := seed("m-downloaded")
	rawPath := filepath.Join(rawDir, "lecture-downloaded.ts")
	if err := os.WriteFile(rawPath, []byte("raw"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, tr := range []struct{ from, to store.AudioStatus }{
		{store.AudioPending, store.AudioQueued},
		{store.AudioQueued, store.AudioDownloading},
		{store.AudioDownloading, store.AudioDownloaded},
	} {
		if err := h.store.TransitionAudio(ctx, downloaded.ID, tr.from, tr.to); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.store.SetLecturePaths(ctx, downloaded.ID, rawPath, ""); err != nil {
		t.Fatal(err)
	}

	// transcript interrupted mid-flight
	working := seed("m-transcribing")
	if err := h.store.TransitionDerived(ctx, working.ID, store.AxisTranscript, store.DerivedPending, store.DerivedQueued); err != nil {
		t.Fatal(err)
	}
	if err := h.store.TransitionDerived(ctx, working.ID, store.AxisTranscript, store.DerivedQueued, store.DerivedTranscribing); err != nil {
		t.Fatal(err)
	}

	// orphan raw file with no owning lecture
	orphanPath := filepath.Join(rawDir, "lecture-99999.ts")
	if err := os.WriteFile(orphanPath, []byte("orphan"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.pipeline.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := h.store.GetLecture(ctx, parked.ID)
	if got.AudioStatus != store.AudioPending {
		t.Fatalf("queued download status = %s, want pending", got.AudioStatus)
	}

	got, _ = h.store.GetLecture(ctx, interrupted.ID)
	if got.AudioStatus != store.AudioPending {
		t.Fatalf("interrupted download status = %s, want pending", got.AudioStatus)
	}

	// The downloaded lecture converts through to done.
	h.waitForAudio(t, downloaded.ID, store.AudioDone)

	got, _ = h.store.GetLecture(ctx, working.ID)
	if got.TranscriptStatus != store.DerivedPending {
		t.Fatalf("interrupted transcript status = %s, want pending", got.TranscriptStatus)
	}

	if _, err := os.Stat(orphanPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("orphan raw file not purged")
	}

	// Recovery is idempotent.
	if err := h.pipeline.Recover(ctx); err != nil {
		t.Fatalf("second recovery: %v", err)
	}
}

func TestRecoveryMissingRawStatusError(t *testing.T) {
	h := newHarness(t, nil)
	h.cfg.Recovery.MissingRawStatus = "error"
	ctx := context.Background()
	lecture := h.seedLecture(t)

	if err := h.store.TransitionAudio(ctx, lecture.ID, store.AudioPending, store.AudioQueued); err != nil {
		t.Fatal(err)
	}
	if err := h.store.TransitionAudio(ctx, lecture.ID, store.AudioQueued, store.AudioDownloading); err != nil {
		t.Fatal(err)
	}
	if err := h.pipeline.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := h.store.GetLecture(ctx, lecture.ID)
	if got.AudioStatus != store.AudioError {
		t.Fatalf("status = %s, want error", got.AudioStatus)
	}
	if got.AudioError == "" {
		t.Fatal("no message recorded")
	}
}

func TestRecoveryPromotesDownloadWithIntactRaw(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	lecture := h.seedLecture(t)

	if err := os.MkdirAll(h.pipeline.RawDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	rawPath := filepath.Join(h.pipeline.RawDir(), "lecture-intact.ts")
	if err := os.WriteFile(rawPath, []byte("raw"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.store.TransitionAudio(ctx, lecture.ID, store.AudioPending, store.AudioQueued); err != nil {
		t.Fatal(err)
	}
	if err := h.store.TransitionAudio(ctx, lecture.ID, store.AudioQueued, store.AudioDownloading); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetLecturePaths(ctx, lecture.ID, rawPath, ""); err != nil {
		t.Fatal(err)
	}

	// The fetch finished but the crash landed before the status write; the
	// file must not be redownloaded.
	if err := h.pipeline.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	h.waitForAudio(t, lecture.ID, store.AudioDone)
	if _, err := os.Stat(rawPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("raw file not consumed by conversion")
	}
}

type blockingDownloader struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDownloader) fetch(destPath string) error {
	close(d.started)
	<-d.release
	return os.WriteFile(destPath, []byte("raw"), 0o644)
}

func (d *blockingDownloader) Direct(_ context.Context, _, destPath string, _ download.Progress) error {
	return d.fetch(destPath)
}

func (d *blockingDownloader) Manifest(_ context.Context, _, destPath string, _ download.Progress) error {
	return d.fetch(destPath)
}

func TestDownloadRecordsRawPathBeforeFetch(t *testing.T) {
	downloader := &blockingDownloader{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	h := newHarness(t, func(opts *Options) { opts.Downloader = downloader })
	lecture := h.seedLecture(t)
	ctx := context.Background()

	if err := h.pipeline.EnqueueDownload(ctx, lecture.ID); err != nil {
		t.Fatal(err)
	}
	<-downloader.started

	got, err := h.store.GetLecture(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AudioStatus != store.AudioDownloading {
		t.Fatalf("status mid-fetch = %s", got.AudioStatus)
	}
	if got.RawPath == "" {
		t.Fatal("raw path not recorded before the fetch started")
	}

	close(downloader.release)
	h.waitForAudio(t, lecture.ID, store.AudioDone)
}

func TestEnqueueDownloadDoneIsNoOp(t *testing.T) {
	downloader := &fakeDownloader{}
	h := newHarness(t, func(opts *Options) { opts.Downloader = downloader })
	lecture := h.seedLecture(t)
	ctx := context.Background()

	if err := h.store.ForceAudioStatus(ctx, lecture.ID, store.AudioDone, ""); err != nil {
		t.Fatal(err)
	}
	if err := h.pipeline.EnqueueDownload(ctx, lecture.ID); err != nil {
		t.Fatalf("enqueue of finished lecture: %v", err)
	}
	got, err := h.store.GetLecture(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AudioStatus != store.AudioDone {
		t.Fatalf("status = %s, want done untouched", got.AudioStatus)
	}
	if downloader.directCalls+downloader.manifestCalls != 0 {
		t.Fatal("finished lecture was refetched")
	}
}

func TestRecoverySecondPassLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	course, err := h.store.UpsertCourse(ctx, &store.Course{UUID: "c-i", Name: "Idem", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}

	seed := func(mediaID string) *store.Lecture {
		lecture, err := h.store.UpsertLecture(ctx, &store.Lecture{CourseID: course.ID, MediaID: mediaID, Title: mediaID})
		if err != nil {
			t.Fatal(err)
		}
		return lecture
	}

	queued := seed("m-q")
	if err := h.store.TransitionAudio(ctx, queued.ID, store.AudioPending, store.AudioQueued); err != nil {
		t.Fatal(err)
	}
	lost := seed("m-lost")
	if err := h.store.TransitionAudio(ctx, lost.ID, store.AudioPending, store.AudioQueued); err != nil {
		t.Fatal(err)
	}
	if err := h.store.TransitionAudio(ctx, lost.ID, store.AudioQueued, store.AudioDownloading); err != nil {
		t.Fatal(err)
	}
	working := seed("m-w")
	if err := h.store.TransitionDerived(ctx, working.ID, store.AxisNotes, store.DerivedPending, store.DerivedQueued); err != nil {
		t.Fatal(err)
	}
	if err := h.store.TransitionDerived(ctx, working.ID, store.AxisNotes, store.DerivedQueued, store.DerivedGenerating); err != nil {
		t.Fatal(err)
	}

	if err := h.pipeline.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	snapshot := func() map[int64]string {
		states := make(map[int64]string)
		for _, id := range []int64{queued.ID, lost.ID, working.ID} {
			got, err := h.store.GetLecture(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			states[id] = fmt.Sprintf("%s/%s/%s/%s", got.AudioStatus, got.TranscriptStatus, got.NotesStatus, got.FramesStatus)
		}
		return states
	}

	first := snapshot()
	if err := h.pipeline.Recover(ctx); err != nil {
		t.Fatalf("second recovery: %v", err)
	}
	second := snapshot()
	for id, state := range first {
		if second[id] != state {
			t.Fatalf("lecture %d drifted from %s to %s on second scan", id, state, second[id])
		}
	}
}

func TestDownloadPublishesProgressEvents(t *testing.T) {
	broadcaster := events.NewBroadcaster(nil)
	h := newHarness(t, func(opts *Options) { opts.Broadcaster = broadcaster })
	lecture := h.seedLecture(t)

	eventCh, cancel := broadcaster.Subscribe()
	defer cancel()

	if err := h.pipeline.EnqueueDownload(context.Background(), lecture.ID); err != nil {
		t.Fatal(err)
	}

	var last int64
	seen := 0
	deadline := time.After(5 * time.Second)
	for seen < 2 {
		select {
		case event := <-eventCh:
			if event.Type != events.TypeDownloadProgress {
				continue
			}
			if event.Done < last {
				t.Fatalf("progress went backwards: %d after %d", event.Done, last)
			}
			last = event.Done
			if event.Total != 3 {
				t.Fatalf("total = %d", event.Total)
			}
			seen++
		case <-deadline:
			t.Fatalf("saw %d progress events, want 2", seen)
		}
	}
}

func TestRedownloadResetsAllAxes(t *testing.T) {
	h := newHarness(t, nil)
	lecture := h.seedLecture(t)
	ctx := context.Background()

	if err := h.pipeline.EnqueueDownload(ctx, lecture.ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "pipeline settled", func() bool {
		got, err := h.store.GetLecture(ctx, lecture.ID)
		return err == nil && got.AudioStatus == store.AudioDone && got.FramesStatus == store.DerivedDone
	})

	if err := h.pipeline.Redownload(ctx, lecture.ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second run settled", func() bool {
		got, err := h.store.GetLecture(ctx, lecture.ID)
		return err == nil && got.AudioStatus == store.AudioDone && got.TranscriptStatus == store.DerivedDone
	})
}

func TestEnqueueCourseQueuesOnlyEligible(t *testing.T) {
	h := newHarness(t, func(opts *Options) {
		// Keep downloads parked in queue so statuses stay stable.
		opts.Fetcher = &fakeFetcher{fastErr: errors.New("unused"), browserErr: errors.New("unused")}
	})
	ctx := context.Background()
	course, err := h.store.UpsertCourse(ctx, &store.Course{UUID: "c-b", Name: "Bulk", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}

	mk := func(mediaID string, status store.AudioStatus) {
		lecture, err := h.store.UpsertLecture(ctx, &store.Lecture{CourseID: course.ID, MediaID: mediaID})
		if err != nil {
			t.Fatal(err)
		}
		if status != store.AudioPending {
			if err := h.store.ForceAudioStatus(ctx, lecture.ID, status, ""); err != nil {
				t.Fatal(err)
			}
		}
	}
	mk("m-pending", store.AudioPending)
	mk("m-errored", store.AudioError)
	mk("m-done", store.AudioDone)
	mk("m-nomedia", store.AudioNoMedia)

	queued, err := h.pipeline.EnqueueCourse(ctx, course.ID)
	if err != nil {
		t.Fatal(err)
	}
	if queued != 2 {
		t.Fatalf("queued = %d, want 2 (pending and errored only)", queued)
	}
}
