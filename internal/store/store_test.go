package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hananf11/echo360/internal/services"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenPath(filepath.Join(t.TempDir(), "echo360.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedLecture(t *testing.T, st *Store) *Lecture {
	t.Helper()
	ctx := context.Background()
	course, err := st.UpsertCourse(ctx, &Course{UUID: "c-1", Name: "Systems", Year: 2026, Term: "S1", Enabled: true})
	if err != nil {
		t.Fatalf("upsert course: %v", err)
	}
	lecture, err := st.UpsertLecture(ctx, &Lecture{
		CourseID: course.ID,
		MediaID:  "m-1",
		Title:    "Week 1",
		Date:     "2026-03-02",
		HasVideo: true,
	})
	if err != nil {
		t.Fatalf("upsert lecture: %v", err)
	}
	return lecture
}

func TestUpsertLecturePreservesStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lecture := seedLecture(t, st)

	if lecture.AudioStatus != AudioPending {
		t.Fatalf("new lecture audio status = %s", lecture.AudioStatus)
	}
	if err := st.TransitionAudio(ctx, lecture.ID, AudioPending, AudioQueued); err != nil {
		t.Fatalf("transition: %v", err)
	}

	again, err := st.UpsertLecture(ctx, &Lecture{
		CourseID: lecture.CourseID,
		MediaID:  lecture.MediaID,
		Title:    "Week 1 (revised)",
	})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if again.ID != lecture.ID {
		t.Fatalf("re-upsert created new row: %d != %d", again.ID, lecture.ID)
	}
	if again.Title != "Week 1 (revised)" {
		t.Fatalf("title not refreshed: %q", again.Title)
	}
	if again.AudioStatus != AudioQueued {
		t.Fatalf("status clobbered by upsert: %s", again.AudioStatus)
	}
}

func TestTransitionAudioRejectsInvalidAndStale(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lecture := seedLecture(t, st)

	if err := st.TransitionAudio(ctx, lecture.ID, AudioPending, AudioDone); !errors.Is(err, ErrConflict) {
		t.Fatalf("pending->done accepted: %v", err)
	}
	if err := st.TransitionAudio(ctx, lecture.ID, AudioPending, AudioQueued); err != nil {
		t.Fatalf("pending->queued: %v", err)
	}
	// Second claim from pending must lose the race.
	if err := st.TransitionAudio(ctx, lecture.ID, AudioPending, AudioQueued); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale claim accepted: %v", err)
	}
}

func TestFailAxisRecordsMessage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lecture := seedLecture(t, st)

	if err := st.TransitionAudio(ctx, lecture.ID, AudioPending, AudioQueued); err != nil {
		t.Fatal(err)
	}
	if err := st.FailAxis(ctx, lecture.ID, AxisAudio, string(AudioQueued), "resolver exploded"); err != nil {
		t.Fatalf("fail axis: %v", err)
	}
	got, err := st.GetLecture(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AudioStatus != AudioError {
		t.Fatalf("status = %s, want error", got.AudioStatus)
	}
	if got.AudioError != "resolver exploded" {
		t.Fatalf("error message = %q", got.AudioError)
	}

	// Retrying out of error clears the message.
	if err := st.TransitionAudio(ctx, lecture.ID, AudioError, AudioPending); err != nil {
		t.Fatal(err)
	}
	got, err = st.GetLecture(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AudioError != "" {
		t.Fatalf("error message not cleared: %q", got.AudioError)
	}
}

func TestDerivedAxesIndependent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lecture := seedLecture(t, st)

	if err := st.TransitionDerived(ctx, lecture.ID, AxisTranscript, DerivedPending, DerivedQueued); err != nil {
		t.Fatalf("transcript pending->queued: %v", err)
	}
	got, err := st.GetLecture(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TranscriptStatus != DerivedQueued {
		t.Fatalf("transcript status = %s", got.TranscriptStatus)
	}
	if got.NotesStatus != DerivedPending || got.FramesStatus != DerivedPending {
		t.Fatal("other axes moved")
	}
}

func TestDerivedAxesPersistTheirOwnActiveLabel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lecture := seedLecture(t, st)

	for _, tc := range []struct {
		axis   Axis
		active DerivedStatus
	}{
		{AxisTranscript, DerivedTranscribing},
		{AxisNotes, DerivedGenerating},
		{AxisFrames, DerivedExtracting},
	} {
		if tc.axis.Active() != tc.active {
			t.Fatalf("%s active label = %s", tc.axis, tc.axis.Active())
		}
		if err := st.TransitionDerived(ctx, lecture.ID, tc.axis, DerivedPending, DerivedQueued); err != nil {
			t.Fatal(err)
		}
		if err := st.TransitionDerived(ctx, lecture.ID, tc.axis, DerivedQueued, tc.active); err != nil {
			t.Fatal(err)
		}
	}

	got, err := st.GetLecture(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TranscriptStatus != DerivedTranscribing {
		t.Fatalf("transcript status = %s", got.TranscriptStatus)
	}
	if got.NotesStatus != DerivedGenerating {
		t.Fatalf("notes status = %s", got.NotesStatus)
	}
	if got.FramesStatus != DerivedExtracting {
		t.Fatalf("frames status = %s", got.FramesStatus)
	}

	// Active labels finish like any in-flight state.
	if err := st.TransitionDerived(ctx, lecture.ID, AxisTranscript, DerivedTranscribing, DerivedDone); err != nil {
		t.Fatal(err)
	}
}

func TestTranscriptNotesFramesRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lecture := seedLecture(t, st)

	if err := st.SaveTranscript(ctx, &Transcript{LectureID: lecture.ID, Text: "hello world", Provider: "cloud"}); err != nil {
		t.Fatal(err)
	}
	transcript, err := st.GetTranscript(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if transcript.Text != "hello world" {
		t.Fatalf("transcript text = %q", transcript.Text)
	}

	notes := &Notes{
		LectureID: lecture.ID,
		Title:     "Week 1 Intro",
		Content:   "# Notes",
		Model:     "test-model",
		FrameTimestamps: []FrameTimestamp{
			{TimeSeconds: 30, Reason: "diagram"},
			{TimeSeconds: 600, Reason: "code sample"},
		},
	}
	if err := st.SaveNotes(ctx, notes); err != nil {
		t.Fatal(err)
	}
	stored, err := st.GetNotes(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.FrameTimestamps) != 2 || stored.FrameTimestamps[1].Reason != "code sample" {
		t.Fatalf("frame timestamps = %+v", stored.FrameTimestamps)
	}

	frames := []Frame{
		{LectureID: lecture.ID, TimeSeconds: 30, Reason: "diagram", Path: "/tmp/f1.jpg"},
		{LectureID: lecture.ID, TimeSeconds: 600, Reason: "code sample", Path: "/tmp/f2.jpg"},
	}
	if err := st.ReplaceFrames(ctx, lecture.ID, frames); err != nil {
		t.Fatal(err)
	}
	listed, err := st.ListFrames(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 2 || listed[0].TimeSeconds != 30 {
		t.Fatalf("frames = %+v", listed)
	}

	// Replacing swaps rather than appends.
	if err := st.ReplaceFrames(ctx, lecture.ID, frames[:1]); err != nil {
		t.Fatal(err)
	}
	listed, err = st.ListFrames(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("frames after replace = %d", len(listed))
	}
}

func TestTranscriptsAndNotesAppendLatestWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lecture := seedLecture(t, st)

	first := &Transcript{
		LectureID: lecture.ID,
		Text:      "first pass",
		Segments:  []TranscriptSegment{{Start: 0, End: 5, Text: "first pass"}},
		Provider:  "local",
	}
	if err := st.SaveTranscript(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &Transcript{
		LectureID: lecture.ID,
		Text:      "second pass",
		Segments: []TranscriptSegment{
			{Start: 0, End: 2, Text: "second"},
			{Start: 2, End: 5, Text: "pass"},
		},
		Provider: "cloud",
	}
	if err := st.SaveTranscript(ctx, second); err != nil {
		t.Fatal(err)
	}

	transcript, err := st.GetTranscript(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if transcript.Text != "second pass" || transcript.Provider != "cloud" {
		t.Fatalf("latest transcript = %+v", transcript)
	}
	if len(transcript.Segments) != 2 || transcript.Segments[1].Text != "pass" {
		t.Fatalf("segments = %+v", transcript.Segments)
	}
	if transcript.ID < 2 {
		t.Fatalf("latest id = %d, want the second row", transcript.ID)
	}

	// Both rows survive; rerunning never destroys an earlier transcript.
	var rows int
	if err := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcripts WHERE lecture_id = ?`, lecture.ID).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Fatalf("transcript rows = %d, want 2", rows)
	}

	for _, title := range []string{"Draft", "Final"} {
		if err := st.SaveNotes(ctx, &Notes{LectureID: lecture.ID, Title: title, Content: "# n", Model: "m"}); err != nil {
			t.Fatal(err)
		}
	}
	stored, err := st.GetNotes(ctx, lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Title != "Final" {
		t.Fatalf("latest notes title = %q", stored.Title)
	}
}

func TestGetLectureNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetLecture(context.Background(), 9999)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCourseDisplayNameAndEnabled(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	course, err := st.UpsertCourse(ctx, &Course{UUID: "c-9", Name: "DATABASES", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetCourseDisplayName(ctx, course.ID, "Databases II"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetCourseEnabled(ctx, course.ID, false); err != nil {
		t.Fatal(err)
	}

	// Resync must not clobber user-owned fields.
	if _, err := st.UpsertCourse(ctx, &Course{UUID: "c-9", Name: "DATABASES (2026)", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetCourse(ctx, course.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "DATABASES (2026)" {
		t.Fatalf("name not refreshed: %q", got.Name)
	}
	if got.DisplayName != "Databases II" || got.Enabled {
		t.Fatalf("user fields clobbered: %+v", got)
	}
	if got.Title() != "Databases II" {
		t.Fatalf("Title() = %q", got.Title())
	}

	enabled, err := st.ListCourses(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range enabled {
		if c.ID == course.ID {
			t.Fatal("disabled course listed as enabled")
		}
	}
}

func TestProgressByCourse(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lecture := seedLecture(t, st)

	if _, err := st.UpsertCourse(ctx, &Course{UUID: "c-empty", Name: "Empty", Year: 2026, Term: "S1", Enabled: true}); err != nil {
		t.Fatalf("upsert course: %v", err)
	}
	if err := st.TransitionDerived(ctx, lecture.ID, AxisNotes, DerivedPending, DerivedQueued); err != nil {
		t.Fatalf("queue notes: %v", err)
	}
	if err := st.FailAxis(ctx, lecture.ID, AxisNotes, string(DerivedQueued), "model unavailable"); err != nil {
		t.Fatalf("fail axis: %v", err)
	}

	progress, err := st.ProgressByCourse(ctx)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if len(progress) != 2 {
		t.Fatalf("progress rows = %d, want 2", len(progress))
	}

	byID := make(map[int64]CourseProgress, len(progress))
	for _, row := range progress {
		byID[row.CourseID] = row
	}
	seeded := byID[lecture.CourseID]
	if seeded.Lectures != 1 || seeded.AudioDone != 0 || seeded.Errored != 1 {
		t.Fatalf("seeded progress = %+v", seeded)
	}
	for id, row := range byID {
		if id != lecture.CourseID && (row.Lectures != 0 || row.Errored != 0) {
			t.Fatalf("empty course progress = %+v", row)
		}
	}
}

func TestDeleteCourseCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lecture := seedLecture(t, st)

	if err := st.DeleteCourse(ctx, lecture.CourseID); err != nil {
		t.Fatalf("delete course: %v", err)
	}
	if _, err := st.GetLecture(ctx, lecture.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("lecture survived course deletion: %v", err)
	}
	if err := st.DeleteCourse(ctx, lecture.CourseID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestCountsByAudioStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lecture := seedLecture(t, st)
	if err := st.TransitionAudio(ctx, lecture.ID, AudioPending, AudioQueued); err != nil {
		t.Fatal(err)
	}
	counts, err := st.CountsByAudioStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Total != 1 || counts.Queued != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}
