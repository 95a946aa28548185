package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hananf11/echo360/internal/store"
)

type fakeFetcher struct {
	responses map[string][]byte
	calls     []string
}

func (f *fakeFetcher) FetchJSON(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	for suffix, body := range f.responses {
		if strings.HasSuffix(url, suffix) {
			return body, nil
		}
	}
	return []byte(`{"data":[]}`), nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "echo360.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

const enrollmentsJSON = `{"data":[
	{"sectionId":"sec-1","courseCode":"COMP3301","courseName":"Operating Systems","termName":"Semester 2","yearTaught":2026},
	{"sectionId":"","courseName":"ghost"},
	{"sectionId":"sec-2","courseCode":"","courseName":"MATH1051","termName":"Semester 2","yearTaught":2026}
]}`

const syllabusJSON = `{"data":[
	{"lesson":{"lesson":{"id":"les-1","name":"Week 1","displayName":"Week 1 - Intro"},"startTimeUTC":"2026-07-28T00:00:00.000Z"},
	 "medias":[{"id":"med-1","mediaType":"Video","isAvailable":true,"durationSeconds":3000,"hasVideo":true,"hasAvailableVideo":true}]},
	{"lesson":{"lesson":{"id":"les-2","name":"Week 2","displayName":""},"startTimeUTC":"2026-08-04T00:00:00.000Z"},
	 "medias":[{"id":"med-2","mediaType":"Video","isAvailable":false}]},
	{"lesson":{"lesson":{"id":"les-3","name":"Week 3","displayName":""},"startTimeUTC":"2026-08-11T00:00:00.000Z"},
	 "medias":[]}
]}`

func TestParseEnrollmentsSkipsAndPrefixes(t *testing.T) {
	courses, err := ParseEnrollments([]byte(enrollmentsJSON))
	if err != nil {
		t.Fatal(err)
	}
	if len(courses) != 2 {
		t.Fatalf("courses = %d, want 2", len(courses))
	}
	if courses[0].CourseName != "COMP3301 Operating Systems" {
		t.Fatalf("name = %q", courses[0].CourseName)
	}
	if courses[1].CourseName != "MATH1051" {
		t.Fatalf("name without code = %q", courses[1].CourseName)
	}
}

func TestParseEnrollmentsMatchesCodeCaseInsensitively(t *testing.T) {
	courses, err := ParseEnrollments([]byte(`{"data":[
		{"sectionId":"sec-3","courseCode":"COMP3000","courseName":"comp3000 Networks","termName":"Semester 2","yearTaught":2026}
	]}`))
	if err != nil {
		t.Fatal(err)
	}
	if courses[0].CourseName != "comp3000 Networks" {
		t.Fatalf("name = %q, code duplicated despite case-folded match", courses[0].CourseName)
	}
}

func TestParseSyllabusFiltersUnavailable(t *testing.T) {
	lessons, err := ParseSyllabus([]byte(syllabusJSON))
	if err != nil {
		t.Fatal(err)
	}
	if len(lessons) != 1 {
		t.Fatalf("lessons = %d, want 1", len(lessons))
	}
	lesson := lessons[0]
	if lesson.MediaID != "med-1" || lesson.LessonID != "les-1" {
		t.Fatalf("lesson = %+v", lesson)
	}
	if lesson.Title != "Week 1 - Intro" {
		t.Fatalf("title = %q", lesson.Title)
	}
	if lesson.Date != "2026-07-28" {
		t.Fatalf("date = %q", lesson.Date)
	}
	if !lesson.HasVideo || !lesson.AvailableVideo {
		t.Fatal("video flags lost")
	}
}

func TestSyncCourseCountsNewOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"/syllabus": []byte(syllabusJSON),
	}}
	svc := New(st, fetcher, "https://echo360.org.au", nil, nil)

	course, err := st.UpsertCourse(ctx, &store.Course{UUID: "sec-1", Name: "OS", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}

	added, err := svc.SyncCourse(ctx, course)
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}

	// Second sync finds nothing new and must not reset pipeline state.
	lectures, err := st.ListLecturesByCourse(ctx, course.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.TransitionAudio(ctx, lectures[0].ID, store.AudioPending, store.AudioQueued); err != nil {
		t.Fatal(err)
	}

	added, err = svc.SyncCourse(ctx, course)
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 {
		t.Fatalf("resync added = %d, want 0", added)
	}
	lecture, err := st.GetLecture(ctx, lectures[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if lecture.AudioStatus != store.AudioQueued {
		t.Fatalf("resync clobbered status: %s", lecture.AudioStatus)
	}
}

func TestSectionIDFromURL(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"https://echo360.org.au/section/sec-abc/home", "sec-abc", false},
		{"https://echo360.org.au/section/sec-abc", "sec-abc", false},
		{"sec-abc", "sec-abc", false},
		{"https://echo360.org.au/courses", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := SectionIDFromURL(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("SectionIDFromURL(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("SectionIDFromURL(%q): %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SectionIDFromURL(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestAddCourseSyncsLectures(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"/syllabus": []byte(syllabusJSON),
	}}
	svc := New(st, fetcher, "https://echo360.org.au", nil, nil)

	course, added, err := svc.AddCourse(ctx, "https://echo360.org.au/section/sec-9/home")
	if err != nil {
		t.Fatal(err)
	}
	if course.UUID != "sec-9" || !course.Enabled {
		t.Fatalf("course = %+v", course)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}

	// Re-adding the same section must not duplicate or rename it.
	if err := st.SetCourseDisplayName(ctx, course.ID, "Operating Systems"); err != nil {
		t.Fatal(err)
	}
	again, _, err := svc.AddCourse(ctx, "sec-9")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != course.ID {
		t.Fatalf("duplicate course created: %d vs %d", again.ID, course.ID)
	}
}

func TestSyncCourses(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"/enrollments": []byte(enrollmentsJSON),
	}}
	svc := New(st, fetcher, "https://echo360.org.au/", nil, nil)

	courses, err := svc.SyncCourses(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(courses) != 2 {
		t.Fatalf("courses = %d", len(courses))
	}
	if len(fetcher.calls) != 1 || !strings.HasPrefix(fetcher.calls[0], "https://echo360.org.au/api") {
		t.Fatalf("calls = %v", fetcher.calls)
	}
}
