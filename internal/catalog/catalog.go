// Package catalog discovers enrolled courses and their captured lectures
// and mirrors them into the store.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hananf11/echo360/internal/events"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/services"
	"github.com/hananf11/echo360/internal/store"
	"github.com/hananf11/echo360/internal/textutil"
)

// Fetcher performs an authenticated GET and returns the body.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string) ([]byte, error)
}

// Service syncs the remote catalog into the store.
type Service struct {
	store       *store.Store
	fetcher     Fetcher
	baseURL     string
	logger      *slog.Logger
	broadcaster *events.Broadcaster
	syncWorkers int
}

// New constructs a catalog Service. baseURL is the institution's player
// origin, e.g. https://echo360.org.au.
func New(st *store.Store, fetcher Fetcher, baseURL string, broadcaster *events.Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:       st,
		fetcher:     fetcher,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logging.NewComponentLogger(logger, "catalog"),
		broadcaster: broadcaster,
		syncWorkers: 1,
	}
}

// SetSyncWorkers bounds how many courses SyncAll refreshes at once.
func (s *Service) SetSyncWorkers(n int) {
	if n > 0 {
		s.syncWorkers = n
	}
}

// CourseInfo is one enrollment row from the platform.
type CourseInfo struct {
	SectionID  string
	CourseCode string
	CourseName string
	Term       string
	Year       int
}

// LessonInfo is one captured session from a course syllabus.
type LessonInfo struct {
	LessonID        string
	MediaID         string
	Title           string
	Date            string
	DurationSeconds float64
	HasVideo        bool
	AvailableVideo  bool
}

// ParseEnrollments extracts courses from the enrollments payload.
func ParseEnrollments(data []byte) ([]CourseInfo, error) {
	var payload struct {
		Data []struct {
			SectionID  string `json:"sectionId"`
			CourseCode string `json:"courseCode"`
			CourseName string `json:"courseName"`
			TermName   string `json:"termName"`
			YearTaught int    `json:"yearTaught"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode enrollments: %w", err)
	}

	courses := make([]CourseInfo, 0, len(payload.Data))
	for _, row := range payload.Data {
		if strings.TrimSpace(row.SectionID) == "" {
			continue
		}
		name := textutil.Clean(row.CourseName)
		// Case-folded containment so "comp3000" in the name suppresses a
		// scraped "COMP3000" prefix.
		if code := textutil.Clean(row.CourseCode); code != "" && !strings.Contains(textutil.FoldKey(name), textutil.FoldKey(code)) {
			name = code + " " + name
		}
		courses = append(courses, CourseInfo{
			SectionID:  row.SectionID,
			CourseCode: row.CourseCode,
			CourseName: name,
			Term:       textutil.Clean(row.TermName),
			Year:       row.YearTaught,
		})
	}
	return courses, nil
}

// ParseSyllabus extracts captured lessons from a section syllabus payload.
// Entries without any media are skipped; they have nothing to retrieve.
func ParseSyllabus(data []byte) ([]LessonInfo, error) {
	var payload struct {
		Data []struct {
			Lesson struct {
				Lesson struct {
					ID          string `json:"id"`
					Name        string `json:"name"`
					DisplayName string `json:"displayName"`
				} `json:"lesson"`
				StartTimeUTC string `json:"startTimeUTC"`
			} `json:"lesson"`
			Medias []struct {
				ID              string  `json:"id"`
				MediaType       string  `json:"mediaType"`
				IsAvailable     bool    `json:"isAvailable"`
				DurationSeconds float64 `json:"durationSeconds"`
				HasVideo        bool    `json:"hasVideo"`
				HasAvailable    bool    `json:"hasAvailableVideo"`
			} `json:"medias"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode syllabus: %w", err)
	}

	var lessons []LessonInfo
	for _, row := range payload.Data {
		title := textutil.Clean(row.Lesson.Lesson.DisplayName)
		if title == "" {
			title = textutil.Clean(row.Lesson.Lesson.Name)
		}
		for _, media := range row.Medias {
			if media.ID == "" || !media.IsAvailable {
				continue
			}
			date := row.Lesson.StartTimeUTC
			if len(date) >= 10 {
				date = date[:10]
			}
			lessons = append(lessons, LessonInfo{
				LessonID:        row.Lesson.Lesson.ID,
				MediaID:         media.ID,
				Title:           title,
				Date:            date,
				DurationSeconds: media.DurationSeconds,
				HasVideo:        media.HasVideo,
				AvailableVideo:  media.HasAvailable,
			})
		}
	}
	return lessons, nil
}

// SectionIDFromURL extracts the section UUID from a course URL such as
// https://echo360.org.au/section/<uuid>/home. A bare UUID passes through.
func SectionIDFromURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty course url")
	}
	if !strings.Contains(raw, "/") {
		return raw, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse course url: %w", err)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, part := range parts {
		if part == "section" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("no section id in %q", raw)
}

// AddCourse registers a course by section URL or UUID and pulls its lectures.
// Already-known sections are refreshed rather than duplicated.
func (s *Service) AddCourse(ctx context.Context, raw string) (*store.Course, int, error) {
	sectionID, err := SectionIDFromURL(raw)
	if err != nil {
		return nil, 0, err
	}
	course, err := s.store.GetCourseByUUID(ctx, sectionID)
	if errors.Is(err, services.ErrNotFound) {
		course, err = s.store.UpsertCourse(ctx, &store.Course{
			UUID:    sectionID,
			Name:    sectionID,
			Enabled: true,
		})
	}
	if err != nil {
		return nil, 0, err
	}
	added, err := s.SyncCourse(ctx, course)
	if err != nil {
		return course, 0, err
	}
	return course, added, nil
}

// SyncCourses refreshes the course list from the platform. New courses are
// stored enabled.
func (s *Service) SyncCourses(ctx context.Context) ([]*store.Course, error) {
	data, err := s.fetcher.FetchJSON(ctx, s.baseURL+"/api/ui/user/enrollments")
	if err != nil {
		return nil, fmt.Errorf("fetch enrollments: %w", err)
	}
	infos, err := ParseEnrollments(data)
	if err != nil {
		return nil, err
	}

	var courses []*store.Course
	for _, info := range infos {
		course, err := s.store.UpsertCourse(ctx, &store.Course{
			UUID:    info.SectionID,
			Name:    info.CourseName,
			Year:    info.Year,
			Term:    info.Term,
			Enabled: true,
		})
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	s.logger.Info("courses synced", logging.Int("count", len(courses)))
	return courses, nil
}

// SyncCourse refreshes one course's lectures from its syllabus. Returns the
// number of lectures not previously known.
func (s *Service) SyncCourse(ctx context.Context, course *store.Course) (int, error) {
	data, err := s.fetcher.FetchJSON(ctx, s.baseURL+"/section/"+course.UUID+"/syllabus")
	if err != nil {
		return 0, fmt.Errorf("fetch syllabus for %s: %w", course.UUID, err)
	}
	lessons, err := ParseSyllabus(data)
	if err != nil {
		return 0, err
	}

	existing, err := s.store.ListLecturesByCourse(ctx, course.ID)
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, lecture := range existing {
		known[lecture.MediaID] = struct{}{}
	}

	added := 0
	for _, lesson := range lessons {
		lecture, err := s.store.UpsertLecture(ctx, &store.Lecture{
			CourseID:        course.ID,
			MediaID:         lesson.MediaID,
			LessonID:        lesson.LessonID,
			Title:           lesson.Title,
			Date:            lesson.Date,
			DurationSeconds: lesson.DurationSeconds,
			HasVideo:        lesson.HasVideo,
			AvailableVideo:  lesson.AvailableVideo,
		})
		if err != nil {
			return added, err
		}
		if _, ok := known[lesson.MediaID]; !ok {
			added++
			if s.broadcaster != nil {
				s.broadcaster.Publish(events.Event{
					Type:      events.TypeLectureAdded,
					LectureID: lecture.ID,
					CourseID:  course.ID,
					Message:   lecture.Title,
				})
			}
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.Publish(events.Event{
			Type:     events.TypeCourseSynced,
			CourseID: course.ID,
			Message:  fmt.Sprintf("%d lectures, %d new", len(lessons), added),
		})
	}
	s.logger.Info("course synced",
		logging.Int64(logging.FieldCourseID, course.ID),
		logging.Int("lectures", len(lessons)),
		logging.Int("new", added))
	return added, nil
}

// SyncAll refreshes courses then every enabled course's lectures. Courses
// sync concurrently up to the configured worker count. A failed course is
// logged and skipped so one broken syllabus cannot stall the rest.
func (s *Service) SyncAll(ctx context.Context) error {
	if _, err := s.SyncCourses(ctx); err != nil {
		return err
	}
	courses, err := s.store.ListCourses(ctx, true)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.syncWorkers)
	for _, course := range courses {
		group.Go(func() error {
			if _, err := s.SyncCourse(groupCtx, course); err != nil {
				s.logger.Warn("course sync failed",
					logging.Int64(logging.FieldCourseID, course.ID),
					logging.Error(err))
			}
			return nil
		})
	}
	return group.Wait()
}
