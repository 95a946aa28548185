package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hananf11/echo360/internal/catalog"
	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/events"
	"github.com/hananf11/echo360/internal/fileutil"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/pipeline"
	"github.com/hananf11/echo360/internal/scheduler"
	"github.com/hananf11/echo360/internal/services"
	"github.com/hananf11/echo360/internal/store"
)

// APIServer exposes the pipeline over HTTP for the CLI and any local
// frontend.
type APIServer struct {
	cfg         *config.Config
	store       *store.Store
	pipeline    *pipeline.Pipeline
	catalog     *catalog.Service
	sched       *scheduler.Scheduler
	broadcaster *events.Broadcaster
	logger      *slog.Logger
	mux         *http.ServeMux
}

// NewAPIServer constructs the HTTP handler set.
func NewAPIServer(cfg *config.Config, st *store.Store, pl *pipeline.Pipeline, cat *catalog.Service, sched *scheduler.Scheduler, broadcaster *events.Broadcaster, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = logging.NewNop()
	}
	server := &APIServer{
		cfg:         cfg,
		store:       st,
		pipeline:    pl,
		catalog:     cat,
		sched:       sched,
		broadcaster: broadcaster,
		logger:      logging.NewComponentLogger(logger, "api"),
		mux:         http.NewServeMux(),
	}
	server.routes()
	return server
}

func (s *APIServer) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/active", s.handleActiveWork)
	s.mux.HandleFunc("GET /api/progress", s.handleProgress)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)

	s.mux.HandleFunc("GET /api/courses", s.handleListCourses)
	s.mux.HandleFunc("POST /api/courses", s.handleAddCourse)
	s.mux.HandleFunc("POST /api/courses/sync", s.handleSyncCourses)
	s.mux.HandleFunc("DELETE /api/courses/{id}", s.handleDeleteCourse)
	s.mux.HandleFunc("GET /api/courses/{id}/lectures", s.handleListLectures)
	s.mux.HandleFunc("POST /api/courses/{id}/sync", s.handleSyncCourse)
	s.mux.HandleFunc("POST /api/courses/{id}/enqueue", s.handleEnqueueCourse)
	s.mux.HandleFunc("POST /api/courses/{id}/enabled", s.handleSetEnabled)
	s.mux.HandleFunc("POST /api/courses/{id}/display-name", s.handleSetDisplayName)

	s.mux.HandleFunc("GET /api/lectures/{id}", s.handleGetLecture)
	s.mux.HandleFunc("GET /api/lectures/{id}/transcript", s.handleGetTranscript)
	s.mux.HandleFunc("GET /api/lectures/{id}/notes", s.handleGetNotes)
	s.mux.HandleFunc("GET /api/lectures/{id}/frames", s.handleGetFrames)
	s.mux.HandleFunc("GET /api/lectures/{id}/audio", s.handleGetAudio)
	s.mux.HandleFunc("GET /api/frames/{id}/image", s.handleGetFrameImage)
	s.mux.HandleFunc("POST /api/lectures/{id}/enqueue", s.lectureAction(s.pipeline.EnqueueDownload))
	s.mux.HandleFunc("POST /api/lectures/{id}/transcribe", s.lectureAction(s.pipeline.EnqueueTranscript))
	s.mux.HandleFunc("POST /api/lectures/{id}/notes", s.lectureAction(s.pipeline.EnqueueNotes))
	s.mux.HandleFunc("POST /api/lectures/{id}/frames", s.lectureAction(s.pipeline.EnqueueFrames))
	s.mux.HandleFunc("POST /api/lectures/{id}/redownload", s.lectureAction(s.pipeline.Redownload))

	s.mux.HandleFunc("POST /api/retry", s.handleRetry)
}

// Handler returns the root handler with request logging attached.
func (s *APIServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := services.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		s.mux.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", logging.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrNoMedia):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", services.ErrNotFound, r.PathValue("id"))
	}
	return id, nil
}

func (s *APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountsByAudioStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	totals, err := s.store.Totals(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"audio":         counts,
		"totals":        totals,
		"running_tasks": s.sched.RunningCount(),
		"library_bytes": fileutil.DirSize(s.cfg.Paths.LibraryDir),
	})
}

func (s *APIServer) handleActiveWork(w http.ResponseWriter, r *http.Request) {
	lectures, err := s.store.ActiveWork(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lectures)
}

func (s *APIServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.store.ProgressByCourse(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, progress)
}

func (s *APIServer) handleListCourses(w http.ResponseWriter, r *http.Request) {
	onlyEnabled := r.URL.Query().Get("enabled") == "true"
	courses, err := s.store.ListCourses(r.Context(), onlyEnabled)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, courses)
}

func (s *APIServer) handleAddCourse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", services.ErrConfiguration, err))
		return
	}
	course, added, err := s.catalog.AddCourse(r.Context(), body.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"course":       course,
		"new_lectures": added,
	})
}

func (s *APIServer) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteCourse(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *APIServer) handleSyncCourses(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.SyncAll(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *APIServer) handleSyncCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	course, err := s.store.GetCourse(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	added, err := s.catalog.SyncCourse(r.Context(), course)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"new_lectures": added})
}

func (s *APIServer) handleListLectures(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	lectures, err := s.store.ListLecturesByCourse(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lectures)
}

func (s *APIServer) handleEnqueueCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	queued, err := s.pipeline.EnqueueCourse(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (s *APIServer) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", services.ErrConfiguration, err))
		return
	}
	if err := s.store.SetCourseEnabled(r.Context(), id, body.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

func (s *APIServer) handleSetDisplayName(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", services.ErrConfiguration, err))
		return
	}
	if err := s.store.SetCourseDisplayName(r.Context(), id, body.DisplayName); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"display_name": body.DisplayName})
}

func (s *APIServer) handleGetLecture(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	lecture, err := s.store.GetLecture(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lecture)
}

func (s *APIServer) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	transcript, err := s.store.GetTranscript(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transcript)
}

func (s *APIServer) handleGetNotes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stored, err := s.store.GetNotes(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *APIServer) handleGetFrames(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	framesList, err := s.store.ListFrames(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, framesList)
}

func (s *APIServer) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	lecture, err := s.store.GetLecture(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if lecture.OpusPath == "" || !fileutil.Exists(lecture.OpusPath) {
		s.writeError(w, fmt.Errorf("%w: lecture %d has no audio file", services.ErrNotFound, id))
		return
	}
	w.Header().Set("Content-Type", "audio/ogg")
	http.ServeFile(w, r, lecture.OpusPath)
}

func (s *APIServer) handleGetFrameImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	frame, err := s.store.GetFrame(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !fileutil.Exists(frame.Path) {
		s.writeError(w, fmt.Errorf("%w: frame image %s", services.ErrNotFound, frame.Path))
		return
	}
	http.ServeFile(w, r, frame.Path)
}

func (s *APIServer) lectureAction(action func(ctx context.Context, id int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := action(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func (s *APIServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	retried, err := s.pipeline.RetryErrored(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int{"retried": retried})
}

// handleEvents streams pipeline events as server-sent events until the
// client disconnects.
func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, cancel := s.broadcaster.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
