// Package events fans out pipeline state changes to in-process subscribers
// and the SSE endpoint.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hananf11/echo360/internal/logging"
)

// Type labels an event for subscribers.
type Type string

const (
	TypeStatusChanged    Type = "status_changed"
	TypeCourseSynced     Type = "course_synced"
	TypeLectureAdded     Type = "lecture_added"
	TypePipelineError    Type = "pipeline_error"
	TypeDownloadProgress Type = "download_progress"
)

// Event is one pipeline state change. Done and Total carry download
// progress, bytes for direct fetches and segment counts for manifests.
type Event struct {
	Type      Type      `json:"type"`
	LectureID int64     `json:"lecture_id,omitempty"`
	CourseID  int64     `json:"course_id,omitempty"`
	Axis      string    `json:"axis,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Done      int64     `json:"done,omitempty"`
	Total     int64     `json:"total,omitempty"`
	Time      time.Time `json:"time"`
}

const subscriberBuffer = 64

// Broadcaster delivers events to any number of subscribers. Publishing
// never blocks; a subscriber that falls behind loses events rather than
// stalling the pipeline.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	logger      *slog.Logger
	closed      bool
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Event),
		logger:      logging.NewComponentLogger(logger, "events"),
	}
}

// Subscribe registers a listener. The returned cancel function must be
// called to release the subscription.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := uuid.NewString()
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers.
func (b *Broadcaster) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				logging.String("subscriber", id),
				logging.String(logging.FieldEventType, string(event.Type)))
		}
	}
}

// Close terminates all subscriptions. Further publishes are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
