package store

import (
	"strings"
	"time"
)

// AudioStatus tracks a lecture through download and conversion.
type AudioStatus string

const (
	AudioPending     AudioStatus = "pending"
	AudioQueued      AudioStatus = "queued"
	AudioDownloading AudioStatus = "downloading"
	AudioDownloaded  AudioStatus = "downloaded"
	AudioConverting  AudioStatus = "converting"
	AudioDone        AudioStatus = "done"
	AudioError       AudioStatus = "error"
	AudioNoMedia     AudioStatus = "no_media"
)

// DerivedStatus tracks transcript, notes, and frames production. The three
// axes share a transition graph; the stored in-progress label differs per
// axis: transcribing, generating, or extracting.
type DerivedStatus string

const (
	DerivedPending      DerivedStatus = "pending"
	DerivedQueued       DerivedStatus = "queued"
	DerivedTranscribing DerivedStatus = "transcribing"
	DerivedGenerating   DerivedStatus = "generating"
	DerivedExtracting   DerivedStatus = "extracting"
	DerivedDone         DerivedStatus = "done"
	DerivedError        DerivedStatus = "error"
)

// derivedActive is the canonical transition-graph node the three per-axis
// in-progress labels collapse onto. It is never stored.
const derivedActive DerivedStatus = "active"

func (s DerivedStatus) normalized() DerivedStatus {
	switch s {
	case DerivedTranscribing, DerivedGenerating, DerivedExtracting:
		return derivedActive
	}
	return s
}

var audioStatuses = []AudioStatus{
	AudioPending, AudioQueued, AudioDownloading, AudioDownloaded,
	AudioConverting, AudioDone, AudioError, AudioNoMedia,
}

var audioTransitions = map[AudioStatus][]AudioStatus{
	AudioPending:     {AudioQueued, AudioNoMedia},
	AudioQueued:      {AudioDownloading, AudioPending, AudioError, AudioNoMedia},
	AudioDownloading: {AudioDownloaded, AudioPending, AudioError, AudioNoMedia},
	AudioDownloaded:  {AudioConverting, AudioError},
	AudioConverting:  {AudioDone, AudioDownloaded, AudioError},
	AudioDone:        {AudioPending},
	AudioError:       {AudioPending, AudioQueued},
	AudioNoMedia:     {AudioPending},
}

var derivedTransitions = map[DerivedStatus][]DerivedStatus{
	DerivedPending: {DerivedQueued},
	DerivedQueued:  {derivedActive, DerivedPending, DerivedError},
	derivedActive:  {DerivedDone, DerivedPending, DerivedError},
	DerivedDone:    {DerivedPending},
	DerivedError:   {DerivedPending, DerivedQueued},
}

// ParseAudioStatus converts a string into a known AudioStatus.
func ParseAudioStatus(value string) (AudioStatus, bool) {
	normalized := AudioStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range audioStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// ParseDerivedStatus converts a string into a known DerivedStatus.
func ParseDerivedStatus(value string) (DerivedStatus, bool) {
	normalized := DerivedStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case DerivedPending, DerivedQueued, DerivedTranscribing, DerivedGenerating,
		DerivedExtracting, DerivedDone, DerivedError:
		return normalized, true
	}
	return "", false
}

// CanTransition reports whether the audio axis permits moving to next.
func (s AudioStatus) CanTransition(next AudioStatus) bool {
	for _, allowed := range audioTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanTransition reports whether a derived axis permits moving to next. The
// three per-axis in-progress labels occupy the same node in the graph.
func (s DerivedStatus) CanTransition(next DerivedStatus) bool {
	for _, allowed := range derivedTransitions[s.normalized()] {
		if allowed == next.normalized() {
			return true
		}
	}
	return false
}

// IsActive reports whether the audio status names in-flight work.
func (s AudioStatus) IsActive() bool {
	switch s {
	case AudioQueued, AudioDownloading, AudioConverting:
		return true
	}
	return false
}

// IsActive reports whether the derived status names in-flight work.
func (s DerivedStatus) IsActive() bool {
	return s == DerivedQueued || s.normalized() == derivedActive
}

// Axis identifies one of the four independent lecture status axes.
type Axis string

const (
	AxisAudio      Axis = "audio"
	AxisTranscript Axis = "transcript"
	AxisNotes      Axis = "notes"
	AxisFrames     Axis = "frames"
)

func (a Axis) column() string {
	switch a {
	case AxisAudio:
		return "audio_status"
	case AxisTranscript:
		return "transcript_status"
	case AxisNotes:
		return "notes_status"
	case AxisFrames:
		return "frames_status"
	}
	return ""
}

func (a Axis) errorColumn() string {
	switch a {
	case AxisAudio:
		return "audio_error"
	case AxisTranscript:
		return "transcript_error"
	case AxisNotes:
		return "notes_error"
	case AxisFrames:
		return "frames_error"
	}
	return ""
}

// Active returns the stored in-progress status for a derived axis.
func (a Axis) Active() DerivedStatus {
	switch a {
	case AxisTranscript:
		return DerivedTranscribing
	case AxisNotes:
		return DerivedGenerating
	case AxisFrames:
		return DerivedExtracting
	}
	return derivedActive
}

// Course is a subscribed Echo section.
type Course struct {
	ID          int64     `json:"id"`
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Year        int       `json:"year,omitempty"`
	Term        string    `json:"term,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Title returns the display name when set, otherwise the scraped name.
func (c Course) Title() string {
	if strings.TrimSpace(c.DisplayName) != "" {
		return c.DisplayName
	}
	return c.Name
}

// Lecture is one captured session within a course.
type Lecture struct {
	ID               int64         `json:"id"`
	CourseID         int64         `json:"course_id"`
	MediaID          string        `json:"media_id"`
	LessonID         string        `json:"lesson_id,omitempty"`
	Title            string        `json:"title"`
	Date             string        `json:"date,omitempty"`
	DurationSeconds  float64       `json:"duration_seconds,omitempty"`
	HasVideo         bool          `json:"has_video"`
	AvailableVideo   bool          `json:"available_video"`
	AudioStatus      AudioStatus   `json:"audio_status"`
	TranscriptStatus DerivedStatus `json:"transcript_status"`
	NotesStatus      DerivedStatus `json:"notes_status"`
	FramesStatus     DerivedStatus `json:"frames_status"`
	AudioError       string        `json:"audio_error,omitempty"`
	TranscriptError  string        `json:"transcript_error,omitempty"`
	NotesError       string        `json:"notes_error,omitempty"`
	FramesError      string        `json:"frames_error,omitempty"`
	RawPath          string        `json:"-"`
	OpusPath         string        `json:"opus_path,omitempty"`
	StreamJSON       string        `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// DerivedStatusFor returns the lecture's status on the given derived axis.
func (l Lecture) DerivedStatusFor(axis Axis) DerivedStatus {
	switch axis {
	case AxisTranscript:
		return l.TranscriptStatus
	case AxisNotes:
		return l.NotesStatus
	case AxisFrames:
		return l.FramesStatus
	}
	return ""
}

// TranscriptSegment is one timestamped span of speech, ordered by start.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript holds the speech-to-text output for a lecture. Rows are
// immutable; re-transcription appends and the highest id wins.
type Transcript struct {
	ID              int64               `json:"id"`
	LectureID       int64               `json:"lecture_id"`
	Text            string              `json:"text"`
	Segments        []TranscriptSegment `json:"segments,omitempty"`
	Provider        string              `json:"provider,omitempty"`
	DurationSeconds float64             `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Notes holds the generated study notes for a lecture. Like transcripts,
// rows are append-only with the highest id authoritative.
type Notes struct {
	ID              int64            `json:"id"`
	LectureID       int64            `json:"lecture_id"`
	Title           string           `json:"title"`
	Content         string           `json:"content"`
	Model           string           `json:"model,omitempty"`
	FrameTimestamps []FrameTimestamp `json:"frame_timestamps,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// FrameTimestamp is a moment the note generator flagged as visually
// significant.
type FrameTimestamp struct {
	TimeSeconds float64 `json:"time"`
	Reason      string  `json:"reason"`
}

// Frame is one extracted video still.
type Frame struct {
	ID          int64     `json:"id"`
	LectureID   int64     `json:"lecture_id"`
	TimeSeconds float64   `json:"time_seconds"`
	Reason      string    `json:"reason,omitempty"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusCounts aggregates lecture counts per audio status.
type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Queued     int `json:"queued"`
	InFlight   int `json:"in_flight"`
	Downloaded int `json:"downloaded"`
	Done       int `json:"done"`
	Errored    int `json:"errored"`
	NoMedia    int `json:"no_media"`
}
