package logging

// Standard attribute keys. Handlers and the event stream rely on these names,
// so stages must not invent variants.
const (
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldLectureID = "lecture_id"
	FieldCourseID  = "course_id"
	FieldRequestID = "request_id"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
)
