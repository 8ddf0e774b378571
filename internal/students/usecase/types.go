package usecase

import (
	"time"

	"students-registry/internal/students/domain/model"
)

// Change event types published on the event bus after successful writes.
const (
	EventStudentCreated = "student.created"
	EventStudentUpdated = "student.updated"
	EventStudentDeleted = "student.deleted"

	eventSource = "students"
)

// EventTypes lists every change event type, in the order they are documented.
var EventTypes = []string{EventStudentCreated, EventStudentUpdated, EventStudentDeleted}

// ListStudentsRequest narrows a listing. All fields are optional.
type ListStudentsRequest struct {
	// Filter holds attribute equality constraints, e.g. {"course": "Math"}.
	Filter model.Filter
	// Expression is a CEL boolean expression over the variable `student`.
	Expression string
	// Limit caps the number of results; 0 means no limit.
	Limit int
}

// StudentEvent is the payload of every change event.
type StudentEvent struct {
	Type       string         `json:"type"`
	StudentID  string         `json:"id"`
	Student    *model.Student `json:"student,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
