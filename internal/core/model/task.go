package model

import "time"

type TaskStatus string

const (
	TaskSubmitted                 TaskStatus = "submitted"
	TaskPendingExternalSubmission TaskStatus = "pending_external_submission"
	TaskSuperseded                TaskStatus = "superseded"
)

// Task is the follow-up order derived from an accepted recommendation. Tasks
// are never deleted, only superseded by a newer task in the same finding
// lineage.
type Task struct {
	TaskID           string     `json:"task_id"`
	OrderID          string     `json:"order_id,omitempty"` // assigned by the EHR after submission
	Procedure        string     `json:"procedure"`
	ScheduledDate    time.Time  `json:"scheduled_date"`
	Reason           string     `json:"reason"`
	RecommendationID string     `json:"recommendation_id"`
	SessionID        string     `json:"session_id,omitempty"`
	PatientID        string     `json:"patient_id,omitempty"`
	LineageKey       string     `json:"lineage_key"`
	Status           TaskStatus `json:"status"`
	SupersededBy     string     `json:"superseded_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
