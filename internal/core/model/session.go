package model

type SessionStatus string

const (
	SessionSuccess        SessionStatus = "success"
	SessionNoFindings     SessionStatus = "no_findings"
	SessionRequiresReview SessionStatus = "requires_review"
	SessionError          SessionStatus = "error"
)

type FindingStatus string

const (
	FindingSuccess        FindingStatus = "success"
	FindingRequiresReview FindingStatus = "requires_review"
	FindingError          FindingStatus = "error"
)

// FindingOutcome is the terminal per-finding result inside a session. A
// failed finding never fails the session; it is reported here instead.
type FindingOutcome struct {
	Finding        Finding            `json:"finding"`
	Status         FindingStatus      `json:"status"`
	Recommendation *Recommendation    `json:"recommendation,omitempty"`
	Validation     *ValidationOutcome `json:"validation,omitempty"`
	Task           *Task              `json:"task,omitempty"`
	Message        string             `json:"message,omitempty"`
}

// SessionResult is the aggregate returned to the caller for one report run.
type SessionResult struct {
	SessionID           string           `json:"session_id"`
	ReportID            string           `json:"report_id"`
	PatientID           string           `json:"patient_id,omitempty"`
	Status              SessionStatus    `json:"status"`
	Findings            []Finding        `json:"findings"`
	Recommendations     []Recommendation `json:"recommendations"`
	Tasks               []Task           `json:"tasks"`
	Outcomes            []FindingOutcome `json:"outcomes"`
	ProcessingTimeMS    float64          `json:"processing_time_ms"`
	Message             string           `json:"message,omitempty"`
	RequiresHumanReview bool             `json:"requires_human_review"`
}
