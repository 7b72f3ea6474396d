package model

import "time"

// Report is the immutable input to one pipeline session.
type Report struct {
	ReportID   string    `json:"report_id"`
	Text       string    `json:"text"`
	PatientID  string    `json:"patient_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
