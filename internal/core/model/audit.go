package model

import "time"

// Pipeline stages as they appear in audit records.
const (
	StageReceived   = "received"
	StageExtracting = "extracting"
	StageRetrieving = "retrieving"
	StageReasoning  = "reasoning"
	StageValidating = "validating"
	StageEmitting   = "emitting"
	StageAuditing   = "auditing"
	StageCompleted  = "completed"
	StageRejected   = "rejected"
)

// AuditRecord is one append-only entry in the per-session decision trace.
// Write-once; never edited or deleted. Seq fixes the append order so that
// retrieving a trail twice returns identical sequences.
type AuditRecord struct {
	SessionID     string    `json:"session_id"`
	Seq           int       `json:"seq"`
	FindingID     string    `json:"finding_id,omitempty"` // empty for session-level entries
	Stage         string    `json:"stage"`
	InputSummary  string    `json:"input_summary"`
	OutputSummary string    `json:"output_summary"`
	Timestamp     time.Time `json:"timestamp"`
}
