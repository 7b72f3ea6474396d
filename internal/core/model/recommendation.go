package model

import "strings"

type Urgency string

const (
	UrgencyRoutine  Urgency = "routine"
	UrgencyPriority Urgency = "priority"
	UrgencyUrgent   Urgency = "urgent"
	UrgencyStat     Urgency = "stat"
)

// Rank gives the ordinal position: routine < priority < urgent < stat.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyRoutine:
		return 0
	case UrgencyPriority:
		return 1
	case UrgencyUrgent:
		return 2
	case UrgencyStat:
		return 3
	}
	return -1
}

// ParseUrgency maps free text from the reasoning service onto the enum.
// Unknown values fall back to priority rather than routine.
func ParseUrgency(s string) Urgency {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "routine":
		return UrgencyRoutine
	case "priority":
		return UrgencyPriority
	case "urgent":
		return UrgencyUrgent
	case "stat", "emergent", "immediate":
		return UrgencyStat
	}
	return UrgencyPriority
}

// Citation ties a recommendation back to a specific retrieved passage.
type Citation struct {
	PassageID string `json:"passage_id"`
	Source    string `json:"source"`
}

// Recommendation is the derived follow-up action for one finding. Created by
// the reasoner; mutated at most once by the validator; immutable thereafter.
// A nil TimeframeMonths means no further follow-up.
type Recommendation struct {
	RecommendationID string    `json:"recommendation_id"`
	FindingID        string    `json:"finding_id"`
	FollowUpType     string    `json:"follow_up_type"`
	TimeframeMonths  *int      `json:"timeframe_months,omitempty"`
	Urgency          Urgency   `json:"urgency"`
	Confidence       float64   `json:"confidence"`
	Reasoning        string    `json:"reasoning"`
	Citation         *Citation `json:"citation,omitempty"`
}

// NoAction reports whether the recommendation means "no further follow-up".
func (r Recommendation) NoAction() bool {
	if r.TimeframeMonths != nil {
		return false
	}
	t := strings.ToLower(strings.TrimSpace(r.FollowUpType))
	return t == "" || t == "none" || t == "no follow-up" || t == "no follow up"
}

type ValidationStatus string

const (
	ValidationAccepted  ValidationStatus = "accepted"
	ValidationEscalated ValidationStatus = "escalated"
	ValidationRejected  ValidationStatus = "rejected"
)

// ValidationOutcome tags a recommendation after the safety checks. Rejected
// recommendations never reach the task emitter.
type ValidationOutcome struct {
	Status         ValidationStatus `json:"status"`
	Reasons        []string         `json:"reasons,omitempty"`
	RequiresReview bool             `json:"requires_review"`
}
