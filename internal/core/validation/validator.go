package validation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/AmulyaVeldandi/AuDRA/internal/config"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
	"github.com/AmulyaVeldandi/AuDRA/internal/driver"
)

// Validator runs the safety checks over a derived recommendation. It may
// adjust the recommendation exactly once (urgency escalation or the
// stat-timeframe correction); the adjusted copy is returned and the input is
// left alone. A rejection is a terminal outcome for that finding, never an
// error.
type Validator struct {
	Store      driver.Store
	Thresholds config.Thresholds
	Logger     zerolog.Logger
}

func NewValidator(store driver.Store, thresholds config.Thresholds, logger zerolog.Logger) *Validator {
	return &Validator{Store: store, Thresholds: thresholds, Logger: logger}
}

// Result carries the validated (possibly adjusted) recommendation plus any
// still-open prior tasks in the same lineage. The orchestrator marks those
// superseded once the replacement task exists.
type Result struct {
	Outcome        model.ValidationOutcome
	Recommendation model.Recommendation
	PriorTasks     []model.Task
}

func (v *Validator) Validate(ctx context.Context, rec model.Recommendation, f model.Finding, patientID string) (Result, error) {
	out := model.ValidationOutcome{Status: model.ValidationAccepted}

	// (a) internal consistency: stat with a multi-month timeframe contradicts
	// itself; correct downward and flag.
	if rec.Urgency == model.UrgencyStat && rec.TimeframeMonths != nil && *rec.TimeframeMonths > 1 {
		rec.Urgency = model.UrgencyUrgent
		out.Status = model.ValidationEscalated
		out.Reasons = append(out.Reasons, fmt.Sprintf("stat urgency with %d-month timeframe auto-corrected to urgent", *rec.TimeframeMonths))
		out.RequiresReview = true
	}
	if rec.TimeframeMonths != nil && *rec.TimeframeMonths < 0 {
		out.Status = model.ValidationRejected
		out.Reasons = append(out.Reasons, "negative follow-up timeframe")
		out.RequiresReview = true
		return Result{Outcome: out, Recommendation: rec}, nil
	}

	// Suspicious findings must not end with "no follow-up".
	if rec.NoAction() && v.suspicious(f) {
		out.Status = model.ValidationRejected
		out.Reasons = append(out.Reasons, "no-action recommendation for a suspicious finding")
		out.RequiresReview = true
		return Result{Outcome: out, Recommendation: rec}, nil
	}

	// (b) contradiction with open tasks in the same finding lineage. The
	// newer recommendation supersedes; the old tasks are returned so they can
	// be marked once the replacement exists.
	var prior []model.Task
	if v.Store != nil {
		tasks, err := v.Store.OpenTasks(ctx, f.LineageKey(patientID))
		if err != nil {
			return Result{}, fmt.Errorf("failed to look up prior tasks: %w", err)
		}
		if len(tasks) > 0 {
			prior = tasks
			out.Reasons = append(out.Reasons, fmt.Sprintf("supersedes %d open task(s) in this finding lineage", len(tasks)))
		}
	}

	// (c) size/urgency sanity bounds.
	if f.SizeMM != nil {
		if bound := v.highRiskBound(f.Type); bound > 0 && *f.SizeMM > bound && rec.Urgency == model.UrgencyRoutine {
			rec.Urgency = model.UrgencyPriority
			out.Status = model.ValidationEscalated
			out.Reasons = append(out.Reasons, fmt.Sprintf("size %.1fmm exceeds high-risk bound %.1fmm for %s, escalated from routine", *f.SizeMM, bound, f.Type))
		}
		if v.Thresholds.ReviewSizeMM > 0 && *f.SizeMM > v.Thresholds.ReviewSizeMM {
			out.RequiresReview = true
			out.Reasons = append(out.Reasons, fmt.Sprintf("size %.1fmm exceeds review bound %.1fmm", *f.SizeMM, v.Thresholds.ReviewSizeMM))
		}
	}
	if suspiciousTags(f) && !out.RequiresReview {
		out.RequiresReview = true
		out.Reasons = append(out.Reasons, "suspicious characteristics flagged for review")
	}

	return Result{Outcome: out, Recommendation: rec, PriorTasks: prior}, nil
}

func (v *Validator) highRiskBound(t model.FindingType) float64 {
	switch t {
	case model.FindingSolidNodule:
		return v.Thresholds.HighRiskSolidMM
	case model.FindingGroundGlassNodule:
		return v.Thresholds.HighRiskGroundGlassMM
	case model.FindingPartSolidNodule:
		return v.Thresholds.HighRiskPartSolidMM
	case model.FindingLiverLesion:
		return v.Thresholds.HighRiskLiverMM
	}
	return 0
}

func suspiciousTags(f model.Finding) bool {
	return f.HasCharacteristic("spiculated") || f.HasCharacteristic("irregular") || f.HasCharacteristic("growing")
}

func (v *Validator) suspicious(f model.Finding) bool {
	if suspiciousTags(f) {
		return true
	}
	if f.SizeMM != nil {
		if bound := v.highRiskBound(f.Type); bound > 0 && *f.SizeMM > bound {
			return true
		}
	}
	return false
}
