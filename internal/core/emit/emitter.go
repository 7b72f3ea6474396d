package emit

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
	"github.com/AmulyaVeldandi/AuDRA/internal/driver"
	"github.com/AmulyaVeldandi/AuDRA/internal/ehr"
)

// Emitter converts an accepted recommendation into an external order and a
// local task record. A failed external submission never drops the task: after
// the bounded retries are exhausted the task is stored in
// pending_external_submission and the finding is routed to review.
type Emitter struct {
	EHR        ehr.Client
	Store      driver.Store
	MaxRetries int
	Timeout    time.Duration
	Now        func() time.Time
	IDs        func() string
	Logger     zerolog.Logger
}

// Result reports what the emitter did for one recommendation. Task is nil
// when no follow-up was required.
type Result struct {
	Task    *model.Task
	Pending bool
	Note    string
}

// Emit creates and submits the follow-up task. An absent timeframe means no
// task at all, which is a valid terminal outcome.
func (e *Emitter) Emit(ctx context.Context, rec model.Recommendation, f model.Finding, sessionID, patientID string) (Result, error) {
	if rec.TimeframeMonths == nil {
		return Result{Note: "no follow-up required"}, nil
	}

	now := e.Now().UTC()
	scheduled := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, *rec.TimeframeMonths, 0)

	task := model.Task{
		TaskID:           e.IDs(),
		Procedure:        rec.FollowUpType,
		ScheduledDate:    scheduled,
		Reason:           rec.Reasoning,
		RecommendationID: rec.RecommendationID,
		SessionID:        sessionID,
		PatientID:        patientID,
		LineageKey:       f.LineageKey(patientID),
		Status:           model.TaskPendingExternalSubmission,
		CreatedAt:        now,
	}

	orderID, submitErr := e.submit(ctx, task)
	if submitErr == nil {
		task.OrderID = orderID
		task.Status = model.TaskSubmitted
	} else {
		e.Logger.Warn().Err(submitErr).Str("task_id", task.TaskID).Msg("order submission exhausted retries, task held locally")
	}

	if err := e.Store.SaveTask(ctx, task); err != nil {
		return Result{}, fmt.Errorf("failed to save task: %w", err)
	}

	if submitErr != nil {
		return Result{
			Task:    &task,
			Pending: true,
			Note:    fmt.Sprintf("order submission failed after %d attempts: %v", e.MaxRetries, submitErr),
		}, nil
	}
	return Result{Task: &task}, nil
}

func (e *Emitter) submit(ctx context.Context, task model.Task) (string, error) {
	req := ehr.OrderRequest{
		TaskID:        task.TaskID,
		PatientID:     task.PatientID,
		Procedure:     task.Procedure,
		ScheduledDate: task.ScheduledDate,
		Reason:        task.Reason,
	}

	var orderID string
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, e.Timeout)
		defer cancel()
		id, err := e.EHR.SubmitOrder(cctx, req)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retriesFrom(e.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return orderID, nil
}

func retriesFrom(maxRetries int) uint64 {
	if maxRetries <= 1 {
		return 0
	}
	return uint64(maxRetries - 1)
}
