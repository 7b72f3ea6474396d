package driver

import (
	"context"
	"errors"

	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
)

var ErrSessionNotFound = errors.New("session not found")

// Store persists the decision lineage: audit trails, tasks, and final session
// results. Audit appends are atomic per record and trails come back in append
// order, so retrieving the same session twice yields identical sequences.
type Store interface {
	AppendAudit(ctx context.Context, rec model.AuditRecord) error
	AuditTrail(ctx context.Context, sessionID string) ([]model.AuditRecord, error)

	SaveSessionResult(ctx context.Context, res model.SessionResult) error
	SessionResult(ctx context.Context, sessionID string) (*model.SessionResult, error)

	SaveTask(ctx context.Context, t model.Task) error
	// OpenTasks returns non-superseded tasks in a finding lineage. This is the
	// validator's read-only prior-recommendation lookup; no retention policy
	// is assumed.
	OpenTasks(ctx context.Context, lineageKey string) ([]model.Task, error)
	MarkTaskSuperseded(ctx context.Context, taskID, supersededBy string) error

	Close(ctx context.Context) error
}
