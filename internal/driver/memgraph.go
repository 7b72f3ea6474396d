package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
)

// MemgraphStore persists the lineage graph in Memgraph over the bolt
// protocol. Sessions, tasks and audit entries are nodes; HAS_AUDIT and
// HAS_TASK edges carry the traceability chain.
type MemgraphStore struct {
	Driver neo4j.DriverWithContext
}

func NewMemgraphStore(uri, username, password string) (*MemgraphStore, error) {
	d, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := d.VerifyConnectivity(context.Background()); err != nil {
		return nil, err
	}
	return &MemgraphStore{Driver: d}, nil
}

func (s *MemgraphStore) Close(ctx context.Context) error {
	return s.Driver.Close(ctx)
}

func (s *MemgraphStore) execute(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.Driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

// BuildIndices creates the lookup indices the store queries rely on. Safe to
// call repeatedly; existing indices are skipped with a warning from the DB.
func (s *MemgraphStore) BuildIndices(ctx context.Context) error {
	queries := []string{
		"CREATE INDEX ON :Session(session_id);",
		"CREATE INDEX ON :Audit(session_id);",
		"CREATE INDEX ON :Task(task_id);",
		"CREATE INDEX ON :Task(lineage_key);",
	}
	for _, q := range queries {
		if _, err := s.execute(ctx, q, nil); err != nil {
			// Index may already exist.
			continue
		}
	}
	return nil
}

func (s *MemgraphStore) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	_, err := s.execute(ctx, SaveAuditQuery, map[string]interface{}{
		"session_id":     rec.SessionID,
		"seq":            rec.Seq,
		"finding_id":     rec.FindingID,
		"stage":          rec.Stage,
		"input_summary":  rec.InputSummary,
		"output_summary": rec.OutputSummary,
		"timestamp":      rec.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (s *MemgraphStore) AuditTrail(ctx context.Context, sessionID string) ([]model.AuditRecord, error) {
	result, err := s.execute(ctx, AuditTrailQuery, map[string]interface{}{
		"session_id": sessionID,
	})
	if err != nil {
		return nil, err
	}

	var trail []model.AuditRecord
	for _, rec := range result.Records {
		r := model.AuditRecord{SessionID: sessionID}
		if v, ok := rec.Get("seq"); ok {
			r.Seq = int(asInt64(v))
		}
		if v, ok := rec.Get("finding_id"); ok {
			r.FindingID = asString(v)
		}
		if v, ok := rec.Get("stage"); ok {
			r.Stage = asString(v)
		}
		if v, ok := rec.Get("input_summary"); ok {
			r.InputSummary = asString(v)
		}
		if v, ok := rec.Get("output_summary"); ok {
			r.OutputSummary = asString(v)
		}
		if v, ok := rec.Get("timestamp"); ok {
			if ts, perr := time.Parse(time.RFC3339Nano, asString(v)); perr == nil {
				r.Timestamp = ts
			}
		}
		trail = append(trail, r)
	}
	return trail, nil
}

func (s *MemgraphStore) SaveSessionResult(ctx context.Context, res model.SessionResult) error {
	blob, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to serialize session result: %w", err)
	}
	_, err = s.execute(ctx, SaveSessionResultQuery, map[string]interface{}{
		"session_id": res.SessionID,
		"report_id":  res.ReportID,
		"patient_id": res.PatientID,
		"status":     string(res.Status),
		"result":     string(blob),
	})
	return err
}

func (s *MemgraphStore) SessionResult(ctx context.Context, sessionID string) (*model.SessionResult, error) {
	result, err := s.execute(ctx, SessionResultQuery, map[string]interface{}{
		"session_id": sessionID,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	raw, _ := result.Records[0].Get("result")
	var res model.SessionResult
	if err := json.Unmarshal([]byte(asString(raw)), &res); err != nil {
		return nil, fmt.Errorf("failed to decode session result: %w", err)
	}
	return &res, nil
}

func (s *MemgraphStore) SaveTask(ctx context.Context, t model.Task) error {
	_, err := s.execute(ctx, SaveTaskQuery, map[string]interface{}{
		"task_id":           t.TaskID,
		"order_id":          t.OrderID,
		"procedure":         t.Procedure,
		"scheduled_date":    t.ScheduledDate.UTC().Format(time.RFC3339),
		"reason":            t.Reason,
		"recommendation_id": t.RecommendationID,
		"session_id":        t.SessionID,
		"patient_id":        t.PatientID,
		"lineage_key":       t.LineageKey,
		"status":            string(t.Status),
		"superseded_by":     t.SupersededBy,
		"created_at":        t.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	return err
}

func (s *MemgraphStore) OpenTasks(ctx context.Context, lineageKey string) ([]model.Task, error) {
	result, err := s.execute(ctx, OpenTasksQuery, map[string]interface{}{
		"lineage_key": lineageKey,
	})
	if err != nil {
		return nil, err
	}

	var tasks []model.Task
	for _, rec := range result.Records {
		t := model.Task{LineageKey: lineageKey}
		if v, ok := rec.Get("task_id"); ok {
			t.TaskID = asString(v)
		}
		if v, ok := rec.Get("order_id"); ok {
			t.OrderID = asString(v)
		}
		if v, ok := rec.Get("procedure"); ok {
			t.Procedure = asString(v)
		}
		if v, ok := rec.Get("scheduled_date"); ok {
			if ts, perr := time.Parse(time.RFC3339, asString(v)); perr == nil {
				t.ScheduledDate = ts
			}
		}
		if v, ok := rec.Get("reason"); ok {
			t.Reason = asString(v)
		}
		if v, ok := rec.Get("recommendation_id"); ok {
			t.RecommendationID = asString(v)
		}
		if v, ok := rec.Get("patient_id"); ok {
			t.PatientID = asString(v)
		}
		if v, ok := rec.Get("status"); ok {
			t.Status = model.TaskStatus(asString(v))
		}
		if v, ok := rec.Get("created_at"); ok {
			if ts, perr := time.Parse(time.RFC3339Nano, asString(v)); perr == nil {
				t.CreatedAt = ts
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *MemgraphStore) MarkTaskSuperseded(ctx context.Context, taskID, supersededBy string) error {
	result, err := s.execute(ctx, SupersedeTaskQuery, map[string]interface{}{
		"task_id":       taskID,
		"superseded_by": supersededBy,
	})
	if err != nil {
		return err
	}
	if len(result.Records) == 0 {
		return fmt.Errorf("task not found: %s", taskID)
	}
	return nil
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
