package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
)

// MemoryStore is the in-process Store used by default and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	audits   map[string][]model.AuditRecord
	sessions map[string]model.SessionResult
	tasks    map[string]model.Task
	byLine   map[string][]string // lineage key -> task IDs in creation order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		audits:   make(map[string][]model.AuditRecord),
		sessions: make(map[string]model.SessionResult),
		tasks:    make(map[string]model.Task),
		byLine:   make(map[string][]string),
	}
}

func (s *MemoryStore) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits[rec.SessionID] = append(s.audits[rec.SessionID], rec)
	return nil
}

func (s *MemoryStore) AuditTrail(ctx context.Context, sessionID string) ([]model.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trail := s.audits[sessionID]
	out := make([]model.AuditRecord, len(trail))
	copy(out, trail)
	return out, nil
}

func (s *MemoryStore) SaveSessionResult(ctx context.Context, res model.SessionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[res.SessionID] = res
	return nil
}

func (s *MemoryStore) SessionResult(ctx context.Context, sessionID string) (*model.SessionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return &res, nil
}

func (s *MemoryStore) SaveTask(ctx context.Context, t model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.TaskID]; !exists {
		s.byLine[t.LineageKey] = append(s.byLine[t.LineageKey], t.TaskID)
	}
	s.tasks[t.TaskID] = t
	return nil
}

func (s *MemoryStore) OpenTasks(ctx context.Context, lineageKey string) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Task
	for _, id := range s.byLine[lineageKey] {
		t := s.tasks[id]
		if t.Status != model.TaskSuperseded {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkTaskSuperseded(ctx context.Context, taskID, supersededBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	t.Status = model.TaskSuperseded
	t.SupersededBy = supersededBy
	s.tasks[taskID] = t
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
