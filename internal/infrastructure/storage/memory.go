package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
)

// MemoryStore keeps messages and runs in process memory. It backs tests and
// the "memory" database driver.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]memoryMessage
	runs     map[string]domain.Run
	seq      uint64
	now      func() time.Time
}

type memoryMessage struct {
	msg domain.Message
	seq uint64
}

var (
	_ ports.MessageStore  = (*MemoryStore)(nil)
	_ ports.RunRepository = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: map[string]memoryMessage{},
		runs:     map[string]domain.Run{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new message; the id must be unused.
func (s *MemoryStore) Create(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return domain.Message{}, fmt.Errorf("message %s already exists", msg.ID)
	}
	now := s.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	s.seq++
	s.messages[msg.ID] = memoryMessage{msg: msg.Clone(), seq: s.seq}
	return msg.Clone(), nil
}

// Upsert applies mutate to the message with id, creating it first if needed.
func (s *MemoryStore) Upsert(ctx context.Context, id string, mutate ports.MessageMutator) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, exists := s.messages[id]
	if !exists {
		s.seq++
		entry = memoryMessage{msg: domain.Message{ID: id, CreatedAt: now}, seq: s.seq}
	}
	msg := entry.msg.Clone()
	mutate(&msg)
	msg.ID = id
	msg.UpdatedAt = now
	entry.msg = msg
	s.messages[id] = entry
	return msg.Clone(), nil
}

// Get returns the message with id.
func (s *MemoryStore) Get(ctx context.Context, id string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.messages[id]
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, ports.ErrNotFound)
	}
	return entry.msg.Clone(), nil
}

// ListByScope returns the scope's messages in creation order.
func (s *MemoryStore) ListByScope(ctx context.Context, scopeID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]memoryMessage, 0)
	for _, entry := range s.messages {
		if entry.msg.ScopeID == scopeID {
			entries = append(entries, entry)
		}
	}
	slices.SortFunc(entries, func(a, b memoryMessage) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]domain.Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.msg.Clone())
	}
	return out, nil
}

// SaveRun stores the latest snapshot of run.
func (s *MemoryStore) SaveRun(ctx context.Context, run domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// GetRun returns the stored snapshot for id.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return domain.Run{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, fmt.Errorf("run %s: %w", id, ports.ErrNotFound)
	}
	return run, nil
}

// ListCompleted returns completed runs, most recent first.
func (s *MemoryStore) ListCompleted(ctx context.Context, limit int) ([]domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Run
	for _, run := range s.runs {
		if run.Status == domain.RunCompleted {
			out = append(out, run)
		}
	}
	slices.SortFunc(out, func(a, b domain.Run) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
