package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// QueueState tracks an offline submission through its lifetime.
type QueueState string

const (
	StateQueued   QueueState = "queued"   // created while the link was down
	StateEligible QueueState = "eligible" // link restored, handed to the sync daemon
	StateSynced   QueueState = "synced"   // daemon reconciled it with the shore
	StateConflict QueueState = "conflict" // shore rejected it; kept for review
)

// Snapshot is the phase-keyed in-progress record: everything needed to
// restore a quiz attempt after a process restart.
type Snapshot struct {
	Phase        int             `json:"phase"`
	Answers      json.RawMessage `json:"answers"`
	CurrentIndex int             `json:"current_index"`
	SessionID    string          `json:"session_id"`
	SavedAt      time.Time       `json:"saved_at"`
}

// QueueEntry is a completed-but-unsynced submission. Score stays nil
// until the sync daemon resolves it shore-side.
type QueueEntry struct {
	ID          string          `json:"id"`
	Phase       int             `json:"phase"`
	Answers     json.RawMessage `json:"answers"`
	Score       *float64        `json:"score"`
	SessionID   string          `json:"session_id"`
	CompletedAt time.Time       `json:"completed_at"`
	State       QueueState      `json:"state"`
	LastError   string          `json:"last_error,omitempty"`
}

var ErrEntryNotFound = errors.New("queue entry not found")

// Store is the single port through which the engine touches persisted
// state. SaveProgress is write-through: it runs synchronously on every
// answer change. MarkCompleted is the boundary between in-progress and
// queued-for-sync: it removes the phase's in-progress record in the
// same operation so the attempt can never be restored and resubmitted.
type Store interface {
	SaveProgress(ctx context.Context, s Snapshot) error
	GetProgress(ctx context.Context, phase int) (Snapshot, bool, error)
	MarkCompleted(ctx context.Context, e QueueEntry) error
	Clear(ctx context.Context, phase int) error

	PendingEntries(ctx context.Context) ([]QueueEntry, error)
	MarkEligible(ctx context.Context, ids []string) error
	MarkSynced(ctx context.Context, id string, score float64) error
	MarkConflict(ctx context.Context, id, reason string) error
}

// MemoryStore is the in-process Store, used by tests and by devices
// that run without a local database.
type MemoryStore struct {
	mu       sync.Mutex
	progress map[int]Snapshot
	queue    map[string]QueueEntry
	order    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		progress: map[int]Snapshot{},
		queue:    map[string]QueueEntry{},
	}
}

func (m *MemoryStore) SaveProgress(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[s.Phase] = s
	return nil
}

func (m *MemoryStore) GetProgress(_ context.Context, phase int) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.progress[phase]
	return s, ok, nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, e QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.State == "" {
		e.State = StateQueued
	}
	m.queue[e.ID] = e
	m.order = append(m.order, e.ID)
	delete(m.progress, e.Phase)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, phase int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.progress, phase)
	return nil
}

func (m *MemoryStore) PendingEntries(_ context.Context) ([]QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueueEntry, 0, len(m.order))
	for _, id := range m.order {
		e := m.queue[id]
		if e.State == StateQueued || e.State == StateEligible {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkEligible(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.queue[id]
		if !ok {
			return ErrEntryNotFound
		}
		if e.State == StateQueued {
			e.State = StateEligible
			m.queue[id] = e
		}
	}
	return nil
}

func (m *MemoryStore) MarkSynced(_ context.Context, id string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.queue[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.State = StateSynced
	e.Score = &score
	m.queue[id] = e
	return nil
}

func (m *MemoryStore) MarkConflict(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.queue[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.State = StateConflict
	e.LastError = reason
	m.queue[id] = e
	return nil
}
