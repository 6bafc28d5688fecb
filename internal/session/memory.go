package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/placement-matcher/internal/types"
)

// Default garbage-collection TTLs. Terminal sessions are kept for a day
// so operators can inspect results; abandoned sessions (created but
// never driven to a terminal stage) are kept a week.
const (
	DefaultTerminalTTL  = 24 * time.Hour
	DefaultAbandonedTTL = 7 * 24 * time.Hour
)

// MemoryStoreConfig tunes the in-process store.
type MemoryStoreConfig struct {
	TerminalTTL  time.Duration
	AbandonedTTL time.Duration
}

// MemoryStore is the single-instance Store implementation: a mutex-
// guarded map plus one field for the global run lock. The run lock is a
// check-and-set under the same mutex, so two concurrent MarkRunning
// calls can never both observe "not running".
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	runningID uuid.UUID

	terminalTTL  time.Duration
	abandonedTTL time.Duration
	logger       *zap.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(cfg MemoryStoreConfig, logger *zap.Logger) *MemoryStore {
	if cfg.TerminalTTL <= 0 {
		cfg.TerminalTTL = DefaultTerminalTTL
	}
	if cfg.AbandonedTTL <= 0 {
		cfg.AbandonedTTL = DefaultAbandonedTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		sessions:     make(map[uuid.UUID]*Session),
		terminalTTL:  cfg.TerminalTTL,
		abandonedTTL: cfg.AbandonedTTL,
		logger:       logger,
	}
}

// Create registers a new session in StageCreated.
func (m *MemoryStore) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s := &Session{
		ID:        uuid.New(),
		Stage:     StageCreated,
		Excluded:  make(map[string]bool),
		Results:   make(map[string][]types.StageResult),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[s.ID] = s

	return s.clone(), nil
}

// Get returns a snapshot of the session.
func (m *MemoryStore) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return s.clone(), nil
}

// Mutate applies fn under the write lock.
func (m *MemoryStore) Mutate(id uuid.UUID, fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	if err := fn(s); err != nil {
		return err
	}
	s.UpdatedAt = time.Now()
	return nil
}

// MarkRunning acquires the global run lock for this session.
func (m *MemoryStore) MarkRunning(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	if s.Stage.Terminal() {
		return &ErrSessionTerminal{ID: id, Stage: s.Stage}
	}
	if m.runningID != uuid.Nil && m.runningID != id {
		return &ErrAlreadyRunning{RunningID: m.runningID}
	}
	if m.runningID == id {
		return &ErrAlreadyRunning{RunningID: id}
	}

	m.runningID = id
	s.Running = true
	s.UpdatedAt = time.Now()
	return nil
}

// ClearRunning releases the global run lock if this session holds it.
func (m *MemoryStore) ClearRunning(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	if m.runningID == id {
		m.runningID = uuid.Nil
	}
	s.Running = false
	s.Cancelling = false
	s.UpdatedAt = time.Now()
	return nil
}

// Transition moves the session along the state machine.
func (m *MemoryStore) Transition(id uuid.UUID, to Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	if !CanTransition(s.Stage, to) {
		return &ErrInvalidTransition{From: s.Stage, To: to}
	}

	s.Stage = to
	s.UpdatedAt = time.Now()
	if to.Terminal() {
		if m.runningID == id {
			m.runningID = uuid.Nil
		}
		s.Running = false
		s.Cancelling = false
	}
	return nil
}

// Exclude removes pairs from the pending set for future stages.
func (m *MemoryStore) Exclude(id uuid.UUID, pairKeys []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return 0, &ErrNotFound{ID: id}
	}
	if s.Running {
		return 0, &ErrSessionRunning{ID: id}
	}
	if s.Stage.Terminal() {
		return 0, &ErrSessionTerminal{ID: id, Stage: s.Stage}
	}

	known := make(map[string]bool, len(s.Pairs))
	for _, sp := range s.Pairs {
		known[sp.Key()] = true
	}

	count := 0
	for _, key := range pairKeys {
		if known[key] && !s.Excluded[key] {
			s.Excluded[key] = true
			count++
		}
	}
	if count > 0 {
		s.UpdatedAt = time.Now()
	}
	return count, nil
}

// AppendResults records stage results and accumulates their cost.
func (m *MemoryStore) AppendResults(id uuid.UUID, stage string, results []types.StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}

	s.Results[stage] = append(s.Results[stage], results...)
	for _, r := range results {
		s.CostAccumulated += r.Cost
	}
	s.UpdatedAt = time.Now()
	return nil
}

// GCExpired collects sessions past their TTL.
func (m *MemoryStore) GCExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	collected := 0
	for id, s := range m.sessions {
		if s.Running {
			continue
		}
		ttl := m.abandonedTTL
		if s.Stage.Terminal() {
			ttl = m.terminalTTL
		}
		if now.Sub(s.UpdatedAt) > ttl {
			delete(m.sessions, id)
			collected++
		}
	}

	if collected > 0 {
		m.logger.Info("session gc", zap.Int("collected", collected), zap.Int("remaining", len(m.sessions)))
	}
	return collected
}

// Count returns the number of sessions currently held.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
