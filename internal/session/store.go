package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/placement-matcher/internal/types"
)

// ErrNotFound indicates an unknown session id.
type ErrNotFound struct {
	ID uuid.UUID
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("session not found: %s", e.ID)
}

// ErrAlreadyRunning indicates the global run lock is held by another
// session. Starting or advancing must fail loudly, never queue.
type ErrAlreadyRunning struct {
	RunningID uuid.UUID
}

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("another session is already running: %s", e.RunningID)
}

// ErrInvalidTransition indicates a stage change the state machine
// forbids.
type ErrInvalidTransition struct {
	From Stage
	To   Stage
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid session transition: %s -> %s", e.From, e.To)
}

// ErrSessionRunning indicates an operation that requires a paused
// session, such as excluding pairs.
type ErrSessionRunning struct {
	ID uuid.UUID
}

func (e *ErrSessionRunning) Error() string {
	return fmt.Sprintf("session is running: %s", e.ID)
}

// ErrSessionTerminal indicates an operation on a finished session.
type ErrSessionTerminal struct {
	ID    uuid.UUID
	Stage Stage
}

func (e *ErrSessionTerminal) Error() string {
	return fmt.Sprintf("session %s is terminal (%s)", e.ID, e.Stage)
}

// Store is the session persistence contract. The in-process
// implementation below serves single-instance deployments;
// multi-instance deployments swap in a shared keyed store implementing
// the same interface without touching the orchestrator.
type Store interface {
	// Create registers a new session in StageCreated.
	Create() (*Session, error)

	// Get returns a snapshot of the session.
	Get(id uuid.UUID) (*Session, error)

	// Mutate applies fn to the session under the store's write lock.
	// fn must not block on I/O.
	Mutate(id uuid.UUID, fn func(*Session) error) error

	// MarkRunning atomically acquires the global run lock for the
	// session. Fails with ErrAlreadyRunning if any session holds it.
	MarkRunning(id uuid.UUID) error

	// ClearRunning releases the global run lock if held by this session.
	ClearRunning(id uuid.UUID) error

	// Transition moves the session to a new stage, validated against
	// the state machine.
	Transition(id uuid.UUID, to Stage) error

	// Exclude removes pairs from the pending set of future stages.
	// Rejected while the session is running or terminal. Returns how
	// many previously included pairs were excluded.
	Exclude(id uuid.UUID, pairKeys []string) (int, error)

	// AppendResults records per-pair results for a stage and
	// accumulates their cost onto the session.
	AppendResults(id uuid.UUID, stage string, results []types.StageResult) error

	// GCExpired drops terminal sessions past the terminal TTL and
	// abandoned non-terminal sessions past the abandon TTL. Returns the
	// number collected.
	GCExpired(now time.Time) int

	// Count returns the number of sessions currently held.
	Count() int
}
