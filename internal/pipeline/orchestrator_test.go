package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/placement-matcher/internal/assess"
	"github.com/jonathan/placement-matcher/internal/compat"
	"github.com/jonathan/placement-matcher/internal/db"
	"github.com/jonathan/placement-matcher/internal/distance"
	"github.com/jonathan/placement-matcher/internal/geo"
	"github.com/jonathan/placement-matcher/internal/session"
	"github.com/jonathan/placement-matcher/internal/types"
)

// stubSource serves a fixed pair of populations.
type stubSource struct {
	candidates []types.Entity
	positions  []types.Entity
}

func (s *stubSource) SnapshotEntities(_ context.Context, kind types.EntityKind) ([]types.Entity, error) {
	if kind == types.KindCandidate {
		return s.candidates, nil
	}
	return s.positions, nil
}

func (s *stubSource) GetEntity(_ context.Context, id uuid.UUID) (*types.Entity, error) {
	for _, e := range append(append([]types.Entity{}, s.candidates...), s.positions...) {
		if e.ID == id {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

// recordWriter collects inserted matches and reports duplicates for
// pairs it has already seen.
type recordWriter struct {
	mu      sync.Mutex
	matches []db.Match
	seen    map[string]bool
}

func newRecordWriter() *recordWriter {
	return &recordWriter{seen: make(map[string]bool)}
}

func (w *recordWriter) InsertMatch(_ context.Context, m *db.Match) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := types.Pair{CandidateID: m.CandidateID, PositionID: m.PositionID}.Key()
	if w.seen[key] {
		return false, nil
	}
	w.seen[key] = true
	w.matches = append(w.matches, *m)
	return true, nil
}

func (w *recordWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.matches)
}

// recordNotifier captures the persistence notification.
type recordNotifier struct {
	mu        sync.Mutex
	inserted  int
	skipped   int
	calls     int
	qualified int
}

func (n *recordNotifier) MatchQualified(_ context.Context, _ uuid.UUID, _ *db.Match) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.qualified++
}

func (n *recordNotifier) MatchesPersisted(_ context.Context, _ uuid.UUID, inserted, skipped int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.inserted = inserted
	n.skipped = skipped
}

// okMatrix returns fixed travel times for every destination.
type okMatrix struct{}

func (okMatrix) Matrix(_ context.Context, _ types.Coordinates, destinations []types.Coordinates) ([]distance.Route, error) {
	routes := make([]distance.Route, len(destinations))
	for i := range routes {
		routes[i] = distance.Route{CarMin: 20, TransitMin: 35, OK: true}
	}
	return routes, nil
}

type assessFunc func(ctx context.Context, req *assess.Request) (*assess.Response, error)

func (f assessFunc) Assess(ctx context.Context, req *assess.Request) (*assess.Response, error) {
	return f(ctx, req)
}

func passAll(_ context.Context, req *assess.Request) (*assess.Response, error) {
	return &assess.Response{PairKey: req.PairKey, Passed: true, Score: 8, Cost: 0.001}, nil
}

func entityAt(kind types.EntityKind, postal string) types.Entity {
	return types.Entity{
		ID:         uuid.New(),
		Kind:       kind,
		PostalCode: postal,
		City:       "Hamburg",
		Coords:     &types.Coordinates{Lat: 53.55, Lon: 10.0},
		RoleTags:   []string{"FiBu"},
	}
}

func testSource() *stubSource {
	return &stubSource{
		candidates: []types.Entity{entityAt(types.KindCandidate, "20095"), entityAt(types.KindCandidate, "20095")},
		positions:  []types.Entity{entityAt(types.KindPosition, "20095"), entityAt(types.KindPosition, "20095")},
	}
}

func newTestOrchestrator(t *testing.T, provider assess.Provider, source EntitySource, writer MatchWriter, notifier Notifier) (*Orchestrator, session.Store) {
	t.Helper()
	store := session.NewMemoryStore(session.MemoryStoreConfig{}, nil)
	o := New(Config{
		Store:    store,
		Source:   source,
		Geo:      geo.NewFilter(0, nil),
		Compat:   compat.NewFilter(compat.EmptyTable(), nil),
		Runner:   assess.NewRunner(provider, assess.RunnerConfig{BackoffBase: time.Millisecond}, nil, nil),
		Enricher: distance.NewEnricher(okMatrix{}, nil, distance.EnricherConfig{}, nil, nil),
		Writer:   writer,
		Notifier: notifier,
	})
	return o, store
}

// hookStore interposes on the run lock so tests can act at the exact
// moment a session starts reporting running.
type hookStore struct {
	session.Store
	onMarkRunning func(uuid.UUID)
}

func (h *hookStore) MarkRunning(id uuid.UUID) error {
	if err := h.Store.MarkRunning(id); err != nil {
		return err
	}
	if h.onMarkRunning != nil {
		h.onMarkRunning(id)
	}
	return nil
}

func waitForStage(t *testing.T, store session.Store, id uuid.UUID, want session.Stage) *session.Session {
	t.Helper()
	var s *session.Session
	require.Eventually(t, func() bool {
		got, err := store.Get(id)
		if err != nil {
			return false
		}
		s = got
		return s.Stage == want && !s.Running
	}, 5*time.Second, 5*time.Millisecond, "session never reached %s", want)
	return s
}

func TestStartRunPausesAfterFreeFilters(t *testing.T) {
	o, _ := newTestOrchestrator(t, assessFunc(passAll), testSource(), newRecordWriter(), &recordNotifier{})

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)

	assert.Equal(t, session.StageGeoDone, s.Stage)
	assert.False(t, s.Running, "run pauses for operator review")
	assert.Len(t, s.Pairs, 4, "2x2 cross product survives postal equality")
	assert.Zero(t, s.CostAccumulated, "no paid calls before the first advance")
}

func TestFullPipelinePersistsAndNotifies(t *testing.T) {
	writer := newRecordWriter()
	notifier := &recordNotifier{}
	o, store := newTestOrchestrator(t, assessFunc(passAll), testSource(), writer, notifier)

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)

	require.NoError(t, o.Advance(context.Background(), s.ID))
	s1 := waitForStage(t, store, s.ID, session.StageStage1Done)
	assert.Len(t, s1.Results[session.ResultsStage1], 4)
	assert.Greater(t, s1.CostAccumulated, 0.0)

	require.NoError(t, o.Advance(context.Background(), s.ID))
	waitForStage(t, store, s.ID, session.StageStage2Done)

	assert.Equal(t, 4, writer.count())
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, 4, notifier.inserted)
	assert.Zero(t, notifier.skipped)
	assert.Equal(t, 4, notifier.qualified, "every inserted match clears the zero threshold")

	for _, m := range writer.matches {
		assert.Equal(t, 8.0, m.Score)
		assert.Equal(t, 20.0, m.CarMin)
	}

	// Terminal sessions admit no further advances.
	err = o.Advance(context.Background(), s.ID)
	var terminal *session.ErrSessionTerminal
	require.ErrorAs(t, err, &terminal)
}

func TestDuplicateMatchesAreSkippedNotDuplicated(t *testing.T) {
	writer := newRecordWriter()
	notifier := &recordNotifier{}
	source := testSource()
	o, store := newTestOrchestrator(t, assessFunc(passAll), source, writer, notifier)

	// Pre-seed the writer as if an earlier session persisted one pair.
	key := types.Pair{CandidateID: source.candidates[0].ID, PositionID: source.positions[0].ID}.Key()
	writer.seen[key] = true

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)
	require.NoError(t, o.Advance(context.Background(), s.ID))
	waitForStage(t, store, s.ID, session.StageStage1Done)
	require.NoError(t, o.Advance(context.Background(), s.ID))
	waitForStage(t, store, s.ID, session.StageStage2Done)

	assert.Equal(t, 3, writer.count())
	assert.Equal(t, 3, notifier.inserted)
	assert.Equal(t, 1, notifier.skipped)
}

func TestExcludedPairSkipsLaterStagesAndPersistence(t *testing.T) {
	writer := newRecordWriter()
	o, store := newTestOrchestrator(t, assessFunc(passAll), testSource(), writer, &recordNotifier{})

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)
	require.NoError(t, o.Advance(context.Background(), s.ID))
	s1 := waitForStage(t, store, s.ID, session.StageStage1Done)

	excludedKey := s1.Pairs[0].Key()
	n, err := o.ExcludePairs(s.ID, []string{excludedKey, "unknown:key"})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "unknown keys are ignored")

	require.NoError(t, o.Advance(context.Background(), s.ID))
	s2 := waitForStage(t, store, s.ID, session.StageStage2Done)

	assert.Len(t, s2.Results[session.ResultsStage2], 3, "excluded pair never reaches stage two")
	assert.Equal(t, 3, writer.count())
	for _, m := range writer.matches {
		got := types.Pair{CandidateID: m.CandidateID, PositionID: m.PositionID}.Key()
		assert.NotEqual(t, excludedKey, got)
	}

	// Stage one's result for the excluded pair survives for audit.
	_, ok := s2.ResultFor(session.ResultsStage1, excludedKey)
	assert.True(t, ok)
}

func TestCancelPausedSessionIsImmediate(t *testing.T) {
	o, store := newTestOrchestrator(t, assessFunc(passAll), testSource(), newRecordWriter(), &recordNotifier{})

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)

	require.NoError(t, o.Cancel(s.ID))
	got, err := store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StageCancelled, got.Stage)

	var terminal *session.ErrSessionTerminal
	require.ErrorAs(t, o.Cancel(s.ID), &terminal)
}

func TestCancelRunningStageDrainsAndLeavesResults(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	var calls int32

	slow := assessFunc(func(ctx context.Context, req *assess.Request) (*assess.Response, error) {
		once.Do(func() { close(started) })
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return passAll(ctx, req)
	})
	o, store := newTestOrchestrator(t, slow, testSource(), newRecordWriter(), &recordNotifier{})

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)
	require.NoError(t, o.Advance(context.Background(), s.ID))

	<-started
	require.NoError(t, o.Cancel(s.ID))

	got := waitForStage(t, store, s.ID, session.StageCancelled)
	assert.False(t, got.Running)
	assert.False(t, got.Cancelling)
	// Calls submitted before the cancel drained to completion.
	assert.LessOrEqual(t, int(atomic.LoadInt32(&calls)), 4)
}

func TestCancelRacingAdvanceStopsTheStage(t *testing.T) {
	var calls int32
	counting := assessFunc(func(ctx context.Context, req *assess.Request) (*assess.Response, error) {
		atomic.AddInt32(&calls, 1)
		return passAll(ctx, req)
	})

	hs := &hookStore{Store: session.NewMemoryStore(session.MemoryStoreConfig{}, nil)}
	o := New(Config{
		Store:    hs,
		Source:   testSource(),
		Geo:      geo.NewFilter(0, nil),
		Compat:   compat.NewFilter(compat.EmptyTable(), nil),
		Runner:   assess.NewRunner(counting, assess.RunnerConfig{BackoffBase: time.Millisecond}, nil, nil),
		Enricher: distance.NewEnricher(okMatrix{}, nil, distance.EnricherConfig{}, nil, nil),
		Writer:   newRecordWriter(),
		Notifier: &recordNotifier{},
	})

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)

	// A cancel arriving the instant the session reports running must
	// find the stage's cancel handle already registered.
	hs.onMarkRunning = func(id uuid.UUID) {
		require.NoError(t, o.Cancel(id))
	}
	require.NoError(t, o.Advance(context.Background(), s.ID))

	got := waitForStage(t, hs, s.ID, session.StageCancelled)
	assert.Empty(t, got.Results[session.ResultsStage1])
	assert.Zero(t, atomic.LoadInt32(&calls), "no pair submitted after the cancel")
}

func TestSaturatedStageResumesOnNextAdvance(t *testing.T) {
	var healthy atomic.Bool
	flaky := assessFunc(func(ctx context.Context, req *assess.Request) (*assess.Response, error) {
		if healthy.Load() {
			return passAll(ctx, req)
		}
		return nil, &assess.TransientError{Err: assert.AnError, RateLimited: true}
	})
	o, store := newTestOrchestrator(t, flaky, testSource(), newRecordWriter(), &recordNotifier{})

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)

	require.NoError(t, o.Advance(context.Background(), s.ID))
	require.Eventually(t, func() bool {
		got, err := store.Get(s.ID)
		return err == nil && !got.Running
	}, 5*time.Second, 5*time.Millisecond)

	got, err := store.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StageGeoDone, got.Stage, "saturation pauses, it does not fail")

	// The provider recovers; the next advance processes the remainder.
	healthy.Store(true)
	require.NoError(t, o.Advance(context.Background(), s.ID))
	s1 := waitForStage(t, store, s.ID, session.StageStage1Done)
	assert.Len(t, s1.Results[session.ResultsStage1], 4)
}

func TestStatusPreviewsNextStageCost(t *testing.T) {
	o, _ := newTestOrchestrator(t, assessFunc(passAll), testSource(), newRecordWriter(), &recordNotifier{})

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)

	st, err := o.Status(s.ID)
	require.NoError(t, err)

	assert.Equal(t, string(session.StageGeoDone), st.Stage)
	assert.Equal(t, 4, st.TotalPairs)
	require.NotNil(t, st.Next)
	assert.Equal(t, session.ResultsStage1, st.Next.Stage)
	assert.Equal(t, 4, st.Next.PendingPairs)
	assert.Greater(t, st.Next.EstimatedCost, 0.0, "operator sees a cost estimate before committing")
}

func TestExclusionListKeepsEntitiesOutOfRuns(t *testing.T) {
	source := testSource()
	store := session.NewMemoryStore(session.MemoryStoreConfig{}, nil)
	o := New(Config{
		Store:      store,
		Source:     source,
		Geo:        geo.NewFilter(0, nil),
		Compat:     compat.NewFilter(compat.EmptyTable(), nil),
		Runner:     assess.NewRunner(assessFunc(passAll), assess.RunnerConfig{BackoffBase: time.Millisecond}, nil, nil),
		Enricher:   distance.NewEnricher(okMatrix{}, nil, distance.EnricherConfig{}, nil, nil),
		Writer:     newRecordWriter(),
		Notifier:   &recordNotifier{},
		ExcludeIDs: map[uuid.UUID]bool{source.candidates[0].ID: true},
	})

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)

	assert.Len(t, s.Pairs, 2, "listed candidate is dropped before pairing")
	for _, sp := range s.Pairs {
		assert.NotEqual(t, source.candidates[0].ID, sp.Pair.CandidateID)
	}
}

func TestComparePairOutsideSession(t *testing.T) {
	source := testSource()
	o, _ := newTestOrchestrator(t, assessFunc(passAll), source, newRecordWriter(), &recordNotifier{})

	cmp, err := o.ComparePair(context.Background(), source.candidates[0].ID, source.positions[0].ID)
	require.NoError(t, err)

	assert.True(t, cmp.GeoMatch)
	assert.Equal(t, string(types.MethodPostal), cmp.MatchedBy)
	assert.True(t, cmp.Compatible)
	assert.Greater(t, cmp.EstimatedDeepCost, cmp.EstimatedCoarseCost)

	// The pair is unordered: swapping the ids resolves the same roles.
	swapped, err := o.ComparePair(context.Background(), source.positions[0].ID, source.candidates[0].ID)
	require.NoError(t, err)
	assert.Equal(t, cmp.CandidateID, swapped.CandidateID)
	assert.Equal(t, cmp.PositionID, swapped.PositionID)

	// Two entities of the same kind are rejected.
	_, err = o.ComparePair(context.Background(), source.candidates[0].ID, source.candidates[1].ID)
	var mismatch *ErrKindMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestSecondRunRejectedWhileFirstIsRunning(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	blocking := assessFunc(func(ctx context.Context, req *assess.Request) (*assess.Response, error) {
		once.Do(func() { close(started) })
		<-block
		return passAll(ctx, req)
	})
	o, store := newTestOrchestrator(t, blocking, testSource(), newRecordWriter(), &recordNotifier{})

	s, err := o.StartRun(context.Background())
	require.NoError(t, err)
	require.NoError(t, o.Advance(context.Background(), s.ID))
	<-started

	_, err = o.StartRun(context.Background())
	var already *session.ErrAlreadyRunning
	require.ErrorAs(t, err, &already, "the run lock is global, not per session")
	assert.Equal(t, s.ID, already.RunningID)

	close(block)
	waitForStage(t, store, s.ID, session.StageStage1Done)
}
