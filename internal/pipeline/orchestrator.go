// Package pipeline provides the high-level orchestration for the
// matching process: snapshot, geo cascade, compatibility filter, the
// two operator-gated assessment stages, travel-time enrichment and
// match persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/placement-matcher/internal/assess"
	"github.com/jonathan/placement-matcher/internal/compat"
	"github.com/jonathan/placement-matcher/internal/db"
	"github.com/jonathan/placement-matcher/internal/distance"
	"github.com/jonathan/placement-matcher/internal/geo"
	"github.com/jonathan/placement-matcher/internal/observability"
	"github.com/jonathan/placement-matcher/internal/session"
	"github.com/jonathan/placement-matcher/internal/types"
)

// EntitySource supplies entity snapshots at run start and single
// entities for operator views. *db.DB implements it.
type EntitySource interface {
	SnapshotEntities(ctx context.Context, kind types.EntityKind) ([]types.Entity, error)
	GetEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error)
}

// MatchWriter persists approved matches. *db.DB implements it.
type MatchWriter interface {
	InsertMatch(ctx context.Context, m *db.Match) (bool, error)
}

// Orchestrator wires the stages together and owns the background
// goroutine an advance runs in. All session state lives in the store;
// the orchestrator itself only tracks cancel handles.
type Orchestrator struct {
	store    session.Store
	source   EntitySource
	geo      *geo.Filter
	compat   *compat.Filter
	runner   *assess.Runner
	enricher *distance.Enricher
	writer   MatchWriter
	notifier Notifier
	logger   *zap.Logger
	metrics  *observability.Collector

	excludeIDs      map[uuid.UUID]bool
	notifyThreshold float64

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// Config bundles the orchestrator's collaborators.
type Config struct {
	Store    session.Store
	Source   EntitySource
	Geo      *geo.Filter
	Compat   *compat.Filter
	Runner   *assess.Runner
	Enricher *distance.Enricher
	Writer   MatchWriter
	Notifier Notifier
	Logger   *zap.Logger
	Metrics  *observability.Collector

	// ExcludeIDs are entity ids never included in a run, from the
	// operator's exclusion list file.
	ExcludeIDs map[uuid.UUID]bool

	// NotifyThreshold is the minimum score for a per-match
	// notification. Zero notifies on every inserted match.
	NotifyThreshold float64
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewLogNotifier(cfg.Logger)
	}
	return &Orchestrator{
		store:    cfg.Store,
		source:   cfg.Source,
		geo:      cfg.Geo,
		compat:   cfg.Compat,
		runner:   cfg.Runner,
		enricher: cfg.Enricher,
		writer:   cfg.Writer,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,

		excludeIDs:      cfg.ExcludeIDs,
		notifyThreshold: cfg.NotifyThreshold,

		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// StartRun creates a session, snapshots both entity populations and
// runs the two cheap filters synchronously. The session ends up in
// GEO_DONE, paused for operator review before any paid call is made.
func (o *Orchestrator) StartRun(ctx context.Context) (*session.Session, error) {
	s, err := o.store.Create()
	if err != nil {
		return nil, err
	}
	if err := o.store.MarkRunning(s.ID); err != nil {
		return nil, err
	}
	defer o.store.ClearRunning(s.ID)

	started := time.Now()

	candidates, err := o.source.SnapshotEntities(ctx, types.KindCandidate)
	if err != nil {
		return nil, o.fail(s.ID, fmt.Errorf("candidate snapshot: %w", err))
	}
	positions, err := o.source.SnapshotEntities(ctx, types.KindPosition)
	if err != nil {
		return nil, o.fail(s.ID, fmt.Errorf("position snapshot: %w", err))
	}
	candidates = o.dropExcluded(candidates)
	positions = o.dropExcluded(positions)

	pairs := o.compat.Run(o.geo.Run(candidates, positions))

	if err := o.store.Mutate(s.ID, func(s *session.Session) error {
		s.Pairs = pairs
		return nil
	}); err != nil {
		return nil, err
	}
	if err := o.store.Transition(s.ID, session.StageGeoDone); err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.ObserveStageDuration(time.Since(started).Seconds())
		o.metrics.SetActiveSessions(o.store.Count())
	}
	o.logger.Info("run started",
		zap.String("session", s.ID.String()),
		zap.Int("candidates", len(candidates)),
		zap.Int("positions", len(positions)),
		zap.Int("pairs", len(pairs)),
	)

	// Release the run lock before snapshotting, so the caller sees the
	// session already paused for review.
	if err := o.store.ClearRunning(s.ID); err != nil {
		return nil, err
	}
	return o.store.Get(s.ID)
}

// dropExcluded removes entities on the operator's exclusion list.
func (o *Orchestrator) dropExcluded(entities []types.Entity) []types.Entity {
	if len(o.excludeIDs) == 0 {
		return entities
	}
	out := make([]types.Entity, 0, len(entities))
	for _, e := range entities {
		if !o.excludeIDs[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

// Advance moves a paused session into its next assessment stage in the
// background and returns immediately. The stage runs detached from the
// caller's context; cancellation goes through Cancel.
func (o *Orchestrator) Advance(ctx context.Context, id uuid.UUID) error {
	s, err := o.store.Get(id)
	if err != nil {
		return err
	}

	var stageKey string
	switch s.Stage {
	case session.StageGeoDone:
		stageKey = session.ResultsStage1
	case session.StageStage1Done:
		stageKey = session.ResultsStage2
	default:
		if s.Stage.Terminal() {
			return &session.ErrSessionTerminal{ID: id, Stage: s.Stage}
		}
		return &session.ErrInvalidTransition{From: s.Stage, To: session.StageStage1Done}
	}

	// The cancel handle must be registered before the session reports
	// running, or a cancel racing this advance finds nothing to stop.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancels[id] = cancel
	o.mu.Unlock()

	if err := o.store.MarkRunning(id); err != nil {
		o.mu.Lock()
		delete(o.cancels, id)
		o.mu.Unlock()
		cancel()
		return err
	}

	go o.runStage(runCtx, id, stageKey)
	return nil
}

// ExcludePairs removes pairs from all future stages of a paused
// session. Returns how many previously included pairs were excluded.
func (o *Orchestrator) ExcludePairs(id uuid.UUID, pairKeys []string) (int, error) {
	return o.store.Exclude(id, pairKeys)
}

// Cancel requests a cooperative stop. A running stage stops submitting
// new pairs and drains in-flight calls; a paused session transitions to
// CANCELLED immediately. Terminal sessions are rejected.
func (o *Orchestrator) Cancel(id uuid.UUID) error {
	s, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if s.Stage.Terminal() {
		return &session.ErrSessionTerminal{ID: id, Stage: s.Stage}
	}

	if s.Running {
		if err := o.store.Mutate(id, func(s *session.Session) error {
			s.Cancelling = true
			return nil
		}); err != nil {
			return err
		}
		o.mu.Lock()
		cancel := o.cancels[id]
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	return o.transitionTerminal(id, session.StageCancelled, "")
}

// runStage is the background body of one advance.
func (o *Orchestrator) runStage(ctx context.Context, id uuid.UUID, stageKey string) {
	started := time.Now()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, id)
		o.mu.Unlock()
		o.store.ClearRunning(id)
		if o.metrics != nil {
			o.metrics.ObserveStageDuration(time.Since(started).Seconds())
		}
	}()

	s, err := o.store.Get(id)
	if err != nil {
		o.logger.Error("stage startup failed", zap.String("session", id.String()), zap.Error(err))
		return
	}
	pending := s.PendingPairs(stageKey)

	intensity := assess.IntensityCoarse
	if stageKey == session.ResultsStage2 {
		intensity = assess.IntensityDeep
	}

	o.logger.Info("stage started",
		zap.String("session", id.String()),
		zap.String("stage", stageKey),
		zap.Int("pending", len(pending)),
	)

	// Results land on the session as they arrive, so an abort at any
	// point leaves everything already processed behind.
	err = o.runner.RunStage(ctx, intensity, pending, func(r types.StageResult) {
		if apErr := o.store.AppendResults(id, stageKey, []types.StageResult{r}); apErr != nil {
			o.logger.Error("failed to record stage result",
				zap.String("session", id.String()),
				zap.String("pair", r.PairKey),
				zap.Error(apErr),
			)
		}
	})

	switch {
	case err == nil:
		o.completeStage(ctx, id, stageKey)

	case errors.Is(err, context.Canceled):
		o.logger.Info("stage cancelled, drained in-flight calls",
			zap.String("session", id.String()),
			zap.String("stage", stageKey),
		)
		if terr := o.transitionTerminal(id, session.StageCancelled, ""); terr != nil {
			o.logger.Error("cancel transition failed", zap.String("session", id.String()), zap.Error(terr))
		}

	default:
		var saturated *assess.ErrStageSaturated
		if errors.As(err, &saturated) {
			// Not a failure: the session stays at its current stage with
			// partial results and a later advance resumes the remainder.
			o.logger.Warn("stage paused on provider saturation",
				zap.String("session", id.String()),
				zap.String("stage", stageKey),
				zap.Int("consecutive_rate_limits", saturated.Consecutive),
			)
			return
		}
		if ferr := o.fail(id, err); ferr != nil && !errors.Is(ferr, err) {
			o.logger.Error("failure transition failed", zap.String("session", id.String()), zap.Error(ferr))
		}
	}
}

// completeStage transitions after a fully processed stage. Stage two
// completion additionally enriches and persists the approved pairs.
func (o *Orchestrator) completeStage(ctx context.Context, id uuid.UUID, stageKey string) {
	if stageKey == session.ResultsStage1 {
		if err := o.store.Transition(id, session.StageStage1Done); err != nil {
			o.logger.Error("stage1 transition failed", zap.String("session", id.String()), zap.Error(err))
		}
		return
	}

	if err := o.finalize(ctx, id); err != nil {
		if ferr := o.fail(id, fmt.Errorf("finalize: %w", err)); ferr != nil {
			o.logger.Error("failure transition failed", zap.String("session", id.String()), zap.Error(ferr))
		}
		return
	}
	if err := o.store.Transition(id, session.StageStage2Done); err != nil {
		o.logger.Error("stage2 transition failed", zap.String("session", id.String()), zap.Error(err))
	}
}

// finalize enriches the approved pairs with travel times and persists
// them. Persistence is per-pair and idempotent, so a crash between
// inserts loses nothing and duplicates nothing on retry.
func (o *Orchestrator) finalize(ctx context.Context, id uuid.UUID) error {
	s, err := o.store.Get(id)
	if err != nil {
		return err
	}
	approved := s.ApprovedPairs()

	enrichments, err := o.enricher.Enrich(ctx, approved)
	if err != nil {
		return fmt.Errorf("travel-time enrichment: %w", err)
	}

	inserted, skipped := 0, 0
	for _, sp := range approved {
		key := sp.Key()
		r2, _ := s.ResultFor(session.ResultsStage2, key)
		enr := enrichments[key]

		m := &db.Match{
			SessionID:   id,
			CandidateID: sp.Pair.CandidateID,
			PositionID:  sp.Pair.PositionID,
			Score:       r2.Score,
			Rationale:   r2.Rationale,
			DistanceKM:  enr.DistanceKM,
			CarMin:      enr.CarMin,
			TransitMin:  enr.TransitMin,
		}
		ok, err := o.writer.InsertMatch(ctx, m)
		if err != nil {
			return fmt.Errorf("persist match %s: %w", key, err)
		}
		if ok {
			inserted++
			if m.Score >= o.notifyThreshold {
				o.notifier.MatchQualified(ctx, id, m)
			}
		} else {
			skipped++
		}
	}

	o.logger.Info("matches persisted",
		zap.String("session", id.String()),
		zap.Int("inserted", inserted),
		zap.Int("skipped", skipped),
	)
	o.notifier.MatchesPersisted(ctx, id, inserted, skipped)
	return nil
}

// fail transitions the session to FAILED with a reason and returns the
// original error for the caller to propagate.
func (o *Orchestrator) fail(id uuid.UUID, cause error) error {
	if err := o.transitionTerminal(id, session.StageFailed, cause.Error()); err != nil {
		o.logger.Error("failed to mark session failed",
			zap.String("session", id.String()),
			zap.Error(err),
		)
	}
	return cause
}

func (o *Orchestrator) transitionTerminal(id uuid.UUID, to session.Stage, reason string) error {
	if reason != "" {
		if err := o.store.Mutate(id, func(s *session.Session) error {
			s.FailureReason = reason
			return nil
		}); err != nil {
			return err
		}
	}
	if err := o.store.Transition(id, to); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.SetActiveSessions(o.store.Count())
	}
	return nil
}
