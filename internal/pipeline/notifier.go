package pipeline

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/placement-matcher/internal/db"
)

// Notifier is told about new matches so operators hear about them
// without polling. Implementations must not block; the default logs,
// deployments hang a webhook or mail sender off the same interface.
type Notifier interface {
	// MatchQualified fires for each newly inserted match whose score
	// clears the notify threshold.
	MatchQualified(ctx context.Context, sessionID uuid.UUID, match *db.Match)

	// MatchesPersisted fires once per session after persistence with
	// the insert/duplicate totals.
	MatchesPersisted(ctx context.Context, sessionID uuid.UUID, inserted, skipped int)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// MatchQualified implements Notifier.
func (n *LogNotifier) MatchQualified(_ context.Context, sessionID uuid.UUID, match *db.Match) {
	n.logger.Info("qualifying match",
		zap.String("session", sessionID.String()),
		zap.String("candidate", match.CandidateID.String()),
		zap.String("position", match.PositionID.String()),
		zap.Float64("score", match.Score),
	)
}

// MatchesPersisted implements Notifier.
func (n *LogNotifier) MatchesPersisted(_ context.Context, sessionID uuid.UUID, inserted, skipped int) {
	n.logger.Info("new matches available",
		zap.String("session", sessionID.String()),
		zap.Int("inserted", inserted),
		zap.Int("skipped_duplicates", skipped),
	)
}
