package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Match is one persisted candidate/position match with the assessment
// and travel-time data attached at persistence time.
type Match struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	CandidateID uuid.UUID `json:"candidate_id"`
	PositionID  uuid.UUID `json:"position_id"`
	Score       float64   `json:"score"`
	Rationale   string    `json:"rationale,omitempty"`
	DistanceKM  float64   `json:"distance_km"`
	CarMin      float64   `json:"car_min"`
	TransitMin  float64   `json:"transit_min"`
	CreatedAt   time.Time `json:"created_at"`
}

// InsertMatch writes one match and reports whether a row was actually
// inserted. The table carries a unique index on
// (LEAST(candidate_id, position_id), GREATEST(candidate_id, position_id)),
// so a pair persisted by an earlier session hits the conflict path and
// returns false instead of producing a duplicate.
func (db *DB) InsertMatch(ctx context.Context, m *Match) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO matches (session_id, candidate_id, position_id, score,
		                      rationale, distance_km, car_min, transit_min)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT DO NOTHING`,
		m.SessionID, m.CandidateID, m.PositionID, m.Score,
		m.Rationale, m.DistanceKM, m.CarMin, m.TransitMin,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert match: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PairExists reports whether the unordered pair already has a persisted
// match, regardless of which session produced it.
func (db *DB) PairExists(ctx context.Context, candidateID, positionID uuid.UUID) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(
		    SELECT 1 FROM matches
		    WHERE LEAST(candidate_id, position_id) = LEAST($1::uuid, $2::uuid)
		      AND GREATEST(candidate_id, position_id) = GREATEST($1::uuid, $2::uuid))`,
		candidateID, positionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check match existence: %w", err)
	}
	return exists, nil
}

// ListMatchesBySession retrieves the matches one session persisted.
func (db *DB) ListMatchesBySession(ctx context.Context, sessionID uuid.UUID) ([]Match, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, candidate_id, position_id, score, rationale,
		        distance_km, car_min, transit_min, created_at
		 FROM matches WHERE session_id = $1 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.SessionID, &m.CandidateID, &m.PositionID,
			&m.Score, &m.Rationale, &m.DistanceKM, &m.CarMin, &m.TransitMin,
			&m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// GetMatch retrieves one match by ID.
func (db *DB) GetMatch(ctx context.Context, id uuid.UUID) (*Match, error) {
	var m Match
	err := db.pool.QueryRow(ctx,
		`SELECT id, session_id, candidate_id, position_id, score, rationale,
		        distance_km, car_min, transit_min, created_at
		 FROM matches WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.SessionID, &m.CandidateID, &m.PositionID, &m.Score,
		&m.Rationale, &m.DistanceKM, &m.CarMin, &m.TransitMin, &m.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &m, nil
}
