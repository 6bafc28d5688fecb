package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/placement-matcher/internal/types"
)

const entityColumns = `id, kind, postal_code, city, lat, lon, role_tags,
	        descriptors, name, email, phone, street, deleted, blocked`

// SnapshotEntities loads all matchable entities of one kind in a single
// short read. Deleted and blocked rows are filtered in SQL so they never
// enter a run snapshot.
func (db *DB) SnapshotEntities(ctx context.Context, kind types.EntityKind) ([]types.Entity, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+entityColumns+`
		 FROM entities
		 WHERE kind = $1 AND NOT deleted AND NOT blocked
		 ORDER BY created_at ASC`,
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s entities: %w", kind, err)
	}
	defer rows.Close()

	var entities []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s entities: %w", kind, err)
	}
	return entities, nil
}

// GetEntity retrieves one entity by ID regardless of matchability, for
// operator-facing views. Returns nil when the ID is unknown.
func (db *DB) GetEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)

	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (types.Entity, error) {
	var e types.Entity
	var lat, lon *float64
	var city, name, email, phone, street *string

	err := row.Scan(&e.ID, &e.Kind, &e.PostalCode, &city, &lat, &lon,
		&e.RoleTags, &e.Descriptors, &name, &email, &phone, &street,
		&e.Deleted, &e.Blocked)
	if err != nil {
		return types.Entity{}, fmt.Errorf("failed to scan entity: %w", err)
	}

	if city != nil {
		e.City = *city
	}
	if name != nil {
		e.Name = *name
	}
	if email != nil {
		e.Email = *email
	}
	if phone != nil {
		e.Phone = *phone
	}
	if street != nil {
		e.Street = *street
	}
	// Both coordinates or none; a half-geocoded row counts as ungeocoded.
	if lat != nil && lon != nil {
		e.Coords = &types.Coordinates{Lat: *lat, Lon: *lon}
	}
	return e, nil
}
