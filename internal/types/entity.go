// Package types provides type definitions for structured data shared across the matching pipeline.
package types

import (
	"strings"

	"github.com/google/uuid"
)

// EntityKind distinguishes the two populations being matched.
type EntityKind string

// Entity kind constants.
const (
	KindCandidate EntityKind = "candidate"
	KindPosition  EntityKind = "position"
)

// Coordinates holds a WGS84 point. Entities with failed or missing
// geocoding carry a nil *Coordinates.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Entity is a snapshot of one candidate or position taken at run start.
// It is plain data: the pipeline never holds live store handles while
// external calls are in flight.
type Entity struct {
	ID         uuid.UUID    `json:"id"`
	Kind       EntityKind   `json:"kind"`
	PostalCode string       `json:"postal_code"`
	City       string       `json:"city"`
	Coords     *Coordinates `json:"coords,omitempty"`
	RoleTags   []string     `json:"role_tags"`

	// Free-text descriptors of experience level, availability etc.
	// These survive redaction; the fields below do not.
	Descriptors []string `json:"descriptors,omitempty"`

	// Identifying fields. Loaded for operator-facing views only and
	// stripped by assess.Redact before anything leaves the process.
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Street  string `json:"street,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
}

// Matchable reports whether the entity may participate in a run at all.
func (e *Entity) Matchable() bool {
	return !e.Deleted && !e.Blocked
}

// HasTag reports whether the entity carries the given role tag
// (case-insensitive).
func (e *Entity) HasTag(tag string) bool {
	for _, t := range e.RoleTags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
