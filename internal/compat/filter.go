package compat

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jonathan/placement-matcher/internal/types"
)

// Filter evaluates pairs against tag intersection plus the current
// compatibility table. The table is swapped atomically on hot reload,
// so a running stage keeps the table it started with only per-call, not
// per-stage; that is acceptable because reloads are operator-driven.
type Filter struct {
	table  atomic.Pointer[Table]
	logger *zap.Logger
}

// NewFilter creates a Filter with an initial table.
func NewFilter(table *Table, logger *zap.Logger) *Filter {
	if table == nil {
		table = EmptyTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Filter{logger: logger}
	f.table.Store(table)
	return f
}

// Swap replaces the active table. Used by the config watcher.
func (f *Filter) Swap(table *Table) {
	if table == nil {
		return
	}
	f.table.Store(table)
	f.logger.Info("compatibility table swapped", zap.Int("source_tags", table.Size()))
}

// Pass reports whether a candidate/position pair is role-compatible:
// either the tag sets intersect directly, or the table maps some
// candidate tag to some position tag.
func (f *Filter) Pass(candidate, position types.Entity) bool {
	table := f.table.Load()

	posTags := make(map[string]bool, len(position.RoleTags))
	for _, t := range position.RoleTags {
		posTags[strings.ToLower(t)] = true
	}

	for _, ct := range candidate.RoleTags {
		if posTags[strings.ToLower(ct)] {
			return true
		}
		for _, pt := range position.RoleTags {
			if table.Allows(ct, pt) {
				return true
			}
		}
	}

	return false
}

// Run filters a slice of geo survivors in place order, returning only
// role-compatible pairs. Pure computation, no I/O.
func (f *Filter) Run(pairs []types.ScoredPair) []types.ScoredPair {
	out := make([]types.ScoredPair, 0, len(pairs))
	for _, sp := range pairs {
		if f.Pass(sp.Candidate, sp.Position) {
			out = append(out, sp)
		}
	}

	f.logger.Info("compatibility filter complete",
		zap.Int("in", len(pairs)),
		zap.Int("out", len(out)),
	)

	return out
}
