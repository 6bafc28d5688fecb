// Package compat implements the in-memory role compatibility filter.
// It is the primary cost-control lever: pairs discarded here never reach
// the paid assessment provider.
package compat

import "strings"

// Table maps a candidate role tag to the set of position role tags it
// may satisfy. The mapping is directional: LohnBu -> FiBu listed does
// not imply FiBu -> LohnBu; both directions must be configured
// explicitly when intended. Keys and values are matched
// case-insensitively.
type Table struct {
	rules map[string]map[string]bool
}

// NewTable builds a Table from configuration data.
func NewTable(rules map[string][]string) *Table {
	t := &Table{rules: make(map[string]map[string]bool, len(rules))}
	for from, tos := range rules {
		set := make(map[string]bool, len(tos))
		for _, to := range tos {
			set[strings.ToLower(to)] = true
		}
		t.rules[strings.ToLower(from)] = set
	}
	return t
}

// EmptyTable returns a table with no rules; only direct tag
// intersection passes then.
func EmptyTable() *Table {
	return &Table{rules: map[string]map[string]bool{}}
}

// Allows reports whether a candidate tag `from` may satisfy a position
// tag `to` according to the configured rules.
func (t *Table) Allows(from, to string) bool {
	set, ok := t.rules[strings.ToLower(from)]
	if !ok {
		return false
	}
	return set[strings.ToLower(to)]
}

// Size returns the number of source tags with at least one rule.
func (t *Table) Size() int {
	return len(t.rules)
}
