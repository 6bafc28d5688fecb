package assess

import (
	"github.com/jonathan/placement-matcher/internal/types"
)

// RedactedEntity is the only entity shape that ever leaves the process
// toward an assessment provider: role tags, experience descriptors, a
// coarse region and an opaque reference. No names, no contact details,
// no street addresses, regardless of provider.
type RedactedEntity struct {
	Ref         string   `json:"ref"`
	Kind        string   `json:"kind"`
	RoleTags    []string `json:"role_tags"`
	Descriptors []string `json:"descriptors,omitempty"`
	Region      string   `json:"region,omitempty"`
}

// regionPrefixLen keeps only the leading postal digits, enough for the
// oracle to reason about rough commute plausibility without pinpointing
// anyone.
const regionPrefixLen = 2

// Redact strips an entity down to its non-identifying attributes. Every
// assessment call goes through this, for every provider.
func Redact(e types.Entity) RedactedEntity {
	region := e.PostalCode
	if len(region) > regionPrefixLen {
		region = region[:regionPrefixLen]
	}

	return RedactedEntity{
		Ref:         e.ID.String(),
		Kind:        string(e.Kind),
		RoleTags:    append([]string(nil), e.RoleTags...),
		Descriptors: append([]string(nil), e.Descriptors...),
		Region:      region,
	}
}
