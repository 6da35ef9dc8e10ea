package osint

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TargetType is the kind of indicator a target carries.
type TargetType string

const (
	TargetIP     TargetType = "ip"
	TargetDomain TargetType = "domain"
	TargetURL    TargetType = "url"
	TargetEmail  TargetType = "email"
	TargetHash   TargetType = "hash"
	TargetPhone  TargetType = "phone"
	TargetAlias  TargetType = "alias"
)

// AllTargetTypes lists every known target type in display order.
var AllTargetTypes = []TargetType{
	TargetIP, TargetDomain, TargetURL, TargetEmail, TargetHash, TargetPhone, TargetAlias,
}

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool {
	for _, known := range AllTargetTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTargetType normalizes s and validates it against the known types.
func ParseTargetType(s string) (TargetType, error) {
	t := TargetType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown target type: %q", s)
	}
	return t, nil
}

// TargetStatus tracks a target through the analysis lifecycle.
type TargetStatus string

const (
	StatusPending   TargetStatus = "pending"
	StatusAnalyzing TargetStatus = "analyzing"
	StatusAnalyzed  TargetStatus = "analyzed"
	StatusError     TargetStatus = "error"
)

// ResultStatus is the outcome recorded for one provider invocation.
type ResultStatus string

const (
	ResultPending ResultStatus = "pending"
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
	ResultPartial ResultStatus = "partial"
)

// Investigation groups targets under a single case.
type Investigation struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Target is an indicator queued for or already subjected to analysis.
type Target struct {
	ID              string       `json:"id"`
	InvestigationID string       `json:"investigation_id"`
	Type            TargetType   `json:"type"`
	Value           string       `json:"value"`
	Description     string       `json:"description,omitempty"`
	Status          TargetStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	LastAnalyzedAt  time.Time    `json:"last_analyzed_at,omitempty"`
	Tools           []string     `json:"tools,omitempty"`
}

// TypeSet is an unordered set of target types.
type TypeSet map[TargetType]struct{}

// NewTypeSet builds a set from the given types.
func NewTypeSet(types ...TargetType) TypeSet {
	s := make(TypeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s TypeSet) Has(t TargetType) bool {
	_, ok := s[t]
	return ok
}

// Sorted returns the members in lexical order.
func (s TypeSet) Sorted() []TargetType {
	out := make([]TargetType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the set as a comma separated list.
func (s TypeSet) String() string {
	parts := make([]string, 0, len(s))
	for _, t := range s.Sorted() {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ",")
}
