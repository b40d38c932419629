package engine

import (
	"sort"
	"strings"
)

// DefaultReservedNames are the resources deployed by the housekeeping system itself.
var DefaultReservedNames = []string{
	"rosie-glue-monitoring",
	"rosie-step-functions-monitoring",
	"rosie-catalog-monitoring",
	"rosie-orchestrator",
	"rosie-results",
	"rosie-raw-data",
}

// ReservedSet is the lookup table of resource names that are never evaluated
// or retired. Lookups are case-insensitive. The zero value is empty.
type ReservedSet struct {
	names map[string]struct{}
}

// NewReservedSet builds a set from the default names plus extras.
func NewReservedSet(extra ...string) ReservedSet {
	s := ReservedSet{names: make(map[string]struct{}, len(DefaultReservedNames)+len(extra))}
	for _, n := range DefaultReservedNames {
		s.add(n)
	}
	for _, n := range extra {
		s.add(n)
	}
	return s
}

func (s ReservedSet) add(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		s.names[name] = struct{}{}
	}
}

// Contains reports whether name belongs to the system.
func (s ReservedSet) Contains(name string) bool {
	if s.names == nil {
		return false
	}
	_, ok := s.names[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names returns the reserved names in sorted order.
func (s ReservedSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
