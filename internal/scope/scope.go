// Package scope implements the (target, user) scope triple and the three
// merge strategies the data model assigns to configuration, policies, and
// secrets.
package scope

import "sort"

// Triple identifies a configuration/policy/secret row's scope level.
// Target and User are empty at the base level.
type Triple struct {
	Target string
	User   string
}

// Base is the (absent, absent) scope triple.
var Base = Triple{}

// Levels returns the scope triples to walk, most general first, for the
// given calling context: [base] -> [target] -> [target,user].
func (t Triple) Levels() []Triple {
	levels := []Triple{Base}
	if t.Target != "" {
		levels = append(levels, Triple{Target: t.Target})
	}
	if t.Target != "" && t.User != "" {
		levels = append(levels, t)
	}
	return levels
}

// Depth orders triples from least to most specific; used to pick the
// "most-specific non-null wins" row in config and secret resolution.
func (t Triple) Depth() int {
	switch {
	case t.Target != "" && t.User != "":
		return 2
	case t.Target != "":
		return 1
	default:
		return 0
	}
}

// Scoped pairs a value with the triple it was read from.
type Scoped[T any] struct {
	Triple Triple
	Value  T
}

// MostSpecific returns the value whose triple has the greatest depth,
// breaking ties toward the last entry (assumed caller-ordered
// base-to-specific, matching a typical level-by-level scan).
func MostSpecific[T any](rows []Scoped[T]) (T, bool) {
	var best Scoped[T]
	found := false
	for _, row := range rows {
		if !found || row.Triple.Depth() >= best.Triple.Depth() {
			best = row
			found = true
		}
	}
	return best.Value, found
}

// SortByDepth orders rows from least to most specific, for deterministic
// iteration order when merging config fields or resolving secrets by name.
func SortByDepth[T any](rows []Scoped[T]) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Triple.Depth() < rows[j].Triple.Depth()
	})
}
