package reconciler

import "time"

// FieldSource is one scraper's reported value for a single field, used as
// input to merge. ReportedAt lets merge fall back to recency when the
// source-priority list does not rank either contributor.
type FieldSource struct {
	Scraper    string
	Value      string
	ReportedAt time.Time
}

// FieldChange is what merge returns for a field whose winning value differs
// from the canonical value on file; the caller turns it into a VersionEntry.
type FieldChange struct {
	Field    string
	OldValue string
	NewValue string
	Source   string
}

// valueGroup tallies every source reporting a single distinct value for a
// field, so merge can apply majority vote before falling back to
// priority/recency tiebreaks.
type valueGroup struct {
	value      string
	count      int
	bestRank   int
	bestTime   time.Time
	bestSource string
}

// merge picks a winning value for one field out of all known source
// contributions plus the current canonical value, and reports whether that
// changes anything. It is a pure function: the same inputs always produce
// the same winner, independent of database or wall-clock state beyond what
// is carried in FieldSource.ReportedAt.
//
// Precedence: the value reported by the most sources wins (majority vote).
// A tie in vote count is broken by source priority — a source earlier in
// priority beats one later in it, regardless of recency. A further tie
// (including two sources absent from the priority list altogether, which
// tie at the bottom) is broken by recency: the most recently reported value
// wins. Blank values never win over a non-blank one from a lower-priority
// source.
func merge(field, canonicalValue string, sources []FieldSource, priority []string) (winner string, winnerSource string, changed bool) {
	rank := func(scraper string) int {
		for i, p := range priority {
			if p == scraper {
				return i
			}
		}
		return len(priority)
	}

	groups := make(map[string]*valueGroup)
	var order []string

	for _, s := range sources {
		if s.Value == "" {
			continue
		}
		g, ok := groups[s.Value]
		if !ok {
			g = &valueGroup{value: s.Value, bestRank: len(priority) + 1}
			groups[s.Value] = g
			order = append(order, s.Value)
		}
		g.count++
		r := rank(s.Scraper)
		switch {
		case g.bestSource == "":
			g.bestRank, g.bestTime, g.bestSource = r, s.ReportedAt, s.Scraper
		case r < g.bestRank:
			g.bestRank, g.bestTime, g.bestSource = r, s.ReportedAt, s.Scraper
		case r == g.bestRank && s.ReportedAt.After(g.bestTime):
			g.bestTime, g.bestSource = s.ReportedAt, s.Scraper
		}
	}

	if len(order) == 0 {
		return canonicalValue, "", false
	}

	best := groups[order[0]]
	for _, v := range order[1:] {
		g := groups[v]
		switch {
		case g.count > best.count:
			best = g
		case g.count == best.count && g.bestRank < best.bestRank:
			best = g
		case g.count == best.count && g.bestRank == best.bestRank && g.bestTime.After(best.bestTime):
			best = g
		}
	}

	winner = best.value
	winnerSource = best.bestSource
	changed = winner != canonicalValue
	return winner, winnerSource, changed
}

// MergeFields runs merge for every field named in incoming, starting from a
// copy of current so that fields absent from incoming keep their value, and
// returns the new field values to persist and the list of changes to log as
// VersionEntry rows. current maps field name to its present canonical value;
// incoming maps field name to that field's contributions from every source
// that has reported it in this reconciliation pass.
func MergeFields(current map[string]string, incoming map[string][]FieldSource, priority []string) (next map[string]string, changes []FieldChange) {
	next = make(map[string]string, len(current))
	for field, value := range current {
		next[field] = value
	}

	for field, sources := range incoming {
		winner, source, changed := merge(field, current[field], sources, priority)
		next[field] = winner
		if changed {
			changes = append(changes, FieldChange{
				Field:    field,
				OldValue: current[field],
				NewValue: winner,
				Source:   source,
			})
		}
	}
	return next, changes
}
