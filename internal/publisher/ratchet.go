package publisher

import "fmt"

// ErrRatchetViolation means this cycle's row counts dropped, for some
// table, below ratchetFraction of that table's previous high-water mark —
// the signature of a bad upstream truncation rather than legitimate churn.
type ErrRatchetViolation struct {
	Table    string
	Current  int64
	HighWater int64
	Fraction float64
}

func (e *ErrRatchetViolation) Error() string {
	return fmt.Sprintf("publisher: ratchet violation on %s: %d rows is below %.0f%% of high-water mark %d",
		e.Table, e.Current, e.Fraction*100, e.HighWater)
}

// checkRatchet compares current against the previous run's high-water mark
// table by table, and returns the new high-water mark (current counts,
// raised where they grew) alongside an error for the first table that
// shrank below fraction of its mark.
func checkRatchet(current, highWater map[string]int64, fraction float64) (map[string]int64, error) {
	next := make(map[string]int64, len(current))
	for table, count := range current {
		prev, known := highWater[table]
		if known && prev > 0 && float64(count) < fraction*float64(prev) {
			return nil, &ErrRatchetViolation{Table: table, Current: count, HighWater: prev, Fraction: fraction}
		}
		next[table] = count
		if known && prev > count {
			next[table] = prev
		}
	}
	for table, prev := range highWater {
		if _, ok := next[table]; !ok {
			next[table] = prev
		}
	}
	return next, nil
}
