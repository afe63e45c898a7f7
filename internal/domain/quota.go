package domain

// Quota maps condition x subtype to the number of participants assigned
// to that cell. Counts only ever increase, one at a time, and never
// exceed the per-cell capacity.
type Quota map[Condition]map[Subtype]int

// NewQuota returns a quota with every cell zeroed.
func NewQuota() Quota {
	q := make(Quota, len(Conditions))
	for _, c := range Conditions {
		q[c] = make(map[Subtype]int, len(Subtypes))
		for _, t := range Subtypes {
			q[c][t] = 0
		}
	}
	return q
}

// Complete reports whether the quota has an entry for every
// condition x subtype cell. Loaded state missing cells is corrupt.
func (q Quota) Complete() bool {
	for _, c := range Conditions {
		cells, ok := q[c]
		if !ok {
			return false
		}
		for _, t := range Subtypes {
			if _, ok := cells[t]; !ok {
				return false
			}
		}
	}
	return true
}

// Eligible returns the conditions whose count for the given subtype is
// below capacity.
func (q Quota) Eligible(subtype Subtype, capacity int) []Condition {
	var out []Condition
	for _, c := range Conditions {
		if q[c][subtype] < capacity {
			out = append(out, c)
		}
	}
	return out
}

// Full reports whether every cell of every subtype is at capacity.
func (q Quota) Full(capacity int) bool {
	for _, c := range Conditions {
		for _, t := range Subtypes {
			if q[c][t] < capacity {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (q Quota) Clone() Quota {
	out := make(Quota, len(q))
	for c, cells := range q {
		out[c] = make(map[Subtype]int, len(cells))
		for t, n := range cells {
			out[c][t] = n
		}
	}
	return out
}
