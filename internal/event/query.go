package event

import "slices"

// Query is the shape of a request against an event source: an optional
// tracked subject, a camera set and a half-open time range. Zero values
// mean "unbounded".
type Query struct {
	SourceID string   `json:"source_id,omitempty"`
	Cameras  []string `json:"cameras,omitempty"`
	After    float64  `json:"after,omitempty"`
	Before   float64  `json:"before,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Matches reports whether e satisfies every set constraint. Limit is not
// applied here.
func (q Query) Matches(e Event) bool {
	if q.SourceID != "" && e.SourceID != q.SourceID {
		return false
	}
	if len(q.Cameras) > 0 && !slices.Contains(q.Cameras, e.Camera) {
		return false
	}
	if q.After > 0 && e.Timestamp < q.After {
		return false
	}
	if q.Before > 0 && e.Timestamp >= q.Before {
		return false
	}
	return true
}

// Filter returns the events matching q, in input order, truncated to Limit.
func (q Query) Filter(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if !q.Matches(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}
