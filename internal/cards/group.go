// Package cards collapses timeline events that share a correlation key into
// review cards and indexes them by an application-defined key hierarchy.
package cards

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

// Card summarises one tracked subject or session.
type Card struct {
	Camera   string        `json:"camera"`
	Time     float64       `json:"time"` // earliest entry
	End      float64       `json:"end"`  // latest entry
	SourceID string        `json:"source_id"`
	Labels   []string      `json:"labels,omitempty"`
	Entries  []event.Event `json:"entries"`
}

func compareEntries(a, b event.Event) int {
	return cmp.Or(
		cmp.Compare(a.Timestamp, b.Timestamp),
		cmp.Compare(a.ClassType, b.ClassType),
		cmp.Compare(a.Camera, b.Camera),
	)
}

// Group partitions events by SourceID and builds one Card per partition.
// Every input event lands in exactly one Card. Cards come back ordered by
// (Time, SourceID).
func Group(events []event.Event) []Card {
	parts := lo.GroupBy(events, func(e event.Event) string { return e.SourceID })
	out := make([]Card, 0, len(parts))
	for sourceID, entries := range parts {
		out = append(out, build(sourceID, entries))
	}
	slices.SortFunc(out, func(a, b Card) int {
		return cmp.Or(cmp.Compare(a.Time, b.Time), cmp.Compare(a.SourceID, b.SourceID))
	})
	return out
}

func build(sourceID string, entries []event.Event) Card {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, compareEntries)

	labels := lo.Uniq(lo.FilterMap(sorted, func(e event.Event, _ int) (string, bool) {
		l := e.Label()
		return l, l != ""
	}))
	slices.Sort(labels)

	return Card{
		Camera:   ResolveCamera(sorted),
		Time:     sorted[0].Timestamp,
		End:      sorted[len(sorted)-1].Timestamp,
		SourceID: sourceID,
		Labels:   labels,
		Entries:  sorted,
	}
}

// ResolveCamera picks the camera that represents a chronologically sorted
// partition: the camera with the most entries, and on a count tie the one
// seen first.
func ResolveCamera(sorted []event.Event) string {
	if len(sorted) == 0 {
		return ""
	}
	counts := lo.CountValuesBy(sorted, func(e event.Event) string { return e.Camera })
	if len(counts) == 1 {
		return sorted[0].Camera
	}
	best := lo.Max(lo.Values(counts))
	for _, e := range sorted {
		if counts[e.Camera] == best {
			return e.Camera
		}
	}
	return sorted[0].Camera
}
