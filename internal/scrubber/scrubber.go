// Package scrubber projects ordered events onto renderer-agnostic scrubber
// items and computes the visible track window.
package scrubber

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/samber/lo"

	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

// Pad keeps the first and last markers inside the visible track (ms).
const Pad = 10

// ItemType is the marker shape every item is drawn with.
const ItemType = "box"

// Item is one scrubber marker.
type Item struct {
	ID      int     `json:"id"`      // position in the caller's sequence
	Key     string  `json:"key"`     // content-derived, survives reordering
	Content string  `json:"content"` // class type
	Start   float64 `json:"start"`   // ms
	Type    string  `json:"type"`
}

// Window is the visible track span in ms.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Project maps events to items. IDs are positional, so callers must pass a
// stable chronological order (see SortChronological) across calls.
func Project(events []event.Event) []Item {
	return lo.Map(events, func(e event.Event, i int) Item {
		return Item{
			ID:      i,
			Key:     StableKey(e),
			Content: e.ClassType,
			Start:   e.Timestamp * 1000,
			Type:    ItemType,
		}
	})
}

// Bounds returns the padded window of a chronologically sorted sequence.
// It reports false for an empty sequence.
func Bounds(events []event.Event) (Window, bool) {
	if len(events) == 0 {
		return Window{}, false
	}
	return Window{
		Start: events[0].Timestamp*1000 - Pad,
		End:   events[len(events)-1].Timestamp*1000 + Pad,
	}, true
}

// StableKey identifies an event by content rather than position.
func StableKey(e event.Event) string {
	ms := strconv.FormatFloat(e.Timestamp*1000, 'f', -1, 64)
	return e.Camera + "|" + ms + "|" + e.SourceID + "|" + e.ClassType
}

// SortChronological returns a sorted copy suitable for Project and Bounds.
func SortChronological(events []event.Event) []event.Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b event.Event) int {
		return cmp.Or(
			cmp.Compare(a.Timestamp, b.Timestamp),
			cmp.Compare(a.Camera, b.Camera),
			cmp.Compare(a.SourceID, b.SourceID),
			cmp.Compare(a.ClassType, b.ClassType),
		)
	})
	return out
}
