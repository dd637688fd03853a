// Package window buckets timeline events into hour-aligned windows that can
// be loaded page by page and merged incrementally as live events arrive.
package window

import (
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

// HourSeconds is the width of one bucket.
const HourSeconds = 3600

// HourlyTimeline holds events grouped by the hour they fall in.
//
// Invariants after every operation:
//   - each event in Hours[k] satisfies HourStart(e.Timestamp) == ParseHourKey(k)
//   - Count equals the total number of bucketed events
//   - Start/End are the min/max accepted timestamps (both 0 when empty)
//   - each bucket is sorted by (timestamp, source_id, class_type, camera)
type HourlyTimeline struct {
	Start float64                  `json:"start"`
	End   float64                  `json:"end"`
	Count int                      `json:"count"`
	Hours map[string][]event.Event `json:"hours"`
}

// New returns the explicit empty timeline.
func New() *HourlyTimeline {
	return &HourlyTimeline{Hours: make(map[string][]event.Event)}
}

// Bucket builds a timeline from events in any order. Duplicates are dropped.
func Bucket(events []event.Event) *HourlyTimeline {
	t := New()
	t.Add(events...)
	return t
}

// HourStart returns the hour-aligned epoch second containing ts.
func HourStart(ts float64) float64 {
	return math.Floor(ts/HourSeconds) * HourSeconds
}

// HourKey returns the bucket key for ts.
func HourKey(ts float64) string {
	return strconv.FormatInt(int64(HourStart(ts)), 10)
}

// ParseHourKey returns the epoch second a bucket key denotes.
func ParseHourKey(k string) (float64, error) {
	n, err := strconv.ParseInt(k, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("hour key %q: %w", k, err)
	}
	if n%HourSeconds != 0 {
		return 0, fmt.Errorf("hour key %q is not hour aligned", k)
	}
	return float64(n), nil
}

// compareEvents is the in-bucket order.
func compareEvents(a, b event.Event) int {
	return cmp.Or(
		cmp.Compare(a.Timestamp, b.Timestamp),
		cmp.Compare(a.SourceID, b.SourceID),
		cmp.Compare(a.ClassType, b.ClassType),
		cmp.Compare(a.Camera, b.Camera),
	)
}

// Add merges events into the timeline in place and returns how many were
// accepted (not duplicates). It is safe to call with overlapping or
// out-of-order batches.
func (t *HourlyTimeline) Add(events ...event.Event) int {
	if t.Hours == nil {
		t.Hours = make(map[string][]event.Event)
	}
	accepted := 0
	for _, e := range events {
		if t.insert(HourKey(e.Timestamp), e, false) {
			accepted++
		}
	}
	return accepted
}

// Extend returns a new timeline holding t plus events, leaving t untouched.
// Only the buckets events land in are copied; the rest share storage with t,
// so neither timeline may be changed with Add afterwards.
func (t *HourlyTimeline) Extend(events ...event.Event) (*HourlyTimeline, int) {
	out := &HourlyTimeline{Start: t.Start, End: t.End, Count: t.Count, Hours: maps.Clone(t.Hours)}
	if out.Hours == nil {
		out.Hours = make(map[string][]event.Event)
	}
	owned := make(map[string]bool)
	accepted := 0
	for _, e := range events {
		k := HourKey(e.Timestamp)
		if out.insert(k, e, !owned[k]) {
			owned[k] = true
			accepted++
		}
	}
	return out, accepted
}

// insert places e in bucket k unless it is a duplicate. A shared bucket is
// clipped first so the insert reallocates instead of writing into storage
// another timeline still reads.
func (t *HourlyTimeline) insert(k string, e event.Event, shared bool) bool {
	bucket := t.Hours[k]
	// The order keys are exactly the identity keys, so an equal element is
	// a duplicate.
	i, found := slices.BinarySearchFunc(bucket, e, compareEvents)
	if found {
		return false
	}
	if shared {
		bucket = slices.Clip(bucket)
	}
	t.Hours[k] = slices.Insert(bucket, i, e)
	if t.Count == 0 {
		t.Start, t.End = e.Timestamp, e.Timestamp
	} else {
		t.Start = min(t.Start, e.Timestamp)
		t.End = max(t.End, e.Timestamp)
	}
	t.Count++
	return true
}

// Prune returns a timeline without the hours that end at or before cutoff,
// and how many events were dropped. When nothing is dropped it returns t
// itself; otherwise the kept buckets share storage with t.
func (t *HourlyTimeline) Prune(cutoff float64) (*HourlyTimeline, int) {
	var stale []string
	for k := range t.Hours {
		start, err := ParseHourKey(k)
		if err != nil || start+HourSeconds <= cutoff {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return t, 0
	}

	out := &HourlyTimeline{Hours: maps.Clone(t.Hours)}
	dropped := 0
	for _, k := range stale {
		dropped += len(out.Hours[k])
		delete(out.Hours, k)
	}
	for _, k := range out.Keys() {
		bucket := out.Hours[k]
		if len(bucket) == 0 {
			delete(out.Hours, k)
			continue
		}
		if out.Count == 0 {
			out.Start = bucket[0].Timestamp
		}
		out.End = bucket[len(bucket)-1].Timestamp
		out.Count += len(bucket)
	}
	return out, dropped
}

// Clone returns a deep copy whose buckets can be modified independently.
func (t *HourlyTimeline) Clone() *HourlyTimeline {
	c := &HourlyTimeline{
		Start: t.Start,
		End:   t.End,
		Count: t.Count,
		Hours: make(map[string][]event.Event, len(t.Hours)),
	}
	for k, v := range t.Hours {
		c.Hours[k] = slices.Clone(v)
	}
	return c
}

// Len returns the number of hour buckets.
func (t *HourlyTimeline) Len() int { return len(t.Hours) }

// Keys returns the bucket keys in ascending hour order.
func (t *HourlyTimeline) Keys() []string {
	keys := make([]string, 0, len(t.Hours))
	for k := range t.Hours {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		ai, _ := strconv.ParseInt(a, 10, 64)
		bi, _ := strconv.ParseInt(b, 10, 64)
		return cmp.Compare(ai, bi)
	})
	return keys
}

// Flatten returns every event in chronological order.
func (t *HourlyTimeline) Flatten() []event.Event {
	out := make([]event.Event, 0, t.Count)
	for _, k := range t.Keys() {
		out = append(out, t.Hours[k]...)
	}
	return out
}

// Range returns a new timeline with the buckets whose hour overlaps
// [after, before). A zero bound is open. Events inside a selected bucket are
// kept whole so a page always carries complete hours.
func (t *HourlyTimeline) Range(after, before float64) *HourlyTimeline {
	out := New()
	for k, v := range t.Hours {
		start, err := ParseHourKey(k)
		if err != nil {
			continue
		}
		if after > 0 && start+HourSeconds <= after {
			continue
		}
		if before > 0 && start >= before {
			continue
		}
		out.Add(v...)
	}
	return out
}

// Filter returns a new timeline holding only events for which keep is true.
func (t *HourlyTimeline) Filter(keep func(event.Event) bool) *HourlyTimeline {
	out := New()
	for _, v := range t.Hours {
		for _, e := range v {
			if keep(e) {
				out.Add(e)
			}
		}
	}
	return out
}

// Check verifies the structural invariants.
func (t *HourlyTimeline) Check() error {
	total := 0
	first := true
	var lo, hi float64
	for k, v := range t.Hours {
		start, err := ParseHourKey(k)
		if err != nil {
			return err
		}
		for i, e := range v {
			if HourStart(e.Timestamp) != start {
				return fmt.Errorf("event at %v filed under hour %s", e.Timestamp, k)
			}
			if i > 0 && compareEvents(v[i-1], e) > 0 {
				return fmt.Errorf("hour %s not sorted at index %d", k, i)
			}
			if first {
				lo, hi, first = e.Timestamp, e.Timestamp, false
			} else {
				lo, hi = min(lo, e.Timestamp), max(hi, e.Timestamp)
			}
		}
		total += len(v)
	}
	if total != t.Count {
		return fmt.Errorf("count %d does not match %d bucketed events", t.Count, total)
	}
	if t.Start != lo || t.End != hi {
		return fmt.Errorf("bounds [%v, %v] do not match observed [%v, %v]", t.Start, t.End, lo, hi)
	}
	return nil
}
