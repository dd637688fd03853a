// Package preview finds the recorded preview clip covering a moment on a
// camera.
package preview

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

func compareClips(a, b event.Preview) int {
	return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.End, b.End), cmp.Compare(a.Src, b.Src))
}

// Resolve returns the clip on camera whose [Start, End] contains ts. ts must
// be in the same unit as the clip bounds. Clips on one camera are expected
// not to overlap; if they do, the earliest-starting match wins.
func Resolve(previews []event.Preview, camera string, ts float64) (event.Preview, bool) {
	var (
		best  event.Preview
		found bool
	)
	for _, p := range previews {
		if p.Camera != camera || !p.Covers(ts) {
			continue
		}
		if !found || compareClips(p, best) < 0 {
			best, found = p, true
		}
	}
	return best, found
}

// ResolveMillis resolves a millisecond timestamp against clips stored in
// seconds.
func ResolveMillis(previews []event.Preview, camera string, tsMillis float64) (event.Preview, bool) {
	return Resolve(previews, camera, tsMillis/1000)
}

// ForCamera returns camera's clips ordered by start.
func ForCamera(previews []event.Preview, camera string) []event.Preview {
	out := lo.Filter(previews, func(p event.Preview, _ int) bool { return p.Camera == camera })
	slices.SortFunc(out, compareClips)
	return out
}

// Overlapping returns pairs of clips on the same camera whose intervals
// intersect. Resolve tolerates them; this lets callers log the upstream fault.
func Overlapping(previews []event.Preview) [][2]event.Preview {
	var out [][2]event.Preview
	byCamera := lo.GroupBy(previews, func(p event.Preview) string { return p.Camera })
	cameras := lo.Keys(byCamera)
	slices.Sort(cameras)
	for _, cam := range cameras {
		clips := byCamera[cam]
		slices.SortFunc(clips, compareClips)
		for i := 1; i < len(clips); i++ {
			if clips[i].Start < clips[i-1].End {
				out = append(out, [2]event.Preview{clips[i-1], clips[i]})
			}
		}
	}
	return out
}
