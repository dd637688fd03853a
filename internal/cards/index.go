package cards

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// ErrEmptyKey is returned when a key component is empty.
var ErrEmptyKey = errors.New("cards: empty key component")

// Key addresses one Card: outer → middle → inner (for the review grid,
// day → camera → source id).
type Key struct {
	Outer  string `json:"outer"`
	Middle string `json:"middle"`
	Inner  string `json:"inner"`
}

func (k Key) String() string { return k.Outer + "/" + k.Middle + "/" + k.Inner }

func compareKeys(a, b Key) int {
	return cmp.Or(cmp.Compare(a.Outer, b.Outer), cmp.Compare(a.Middle, b.Middle), cmp.Compare(a.Inner, b.Inner))
}

// Index is a flat composite-key map over Cards. It imposes no iteration
// order; callers sort explicitly via Cards.
type Index struct {
	cards   map[Key]Card
	skipped int
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{cards: make(map[Key]Card)}
}

// Insert stores c under (k1, k2, k3), replacing any previous Card.
func (x *Index) Insert(k1, k2, k3 string, c Card) error {
	if k1 == "" || k2 == "" || k3 == "" {
		return fmt.Errorf("insert %q/%q/%q: %w", k1, k2, k3, ErrEmptyKey)
	}
	x.cards[Key{k1, k2, k3}] = c
	return nil
}

// Get returns the Card under (k1, k2, k3) and whether it exists.
func (x *Index) Get(k1, k2, k3 string) (Card, bool) {
	c, ok := x.cards[Key{k1, k2, k3}]
	return c, ok
}

// Len returns the number of Cards.
func (x *Index) Len() int { return len(x.cards) }

// Skipped returns how many cards IndexByDay could not address.
func (x *Index) Skipped() int { return x.skipped }

// Keys returns all keys in lexical order.
func (x *Index) Keys() []Key {
	keys := make([]Key, 0, len(x.cards))
	for k := range x.cards {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Outer returns the distinct outer keys in lexical order.
func (x *Index) Outer() []string {
	seen := make(map[string]struct{})
	var out []string
	for k := range x.cards {
		if _, ok := seen[k.Outer]; ok {
			continue
		}
		seen[k.Outer] = struct{}{}
		out = append(out, k.Outer)
	}
	slices.Sort(out)
	return out
}

// Cards returns every Card ordered by less. A nil less orders by key.
func (x *Index) Cards(less func(a, b Card) bool) []Card {
	keys := x.Keys()
	out := make([]Card, 0, len(keys))
	for _, k := range keys {
		out = append(out, x.cards[k])
	}
	if less != nil {
		slices.SortStableFunc(out, func(a, b Card) int {
			switch {
			case less(a, b):
				return -1
			case less(b, a):
				return 1
			}
			return 0
		})
	}
	return out
}

// NewestFirst orders Cards by descending Time, the review grid's default.
func NewestFirst(a, b Card) bool { return a.Time > b.Time }

// DayKey formats a Card time as the calendar day in loc.
func DayKey(ts float64, loc *time.Location) string {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).In(loc).Format(time.DateOnly)
}

// IndexByDay indexes cards as day → camera → source id. Cards without a
// camera or source id are counted in Skipped and left out.
func IndexByDay(cards []Card, loc *time.Location) *Index {
	if loc == nil {
		loc = time.UTC
	}
	x := NewIndex()
	for _, c := range cards {
		if err := x.Insert(DayKey(c.Time, loc), c.Camera, c.SourceID, c); err != nil {
			x.skipped++
			slog.Debug("card left out of day index", "camera", c.Camera, "time", c.Time, "err", err)
		}
	}
	return x
}
