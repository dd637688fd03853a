// Package engine holds the live review timeline. Batches from every source
// are validated and merged on a worker pool; readers get immutable
// snapshots and derive cards, scrubber tracks and preview lookups from them.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/gyaneshwarpardhi/camreview/internal/cards"
	"github.com/gyaneshwarpardhi/camreview/internal/config"
	"github.com/gyaneshwarpardhi/camreview/internal/event"
	"github.com/gyaneshwarpardhi/camreview/internal/filter"
	"github.com/gyaneshwarpardhi/camreview/internal/metrics"
	"github.com/gyaneshwarpardhi/camreview/internal/preview"
	"github.com/gyaneshwarpardhi/camreview/internal/scrubber"
	"github.com/gyaneshwarpardhi/camreview/internal/window"
)

var (
	ErrQueueFull = errors.New("ingest queue full")
	ErrClosed    = errors.New("engine shut down")
)

// Store is the archive the engine persists to and backfills from.
type Store interface {
	SaveEvents(ctx context.Context, events []event.Event) (int, error)
	Events(ctx context.Context, q event.Query) ([]event.Event, error)
}

// IngestResult is the outcome of merging one batch.
type IngestResult struct {
	Origin     string   `json:"origin"`
	Received   int      `json:"received"`
	Accepted   int      `json:"accepted"`
	Duplicates int      `json:"duplicates"`
	Invalid    []string `json:"invalid,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

type batch struct {
	origin  string
	events  []event.Event
	resultC chan *IngestResult
}

type settings struct {
	loc      *time.Location
	maxCards int
}

// Engine owns the live timeline and preview set.
type Engine struct {
	timeline atomic.Pointer[window.HourlyTimeline]
	previews atomic.Pointer[[]event.Preview]
	settings atomic.Pointer[settings]

	mergeMu sync.Mutex

	// prevMu guards both preview sets; previews holds their union.
	prevMu     sync.Mutex
	catalogue  map[clipKey]event.Preview
	registered map[clipKey]event.Preview

	// lifeMu guards closed so no batch is sent after the pool drains.
	lifeMu sync.RWMutex
	closed bool

	pool  *workerPool[*batch, *IngestResult]
	store Store
	conf  *config.EngineConf
	now   func() time.Time
}

// New creates an Engine using conf and starts the ingest pool. st may be nil.
func New(ctx context.Context, conf config.EngineConf, st Store) *Engine {
	e := &Engine{
		store: st,
		conf:  &conf,
		now:   time.Now,
	}
	e.timeline.Store(window.New())
	e.previews.Store(&[]event.Preview{})
	e.settings.Store(&settings{loc: time.UTC, maxCards: 500})

	e.pool = newWorkerPool(
		ctx,
		conf.IngestWorkers,
		conf.QueueDepth,
		func(ctx context.Context, b *batch) (*IngestResult, error) {
			return e.ingest(ctx, b.origin, b.events), nil
		},
		func(b *batch, res *IngestResult, _ error) {
			if b.resultC != nil {
				b.resultC <- res
			}
		},
	)
	return e
}

// SetReview swaps the hot-reloadable review settings.
func (e *Engine) SetReview(rc config.ReviewConf) error {
	loc, err := rc.Location()
	if err != nil {
		return fmt.Errorf("review timezone: %w", err)
	}
	maxCards := rc.MaxCards
	if maxCards <= 0 {
		maxCards = 500
	}
	e.settings.Store(&settings{loc: loc, maxCards: maxCards})
	return nil
}

// Location is the timezone used for day keys.
func (e *Engine) Location() *time.Location { return e.settings.Load().loc }

// IngestSync merges events on the pool and waits for the result.
func (e *Engine) IngestSync(ctx context.Context, origin string, events []event.Event) (*IngestResult, error) {
	resultC := make(chan *IngestResult, 1)
	if err := e.submit(&batch{origin: origin, events: events, resultC: resultC}); err != nil {
		return nil, err
	}

	timeout := time.Duration(e.conf.IngestTimeoutMs) * time.Millisecond
	select {
	case res := <-resultC:
		return res, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("ingest timeout after %v", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IngestAsync enqueues events for background merging.
func (e *Engine) IngestAsync(origin string, events []event.Event) error {
	return e.submit(&batch{origin: origin, events: events})
}

func (e *Engine) submit(b *batch) error {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	metrics.EventsReceived.WithLabelValues(b.origin).Add(float64(len(b.events)))
	if !e.pool.Submit(b) {
		metrics.BatchesDropped.Inc()
		return fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.pool.QueueCap())
	}
	metrics.QueueUtilization.Set(e.QueueUtilization())
	return nil
}

func (e *Engine) ingest(ctx context.Context, origin string, events []event.Event) *IngestResult {
	start := time.Now()
	res := &IngestResult{Origin: origin, Received: len(events)}

	valid := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			res.Invalid = append(res.Invalid, err.Error())
			continue
		}
		valid = append(valid, ev)
	}
	metrics.EventsInvalid.Add(float64(len(res.Invalid)))

	res.Accepted = e.merge(valid)
	res.Duplicates = len(valid) - res.Accepted

	if e.store != nil && res.Accepted > 0 {
		if _, err := e.store.SaveEvents(ctx, valid); err != nil {
			slog.Error("persist events failed", "origin", origin, "count", len(valid), "err", err)
		}
	}

	res.DurationMs = time.Since(start).Milliseconds()
	metrics.IngestDuration.Observe(float64(res.DurationMs))
	metrics.QueueUtilization.Set(e.QueueUtilization())
	return res
}

// merge adds events to a copy of the timeline and publishes it.
func (e *Engine) merge(events []event.Event) int {
	if len(events) == 0 {
		return 0
	}
	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	cur := e.timeline.Load()
	next, accepted := cur.Extend(events...)
	evicted := 0
	if e.conf.RetentionHours > 0 {
		cutoff := e.now().Add(-time.Duration(e.conf.RetentionHours) * time.Hour)
		next, evicted = next.Prune(float64(cutoff.Unix()))
	}
	if accepted > 0 || evicted > 0 {
		e.timeline.Store(next)
	} else {
		next = cur
	}
	if evicted > 0 {
		slog.Debug("evicted events past retention", "events", evicted, "retention_hours", e.conf.RetentionHours)
	}

	metrics.EventsAccepted.Add(float64(accepted))
	metrics.EventsEvicted.Add(float64(evicted))
	metrics.EventsDuplicate.Add(float64(len(events) - accepted))
	metrics.TimelineHours.Set(float64(next.Len()))
	metrics.TimelineEvents.Set(float64(next.Count))
	return accepted
}

// Backfill loads archived events newer than since into the timeline.
func (e *Engine) Backfill(ctx context.Context, since float64) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	events, err := e.store.Events(ctx, event.Query{After: since})
	if err != nil {
		return 0, fmt.Errorf("backfill: %w", err)
	}
	return e.merge(events), nil
}

// Timeline returns the current snapshot. Callers must not modify it.
func (e *Engine) Timeline() *window.HourlyTimeline {
	return e.timeline.Load()
}

// Hourly returns the hours overlapping [after, before) restricted to cameras
// and expr. Empty cameras and nil expr select everything.
func (e *Engine) Hourly(after, before float64, cameras []string, expr filter.Expr) *window.HourlyTimeline {
	tl := e.Timeline().Range(after, before)
	if len(cameras) == 0 && expr == nil {
		return tl
	}
	q := event.Query{Cameras: cameras}
	match := filter.Predicate(expr)
	return tl.Filter(func(ev event.Event) bool { return q.Matches(ev) && match(ev) })
}

// Events answers q from the live timeline, reaching into the archive when
// the query starts before the live window.
func (e *Engine) Events(ctx context.Context, q event.Query) ([]event.Event, error) {
	tl := e.Timeline()
	live := tl.Flatten()
	if e.store == nil || (tl.Count > 0 && q.After >= tl.Start) {
		return q.Filter(live), nil
	}

	archived, err := e.store.Events(ctx, event.Query{SourceID: q.SourceID, Cameras: q.Cameras, After: q.After, Before: q.Before})
	if err != nil {
		return nil, fmt.Errorf("archive query: %w", err)
	}
	merged := window.Bucket(append(archived, live...))
	return q.Filter(merged.Flatten()), nil
}

// CardsView is the review grid: cards newest first plus their day index.
type CardsView struct {
	Cards []cards.Card `json:"cards"`
	Days  []string     `json:"days"`
	Index *cards.Index `json:"-"`
	Total int          `json:"total"`

	// Unindexed counts cards without a source id; they appear in no day.
	Unindexed int `json:"unindexed,omitempty"`
}

// Cards groups the selected events into review cards. A nil loc uses the
// configured timezone.
func (e *Engine) Cards(after, before float64, cameras []string, expr filter.Expr, loc *time.Location) CardsView {
	s := e.settings.Load()
	if loc == nil {
		loc = s.loc
	}
	grouped := cards.Group(e.Hourly(after, before, cameras, expr).Flatten())
	metrics.CardsBuilt.Add(float64(len(grouped)))

	idx := cards.IndexByDay(grouped, loc)
	ordered := idx.Cards(cards.NewestFirst)
	total := len(ordered)
	if len(ordered) > s.maxCards {
		ordered = ordered[:s.maxCards]
	}
	days := idx.Outer()
	if days == nil {
		days = []string{}
	}
	slices.Reverse(days)
	return CardsView{Cards: ordered, Days: days, Index: idx, Total: total, Unindexed: idx.Skipped()}
}

// ScrubberView is the track for one tracked subject.
type ScrubberView struct {
	SourceID string           `json:"source_id"`
	Items    []scrubber.Item  `json:"items"`
	Window   *scrubber.Window `json:"window,omitempty"`
}

// Scrubber projects the events of sourceID onto a scrubber track.
func (e *Engine) Scrubber(ctx context.Context, sourceID string) (ScrubberView, error) {
	events, err := e.Events(ctx, event.Query{SourceID: sourceID})
	if err != nil {
		return ScrubberView{}, err
	}
	sorted := scrubber.SortChronological(events)
	view := ScrubberView{SourceID: sourceID, Items: scrubber.Project(sorted)}
	if w, ok := scrubber.Bounds(sorted); ok {
		view.Window = &w
	}
	return view, nil
}

type clipKey struct{ camera, src string }

func keyOf(p event.Preview) clipKey { return clipKey{p.Camera, p.Src} }

// SetCatalogue replaces the clips listed from object storage. Clips added
// with AddPreviews are kept and win over a catalogue clip with the same
// camera and src.
func (e *Engine) SetCatalogue(previews []event.Preview) {
	e.prevMu.Lock()
	defer e.prevMu.Unlock()
	e.catalogue = lo.SliceToMap(previews, func(p event.Preview) (clipKey, event.Preview) {
		return keyOf(p), p
	})
	e.publishPreviews()
}

// AddPreviews validates and merges clips into the preview set, replacing any
// with the same camera and src. It returns the number of clips stored.
func (e *Engine) AddPreviews(previews []event.Preview) (int, error) {
	var errs []error
	for _, p := range previews {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}

	e.prevMu.Lock()
	defer e.prevMu.Unlock()
	if e.registered == nil {
		e.registered = make(map[clipKey]event.Preview, len(previews))
	}
	for _, p := range previews {
		e.registered[keyOf(p)] = p
	}
	e.publishPreviews()
	return len(previews), nil
}

// publishPreviews stores the sorted union of both sets. Callers hold prevMu.
func (e *Engine) publishPreviews() {
	byKey := maps.Clone(e.catalogue)
	if byKey == nil {
		byKey = make(map[clipKey]event.Preview, len(e.registered))
	}
	maps.Copy(byKey, e.registered)
	ps := lo.Values(byKey)
	slices.SortFunc(ps, comparePreviews)
	e.previews.Store(&ps)
	e.logOverlaps(ps)
}

func comparePreviews(a, b event.Preview) int {
	return cmp.Or(cmp.Compare(a.Camera, b.Camera), cmp.Compare(a.Start, b.Start), cmp.Compare(a.Src, b.Src))
}

func (e *Engine) logOverlaps(ps []event.Preview) {
	for _, pair := range preview.Overlapping(ps) {
		slog.Warn("overlapping preview clips", "camera", pair[0].Camera, "first", pair[0].Src, "second", pair[1].Src)
	}
}

// Previews lists clips on camera (all when empty) overlapping [after, before).
func (e *Engine) Previews(camera string, after, before float64) []event.Preview {
	return lo.Filter(*e.previews.Load(), func(p event.Preview, _ int) bool {
		if camera != "" && p.Camera != camera {
			return false
		}
		if after > 0 && p.End < after {
			return false
		}
		return before <= 0 || p.Start < before
	})
}

// ResolvePreview finds the clip covering tsMillis on camera.
func (e *Engine) ResolvePreview(camera string, tsMillis float64) (event.Preview, bool) {
	p, ok := preview.ResolveMillis(*e.previews.Load(), camera, tsMillis)
	if ok {
		metrics.PreviewResolves.WithLabelValues("hit").Inc()
	} else {
		metrics.PreviewResolves.WithLabelValues("miss").Inc()
	}
	return p, ok
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// Shutdown stops accepting batches and drains the pool.
func (e *Engine) Shutdown() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.pool.Drain()
}
