package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/camreview/internal/config"
	"github.com/gyaneshwarpardhi/camreview/internal/event"
	"github.com/gyaneshwarpardhi/camreview/internal/filter"
)

type memStore struct {
	mu     sync.Mutex
	events []event.Event
	saves  int
}

func (m *memStore) SaveEvents(_ context.Context, events []event.Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.events = append(m.events, events...)
	return len(events), nil
}

func (m *memStore) Events(_ context.Context, q event.Query) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return q.Filter(m.events), nil
}

func testConf() config.EngineConf {
	return config.EngineConf{IngestWorkers: 2, QueueDepth: 16, IngestTimeoutMs: 2000}
}

func newTestEngine(t *testing.T, st Store) *Engine {
	t.Helper()
	e := New(context.Background(), testConf(), st)
	t.Cleanup(e.Shutdown)
	return e
}

func ev(camera string, ts float64, sourceID, classType string) event.Event {
	return event.Event{Camera: camera, Timestamp: ts, SourceID: sourceID, ClassType: classType}
}

func TestIngestSyncMergesAndDedups(t *testing.T) {
	st := &memStore{}
	e := newTestEngine(t, st)
	ctx := context.Background()

	res, err := e.IngestSync(ctx, "api", []event.Event{
		ev("front", 100, "a", event.ClassVisible),
		ev("front", 4000, "a", event.ClassGone),
		ev("", 50, "x", event.ClassVisible),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Received != 3 || res.Accepted != 2 || len(res.Invalid) != 1 {
		t.Fatalf("result = %+v", res)
	}

	res, err = e.IngestSync(ctx, "kafka", []event.Event{ev("front", 100, "a", event.ClassVisible)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Accepted != 0 || res.Duplicates != 1 {
		t.Fatalf("duplicate result = %+v", res)
	}

	tl := e.Timeline()
	if tl.Count != 2 || tl.Len() != 2 {
		t.Fatalf("timeline count=%d hours=%d", tl.Count, tl.Len())
	}
	if err := tl.Check(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if st.saves != 1 {
		t.Errorf("store saves = %d, want 1 (duplicate batch not persisted)", st.saves)
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	if _, err := e.IngestSync(ctx, "api", []event.Event{ev("front", 10, "a", event.ClassVisible)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	before := e.Timeline()

	if _, err := e.IngestSync(ctx, "api", []event.Event{ev("front", 5, "a", event.ClassActive)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if before.Count != 1 || len(before.Hours["0"]) != 1 {
		t.Fatalf("old snapshot changed: %+v", before)
	}
	if after := e.Timeline(); after.Count != 2 || after.Start != 5 {
		t.Fatalf("new snapshot = %+v", after)
	}
}

func TestRetentionEvictsOldHours(t *testing.T) {
	conf := testConf()
	conf.RetentionHours = 1
	e := New(context.Background(), conf, nil)
	t.Cleanup(e.Shutdown)
	e.now = func() time.Time { return time.Unix(10*3600, 0) }

	ctx := context.Background()
	res, err := e.IngestSync(ctx, "api", []event.Event{
		ev("front", 100, "old", event.ClassVisible),
		ev("front", 9.5*3600, "new", event.ClassVisible),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Accepted != 2 {
		t.Fatalf("result = %+v", res)
	}
	tl := e.Timeline()
	if tl.Count != 1 || tl.Start != 9.5*3600 || tl.End != 9.5*3600 {
		t.Fatalf("timeline = %+v", tl)
	}
	if err := tl.Check(); err != nil {
		t.Fatalf("invariants: %v", err)
	}

	e.now = func() time.Time { return time.Unix(12*3600, 0) }
	if _, err := e.IngestSync(ctx, "api", []event.Event{ev("front", 11.5*3600, "late", event.ClassVisible)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if tl := e.Timeline(); tl.Count != 1 || tl.Flatten()[0].SourceID != "late" {
		t.Fatalf("timeline after second cutoff = %+v", tl)
	}
}

func TestIngestAsyncQueueFull(t *testing.T) {
	// No workers: the queue only fills.
	e := New(context.Background(), config.EngineConf{QueueDepth: 1, IngestTimeoutMs: 10}, nil)
	defer e.Shutdown()

	if err := e.IngestAsync("api", []event.Event{ev("a", 1, "s", event.ClassVisible)}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	err := e.IngestAsync("api", []event.Event{ev("a", 2, "s", event.ClassVisible)})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if u := e.QueueUtilization(); u != 1 {
		t.Errorf("utilization = %v, want 1", u)
	}
}

func TestIngestAfterShutdown(t *testing.T) {
	e := New(context.Background(), testConf(), nil)
	e.Shutdown()
	e.Shutdown()
	if err := e.IngestAsync("api", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestBackfillAndArchiveQuery(t *testing.T) {
	st := &memStore{events: []event.Event{
		ev("front", 100, "old", event.ClassVisible),
		ev("front", 7300, "new", event.ClassVisible),
	}}
	e := newTestEngine(t, st)
	ctx := context.Background()

	n, err := e.Backfill(ctx, 3600)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if n != 1 || e.Timeline().Count != 1 {
		t.Fatalf("backfilled %d, timeline count %d", n, e.Timeline().Count)
	}

	live, err := e.Events(ctx, event.Query{After: 7200})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(live) != 1 || live[0].SourceID != "new" {
		t.Fatalf("live query = %+v", live)
	}

	all, err := e.Events(ctx, event.Query{})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(all) != 2 || all[0].SourceID != "old" || all[1].SourceID != "new" {
		t.Fatalf("archive query = %+v", all)
	}
}

func TestHourlyFilters(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.IngestSync(context.Background(), "api", []event.Event{
		ev("front", 100, "a", event.ClassVisible),
		ev("back", 200, "b", event.ClassVisible),
		ev("front", 4000, "c", event.ClassGone),
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	expr, err := filter.Parse(`class_type == "gone"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := []struct {
		name    string
		after   float64
		before  float64
		cameras []string
		expr    filter.Expr
		want    int
	}{
		{"everything", 0, 0, nil, nil, 3},
		{"first hour", 0, 3600, nil, nil, 2},
		{"camera", 0, 0, []string{"front"}, nil, 2},
		{"expression", 0, 0, nil, expr, 1},
		{"camera and range", 3600, 0, []string{"back"}, nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.Hourly(tc.after, tc.before, tc.cameras, tc.expr)
			if got.Count != tc.want {
				t.Errorf("count = %d, want %d", got.Count, tc.want)
			}
		})
	}
}

func TestCardsNewestFirstAndCapped(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.IngestSync(context.Background(), "api", []event.Event{
		ev("front", 100, "a", event.ClassVisible),
		ev("front", 110, "a", event.ClassGone),
		ev("back", 90000, "b", event.ClassVisible),
		ev("side", 200000, "c", event.ClassVisible),
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	view := e.Cards(0, 0, nil, nil, nil)
	if view.Total != 3 || len(view.Cards) != 3 {
		t.Fatalf("view = %+v", view)
	}
	if view.Cards[0].SourceID != "c" || view.Cards[2].SourceID != "a" {
		t.Fatalf("order = %s,%s,%s", view.Cards[0].SourceID, view.Cards[1].SourceID, view.Cards[2].SourceID)
	}
	wantDays := []string{"1970-01-03", "1970-01-02", "1970-01-01"}
	for i, d := range wantDays {
		if view.Days[i] != d {
			t.Errorf("day %d = %s, want %s", i, view.Days[i], d)
		}
	}

	if err := e.SetReview(config.ReviewConf{MaxCards: 1}); err != nil {
		t.Fatalf("set review: %v", err)
	}
	view = e.Cards(0, 0, nil, nil, nil)
	if view.Total != 3 || len(view.Cards) != 1 || view.Cards[0].SourceID != "c" {
		t.Fatalf("capped view = %+v", view)
	}

	if err := e.SetReview(config.ReviewConf{Timezone: "Not/AZone"}); err == nil {
		t.Fatal("expected bad timezone error")
	}
}

func TestCardsCountsUnindexed(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.IngestSync(context.Background(), "api", []event.Event{
		ev("front", 100, "a", event.ClassVisible),
		ev("front", 200, "", event.ClassVisible),
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	view := e.Cards(0, 0, nil, nil, nil)
	if view.Total != 1 || view.Unindexed != 1 {
		t.Fatalf("view total=%d unindexed=%d", view.Total, view.Unindexed)
	}
}

func TestScrubberView(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	if _, err := e.IngestSync(ctx, "api", []event.Event{
		ev("front", 2, "a", event.ClassGone),
		ev("front", 1, "a", event.ClassVisible),
		ev("front", 5, "b", event.ClassVisible),
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	view, err := e.Scrubber(ctx, "a")
	if err != nil {
		t.Fatalf("scrubber: %v", err)
	}
	if len(view.Items) != 2 || view.Items[0].Content != event.ClassVisible || view.Items[0].Start != 1000 {
		t.Fatalf("items = %+v", view.Items)
	}
	if view.Window == nil || view.Window.Start != 990 || view.Window.End != 2010 {
		t.Fatalf("window = %+v", view.Window)
	}

	empty, err := e.Scrubber(ctx, "missing")
	if err != nil {
		t.Fatalf("scrubber: %v", err)
	}
	if len(empty.Items) != 0 || empty.Window != nil {
		t.Fatalf("empty view = %+v", empty)
	}
}

func TestPreviews(t *testing.T) {
	e := newTestEngine(t, nil)
	n, err := e.AddPreviews([]event.Preview{
		{Camera: "front", Src: "front/0-60.mp4", Start: 0, End: 60},
		{Camera: "front", Src: "front/60-120.mp4", Start: 60, End: 120},
	})
	if err != nil || n != 2 {
		t.Fatalf("add: n=%d err=%v", n, err)
	}
	if _, err := e.AddPreviews([]event.Preview{{Camera: "front", Src: "bad", Start: 10, End: 5}}); err == nil {
		t.Fatal("expected validation error")
	}

	p, ok := e.ResolvePreview("front", 60_000)
	if !ok || p.Src != "front/0-60.mp4" {
		t.Fatalf("resolve boundary = %+v, %v", p, ok)
	}
	if _, ok := e.ResolvePreview("back", 30_000); ok {
		t.Fatal("resolved clip on unknown camera")
	}

	if _, err := e.AddPreviews([]event.Preview{{Camera: "front", Src: "front/0-60.mp4", Start: 0, End: 30}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := e.Previews("front", 0, 0); len(got) != 2 || got[0].End != 30 {
		t.Fatalf("previews after replace = %+v", got)
	}
	if got := e.Previews("front", 100, 0); len(got) != 1 {
		t.Fatalf("range = %+v", got)
	}

	e.SetCatalogue([]event.Preview{
		{Camera: "back", Src: "back/0-60.mp4", Start: 0, End: 60},
		{Camera: "front", Src: "front/0-60.mp4", Start: 0, End: 60},
	})
	if got := e.Previews("front", 0, 0); len(got) != 2 || got[0].End != 30 {
		t.Fatalf("added clip must win over catalogue: %+v", got)
	}
	if _, ok := e.ResolvePreview("back", 30_000); !ok {
		t.Fatal("catalogue clip not resolvable")
	}

	e.SetCatalogue(nil)
	if _, ok := e.ResolvePreview("back", 30_000); ok {
		t.Fatal("catalogue clip survived an empty listing")
	}
	if p, ok := e.ResolvePreview("front", 90_000); !ok || p.Src != "front/60-120.mp4" {
		t.Fatalf("added clip lost after catalogue reset: %+v, %v", p, ok)
	}
}
