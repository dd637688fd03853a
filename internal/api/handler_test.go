package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gyaneshwarpardhi/camreview/internal/codec"
	"github.com/gyaneshwarpardhi/camreview/internal/config"
	"github.com/gyaneshwarpardhi/camreview/internal/engine"
	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

type memArchive struct{ saved []event.Preview }

func (m *memArchive) SavePreviews(_ context.Context, ps []event.Preview) error {
	m.saved = append(m.saved, ps...)
	return nil
}

func newServer(t *testing.T) (http.Handler, *engine.Engine, *memArchive) {
	t.Helper()
	eng := engine.New(context.Background(), config.EngineConf{IngestWorkers: 1, QueueDepth: 8, IngestTimeoutMs: 2000}, nil)
	t.Cleanup(eng.Shutdown)
	archive := &memArchive{}
	return New(eng, nil, archive), eng, archive
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const sampleBatch = `[
	{"camera":"front","timestamp":100,"class_type":"visible","source_id":"a","data":{"label":"person"}},
	{"camera":"front","timestamp":105,"class_type":"gone","source_id":"a"},
	{"camera":"back","timestamp":3700,"class_type":"visible","source_id":"b","data":{"label":"car"}}
]`

func ingest(t *testing.T, h http.Handler) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/timeline?wait=true", sampleBatch)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d body=%s", rec.Code, rec.Body)
	}
}

func TestIngest(t *testing.T) {
	h, eng, _ := newServer(t)

	rec := do(t, h, http.MethodPost, "/v1/timeline?wait=true", sampleBatch)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var res engine.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Accepted != 3 || res.Origin != event.SourceAPI {
		t.Fatalf("result = %+v", res)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}

	rec = do(t, h, http.MethodPost, "/v1/timeline", `[{"camera":"side","timestamp":7300,"class_type":"visible","source_id":"c"}]`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("async status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"job_id"`) {
		t.Errorf("async body = %s", rec.Body)
	}
	eng.Shutdown()
	if got := eng.Timeline().Count; got != 4 {
		t.Errorf("timeline count after drain = %d, want 4", got)
	}
}

func TestIngestRejects(t *testing.T) {
	h, _, _ := newServer(t)
	cases := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"empty", `[]`, http.StatusBadRequest},
		{"too large", "[" + strings.TrimSuffix(strings.Repeat(`{"camera":"a","timestamp":1,"class_type":"visible"},`, maxBatchSize+1), ",") + "]", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, "/v1/timeline", tc.body); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestHourly(t *testing.T) {
	h, _, _ := newServer(t)
	ingest(t, h)

	rec := do(t, h, http.MethodGet, "/v1/timeline/hourly?cameras=front", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var tl struct {
		Start float64                      `json:"start"`
		End   float64                      `json:"end"`
		Count int                          `json:"count"`
		Hours map[string][]json.RawMessage `json:"hours"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tl); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tl.Count != 2 || tl.Start != 100 || tl.End != 105 || len(tl.Hours["0"]) != 2 {
		t.Fatalf("hourly = %+v", tl)
	}

	rec = do(t, h, http.MethodGet, "/v1/timeline/hourly?filter=label+%3D%3D+%22car%22", "")
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("filtered = %s", rec.Body)
	}

	for _, q := range []string{"label+%3D%3D", "camera+%3D%3D+5", "timestamp+%3E+%22soon%22"} {
		if rec := do(t, h, http.MethodGet, "/v1/timeline/hourly?filter="+q, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("filter %s status = %d", q, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodGet, "/v1/timeline/hourly?after=soon", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad after status = %d", rec.Code)
	}
}

func TestHourlyCBOR(t *testing.T) {
	h, eng, _ := newServer(t)
	ingest(t, h)

	req := httptest.NewRequest(http.MethodGet, "/v1/timeline/hourly", nil)
	req.Header.Set("Accept", codec.ContentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != codec.ContentType {
		t.Fatalf("content type = %q", ct)
	}
	want, err := codec.Marshal(eng.Hourly(0, 0, nil, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if rec.Body.String() != string(want) {
		t.Fatal("CBOR response differs from deterministic encoding")
	}
}

func TestEventsAndScrubber(t *testing.T) {
	h, _, _ := newServer(t)
	ingest(t, h)

	rec := do(t, h, http.MethodGet, "/v1/timeline?source_id=a&limit=1", "")
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("events = %s", rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/v1/timeline?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/scrubber?source_id=a", "")
	var view engine.ScrubberView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Items) != 2 || view.Window == nil || view.Window.Start != 99990 || view.Window.End != 105010 {
		t.Fatalf("scrubber = %+v", view)
	}
	if rec := do(t, h, http.MethodGet, "/v1/scrubber", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing source_id status = %d", rec.Code)
	}
}

func TestCards(t *testing.T) {
	h, _, _ := newServer(t)
	ingest(t, h)

	rec := do(t, h, http.MethodGet, "/v1/review/cards?tz=America/New_York", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var view struct {
		Cards []struct {
			Camera   string   `json:"camera"`
			SourceID string   `json:"source_id"`
			Labels   []string `json:"labels"`
		} `json:"cards"`
		Days  []string `json:"days"`
		Total int      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Total != 2 || view.Cards[0].SourceID != "b" || view.Cards[1].Camera != "front" {
		t.Fatalf("cards = %+v", view)
	}
	if len(view.Days) != 1 || view.Days[0] != "1969-12-31" {
		t.Fatalf("days = %v", view.Days)
	}
	if rec := do(t, h, http.MethodGet, "/v1/review/cards?tz=Mars/Base", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad tz status = %d", rec.Code)
	}
}

func TestPreviews(t *testing.T) {
	h, _, archive := newServer(t)

	rec := do(t, h, http.MethodPost, "/v1/previews", `[
		{"camera":"front","src":"front/0-60.mp4","type":"video/mp4","start":0,"end":60},
		{"camera":"front","src":"front/60-120.mp4","type":"video/mp4","start":60,"end":120}
	]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d body=%s", rec.Code, rec.Body)
	}
	if len(archive.saved) != 2 {
		t.Fatalf("archived %d previews", len(archive.saved))
	}
	if rec := do(t, h, http.MethodPost, "/v1/previews", `[{"camera":"front","src":"x","start":9,"end":1}]`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid preview status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/previews/resolve?camera=front&ts=90000", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "front/60-120.mp4") {
		t.Fatalf("resolve = %d %s", rec.Code, rec.Body)
	}
	rec = do(t, h, http.MethodGet, "/v1/previews/resolve?camera=back&ts=90000", "")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("miss = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/v1/previews/resolve?camera=front", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing ts status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/previews?camera=front&after=100", "")
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("list = %s", rec.Body)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h, _, _ := newServer(t)
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ready"`) {
		t.Fatalf("readyz = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodPost, "/v1/config/reload", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("reload without loader = %d", rec.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	h, _, _ := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestReloadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camreview.yaml")
	if err := os.WriteFile(path, []byte("review:\n  max_cards: 10\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	loader, err := config.NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	eng := engine.New(context.Background(), config.EngineConf{IngestWorkers: 1, QueueDepth: 8}, nil)
	t.Cleanup(eng.Shutdown)
	h := New(eng, loader, &memArchive{})

	if rec := do(t, h, http.MethodPost, "/v1/config/reload", ""); rec.Code != http.StatusOK {
		t.Fatalf("reload status = %d body=%s", rec.Code, rec.Body)
	}

	if err := os.WriteFile(path, []byte("store:\n  driver: mysql\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	rec := do(t, h, http.MethodPost, "/v1/config/reload", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid reload status = %d body=%s", rec.Code, rec.Body)
	}
	if cfg := loader.Config(); cfg.Store.Driver != "sqlite" || cfg.Review.MaxCards != 10 {
		t.Fatalf("invalid file replaced config: %+v", cfg)
	}
}
