package previews

import (
	"context"
	"errors"
	"testing"

	"github.com/gyaneshwarpardhi/camreview/internal/config"
	"github.com/gyaneshwarpardhi/camreview/internal/engine"
	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

func TestParseKey(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		key    string
		want   event.Preview
	}{
		{"plain", "", "front/100-160.mp4",
			event.Preview{Camera: "front", Src: "front/100-160.mp4", Type: "video/mp4", Start: 100, End: 160}},
		{"fractional", "", "back/1.5-2.25.webm",
			event.Preview{Camera: "back", Src: "back/1.5-2.25.webm", Type: "video/webm", Start: 1.5, End: 2.25}},
		{"prefix", "clips/", "clips/side/0-60.MP4",
			event.Preview{Camera: "side", Src: "clips/side/0-60.MP4", Type: "video/mp4", Start: 0, End: 60}},
		{"prefix without slash", "clips", "clips/side/0-60.m3u8",
			event.Preview{Camera: "side", Src: "clips/side/0-60.m3u8", Type: "application/vnd.apple.mpegurl", Start: 0, End: 60}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseKey(tc.prefix, tc.key)
			if err != nil {
				t.Fatalf("ParseKey: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseKeyRejects(t *testing.T) {
	for _, key := range []string{
		"0-60.mp4",
		"front/0-60",
		"front/start-60.mp4",
		"front/0-end.mp4",
		"front/060.mp4",
		"a/b/0-60.mp4",
	} {
		if _, err := ParseKey("", key); !errors.Is(err, ErrBadKey) {
			t.Errorf("ParseKey(%q) err = %v, want ErrBadKey", key, err)
		}
	}
	if _, err := ParseKey("", "front/60-0.mp4"); err == nil {
		t.Error("expected inverted interval to fail validation")
	}
}

type staticLister struct {
	clips []event.Preview
	err   error
}

func (s staticLister) List(context.Context) ([]event.Preview, error) { return s.clips, s.err }

type recordingTarget struct{ got []event.Preview }

func (r *recordingTarget) SetCatalogue(ps []event.Preview) { r.got = ps }

func TestRefresh(t *testing.T) {
	clips := []event.Preview{{Camera: "front", Src: "front/0-60.mp4", Start: 0, End: 60}}
	target := &recordingTarget{}
	var observed int
	r := NewRefresher(staticLister{clips: clips}, target, 0, func(_ context.Context, ps []event.Preview) {
		observed = len(ps)
	})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(target.got) != 1 || observed != 1 {
		t.Fatalf("target=%v observed=%d", target.got, observed)
	}

	failing := NewRefresher(staticLister{err: errors.New("down")}, target, 0, nil)
	if err := failing.Refresh(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
	if len(target.got) != 1 {
		t.Fatal("failed refresh must keep the previous set")
	}
}

func TestRefreshKeepsRegisteredClips(t *testing.T) {
	eng := engine.New(context.Background(), config.EngineConf{IngestWorkers: 1, QueueDepth: 1}, nil)
	t.Cleanup(eng.Shutdown)
	if _, err := eng.AddPreviews([]event.Preview{{Camera: "back", Src: "back/0-60.mp4", Start: 0, End: 60}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	listed := []event.Preview{{Camera: "front", Src: "front/0-60.mp4", Start: 0, End: 60}}
	r := NewRefresher(staticLister{clips: listed}, eng, 0, nil)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if p, ok := eng.ResolvePreview("back", 30_000); !ok || p.Src != "back/0-60.mp4" {
		t.Fatalf("registered clip lost after refresh: %+v, %v", p, ok)
	}
	if _, ok := eng.ResolvePreview("front", 30_000); !ok {
		t.Fatal("listed clip not resolvable")
	}

	if err := NewRefresher(staticLister{}, eng, 0, nil).Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := eng.ResolvePreview("front", 30_000); ok {
		t.Fatal("clip dropped from the listing still resolves")
	}
	if _, ok := eng.ResolvePreview("back", 30_000); !ok {
		t.Fatal("registered clip lost after empty refresh")
	}
}
