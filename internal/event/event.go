package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Source values reported by the backend.
const (
	SourceTrackedObject = "tracked_object"
	SourceAudio         = "audio"
	SourceAPI           = "api"
)

// MaxTimestamp is the exclusive upper bound on event timestamps. Below it
// hour arithmetic on float64 seconds is exact and fits an int64 key.
const MaxTimestamp float64 = 1 << 53

// Event is one timeline entry for a camera: a detection, a zone change, an
// audio hit. Events are immutable once received.
type Event struct {
	Camera    string  `json:"camera"`
	Timestamp float64 `json:"timestamp"` // seconds since epoch, fractional
	Data      Payload `json:"data"`
	ClassType string  `json:"class_type"`
	SourceID  string  `json:"source_id"` // correlation key for one tracked subject
	Source    string  `json:"source"`
}

// Label returns the payload label, or "" when the payload carries none.
func (e Event) Label() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.Label()
}

// Zones returns the payload zones.
func (e Event) Zones() []string {
	if e.Data == nil {
		return nil
	}
	return e.Data.Zones()
}

// Validate reports malformed events. Well-formed but odd input (duplicates,
// disorder) is not an error.
func (e Event) Validate() error {
	var errs []error
	if e.Camera == "" {
		errs = append(errs, errors.New("camera is required"))
	}
	if e.ClassType == "" {
		errs = append(errs, errors.New("class_type is required"))
	}
	if math.IsNaN(e.Timestamp) || e.Timestamp < 0 || e.Timestamp >= MaxTimestamp {
		errs = append(errs, fmt.Errorf("timestamp %v must be in [0, %v)", e.Timestamp, MaxTimestamp))
	}
	if len(errs) > 0 {
		return fmt.Errorf("event %s/%s: %w", e.Camera, e.SourceID, errors.Join(errs...))
	}
	return nil
}

// wireEvent is Event with the payload left undecoded.
type wireEvent struct {
	Camera    string          `json:"camera"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ClassType string          `json:"class_type"`
	SourceID  string          `json:"source_id"`
	Source    string          `json:"source"`
}

// UnmarshalJSON decodes the payload through DefaultRegistry, keyed by class_type.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = Event{
		Camera:    w.Camera,
		Timestamp: w.Timestamp,
		ClassType: w.ClassType,
		SourceID:  w.SourceID,
		Source:    w.Source,
		Data:      DefaultRegistry.Decode(w.ClassType, w.Data),
	}
	return nil
}

// Preview is a recorded preview clip covering [Start, End] on one camera.
type Preview struct {
	Camera string  `json:"camera"`
	Src    string  `json:"src"`
	Type   string  `json:"type"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
}

// Validate checks the clip interval.
func (p Preview) Validate() error {
	if p.Camera == "" {
		return errors.New("preview: camera is required")
	}
	if p.Start > p.End {
		return fmt.Errorf("preview %s: start %v is after end %v", p.Src, p.Start, p.End)
	}
	return nil
}

// Covers reports whether ts falls inside the clip, bounds inclusive.
func (p Preview) Covers(ts float64) bool {
	return p.Start <= ts && ts <= p.End
}
