package event

import "encoding/json"

// Payload is the class-specific data attached to an event. The concrete type
// is chosen by class_type; unrecognised class types decode to UnknownPayload.
type Payload interface {
	Kind() string
	Label() string
	Zones() []string
}

// Class types known to the decoder.
const (
	ClassVisible     = "visible"
	ClassActive      = "active"
	ClassStationary  = "stationary"
	ClassGone        = "gone"
	ClassEnteredZone = "entered_zone"
	ClassAttribute   = "attribute"
	ClassExternal    = "external"
	ClassHeard       = "heard"
)

// ObjectPayload describes a tracked object observation.
type ObjectPayload struct {
	ClassType string     `json:"-" cbor:"-"`
	ObjLabel  string     `json:"label"`
	SubLabel  string     `json:"sub_label,omitempty"`
	Box       [4]float64 `json:"box"`
	Region    [4]float64 `json:"region"`
	ObjZones  []string   `json:"zones,omitempty"`
	Attribute string     `json:"attribute,omitempty"`
}

func (p *ObjectPayload) Kind() string    { return p.ClassType }
func (p *ObjectPayload) Label() string   { return p.ObjLabel }
func (p *ObjectPayload) Zones() []string { return p.ObjZones }

// AudioPayload describes an audio detection.
type AudioPayload struct {
	AudioLabel string   `json:"label"`
	Score      float64  `json:"score,omitempty"`
	AudioZones []string `json:"zones,omitempty"`
}

func (p *AudioPayload) Kind() string    { return ClassHeard }
func (p *AudioPayload) Label() string   { return p.AudioLabel }
func (p *AudioPayload) Zones() []string { return p.AudioZones }

// UnknownPayload keeps the raw bytes of a payload whose class type has no
// registered decoder, or whose data did not fit the registered shape.
type UnknownPayload struct {
	ClassType string          `json:"-" cbor:"-"`
	Raw       json.RawMessage `json:"-" cbor:"raw"`
}

func (p *UnknownPayload) Kind() string    { return p.ClassType }
func (p *UnknownPayload) Label() string   { return "" }
func (p *UnknownPayload) Zones() []string { return nil }

// MarshalJSON writes the original bytes back out.
func (p *UnknownPayload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("null"), nil
	}
	return p.Raw, nil
}
