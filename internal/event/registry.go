package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Decoder turns raw payload JSON into a Payload for the given class type.
type Decoder func(classType string, raw json.RawMessage) (Payload, error)

// Registry maps class types to payload decoders.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// DefaultRegistry knows the object and audio class types.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(decodeObject,
		ClassVisible, ClassActive, ClassStationary, ClassGone,
		ClassEnteredZone, ClassAttribute, ClassExternal)
	r.Register(decodeAudio, ClassHeard)
	return r
}

// Register binds a decoder to one or more class types. Panics on duplicate
// class type to surface misconfiguration early.
func (r *Registry) Register(d Decoder, classTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ct := range classTypes {
		if _, exists := r.decoders[ct]; exists {
			panic(fmt.Sprintf("payload registry: duplicate class type %q", ct))
		}
		r.decoders[ct] = d
	}
}

// Decode never fails: missing data yields nil, and anything the registered
// decoder rejects is kept as an UnknownPayload.
func (r *Registry) Decode(classType string, raw json.RawMessage) Payload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	r.mu.RLock()
	d, ok := r.decoders[classType]
	r.mu.RUnlock()
	if ok {
		if p, err := d(classType, trimmed); err == nil {
			return p
		}
	}
	return &UnknownPayload{ClassType: classType, Raw: append(json.RawMessage(nil), trimmed...)}
}

// ClassTypes returns the registered class types in sorted order.
func (r *Registry) ClassTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.decoders))
	for k := range r.decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func decodeObject(classType string, raw json.RawMessage) (Payload, error) {
	p := &ObjectPayload{ClassType: classType}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", classType, err)
	}
	return p, nil
}

func decodeAudio(classType string, raw json.RawMessage) (Payload, error) {
	p := &AudioPayload{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", classType, err)
	}
	return p, nil
}
