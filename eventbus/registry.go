package eventbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Codec encodes and decodes one event type at one schema version.
type Codec interface {
	Encode(event any) ([]byte, error)
	Decode(payload []byte) (any, error)
}

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(event any) ([]byte, error) {
	v, ok := event.(T)
	if !ok {
		return nil, fmt.Errorf("eventbus: event is %T, codec expects %T", event, *new(T))
	}
	return json.Marshal(v)
}

func (jsonCodec[T]) Decode(payload []byte) (any, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// JSONCodec builds a strict JSON codec for T. Unknown fields fail decoding,
// which is what routes malformed payloads to the dead-letter channel.
func JSONCodec[T any]() Codec {
	return jsonCodec[T]{}
}

type schemaKey struct {
	eventType string
	version   string
}

// SchemaRegistry maps (eventType, version) to a codec. A channel can only
// be created for a registered pair; the failure happens at wiring time, not
// at first publish.
type SchemaRegistry struct {
	mu     sync.RWMutex
	codecs map[schemaKey]Codec
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{codecs: make(map[schemaKey]Codec)}
}

// Register binds a codec to (eventType, version), replacing any prior
// binding.
func (r *SchemaRegistry) Register(eventType, version string, codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[schemaKey{eventType, version}] = codec
}

// Lookup resolves the codec for (eventType, version).
func (r *SchemaRegistry) Lookup(eventType, version string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codec, ok := r.codecs[schemaKey{eventType, version}]
	return codec, ok
}
