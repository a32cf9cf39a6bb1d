// Package serialization provides a registry-based system for serializing and deserializing
// domain events in the event bus infrastructure. It acts as a translation layer between
// domain objects and their protobuf wire format.
//
// Payloads are encoded as google.protobuf.Struct messages inside an envelope Struct
// that also carries the event type, key, headers and timestamp, so consumers in any
// language can decode them with the well-known types alone.
package serialization

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/domain/events"
)

// ErrNilEvent indicates that a nil payload was provided for serialization.
var ErrNilEvent = errors.New("nil event payload")

// SerializeFunc converts a domain object into its protobuf Struct form.
type SerializeFunc func(payload any) (*structpb.Struct, error)

// DeserializeFunc converts a protobuf Struct back into a domain object.
type DeserializeFunc func(data *structpb.Struct) (any, error)

// Registries map event types to their serialization functions.
var (
	registryMu           sync.RWMutex
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	deserializerRegistry[eventType] = fn
}

func init() {
	RegisterEventSerializers()
}

// RegisterEventSerializers registers handlers for all supported event types.
func RegisterEventSerializers() {
	for _, t := range []events.EventType{
		analysis.EventTypeTaskStarted,
		analysis.EventTypeTaskProgressed,
		analysis.EventTypeTaskFinished,
	} {
		RegisterSerializeFunc(t, serializeTaskEvent)
		RegisterDeserializeFunc(t, deserializeTaskEvent)
	}
}

// SerializeEventEnvelope encodes evt, including its payload, as protobuf bytes.
func SerializeEventEnvelope(evt events.EventEnvelope) ([]byte, error) {
	if evt.Payload == nil {
		return nil, ErrNilEvent
	}

	registryMu.RLock()
	fn, ok := serializerRegistry[evt.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", evt.Type)
	}

	payload, err := fn(evt.Payload)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]any, len(evt.Headers))
	for k, v := range evt.Headers {
		headers[k] = v
	}
	hs, err := structpb.NewStruct(headers)
	if err != nil {
		return nil, fmt.Errorf("encoding headers: %w", err)
	}

	envelope := &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":      structpb.NewStringValue(string(evt.Type)),
		"key":       structpb.NewStringValue(evt.Key),
		"timestamp": structpb.NewStringValue(evt.Timestamp.UTC().Format(time.RFC3339Nano)),
		"headers":   structpb.NewStructValue(hs),
		"payload":   structpb.NewStructValue(payload),
	}}
	return proto.Marshal(envelope)
}

// DeserializeEventEnvelope decodes bytes produced by SerializeEventEnvelope.
func DeserializeEventEnvelope(data []byte) (events.EventEnvelope, error) {
	var envelope structpb.Struct
	if err := proto.Unmarshal(data, &envelope); err != nil {
		return events.EventEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	fields := envelope.GetFields()

	evt := events.EventEnvelope{
		Type: events.EventType(fields["type"].GetStringValue()),
		Key:  fields["key"].GetStringValue(),
	}
	if ts := fields["timestamp"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return events.EventEnvelope{}, fmt.Errorf("parse timestamp: %w", err)
		}
		evt.Timestamp = t
	}
	if hs := fields["headers"].GetStructValue(); hs != nil && len(hs.GetFields()) > 0 {
		evt.Headers = make(map[string]string, len(hs.GetFields()))
		for k, v := range hs.GetFields() {
			evt.Headers[k] = v.GetStringValue()
		}
	}

	registryMu.RLock()
	fn, ok := deserializerRegistry[evt.Type]
	registryMu.RUnlock()
	if !ok {
		return events.EventEnvelope{}, fmt.Errorf("no deserializer registered for eventType=%s", evt.Type)
	}
	payload, err := fn(fields["payload"].GetStructValue())
	if err != nil {
		return events.EventEnvelope{}, err
	}
	evt.Payload = payload
	return evt, nil
}
