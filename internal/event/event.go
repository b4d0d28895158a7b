package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Reserved field names owned by Event itself.
const (
	FieldEventType = "eventType"
	FieldTimestamp = "timestamp"
)

// Event is one schema-agnostic telemetry record.
// Params: mandatory event type and millisecond timestamp plus open ordered fields.
// Returns: event ready for batch submission.
type Event struct {
	eventType string
	timestamp int64
	fields    Fields
}

// New creates an event with mandatory fields.
// Params: eventType non-empty schema name; at event time.
// Returns: event or validation error for empty type.
func New(eventType string, at time.Time) (Event, error) {
	name := strings.TrimSpace(eventType)
	if name == "" {
		return Event{}, &ValidationError{Field: FieldEventType, Reason: "cannot be empty"}
	}
	return Event{eventType: name, timestamp: at.UnixMilli()}, nil
}

// Type returns the event type.
func (e Event) Type() string { return e.eventType }

// Timestamp returns milliseconds since epoch.
func (e Event) Timestamp() int64 { return e.timestamp }

// Set stores one non-reserved field.
// Params: key field name; value field value.
// Returns: validation error for empty or reserved keys.
func (e *Event) Set(key string, value Value) error {
	if strings.TrimSpace(key) == "" {
		return &ValidationError{Field: "field", Reason: "name cannot be empty"}
	}
	if key == FieldEventType || key == FieldTimestamp {
		return &ValidationError{Field: key, Reason: "is reserved"}
	}
	e.fields.Set(key, value)
	return nil
}

// Get returns one field including the reserved ones.
// Params: key field name.
// Returns: value and presence flag.
func (e Event) Get(key string) (Value, bool) {
	switch key {
	case FieldEventType:
		return String(e.eventType), e.eventType != ""
	case FieldTimestamp:
		return Int(e.timestamp), true
	default:
		return e.fields.Get(key)
	}
}

// Fields returns a copy of the non-reserved fields.
func (e Event) Fields() Fields { return e.fields.clone() }

// Pairs returns every field, reserved ones included, as one mapping.
// Params: none.
// Returns: ordered fields starting with eventType and timestamp.
func (e Event) Pairs() Fields {
	var out Fields
	out.Set(FieldEventType, String(e.eventType))
	out.Set(FieldTimestamp, Int(e.timestamp))
	for _, key := range e.fields.keys {
		out.Set(key, e.fields.values[key])
	}
	return out
}

// MarshalJSON encodes a flat object with eventType and timestamp first.
// Params: none.
// Returns: JSON bytes or field encode error.
func (e Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"eventType":`)
	encodedType, err := json.Marshal(e.eventType)
	if err != nil {
		return nil, fmt.Errorf("encode eventType: %w", err)
	}
	buf.Write(encodedType)
	fmt.Fprintf(&buf, `,"timestamp":%d`, e.timestamp)
	if err := e.fields.appendJSON(&buf, true); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes one event object, preserving field order.
// Params: data JSON object bytes.
// Returns: error when reserved fields are missing or malformed.
func (e *Event) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	value, err := decodeValue(dec)
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	decoded, err := fromValue(value)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// fromValue lifts a decoded object into an Event.
// Params: value decoded JSON object.
// Returns: event or error for missing reserved fields.
func fromValue(value Value) (Event, error) {
	fields, ok := value.Fields()
	if !ok {
		return Event{}, fmt.Errorf("decode event: expected JSON object")
	}

	typeValue, ok := fields.Get(FieldEventType)
	eventType, isString := typeValue.Str()
	if !ok || !isString || strings.TrimSpace(eventType) == "" {
		return Event{}, &ValidationError{Field: FieldEventType, Reason: "missing or not a string"}
	}
	tsValue, ok := fields.Get(FieldTimestamp)
	if !ok || tsValue.Kind() != ValueInt {
		return Event{}, &ValidationError{Field: FieldTimestamp, Reason: "missing or not an integer"}
	}

	out := Event{eventType: eventType, timestamp: tsValue.num}
	for _, key := range fields.keys {
		if key == FieldEventType || key == FieldTimestamp {
			continue
		}
		out.fields.Set(key, fields.values[key])
	}
	return out, nil
}

// ValidationError reports malformed builder or event input.
// Params: Field names the offending input; Reason describes the problem.
// Returns: error value usable with errors.As.
type ValidationError struct {
	Field  string
	Reason string
}

// Error renders the validation failure.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event %s: %s", e.Field, e.Reason)
}
