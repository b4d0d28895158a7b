package event

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts the event into a protobuf Struct.
// Params: withTimestamp includes the timestamp field when true.
// Returns: struct value; numbers become float64 per structpb.
func (e Event) ToStruct(withTimestamp bool) (*structpb.Struct, error) {
	pairs := e.Pairs()
	fields := make(map[string]*structpb.Value, pairs.Len())
	for _, key := range pairs.keys {
		if key == FieldTimestamp && !withTimestamp {
			continue
		}
		converted, err := structpb.NewValue(pairs.values[key].Interface())
		if err != nil {
			return nil, fmt.Errorf("convert field %q: %w", key, err)
		}
		fields[key] = converted
	}
	return &structpb.Struct{Fields: fields}, nil
}

// Fingerprint returns deterministic bytes identifying the event content without its timestamp.
// Params: none.
// Returns: deterministic protobuf encoding or conversion error.
func (e Event) Fingerprint() ([]byte, error) {
	st, err := e.ToStruct(false)
	if err != nil {
		return nil, err
	}
	encoded, err := proto.MarshalOptions{Deterministic: true}.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal fingerprint: %w", err)
	}
	return encoded, nil
}

// Dedupe drops events whose content repeats an earlier one, timestamps ignored.
// Params: events in submission order.
// Returns: first occurrence of each distinct event, number dropped, or fingerprint error.
func Dedupe(events []Event) ([]Event, int, error) {
	seen := make(map[string]struct{}, len(events))
	out := make([]Event, 0, len(events))
	for idx, item := range events {
		raw, err := item.Fingerprint()
		if err != nil {
			return nil, 0, fmt.Errorf("event[%d]: %w", idx, err)
		}
		key := string(raw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out, len(events) - len(out), nil
}
