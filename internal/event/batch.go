package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyBatch is returned when a batch has no events.
	ErrEmptyBatch = errors.New("batch is empty")
	// ErrBatchTooLarge is returned when a batch exceeds the configured maximum.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)

// Batch is an ordered, size-bounded sequence of events submitted together.
// Params: created through NewBatch or Split.
// Returns: immutable batch.
type Batch struct {
	events []Event
}

// NewBatch validates events against max and wraps them.
// Params: events ordered events; max upper bound (<= 0 means unbounded).
// Returns: batch or ErrEmptyBatch/ErrBatchTooLarge.
func NewBatch(events []Event, max int) (Batch, error) {
	if len(events) == 0 {
		return Batch{}, ErrEmptyBatch
	}
	if max > 0 && len(events) > max {
		return Batch{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(events), max)
	}
	copied := make([]Event, len(events))
	copy(copied, events)
	return Batch{events: copied}, nil
}

// Split chunks events into batches of at most max events, preserving order.
// Params: events ordered events; max batch size (> 0).
// Returns: batches or error when events is empty or max is invalid.
func Split(events []Event, max int) ([]Batch, error) {
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}
	if max <= 0 {
		return nil, fmt.Errorf("batch max must be > 0, got %d", max)
	}

	out := make([]Batch, 0, (len(events)+max-1)/max)
	for start := 0; start < len(events); start += max {
		end := start + max
		if end > len(events) {
			end = len(events)
		}
		batch, err := NewBatch(events[start:end], max)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, nil
}

// Len returns the number of events.
func (b Batch) Len() int { return len(b.events) }

// Events returns a copy of the batch events.
func (b Batch) Events() []Event {
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// MarshalJSON encodes the batch as a JSON array of event objects.
// Params: none.
// Returns: JSON bytes or event encode error.
func (b Batch) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for idx, item := range b.events {
		if idx > 0 {
			buf.WriteByte(',')
		}
		encoded, err := item.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode event[%d]: %w", idx, err)
		}
		buf.Write(encoded)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// DecodeBatch decodes a JSON array of event objects.
// Params: data wire payload.
// Returns: events in wire order or decode error.
func DecodeBatch(data []byte) ([]Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for idx, item := range raw {
		var decoded Event
		if err := decoded.UnmarshalJSON(item); err != nil {
			return nil, fmt.Errorf("decode event[%d]: %w", idx, err)
		}
		out = append(out, decoded)
	}
	return out, nil
}
