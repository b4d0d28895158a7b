package event

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestEventJSONRoundTrip(t *testing.T) {
	in, err := New("Foo", time.UnixMilli(1700000000123))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var nested Fields
	nested.Set("zone", String("a"))
	mustSet(t, &in, "name", String("a"))
	mustSet(t, &in, "count", Int(0))
	mustSet(t, &in, "ratio", Float(0.25))
	mustSet(t, &in, "ok", Bool(false))
	mustSet(t, &in, "labels", Nested(nested))

	encoded, err := in.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"eventType":"Foo","timestamp":1700000000123,"name":"a","count":0,"ratio":0.25,"ok":false,"labels":{"zone":"a"}}`
	if string(encoded) != want {
		t.Fatalf("unexpected json:\n%s\nwant:\n%s", encoded, want)
	}

	var out Event
	if err := out.UnmarshalJSON(encoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type() != in.Type() || out.Timestamp() != in.Timestamp() {
		t.Fatalf("reserved fields changed: %s %d", out.Type(), out.Timestamp())
	}
	if !out.Fields().Equal(in.Fields()) {
		t.Fatalf("fields changed after round trip")
	}
	reencoded, err := out.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(reencoded, encoded) {
		t.Fatalf("re-encoded json differs:\n%s", reencoded)
	}
}

func TestEventRejectsReserved(t *testing.T) {
	in, err := New("Foo", time.Now())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{FieldEventType, FieldTimestamp, ""} {
		var validation *ValidationError
		if err := in.Set(key, Int(1)); !errors.As(err, &validation) {
			t.Fatalf("Set(%q) expected ValidationError, got %v", key, err)
		}
	}
	if _, err := New(" ", time.Now()); err == nil {
		t.Fatalf("expected error for empty event type")
	}
}

func TestEventUnmarshalMissingReserved(t *testing.T) {
	cases := []string{
		`{"timestamp":1}`,
		`{"eventType":"Foo"}`,
		`{"eventType":"Foo","timestamp":1.5}`,
		`[1,2]`,
	}
	for _, raw := range cases {
		var out Event
		if err := out.UnmarshalJSON([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestFingerprintIgnoresTimestamp(t *testing.T) {
	builder := NewBuilder(FlatSchema("Foo", "name"), nil)
	spec := Spec{Kind: Cluster, Identifier: "a", Metrics: map[string]float64{"x": 1, "y": 2}}

	first, err := builder.Build(spec)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	later := NewBuilder(FlatSchema("Foo", "name"), func() time.Time { return time.Unix(0, 0) })
	second, err := later.Build(spec)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	left, err := first.Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	right, err := second.Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if !bytes.Equal(left, right) {
		t.Fatalf("fingerprints differ for identical content")
	}

	mustSet(t, &second, "x", Float(3))
	changed, err := second.Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if bytes.Equal(left, changed) {
		t.Fatalf("fingerprint did not change with content")
	}
}

func TestToStructIncludesReservedAndNested(t *testing.T) {
	in, err := New("Foo", time.UnixMilli(1700000000123))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var nested Fields
	nested.Set("zone", String("a"))
	mustSet(t, &in, "count", Int(7))
	mustSet(t, &in, "labels", Nested(nested))

	pairs := in.Pairs()
	if keys := pairs.Keys(); len(keys) != 4 || keys[0] != FieldEventType || keys[1] != FieldTimestamp {
		t.Fatalf("unexpected pair order: %v", keys)
	}
	labels, _ := pairs.Get("labels")
	if plain, ok := labels.Interface().(map[string]any); !ok || plain["zone"] != "a" {
		t.Fatalf("nested value not converted: %#v", labels.Interface())
	}

	st, err := in.ToStruct(true)
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	got := st.AsMap()
	if got[FieldEventType] != "Foo" || got[FieldTimestamp] != float64(1700000000123) || got["count"] != float64(7) {
		t.Fatalf("unexpected struct: %#v", got)
	}
	if zone := got["labels"].(map[string]any)["zone"]; zone != "a" {
		t.Fatalf("nested field lost: %#v", got["labels"])
	}

	bare, err := in.ToStruct(false)
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	if _, ok := bare.AsMap()[FieldTimestamp]; ok {
		t.Fatalf("timestamp must be omitted")
	}
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	builder := NewBuilder(FlatSchema("Foo", "name"), frozenClock())
	events, err := builder.BuildAll([]Spec{
		{Kind: Cluster, Identifier: "a"},
		{Kind: Cluster, Identifier: "b"},
		{Kind: Cluster, Identifier: "a"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	unique, dropped, err := Dedupe(events)
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if dropped != 1 || len(unique) != 2 {
		t.Fatalf("dropped=%d unique=%d want 1 and 2", dropped, len(unique))
	}
	first, _ := unique[0].Get("name")
	second, _ := unique[1].Get("name")
	if !first.Equal(String("a")) || !second.Equal(String("b")) {
		t.Fatalf("order not kept: %#v %#v", first, second)
	}
}

func mustSet(t *testing.T, e *Event, key string, value Value) {
	t.Helper()
	if err := e.Set(key, value); err != nil {
		t.Fatalf("set %s: %v", key, err)
	}
}
