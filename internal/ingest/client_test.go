package ingest

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"telprobe/internal/event"
	"telprobe/internal/transport"
)

func testEvents(t *testing.T, names ...string) []event.Event {
	t.Helper()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	builder := event.NewBuilder(event.FlatSchema("Foo", "name"), func() time.Time { return at })
	specs := make([]event.Spec, 0, len(names))
	for _, name := range names {
		specs = append(specs, event.Spec{Kind: event.Cluster, Identifier: name, Metrics: map[string]float64{"value": 0}})
	}
	out, err := builder.BuildAll(specs)
	if err != nil {
		t.Fatalf("build events: %v", err)
	}
	return out
}

func testClient(t *testing.T, server *httptest.Server, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		Endpoint:   server.URL + "/v1/accounts/1/events",
		InsertKey:  "insert-key",
		Timeout:    time.Second,
		Retry:      transport.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond},
		MaxBatch:   100,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		HTTPClient: server.Client(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	client, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func mustBatch(t *testing.T, events []event.Event) event.Batch {
	t.Helper()
	batch, err := event.NewBatch(events, 0)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	return batch
}

func TestSubmitRoundTrip(t *testing.T) {
	events := testEvents(t, "a", "b", "c")
	var (
		mu       sync.Mutex
		received []event.Event
		headers  http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		decoded, err := event.DecodeBatch(raw)
		if err != nil {
			t.Errorf("decode body: %v", err)
		}
		mu.Lock()
		received = decoded
		headers = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	result, err := testClient(t, server, nil).Submit(context.Background(), mustBatch(t, events))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Success() || result.Status() != http.StatusAccepted || result.Attempts() != 1 {
		t.Fatalf("unexpected result: status=%d attempts=%d", result.Status(), result.Attempts())
	}
	if result.Body() != `{"success":true}` || result.Events() != 3 {
		t.Fatalf("unexpected body or count: %q %d", result.Body(), result.Events())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != len(events) {
		t.Fatalf("received %d events want %d", len(received), len(events))
	}
	for idx := range events {
		if received[idx].Type() != events[idx].Type() || received[idx].Timestamp() != events[idx].Timestamp() {
			t.Fatalf("event %d reserved fields differ", idx)
		}
		if !received[idx].Fields().Equal(events[idx].Fields()) {
			t.Fatalf("event %d fields differ", idx)
		}
	}
	if headers.Get("X-Insert-Key") != "insert-key" || headers.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected headers: %v", headers)
	}
	if headers.Get("X-Request-Id") == "" || headers.Get("X-Request-Id") != result.RequestID() {
		t.Fatalf("request id mismatch: %q vs %q", headers.Get("X-Request-Id"), result.RequestID())
	}
}

func TestSubmitRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal"))
	}))
	defer server.Close()

	result, err := testClient(t, server, nil).Submit(context.Background(), mustBatch(t, testEvents(t, "a")))
	var serverErr *transport.RemoteServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected RemoteServerError, got %v", err)
	}
	if hits.Load() != 3 || result.Attempts() != 3 {
		t.Fatalf("hits=%d attempts=%d want 3", hits.Load(), result.Attempts())
	}
	if result.Success() || result.Status() != http.StatusInternalServerError {
		t.Fatalf("unexpected result status: %d", result.Status())
	}
}

func TestSubmitRejectedNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad field"}`))
	}))
	defer server.Close()

	result, err := testClient(t, server, nil).Submit(context.Background(), mustBatch(t, testEvents(t, "a")))
	var rejected *transport.RequestRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RequestRejectedError, got %v", err)
	}
	if rejected.Body != `{"error":"bad field"}` || result.Body() != `{"error":"bad field"}` {
		t.Fatalf("raw body not preserved: %q / %q", rejected.Body, result.Body())
	}
	if hits.Load() != 1 || result.Attempts() != 1 {
		t.Fatalf("hits=%d attempts=%d want 1", hits.Load(), result.Attempts())
	}
}

func TestSubmitGzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("missing gzip encoding header")
		}
		reader, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("gzip reader: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		raw, _ := io.ReadAll(reader)
		if _, err := event.DecodeBatch(raw); err != nil {
			t.Errorf("decode gzip body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := testClient(t, server, func(opts *Options) { opts.Gzip = true })
	if _, err := client.Submit(context.Background(), mustBatch(t, testEvents(t, "a"))); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestSubmitAllSplitsBatches(t *testing.T) {
	var (
		mu    sync.Mutex
		sizes []int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		decoded, _ := event.DecodeBatch(raw)
		mu.Lock()
		sizes = append(sizes, len(decoded))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := testClient(t, server, func(opts *Options) { opts.MaxBatch = 2 })
	results, err := client.SubmitAll(context.Background(), testEvents(t, "a", "b", "c", "d", "e"))
	if err != nil {
		t.Fatalf("submit all: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("unexpected batch sizes: %v", sizes)
	}
}

func TestSubmitRejectsOversizedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Errorf("no request expected")
	}))
	defer server.Close()

	client := testClient(t, server, func(opts *Options) { opts.MaxBatch = 1 })
	_, err := client.Submit(context.Background(), mustBatch(t, testEvents(t, "a", "b")))
	if !errors.Is(err, event.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{Endpoint: "not a url", InsertKey: "k"}); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := New(Options{Endpoint: "https://example.com/events"}); !errors.Is(err, ErrMissingInsertKey) {
		t.Fatalf("expected ErrMissingInsertKey, got %v", err)
	}
}
