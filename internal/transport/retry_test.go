package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastCaller(server *httptest.Server, attempts int) *Caller {
	return &Caller{
		Name:     "test",
		HTTP:     server.Client(),
		Policy:   Policy{MaxAttempts: attempts, Initial: time.Millisecond, Max: 5 * time.Millisecond},
		Timeout:  time.Second,
		Logger:   quietLogger(),
		Recorder: NewRecorder(),
	}
}

func postTo(url string) RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	}
}

func TestDoRetriesServerErrorsUpToBudget(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("busy"))
	}))
	defer server.Close()

	caller := fastCaller(server, 3)
	resp, attempts, err := caller.Do(context.Background(), "submit", postTo(server.URL))

	var serverErr *RemoteServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected RemoteServerError, got %v", err)
	}
	if attempts != 3 || hits.Load() != 3 || serverErr.Attempts != 3 {
		t.Fatalf("attempts=%d hits=%d errAttempts=%d want 3", attempts, hits.Load(), serverErr.Attempts)
	}
	if resp.Status != http.StatusServiceUnavailable || serverErr.Body != "busy" {
		t.Fatalf("unexpected last response: %d %q", resp.Status, serverErr.Body)
	}
	if got := testutil.ToFloat64(caller.Recorder.attempts.WithLabelValues("test", "5xx")); got != 3 {
		t.Fatalf("attempt counter=%v want 3", got)
	}
	if got := testutil.ToFloat64(caller.Recorder.results.WithLabelValues("test", "server_error")); got != 1 {
		t.Fatalf("result counter=%v want 1", got)
	}
}

func TestDoDoesNotRetryRejection(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad field"}`))
	}))
	defer server.Close()

	_, attempts, err := fastCaller(server, 3).Do(context.Background(), "submit", postTo(server.URL))
	var rejected *RequestRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RequestRejectedError, got %v", err)
	}
	if attempts != 1 || hits.Load() != 1 {
		t.Fatalf("attempts=%d hits=%d want 1", attempts, hits.Load())
	}
	if rejected.Body != `{"error":"bad field"}` {
		t.Fatalf("unexpected body: %q", rejected.Body)
	}
}

func TestDoRetriesTooManyRequests(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	resp, attempts, err := fastCaller(server, 3).Do(context.Background(), "submit", postTo(server.URL))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if attempts != 2 || resp.Status != http.StatusAccepted {
		t.Fatalf("attempts=%d status=%d", attempts, resp.Status)
	}
}

func TestDoTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, attempts, err := fastCaller(server, 2).Do(context.Background(), "query", postTo(url))
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if attempts != 2 || transportErr.Attempts != 2 {
		t.Fatalf("attempts=%d errAttempts=%d want 2", attempts, transportErr.Attempts)
	}
	if !Retryable(err) {
		t.Fatalf("transport error should be retryable")
	}
}

func TestDoCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := fastCaller(server, 3).Do(ctx, "query", postTo(server.URL))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if Retryable(err) {
		t.Fatalf("cancelled call must not be retryable")
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain"), false},
		{&RemoteServerError{Status: 502}, true},
		{&RequestRejectedError{Status: 429}, true},
		{&RequestRejectedError{Status: 403}, false},
		{&TransportError{Cause: context.DeadlineExceeded}, true},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Fatalf("Retryable(%v)=%v want=%v", tc.err, got, tc.want)
		}
	}
}
