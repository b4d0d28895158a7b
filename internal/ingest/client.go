package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"telprobe/internal/event"
	"telprobe/internal/transport"
)

// ErrMissingInsertKey is returned by New when no insert key is configured.
var ErrMissingInsertKey = errors.New("ingest insert key is required")

// Options configure one ingest client.
// Params: endpoint, credential, timeouts, retry policy, batching, compression, and observers.
// Returns: client options for New.
type Options struct {
	Endpoint   string
	InsertKey  string
	Timeout    time.Duration
	Retry      transport.Policy
	MaxBatch   int
	Gzip       bool
	Logger     *slog.Logger
	Recorder   *transport.Recorder
	HTTPClient *http.Client
}

// SubmissionResult describes the outcome of one batch submission.
// Params: populated by Submit.
// Returns: immutable view of status, body, attempts, and request id.
type SubmissionResult struct {
	status    int
	body      string
	attempts  int
	requestID string
	events    int
}

// Status returns the HTTP status of the last attempt (0 when no response arrived).
func (r SubmissionResult) Status() int { return r.status }

// Success reports whether the last attempt returned 2xx.
func (r SubmissionResult) Success() bool { return r.status >= 200 && r.status < 300 }

// Body returns the raw response body of the last attempt.
func (r SubmissionResult) Body() string { return r.body }

// Attempts returns the number of attempts made.
func (r SubmissionResult) Attempts() int { return r.attempts }

// RequestID returns the X-Request-Id sent with the batch.
func (r SubmissionResult) RequestID() string { return r.requestID }

// Events returns the number of events in the submitted batch.
func (r SubmissionResult) Events() int { return r.events }

// Client submits event batches to the ingest endpoint.
// Params: created through New.
// Returns: client safe for concurrent use.
type Client struct {
	endpoint  string
	insertKey string
	maxBatch  int
	gzip      bool
	caller    *transport.Caller
	logger    *slog.Logger
}

// New validates options and creates an ingest client.
// Params: opts client options.
// Returns: client or validation error.
func New(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("ingest endpoint %q must be an absolute URL", endpoint)
	}
	if strings.TrimSpace(opts.InsertKey) == "" {
		return nil, ErrMissingInsertKey
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("client", "ingest")

	return &Client{
		endpoint:  endpoint,
		insertKey: opts.InsertKey,
		maxBatch:  opts.MaxBatch,
		gzip:      opts.Gzip,
		logger:    logger,
		caller: &transport.Caller{
			Name:     "ingest",
			HTTP:     opts.HTTPClient,
			Policy:   opts.Retry,
			Timeout:  opts.Timeout,
			Logger:   logger,
			Recorder: opts.Recorder,
		},
	}, nil
}

// Submit posts one batch as a JSON array.
// Params: ctx cancellation; batch events to send.
// Returns: SubmissionResult, plus a typed transport error when the batch was not accepted.
func (c *Client) Submit(ctx context.Context, batch event.Batch) (SubmissionResult, error) {
	if batch.Len() == 0 {
		return SubmissionResult{}, event.ErrEmptyBatch
	}
	if c.maxBatch > 0 && batch.Len() > c.maxBatch {
		return SubmissionResult{}, fmt.Errorf("%w: %d > %d", event.ErrBatchTooLarge, batch.Len(), c.maxBatch)
	}

	payload, err := batch.MarshalJSON()
	if err != nil {
		return SubmissionResult{}, fmt.Errorf("encode batch: %w", err)
	}
	encoding := ""
	if c.gzip {
		payload, err = compress(payload)
		if err != nil {
			return SubmissionResult{}, err
		}
		encoding = "gzip"
	}

	requestID := uuid.NewString()
	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Insert-Key", c.insertKey)
		req.Header.Set("X-Request-Id", requestID)
		if encoding != "" {
			req.Header.Set("Content-Encoding", encoding)
		}
		return req, nil
	}

	resp, attempts, err := c.caller.Do(ctx, "submit events", build)
	result := SubmissionResult{
		status:    resp.Status,
		body:      string(resp.Body),
		attempts:  attempts,
		requestID: requestID,
		events:    batch.Len(),
	}
	if err != nil {
		return result, err
	}

	c.logger.Info("batch accepted", "events", batch.Len(), "status", resp.Status, "attempts", attempts, "request_id", requestID)
	return result, nil
}

// SubmitAll splits events into batches of at most MaxBatch and submits them in order.
// Params: ctx cancellation; events ordered events.
// Returns: results for attempted batches and the first failure.
func (c *Client) SubmitAll(ctx context.Context, events []event.Event) ([]SubmissionResult, error) {
	max := c.maxBatch
	if max <= 0 {
		max = len(events)
	}
	batches, err := event.Split(events, max)
	if err != nil {
		return nil, err
	}

	results := make([]SubmissionResult, 0, len(batches))
	for idx, batch := range batches {
		result, err := c.Submit(ctx, batch)
		results = append(results, result)
		if err != nil {
			return results, fmt.Errorf("batch %d/%d: %w", idx+1, len(batches), err)
		}
	}
	return results, nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(payload); err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	return buf.Bytes(), nil
}
