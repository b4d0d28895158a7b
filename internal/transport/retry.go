package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"telprobe/internal/config"
)

const defaultMaxBody = 8 << 20

// Policy is the bounded exponential retry schedule shared by ingest and query.
// Params: MaxAttempts total tries; Initial and Max bound the wait between tries.
// Returns: retry policy value.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
}

// PolicyFrom converts retry config into a Policy.
// Params: cfg validated retry section.
// Returns: policy with multiplier 2 and 10% jitter.
func PolicyFrom(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		Initial:     cfg.InitialBackoff.Duration,
		Max:         cfg.MaxBackoff.Duration,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	return b
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Response is the outcome of the last attempt made by Do.
// Params: Status HTTP status (0 when no response); Body raw bytes; Header response headers.
// Returns: response snapshot.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// RequestFunc builds a fresh request for one attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Caller executes HTTP requests with per-call timeouts, bounded retries, and instrumentation.
// Params: client name label, HTTP client, policy, timeout, logger, recorder.
// Returns: shared request executor.
type Caller struct {
	Name     string
	HTTP     *http.Client
	Policy   Policy
	Timeout  time.Duration
	MaxBody  int64
	Logger   *slog.Logger
	Recorder *Recorder
}

// Do runs build/send/classify until success, a non-retryable error, or the attempt budget.
// Params: ctx parent context; op log/error label; build creates each attempt's request.
// Returns: last response, attempts made, and a typed error on failure.
func (c *Caller) Do(ctx context.Context, op string, build RequestFunc) (Response, int, error) {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		last     Response
		attempts int
	)

	operation := func() (Response, error) {
		attempts++
		resp, err := c.attempt(ctx, httpClient, op, attempts, build)
		last = resp
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !Retryable(err) {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying request", "client", c.Name, "op", op, "attempt", attempts, "wait", wait.String(), "error", err)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.Policy.backOff()),
		backoff.WithMaxTries(uint(c.Policy.attempts())),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		c.Recorder.ObserveResult(c.Name, "success")
		return last, attempts, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			err = &TransportError{Op: op, Attempts: attempts, Cause: ctxErr}
		}
	}
	err = withAttempts(err, attempts)
	c.Recorder.ObserveResult(c.Name, resultLabel(err))
	logger.Error("request failed", "client", c.Name, "op", op, "attempts", attempts, "status", last.Status, "body", string(last.Body), "error", err)
	return last, attempts, err
}

// attempt performs one bounded request.
// Params: ctx parent; httpClient executor; op label; n attempt number; build request factory.
// Returns: response snapshot and classified error.
func (c *Caller) attempt(ctx context.Context, httpClient *http.Client, op string, n int, build RequestFunc) (Response, error) {
	callCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req, err := build(callCtx)
	if err != nil {
		return Response{}, fmt.Errorf("%s: build request: %w", op, err)
	}

	started := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		c.Recorder.ObserveAttempt(c.Name, "transport_error", time.Since(started))
		c.logger().Debug("attempt failed", "client", c.Name, "op", op, "attempt", n, "error", err)
		return Response{}, &TransportError{Op: op, Attempts: n, Cause: err}
	}
	defer resp.Body.Close()

	limit := c.MaxBody
	if limit <= 0 {
		limit = defaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		c.Recorder.ObserveAttempt(c.Name, "transport_error", time.Since(started))
		return Response{Status: resp.StatusCode, Header: resp.Header}, &TransportError{Op: op, Attempts: n, Cause: fmt.Errorf("read response body: %w", err)}
	}

	c.Recorder.ObserveAttempt(c.Name, statusClass(resp.StatusCode), time.Since(started))
	c.logger().Debug("attempt completed", "client", c.Name, "op", op, "attempt", n, "status", resp.StatusCode, "bytes", len(body))

	out := Response{Status: resp.StatusCode, Body: body, Header: resp.Header}
	return out, classify(op, resp.StatusCode, body, n)
}

func (c *Caller) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// withAttempts stamps the final attempt count on typed errors.
func withAttempts(err error, attempts int) error {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		transportErr.Attempts = attempts
		return err
	}
	var serverErr *RemoteServerError
	if errors.As(err, &serverErr) {
		serverErr.Attempts = attempts
		return err
	}
	var rejected *RequestRejectedError
	if errors.As(err, &rejected) {
		rejected.Attempts = attempts
	}
	return err
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

func resultLabel(err error) string {
	var transportErr *TransportError
	var serverErr *RemoteServerError
	var rejected *RequestRejectedError
	switch {
	case errors.As(err, &transportErr):
		return "transport_error"
	case errors.As(err, &serverErr):
		return "server_error"
	case errors.As(err, &rejected):
		return "rejected"
	default:
		return "error"
	}
}
