package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"telprobe/internal/query"
	"telprobe/internal/transport"
)

// ErrPredicateTimeout is wrapped by the error of every TimedOut outcome.
var ErrPredicateTimeout = errors.New("predicate not satisfied before deadline")

// State is the verification state machine position.
type State uint8

const (
	// Pending is the state before a terminal decision.
	Pending State = iota
	// Satisfied means the predicate held on some tick.
	Satisfied
	// TimedOut means the deadline passed without satisfaction.
	TimedOut
	// Errored means a query failed in a way further ticks cannot fix.
	Errored
	// Cancelled means the caller cancelled the context.
	Cancelled
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Satisfied:
		return "satisfied"
	case TimedOut:
		return "timed_out"
	case Errored:
		return "errored"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Runner executes one NRQL query.
type Runner interface {
	Run(ctx context.Context, nrql string) ([]query.Row, error)
}

// Query pairs NRQL with the predicate that decides success.
// Params: Name label for logs; NRQL query text; Predicate condition.
// Returns: verification request.
type Query struct {
	Name      string
	NRQL      string
	Predicate Predicate
}

// Outcome is the terminal result of one verification.
// Params: filled by Engine.Run.
// Returns: final state, tick count, elapsed time, last rows, and last error.
type Outcome struct {
	Query    Query
	State    State
	Attempts int
	Elapsed  time.Duration
	Rows     []query.Row
	Err      error
}

// Backoff grows the wait between ticks when Multiplier > 1, capped by Max.
type Backoff struct {
	Multiplier float64
	Max        time.Duration
}

// Engine polls a query until its predicate holds, the deadline passes, or ctx is cancelled.
// Deadline, waits, and Elapsed are all measured on the monotonic wall clock.
// Params: runner, interval, deadline, optional backoff, logger, recorder.
// Returns: engine safe for concurrent Run calls.
type Engine struct {
	Runner   Runner
	Interval time.Duration
	Deadline time.Duration
	Backoff  Backoff
	Logger   *slog.Logger
	Recorder *transport.Recorder
}

// Run executes the poll loop for q.
// Params: ctx cancellation; q query and predicate.
// Returns: terminal outcome; never Pending.
func (e *Engine) Run(ctx context.Context, q Query) Outcome {
	out := e.run(ctx, q)
	e.Recorder.ObserveVerification(out.State.String(), out.Attempts)

	logger := e.logger().With("query", q.label(), "state", out.State.String(), "attempts", out.Attempts, "elapsed", out.Elapsed.String())
	switch out.State {
	case Satisfied:
		logger.Info("verification satisfied", "rows", len(out.Rows))
	case Cancelled:
		logger.Warn("verification cancelled")
	default:
		logger.Error("verification failed", "error", out.Err)
	}
	return out
}

func (e *Engine) run(ctx context.Context, q Query) Outcome {
	out := Outcome{Query: q, State: Pending}
	if e.Runner == nil {
		out.State = Errored
		out.Err = errors.New("verify: runner is not configured")
		return out
	}

	delay := e.Interval
	if delay <= 0 {
		delay = time.Second
	}
	budget := e.Deadline
	if budget <= 0 {
		budget = delay
	}
	started := time.Now()
	deadline := started.Add(budget)

	finish := func(state State, err error) Outcome {
		out.State = state
		out.Err = err
		out.Elapsed = time.Since(started)
		return out
	}

	for {
		if ctx.Err() != nil {
			return finish(Cancelled, ctx.Err())
		}

		out.Attempts++
		tickCtx, cancel := context.WithDeadline(ctx, deadline)
		rows, err := e.Runner.Run(tickCtx, q.NRQL)
		tickErr := tickCtx.Err()
		cancel()

		if ctx.Err() != nil {
			return finish(Cancelled, ctx.Err())
		}
		if err != nil {
			if errors.Is(tickErr, context.DeadlineExceeded) || errors.Is(err, query.ErrRateLimitDeadline) {
				return finish(TimedOut, fmt.Errorf("%w: %s (last error: %v)", ErrPredicateTimeout, q.Predicate, err))
			}
			return finish(Errored, err)
		}

		out.Rows = rows
		if q.Predicate.Eval(rows) {
			return finish(Satisfied, nil)
		}
		e.logger().Debug("predicate not yet satisfied", "query", q.label(), "attempt", out.Attempts, "rows", len(rows))

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return finish(TimedOut, e.timeoutError(q, out.Attempts))
		}
		wait := delay
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(Cancelled, ctx.Err())
		case <-timer.C:
		}

		if !time.Now().Before(deadline) {
			return finish(TimedOut, e.timeoutError(q, out.Attempts))
		}
		delay = e.nextDelay(delay)
	}
}

// nextDelay applies the optional exponential growth.
func (e *Engine) nextDelay(current time.Duration) time.Duration {
	if e.Backoff.Multiplier <= 1 {
		return current
	}
	next := time.Duration(float64(current) * e.Backoff.Multiplier)
	if e.Backoff.Max > 0 && next > e.Backoff.Max {
		next = e.Backoff.Max
	}
	return next
}

func (e *Engine) timeoutError(q Query, attempts int) error {
	return fmt.Errorf("%w: %s after %d attempt(s)", ErrPredicateTimeout, q.Predicate, attempts)
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (q Query) label() string {
	if name := strings.TrimSpace(q.Name); name != "" {
		return name
	}
	return q.NRQL
}

// RunAll runs each query in its own goroutine and returns outcomes in input order.
// Params: ctx shared cancellation; queries independent verifications.
// Returns: one outcome per query.
func (e *Engine) RunAll(ctx context.Context, queries []Query) []Outcome {
	outcomes := make([]Outcome, len(queries))
	var wg sync.WaitGroup
	for idx := range queries {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			outcomes[idx] = e.Run(ctx, queries[idx])
		}(idx)
	}
	wg.Wait()
	return outcomes
}
