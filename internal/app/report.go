package app

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"telprobe/internal/config"
	"telprobe/internal/verify"
)

// Process exit codes.
const (
	ExitSatisfied = 0
	ExitFailure   = 1
	ExitConfig    = 2
	ExitTimedOut  = 3
	ExitErrored   = 4
	ExitCancelled = 5
)

// ExitCode maps a run result to the process exit status.
// Params: report run summary; err run error.
// Returns: one of the Exit* codes.
func ExitCode(report Report, err error) int {
	if err != nil {
		var cfgErr *config.Error
		if errors.Is(err, ErrConfig) || errors.As(err, &cfgErr) {
			return ExitConfig
		}
		return ExitFailure
	}
	if report.Outcome == nil {
		return ExitSatisfied
	}
	switch report.Outcome.State {
	case verify.Satisfied:
		return ExitSatisfied
	case verify.TimedOut:
		return ExitTimedOut
	case verify.Errored:
		return ExitErrored
	case verify.Cancelled:
		return ExitCancelled
	default:
		return ExitFailure
	}
}

// WriteSummary prints a human-readable run outcome.
// Params: w destination; report run summary; err run error.
// Returns: write error.
func WriteSummary(w io.Writer, report Report, err error) error {
	var b strings.Builder
	fmt.Fprintf(&b, "run:       %s\n", report.RunID)
	if report.Events > 0 {
		accepted := 0
		for _, result := range report.Submissions {
			if result.Success() {
				accepted += result.Events()
			}
		}
		fmt.Fprintf(&b, "submitted: %d event(s), %d accepted in %d batch(es)\n", report.Events, accepted, len(report.Submissions))
	}
	if out := report.Outcome; out != nil {
		fmt.Fprintf(&b, "verify:    %s after %d attempt(s) in %s\n", out.State, out.Attempts, out.Elapsed.Round(time.Millisecond))
		fmt.Fprintf(&b, "predicate: %s\n", out.Query.Predicate)
		fmt.Fprintf(&b, "rows:      %d\n", len(out.Rows))
		if out.Err != nil {
			fmt.Fprintf(&b, "reason:    %v\n", out.Err)
		}
	}
	if err != nil {
		fmt.Fprintf(&b, "error:     %v\n", err)
	}
	_, writeErr := io.WriteString(w, b.String())
	return writeErr
}
