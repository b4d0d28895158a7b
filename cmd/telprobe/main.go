package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"telprobe/internal/app"
	"telprobe/internal/verify"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// listFlag collects repeatable string flags.
type listFlag []string

// String renders collected values.
func (l *listFlag) String() string { return strings.Join(*l, ",") }

// Set appends one value.
func (l *listFlag) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// run parses flags, executes one probe run, and prints the summary.
// Params: none.
// Returns: process exit code.
func run() int {
	var (
		rt       app.Runtime
		targets  listFlag
		metrics  listFlag
		expects  listFlag
		showInfo bool
	)

	fs := flag.CommandLine
	fs.StringVar(&rt.ConfigPath, "config", "", "path to optional TOML config file")
	fs.StringVar(&rt.EnvFile, "env-file", "", "path to optional dotenv file with credentials")
	fs.Var(&targets, "target", "entity identifier to submit (repeatable or comma-separated)")
	fs.StringVar(&rt.Kind, "kind", "cluster", "event kind: cluster, broker, or topic")
	fs.StringVar(&rt.Cluster, "cluster", "", "parent cluster name for broker and topic events")
	fs.StringVar(&rt.EventType, "event-type", "", "override event type (switches to flat schema)")
	fs.Var(&metrics, "metric", "metric name=value (repeatable)")
	fs.BoolVar(&rt.HostMetrics, "host-metrics", false, "add host cpu/memory/disk readings as metrics")
	fs.StringVar(&rt.DataPath, "data-path", "/", "filesystem path sampled as the data log disk")
	fs.BoolVar(&rt.RollUp, "rollup", false, "also submit a cluster sample aggregating the broker or topic metrics")
	fs.BoolVar(&rt.Submit, "submit", false, "submit events before verifying")
	fs.StringVar(&rt.Query, "query", "", "NRQL verification query (default selects this run's events)")
	fs.IntVar(&rt.MinRows, "min-rows", 0, "minimum rows required (default: number of submitted events)")
	fs.Var(&expects, "expect", "row condition field=value, '*' wildcards allowed (repeatable)")
	fs.DurationVar(&rt.Timeout, "timeout", 0, "verification deadline (overrides config)")
	fs.DurationVar(&rt.Interval, "interval", 0, "poll interval (overrides config)")
	fs.Float64Var(&rt.Backoff, "backoff", 0, "poll interval multiplier > 1 enables exponential backoff")
	fs.StringVar(&rt.MetricsFile, "metrics-file", "", "write Prometheus textfile with run metrics")
	fs.BoolVar(&rt.Verbose, "v", false, "debug logging")
	fs.BoolVar(&showInfo, "version", false, "show build information")
	flag.Parse()

	if showInfo {
		fmt.Printf("telprobe version=%s commit=%s date=%s\n", version, commit, date)
		return 0
	}

	rt.Targets = splitTargets(targets)
	parsedMetrics, err := parseMetrics(metrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return app.ExitConfig
	}
	rt.Metrics = parsedMetrics
	rt.Expect, err = parseExpectations(expects)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return app.ExitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := app.Run(ctx, rt)
	if writeErr := app.WriteSummary(os.Stdout, report, err); writeErr != nil {
		fmt.Fprintf(os.Stderr, "error: write summary: %v\n", writeErr)
	}
	return app.ExitCode(report, err)
}

func splitTargets(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func parseMetrics(values []string) (map[string]float64, error) {
	out := make(map[string]float64, len(values))
	for _, value := range values {
		name, raw, ok := strings.Cut(value, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("-metric %q: want name=value", value)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("-metric %q: %w", value, err)
		}
		out[strings.TrimSpace(name)] = parsed
	}
	return out, nil
}

func parseExpectations(values []string) ([]app.Expectation, error) {
	out := make([]app.Expectation, 0, len(values))
	for _, value := range values {
		field, raw, ok := strings.Cut(value, "=")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("-expect %q: want field=value", value)
		}
		out = append(out, app.Expectation{Field: strings.TrimSpace(field), Value: verify.ParseValue(strings.TrimSpace(raw))})
	}
	return out, nil
}

func main() {
	os.Exit(run())
}
