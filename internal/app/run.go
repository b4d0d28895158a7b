package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"telprobe/internal/config"
	"telprobe/internal/event"
	"telprobe/internal/hoststats"
	"telprobe/internal/ingest"
	"telprobe/internal/logging"
	"telprobe/internal/query"
	"telprobe/internal/transport"
	"telprobe/internal/verify"
)

// AttrRunID tags every submitted event so the default query selects only this run.
const AttrRunID = "telprobe.runId"

// ErrConfig marks failures that happen before any network call.
var ErrConfig = errors.New("configuration failure")

// Expectation is one `field=value` row condition.
type Expectation struct {
	Field string
	Value any
}

// Runtime defines inputs for one submit-and-verify run.
// Params: config sources, event targets, verification settings, and CLI overrides.
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
	EnvFile    string

	Targets     []string
	Kind        string
	Cluster     string
	EventType   string
	Metrics     map[string]float64
	HostMetrics bool
	DataPath    string
	RollUp      bool
	Submit      bool

	Query       string
	MinRows     int
	Expect      []Expectation
	Timeout     time.Duration
	Interval    time.Duration
	Backoff     float64
	MetricsFile string
	Verbose     bool
}

// Report summarizes what a run did.
// Params: filled by Run.
// Returns: run id, submission results, and the verification outcome when one ran.
type Report struct {
	RunID       string
	Events      int
	Submissions []ingest.SubmissionResult
	Outcome     *verify.Outcome
}

type hostSampler interface {
	Sample(context.Context) (hoststats.Sample, error)
}

type runDeps struct {
	loadConfig func(config.Sources) (*config.Config, error)
	newLogger  func(config.LogConfig) (*slog.Logger, func(), error)
	startDebug func(context.Context, config.DebugConfig, *transport.Recorder, *runStatus, *slog.Logger) (func(), error)
	newSampler func(dataPath string) hostSampler
	httpClient *http.Client
	eventClock func() time.Time
	newRunID   func() string
}

// Run loads configuration, submits events, and verifies them.
// Params: ctx controls lifecycle; rt run inputs.
// Returns: report and error; see ExitCode for the mapping to process status.
func Run(ctx context.Context, rt Runtime) (Report, error) {
	return runWithDeps(ctx, rt, defaultRunDeps())
}

// defaultRunDeps provides production runtime dependencies.
// Params: none.
// Returns: dependency set used by Run.
func defaultRunDeps() runDeps {
	return runDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		startDebug: func(ctx context.Context, cfg config.DebugConfig, recorder *transport.Recorder, status *runStatus, logger *slog.Logger) (func(), error) {
			stop, _, err := startDebugServer(ctx, cfg, recorder.Registry(), status, logger)
			return stop, err
		},
		newSampler: func(dataPath string) hostSampler { return hoststats.New(dataPath) },
		eventClock: time.Now,
		newRunID:   uuid.NewString,
	}
}

// runWithDeps executes one run using injectable dependencies.
// Params: ctx lifecycle; rt run inputs; deps dependency set.
// Returns: report and classified error.
func runWithDeps(ctx context.Context, rt Runtime, deps runDeps) (Report, error) {
	report := Report{RunID: deps.newRunID()}

	if !rt.Submit && strings.TrimSpace(rt.Query) == "" {
		return report, fmt.Errorf("%w: nothing to do (use -submit and/or -query)", ErrConfig)
	}

	cfg, err := deps.loadConfig(config.Sources{ConfigPath: rt.ConfigPath, EnvFile: rt.EnvFile})
	if err != nil {
		return report, fmt.Errorf("%w: load config: %w", ErrConfig, err)
	}
	applyOverrides(cfg, rt)

	logger, closeLogger, err := deps.newLogger(cfg.Log)
	if err != nil {
		return report, fmt.Errorf("%w: init logger: %w", ErrConfig, err)
	}
	defer closeLogger()
	logger = logger.With("run_id", report.RunID)

	recorder := transport.NewRecorder()
	status := newRunStatus(report.RunID)
	defer status.set(phaseDone)
	stopDebug, err := deps.startDebug(ctx, cfg.Debug, recorder, status, logger)
	if err != nil {
		return report, fmt.Errorf("%w: start debug server: %w", ErrConfig, err)
	}
	defer stopDebug()
	defer writeTextfile(cfg.Metrics.Textfile, recorder, logger)

	logger.Info("probe started",
		slog.String("account", cfg.Account.ID),
		slog.String("region", cfg.Account.Region),
		slog.Bool("submit", rt.Submit),
		slog.Int("targets", len(rt.Targets)),
	)

	eventType := strings.TrimSpace(cfg.Ingest.EventType)
	expected := 0
	if rt.Submit {
		status.set(phaseSubmitting)
		hostMetrics, sampleErr := sampleHost(ctx, rt, deps, logger)
		if sampleErr != nil {
			return report, sampleErr
		}
		events, buildErr := buildEvents(cfg, rt, hostMetrics, deps.eventClock, report.RunID)
		if buildErr != nil {
			return report, fmt.Errorf("%w: build events: %w", ErrConfig, buildErr)
		}
		events, dropped, dedupeErr := event.Dedupe(events)
		if dedupeErr != nil {
			return report, fmt.Errorf("%w: build events: %w", ErrConfig, dedupeErr)
		}
		if dropped > 0 {
			logger.Warn("duplicate events dropped", slog.Int("dropped", dropped), slog.Int("kept", len(events)))
		}
		report.Events = len(events)
		if eventType == "" && len(events) > 0 {
			eventType = events[0].Type()
		}
		for _, item := range events {
			if item.Type() == eventType {
				expected++
			}
		}

		client, newErr := ingest.New(ingest.Options{
			Endpoint:   cfg.IngestURL(),
			InsertKey:  cfg.Account.IngestKey,
			Timeout:    cfg.Ingest.Timeout.Duration,
			Retry:      transport.PolicyFrom(cfg.Ingest.Retry),
			MaxBatch:   cfg.Ingest.MaxBatch,
			Gzip:       cfg.Ingest.Gzip,
			Logger:     logger,
			Recorder:   recorder,
			HTTPClient: deps.httpClient,
		})
		if newErr != nil {
			return report, fmt.Errorf("%w: ingest client: %w", ErrConfig, newErr)
		}
		results, submitErr := client.SubmitAll(ctx, events)
		report.Submissions = results
		if submitErr != nil {
			return report, fmt.Errorf("submit events: %w", submitErr)
		}
	}

	nrql := strings.TrimSpace(rt.Query)
	if nrql == "" {
		nrql = defaultQuery(eventType, report.RunID)
	}

	client, err := query.New(query.Options{
		Endpoint:   cfg.QueryURL(),
		QueryKey:   cfg.Account.QueryKey,
		AccountID:  cfg.AccountNumber(),
		Timeout:    cfg.Query.Timeout.Duration,
		Retry:      transport.PolicyFrom(cfg.Query.Retry),
		MaxPages:   cfg.Query.MaxPages,
		RateLimit:  cfg.Query.RateLimit,
		Burst:      cfg.Query.Burst,
		Logger:     logger,
		Recorder:   recorder,
		HTTPClient: deps.httpClient,
	})
	if err != nil {
		return report, fmt.Errorf("%w: query client: %w", ErrConfig, err)
	}

	engine := &verify.Engine{
		Runner:   client,
		Interval: cfg.Verify.Interval.Duration,
		Deadline: cfg.Verify.Deadline.Duration,
		Backoff:  verify.Backoff{Multiplier: cfg.Verify.Multiplier, Max: cfg.Verify.MaxDelay.Duration},
		Logger:   logger,
		Recorder: recorder,
	}
	status.set(phaseVerifying)
	outcome := engine.Run(ctx, verify.Query{
		Name:      "probe",
		NRQL:      nrql,
		Predicate: predicateFor(rt, expected),
	})
	report.Outcome = &outcome
	return report, nil
}

// applyOverrides copies CLI values over loaded configuration.
// Params: cfg loaded config; rt run inputs.
// Returns: none.
func applyOverrides(cfg *config.Config, rt Runtime) {
	if rt.Verbose {
		cfg.Log.Console.Level = "debug"
	}
	if rt.Timeout > 0 {
		cfg.Verify.Deadline.Duration = rt.Timeout
	}
	if rt.Interval > 0 {
		cfg.Verify.Interval.Duration = rt.Interval
	}
	if rt.Backoff > 1 {
		cfg.Verify.Multiplier = rt.Backoff
	}
	if path := strings.TrimSpace(rt.MetricsFile); path != "" {
		cfg.Metrics.Textfile = path
	}
	if eventType := strings.TrimSpace(rt.EventType); eventType != "" {
		cfg.Ingest.EventType = eventType
	}
}

// sampleHost reads host metrics when requested.
// Params: ctx cancellation; rt run inputs; deps sampler factory; logger.
// Returns: metric map (nil when disabled) or sampling error.
func sampleHost(ctx context.Context, rt Runtime, deps runDeps, logger *slog.Logger) (map[string]float64, error) {
	if !rt.HostMetrics {
		return nil, nil
	}
	sample, err := deps.newSampler(rt.DataPath).Sample(ctx)
	if err != nil {
		return nil, fmt.Errorf("sample host metrics: %w", err)
	}
	logger.Debug("host metrics sampled", slog.Float64("cpu_user", sample.CPUUser), slog.Float64("memory_used", sample.MemoryUsed))
	return sample.Metrics(), nil
}

// buildEvents turns targets into events with shared run attributes.
// Params: cfg config; rt run inputs; hostMetrics sampled values; clock time source; runID shared tag.
// Returns: events in target order or build error.
func buildEvents(cfg *config.Config, rt Runtime, hostMetrics map[string]float64, clock func() time.Time, runID string) ([]event.Event, error) {
	if len(rt.Targets) == 0 {
		return nil, fmt.Errorf("at least one -target is required with -submit")
	}
	kind := event.Cluster
	if strings.TrimSpace(rt.Kind) != "" {
		parsed, err := event.ParseKind(rt.Kind)
		if err != nil {
			return nil, err
		}
		kind = parsed
	}

	metrics := make(map[string]float64, len(rt.Metrics)+len(hostMetrics))
	for name, value := range hostMetrics {
		metrics[name] = value
	}
	for name, value := range rt.Metrics {
		metrics[name] = value
	}

	var builder *event.Builder
	if eventType := strings.TrimSpace(cfg.Ingest.EventType); eventType != "" {
		builder = event.NewBuilder(event.FlatSchema(eventType, "name"), clock)
	} else {
		builder = event.NewBuilder(event.MSKSchema(), clock).WithEntityGUID(cfg.Account.ID)
	}
	builder = builder.WithCommon(map[string]event.Value{AttrRunID: event.String(runID)})

	specs := make([]event.Spec, 0, len(rt.Targets))
	for _, target := range rt.Targets {
		specs = append(specs, event.Spec{
			Kind:       kind,
			Identifier: target,
			Parent:     rt.Cluster,
			Metrics:    metrics,
		})
	}
	if rt.RollUp {
		if kind == event.Cluster || strings.TrimSpace(rt.Cluster) == "" {
			return nil, fmt.Errorf("-rollup needs -kind broker or topic and a -cluster")
		}
		specs = append(specs, event.RollUp(event.Cluster, rt.Cluster, specs))
	}
	return builder.BuildAll(specs)
}

// predicateFor derives the verification predicate from run inputs.
// Params: rt run inputs; submitted number of submitted events of the queried type.
// Returns: combined predicate.
func predicateFor(rt Runtime, submitted int) verify.Predicate {
	minRows := rt.MinRows
	if minRows <= 0 {
		minRows = submitted
	}
	if minRows <= 0 {
		minRows = 1
	}

	preds := []verify.Predicate{verify.MinRows(minRows)}
	for _, expect := range rt.Expect {
		if pattern, ok := expect.Value.(string); ok && strings.Contains(pattern, "*") {
			preds = append(preds, verify.FieldMatches(expect.Field, pattern))
			continue
		}
		preds = append(preds, verify.FieldEquals(expect.Field, expect.Value))
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return verify.All(preds...)
}

// defaultQuery selects this run's events by the run id attribute.
// Params: eventType submitted event type; runID run tag.
// Returns: NRQL text.
func defaultQuery(eventType string, runID string) string {
	if eventType == "" {
		eventType = "AwsMskClusterSample"
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE `%s` = '%s' SINCE 30 minutes ago LIMIT MAX", eventType, AttrRunID, runID)
}

// writeTextfile writes the metrics textfile when configured.
// Params: path destination (empty skips); recorder metrics; logger for failures.
// Returns: none.
func writeTextfile(path string, recorder *transport.Recorder, logger *slog.Logger) {
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := recorder.WriteTextfile(path); err != nil {
		logger.Warn("metrics textfile not written", slog.String("error", err.Error()))
	}
}
