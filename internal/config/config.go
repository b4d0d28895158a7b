package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultLogLevel        = "info"
	defaultLogFormat       = "line"
	defaultRegion          = RegionUS
	defaultCallTimeout     = 30 * time.Second
	defaultMaxAttempts     = 3
	defaultInitialBackoff  = time.Second
	defaultMaxBackoff      = 30 * time.Second
	defaultMaxBatchEvents  = 1000
	defaultQueryMaxPages   = 10
	defaultVerifyInterval  = 10 * time.Second
	defaultVerifyDeadline  = 5 * time.Minute
	defaultVerifyBackoffX  = 1.0
	defaultVerifyBackoffTo = 2 * time.Minute
	defaultDebugListen     = "127.0.0.1:6060"
)

// Supported region names.
const (
	RegionUS = "us"
	RegionEU = "eu"
)

// Environment variable names consulted for credentials, highest precedence first.
var (
	envAccountID = []string{"TELPROBE_ACCOUNT_ID", "NEW_RELIC_ACCOUNT_ID"}
	envIngestKey = []string{"TELPROBE_INGEST_KEY", "NEW_RELIC_LICENSE_KEY"}
	envQueryKey  = []string{"TELPROBE_QUERY_KEY", "NEW_RELIC_API_KEY"}
	envRegion    = []string{"TELPROBE_REGION", "NEW_RELIC_REGION"}
)

// Error reports a missing or malformed configuration value.
// Params: Field names the offending config path; Reason describes the problem.
// Returns: error value usable with errors.As.
type Error struct {
	Field  string
	Reason string
}

// Error renders the configuration failure.
// Params: none.
// Returns: message with field path and reason.
func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root probe configuration.
// Params: TOML document sections plus env/dotenv overrides.
// Returns: validated runtime configuration.
type Config struct {
	Account AccountConfig `toml:"account"`
	Ingest  IngestConfig  `toml:"ingest"`
	Query   QueryConfig   `toml:"query"`
	Verify  VerifyConfig  `toml:"verify"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Debug   DebugConfig   `toml:"debug"`
}

// AccountConfig holds the account identifier, credentials, and region.
// Params: values from TOML, dotenv, or environment.
// Returns: credential set shared read-only by all clients.
type AccountConfig struct {
	ID        string `toml:"id"`
	IngestKey string `toml:"ingest_key"`
	QueryKey  string `toml:"query_key"`
	Region    string `toml:"region"`
}

// RetryConfig defines the shared bounded retry policy.
// Params: attempt bound and exponential backoff limits.
// Returns: retry settings for one client.
type RetryConfig struct {
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// IngestConfig defines ingest endpoint and batching behavior.
// Params: endpoint override, per-call timeout, batch limit, compression, retry.
// Returns: ingest client settings.
type IngestConfig struct {
	Endpoint  string      `toml:"endpoint"`
	Timeout   Duration    `toml:"timeout"`
	MaxBatch  int         `toml:"max_batch"`
	Gzip      bool        `toml:"gzip"`
	Retry     RetryConfig `toml:"retry"`
	EventType string      `toml:"event_type"`
}

// QueryConfig defines query endpoint behavior.
// Params: endpoint override, per-call timeout, paging and rate limits, retry.
// Returns: query client settings.
type QueryConfig struct {
	Endpoint  string      `toml:"endpoint"`
	Timeout   Duration    `toml:"timeout"`
	MaxPages  int         `toml:"max_pages"`
	RateLimit float64     `toml:"rate_limit"`
	Burst     int         `toml:"burst"`
	Retry     RetryConfig `toml:"retry"`
}

// VerifyConfig defines polling cadence for the verification loop.
// Params: interval between ticks, overall deadline, optional backoff growth.
// Returns: verification engine settings.
type VerifyConfig struct {
	Interval   Duration `toml:"interval"`
	Deadline   Duration `toml:"deadline"`
	Multiplier float64  `toml:"multiplier"`
	MaxDelay   Duration `toml:"max_delay"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// MetricsConfig controls the optional Prometheus textfile written at exit.
// Params: textfile path; empty disables output.
// Returns: metrics output settings.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// DebugConfig controls the optional pprof and live metrics listener.
// Params: enabled flag and listen address.
// Returns: debug endpoint settings.
type DebugConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Sources names where configuration is read from.
// Params: ConfigPath optional TOML file; EnvFile optional dotenv file; LookupEnv env accessor.
// Returns: source set for Load.
type Sources struct {
	ConfigPath string
	EnvFile    string
	LookupEnv  func(string) (string, bool)
}

// Load reads TOML, dotenv, and environment sources, then validates the result.
// Params: src describes optional files and env accessor (defaults to os.LookupEnv).
// Returns: validated config pointer or error; credential failures are *Error.
func Load(src Sources) (*Config, error) {
	var cfg Config

	if strings.TrimSpace(src.ConfigPath) != "" {
		raw, err := os.ReadFile(src.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", src.ConfigPath, err)
		}
		expanded := os.ExpandEnv(string(raw))
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode TOML %q: %w", src.ConfigPath, err)
		}
	}

	if strings.TrimSpace(src.EnvFile) != "" {
		values, err := godotenv.Read(src.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %q: %w", src.EnvFile, err)
		}
		cfg.applyLookup(mapLookup(values))
	}

	lookup := src.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg.applyLookup(lookup)

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IngestURL returns the effective ingest endpoint for the configured account and region.
// Params: none.
// Returns: absolute URL string.
func (c *Config) IngestURL() string {
	if endpoint := strings.TrimSpace(c.Ingest.Endpoint); endpoint != "" {
		return strings.ReplaceAll(endpoint, "{account}", c.Account.ID)
	}
	host := "insights-collector.newrelic.com"
	if c.Account.Region == RegionEU {
		host = "insights-collector.eu01.nr-data.net"
	}
	return "https://" + host + "/v1/accounts/" + c.Account.ID + "/events"
}

// QueryURL returns the effective query endpoint for the configured region.
// Params: none.
// Returns: absolute URL string.
func (c *Config) QueryURL() string {
	if endpoint := strings.TrimSpace(c.Query.Endpoint); endpoint != "" {
		return endpoint
	}
	if c.Account.Region == RegionEU {
		return "https://api.eu.newrelic.com/graphql"
	}
	return "https://api.newrelic.com/graphql"
}

// AccountNumber returns the account identifier as an integer.
// Params: none.
// Returns: numeric id; validate guarantees it parses.
func (c *Config) AccountNumber() int64 {
	id, _ := strconv.ParseInt(c.Account.ID, 10, 64)
	return id
}

// applyLookup overrides account fields from a key lookup function.
// Params: lookup returns value and presence for one key.
// Returns: none.
func (c *Config) applyLookup(lookup func(string) (string, bool)) {
	if value, ok := firstValue(lookup, envAccountID); ok {
		c.Account.ID = value
	}
	if value, ok := firstValue(lookup, envIngestKey); ok {
		c.Account.IngestKey = value
	}
	if value, ok := firstValue(lookup, envQueryKey); ok {
		c.Account.QueryKey = value
	}
	if value, ok := firstValue(lookup, envRegion); ok {
		c.Account.Region = value
	}
}

// firstValue returns the first non-empty value among keys.
// Params: lookup accessor; keys ordered by precedence.
// Returns: trimmed value and true when any key is set.
func firstValue(lookup func(string) (string, bool), keys []string) (string, bool) {
	for _, key := range keys {
		value, ok := lookup(key)
		if ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

// mapLookup adapts a parsed dotenv map to a lookup accessor.
// Params: values parsed key/value pairs.
// Returns: lookup function.
func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: none.
func (c *Config) applyDefaults() {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	c.Account.Region = lowerOrDefault(c.Account.Region, defaultRegion)

	if c.Ingest.Timeout.Duration <= 0 {
		c.Ingest.Timeout.Duration = defaultCallTimeout
	}
	if c.Ingest.MaxBatch == 0 {
		c.Ingest.MaxBatch = defaultMaxBatchEvents
	}
	applyRetryDefaults(&c.Ingest.Retry)

	if c.Query.Timeout.Duration <= 0 {
		c.Query.Timeout.Duration = defaultCallTimeout
	}
	if c.Query.MaxPages == 0 {
		c.Query.MaxPages = defaultQueryMaxPages
	}
	if c.Query.RateLimit > 0 && c.Query.Burst == 0 {
		c.Query.Burst = 1
	}
	applyRetryDefaults(&c.Query.Retry)

	if c.Verify.Interval.Duration <= 0 {
		c.Verify.Interval.Duration = defaultVerifyInterval
	}
	if c.Verify.Deadline.Duration <= 0 {
		c.Verify.Deadline.Duration = defaultVerifyDeadline
	}
	if c.Verify.Multiplier == 0 {
		c.Verify.Multiplier = defaultVerifyBackoffX
	}
	if c.Verify.MaxDelay.Duration <= 0 {
		c.Verify.MaxDelay.Duration = defaultVerifyBackoffTo
	}

	if c.Debug.Enabled && strings.TrimSpace(c.Debug.Listen) == "" {
		c.Debug.Listen = defaultDebugListen
	}
}

// applyRetryDefaults fills the bounded retry policy defaults.
// Params: retry config pointer.
// Returns: none.
func applyRetryDefaults(retry *RetryConfig) {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff.Duration <= 0 {
		retry.InitialBackoff.Duration = defaultInitialBackoff
	}
	if retry.MaxBackoff.Duration <= 0 {
		retry.MaxBackoff.Duration = defaultMaxBackoff
	}
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: *Error for invalid or incomplete config.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Account.ID) == "" {
		return &Error{Field: "account.id", Reason: "is required (set TELPROBE_ACCOUNT_ID)"}
	}
	if _, err := strconv.ParseInt(c.Account.ID, 10, 64); err != nil {
		return &Error{Field: "account.id", Reason: fmt.Sprintf("must be numeric, got %q", c.Account.ID)}
	}
	if strings.TrimSpace(c.Account.IngestKey) == "" {
		return &Error{Field: "account.ingest_key", Reason: "is required (set TELPROBE_INGEST_KEY)"}
	}
	if strings.TrimSpace(c.Account.QueryKey) == "" {
		return &Error{Field: "account.query_key", Reason: "is required (set TELPROBE_QUERY_KEY)"}
	}
	switch c.Account.Region {
	case RegionUS, RegionEU:
	default:
		return &Error{Field: "account.region", Reason: fmt.Sprintf("unsupported value %q", c.Account.Region)}
	}

	if err := validateEndpoint("ingest.endpoint", c.IngestURL()); err != nil {
		return err
	}
	if err := validateEndpoint("query.endpoint", c.QueryURL()); err != nil {
		return err
	}
	if c.Ingest.MaxBatch < 0 {
		return &Error{Field: "ingest.max_batch", Reason: "must be > 0"}
	}
	if c.Query.MaxPages < 0 {
		return &Error{Field: "query.max_pages", Reason: "must be > 0"}
	}
	if c.Query.RateLimit < 0 {
		return &Error{Field: "query.rate_limit", Reason: "cannot be negative"}
	}
	if err := validateRetry("ingest.retry", c.Ingest.Retry); err != nil {
		return err
	}
	if err := validateRetry("query.retry", c.Query.Retry); err != nil {
		return err
	}
	if c.Verify.Multiplier < 1 {
		return &Error{Field: "verify.multiplier", Reason: "must be >= 1"}
	}

	if c.Debug.Enabled {
		if _, _, err := net.SplitHostPort(c.Debug.Listen); err != nil {
			return &Error{Field: "debug.listen", Reason: err.Error()}
		}
	}

	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}

	return nil
}

// validateEndpoint checks that an endpoint is an absolute http(s) URL.
// Params: field config path; raw endpoint value.
// Returns: *Error when malformed.
func validateEndpoint(field string, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return &Error{Field: field, Reason: err.Error()}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &Error{Field: field, Reason: fmt.Sprintf("must be http(s) URL, got %q", raw)}
	}
	if parsed.Host == "" {
		return &Error{Field: field, Reason: fmt.Sprintf("missing host in %q", raw)}
	}
	return nil
}

// validateRetry validates a retry policy section.
// Params: field config path; retry section.
// Returns: *Error for invalid values.
func validateRetry(field string, retry RetryConfig) error {
	if retry.MaxAttempts < 1 {
		return &Error{Field: field + ".max_attempts", Reason: "must be >= 1"}
	}
	if retry.MaxBackoff.Duration < retry.InitialBackoff.Duration {
		return &Error{Field: field + ".max_backoff", Reason: "must be >= initial_backoff"}
	}
	return nil
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return &Error{Field: name + ".path", Reason: "is required when sink is enabled"}
	}

	switch sink.Level {
	case "debug", "info", "warn", "error":
	default:
		return &Error{Field: name + ".level", Reason: fmt.Sprintf("unsupported value %q", sink.Level)}
	}
	switch sink.Format {
	case "line", "json":
	default:
		return &Error{Field: name + ".format", Reason: fmt.Sprintf("unsupported value %q", sink.Format)}
	}

	return nil
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}
