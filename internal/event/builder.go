package event

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Kind selects which schema profile an event is built with.
type Kind uint8

const (
	// Cluster is the top-level thing, e.g. a Kafka cluster.
	Cluster Kind = iota + 1
	// Member is one member of a cluster, e.g. a broker.
	Member
	// Subresource is a resource owned by a cluster, e.g. a topic.
	Subresource
)

// ParseKind maps a CLI or config name to a Kind.
// Params: name such as "cluster", "broker", "topic".
// Returns: kind or error for unknown names.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cluster":
		return Cluster, nil
	case "member", "broker":
		return Member, nil
	case "subresource", "topic":
		return Subresource, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q (want cluster, member, or subresource)", name)
	}
}

// String returns the canonical kind name.
func (k Kind) String() string {
	switch k {
	case Cluster:
		return "cluster"
	case Member:
		return "member"
	case Subresource:
		return "subresource"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Aggregate suffixes emitted for each metric when a profile expands aggregates.
const (
	AggAverage     = "Average"
	AggSum         = "Sum"
	AggMaximum     = "Maximum"
	AggMinimum     = "Minimum"
	AggSampleCount = "SampleCount"
)

// Profile describes how one kind is laid out in the target schema.
// Params: event type, identifier/parent attribute names, metric prefix, aggregate flag, entity type.
// Returns: schema profile used by Builder.
type Profile struct {
	EventType     string
	IdentifierKey string
	ParentKey     string
	RequireParent bool
	MetricPrefix  string
	Aggregates    bool
	EntityType    string
}

// Schema maps kinds to their profiles.
type Schema map[Kind]Profile

// MSKSchema returns profiles shaped like the AWS MSK polling samples.
// Params: none.
// Returns: schema for cluster, broker, and topic samples.
func MSKSchema() Schema {
	return Schema{
		Cluster: {
			EventType:     "AwsMskClusterSample",
			IdentifierKey: "provider.clusterName",
			MetricPrefix:  "provider.",
			Aggregates:    true,
			EntityType:    "AWSMSKCLUSTER",
		},
		Member: {
			EventType:     "AwsMskBrokerSample",
			IdentifierKey: "provider.brokerId",
			ParentKey:     "provider.clusterName",
			RequireParent: true,
			MetricPrefix:  "provider.",
			Aggregates:    true,
			EntityType:    "AWSMSKBROKER",
		},
		Subresource: {
			EventType:     "AwsMskTopicSample",
			IdentifierKey: "provider.topic",
			ParentKey:     "provider.clusterName",
			RequireParent: true,
			MetricPrefix:  "provider.",
			Aggregates:    true,
			EntityType:    "AWSMSKTOPIC",
		},
	}
}

// FlatSchema returns one profile for every kind with scalar metrics.
// Params: eventType shared event type; identifierKey attribute carrying the identifier.
// Returns: schema without aggregate expansion.
func FlatSchema(eventType string, identifierKey string) Schema {
	profile := Profile{
		EventType:     eventType,
		IdentifierKey: identifierKey,
		ParentKey:     "parent",
	}
	return Schema{Cluster: profile, Member: profile, Subresource: profile}
}

// Spec is the input for building one event.
// Series carries several samples per metric; Metrics is shorthand for one-sample series.
// Params: kind, identifier, optional parent and event type override, metrics, series, extra attributes.
// Returns: build request.
type Spec struct {
	Kind       Kind
	Identifier string
	Parent     string
	EventType  string
	Metrics    map[string]float64
	Series     map[string][]float64
	Attributes map[string]Value
}

// RollUp collects the metrics of members into one parent spec.
// Params: kind parent kind; identifier parent identifier; members specs to aggregate.
// Returns: spec whose Series holds every member sample per metric name, in member order.
func RollUp(kind Kind, identifier string, members []Spec) Spec {
	series := make(map[string][]float64)
	for _, member := range members {
		for _, name := range sortedKeys(member.Metrics) {
			series[name] = append(series[name], member.Metrics[name])
		}
		for _, name := range sortedKeys(member.Series) {
			series[name] = append(series[name], member.Series[name]...)
		}
	}
	return Spec{Kind: kind, Identifier: identifier, Series: series}
}

// Builder constructs events from specs with a fixed schema and clock.
// Params: schema profiles, clock, shared attributes, optional account for entity GUIDs.
// Returns: pure event factory.
type Builder struct {
	schema    Schema
	clock     func() time.Time
	common    map[string]Value
	accountID string
}

// NewBuilder creates a builder.
// Params: schema profiles; clock time source (nil uses time.Now).
// Returns: builder instance.
func NewBuilder(schema Schema, clock func() time.Time) *Builder {
	if clock == nil {
		clock = time.Now
	}
	return &Builder{schema: schema, clock: clock, common: map[string]Value{}}
}

// WithCommon returns a copy of the builder that adds attrs to every event.
// Params: attrs shared attributes such as run id or region.
// Returns: derived builder.
func (b *Builder) WithCommon(attrs map[string]Value) *Builder {
	next := *b
	next.common = make(map[string]Value, len(b.common)+len(attrs))
	for key, value := range b.common {
		next.common[key] = value
	}
	for key, value := range attrs {
		next.common[key] = value
	}
	return &next
}

// WithEntityGUID returns a copy of the builder that stamps entity.guid attributes.
// Params: accountID account identifier embedded in the GUID.
// Returns: derived builder.
func (b *Builder) WithEntityGUID(accountID string) *Builder {
	next := *b
	next.accountID = strings.TrimSpace(accountID)
	return &next
}

// Build validates spec and produces one event.
// Params: spec build request.
// Returns: event or *ValidationError for malformed input.
func (b *Builder) Build(spec Spec) (Event, error) {
	identifier := strings.TrimSpace(spec.Identifier)
	if identifier == "" {
		return Event{}, &ValidationError{Field: "identifier", Reason: "cannot be empty"}
	}
	profile, ok := b.schema[spec.Kind]
	if !ok {
		return Event{}, &ValidationError{Field: "kind", Reason: fmt.Sprintf("%s has no schema profile", spec.Kind)}
	}
	if profile.RequireParent && strings.TrimSpace(spec.Parent) == "" {
		return Event{}, &ValidationError{Field: "parent", Reason: fmt.Sprintf("required for %s events", spec.Kind)}
	}
	series, err := mergeSeries(spec.Metrics, spec.Series)
	if err != nil {
		return Event{}, err
	}

	eventType := profile.EventType
	if override := strings.TrimSpace(spec.EventType); override != "" {
		eventType = override
	}
	out, err := New(eventType, b.clock())
	if err != nil {
		return Event{}, err
	}

	identifierKey := profile.IdentifierKey
	if identifierKey == "" {
		identifierKey = "name"
	}
	if err := out.Set(identifierKey, String(identifier)); err != nil {
		return Event{}, err
	}
	parent := strings.TrimSpace(spec.Parent)
	if parent != "" && profile.ParentKey != "" {
		if err := out.Set(profile.ParentKey, String(parent)); err != nil {
			return Event{}, err
		}
	}
	if b.accountID != "" && profile.EntityType != "" {
		if err := out.Set("entity.guid", String(entityGUIDFor(b.accountID, profile.EntityType, spec.Kind, identifier, parent))); err != nil {
			return Event{}, err
		}
	}

	if err := setSorted(&out, b.common); err != nil {
		return Event{}, err
	}
	if err := setSorted(&out, spec.Attributes); err != nil {
		return Event{}, err
	}

	for _, name := range sortedKeys(series) {
		if err := setMetric(&out, profile, name, series[name]); err != nil {
			return Event{}, err
		}
	}

	return out, nil
}

// BuildAll builds one event per spec, failing on the first invalid spec.
// Params: specs build requests.
// Returns: events in input order or the first validation error.
func (b *Builder) BuildAll(specs []Spec) ([]Event, error) {
	out := make([]Event, 0, len(specs))
	for idx, spec := range specs {
		built, err := b.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("spec[%d]: %w", idx, err)
		}
		out = append(out, built)
	}
	return out, nil
}

// setMetric writes one metric as scalar or as its aggregate set.
// Params: out target event; profile schema profile; name metric name; samples non-empty values.
// Returns: field error.
func setMetric(out *Event, profile Profile, name string, samples []float64) error {
	key := profile.MetricPrefix + name
	sum, maximum, minimum := samples[0], samples[0], samples[0]
	for _, sample := range samples[1:] {
		sum += sample
		maximum = math.Max(maximum, sample)
		minimum = math.Min(minimum, sample)
	}
	if !profile.Aggregates {
		return out.Set(key, Float(sum))
	}

	aggregates := []struct {
		suffix string
		value  Value
	}{
		{AggAverage, Float(sum / float64(len(samples)))},
		{AggSum, Float(sum)},
		{AggMaximum, Float(maximum)},
		{AggMinimum, Float(minimum)},
		{AggSampleCount, Int(int64(len(samples)))},
	}
	for _, agg := range aggregates {
		if err := out.Set(key+"."+agg.suffix, agg.value); err != nil {
			return err
		}
	}
	return nil
}

// mergeSeries validates metrics and series and folds them into one series map.
// Params: metrics single samples; series multi-sample values.
// Returns: merged series or *ValidationError.
func mergeSeries(metrics map[string]float64, series map[string][]float64) (map[string][]float64, error) {
	merged := make(map[string][]float64, len(metrics)+len(series))
	for name, value := range metrics {
		if err := validateSample(name, value); err != nil {
			return nil, err
		}
		merged[name] = []float64{value}
	}
	for name, values := range series {
		if _, dup := merged[name]; dup {
			return nil, &ValidationError{Field: "metrics." + name, Reason: "set as both metric and series"}
		}
		if len(values) == 0 {
			return nil, &ValidationError{Field: "metrics." + name, Reason: "series needs at least one sample"}
		}
		for _, value := range values {
			if err := validateSample(name, value); err != nil {
				return nil, err
			}
		}
		merged[name] = append([]float64(nil), values...)
	}
	return merged, nil
}

// validateSample rejects empty names and non-finite values.
func validateSample(name string, value float64) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "metrics", Reason: "metric name cannot be empty"}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &ValidationError{Field: "metrics." + name, Reason: "value must be finite"}
	}
	return nil
}

// setSorted writes attrs in sorted key order.
// Params: out target event; attrs attributes.
// Returns: field error.
func setSorted(out *Event, attrs map[string]Value) error {
	for _, key := range sortedKeys(attrs) {
		if err := out.Set(key, attrs[key]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
