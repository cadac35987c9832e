// Package metrics defines the minimal metrics surface the mapping service
// emits through. Callers depend only on Backend; concrete exporters live
// in subpackages and are selected at startup.
package metrics

// Labels carries metric dimensions as plain key/value pairs.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use; observation calls must never block request handling.
type Backend interface {
	// IncCounter adds delta to a monotonically increasing counter.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a distribution.
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush submits any buffered observations.
	Flush() error

	// Close stops background work and performs a final Flush.
	Close() error
}

// Metric names emitted by the service. Exporters may ignore names they do
// not know.
const (
	// MetricAutomapTotal counts auto-map runs, labeled mode=single|dual
	// and changed=true|false.
	MetricAutomapTotal = "chmap_automap_total"

	// MetricValidateTotal counts validation runs, labeled category and
	// blocking=true|false.
	MetricValidateTotal = "chmap_validate_total"

	// MetricDeployTotal counts deploy attempts, labeled
	// outcome=saved|rejected|unconfirmed.
	MetricDeployTotal = "chmap_deploy_total"

	// MetricRequestDurationSeconds records HTTP handler latency, labeled
	// route and status.
	MetricRequestDurationSeconds = "chmap_request_duration_seconds"

	// MetricSampleBytes records the size of sampled Kafka events,
	// labeled topic.
	MetricSampleBytes = "chmap_sample_bytes"
)

// Noop discards all observations. It is the default backend so callers
// never need nil checks.
type Noop struct{}

func (Noop) IncCounter(string, float64, Labels)       {}
func (Noop) ObserveHistogram(string, float64, Labels) {}
func (Noop) Flush() error                             { return nil }
func (Noop) Close() error                             { return nil }

var _ Backend = Noop{}
