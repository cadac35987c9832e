package datadog

import (
	"context"
	"errors"
	"net/http"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"chmap/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func newTestBackend(t *testing.T, sub *fakeSubmitter) *Backend {
	t.Helper()

	b, err := NewBackend(context.Background(), Options{
		ServiceName: "chmap-test",
		FlushEvery:  time.Hour, // tests flush manually
		submitter:   sub,
		now:         func() time.Time { return time.Unix(1234567, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// TestResolveEnvTag verifies environment-tag precedence and defaults.
//
// Edge cases:
//   - ENV wins over DD_ENV.
//   - Whitespace-only env vars are ignored.
//   - If neither is set, "env:unknown" is returned.
func TestResolveEnvTag(t *testing.T) {
	oldENV := os.Getenv("ENV")
	oldDDENV := os.Getenv("DD_ENV")
	t.Cleanup(func() {
		_ = os.Setenv("ENV", oldENV)
		_ = os.Setenv("DD_ENV", oldDDENV)
	})

	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Setenv("ENV", tc.env)
			_ = os.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

// TestPairKeyRoundTrip verifies key encoding/decoding.
func TestPairKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		a, b  string
		wantA string
		wantB string
	}{
		{name: "normal", a: "single", b: "true", wantA: "single", wantB: "true"},
		{name: "empty_first", a: "", b: "true", wantA: "unknown", wantB: "true"},
		{name: "empty_second", a: "dual", b: "", wantA: "dual", wantB: "unknown"},
		{name: "both_empty", a: "", b: "", wantA: "unknown", wantB: "unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotA, gotB := splitPairKey(pairKey(tc.a, tc.b))
			if gotA != tc.wantA || gotB != tc.wantB {
				t.Fatalf("roundtrip got=(%q,%q), want=(%q,%q)", gotA, gotB, tc.wantA, tc.wantB)
			}
		})
	}

	t.Run("split_without_separator_defaults_unknown", func(t *testing.T) {
		a, b := splitPairKey("no-sep")
		if a != "no-sep" || b != "unknown" {
			t.Fatalf("splitPairKey()=(%q,%q), want=(%q,%q)", a, b, "no-sep", "unknown")
		}
	})
}

// TestWithTags verifies tag concatenation and immutability.
func TestWithTags(t *testing.T) {
	base := []string{"env:test", "service:chmap"}
	extras := []string{"mode:dual", "changed:true"}
	got := withTags(base, extras...)
	want := []string{"env:test", "service:chmap", "mode:dual", "changed:true"}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("withTags()=%v, want %v", got, want)
	}
	got[0] = "env:mutated"
	if base[0] == "env:mutated" {
		t.Fatalf("withTags output aliases base slice")
	}
}

// TestPercentileNearestRank verifies percentile behavior.
func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

// TestBuildSeries verifies the naming/tagging contract of the payload
// builder at a fixed timestamp.
func TestBuildSeries(t *testing.T) {
	b := &Backend{baseTags: []string{"env:test", "service:chmap"}}

	snap := snapshot{
		automapCounts: map[string]float64{
			pairKey("single", "true"): 2,
		},
		validateCounts: map[string]float64{
			pairKey("incompatible-type", "true"): 1,
		},
		deployCounts: map[string]float64{"saved": 3},
		requestDur: map[string][]float64{
			pairKey("validate", "200"): {0.01, 0.02, 0.03},
		},
		sampleBytes: map[string][]float64{"orders": {128, 256}},
	}

	series := b.buildSeries(snap, 1234567)

	byMetric := map[string][]datadogV2.MetricSeries{}
	for _, s := range series {
		byMetric[s.Metric] = append(byMetric[s.Metric], s)
	}

	am := byMetric["chmap.automap.total"]
	if len(am) != 1 {
		t.Fatalf("automap series=%d, want 1", len(am))
	}
	if *am[0].Type != datadogV2.METRICINTAKETYPE_COUNT {
		t.Fatalf("automap type=%v, want COUNT", *am[0].Type)
	}
	if *am[0].Points[0].Value != 2 || *am[0].Points[0].Timestamp != 1234567 {
		t.Fatalf("automap point=%+v", am[0].Points[0])
	}
	wantTags := []string{"env:test", "service:chmap", "mode:single", "changed:true"}
	if !reflect.DeepEqual(am[0].Tags, wantTags) {
		t.Fatalf("automap tags=%v, want %v", am[0].Tags, wantTags)
	}

	if len(byMetric["chmap.validate.total"]) != 1 {
		t.Fatalf("validate series missing")
	}
	if len(byMetric["chmap.deploy.total"]) != 1 {
		t.Fatalf("deploy series missing")
	}

	// Percentile gauges per sample family.
	for _, metric := range []string{
		"chmap.request.duration_seconds.p50",
		"chmap.request.duration_seconds.max",
		"chmap.request.duration_seconds.samples",
		"chmap.sample.bytes.p99",
	} {
		if len(byMetric[metric]) != 1 {
			t.Fatalf("missing gauge %q in %v", metric, byMetric)
		}
	}
	if v := *byMetric["chmap.request.duration_seconds.samples"][0].Points[0].Value; v != 3 {
		t.Fatalf("request duration samples=%v, want 3", v)
	}
}

// TestBuildSeriesSkipsZeroCounts verifies zero-valued counters are dropped.
func TestBuildSeriesSkipsZeroCounts(t *testing.T) {
	b := &Backend{baseTags: []string{"env:test"}}
	snap := snapshot{
		deployCounts: map[string]float64{"saved": 0},
	}
	if series := b.buildSeries(snap, 1); len(series) != 0 {
		t.Fatalf("series=%v, want empty", series)
	}
}

// TestFlushSubmitsAndResets verifies flush drains buffers and an empty
// follow-up flush submits nothing.
func TestFlushSubmitsAndResets(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter(metrics.MetricDeployTotal, 1, metrics.Labels{"outcome": "saved"})
	b.ObserveHistogram(metrics.MetricSampleBytes, 64, metrics.Labels{"topic": "orders"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if sub.count() != 1 {
		t.Fatalf("payloads=%d, want 1", sub.count())
	}
	payload, ok := sub.last()
	if !ok || len(payload.Series) == 0 {
		t.Fatalf("empty payload after first flush")
	}

	if err := b.Flush(); err != nil {
		t.Fatalf("empty Flush: %v", err)
	}
	if sub.count() != 1 {
		t.Fatalf("empty flush submitted a payload: %d", sub.count())
	}
}

// TestFlushReturnsSubmitError verifies submission errors surface while
// buffers still reset.
func TestFlushReturnsSubmitError(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("intake down")}
	b := newTestBackend(t, sub)

	b.IncCounter(metrics.MetricAutomapTotal, 1, metrics.Labels{"mode": "single", "changed": "true"})

	if err := b.Flush(); err == nil {
		t.Fatal("Flush returned nil, want submit error")
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("buffers were not reset after failed flush: %v", err)
	}
}

// TestIgnoresUnknownAndInvalid verifies the observation guards.
func TestIgnoresUnknownAndInvalid(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter("someone_elses_metric", 1, nil)
	b.IncCounter(metrics.MetricDeployTotal, -1, metrics.Labels{"outcome": "saved"})
	b.ObserveHistogram("someone_elses_histogram", 1, nil)
	b.ObserveHistogram(metrics.MetricSampleBytes, -5, metrics.Labels{"topic": "orders"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if sub.count() != 0 {
		t.Fatalf("guarded observations produced a payload: %d", sub.count())
	}
}
