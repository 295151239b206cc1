package threshold

import (
	"strings"
	"testing"
	"time"

	"github.com/torosent/strawberry/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "valid p95 ttft threshold",
			input: "ttft:p95 < 500",
			want: Threshold{
				Metric:    "ttft",
				Aggregate: "p95",
				Operator:  "<",
				Value:     500,
				Raw:       "ttft:p95 < 500",
			},
		},
		{
			name:  "valid failure rate threshold",
			input: "failed:rate < 0.01",
			want: Threshold{
				Metric:    "failed",
				Aggregate: "rate",
				Operator:  "<",
				Value:     0.01,
				Raw:       "failed:rate < 0.01",
			},
		},
		{
			name:  "valid p99 latency with <=",
			input: "latency:p99 <= 1000",
			want: Threshold{
				Metric:    "latency",
				Aggregate: "p99",
				Operator:  "<=",
				Value:     1000,
				Raw:       "latency:p99 <= 1000",
			},
		},
		{
			name:  "output token throughput without spaces",
			input: "decode_tokens:rate>100",
			want: Threshold{
				Metric:    "decode_tokens",
				Aggregate: "rate",
				Operator:  ">",
				Value:     100,
				Raw:       "decode_tokens:rate>100",
			},
		},
		{
			name:      "empty string",
			input:     "",
			wantError: true,
		},
		{
			name:      "invalid format - missing operator",
			input:     "ttft:p95 500",
			wantError: true,
		},
		{
			name:      "invalid metric",
			input:     "http_req_duration:p95 < 500",
			wantError: true,
		},
		{
			name:      "invalid aggregate",
			input:     "tpot:p85 < 500",
			wantError: true,
		},
		{
			name:      "invalid operator",
			input:     "tpot:p95 << 500",
			wantError: true,
		},
		{
			name:      "invalid value - not a number",
			input:     "tpot:p95 < abc",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("Parse() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	got, err := ParseMultiple([]string{"ttft:p95 < 500", "failed:rate < 0.01", "requests:rate > 1"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ParseMultiple() returned %d thresholds, want 3", len(got))
	}

	if got, err := ParseMultiple(nil); err != nil || got != nil {
		t.Fatalf("ParseMultiple(nil) = %v, %v", got, err)
	}

	_, err = ParseMultiple([]string{"ttft:p95 < 500", "invalid threshold"})
	if err == nil || !strings.Contains(err.Error(), "threshold[1]") {
		t.Fatalf("expected error naming threshold[1], got %v", err)
	}
}

func sampleStats() metrics.Stats {
	return metrics.Stats{
		Requests:       1000,
		Successes:      980,
		Failures:       20,
		Duration:       10 * time.Second,
		RequestsPerSec: 100,
		Latency: metrics.LatencySummary{
			Count: 980, MinMs: 200, MaxMs: 4000, MeanMs: 1200,
			P50Ms: 1000, P90Ms: 2500, P95Ms: 3000, P99Ms: 3800,
		},
		TimeToFirstToken: metrics.LatencySummary{
			Count: 990, MinMs: 10.5, MaxMs: 500.25, MeanMs: 100.75,
			P50Ms: 80.5, P90Ms: 200.25, P95Ms: 300.5, P99Ms: 400.5,
		},
		TimePerOutputToken: metrics.LatencySummary{
			Count: 50000, MinMs: 1, MaxMs: 90, MeanMs: 20,
			P50Ms: 18, P90Ms: 35, P95Ms: 45, P99Ms: 70,
		},
		DecodeTokens:       metrics.TokenSummary{Count: 980, Total: 123450},
		OutputTokensPerSec: 12345,
	}
}

func TestEvaluator(t *testing.T) {
	stats := sampleStats()

	tests := []struct {
		name       string
		thresholds []string
		wantPass   []bool
	}{
		{
			name: "all thresholds pass",
			thresholds: []string{
				"ttft:p99 < 500",
				"failed:rate < 0.05",
				"requests:rate > 50",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "some thresholds fail",
			thresholds: []string{
				"ttft:p99 < 300",
				"failed:rate < 0.01",
				"requests:rate > 50",
			},
			wantPass: []bool{false, false, true},
		},
		{
			name: "token latencies",
			thresholds: []string{
				"tpot:p50 < 20",
				"tpot:max < 60",
				"latency:avg <= 1200",
			},
			wantPass: []bool{true, false, true},
		},
		{
			name: "throughput",
			thresholds: []string{
				"decode_tokens:rate > 10000",
				"decode_tokens:count >= 123450",
				"requests:count == 1000",
			},
			wantPass: []bool{true, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thresholds, err := ParseMultiple(tt.thresholds)
			if err != nil {
				t.Fatalf("ParseMultiple() error = %v", err)
			}

			results := NewEvaluator(thresholds).Evaluate(stats)
			if len(results) != len(tt.wantPass) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.wantPass))
			}
			failed := false
			for i, result := range results {
				if result.Pass != tt.wantPass[i] {
					t.Errorf("threshold[%d] %q: got pass=%v, want %v (actual=%.2f)",
						i, result.Threshold.Raw, result.Pass, tt.wantPass[i], result.Actual)
				}
				failed = failed || !result.Pass
			}
			if Failed(results) != failed {
				t.Errorf("Failed() = %v, want %v", Failed(results), failed)
			}
		})
	}
}

func TestEvaluateWithoutThresholds(t *testing.T) {
	if results := NewEvaluator(nil).Evaluate(sampleStats()); results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
	if Failed(nil) {
		t.Fatal("no thresholds cannot fail")
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{"less than true", 50, "<", 100, true},
		{"less than equal", 100, "<", 100, false},
		{"less than or equal equal", 100, "<=", 100, true},
		{"less than or equal false", 150, "<=", 100, false},
		{"greater than true", 150, ">", 100, true},
		{"greater than equal", 100, ">", 100, false},
		{"greater than or equal equal", 100, ">=", 100, true},
		{"greater than or equal false", 50, ">=", 100, false},
		{"equal true", 100, "==", 100, true},
		{"equal false", 100, "==", 101, false},
		{"equal with floating point precision", 100.0000000001, "==", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compareValues(tt.actual, tt.operator, tt.expected)
			if got != tt.want {
				t.Errorf("compareValues(%.2f, %s, %.2f) = %v, want %v",
					tt.actual, tt.operator, tt.expected, got, tt.want)
			}
		})
	}
}

func TestExtractMetricValue(t *testing.T) {
	stats := sampleStats()

	tests := []struct {
		name      string
		threshold Threshold
		want      float64
		wantError bool
	}{
		{"ttft p50", Threshold{Metric: "ttft", Aggregate: "p50"}, 80.5, false},
		{"ttft p95", Threshold{Metric: "ttft", Aggregate: "p95"}, 300.5, false},
		{"ttft avg", Threshold{Metric: "ttft", Aggregate: "avg"}, 100.75, false},
		{"ttft count", Threshold{Metric: "ttft", Aggregate: "count"}, 990, false},
		{"tpot p90", Threshold{Metric: "tpot", Aggregate: "p90"}, 35, false},
		{"tpot min", Threshold{Metric: "tpot", Aggregate: "min"}, 1, false},
		{"latency max", Threshold{Metric: "latency", Aggregate: "max"}, 4000, false},
		{"failed rate", Threshold{Metric: "failed", Aggregate: "rate"}, 0.02, false},
		{"failed count", Threshold{Metric: "failed", Aggregate: "count"}, 20, false},
		{"requests rate", Threshold{Metric: "requests", Aggregate: "rate"}, 100, false},
		{"requests count", Threshold{Metric: "requests", Aggregate: "count"}, 1000, false},
		{"decode tokens rate", Threshold{Metric: "decode_tokens", Aggregate: "rate"}, 12345, false},
		{"decode tokens count", Threshold{Metric: "decode_tokens", Aggregate: "count"}, 123450, false},
		{"unsupported metric", Threshold{Metric: "invalid_metric", Aggregate: "p95"}, 0, true},
		{"unsupported aggregate for failed", Threshold{Metric: "failed", Aggregate: "p95"}, 0, true},
		{"unsupported aggregate for tokens", Threshold{Metric: "decode_tokens", Aggregate: "p50"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractMetricValue(tt.threshold, stats)
			if (err != nil) != tt.wantError {
				t.Errorf("extractMetricValue() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("extractMetricValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailedThresholdMessage(t *testing.T) {
	th, err := Parse("ttft:p99 < 100")
	if err != nil {
		t.Fatal(err)
	}
	results := NewEvaluator([]Threshold{th}).Evaluate(sampleStats())
	if results[0].Pass || !strings.Contains(results[0].Message, "✗") {
		t.Fatalf("unexpected result %+v", results[0])
	}
}
