package metrics_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/torosent/strawberry/internal/metrics"
)

func TestCollectorLatencyStats(t *testing.T) {
	c := metrics.NewCollector()

	for _, ms := range []float64{10, 20, 30, 40, 50} {
		c.Observe(metrics.RequestTotalLatency, ms/1000, nil)
	}

	stats := c.Stats(0)
	lat := stats.Latency
	if lat.Count != 5 {
		t.Fatalf("expected count 5, got %d", lat.Count)
	}
	if lat.Min != 10*time.Millisecond {
		t.Errorf("expected min 10ms, got %s", lat.Min)
	}
	if lat.Max != 50*time.Millisecond {
		t.Errorf("expected max 50ms, got %s", lat.Max)
	}
	if lat.Mean != 30*time.Millisecond {
		t.Errorf("expected mean 30ms, got %s", lat.Mean)
	}
	if lat.MeanMs != 30 {
		t.Errorf("expected mean_ms 30, got %f", lat.MeanMs)
	}
}

func TestPercentilesCalculations(t *testing.T) {
	c := metrics.NewCollector()

	// 100 samples: 1ms, 2ms, ..., 100ms.
	for i := 1; i <= 100; i++ {
		c.Observe(metrics.TimeToFirstToken, float64(i)/1000, nil)
	}

	ttft := c.Stats(0).TimeToFirstToken
	within := func(name string, got, want time.Duration) {
		t.Helper()
		diff := got - want
		if diff < 0 {
			diff = -diff
		}
		if diff > 200*time.Microsecond {
			t.Errorf("%s: expected ~%s, got %s", name, want, got)
		}
	}
	within("p50", ttft.P50, 50*time.Millisecond)
	within("p90", ttft.P90, 90*time.Millisecond)
	within("p95", ttft.P95, 95*time.Millisecond)
	within("p99", ttft.P99, 99*time.Millisecond)
}

func TestCollectorStatusCodes(t *testing.T) {
	c := metrics.NewCollector()

	codes := []string{"200", "200", "429", "503", "400", "200"}
	for _, code := range codes {
		c.Inc(metrics.RequestsCount, nil)
		c.Inc(metrics.ResponseCodeCount, metrics.Labels{metrics.LabelCode: code})
	}

	stats := c.Stats(2 * time.Second)
	if stats.Requests != 6 {
		t.Fatalf("expected 6 requests, got %d", stats.Requests)
	}
	if stats.Successes != 3 || stats.Failures != 3 {
		t.Fatalf("expected 3/3 successes/failures, got %d/%d", stats.Successes, stats.Failures)
	}
	if stats.StatusCodes["200"] != 3 || stats.StatusCodes["429"] != 1 {
		t.Fatalf("unexpected status codes: %v", stats.StatusCodes)
	}
	if stats.RequestsPerSec != 3 {
		t.Fatalf("expected 3 req/s, got %f", stats.RequestsPerSec)
	}
}

func TestCollectorTokens(t *testing.T) {
	c := metrics.NewCollector()

	c.Observe(metrics.PrefillTokens, 10, nil)
	c.Observe(metrics.PrefillTokens, 30, nil)
	c.Observe(metrics.DecodeTokens, 2, nil)
	c.Observe(metrics.DecodeTokens, 8, nil)

	stats := c.Stats(time.Second)
	if stats.PrefillTokens.Total != 40 || stats.PrefillTokens.Count != 2 {
		t.Fatalf("unexpected prefill summary: %+v", stats.PrefillTokens)
	}
	if stats.PrefillTokens.Mean != 20 {
		t.Fatalf("expected prefill mean 20, got %f", stats.PrefillTokens.Mean)
	}
	if stats.DecodeTokens.Total != 10 {
		t.Fatalf("expected decode total 10, got %d", stats.DecodeTokens.Total)
	}
	if stats.OutputTokensPerSec != 10 {
		t.Fatalf("expected 10 output tokens/s, got %f", stats.OutputTokensPerSec)
	}
}

func TestCollectorUsers(t *testing.T) {
	c := metrics.NewCollector()

	for i := 0; i < 3; i++ {
		c.Inc(metrics.UsersSpawned, nil)
		c.AddGauge(metrics.ActiveUsers, 1, nil)
	}
	c.AddGauge(metrics.ActiveUsers, -1, nil)

	stats := c.Stats(0)
	if stats.UsersSpawned != 3 {
		t.Fatalf("expected 3 spawned, got %d", stats.UsersSpawned)
	}
	if stats.PeakActiveUsers != 3 || stats.ActiveUsers != 2 {
		t.Fatalf("expected peak 3 active 2, got %d/%d", stats.PeakActiveUsers, stats.ActiveUsers)
	}
}

func TestCollectorIgnoresInvalidObservations(t *testing.T) {
	c := metrics.NewCollector()
	c.Observe(metrics.RequestTotalLatency, -1, nil)
	c.Observe("unknown_metric", 1, nil)

	if got := c.Stats(0).Latency.Count; got != 0 {
		t.Fatalf("expected no latency samples, got %d", got)
	}
}

func TestCollectorConcurrentUse(t *testing.T) {
	c := metrics.NewCollector()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				c.Inc(metrics.RequestsCount, nil)
				c.Inc(metrics.ResponseCodeCount, metrics.Labels{metrics.LabelCode: "200"})
				c.Observe(metrics.RequestTotalLatency, 0.01, nil)
			}
		}()
	}
	wg.Wait()

	stats := c.Stats(0)
	if stats.Requests != 2000 || stats.Latency.Count != 2000 {
		t.Fatalf("expected 2000 requests and samples, got %d/%d", stats.Requests, stats.Latency.Count)
	}
}

func TestStatsJSONUsesMilliseconds(t *testing.T) {
	c := metrics.NewCollector()
	c.Observe(metrics.RequestTotalLatency, 0.25, nil)

	data, err := json.Marshal(c.Stats(time.Second))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	latency, ok := decoded["latency"].(map[string]any)
	if !ok {
		t.Fatalf("missing latency object in %s", data)
	}
	if latency["max_ms"] != 250.0 {
		t.Fatalf("expected max_ms 250, got %v", latency["max_ms"])
	}
	if decoded["duration_ms"] != 1000.0 {
		t.Fatalf("expected duration_ms 1000, got %v", decoded["duration_ms"])
	}
}
