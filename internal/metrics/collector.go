package metrics

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector aggregates observations in process for the end-of-run summary.
type Collector struct {
	mu       sync.Mutex
	start    time.Time
	latency  map[string]*latencySeries
	tokens   map[string]*tokenSeries
	counters map[string]int64
	statuses map[string]int64

	activeUsers float64
	peakUsers   float64
}

type latencySeries struct {
	hist *hdrhistogram.Histogram
	sum  time.Duration
	min  time.Duration
	max  time.Duration
}

type tokenSeries struct {
	hist  *hdrhistogram.Histogram
	total int64
}

// LatencySummary describes one latency distribution.
type LatencySummary struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"-"`
	Max   time.Duration `json:"-"`
	Mean  time.Duration `json:"-"`
	P50   time.Duration `json:"-"`
	P90   time.Duration `json:"-"`
	P95   time.Duration `json:"-"`
	P99   time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P90Ms  float64 `json:"p90_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// TokenSummary describes one token count distribution.
type TokenSummary struct {
	Count int64   `json:"count"`
	Total int64   `json:"total"`
	Mean  float64 `json:"mean"`
	P50   int64   `json:"p50"`
	P99   int64   `json:"p99"`
	Max   int64   `json:"max"`
}

// Stats is the aggregated view of a run.
type Stats struct {
	Requests        int64            `json:"requests"`
	Successes       int64            `json:"successes"`
	Failures        int64            `json:"failures"`
	StatusCodes     map[string]int64 `json:"status_codes,omitempty"`
	UsersSpawned    int64            `json:"users_spawned"`
	PeakActiveUsers int64            `json:"peak_active_users"`
	ActiveUsers     int64            `json:"active_users"`

	Duration       time.Duration `json:"-"`
	DurationMs     float64       `json:"duration_ms"`
	RequestsPerSec float64       `json:"requests_per_sec"`

	Latency            LatencySummary `json:"latency"`
	TimeToFirstToken   LatencySummary `json:"time_to_first_token"`
	TimePerOutputToken LatencySummary `json:"time_per_output_token"`
	DecodeTime         LatencySummary `json:"decode_time"`

	PrefillTokens      TokenSummary `json:"prefill_tokens"`
	DecodeTokens       TokenSummary `json:"decode_tokens"`
	OutputTokensPerSec float64      `json:"output_tokens_per_sec"`
}

func NewCollector() *Collector {
	return &Collector{
		start:    time.Now(),
		latency:  map[string]*latencySeries{},
		tokens:   map[string]*tokenSeries{},
		counters: map[string]int64{},
		statuses: map[string]int64{},
	}
}

// Start resets the reference time used by Elapsed.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
}

// Elapsed returns the time since Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

func (c *Collector) Inc(name string, labels Labels) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters[name]++
	if name == ResponseCodeCount {
		code := labels[LabelCode]
		if code == "" {
			code = "UNKNOWN"
		}
		c.statuses[code]++
	}
}

func (c *Collector) Observe(name string, value float64, _ Labels) {
	if math.IsNaN(value) || value < 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch name {
	case RequestTotalLatency, TimeToFirstToken, TimePerOutputToken, PrefillTime, DecodeTime:
		s, ok := c.latency[name]
		if !ok {
			// 1µs up to 10 minutes with 3 significant figures.
			s = &latencySeries{hist: hdrhistogram.New(1, 600_000_000, 3)}
			c.latency[name] = s
		}
		d := time.Duration(value * float64(time.Second))
		recordClamped(s.hist, d.Microseconds())
		s.sum += d
		if s.hist.TotalCount() == 1 || d < s.min {
			s.min = d
		}
		if d > s.max {
			s.max = d
		}
	case PrefillTokens, DecodeTokens:
		s, ok := c.tokens[name]
		if !ok {
			s = &tokenSeries{hist: hdrhistogram.New(1, 10_000_000, 3)}
			c.tokens[name] = s
		}
		n := int64(value)
		recordClamped(s.hist, n)
		s.total += n
	}
}

func (c *Collector) AddGauge(name string, delta float64, _ Labels) {
	if name != ActiveUsers {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeUsers += delta
	if c.activeUsers > c.peakUsers {
		c.peakUsers = c.activeUsers
	}
}

func recordClamped(h *hdrhistogram.Histogram, v int64) {
	if v < h.LowestTrackableValue() {
		v = h.LowestTrackableValue()
	}
	if v > h.HighestTrackableValue() {
		v = h.HighestTrackableValue()
	}
	_ = h.RecordValue(v)
}

// Stats computes the current summary.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Requests:           c.counters[RequestsCount],
		UsersSpawned:       c.counters[UsersSpawned],
		PeakActiveUsers:    int64(c.peakUsers),
		ActiveUsers:        int64(c.activeUsers),
		Duration:           elapsed,
		DurationMs:         float64(elapsed) / float64(time.Millisecond),
		Latency:            summarizeLatency(c.latency[RequestTotalLatency]),
		TimeToFirstToken:   summarizeLatency(c.latency[TimeToFirstToken]),
		TimePerOutputToken: summarizeLatency(c.latency[TimePerOutputToken]),
		DecodeTime:         summarizeLatency(c.latency[DecodeTime]),
		PrefillTokens:      summarizeTokens(c.tokens[PrefillTokens]),
		DecodeTokens:       summarizeTokens(c.tokens[DecodeTokens]),
	}

	if len(c.statuses) > 0 {
		stats.StatusCodes = make(map[string]int64, len(c.statuses))
		for code, n := range c.statuses {
			stats.StatusCodes[code] = n
			if isSuccessCode(code) {
				stats.Successes += n
			} else {
				stats.Failures += n
			}
		}
	}

	if elapsed > 0 {
		stats.RequestsPerSec = float64(stats.Requests) / elapsed.Seconds()
		stats.OutputTokensPerSec = float64(stats.DecodeTokens.Total) / elapsed.Seconds()
	}
	return stats
}

func isSuccessCode(code string) bool {
	n, err := strconv.Atoi(code)
	return err == nil && n >= 200 && n < 300
}

func summarizeLatency(s *latencySeries) LatencySummary {
	if s == nil || s.hist.TotalCount() == 0 {
		return LatencySummary{}
	}
	count := s.hist.TotalCount()
	sum := LatencySummary{
		Count: count,
		Min:   s.min,
		Max:   s.max,
		Mean:  time.Duration(int64(s.sum) / count),
		P50:   time.Duration(s.hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:   time.Duration(s.hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:   time.Duration(s.hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:   time.Duration(s.hist.ValueAtQuantile(99)) * time.Microsecond,
	}
	sum.MinMs = toMs(sum.Min)
	sum.MaxMs = toMs(sum.Max)
	sum.MeanMs = toMs(sum.Mean)
	sum.P50Ms = toMs(sum.P50)
	sum.P90Ms = toMs(sum.P90)
	sum.P95Ms = toMs(sum.P95)
	sum.P99Ms = toMs(sum.P99)
	return sum
}

func summarizeTokens(s *tokenSeries) TokenSummary {
	if s == nil || s.hist.TotalCount() == 0 {
		return TokenSummary{}
	}
	count := s.hist.TotalCount()
	return TokenSummary{
		Count: count,
		Total: s.total,
		Mean:  float64(s.total) / float64(count),
		P50:   s.hist.ValueAtQuantile(50),
		P99:   s.hist.ValueAtQuantile(99),
		Max:   s.hist.Max(),
	}
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
