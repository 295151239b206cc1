package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/torosent/strawberry/internal/metrics"
	"github.com/torosent/strawberry/internal/runner"
	"github.com/torosent/strawberry/internal/threshold"
)

// Report is everything printed at the end of a run.
type Report struct {
	Run        string
	Target     string
	Protocol   string
	Model      string
	Result     runner.Result
	Stats      metrics.Stats
	Thresholds []threshold.Result
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Stats
	fmt.Fprintln(w, "\n--- Benchmark Results ---")
	fmt.Fprintf(w, "Run:               %s\n", r.Run)
	fmt.Fprintf(w, "Target:            %s (%s)\n", r.Target, r.Protocol)
	if r.Model != "" {
		fmt.Fprintf(w, "Model:             %s\n", r.Model)
	}
	fmt.Fprintf(w, "Users:             %d started, %d finished, peak %d active\n",
		r.Result.Started, r.Result.Finished, stats.PeakActiveUsers)
	fmt.Fprintf(w, "Total Requests:    %d\n", stats.Requests)
	fmt.Fprintf(w, "Successful:        %d\n", stats.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failures)
	if r.Result.WriteErrors > 0 {
		fmt.Fprintf(w, "Write Errors:      %d\n", r.Result.WriteErrors)
	}
	fmt.Fprintf(w, "Duration:          %s (%s)\n", r.Result.Duration.Round(time.Millisecond), endReason(r.Result))
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", stats.RequestsPerSec)
	fmt.Fprintf(w, "Output tokens/sec: %.2f\n", stats.OutputTokensPerSec)

	writeLatency(w, "Time To First Token", stats.TimeToFirstToken)
	writeLatency(w, "Time Per Output Token", stats.TimePerOutputToken)
	writeLatency(w, "Total Latency", stats.Latency)

	if stats.PrefillTokens.Count > 0 || stats.DecodeTokens.Count > 0 {
		fmt.Fprintln(w, "\nTokens:")
		writeTokens(w, "Prefill", stats.PrefillTokens)
		writeTokens(w, "Decode", stats.DecodeTokens)
	}

	if len(stats.StatusCodes) > 0 {
		fmt.Fprintln(w, "\nStatus Codes:")
		for _, row := range metrics.FlattenStatusCodes(stats.StatusCodes) {
			fmt.Fprintf(w, "  %s: %d\n", row.Code, row.Count)
		}
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, res := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", res.Message)
		}
	}
}

func endReason(r runner.Result) string {
	switch {
	case r.Interrupted:
		return "interrupted"
	case r.TimedOut && r.Stragglers > 0:
		return fmt.Sprintf("run time reached, %d users did not stop", r.Stragglers)
	case r.TimedOut:
		return "run time reached"
	default:
		return "completed"
	}
}

func writeLatency(w io.Writer, title string, s metrics.LatencySummary) {
	if s.Count == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s (%d samples):\n", title, s.Count)
	fmt.Fprintf(w, "  Min:             %s\n", s.Min)
	fmt.Fprintf(w, "  Max:             %s\n", s.Max)
	fmt.Fprintf(w, "  Mean:            %s\n", s.Mean)
	fmt.Fprintf(w, "  P50:             %s\n", s.P50)
	fmt.Fprintf(w, "  P90:             %s\n", s.P90)
	fmt.Fprintf(w, "  P99:             %s\n", s.P99)
}

func writeTokens(w io.Writer, title string, s metrics.TokenSummary) {
	if s.Count == 0 {
		return
	}
	label := title + ":"
	fmt.Fprintf(w, "  %-17stotal=%d mean=%.1f p50=%d p99=%d max=%d\n",
		label, s.Total, s.Mean, s.P50, s.P99, s.Max)
}

// ThresholdSummary is the JSON view of threshold results.
type ThresholdSummary struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Results []ThresholdResultJSON `json:"results"`
}

type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

type runJSON struct {
	Started     int     `json:"started"`
	Finished    int     `json:"finished"`
	Requests    int64   `json:"requests"`
	WriteErrors int64   `json:"write_errors"`
	TimedOut    bool    `json:"timed_out"`
	Interrupted bool    `json:"interrupted"`
	Stragglers  int     `json:"stragglers"`
	DurationMs  float64 `json:"duration_ms"`
}

type reportJSON struct {
	Run        string            `json:"run"`
	Target     string            `json:"target"`
	Protocol   string            `json:"protocol"`
	Model      string            `json:"model,omitempty"`
	Result     runJSON           `json:"result"`
	Stats      metrics.Stats     `json:"stats"`
	Thresholds *ThresholdSummary `json:"thresholds,omitempty"`
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	doc := reportJSON{
		Run:      r.Run,
		Target:   r.Target,
		Protocol: strings.ToLower(r.Protocol),
		Model:    r.Model,
		Result: runJSON{
			Started:     r.Result.Started,
			Finished:    r.Result.Finished,
			Requests:    r.Result.Requests,
			WriteErrors: r.Result.WriteErrors,
			TimedOut:    r.Result.TimedOut,
			Interrupted: r.Result.Interrupted,
			Stragglers:  r.Result.Stragglers,
			DurationMs:  float64(r.Result.Duration) / float64(time.Millisecond),
		},
		Stats:      r.Stats,
		Thresholds: summarizeThresholds(r.Thresholds),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func summarizeThresholds(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	summary := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		summary.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return summary
}
