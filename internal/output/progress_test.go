package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/strawberry/internal/metrics"
	"github.com/torosent/strawberry/internal/runner"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressReporterBasic(t *testing.T) {
	collector := metrics.NewCollector()
	reporter := NewProgressReporter(collector, nil, 100*time.Millisecond, nil)
	if reporter == nil {
		t.Fatal("Expected non-nil reporter")
	}
	// Stop before Start must not block.
	reporter.Stop()
}

func TestProgressReporterFormatting(t *testing.T) {
	collector := metrics.NewCollector()
	collector.Inc(metrics.RequestsCount, nil)
	collector.Inc(metrics.ResponseCodeCount, metrics.Labels{metrics.LabelCode: "429"})
	collector.Observe(metrics.TimeToFirstToken, 0.25, nil)

	users := func() runner.Snapshot {
		return runner.Snapshot{State: runner.StateDraining, Started: 4, Active: 3, Finished: 1}
	}

	var buf syncBuffer
	reporter := NewProgressReporter(collector, users, 20*time.Millisecond, &buf)
	reporter.Start()
	reporter.Start()
	time.Sleep(80 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	output := buf.String()
	for _, want := range []string{"Users: 3/4 (draining)", "Requests: 1", "Failures: 1", "TTFT P50 250"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in progress output %q", want, output)
		}
	}
	if !strings.HasSuffix(output, "\n") {
		t.Error("Stop should terminate the status line")
	}
}
