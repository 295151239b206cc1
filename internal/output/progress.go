package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/strawberry/internal/metrics"
	"github.com/torosent/strawberry/internal/runner"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	users     func() runner.Snapshot
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. users may be nil.
func NewProgressReporter(collector *metrics.Collector, users func() runner.Snapshot, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		users:     users,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the status line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
		return
	}
	p.ticker.Stop()
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, p.line())
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line() string {
	stats := p.collector.Stats(time.Since(p.start))
	line := "\r"
	if p.users != nil {
		snap := p.users()
		line += fmt.Sprintf("Users: %d/%d (%s) | ", snap.Active, snap.Started, snap.State)
	}
	line += fmt.Sprintf("Requests: %d | Failures: %d | RPS: %.1f",
		stats.Requests, stats.Failures, stats.RequestsPerSec)
	if stats.TimeToFirstToken.Count > 0 {
		line += fmt.Sprintf(" | TTFT P50 %.1fms", stats.TimeToFirstToken.P50Ms)
	}
	if stats.OutputTokensPerSec > 0 {
		line += fmt.Sprintf(" | %.0f tok/s", stats.OutputTokensPerSec)
	}
	return line
}
