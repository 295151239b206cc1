package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const labelRun = "run"

var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1,
	0.25, 0.5, 0.75, 1.0, 2.5, 5.0, 7.5, 10.0,
}

// 1, 2, 4 ... 1048576 tokens.
var tokenBuckets = prometheus.ExponentialBuckets(1, 2, 21)

// PrometheusSink exports every observation as a Prometheus series labelled with
// the run. It owns a private registry so several sinks can coexist in tests.
type PrometheusSink struct {
	run        string
	registry   *prometheus.Registry
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusSink registers the benchmark series for the given run label.
func NewPrometheusSink(run string) *PrometheusSink {
	s := &PrometheusSink{
		run:        run,
		registry:   prometheus.NewRegistry(),
		histograms: map[string]*prometheus.HistogramVec{},
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
	}

	s.histogram(RequestTotalLatency, "Total latency of request in seconds", latencyBuckets)
	s.histogram(TimeToFirstToken, "Time to first token latency in seconds", latencyBuckets)
	s.histogram(TimePerOutputToken, "Time per output token latency in seconds", latencyBuckets)
	s.histogram(PrefillTime, "Time spent before the first generated token in seconds", latencyBuckets)
	s.histogram(DecodeTime, "Time from the first to the last generated token in seconds", latencyBuckets)
	s.histogram(PrefillTokens, "Number of prefill tokens processed", tokenBuckets)
	s.histogram(DecodeTokens, "Number of decode tokens processed", tokenBuckets)

	s.counter(RequestsCount, "Total number of requests sent to the target")
	s.counter(ResponseCodeCount, "Number of responses by status code", LabelCode)
	s.counter(UsersSpawned, "Number of users started")

	s.gauge(ActiveUsers, "Number of users currently sending requests")

	return s
}

func (s *PrometheusSink) histogram(name, help string, buckets []float64) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: buckets,
	}, []string{labelRun})
	s.registry.MustRegister(vec)
	s.histograms[name] = vec
}

func (s *PrometheusSink) counter(name, help string, extra ...string) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, append([]string{labelRun}, extra...))
	s.registry.MustRegister(vec)
	s.counters[name] = vec
}

func (s *PrometheusSink) gauge(name, help string) {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, []string{labelRun})
	s.registry.MustRegister(vec)
	s.gauges[name] = vec
}

func (s *PrometheusSink) labels(extra Labels) prometheus.Labels {
	l := prometheus.Labels{labelRun: s.run}
	for k, v := range extra {
		l[k] = v
	}
	return l
}

func (s *PrometheusSink) Inc(name string, labels Labels) {
	vec, ok := s.counters[name]
	if !ok {
		log.WithField("metric", name).Debug("unknown counter")
		return
	}
	c, err := vec.GetMetricWith(s.labels(labels))
	if err != nil {
		log.WithError(err).WithField("metric", name).Warn("counter labels rejected")
		return
	}
	c.Inc()
}

func (s *PrometheusSink) Observe(name string, value float64, labels Labels) {
	vec, ok := s.histograms[name]
	if !ok {
		log.WithField("metric", name).Debug("unknown histogram")
		return
	}
	h, err := vec.GetMetricWith(s.labels(labels))
	if err != nil {
		log.WithError(err).WithField("metric", name).Warn("histogram labels rejected")
		return
	}
	h.Observe(value)
}

func (s *PrometheusSink) AddGauge(name string, delta float64, labels Labels) {
	vec, ok := s.gauges[name]
	if !ok {
		log.WithField("metric", name).Debug("unknown gauge")
		return
	}
	g, err := vec.GetMetricWith(s.labels(labels))
	if err != nil {
		log.WithError(err).WithField("metric", name).Warn("gauge labels rejected")
		return
	}
	g.Add(delta)
}

// Registry exposes the underlying registry, mainly for tests.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (s *PrometheusSink) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
