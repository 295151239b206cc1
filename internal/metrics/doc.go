// Package metrics records benchmark telemetry.
//
// Producers talk to the [Sink] contract: counters, histograms and gauges keyed by
// metric name, always scoped to the run label the sink was created with.
// Two sinks are provided and are usually combined with [Multi]:
//
//   - [PrometheusSink] exports live series over /metrics for dashboards.
//   - [Collector] aggregates in process with HDR histograms and produces the
//     end-of-run [Stats] summary.
//
//	prom := metrics.NewPrometheusSink("example_9")
//	collector := metrics.NewCollector()
//	sink := metrics.Multi{prom, collector}
//
//	sink.Observe(metrics.TimeToFirstToken, ttft.Seconds(), nil)
//	sink.Inc(metrics.ResponseCodeCount, metrics.Labels{metrics.LabelCode: "200"})
//
//	stats := collector.Stats(time.Since(start))
//
// # Thread Safety
//
// Every sink in this package is safe for concurrent use by many users.
package metrics
