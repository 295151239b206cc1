// Command strawberry benchmarks a streaming LLM inference server with a
// population of simulated users.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/torosent/strawberry/internal/config"
	"github.com/torosent/strawberry/internal/metrics"
	"github.com/torosent/strawberry/internal/output"
	"github.com/torosent/strawberry/internal/runner"
	"github.com/torosent/strawberry/internal/threshold"
	"github.com/torosent/strawberry/internal/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	progressInterval = time.Second
	shutdownTimeout  = 10 * time.Second
)

// errThresholdsFailed makes the process exit non-zero after a complete report.
var errThresholdsFailed = errors.New("one or more thresholds failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if cfg.PrintConfig {
		return config.WriteYAML(stdout, cfg.Redacted())
	}

	configureLogging(cfg.Log, stderr)
	if err := cfg.Validate(); err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	var closers []closer
	defer func() {
		if cerr := closeAll(closers); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	provider, err := tracing.Init(ctx, tracing.Setup{
		Config:   cfg.Tracing,
		Run:      cfg.Metrics.Run,
		Target:   cfg.Target.URL,
		Protocol: string(cfg.Target.Protocol),
		Model:    cfg.Target.Model,
		Version:  version,
	})
	if err != nil {
		return err
	}
	closers = append(closers, closer{"shutdown tracing", provider.Shutdown})

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"close store", func(context.Context) error { return store.Close() }})

	collector := metrics.NewCollector()
	sink := metrics.Multi{collector}
	if cfg.Metrics.Listen != "" {
		prom := metrics.NewPrometheusSink(cfg.Metrics.Run)
		sink = append(sink, prom)
		serveCtx, stopServing := context.WithCancel(context.Background())
		defer stopServing()
		go func() {
			if serr := prom.Serve(serveCtx, cfg.Metrics.Listen); serr != nil {
				log.WithError(serr).WithField("listen", cfg.Metrics.Listen).Error("Metrics server failed")
			}
		}()
		log.WithField("listen", cfg.Metrics.Listen).Info("Serving Prometheus metrics")
	}

	req, err := newRequester(cfg, sink, provider)
	if err != nil {
		return err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	smp, err := newSampler(ctx, cfg, store, rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}

	ctrl, err := runner.NewController(runner.Options{
		MaxUsers:      cfg.MaxUsers,
		SpawnRate:     cfg.SpawnRate,
		RunTime:       cfg.RunTime,
		ShutdownGrace: cfg.ShutdownGrace,
		ArrivalModel:  runner.ArrivalModel(cfg.Arrival.Model),
		RandomSeed:    seed,
		Sampler:       smp,
		Requester:     req,
		Store:         store,
		Wait:          runner.NewUniformWait(cfg.Wait.Min, cfg.Wait.Max, rand.New(rand.NewSource(seed+1))),
		Sink:          sink,
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"run":        cfg.Metrics.Run,
		"target":     cfg.Target.URL,
		"protocol":   cfg.Target.Protocol,
		"max_users":  cfg.MaxUsers,
		"spawn_rate": cfg.SpawnRate,
		"items":      smp.Len(),
	}).Info("Starting benchmark")

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(collector, ctrl.Snapshot, progressInterval, stderr)
		progress.Start()
	}

	collector.Start()
	result := ctrl.Run(ctx)
	if progress != nil {
		progress.Stop()
	}

	stats := collector.Stats(result.Duration)
	report := output.Report{
		Run:        cfg.Metrics.Run,
		Target:     cfg.Target.URL,
		Protocol:   string(cfg.Target.Protocol),
		Model:      cfg.Target.Model,
		Result:     result,
		Stats:      stats,
		Thresholds: threshold.NewEvaluator(thresholds).Evaluate(stats),
	}
	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, report)
	}

	if threshold.Failed(report.Thresholds) {
		return errThresholdsFailed
	}
	return nil
}

func configureLogging(cfg config.LogConfig, w io.Writer) {
	log.SetOutput(w)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	// An invalid level is reported by Validate; keep the current one until then.
	if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// closeAll runs closers in reverse order and collects their errors.
func closeAll(closers []closer) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", closers[i].name, err))
		}
	}
	return result.ErrorOrNil()
}
