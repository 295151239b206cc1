package runner

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/strawberry/internal/dataset"
	"github.com/torosent/strawberry/internal/metrics"
	"github.com/torosent/strawberry/internal/requester"
	"github.com/torosent/strawberry/internal/sampler"
)

// ArrivalModel selects how user spawns are spaced.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Options configure the Controller.
type Options struct {
	MaxUsers      int           // population cap
	SpawnRate     float64       // users started per second (<= 0 starts all at once)
	RunTime       time.Duration // draining limit (0 means no limit, finite samplers only)
	ShutdownGrace time.Duration // time cancelled users get to unwind

	ArrivalModel ArrivalModel
	RandomSeed   int64

	// PoissonSampler returns Exp(1) samples. Optional.
	PoissonSampler func() float64
	// LimiterFactory builds the uniform limiter. Optional injection for tests.
	LimiterFactory func(perSec float64) *rate.Limiter

	Sampler   sampler.Sampler
	Requester requester.Requester
	Store     dataset.Store
	Wait      WaitPolicy
	Sink      metrics.Sink
}

func (o *Options) validate() error {
	var errs []error
	if o.Sampler == nil {
		errs = append(errs, errors.New("sampler is required"))
	} else if o.RunTime <= 0 && !o.Sampler.Exhaustible() {
		errs = append(errs, errors.New("run time must be positive with an infinite sampler"))
	}
	if o.Requester == nil {
		errs = append(errs, errors.New("requester is required"))
	}
	if o.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	return errors.Join(errs...)
}

func (o *Options) normalize() {
	if o.MaxUsers < 0 {
		o.MaxUsers = 0
	}
	if o.SpawnRate < 0 {
		o.SpawnRate = 0
	}
	if o.RunTime < 0 {
		o.RunTime = 0
	}
	if o.ShutdownGrace < 0 {
		o.ShutdownGrace = 0
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(perSec float64) *rate.Limiter {
			// Burst 1 spaces spawns exactly 1/perSec apart.
			return rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
	if o.Wait == nil {
		o.Wait = FixedWait(0)
	}
	if o.Sink == nil {
		o.Sink = metrics.Nop{}
	}
}
