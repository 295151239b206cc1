package runner

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

type arrivalController interface {
	Wait(ctx context.Context) error
}

func newArrivalController(opt Options) arrivalController {
	if opt.SpawnRate <= 0 {
		return immediateArrival{}
	}

	switch opt.ArrivalModel {
	case ArrivalModelPoisson:
		sample := opt.PoissonSampler
		if sample == nil {
			sample = rand.New(rand.NewSource(opt.RandomSeed)).ExpFloat64
		}
		return &poissonArrival{rate: opt.SpawnRate, sample: sample}
	default:
		return &uniformArrival{limiter: opt.LimiterFactory(opt.SpawnRate)}
	}
}

// immediateArrival never waits.
type immediateArrival struct{}

func (immediateArrival) Wait(ctx context.Context) error {
	return ctx.Err()
}

// uniformArrival delegates pacing to a rate.Limiter (uniform spacing).
type uniformArrival struct {
	limiter *rate.Limiter
}

func (u *uniformArrival) Wait(ctx context.Context) error {
	if u == nil || u.limiter == nil {
		return ctx.Err()
	}
	// Reserve and sleep instead of limiter.Wait, which fails early when the
	// delay would outlast a context deadline.
	r := u.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("arrival limiter cannot satisfy a spawn")
	}
	if err := sleep(ctx, r.Delay()); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

// poissonArrival samples exponential inter-arrival times to approximate a
// Poisson process. Only the spawning goroutine calls it.
type poissonArrival struct {
	rate   float64
	sample func() float64
}

func (p *poissonArrival) Wait(ctx context.Context) error {
	delay := p.nextDelay()
	if delay <= 0 {
		return ctx.Err()
	}
	return sleep(ctx, delay)
}

func (p *poissonArrival) nextDelay() time.Duration {
	if p == nil || p.rate <= 0 || p.sample == nil {
		return 0
	}
	delay := float64(time.Second) * p.sample() / p.rate
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}

// sleep blocks for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
