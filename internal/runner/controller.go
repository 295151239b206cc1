package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/torosent/strawberry/internal/metrics"
)

// State is the lifecycle phase of a Controller.
type State int32

const (
	StateIdle State = iota
	StateSpawning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Snapshot is a point-in-time view of the user population.
// Finished <= Started <= MaxUsers and Active == Started - Finished.
type Snapshot struct {
	State    State
	Started  int
	Active   int
	Finished int
}

// Result captures execution summary.
type Result struct {
	Started     int
	Finished    int
	Requests    int64 // records produced, cancelled requests excluded
	WriteErrors int64
	TimedOut    bool // draining hit RunTime
	Interrupted bool // the parent context was cancelled
	Stragglers  int  // users still running when ShutdownGrace expired
	Duration    time.Duration
}

// Controller ramps up users and shuts them down within bounded time.
type Controller struct {
	opt     Options
	arrival arrivalController

	mu       sync.Mutex
	state    State
	started  int
	active   int
	finished int

	requests    atomic.Int64
	writeErrors atomic.Int64
	ran         atomic.Bool
}

func NewController(opt Options) (*Controller, error) {
	if err := opt.validate(); err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	opt.normalize()
	return &Controller{opt: opt, arrival: newArrivalController(opt)}, nil
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state, Started: c.started, Active: c.active, Finished: c.finished}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	log.WithField("state", s).Debug("Controller state changed")
}

// Run executes the benchmark once. A Controller cannot be reused.
func (c *Controller) Run(ctx context.Context) Result {
	if !c.ran.CompareAndSwap(false, true) {
		panic("runner: Controller.Run called twice")
	}

	start := time.Now()
	users := newGroup(ctx)
	defer users.CancelAll()

	var timedOut bool
	c.setState(StateSpawning)
	c.spawnAll(ctx, users)

	if ctx.Err() == nil {
		c.setState(StateDraining)
		snap := c.Snapshot()
		log.WithFields(log.Fields{
			"started": snap.Started,
			"active":  snap.Active,
		}).Info("All users spawned, waiting for them to finish")

		if !users.Wait(ctx, c.opt.RunTime) && ctx.Err() == nil {
			timedOut = true
			log.WithField("run_time", c.opt.RunTime).Info("Run time limit reached")
		}
	}

	interrupted := ctx.Err() != nil
	if interrupted {
		log.Warn("Run interrupted, stopping users")
	}

	c.setState(StateTerminated)
	users.CancelAll()
	stragglers := 0
	if !users.Wait(context.Background(), c.graceTimeout()) {
		stragglers = c.Snapshot().Active
		log.WithField("stragglers", stragglers).Warn("Users did not stop within the shutdown grace period")
	}

	snap := c.Snapshot()
	result := Result{
		Started:     snap.Started,
		Finished:    snap.Finished,
		Requests:    c.requests.Load(),
		WriteErrors: c.writeErrors.Load(),
		TimedOut:    timedOut,
		Interrupted: interrupted,
		Stragglers:  stragglers,
		Duration:    time.Since(start),
	}
	log.WithFields(log.Fields{
		"started":      result.Started,
		"finished":     result.Finished,
		"requests":     result.Requests,
		"write_errors": result.WriteErrors,
		"duration":     result.Duration.Round(time.Millisecond),
	}).Info("Run finished")
	return result
}

// graceTimeout converts ShutdownGrace into a group wait limit. Zero grace
// still needs a non-zero limit because zero means unbounded to Wait.
func (c *Controller) graceTimeout() time.Duration {
	if c.opt.ShutdownGrace <= 0 {
		return time.Nanosecond
	}
	return c.opt.ShutdownGrace
}

func (c *Controller) spawnAll(ctx context.Context, users *group) {
	for id := 1; id <= c.opt.MaxUsers; id++ {
		if err := c.arrival.Wait(ctx); err != nil {
			return
		}
		c.spawn(users, id)
	}
}

func (c *Controller) spawn(users *group, id int) {
	c.mu.Lock()
	c.started++
	c.active++
	started, active := c.started, c.active
	c.mu.Unlock()

	c.opt.Sink.Inc(metrics.UsersSpawned, nil)
	c.opt.Sink.AddGauge(metrics.ActiveUsers, 1, nil)
	log.WithFields(log.Fields{
		"user":    id,
		"started": started,
		"active":  active,
	}).Debug("Spawned user")

	u := &user{
		id:           id,
		sampler:      c.opt.Sampler,
		requester:    c.opt.Requester,
		store:        c.opt.Store,
		wait:         c.opt.Wait,
		onRecord:     func() { c.requests.Add(1) },
		onWriteError: func() { c.writeErrors.Add(1) },
	}
	users.Go(func(ctx context.Context) {
		defer c.userDone(id)
		u.run(ctx)
	})
}

func (c *Controller) userDone(id int) {
	c.mu.Lock()
	c.active--
	c.finished++
	active, finished := c.active, c.finished
	c.mu.Unlock()

	c.opt.Sink.AddGauge(metrics.ActiveUsers, -1, nil)
	log.WithFields(log.Fields{
		"user":     id,
		"active":   active,
		"finished": finished,
	}).Debug("User finished")
}
