// Package runner drives a benchmark: it ramps a bounded population of
// simulated users and shuts them down within a bounded time.
//
// # Lifecycle
//
// A [Controller] moves through three states:
//
//   - [StateSpawning]: one user is started per arrival tick until MaxUsers
//     users exist. Arrivals are paced by [ArrivalModelUniform] (a
//     rate.Limiter with burst 1) or [ArrivalModelPoisson] (exponential
//     inter-arrival times). A SpawnRate of zero starts everyone at once.
//   - [StateDraining]: the controller waits for every user to run out of
//     work, for at most RunTime. A RunTime of zero waits without limit.
//   - [StateTerminated]: outstanding users are cancelled through a single
//     context and given ShutdownGrace to unwind.
//
// Cancelling the context passed to [Controller.Run] jumps straight to
// [StateTerminated].
//
// # Users
//
// Each user repeatedly draws a unit from the sampler, issues it through the
// requester, writes the record to the store and then sleeps for the delay
// chosen by its [WaitPolicy]. A user stops when the sampler is exhausted or
// its context is cancelled. Requests cancelled in flight are never written.
//
//	ctrl, err := runner.NewController(runner.Options{
//		MaxUsers:  8,
//		SpawnRate: 1,
//		RunTime:   2 * time.Minute,
//		Sampler:   s,
//		Requester: r,
//		Store:     store,
//		Wait:      runner.NewUniformWait(time.Second, 4*time.Second, nil),
//	})
//	if err != nil {
//		return err
//	}
//	result := ctrl.Run(ctx)
package runner
