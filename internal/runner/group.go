package runner

import (
	"context"
	"sync"
	"time"
)

// group owns the users of one run. All members share a context that
// CancelAll cancels in one step.
type group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	once sync.Once
	done chan struct{}
}

func newGroup(parent context.Context) *group {
	ctx, cancel := context.WithCancel(parent)
	return &group{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Go starts fn as a member. It must not be called once Wait has been called.
func (g *group) Go(fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()
}

// Wait blocks until every member returned, ctx is done or timeout elapses.
// A timeout of zero means no limit. It reports whether all members returned.
func (g *group) Wait(ctx context.Context, timeout time.Duration) bool {
	g.once.Do(func() {
		go func() {
			g.wg.Wait()
			close(g.done)
		}()
	})

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-g.done:
		return true
	case <-ctx.Done():
	case <-expired:
	}
	// Prefer reporting completion when it raced with the deadline.
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// CancelAll cancels the shared context of every member.
func (g *group) CancelAll() {
	g.cancel()
}
