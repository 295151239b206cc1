package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroupWaitAllMembers(t *testing.T) {
	g := newGroup(context.Background())
	var done atomic.Int32
	for i := 0; i < 5; i++ {
		g.Go(func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
		})
	}
	if !g.Wait(context.Background(), 0) {
		t.Fatal("expected all members to finish")
	}
	if done.Load() != 5 {
		t.Fatalf("done = %d, want 5", done.Load())
	}
}

func TestGroupWaitTimeoutThenCancelAll(t *testing.T) {
	g := newGroup(context.Background())
	for i := 0; i < 3; i++ {
		g.Go(func(ctx context.Context) { <-ctx.Done() })
	}
	if g.Wait(context.Background(), 10*time.Millisecond) {
		t.Fatal("members blocked on the context cannot finish before CancelAll")
	}
	g.CancelAll()
	if !g.Wait(context.Background(), time.Second) {
		t.Fatal("members did not unwind after CancelAll")
	}
}

func TestGroupWaitStopsOnContext(t *testing.T) {
	g := newGroup(context.Background())
	release := make(chan struct{})
	defer close(release)
	g.Go(func(context.Context) { <-release })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if g.Wait(ctx, 0) {
		t.Fatal("expected Wait to give up when its context is done")
	}
}

func TestGroupFollowsParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	g := newGroup(parent)
	g.Go(func(ctx context.Context) { <-ctx.Done() })
	cancel()
	if !g.Wait(context.Background(), time.Second) {
		t.Fatal("member did not observe parent cancellation")
	}
}
