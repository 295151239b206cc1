package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/strawberry/internal/dataset"
	"github.com/torosent/strawberry/internal/metrics"
	"github.com/torosent/strawberry/internal/runner"
	"github.com/torosent/strawberry/internal/sampler"
)

type sliceSource []dataset.WorkItem

func (s sliceSource) ReadAll(context.Context) ([]dataset.WorkItem, error) {
	return append([]dataset.WorkItem(nil), s...), nil
}

func makeItems(n int) sliceSource {
	items := make(sliceSource, n)
	for i := range items {
		items[i] = dataset.WorkItem{
			CustomID: fmt.Sprintf("item-%d", i),
			Body:     json.RawMessage(`{"messages":[]}`),
		}
	}
	return items
}

type memStore struct {
	mu      sync.Mutex
	records map[string]dataset.ResponseRecord
	writes  int
	fail    bool
}

func newMemStore() *memStore {
	return &memStore{records: map[string]dataset.ResponseRecord{}}
}

func (s *memStore) ProcessedIDs(context.Context) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (s *memStore) Write(_ context.Context, r dataset.ResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.writes++
	s.records[r.CustomID] = r
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) counts() (writes, unique int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes, len(s.records)
}

// fakeRequester answers every item after latency. With ignoreCancel it keeps
// blocking on release even after the context is cancelled.
type fakeRequester struct {
	latency      time.Duration
	ignoreCancel bool
	release      chan struct{}

	inflight    atomic.Int64
	maxInflight atomic.Int64
	calls       atomic.Int64
}

func (f *fakeRequester) Issue(ctx context.Context, item dataset.WorkItem) (dataset.ResponseRecord, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.maxInflight.Load()
		if n <= peak || f.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}

	if f.ignoreCancel {
		<-f.release
	} else {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return dataset.ResponseRecord{}, ctx.Err()
		}
	}
	return dataset.ResponseRecord{CustomID: item.CustomID, StatusCode: 200}, nil
}

func finiteSampler(t *testing.T, items sliceSource, store dataset.Store) sampler.Sampler {
	t.Helper()
	s, err := sampler.NewFinite(context.Background(), sampler.Options{
		Source: items,
		Store:  store,
		Rand:   rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("NewFinite: %v", err)
	}
	return s
}

func infiniteSampler(t *testing.T, items sliceSource) sampler.Sampler {
	t.Helper()
	s, err := sampler.NewInfinite(context.Background(), sampler.Options{
		Source:    items,
		Overwrite: true,
		Rand:      rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("NewInfinite: %v", err)
	}
	return s
}

func TestNewControllerRequiresCollaborators(t *testing.T) {
	_, err := runner.NewController(runner.Options{MaxUsers: 1})
	if err == nil {
		t.Fatal("expected error for missing sampler, requester and store")
	}
	for _, want := range []string{"sampler", "requester", "store"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNewControllerRejectsUnboundedInfiniteRun(t *testing.T) {
	store := newMemStore()
	_, err := runner.NewController(runner.Options{
		MaxUsers:  2,
		Sampler:   infiniteSampler(t, makeItems(3)),
		Requester: &fakeRequester{latency: time.Millisecond},
		Store:     store,
	})
	if err == nil || !strings.Contains(err.Error(), "run time must be positive") {
		t.Fatalf("NewController() error = %v, want run time error", err)
	}

	// A finite sampler ends on its own, so no limit is fine there.
	if _, err := runner.NewController(runner.Options{
		MaxUsers:  2,
		Sampler:   finiteSampler(t, makeItems(3), store),
		Requester: &fakeRequester{latency: time.Millisecond},
		Store:     store,
	}); err != nil {
		t.Fatalf("NewController() with finite sampler error = %v", err)
	}
}

func TestControllerProcessesEveryItemOnce(t *testing.T) {
	store := newMemStore()
	collector := metrics.NewCollector()
	ctrl, err := runner.NewController(runner.Options{
		MaxUsers:  3,
		Sampler:   finiteSampler(t, makeItems(20), store),
		Requester: &fakeRequester{latency: time.Millisecond},
		Store:     store,
		Sink:      collector,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	res := ctrl.Run(context.Background())

	writes, unique := store.counts()
	if writes != 20 || unique != 20 {
		t.Fatalf("expected 20 unique writes, got %d writes for %d ids", writes, unique)
	}
	if res.Requests != 20 || res.Started != 3 || res.Finished != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.TimedOut || res.Interrupted || res.Stragglers != 0 {
		t.Fatalf("expected a clean finish, got %+v", res)
	}
	if ctrl.State() != runner.StateTerminated {
		t.Fatalf("state = %s, want terminated", ctrl.State())
	}

	stats := collector.Stats(res.Duration)
	if stats.UsersSpawned != 3 {
		t.Errorf("users_spawned = %d, want 3", stats.UsersSpawned)
	}
	if stats.ActiveUsers != 0 {
		t.Errorf("active_users = %d, want 0 after the run", stats.ActiveUsers)
	}
	if stats.PeakActiveUsers < 1 || stats.PeakActiveUsers > 3 {
		t.Errorf("peak active users = %d, want 1..3", stats.PeakActiveUsers)
	}
}

func TestControllerCapsPopulationAndHonorsRunTime(t *testing.T) {
	req := &fakeRequester{latency: 5 * time.Millisecond}
	ctrl, err := runner.NewController(runner.Options{
		MaxUsers:      4,
		RunTime:       80 * time.Millisecond,
		ShutdownGrace: time.Second,
		Sampler:       infiniteSampler(t, makeItems(3)),
		Requester:     req,
		Store:         newMemStore(),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	start := time.Now()
	res := ctrl.Run(context.Background())
	elapsed := time.Since(start)

	if !res.TimedOut {
		t.Fatalf("expected run time limit to be hit: %+v", res)
	}
	if res.Started != 4 || res.Finished != 4 || res.Stragglers != 0 {
		t.Fatalf("unexpected population %+v", res)
	}
	if got := req.maxInflight.Load(); got > 4 {
		t.Fatalf("observed %d concurrent requests with 4 users", got)
	}
	if elapsed < 80*time.Millisecond || elapsed > time.Second {
		t.Fatalf("run time enforcement off: %s", elapsed)
	}
	if res.Requests == 0 {
		t.Fatal("expected some requests before the deadline")
	}
}

func TestControllerReportsStragglers(t *testing.T) {
	req := &fakeRequester{ignoreCancel: true, release: make(chan struct{})}
	defer close(req.release)

	ctrl, err := runner.NewController(runner.Options{
		MaxUsers:      2,
		RunTime:       20 * time.Millisecond,
		ShutdownGrace: 20 * time.Millisecond,
		Sampler:       infiniteSampler(t, makeItems(1)),
		Requester:     req,
		Store:         newMemStore(),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	start := time.Now()
	res := ctrl.Run(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("termination not bounded: %s", elapsed)
	}
	if !res.TimedOut || res.Stragglers != 2 {
		t.Fatalf("expected 2 stragglers after timeout, got %+v", res)
	}
}

func TestControllerParentCancelDuringSpawning(t *testing.T) {
	ctrl, err := runner.NewController(runner.Options{
		MaxUsers:      10,
		SpawnRate:     1,
		RunTime:       time.Minute,
		ShutdownGrace: time.Second,
		Sampler:       infiniteSampler(t, makeItems(2)),
		Requester:     &fakeRequester{latency: time.Millisecond},
		Store:         newMemStore(),
		Wait:          runner.FixedWait(5 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := ctrl.Run(ctx)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("cancellation was not prompt: %s", elapsed)
	}
	if !res.Interrupted || res.TimedOut {
		t.Fatalf("expected interrupted run, got %+v", res)
	}
	if res.Started != 1 || res.Finished != 1 {
		t.Fatalf("expected exactly one user before the second arrival, got %+v", res)
	}
	if ctrl.State() != runner.StateTerminated {
		t.Fatalf("state = %s, want terminated", ctrl.State())
	}
}

func TestControllerContinuesAfterWriteErrors(t *testing.T) {
	store := newMemStore()
	store.fail = true
	ctrl, err := runner.NewController(runner.Options{
		MaxUsers:  1,
		Sampler:   finiteSampler(t, makeItems(5), newMemStore()),
		Requester: &fakeRequester{},
		Store:     store,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	res := ctrl.Run(context.Background())
	if res.Requests != 5 || res.WriteErrors != 5 {
		t.Fatalf("expected the user to keep going after write errors, got %+v", res)
	}
}

func TestControllerDoesNotWriteCancelledRequests(t *testing.T) {
	store := newMemStore()
	req := &fakeRequester{latency: time.Hour}
	ctrl, err := runner.NewController(runner.Options{
		MaxUsers:      2,
		RunTime:       20 * time.Millisecond,
		ShutdownGrace: time.Second,
		Sampler:       infiniteSampler(t, makeItems(4)),
		Requester:     req,
		Store:         store,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	res := ctrl.Run(context.Background())
	if writes, _ := store.counts(); writes != 0 {
		t.Fatalf("cancelled requests were written: %d", writes)
	}
	if res.Requests != 0 || req.calls.Load() != 2 {
		t.Fatalf("unexpected result %+v with %d calls", res, req.calls.Load())
	}
}

func TestControllerPacesUniformSpawns(t *testing.T) {
	store := newMemStore()
	ctrl, err := runner.NewController(runner.Options{
		MaxUsers:  4,
		SpawnRate: 50,
		Sampler:   finiteSampler(t, nil, store),
		Requester: &fakeRequester{},
		Store:     store,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	res := ctrl.Run(context.Background())
	// Three gaps of 20ms after the first immediate arrival.
	if res.Duration < 50*time.Millisecond {
		t.Fatalf("spawns were not paced: %s", res.Duration)
	}
	if res.Started != 4 || res.Finished != 4 || res.Requests != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}
