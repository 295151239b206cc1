package sampler

import (
	"context"
	"sync"

	"github.com/torosent/strawberry/internal/dataset"
)

// Finite delivers a random permutation of the eligible items, each exactly once.
type Finite struct {
	mu    sync.Mutex
	queue []dataset.WorkItem
	next  int
}

// NewFinite prepares a finite sampler. An empty eligible set is valid: the
// first draw simply reports exhaustion.
func NewFinite(ctx context.Context, opts Options) (*Finite, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	items, err := eligible(ctx, opts)
	if err != nil {
		return nil, err
	}
	opts.Rand.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
	return &Finite{queue: items}, nil
}

func (f *Finite) Next() (Unit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.next >= len(f.queue) {
		return Unit{}, false
	}
	item := f.queue[f.next]
	f.queue[f.next] = dataset.WorkItem{}
	f.next++
	return Unit{Item: item, Last: f.next == len(f.queue)}, true
}

// Len returns the number of eligible items, drawn or not.
func (f *Finite) Len() int {
	return len(f.queue)
}

// Remaining returns how many items have not been drawn yet.
func (f *Finite) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) - f.next
}

func (f *Finite) Exhaustible() bool { return true }
