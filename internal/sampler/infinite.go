package sampler

import (
	"context"
	"math/rand"
	"sync"

	"github.com/torosent/strawberry/internal/dataset"
)

// Infinite draws uniformly with replacement and never reports exhaustion.
type Infinite struct {
	items []dataset.WorkItem

	mu  sync.Mutex // guards rnd; *rand.Rand is not safe for concurrent use
	rnd *rand.Rand
}

// NewInfinite prepares an infinite sampler. It fails with ErrNoEligibleItems
// when nothing is left to draw.
func NewInfinite(ctx context.Context, opts Options) (*Infinite, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	items, err := eligible(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoEligibleItems
	}
	return &Infinite{items: items, rnd: opts.Rand}, nil
}

func (s *Infinite) Next() (Unit, bool) {
	s.mu.Lock()
	idx := s.rnd.Intn(len(s.items))
	s.mu.Unlock()
	return Unit{Item: s.items[idx]}, true
}

func (s *Infinite) Len() int {
	return len(s.items)
}

func (s *Infinite) Exhaustible() bool { return false }
