package runner

import (
	"math/rand"
	"sync"
	"time"
)

// WaitPolicy chooses how long a user pauses between two requests.
type WaitPolicy interface {
	NextDelay() time.Duration
}

// FixedWait always pauses for the same duration.
type FixedWait time.Duration

func (w FixedWait) NextDelay() time.Duration {
	return time.Duration(w)
}

// UniformWait pauses for a duration drawn uniformly from [Min, Max].
type UniformWait struct {
	Min, Max time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewUniformWait returns a policy over [lo, hi]. rnd may be nil.
func NewUniformWait(lo, hi time.Duration, rnd *rand.Rand) *UniformWait {
	if hi < lo {
		lo, hi = hi, lo
	}
	return &UniformWait{Min: lo, Max: hi, rnd: rnd}
}

func (w *UniformWait) NextDelay() time.Duration {
	span := int64(w.Max - w.Min)
	if span <= 0 {
		return w.Min
	}
	if w.rnd == nil {
		return w.Min + time.Duration(rand.Int63n(span+1))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Min + time.Duration(w.rnd.Int63n(span+1))
}
