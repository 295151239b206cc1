// Package sampler hands out benchmark work items to concurrent users.
//
// A finite sampler delivers every eligible item exactly once in random order and
// then reports exhaustion; an infinite sampler draws with replacement forever.
// Both are built by a constructor that performs the preparation (processed-id
// lookup, filtering, de-duplication), so a sampler can never be drawn from before
// it is ready.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/torosent/strawberry/internal/dataset"
)

// Mode selects the sampling strategy.
type Mode string

const (
	ModeFinite   Mode = "finite"
	ModeInfinite Mode = "infinite"
)

// ErrNoEligibleItems is returned by NewInfinite when filtering leaves nothing to draw.
var ErrNoEligibleItems = errors.New("no eligible work items")

// Unit is one draw. Last is set on the draw that empties a finite sampler.
type Unit struct {
	Item dataset.WorkItem
	Last bool
}

// Sampler is safe for concurrent use. Next returns ok=false once a finite
// sampler is exhausted; an infinite sampler never does, and reports
// Exhaustible false.
type Sampler interface {
	Next() (Unit, bool)
	Len() int
	Exhaustible() bool
}

// Options configure sampler preparation.
type Options struct {
	Source    dataset.Source
	Store     dataset.Store // consulted for processed IDs unless Overwrite
	Overwrite bool
	Rand      *rand.Rand // optional; seeded from the clock when nil
}

func (o *Options) normalize() error {
	if o.Source == nil {
		return fmt.Errorf("sampler: source is required")
	}
	if o.Store == nil && !o.Overwrite {
		return fmt.Errorf("sampler: store is required unless overwrite is set")
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return nil
}

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFinite:
		return ModeFinite, nil
	case ModeInfinite:
		return ModeInfinite, nil
	default:
		return "", fmt.Errorf("unsupported sampler mode %q", s)
	}
}

// New prepares a sampler of the given mode.
func New(ctx context.Context, mode Mode, opts Options) (Sampler, error) {
	switch mode {
	case ModeFinite, "":
		return NewFinite(ctx, opts)
	case ModeInfinite:
		return NewInfinite(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported sampler mode %q", mode)
	}
}

// eligible reads the source and drops processed and repeated custom IDs,
// preserving source order.
func eligible(ctx context.Context, opts Options) ([]dataset.WorkItem, error) {
	processed := map[string]struct{}{}
	if !opts.Overwrite {
		ids, err := opts.Store.ProcessedIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("load processed ids: %w", err)
		}
		processed = ids
		log.Infof("Found %d processed examples", len(processed))
	}

	items, err := opts.Source.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load work items: %w", err)
	}

	seen := make(map[string]struct{}, len(items))
	kept := make([]dataset.WorkItem, 0, len(items))
	duplicates := 0
	for _, item := range items {
		if _, done := processed[item.CustomID]; done {
			continue
		}
		if _, dup := seen[item.CustomID]; dup {
			duplicates++
			continue
		}
		seen[item.CustomID] = struct{}{}
		kept = append(kept, item)
	}
	if duplicates > 0 {
		log.WithField("duplicates", duplicates).Warn("Dropped work items with repeated custom_id")
	}
	log.Infof("Sampler will use %d examples", len(kept))
	return kept, nil
}
