package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store persists response records and reports which custom IDs it already holds.
// Write must be idempotent by custom ID: writing the same ID again overwrites.
// Implementations must be safe for concurrent use.
type Store interface {
	ProcessedIDs(ctx context.Context) (map[string]struct{}, error)
	Write(ctx context.Context, record ResponseRecord) error
	Close() error
}

// ErrLocked is returned when another run already owns the output location.
var ErrLocked = errors.New("output is locked by another run")

// DiscardStore drops every record. Used for pure load runs with no result set.
type DiscardStore struct{}

func (DiscardStore) ProcessedIDs(context.Context) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (DiscardStore) Write(context.Context, ResponseRecord) error { return nil }

func (DiscardStore) Close() error { return nil }

// validateRecordID rejects IDs that cannot be used as a single path or key segment.
func validateRecordID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("record has no custom_id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("custom_id %q is not a valid object name", id)
	}
	return nil
}
