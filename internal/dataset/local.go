package dataset

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

const (
	lockFileName    = ".strawberry.lock"
	tempFilePattern = ".tmp-*"
	recordExt       = ".json"
)

// LocalStore writes each record to <dir>/<custom_id>.json. The directory is
// locked for the lifetime of the store so two runs cannot interleave writes.
type LocalStore struct {
	dir  string
	lock *flock.Flock
}

// NewLocalStore creates dir if needed and takes its lock.
func NewLocalStore(dir string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock output directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", dir, ErrLocked)
	}

	return &LocalStore{dir: dir, lock: lock}, nil
}

// ProcessedIDs walks the directory and returns the base name of every record
// file. The lock and in-flight temp files never carry the record extension, so
// IDs with a leading dot are still found.
func (s *LocalStore) ProcessedIDs(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() || name == lockFileName || filepath.Ext(name) != recordExt {
			return nil
		}
		ids[strings.TrimSuffix(name, recordExt)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan output directory: %w", err)
	}
	return ids, nil
}

// Write stores the record atomically: readers never observe a partial file.
func (s *LocalStore) Write(ctx context.Context, record ResponseRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRecordID(record.CustomID); err != nil {
		return err
	}

	data, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.CustomID, err)
	}

	tmp, err := os.CreateTemp(s.dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write record %s: %w", record.CustomID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close record %s: %w", record.CustomID, err)
	}

	final := filepath.Join(s.dir, record.CustomID+recordExt)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit record %s: %w", record.CustomID, err)
	}
	return nil
}

// Dir returns the output directory.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Close releases the directory lock.
func (s *LocalStore) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}
