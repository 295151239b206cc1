package dataset

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// Source yields the full list of work items. It is read once at startup.
type Source interface {
	ReadAll(ctx context.Context) ([]WorkItem, error)
}

// FileSource reads work items from a local file holding either JSON Lines (one
// object per line) or a single JSON array of objects. Every object needs a
// custom_id (string or number) and a body object.
type FileSource struct {
	path string
}

// NewFileSource creates a source for the given path. The file is not opened
// until ReadAll.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// ReadAll loads every work item in file order.
func (s *FileSource) ReadAll(ctx context.Context) ([]WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return parseArray(trimmed)
	}
	return parseLines(data)
}

func parseArray(data []byte) ([]WorkItem, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("decode input: invalid JSON array")
	}

	var items []WorkItem
	var parseErr error
	gjson.ParseBytes(data).ForEach(func(_, value gjson.Result) bool {
		item, err := parseItem(value)
		if err != nil {
			parseErr = fmt.Errorf("element %d: %w", len(items), err)
			return false
		}
		items = append(items, item)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return items, nil
}

func parseLines(data []byte) ([]WorkItem, error) {
	var items []WorkItem
	for idx, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return nil, fmt.Errorf("line %d: invalid JSON", idx+1)
		}
		item, err := parseItem(gjson.ParseBytes(line))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", idx+1, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func parseItem(value gjson.Result) (WorkItem, error) {
	if !value.IsObject() {
		return WorkItem{}, fmt.Errorf("expected object, got %s", value.Type)
	}

	id := value.Get("custom_id")
	switch id.Type {
	case gjson.String, gjson.Number:
	default:
		return WorkItem{}, fmt.Errorf("custom_id must be a string or number")
	}
	if err := validateRecordID(id.String()); err != nil {
		return WorkItem{}, err
	}

	body := value.Get("body")
	if !body.IsObject() {
		return WorkItem{}, fmt.Errorf("body must be an object")
	}

	return WorkItem{
		CustomID: id.String(),
		Body:     append([]byte(nil), body.Raw...),
	}, nil
}
