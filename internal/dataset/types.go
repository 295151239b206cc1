package dataset

import (
	"bytes"
	"encoding/json"
)

// WorkItem is one unit of benchmark load. CustomID is the de-duplication and
// resume key; Body is the request payload and is opaque to the engine.
type WorkItem struct {
	CustomID string
	Body     json.RawMessage
}

// Message is the response shape of chat requests. Both fields stay nil when the
// request failed before any content arrived.
type Message struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

// RawPayload is the response shape of requests whose stream has no chat structure.
type RawPayload struct {
	Data json.RawMessage `json:"data"`
}

// ResponseRecord is the durable outcome of one request.
type ResponseRecord struct {
	CustomID   string  `json:"custom_id"`
	StatusCode int     `json:"status_code"`
	Response   any     `json:"response"`
	Error      *string `json:"error"`
}

// Succeeded reports whether the record carries a 2xx status.
func (r ResponseRecord) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// encodeRecord renders a record the way every store persists it: indented JSON
// without HTML escaping so prompts and completions stay readable.
func encodeRecord(r ResponseRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
