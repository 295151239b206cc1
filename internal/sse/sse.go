// Package sse opens streaming HTTP requests and decodes their
// text/event-stream responses.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Event represents a Server-Sent Event.
type Event struct {
	ID    string
	Event string
	Data  string
}

// ConnectError is returned when the request never produced an HTTP response
// (DNS failure, refused connection, TLS error, header timeout).
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// StatusError is returned when the endpoint responds with a non-2xx status code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 64 << 10

// Config describes one streaming request.
type Config struct {
	URL     string
	Method  string // defaults to POST when Body is set, GET otherwise
	Headers http.Header
	Body    []byte
	Client  *http.Client
}

// Stats reports what a stream has delivered so far.
type Stats struct {
	Events int64
	Bytes  int64
}

// Stream is an open event stream. It is safe to Close from another goroutine
// while Next is blocked.
type Stream struct {
	resp   *http.Response
	reader *bufio.Reader

	mu     sync.Mutex
	stats  Stats
	closed bool
}

// Open sends the request and returns the stream once a 2xx response has arrived.
func Open(ctx context.Context, cfg Config) (*Stream, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
		if cfg.Body != nil {
			method = http.MethodPost
		}
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	var body io.Reader
	if cfg.Body != nil {
		body = bytes.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if cfg.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range cfg.Headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ConnectError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	return &Stream{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

// StatusCode is the HTTP status of the underlying response.
func (s *Stream) StatusCode() int {
	return s.resp.StatusCode
}

// Next reads the next event. It returns io.EOF once the server has closed the
// stream cleanly.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	event := Event{}
	var dataLines []string
	pending := false

	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		line, err := s.reader.ReadString('\n')
		if len(line) > 0 {
			s.mu.Lock()
			s.stats.Bytes += int64(len(line))
			s.mu.Unlock()
		}
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				// Flush an event that was not followed by a blank line.
				if pending {
					return s.dispatch(event, dataLines), nil
				}
				return Event{}, io.EOF
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Event{}, ctxErr
			}
			return Event{}, fmt.Errorf("read stream: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if pending {
				return s.dispatch(event, dataLines), nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if !found {
			// A field with no colon has an empty value.
			value = ""
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "id":
			event.ID = value
			pending = true
		case "event":
			event.Event = value
			pending = true
		case "data":
			dataLines = append(dataLines, value)
			pending = true
		}
	}
}

func (s *Stream) dispatch(event Event, dataLines []string) Event {
	event.Data = strings.Join(dataLines, "\n")
	s.mu.Lock()
	s.stats.Events++
	s.mu.Unlock()
	return event
}

// Stats returns a snapshot of the stream counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the underlying connection. It is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.resp.Body.Close()
}
