// Package requester issues streaming completion requests against an inference
// server and turns each call into a dataset.ResponseRecord plus latency and
// token telemetry.
package requester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/strawberry/internal/dataset"
	"github.com/torosent/strawberry/internal/metrics"
	"github.com/torosent/strawberry/internal/sse"
	"github.com/torosent/strawberry/internal/tracing"
)

// Requester performs one request per work item.
//
// Every failure of the request itself is reported through the record's
// StatusCode and Error. The returned error is non-nil only when ctx was
// cancelled while the request was in flight; the record is then meaningless and
// no telemetry has been emitted for it.
type Requester interface {
	Issue(ctx context.Context, item dataset.WorkItem) (dataset.ResponseRecord, error)
}

type Options struct {
	// BaseURL is the API root, e.g. http://localhost:8000/v1.
	BaseURL string

	// Model overrides the model named in each request body (chat only).
	Model string

	Headers http.Header
	Client  *http.Client
	Sink    metrics.Sink
	Tracer  trace.Tracer

	// Propagate injects W3C trace headers into outgoing requests.
	Propagate bool

	// Now is the clock used for telemetry. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) normalize() Options {
	o.BaseURL = strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.Sink == nil {
		o.Sink = metrics.Nop{}
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Status codes assigned to failures that carry no HTTP status of their own.
const (
	StatusUnreachable = http.StatusServiceUnavailable
	StatusBadRequest  = http.StatusBadRequest
)

// classify maps a request failure to the status code recorded for it. The
// checks run in order and the first match wins.
func classify(err error) int {
	var connErr *sse.ConnectError
	var statusErr *sse.StatusError
	switch {
	case errors.As(err, &connErr):
		return StatusUnreachable
	case errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests:
		return http.StatusTooManyRequests
	case errors.As(err, &statusErr):
		return statusErr.Code
	default:
		return StatusBadRequest
	}
}

type observation struct {
	name  string
	value float64
}

// timing tracks the arrival of generated chunks relative to the call start.
// Observations are buffered so that a cancelled call emits nothing.
type timing struct {
	now     func() time.Time
	start   time.Time
	first   time.Time
	prev    time.Time
	chunks  int
	pending []observation
}

func newTiming(now func() time.Time) *timing {
	return &timing{now: now, start: now()}
}

func (t *timing) observe(name string, value float64) {
	t.pending = append(t.pending, observation{name: name, value: value})
}

// content records a chunk that carries generated output.
func (t *timing) content(at time.Time) {
	if t.chunks == 0 {
		t.first = at
		ttft := at.Sub(t.start).Seconds()
		t.observe(metrics.TimeToFirstToken, ttft)
		t.observe(metrics.PrefillTime, ttft)
	} else {
		t.observe(metrics.TimePerOutputToken, at.Sub(t.prev).Seconds())
	}
	t.prev = at
	t.chunks++
}

func (t *timing) end(at time.Time) {
	t.observe(metrics.RequestTotalLatency, at.Sub(t.start).Seconds())
	if t.chunks > 0 {
		t.observe(metrics.DecodeTime, at.Sub(t.first).Seconds())
	}
}

// base holds what the protocol variants share: transport, telemetry and the
// record bookkeeping.
type base struct {
	protocol string
	url      string
	opts     Options
}

// exchange posts body and hands every data payload to onData until the stream
// ends. It returns the HTTP status of a stream that completed.
func (b *base) exchange(ctx context.Context, body []byte, t *timing, onData func(data string, at time.Time) error) (int, error) {
	headers := b.opts.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if b.opts.Propagate {
		tracing.InjectHTTPHeaders(ctx, headers)
	}

	stream, err := sse.Open(ctx, sse.Config{
		URL:     b.url,
		Method:  http.MethodPost,
		Headers: headers,
		Body:    body,
		Client:  b.opts.Client,
	})
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	for {
		event, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		data := strings.TrimSpace(event.Data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}
		if err := onData(data, t.now()); err != nil {
			return 0, err
		}
	}

	t.end(t.now())
	return stream.StatusCode(), nil
}

// finish turns the outcome of one call into a record and emits its telemetry.
// A call whose context is done by now yields no record and no telemetry, even
// if its stream completed, because the caller discards it.
func (b *base) finish(ctx context.Context, span trace.Span, item dataset.WorkItem, t *timing, status int, callErr error, response any, attrs ...attribute.KeyValue) (dataset.ResponseRecord, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		tracing.EndSpan(span, ctxErr)
		return dataset.ResponseRecord{}, ctxErr
	}

	record := dataset.ResponseRecord{
		CustomID:   item.CustomID,
		StatusCode: status,
		Response:   response,
	}
	if callErr != nil {
		record.StatusCode = classify(callErr)
		msg := callErr.Error()
		record.Error = &msg
		log.WithFields(log.Fields{
			"custom_id":   item.CustomID,
			"status_code": record.StatusCode,
		}).WithError(callErr).Debug("request failed")
	}

	sink := b.opts.Sink
	for _, o := range t.pending {
		sink.Observe(o.name, o.value, nil)
	}
	sink.Inc(metrics.RequestsCount, nil)
	sink.Inc(metrics.ResponseCodeCount, metrics.Labels{metrics.LabelCode: strconv.Itoa(record.StatusCode)})

	attrs = append(attrs, tracing.AttrStatusCode.Int(record.StatusCode), tracing.AttrContentChunk.Int(t.chunks))
	tracing.EndSpan(span, callErr, attrs...)
	return record, nil
}

// streamingBody copies an object body, sets stream to true and applies extra
// top-level fields.
func streamingBody(body json.RawMessage, extra map[string]any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("decode request body: %w", err)
		}
	}
	extra["stream"] = true
	for key, value := range extra {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		fields[key] = raw
	}
	return json.Marshal(fields)
}

// New returns the requester for protocol ("chat" or "generate").
func New(protocol string, opts Options) (Requester, error) {
	switch strings.ToLower(protocol) {
	case "chat":
		return NewChatRequester(opts), nil
	case "generate":
		return NewGenerateRequester(opts), nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}
}
