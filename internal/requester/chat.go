package requester

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/strawberry/internal/dataset"
	"github.com/torosent/strawberry/internal/metrics"
	"github.com/torosent/strawberry/internal/tracing"
)

// ChatRequester talks to an OpenAI compatible /chat/completions endpoint.
type ChatRequester struct {
	base
}

func NewChatRequester(opts Options) *ChatRequester {
	opts = opts.normalize()
	return &ChatRequester{base{
		protocol: "chat",
		url:      opts.BaseURL + "/chat/completions",
		opts:     opts,
	}}
}

type chatCall struct {
	t       *timing
	role    *string
	text    strings.Builder
	usage   gjson.Result
	decoded int
}

func (c *chatCall) onData(data string, at time.Time) error {
	if !gjson.Valid(data) {
		return fmt.Errorf("malformed stream chunk %q", truncate(data, 80))
	}
	chunk := gjson.Parse(data)
	if e := chunk.Get("error"); e.Exists() && e.Type != gjson.Null {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.Raw
		}
		return fmt.Errorf("stream error: %s", msg)
	}

	if choices := chunk.Get("choices"); len(choices.Array()) > 0 {
		c.t.content(at)
		delta := choices.Get("0.delta")
		if c.role == nil {
			if r := delta.Get("role"); r.Type == gjson.String {
				role := r.String()
				c.role = &role
			}
		}
		c.text.WriteString(delta.Get("content").String())
	}
	if u := chunk.Get("usage"); u.IsObject() {
		c.usage = u
	}
	c.decoded++
	return nil
}

// Issue sends item's body as a streaming chat completion.
func (r *ChatRequester) Issue(ctx context.Context, item dataset.WorkItem) (dataset.ResponseRecord, error) {
	ctx, span := tracing.StartRequestSpan(ctx, r.opts.Tracer, r.protocol, item.CustomID)
	call := &chatCall{t: newTiming(r.opts.Now)}

	extra := map[string]any{"stream_options": map[string]any{"include_usage": true}}
	if r.opts.Model != "" {
		extra["model"] = r.opts.Model
	}
	body, err := streamingBody(item.Body, extra)
	if err != nil {
		return r.finish(ctx, span, item, call.t, 0, err, dataset.Message{})
	}

	status, err := r.exchange(ctx, body, call.t, call.onData)
	if err != nil {
		return r.finish(ctx, span, item, call.t, 0, err, dataset.Message{})
	}

	var attrs []attribute.KeyValue
	if p := call.usage.Get("prompt_tokens"); p.Exists() {
		call.t.observe(metrics.PrefillTokens, p.Float())
		attrs = append(attrs, tracing.AttrPrefill.Int64(p.Int()))
	}
	if d := call.usage.Get("completion_tokens"); d.Exists() {
		call.t.observe(metrics.DecodeTokens, d.Float())
		attrs = append(attrs, tracing.AttrDecode.Int64(d.Int()))
	}

	log.WithFields(log.Fields{
		"custom_id": item.CustomID,
		"chunks":    call.decoded,
	}).Debug("chat stream complete")

	content := call.text.String()
	return r.finish(ctx, span, item, call.t, status, nil, dataset.Message{Role: call.role, Content: &content}, attrs...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
