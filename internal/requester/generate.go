package requester

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/strawberry/internal/dataset"
	"github.com/torosent/strawberry/internal/metrics"
	"github.com/torosent/strawberry/internal/tracing"
)

// GenerateRequester talks to the SGLang native /generate endpoint. Each chunk
// carries the running text and a meta_info object with token counts.
type GenerateRequester struct {
	base
}

func NewGenerateRequester(opts Options) *GenerateRequester {
	opts = opts.normalize()
	return &GenerateRequester{base{
		protocol: "generate",
		url:      opts.BaseURL + "/generate",
		opts:     opts,
	}}
}

type generateCall struct {
	t          *timing
	last       json.RawMessage
	completion gjson.Result
	skipped    int
}

func (g *generateCall) onData(data string, at time.Time) error {
	if !gjson.Valid(data) {
		g.skipped++
		log.WithField("chunk", truncate(data, 80)).Debug("skipping undecodable chunk")
		return nil
	}
	chunk := gjson.Parse(data)
	if g.t.chunks == 0 {
		if p := chunk.Get("meta_info.prompt_tokens"); p.Exists() {
			g.t.observe(metrics.PrefillTokens, p.Float())
		}
	}
	g.t.content(at)
	if c := chunk.Get("meta_info.completion_tokens"); c.Exists() {
		g.completion = c
	}
	g.last = json.RawMessage(data)
	return nil
}

// Issue sends item's body to /generate with streaming enabled.
func (r *GenerateRequester) Issue(ctx context.Context, item dataset.WorkItem) (dataset.ResponseRecord, error) {
	ctx, span := tracing.StartRequestSpan(ctx, r.opts.Tracer, r.protocol, item.CustomID)
	call := &generateCall{t: newTiming(r.opts.Now)}

	body, err := streamingBody(item.Body, map[string]any{})
	if err != nil {
		return r.finish(ctx, span, item, call.t, 0, err, dataset.RawPayload{})
	}

	status, err := r.exchange(ctx, body, call.t, call.onData)
	if err != nil {
		return r.finish(ctx, span, item, call.t, 0, err, dataset.RawPayload{})
	}

	var attrs []attribute.KeyValue
	if call.completion.Exists() {
		call.t.observe(metrics.DecodeTokens, call.completion.Float())
		attrs = append(attrs, tracing.AttrDecode.Int64(call.completion.Int()))
	}
	if call.skipped > 0 {
		log.WithFields(log.Fields{
			"custom_id": item.CustomID,
			"skipped":   call.skipped,
		}).Warn("generate stream contained undecodable chunks")
	}

	return r.finish(ctx, span, item, call.t, status, nil, dataset.RawPayload{Data: call.last}, attrs...)
}
