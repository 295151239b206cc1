// Package fakellm is a small streaming inference server used to exercise the
// benchmark end to end. It speaks the OpenAI chat completions SSE dialect on
// /v1/chat/completions and the SGLang native dialect on /generate.
package fakellm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

type Options struct {
	Tokens      int           // generated tokens per response, default 8
	ChunkDelay  time.Duration // pause before every generated chunk
	RejectEvery int           // answer every Nth request with 429 (0 disables)
}

type Server struct {
	opts     Options
	requests atomic.Int64
	rejected atomic.Int64
}

func New(opts Options) *Server {
	if opts.Tokens <= 0 {
		opts.Tokens = 8
	}
	return &Server{opts: opts}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", s.handleChat)
	mux.HandleFunc("/generate", s.handleGenerate)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Requests returns how many completion requests were received.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Rejected returns how many of them were answered with 429.
func (s *Server) Rejected() int64 { return s.rejected.Load() }

var words = []string{"The", " quick", " brown", " fox", " jumps", " over", " the", " lazy", " dog", "."}

func (s *Server) admit(w http.ResponseWriter, r *http.Request) (gjson.Result, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return gjson.Result{}, false
	}
	n := s.requests.Add(1)
	if s.opts.RejectEvery > 0 && n%int64(s.opts.RejectEvery) == 0 {
		s.rejected.Add(1)
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
		return gjson.Result{}, false
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(raw) {
		http.Error(w, `{"error":{"message":"invalid JSON body"}}`, http.StatusBadRequest)
		return gjson.Result{}, false
	}
	body := gjson.ParseBytes(raw)
	if !body.Get("stream").Bool() {
		http.Error(w, `{"error":{"message":"only streaming requests are supported"}}`, http.StatusBadRequest)
		return gjson.Result{}, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	return body, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, ok := s.admit(w, r)
	if !ok {
		return
	}
	prompt := 0
	for _, m := range body.Get("messages").Array() {
		prompt += len(strings.Fields(m.Get("content").String()))
	}
	log.WithFields(log.Fields{"model": body.Get("model").String(), "prompt_tokens": prompt}).Debug("chat request")

	for i := 0; i < s.opts.Tokens; i++ {
		delta := map[string]any{"content": words[i%len(words)]}
		if i == 0 {
			delta["role"] = "assistant"
		}
		chunk := map[string]any{
			"object":  "chat.completion.chunk",
			"model":   body.Get("model").String(),
			"choices": []any{map[string]any{"index": 0, "delta": delta}},
		}
		if !s.send(w, r, chunk) {
			return
		}
	}
	if body.Get("stream_options.include_usage").Bool() {
		usage := map[string]any{
			"object":  "chat.completion.chunk",
			"choices": []any{},
			"usage": map[string]int{
				"prompt_tokens":     prompt,
				"completion_tokens": s.opts.Tokens,
				"total_tokens":      prompt + s.opts.Tokens,
			},
		}
		if !writeEvent(w, usage) {
			return
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush(w)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.admit(w, r)
	if !ok {
		return
	}
	prompt := len(strings.Fields(body.Get("text").String()))

	var text strings.Builder
	for i := 0; i < s.opts.Tokens; i++ {
		text.WriteString(words[i%len(words)])
		chunk := map[string]any{
			"text": text.String(),
			"meta_info": map[string]any{
				"prompt_tokens":     prompt,
				"completion_tokens": i + 1,
			},
		}
		if !s.send(w, r, chunk) {
			return
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush(w)
}

// send waits ChunkDelay and writes one chunk. It reports false once the
// client has gone away.
func (s *Server) send(w http.ResponseWriter, r *http.Request, chunk any) bool {
	if s.opts.ChunkDelay > 0 {
		select {
		case <-time.After(s.opts.ChunkDelay):
		case <-r.Context().Done():
			return false
		}
	}
	return writeEvent(w, chunk)
}

func writeEvent(w http.ResponseWriter, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flush(w)
	return true
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
