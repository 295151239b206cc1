package fakellm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/torosent/strawberry/internal/sse"
)

func collect(t *testing.T, url, body string) []string {
	t.Helper()
	ctx := context.Background()
	stream, err := sse.Open(ctx, sse.Config{URL: url, Body: []byte(body)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	var data []string
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return data
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		data = append(data, ev.Data)
	}
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(New(Options{Tokens: 3}).Handler())
	defer srv.Close()

	data := collect(t, srv.URL+"/v1/chat/completions",
		`{"model":"m","stream":true,"stream_options":{"include_usage":true},"messages":[{"role":"user","content":"say three words"}]}`)
	if len(data) != 5 {
		t.Fatalf("expected 3 content chunks, usage and [DONE], got %v", data)
	}
	if data[4] != "[DONE]" {
		t.Fatalf("last event = %q", data[4])
	}
	var usage struct {
		Usage struct {
			Prompt     int `json:"prompt_tokens"`
			Completion int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data[3]), &usage); err != nil {
		t.Fatal(err)
	}
	if usage.Usage.Prompt != 3 || usage.Usage.Completion != 3 {
		t.Fatalf("unexpected usage %+v", usage.Usage)
	}
	if !strings.Contains(data[0], `"role":"assistant"`) {
		t.Fatalf("first chunk should carry the role: %s", data[0])
	}
}

func TestChatStreamWithoutUsage(t *testing.T) {
	srv := httptest.NewServer(New(Options{Tokens: 2}).Handler())
	defer srv.Close()

	data := collect(t, srv.URL+"/v1/chat/completions", `{"stream":true,"messages":[]}`)
	if len(data) != 3 {
		t.Fatalf("expected 2 content chunks and [DONE], got %v", data)
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(New(Options{Tokens: 2}).Handler())
	defer srv.Close()

	data := collect(t, srv.URL+"/generate", `{"text":"hello there","stream":true}`)
	if len(data) != 3 {
		t.Fatalf("expected 2 chunks and [DONE], got %v", data)
	}
	if !strings.Contains(data[1], `"completion_tokens":2`) || !strings.Contains(data[1], `"prompt_tokens":2`) {
		t.Fatalf("unexpected last chunk %s", data[1])
	}
}

func TestRejectsNonStreamingAndRateLimits(t *testing.T) {
	fake := New(Options{RejectEvery: 2})
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/generate", "application/json", strings.NewReader(`{"text":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-streaming request: status %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/generate", "application/json", strings.NewReader(`{"stream":true}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", resp.StatusCode)
	}
	if fake.Requests() != 2 || fake.Rejected() != 1 {
		t.Fatalf("requests=%d rejected=%d", fake.Requests(), fake.Rejected())
	}
}
