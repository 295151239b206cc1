package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClientHasNoOverallTimeout(t *testing.T) {
	client := NewClient(5*time.Second, 4)
	if client.Timeout != 0 {
		t.Fatalf("expected no client timeout for streaming, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 5*time.Second {
		t.Fatalf("expected header timeout 5s, got %s", transport.ResponseHeaderTimeout)
	}
	if transport.MaxIdleConnsPerHost != 4 {
		t.Fatalf("expected 4 idle conns per host, got %d", transport.MaxIdleConnsPerHost)
	}
}

func TestNewClientClampsArguments(t *testing.T) {
	transport := NewClient(-time.Second, 0).Transport.(*http.Transport)
	if transport.ResponseHeaderTimeout != 0 {
		t.Fatalf("expected negative timeout to disable header timeout, got %s", transport.ResponseHeaderTimeout)
	}
	if transport.MaxIdleConnsPerHost != 1 {
		t.Fatalf("expected at least one idle conn, got %d", transport.MaxIdleConnsPerHost)
	}
}

func TestNewClientHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(50*time.Millisecond, 1)
	resp, err := client.Get(server.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected header timeout error")
	}
}

func TestHeaders(t *testing.T) {
	headers, err := Headers(" sk-123 ", map[string]string{
		"x-team":       "bench",
		"content-type": "application/json",
	})
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if got := headers.Get("Authorization"); got != "Bearer sk-123" {
		t.Errorf("Authorization = %q", got)
	}
	if got := headers.Get("X-Team"); got != "bench" {
		t.Errorf("X-Team = %q", got)
	}
	if _, ok := headers["Content-Type"]; !ok {
		t.Errorf("expected canonical Content-Type key, got %v", headers)
	}
}

func TestHeadersWithoutAPIKey(t *testing.T) {
	headers, err := Headers("", nil)
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if headers.Get("Authorization") != "" {
		t.Fatalf("expected no Authorization header, got %q", headers.Get("Authorization"))
	}
}

func TestHeadersRejectsInjection(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		extra  map[string]string
	}{
		{"empty key", "", map[string]string{" ": "v"}},
		{"newline in key", "", map[string]string{"X-A\r\nX-B": "v"}},
		{"newline in value", "", map[string]string{"X-A": "v\r\nX-B: w"}},
		{"newline in api key", "sk\nX-B: w", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Headers(tt.apiKey, tt.extra); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
