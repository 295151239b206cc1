package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// NewClient returns a client suited to long-lived streaming responses.
// headerTimeout bounds the time until response headers arrive (0 disables it)
// and conns sizes the per-host idle pool, normally one per simulated user.
func NewClient(headerTimeout time.Duration, conns int) *http.Client {
	if headerTimeout < 0 {
		headerTimeout = 0
	}
	if conns < 1 {
		conns = 1
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          conns * 2,
		MaxIdleConnsPerHost:   conns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		// Compressed SSE defeats per-chunk timing.
		DisableCompression: true,
	}

	return &http.Client{
		Transport: transport,
	}
}

// Headers validates user supplied headers and adds the bearer token, if any.
func Headers(apiKey string, extra map[string]string) (http.Header, error) {
	headers := http.Header{}
	for key, value := range extra {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n: ") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}

	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		if strings.ContainsAny(apiKey, "\r\n") {
			return nil, fmt.Errorf("invalid api key")
		}
		headers.Set("Authorization", "Bearer "+apiKey)
	}
	return headers, nil
}
