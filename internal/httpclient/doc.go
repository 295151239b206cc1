// Package httpclient builds the HTTP client and static request headers used to
// talk to the inference server.
//
// Responses are streamed for as long as the model keeps generating, so the
// client returned by [NewClient] has no overall deadline. Only the wait for
// response headers is bounded; cancellation of an in-flight stream is driven by
// the request context.
//
//	client := httpclient.NewClient(60*time.Second, cfg.MaxUsers)
//	headers, err := httpclient.Headers(cfg.Target.APIKey, cfg.Target.Headers)
package httpclient
