// Command fakellm serves a fake streaming inference API for local benchmark runs.
//
//	go run ./scripts/fakellm --listen :8000 --tokens 32 --chunk-delay 20ms
//	strawberry --target http://localhost:8000/v1 --model fake --input items.jsonl
package main

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/torosent/strawberry/internal/fakellm"
)

func main() {
	listen := pflag.String("listen", ":8000", "Address to listen on")
	tokens := pflag.Int("tokens", 8, "Generated tokens per response")
	delay := pflag.Duration("chunk-delay", 20*time.Millisecond, "Delay before every generated chunk")
	rejectEvery := pflag.Int("reject-every", 0, "Answer every Nth request with 429 (0 disables)")
	debug := pflag.Bool("debug", false, "Log every request")
	pflag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	server := fakellm.New(fakellm.Options{
		Tokens:      *tokens,
		ChunkDelay:  *delay,
		RejectEvery: *rejectEvery,
	})
	srv := &http.Server{
		Addr:              *listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithField("listen", *listen).Info("fakellm listening")
	log.Fatal(srv.ListenAndServe())
}
