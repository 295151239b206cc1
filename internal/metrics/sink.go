package metrics

// Metric names shared by every sink.
const (
	RequestTotalLatency = "request_total_latency_seconds"
	TimeToFirstToken    = "request_time_to_first_token_latency_seconds"
	TimePerOutputToken  = "request_time_per_output_token_latency_seconds"
	PrefillTime         = "request_prefill_time_seconds"
	DecodeTime          = "request_decode_time_seconds"
	PrefillTokens       = "prefill_tokens"
	DecodeTokens        = "decode_tokens"

	RequestsCount     = "requests_count"
	ResponseCodeCount = "response_code_count"
	UsersSpawned      = "users_spawned"

	ActiveUsers = "active_users"
)

// LabelCode carries the response status code on ResponseCodeCount.
const LabelCode = "code"

// Labels are extra dimensions on top of the run label.
type Labels map[string]string

// Sink accepts scalar observations. Implementations bind the run label
// themselves and must be safe for concurrent use.
type Sink interface {
	Inc(name string, labels Labels)
	Observe(name string, value float64, labels Labels)
	AddGauge(name string, delta float64, labels Labels)
}

// Multi fans every observation out to each sink in order. Nil entries are
// skipped.
type Multi []Sink

func (m Multi) Inc(name string, labels Labels) {
	for _, s := range m {
		if s != nil {
			s.Inc(name, labels)
		}
	}
}

func (m Multi) Observe(name string, value float64, labels Labels) {
	for _, s := range m {
		if s != nil {
			s.Observe(name, value, labels)
		}
	}
}

func (m Multi) AddGauge(name string, delta float64, labels Labels) {
	for _, s := range m {
		if s != nil {
			s.AddGauge(name, delta, labels)
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Inc(string, Labels) {}

func (Nop) Observe(string, float64, Labels) {}

func (Nop) AddGauge(string, float64, Labels) {}
