package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type Protocol string

const (
	ProtocolChat     Protocol = "chat"
	ProtocolGenerate Protocol = "generate"
)

type SamplerMode string

const (
	SamplerFinite   SamplerMode = "finite"
	SamplerInfinite SamplerMode = "infinite"
)

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type OutputType string

const (
	OutputLocal   OutputType = "local"
	OutputS3      OutputType = "s3"
	OutputRedis   OutputType = "redis"
	OutputDiscard OutputType = "discard"
)

type Config struct {
	Target        TargetConfig  `mapstructure:"target" yaml:"target"`
	MaxUsers      int           `mapstructure:"max_users" yaml:"max_users"`
	SpawnRate     float64       `mapstructure:"spawn_rate" yaml:"spawn_rate"`
	RunTime       time.Duration `mapstructure:"run_time" yaml:"run_time"`
	Wait          WaitConfig    `mapstructure:"wait" yaml:"wait"`
	Sampler       SamplerMode   `mapstructure:"sampler" yaml:"sampler"`
	Overwrite     bool          `mapstructure:"overwrite" yaml:"overwrite"`
	Arrival       ArrivalConfig `mapstructure:"arrival" yaml:"arrival"`
	Seed          int64         `mapstructure:"seed" yaml:"seed"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
	Input         string        `mapstructure:"input" yaml:"input"`
	Output        OutputConfig  `mapstructure:"output" yaml:"output"`
	Metrics       MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing       TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Log           LogConfig     `mapstructure:"log" yaml:"log"`
	JSONOutput    bool          `mapstructure:"json_output" yaml:"json_output"`
	Progress      bool          `mapstructure:"progress" yaml:"progress"`
	Thresholds    []string      `mapstructure:"thresholds" yaml:"thresholds,omitempty"`
	ConfigFile    string        `mapstructure:"-" yaml:"-"`
	PrintConfig   bool          `mapstructure:"-" yaml:"-"`
}

// TargetConfig describes the inference server under test.
type TargetConfig struct {
	URL      string            `mapstructure:"url" yaml:"url"`
	APIKey   string            `mapstructure:"api_key" yaml:"api_key"`
	Model    string            `mapstructure:"model" yaml:"model"`
	Protocol Protocol          `mapstructure:"protocol" yaml:"protocol"`
	Timeout  time.Duration     `mapstructure:"timeout" yaml:"timeout"` // time allowed until response headers arrive
	Headers  map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

// WaitConfig bounds the pause a user takes between two requests.
type WaitConfig struct {
	Min time.Duration `mapstructure:"min" yaml:"min"`
	Max time.Duration `mapstructure:"max" yaml:"max"`
}

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model" yaml:"model"`
}

type OutputConfig struct {
	Type  OutputType  `mapstructure:"type" yaml:"type"`
	Path  string      `mapstructure:"path" yaml:"path"`
	S3    S3Config    `mapstructure:"s3" yaml:"s3"`
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Secure    bool   `mapstructure:"secure" yaml:"secure"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"` // defaults to strawberry:<run>
}

type MetricsConfig struct {
	Run    string `mapstructure:"run" yaml:"run"`
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Protocol    string  `mapstructure:"protocol" yaml:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	Propagate   *bool   `mapstructure:"propagate" yaml:"propagate,omitempty"`
}

// Enabled reports whether spans should be exported at all.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether W3C trace headers are sent to the target.
// It follows Enabled unless explicitly overridden.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateTarget(c.Target)...)

	if c.MaxUsers > 500 {
		log.Warnf("High user count configured (%d users). Ensure you have authorization to test the target system.", c.MaxUsers)
	}

	if c.MaxUsers < 1 {
		issues = append(issues, "max_users must be >= 1")
	}
	if c.RunTime < 0 {
		issues = append(issues, "run_time must be >= 0")
	}
	if c.Wait.Min < 0 {
		issues = append(issues, "wait.min must be >= 0")
	}
	if c.Wait.Max < c.Wait.Min {
		issues = append(issues, "wait.max must be >= wait.min")
	}
	if c.ShutdownGrace < 0 {
		issues = append(issues, "shutdown_grace must be >= 0")
	}

	switch c.Sampler {
	case SamplerFinite:
	case SamplerInfinite:
		if c.RunTime == 0 {
			issues = append(issues, "run_time must be > 0 with the infinite sampler")
		}
	default:
		issues = append(issues, fmt.Sprintf("sampler must be 'finite' or 'infinite', got %q", c.Sampler))
	}

	switch c.Arrival.Model {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("arrival model %q is not supported", c.Arrival.Model))
	}

	if strings.TrimSpace(c.Input) == "" {
		issues = append(issues, "input is required")
	}

	issues = append(issues, validateOutput(c.Output)...)
	issues = append(issues, validateTracing(c.Tracing)...)
	issues = append(issues, validateLog(c.Log)...)

	if c.Progress && c.JSONOutput {
		issues = append(issues, "progress and json-output are mutually exclusive")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTarget(t TargetConfig) []string {
	var issues []string
	if strings.TrimSpace(t.URL) == "" {
		issues = append(issues, "target is required (use --help for usage information)")
	} else if u, err := url.Parse(t.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		issues = append(issues, fmt.Sprintf("target must be an http(s) URL, got %q", t.URL))
	}

	switch t.Protocol {
	case ProtocolChat:
		if strings.TrimSpace(t.Model) == "" {
			issues = append(issues, "model is required for the chat protocol")
		}
	case ProtocolGenerate:
	default:
		issues = append(issues, fmt.Sprintf("protocol: must be 'chat' or 'generate', got %q", t.Protocol))
	}

	if t.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	return issues
}

func validateOutput(o OutputConfig) []string {
	var issues []string
	switch o.Type {
	case OutputLocal:
		if strings.TrimSpace(o.Path) == "" {
			issues = append(issues, "output: path is required for local output")
		}
	case OutputS3:
		if strings.TrimSpace(o.S3.Endpoint) == "" {
			issues = append(issues, "output: s3 endpoint is required")
		}
		if strings.TrimSpace(o.S3.Bucket) == "" {
			issues = append(issues, "output: s3 bucket is required")
		}
	case OutputRedis:
		if strings.TrimSpace(o.Redis.Addr) == "" {
			issues = append(issues, "output: redis addr is required")
		}
		if o.Redis.DB < 0 {
			issues = append(issues, "output: redis db must be >= 0")
		}
	case OutputDiscard:
	default:
		issues = append(issues, fmt.Sprintf("output: type must be 'local', 's3', 'redis' or 'discard', got %q", o.Type))
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	return issues
}

func validateLog(l LogConfig) []string {
	var issues []string
	if _, err := log.ParseLevel(l.Level); err != nil {
		issues = append(issues, fmt.Sprintf("log: %v", err))
	}
	switch l.Format {
	case "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log: format must be 'text' or 'json', got %q", l.Format))
	}
	return issues
}
