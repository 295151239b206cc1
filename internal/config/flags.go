package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "strawberry",
		Short:         "Streaming load generator for LLM inference servers",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	d := Defaults()

	// Target flags
	flags.String("target", "", "Base URL of the inference server (e.g. http://localhost:8000/v1)")
	flags.String("api-key", "", "Bearer token sent to the target (or set "+EnvPrefix+"_API_KEY)")
	flags.String("model", "", "Model name placed in every chat request")
	flags.String("protocol", string(d.Target.Protocol), "Target API: 'chat' (OpenAI chat completions) or 'generate' (SGLang)")
	flags.Duration("timeout", d.Target.Timeout, "Time allowed for response headers to arrive")
	flags.StringSlice("header", nil, "Additional request header in key=value form")

	// Load control flags
	flags.IntP("max-users", "u", d.MaxUsers, "Number of concurrent users to spawn")
	flags.Float64P("spawn-rate", "r", d.SpawnRate, "Users spawned per second (0 spawns all at once)")
	flags.DurationP("run-time", "d", d.RunTime, "How long to wait for users after ramp-up (0 means no limit, finite sampler only)")
	flags.Duration("wait-min", d.Wait.Min, "Minimum pause between two requests of one user")
	flags.Duration("wait-max", d.Wait.Max, "Maximum pause between two requests of one user")
	flags.String("arrival-model", string(ArrivalModelUniform), "Spawn pacing model (uniform or poisson)")
	flags.Duration("shutdown-grace", d.ShutdownGrace, "Max time to wait for cancelled users to exit")

	// Dataset flags
	flags.StringP("input", "i", "", "Path to the JSONL or JSON array input dataset")
	flags.String("sampler", string(d.Sampler), "Sampling mode: 'finite' (each item once) or 'infinite'")
	flags.Bool("overwrite", false, "Re-run items that already have a stored response")
	flags.Int64("seed", 0, "Random seed for sampling and pacing (0 picks one)")

	// Output flags
	flags.StringP("output", "o", string(d.Output.Type), "Response store: 'local', 's3', 'redis' or 'discard'")
	flags.String("output-path", d.Output.Path, "Directory for the local response store")
	flags.String("s3-endpoint", "", "S3 endpoint host[:port] or URL")
	flags.String("s3-bucket", "", "S3 bucket for responses")
	flags.String("s3-prefix", "", "Object key prefix for responses")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-access-key", "", "S3 access key")
	flags.String("s3-secret-key", "", "S3 secret key")
	flags.Bool("s3-secure", true, "Use TLS for the S3 endpoint")
	flags.String("redis-addr", "", "Redis address (host:port)")
	flags.String("redis-username", "", "Redis username")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database number")
	flags.String("redis-key", "", "Redis hash holding responses (default strawberry:<run>)")

	// Reporting flags
	flags.String("run", "", "Run label attached to every metric (default run-<ulid>)")
	flags.String("metrics-listen", "", "Address to serve Prometheus metrics on (e.g. :9090)")
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.Bool("progress", false, "Print a live progress line to stderr")
	flags.StringSlice("threshold", nil, "Performance thresholds (repeatable, e.g. 'ttft:p95 < 500')")
	flags.String("log-level", d.Log.Level, "Log level (debug, info, warn, error)")
	flags.String("log-format", d.Log.Format, "Log format: 'text' or 'json'")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.Bool("print-config", false, "Print the effective configuration as YAML and exit")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", d.Tracing.Protocol, "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported in spans")
	flags.Float64("tracing-sample-rate", d.Tracing.SampleRate, "Fraction of requests to trace (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("tracing-propagate", false, "Send W3C trace headers to the target")
}

func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n%s\n\nFlags:\n", cmd.UseLine(), cmd.Short)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and the environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	strs := map[string]*string{
		"target":               &cfg.Target.URL,
		"api-key":              &cfg.Target.APIKey,
		"model":                &cfg.Target.Model,
		"input":                &cfg.Input,
		"output-path":          &cfg.Output.Path,
		"s3-endpoint":          &cfg.Output.S3.Endpoint,
		"s3-bucket":            &cfg.Output.S3.Bucket,
		"s3-prefix":            &cfg.Output.S3.Prefix,
		"s3-region":            &cfg.Output.S3.Region,
		"s3-access-key":        &cfg.Output.S3.AccessKey,
		"s3-secret-key":        &cfg.Output.S3.SecretKey,
		"redis-addr":           &cfg.Output.Redis.Addr,
		"redis-username":       &cfg.Output.Redis.Username,
		"redis-password":       &cfg.Output.Redis.Password,
		"redis-key":            &cfg.Output.Redis.Key,
		"run":                  &cfg.Metrics.Run,
		"metrics-listen":       &cfg.Metrics.Listen,
		"log-level":            &cfg.Log.Level,
		"log-format":           &cfg.Log.Format,
		"tracing-endpoint":     &cfg.Tracing.Endpoint,
		"tracing-protocol":     &cfg.Tracing.Protocol,
		"tracing-service-name": &cfg.Tracing.ServiceName,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(val)
	}

	if fs.Changed("protocol") {
		val, err := fs.GetString("protocol")
		if err != nil {
			return err
		}
		cfg.Target.Protocol = Protocol(val)
	}
	if fs.Changed("sampler") {
		val, err := fs.GetString("sampler")
		if err != nil {
			return err
		}
		cfg.Sampler = SamplerMode(val)
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival.Model = ArrivalModel(val)
	}
	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.Output.Type = OutputType(val)
	}

	durations := map[string]*time.Duration{
		"timeout":        &cfg.Target.Timeout,
		"run-time":       &cfg.RunTime,
		"wait-min":       &cfg.Wait.Min,
		"wait-max":       &cfg.Wait.Max,
		"shutdown-grace": &cfg.ShutdownGrace,
	}
	for name, dst := range durations {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetDuration(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	bools := map[string]*bool{
		"overwrite":        &cfg.Overwrite,
		"s3-secure":        &cfg.Output.S3.Secure,
		"json-output":      &cfg.JSONOutput,
		"progress":         &cfg.Progress,
		"print-config":     &cfg.PrintConfig,
		"tracing-insecure": &cfg.Tracing.Insecure,
	}
	for name, dst := range bools {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetBool(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	if fs.Changed("max-users") {
		val, err := fs.GetInt("max-users")
		if err != nil {
			return err
		}
		cfg.MaxUsers = val
	}
	if fs.Changed("spawn-rate") {
		val, err := fs.GetFloat64("spawn-rate")
		if err != nil {
			return err
		}
		cfg.SpawnRate = val
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.Seed = val
	}
	if fs.Changed("redis-db") {
		val, err := fs.GetInt("redis-db")
		if err != nil {
			return err
		}
		cfg.Output.Redis.DB = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Target.Headers == nil {
			cfg.Target.Headers = map[string]string{}
		}
		for _, entry := range vals {
			key, value, ok := strings.Cut(entry, "=")
			if !ok {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key = http.CanonicalHeaderKey(strings.TrimSpace(key))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Target.Headers[key] = strings.TrimSpace(value)
		}
	}

	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	return nil
}
