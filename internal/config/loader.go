package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files, the environment and
// command-line arguments, in increasing order of precedence.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// EnvPrefix namespaces the environment variables the loader reads.
const EnvPrefix = "STRAWBERRY"

func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns the configuration used before any file, environment
// variable or flag is applied.
func Defaults() Config {
	return Config{
		Target: TargetConfig{
			Protocol: ProtocolChat,
			Timeout:  60 * time.Second,
			Headers:  map[string]string{},
		},
		MaxUsers:      8,
		SpawnRate:     1,
		RunTime:       128 * time.Second,
		Wait:          WaitConfig{Min: time.Second, Max: 4 * time.Second},
		Sampler:       SamplerFinite,
		Arrival:       ArrivalConfig{Model: ArrivalModelUniform},
		ShutdownGrace: 5 * time.Second,
		Output:        OutputConfig{Type: OutputLocal, Path: "output", S3: S3Config{Secure: true}},
		Tracing:       TracingConfig{Protocol: "grpc", SampleRate: 1.0},
		Log:           LogConfig{Level: "info", Format: "text"},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	cfgViper.SetEnvPrefix(EnvPrefix)
	if err := cfgViper.BindEnv("api_key"); err != nil {
		return nil, err
	}
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	// STRAWBERRY_API_KEY beats the file but not the flag.
	if key := cfgViper.GetString("api_key"); key != "" {
		cfg.Target.APIKey = key
	}

	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	normalize(&cfg)
	return &cfg, nil
}

func normalize(cfg *Config) {
	cfg.Target.URL = strings.TrimRight(strings.TrimSpace(cfg.Target.URL), "/")
	cfg.Target.Protocol = Protocol(strings.ToLower(strings.TrimSpace(string(cfg.Target.Protocol))))
	cfg.Sampler = SamplerMode(strings.ToLower(strings.TrimSpace(string(cfg.Sampler))))
	cfg.Arrival.Model = ArrivalModel(strings.ToLower(strings.TrimSpace(string(cfg.Arrival.Model))))
	if cfg.Arrival.Model == "" {
		cfg.Arrival.Model = ArrivalModelUniform
	}
	cfg.Output.Type = OutputType(strings.ToLower(strings.TrimSpace(string(cfg.Output.Type))))
	cfg.Input = strings.TrimSpace(cfg.Input)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	if cfg.Target.Headers == nil {
		cfg.Target.Headers = map[string]string{}
	}
	if strings.TrimSpace(cfg.Metrics.Run) == "" {
		cfg.Metrics.Run = NewRunLabel()
	}
	if cfg.Output.Redis.Key == "" {
		cfg.Output.Redis.Key = "strawberry:" + cfg.Metrics.Run
	}
}

// NewRunLabel returns a fresh, lexically sortable run identifier.
func NewRunLabel() string {
	return "run-" + strings.ToLower(ulid.Make().String())
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target"); ok {
		if err := applyTarget(&cfg.Target, raw); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "maxusers", "max_users", "max-users"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max_users: %w", err)
		}
		cfg.MaxUsers = val
	}

	if raw, ok := lookupSetting(settings, "spawnrate", "spawn_rate", "spawn-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("spawn_rate: %w", err)
		}
		cfg.SpawnRate = val
	}

	if raw, ok := lookupSetting(settings, "runtime", "run_time", "run-time"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("run_time: %w", err)
		}
		cfg.RunTime = dur
	}

	if raw, ok := lookupSetting(settings, "wait"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		if v, ok := lookupSetting(entry, "min"); ok {
			dur, err := asDuration(v)
			if err != nil {
				return fmt.Errorf("wait.min: %w", err)
			}
			cfg.Wait.Min = dur
		}
		if v, ok := lookupSetting(entry, "max"); ok {
			dur, err := asDuration(v)
			if err != nil {
				return fmt.Errorf("wait.max: %w", err)
			}
			cfg.Wait.Max = dur
		}
	}

	if raw, ok := lookupSetting(settings, "sampler"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("sampler: %w", err)
		}
		cfg.Sampler = SamplerMode(val)
	}

	if raw, ok := lookupSetting(settings, "overwrite"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("overwrite: %w", err)
		}
		cfg.Overwrite = val
	}

	if raw, ok := lookupSetting(settings, "arrival"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival = arrival
		}
	}

	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		cfg.Seed = int64(val)
	}

	if raw, ok := lookupSetting(settings, "shutdowngrace", "shutdown_grace", "shutdown-grace"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("shutdown_grace: %w", err)
		}
		cfg.ShutdownGrace = dur
	}

	if raw, ok := lookupSetting(settings, "input"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("input: %w", err)
		}
		cfg.Input = val
	}

	if raw, ok := lookupSetting(settings, "output"); ok {
		if err := applyOutput(&cfg.Output, raw); err != nil {
			return fmt.Errorf("output: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "metrics"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		if v, ok := lookupSetting(entry, "run"); ok {
			if cfg.Metrics.Run, err = asString(v); err != nil {
				return fmt.Errorf("metrics.run: %w", err)
			}
		}
		if v, ok := lookupSetting(entry, "listen"); ok {
			if cfg.Metrics.Listen, err = asString(v); err != nil {
				return fmt.Errorf("metrics.listen: %w", err)
			}
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracing(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		if v, ok := lookupSetting(entry, "level"); ok {
			if cfg.Log.Level, err = asString(v); err != nil {
				return fmt.Errorf("log.level: %w", err)
			}
		}
		if v, ok := lookupSetting(entry, "format"); ok {
			if cfg.Log.Format, err = asString(v); err != nil {
				return fmt.Errorf("log.format: %w", err)
			}
		}
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "progress"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		cfg.Progress = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	return nil
}

// applyTarget accepts either a bare URL or a target section.
func applyTarget(t *TargetConfig, raw interface{}) error {
	if s, ok := raw.(string); ok {
		t.URL = s
		return nil
	}
	entry, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}

	for key, dst := range map[string]*string{"url": &t.URL, "model": &t.Model} {
		if v, ok := lookupSetting(entry, key); ok {
			if *dst, err = asString(v); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	if v, ok := lookupSetting(entry, "apikey", "api_key", "api-key"); ok {
		if t.APIKey, err = asString(v); err != nil {
			return fmt.Errorf("api_key: %w", err)
		}
	}
	if v, ok := lookupSetting(entry, "protocol"); ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = Protocol(s)
	}
	if v, ok := lookupSetting(entry, "timeout"); ok {
		if t.Timeout, err = asDuration(v); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}
	if v, ok := lookupSetting(entry, "headers"); ok {
		hdrs, err := asStringMap(v)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if t.Headers == nil {
			t.Headers = map[string]string{}
		}
		for k, val := range hdrs {
			t.Headers[http.CanonicalHeaderKey(k)] = val
		}
	}
	return nil
}

func applyOutput(o *OutputConfig, raw interface{}) error {
	entry, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}
	if v, ok := lookupSetting(entry, "type"); ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("type: %w", err)
		}
		o.Type = OutputType(s)
	}
	if v, ok := lookupSetting(entry, "path"); ok {
		if o.Path, err = asString(v); err != nil {
			return fmt.Errorf("path: %w", err)
		}
	}
	if v, ok := lookupSetting(entry, "s3"); ok {
		s3, err := toStringKeyMap(v)
		if err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		fields := map[string]*string{
			"endpoint":   &o.S3.Endpoint,
			"bucket":     &o.S3.Bucket,
			"prefix":     &o.S3.Prefix,
			"region":     &o.S3.Region,
			"access_key": &o.S3.AccessKey,
			"secret_key": &o.S3.SecretKey,
		}
		for key, dst := range fields {
			if v, ok := lookupSetting(s3, key, strings.ReplaceAll(key, "_", "")); ok {
				if *dst, err = asString(v); err != nil {
					return fmt.Errorf("s3.%s: %w", key, err)
				}
			}
		}
		if v, ok := lookupSetting(s3, "secure"); ok {
			if o.S3.Secure, err = asBool(v); err != nil {
				return fmt.Errorf("s3.secure: %w", err)
			}
		}
	}
	if v, ok := lookupSetting(entry, "redis"); ok {
		r, err := toStringKeyMap(v)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		fields := map[string]*string{
			"addr":     &o.Redis.Addr,
			"username": &o.Redis.Username,
			"password": &o.Redis.Password,
			"key":      &o.Redis.Key,
		}
		for key, dst := range fields {
			if v, ok := lookupSetting(r, key); ok {
				if *dst, err = asString(v); err != nil {
					return fmt.Errorf("redis.%s: %w", key, err)
				}
			}
		}
		if v, ok := lookupSetting(r, "db"); ok {
			if o.Redis.DB, err = asInt(v); err != nil {
				return fmt.Errorf("redis.db: %w", err)
			}
		}
	}
	return nil
}

func applyTracing(t *TracingConfig, raw interface{}) error {
	entry, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}
	if v, ok := lookupSetting(entry, "endpoint"); ok {
		if t.Endpoint, err = asString(v); err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
	}
	if v, ok := lookupSetting(entry, "protocol"); ok {
		if t.Protocol, err = asString(v); err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
	}
	if v, ok := lookupSetting(entry, "servicename", "service_name", "service-name"); ok {
		if t.ServiceName, err = asString(v); err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
	}
	if v, ok := lookupSetting(entry, "samplerate", "sample_rate", "sample-rate"); ok {
		if t.SampleRate, err = asFloat64(v); err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
	}
	if v, ok := lookupSetting(entry, "insecure"); ok {
		if t.Insecure, err = asBool(v); err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
	}
	if v, ok := lookupSetting(entry, "propagate"); ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &b
	}
	return nil
}

func parseArrival(value interface{}) (ArrivalConfig, error) {
	if value == nil {
		return ArrivalConfig{}, nil
	}
	switch v := value.(type) {
	case string:
		return ArrivalConfig{Model: ArrivalModel(strings.ToLower(strings.TrimSpace(v)))}, nil
	default:
		entry, err := toStringKeyMap(value)
		if err != nil {
			return ArrivalConfig{}, err
		}
		if raw, ok := lookupSetting(entry, "model"); ok {
			val, err := asString(raw)
			if err != nil {
				return ArrivalConfig{}, fmt.Errorf("model: %w", err)
			}
			return ArrivalConfig{Model: ArrivalModel(strings.ToLower(strings.TrimSpace(val)))}, nil
		}
		return ArrivalConfig{}, fmt.Errorf("model field is required")
	}
}
