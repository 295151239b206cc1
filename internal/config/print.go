package config

import (
	"fmt"
	"io"
	"net/http"

	"gopkg.in/yaml.v3"
)

const masked = "********"

// Redacted returns a copy of the configuration with credentials masked.
func (c Config) Redacted() Config {
	out := c
	out.Target.APIKey = mask(c.Target.APIKey)
	out.Output.S3.SecretKey = mask(c.Output.S3.SecretKey)
	out.Output.Redis.Password = mask(c.Output.Redis.Password)
	if len(c.Target.Headers) > 0 {
		out.Target.Headers = make(map[string]string, len(c.Target.Headers))
		for k, v := range c.Target.Headers {
			if http.CanonicalHeaderKey(k) == "Authorization" {
				v = mask(v)
			}
			out.Target.Headers[k] = v
		}
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return masked
}

// WriteYAML prints the effective configuration with credentials masked.
func WriteYAML(w io.Writer, c Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
