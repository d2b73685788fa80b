package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openclinika/medlex/pkg/clinical"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server.
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Pattern pool.
	if cfg.PatternPool.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("pattern_pool.max_size %d must not be negative", cfg.PatternPool.MaxSize))
	}
	if cfg.PatternPool.CompileTimeout < 0 {
		errs = append(errs, fmt.Errorf("pattern_pool.compile_timeout %v must not be negative", cfg.PatternPool.CompileTimeout))
	}

	// Rules.
	if cfg.Rules.Source != "" && !cfg.Rules.Source.IsValid() {
		errs = append(errs, fmt.Errorf("rules.source %q is invalid; valid values: none, http, postgres", cfg.Rules.Source))
	}
	switch cfg.Rules.Source {
	case RuleSourceHTTP:
		if cfg.Rules.URL == "" {
			errs = append(errs, errors.New("rules.url is required when rules.source is http"))
		}
	case RuleSourcePostgres:
		if cfg.Rules.PostgresDSN == "" {
			errs = append(errs, errors.New("rules.postgres_dsn is required when rules.source is postgres"))
		}
	}
	if cfg.Rules.Source == "" || cfg.Rules.Source == RuleSourceNone {
		if cfg.Rules.URL != "" || cfg.Rules.PostgresDSN != "" {
			slog.Warn("rules.url / rules.postgres_dsn set but rules.source is none; dynamic rules disabled")
		}
	}
	for _, d := range []struct {
		name string
		val  interface{ Nanoseconds() int64 }
	}{
		{"rules.dynamic_ttl", cfg.Rules.DynamicTTL},
		{"rules.fetch_timeout", cfg.Rules.FetchTimeout},
		{"rules.wait_timeout", cfg.Rules.WaitTimeout},
	} {
		if d.val.Nanoseconds() < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}

	// Knowledge.
	if cfg.Knowledge.DisableBuiltin && len(cfg.Knowledge.TermFiles) == 0 {
		errs = append(errs, errors.New("knowledge.disable_builtin without knowledge.term_files leaves the knowledge base empty"))
	}

	// Disambiguation.
	if cfg.Disambiguation.PrimaryDomain != "" {
		if d := clinical.Domain(cfg.Disambiguation.PrimaryDomain); !d.IsValid() {
			errs = append(errs, fmt.Errorf("disambiguation.primary_domain %q is not a known clinical domain", cfg.Disambiguation.PrimaryDomain))
		}
	}
	if t := cfg.Disambiguation.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("disambiguation.confidence_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Disambiguation.MaxAlternatives < 0 {
		errs = append(errs, fmt.Errorf("disambiguation.max_alternatives %d must not be negative", cfg.Disambiguation.MaxAlternatives))
	}

	// Perf.
	if cfg.Perf.RingSize < 0 {
		errs = append(errs, fmt.Errorf("perf.ring_size %d must not be negative", cfg.Perf.RingSize))
	}

	return errors.Join(errs...)
}
