package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":  {"deepgram", "mock"},
	"face": {"remote", "mock"},
	"pose": {"remote", "mock"},
}

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
// An empty document yields the zero config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
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

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	errs = append(errs, validateEntry("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("face", "providers.face", cfg.Providers.Face)...)
	errs = append(errs, validateEntry("pose", "providers.pose", cfg.Providers.Pose)...)
	if !cfg.Providers.STT.Enabled() {
		slog.Warn("providers.stt is not configured; pace, filler and response-time metrics need client-side transcripts")
	}

	// Session
	if cfg.Session.SampleInterval < 0 {
		errs = append(errs, fmt.Errorf("session.sample_interval %s must not be negative", cfg.Session.SampleInterval))
	}
	if cfg.Session.EvaluationInterval < 0 {
		errs = append(errs, fmt.Errorf("session.evaluation_interval %s must not be negative", cfg.Session.EvaluationInterval))
	}
	if cfg.Session.MinReportDuration < 0 {
		errs = append(errs, fmt.Errorf("session.min_report_duration %s must not be negative", cfg.Session.MinReportDuration))
	}

	// Storage
	var backends []string
	for _, b := range []struct{ name, value string }{
		{"postgres_dsn", cfg.Storage.PostgresDSN},
		{"mongo_uri", cfg.Storage.MongoURI},
		{"redis_url", cfg.Storage.RedisURL},
	} {
		if b.value != "" {
			backends = append(backends, b.name)
		}
	}
	if len(backends) > 1 {
		errs = append(errs, fmt.Errorf("storage: only one backend may be set, got %s", strings.Join(backends, ", ")))
	}
	if cfg.Storage.RedisTTL < 0 {
		errs = append(errs, fmt.Errorf("storage.redis_ttl %s must not be negative", cfg.Storage.RedisTTL))
	}

	// Telemetry
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %.2f is out of range [0, 1]", r))
	}
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	return errors.Join(errs...)
}

// validateEntry checks a provider entry and its fallbacks.
func validateEntry(kind, prefix string, e ProviderEntry) []error {
	var errs []error
	if !e.Enabled() {
		if len(e.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks set without a primary name", prefix))
		}
		return errs
	}
	validateProviderName(kind, e.Name)
	if kind != "stt" && e.Name == "remote" && e.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base_url is required for the remote provider", prefix))
	}
	if kind == "stt" && e.Name == "deepgram" && e.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api_key is required for deepgram", prefix))
	}
	for i, fb := range e.Fallbacks {
		fbPrefix := fmt.Sprintf("%s.fallbacks[%d]", prefix, i)
		if !fb.Enabled() {
			errs = append(errs, fmt.Errorf("%s.name is required", fbPrefix))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks must not be nested", fbPrefix))
		}
		errs = append(errs, validateEntry(kind, fbPrefix, fb)...)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
