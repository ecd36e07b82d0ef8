package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/poise/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string // empty means valid
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "server.log_level",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: /c.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "remote face without base_url",
			yaml:    "providers:\n  face:\n    name: remote\n",
			wantErr: "providers.face.base_url",
		},
		{
			name:    "deepgram without api key",
			yaml:    "providers:\n  stt:\n    name: deepgram\n",
			wantErr: "providers.stt.api_key",
		},
		{
			name:    "fallbacks without primary",
			yaml:    "providers:\n  pose:\n    fallbacks:\n      - name: mock\n",
			wantErr: "providers.pose.fallbacks set without a primary",
		},
		{
			name:    "unnamed fallback",
			yaml:    "providers:\n  pose:\n    name: mock\n    fallbacks:\n      - base_url: http://x\n",
			wantErr: "providers.pose.fallbacks[0].name is required",
		},
		{
			name:    "invalid fallback entry",
			yaml:    "providers:\n  face:\n    name: mock\n    fallbacks:\n      - name: remote\n",
			wantErr: "providers.face.fallbacks[0].base_url",
		},
		{
			name:    "negative sample interval",
			yaml:    "session:\n  sample_interval: -1s\n",
			wantErr: "session.sample_interval",
		},
		{
			name:    "sample ratio out of range",
			yaml:    "telemetry:\n  sample_ratio: 1.5\n",
			wantErr: "telemetry.sample_ratio",
		},
		{
			name:    "relative metrics path",
			yaml:    "telemetry:\n  metrics_path: metrics\n",
			wantErr: "telemetry.metrics_path",
		},
		{
			name:    "two storage backends",
			yaml:    "storage:\n  postgres_dsn: postgres://x\n  redis_url: redis://localhost:6379/0\n",
			wantErr: "only one backend may be set, got postgres_dsn, redis_url",
		},
		{
			name:    "negative redis ttl",
			yaml:    "storage:\n  redis_url: redis://localhost:6379/0\n  redis_ttl: -1h\n",
			wantErr: "storage.redis_ttl",
		},
		{
			name: "mongo storage",
			yaml: "storage:\n  mongo_uri: mongodb://localhost:27017\n",
		},
		{
			name: "remote detectors with base urls",
			yaml: "providers:\n  face:\n    name: remote\n    base_url: http://f\n  pose:\n    name: remote\n    base_url: http://p\n",
		},
		{
			name: "unknown provider name only warns",
			yaml: "providers:\n  face:\n    name: my-custom-detector\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
session:
  min_report_duration: -5s
telemetry:
  sample_ratio: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"server.log_level", "session.min_report_duration", "telemetry.sample_ratio"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, msg)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"stt", "face", "pose"} {
		names, ok := config.ValidProviderNames[kind]
		if !ok || len(names) == 0 {
			t.Errorf("ValidProviderNames[%q] should be non-empty", kind)
		}
	}
}
