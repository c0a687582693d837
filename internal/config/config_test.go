package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.ServiceName != "speechbridge" {
		t.Fatalf("service name %s", cfg.ServiceName)
	}
	if cfg.HTTP.Port != 5000 {
		t.Fatalf("http port %d", cfg.HTTP.Port)
	}
	if cfg.Bus.Enabled {
		t.Fatalf("bus must be opt-in")
	}
	if cfg.Provider.BaseURL != "wss://dashscope.aliyuncs.com/api-ws/v1/inference" {
		t.Fatalf("provider base url %s", cfg.Provider.BaseURL)
	}
	if cfg.Provider.RecognitionModel != "paraformer-realtime-v2" {
		t.Fatalf("recognition model %s", cfg.Provider.RecognitionModel)
	}
	if cfg.Provider.SynthesisModel != "cosyvoice-v2" {
		t.Fatalf("synthesis model %s", cfg.Provider.SynthesisModel)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.PlaybackSampleRate != 24000 {
		t.Fatalf("audio rates %d/%d", cfg.Audio.SampleRate, cfg.Audio.PlaybackSampleRate)
	}
	if cfg.Reconnect.MaxAttempts != 2 {
		t.Fatalf("reconnect attempts %d", cfg.Reconnect.MaxAttempts)
	}
	if cfg.History.RetentionMode != "session" {
		t.Fatalf("retention mode %s", cfg.History.RetentionMode)
	}

	if err := validate(cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadMissingPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != Default().HTTP.Port {
		t.Fatalf("expected defaults, got port %d", cfg.HTTP.Port)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for explicit missing file")
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
service_name: custom-bridge
http:
  port: 8123
provider:
  recognition_model: paraformer-realtime-8k-v2
audio:
  sample_rate: 8000
history:
  retention_mode: persistent
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "custom-bridge" {
		t.Fatalf("service name %s", cfg.ServiceName)
	}
	if cfg.HTTP.Port != 8123 {
		t.Fatalf("port %d", cfg.HTTP.Port)
	}
	if cfg.Provider.RecognitionModel != "paraformer-realtime-8k-v2" {
		t.Fatalf("recognition model %s", cfg.Provider.RecognitionModel)
	}
	if cfg.Audio.SampleRate != 8000 {
		t.Fatalf("sample rate %d", cfg.Audio.SampleRate)
	}
	// untouched fields keep their defaults
	if cfg.Provider.SynthesisModel != "cosyvoice-v2" {
		t.Fatalf("synthesis model %s", cfg.Provider.SynthesisModel)
	}
	if cfg.Audio.PlaybackSampleRate != 24000 {
		t.Fatalf("playback rate %d", cfg.Audio.PlaybackSampleRate)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("service_name: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPEECHBRIDGE_HTTP_PORT", "6001")
	t.Setenv("SPEECHBRIDGE_TELEMETRY_LOG_LEVEL", "debug")
	t.Setenv("SPEECHBRIDGE_BUS_ENABLED", "true")
	t.Setenv("SPEECHBRIDGE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SPEECHBRIDGE_BUS_USERNAME", "alice")
	t.Setenv("SPEECHBRIDGE_BUS_PASSWORD", "secret")
	t.Setenv("SPEECHBRIDGE_PROVIDER_SYNTHESIS_MODEL", "cosyvoice-v3")
	t.Setenv("SPEECHBRIDGE_AUDIO_FRAME_DURATION_MS", "100")
	t.Setenv("SPEECHBRIDGE_HISTORY_RETENTION_MODE", "ephemeral")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 6001 {
		t.Fatalf("port %d", cfg.HTTP.Port)
	}
	if cfg.Telemetry.LogLevel != "debug" {
		t.Fatalf("log level %s", cfg.Telemetry.LogLevel)
	}
	if !cfg.Bus.Enabled {
		t.Fatalf("bus should be enabled")
	}
	if len(cfg.Bus.Servers) != 2 || cfg.Bus.Servers[1] != "nats://two:4222" {
		t.Fatalf("servers %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Provider.SynthesisModel != "cosyvoice-v3" {
		t.Fatalf("synthesis model %s", cfg.Provider.SynthesisModel)
	}
	if cfg.Audio.FrameDurationMS != 100 {
		t.Fatalf("frame duration %d", cfg.Audio.FrameDurationMS)
	}
	if cfg.History.RetentionMode != "ephemeral" {
		t.Fatalf("retention mode %s", cfg.History.RetentionMode)
	}
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("SPEECHBRIDGE_HTTP_PORT", "not-a-number")
	t.Setenv("SPEECHBRIDGE_BUS_ENABLED", "maybe")
	t.Setenv("SPEECHBRIDGE_SERVICE_NAME", "   ")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 5000 {
		t.Fatalf("unparseable port should keep default, got %d", cfg.HTTP.Port)
	}
	if cfg.Bus.Enabled {
		t.Fatalf("unparseable bool should keep default")
	}
	if cfg.ServiceName != "speechbridge" {
		t.Fatalf("blank string should keep default, got %q", cfg.ServiceName)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }},
		{"port zero", func(c *Config) { c.HTTP.Port = 0 }},
		{"bus enabled without servers", func(c *Config) {
			c.Bus.Enabled = true
			c.Bus.Embedded = false
			c.Bus.Servers = nil
		}},
		{"empty base url", func(c *Config) { c.Provider.BaseURL = "" }},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"zero frame duration", func(c *Config) { c.Audio.FrameDurationMS = 0 }},
		{"zero reconnect attempts", func(c *Config) { c.Reconnect.MaxAttempts = 0 }},
		{"bad retention mode", func(c *Config) { c.History.RetentionMode = "forever" }},
		{"negative retention days", func(c *Config) { c.History.RetentionDays = -1 }},
		{"empty export dir", func(c *Config) { c.Export.DefaultDir = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
}
