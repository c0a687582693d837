package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Provider    ProviderConfig  `yaml:"provider"`
	Audio       AudioConfig     `yaml:"audio"`
	Reconnect   ReconnectConfig `yaml:"reconnect"`
	History     HistoryConfig   `yaml:"history"`
	Export      ExportConfig    `yaml:"export"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type ProviderConfig struct {
	BaseURL          string `yaml:"base_url"`
	RecognitionModel string `yaml:"recognition_model"`
	SynthesisModel   string `yaml:"synthesis_model"`
	CredentialFile   string `yaml:"credential_file"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
	StartTimeoutMS   int    `yaml:"start_timeout_ms"`
}

type AudioConfig struct {
	SampleRate         int `yaml:"sample_rate"`
	Channels           int `yaml:"channels"`
	FrameDurationMS    int `yaml:"frame_duration_ms"`
	IdlePollMS         int `yaml:"idle_poll_ms"`
	PlaybackSampleRate int `yaml:"playback_sample_rate"`
	PlaybackChannels   int `yaml:"playback_channels"`
}

type ReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	DelayMS     int `yaml:"delay_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ExportConfig struct {
	SettingsPath string `yaml:"settings_path"`
	DefaultDir   string `yaml:"default_dir"`
}

func Default() Config {
	return Config{
		ServiceName: "speechbridge",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Provider: ProviderConfig{
			BaseURL:          "wss://dashscope.aliyuncs.com/api-ws/v1/inference",
			RecognitionModel: "paraformer-realtime-v2",
			SynthesisModel:   "cosyvoice-v2",
			CredentialFile:   ".env.local",
			ConnectTimeoutMS: 5000,
			StartTimeoutMS:   10000,
		},
		Audio: AudioConfig{
			SampleRate:         16000,
			Channels:           1,
			FrameDurationMS:    200,
			IdlePollMS:         50,
			PlaybackSampleRate: 24000,
			PlaybackChannels:   1,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 2,
			DelayMS:     500,
		},
		History: HistoryConfig{
			Path:          "./data/speechbridge.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Export: ExportConfig{
			SettingsPath: "./settings.json",
			DefaultDir:   "./recordings",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "SPEECHBRIDGE_SERVICE_NAME")
	overrideString(&cfg.Environment, "SPEECHBRIDGE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SPEECHBRIDGE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SPEECHBRIDGE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SPEECHBRIDGE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPEECHBRIDGE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPEECHBRIDGE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SPEECHBRIDGE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "SPEECHBRIDGE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SPEECHBRIDGE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SPEECHBRIDGE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SPEECHBRIDGE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SPEECHBRIDGE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SPEECHBRIDGE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SPEECHBRIDGE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SPEECHBRIDGE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SPEECHBRIDGE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SPEECHBRIDGE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Provider.BaseURL, "SPEECHBRIDGE_PROVIDER_BASE_URL")
	overrideString(&cfg.Provider.RecognitionModel, "SPEECHBRIDGE_PROVIDER_RECOGNITION_MODEL")
	overrideString(&cfg.Provider.SynthesisModel, "SPEECHBRIDGE_PROVIDER_SYNTHESIS_MODEL")
	overrideString(&cfg.Provider.CredentialFile, "SPEECHBRIDGE_PROVIDER_CREDENTIAL_FILE")
	overrideInt(&cfg.Provider.ConnectTimeoutMS, "SPEECHBRIDGE_PROVIDER_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Provider.StartTimeoutMS, "SPEECHBRIDGE_PROVIDER_START_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "SPEECHBRIDGE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "SPEECHBRIDGE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "SPEECHBRIDGE_AUDIO_FRAME_DURATION_MS")
	overrideInt(&cfg.Audio.IdlePollMS, "SPEECHBRIDGE_AUDIO_IDLE_POLL_MS")
	overrideInt(&cfg.Audio.PlaybackSampleRate, "SPEECHBRIDGE_AUDIO_PLAYBACK_SAMPLE_RATE")
	overrideInt(&cfg.Audio.PlaybackChannels, "SPEECHBRIDGE_AUDIO_PLAYBACK_CHANNELS")
	overrideInt(&cfg.Reconnect.MaxAttempts, "SPEECHBRIDGE_RECONNECT_MAX_ATTEMPTS")
	overrideInt(&cfg.Reconnect.DelayMS, "SPEECHBRIDGE_RECONNECT_DELAY_MS")
	overrideString(&cfg.History.Path, "SPEECHBRIDGE_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "SPEECHBRIDGE_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "SPEECHBRIDGE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "SPEECHBRIDGE_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "SPEECHBRIDGE_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.Export.SettingsPath, "SPEECHBRIDGE_EXPORT_SETTINGS_PATH")
	overrideString(&cfg.Export.DefaultDir, "SPEECHBRIDGE_EXPORT_DEFAULT_DIR")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Provider.BaseURL == "" {
		return errors.New("provider.base_url must not be empty")
	}
	if cfg.Provider.RecognitionModel == "" {
		return errors.New("provider.recognition_model must not be empty")
	}
	if cfg.Provider.SynthesisModel == "" {
		return errors.New("provider.synthesis_model must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	if cfg.Audio.IdlePollMS <= 0 {
		return errors.New("audio.idle_poll_ms must be positive")
	}
	if cfg.Audio.PlaybackSampleRate <= 0 {
		return errors.New("audio.playback_sample_rate must be positive")
	}
	if cfg.Audio.PlaybackChannels <= 0 {
		return errors.New("audio.playback_channels must be positive")
	}
	if cfg.Reconnect.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be >= 1")
	}
	if cfg.Reconnect.DelayMS < 0 {
		return errors.New("reconnect.delay_ms must be >= 0")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Export.SettingsPath == "" {
		return errors.New("export.settings_path must not be empty")
	}
	if cfg.Export.DefaultDir == "" {
		return errors.New("export.default_dir must not be empty")
	}
	return nil
}
