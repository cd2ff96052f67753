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
	AgentName     string              `yaml:"agent_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	Audio         AudioConfig         `yaml:"audio"`
	Chunker       ChunkerConfig       `yaml:"chunker"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Summary       SummaryConfig       `yaml:"summary"`
	Store         StoreConfig         `yaml:"store"`
	Session       SessionConfig       `yaml:"session"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AudioConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	Device          string `yaml:"device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
}

type ChunkerConfig struct {
	ChunkDurationMS int `yaml:"chunk_duration_ms"`
	QueueDepth      int `yaml:"queue_depth"`
}

type TranscriptionConfig struct {
	Mode             string  `yaml:"mode"` // mock, exec, openai
	Command          string  `yaml:"command"`
	APIKey           string  `yaml:"api_key"`
	Endpoint         string  `yaml:"endpoint"`
	Model            string  `yaml:"model"`
	Language         string  `yaml:"language"`
	RatePerMinute    float64 `yaml:"rate_per_minute"`
	MaxAttempts      int     `yaml:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms"`
	RequestTimeoutMS int     `yaml:"request_timeout_ms"`
}

type SummaryConfig struct {
	Mode        string  `yaml:"mode"` // mock, exec, openai
	Command     string  `yaml:"command"`
	APIKey      string  `yaml:"api_key"`
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxMeetings   int    `yaml:"max_meetings"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SessionConfig struct {
	DrainTimeoutSec int `yaml:"drain_timeout_sec"`
}

func Default() Config {
	return Config{
		AgentName:   "scribe-agent",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			Mode:            "mock",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
		},
		Chunker: ChunkerConfig{
			ChunkDurationMS: 5000,
			QueueDepth:      8,
		},
		Transcription: TranscriptionConfig{
			Mode:             "mock",
			Model:            "whisper-1",
			Endpoint:         "https://api.openai.com/v1",
			RatePerMinute:    0.006,
			MaxAttempts:      4,
			InitialBackoffMS: 500,
			MaxBackoffMS:     8000,
			RequestTimeoutMS: 45000,
		},
		Summary: SummaryConfig{
			Mode:        "mock",
			Model:       "gpt-4o-mini",
			Endpoint:    "https://api.openai.com/v1",
			MaxTokens:   1500,
			Temperature: 0.3,
		},
		Store: StoreConfig{
			Path:          "./data/meetings.db",
			RetentionDays: 0,
			MaxMeetings:   0,
		},
		Session: SessionConfig{
			DrainTimeoutSec: 30,
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
	overrideString(&cfg.AgentName, "SCRIBE_AGENT_NAME")
	overrideString(&cfg.Environment, "SCRIBE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SCRIBE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.Mode, "SCRIBE_AUDIO_MODE")
	overrideString(&cfg.Audio.Command, "SCRIBE_AUDIO_COMMAND")
	overrideString(&cfg.Audio.Device, "SCRIBE_AUDIO_DEVICE")
	overrideInt(&cfg.Audio.SampleRate, "SCRIBE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "SCRIBE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "SCRIBE_AUDIO_FRAME_DURATION_MS")
	overrideInt(&cfg.Chunker.ChunkDurationMS, "SCRIBE_CHUNKER_CHUNK_DURATION_MS")
	overrideInt(&cfg.Chunker.QueueDepth, "SCRIBE_CHUNKER_QUEUE_DEPTH")
	overrideString(&cfg.Transcription.Mode, "SCRIBE_TRANSCRIPTION_MODE")
	overrideString(&cfg.Transcription.Command, "SCRIBE_TRANSCRIPTION_COMMAND")
	overrideString(&cfg.Transcription.APIKey, "SCRIBE_TRANSCRIPTION_API_KEY")
	overrideString(&cfg.Transcription.Endpoint, "SCRIBE_TRANSCRIPTION_ENDPOINT")
	overrideString(&cfg.Transcription.Model, "SCRIBE_TRANSCRIPTION_MODEL")
	overrideString(&cfg.Transcription.Language, "SCRIBE_TRANSCRIPTION_LANGUAGE")
	overrideFloat(&cfg.Transcription.RatePerMinute, "SCRIBE_TRANSCRIPTION_RATE_PER_MINUTE")
	overrideInt(&cfg.Transcription.MaxAttempts, "SCRIBE_TRANSCRIPTION_MAX_ATTEMPTS")
	overrideInt(&cfg.Transcription.InitialBackoffMS, "SCRIBE_TRANSCRIPTION_INITIAL_BACKOFF_MS")
	overrideInt(&cfg.Transcription.MaxBackoffMS, "SCRIBE_TRANSCRIPTION_MAX_BACKOFF_MS")
	overrideInt(&cfg.Transcription.RequestTimeoutMS, "SCRIBE_TRANSCRIPTION_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Summary.Mode, "SCRIBE_SUMMARY_MODE")
	overrideString(&cfg.Summary.Command, "SCRIBE_SUMMARY_COMMAND")
	overrideString(&cfg.Summary.APIKey, "SCRIBE_SUMMARY_API_KEY")
	overrideString(&cfg.Summary.Endpoint, "SCRIBE_SUMMARY_ENDPOINT")
	overrideString(&cfg.Summary.Model, "SCRIBE_SUMMARY_MODEL")
	overrideInt(&cfg.Summary.MaxTokens, "SCRIBE_SUMMARY_MAX_TOKENS")
	overrideFloat(&cfg.Summary.Temperature, "SCRIBE_SUMMARY_TEMPERATURE")
	overrideString(&cfg.Store.Path, "SCRIBE_STORE_PATH")
	overrideInt(&cfg.Store.RetentionDays, "SCRIBE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxMeetings, "SCRIBE_STORE_MAX_MEETINGS")
	overrideBool(&cfg.Store.VacuumOnStart, "SCRIBE_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Session.DrainTimeoutSec, "SCRIBE_SESSION_DRAIN_TIMEOUT_SEC")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
	if cfg.AgentName == "" {
		return errors.New("agent_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Audio.Mode {
	case "mock", "exec":
	default:
		return errors.New("audio.mode must be one of mock|exec")
	}
	if cfg.Audio.Mode == "exec" && cfg.Audio.Command == "" {
		return errors.New("audio.command must be set when mode=exec")
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
	if cfg.Chunker.ChunkDurationMS < cfg.Audio.FrameDurationMS {
		return errors.New("chunker.chunk_duration_ms must be at least one frame long")
	}
	if cfg.Chunker.QueueDepth <= 0 {
		return errors.New("chunker.queue_depth must be >= 1")
	}
	switch cfg.Transcription.Mode {
	case "mock", "exec", "openai":
	default:
		return errors.New("transcription.mode must be one of mock|exec|openai")
	}
	if cfg.Transcription.Mode == "exec" && cfg.Transcription.Command == "" {
		return errors.New("transcription.command must be set when mode=exec")
	}
	if cfg.Transcription.Mode == "openai" && cfg.Transcription.APIKey == "" {
		return errors.New("transcription.api_key must be set when mode=openai")
	}
	if cfg.Transcription.RatePerMinute < 0 {
		return errors.New("transcription.rate_per_minute must be >= 0")
	}
	if cfg.Transcription.MaxAttempts <= 0 {
		return errors.New("transcription.max_attempts must be >= 1")
	}
	switch cfg.Summary.Mode {
	case "mock", "exec", "openai":
	default:
		return errors.New("summary.mode must be one of mock|exec|openai")
	}
	if cfg.Summary.Mode == "exec" && cfg.Summary.Command == "" {
		return errors.New("summary.command must be set when mode=exec")
	}
	if cfg.Summary.Mode == "openai" && cfg.Summary.APIKey == "" {
		return errors.New("summary.api_key must be set when mode=openai")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Session.DrainTimeoutSec <= 0 {
		return errors.New("session.drain_timeout_sec must be positive")
	}
	return nil
}
