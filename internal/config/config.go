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
	TraceExporter  string `yaml:"trace_exporter"` // otlp, stdout, none; empty picks otlp when an endpoint is set
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Parser      ParserConfig     `yaml:"parser"`
}

type BusConfig struct {
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

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// RecognizerConfig selects and configures the speech recognizer backend.
type RecognizerConfig struct {
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`

	// Mock backend knobs.
	MockAvailable  bool     `yaml:"mock_available"`
	MockTranscript []string `yaml:"mock_transcript"`
	MockDelayMS    int      `yaml:"mock_delay_ms"`
}

type ParserConfig struct {
	DefaultLanguage        string `yaml:"default_language"`
	ProceedWhenUnavailable bool   `yaml:"proceed_when_unavailable"`
}

func Default() Config {
	return Config{
		RuntimeName: "voicetotext",
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
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/vtt-sessions.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Recognizer: RecognizerConfig{
			Mode:           "mock",
			MockAvailable:  true,
			MockTranscript: []string{"hello world"},
			MockDelayMS:    200,
		},
		Parser: ParserConfig{
			DefaultLanguage: "en",
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
	overrideString(&cfg.RuntimeName, "VTT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VTT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VTT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VTT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VTT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "VTT_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VTT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VTT_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VTT_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VTT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VTT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VTT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VTT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VTT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VTT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VTT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VTT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VTT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "VTT_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VTT_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VTT_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VTT_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VTT_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Recognizer.Mode, "VTT_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "VTT_RECOGNIZER_COMMAND")
	overrideBool(&cfg.Recognizer.MockAvailable, "VTT_RECOGNIZER_MOCK_AVAILABLE")
	overrideStringSlice(&cfg.Recognizer.MockTranscript, "VTT_RECOGNIZER_MOCK_TRANSCRIPT")
	overrideInt(&cfg.Recognizer.MockDelayMS, "VTT_RECOGNIZER_MOCK_DELAY_MS")
	overrideString(&cfg.Parser.DefaultLanguage, "VTT_PARSER_DEFAULT_LANGUAGE")
	overrideBool(&cfg.Parser.ProceedWhenUnavailable, "VTT_PARSER_PROCEED_WHEN_UNAVAILABLE")
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
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
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Telemetry.TraceExporter {
	case "", "stdout", "none":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of otlp|stdout|none")
	}
	switch cfg.Recognizer.Mode {
	case "mock", "exec":
	default:
		return errors.New("recognizer.mode must be one of mock|exec")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.MockDelayMS < 0 {
		return errors.New("recognizer.mock_delay_ms must be >= 0")
	}
	if strings.TrimSpace(cfg.Parser.DefaultLanguage) == "" {
		return errors.New("parser.default_language must not be empty")
	}
	return nil
}
