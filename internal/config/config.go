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
	GatewayName string          `yaml:"gateway_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Engine      EngineConfig    `yaml:"engine"`
	Local       LocalConfig     `yaml:"local"`
	Audit       AuditConfig     `yaml:"audit"`
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

type EngineConfig struct {
	Mode              string `yaml:"mode"` // local, remote
	ChatCompatible    bool   `yaml:"chat_compatible"`
	AssistantTemplate string `yaml:"assistant_template"`
	StopToken         string `yaml:"stop_token"`
	MaxInflight       int    `yaml:"max_inflight"`
	RequestTimeout    int    `yaml:"request_timeout_ms"`
}

type LocalConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	QueueSize int    `yaml:"queue_size"`
}

type AuditConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		GatewayName: "parley-gateway",
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
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engine: EngineConfig{
			Mode:              "local",
			ChatCompatible:    false,
			AssistantTemplate: "<|im_start|>assistant",
			StopToken:         "<|im_end|>",
			MaxInflight:       16,
			RequestTimeout:    60000,
		},
		Local: LocalConfig{
			Mode:      "mock",
			QueueSize: 32,
		},
		Audit: AuditConfig{
			Path:          "./data/parley-audit.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxRequests:   10000,
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
	overrideString(&cfg.GatewayName, "PARLEY_GATEWAY_NAME")
	overrideString(&cfg.Environment, "PARLEY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PARLEY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PARLEY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PARLEY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PARLEY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PARLEY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PARLEY_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "PARLEY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PARLEY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PARLEY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PARLEY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PARLEY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PARLEY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PARLEY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PARLEY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "PARLEY_ENGINE_MODE")
	overrideBool(&cfg.Engine.ChatCompatible, "PARLEY_ENGINE_CHAT_COMPATIBLE")
	overrideString(&cfg.Engine.AssistantTemplate, "PARLEY_ENGINE_ASSISTANT_TEMPLATE")
	overrideString(&cfg.Engine.StopToken, "PARLEY_ENGINE_STOP_TOKEN")
	overrideInt(&cfg.Engine.MaxInflight, "PARLEY_ENGINE_MAX_INFLIGHT")
	overrideInt(&cfg.Engine.RequestTimeout, "PARLEY_ENGINE_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Local.Mode, "PARLEY_LOCAL_MODE")
	overrideString(&cfg.Local.Command, "PARLEY_LOCAL_COMMAND")
	overrideInt(&cfg.Local.QueueSize, "PARLEY_LOCAL_QUEUE_SIZE")
	overrideString(&cfg.Audit.Path, "PARLEY_AUDIT_PATH")
	overrideString(&cfg.Audit.RetentionMode, "PARLEY_AUDIT_RETENTION_MODE")
	overrideInt(&cfg.Audit.RetentionDays, "PARLEY_AUDIT_RETENTION_DAYS")
	overrideInt(&cfg.Audit.MaxRequests, "PARLEY_AUDIT_MAX_REQUESTS")
	overrideBool(&cfg.Audit.VacuumOnStart, "PARLEY_AUDIT_VACUUM_ON_START")
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
	if cfg.GatewayName == "" {
		return errors.New("gateway_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Engine.Mode {
	case "local":
		switch cfg.Local.Mode {
		case "mock", "exec":
		default:
			return errors.New("local.mode must be one of mock|exec")
		}
		if cfg.Local.Mode == "exec" && cfg.Local.Command == "" {
			return errors.New("local.command must be set when local.mode=exec")
		}
		if cfg.Local.QueueSize <= 0 {
			return errors.New("local.queue_size must be >= 1")
		}
	case "remote":
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else {
			if len(cfg.Bus.Servers) == 0 {
				return errors.New("bus.servers must not be empty when embedded mode is disabled")
			}
		}
		if cfg.Engine.MaxInflight <= 0 {
			return errors.New("engine.max_inflight must be >= 1")
		}
		if cfg.Engine.RequestTimeout <= 0 {
			return errors.New("engine.request_timeout_ms must be positive")
		}
		if cfg.Engine.StopToken == "" {
			return errors.New("engine.stop_token must not be empty")
		}
	default:
		return errors.New("engine.mode must be one of local|remote")
	}
	if cfg.Audit.Path == "" {
		return errors.New("audit.path must not be empty")
	}
	switch cfg.Audit.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("audit.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Audit.RetentionDays < 0 {
		return errors.New("audit.retention_days must be >= 0")
	}
	return nil
}
