package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read when RELAY_CONFIG is unset.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Logging   LoggingConfig   `koanf:"logging"`
	Storage   StorageConfig   `koanf:"storage"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
	// Dir enables request/response event logs when set.
	Dir string `koanf:"dir"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // none, memory, sqlite
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

var defaults = map[string]any{
	"server.port":         8080,
	"openai.base_url":     "https://api.openai.com/v1",
	"openai.model":        "gpt-4.1",
	"logging.level":       "info",
	"storage.type":        "none",
	"storage.sqlite.path": "./data/relay.db",
	"metrics.enabled":     true,
	"telemetry.enabled":   false,
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the file named by RELAY_CONFIG (or config.yaml) and the
// environment.
func Load() (*Config, error) {
	path := os.Getenv("RELAY_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile reads configuration from path, if it exists, then overlays
// OPENAI_* and RELAY_* environment variables.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	// OPENAI_API_KEY -> openai.api_key, OPENAI_BASE_URL -> openai.base_url
	if err := k.Load(env.Provider("OPENAI_", ".", func(s string) string {
		return "openai." + strings.ToLower(strings.TrimPrefix(s, "OPENAI_"))
	}), nil); err != nil {
		return nil, err
	}

	// RELAY_LOGGING__DIR -> logging.dir
	if err := k.Load(env.Provider("RELAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RELAY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.OpenAI.APIKey = substituteEnvVars(cfg.OpenAI.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the relay cannot act on.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "none", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}

	if c.Storage.Type == "sqlite" && c.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required for sqlite storage")
	}

	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
