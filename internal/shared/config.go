package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Environment variables that override values loaded from the TOML file.
const (
	EnvAPIURL       = "MOODLIST_API_URL"
	EnvAPIToken     = "MOODLIST_API_TOKEN"
	EnvWebSocketURL = "MOODLIST_WS_URL"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	API       APIConfig       `toml:"api"`
	Transport TransportConfig `toml:"transport"`
	Polling   PollingConfig   `toml:"polling"`
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// APIConfig contains settings for the playlist workflow backend.
type APIConfig struct {
	BaseURL           string        `toml:"base_url"`
	WebSocketURL      string        `toml:"websocket_url"`
	Token             string        `toml:"token"`
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
	ResultsCacheSize  int           `toml:"results_cache_size"`
}

// TransportConfig controls which status transports may be used and how streams reconnect.
type TransportConfig struct {
	WebSocket         bool          `toml:"websocket"`
	SSE               bool          `toml:"sse"`
	Fallback          bool          `toml:"fallback"`
	Preferred         string        `toml:"preferred"`
	ReconnectAttempts int           `toml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `toml:"reconnect_delay"`
}

// PollingConfig contains the polling schedule and error backoff limits.
type PollingConfig struct {
	DefaultInterval       time.Duration            `toml:"default_interval"`
	AwaitingInputInterval time.Duration            `toml:"awaiting_input_interval"`
	MaxBackoff            time.Duration            `toml:"max_backoff"`
	MaxRetries            int                      `toml:"max_retries"`
	Intervals             map[string]time.Duration `toml:"intervals"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains settings for the simulated development backend.
type ServerConfig struct {
	Host      string        `toml:"host"`
	Port      int           `toml:"port"`
	StepDelay time.Duration `toml:"step_delay"`
}

// MetricsConfig contains the Prometheus endpoint settings. An empty Addr disables the endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv loads envFile (if present) into the process environment and applies MOODLIST_* overrides.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv(EnvWebSocketURL); v != "" {
		c.API.WebSocketURL = v
	}
	return nil
}

// Validate reports configuration values that would make the client unusable.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("%w: api.base_url is required", ErrInvalidConfig)
	}
	if c.Polling.MaxRetries < 0 {
		return fmt.Errorf("%w: polling.max_retries must not be negative", ErrInvalidConfig)
	}
	if c.Polling.MaxBackoff > 0 && c.Polling.DefaultInterval > c.Polling.MaxBackoff {
		return fmt.Errorf("%w: polling.default_interval exceeds polling.max_backoff", ErrInvalidConfig)
	}
	switch c.Transport.Preferred {
	case "", "auto", "websocket", "sse", "polling":
	default:
		return fmt.Errorf("%w: unknown transport.preferred %q", ErrInvalidConfig, c.Transport.Preferred)
	}
	return nil
}
