// Package config handles configuration loading and validation for the
// shooter server and client. Values are layered: built-in defaults, then a
// JSON file, then a .env file and SHOOTER_* environment variables, then
// command-line flags applied by the binaries.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"shooter/internal/logging"
)

const (
	DefaultConfigFile  = "shooter.json"
	DefaultListenAddr  = "0.0.0.0:1234"
	DefaultAdminAddr   = "127.0.0.1:8080"
	DefaultServerAddr  = "127.0.0.1:1234"
	DefaultMQTTTopic   = "shooter/sessions"
	DefaultCountdownMS = 1000
	DefaultRelayMS     = 16
	DefaultDialMS      = 5000
	EnvPrefix          = "SHOOTER_"
)

// Config is the root configuration structure.
type Config struct {
	path string

	Server  ServerConfig   `json:"server"`
	Client  ClientConfig   `json:"client"`
	Logging logging.Config `json:"logging"`
}

// ServerConfig contains session server settings.
type ServerConfig struct {
	ListenAddr string `json:"listen_addr"`
	// AdminAddr serves the HTTP status API and the WebSocket endpoint.
	// Empty disables both.
	AdminAddr           string     `json:"admin_addr"`
	WebSocket           bool       `json:"websocket"`
	CountdownIntervalMS int        `json:"countdown_interval_ms"`
	RelayIntervalMS     int        `json:"relay_interval_ms"`
	DBPath              string     `json:"db_path"`
	MQTT                MQTTConfig `json:"mqtt"`
}

// MQTTConfig holds session telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	ClientID  string `json:"client_id"`
	Topic     string `json:"topic"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// ClientConfig contains game client settings.
type ClientConfig struct {
	ServerAddr    string  `json:"server_addr"`
	DialTimeoutMS int     `json:"dial_timeout_ms"`
	LayoutPath    string  `json:"layout_path"`
	Sensitivity   float32 `json:"sensitivity"`
	ScreenWidth   int     `json:"screen_width"`
	ScreenHeight  int     `json:"screen_height"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:          DefaultListenAddr,
			AdminAddr:           DefaultAdminAddr,
			WebSocket:           true,
			CountdownIntervalMS: DefaultCountdownMS,
			RelayIntervalMS:     DefaultRelayMS,
			DBPath:              "shooter.db",
			MQTT: MQTTConfig{
				BrokerURL: "tcp://127.0.0.1:1883",
				ClientID:  "shooter-server",
				Topic:     DefaultMQTTTopic,
			},
		},
		Client: ClientConfig{
			ServerAddr:    DefaultServerAddr,
			DialTimeoutMS: DefaultDialMS,
			Sensitivity:   0.0015,
			ScreenWidth:   1280,
			ScreenHeight:  720,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load overlays the JSON file at path on the defaults. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info().Str("path", path).Msg("config file not found, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.path
	}
	if path == "" {
		path = DefaultConfigFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	c.path = path
	return nil
}

// Path returns the file the configuration was loaded from or saved to.
func (c *Config) Path() string {
	return c.path
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from SHOOTER_* variables found by lookup,
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs error

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("LISTEN_ADDR", &c.Server.ListenAddr)
	str("ADMIN_ADDR", &c.Server.AdminAddr)
	flag("WEBSOCKET", &c.Server.WebSocket)
	num("COUNTDOWN_INTERVAL_MS", &c.Server.CountdownIntervalMS)
	num("RELAY_INTERVAL_MS", &c.Server.RelayIntervalMS)
	str("DB_PATH", &c.Server.DBPath)
	flag("MQTT_ENABLED", &c.Server.MQTT.Enabled)
	str("MQTT_BROKER", &c.Server.MQTT.BrokerURL)
	str("MQTT_CLIENT_ID", &c.Server.MQTT.ClientID)
	str("MQTT_TOPIC", &c.Server.MQTT.Topic)
	str("MQTT_USERNAME", &c.Server.MQTT.Username)
	str("MQTT_PASSWORD", &c.Server.MQTT.Password)
	str("SERVER_ADDR", &c.Client.ServerAddr)
	num("DIAL_TIMEOUT_MS", &c.Client.DialTimeoutMS)
	str("LAYOUT_PATH", &c.Client.LayoutPath)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FILE", &c.Logging.File)

	return errs
}

// CountdownInterval is the pause between countdown ticks.
func (s ServerConfig) CountdownInterval() time.Duration {
	return time.Duration(s.CountdownIntervalMS) * time.Millisecond
}

// RelayInterval is the period of the active relay loop.
func (s ServerConfig) RelayInterval() time.Duration {
	return time.Duration(s.RelayIntervalMS) * time.Millisecond
}

// DialTimeout bounds connecting to the server.
func (c ClientConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

// ValidateServer checks the settings the server binary uses.
func (c *Config) ValidateServer() error {
	var errs error
	s := c.Server
	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("server.listen_addr: %w", err))
	}
	if s.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(s.AdminAddr); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("server.admin_addr: %w", err))
		}
	}
	if s.WebSocket && s.AdminAddr == "" {
		errs = multierr.Append(errs, errors.New("server.websocket requires server.admin_addr"))
	}
	if s.CountdownIntervalMS < 0 {
		errs = multierr.Append(errs, errors.New("server.countdown_interval_ms must not be negative"))
	}
	if s.RelayIntervalMS <= 0 {
		errs = multierr.Append(errs, errors.New("server.relay_interval_ms must be positive"))
	}
	if s.MQTT.Enabled && s.MQTT.BrokerURL == "" {
		errs = multierr.Append(errs, errors.New("server.mqtt.broker_url is required when mqtt is enabled"))
	}
	return errs
}

// ValidateClient checks the settings the client binary uses.
func (c *Config) ValidateClient() error {
	var errs error
	cl := c.Client
	if cl.DialTimeoutMS <= 0 {
		errs = multierr.Append(errs, errors.New("client.dial_timeout_ms must be positive"))
	}
	if cl.Sensitivity <= 0 {
		errs = multierr.Append(errs, errors.New("client.sensitivity must be positive"))
	}
	if cl.ScreenWidth <= 0 || cl.ScreenHeight <= 0 {
		errs = multierr.Append(errs, errors.New("client screen size must be positive"))
	}
	return errs
}
