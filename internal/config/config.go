package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskmaster.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`
	Realtime struct {
		HeartbeatSeconds     int      `yaml:"heartbeat_seconds"`
		RequireSubscribeAuth *bool    `yaml:"require_subscribe_auth"`
		AllowedOrigins       []string `yaml:"allowed_origins"`
	} `yaml:"realtime"`
}

const (
	DefaultAddr             = ":8080"
	DefaultBasePath         = "/api/v1"
	DefaultTokenTTLMinutes  = 60
	DefaultHeartbeatSeconds = 10
)

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = DefaultBasePath
	}
	if c.Auth.TokenTTLMinutes == 0 {
		c.Auth.TokenTTLMinutes = DefaultTokenTTLMinutes
	}
	if c.Realtime.HeartbeatSeconds == 0 {
		c.Realtime.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if c.Realtime.RequireSubscribeAuth == nil {
		v := true
		c.Realtime.RequireSubscribeAuth = &v
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Auth.TokenTTLMinutes < 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must be positive")
	}
	if c.Realtime.HeartbeatSeconds < 0 {
		return fmt.Errorf("config.realtime.heartbeat_seconds must be positive")
	}
	return nil
}

// RequireSubscribeAuth reports whether unauthenticated SUBSCRIBE frames
// are hard-rejected.
func (c *Config) RequireSubscribeAuth() bool {
	if c.Realtime.RequireSubscribeAuth == nil {
		return true
	}
	return *c.Realtime.RequireSubscribeAuth
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskmaster.yml")
}
