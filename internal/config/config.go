// Package config loads chatctl settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/omochice/chatnet/internal/chat"
	"github.com/omochice/chatnet/internal/logging"
	"github.com/omochice/chatnet/internal/route"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Environment names accepted in the environment field.
const (
	EnvStaging    = "staging"
	EnvProduction = "production"
	EnvCustom     = "custom"
)

const defaultUserAgent = "chatnet/0.1"

type Config struct {
	Environment    string          `yaml:"environment"`
	Chat           *route.Endpoint `yaml:"chat"`
	EnableFronting bool            `yaml:"enable_fronting"`
	Proxy          *ProxyConfig    `yaml:"proxy"`
	Auth           *AuthConfig     `yaml:"auth"`
	UserAgent      string          `yaml:"user_agent"`
	Timeouts       TimeoutsConfig  `yaml:"timeouts"`
	Log            LogConfig       `yaml:"log"`
}

type ProxyConfig struct {
	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type AuthConfig struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	ReceiveStories bool   `yaml:"receive_stories"`
}

// TimeoutsConfig takes duration strings such as "10s" or "500ms".
type TimeoutsConfig struct {
	Connect    time.Duration `yaml:"connect"`
	Request    time.Duration `yaml:"request"`
	LocalIdle  time.Duration `yaml:"local_idle"`
	RemoteIdle time.Duration `yaml:"remote_idle"`
}

type LogConfig struct {
	Level      string   `yaml:"level"`
	JSON       bool     `yaml:"json"`
	File       string   `yaml:"file"`
	MaxSizeMB  int      `yaml:"max_size_mb"`
	MaxBackups int      `yaml:"max_backups"`
	Compress   bool     `yaml:"compress"`
	Components []string `yaml:"components"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	t := chat.DefaultTimeouts()
	return &Config{
		Environment: EnvStaging,
		UserAgent:   defaultUserAgent,
		Timeouts: TimeoutsConfig{
			Connect:    t.Connect,
			Request:    10 * time.Second,
			LocalIdle:  t.LocalIdle,
			RemoteIdle: t.RemoteIdle,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that cannot be checked while decoding.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvStaging, EnvProduction:
	case EnvCustom:
		if c.Chat == nil || c.Chat.Host == "" {
			return fmt.Errorf("%w: environment custom needs chat.host", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown environment %q", ErrInvalidConfig, c.Environment)
	}

	if c.Chat != nil && c.Chat.Port != 0 && (c.Chat.Port < 1 || c.Chat.Port > 65535) {
		return fmt.Errorf("%w: chat.port %d out of range", ErrInvalidConfig, c.Chat.Port)
	}
	if c.Proxy != nil {
		if _, err := c.Proxy.Route(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if c.Auth != nil && c.Auth.Username == "" {
		return fmt.Errorf("%w: auth.username is empty", ErrInvalidConfig)
	}

	for name, d := range map[string]time.Duration{
		"connect":     c.Timeouts.Connect,
		"request":     c.Timeouts.Request,
		"local_idle":  c.Timeouts.LocalIdle,
		"remote_idle": c.Timeouts.RemoteIdle,
	} {
		if d < 0 {
			return fmt.Errorf("%w: timeouts.%s is negative", ErrInvalidConfig, name)
		}
	}
	if c.Timeouts.Connect == 0 {
		return fmt.Errorf("%w: timeouts.connect must be positive", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	return nil
}

// Route converts the proxy section, validating it.
func (p *ProxyConfig) Route() (*route.ProxyConfig, error) {
	return route.NewProxyConfig(p.Scheme, p.Host, p.Port, p.Username, p.Password)
}

// RouteEnvironment resolves the deployment, applying the chat overrides.
func (c *Config) RouteEnvironment() route.Environment {
	var env route.Environment
	switch c.Environment {
	case EnvProduction:
		env = route.Production()
	case EnvCustom:
		env = route.Environment{Name: EnvCustom, Chat: route.Endpoint{Path: route.DefaultChatPath}}
	default:
		env = route.Staging()
	}
	if c.Chat == nil {
		return env
	}

	ep := env.Chat
	if c.Chat.Host != "" {
		ep.Host = c.Chat.Host
		ep.TLS = c.Chat.TLS
		ep.Port = 80
		if ep.TLS {
			ep.Port = 443
		}
	}
	if c.Chat.Port != 0 {
		ep.Port = c.Chat.Port
	}
	if c.Chat.Path != "" {
		ep.Path = c.Chat.Path
	}
	if len(c.Chat.Fronting) > 0 {
		ep.Fronting = c.Chat.Fronting
	}
	env.Chat = ep
	return env
}

// ChatTimeouts returns the connection timeouts.
func (c *Config) ChatTimeouts() chat.Timeouts {
	return chat.Timeouts{
		Connect:    c.Timeouts.Connect,
		LocalIdle:  c.Timeouts.LocalIdle,
		RemoteIdle: c.Timeouts.RemoteIdle,
	}
}

// ChatAuth returns the credentials, or nil for an unauthenticated connection.
func (c *Config) ChatAuth() *chat.Auth {
	if c.Auth == nil {
		return nil
	}
	return &chat.Auth{
		Username:       c.Auth.Username,
		Password:       c.Auth.Password,
		ReceiveStories: c.Auth.ReceiveStories,
	}
}

// Logging returns the logging configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.Config{
		Level:      strings.ToLower(c.Log.Level),
		JSON:       c.Log.JSON,
		Components: c.Log.Components,
	}
	if c.Log.File != "" {
		cfg.File = &logging.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			Compress:   c.Log.Compress,
		}
	}
	return cfg
}
