package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models opsline.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
		DevLogin  bool   `yaml:"dev_login"`
	} `yaml:"server"`
	Workflow struct {
		RiskWindow    time.Duration `yaml:"risk_window"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"workflow"`
	Notifications struct {
		SinkBuffer   int `yaml:"sink_buffer"`
		HistoryLimit int `yaml:"history_limit"`
	} `yaml:"notifications"`
	Escalation struct {
		AutoAtRisk bool `yaml:"auto_at_risk"`
	} `yaml:"escalation"`
	Logging  Logging         `yaml:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Users    []SeedUser      `yaml:"users"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WebhookConfig posts event log entries to an external URL.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// SeedUser is created at startup when no user with its id exists.
type SeedUser struct {
	ID       string `yaml:"id"`
	FullName string `yaml:"full_name"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Workflow.RiskWindow <= 0 {
		return fmt.Errorf("config.workflow.risk_window must be positive")
	}
	if c.Workflow.SweepInterval <= 0 {
		return fmt.Errorf("config.workflow.sweep_interval must be positive")
	}
	if c.Notifications.SinkBuffer < 1 {
		return fmt.Errorf("config.notifications.sink_buffer must be at least 1")
	}
	if c.Notifications.HistoryLimit < 1 {
		return fmt.Errorf("config.notifications.history_limit must be at least 1")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("config.logging.format must be console or json")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	seen := map[string]bool{}
	for i, u := range c.Users {
		if u.ID == "" || u.Email == "" || u.Role == "" {
			return fmt.Errorf("config.users[%d] requires id, email and role", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("config.users has duplicate id %s", u.ID)
		}
		seen[u.ID] = true
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "opsline.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads the workspace config, falling back to Default when the file is absent.
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

// FromYAML parses config over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api
  jwt_secret: ""
  dev_login: false

workflow:
  # meetings starting within this window without full confirmation become at_risk
  risk_window: 24h
  sweep_interval: 1m

notifications:
  sink_buffer: 32
  history_limit: 50

escalation:
  auto_at_risk: true

logging:
  level: info
  format: console

webhooks: []

users: []
`
