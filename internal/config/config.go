package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models hzl.yml.
type Config struct {
	Defaults struct {
		Project string `yaml:"project"`
		// LeaseMinutes is the lease duration claims get when the caller
		// does not pass one. Zero disables the default, making such
		// claims lease-less.
		LeaseMinutes int `yaml:"lease_minutes"`
	} `yaml:"defaults"`
	Identity struct {
		Author  string `yaml:"author"`
		AgentID string `yaml:"agent_id"`
	} `yaml:"identity"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook is one push subscriber of the event log. An empty Events list
// means all event types.
type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hzl.yml")
}

// Load reads and validates config from workspace.
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
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Defaults.Project == "" {
		return fmt.Errorf("config.defaults.project is required")
	}
	if c.Defaults.LeaseMinutes < 0 {
		return fmt.Errorf("config.defaults.lease_minutes must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Default returns the built-in defaults used when no hzl.yml exists.
func Default() *Config {
	var cfg Config
	cfg.Defaults.Project = "inbox"
	cfg.Defaults.LeaseMinutes = 60
	return &cfg
}

// GenerateDefault returns the default config YAML written by hzl init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `defaults:
  project: inbox
  lease_minutes: 60

identity:
  author: ""
  agent_id: ""

webhooks: []
`
