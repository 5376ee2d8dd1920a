package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"jobline/internal/domain"
)

const fileName = "jobline.yml"

// Config models jobline.yml: workspace-level defaults for the CLI and the
// marketplace engine. The file is optional; Default covers a fresh workspace.
type Config struct {
	Workspace struct {
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Billing struct {
		DefaultCurrency string `yaml:"default_currency"`
	} `yaml:"billing"`
	Actor struct {
		ID   string `yaml:"id"`
		Role string `yaml:"role"`
	} `yaml:"actor"`
	Notifications struct {
		LivePush bool `yaml:"live_push"`
	} `yaml:"notifications"`
}

func Default() *Config {
	c := &Config{}
	c.Workspace.Name = "jobline"
	c.Billing.DefaultCurrency = "INR"
	c.Actor.Role = string(domain.RoleAgent)
	return c
}

func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Load reads jobline.yml from the workspace, returning defaults if absent.
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

func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Billing.DefaultCurrency == "" {
		return fmt.Errorf("config.billing.default_currency is required")
	}
	switch domain.Role(c.Actor.Role) {
	case domain.RoleAgent, domain.RoleContractor, "":
	default:
		return fmt.Errorf("config.actor.role must be agent or contractor")
	}
	return nil
}
