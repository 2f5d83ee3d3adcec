// Package config loads the service configuration from YAML. The loader
// normalizes, validates, and caches the parsed config, and can watch the
// file for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/cexll/assisthub-go/pkg/logger"
)

// currentSchema is the config schema this build understands. Files from a
// different major version are rejected.
const currentSchema = "v1"

// envAPIKey overrides the provider credential when set.
const envAPIKey = "ASSISTHUB_API_KEY"

// ProviderConfig selects and configures the completion gateway.
type ProviderConfig struct {
	Name      string `yaml:"name"` // openai or anthropic
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// ServiceConfig is the whole YAML document.
type ServiceConfig struct {
	Version        string          `yaml:"version"`
	Provider       ProviderConfig  `yaml:"provider"`
	StorePath      string          `yaml:"store_path"`
	ListenAddr     string          `yaml:"listen_addr"`
	AgentMode      bool            `yaml:"agent_mode"`
	FallbackPrompt string          `yaml:"fallback_prompt"`
	Log            logger.Config   `yaml:"log"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`

	SourcePath string `yaml:"-"`
}

// Normalize trims whitespace and fills defaults.
func (c *ServiceConfig) Normalize() {
	if c == nil {
		return
	}
	c.Version = strings.TrimSpace(c.Version)
	if c.Version == "" {
		c.Version = currentSchema
	}
	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	c.Provider.Model = strings.TrimSpace(c.Provider.Model)
	if env := strings.TrimSpace(os.Getenv(envAPIKey)); env != "" {
		c.Provider.APIKey = env
	}
	if c.StorePath != "" {
		c.StorePath = filepath.Clean(c.StorePath)
	} else {
		c.StorePath = defaultStorePath()
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

// Validate reports the first configuration problem.
func (c *ServiceConfig) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}
	if !semver.IsValid(c.Version) {
		return fmt.Errorf("config: version %q is not a valid semver", c.Version)
	}
	if semver.Major(c.Version) != currentSchema {
		return fmt.Errorf("config: unsupported schema version %s (want %s)", c.Version, currentSchema)
	}
	switch c.Provider.Name {
	case "openai", "anthropic":
	case "":
		return errors.New("config: provider.name is required")
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider.Name)
	}
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return fmt.Errorf("config: provider.api_key is required (or set %s)", envAPIKey)
	}
	if c.Provider.Model == "" {
		return errors.New("config: provider.model is required")
	}
	return nil
}

// Load reads, normalizes, and validates the config at path.
func Load(path string) (*ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg ServiceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.SourcePath = path
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".assisthub")
}
