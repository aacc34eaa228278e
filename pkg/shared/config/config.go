// Package config holds the service-level configuration: where the daemon
// listens, which hosting provider it talks to, and how collaborators are
// reached. Repository-scoped policy lives in internal/config and is loaded
// per run from the target repository.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Provider selects the hosting API implementation.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// Server holds the HTTP listener settings.
type Server struct {
	Addr string `yaml:"addr"`
}

// Scanner holds the analyzer invocation settings.
type Scanner struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// Export holds the optional findings export endpoint.
type Export struct {
	URL string `yaml:"url"`
}

// Config is the service configuration, loaded once at startup.
type Config struct {
	LogLevel string   `yaml:"log_level"`
	Provider Provider `yaml:"provider"`
	BaseURL  string   `yaml:"base_url"`
	WorkDir  string   `yaml:"work_dir"`
	Server   Server   `yaml:"server"`
	Scanner  Scanner  `yaml:"scanner"`
	Export   Export   `yaml:"export"`
}

// Credentials are never read from the config file.
const (
	EnvToken         = "AUTOPATCH_TOKEN"
	EnvWebhookSecret = "AUTOPATCH_WEBHOOK_SECRET"
	EnvExportToken   = "AUTOPATCH_EXPORT_TOKEN"
)

// LoadConfig reads the service configuration. A missing file yields the
// defaults so the binary runs with flags and environment alone.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Provider: ProviderGitHub,
		Server:   Server{Addr: ":8080"},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	return cfg, nil
}

// ValidateConfig rejects unusable service configurations.
func ValidateConfig(cfg *Config) error {
	if cfg.Provider != ProviderGitHub && cfg.Provider != ProviderGitLab {
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	return nil
}

// Token returns the hosting API token from the environment.
func Token() string { return os.Getenv(EnvToken) }

// WebhookSecret returns the shared webhook secret from the environment.
func WebhookSecret() string { return os.Getenv(EnvWebhookSecret) }

// ExportToken returns the export endpoint credential from the environment.
func ExportToken() string { return os.Getenv(EnvExportToken) }
