// Package config loads and validates the runner configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	rerrors "github.com/cuemby/burrow/pkg/errors"
)

// Mode selects where desired state comes from
type Mode string

const (
	ModeManaged    Mode = "managed"
	ModeSelfHosted Mode = "selfHosted"
)

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// EdgeConfig configures the edge routing table
type EdgeConfig struct {
	DeletedTTL     time.Duration `yaml:"deletedTTL"`
	StoppedPageURL string        `yaml:"stoppedPageUrl"`
}

// Config is the runner configuration, built once in main and passed down
type Config struct {
	Mode        Mode      `yaml:"mode"`
	WorkspaceID uuid.UUID `yaml:"workspaceId"`
	RunnerID    uuid.UUID `yaml:"runnerId"`
	APIToken    string    `yaml:"apiToken"`
	UserAgent   string    `yaml:"userAgent"`

	ControlPlaneAddr     string `yaml:"controlPlaneAddr"`
	ControlPlaneInsecure bool   `yaml:"controlPlaneInsecure"`

	DataDir       string `yaml:"dataDir"`
	DatabasePath  string `yaml:"databasePath"`
	Kubeconfig    string `yaml:"kubeconfig"`
	EncryptionKey string `yaml:"encryptionKey"`

	Region           string `yaml:"region"`
	RootDomain       string `yaml:"rootDomain"`
	IngressClass     string `yaml:"ingressClass"`
	InternalRegistry string `yaml:"internalRegistry"`
	SecretsPath      string `yaml:"secretsPath"`

	Resync         string        `yaml:"resync"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
	Concurrency    int           `yaml:"concurrency"`

	ListenAddr string `yaml:"listenAddr"`
	HealthAddr string `yaml:"healthAddr"`

	Log  LogConfig  `yaml:"log"`
	Edge EdgeConfig `yaml:"edge"`
}

// Default returns a configuration with every optional field filled in
func Default() *Config {
	return &Config{
		Mode:             ModeSelfHosted,
		UserAgent:        "burrow",
		DataDir:          "/var/lib/burrow",
		IngressClass:     "nginx",
		InternalRegistry: "registry.burrow.dev",
		SecretsPath:      "secret/data",
		Resync:           "@every 1m",
		ReconnectDelay:   5 * time.Second,
		RetryDelay:       5 * time.Second,
		Concurrency:      4,
		ListenAddr:       "127.0.0.1:8081",
		HealthAddr:       "127.0.0.1:9090",
		Log:              LogConfig{Level: "info"},
		Edge: EdgeConfig{
			DeletedTTL: 15 * 24 * time.Hour,
		},
	}
}

// Load reads a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, rerrors.WrapPermanentConfig(fmt.Errorf("failed to parse config: %w", err))
	}
	return cfg, nil
}

// DatabaseFile returns the SQLite path, defaulting into the data directory
func (c *Config) DatabaseFile() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, "burrow.sqlite")
}

// ResyncSchedule parses the full reconciliation schedule
func (c *Config) ResyncSchedule() (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(c.Resync)
	if err != nil {
		return nil, rerrors.WrapPermanentConfig(fmt.Errorf("invalid resync schedule %q: %w", c.Resync, err))
	}
	return schedule, nil
}

// Validate checks the configuration before anything is started
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeManaged:
		if c.WorkspaceID == uuid.Nil || c.RunnerID == uuid.Nil {
			return rerrors.WrapPermanentConfig(fmt.Errorf("managed mode requires workspaceId and runnerId"))
		}
		if c.ControlPlaneAddr == "" {
			return rerrors.WrapPermanentConfig(fmt.Errorf("managed mode requires controlPlaneAddr"))
		}
		if c.APIToken == "" {
			return rerrors.WrapPermanentConfig(fmt.Errorf("managed mode requires apiToken"))
		}
	case ModeSelfHosted:
		if c.WorkspaceID == uuid.Nil {
			return rerrors.WrapPermanentConfig(fmt.Errorf("self-hosted mode requires workspaceId"))
		}
	default:
		return rerrors.WrapPermanentConfig(fmt.Errorf("unknown mode %q", c.Mode))
	}

	if c.RootDomain == "" {
		return rerrors.WrapPermanentConfig(fmt.Errorf("rootDomain is required"))
	}
	if c.Region == "" {
		return rerrors.WrapPermanentConfig(fmt.Errorf("region is required"))
	}
	if c.Concurrency < 1 {
		return rerrors.WrapPermanentConfig(fmt.Errorf("concurrency must be at least 1"))
	}
	if c.ReconnectDelay <= 0 || c.RetryDelay <= 0 {
		return rerrors.WrapPermanentConfig(fmt.Errorf("reconnectDelay and retryDelay must be positive"))
	}
	if _, err := c.ResyncSchedule(); err != nil {
		return err
	}
	return nil
}
