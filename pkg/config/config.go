// Package config loads client configuration from a YAML file and the
// environment. Environment variables take precedence over file values;
// credentials are only ever read from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is consulted by LoadDefault when no path is given.
const DefaultPath = "config/default.yaml"

// GlobalConfig holds service-wide settings.
type GlobalConfig struct {
	Product      string `yaml:"product"`
	Endpoint     string `yaml:"endpoint"`
	PageSize     int    `yaml:"page_size"`
	Concurrency  int    `yaml:"concurrency"`
	MaxRetries   int    `yaml:"max_retries"`
	RetryDelayMS int    `yaml:"retry_delay_ms"`
}

// ObservabilityConfig holds logging and tracing settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level"`
	EnableTracing bool   `yaml:"enable_tracing"`
}

// DeltaConfig holds delta-sync state settings for downstream
// consumers.
type DeltaConfig struct {
	StoragePath string `yaml:"storage_path"`
}

// EntityConfig is a per-entity override.
type EntityConfig struct {
	Name         string `yaml:"name"`
	InitialLoad  bool   `yaml:"initial_load"`
	DeltaEnabled bool   `yaml:"delta_enabled"`
	CrossCompany bool   `yaml:"cross_company"`
}

// Config is the root file configuration.
type Config struct {
	Global        GlobalConfig        `yaml:"global"`
	Observability ObservabilityConfig `yaml:"observability"`
	Delta         DeltaConfig         `yaml:"delta"`
	Entities      []EntityConfig      `yaml:"entities"`
}

// RuntimeConfig is the fully resolved configuration consumed by the
// client. Product and AuthType stay as raw strings here; callers parse
// them with odata.ParseProduct and auth.ParseAuthType.
type RuntimeConfig struct {
	Product      string
	Endpoint     string
	TenantID     string
	ClientID     string
	ClientSecret string
	AuthType     string
	TokenURL     string
	Resource     string

	PageSize    int
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration

	LogLevel      string
	EnableTracing bool

	DeltaStoragePath string
	Entities         []EntityConfig
}

// Load reads a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads DefaultPath when it exists, or an empty config
// relying on defaults and the environment.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat(DefaultPath); err == nil {
		return Load(DefaultPath)
	}
	return &Config{}, nil
}

// Runtime resolves the file configuration against the environment.
func (c *Config) Runtime() (*RuntimeConfig, error) {
	tenantID := os.Getenv("TENANT_ID")
	if tenantID == "" {
		return nil, fmt.Errorf("TENANT_ID environment variable is required")
	}
	clientID := os.Getenv("CLIENT_ID")
	if clientID == "" {
		return nil, fmt.Errorf("CLIENT_ID environment variable is required")
	}
	clientSecret := os.Getenv("CLIENT_SECRET")
	if clientSecret == "" {
		return nil, fmt.Errorf("CLIENT_SECRET environment variable is required")
	}

	endpoint := getenvDefault("ENDPOINT", c.Global.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("ENDPOINT environment variable or config endpoint is required")
	}

	rt := &RuntimeConfig{
		Product:      getenvDefault("PRODUCT", defaultString(c.Global.Product, "dataverse")),
		Endpoint:     endpoint,
		TenantID:     tenantID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthType:     getenvDefault("AUTH_TYPE", "azure"),
		TokenURL:     os.Getenv("TOKEN_URL"),
		Resource:     os.Getenv("RESOURCE"),

		PageSize:    defaultInt(c.Global.PageSize, 500),
		Concurrency: defaultInt(c.Global.Concurrency, 4),
		MaxRetries:  defaultInt(c.Global.MaxRetries, 3),
		RetryDelay:  time.Duration(defaultInt(c.Global.RetryDelayMS, 1000)) * time.Millisecond,

		LogLevel:      defaultString(c.Observability.LogLevel, "info"),
		EnableTracing: c.Observability.EnableTracing,

		DeltaStoragePath: defaultString(c.Delta.StoragePath, "./delta_state.json"),
		Entities:         c.Entities,
	}

	return rt, nil
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func defaultInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
