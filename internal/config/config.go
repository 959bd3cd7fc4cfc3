package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port        string `yaml:"port"`
		Development bool   `yaml:"development"`
	} `yaml:"server"`

	Database struct {
		Type string `yaml:"type"` // "postgres", "sqlite" or "memory"
		URL  string `yaml:"url"`  // PostgreSQL URL
		Path string `yaml:"path"` // SQLite path
	} `yaml:"database"`

	Catalog struct {
		// Sources are merged in order; later entries win on duplicate filenames.
		// Each entry is a file path or an http(s) URL.
		Sources      []string      `yaml:"sources"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
	} `yaml:"catalog"`

	Assets struct {
		Origin       string        `yaml:"origin"` // base URL relative candidates are probed against
		Roots        []string      `yaml:"roots"`
		Placeholders []string      `yaml:"placeholders"`
		ProbeTimeout time.Duration `yaml:"probe_timeout"`
		CacheTTL     time.Duration `yaml:"cache_ttl"` // unset means 10m, negative disables
	} `yaml:"assets"`

	Auth struct {
		JWTSecret         string        `yaml:"jwt_secret"`
		TokenTTL          time.Duration `yaml:"token_ttl"`
		Required          bool          `yaml:"required"`
		AllowRegistration bool          `yaml:"allow_registration"`
	} `yaml:"auth"`
}

// DefaultPlaceholders are shown when no candidate location holds the asset.
var DefaultPlaceholders = []string{
	"https://quinfer.github.io/flag-examples/union-jack/example1.jpg",
	"https://quinfer.github.io/flag-examples/ulster-banner/example1.jpg",
	"https://quinfer.github.io/flag-examples/irish-tricolour/example1.jpg",
}

// LabelerConfig configures the terminal labeling client.
type LabelerConfig struct {
	ServerURL string        `yaml:"server_url"`
	Token     string        `yaml:"token"`
	ExpertID  string        `yaml:"expert_id"`
	Timeout   time.Duration `yaml:"timeout"`
	StatePath string        `yaml:"state_path"` // SQLite file holding the saved position

	// Catalog sources; the server's image list is used when empty.
	Sources []string `yaml:"sources"`

	Assets struct {
		Origin       string        `yaml:"origin"` // defaults to server_url
		Roots        []string      `yaml:"roots"`
		Placeholders []string      `yaml:"placeholders"`
		ProbeTimeout time.Duration `yaml:"probe_timeout"`
		CacheTTL     time.Duration `yaml:"cache_ttl"`
	} `yaml:"assets"`
}

func decodeFile(configPath string, out any) error {
	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	if err := decodeFile(configPath, config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	// Expand environment variables in secrets and connection strings
	config.Database.URL = os.ExpandEnv(config.Database.URL)
	config.Auth.JWTSecret = os.ExpandEnv(config.Auth.JWTSecret)
	config.Assets.Origin = os.ExpandEnv(config.Assets.Origin)
	for i := range config.Catalog.Sources {
		config.Catalog.Sources[i] = os.ExpandEnv(config.Catalog.Sources[i])
	}
	for i := range config.Assets.Roots {
		config.Assets.Roots[i] = os.ExpandEnv(config.Assets.Roots[i])
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}

	if c.Database.Path == "" {
		c.Database.Path = "./data/classifications.db"
	}

	if c.Catalog.FetchTimeout == 0 {
		c.Catalog.FetchTimeout = 10 * time.Second
	}

	if len(c.Assets.Roots) == 0 {
		c.Assets.Roots = []string{"/static", "/images"}
	}

	if len(c.Assets.Placeholders) == 0 {
		c.Assets.Placeholders = DefaultPlaceholders
	}

	if c.Assets.ProbeTimeout == 0 {
		c.Assets.ProbeTimeout = 5 * time.Second
	}

	if c.Assets.CacheTTL == 0 {
		c.Assets.CacheTTL = 10 * time.Minute
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for postgres")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	return nil
}

// LoadLabelerConfig loads the client configuration from a YAML file.
func LoadLabelerConfig(configPath string) (*LabelerConfig, error) {
	config := &LabelerConfig{}
	if err := decodeFile(configPath, config); err != nil {
		return nil, err
	}

	config.ServerURL = strings.TrimRight(os.ExpandEnv(config.ServerURL), "/")
	config.Token = os.ExpandEnv(config.Token)
	config.ExpertID = os.ExpandEnv(config.ExpertID)
	config.Assets.Origin = os.ExpandEnv(config.Assets.Origin)
	for i := range config.Sources {
		config.Sources[i] = os.ExpandEnv(config.Sources[i])
	}

	if config.ServerURL == "" {
		return nil, fmt.Errorf("server_url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.StatePath == "" {
		config.StatePath = "./data/labeler.db"
	}
	if len(config.Sources) == 0 {
		config.Sources = []string{config.ServerURL + "/api/images"}
	}
	if config.Assets.Origin == "" {
		config.Assets.Origin = config.ServerURL
	}
	if len(config.Assets.Roots) == 0 {
		config.Assets.Roots = []string{config.ServerURL + "/static", config.ServerURL + "/images"}
	}
	if len(config.Assets.Placeholders) == 0 {
		config.Assets.Placeholders = DefaultPlaceholders
	}
	if config.Assets.ProbeTimeout == 0 {
		config.Assets.ProbeTimeout = 5 * time.Second
	}

	return config, nil
}

// ClassificationsURL is the endpoint answers are posted to.
func (c *LabelerConfig) ClassificationsURL() string {
	return c.ServerURL + "/api/classifications"
}
