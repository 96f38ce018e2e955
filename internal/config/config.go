// Package config provides configuration loading and management for schema-sync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variables read by schema-sync
	EnvPrefix = "SCHEMA_SYNC"

	// DefaultProtectedBranch is the branch that only receives reviewed merges
	DefaultProtectedBranch = "main"

	// DefaultRemote is the remote used for push and branch operations
	DefaultRemote = "origin"

	// DefaultSourceTimeout bounds a single schema fetch
	DefaultSourceTimeout = 30 * time.Second

	// DefaultHeartbeatTimeout bounds a single heartbeat ping
	DefaultHeartbeatTimeout = 10 * time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// DefaultConfigPath returns the XDG location of the config file
// ($XDG_CONFIG_HOME/schema-sync/config.yaml).
func DefaultConfigPath() (string, error) {
	path, err := xdg.ConfigFile("schema-sync/config.yaml")
	if err != nil {
		return "", fmt.Errorf("failed to resolve default config path: %w", err)
	}
	return path, nil
}

// Config represents the root configuration structure
type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Repository RepositoryConfig `yaml:"repository"`
	Overrides  OverridesConfig  `yaml:"overrides,omitempty"`
	Heartbeat  *HeartbeatConfig `yaml:"heartbeat,omitempty"`
}

// SourceConfig defines where table definitions are fetched from
type SourceConfig struct {
	// Endpoint is the base API URL (without path). The source appends
	// /tables when listing table definitions.
	Endpoint string `yaml:"endpoint"`

	// TokenFile is the path to a file containing the API bearer token.
	// The file should contain only the token with optional trailing whitespace.
	TokenFile string `yaml:"tokenFile,omitempty"`

	// Timeout bounds a single fetch (e.g., "30s"). Defaults to 30s.
	Timeout string `yaml:"timeout,omitempty"`

	// IncludeInactive keeps tables the provider marks inactive
	IncludeInactive bool `yaml:"includeInactive,omitempty"`
}

// RepositoryConfig defines the working clone the generated document lives in
type RepositoryConfig struct {
	// Path is the filesystem path of the working clone
	Path string `yaml:"path"`

	// ProtectedBranch only receives changes through reviewed merges.
	// Defaults to "main".
	ProtectedBranch string `yaml:"protectedBranch,omitempty"`

	// Remote is the remote used for push and branch operations.
	// Defaults to "origin".
	Remote string `yaml:"remote,omitempty"`

	// DocumentPath is the repository-relative path of the generated document
	DocumentPath string `yaml:"documentPath"`

	// AuthorName and AuthorEmail sign the generated commits
	AuthorName  string `yaml:"authorName,omitempty"`
	AuthorEmail string `yaml:"authorEmail,omitempty"`
}

// OverridesConfig defines where operator field-name overrides live
type OverridesConfig struct {
	// Path is the repository-relative path of the override file.
	// An absent file means no overrides.
	Path string `yaml:"path,omitempty"`
}

// HeartbeatConfig defines the monitoring ping sent after every run
type HeartbeatConfig struct {
	// URL is the heartbeat endpoint. Success pings GET the URL;
	// failures POST to URL/fail with the error detail.
	URL string `yaml:"url"`

	// Timeout bounds a single ping (e.g., "10s"). Defaults to 10s.
	Timeout string `yaml:"timeout,omitempty"`
}

// GetToken returns the source API token using the following priority:
// 1. Read from TokenFile if specified
// 2. Read from SCHEMA_SYNC_API_TOKEN environment variable
//
// The token from file will have leading/trailing whitespace trimmed.
// An empty result is not an error; the source may be unauthenticated.
func (s *SourceConfig) GetToken() (string, error) {
	if s.TokenFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(s.TokenFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", s.TokenFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	return os.Getenv(EnvPrefix + "_API_TOKEN"), nil
}

// GetTimeout returns the fetch timeout, applying the default when unset
func (s *SourceConfig) GetTimeout() time.Duration {
	return parseTimeout(s.Timeout, DefaultSourceTimeout)
}

// GetProtectedBranch returns the protected branch, using "main" if not specified
func (r *RepositoryConfig) GetProtectedBranch() string {
	if r.ProtectedBranch == "" {
		return DefaultProtectedBranch
	}
	return r.ProtectedBranch
}

// GetRemote returns the remote name, using "origin" if not specified
func (r *RepositoryConfig) GetRemote() string {
	if r.Remote == "" {
		return DefaultRemote
	}
	return r.Remote
}

// GetTimeout returns the heartbeat timeout, applying the default when unset
func (h *HeartbeatConfig) GetTimeout() time.Duration {
	if h == nil {
		return DefaultHeartbeatTimeout
	}
	return parseTimeout(h.Timeout, DefaultHeartbeatTimeout)
}

// GetURL returns the heartbeat URL, or "" when reporting is disabled
func (h *HeartbeatConfig) GetURL() string {
	if h == nil {
		return ""
	}
	return h.URL
}

func parseTimeout(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML content
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Validate the config
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateSourceConfig(&c.Source); err != nil {
		return err
	}

	if err := validateRepositoryConfig(&c.Repository); err != nil {
		return err
	}

	return validateHeartbeatConfig(c.Heartbeat)
}

// validateSourceConfig validates the schema source configuration
func validateSourceConfig(source *SourceConfig) error {
	if source.Endpoint == "" {
		return fmt.Errorf("source: endpoint is required")
	}

	if !strings.HasPrefix(source.Endpoint, "http://") && !strings.HasPrefix(source.Endpoint, "https://") {
		return fmt.Errorf("source: endpoint must be an http(s) URL, got %s", source.Endpoint)
	}

	if source.Timeout != "" {
		if _, err := time.ParseDuration(source.Timeout); err != nil {
			return fmt.Errorf("source: timeout must be a valid duration (e.g., '30s', '1m'): %w", err)
		}
	}

	return nil
}

// validateRepositoryConfig validates the working clone configuration
func validateRepositoryConfig(repo *RepositoryConfig) error {
	if repo.Path == "" {
		return fmt.Errorf("repository: path is required")
	}

	if repo.DocumentPath == "" {
		return fmt.Errorf("repository: documentPath is required")
	}

	if filepath.IsAbs(repo.DocumentPath) || !filepath.IsLocal(repo.DocumentPath) {
		return fmt.Errorf("repository: documentPath must be relative to the repository, got %s", repo.DocumentPath)
	}

	if (repo.AuthorName == "") != (repo.AuthorEmail == "") {
		return fmt.Errorf("repository: authorName and authorEmail must be set together")
	}

	return nil
}

// validateHeartbeatConfig validates the heartbeat configuration when present
func validateHeartbeatConfig(hb *HeartbeatConfig) error {
	if hb == nil {
		return nil
	}

	if hb.URL == "" {
		return fmt.Errorf("heartbeat: url is required when the heartbeat section is present")
	}

	if !strings.HasPrefix(hb.URL, "http://") && !strings.HasPrefix(hb.URL, "https://") {
		return fmt.Errorf("heartbeat: url must be an http(s) URL, got %s", hb.URL)
	}

	if hb.Timeout != "" {
		if _, err := time.ParseDuration(hb.Timeout); err != nil {
			return fmt.Errorf("heartbeat: timeout must be a valid duration (e.g., '10s'): %w", err)
		}
	}

	return nil
}
