package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so interval values can be written in the
// config file as "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses a duration string or a plain number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		// Allow bare numbers, interpreted as seconds.
		var secs int
		if serr := value.Decode(&secs); serr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		parsed = time.Duration(secs) * time.Second
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back in time.Duration notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ValidationError describes an invalid configuration value. Validation
// failures are fatal: they are reported before any sync loop starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Config represents the complete replicad configuration
type Config struct {
	Paths PathsConfig `yaml:"paths"`
	Sync  SyncConfig  `yaml:"sync"`
	Serve ServeConfig `yaml:"serve"`
}

// PathsConfig configures the mirrored directory trees
type PathsConfig struct {
	Source  string `yaml:"source"`
	Replica string `yaml:"replica"`
}

// SyncConfig configures pass scheduling and retry behavior
type SyncConfig struct {
	Interval    Duration `yaml:"interval"`
	MaxAttempts int      `yaml:"max_attempts"`
	RetryDelay  Duration `yaml:"retry_delay"`
}

// ServeConfig configures the HTTP trigger server
type ServeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddr    string `yaml:"listen_addr"`
	AuthTokenFile string `yaml:"auth_token_file"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.ApplyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.Source = os.ExpandEnv(c.Paths.Source)
	c.Paths.Replica = os.ExpandEnv(c.Paths.Replica)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.AuthTokenFile = os.ExpandEnv(c.Serve.AuthTokenFile)
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Sync.Interval == 0 {
		c.Sync.Interval = Duration(30 * time.Second)
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 3
	}
	if c.Sync.RetryDelay == 0 {
		c.Sync.RetryDelay = Duration(2 * time.Second)
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate paths
	if c.Paths.Source == "" {
		return &ValidationError{Field: "paths.source", Reason: "is required"}
	}
	if c.Paths.Replica == "" {
		return &ValidationError{Field: "paths.replica", Reason: "is required"}
	}

	// Ensure paths are absolute
	if !filepath.IsAbs(c.Paths.Source) {
		return &ValidationError{Field: "paths.source", Reason: fmt.Sprintf("must be an absolute path: %s", c.Paths.Source)}
	}
	if !filepath.IsAbs(c.Paths.Replica) {
		return &ValidationError{Field: "paths.replica", Reason: fmt.Sprintf("must be an absolute path: %s", c.Paths.Replica)}
	}

	// The trees must be disjoint: mirroring a tree into itself (or into a
	// subtree of itself) would delete or recursively copy its own content.
	source := filepath.Clean(c.Paths.Source)
	replica := filepath.Clean(c.Paths.Replica)
	if source == replica {
		return &ValidationError{Field: "paths.replica", Reason: "must differ from paths.source"}
	}
	if isSubPath(source, replica) {
		return &ValidationError{Field: "paths.replica", Reason: "must not be inside paths.source"}
	}
	if isSubPath(replica, source) {
		return &ValidationError{Field: "paths.source", Reason: "must not be inside paths.replica"}
	}

	// Validate sync settings
	if c.Sync.Interval <= 0 {
		return &ValidationError{Field: "sync.interval", Reason: "must be a positive duration"}
	}
	if c.Sync.MaxAttempts < 1 {
		return &ValidationError{Field: "sync.max_attempts", Reason: "must be at least 1"}
	}
	if c.Sync.RetryDelay < 0 {
		return &ValidationError{Field: "sync.retry_delay", Reason: "must not be negative"}
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return &ValidationError{Field: "serve.listen_addr", Reason: "is required when serve is enabled"}
		}
	}

	return nil
}

// isSubPath reports whether child is located inside parent.
func isSubPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
