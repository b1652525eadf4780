package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/bucketsyncd/internal/store"
)

const (
	DefaultRegion      = "us-east-1"
	DefaultListenAddr  = ":8080"
	DefaultMetricsPath = "/metrics"
)

// DefaultAllowedEventTypes are the bucket notification event prefixes that
// trigger a cycle when serve.allowed_event_types is not set.
var DefaultAllowedEventTypes = []string{"s3:ObjectCreated:", "s3:ObjectRemoved:"}

// Config represents the complete bucketsyncd configuration
type Config struct {
	Store StoreConfig `yaml:"store"`
	Paths PathsConfig `yaml:"paths"`
	Sync  SyncConfig  `yaml:"sync"`
	Serve ServeConfig `yaml:"serve"`
}

// StoreConfig configures the remote object store
type StoreConfig struct {
	Backend             string `yaml:"backend"`
	Endpoint            string `yaml:"endpoint"`
	Region              string `yaml:"region"`
	Bucket              string `yaml:"bucket"`
	Prefix              string `yaml:"prefix"`
	AccessKeyID         string `yaml:"access_key_id"`
	AccessKeyIDFile     string `yaml:"access_key_id_file"`
	SecretAccessKey     string `yaml:"secret_access_key"`
	SecretAccessKeyFile string `yaml:"secret_access_key_file"`
	UseSSL              bool   `yaml:"use_ssl"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	WorkDir string `yaml:"work_dir"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	// AutoGetSource applies detected changes; when false a cycle only reports them.
	AutoGetSource     bool `yaml:"auto_get_source"`
	IgnoreMissingRoot bool `yaml:"ignore_missing_root"`
}

// ServeConfig configures the webhook daemon
type ServeConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ListenAddr        string        `yaml:"listen_addr"`
	WebhookTokenFile  string        `yaml:"webhook_token_file"`
	AllowedEventTypes []string      `yaml:"allowed_event_types"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MetricsPath       string        `yaml:"metrics_path"`
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

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.loadSecrets(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Store.Backend = os.ExpandEnv(c.Store.Backend)
	c.Store.Endpoint = os.ExpandEnv(c.Store.Endpoint)
	c.Store.Region = os.ExpandEnv(c.Store.Region)
	c.Store.Bucket = os.ExpandEnv(c.Store.Bucket)
	c.Store.Prefix = os.ExpandEnv(c.Store.Prefix)
	c.Store.AccessKeyID = os.ExpandEnv(c.Store.AccessKeyID)
	c.Store.AccessKeyIDFile = os.ExpandEnv(c.Store.AccessKeyIDFile)
	c.Store.SecretAccessKey = os.ExpandEnv(c.Store.SecretAccessKey)
	c.Store.SecretAccessKeyFile = os.ExpandEnv(c.Store.SecretAccessKeyFile)
	c.Paths.WorkDir = os.ExpandEnv(c.Paths.WorkDir)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.WebhookTokenFile = os.ExpandEnv(c.Serve.WebhookTokenFile)
	c.Serve.MetricsPath = os.ExpandEnv(c.Serve.MetricsPath)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = store.BackendS3
	}
	if c.Store.Region == "" {
		c.Store.Region = DefaultRegion
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = DefaultListenAddr
	}
	if c.Serve.MetricsPath == "" {
		c.Serve.MetricsPath = DefaultMetricsPath
	}
	if len(c.Serve.AllowedEventTypes) == 0 {
		c.Serve.AllowedEventTypes = append([]string(nil), DefaultAllowedEventTypes...)
	}
}

// loadSecrets reads credentials configured through *_file keys. An inline
// value takes precedence over its file.
func (c *Config) loadSecrets() error {
	if c.Store.AccessKeyID == "" && c.Store.AccessKeyIDFile != "" {
		v, err := readSecretFile(c.Store.AccessKeyIDFile)
		if err != nil {
			return fmt.Errorf("store.access_key_id_file: %w", err)
		}
		c.Store.AccessKeyID = v
	}
	if c.Store.SecretAccessKey == "" && c.Store.SecretAccessKeyFile != "" {
		v, err := readSecretFile(c.Store.SecretAccessKeyFile)
		if err != nil {
			return fmt.Errorf("store.secret_access_key_file: %w", err)
		}
		c.Store.SecretAccessKey = v
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate store config
	switch c.Store.Backend {
	case store.BackendS3, store.BackendMinio:
		// valid
	default:
		return fmt.Errorf("invalid store.backend: %s (must be s3 or minio)", c.Store.Backend)
	}
	if c.Store.Bucket == "" {
		return fmt.Errorf("store.bucket is required")
	}
	if c.Store.Backend == store.BackendMinio && c.Store.Endpoint == "" {
		return fmt.Errorf("store.endpoint is required for the minio backend")
	}
	if strings.Contains(c.Store.Endpoint, "://") {
		return fmt.Errorf("store.endpoint must be host[:port] without a scheme: %s", c.Store.Endpoint)
	}
	if c.Store.AccessKeyID == "" {
		return fmt.Errorf("store.access_key_id or store.access_key_id_file is required")
	}
	if c.Store.SecretAccessKey == "" {
		return fmt.Errorf("store.secret_access_key or store.secret_access_key_file is required")
	}

	// Validate paths
	if c.Paths.WorkDir == "" {
		return fmt.Errorf("paths.work_dir is required")
	}
	if !filepath.IsAbs(c.Paths.WorkDir) {
		return fmt.Errorf("paths.work_dir must be an absolute path: %s", c.Paths.WorkDir)
	}

	// Validate serve config
	if c.Serve.PollInterval < 0 {
		return fmt.Errorf("serve.poll_interval must not be negative: %s", c.Serve.PollInterval)
	}
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.WebhookTokenFile == "" {
			return fmt.Errorf("serve.webhook_token_file is required when serve is enabled")
		}
		if !strings.HasPrefix(c.Serve.MetricsPath, "/") || c.Serve.MetricsPath == "/" {
			return fmt.Errorf("serve.metrics_path must be an absolute URL path other than /: %s", c.Serve.MetricsPath)
		}
	}

	return nil
}

// StoreOptions returns the options used to construct the store client.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:         c.Store.Backend,
		Endpoint:        c.Store.Endpoint,
		Region:          c.Store.Region,
		AccessKeyID:     c.Store.AccessKeyID,
		SecretAccessKey: c.Store.SecretAccessKey,
		UseSSL:          c.Store.UseSSL,
	}
}

