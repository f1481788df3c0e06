package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/spoolscan/internal/auth"
	"github.com/dyluth/spoolscan/internal/instance"
	"github.com/dyluth/spoolscan/internal/mifare"
	"github.com/dyluth/spoolscan/internal/scan"
)

// DefaultPath is the config file looked up when no path is given.
const DefaultPath = "spoolscan.yml"

// SpoolscanConfig represents the top-level spoolscan.yml configuration
type SpoolscanConfig struct {
	Version string         `yaml:"version"`
	Scan    *ScanConfig    `yaml:"scan,omitempty"`
	Auth    *AuthConfig    `yaml:"auth,omitempty"`
	Keys    *KeysConfig    `yaml:"keys,omitempty"`
	Publish *PublishConfig `yaml:"publish,omitempty"`
	Server  *ServerConfig  `yaml:"server,omitempty"`
}

// ScanConfig controls the scan lifecycle
type ScanConfig struct {
	Deadline     time.Duration `yaml:"deadline,omitempty"`      // Default: 10s
	Concurrent   string        `yaml:"concurrent,omitempty"`    // "reject" (default) or "share"
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"` // Default: 2s
}

// AuthConfig controls which sectors are attempted and with which keys
type AuthConfig struct {
	Sectors         []int    `yaml:"sectors,omitempty"`          // Default: all 16
	RequiredSectors []int    `yaml:"required_sectors,omitempty"` // Default: [0, 1]
	BambuSectors    []int    `yaml:"bambu_sectors,omitempty"`    // Default: [0, 1, 2, 3, 4]
	FallbackKeys    []string `yaml:"fallback_keys"`              // 12 hex digits each; [] disables fallback
}

// KeysConfig overrides key derivation
type KeysConfig struct {
	SecretHex string `yaml:"secret_hex,omitempty"`
}

// PublishConfig enables publishing results to Redis
type PublishConfig struct {
	RedisURL string        `yaml:"redis_url,omitempty"` // Empty disables publishing
	Instance string        `yaml:"instance,omitempty"`  // Default: "default"
	TTL      time.Duration `yaml:"ttl,omitempty"`       // Default: 24h
}

// ServerConfig configures the HTTP decode service
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"` // Default: ":8080"
}

const (
	defaultInstance = instance.DefaultName
	defaultTTL      = 24 * time.Hour
	defaultAddr     = ":8080"
)

// Default returns a validated configuration with every default applied.
func Default() *SpoolscanConfig {
	c := &SpoolscanConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return c
}

// Validate applies defaults and performs strict validation on the configuration
func (c *SpoolscanConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Scan == nil {
		c.Scan = &ScanConfig{}
	}
	if c.Scan.Deadline == 0 {
		c.Scan.Deadline = scan.DefaultDeadline
	}
	if c.Scan.Deadline < 0 {
		return fmt.Errorf("scan.deadline must be positive, got %s", c.Scan.Deadline)
	}
	if c.Scan.DrainTimeout == 0 {
		c.Scan.DrainTimeout = scan.DefaultDrainTimeout
	}
	if c.Scan.DrainTimeout < 0 {
		return fmt.Errorf("scan.drain_timeout must be positive, got %s", c.Scan.DrainTimeout)
	}
	if c.Scan.Concurrent == "" {
		c.Scan.Concurrent = string(scan.ConcurrencyReject)
	}
	if c.Scan.Concurrent != string(scan.ConcurrencyReject) && c.Scan.Concurrent != string(scan.ConcurrencyShare) {
		return fmt.Errorf("invalid scan.concurrent: %s (must be 'reject' or 'share')", c.Scan.Concurrent)
	}

	if c.Auth == nil {
		c.Auth = &AuthConfig{}
	}
	if _, err := c.Policy(); err != nil {
		return err
	}

	if c.Keys == nil {
		c.Keys = &KeysConfig{}
	}
	if _, err := c.Secret(); err != nil {
		return err
	}

	if c.Publish == nil {
		c.Publish = &PublishConfig{}
	}
	if c.Publish.Instance == "" {
		c.Publish.Instance = defaultInstance
	}
	if err := instance.ValidateName(c.Publish.Instance); err != nil {
		return fmt.Errorf("publish.instance: %w", err)
	}
	if c.Publish.TTL == 0 {
		c.Publish.TTL = defaultTTL
	}
	if c.Publish.TTL < 0 {
		return fmt.Errorf("publish.ttl must be positive, got %s", c.Publish.TTL)
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}

	return nil
}

// Policy builds the authentication policy. Omitted fields fall back to the
// policy defaults.
func (c *SpoolscanConfig) Policy() (auth.Policy, error) {
	if c.Auth == nil {
		return auth.DefaultPolicy(), nil
	}

	p := auth.Policy{
		Sectors:         c.Auth.Sectors,
		RequiredSectors: c.Auth.RequiredSectors,
		BambuSectors:    c.Auth.BambuSectors,
	}
	if c.Auth.FallbackKeys != nil {
		p.FallbackKeys = make([]mifare.Key, 0, len(c.Auth.FallbackKeys))
		for _, s := range c.Auth.FallbackKeys {
			k, err := mifare.ParseKey(s)
			if err != nil {
				return auth.Policy{}, fmt.Errorf("auth.fallback_keys: %w", err)
			}
			p.FallbackKeys = append(p.FallbackKeys, k)
		}
	}
	if err := p.Validate(); err != nil {
		return auth.Policy{}, fmt.Errorf("auth: %w", err)
	}
	return p, nil
}

// Secret decodes keys.secret_hex. nil means the built-in secret.
func (c *SpoolscanConfig) Secret() ([]byte, error) {
	if c.Keys == nil || c.Keys.SecretHex == "" {
		return nil, nil
	}
	secret, err := hex.DecodeString(c.Keys.SecretHex)
	if err != nil {
		return nil, fmt.Errorf("keys.secret_hex is not valid hex: %w", err)
	}
	if len(secret) < 16 {
		return nil, fmt.Errorf("keys.secret_hex must be at least 16 bytes, got %d", len(secret))
	}
	return secret, nil
}

// ScannerConfig converts the file configuration into a scan.Config.
func (c *SpoolscanConfig) ScannerConfig() (scan.Config, error) {
	policy, err := c.Policy()
	if err != nil {
		return scan.Config{}, err
	}
	secret, err := c.Secret()
	if err != nil {
		return scan.Config{}, err
	}

	cfg := scan.Config{Policy: policy, Secret: secret}
	if c.Scan != nil {
		cfg.Deadline = c.Scan.Deadline
		cfg.DrainTimeout = c.Scan.DrainTimeout
		cfg.Concurrency = scan.Concurrency(c.Scan.Concurrent)
	}
	return cfg, nil
}

// Load reads and validates spoolscan.yml from the specified path
func Load(path string) (*SpoolscanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config SpoolscanConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path, or returns Default when path is the default
// location and no file exists there. An explicitly named file must exist.
func LoadOrDefault(path string) (*SpoolscanConfig, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg, err := Load(path)
	if err != nil && path == DefaultPath && errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}
