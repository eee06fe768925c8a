// Package config loads wplicense settings from an optional YAML or JSONC
// file, a best-effort .env file and WPLICENSE_* environment variables, in
// increasing order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "WPLICENSE_"

// Defaults.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultInventoryTTL = 2 * time.Hour
	DefaultStore        = "file"
	DefaultListenAddr   = "127.0.0.1:7655"
	DefaultMarkerHeader = "License Server"
	DefaultOptionPrefix = "wplicense"
	maxConfigFileSize   = 1 << 20
)

// DefaultDataDir is where the file and sqlite stores live unless configured:
// <user config dir>/wplicense, or ./.wplicense when no home is known.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".wplicense"
	}
	return filepath.Join(dir, "wplicense")
}

// Config holds runtime configuration.
type Config struct {
	ServerURL      string
	Domain         string
	TLSFingerprint string
	StoreBackend   string
	DataDir        string
	RedisURL       string
	OptionPrefix   string
	Timeout        time.Duration
	Debug          bool
	LogLevel       string
	LogFormat      string
	PluginsDir     string
	ThemesDir      string
	MarkerHeader   string
	InventoryTTL   time.Duration
	ListenAddr     string
	LocalPatterns  []string

	// Source is the config file that was read, if any.
	Source string
}

// fileConfig is the on-disk layout; durations are strings such as "45s".
type fileConfig struct {
	ServerURL      string   `yaml:"server_url" json:"server_url"`
	Domain         string   `yaml:"domain" json:"domain"`
	TLSFingerprint string   `yaml:"tls_fingerprint" json:"tls_fingerprint"`
	Store          string   `yaml:"store" json:"store"`
	DataDir        string   `yaml:"data_dir" json:"data_dir"`
	RedisURL       string   `yaml:"redis_url" json:"redis_url"`
	OptionPrefix   string   `yaml:"option_prefix" json:"option_prefix"`
	Timeout        string   `yaml:"timeout" json:"timeout"`
	Debug          *bool    `yaml:"debug" json:"debug"`
	LogLevel       string   `yaml:"log_level" json:"log_level"`
	LogFormat      string   `yaml:"log_format" json:"log_format"`
	PluginsDir     string   `yaml:"plugins_dir" json:"plugins_dir"`
	ThemesDir      string   `yaml:"themes_dir" json:"themes_dir"`
	MarkerHeader   string   `yaml:"marker_header" json:"marker_header"`
	InventoryTTL   string   `yaml:"inventory_ttl" json:"inventory_ttl"`
	ListenAddr     string   `yaml:"listen_addr" json:"listen_addr"`
	LocalPatterns  []string `yaml:"local_patterns" json:"local_patterns"`
}

// Default returns the built-in configuration.
func Default() *Config {
	domain, _ := os.Hostname()
	return &Config{
		Domain:       strings.ToLower(domain),
		StoreBackend: DefaultStore,
		DataDir:      DefaultDataDir(),
		OptionPrefix: DefaultOptionPrefix,
		Timeout:      DefaultTimeout,
		LogLevel:     "info",
		LogFormat:    "auto",
		MarkerHeader: DefaultMarkerHeader,
		InventoryTTL: DefaultInventoryTTL,
		ListenAddr:   DefaultListenAddr,
	}
}

// Load builds the configuration. path names a config file; when empty,
// WPLICENSE_CONFIG is consulted. A .env file in the working directory is
// loaded if present but not required.
func Load(path string) (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	cfg := Default()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG"))
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &fc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q (want .yaml, .yml, .json or .jsonc)", ext)
	}

	if err := c.apply(fc); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	c.Source = path
	return nil
}

func (c *Config) apply(fc fileConfig) error {
	setString(&c.ServerURL, fc.ServerURL)
	setString(&c.Domain, fc.Domain)
	setString(&c.TLSFingerprint, fc.TLSFingerprint)
	setString(&c.StoreBackend, fc.Store)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.RedisURL, fc.RedisURL)
	setString(&c.OptionPrefix, fc.OptionPrefix)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.PluginsDir, fc.PluginsDir)
	setString(&c.ThemesDir, fc.ThemesDir)
	setString(&c.MarkerHeader, fc.MarkerHeader)
	setString(&c.ListenAddr, fc.ListenAddr)
	if fc.Debug != nil {
		c.Debug = *fc.Debug
	}
	if len(fc.LocalPatterns) > 0 {
		c.LocalPatterns = fc.LocalPatterns
	}
	if err := setDuration(&c.Timeout, "timeout", fc.Timeout); err != nil {
		return err
	}
	return setDuration(&c.InventoryTTL, "inventory_ttl", fc.InventoryTTL)
}

func (c *Config) applyEnv() error {
	c.ServerURL = envOrDefault("SERVER_URL", c.ServerURL)
	c.Domain = envOrDefault("DOMAIN", c.Domain)
	c.TLSFingerprint = envOrDefault("TLS_FINGERPRINT", c.TLSFingerprint)
	c.StoreBackend = envOrDefault("STORE", c.StoreBackend)
	c.DataDir = envOrDefault("DATA_DIR", c.DataDir)
	c.RedisURL = envOrDefault("REDIS_URL", c.RedisURL)
	c.OptionPrefix = envOrDefault("OPTION_PREFIX", c.OptionPrefix)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("LOG_FORMAT", c.LogFormat)
	c.PluginsDir = envOrDefault("PLUGINS_DIR", c.PluginsDir)
	c.ThemesDir = envOrDefault("THEMES_DIR", c.ThemesDir)
	c.MarkerHeader = envOrDefault("MARKER_HEADER", c.MarkerHeader)
	c.ListenAddr = envOrDefault("LISTEN_ADDR", c.ListenAddr)

	if v := envOrDefault("LOCAL_PATTERNS", ""); v != "" {
		c.LocalPatterns = splitList(v)
	}

	debug, err := envOrDefaultBool("DEBUG", c.Debug)
	if err != nil {
		return err
	}
	c.Debug = debug

	if c.Timeout, err = envOrDefaultDuration("TIMEOUT", c.Timeout); err != nil {
		return err
	}
	if c.InventoryTTL, err = envOrDefaultDuration("INVENTORY_TTL", c.InventoryTTL); err != nil {
		return err
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var missing []string
	if c.ServerURL == "" {
		missing = append(missing, EnvPrefix+"SERVER_URL")
	}
	if c.Domain == "" {
		missing = append(missing, EnvPrefix+"DOMAIN")
	}

	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case "memory":
	case "file", "sqlite":
		if c.DataDir == "" {
			missing = append(missing, EnvPrefix+"DATA_DIR")
		}
	case "redis":
		if c.RedisURL == "" {
			missing = append(missing, EnvPrefix+"REDIS_URL")
		}
	default:
		return fmt.Errorf("%sSTORE must be one of memory, file, sqlite, redis; got %q", EnvPrefix, c.StoreBackend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	parsed, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("%sSERVER_URL must be a valid URL: %w", EnvPrefix, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%sSERVER_URL must use http or https scheme", EnvPrefix)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%sSERVER_URL must include a host", EnvPrefix)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("%sTIMEOUT must be greater than 0, got %s", EnvPrefix, c.Timeout)
	}
	if c.InventoryTTL <= 0 {
		return fmt.Errorf("%sINVENTORY_TTL must be greater than 0, got %s", EnvPrefix, c.InventoryTTL)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s must be a duration such as 30s: %w", name, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s%s must be a boolean: %w", EnvPrefix, key, err)
		}
		return b, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s must be a duration or a number of seconds: %w", EnvPrefix, key, err)
	}
	return d, nil
}
