package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadFromEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("WPLICENSE_CONFIG", "")
	t.Setenv("WPLICENSE_SERVER_URL", "https://license.example.com/wp-json/lic/v1")
	t.Setenv("WPLICENSE_DOMAIN", "shop.example.com")
	t.Setenv("WPLICENSE_STORE", "SQLite")
	t.Setenv("WPLICENSE_DATA_DIR", "/var/lib/wplicense")
	t.Setenv("WPLICENSE_TIMEOUT", "45")
	t.Setenv("WPLICENSE_INVENTORY_TTL", "30m")
	t.Setenv("WPLICENSE_DEBUG", "true")
	t.Setenv("WPLICENSE_LOCAL_PATTERNS", "*.dev, localhost")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://license.example.com/wp-json/lic/v1", cfg.ServerURL)
	assert.Equal(t, "shop.example.com", cfg.Domain)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.InventoryTTL)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"*.dev", "localhost"}, cfg.LocalPatterns)
	assert.Equal(t, DefaultMarkerHeader, cfg.MarkerHeader)
	assert.Empty(t, cfg.Source)
}

func TestLoadYAMLFileWithEnvOverride(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "wplicense.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: https://license.example.com
domain: file.example.com
store: file
data_dir: /tmp/options
timeout: 10s
debug: true
plugins_dir: /srv/wp/wp-content/plugins
local_patterns: ["*.lan"]
`), 0o600))
	t.Setenv("WPLICENSE_DOMAIN", "env.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.example.com", cfg.Domain)
	assert.Equal(t, "file", cfg.StoreBackend)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/srv/wp/wp-content/plugins", cfg.PluginsDir)
	assert.Equal(t, []string{"*.lan"}, cfg.LocalPatterns)
	assert.Equal(t, path, cfg.Source)
}

func TestLoadJSONCFileFromEnvPath(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "wplicense.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// license server
		"server_url": "http://127.0.0.1:8080",
		"domain": "dev.test",
		"store": "redis",
		"redis_url": "localhost:6379", /* trailing comma below */
	}`), 0o600))
	t.Setenv("WPLICENSE_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisURL)
	assert.Equal(t, path, cfg.Source)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("WPLICENSE_SERVER_URL=https://dotenv.example.com\nWPLICENSE_DOMAIN=dotenv.example.com\n"), 0o600))
	t.Setenv("WPLICENSE_CONFIG", "")
	t.Setenv("WPLICENSE_SERVER_URL", "")
	t.Setenv("WPLICENSE_DOMAIN", "")
	t.Cleanup(func() {
		os.Unsetenv("WPLICENSE_SERVER_URL")
		os.Unsetenv("WPLICENSE_DOMAIN")
	})
	os.Unsetenv("WPLICENSE_SERVER_URL")
	os.Unsetenv("WPLICENSE_DOMAIN")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example.com", cfg.ServerURL)
}

func TestDefaultsPersistToDisk(t *testing.T) {
	chdirTemp(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("WPLICENSE_CONFIG", "")
	t.Setenv("WPLICENSE_STORE", "")
	t.Setenv("WPLICENSE_DATA_DIR", "")
	t.Setenv("WPLICENSE_SERVER_URL", "https://license.example.com")
	t.Setenv("WPLICENSE_DOMAIN", "example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.StoreBackend)
	assert.Equal(t, DefaultDataDir(), cfg.DataDir)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "wplicense", filepath.Base(cfg.DataDir))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := Default()
		c.ServerURL = "https://license.example.com"
		c.Domain = "example.com"
		return c
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing url", func(c *Config) { c.ServerURL = "" }, "WPLICENSE_SERVER_URL"},
		{"bad scheme", func(c *Config) { c.ServerURL = "ftp://x" }, "http or https"},
		{"no host", func(c *Config) { c.ServerURL = "https://" }, "include a host"},
		{"unknown store", func(c *Config) { c.StoreBackend = "etcd" }, "WPLICENSE_STORE"},
		{"file without dir", func(c *Config) {
			c.StoreBackend = "file"
			c.DataDir = ""
		}, "WPLICENSE_DATA_DIR"},
		{"redis without url", func(c *Config) { c.StoreBackend = "redis" }, "WPLICENSE_REDIS_URL"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "WPLICENSE_TIMEOUT"},
		{"zero ttl", func(c *Config) { c.InventoryTTL = 0 }, "WPLICENSE_INVENTORY_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("WPLICENSE_SERVER_URL", "https://license.example.com")
	t.Setenv("WPLICENSE_DOMAIN", "example.com")

	bad := filepath.Join(dir, "cfg.toml")
	require.NoError(t, os.WriteFile(bad, []byte("x=1"), 0o600))
	_, err := Load(bad)
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("WPLICENSE_TIMEOUT", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "WPLICENSE_TIMEOUT")
}
