package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() {
		Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	Version = "1.2.3"
	BuildTime = "2026-01-01"
	GitCommit = "abcdef"

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "licensectl 1.2.3")
	assert.Contains(t, out, "Built: 2026-01-01")
	assert.Contains(t, out, "Commit: abcdef")

	BuildTime = "unknown"
	GitCommit = "unknown"
	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.NotContains(t, out, "Built:")
	assert.NotContains(t, out, "Commit:")
}

// fakeServer records the actions it receives and answers from a table.
type fakeServer struct {
	mu      sync.Mutex
	replies map[string]string
	seen    []string
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	s.mu.Lock()
	s.seen = append(s.seen, action)
	body, ok := s.replies[action]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = io.WriteString(w, body)
}

func (s *fakeServer) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

func setupEnv(t *testing.T, replies map[string]string) *fakeServer {
	t.Helper()
	fs := &fakeServer{replies: replies}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	root := t.TempDir()
	plugin := filepath.Join(root, "plugins", "acme")
	require.NoError(t, os.MkdirAll(plugin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(plugin, "acme.php"),
		[]byte("<?php\n/*\nPlugin Name: Acme Forms\nVersion: 1.2.0\nLicense Server: yes\n*/\n"), 0o644))

	t.Setenv("WPLICENSE_SERVER_URL", srv.URL)
	t.Setenv("WPLICENSE_DOMAIN", "shop.example.com")
	t.Setenv("WPLICENSE_STORE", "file")
	t.Setenv("WPLICENSE_DATA_DIR", filepath.Join(root, "data"))
	t.Setenv("WPLICENSE_PLUGINS_DIR", filepath.Join(root, "plugins"))
	t.Setenv("WPLICENSE_THEMES_DIR", filepath.Join(root, "themes"))
	t.Setenv("WPLICENSE_LOG_LEVEL", "error")
	t.Setenv("WPLICENSE_CONFIG", "")
	return fs
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestActivateCheckDeactivate(t *testing.T) {
	fs := setupEnv(t, map[string]string{
		"activate":      `{"status":"active","expires":"2027-01-01"}`,
		"check_license": `{"status":"active","expires":"2027-01-01"}`,
		"deactivate":    `{"status":"deactivated"}`,
	})

	out, err := execute(t, "activate", "acme", "--key", "ABC-123")
	require.NoError(t, err)

	var res resultView
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "success", string(res.Status))
	assert.Equal(t, "activate", res.Action)
	require.NotNil(t, res.License)
	assert.Equal(t, "ABC-123", res.License.LicenseKey)
	assert.Equal(t, "2027-01-01", res.License.Expires)

	// The record survived in the file store between invocations.
	out, err = execute(t, "check", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, `"license_key": "ABC-123"`)
	assert.Contains(t, out, `"license_status": "active"`)

	out, err = execute(t, "check", "acme", "--refresh")
	require.NoError(t, err)
	assert.Contains(t, out, `"action": "check_license"`)

	out, err = execute(t, "deactivate", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, `"license_status": "deactivated"`)

	assert.Equal(t, []string{"activate", "check_license", "deactivate"}, fs.actions())
}

func TestActivateFailureExitsWithError(t *testing.T) {
	setupEnv(t, map[string]string{})

	out, err := execute(t, "activate", "acme", "--key", "ABC-123")
	require.Error(t, err)
	assert.Contains(t, out, `"status": "bad_request"`)
	assert.Contains(t, out, `"error_kind": "internal_server_error"`)
}

func TestUnknownProduct(t *testing.T) {
	setupEnv(t, map[string]string{})

	_, err := execute(t, "activate", "nope", "--key", "ABC-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not managed")
}

func TestProductsAndNotices(t *testing.T) {
	setupEnv(t, map[string]string{
		"check_update": `{"status":"active","software_details":{"new_version":"1.3.0","package":"https://x/acme.zip"}}`,
	})

	out, err := execute(t, "products")
	require.NoError(t, err)
	assert.Contains(t, out, `"slug": "acme"`)

	out, err = execute(t, "notices")
	require.NoError(t, err)
	assert.Contains(t, out, "license_inactive")
	assert.NotContains(t, out, "update_available")

	out, err = execute(t, "notices", "--with-updates")
	require.NoError(t, err)
	assert.Contains(t, out, "update_available")
}

func TestInfoCmd(t *testing.T) {
	fs := setupEnv(t, map[string]string{
		"product": `{"status":"ok","product":{"slug":"acme","version":"1.3.0","download_url":"https://dl/acme.zip"}}`,
	})

	out, err := execute(t, "info", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "1.3.0"`)
	assert.Contains(t, out, `"download_url": "https://dl/acme.zip"`)
	assert.Equal(t, []string{"product"}, fs.actions())
}

func TestUpdatesCmd(t *testing.T) {
	setupEnv(t, map[string]string{
		"check_update": `{"status":"active","software_details":{"new_version":"1.3.0","package":"https://x/acme.zip"}}`,
	})

	out, err := execute(t, "updates")
	require.NoError(t, err)

	var body struct {
		Outcomes  map[string]string `json:"outcomes"`
		Transient struct {
			Response map[string]json.RawMessage `json:"response"`
		} `json:"transient"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "update_available", body.Outcomes["acme"])
	assert.Contains(t, body.Transient.Response, "acme/acme.php")
}

func TestConnectRequiresCredentials(t *testing.T) {
	setupEnv(t, map[string]string{"connect": `{"status":"ok"}`})

	_, err := execute(t, "connect", "--email", "a@example.com")
	require.Error(t, err)

	out, err := execute(t, "connect", "--email", "a@example.com", "--api-key", "k", "--api-secret", "s")
	require.NoError(t, err)
	assert.Contains(t, out, "Connected.")

	out, err = execute(t, "disconnect")
	require.NoError(t, err)
	assert.Contains(t, out, "Disconnected.")
}

func TestMissingConfigFails(t *testing.T) {
	t.Setenv("WPLICENSE_SERVER_URL", "")
	t.Setenv("WPLICENSE_CONFIG", "")

	_, err := execute(t, "products")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load configuration")
}

func TestOneShotCommandsRefuseMemoryStore(t *testing.T) {
	fs := setupEnv(t, map[string]string{"activate": `{"status":"active"}`})
	t.Setenv("WPLICENSE_STORE", "memory")

	_, err := execute(t, "activate", "acme", "--key", "ABC-123")
	require.ErrorIs(t, err, errMemoryStore)
	assert.Empty(t, fs.actions())
}
