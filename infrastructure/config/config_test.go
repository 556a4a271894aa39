package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "./user_data", cfg.Browser.UserDataDir)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 120000, cfg.Automation.GenerationTimeoutMs)
	assert.Equal(t, 2*time.Minute, cfg.Automation.GenerationTimeout())
	assert.Equal(t, 2, cfg.Automation.AcceptCount)
	assert.Equal(t, 60, cfg.Automation.UploadAttempts)
	assert.Equal(t, 10*time.Second, cfg.Automation.CropWait)
	assert.Equal(t, 3*time.Second, cfg.Automation.MenuWait)
	assert.Equal(t, 120*time.Second, cfg.Automation.DownloadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Automation.NavigationTimeout)
	assert.Equal(t, []string{"403 Forbidden", "Access Denied"}, cfg.Automation.AccessDeniedMarkers)
	assert.Equal(t, "Something went wrong.", cfg.Automation.InlineFailureText)
	assert.Contains(t, cfg.Target.URL, "labs.google/fx/tools/flow")
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_YAMLWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
browser:
  headless: true
  user_data_dir: /var/lib/flowpilot/profile
automation:
  accept_count: 1
  poll_interval: 500ms
  transient_phrases: ["Something went wrong", "Try again"]
http:
  addr: 127.0.0.1:9000
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "/var/lib/flowpilot/profile", cfg.Browser.UserDataDir)
	assert.Equal(t, 1, cfg.Automation.AcceptCount)
	assert.Equal(t, 500*time.Millisecond, cfg.Automation.PollInterval)
	assert.Len(t, cfg.Automation.TransientPhrases, 2)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	// untouched sections still get defaults
	assert.Equal(t, 60, cfg.Automation.UploadAttempts)
	assert.Equal(t, "flowpilot", cfg.Mongo.Database)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"HEADLESS":             "True",
		"USER_DATA_DIR":        "/tmp/profile",
		"TIMEOUT_MS":           "90000",
		"FLOWPILOT_TARGET_URL": "https://example.test/flow",
		"MONGO_URI":            "mongodb://db:27017",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "/tmp/profile", cfg.Browser.UserDataDir)
	assert.Equal(t, 90000, cfg.Automation.GenerationTimeoutMs)
	assert.Equal(t, "https://example.test/flow", cfg.Target.URL)
	assert.True(t, cfg.Mongo.Enabled)
	assert.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
}

func TestApplyEnv_HeadlessOnlyTrueEnables(t *testing.T) {
	cfg := Default()
	cfg.Browser.Headless = true
	require.NoError(t, cfg.applyEnv(envMap(map[string]string{"HEADLESS": "yes"})))
	assert.False(t, cfg.Browser.Headless)
}

func TestApplyEnv_BadTimeout(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{"TIMEOUT_MS": "soon"}))
	assert.ErrorContains(t, err, "TIMEOUT_MS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"empty target", func(c *Config) { c.Target.URL = " " }, "target.url"},
		{"zero timeout", func(c *Config) { c.Automation.GenerationTimeoutMs = 0 }, "generation_timeout_ms"},
		{"accept count", func(c *Config) { c.Automation.AcceptCount = 0 }, "accept_count"},
		{"key delays", func(c *Config) { c.Automation.MaxKeyDelay = time.Millisecond }, "max_key_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestDriverConfig(t *testing.T) {
	cfg := Default()
	cfg.Browser.Headless = true
	cfg.Automation.NavigationTimeout = 45 * time.Second

	d := cfg.DriverConfig()

	assert.True(t, d.Headless)
	assert.Equal(t, 1280, d.ViewportWidth)
	assert.Equal(t, "https://labs.google", d.PermissionOrigin)
	assert.InDelta(t, 40.7128, d.Geolocation.Latitude, 0.0001)
	assert.Equal(t, cfg.Browser.DownloadDir, d.DownloadDir)
	assert.Equal(t, 45*time.Second, d.NavigationTimeout)
}

func TestLoggingConfig(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "bogus"
	_, err := cfg.LoggingConfig()
	assert.Error(t, err)

	cfg.Logging.Level = "debug"
	lc, err := cfg.LoggingConfig()
	require.NoError(t, err)
	assert.Equal(t, "text", lc.Format)
}
