// Package config loads flowpilot configuration from YAML with defaults and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level flowpilot configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Target     TargetConfig     `yaml:"target"`
	Automation AutomationConfig `yaml:"automation"`
	HTTP       HTTPConfig       `yaml:"http"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BrowserConfig controls Chrome lifecycle and emulation.
type BrowserConfig struct {
	Headless      bool          `yaml:"headless"`
	UserDataDir   string        `yaml:"user_data_dir"`
	DownloadDir   string        `yaml:"download_dir"`
	ExecPath      string        `yaml:"exec_path"`
	UserAgent     string        `yaml:"user_agent"`
	WindowWidth   int           `yaml:"window_width"`
	WindowHeight  int           `yaml:"window_height"`
	Locale        string        `yaml:"locale"`
	Timezone      string        `yaml:"timezone"`
	Latitude      float64       `yaml:"latitude"`
	Longitude     float64       `yaml:"longitude"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// TargetConfig names the pages the session visits.
type TargetConfig struct {
	URL       string `yaml:"url"`
	WarmupURL string `yaml:"warmup_url"`
}

// AutomationConfig holds the timings and phrases of the page workflow.
type AutomationConfig struct {
	GenerationTimeoutMs int           `yaml:"generation_timeout_ms"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	AcceptCount         int           `yaml:"accept_count"`
	ResultSettle        time.Duration `yaml:"result_settle"`

	UploadAttempts int           `yaml:"upload_attempts"`
	UploadInterval time.Duration `yaml:"upload_interval"`
	StepPause      time.Duration `yaml:"step_pause"`
	ControlWait    time.Duration `yaml:"control_wait"`
	CropWait       time.Duration `yaml:"crop_wait"`
	CreateWait     time.Duration `yaml:"create_wait"`
	MenuWait       time.Duration `yaml:"menu_wait"`
	CaptureWait    time.Duration `yaml:"capture_wait"`
	ClearPause     time.Duration `yaml:"clear_pause"`

	DownloadTimeout   time.Duration `yaml:"download_timeout"`
	ReloadSettle      time.Duration `yaml:"reload_settle"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`

	StartupPause       time.Duration `yaml:"startup_pause"`
	WarmupTimeout      time.Duration `yaml:"warmup_timeout"`
	KeyboardNavTimeout time.Duration `yaml:"keyboard_nav_timeout"`
	MinKeyDelay        time.Duration `yaml:"min_key_delay"`
	MaxKeyDelay        time.Duration `yaml:"max_key_delay"`

	AccessDeniedMarkers []string `yaml:"access_denied_markers"`
	TransientPhrases    []string `yaml:"transient_phrases"`
	InlineFailureText   string   `yaml:"inline_failure_text"`
	UnknownErrorText    string   `yaml:"unknown_error_text"`

	// LocatorsFile optionally overrides the embedded locator strategies.
	LocatorsFile string `yaml:"locators_file"`
	QueueSize    int    `yaml:"queue_size"`
}

// GenerationTimeout returns the result wait bound as a duration.
func (a AutomationConfig) GenerationTimeout() time.Duration {
	return time.Duration(a.GenerationTimeoutMs) * time.Millisecond
}

// HTTPConfig controls the API server.
type HTTPConfig struct {
	Addr          string        `yaml:"addr"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Burst         int           `yaml:"burst"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	MaxUploadMB   int           `yaml:"max_upload_mb"`
}

// MongoConfig enables the history store.
type MongoConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// LoggingConfig maps onto logging.Config.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Dir     string `yaml:"dir"`
	Console bool   `yaml:"console"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file, applies defaults and then
// environment overrides. An empty path loads defaults only.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.Browser
	if b.UserDataDir == "" {
		b.UserDataDir = "./user_data"
	}
	if b.DownloadDir == "" {
		b.DownloadDir = "./downloads"
	}
	if b.WindowWidth <= 0 {
		b.WindowWidth = 1280
	}
	if b.WindowHeight <= 0 {
		b.WindowHeight = 800
	}
	if b.Locale == "" {
		b.Locale = "en-US"
	}
	if b.Timezone == "" {
		b.Timezone = "America/New_York"
	}
	if b.Latitude == 0 && b.Longitude == 0 {
		b.Latitude, b.Longitude = 40.7128, -74.0060
	}
	if b.ActionTimeout <= 0 {
		b.ActionTimeout = 10 * time.Second
	}

	if c.Target.URL == "" {
		c.Target.URL = "https://labs.google/fx/tools/flow/project/feaf1427-a157-4a61-be71-62b4677ec225"
	}
	if c.Target.WarmupURL == "" {
		c.Target.WarmupURL = "https://www.google.com/"
	}

	a := &c.Automation
	if a.GenerationTimeoutMs <= 0 {
		a.GenerationTimeoutMs = 120000
	}
	if a.PollInterval <= 0 {
		a.PollInterval = time.Second
	}
	if a.AcceptCount <= 0 {
		a.AcceptCount = 2
	}
	if a.ResultSettle <= 0 {
		a.ResultSettle = 2 * time.Second
	}
	if a.UploadAttempts <= 0 {
		a.UploadAttempts = 60
	}
	if a.UploadInterval <= 0 {
		a.UploadInterval = time.Second
	}
	if a.StepPause <= 0 {
		a.StepPause = time.Second
	}
	if a.ControlWait <= 0 {
		a.ControlWait = 5 * time.Second
	}
	if a.CropWait <= 0 {
		a.CropWait = 10 * time.Second
	}
	if a.CreateWait <= 0 {
		a.CreateWait = 5 * time.Second
	}
	if a.MenuWait <= 0 {
		a.MenuWait = 3 * time.Second
	}
	if a.CaptureWait <= 0 {
		a.CaptureWait = 5 * time.Second
	}
	if a.ClearPause <= 0 {
		a.ClearPause = 300 * time.Millisecond
	}
	if a.DownloadTimeout <= 0 {
		a.DownloadTimeout = 120 * time.Second
	}
	if a.ReloadSettle <= 0 {
		a.ReloadSettle = 2 * time.Second
	}
	if a.NavigationTimeout <= 0 {
		a.NavigationTimeout = 30 * time.Second
	}
	if a.StartupPause <= 0 {
		a.StartupPause = 1500 * time.Millisecond
	}
	if a.WarmupTimeout <= 0 {
		a.WarmupTimeout = 15 * time.Second
	}
	if a.KeyboardNavTimeout <= 0 {
		a.KeyboardNavTimeout = 30 * time.Second
	}
	if a.MinKeyDelay <= 0 {
		a.MinKeyDelay = 20 * time.Millisecond
	}
	if a.MaxKeyDelay <= 0 {
		a.MaxKeyDelay = 50 * time.Millisecond
	}
	if len(a.AccessDeniedMarkers) == 0 {
		a.AccessDeniedMarkers = []string{"403 Forbidden", "Access Denied"}
	}
	if len(a.TransientPhrases) == 0 {
		a.TransientPhrases = []string{"Something went wrong"}
	}
	if a.InlineFailureText == "" {
		a.InlineFailureText = "Something went wrong."
	}
	if a.UnknownErrorText == "" {
		a.UnknownErrorText = "Unknown error from website"
	}
	if a.QueueSize <= 0 {
		a.QueueSize = 16
	}

	h := &c.HTTP
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	if h.RatePerMinute <= 0 {
		h.RatePerMinute = 30
	}
	if h.Burst <= 0 {
		h.Burst = 5
	}
	if h.ReadTimeout <= 0 {
		h.ReadTimeout = 30 * time.Second
	}
	if h.MaxUploadMB <= 0 {
		h.MaxUploadMB = 20
	}

	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://localhost:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "flowpilot"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// applyEnv overlays environment variables. The unprefixed names match the
// deployment environment of the bot that drives the engine.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("HEADLESS"); ok {
		c.Browser.Headless = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookup("USER_DATA_DIR"); ok && v != "" {
		c.Browser.UserDataDir = v
	}
	if v, ok := lookup("TIMEOUT_MS"); ok && v != "" {
		ms, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid TIMEOUT_MS %q: %w", v, err)
		}
		c.Automation.GenerationTimeoutMs = ms
	}
	if v, ok := lookup("FLOWPILOT_TARGET_URL"); ok && v != "" {
		c.Target.URL = v
	}
	if v, ok := lookup("FLOWPILOT_HTTP_ADDR"); ok && v != "" {
		c.HTTP.Addr = v
	}
	if v, ok := lookup("FLOWPILOT_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("MONGO_URI"); ok && v != "" {
		c.Mongo.URI = v
		c.Mongo.Enabled = true
	}
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Target.URL) == "" {
		errs = append(errs, errors.New("target.url is required"))
	}
	if c.Automation.GenerationTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("automation.generation_timeout_ms must be positive, got %d", c.Automation.GenerationTimeoutMs))
	}
	if c.Automation.AcceptCount < 1 {
		errs = append(errs, fmt.Errorf("automation.accept_count must be at least 1, got %d", c.Automation.AcceptCount))
	}
	if c.Automation.MaxKeyDelay < c.Automation.MinKeyDelay {
		errs = append(errs, errors.New("automation.max_key_delay must not be below min_key_delay"))
	}
	if c.Automation.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("automation.download_timeout must be positive"))
	}
	if c.Mongo.Enabled && c.Mongo.URI == "" {
		errs = append(errs, errors.New("mongo.uri is required when mongo is enabled"))
	}
	return errors.Join(errs...)
}
