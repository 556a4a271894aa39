package browser

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"flowpilot-go/domain/locator"
)

func TestDefaultDriverConfig(t *testing.T) {
	config := DefaultDriverConfig()

	if config == nil {
		t.Fatal("DefaultDriverConfig returned nil")
	}

	if config.Headless {
		t.Errorf("Headless = %v, want false", config.Headless)
	}

	if config.WindowWidth != 1280 || config.WindowHeight != 800 {
		t.Errorf("window = %dx%d, want 1280x800", config.WindowWidth, config.WindowHeight)
	}

	if config.ViewportWidth != 1280 || config.ViewportHeight != 800 {
		t.Errorf("viewport = %dx%d, want 1280x800", config.ViewportWidth, config.ViewportHeight)
	}

	if config.Locale != "en-US" {
		t.Errorf("Locale = %q, want en-US", config.Locale)
	}

	if config.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q, want America/New_York", config.Timezone)
	}

	if config.UserDataDir != "./user_data" {
		t.Errorf("UserDataDir = %q, want ./user_data", config.UserDataDir)
	}

	if config.NavigationTimeout != 30*time.Second {
		t.Errorf("NavigationTimeout = %v, want 30s", config.NavigationTimeout)
	}

	if !strings.Contains(config.UserAgent, "Chrome/120") {
		t.Errorf("UserAgent = %q, want a Chrome 120 agent", config.UserAgent)
	}
}

func TestNewChromeDPDriver(t *testing.T) {
	t.Run("with nil config", func(t *testing.T) {
		driver := NewChromeDPDriver(nil)
		if driver == nil {
			t.Fatal("NewChromeDPDriver returned nil")
		}
		if driver.config == nil {
			t.Fatal("driver.config is nil")
		}
	})

	t.Run("with custom config", func(t *testing.T) {
		config := &DriverConfig{
			Headless:    true,
			WindowWidth: 1920,
		}
		driver := NewChromeDPDriver(config)
		if !driver.config.Headless || driver.config.WindowWidth != 1920 {
			t.Error("Custom config not applied")
		}
	})
}

func TestChromeDPDriver_IsRunning_NotStarted(t *testing.T) {
	driver := NewChromeDPDriver(nil)

	if driver.IsRunning() {
		t.Error("IsRunning() should return false before Start()")
	}
}

func TestChromeDPDriver_Stop_NotStarted(t *testing.T) {
	driver := NewChromeDPDriver(nil)

	if err := driver.Stop(); err != nil {
		t.Errorf("Stop() returned error: %v", err)
	}
}

func TestChromeDPDriver_OperationsBeforeStart(t *testing.T) {
	driver := NewChromeDPDriver(nil)
	ctx := context.Background()

	ops := map[string]func() error{
		"Navigate": func() error { return driver.Navigate(ctx, "https://example.com", "") },
		"Reload":   func() error { return driver.Reload(ctx) },
		"Click":    func() error { return driver.Click(ctx, "1") },
		"Fill":     func() error { return driver.Fill(ctx, "1", "x") },
		"Query": func() error {
			_, err := driver.Query(ctx, locator.Query{CSS: "div"})
			return err
		},
		"Content": func() error {
			_, err := driver.Content(ctx)
			return err
		},
		"CaptureElement": func() error {
			_, err := driver.CaptureElement(ctx, "1")
			return err
		},
		"ClickAndDownload": func() error {
			_, err := driver.ClickAndDownload(ctx, "1", time.Second)
			return err
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !errors.Is(err, ErrNotRunning) {
				t.Errorf("%s() error = %v, want ErrNotRunning", name, err)
			}
		})
	}
}

func TestChromeDPDriver_CancelledContext(t *testing.T) {
	driver := NewChromeDPDriver(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := driver.Click(ctx, "1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Click() error = %v, want context.Canceled", err)
	}
}

func TestWithOptionalTimeout(t *testing.T) {
	t.Run("zero means no bound", func(t *testing.T) {
		ctx, cancel := withOptionalTimeout(context.Background(), 0)
		defer cancel()
		if _, ok := ctx.Deadline(); ok {
			t.Error("zero timeout set a deadline")
		}
		if ctx.Err() != nil {
			t.Errorf("context done immediately: %v", ctx.Err())
		}
	})

	t.Run("positive sets a deadline", func(t *testing.T) {
		ctx, cancel := withOptionalTimeout(context.Background(), time.Minute)
		defer cancel()
		deadline, ok := ctx.Deadline()
		if !ok || time.Until(deadline) > time.Minute {
			t.Errorf("deadline = %v, %v; want within a minute", deadline, ok)
		}
	})
}

func TestChromeDPDriver_NavigationRespectsCallerDeadline(t *testing.T) {
	driver := NewChromeDPDriver(&DriverConfig{NavigationTimeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	if err := driver.Reload(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Reload() error = %v, want DeadlineExceeded", err)
	}
}

func TestRefSelector(t *testing.T) {
	if got := RefSelector("42"); got != `[data-flowpilot-ref="42"]` {
		t.Errorf("RefSelector() = %s", got)
	}
}

func TestPlatformOf(t *testing.T) {
	tests := []struct {
		ua       string
		platform string
		hint     string
	}{
		{"Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0.0.0", "Linux x86_64", "Linux"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0", "Win32", "Windows"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/120.0.0.0", "MacIntel", "macOS"},
	}

	for _, tt := range tests {
		p, h := platformOf(tt.ua)
		if p != tt.platform || h != tt.hint {
			t.Errorf("platformOf(%q) = %q, %q; want %q, %q", tt.ua, p, h, tt.platform, tt.hint)
		}
	}
}

func TestChromeMajor(t *testing.T) {
	if got := chromeMajor(DefaultUserAgent()); got != "120" {
		t.Errorf("chromeMajor() = %q, want 120", got)
	}
	if got := chromeMajor("curl/8.0"); got != "120" {
		t.Errorf("chromeMajor() fallback = %q, want 120", got)
	}
}

func TestStealthAllocatorOptions(t *testing.T) {
	cfg := DefaultDriverConfig()
	cfg.ExecPath = "/usr/bin/chromium"

	opts := stealthAllocatorOptions(cfg)
	// defaults + flags + headless + window/ua/lang + profile + exec path
	want := len(launchFlags) + 6
	if len(opts) < want {
		t.Errorf("got %d options, want at least %d", len(opts), want)
	}
}

func TestLaunchFlags_HideAutomation(t *testing.T) {
	if launchFlags["enable-automation"] != false {
		t.Error("enable-automation must be disabled")
	}
	if launchFlags["disable-blink-features"] != "AutomationControlled" {
		t.Error("AutomationControlled blink feature must be disabled")
	}
}

func TestQueryExpression(t *testing.T) {
	q := locator.Query{
		Target:       locator.TargetResultImage,
		CSS:          `img[alt*="Flow Image"]`,
		AttrContains: map[string]string{"alt": `say "hi"`},
		Pick:         locator.PickLast,
	}

	expr, err := queryExpression(q, "7", 2)
	if err != nil {
		t.Fatalf("queryExpression() error = %v", err)
	}

	encoded, _ := json.Marshal(q)
	if !strings.Contains(expr, string(encoded)) {
		t.Error("expression does not embed the encoded query")
	}
	if !strings.HasSuffix(expr, `, "7", 2)`) {
		t.Errorf("expression does not end with scope arguments: %s", expr[len(expr)-20:])
	}
}

func TestQueryJSONMatchesEngineFields(t *testing.T) {
	q := locator.Query{
		CSS:          "button",
		HasText:      "a",
		ExactText:    "b",
		Has:          &locator.Child{CSS: "i", Text: "add"},
		HasNot:       &locator.Child{CSS: "i", Text: "close"},
		AttrContains: map[string]string{"alt": "x"},
		VisibleOnly:  true,
		Pick:         locator.PickFirst,
	}
	data, err := json.Marshal(q)
	if err != nil {
		t.Fatal(err)
	}

	for _, field := range []string{"css", "hasText", "exactText", "has", "hasNot", "attrContains", "visibleOnly", "pick"} {
		if !strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("encoded query lacks %q", field)
		}
		if !strings.Contains(queryEngine, "q."+field) {
			t.Errorf("query engine never reads q.%s", field)
		}
	}
}

func TestFillExpression_EscapesText(t *testing.T) {
	expr := fillExpression("3", "line one\n\"quoted\"")
	if !strings.Contains(expr, `"line one\n\"quoted\""`) {
		t.Errorf("text not JSON-escaped: %s", expr)
	}
}
