package browser

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
)

// launchFlags hide automation markers and trim background activity.
var launchFlags = map[string]interface{}{
	"enable-automation":                      false,
	"disable-blink-features":                 "AutomationControlled",
	"no-sandbox":                             true,
	"disable-infobars":                       true,
	"disable-features":                       "IsolateOrigins,site-per-process",
	"enable-features":                        "NetworkService,NetworkServiceInProcess",
	"disable-dev-shm-usage":                  true,
	"disable-background-networking":          true,
	"disable-default-apps":                   true,
	"disable-extensions":                     true,
	"disable-sync":                           true,
	"disable-translate":                      true,
	"hide-scrollbars":                        true,
	"metrics-recording-only":                 true,
	"mute-audio":                             true,
	"no-first-run":                           true,
	"safebrowsing-disable-auto-update":       true,
	"disable-backgrounding-occluded-windows": true,
	"disable-renderer-backgrounding":         true,
	"disable-background-timer-throttling":    true,
	"disable-ipc-flooding-protection":        true,
}

// stealthAllocatorOptions builds the exec allocator options for a stealth session.
func stealthAllocatorOptions(cfg *DriverConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags {
		opts = append(opts, chromedp.Flag(name, value))
	}

	// chromedp defaults to headless; a visible window must override it explicitly.
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	opts = append(opts,
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.Flag("lang", cfg.Locale),
	)
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// platformOf maps a user agent to navigator.platform and the client hints platform.
func platformOf(userAgent string) (jsPlatform, hintPlatform string) {
	switch {
	case strings.Contains(userAgent, "Macintosh"):
		return "MacIntel", "macOS"
	case strings.Contains(userAgent, "Linux"):
		return "Linux x86_64", "Linux"
	default:
		return "Win32", "Windows"
	}
}

func chromeMajor(userAgent string) string {
	idx := strings.Index(userAgent, "Chrome/")
	if idx == -1 {
		return "120"
	}
	ver := userAgent[idx+len("Chrome/"):]
	if dot := strings.Index(ver, "."); dot != -1 {
		return ver[:dot]
	}
	return ver
}

// applyStealth installs the user agent override and the evasion scripts. It must
// run before the first navigation.
func applyStealth(ctx context.Context, cfg *DriverConfig) error {
	jsPlatform, hintPlatform := platformOf(cfg.UserAgent)
	major := chromeMajor(cfg.UserAgent)

	err := emulation.SetUserAgentOverride(cfg.UserAgent).
		WithPlatform(jsPlatform).
		WithAcceptLanguage(cfg.Locale + ",en;q=0.9").
		WithUserAgentMetadata(&emulation.UserAgentMetadata{
			Brands: []*emulation.UserAgentBrandVersion{
				{Brand: "Chromium", Version: major},
				{Brand: "Google Chrome", Version: major},
				{Brand: "Not_A Brand", Version: "8"},
			},
			Platform:     hintPlatform,
			Architecture: "x86",
			Mobile:       false,
		}).
		Do(ctx)
	if err != nil {
		return err
	}

	for _, script := range []string{stealth.JS, overridesScript} {
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			return err
		}
	}
	return nil
}

// overridesScript pins the properties the target site is known to probe, on top of
// the generic evasion bundle.
const overridesScript = `(() => {
  try {
    Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  } catch (e) {}

  try {
    const plugins = [
      { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
      { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
      { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
    ];
    Object.defineProperty(navigator, 'plugins', { get: () => plugins });
  } catch (e) {}

  try {
    Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
  } catch (e) {}

  if (!window.chrome) {
    window.chrome = {};
  }
  window.chrome.runtime = window.chrome.runtime || {};
  window.chrome.loadTimes = window.chrome.loadTimes || function () {};
  window.chrome.csi = window.chrome.csi || function () {};

  if (window.navigator.permissions && window.navigator.permissions.query) {
    const originalQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
    window.navigator.permissions.query = (parameters) =>
      parameters && parameters.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission })
        : originalQuery(parameters);
  }

  const patchWebGL = (proto) => {
    if (!proto) return;
    const getParameter = proto.getParameter;
    proto.getParameter = function (parameter) {
      if (parameter === 37445) return 'Google Inc. (NVIDIA)';
      if (parameter === 37446) return 'ANGLE (NVIDIA, NVIDIA GeForce GTX 1060 6GB Direct3D11 vs_5_0 ps_5_0, D3D11)';
      return getParameter.call(this, parameter);
    };
  };
  patchWebGL(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
  patchWebGL(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);
})();`
