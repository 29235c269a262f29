// Package browser provides the chromedp session used to render profile pages,
// with anti-bot-detection measures shared by every browser instance.
package browser

import (
	"fmt"

	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is a realistic Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Settings controls how Chrome is launched.
type Settings struct {
	Headless  bool
	Proxy     string
	Lang      string
	UserAgent string
	// NoSandbox is needed when running as root in containers.
	NoSandbox bool
}

// Options returns chromedp allocator options with anti-bot-detection measures.
// All browser instances should use this to ensure consistent stealth configuration.
func Options(s Settings) []chromedp.ExecAllocatorOption {
	ua := s.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.Headless),

		// Prevent navigator.webdriver = true detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.UserAgent(ua),
		chromedp.WindowSize(1920, 1080),

		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	if s.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}
	if s.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-dev-shm-usage", true))
	}
	if s.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(s.Proxy))
	}
	if s.Lang != "" {
		opts = append(opts, chromedp.Flag("lang", s.Lang))
	}

	return opts
}

// AcceptLanguage builds the Accept-Language header for a language tag such
// as "es-MX".
func AcceptLanguage(lang string) string {
	if lang == "" {
		return ""
	}
	base := lang
	for i, r := range lang {
		if r == '-' || r == '_' {
			base = lang[:i]
			break
		}
	}
	if base == lang {
		return lang
	}
	return fmt.Sprintf("%s,%s;q=0.9", lang, base)
}
