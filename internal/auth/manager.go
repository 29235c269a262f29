package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/postpulse/internal/browser"
)

// loginTimeout is how long the user gets to finish logging in.
const loginTimeout = 5 * time.Minute

// Manager runs the interactive login flow and hands out stored sessions.
type Manager struct {
	cookieStore *CookieStore
	settings    browser.Settings
	log         zerolog.Logger
}

// NewManager creates a new auth manager. settings are used for the visible
// login browser; Headless is ignored.
func NewManager(cookieStore *CookieStore, settings browser.Settings, logger zerolog.Logger) *Manager {
	settings.Headless = false
	return &Manager{
		cookieStore: cookieStore,
		settings:    settings,
		log:         logger.With().Str("component", "auth").Logger(),
	}
}

// IsAuthenticated checks if we have a valid stored session for site.
func (m *Manager) IsAuthenticated(site Site) bool {
	return m.cookieStore.IsValid(site)
}

// Login opens a browser window for the user to log in and saves the
// session cookies once the required ones appear.
func (m *Manager) Login(ctx context.Context, site Site) error {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, browser.Options(m.settings)...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(site.LoginURL)); err != nil {
		return fmt.Errorf("failed to navigate to login page: %w", err)
	}
	m.log.Info().Str("site", site.Name).Msg("waiting for login in the browser window")

	cookies, err := m.waitForLogin(browserCtx, site)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := m.cookieStore.Save(site, cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	m.log.Info().Str("site", site.Name).Msg("login successful, cookies saved")
	return nil
}

// waitForLogin polls until the site's session cookies are set.
func (m *Manager) waitForLogin(ctx context.Context, site Site) ([]*network.Cookie, error) {
	timeout := time.After(loginTimeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return nil, fmt.Errorf("login timeout exceeded")
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			cookies, err := extractCookies(ctx)
			if err != nil {
				continue
			}
			if hasRequired(site, cookies) {
				return cookies, nil
			}
		}
	}
}

// extractCookies gets all cookies from the browser
func extractCookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)

	return cookies, err
}

// Logout clears the stored session of site.
func (m *Manager) Logout(site Site) error {
	return m.cookieStore.Clear(site)
}

// Cookies returns the stored session cookies for site, or nil when there is
// no valid session.
func (m *Manager) Cookies(site Site) ([]*network.Cookie, error) {
	return m.cookieStore.Cookies(site)
}
