// Package auth keeps browser session cookies per site, so profile pages that
// require a logged-in session can be loaded headless.
package auth

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
)

// Site describes how to log in to a site and which cookies prove it.
type Site struct {
	Name     string
	LoginURL string
	// Domains are the cookie domains kept for the site.
	Domains []string
	// Required cookies must all be present for a session to count.
	Required []string
}

var sites = map[string]Site{
	"x": {
		Name:     "x",
		LoginURL: "https://x.com/login",
		Domains:  []string{"x.com", "twitter.com"},
		Required: []string{"auth_token", "ct0"},
	},
	"facebook": {
		Name:     "facebook",
		LoginURL: "https://www.facebook.com/login",
		Domains:  []string{"facebook.com"},
		Required: []string{"c_user", "xs"},
	},
}

// SiteFor returns the login description of a site.
func SiteFor(name string) (Site, error) {
	s, ok := sites[strings.ToLower(name)]
	if !ok {
		return Site{}, fmt.Errorf("no login flow for site %q", name)
	}
	return s, nil
}

// Sites lists the sites with a login flow, sorted.
func Sites() []Site {
	out := make([]Site, 0, len(sites))
	for _, name := range slices.Sorted(maps.Keys(sites)) {
		out = append(out, sites[name])
	}
	return out
}

// Matches reports whether a cookie belongs to the site.
func (s Site) Matches(c *network.Cookie) bool {
	d := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
	for _, want := range s.Domains {
		if d == want || strings.HasSuffix(d, "."+want) {
			return true
		}
	}
	return false
}

// CookieStore handles storage of session cookies, one file per site
type CookieStore struct {
	dir string
	now func() time.Time
}

// StoredCookies represents the persisted cookie data
type StoredCookies struct {
	Site       string            `json:"site"`
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// NewCookieStore creates a cookie store in dir
func NewCookieStore(dir string) *CookieStore {
	return &CookieStore{dir: dir, now: time.Now}
}

func (cs *CookieStore) path(site string) string {
	return filepath.Join(cs.dir, site+"-cookies.json")
}

// Save persists the site's cookies to disk
func (cs *CookieStore) Save(site Site, cookies []*network.Cookie) error {
	if err := os.MkdirAll(cs.dir, 0700); err != nil {
		return err
	}

	stored := StoredCookies{Site: site.Name, CapturedAt: cs.now()}
	for _, c := range cookies {
		if !site.Matches(c) {
			continue
		}
		stored.Cookies = append(stored.Cookies, c)

		// The session ends with the earliest-expiring required cookie.
		if c.Expires > 0 && slices.Contains(site.Required, c.Name) {
			exp := time.Unix(int64(c.Expires), 0)
			if stored.ExpiresAt.IsZero() || exp.Before(stored.ExpiresAt) {
				stored.ExpiresAt = exp
			}
		}
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(cs.path(site.Name), data, 0600)
}

// Load retrieves a site's cookies from disk
func (cs *CookieStore) Load(site Site) (*StoredCookies, error) {
	data, err := os.ReadFile(cs.path(site.Name))
	if err != nil {
		return nil, err
	}

	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse stored cookies: %w", err)
	}

	return &stored, nil
}

// IsValid checks if the stored session is complete and not expired
func (cs *CookieStore) IsValid(site Site) bool {
	stored, err := cs.Load(site)
	if err != nil {
		return false
	}
	if !stored.ExpiresAt.IsZero() && cs.now().After(stored.ExpiresAt) {
		return false
	}
	return hasRequired(site, stored.Cookies)
}

// Clear removes stored cookies
func (cs *CookieStore) Clear(site Site) error {
	err := os.Remove(cs.path(site.Name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Cookies returns the stored cookies of a valid session, or nil when there
// is none.
func (cs *CookieStore) Cookies(site Site) ([]*network.Cookie, error) {
	if !cs.IsValid(site) {
		return nil, nil
	}
	stored, err := cs.Load(site)
	if err != nil {
		return nil, err
	}
	return stored.Cookies, nil
}

func hasRequired(site Site, cookies []*network.Cookie) bool {
	for _, name := range site.Required {
		found := false
		for _, c := range cookies {
			if c.Name == name && c.Value != "" {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
