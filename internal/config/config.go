package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ibeckermayer/postpulse/internal/normalize"
	"github.com/ibeckermayer/postpulse/internal/types"
)

const appName = "postpulse"

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version" yaml:"version"`
	Accounts   []AccountConfig  `toml:"accounts" yaml:"accounts"`
	Scraping   ScrapingConfig   `toml:"scraping" yaml:"scraping"`
	Extraction ExtractionConfig `toml:"extraction" yaml:"extraction"`
	Output     OutputConfig     `toml:"output" yaml:"output"`
	Log        LogConfig        `toml:"log" yaml:"log"`
	Schedule   ScheduleConfig   `toml:"schedule" yaml:"schedule"`
	Auth       AuthConfig       `toml:"auth" yaml:"auth"`
	Report     ReportConfig     `toml:"report" yaml:"report"`
}

type AccountConfig struct {
	Name string `toml:"name" yaml:"name"`
	URL  string `toml:"url" yaml:"url"`
	// Site is "x" or "facebook"; empty detects it from the URL.
	Site     string   `toml:"site,omitempty" yaml:"site,omitempty"`
	Keywords []string `toml:"keywords,omitempty" yaml:"keywords,omitempty"`
}

type ScrapingConfig struct {
	ScrollCount        int      `toml:"scroll_count" yaml:"scroll_count"`
	ScrollPause        Duration `toml:"scroll_pause" yaml:"scroll_pause"`
	InitialLoad        Duration `toml:"initial_load" yaml:"initial_load"`
	PageTimeout        Duration `toml:"page_timeout" yaml:"page_timeout"`
	BetweenAccountsMin Duration `toml:"between_accounts_min" yaml:"between_accounts_min"`
	BetweenAccountsMax Duration `toml:"between_accounts_max" yaml:"between_accounts_max"`
	MaxPosts           int      `toml:"max_posts" yaml:"max_posts"`
	MaxAttempts        int      `toml:"max_attempts" yaml:"max_attempts"`
	RetryDelay         Duration `toml:"retry_delay" yaml:"retry_delay"`
	Headless           bool     `toml:"headless" yaml:"headless"`
	NoSandbox          bool     `toml:"no_sandbox" yaml:"no_sandbox"`
	Proxy              string   `toml:"proxy" yaml:"proxy"`
	Lang               string   `toml:"lang" yaml:"lang"`
	UserAgent          string   `toml:"user_agent" yaml:"user_agent"`
}

type ExtractionConfig struct {
	Locale        string `toml:"locale" yaml:"locale"`
	Strict        bool   `toml:"strict" yaml:"strict"`
	MaxTextLength int    `toml:"max_text_length" yaml:"max_text_length"`
	MinTextLength int    `toml:"min_text_length" yaml:"min_text_length"`
}

type OutputConfig struct {
	Path   string `toml:"path" yaml:"path"`
	Format string `toml:"format" yaml:"format"`
	// SnapshotDir, when set, keeps each page's container markup for replay.
	SnapshotDir string `toml:"snapshot_dir" yaml:"snapshot_dir"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

type ScheduleConfig struct {
	Cron     string `toml:"cron" yaml:"cron"`
	Timezone string `toml:"timezone" yaml:"timezone"`
}

type AuthConfig struct {
	// UseCookies injects cookies saved by `postpulse login` before loading
	// pages of that site.
	UseCookies bool `toml:"use_cookies" yaml:"use_cookies"`
}

// ReportConfig controls the summary written after each run.
type ReportConfig struct {
	// Path of the HTML report; empty disables it.
	Path     string      `toml:"path" yaml:"path"`
	TopPosts int         `toml:"top_posts" yaml:"top_posts"`
	Email    EmailConfig `toml:"email" yaml:"email"`
}

// EmailConfig mails the report when To is set.
type EmailConfig struct {
	Provider string `toml:"provider" yaml:"provider"`
	SMTPHost string `toml:"smtp_host" yaml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port" yaml:"smtp_port"`
	SMTPUser string `toml:"smtp_user" yaml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass" yaml:"smtp_pass"`
	From     string `toml:"from" yaml:"from"`
	To       string `toml:"to" yaml:"to"`
}

// Duration is a time.Duration written as "5s" in config files.
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration.
func D(d time.Duration) Duration {
	return Duration{d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Accounts: []AccountConfig{
			{Name: "BeatlesEarth", URL: "https://x.com/BeatlesEarth"},
			{Name: "cervezaindio", URL: "https://x.com/cervezaindio"},
			{Name: "Hasbro", URL: "https://x.com/Hasbro"},
		},
		Scraping: ScrapingConfig{
			ScrollCount:        5,
			ScrollPause:        D(3 * time.Second),
			InitialLoad:        D(5 * time.Second),
			PageTimeout:        D(20 * time.Second),
			BetweenAccountsMin: D(5 * time.Second),
			BetweenAccountsMax: D(8 * time.Second),
			MaxPosts:           20,
			MaxAttempts:        3,
			RetryDelay:         D(time.Second),
			Headless:           true,
		},
		Extraction: ExtractionConfig{
			Locale:        string(normalize.LocaleEnglish),
			MaxTextLength: 280,
			MinTextLength: 5,
		},
		Output: OutputConfig{
			Path:   "engagement.csv",
			Format: "csv",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Schedule: ScheduleConfig{
			Cron:     "0 */6 * * *",
			Timezone: "Local",
		},
		Report: ReportConfig{
			TopPosts: 10,
			Email: EmailConfig{
				Provider: "smtp",
				SMTPPort: 587,
			},
		},
	}
}

// Targets converts the configured accounts.
func (c *Config) Targets() []types.Target {
	out := make([]types.Target, len(c.Accounts))
	for i, a := range c.Accounts {
		name := a.Name
		if name == "" {
			name = a.URL
		}
		out[i] = types.Target{Name: name, URL: a.URL, Site: a.Site, Keywords: a.Keywords}
	}
	return out
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Accounts) == 0 {
		errs = append(errs, errors.New("no accounts configured"))
	}
	for i, a := range c.Accounts {
		if strings.TrimSpace(a.URL) == "" {
			errs = append(errs, fmt.Errorf("accounts[%d]: url is required", i))
		}
	}
	s := c.Scraping
	if s.ScrollCount < 0 || s.MaxPosts < 0 || s.MaxAttempts < 0 {
		errs = append(errs, errors.New("scraping: counts must not be negative"))
	}
	if s.BetweenAccountsMax.Duration < s.BetweenAccountsMin.Duration {
		errs = append(errs, errors.New("scraping: between_accounts_max is below between_accounts_min"))
	}
	if _, err := normalize.ParseLocale(c.Extraction.Locale); err != nil {
		errs = append(errs, fmt.Errorf("extraction: %w", err))
	}
	switch strings.ToLower(c.Output.Format) {
	case "", "csv", "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("output: unknown format %q", c.Output.Format))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	if e := c.Report.Email; e.To != "" && e.SMTPHost == "" {
		errs = append(errs, errors.New("report.email: smtp_host is required when to is set"))
	}
	return errors.Join(errs...)
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the platform-appropriate cache directory
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// Load reads config from the default path
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads a TOML or YAML file, chosen by extension. Keys missing from
// the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	// Accounts in the file replace the defaults rather than merging into them.
	cfg.Accounts = nil

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Save writes config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes config to path as TOML, or YAML for .yaml/.yml paths.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return err
		}
		return enc.Close()
	default:
		return toml.NewEncoder(f).Encode(c)
	}
}
