package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/postpulse/internal/auth"
	chrome "github.com/ibeckermayer/postpulse/internal/browser"
	"github.com/ibeckermayer/postpulse/internal/config"
	"github.com/ibeckermayer/postpulse/internal/extract"
	"github.com/ibeckermayer/postpulse/internal/normalize"
	"github.com/ibeckermayer/postpulse/internal/notifier"
	"github.com/ibeckermayer/postpulse/internal/output"
	"github.com/ibeckermayer/postpulse/internal/pacing"
	"github.com/ibeckermayer/postpulse/internal/report"
	"github.com/ibeckermayer/postpulse/internal/scheduler"
	"github.com/ibeckermayer/postpulse/internal/scraper"
	"github.com/ibeckermayer/postpulse/internal/store"
	"github.com/ibeckermayer/postpulse/internal/types"
)

// Session is the browser a run drives.
type Session interface {
	Page() scraper.Page
	SetCookies(cookies []*network.Cookie) error
	Close()
}

// SessionFactory starts a browser session.
type SessionFactory func(ctx context.Context, s chrome.Settings, logger zerolog.Logger) (Session, error)

// chromeSession adapts browser.Session.
type chromeSession struct {
	*chrome.Session
	actionTimeout time.Duration
}

func (c chromeSession) Page() scraper.Page {
	return c.NewPage(c.actionTimeout)
}

// ChromeSessions launches a local Chrome per run.
func ChromeSessions(ctx context.Context, s chrome.Settings, logger zerolog.Logger) (Session, error) {
	sess, err := chrome.NewSession(ctx, s, logger)
	if err != nil {
		return nil, err
	}
	return chromeSession{Session: sess, actionTimeout: chrome.DefaultActionTimeout}, nil
}

// App holds the application state.
type App struct {
	mu         sync.RWMutex
	config     *config.Config
	configPath string

	log         zerolog.Logger
	sessions    SessionFactory
	sleeper     pacing.Sleeper
	cookieStore *auth.CookieStore
	sender      notifier.Sender
	now         func() time.Time
}

// Option customizes an App.
type Option func(*App)

// WithSessions replaces the browser launcher.
func WithSessions(f SessionFactory) Option {
	return func(a *App) { a.sessions = f }
}

// WithSleeper replaces the wall-clock sleeper.
func WithSleeper(s pacing.Sleeper) Option {
	return func(a *App) { a.sleeper = s }
}

// WithCookieStore replaces the default cookie store location.
func WithCookieStore(cs *auth.CookieStore) Option {
	return func(a *App) { a.cookieStore = cs }
}

// WithSender replaces the configured email sender.
func WithSender(s notifier.Sender) Option {
	return func(a *App) { a.sender = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates a new App instance. configPath is used by ReloadConfig.
func New(cfg *config.Config, configPath string, logger zerolog.Logger, opts ...Option) *App {
	a := &App{
		config:     cfg,
		configPath: configPath,
		log:        logger,
		sessions:   ChromeSessions,
		sleeper:    pacing.Real,
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.cookieStore == nil {
		if dir, err := config.ConfigDir(); err == nil {
			a.cookieStore = auth.NewCookieStore(filepath.Join(dir, "cookies"))
		}
	}
	return a
}

// Config returns the current configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// RunResult summarizes a collection run.
type RunResult struct {
	Records []types.EngagementRecord
	Output  output.Result
	// Written is false when there was nothing to write.
	Written bool
	// ReportPath is set when an HTML report was written.
	ReportPath string
}

// Run collects every configured account and writes the table once at the
// end. Records gathered before a failure are still written.
func (a *App) Run(ctx context.Context) (RunResult, error) {
	cfg := a.Config()
	started := a.now()

	n, err := newNormalizer(cfg)
	if err != nil {
		return RunResult{}, err
	}
	targets := cfg.Targets()

	sess, err := a.sessions(ctx, browserSettings(cfg), a.log)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to start browser: %w", err)
	}
	defer sess.Close()

	if cfg.Auth.UseCookies {
		a.injectCookies(sess, targets)
	}

	opts := a.scraperOptions(cfg)
	if cfg.Output.SnapshotDir != "" {
		opts.Snapshots = store.NewSnapshots(cfg.Output.SnapshotDir)
	}

	a.log.Info().Int("accounts", len(targets)).Msg("run started")
	recs, runErr := scrape(ctx, scraper.New(sess.Page(), n, opts), targets)
	if runErr != nil {
		a.log.Error().Err(runErr).Int("records", len(recs)).Msg("run interrupted")
	}

	res, err := a.write(context.WithoutCancel(ctx), cfg, recs, started)
	if res.Written {
		res.ReportPath = a.report(cfg, recs)
	}
	return res, errors.Join(runErr, err)
}

// collector is the part of a Scraper a run drives.
type collector interface {
	ScrapeAll(ctx context.Context, targets []types.Target) ([]types.EngagementRecord, error)
}

// scrape runs the collection and turns a panic into an error so the records
// already returned can still be written.
func scrape(ctx context.Context, c collector, targets []types.Target) (recs []types.EngagementRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during run: %v", r)
		}
	}()
	return c.ScrapeAll(ctx, targets)
}

// report renders the run summary and delivers it. Failures are logged since
// the table has already been written.
func (a *App) report(cfg *config.Config, recs []types.EngagementRecord) string {
	rc := cfg.Report
	if rc.Path == "" && rc.Email.To == "" {
		return ""
	}

	b, err := report.New(rc.TopPosts)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to build report")
		return ""
	}
	r, err := b.Build(recs, a.now())
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to build report")
		return ""
	}

	var written string
	if rc.Path != "" {
		if err := r.WriteHTML(rc.Path); err != nil {
			a.log.Warn().Err(err).Str("path", rc.Path).Msg("failed to write report")
		} else {
			written = rc.Path
			a.log.Info().Str("path", rc.Path).Msg("report written")
		}
	}

	if rc.Email.To != "" {
		n, err := a.notifier(rc.Email)
		if err == nil {
			err = n.SendReport(r)
		}
		if err != nil {
			a.log.Warn().Err(err).Str("to", rc.Email.To).Msg("failed to email report")
		} else {
			a.log.Info().Str("to", rc.Email.To).Msg("report emailed")
		}
	}
	return written
}

func (a *App) notifier(cfg config.EmailConfig) (*notifier.Notifier, error) {
	if a.sender != nil {
		return notifier.New(a.sender, cfg.To), nil
	}
	return notifier.NewFromConfig(cfg)
}

// Replay re-extracts records from the snapshots in dir and writes them like
// a live run.
func (a *App) Replay(ctx context.Context, dir string) (RunResult, error) {
	cfg := a.Config()
	started := a.now()

	n, err := newNormalizer(cfg)
	if err != nil {
		return RunResult{}, err
	}

	snaps, err := store.LoadDir(ctx, dir, 4)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load snapshots: %w", err)
	}
	a.log.Info().Int("snapshots", len(snaps)).Str("dir", dir).Msg("replay started")

	recs, runErr := scraper.New(nil, n, a.scraperOptions(cfg)).Replay(ctx, snaps)
	res, err := a.write(context.WithoutCancel(ctx), cfg, recs, started)
	return res, errors.Join(runErr, err)
}

func (a *App) write(ctx context.Context, cfg *config.Config, recs []types.EngagementRecord, started time.Time) (RunResult, error) {
	res := RunResult{Records: recs}

	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return res, err
	}
	out, err := output.Write(ctx, cfg.Output.Path, recs, output.Options{
		Format:    format,
		Strict:    cfg.Extraction.Strict,
		StartedAt: started,
	})
	if errors.Is(err, output.ErrNoRecords) {
		a.log.Warn().Msg("no records collected, nothing written")
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to write output: %w", err)
	}

	res.Output, res.Written = out, true
	ev := a.log.Info().Str("path", out.Path).Int("records", out.Count).Str("format", string(format))
	if out.RunID != "" {
		ev = ev.Str("run_id", out.RunID)
	}
	ev.Msg("output written")
	return res, nil
}

func (a *App) injectCookies(sess Session, targets []types.Target) {
	m := a.authManager()
	if m == nil {
		return
	}
	done := make(map[string]bool)
	for _, t := range targets {
		site := t.Site
		if site == "" {
			site, _ = extract.DetectSite(t.URL)
		}
		if site == "" || done[site] {
			continue
		}
		done[site] = true

		s, err := auth.SiteFor(site)
		if err != nil {
			continue
		}
		cookies, err := m.Cookies(s)
		if err != nil || len(cookies) == 0 {
			a.log.Warn().Str("site", site).Msg("no valid session stored, continuing logged out")
			continue
		}
		if err := sess.SetCookies(cookies); err != nil {
			a.log.Warn().Err(err).Str("site", site).Msg("failed to inject cookies")
		}
	}
}

func newNormalizer(cfg *config.Config) (*normalize.Normalizer, error) {
	loc, err := normalize.ParseLocale(cfg.Extraction.Locale)
	if err != nil {
		return nil, err
	}
	return normalize.New(normalize.Options{Locale: loc, Strict: cfg.Extraction.Strict}), nil
}

func browserSettings(cfg *config.Config) chrome.Settings {
	return chrome.Settings{
		Headless:  cfg.Scraping.Headless,
		Proxy:     cfg.Scraping.Proxy,
		Lang:      cfg.Scraping.Lang,
		UserAgent: cfg.Scraping.UserAgent,
		NoSandbox: cfg.Scraping.NoSandbox,
	}
}

func (a *App) scraperOptions(cfg *config.Config) scraper.Options {
	s := cfg.Scraping
	return scraper.Options{
		ScrollCount:        s.ScrollCount,
		ScrollPause:        s.ScrollPause.Duration,
		InitialLoad:        s.InitialLoad.Duration,
		PageTimeout:        s.PageTimeout.Duration,
		BetweenAccountsMin: s.BetweenAccountsMin.Duration,
		BetweenAccountsMax: s.BetweenAccountsMax.Duration,
		MaxPosts:           s.MaxPosts,
		MaxAttempts:        s.MaxAttempts,
		RetryDelay:         s.RetryDelay.Duration,
		MaxTextLength:      cfg.Extraction.MaxTextLength,
		MinTextLength:      cfg.Extraction.MinTextLength,
		Sleeper:            a.sleeper,
		Logger:             a.log,
		Now:                a.now,
	}
}

// Schedule runs the collection on the configured cron schedule until ctx is
// cancelled.
func (a *App) Schedule(ctx context.Context) error {
	cfg := a.Config()
	if cfg.Schedule.Cron == "" {
		return errors.New("no schedule configured")
	}

	s, err := scheduler.New(cfg.Schedule.Timezone, a.log)
	if err != nil {
		return err
	}
	err = s.AddJob("collect", cfg.Schedule.Cron, func(ctx context.Context) error {
		_, err := a.Run(ctx)
		return err
	})
	if err != nil {
		return err
	}

	s.Start()
	<-ctx.Done()
	<-s.Stop().Done()
	return nil
}

func (a *App) authManager() *auth.Manager {
	if a.cookieStore == nil {
		return nil
	}
	return auth.NewManager(a.cookieStore, browserSettings(a.Config()), a.log)
}

// Login runs the interactive login flow for a site.
func (a *App) Login(ctx context.Context, site string) error {
	s, err := auth.SiteFor(site)
	if err != nil {
		return err
	}
	m := a.authManager()
	if m == nil {
		return errors.New("no cookie store available")
	}
	return m.Login(ctx, s)
}

// Logout removes the stored session of a site.
func (a *App) Logout(site string) error {
	s, err := auth.SiteFor(site)
	if err != nil {
		return err
	}
	m := a.authManager()
	if m == nil {
		return nil
	}
	return m.Logout(s)
}

// SessionStatus reports, per site name, whether a valid session is stored.
func (a *App) SessionStatus() map[string]bool {
	status := make(map[string]bool)
	m := a.authManager()
	for _, s := range auth.Sites() {
		status[s.Name] = m != nil && m.IsAuthenticated(s)
	}
	return status
}

// Runs lists the runs stored in a SQLite output file.
func Runs(ctx context.Context, dbPath string) ([]store.RunInfo, error) {
	st, err := openExisting(dbPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.Runs(ctx)
}

// RunRecords returns the records of one stored run.
func RunRecords(ctx context.Context, dbPath, runID string) ([]types.EngagementRecord, error) {
	st, err := openExisting(dbPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.RunRecords(ctx, runID)
}

func openExisting(dbPath string) (*store.Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, err
	}
	return store.New(dbPath)
}

// BotTest opens bot.sannysoft.com in a visible browser with the collector's
// stealth options and waits until ctx is done.
func (a *App) BotTest(ctx context.Context) error {
	settings := browserSettings(a.Config())
	settings.Headless = false

	sess, err := chrome.NewSession(ctx, settings, a.log)
	if err != nil {
		return err
	}
	defer sess.Close()

	page := sess.NewPage(chrome.DefaultActionTimeout)
	if err := page.Navigate(ctx, "https://bot.sannysoft.com", 30*time.Second); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// OpenPath opens a file or directory with the desktop's default handler,
// creating directories that do not exist yet.
func OpenPath(path string, dir bool) error {
	if dir {
		if err := os.MkdirAll(path, 0755); err != nil {
			return err
		}
	}
	return browser.OpenFile(path)
}

// ReloadConfig reloads the configuration from disk.
func (a *App) ReloadConfig() error {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	a.config = cfg
	a.mu.Unlock()

	a.log.Info().Str("path", a.configPath).Msg("configuration reloaded")
	return nil
}
