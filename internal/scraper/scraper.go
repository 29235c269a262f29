// Package scraper runs the per-account control flow: load the profile page,
// scroll the feed, collect post containers, de-duplicate them and extract
// engagement records.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibeckermayer/postpulse/internal/dom"
	"github.com/ibeckermayer/postpulse/internal/extract"
	"github.com/ibeckermayer/postpulse/internal/normalize"
	"github.com/ibeckermayer/postpulse/internal/pacing"
	"github.com/ibeckermayer/postpulse/internal/types"
)

// ErrPageLoad is returned when a page could not be loaded within the
// configured number of attempts.
var ErrPageLoad = errors.New("page failed to load")

// Page is the browser tab the scraper drives.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitReady(ctx context.Context, selectors []string, timeout time.Duration) error
	DismissConsent(ctx context.Context, selectors []string) (bool, error)
	// Scroll moves to the bottom of the feed and returns the document height.
	Scroll(ctx context.Context) (int64, error)
	Containers(ctx context.Context, selectors []string) ([]dom.Node, error)
}

// Revealer is implemented by containers that must be scrolled into view
// before their counters render.
type Revealer interface {
	Reveal(ctx context.Context) error
}

// SnapshotSink receives the container markup of each scraped page.
type SnapshotSink interface {
	SaveSnapshot(s types.Snapshot) (string, error)
}

// Options tunes a Scraper.
type Options struct {
	ScrollCount int
	ScrollPause time.Duration
	// InitialLoad is waited after the page reports ready.
	InitialLoad        time.Duration
	PageTimeout        time.Duration
	BetweenAccountsMin time.Duration
	BetweenAccountsMax time.Duration
	// MaxPosts caps records per page; zero means no cap.
	MaxPosts int
	// MaxAttempts bounds page loads and stale-element re-reads.
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxTextLength int
	MinTextLength int

	Sleeper   pacing.Sleeper
	Logger    zerolog.Logger
	Snapshots SnapshotSink
	Now       func() time.Time
}

// maxCapScrolls bounds scroll-until-cap mode on endless feeds.
const maxCapScrolls = 50

// Scraper collects engagement records from profile pages.
type Scraper struct {
	page       Page
	normalizer *normalize.Normalizer
	opts       Options
	log        zerolog.Logger
}

// New creates a Scraper. page may be nil for offline replay.
func New(page Page, n *normalize.Normalizer, opts Options) *Scraper {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = extract.DefaultMaxAttempts
	}
	if opts.Sleeper == nil {
		opts.Sleeper = pacing.Real
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	return &Scraper{
		page:       page,
		normalizer: n,
		opts:       opts,
		log:        opts.Logger.With().Str("component", "scraper").Logger(),
	}
}

// extractor builds the extractor for a target's site.
func (s *Scraper) extractor(t types.Target) (*extract.Extractor, error) {
	site := t.Site
	if site == "" {
		var err error
		if site, err = extract.DetectSite(t.URL); err != nil {
			return nil, err
		}
	}
	profile, err := extract.ProfileFor(site, extract.ProfileOptions{MinTextLength: s.opts.MinTextLength})
	if err != nil {
		return nil, err
	}
	return extract.New(profile, s.normalizer, extract.Options{
		MaxAttempts:   s.opts.MaxAttempts,
		RetryDelay:    s.opts.RetryDelay,
		MaxTextLength: s.opts.MaxTextLength,
		Keywords:      t.Keywords,
		Sleeper:       s.opts.Sleeper,
		Logger:        s.opts.Logger,
		Now:           s.opts.Now,
	}), nil
}

// ScrapeAll processes targets in order and returns every record collected.
//
// A page that fails to load or panics contributes no records and the run
// continues. On cancellation, or a fault outside a page, the records gathered
// so far are returned with the error.
func (s *Scraper) ScrapeAll(ctx context.Context, targets []types.Target) (all []types.EngagementRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during run: %v", r)
		}
	}()

	// URLs already emitted by an earlier page
	seen := make(map[string]bool)

	for i, t := range targets {
		recs, err := s.guardedPage(ctx, t, seen)
		all = append(all, recs...)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			s.log.Error().Err(err).Str("account", t.Name).Msg("page skipped")
		}

		if i < len(targets)-1 {
			delay := pacing.Between(s.opts.BetweenAccountsMin, s.opts.BetweenAccountsMax)
			s.log.Debug().Dur("delay", delay).Msg("waiting before next account")
			if err := s.opts.Sleeper.Sleep(ctx, delay); err != nil {
				return all, err
			}
		}
	}

	s.log.Info().Int("pages", len(targets)).Int("records", len(all)).Msg("run complete")
	return all, nil
}

// ScrapePage collects the records of a single target.
func (s *Scraper) ScrapePage(ctx context.Context, t types.Target) ([]types.EngagementRecord, error) {
	return s.guardedPage(ctx, t, make(map[string]bool))
}

// guardedPage is scrapePage with a panic turned into an error.
func (s *Scraper) guardedPage(ctx context.Context, t types.Target, seen map[string]bool) (recs []types.EngagementRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			recs, err = nil, fmt.Errorf("panic scraping %s: %v", t.Name, r)
		}
	}()
	return s.scrapePage(ctx, t, seen)
}

func (s *Scraper) scrapePage(ctx context.Context, t types.Target, seen map[string]bool) ([]types.EngagementRecord, error) {
	if s.page == nil {
		return nil, errors.New("no browser page configured")
	}
	ex, err := s.extractor(t)
	if err != nil {
		return nil, fmt.Errorf("failed to configure %s: %w", t.Name, err)
	}
	profile := ex.Profile()
	log := s.log.With().Str("account", t.Name).Str("site", profile.Name).Logger()

	if err := s.load(ctx, t, profile, log); err != nil {
		return nil, err
	}

	containers, err := s.scroll(ctx, profile, log)
	if err != nil {
		return nil, err
	}
	log.Info().Int("containers", len(containers)).Msg("containers collected")

	base, _ := url.Parse(t.URL)
	recs, kept, err := s.process(ctx, ex, t, containers, base, seen, log)

	if s.opts.Snapshots != nil && len(kept) > 0 {
		s.snapshot(t, profile.Name, kept, log)
	}
	return recs, err
}

// load navigates to the target, retrying up to MaxAttempts times.
func (s *Scraper) load(ctx context.Context, t types.Target, p *extract.Profile, log zerolog.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		lastErr = s.loadOnce(ctx, t, p, log)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("page load failed")
		if attempt < s.opts.MaxAttempts {
			if err := s.opts.Sleeper.Sleep(ctx, s.opts.BetweenAccountsMin); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrPageLoad, t.URL, s.opts.MaxAttempts, lastErr)
}

func (s *Scraper) loadOnce(ctx context.Context, t types.Target, p *extract.Profile, log zerolog.Logger) error {
	if err := s.page.Navigate(ctx, t.URL, s.opts.PageTimeout); err != nil {
		return err
	}
	if err := s.page.WaitReady(ctx, p.ReadySelectors, s.opts.PageTimeout); err != nil {
		return err
	}
	if err := s.opts.Sleeper.Sleep(ctx, s.opts.InitialLoad); err != nil {
		return err
	}
	if len(p.ConsentSelectors) > 0 {
		if _, err := s.page.DismissConsent(ctx, p.ConsentSelectors); err != nil {
			log.Debug().Err(err).Msg("consent banner not dismissed")
		}
	}
	return nil
}

// scroll loads more of the feed and returns the containers present at the
// end. Profiles that scroll until the cap stop early once enough containers
// are visible or the page stops growing.
func (s *Scraper) scroll(ctx context.Context, p *extract.Profile, log zerolog.Logger) ([]dom.Node, error) {
	limit := s.opts.ScrollCount
	if p.ScrollUntilCap && s.opts.MaxPosts > 0 {
		limit = maxCapScrolls
	}

	var lastHeight int64 = -1
	for i := 0; i < limit; i++ {
		if p.ScrollUntilCap && s.opts.MaxPosts > 0 {
			containers, err := s.page.Containers(ctx, p.ContainerSelectors)
			if err != nil {
				return nil, err
			}
			if len(containers) >= s.opts.MaxPosts {
				log.Debug().Int("scrolls", i).Msg("container cap reached")
				return containers, nil
			}
		}

		height, err := s.page.Scroll(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.opts.Sleeper.Sleep(ctx, pacing.Jitter(s.opts.ScrollPause, 0.2)); err != nil {
			return nil, err
		}
		if p.ScrollUntilCap && height == lastHeight {
			log.Debug().Int("scrolls", i+1).Msg("feed stopped growing")
			break
		}
		lastHeight = height
	}
	return s.page.Containers(ctx, p.ContainerSelectors)
}

// candidate is a container that survived de-duplication.
type candidate struct {
	node dom.Node
	url  string
}

// process de-duplicates containers by URL and extracts up to MaxPosts
// records. It returns the records and the containers they came from.
//
// seen holds the URLs emitted earlier in the run. A URL is added to it only
// once a record for it is emitted, so a post dropped here by the cap or the
// keyword filter can still be emitted from a later page.
func (s *Scraper) process(ctx context.Context, ex *extract.Extractor, t types.Target, containers []dom.Node, base *url.URL, seen map[string]bool, log zerolog.Logger) ([]types.EngagementRecord, []dom.Node, error) {
	onPage := make(map[string]bool)
	unique := make([]candidate, 0, len(containers))
	for _, c := range containers {
		u, err := ex.URL(ctx, c, base)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			if errors.Is(err, extract.ErrPanic) {
				log.Warn().Err(err).Msg("container skipped")
				continue
			}
			log.Debug().Err(err).Msg("url not read")
		}
		if u != "" {
			if onPage[u] || seen[u] {
				continue
			}
			onPage[u] = true
		}
		unique = append(unique, candidate{node: c, url: u})
	}
	log.Debug().Int("unique", len(unique)).Int("duplicates", len(containers)-len(unique)).Msg("containers de-duplicated")

	var recs []types.EngagementRecord
	var kept []dom.Node
	for _, c := range unique {
		if s.opts.MaxPosts > 0 && len(recs) >= s.opts.MaxPosts {
			break
		}
		if err := reveal(ctx, c.node); err != nil {
			if ctx.Err() != nil {
				return recs, kept, ctx.Err()
			}
			log.Debug().Err(err).Msg("container not revealed")
		}

		rec, trace, err := ex.Extract(ctx, t.Name, c.node, base)
		switch {
		case err == nil:
		case errors.Is(err, extract.ErrEmpty), errors.Is(err, extract.ErrFiltered):
			log.Debug().Err(err).Msg("container skipped")
			continue
		case ctx.Err() != nil:
			return recs, kept, ctx.Err()
		default:
			log.Warn().Err(err).Msg("container failed")
			continue
		}

		if c.url == "" && rec.URL != "" && seen[rec.URL] {
			continue
		}

		for _, a := range trace {
			if a.Matched {
				log.Trace().Str("field", string(a.Field)).Str("strategy", a.Strategy).Interface("value", a.Value).Msg("matched")
			}
		}
		recs = append(recs, rec)
		kept = append(kept, c.node)
		if c.url != "" {
			seen[c.url] = true
		}
		if rec.URL != "" {
			seen[rec.URL] = true
		}
	}

	log.Info().Int("records", len(recs)).Msg("page scraped")
	return recs, kept, nil
}

// reveal scrolls a live container into view. A panic is returned as an
// error.
func reveal(ctx context.Context, n dom.Node) (err error) {
	r, ok := n.(Revealer)
	if !ok {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic revealing container: %v", p)
		}
	}()
	return r.Reveal(ctx)
}

func (s *Scraper) snapshot(t types.Target, site string, nodes []dom.Node, log zerolog.Logger) {
	snap := types.Snapshot{Target: t, Site: site, CapturedAt: s.opts.Now()}
	for _, n := range nodes {
		html, err := n.OuterHTML()
		if err != nil {
			log.Debug().Err(err).Msg("container markup not captured")
			continue
		}
		snap.Containers = append(snap.Containers, html)
	}
	path, err := s.opts.Snapshots.SaveSnapshot(snap)
	if err != nil {
		log.Warn().Err(err).Msg("failed to save snapshot")
		return
	}
	log.Debug().Str("path", path).Msg("snapshot saved")
}

// Replay re-runs extraction over saved snapshots, applying the same
// de-duplication, cap and filters as a live run.
func (s *Scraper) Replay(ctx context.Context, snaps []types.Snapshot) ([]types.EngagementRecord, error) {
	var all []types.EngagementRecord
	seen := make(map[string]bool)

	for _, snap := range snaps {
		t := snap.Target
		if t.Site == "" {
			t.Site = snap.Site
		}
		ex, err := s.extractor(t)
		if err != nil {
			s.log.Error().Err(err).Str("account", t.Name).Msg("snapshot skipped")
			continue
		}
		log := s.log.With().Str("account", t.Name).Str("site", ex.Profile().Name).Logger()

		containers := make([]dom.Node, 0, len(snap.Containers))
		for _, html := range snap.Containers {
			n, err := dom.Fragment(html)
			if err != nil {
				log.Debug().Err(err).Msg("container markup not parsed")
				continue
			}
			containers = append(containers, n)
		}

		base, _ := url.Parse(t.URL)
		recs, _, err := s.process(ctx, ex, t, containers, base, seen, log)
		all = append(all, recs...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}
