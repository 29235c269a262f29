package scraper_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpulse/internal/dom"
	"github.com/ibeckermayer/postpulse/internal/normalize"
	"github.com/ibeckermayer/postpulse/internal/pacing"
	"github.com/ibeckermayer/postpulse/internal/scraper"
	"github.com/ibeckermayer/postpulse/internal/types"
)

// fakePage serves canned HTML per URL.
type fakePage struct {
	docs map[string]string
	// failures counts navigation failures left per URL; negative fails forever.
	failures    map[string]int
	current     string
	navigations []string
	scrolls     int
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.navigations = append(p.navigations, url)
	if f := p.failures[url]; f != 0 {
		if f > 0 {
			p.failures[url] = f - 1
		}
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	if _, ok := p.docs[url]; !ok {
		return fmt.Errorf("no document for %s", url)
	}
	p.current = url
	return nil
}

func (p *fakePage) WaitReady(context.Context, []string, time.Duration) error { return nil }

func (p *fakePage) DismissConsent(context.Context, []string) (bool, error) { return false, nil }

func (p *fakePage) Scroll(context.Context) (int64, error) {
	p.scrolls++
	return int64(p.scrolls * 1000), nil
}

func (p *fakePage) Containers(_ context.Context, selectors []string) ([]dom.Node, error) {
	root, err := dom.ParseString(p.docs[p.current])
	if err != nil {
		return nil, err
	}
	for _, sel := range selectors {
		nodes, err := root.Find(sel)
		if err != nil {
			return nil, err
		}
		if len(nodes) > 0 {
			return nodes, nil
		}
	}
	return nil, nil
}

func tweet(href, text, likes string) string {
	return fmt.Sprintf(`<article data-testid="tweet">
  <a href=%q><time datetime="2024-05-01T10:00:00.000Z">May 1</time></a>
  <div data-testid="tweetText">%s</div>
  <div role="group"><div><button data-testid="like" aria-label="%s Likes. Like"></button></div></div>
</article>`, href, text, likes)
}

func page(articles ...string) string {
	return "<html><body><main>" + strings.Join(articles, "\n") + "</main></body></html>"
}

type memSink struct {
	snaps []types.Snapshot
}

func (m *memSink) SaveSnapshot(s types.Snapshot) (string, error) {
	m.snaps = append(m.snaps, s)
	return fmt.Sprintf("mem://%d", len(m.snaps)), nil
}

var fixedNow = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

func newScraper(p scraper.Page, rec *pacing.Recorder, mut func(*scraper.Options)) *scraper.Scraper {
	opts := scraper.Options{
		ScrollCount:        3,
		ScrollPause:        time.Second,
		InitialLoad:        2 * time.Second,
		PageTimeout:        10 * time.Second,
		BetweenAccountsMin: 5 * time.Second,
		BetweenAccountsMax: 5 * time.Second,
		RetryDelay:         time.Second,
		Sleeper:            rec,
		Logger:             zerolog.Nop(),
		Now:                func() time.Time { return fixedNow },
	}
	if mut != nil {
		mut(&opts)
	}
	return scraper.New(p, normalize.New(normalize.Options{}), opts)
}

const acmeURL = "https://x.com/acme"

func TestScrapePage_DeduplicatesByResolvedURL(t *testing.T) {
	t.Parallel()

	fp := &fakePage{docs: map[string]string{acmeURL: page(
		tweet("/acme/status/1", "first post", "10"),
		tweet("/acme/status/1?__cft__=x#reply", "first post again", "11"),
		tweet("", "no link here", "3"),
		tweet("", "no link either", "4"),
		tweet("/acme/status/2", "second post", "1.5K"),
	)}}

	recs, err := newScraper(fp, &pacing.Recorder{}, nil).ScrapePage(context.Background(), types.Target{Name: "acme", URL: acmeURL})
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, "first post", recs[0].Text)
	assert.Equal(t, int64(10), recs[0].Counters.Like)
	assert.Equal(t, "https://x.com/acme/status/1", recs[0].URL)
	assert.Equal(t, "no link here", recs[1].Text)
	assert.Empty(t, recs[1].URL)
	assert.Equal(t, "no link either", recs[2].Text)
	assert.Equal(t, int64(1500), recs[3].Counters.Like)
	for _, r := range recs {
		assert.Equal(t, "acme", r.SourceAccount)
		assert.Equal(t, fixedNow, r.ScrapedAt)
	}
}

func TestScrapePage_CapsRecords(t *testing.T) {
	t.Parallel()

	fp := &fakePage{docs: map[string]string{acmeURL: page(
		tweet("/acme/status/1", "one", "1"),
		tweet("/acme/status/2", "two", "2"),
		tweet("/acme/status/3", "three", "3"),
	)}}

	recs, err := newScraper(fp, &pacing.Recorder{}, func(o *scraper.Options) { o.MaxPosts = 2 }).
		ScrapePage(context.Background(), types.Target{Name: "acme", URL: acmeURL})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "two", recs[1].Text)
}

func TestScrapePage_SkipsEmptyContainers(t *testing.T) {
	t.Parallel()

	fp := &fakePage{docs: map[string]string{acmeURL: page(
		`<article data-testid="tweet"><div role="group"><button data-testid="like" aria-label="9 Likes"></button></div></article>`,
		tweet("/acme/status/1", "kept", "1"),
	)}}

	recs, err := newScraper(fp, &pacing.Recorder{}, nil).ScrapePage(context.Background(), types.Target{Name: "acme", URL: acmeURL})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "kept", recs[0].Text)
}

func TestScrapeAll_PageLoadExhaustionContinues(t *testing.T) {
	t.Parallel()

	const broken = "https://x.com/broken"
	fp := &fakePage{
		docs:     map[string]string{acmeURL: page(tweet("/acme/status/1", "survivor", "7"))},
		failures: map[string]int{broken: -1},
	}
	var rec pacing.Recorder

	recs, err := newScraper(fp, &rec, nil).ScrapeAll(context.Background(), []types.Target{
		{Name: "broken", URL: broken},
		{Name: "acme", URL: acmeURL},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "survivor", recs[0].Text)

	assert.Equal(t, []string{broken, broken, broken, acmeURL}, fp.navigations)

	// two retry delays, then the between-accounts delay
	require.GreaterOrEqual(t, len(rec.Calls), 3)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, rec.Calls[:3])
}

func TestScrapePage_RetriesPageLoad(t *testing.T) {
	t.Parallel()

	fp := &fakePage{
		docs:     map[string]string{acmeURL: page(tweet("/acme/status/1", "eventually", "7"))},
		failures: map[string]int{acmeURL: 1},
	}

	recs, err := newScraper(fp, &pacing.Recorder{}, nil).ScrapePage(context.Background(), types.Target{Name: "acme", URL: acmeURL})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, fp.navigations, 2)
}

func TestScrapePage_ExhaustionReturnsErrPageLoad(t *testing.T) {
	t.Parallel()

	fp := &fakePage{docs: map[string]string{}, failures: map[string]int{acmeURL: -1}}

	recs, err := newScraper(fp, &pacing.Recorder{}, func(o *scraper.Options) { o.MaxAttempts = 2 }).
		ScrapePage(context.Background(), types.Target{Name: "acme", URL: acmeURL})
	require.ErrorIs(t, err, scraper.ErrPageLoad)
	assert.Empty(t, recs)
	assert.Len(t, fp.navigations, 2)
}

func TestScrapePage_ScrollPausesAreJittered(t *testing.T) {
	t.Parallel()

	fp := &fakePage{docs: map[string]string{acmeURL: page(tweet("/acme/status/1", "post", "1"))}}
	var rec pacing.Recorder

	_, err := newScraper(fp, &rec, nil).ScrapePage(context.Background(), types.Target{Name: "acme", URL: acmeURL})
	require.NoError(t, err)
	assert.Equal(t, 3, fp.scrolls)

	require.Len(t, rec.Calls, 4)
	assert.Equal(t, 2*time.Second, rec.Calls[0])
	for _, d := range rec.Calls[1:] {
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestScrapePage_FacebookKeywordFilter(t *testing.T) {
	t.Parallel()

	const fbURL = "https://www.facebook.com/KFCMexico"
	post := func(id, text string) string {
		return fmt.Sprintf(`<div role="article">
  <div data-ad-preview="message">%s</div>
  <a href="https://www.facebook.com/KFCMexico/posts/%s"><span><span>2 h</span></span></a>
  <span aria-label="Reacciones: 12"></span>
</div>`, text, id)
	}
	fp := &fakePage{docs: map[string]string{fbURL: page(
		post("a", "Promo en Ciudad de México"),
		post("b", "Promo en Guadalajara"),
		post("c", "Hoy en CDMX"),
	)}}

	recs, err := newScraper(fp, &pacing.Recorder{}, nil).ScrapePage(context.Background(), types.Target{
		Name:     "KFC México",
		URL:      fbURL,
		Keywords: []string{"ciudad de mexico", "cdmx"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "facebook", recs[0].Site)
	assert.Equal(t, "Promo en Ciudad de México", recs[0].Text)
	assert.Equal(t, "Hoy en CDMX", recs[1].Text)
}

func TestScrapePage_UnknownSite(t *testing.T) {
	t.Parallel()

	_, err := newScraper(&fakePage{}, &pacing.Recorder{}, nil).
		ScrapePage(context.Background(), types.Target{Name: "x", URL: "https://example.com/x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, scraper.ErrPageLoad)
}

func TestScrapeAll_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fp := &fakePage{docs: map[string]string{acmeURL: page(tweet("/acme/status/1", "post", "1"))}}
	_, err := newScraper(fp, &pacing.Recorder{}, nil).ScrapeAll(ctx, []types.Target{{Name: "acme", URL: acmeURL}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestReplay_MatchesLiveRun(t *testing.T) {
	t.Parallel()

	fp := &fakePage{docs: map[string]string{acmeURL: page(
		tweet("/acme/status/1", "first", "10"),
		tweet("/acme/status/2", "second", "2K"),
	)}}
	sink := &memSink{}
	target := types.Target{Name: "acme", URL: acmeURL}

	live, err := newScraper(fp, &pacing.Recorder{}, func(o *scraper.Options) { o.Snapshots = sink }).
		ScrapePage(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, sink.snaps, 1)
	assert.Equal(t, "x", sink.snaps[0].Site)
	assert.Len(t, sink.snaps[0].Containers, 2)

	replayed, err := newScraper(nil, &pacing.Recorder{}, nil).Replay(context.Background(), sink.snaps)
	require.NoError(t, err)
	assert.Equal(t, live, replayed)
}

type panicNode struct{ dom.Node }

func (panicNode) Find(string) ([]dom.Node, error) { panic("boom") }

// brokenFirstPage puts a container whose reads panic ahead of the real ones.
type brokenFirstPage struct{ *fakePage }

func (p brokenFirstPage) Containers(ctx context.Context, selectors []string) ([]dom.Node, error) {
	nodes, err := p.fakePage.Containers(ctx, selectors)
	if err != nil || len(nodes) == 0 {
		return nodes, err
	}
	return append([]dom.Node{panicNode{nodes[0]}}, nodes...), nil
}

func TestScrapePage_SkipsPanickingContainer(t *testing.T) {
	t.Parallel()

	fp := &fakePage{docs: map[string]string{acmeURL: page(tweet("/acme/status/1", "still here", "5"))}}

	recs, err := newScraper(brokenFirstPage{fp}, &pacing.Recorder{}, nil).
		ScrapePage(context.Background(), types.Target{Name: "acme", URL: acmeURL})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "still here", recs[0].Text)
}

type panicRevealer struct{ dom.Node }

func (panicRevealer) Reveal(context.Context) error { panic("detached") }

type unrevealablePage struct{ *fakePage }

func (p unrevealablePage) Containers(ctx context.Context, selectors []string) ([]dom.Node, error) {
	nodes, err := p.fakePage.Containers(ctx, selectors)
	for i, n := range nodes {
		nodes[i] = panicRevealer{n}
	}
	return nodes, err
}

func TestScrapePage_RevealPanicStillExtracts(t *testing.T) {
	t.Parallel()

	fp := &fakePage{docs: map[string]string{acmeURL: page(tweet("/acme/status/1", "read anyway", "5"))}}

	recs, err := newScraper(unrevealablePage{fp}, &pacing.Recorder{}, nil).
		ScrapePage(context.Background(), types.Target{Name: "acme", URL: acmeURL})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "read anyway", recs[0].Text)
}

// panicSleeper panics on the between-accounts delay.
type panicSleeper struct{ pacing.Recorder }

func (p *panicSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d == 5*time.Second {
		panic("clock gone")
	}
	return p.Recorder.Sleep(ctx, d)
}

func TestScrapeAll_PanicKeepsCollectedRecords(t *testing.T) {
	t.Parallel()

	const other = "https://x.com/other"
	fp := &fakePage{docs: map[string]string{
		acmeURL: page(tweet("/acme/status/1", "collected", "5")),
		other:   page(tweet("/other/status/9", "never reached", "1")),
	}}
	s := newScraper(fp, nil, func(o *scraper.Options) { o.Sleeper = &panicSleeper{} })

	recs, err := s.ScrapeAll(context.Background(), []types.Target{
		{Name: "acme", URL: acmeURL},
		{Name: "other", URL: other},
	})
	require.ErrorContains(t, err, "clock gone")
	require.Len(t, recs, 1)
	assert.Equal(t, "collected", recs[0].Text)
}

func TestScrapeAll_CappedPostEmittedFromLaterPage(t *testing.T) {
	t.Parallel()

	const other = "https://x.com/other"
	fp := &fakePage{docs: map[string]string{
		acmeURL: page(
			tweet("/acme/status/1", "first", "1"),
			tweet("/acme/status/2", "shared", "2"),
		),
		other: page(tweet("/acme/status/2", "shared", "2")),
	}}

	recs, err := newScraper(fp, &pacing.Recorder{}, func(o *scraper.Options) { o.MaxPosts = 1 }).
		ScrapeAll(context.Background(), []types.Target{
			{Name: "acme", URL: acmeURL},
			{Name: "other", URL: other},
		})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "https://x.com/acme/status/1", recs[0].URL)
	assert.Equal(t, "other", recs[1].SourceAccount)
	assert.Equal(t, "https://x.com/acme/status/2", recs[1].URL)
}

func TestScrapeAll_FilteredPostEmittedFromLaterPage(t *testing.T) {
	t.Parallel()

	const other = "https://x.com/other"
	fp := &fakePage{docs: map[string]string{
		acmeURL: page(tweet("/acme/status/2", "shared post", "2")),
		other:   page(tweet("/acme/status/2", "shared post", "2")),
	}}

	recs, err := newScraper(fp, &pacing.Recorder{}, nil).ScrapeAll(context.Background(), []types.Target{
		{Name: "acme", URL: acmeURL, Keywords: []string{"nomatch"}},
		{Name: "other", URL: other},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "other", recs[0].SourceAccount)
}

func TestScrapeAll_EmittedPostNotRepeated(t *testing.T) {
	t.Parallel()

	const other = "https://x.com/other"
	fp := &fakePage{docs: map[string]string{
		acmeURL: page(tweet("/acme/status/2", "shared post", "2")),
		other:   page(tweet("/acme/status/2", "shared post", "2")),
	}}

	recs, err := newScraper(fp, &pacing.Recorder{}, nil).ScrapeAll(context.Background(), []types.Target{
		{Name: "acme", URL: acmeURL},
		{Name: "other", URL: other},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "acme", recs[0].SourceAccount)
}
