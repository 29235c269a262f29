package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ibeckermayer/postpulse/internal/types"
)

// Site identifiers.
const (
	SiteX        = "x"
	SiteFacebook = "facebook"
)

// Profile bundles everything site-specific: page selectors and the ranked
// strategy lists per field. These WILL break when the sites change their
// markup; update them here.
type Profile struct {
	Name string

	// ReadySelectors are tried in order when waiting for the page; the first
	// one to appear means the feed is loaded.
	ReadySelectors []string
	// ContainerSelectors are tried in order; the first yielding any element
	// is used to collect post containers.
	ContainerSelectors []string
	// ConsentSelectors dismiss cookie banners when present.
	ConsentSelectors []string
	// ScrollUntilCap keeps scrolling until MaxPosts containers are seen or
	// the page stops growing, instead of a fixed scroll count.
	ScrollUntilCap bool

	Text     []Strategy
	Date     []Strategy
	URL      []Strategy
	Media    []Strategy
	Counters map[types.Metric][]Strategy
	Scans    []Scan

	// RetryZeroCounters re-reads counters while all of them are zero;
	// counters on X render lazily after the container scrolls into view.
	RetryZeroCounters bool
	// MaxTextLength truncates text, in runes. Zero keeps full text.
	MaxTextLength int
	// Keywords filters containers by text; empty keeps everything.
	Keywords []string
}

// Supports reports whether the profile has any way to read metric m.
// Strict mode only reports supported metrics as missing.
func (p *Profile) Supports(m types.Metric) bool {
	return len(p.Counters[m]) > 0
}

// ProfileOptions tunes the generated strategy lists.
type ProfileOptions struct {
	// MinTextLength is the length a fallback text candidate must exceed.
	MinTextLength int
}

// DefaultMinTextLength skips short UI labels picked up by fallback text
// selectors.
const DefaultMinTextLength = 5

// ProfileFor returns the profile for a site name.
func ProfileFor(site string, opts ProfileOptions) (*Profile, error) {
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = DefaultMinTextLength
	}
	switch strings.ToLower(site) {
	case SiteX, "twitter":
		return XProfile(opts), nil
	case SiteFacebook, "fb":
		return FacebookProfile(opts), nil
	default:
		return nil, fmt.Errorf("unknown site %q", site)
	}
}

// DetectSite guesses the site from a profile URL.
func DetectSite(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", pageURL, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "mobile.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "x.com", "twitter.com":
		return SiteX, nil
	case "facebook.com":
		return SiteFacebook, nil
	default:
		return "", fmt.Errorf("cannot detect site for host %q", u.Hostname())
	}
}

// xKeywords classifies X metric buttons and icons.
var xKeywords = MetricKeywords{
	{types.MetricComment, []string{"repl", "respuesta", "comment"}},
	{types.MetricReshare, []string{"retweet", "retuit", "repost"}},
	{types.MetricLike, []string{"like", "me gusta"}},
	{types.MetricShare, []string{"bookmark", "guardar", "compartir"}},
}

// XProfile targets x.com profile timelines.
func XProfile(opts ProfileOptions) *Profile {
	counter := func(testids ...string) []Strategy {
		sels := make([]string, len(testids))
		for i, id := range testids {
			sels[i] = fmt.Sprintf(`[data-testid="%s"]`, id)
		}
		sel := strings.Join(sels, ", ")
		return []Strategy{
			{ID: "testid-aria-label", Selector: sel, Read: FirstOf(Attr("aria-label"), ParentAttr("aria-label"))},
			{ID: "testid-text", Selector: sel, Read: Text},
		}
	}

	return &Profile{
		Name:           SiteX,
		ReadySelectors: []string{`[data-testid="tweet"]`, `article`, `[data-testid="cellInnerDiv"]`},
		ContainerSelectors: []string{
			`[data-testid="tweet"]`,
			`article`,
			`[data-testid="cellInnerDiv"] div[data-testid]`,
		},
		Text: []Strategy{
			{ID: "tweet-text", Selector: `[data-testid="tweetText"]`, Read: Text},
			{ID: "lang", Selector: `div[lang]`, MinLen: opts.MinTextLength, Read: Text},
			{ID: "dir-auto", Selector: `div[dir="auto"]`, MinLen: opts.MinTextLength, Read: Text},
		},
		Date: []Strategy{
			{ID: "time-datetime", Selector: `time`, Read: Attr("datetime")},
		},
		URL: []Strategy{
			{ID: "status-link", Selector: `a[href*="/status/"]`, Read: Attr("href")},
			{ID: "time-parent-link", Selector: `time`, Read: ParentLinkHref},
		},
		Media: []Strategy{
			{ID: "tweet-photo", Selector: `[data-testid="tweetPhoto"]`, Read: Exists},
			{ID: "video", Selector: `video, [data-testid="videoPlayer"]`, Read: Exists},
		},
		Counters: map[types.Metric][]Strategy{
			types.MetricComment: counter("reply"),
			types.MetricReshare: counter("retweet", "unretweet"),
			types.MetricLike:    counter("like", "unlike"),
			types.MetricShare:   counter("bookmark", "removeBookmark"),
		},
		Scans: []Scan{
			{ID: "group-buttons", Selector: `[role="group"] [role="button"]`, Classify: LabelClassifier(xKeywords)},
			{ID: "numeric-leaf", Selector: `span`, Classify: LeafClassifier(xKeywords)},
		},
		RetryZeroCounters: true,
	}
}

// facebookKeywords classifies Facebook engagement labels.
var facebookKeywords = MetricKeywords{
	{types.MetricComment, []string{"comment", "comentario"}},
	{types.MetricShare, []string{"compart", "share"}},
	{types.MetricLike, []string{"reaction", "reaccion", "like", "me gusta"}},
}

// FacebookProfile targets facebook.com page timelines.
func FacebookProfile(opts ProfileOptions) *Profile {
	return &Profile{
		Name:               SiteFacebook,
		ReadySelectors:     []string{`div[role="feed"]`, `div[role="article"]`, `div[role="main"]`},
		ContainerSelectors: []string{`div[role="article"]`},
		ConsentSelectors: []string{
			`div[aria-label*="Allow all cookies"]`,
			`div[aria-label*="Permitir todas las cookies"]`,
			`button[data-cookiebanner="accept_button"]`,
		},
		ScrollUntilCap: true,
		Text: []Strategy{
			{ID: "ad-preview-message", Selector: `div[data-ad-preview*="message"], div[data-ad-comet-preview="message"]`, Read: Text},
			{ID: "user-content", Selector: `.userContent`, Read: Text},
			{ID: "dir-auto", Selector: `div[dir="auto"]`, MinLen: opts.MinTextLength, Read: Text},
		},
		Date: []Strategy{
			{ID: "posts-link-span", Selector: `a[href*="/posts/"] span span`, Read: Text},
			{ID: "abbr-title", Selector: `abbr[title]`, Read: Attr("title")},
			{ID: "time-datetime", Selector: `time`, Read: Attr("datetime")},
		},
		URL: []Strategy{
			{ID: "posts-link", Selector: `a[href*="/posts/"]`, Read: Attr("href")},
			{ID: "permalink", Selector: `a[href*="/permalink/"], a[href*="story_fbid="]`, Read: Attr("href")},
		},
		Media: []Strategy{
			{ID: "cdn-image", Selector: `img[src*="scontent"]`, Read: Exists},
			{ID: "video", Selector: `video`, Read: Exists},
		},
		Counters: map[types.Metric][]Strategy{
			types.MetricLike: {
				{ID: "reaction-aria-label", Selector: `span[aria-label*="reaction"], span[aria-label*="Reacciones"], span[aria-label*="reacciones"]`, Read: Attr("aria-label")},
				{ID: "reaction-text", Selector: `span[aria-label*="reaction"], span[aria-label*="Reacciones"], span[aria-label*="reacciones"]`, Read: Text},
			},
			types.MetricComment: {
				{ID: "comment-aria-label", Selector: `span[aria-label*="comment"], span[aria-label*="Comentarios"], span[aria-label*="comentario"]`, Read: Attr("aria-label")},
				{ID: "comment-text", Selector: `span`, TextContains: []string{"comentario", "comment"}, MaxLen: 40, Read: Text},
			},
			types.MetricShare: {
				{ID: "share-text", Selector: `span`, TextContains: []string{"compart", "share"}, MaxLen: 40, Read: Text},
			},
		},
		Scans: []Scan{
			{ID: "numeric-leaf", Selector: `span`, Classify: LeafClassifier(facebookKeywords)},
		},
		MaxTextLength: 200,
	}
}
