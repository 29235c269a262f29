// Package extract pulls engagement records out of post containers by running
// ranked selector strategies per field. The first strategy that yields a
// non-empty (or non-zero) value wins; misses fall through silently.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ibeckermayer/postpulse/internal/dom"
	"github.com/ibeckermayer/postpulse/internal/normalize"
	"github.com/ibeckermayer/postpulse/internal/pacing"
	"github.com/ibeckermayer/postpulse/internal/types"
)

var (
	// ErrEmpty is returned for containers with neither text nor URL.
	ErrEmpty = errors.New("container has no text and no url")
	// ErrFiltered is returned for containers whose text matches no keyword.
	ErrFiltered = errors.New("container text matches no keyword")
	// ErrPanic wraps a panic raised while reading a container.
	ErrPanic = errors.New("panic reading container")
)

// Options tunes an Extractor.
type Options struct {
	// MaxAttempts bounds re-reads of a container's field set after a stale
	// element (and, for profiles that ask for it, while all counters are 0).
	MaxAttempts int
	RetryDelay  time.Duration
	// MaxTextLength overrides the profile's truncation when positive.
	MaxTextLength int
	// Keywords overrides the profile's keyword filter when non-empty.
	Keywords []string
	Sleeper  pacing.Sleeper
	Logger   zerolog.Logger
	Now      func() time.Time
}

// DefaultMaxAttempts is the retry bound used when Options leaves it unset.
const DefaultMaxAttempts = 3

// DefaultRetryDelay is the pause between re-reads.
const DefaultRetryDelay = time.Second

// Extractor runs a Profile's strategies against containers.
type Extractor struct {
	profile    *Profile
	normalizer *normalize.Normalizer
	opts       Options
	log        zerolog.Logger
}

// New creates an Extractor.
func New(p *Profile, n *normalize.Normalizer, opts Options) *Extractor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.Sleeper == nil {
		opts.Sleeper = pacing.Real
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = p.MaxTextLength
	}
	if len(opts.Keywords) == 0 {
		opts.Keywords = p.Keywords
	}
	if n == nil {
		n = normalize.New(normalize.Options{})
	}
	return &Extractor{
		profile:    p,
		normalizer: n,
		opts:       opts,
		log:        opts.Logger.With().Str("component", "extract").Str("site", p.Name).Logger(),
	}
}

// Profile returns the profile in use.
func (e *Extractor) Profile() *Profile {
	return e.profile
}

// URL resolves a container's permalink against base for de-duplication.
// Stale reads are retried; an unresolvable URL is returned as "". A panic
// inside a strategy is returned as an error.
func (e *Extractor) URL(ctx context.Context, node dom.Node, base *url.URL) (u string, err error) {
	defer func() {
		if r := recover(); r != nil {
			u, err = "", fmt.Errorf("%w url: %v", ErrPanic, r)
		}
	}()

	var resolved string
	err = e.retry(ctx, func() (bool, error) {
		v, _, err := e.runString(node, FieldURL, e.profile.URL)
		resolved = v
		return false, err
	})
	if err != nil {
		return "", err
	}
	return Canonical(base, resolved), nil
}

// fieldSet is one pass over every field of a container.
type fieldSet struct {
	text, date, url string
	media           bool
	counters        types.Counters
	parsed          map[types.Metric]bool
	trace           Trace
}

// Extract reads every field of a container and builds a record.
//
// It returns ErrEmpty or ErrFiltered for containers that must not be emitted,
// and ctx.Err() on cancellation. Stale elements are retried and then accepted
// with whatever was read; a panic inside a strategy is returned as an error.
func (e *Extractor) Extract(ctx context.Context, account string, node dom.Node, base *url.URL) (rec types.EngagementRecord, trace Trace, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	var fs fieldSet
	err = e.retry(ctx, func() (bool, error) {
		pass, perr := e.readFields(node)
		fs = pass
		if perr != nil {
			return false, perr
		}
		return e.profile.RetryZeroCounters && pass.counters.IsZero(), nil
	})
	if err != nil {
		return rec, fs.trace, err
	}

	rec = types.EngagementRecord{
		SourceAccount: account,
		Site:          e.profile.Name,
		Text:          truncate(fs.text, e.opts.MaxTextLength),
		PublishedAt:   fs.date,
		URL:           Canonical(base, fs.url),
		HasMedia:      fs.media,
		Counters:      fs.counters,
		Mentions:      strings.Count(fs.text, "@"),
		ScrapedAt:     e.opts.Now(),
	}
	if e.normalizer.Strict() {
		for _, m := range types.Metrics {
			if e.profile.Supports(m) && !fs.parsed[m] {
				rec.Missing = append(rec.Missing, m)
			}
		}
	}

	if !rec.Emittable() {
		return rec, fs.trace, ErrEmpty
	}
	if !ContainsAny(fs.text, e.opts.Keywords) {
		return rec, fs.trace, ErrFiltered
	}
	return rec, fs.trace, nil
}

// retry runs fn until it neither reports a stale element nor asks for another
// pass, or until MaxAttempts is reached. Exhaustion is not an error.
func (e *Extractor) retry(ctx context.Context, fn func() (again bool, err error)) error {
	for attempt := 1; ; attempt++ {
		again, err := fn()
		if err != nil && !dom.IsStale(err) {
			return err
		}
		if err == nil && !again {
			return nil
		}
		if attempt >= e.opts.MaxAttempts {
			if err != nil {
				e.log.Debug().Int("attempts", attempt).Msg("element still stale, accepting partial fields")
			}
			return nil
		}
		e.log.Debug().Int("attempt", attempt).Bool("stale", err != nil).Msg("re-reading container")
		if serr := e.opts.Sleeper.Sleep(ctx, e.opts.RetryDelay); serr != nil {
			return serr
		}
	}
}

// readFields makes one pass over all fields. A stale error aborts the pass and
// is returned together with what was read so far.
func (e *Extractor) readFields(node dom.Node) (fieldSet, error) {
	fs := fieldSet{parsed: make(map[types.Metric]bool)}

	var media string
	for _, sf := range []struct {
		field      Field
		dst        *string
		strategies []Strategy
	}{
		{FieldText, &fs.text, e.profile.Text},
		{FieldURL, &fs.url, e.profile.URL},
		{FieldDate, &fs.date, e.profile.Date},
		{FieldMedia, &media, e.profile.Media},
	} {
		v, attempts, err := e.runString(node, sf.field, sf.strategies)
		fs.trace = append(fs.trace, attempts...)
		if err != nil {
			return fs, err
		}
		*sf.dst = v
	}
	fs.media = media != ""

	for _, m := range types.Metrics {
		v, parsed, attempts, err := e.runCounter(node, m, e.profile.Counters[m])
		fs.trace = append(fs.trace, attempts...)
		if err != nil {
			return fs, err
		}
		fs.counters.Set(m, v)
		if parsed {
			fs.parsed[m] = true
		}
	}

	for _, scan := range e.profile.Scans {
		attempts, err := e.runScan(node, scan, &fs)
		fs.trace = append(fs.trace, attempts...)
		if err != nil {
			return fs, err
		}
	}
	return fs, nil
}

// locate returns the strategy's candidates, or the container itself.
func locate(node dom.Node, s Strategy) ([]dom.Node, error) {
	if s.Selector == "" {
		return []dom.Node{node}, nil
	}
	return node.Find(s.Selector)
}

// candidates runs a strategy and returns every value it reads, in order.
// Only stale errors escape; anything else ends the strategy as a miss.
func (e *Extractor) candidates(node dom.Node, s Strategy, yield func(string) bool) error {
	nodes, err := locate(node, s)
	if err != nil {
		if dom.IsStale(err) {
			return err
		}
		return nil
	}
	for _, n := range nodes {
		if len(s.TextContains) > 0 {
			text, err := n.Text()
			if err != nil {
				if dom.IsStale(err) {
					return err
				}
				continue
			}
			if !ContainsAny(text, s.TextContains) {
				continue
			}
		}
		v, err := s.Read(n)
		if err != nil {
			if dom.IsStale(err) {
				return err
			}
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		runes := utf8.RuneCountInString(v)
		if s.MinLen > 0 && runes <= s.MinLen {
			continue
		}
		if s.MaxLen > 0 && runes > s.MaxLen {
			continue
		}
		if !yield(v) {
			return nil
		}
	}
	return nil
}

func (e *Extractor) runString(node dom.Node, f Field, strategies []Strategy) (string, Trace, error) {
	var trace Trace
	for _, s := range strategies {
		var value string
		err := e.candidates(node, s, func(v string) bool {
			value = v
			return false
		})
		if err != nil {
			trace = append(trace, Attempt{Field: f, Strategy: s.ID, Err: err})
			return "", trace, err
		}
		if value != "" {
			trace = append(trace, Attempt{Field: f, Strategy: s.ID, Value: value, Matched: true})
			return value, trace, nil
		}
		trace = append(trace, Attempt{Field: f, Strategy: s.ID})
	}
	return "", trace, nil
}

func (e *Extractor) runCounter(node dom.Node, m types.Metric, strategies []Strategy) (int64, bool, Trace, error) {
	f := CounterField(m)
	var trace Trace
	parsedAny := false
	for _, s := range strategies {
		var value int64
		err := e.candidates(node, s, func(raw string) bool {
			v, ok := e.normalizer.Parse(raw)
			if ok {
				parsedAny = true
			}
			if v > 0 {
				value = v
				return false
			}
			return true
		})
		if err != nil {
			trace = append(trace, Attempt{Field: f, Strategy: s.ID, Err: err})
			return 0, parsedAny, trace, err
		}
		if value > 0 {
			trace = append(trace, Attempt{Field: f, Strategy: s.ID, Value: value, Matched: true})
			return value, true, trace, nil
		}
		trace = append(trace, Attempt{Field: f, Strategy: s.ID})
	}
	return 0, parsedAny, trace, nil
}

// runScan fills counters that no dedicated strategy resolved.
func (e *Extractor) runScan(node dom.Node, scan Scan, fs *fieldSet) (Trace, error) {
	pending := make(map[types.Metric]bool)
	for _, m := range types.Metrics {
		if fs.counters.Get(m) == 0 {
			pending[m] = true
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	nodes, err := node.Find(scan.Selector)
	if err != nil {
		if dom.IsStale(err) {
			return Trace{{Strategy: scan.ID, Err: err}}, err
		}
		return nil, nil
	}

	var trace Trace
	for _, n := range nodes {
		m, raw, ok, err := scan.Classify(n)
		if err != nil {
			if dom.IsStale(err) {
				trace = append(trace, Attempt{Strategy: scan.ID, Err: err})
				return trace, err
			}
			continue
		}
		if !ok || !pending[m] {
			continue
		}
		v, parsed := e.normalizer.Parse(raw)
		if parsed {
			fs.parsed[m] = true
		}
		if v <= 0 {
			continue
		}
		fs.counters.Set(m, v)
		delete(pending, m)
		trace = append(trace, Attempt{Field: CounterField(m), Strategy: scan.ID, Value: v, Matched: true})
		if len(pending) == 0 {
			break
		}
	}
	return trace, nil
}

// truncate cuts s to n runes; n <= 0 keeps s.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Canonical resolves href against base and drops the fragment and tracking
// query parameters (those starting with "__"), so one post renders to one key.
func Canonical(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Fragment = ""
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if strings.HasPrefix(k, "__") {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
