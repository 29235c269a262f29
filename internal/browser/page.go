package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/postpulse/internal/dom"
)

// ErrNotReady is returned when none of the ready selectors appeared in time.
var ErrNotReady = errors.New("page not ready")

// DefaultActionTimeout bounds single DOM operations on a live page.
const DefaultActionTimeout = 15 * time.Second

const readyPollInterval = 250 * time.Millisecond

// Page drives the session's tab: navigation, waits, scrolling and container
// collection.
type Page struct {
	sess          *Session
	actionTimeout time.Duration
	log           zerolog.Logger
}

// NewPage returns a Page on the session's tab. actionTimeout bounds each DOM
// operation, including reads made through the returned containers.
func (s *Session) NewPage(actionTimeout time.Duration) *Page {
	if actionTimeout <= 0 {
		actionTimeout = DefaultActionTimeout
	}
	return &Page{sess: s, actionTimeout: actionTimeout, log: s.log}
}

// bind derives an action context from the tab context, bounded by timeout
// and cancelled together with ctx.
func bind(ctx, tab context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

// runOn executes actions on the tab. A failure after ctx is cancelled is
// reported as ctx.Err().
func runOn(ctx, tab context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := bind(ctx, tab, timeout)
	defer cancel()

	err := chromedp.Run(tctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	return runOn(ctx, p.sess.ctx, timeout, actions...)
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitReady polls until any selector matches or timeout elapses.
func (p *Page) WaitReady(ctx context.Context, selectors []string, timeout time.Duration) error {
	if len(selectors) == 0 {
		return nil
	}
	list, err := json.Marshal(selectors)
	if err != nil {
		return err
	}
	js := fmt.Sprintf(`(sels => sels.findIndex(s => document.querySelector(s) !== null))(%s)`, list)

	deadline := time.After(timeout)
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		var idx int
		if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(js, &idx)); err == nil && idx >= 0 {
			p.log.Debug().Str("selector", selectors[idx]).Msg("page ready")
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-deadline:
			return fmt.Errorf("%w: none of %d selectors appeared within %v", ErrNotReady, len(selectors), timeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DismissConsent clicks the first matching consent button, if any.
func (p *Page) DismissConsent(ctx context.Context, selectors []string) (bool, error) {
	for _, sel := range selectors {
		var nodes []*cdp.Node
		if err := p.run(ctx, p.actionTimeout, chromedp.Nodes(sel, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		if len(nodes) == 0 {
			continue
		}
		if err := p.run(ctx, p.actionTimeout, chromedp.MouseClickNode(nodes[0])); err != nil {
			return false, fmt.Errorf("failed to click consent button: %w", err)
		}
		p.log.Debug().Str("selector", sel).Msg("consent banner dismissed")
		return true, nil
	}
	return false, nil
}

// Scroll jumps to the bottom of the document and returns its height, so the
// caller can tell whether the feed grew.
func (p *Page) Scroll(ctx context.Context) (int64, error) {
	var height int64
	err := p.run(ctx, p.actionTimeout,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight); document.body.scrollHeight`, &height),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to scroll: %w", err)
	}
	return height, nil
}

// Containers returns the elements matched by the first selector yielding any.
func (p *Page) Containers(ctx context.Context, selectors []string) ([]dom.Node, error) {
	for _, sel := range selectors {
		var nodes []*cdp.Node
		if err := p.run(ctx, p.actionTimeout, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to query containers %q: %w", sel, err)
		}
		if len(nodes) == 0 {
			continue
		}
		p.log.Debug().Str("selector", sel).Int("count", len(nodes)).Msg("containers found")
		out := make([]dom.Node, len(nodes))
		for i, n := range nodes {
			out[i] = &Node{ctx: ctx, tab: p.sess.ctx, timeout: p.actionTimeout, node: n}
		}
		return out, nil
	}
	return nil, nil
}
