package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// Session owns one Chrome process and the single tab every page of a run is
// rendered in.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	settings    Settings
	log         zerolog.Logger
}

// NewSession launches Chrome. The browser lives until Close or until ctx is
// cancelled.
func NewSession(ctx context.Context, s Settings, logger zerolog.Logger) (*Session, error) {
	logger = logger.With().Str("component", "browser").Logger()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, Options(s)...)
	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(f string, a ...any) { logger.Debug().Msgf(f, a...) }),
		chromedp.WithErrorf(func(f string, a ...any) { logger.Debug().Msgf(f, a...) }),
	)

	sess := &Session{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		settings:    s,
		log:         logger,
	}

	// The first Run starts the browser.
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if lang := AcceptLanguage(s.Lang); lang != "" {
		err := chromedp.Run(tabCtx, network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": lang}))
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("failed to set language headers: %w", err)
		}
	}

	logger.Debug().Bool("headless", s.Headless).Str("proxy", s.Proxy).Msg("browser started")
	return sess, nil
}

// Context returns the tab context; chromedp actions run against it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// SetCookies injects cookies into the browser before navigation.
func (s *Session) SetCookies(cookies []*network.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	err := chromedp.Run(s.ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				err := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithSameSite(c.SameSite).
					Do(ctx)
				if err != nil {
					return err
				}
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to inject cookies: %w", err)
	}
	s.log.Debug().Int("count", len(cookies)).Msg("cookies injected")
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() {
	s.cancel()
	s.allocCancel()
}
