package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Open starts one browser shared by every capture in the session.
// A failure to start within NavigationTimeout is reported as
// research.ErrCaptureUnavailable.
func (c *Chrome) Open(ctx context.Context) (research.Session, error) {
	browserCtx, browserCancel := chromedp.NewContext(c.allocator)

	// The first Run binds the browser to its context, so it must run on
	// browserCtx itself and be bounded from outside.
	started := make(chan error, 1)
	go func() { started <- c.startBrowser(browserCtx) }()

	timer := time.NewTimer(c.cfg.NavigationTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-started:
	case <-timer.C:
		err = fmt.Errorf("browser did not start within %s", c.cfg.NavigationTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		return nil, fmt.Errorf("%w: %w", research.ErrCaptureUnavailable, err)
	}
	return &session{
		ctx:    browserCtx,
		cancel: browserCancel,
		cfg:    c.cfg,
	}, nil
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
}

// Capture loads url in a fresh tab of the session browser and returns a
// viewport PNG. The tab closes when Capture returns.
func (s *session) Capture(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = s.cfg.NavigationTimeout
	}
	tabCtx, closeTab := chromedp.NewContext(s.ctx)
	defer closeTab()
	taskCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var png []byte
	err := chromedp.Run(taskCtx,
		chromedp.EmulateViewport(int64(s.cfg.WindowWidth), int64(s.cfg.WindowHeight)),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
		chromedp.CaptureScreenshot(&png),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("capture %s: %w", url, ctxErr)
		}
		return nil, fmt.Errorf("capture %s: %w", url, err)
	}
	if len(png) == 0 {
		return nil, errors.New("capture produced an empty image")
	}
	return png, nil
}

// Close shuts the browser.
func (s *session) Close() error {
	s.cancel()
	return nil
}
