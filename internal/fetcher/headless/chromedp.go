// Package headless renders and captures pages with a headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// renderSettle is how long Render lets scripts run after the body is ready.
const renderSettle = 500 * time.Millisecond

// Config controls the headless engine.
type Config struct {
	ExecPath    string
	MaxParallel int
	UserAgent   string
	// NavigationTimeout bounds one Render or one Session navigation.
	NavigationTimeout time.Duration
	// SettleDelay is the pause after a Session navigation before capture.
	SettleDelay  time.Duration
	WindowWidth  int
	WindowHeight int
}

// Chrome implements research.Renderer and research.Browser using chromedp.
// Tabs share one browser process; MaxParallel caps concurrent renders.
type Chrome struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
	// startBrowser launches the browser behind a context from
	// chromedp.NewContext. The browser lives as long as that context.
	startBrowser func(ctx context.Context) error
}

var (
	_ research.Renderer = (*Chrome)(nil)
	_ research.Browser  = (*Chrome)(nil)
)

// NewChromedp creates an engine backed by chromedp. The browser process
// starts lazily on the first render or session.
func NewChromedp(cfg Config) (*Chrome, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}

	c := &Chrome{
		cfg:          cfg,
		startBrowser: func(ctx context.Context) error { return chromedp.Run(ctx) },
	}
	if cfg.MaxParallel > 0 {
		c.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	c.allocator, c.allocCancel = chromedp.NewExecAllocator(context.Background(), c.allocatorOptions()...)
	return c, nil
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+7)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(c.cfg.WindowWidth, c.cfg.WindowHeight),
	)
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}
	return opts
}

// Close stops the browser process.
func (c *Chrome) Close() {
	c.allocCancel()
}

// Render loads url in a fresh tab and returns the DOM after scripts settle.
// A non-2xx document response is reported as a research.StatusError.
func (c *Chrome) Render(ctx context.Context, url string) ([]byte, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	tabCtx, closeTab := chromedp.NewContext(c.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, c.cfg.NavigationTimeout)
	defer cancel()
	// The tab context descends from the allocator, not ctx.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var doc documentStatus
	chromedp.ListenTarget(tabCtx, doc.observe)

	var html, location string
	err := chromedp.Run(tabCtx,
		c.prepareTab(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(renderSettle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp render %s: %w", url, err)
	}
	if code := doc.code(); code < 200 || code > 299 {
		return nil, research.NewStatusError("render "+doc.finalURL(location, url), code)
	}
	return []byte(html), nil
}

func (c *Chrome) prepareTab() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("override user agent: %w", err)
		}
		return nil
	})
}

func (c *Chrome) acquire(ctx context.Context) error {
	if c.slots == nil {
		return nil
	}
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for headless slot: %w", err)
	}
	return nil
}

func (c *Chrome) release() {
	if c.slots != nil {
		c.slots.Release(1)
	}
}

// documentStatus remembers the last main-document response seen in a tab.
// Sub-resources are ignored so a broken image cannot fail the page.
type documentStatus struct {
	mu     sync.Mutex
	status int
	url    string
}

func (d *documentStatus) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.mu.Unlock()
}

// code returns the document status, assuming 200 when no response event
// arrived, which happens for pages served from cache.
func (d *documentStatus) code() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == 0 {
		return 200
	}
	return d.status
}

func (d *documentStatus) finalURL(location, requested string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.url != "":
		return d.url
	case location != "":
		return location
	default:
		return requested
	}
}
