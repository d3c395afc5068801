// Package render drives a headless Chrome to a page and hands back the DOM as the
// browser finally sees it.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type Options struct {
	ExecPath          string // Chrome binary, looked up on PATH when empty
	UserAgent         string
	NavigationTimeout time.Duration
	MaxScrolls        int
	IdleTimeout       time.Duration // Longest wait for the network to settle after a scroll
	QuietWindow       time.Duration // How long the network must stay quiet to count as idle
}

// Renderer starts a fresh browser for every call. Nothing (cookies, storage,
// cache) is shared between two renders.
type Renderer struct {
	opts Options
}

func New(opts Options) *Renderer {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.NavigationTimeout == 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.MaxScrolls == 0 {
		opts.MaxScrolls = 5
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 3 * time.Second
	}
	if opts.QuietWindow == 0 {
		opts.QuietWindow = 500 * time.Millisecond
	}

	return &Renderer{opts: opts}
}

// Render loads pageURL and returns its outer HTML. With scroll set the page is
// scrolled to the bottom a bounded number of times to trigger lazy loading.
//
// Every failure comes back as a [wishsync.ReasonCannotRender] error.
func (r *Renderer) Render(ctx context.Context, pageURL string, scroll bool) (string, error) {
	html, err := r.render(ctx, pageURL, scroll)
	if err != nil {
		return "", wishsync.Fail(wishsync.ReasonCannotRender, err)
	}

	return html, nil
}

func (r *Renderer) render(ctx context.Context, pageURL string, scroll bool) (string, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(r.opts.UserAgent),
	)
	if r.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.opts.ExecPath))
	}

	// Both cancels kill the browser process and remove its temp profile.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// The first Run starts the browser and ties its lifetime to browserCtx, so
	// it must not be given one of the shorter timeout contexts below.
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		return "", fmt.Errorf("error starting browser: %w", err)
	}

	tracker := newIdleTracker()
	chromedp.ListenTarget(browserCtx, tracker.observe)

	navCtx, cancelNav := context.WithTimeout(browserCtx, r.opts.NavigationTimeout)
	defer cancelNav()
	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(pageURL))
	if err != nil {
		return "", fmt.Errorf("error navigating to %s: %w", pageURL, err)
	}
	if resp == nil {
		return "", fmt.Errorf("no response navigating to %s", pageURL)
	}
	if resp.Status != http.StatusOK {
		return "", fmt.Errorf("unexpected status navigating to %s: %d", pageURL, resp.Status)
	}

	if scroll {
		if err := r.scrollToBottom(browserCtx, tracker); err != nil {
			return "", err
		}
	}

	var html string
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("error reading document: %w", err)
	}

	return html, nil
}

const (
	heightScript = `document.body ? document.body.scrollHeight : 0`
	scrollScript = `window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`
)

// Scrolls until the page height stops growing or the scroll budget runs out.
func (r *Renderer) scrollToBottom(ctx context.Context, tracker *idleTracker) error {
	var last float64
	if err := chromedp.Run(ctx, chromedp.Evaluate(heightScript, &last)); err != nil {
		return fmt.Errorf("error measuring page: %w", err)
	}

	for i := 0; i < r.opts.MaxScrolls; i++ {
		if err := chromedp.Run(ctx, chromedp.Evaluate(scrollScript, nil)); err != nil {
			return fmt.Errorf("error scrolling page: %w", err)
		}
		tracker.waitIdle(ctx, r.opts.QuietWindow, r.opts.IdleTimeout)

		var height float64
		if err := chromedp.Run(ctx, chromedp.Evaluate(heightScript, &height)); err != nil {
			return fmt.Errorf("error measuring page: %w", err)
		}
		if height == last {
			slog.DebugContext(ctx, "page height settled", "scrolls", i+1, "height", height)
			break
		}
		last = height
	}

	return nil
}

// idleTracker follows in-flight network requests of one tab.
type idleTracker struct {
	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
}

// Called from chromedp's event loop, so it must never block.
func (t *idleTracker) observe(ev any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inflight[ev.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.inflight, ev.RequestID)
	case *network.EventLoadingFailed:
		delete(t.inflight, ev.RequestID)
	default:
		return
	}
	t.lastActivity = time.Now()
}

func (t *idleTracker) quietFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.inflight) > 0 {
		return 0
	}
	return time.Since(t.lastActivity)
}

// waitIdle blocks until no request has been in flight for quiet, or timeout
// passes. Running out of time is not an error.
func (t *idleTracker) waitIdle(ctx context.Context, quiet, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if t.quietFor() >= quiet {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}
