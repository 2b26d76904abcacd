package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RenderedPage is the HTML of a page after scripts ran.
type RenderedPage struct {
	URL  string
	HTML string
}

// Renderer loads pages in a real browser. Implementations must return
// once ctx is done.
type Renderer interface {
	Render(ctx context.Context, url string) (RenderedPage, error)
}

// BrowserOptions configures a BrowserRenderer.
type BrowserOptions struct {
	// ExecPath is the Chrome binary. Empty lets chromedp search the usual
	// install locations.
	ExecPath  string
	UserAgent string
	ProxyURL  string
	// Settle is how long to wait after the body is ready.
	Settle time.Duration
}

// BrowserRenderer renders pages in tabs of one headless Chrome process.
// The process starts on the first Render and stops on Close.
type BrowserRenderer struct {
	opts BrowserOptions

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	closed        bool
}

// NewBrowserRenderer creates a renderer. No browser is launched yet.
func NewBrowserRenderer(opts BrowserOptions) *BrowserRenderer {
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	return &BrowserRenderer{opts: opts}
}

func (r *BrowserRenderer) start() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, eris.New("fetcher: browser closed")
	}
	if r.browserCtx != nil {
		return r.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.opts.ExecPath))
	}
	if r.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.opts.UserAgent))
	}
	if r.opts.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(r.opts.ProxyURL))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, eris.Wrap(err, "fetcher: start browser")
	}
	zap.L().Info("fetcher: headless browser started")

	r.browserCtx = browserCtx
	r.cancelBrowser = cancelBrowser
	r.cancelAlloc = cancelAlloc
	return browserCtx, nil
}

// Render opens url in a new tab and returns the rendered document.
func (r *BrowserRenderer) Render(ctx context.Context, url string) (RenderedPage, error) {
	if err := ctx.Err(); err != nil {
		return RenderedPage{}, eris.Wrap(err, "fetcher: render")
	}
	browserCtx, err := r.start()
	if err != nil {
		return RenderedPage{}, err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html, location string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(r.opts.Settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RenderedPage{}, eris.Wrap(ctxErr, "fetcher: render")
		}
		return RenderedPage{}, eris.Wrapf(err, "fetcher: render %s", url)
	}
	return RenderedPage{URL: location, HTML: html}, nil
}

// Close stops the browser. Later renders fail.
func (r *BrowserRenderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.cancelBrowser != nil {
		r.cancelBrowser()
		r.cancelAlloc()
		r.browserCtx = nil
	}
}
