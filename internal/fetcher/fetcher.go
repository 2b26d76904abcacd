// Package fetcher downloads and cleans a batch of web pages concurrently
// under a per-URL timeout and a hard batch deadline.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/lookup-bot/internal/httpclient"
	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/sanitize"
)

// Backend selects how pages are downloaded.
type Backend string

const (
	BackendHTTP    Backend = "http"
	BackendBrowser Backend = "browser"
	// BackendAuto downloads over HTTP and renders the page in a browser when
	// the download fails or yields less than MinText runes of text.
	BackendAuto Backend = "auto"
)

// DefaultMinText is the shortest cleaned text BackendAuto accepts from a
// plain HTTP download.
const DefaultMinText = 500

// Options configures a Fetcher.
type Options struct {
	Concurrency   int
	PerURLTimeout time.Duration
	Deadline      time.Duration
	MaxBytes      int64
	UserAgent     string

	Backend  Backend
	Renderer Renderer
	MinText  int
}

func (o *Options) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 40
	}
	if o.PerURLTimeout <= 0 {
		o.PerURLTimeout = 6 * time.Second
	}
	if o.Deadline <= 0 {
		o.Deadline = 6 * time.Second
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = 16 << 20
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0"
	}
	if o.Backend == "" {
		o.Backend = BackendHTTP
	}
	if o.Backend != BackendHTTP && o.Renderer == nil {
		zap.L().Warn("fetcher: no browser renderer, using plain http", zap.String("backend", string(o.Backend)))
		o.Backend = BackendHTTP
	}
	if o.MinText <= 0 {
		o.MinText = DefaultMinText
	}
}

// Fetcher fans page downloads out over goroutines.
type Fetcher struct {
	client    *http.Client
	opts      Options
	artifacts *ArtifactWriter
	clean     func([]byte) string
}

// New creates a Fetcher. A nil client uses the shared outbound client.
func New(client *http.Client, opts Options) *Fetcher {
	opts.setDefaults()
	if client == nil {
		client = httpclient.Shared()
	}
	return &Fetcher{
		client: client,
		opts:   opts,
		clean:  sanitize.Text,
	}
}

// WithArtifacts returns a copy of f that saves every fetched page via w.
func (f *Fetcher) WithArtifacts(w *ArtifactWriter) *Fetcher {
	cp := *f
	cp.artifacts = w
	return &cp
}

// Batch holds one outcome per submitted URL, in submission order.
type Batch struct {
	Outcomes []model.FetchOutcome
	Elapsed  time.Duration
}

// Counts tallies the batch outcomes per status.
func (b *Batch) Counts() model.FetchCounts {
	var c model.FetchCounts
	for _, o := range b.Outcomes {
		c.Add(o.Status)
	}
	return c
}

// Documents returns the cleaned text of every successful page.
func (b *Batch) Documents() []model.CleanedDocument {
	var docs []model.CleanedDocument
	for _, o := range b.Outcomes {
		if d, ok := o.Document(); ok {
			docs = append(docs, d)
		}
	}
	return docs
}

// FetchAll downloads every URL concurrently, at most Concurrency at a time.
// It returns once all URLs have concluded or the batch deadline passes,
// whichever comes first; URLs still in flight at that point are recorded as
// cancelled and left to unwind in the background.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) *Batch {
	start := time.Now()
	batch := &Batch{Outcomes: make([]model.FetchOutcome, len(urls))}
	if len(urls) == 0 {
		return batch
	}

	log := zap.L().With(zap.Int("links", len(urls)))
	log.Info("fetch config",
		zap.Int("concurrency", f.opts.Concurrency),
		zap.Duration("per_url_timeout", f.opts.PerURLTimeout),
		zap.Duration("deadline", f.opts.Deadline),
	)

	deadline := start.Add(f.opts.Deadline)
	batchCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	sem := semaphore.NewWeighted(int64(f.opts.Concurrency))
	// Buffered so abandoned goroutines never block on send.
	results := make(chan model.FetchOutcome, len(urls))

	for i, u := range urls {
		target := model.FetchTarget{Index: i, URL: u}
		go func() {
			results <- f.fetchOne(batchCtx, sem, deadline, target)
		}()
	}

	received := make([]bool, len(urls))
	pending := len(urls)
	record := func(o model.FetchOutcome) {
		batch.Outcomes[o.Index] = o
		received[o.Index] = true
		pending--
	}

wait:
	for pending > 0 {
		select {
		case o := <-results:
			record(o)
		case <-batchCtx.Done():
			break wait
		}
	}

	if pending > 0 {
	drain:
		for pending > 0 {
			select {
			case o := <-results:
				record(o)
			default:
				break drain
			}
		}
	}

	if pending > 0 {
		log.Warn("fetch phase hit deadline, cancelling remaining fetchers",
			zap.Duration("deadline", f.opts.Deadline),
			zap.Int("pending", pending),
		)
		for i, ok := range received {
			if ok {
				continue
			}
			batch.Outcomes[i] = model.FetchOutcome{
				Index:   i,
				URL:     urls[i],
				Status:  model.FetchCancelled,
				Elapsed: time.Since(start),
				Err:     "batch deadline exceeded",
			}
		}
	}

	batch.Elapsed = time.Since(start)
	counts := batch.Counts()
	log.Info("fetch summary",
		zap.Int("ok", counts.OK),
		zap.Int("timeout", counts.Timeout),
		zap.Int("cancelled", counts.Cancelled),
		zap.Int("failed", counts.Failed),
		zap.Duration("elapsed", batch.Elapsed),
	)
	return batch
}

// fetchOne runs a single URL to completion. It never panics and always
// returns exactly one outcome.
func (f *Fetcher) fetchOne(ctx context.Context, sem *semaphore.Weighted, deadline time.Time, target model.FetchTarget) (out model.FetchOutcome) {
	out = model.FetchOutcome{Index: target.Index, URL: target.URL}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.Status = model.FetchFailed
			out.Err = fmt.Sprintf("panic: %v", r)
			out.Body, out.Text = nil, ""
			zap.L().Error("fetch panicked", zap.Int("index", target.Index+1), zap.String("url", target.URL), zap.Any("panic", r))
		}
		out.Elapsed = time.Since(started)
	}()

	if err := sem.Acquire(ctx, 1); err != nil {
		out.Status = model.FetchCancelled
		out.Err = err.Error()
		return out
	}
	defer sem.Release(1)

	urlCtx, cancel := context.WithTimeout(ctx, f.opts.PerURLTimeout)
	defer cancel()

	p, text, err := f.load(urlCtx, target.URL)
	if err != nil {
		out.Status = classify(ctx, urlCtx, deadline, err)
		out.Err = err.Error()
		zap.L().Warn("fetch "+string(out.Status),
			zap.Int("index", target.Index+1),
			zap.String("url", target.URL),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
		return out
	}

	out.Status = model.FetchOK
	out.FinalURL = p.finalURL
	out.Body = p.body
	out.Text = text

	if f.artifacts != nil {
		if err := f.artifacts.WritePage(target.Index, p.finalURL, p.body, out.Text); err != nil {
			zap.L().Warn("fetch: write artifacts", zap.Int("index", target.Index+1), zap.Error(err))
		}
	}
	return out
}

// load fetches and cleans one page with the configured backend.
func (f *Fetcher) load(ctx context.Context, rawURL string) (*page, string, error) {
	if f.opts.Backend == BackendBrowser {
		return f.render(ctx, rawURL)
	}

	p, err := f.download(ctx, rawURL)
	var text string
	if err == nil {
		text = f.cleanPage(p)
	}
	if f.opts.Backend != BackendAuto || ctx.Err() != nil {
		return p, text, err
	}
	if err == nil && utf8.RuneCountInString(text) >= f.opts.MinText {
		return p, text, nil
	}

	rp, rtext, rerr := f.render(ctx, rawURL)
	if rerr != nil {
		zap.L().Debug("fetch: browser fallback failed", zap.String("url", rawURL), zap.Error(rerr))
		return p, text, err
	}
	if err != nil || utf8.RuneCountInString(rtext) > utf8.RuneCountInString(text) {
		return rp, rtext, nil
	}
	return p, text, nil
}

// render loads a page through the browser renderer.
func (f *Fetcher) render(ctx context.Context, rawURL string) (*page, string, error) {
	rp, err := f.opts.Renderer.Render(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	body := []byte(rp.HTML)
	if int64(len(body)) > f.opts.MaxBytes {
		body = body[:f.opts.MaxBytes]
	}
	finalURL := rp.URL
	if finalURL == "" {
		finalURL = rawURL
	}
	p := &page{finalURL: finalURL, body: body, contentType: "text/html; charset=utf-8"}
	return p, f.cleanPage(p), nil
}

func (f *Fetcher) cleanPage(p *page) string {
	if len(p.body) == 0 {
		return ""
	}
	return f.clean(sanitize.Decode(p.body, p.contentType))
}

// classify maps a download error to a fetch status. Anything that fails at
// or after the batch deadline is cancelled, not timed out.
func classify(batchCtx, urlCtx context.Context, deadline time.Time, err error) model.FetchStatus {
	if batchCtx.Err() != nil || !time.Now().Before(deadline) {
		return model.FetchCancelled
	}
	if errors.Is(urlCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return model.FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FetchTimeout
	}
	return model.FetchFailed
}
