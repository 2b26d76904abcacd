// Package search is a client for the external search microservices: the
// link search (SERP) service and the assistant that answers directly.
package search

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lookup-bot/internal/httpclient"
	"github.com/sells-group/lookup-bot/internal/resilience"
)

// Client defines the search service operations.
type Client interface {
	// Search returns the result links for query, deduplicated in order.
	Search(ctx context.Context, query string) resilience.Result[[]string]
	// Ask returns the assistant's raw text answer about query.
	Ask(ctx context.Context, query string) resilience.Result[string]
}

// DefaultTimeout bounds a single search service call.
const DefaultTimeout = 36 * time.Second

// maxResponseBytes caps how much of a search response is read.
const maxResponseBytes = 8 << 20

// Option configures the search client.
type Option func(*httpClient)

// WithLinksURL sets the base URL of the link search service.
func WithLinksURL(u string) Option {
	return func(c *httpClient) {
		c.linksURL = u
	}
}

// WithAssistantURL sets the base URL of the assistant service.
func WithAssistantURL(u string) Option {
	return func(c *httpClient) {
		c.assistantURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker guards both services with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	linksURL     string
	assistantURL string
	timeout      time.Duration
	http         *http.Client
	breaker      *resilience.CircuitBreaker
}

// NewClient creates a search client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		timeout: DefaultTimeout,
		http:    httpclient.Shared(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AssistantQuery rephrases a user query so the assistant also reports
// people in related positions.
func AssistantQuery(query string) string {
	return "найди " + strings.TrimSpace(query) + " либо близкие должности в этой компании"
}

func (c *httpClient) Search(ctx context.Context, query string) resilience.Result[[]string] {
	const op = "search: links"
	if strings.TrimSpace(c.linksURL) == "" {
		return resilience.Failed[[]string](resilience.Errorf(resilience.KindConfig, op, "links url not set"))
	}

	started := time.Now()
	var links []string
	err := c.guard(ctx, func(ctx context.Context) error {
		body, header, err := c.get(ctx, op, c.linksURL, query)
		if err != nil {
			return err
		}
		ct, _, _ := mime.ParseMediaType(header.Get("Content-Type"))
		if ct != "application/json" {
			return resilience.Errorf(resilience.KindMalformed, op, "non-json response %q", ct)
		}
		decoded, err := Decode(body)
		if err != nil {
			return resilience.Wrap(resilience.KindMalformed, op, err)
		}
		links = ExtractLinks(decoded)
		return nil
	})

	zap.L().Info("search links done",
		zap.Int("links", len(links)),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(err),
	)
	if err != nil {
		return resilience.Failed[[]string](err)
	}
	if len(links) == 0 {
		return resilience.Empty[[]string]()
	}
	return resilience.OK(links)
}

func (c *httpClient) Ask(ctx context.Context, query string) resilience.Result[string] {
	const op = "search: assistant"
	if strings.TrimSpace(c.assistantURL) == "" {
		return resilience.Failed[string](resilience.Errorf(resilience.KindConfig, op, "assistant url not set"))
	}

	started := time.Now()
	var text string
	err := c.guard(ctx, func(ctx context.Context) error {
		body, _, err := c.get(ctx, op, c.assistantURL, AssistantQuery(query))
		if err != nil {
			return err
		}
		text = strings.TrimSpace(string(body))
		return nil
	})

	zap.L().Info("assistant done",
		zap.Int("body_chars", len([]rune(text))),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(err),
	)
	if err != nil {
		return resilience.Failed[string](err)
	}
	if text == "" {
		return resilience.Empty[string]()
	}
	return resilience.OK(text)
}

func (c *httpClient) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// get issues GET {base}/search?q=query under the client timeout.
func (c *httpClient) get(ctx context.Context, op, base, query string) ([]byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := strings.TrimRight(base, "/") + "/search?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, nil, resilience.Wrap(resilience.KindConfig, op, eris.Wrap(err, "create request"))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, resilience.Wrap(resilience.KindTransport, op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, resilience.Errorf(resilience.KindTransport, op, "unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, resilience.Wrap(resilience.KindTransport, op, eris.Wrap(err, "read body"))
	}
	return body, resp.Header, nil
}
