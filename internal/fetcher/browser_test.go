package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/lookup-bot/internal/model"
)

type fakeRenderer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, url string) (RenderedPage, error)
}

func (r *fakeRenderer) Render(ctx context.Context, url string) (RenderedPage, error) {
	r.calls.Add(1)
	return r.fn(ctx, url)
}

func renderedPage(sentence string) func(context.Context, string) (RenderedPage, error) {
	return func(_ context.Context, url string) (RenderedPage, error) {
		return RenderedPage{URL: url + "#rendered", HTML: pageHTML(sentence)}, nil
	}
}

func TestFetchAll_BrowserBackend(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	r := &fakeRenderer{fn: renderedPage("Rendered page names the chief executive")}
	f := New(srv.Client(), Options{Backend: BackendBrowser, Renderer: r})
	batch := f.FetchAll(context.Background(), []string{srv.URL + "/a", srv.URL + "/b"})

	assert.Equal(t, model.FetchCounts{OK: 2}, batch.Counts())
	assert.Equal(t, "Rendered page names the chief executive", batch.Outcomes[0].Text)
	assert.Equal(t, srv.URL+"/a#rendered", batch.Outcomes[0].FinalURL)
	assert.Equal(t, int32(2), r.calls.Load())
	assert.Zero(t, hits.Load())
}

func TestFetchAll_BrowserBackendTimeout(t *testing.T) {
	r := &fakeRenderer{fn: func(ctx context.Context, _ string) (RenderedPage, error) {
		<-ctx.Done()
		return RenderedPage{}, ctx.Err()
	}}
	f := New(nil, Options{Backend: BackendBrowser, Renderer: r, PerURLTimeout: 50 * time.Millisecond, Deadline: 2 * time.Second})

	batch := f.FetchAll(context.Background(), []string{"https://slow.example.com"})
	assert.Equal(t, model.FetchTimeout, batch.Outcomes[0].Status)
}

func TestFetchAll_BrowserConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	r := &fakeRenderer{fn: func(_ context.Context, url string) (RenderedPage, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return RenderedPage{HTML: pageHTML("Rendered text for " + url)}, nil
	}}
	f := New(nil, Options{Backend: BackendBrowser, Renderer: r, Concurrency: 2, Deadline: 5 * time.Second})

	urls := make([]string, 6)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	batch := f.FetchAll(context.Background(), urls)

	assert.Equal(t, 6, batch.Counts().OK)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFetchAll_AutoBackend(t *testing.T) {
	long := strings.Repeat("Jane Doe is the chief executive officer. ", 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blocked":
			w.WriteHeader(http.StatusForbidden)
		case "/spa":
			fmt.Fprint(w, `<html><body><div id="root"></div></body></html>`)
		default:
			fmt.Fprint(w, pageHTML(long))
		}
	}))
	defer srv.Close()

	r := &fakeRenderer{fn: renderedPage("Rendered page names the chief executive")}
	f := New(srv.Client(), Options{Backend: BackendAuto, Renderer: r, MinText: 50})
	batch := f.FetchAll(context.Background(), []string{srv.URL + "/static", srv.URL + "/spa", srv.URL + "/blocked"})

	require.Equal(t, model.FetchCounts{OK: 3}, batch.Counts())
	assert.Equal(t, strings.TrimSpace(long), batch.Outcomes[0].Text)
	assert.Equal(t, srv.URL+"/static", batch.Outcomes[0].FinalURL)
	assert.Equal(t, "Rendered page names the chief executive", batch.Outcomes[1].Text)
	assert.Equal(t, "Rendered page names the chief executive", batch.Outcomes[2].Text)
	assert.Equal(t, int32(2), r.calls.Load())
}

func TestFetchAll_AutoBackendRenderFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/blocked" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, pageHTML("Short but usable page text"))
	}))
	defer srv.Close()

	r := &fakeRenderer{fn: func(context.Context, string) (RenderedPage, error) {
		return RenderedPage{}, errors.New("chrome not found")
	}}
	f := New(srv.Client(), Options{Backend: BackendAuto, Renderer: r})
	batch := f.FetchAll(context.Background(), []string{srv.URL + "/blocked", srv.URL + "/short"})

	assert.Equal(t, model.FetchFailed, batch.Outcomes[0].Status)
	assert.Contains(t, batch.Outcomes[0].Err, "403")
	require.Equal(t, model.FetchOK, batch.Outcomes[1].Status)
	assert.Equal(t, "Short but usable page text", batch.Outcomes[1].Text)
}

func TestNew_BrowserWithoutRenderer(t *testing.T) {
	f := New(nil, Options{Backend: BackendAuto})
	assert.Equal(t, BackendHTTP, f.opts.Backend)
	assert.Equal(t, DefaultMinText, f.opts.MinText)
}

func TestFetchAll_HeaderCharset(t *testing.T) {
	body, err := charmap.Windows1251.NewEncoder().Bytes([]byte(pageHTML("Генеральный директор компании Иван Петров")))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := New(srv.Client(), Options{})
	batch := f.FetchAll(context.Background(), []string{srv.URL})

	require.Equal(t, model.FetchOK, batch.Outcomes[0].Status)
	assert.Equal(t, "Генеральный директор компании Иван Петров", batch.Outcomes[0].Text)
	assert.Equal(t, body, batch.Outcomes[0].Body)
}

func TestBrowserRenderer_Closed(t *testing.T) {
	r := NewBrowserRenderer(BrowserOptions{})
	r.Close()

	_, err := r.Render(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser closed")
}

func TestBrowserRenderer_CancelledContext(t *testing.T) {
	r := NewBrowserRenderer(BrowserOptions{})
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Render(ctx, "https://example.com")
	assert.ErrorIs(t, err, context.Canceled)
}
