// Package httpclient owns the process-wide outbound HTTP client.
package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

var (
	once   sync.Once
	shared *http.Client

	closeOnce sync.Once
)

// New builds a pooled client. Request lifetimes are bounded by the caller's
// context, so the client itself has no overall timeout.
func New() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// NewWithProxy builds a pooled client that sends every request through
// proxyURL instead of the proxy named by the environment.
func NewWithProxy(proxyURL string) (*http.Client, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, eris.Wrap(err, "httpclient: parse proxy url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, eris.Errorf("httpclient: proxy url %q needs a scheme and host", proxyURL)
	}
	c := New()
	c.Transport.(*http.Transport).Proxy = http.ProxyURL(u)
	return c, nil
}

// Shared returns the process-wide client, creating it on first use.
func Shared() *http.Client {
	once.Do(func() {
		shared = New()
	})
	return shared
}

// Close releases pooled connections of the shared client. Only the first
// call has an effect.
func Close() {
	closeOnce.Do(func() {
		if c := Shared(); c != nil {
			c.CloseIdleConnections()
		}
	})
}
