package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/pipeline"
	"github.com/sells-group/lookup-bot/internal/resilience"
	"github.com/sells-group/lookup-bot/pkg/telegram"
)

func newTestServer(runner *mockRunner) (*server, *recordingDispatcher, *memoryRecorder) {
	d := &recordingDispatcher{}
	rec := &memoryRecorder{}
	return &server{
		botToken:      "123:abc",
		webhookSecret: "s3cret",
		chat:          d,
		runner:        runner,
		stats:         rec,
		baseCtx:       context.Background(),
	}, d, rec
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(new(mockRunner))
	rr := serve(s.routes(), httptest.NewRequest(http.MethodGet, "/_health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestWebhook(t *testing.T) {
	const update = `{"update_id":1,"message":{"message_id":3,"chat":{"id":42},"text":"CEO Acme"}}`

	tests := []struct {
		name       string
		token      string
		path       string
		secret     string
		body       string
		wantStatus int
		dispatched int
	}{
		{"ok", "123:abc", "/tg/123:abc", "s3cret", update, http.StatusOK, 1},
		{"wrong path token", "123:abc", "/tg/nope", "s3cret", update, http.StatusForbidden, 0},
		{"wrong secret", "123:abc", "/tg/123:abc", "other", update, http.StatusForbidden, 0},
		{"missing secret", "123:abc", "/tg/123:abc", "", update, http.StatusForbidden, 0},
		{"malformed json", "123:abc", "/tg/123:abc", "s3cret", "{nope", http.StatusBadRequest, 0},
		{"no bot token", "", "/tg/anything", "s3cret", update, http.StatusInternalServerError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, d, _ := newTestServer(new(mockRunner))
			s.botToken = tt.token

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			if tt.secret != "" {
				req.Header.Set(telegram.SecretHeader, tt.secret)
			}
			rr := serve(s.routes(), req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			require.Len(t, d.updates, tt.dispatched)
			if tt.dispatched > 0 {
				assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
				assert.Equal(t, int64(42), d.updates[0].Message.Chat.ID)
			}
		})
	}
}

func TestWebhook_NoSecretConfigured(t *testing.T) {
	s, d, _ := newTestServer(new(mockRunner))
	s.webhookSecret = ""

	rr := serve(s.routes(), httptest.NewRequest(http.MethodPost, "/tg/123:abc", strings.NewReader(`{"update_id":1}`)))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, d.updates, 1)
}

func TestTestEndpoint_Success(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", mock.Anything, "CEO Acme", mock.Anything).
		Return(&pipeline.Result{RunID: "r1", Corpus: "corpus", Answer: "Точное совпадение: Jane Doe, CEO"}, nil)
	s, _, rec := newTestServer(runner)

	rr := serve(s.routes(), httptest.NewRequest(http.MethodGet, "/test?q=+CEO+Acme+", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "Точное совпадение: Jane Doe, CEO", rr.Body.String())

	require.Len(t, rec.events, 1)
	assert.Equal(t, model.StatSourceHTTPTest, rec.events[0].Source)
	assert.Equal(t, "r1", rec.events[0].RunID)
	assert.Equal(t, 8, rec.events[0].QueryLen)
	assert.True(t, rec.events[0].OK)
}

func TestTestEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		setup      func(r *mockRunner)
		wantStatus int
		wantError  string
	}{
		{"missing q", "", nil, http.StatusBadRequest, "q missing"},
		{"no search service", "CEO Acme", func(r *mockRunner) {
			r.On("Run", mock.Anything, mock.Anything, mock.Anything).
				Return(nil, resilience.Errorf(resilience.KindConfig, "pipeline: run", "no search service configured"))
		}, http.StatusInternalServerError, "search service missing"},
		{"processing failed", "CEO Acme", func(r *mockRunner) {
			r.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
		}, http.StatusInternalServerError, "processing failed"},
		{"no answer", "CEO Acme", func(r *mockRunner) {
			r.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(&pipeline.Result{}, nil)
		}, http.StatusBadGateway, "no answer produced"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(mockRunner)
			if tt.setup != nil {
				tt.setup(runner)
			}
			s, _, _ := newTestServer(runner)

			rr := serve(s.routes(), httptest.NewRequest(http.MethodGet, "/test?q="+strings.ReplaceAll(tt.query, " ", "+"), nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestTestEndpoint_FallbackText(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).
		Return(&pipeline.Result{Corpus: "raw assistant text", Fallback: "raw assistant text"}, nil)
	s, _, _ := newTestServer(runner)

	rr := serve(s.routes(), httptest.NewRequest(http.MethodGet, "/test?q=x", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "raw assistant text", rr.Body.String())
}

func TestTestEndpoint_PanicRecovered(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Panic("boom")
	s, _, _ := newTestServer(runner)

	rr := serve(s.routes(), httptest.NewRequest(http.MethodGet, "/test?q=x", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCORS(t *testing.T) {
	s, _, _ := newTestServer(new(mockRunner))
	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rr := serve(s.routes(), req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
