package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lookup-bot/internal/chat"
	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/resilience"
	"github.com/sells-group/lookup-bot/pkg/telegram"
)

// updateDispatcher processes webhook updates in the background.
type updateDispatcher interface {
	Dispatch(ctx context.Context, u telegram.Update)
}

// server holds the HTTP handlers' dependencies.
type server struct {
	botToken      string
	webhookSecret string
	corsOrigins   []string

	chat   updateDispatcher
	runner chat.Runner
	stats  chat.Recorder

	// baseCtx outlives individual requests; chat sessions run under it.
	baseCtx context.Context
}

// routes builds the router.
func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", telegram.SecretHeader},
		MaxAge:         300,
	}))

	r.Post("/tg/{token}", s.handleWebhook)
	r.Get("/test", s.handleTest)
	r.Get("/_health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.botToken == "" {
		http.Error(w, "bot token missing", http.StatusInternalServerError)
		return
	}
	if !equalSecret(chi.URLParam(r, "token"), s.botToken) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if s.webhookSecret != "" && !equalSecret(r.Header.Get(telegram.SecretHeader), s.webhookSecret) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var u telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if msg := u.EffectiveMessage(); msg != nil {
		zap.L().Info("webhook update", zap.Int64("chat_id", msg.Chat.ID), zap.Int("text_len", len([]rune(msg.Text))))
	}

	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.WithoutCancel(r.Context())
	}
	s.chat.Dispatch(ctx, u)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) handleTest(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q missing"})
		return
	}

	started := time.Now()
	res, err := s.runner.Run(r.Context(), q, nil)

	ev := model.NewStatEvent(model.StatSourceHTTPTest, started)
	ev.QueryLen = len([]rune(q))
	ev.OK = res.OK()
	if res != nil {
		ev.RunID = res.RunID
		ev.CorpusLen = len([]rune(res.Corpus))
	}
	text := strings.TrimSpace(res.Text(""))
	ev.OutputLen = len([]rune(text))
	if s.stats != nil {
		s.stats.Record(ev)
	}

	switch {
	case err != nil && resilience.KindOf(err) == resilience.KindConfig:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "search service missing",
			"hint":  "Set search.assistant_url or search.links_url (ALICE_URL / YANDEX_SERP_URL), e.g. http://127.0.0.1:3000",
		})
	case err != nil:
		zap.L().Error("test request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  "processing failed",
			"reason": err.Error(),
		})
	case text == "":
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "no answer produced",
			"hint":  "Ensure the search service returns results",
		})
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(text))
	}
}

func equalSecret(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request. The bot token in webhook paths
// is not logged.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			path := r.URL.Path
			if strings.HasPrefix(path, "/tg/") {
				path = "/tg/{token}"
			}
			zap.L().Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
