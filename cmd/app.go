package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lookup-bot/internal/chat"
	"github.com/sells-group/lookup-bot/internal/config"
	"github.com/sells-group/lookup-bot/internal/extract"
	"github.com/sells-group/lookup-bot/internal/fetcher"
	"github.com/sells-group/lookup-bot/internal/httpclient"
	"github.com/sells-group/lookup-bot/internal/pipeline"
	"github.com/sells-group/lookup-bot/internal/resilience"
	"github.com/sells-group/lookup-bot/internal/search"
	"github.com/sells-group/lookup-bot/internal/stats"
	"github.com/sells-group/lookup-bot/internal/store"
	"github.com/sells-group/lookup-bot/internal/tokens"
	"github.com/sells-group/lookup-bot/pkg/anthropic"
	"github.com/sells-group/lookup-bot/pkg/groq"
	"github.com/sells-group/lookup-bot/pkg/telegram"
)

// appEnv holds everything the serve command needs.
type appEnv struct {
	Pipeline *pipeline.Pipeline
	Bot      telegram.Client
	Chat     *chat.Handler
	Stats    *stats.Buffer
	Sink     store.StatsSink

	release func()
}

// Close waits for chat sessions, flushes stats and releases connections.
func (e *appEnv) Close(ctx context.Context) {
	if e.Chat != nil {
		e.Chat.Wait()
	}
	if e.Stats != nil {
		if err := e.Stats.Close(ctx); err != nil {
			zap.L().Warn("final stats flush failed", zap.Error(err))
		}
	}
	if e.Sink != nil {
		_ = e.Sink.Close()
	}
	if e.release != nil {
		e.release()
	}
	httpclient.Close()
}

// initApp builds the pipeline, the chat handler and the stats buffer.
// Callers should defer env.Close().
func initApp(ctx context.Context, c *config.Config) (*appEnv, error) {
	p, release, err := newPipeline(c)
	if err != nil {
		return nil, err
	}

	greeted, err := store.LoadGreeted(c.Storage.GreetedPath)
	if err != nil {
		release()
		return nil, err
	}

	sink, err := store.OpenStatsSink(ctx, c.Stats)
	if err != nil {
		release()
		return nil, eris.Wrap(err, "open stats sink")
	}
	buf := stats.NewBuffer(sink, time.Duration(c.Stats.FlushIntervalSecs)*time.Second)

	bot := newBot(c.Telegram)
	handler := chat.NewHandler(bot, p, greeted, buf, chat.Options{
		MaxConcurrent: c.Chat.MaxConcurrent,
		MaxMessageLen: c.Chat.MaxMessageLen,
	})

	return &appEnv{
		Pipeline: p,
		Bot:      bot,
		Chat:     handler,
		Stats:    buf,
		Sink:     sink,
		release:  release,
	}, nil
}

// newPipeline wires search, fetch and extraction from configuration. The
// returned func stops the browser and proxy client, if any.
func newPipeline(c *config.Config) (*pipeline.Pipeline, func(), error) {
	breakerCfg := resilience.FromSettings(c.Resilience.FailureThreshold, c.Resilience.ResetTimeoutSecs)

	sc := search.NewClient(
		search.WithLinksURL(c.Search.LinksURL),
		search.WithAssistantURL(c.Search.AssistantURL),
		search.WithTimeout(time.Duration(c.Search.TimeoutSecs)*time.Second),
		search.WithBreaker(resilience.NewCircuitBreaker("search", breakerCfg)),
	)

	f, release, err := newFetcher(c.Fetch)
	if err != nil {
		return nil, nil, err
	}

	enc, err := tokens.NewTiktoken(tokens.DefaultEncoding)
	if err != nil {
		release()
		return nil, nil, eris.Wrap(err, "init tokenizer")
	}
	budget := tokens.NewBudgeter(enc, c.LLM.TokenLimit, c.LLM.SafetyTokens)

	ex := extract.New(newCompleter(c.LLM), budget,
		extract.WithBreaker(resilience.NewCircuitBreaker("llm", breakerCfg)))

	mode := pipeline.ModeFor(c.Search)
	if mode == pipeline.ModeNone {
		zap.L().Warn("no search service configured, lookups will fail",
			zap.String("hint", "set search.assistant_url or search.links_url"))
	}

	return pipeline.New(sc, f, ex, pipeline.Options{
		Mode:         mode,
		ArtifactsDir: c.Storage.ArtifactsDir,
	}), release, nil
}

// newFetcher builds the page fetcher for the configured backend.
func newFetcher(c config.FetchConfig) (*fetcher.Fetcher, func(), error) {
	var (
		client   *http.Client
		renderer *fetcher.BrowserRenderer
	)
	if c.ProxyURL != "" {
		pc, err := httpclient.NewWithProxy(c.ProxyURL)
		if err != nil {
			return nil, nil, err
		}
		client = pc
	}

	opts := fetcher.Options{
		Concurrency:   c.Concurrency,
		PerURLTimeout: c.PerURLTimeout(),
		Deadline:      c.Deadline(),
		MaxBytes:      c.MaxBytes,
		UserAgent:     c.UserAgent,
		Backend:       fetcher.Backend(c.Backend),
		MinText:       c.MinTextRunes,
	}
	if opts.Backend == fetcher.BackendBrowser || opts.Backend == fetcher.BackendAuto {
		renderer = fetcher.NewBrowserRenderer(fetcher.BrowserOptions{
			ExecPath:  c.BrowserPath,
			UserAgent: c.UserAgent,
			ProxyURL:  c.ProxyURL,
			Settle:    c.BrowserWait(),
		})
		opts.Renderer = renderer
	}

	release := func() {
		if renderer != nil {
			renderer.Close()
		}
		if client != nil {
			client.CloseIdleConnections()
		}
	}
	return fetcher.New(client, opts), release, nil
}

// newCompleter returns the configured model, or nil when no key is set.
func newCompleter(c config.LLMConfig) extract.Completer {
	if c.Key == "" {
		zap.L().Warn("llm key not set, answers will fall back to raw search text")
		return nil
	}
	s := extract.Sampling{
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
	switch c.Provider {
	case "anthropic":
		var opts []option.RequestOption
		// The default base URL points at Groq and is ignored here.
		if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, groq.DefaultBaseURL) {
			opts = append(opts, option.WithBaseURL(c.BaseURL))
		}
		return extract.NewAnthropicCompleter(anthropic.NewClient(c.Key, opts...), s)
	default:
		return extract.NewGroqCompleter(groq.NewClient(c.Key,
			groq.WithBaseURL(c.BaseURL),
			groq.WithModel(c.Model),
		), s)
	}
}

func newBot(c config.TelegramConfig) telegram.Client {
	return telegram.NewClient(c.BotToken,
		telegram.WithBaseURL(c.APIURL),
		telegram.WithRate(c.RatePerSec),
	)
}

// registerWebhook publishes the command menu and, when a URL is
// configured, the webhook. A failed command update does not skip the
// webhook.
func registerWebhook(ctx context.Context, bot telegram.Client, c config.TelegramConfig) error {
	var errs []error
	if err := bot.SetMyCommands(ctx, chat.Commands); err != nil {
		errs = append(errs, eris.Wrap(err, "set commands"))
	}
	if c.WebhookURL != "" {
		err := bot.SetWebhook(ctx, telegram.WebhookConfig{
			URL:                c.WebhookURL,
			SecretToken:        c.WebhookSecret,
			DropPendingUpdates: true,
		})
		if err != nil {
			errs = append(errs, eris.Wrap(err, "set webhook"))
		}
	}
	return errors.Join(errs...)
}
