// Package chat runs lookup sessions for Telegram chats.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/pipeline"
	"github.com/sells-group/lookup-bot/pkg/telegram"
)

// User-facing texts.
const (
	GreetingText = "👋 Отправьте запрос вида: «CEO <компания>». Я поищу подходящих людей и контакты. Команды: /help"
	HelpText     = "Примеры:\n- CEO Acme Corp\n- [alternative] Head of Sales Globex\nПросто отправьте текст — я поищу и извлеку имя/должность/почту."

	StatusSearching = "Ищу"
	StatusThinking  = "Думаю"
)

// Commands lists the bot's command menu.
var Commands = []telegram.BotCommand{
	{Command: "start", Description: "Начать"},
	{Command: "help", Description: "Как пользоваться"},
}

// Runner answers one query.
type Runner interface {
	Run(ctx context.Context, query string, onProgress pipeline.ProgressFunc) (*pipeline.Result, error)
}

// Greeter remembers which chats were greeted. Add reports whether chatID
// is new.
type Greeter interface {
	Add(chatID int64) (bool, error)
}

// Recorder accepts usage events.
type Recorder interface {
	Record(ev model.StatEvent)
}

// Options configures a Handler.
type Options struct {
	MaxConcurrent int
	MaxMessageLen int
}

// Handler turns chat updates into lookup sessions.
type Handler struct {
	bot     telegram.Client
	runner  Runner
	greeted Greeter
	stats   Recorder
	maxLen  int

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewHandler creates a Handler. stats may be nil.
func NewHandler(bot telegram.Client, runner Runner, greeted Greeter, stats Recorder, opts Options) *Handler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 16
	}
	if opts.MaxMessageLen <= 0 {
		opts.MaxMessageLen = 4096
	}
	return &Handler{
		bot:     bot,
		runner:  runner,
		greeted: greeted,
		stats:   stats,
		maxLen:  opts.MaxMessageLen,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// Dispatch handles u in the background. Wait blocks until every
// dispatched update is done.
func (h *Handler) Dispatch(ctx context.Context, u telegram.Update) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.HandleUpdate(ctx, u)
	}()
}

// Wait blocks until all dispatched updates have finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// HandleUpdate answers commands directly and runs a lookup session for any
// other text. Updates without a message or chat are ignored.
func (h *Handler) HandleUpdate(ctx context.Context, u telegram.Update) {
	msg := u.EffectiveMessage()
	if msg == nil || msg.Chat.ID == 0 {
		return
	}
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	log := zap.L().With(zap.Int64("chat_id", chatID))
	log.Info("chat: update", zap.Int("text_len", len([]rune(text))))

	switch msg.Command() {
	case "start":
		if _, err := h.greeted.Add(chatID); err != nil {
			log.Warn("chat: save greeted", zap.Error(err))
		}
		h.send(ctx, log, chatID, GreetingText)
		return
	case "help":
		h.send(ctx, log, chatID, HelpText)
		return
	}

	if text == "" {
		return
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		log.Warn("chat: session dropped", zap.Error(err))
		return
	}
	defer h.sem.Release(1)

	h.session(ctx, log, chatID, text)
}

func (h *Handler) session(ctx context.Context, log *zap.Logger, chatID int64, text string) {
	started := time.Now()

	added, err := h.greeted.Add(chatID)
	if err != nil {
		log.Warn("chat: save greeted", zap.Error(err))
	}
	if added {
		h.send(ctx, log, chatID, GreetingText)
	}

	if err := h.bot.SendChatAction(ctx, chatID, telegram.ActionTyping); err != nil {
		log.Debug("chat: send typing", zap.Error(err))
	}

	statusID, err := h.bot.SendMessage(ctx, chatID, StatusSearching)
	if err != nil {
		log.Warn("chat: send status", zap.Error(err))
		statusID = 0
	}
	if statusID != 0 {
		defer func() {
			if err := h.bot.DeleteMessage(context.WithoutCancel(ctx), chatID, statusID); err != nil {
				log.Debug("chat: delete status", zap.Error(err))
			}
		}()
	}

	progress := func(ctx context.Context) error {
		if statusID == 0 {
			return nil
		}
		return h.bot.EditMessageText(ctx, chatID, statusID, StatusThinking)
	}

	res := h.run(ctx, log, text, progress)
	final := strings.TrimSpace(res.Text(pipeline.NoAnswer))
	for _, chunk := range SplitMessage(final, h.maxLen) {
		if _, err := h.bot.SendMessage(ctx, chatID, chunk); err != nil {
			log.Warn("chat: send answer", zap.Error(err))
			break
		}
	}

	if h.stats != nil {
		ev := model.NewStatEvent(model.StatSourceTelegram, started)
		ev.ChatID = chatID
		ev.QueryLen = len([]rune(text))
		ev.OK = res.OK()
		ev.OutputLen = len([]rune(final))
		if res != nil {
			ev.RunID = res.RunID
			ev.CorpusLen = len([]rune(res.Corpus))
		}
		h.stats.Record(ev)
	}
}

// run calls the runner and turns errors and panics into a nil result.
func (h *Handler) run(ctx context.Context, log *zap.Logger, text string, progress pipeline.ProgressFunc) (res *pipeline.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("chat: processing panicked", zap.Any("panic", r))
			res = nil
		}
	}()
	res, err := h.runner.Run(ctx, text, progress)
	if err != nil {
		log.Error("chat: processing failed", zap.Error(err))
		return nil
	}
	return res
}

func (h *Handler) send(ctx context.Context, log *zap.Logger, chatID int64, text string) {
	if _, err := h.bot.SendMessage(ctx, chatID, text); err != nil {
		log.Warn("chat: send message", zap.Error(err))
	}
}
