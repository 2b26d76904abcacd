package chat

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/pipeline"
	"github.com/sells-group/lookup-bot/pkg/telegram"
)

// --- Telegram Mock ---

type mockBot struct {
	mock.Mock
}

func (m *mockBot) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	args := m.Called(ctx, chatID, text)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBot) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	args := m.Called(ctx, chatID, messageID, text)
	return args.Error(0)
}

func (m *mockBot) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	args := m.Called(ctx, chatID, messageID)
	return args.Error(0)
}

func (m *mockBot) SendChatAction(ctx context.Context, chatID int64, action string) error {
	args := m.Called(ctx, chatID, action)
	return args.Error(0)
}

func (m *mockBot) SetWebhook(ctx context.Context, cfg telegram.WebhookConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *mockBot) SetMyCommands(ctx context.Context, cmds []telegram.BotCommand) error {
	args := m.Called(ctx, cmds)
	return args.Error(0)
}

// methods returns the called method names in call order.
func (m *mockBot) methods() []string {
	var out []string
	for _, c := range m.Calls {
		out = append(out, c.Method)
	}
	return out
}

// --- Runner Mock ---

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, query string, onProgress pipeline.ProgressFunc) (*pipeline.Result, error) {
	args := m.Called(ctx, query, onProgress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}

// --- Greeter Mock ---

type mockGreeter struct {
	mock.Mock
}

func (m *mockGreeter) Add(chatID int64) (bool, error) {
	args := m.Called(chatID)
	return args.Bool(0), args.Error(1)
}

// --- Recorder ---

type memoryRecorder struct {
	mu     sync.Mutex
	events []model.StatEvent
}

func (r *memoryRecorder) Record(ev model.StatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *memoryRecorder) all() []model.StatEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.StatEvent(nil), r.events...)
}
